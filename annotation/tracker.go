package annotation

import (
	"sort"
	"sync"

	"codelens/analysis"
	"codelens/scanner"

	"github.com/sirupsen/logrus"
)

var log = logrus.New()

const (
	DefaultScale         = 1.0
	DefaultDepth         = -0.5
	DefaultRowSpacing    = 0.06
	DefaultSimulationGap = 0.1
)

// Config controls annotation layout in presenter space.
type Config struct {
	// Scale is the presenter-space extent a full frame maps onto.
	Scale float64
	// Depth is the fixed Z of every annotation.
	Depth      float64
	RowSpacing float64
	// SimulationGap separates the simulation summary from the suggestions.
	SimulationGap float64
}

// entry is a presented annotation plus its vertical offset from the anchor.
type entry struct {
	annotation Annotation
	offset     float64
}

// Tracker turns analysis results into annotations anchored to regions and
// keeps at most one group of annotations per region.
type Tracker struct {
	config    Config
	presenter Presenter
	regions   RegionLookup

	mu     sync.Mutex
	groups map[string][]*entry
}

// NewTracker creates a Tracker. Zero config fields select the defaults.
func NewTracker(config Config, presenter Presenter, regions RegionLookup) *Tracker {
	if config.Scale <= 0 {
		config.Scale = DefaultScale
	}
	if config.Depth == 0 {
		config.Depth = DefaultDepth
	}
	if config.RowSpacing <= 0 {
		config.RowSpacing = DefaultRowSpacing
	}
	if config.SimulationGap <= 0 {
		config.SimulationGap = DefaultSimulationGap
	}
	return &Tracker{
		config:    config,
		presenter: presenter,
		regions:   regions,
		groups:    make(map[string][]*entry),
	}
}

// HandleCompleted replaces the annotation group of the result's region.
// Issues are stacked above the anchor, suggestions below it and the
// simulation summary below the suggestions.
func (t *Tracker) HandleCompleted(result analysis.Result) {
	logger := log.WithFields(logrus.Fields{
		"request_id": result.RequestID,
		"region_id":  result.RegionID,
	})

	// The lookup and the install share one critical section so that a
	// concurrent RemoveForRegion lands either before the lookup or after
	// the group exists.
	t.mu.Lock()
	defer t.mu.Unlock()

	region, ok := t.regions.Lookup(result.RegionID)
	if !ok {
		t.removeLocked(result.RegionID)
		logger.Info("Anchor region no longer tracked, dropping result")
		return
	}
	anchor := t.anchor(region)

	var group []*entry
	for i, issue := range result.Issues {
		group = append(group, &entry{
			annotation: Annotation{
				ID:       annotationID(result.RegionID, KindFinding, i),
				Kind:     KindFinding,
				RegionID: result.RegionID,
				Content:  findingContent(issue),
				Visible:  true,
			},
			offset: t.config.RowSpacing * float64(i+1),
		})
	}
	for i, s := range result.Suggestions {
		group = append(group, &entry{
			annotation: Annotation{
				ID:       annotationID(result.RegionID, KindSuggestion, i),
				Kind:     KindSuggestion,
				RegionID: result.RegionID,
				Content:  suggestionContent(s),
				Visible:  true,
			},
			offset: -t.config.RowSpacing * float64(i+1),
		})
	}
	if result.Simulation != nil {
		group = append(group, &entry{
			annotation: Annotation{
				ID:       annotationID(result.RegionID, KindSimulation, 0),
				Kind:     KindSimulation,
				RegionID: result.RegionID,
				Content:  simulationContent(result.Simulation),
				Visible:  true,
			},
			offset: -t.config.RowSpacing*float64(len(result.Suggestions)+1) - t.config.SimulationGap,
		})
	}
	for _, e := range group {
		e.annotation.Placement = Placement{X: anchor.X, Y: anchor.Y + e.offset, Z: anchor.Z}
	}

	t.removeLocked(result.RegionID)
	if len(group) == 0 {
		logger.Debug("Result has nothing to annotate")
		return
	}
	t.groups[result.RegionID] = group
	for _, e := range group {
		t.presenter.Present(e.annotation)
	}
	logger.WithField("annotations", len(group)).Debug("Annotations presented")
}

// UpdateAnchor moves every annotation of the region to follow it.
func (t *Tracker) UpdateAnchor(region scanner.Region) {
	anchor := t.anchor(region)

	t.mu.Lock()
	defer t.mu.Unlock()
	for _, e := range t.groups[region.ID] {
		placement := Placement{X: anchor.X, Y: anchor.Y + e.offset, Z: anchor.Z}
		if placement == e.annotation.Placement {
			continue
		}
		e.annotation.Placement = placement
		t.presenter.Update(e.annotation.ID, placement)
	}
}

// RemoveForRegion disposes of every annotation anchored to the region.
func (t *Tracker) RemoveForRegion(regionID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.removeLocked(regionID)
}

// ClearAll disposes of every annotation.
func (t *Tracker) ClearAll() {
	t.mu.Lock()
	defer t.mu.Unlock()
	for regionID := range t.groups {
		t.removeLocked(regionID)
	}
}

// Annotations returns a snapshot of the presented annotations, grouped by
// region and in presentation order within a group.
func (t *Tracker) Annotations() []Annotation {
	t.mu.Lock()
	defer t.mu.Unlock()

	regionIDs := make([]string, 0, len(t.groups))
	for id := range t.groups {
		regionIDs = append(regionIDs, id)
	}
	sort.Strings(regionIDs)

	var out []Annotation
	for _, id := range regionIDs {
		for _, e := range t.groups[id] {
			out = append(out, e.annotation)
		}
	}
	return out
}

func (t *Tracker) removeLocked(regionID string) {
	group, ok := t.groups[regionID]
	if !ok {
		return
	}
	for _, e := range group {
		t.presenter.Dispose(e.annotation.ID)
	}
	delete(t.groups, regionID)
}

// anchor maps the centre of the region box into presenter space. Regions
// without a known frame size are placed at the origin.
func (t *Tracker) anchor(region scanner.Region) Placement {
	p := Placement{Z: t.config.Depth}
	if region.FrameSize.X <= 0 || region.FrameSize.Y <= 0 {
		return p
	}
	cx, cy := region.Box.Center()
	p.X = (cx/float64(region.FrameSize.X) - 0.5) * t.config.Scale
	p.Y = (0.5 - cy/float64(region.FrameSize.Y)) * t.config.Scale
	return p
}

// SetLogLevel sets the logging level for the annotation package
func SetLogLevel(level logrus.Level) {
	log.SetLevel(level)
}
