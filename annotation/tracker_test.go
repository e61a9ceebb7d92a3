package annotation

import (
	"image"
	"sync"
	"testing"

	"codelens/analysis"
	"codelens/scanner"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type call struct {
	op        string
	id        string
	placement Placement
}

type recordingPresenter struct {
	calls   []call
	visible map[string]Annotation
}

func newRecordingPresenter() *recordingPresenter {
	return &recordingPresenter{visible: make(map[string]Annotation)}
}

func (p *recordingPresenter) Present(a Annotation) {
	p.calls = append(p.calls, call{op: "present", id: a.ID, placement: a.Placement})
	p.visible[a.ID] = a
}

func (p *recordingPresenter) Update(id string, placement Placement) {
	p.calls = append(p.calls, call{op: "update", id: id, placement: placement})
	a := p.visible[id]
	a.Placement = placement
	p.visible[id] = a
}

func (p *recordingPresenter) Dispose(id string) {
	p.calls = append(p.calls, call{op: "dispose", id: id})
	delete(p.visible, id)
}

func (p *recordingPresenter) ops() []string {
	var out []string
	for _, c := range p.calls {
		out = append(out, c.op+" "+c.id)
	}
	return out
}

type regionMap map[string]scanner.Region

func (m regionMap) Lookup(id string) (scanner.Region, bool) {
	r, ok := m[id]
	return r, ok
}

func centeredRegion(id string) scanner.Region {
	return scanner.Region{
		ID:        id,
		Box:       scanner.Box{X: 300, Y: 220, Width: 40, Height: 40},
		FrameSize: image.Pt(640, 480),
	}
}

func intPtr(n int) *int { return &n }

func fullResult(regionID string) analysis.Result {
	return analysis.Result{
		RequestID: "req-1",
		RegionID:  regionID,
		Issues: []analysis.Issue{
			{Category: "syntax", Severity: "error", Line: intPtr(3), Description: "missing semicolon"},
			{Category: "logic", Severity: "warning", Description: "off by one"},
		},
		Suggestions: []analysis.Suggestion{
			{Category: "style", Description: "use a const"},
		},
		Simulation: &analysis.Simulation{CanSimulate: true, Output: "42", ExecutionTime: "3ms"},
	}
}

func TestHandleCompletedPlacesGroup(t *testing.T) {
	presenter := newRecordingPresenter()
	tracker := NewTracker(Config{}, presenter, regionMap{"r1": centeredRegion("r1")})

	tracker.HandleCompleted(fullResult("r1"))

	assert.Equal(t, []string{
		"present r1:finding:0",
		"present r1:finding:1",
		"present r1:suggestion:0",
		"present r1:simulation-summary:0",
	}, presenter.ops())

	byID := presenter.visible
	anchorY := 0.0
	assert.InDelta(t, 0.0, byID["r1:finding:0"].Placement.X, 1e-9)
	assert.InDelta(t, anchorY+DefaultRowSpacing, byID["r1:finding:0"].Placement.Y, 1e-9)
	assert.InDelta(t, anchorY+2*DefaultRowSpacing, byID["r1:finding:1"].Placement.Y, 1e-9)
	assert.InDelta(t, anchorY-DefaultRowSpacing, byID["r1:suggestion:0"].Placement.Y, 1e-9)
	assert.InDelta(t, anchorY-2*DefaultRowSpacing-DefaultSimulationGap, byID["r1:simulation-summary:0"].Placement.Y, 1e-9)
	for _, a := range byID {
		assert.Equal(t, DefaultDepth, a.Placement.Z)
		assert.True(t, a.Visible)
		assert.Equal(t, "r1", a.RegionID)
	}

	assert.Equal(t, "syntax (line 3)", byID["r1:finding:0"].Content.Title)
	assert.Equal(t, "error", byID["r1:finding:0"].Content.Severity)
	assert.Equal(t, "Simulation (3ms)", byID["r1:simulation-summary:0"].Content.Title)
}

func TestAnchorNormalization(t *testing.T) {
	tests := []struct {
		name  string
		box   scanner.Box
		size  image.Point
		wantX float64
		wantY float64
	}{
		{"centre", scanner.Box{X: 310, Y: 230, Width: 20, Height: 20}, image.Pt(640, 480), 0, 0},
		{"top left corner is up and left", scanner.Box{X: 0, Y: 0, Width: 0, Height: 0}, image.Pt(640, 480), -0.5, 0.5},
		{"bottom right corner", scanner.Box{X: 640, Y: 480}, image.Pt(640, 480), 0.5, -0.5},
		{"unknown frame size", scanner.Box{X: 10, Y: 10, Width: 10, Height: 10}, image.Point{}, 0, 0},
	}

	tracker := NewTracker(Config{}, newRecordingPresenter(), regionMap{})
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			p := tracker.anchor(scanner.Region{Box: tc.box, FrameSize: tc.size})
			assert.InDelta(t, tc.wantX, p.X, 1e-9)
			assert.InDelta(t, tc.wantY, p.Y, 1e-9)
		})
	}
}

func TestNewResultReplacesGroup(t *testing.T) {
	presenter := newRecordingPresenter()
	tracker := NewTracker(Config{}, presenter, regionMap{"r1": centeredRegion("r1")})

	tracker.HandleCompleted(fullResult("r1"))
	presenter.calls = nil

	tracker.HandleCompleted(analysis.Result{
		RegionID:    "r1",
		Suggestions: []analysis.Suggestion{{Category: "perf", Description: "cache it"}},
	})

	assert.Equal(t, []string{
		"dispose r1:finding:0",
		"dispose r1:finding:1",
		"dispose r1:suggestion:0",
		"dispose r1:simulation-summary:0",
		"present r1:suggestion:0",
	}, presenter.ops(), "old group disposed before the new one is presented")
	require.Len(t, tracker.Annotations(), 1)
	assert.Len(t, presenter.visible, 1)
}

func TestResultForUnknownRegionIsDropped(t *testing.T) {
	presenter := newRecordingPresenter()
	tracker := NewTracker(Config{}, presenter, regionMap{})

	tracker.HandleCompleted(fullResult("gone"))

	assert.Empty(t, presenter.calls)
	assert.Empty(t, tracker.Annotations())
}

func TestUpdateAnchorMovesGroup(t *testing.T) {
	presenter := newRecordingPresenter()
	regions := regionMap{"r1": centeredRegion("r1")}
	tracker := NewTracker(Config{}, presenter, regions)
	tracker.HandleCompleted(fullResult("r1"))
	presenter.calls = nil

	moved := centeredRegion("r1")
	moved.Box.X += 64
	tracker.UpdateAnchor(moved)

	require.Len(t, presenter.calls, 4)
	for _, c := range presenter.calls {
		assert.Equal(t, "update", c.op)
		assert.InDelta(t, 0.1, c.placement.X, 1e-9)
	}
	assert.InDelta(t, DefaultRowSpacing, presenter.visible["r1:finding:0"].Placement.Y, 1e-9, "offsets are kept")

	presenter.calls = nil
	tracker.UpdateAnchor(moved)
	assert.Empty(t, presenter.calls, "unchanged placement is not re-sent")
}

func TestRemoveAndClear(t *testing.T) {
	presenter := newRecordingPresenter()
	tracker := NewTracker(Config{}, presenter, regionMap{
		"r1": centeredRegion("r1"),
		"r2": centeredRegion("r2"),
	})
	tracker.HandleCompleted(fullResult("r1"))
	tracker.HandleCompleted(fullResult("r2"))

	tracker.RemoveForRegion("r1")
	for _, a := range tracker.Annotations() {
		assert.Equal(t, "r2", a.RegionID)
	}
	tracker.RemoveForRegion("unknown")

	tracker.ClearAll()
	assert.Empty(t, tracker.Annotations())
	assert.Empty(t, presenter.visible)
}

func TestSimulationContent(t *testing.T) {
	tests := []struct {
		name         string
		sim          analysis.Simulation
		wantBody     []string
		wantSeverity string
	}{
		{
			name:     "cannot simulate",
			sim:      analysis.Simulation{CanSimulate: false},
			wantBody: []string{"cannot be simulated"},
		},
		{
			name:     "output only",
			sim:      analysis.Simulation{CanSimulate: true, Output: "hello"},
			wantBody: []string{"Output:\nhello"},
		},
		{
			name:         "errors and risks",
			sim:          analysis.Simulation{CanSimulate: true, Errors: []string{"panic"}, SecurityRisks: []string{"SQL injection"}},
			wantBody:     []string{"- panic", "- SQL injection"},
			wantSeverity: "warning",
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			content := simulationContent(&tc.sim)
			for _, want := range tc.wantBody {
				assert.Contains(t, content.Body, want)
			}
			assert.Equal(t, tc.wantSeverity, content.Severity)
		})
	}
}

// vanishingLookup resolves a region once and then forgets it, publishing
// the loss on another goroutine the way the region store does.
type vanishingLookup struct {
	mu      sync.Mutex
	regions regionMap
	onLost  func(id string)
	wg      sync.WaitGroup
}

func (l *vanishingLookup) Lookup(id string) (scanner.Region, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	r, ok := l.regions[id]
	if ok {
		delete(l.regions, id)
		l.wg.Add(1)
		go func() {
			defer l.wg.Done()
			l.onLost(id)
		}()
	}
	return r, ok
}

func TestRegionLostDuringCompletionLeavesNoAnnotations(t *testing.T) {
	presenter := newRecordingPresenter()
	lookup := &vanishingLookup{regions: regionMap{"r1": centeredRegion("r1")}}
	tracker := NewTracker(Config{}, presenter, lookup)
	lookup.onLost = tracker.RemoveForRegion

	tracker.HandleCompleted(fullResult("r1"))
	lookup.wg.Wait()

	_, known := lookup.Lookup("r1")
	assert.False(t, known)
	assert.Empty(t, tracker.Annotations())
	assert.Empty(t, presenter.visible)
}
