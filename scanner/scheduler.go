package scanner

import (
	"context"
	"fmt"
	"image"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"codelens/analysis"
	"codelens/internal/constants"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

var log = logrus.New()

const (
	DefaultFrameInterval       = time.Second / 30
	DefaultConfidenceThreshold = 0.7
	DefaultMaxRegions          = 3
)

// Config holds the scheduler configuration
type Config struct {
	// FrameInterval is the minimum time between two processed ticks.
	FrameInterval time.Duration
	// ConfidenceThreshold drops detections scoring below it.
	ConfidenceThreshold float64
	// MaxRegions caps the regions processed per frame.
	MaxRegions int
	MatchRadius float64
	RegionTTL   time.Duration
	// AttachSnapshot sends a JPEG crop of the region along with its text.
	AttachSnapshot  bool
	SnapshotQuality int
}

// Scheduler drives the capture, detect, extract and dispatch pipeline at a
// bounded rate.
type Scheduler struct {
	config    Config
	capture   Capture
	detector  Detector
	extractor Extractor
	enqueuer  Enqueuer
	store     *RegionStore

	mu       sync.Mutex
	lastTick time.Time

	// pending maps request IDs to what they submitted until they settle.
	pendingMu sync.Mutex
	pending   map[string]submission
}

type submission struct {
	regionID string
	text     string
}

// NewScheduler creates a Scheduler. Zero config fields select the defaults.
func NewScheduler(config Config, capture Capture, detector Detector, extractor Extractor, enqueuer Enqueuer) *Scheduler {
	if config.FrameInterval <= 0 {
		config.FrameInterval = DefaultFrameInterval
	}
	if config.ConfidenceThreshold <= 0 {
		config.ConfidenceThreshold = DefaultConfidenceThreshold
	}
	if config.MaxRegions <= 0 {
		config.MaxRegions = DefaultMaxRegions
	}
	return &Scheduler{
		config:    config,
		capture:   capture,
		detector:  detector,
		extractor: extractor,
		enqueuer:  enqueuer,
		store:     NewRegionStore(config.MatchRadius, config.RegionTTL),
		pending:   make(map[string]submission),
	}
}

// HandleStateChange settles a submitted request. When it ends in any state
// other than success, its text becomes eligible for submission again.
func (s *Scheduler) HandleStateChange(change analysis.StateChange) {
	if !change.State.Terminal() {
		return
	}
	s.pendingMu.Lock()
	sub, ok := s.pending[change.RequestID]
	delete(s.pending, change.RequestID)
	s.pendingMu.Unlock()

	if !ok || change.State == analysis.StateSucceeded {
		return
	}
	s.store.ForgetSubmission(sub.regionID, sub.text)
	regionLogger(sub.regionID).WithFields(logrus.Fields{
		"request_id": change.RequestID,
		"state":      change.State,
	}).Debug("Analysis did not succeed, text will be resubmitted")
}

// Pending returns the number of submitted requests that have not settled.
func (s *Scheduler) Pending() int {
	s.pendingMu.Lock()
	defer s.pendingMu.Unlock()
	return len(s.pending)
}

// Store returns the region store shared with result consumers.
func (s *Scheduler) Store() *RegionStore {
	return s.store
}

// Run ticks at FrameInterval until ctx is done.
func (s *Scheduler) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.config.FrameInterval)
	defer ticker.Stop()

	log.WithFields(logrus.Fields{
		"interval":   s.config.FrameInterval,
		"threshold":  s.config.ConfidenceThreshold,
		"maxRegions": s.config.MaxRegions,
	}).Info("Frame scheduler started")

	for {
		select {
		case <-ctx.Done():
			log.Info("Frame scheduler stopped")
			return nil
		case now := <-ticker.C:
			s.Tick(ctx, now)
		}
	}
}

// Tick processes one frame unless less than FrameInterval has passed since
// the last processed tick. Collaborator failures are logged and never
// propagate.
func (s *Scheduler) Tick(ctx context.Context, now time.Time) {
	s.mu.Lock()
	if now.Sub(s.lastTick) < s.config.FrameInterval {
		s.mu.Unlock()
		return
	}
	s.lastTick = now
	s.mu.Unlock()

	frame, ok := s.capture.CurrentFrame()
	if !ok || frame == nil {
		return
	}

	detections, err := s.detect(ctx, frame)
	if err != nil {
		log.WithError(err).WithField("frame", frame.Seq).Warn("Region detection failed")
		return
	}

	selected := selectRegions(detections, s.config.ConfidenceThreshold, s.config.MaxRegions)
	if len(selected) == 0 {
		s.store.Evict(now)
		return
	}
	for _, r := range selected {
		if r.FrameSize == (image.Point{}) {
			r.FrameSize = frameSize(frame)
		}
	}

	for _, region := range s.store.Reconcile(selected, now) {
		if ctx.Err() != nil {
			return
		}
		s.process(ctx, region, frame)
	}
}

// selectRegions keeps the first limit detections at or above threshold, in
// detector order.
func selectRegions(detections []*Region, threshold float64, limit int) []*Region {
	selected := make([]*Region, 0, limit)
	for _, r := range detections {
		if r == nil || r.Confidence < threshold {
			continue
		}
		selected = append(selected, r)
		if len(selected) == limit {
			break
		}
	}
	return selected
}

func (s *Scheduler) process(ctx context.Context, region Region, frame *Frame) {
	logger := regionLogger(region.ID)

	text, err := s.extract(ctx, region, frame)
	if err != nil {
		logger.WithError(err).Warn("Text extraction failed")
		return
	}
	text = strings.TrimSpace(text)
	s.store.SetText(region.ID, text)

	if utf8.RuneCountInString(text) <= constants.MinTextLength {
		return
	}
	if !s.store.MarkSubmitted(region.ID, text) {
		logger.Debug("Text unchanged since last submission, skipping")
		return
	}

	req := &analysis.Request{ID: uuid.New().String(), RegionID: region.ID, Text: text}
	if s.config.AttachSnapshot {
		snapshot, err := Snapshot(frame, region.Box, s.config.SnapshotQuality)
		if err != nil {
			logger.WithError(err).Debug("Could not attach region snapshot")
		} else {
			req.Image = snapshot
		}
	}

	// Registered before Enqueue so a fast terminal transition finds it.
	s.pendingMu.Lock()
	s.pending[req.ID] = submission{regionID: region.ID, text: text}
	s.pendingMu.Unlock()

	if err := s.enqueuer.Enqueue(req); err != nil {
		logger.WithError(err).Error("Could not enqueue analysis request")
		s.pendingMu.Lock()
		delete(s.pending, req.ID)
		s.pendingMu.Unlock()
		s.store.ForgetSubmission(region.ID, text)
		return
	}
	logger.WithField("request_id", req.ID).Debug("Analysis request enqueued")
}

func (s *Scheduler) detect(ctx context.Context, frame *Frame) (regions []*Region, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("detector panic: %v", r)
		}
	}()
	return s.detector.Detect(ctx, frame)
}

func (s *Scheduler) extract(ctx context.Context, region Region, frame *Frame) (text string, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("extractor panic: %v", r)
		}
	}()
	return s.extractor.Extract(ctx, region, frame)
}

func frameSize(frame *Frame) image.Point {
	if frame.Width > 0 && frame.Height > 0 {
		return image.Pt(frame.Width, frame.Height)
	}
	if frame.Image != nil {
		return frame.Image.Bounds().Size()
	}
	return image.Point{}
}

func regionLogger(id string) *logrus.Entry {
	return log.WithField("region_id", id)
}

// SetLogLevel sets the logging level for the scanner package
func SetLogLevel(level logrus.Level) {
	log.SetLevel(level)
}
