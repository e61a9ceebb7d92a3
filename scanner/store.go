package scanner

import (
	"math"
	"sort"
	"sync"
	"time"

	"codelens/internal/events"

	"github.com/google/uuid"
)

const (
	DefaultMatchRadius = 48.0
	DefaultRegionTTL   = 2 * time.Second
)

// RegionStore tracks live regions across frames. A detection whose centroid
// is close to a known region keeps that region's identity so results can be
// anchored to it later.
type RegionStore struct {
	mu            sync.RWMutex
	regions       map[string]*Region
	lastSubmitted map[string]string
	matchRadius   float64
	ttl           time.Duration

	// Moved fires when a known region is seen again.
	Moved events.Topic[Region]
	// Lost fires with the region ID when a region expires or is cleared.
	Lost events.Topic[string]
}

// NewRegionStore creates a store. Non-positive arguments select the defaults.
func NewRegionStore(matchRadius float64, ttl time.Duration) *RegionStore {
	if matchRadius <= 0 {
		matchRadius = DefaultMatchRadius
	}
	if ttl <= 0 {
		ttl = DefaultRegionTTL
	}
	return &RegionStore{
		regions:       make(map[string]*Region),
		lastSubmitted: make(map[string]string),
		matchRadius:   matchRadius,
		ttl:           ttl,
	}
}

// Reconcile merges detections into the store and returns the resulting
// regions in detection order. Expired regions are evicted first.
func (s *RegionStore) Reconcile(detections []*Region, now time.Time) []Region {
	s.mu.Lock()
	lost := s.evictLocked(now)

	claimed := make(map[string]bool, len(detections))
	out := make([]Region, 0, len(detections))
	var moved []Region
	for _, det := range detections {
		if existing := s.nearestLocked(det.Box, claimed); existing != nil {
			claimed[existing.ID] = true
			existing.Box = det.Box
			existing.Confidence = det.Confidence
			existing.FrameSize = det.FrameSize
			existing.LastSeen = now
			existing.Record(now)
			c := existing.Clone()
			moved = append(moved, c)
			out = append(out, c)
			continue
		}

		r := det.Clone()
		if r.ID == "" || s.regions[r.ID] != nil {
			r.ID = uuid.New().String()
		}
		if r.DetectedAt.IsZero() {
			r.DetectedAt = now
		}
		r.LastSeen = now
		r.Record(now)
		s.regions[r.ID] = &r
		claimed[r.ID] = true
		out = append(out, r.Clone())
	}
	s.mu.Unlock()

	for _, id := range lost {
		regionLogger(id).Debug("Region lost")
		s.Lost.Publish(id)
	}
	for _, r := range moved {
		s.Moved.Publish(r)
	}
	return out
}

// Evict removes every region not seen within the TTL.
func (s *RegionStore) Evict(now time.Time) {
	s.mu.Lock()
	lost := s.evictLocked(now)
	s.mu.Unlock()
	for _, id := range lost {
		s.Lost.Publish(id)
	}
}

func (s *RegionStore) evictLocked(now time.Time) []string {
	var lost []string
	for id, r := range s.regions {
		if now.Sub(r.LastSeen) > s.ttl {
			delete(s.regions, id)
			delete(s.lastSubmitted, id)
			lost = append(lost, id)
		}
	}
	sort.Strings(lost)
	return lost
}

func (s *RegionStore) nearestLocked(box Box, claimed map[string]bool) *Region {
	cx, cy := box.Center()
	var best *Region
	bestDist := s.matchRadius
	for id, r := range s.regions {
		if claimed[id] {
			continue
		}
		rx, ry := r.Box.Center()
		if d := math.Hypot(cx-rx, cy-ry); d <= bestDist {
			best, bestDist = r, d
		}
	}
	return best
}

// Lookup returns a copy of the region with the given ID.
func (s *RegionStore) Lookup(id string) (Region, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.regions[id]
	if !ok {
		return Region{}, false
	}
	return r.Clone(), true
}

// SetText records the most recently extracted text of a region.
func (s *RegionStore) SetText(id, text string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if r, ok := s.regions[id]; ok {
		r.Text = text
	}
}

// MarkSubmitted records text as submitted for the region. It reports false
// when the same text was already the last submission.
func (s *RegionStore) MarkSubmitted(id, text string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.lastSubmitted[id] == text {
		return false
	}
	s.lastSubmitted[id] = text
	return true
}

// ForgetSubmission clears the submission mark of a region if text is still
// the last text submitted for it, so the same text is analysed again.
func (s *RegionStore) ForgetSubmission(id, text string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if last, ok := s.lastSubmitted[id]; ok && last == text {
		delete(s.lastSubmitted, id)
	}
}

// Regions returns a snapshot of every live region, ordered by detection time.
func (s *RegionStore) Regions() []Region {
	s.mu.RLock()
	out := make([]Region, 0, len(s.regions))
	for _, r := range s.regions {
		out = append(out, r.Clone())
	}
	s.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].DetectedAt.Equal(out[j].DetectedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].DetectedAt.Before(out[j].DetectedAt)
	})
	return out
}

// Len returns the number of live regions.
func (s *RegionStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.regions)
}

// Clear forgets every region and publishes Lost for each of them.
func (s *RegionStore) Clear() {
	s.mu.Lock()
	ids := make([]string, 0, len(s.regions))
	for id := range s.regions {
		ids = append(ids, id)
	}
	s.regions = make(map[string]*Region)
	s.lastSubmitted = make(map[string]string)
	s.mu.Unlock()

	sort.Strings(ids)
	for _, id := range ids {
		s.Lost.Publish(id)
	}
}
