package scanner

import (
	"context"
	"image"
	"time"

	"codelens/analysis"
)

// MaxHistory is the number of centroid samples kept per region.
const MaxHistory = 10

// Frame is a single captured image.
type Frame struct {
	Seq int64
	// Data holds the encoded image as delivered by the capture source.
	Data []byte
	// Image is the decoded frame. It may be nil when only Data is available.
	Image      image.Image
	Width      int
	Height     int
	CapturedAt time.Time
}

// Box is an axis-aligned rectangle in frame pixels.
type Box struct {
	X      float64 `json:"x"`
	Y      float64 `json:"y"`
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}

// Center returns the centroid of the box.
func (b Box) Center() (x, y float64) {
	return b.X + b.Width/2, b.Y + b.Height/2
}

// Rect converts the box to an integer image rectangle.
func (b Box) Rect() image.Rectangle {
	return image.Rect(int(b.X), int(b.Y), int(b.X+b.Width), int(b.Y+b.Height))
}

// Sample is a centroid position observed at a point in time.
type Sample struct {
	X  float64   `json:"x"`
	Y  float64   `json:"y"`
	At time.Time `json:"at"`
}

// Region is an area of a frame believed to contain code.
type Region struct {
	ID         string      `json:"id"`
	Box        Box         `json:"box"`
	Confidence float64     `json:"confidence"`
	Text       string      `json:"text,omitempty"`
	DetectedAt time.Time   `json:"detected_at"`
	LastSeen   time.Time   `json:"last_seen"`
	History    []Sample    `json:"history"`
	FrameSize  image.Point `json:"frame_size"`
}

// Record appends the current centroid to the history, evicting the oldest
// sample once MaxHistory is exceeded.
func (r *Region) Record(at time.Time) {
	x, y := r.Box.Center()
	r.History = append(r.History, Sample{X: x, Y: y, At: at})
	if n := len(r.History); n > MaxHistory {
		r.History = append(r.History[:0:0], r.History[n-MaxHistory:]...)
	}
}

// Clone returns a copy that shares no memory with r.
func (r *Region) Clone() Region {
	c := *r
	c.History = append([]Sample(nil), r.History...)
	return c
}

// Capture supplies the most recent frame.
type Capture interface {
	CurrentFrame() (*Frame, bool)
}

// Detector finds candidate regions in a frame.
type Detector interface {
	Detect(ctx context.Context, frame *Frame) ([]*Region, error)
}

// Extractor reads the text inside a region.
type Extractor interface {
	Extract(ctx context.Context, region Region, frame *Frame) (string, error)
}

// Enqueuer accepts analysis requests without waiting for their outcome.
type Enqueuer interface {
	Enqueue(req *analysis.Request) error
}
