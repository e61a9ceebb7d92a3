package main

import (
	"context"

	"codelens/scanner"
)

// fullFrameDetector treats the whole frame as one code region. It stands in
// for a vision model when the camera is pointed at a single screen or page.
type fullFrameDetector struct {
	// margin is trimmed from every edge, as a fraction of the frame size.
	margin float64
}

func (d fullFrameDetector) Detect(ctx context.Context, frame *scanner.Frame) ([]*scanner.Region, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if frame.Width <= 0 || frame.Height <= 0 {
		return nil, nil
	}
	w, h := float64(frame.Width), float64(frame.Height)
	return []*scanner.Region{{
		Box: scanner.Box{
			X:      w * d.margin,
			Y:      h * d.margin,
			Width:  w * (1 - 2*d.margin),
			Height: h * (1 - 2*d.margin),
		},
		Confidence: 1,
	}}, nil
}
