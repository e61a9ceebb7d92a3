package scanner

import (
	"bytes"
	"errors"
	"fmt"
	"image"

	"github.com/disintegration/imaging"
)

// DefaultSnapshotQuality is the JPEG quality used for region snapshots.
const DefaultSnapshotQuality = 85

var ErrEmptyCrop = errors.New("region does not intersect the frame")

// FrameImage returns the decoded image of frame, decoding Data when needed.
func FrameImage(frame *Frame) (image.Image, error) {
	if frame.Image != nil {
		return frame.Image, nil
	}
	if len(frame.Data) == 0 {
		return nil, fmt.Errorf("frame %d has no image data", frame.Seq)
	}
	img, err := imaging.Decode(bytes.NewReader(frame.Data), imaging.AutoOrientation(true))
	if err != nil {
		return nil, fmt.Errorf("error decoding frame %d: %w", frame.Seq, err)
	}
	return img, nil
}

// Crop cuts the region box out of the frame.
func Crop(frame *Frame, box Box) (image.Image, error) {
	img, err := FrameImage(frame)
	if err != nil {
		return nil, err
	}
	rect := box.Rect().Intersect(img.Bounds())
	if rect.Empty() {
		return nil, ErrEmptyCrop
	}
	return imaging.Crop(img, rect), nil
}

// Snapshot crops the region box out of the frame and encodes it as JPEG.
func Snapshot(frame *Frame, box Box, quality int) ([]byte, error) {
	if quality <= 0 || quality > 100 {
		quality = DefaultSnapshotQuality
	}
	crop, err := Crop(frame, box)
	if err != nil {
		return nil, err
	}
	var buf bytes.Buffer
	if err := imaging.Encode(&buf, crop, imaging.JPEG, imaging.JPEGQuality(quality)); err != nil {
		return nil, fmt.Errorf("error encoding snapshot: %w", err)
	}
	return buf.Bytes(), nil
}
