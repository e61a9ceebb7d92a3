package ocr

import (
	"context"
	"fmt"

	"codelens/scanner"

	"github.com/sirupsen/logrus"
)

// RegionExtractor reads region text by cropping the frame and handing the
// crop to an OCR provider.
type RegionExtractor struct {
	provider Provider
	quality  int
}

// NewRegionExtractor creates a RegionExtractor backed by provider.
func NewRegionExtractor(provider Provider, jpegQuality int) *RegionExtractor {
	return &RegionExtractor{provider: provider, quality: jpegQuality}
}

// Extract implements scanner.Extractor.
func (e *RegionExtractor) Extract(ctx context.Context, region scanner.Region, frame *scanner.Frame) (string, error) {
	crop, err := scanner.Snapshot(frame, region.Box, e.quality)
	if err != nil {
		return "", fmt.Errorf("error cropping region %s: %w", region.ID, err)
	}

	result, err := e.provider.ProcessImage(ctx, crop)
	if err != nil {
		return "", fmt.Errorf("error extracting text from region %s: %w", region.ID, err)
	}

	log.WithFields(logrus.Fields{
		"region_id": region.ID,
		"length":    len(result.Text),
	}).Debug("Extracted region text")
	return result.Text, nil
}
