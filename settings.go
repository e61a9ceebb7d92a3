package main

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"codelens/analysis"
	"codelens/scanner"
	"codelens/transport"
)

const (
	defaultCaptureInterval = 500 * time.Millisecond
	defaultFrameRate       = 30.0
)

// Settings holds the numeric and boolean tuning knobs read from the
// environment.
type Settings struct {
	AnalysisTimeout     time.Duration
	AnalysisMaxTokens   int
	AnalysisTemperature *float64
	RequestsPerMinute   float64
	MaxRetries          int

	CaptureInterval     time.Duration
	FrameRate           float64
	ConfidenceThreshold float64
	AttachSnapshot      bool
	// DetectionMargin is trimmed from each frame edge, as a fraction of the frame.
	DetectionMargin float64

	VisionLLMMaxTokens     int
	VisionLLMTemperature   *float64
	GoogleAIThinkingBudget *int32
}

// FrameInterval converts the frame rate into the scheduler's tick interval.
func (s Settings) FrameInterval() time.Duration {
	if s.FrameRate <= 0 {
		return scanner.DefaultFrameInterval
	}
	return time.Duration(float64(time.Second) / s.FrameRate)
}

// loadSettings parses every tuning variable and reports all invalid ones at once.
func loadSettings() (Settings, error) {
	var errs []error
	collect := func(err error) {
		if err != nil {
			errs = append(errs, err)
		}
	}

	var s Settings
	var err error

	s.AnalysisTimeout, err = envDuration("ANALYSIS_TIMEOUT", analysis.DefaultTimeout)
	collect(err)
	s.AnalysisMaxTokens, err = envInt("ANALYSIS_MAX_TOKENS", analysis.DefaultMaxTokens)
	collect(err)
	s.RequestsPerMinute, err = envFloat("ANALYSIS_REQUESTS_PER_MINUTE", 0)
	collect(err)
	s.MaxRetries, err = envInt("TRANSPORT_MAX_RETRIES", transport.DefaultMaxRetries)
	collect(err)
	s.CaptureInterval, err = envDuration("CAPTURE_INTERVAL", defaultCaptureInterval)
	collect(err)
	s.FrameRate, err = envFloat("FRAME_RATE", defaultFrameRate)
	collect(err)
	s.ConfidenceThreshold, err = envFloat("CONFIDENCE_THRESHOLD", scanner.DefaultConfidenceThreshold)
	collect(err)
	s.AttachSnapshot, err = envBool("ATTACH_SNAPSHOT", false)
	collect(err)

	s.DetectionMargin, err = envFloat("DETECTION_MARGIN", 0)
	collect(err)
	s.VisionLLMMaxTokens, err = envInt("VISION_LLM_MAX_TOKENS", 0)
	collect(err)
	s.AnalysisTemperature, err = envOptionalFloat("ANALYSIS_TEMPERATURE")
	collect(err)
	s.VisionLLMTemperature, err = envOptionalFloat("VISION_LLM_TEMPERATURE")
	collect(err)
	s.GoogleAIThinkingBudget, err = envOptionalInt32("GOOGLEAI_THINKING_BUDGET")
	collect(err)

	if s.ConfidenceThreshold < 0 || s.ConfidenceThreshold > 1 {
		collect(fmt.Errorf("CONFIDENCE_THRESHOLD must be between 0 and 1, got %v", s.ConfidenceThreshold))
	}
	if s.DetectionMargin < 0 || s.DetectionMargin >= 0.5 {
		collect(fmt.Errorf("DETECTION_MARGIN must be at least 0 and below 0.5, got %v", s.DetectionMargin))
	}
	if s.VisionLLMMaxTokens < 0 {
		collect(fmt.Errorf("VISION_LLM_MAX_TOKENS must not be negative, got %d", s.VisionLLMMaxTokens))
	}
	if s.MaxRetries < 0 {
		collect(fmt.Errorf("TRANSPORT_MAX_RETRIES must not be negative, got %d", s.MaxRetries))
	}

	return s, errors.Join(errs...)
}

func envDuration(name string, def time.Duration) (time.Duration, error) {
	raw := strings.TrimSpace(os.Getenv(name))
	if raw == "" {
		return def, nil
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return def, fmt.Errorf("invalid %s %q: %w", name, raw, err)
	}
	if d <= 0 {
		return def, fmt.Errorf("%s must be positive, got %s", name, raw)
	}
	return d, nil
}

func envInt(name string, def int) (int, error) {
	raw := strings.TrimSpace(os.Getenv(name))
	if raw == "" {
		return def, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return def, fmt.Errorf("invalid %s %q: %w", name, raw, err)
	}
	return v, nil
}

func envFloat(name string, def float64) (float64, error) {
	raw := strings.TrimSpace(os.Getenv(name))
	if raw == "" {
		return def, nil
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return def, fmt.Errorf("invalid %s %q: %w", name, raw, err)
	}
	return v, nil
}

func envBool(name string, def bool) (bool, error) {
	raw := strings.TrimSpace(os.Getenv(name))
	if raw == "" {
		return def, nil
	}
	v, err := strconv.ParseBool(raw)
	if err != nil {
		return def, fmt.Errorf("invalid %s %q: %w", name, raw, err)
	}
	return v, nil
}

// envOptionalFloat returns nil when name is unset.
func envOptionalFloat(name string) (*float64, error) {
	raw := strings.TrimSpace(os.Getenv(name))
	if raw == "" {
		return nil, nil
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid %s %q: %w", name, raw, err)
	}
	return &v, nil
}

// envOptionalInt32 returns nil when name is unset.
func envOptionalInt32(name string) (*int32, error) {
	raw := strings.TrimSpace(os.Getenv(name))
	if raw == "" {
		return nil, nil
	}
	v, err := strconv.ParseInt(raw, 10, 32)
	if err != nil {
		return nil, fmt.Errorf("invalid %s %q: %w", name, raw, err)
	}
	n := int32(v)
	return &n, nil
}
