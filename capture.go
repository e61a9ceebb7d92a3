package main

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"sync/atomic"
	"time"

	"codelens/scanner"

	"github.com/disintegration/imaging"
	"github.com/gabriel-vasile/mimetype"
	"github.com/hashicorp/go-retryablehttp"
	"github.com/sirupsen/logrus"
)

// maxSnapshotBytes bounds a single captured image.
const maxSnapshotBytes = 32 << 20

// captureSource is a scanner.Capture that keeps itself fresh while Run is active.
type captureSource interface {
	scanner.Capture
	Run(ctx context.Context) error
}

// latestFrame holds the most recent decoded frame. Readers never block.
type latestFrame struct {
	frame atomic.Pointer[scanner.Frame]
	seq   atomic.Int64
}

func (l *latestFrame) CurrentFrame() (*scanner.Frame, bool) {
	f := l.frame.Load()
	return f, f != nil
}

func (l *latestFrame) store(data []byte, at time.Time) error {
	frame, err := decodeFrame(data, l.seq.Add(1), at)
	if err != nil {
		return err
	}
	l.frame.Store(frame)
	return nil
}

// decodeFrame sniffs and decodes an encoded snapshot, applying EXIF orientation.
func decodeFrame(data []byte, seq int64, at time.Time) (*scanner.Frame, error) {
	mtype := mimetype.Detect(data)
	if !strings.HasPrefix(mtype.String(), "image/") {
		return nil, fmt.Errorf("unsupported snapshot type: %s", mtype.String())
	}
	img, err := imaging.Decode(bytes.NewReader(data), imaging.AutoOrientation(true))
	if err != nil {
		return nil, fmt.Errorf("error decoding snapshot: %w", err)
	}
	bounds := img.Bounds()
	return &scanner.Frame{
		Seq:        seq,
		Data:       data,
		Image:      img,
		Width:      bounds.Dx(),
		Height:     bounds.Dy(),
		CapturedAt: at,
	}, nil
}

// httpSnapshotCapture polls a camera endpoint that returns a still image per request.
type httpSnapshotCapture struct {
	latestFrame
	url      string
	interval time.Duration
	client   *retryablehttp.Client
}

func newHTTPSnapshotCapture(url, token string, interval time.Duration) *httpSnapshotCapture {
	client := retryablehttp.NewClient()
	client.RetryMax = 2
	client.RetryWaitMin = 100 * time.Millisecond
	client.RetryWaitMax = time.Second
	client.Logger = retryLogger{log.WithField("component", "capture")}
	if token != "" {
		client.HTTPClient.Transport = &bearerTransport{base: client.HTTPClient.Transport, token: token}
	}
	if interval <= 0 {
		interval = defaultCaptureInterval
	}
	return &httpSnapshotCapture{url: url, interval: interval, client: client}
}

func (c *httpSnapshotCapture) Run(ctx context.Context) error {
	logger := log.WithFields(logrus.Fields{"url": c.url, "interval": c.interval})
	logger.Info("Snapshot capture started")
	return pollEvery(ctx, c.interval, func() {
		data, err := c.fetch(ctx)
		if err == nil {
			err = c.store(data, time.Now())
		}
		if err != nil && ctx.Err() == nil {
			logger.Warnf("Snapshot capture failed: %v", err)
		}
	})
}

func (c *httpSnapshotCapture) fetch(ctx context.Context) ([]byte, error) {
	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodGet, c.url, nil)
	if err != nil {
		return nil, fmt.Errorf("error creating snapshot request: %w", err)
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("error fetching snapshot: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("snapshot endpoint returned %d", resp.StatusCode)
	}
	data, err := io.ReadAll(io.LimitReader(resp.Body, maxSnapshotBytes))
	if err != nil {
		return nil, fmt.Errorf("error reading snapshot: %w", err)
	}
	return data, nil
}

// fileCapture re-reads an image file whenever its modification time changes.
type fileCapture struct {
	latestFrame
	path     string
	interval time.Duration
	modTime  time.Time
}

func newFileCapture(path string, interval time.Duration) *fileCapture {
	if interval <= 0 {
		interval = defaultCaptureInterval
	}
	return &fileCapture{path: path, interval: interval}
}

func (c *fileCapture) Run(ctx context.Context) error {
	logger := log.WithFields(logrus.Fields{"path": c.path, "interval": c.interval})
	logger.Info("File capture started")
	return pollEvery(ctx, c.interval, func() {
		if err := c.refresh(); err != nil {
			logger.Warnf("File capture failed: %v", err)
		}
	})
}

// refresh loads the file if it changed since the last successful load.
func (c *fileCapture) refresh() error {
	info, err := os.Stat(c.path)
	if err != nil {
		return err
	}
	if info.ModTime().Equal(c.modTime) {
		return nil
	}
	data, err := os.ReadFile(c.path)
	if err != nil {
		return err
	}
	if err := c.store(data, time.Now()); err != nil {
		return err
	}
	c.modTime = info.ModTime()
	return nil
}

// pollEvery runs fn immediately and then on every tick until ctx is done.
func pollEvery(ctx context.Context, interval time.Duration, fn func()) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		fn()
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

// retryLogger adapts logrus to retryablehttp.LeveledLogger.
type retryLogger struct {
	entry *logrus.Entry
}

func (l retryLogger) with(keysAndValues []interface{}) *logrus.Entry {
	fields := logrus.Fields{}
	for i := 0; i+1 < len(keysAndValues); i += 2 {
		fields[fmt.Sprint(keysAndValues[i])] = keysAndValues[i+1]
	}
	return l.entry.WithFields(fields)
}

func (l retryLogger) Error(msg string, keysAndValues ...interface{}) {
	l.with(keysAndValues).Error(msg)
}

func (l retryLogger) Info(msg string, keysAndValues ...interface{}) {
	l.with(keysAndValues).Debug(msg)
}

func (l retryLogger) Debug(msg string, keysAndValues ...interface{}) {
	l.with(keysAndValues).Debug(msg)
}

func (l retryLogger) Warn(msg string, keysAndValues ...interface{}) {
	l.with(keysAndValues).Warn(msg)
}
