package transport

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sync"
	"sync/atomic"
	"time"

	"codelens/internal/events"

	"github.com/sirupsen/logrus"
)

var log = logrus.New()

const (
	DefaultMaxRetries = 3
	DefaultBaseDelay  = 1 * time.Second
	DefaultMaxDelay   = 30 * time.Second

	jitterFraction = 0.1
)

var (
	ErrMaxRetriesExceeded = errors.New("max retries exceeded")
	ErrQueueCleared       = errors.New("queue cleared")
	ErrSuperseded         = errors.New("superseded by a newer operation with the same id")
)

// Operation is a single network attempt. It must honour ctx.
type Operation func(ctx context.Context) ([]byte, error)

// Config holds the transport configuration
type Config struct {
	// BaseDelay is the backoff before the first retry. Defaults to 1s.
	BaseDelay time.Duration
	// MaxDelay caps the backoff before jitter is added. Defaults to 30s.
	MaxDelay time.Duration
	// StartOffline makes the transport queue everything until SetOnline(true).
	StartOffline bool
}

// Transport runs network operations and retries network-classified failures
// with exponential backoff once connectivity allows it.
type Transport struct {
	mu       sync.Mutex
	online   bool
	queue    []*retryable
	current  *retryable
	draining bool

	baseDelay time.Duration
	maxDelay  time.Duration

	randFloat func() float64
	sleep     func(ctx context.Context, d time.Duration) error

	// Connectivity receives true on every offline→online transition and
	// false on every online→offline transition.
	Connectivity events.Topic[bool]
}

type outcome struct {
	body []byte
	err  error
}

type retryable struct {
	id         string
	op         Operation
	ctx        context.Context
	retries    int
	maxRetries int
	result     chan outcome

	once    sync.Once
	settled atomic.Bool
}

// settle delivers the outcome exactly once; result is buffered so it never blocks.
func (r *retryable) settle(body []byte, err error) {
	r.once.Do(func() {
		r.settled.Store(true)
		r.result <- outcome{body: body, err: err}
	})
}

// New creates a Transport. It starts online unless config.StartOffline is set.
func New(config Config) *Transport {
	base := config.BaseDelay
	if base <= 0 {
		base = DefaultBaseDelay
	}
	maxDelay := config.MaxDelay
	if maxDelay <= 0 {
		maxDelay = DefaultMaxDelay
	}
	return &Transport{
		online:    !config.StartOffline,
		baseDelay: base,
		maxDelay:  maxDelay,
		randFloat: rand.Float64,
		sleep:     sleepContext,
	}
}

// Perform runs op and blocks until it settles. When offline, or when op fails
// with a network-classified error, the operation is queued and retried later;
// any other error is returned immediately. A negative maxRetries selects
// DefaultMaxRetries.
func (t *Transport) Perform(ctx context.Context, id string, op Operation, maxRetries int) ([]byte, error) {
	if maxRetries < 0 {
		maxRetries = DefaultMaxRetries
	}
	logger := log.WithField("operation_id", id)

	if !t.IsOnline() {
		logger.Debug("Offline, queueing operation until connectivity returns")
		return t.await(ctx, t.enqueue(ctx, id, op, maxRetries))
	}

	body, err := op(ctx)
	if err == nil {
		return body, nil
	}
	if ctx.Err() != nil || !IsNetworkError(err) {
		return nil, err
	}
	if maxRetries == 0 {
		return nil, fmt.Errorf("%w: %w", ErrMaxRetriesExceeded, err)
	}

	logger.WithError(err).Warn("Network error, queueing operation for retry")
	r := t.enqueue(ctx, id, op, maxRetries)
	t.processQueue()
	return t.await(ctx, r)
}

func (t *Transport) await(ctx context.Context, r *retryable) ([]byte, error) {
	select {
	case o := <-r.result:
		return o.body, o.err
	case <-ctx.Done():
		t.remove(r)
		return nil, ctx.Err()
	}
}

func (t *Transport) enqueue(ctx context.Context, id string, op Operation, maxRetries int) *retryable {
	r := &retryable{
		id:         id,
		op:         op,
		ctx:        ctx,
		maxRetries: maxRetries,
		result:     make(chan outcome, 1),
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	for i, queued := range t.queue {
		if queued.id == id {
			t.queue = append(t.queue[:i], t.queue[i+1:]...)
			queued.settle(nil, ErrSuperseded)
			break
		}
	}
	t.queue = append(t.queue, r)
	return r
}

func (t *Transport) remove(r *retryable) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for i, queued := range t.queue {
		if queued == r {
			t.queue = append(t.queue[:i], t.queue[i+1:]...)
			return
		}
	}
}

// processQueue starts a drain goroutine unless one is already running.
func (t *Transport) processQueue() {
	t.mu.Lock()
	if t.draining || !t.online || len(t.queue) == 0 {
		t.mu.Unlock()
		return
	}
	t.draining = true
	t.mu.Unlock()

	go t.drain()
}

func (t *Transport) drain() {
	for {
		r := t.next()
		if r == nil {
			return
		}
		t.attempt(r)

		t.mu.Lock()
		t.current = nil
		t.mu.Unlock()
	}
}

// next pops the head of the queue, or stops draining when the queue is empty
// or connectivity is lost.
func (t *Transport) next() *retryable {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.online || len(t.queue) == 0 {
		t.draining = false
		return nil
	}
	r := t.queue[0]
	t.queue = t.queue[1:]
	t.current = r
	return r
}

func (t *Transport) attempt(r *retryable) {
	r.retries++
	delay := t.Backoff(r.retries)
	logger := log.WithFields(logrus.Fields{
		"operation_id": r.id,
		"attempt":      r.retries,
		"max_retries":  r.maxRetries,
		"delay":        delay,
	})
	logger.Debug("Retrying operation")

	if err := t.sleep(r.ctx, delay); err != nil {
		r.settle(nil, err)
		return
	}
	if r.settled.Load() {
		return
	}

	body, err := r.op(r.ctx)
	switch {
	case err == nil:
		logger.Info("Retry succeeded")
		r.settle(body, nil)
	case r.ctx.Err() != nil:
		r.settle(nil, r.ctx.Err())
	case !IsNetworkError(err):
		logger.WithError(err).Warn("Retry failed with a non-network error")
		r.settle(nil, err)
	case r.retries >= r.maxRetries:
		logger.WithError(err).Error("Giving up on operation")
		r.settle(nil, fmt.Errorf("%w after %d retries: %w", ErrMaxRetriesExceeded, r.retries, err))
	default:
		logger.WithError(err).Warn("Retry failed, re-queueing")
		t.requeue(r)
	}
}

func (t *Transport) requeue(r *retryable) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if r.settled.Load() {
		return
	}
	t.queue = append(t.queue, r)
}

// Backoff returns the delay before retry attempt n (starting at 1):
// min(base*2^(n-1), max) plus up to 10% jitter.
func (t *Transport) Backoff(n int) time.Duration {
	if n < 1 {
		n = 1
	}
	delay := t.maxDelay
	if n-1 < 32 {
		if d := t.baseDelay * time.Duration(1<<uint(n-1)); d > 0 && d < t.maxDelay {
			delay = d
		}
	}
	jitter := time.Duration(t.randFloat() * jitterFraction * float64(delay))
	return delay + jitter
}

// SetOnline records an external connectivity signal. Going online drains the
// retry queue.
func (t *Transport) SetOnline(online bool) {
	t.mu.Lock()
	changed := t.online != online
	t.online = online
	t.mu.Unlock()

	if !changed {
		return
	}
	if online {
		log.Info("Connectivity restored")
		t.Connectivity.Publish(true)
		t.processQueue()
	} else {
		log.Warn("Connectivity lost")
		t.Connectivity.Publish(false)
	}
}

// IsOnline reports the last known connectivity state.
func (t *Transport) IsOnline() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.online
}

// QueueLen returns the number of operations waiting for a retry.
func (t *Transport) QueueLen() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.queue)
}

// Clear rejects every queued operation, including one that is waiting out its
// backoff, with ErrQueueCleared.
func (t *Transport) Clear() {
	t.mu.Lock()
	queued := t.queue
	t.queue = nil
	for _, r := range queued {
		r.settle(nil, ErrQueueCleared)
	}
	if t.current != nil {
		t.current.settle(nil, ErrQueueCleared)
	}
	t.mu.Unlock()

	if len(queued) > 0 {
		log.WithField("count", len(queued)).Info("Retry queue cleared")
	}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// SetLogLevel sets the logging level for the transport package
func SetLogLevel(level logrus.Level) {
	log.SetLevel(level)
}
