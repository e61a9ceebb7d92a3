package analysis

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"text/template"
	"time"

	"codelens/internal/events"
	"codelens/transport"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/tmc/langchaingo/llms"
	"golang.org/x/time/rate"
)

var log = logrus.New()

const (
	DefaultTimeout   = 30 * time.Second
	DefaultMaxTokens = 2048

	enqueueBuffer = 64
)

// Performer executes a network operation with retry semantics.
type Performer interface {
	Perform(ctx context.Context, id string, op transport.Operation, maxRetries int) ([]byte, error)
}

// Config holds the dispatcher configuration
type Config struct {
	// Model is the configured model name; it selects the provider.
	Model string

	OpenAIAPIKey    string
	AnthropicAPIKey string
	GoogleAPIKey    string

	// Base URLs override the SDK defaults when set.
	OpenAIBaseURL    string
	AnthropicBaseURL string
	GoogleBaseURL    string

	// Timeout bounds each request, retries included. Defaults to 30s.
	Timeout time.Duration
	// MaxTokens caps the response length. Defaults to 2048.
	MaxTokens int
	// Temperature is sent only when set.
	Temperature *float64
	// MaxRetries is handed to the transport. Zero selects transport.DefaultMaxRetries.
	MaxRetries int
	// RequestsPerMinute limits dispatch rate. Zero or negative disables limiting.
	RequestsPerMinute float64

	PromptTemplate *template.Template
	HTTPClient     *http.Client
}

// Dispatcher serializes analysis requests so that exactly one network
// operation is in flight at a time. The queue is owned by the goroutine
// running Run; every other method talks to it over channels.
type Dispatcher struct {
	config    Config
	transport Performer
	limiter   *rate.Limiter
	now       func() time.Time

	// model serves the configured provider; modelErr explains why it is nil.
	model    llms.Model
	modelErr error

	promptMu sync.RWMutex
	prompt   *template.Template

	enqueueCh chan *Request
	cancelCh  chan chan struct{}
	statsCh   chan chan Stats
	done      chan struct{}

	Completed    events.Topic[Result]
	Failed       events.Topic[Failure]
	APIErrors    events.Topic[APIError]
	StateChanges events.Topic[StateChange]
}

// flight is the request currently being dispatched.
type flight struct {
	req       *Request
	cancel    context.CancelFunc
	cancelled bool
}

type dispatchResult struct {
	result Result
	err    error
}

// NewDispatcher creates a Dispatcher that performs network calls through t.
func NewDispatcher(config Config, t Performer) (*Dispatcher, error) {
	if config.Timeout <= 0 {
		config.Timeout = DefaultTimeout
	}
	if config.MaxTokens <= 0 {
		config.MaxTokens = DefaultMaxTokens
	}
	if config.MaxRetries == 0 {
		config.MaxRetries = transport.DefaultMaxRetries
	}
	if config.PromptTemplate == nil {
		tmpl, err := ParsePromptTemplate(DefaultPromptTemplate)
		if err != nil {
			return nil, err
		}
		config.PromptTemplate = tmpl
	}

	var limiter *rate.Limiter
	if config.RequestsPerMinute > 0 {
		limiter = rate.NewLimiter(rate.Limit(config.RequestsPerMinute/60.0), 1)
	}

	provider := ResolveProvider(config.Model)
	logger := log.WithFields(logrus.Fields{
		"model":    config.Model,
		"provider": provider,
		"timeout":  config.Timeout,
	})
	model, modelErr := newModel(provider, config)
	if modelErr != nil {
		if KindOf(modelErr) == "" {
			modelErr = NewConfigurationError("%v", modelErr)
		}
		logger.WithError(modelErr).Warn("Analysis model unavailable; requests will fail")
	} else {
		logger.Info("Analysis dispatcher configured")
	}

	return &Dispatcher{
		config:    config,
		transport: t,
		limiter:   limiter,
		now:       time.Now,
		model:     model,
		modelErr:  modelErr,
		prompt:    config.PromptTemplate,
		enqueueCh: make(chan *Request, enqueueBuffer),
		cancelCh:  make(chan chan struct{}),
		statsCh:   make(chan chan Stats),
		done:      make(chan struct{}),
	}, nil
}

// Enqueue appends req to the tail of the queue. It does not wait for the
// request to be dispatched.
func (d *Dispatcher) Enqueue(req *Request) error {
	if req.ID == "" {
		req.ID = uuid.New().String()
	}
	if req.EnqueuedAt.IsZero() {
		req.EnqueuedAt = d.now()
	}
	req.Model = d.config.Model
	req.Provider = ResolveProvider(d.config.Model)

	select {
	case d.enqueueCh <- req:
		return nil
	case <-d.done:
		return ErrDispatcherStopped
	}
}

// CancelAll drops every queued request and aborts the one in flight.
// Cancelled requests are not re-queued.
func (d *Dispatcher) CancelAll() {
	ack := make(chan struct{})
	select {
	case d.cancelCh <- ack:
		<-ack
	case <-d.done:
	}
}

// Stats reports the queue length and the in-flight request.
func (d *Dispatcher) Stats() Stats {
	ack := make(chan Stats, 1)
	select {
	case d.statsCh <- ack:
		return <-ack
	case <-d.done:
		return Stats{}
	}
}

// SetPromptTemplate replaces the prompt used for requests dispatched from now on.
func (d *Dispatcher) SetPromptTemplate(tmpl *template.Template) {
	d.promptMu.Lock()
	defer d.promptMu.Unlock()
	d.prompt = tmpl
}

func (d *Dispatcher) promptTemplate() *template.Template {
	d.promptMu.RLock()
	defer d.promptMu.RUnlock()
	return d.prompt
}

// Run owns the queue until ctx is done. Requests still queued or in flight
// at that point are cancelled.
func (d *Dispatcher) Run(ctx context.Context) error {
	defer close(d.done)
	log.Info("Analysis dispatcher started")

	var queue []*Request
	var inflight *flight
	results := make(chan dispatchResult, 1)

	for {
		if inflight == nil && len(queue) > 0 {
			req := queue[0]
			queue[0] = nil
			queue = queue[1:]
			inflight = d.start(ctx, req, results)
		}

		select {
		case <-ctx.Done():
			for _, req := range queue {
				d.transition(req, StateCancelled, nil)
			}
			if inflight != nil {
				inflight.cancel()
				<-results
				d.transition(inflight.req, StateCancelled, nil)
			}
			log.Info("Analysis dispatcher stopped")
			return nil

		case req := <-d.enqueueCh:
			queue = append(queue, req)
			d.transition(req, StateQueued, nil)
			requestLogger(req).WithField("queue_length", len(queue)).Debug("Request queued")

		case ack := <-d.cancelCh:
			for _, req := range queue {
				d.transition(req, StateCancelled, nil)
			}
			if n := len(queue); n > 0 || inflight != nil {
				log.WithField("queued", n).Info("Cancelling all analysis requests")
			}
			queue = nil
			if inflight != nil {
				inflight.cancelled = true
				inflight.cancel()
			}
			close(ack)

		case ack := <-d.statsCh:
			stats := Stats{Queued: len(queue)}
			if inflight != nil {
				stats.InFlight = inflight.req.ID
			}
			ack <- stats

		case res := <-results:
			current := inflight
			inflight = nil
			current.cancel()
			d.finish(current, res)
		}
	}
}

func (d *Dispatcher) start(ctx context.Context, req *Request, results chan<- dispatchResult) *flight {
	reqCtx, cancel := context.WithCancel(ctx)
	d.transition(req, StateDispatched, nil)
	go func() {
		result, err := d.dispatch(reqCtx, req)
		results <- dispatchResult{result: result, err: err}
	}()
	return &flight{req: req, cancel: cancel}
}

// dispatch builds the provider payload and races the network call against
// the request timeout.
func (d *Dispatcher) dispatch(ctx context.Context, req *Request) (Result, error) {
	logger := requestLogger(req)

	if req.Provider == ProviderUnknown {
		return Result{}, NewConfigurationError("no analysis provider serves model %q", req.Model)
	}
	if d.modelErr != nil {
		return Result{}, d.modelErr
	}
	prompt, err := renderPrompt(d.promptTemplate(), req)
	if err != nil {
		return Result{}, NewConfigurationError("%v", err)
	}
	content := messages(req.Provider, prompt, req.Image)

	if d.limiter != nil {
		if err := d.limiter.Wait(ctx); err != nil {
			return Result{}, NewCancelledError(err)
		}
	}

	callCtx, cancel := context.WithTimeout(ctx, d.config.Timeout)
	defer cancel()

	type reply struct {
		body []byte
		err  error
	}
	replies := make(chan reply, 1)
	started := d.now()
	logger.Debug("Sending analysis request")
	go func() {
		body, err := d.transport.Perform(callCtx, req.ID, func(opCtx context.Context) ([]byte, error) {
			return d.generate(opCtx, req.Provider, content)
		}, d.config.MaxRetries)
		replies <- reply{body: body, err: err}
	}()

	select {
	case r := <-replies:
		if r.err != nil {
			return Result{}, d.classify(ctx, callCtx, r.err)
		}
		result := parseResult(req, string(r.body), d.now())
		logger.WithFields(logrus.Fields{
			"issues":      len(result.Issues),
			"suggestions": len(result.Suggestions),
			"raw":         result.Raw,
			"elapsed":     d.now().Sub(started),
		}).Info("Analysis completed")
		return result, nil

	case <-callCtx.Done():
		return Result{}, d.classify(ctx, callCtx, callCtx.Err())
	}
}

// classify turns a transport error into an *Error.
func (d *Dispatcher) classify(ctx, callCtx context.Context, err error) error {
	var analysisErr *Error
	switch {
	case ctx.Err() != nil:
		return NewCancelledError(err)
	case errors.Is(callCtx.Err(), context.DeadlineExceeded):
		return NewTimeoutError(d.config.Timeout, err)
	case errors.As(err, &analysisErr):
		return analysisErr
	case errors.Is(err, transport.ErrQueueCleared), errors.Is(err, transport.ErrSuperseded):
		return NewCancelledError(err)
	case errors.Is(err, transport.ErrMaxRetriesExceeded), transport.IsNetworkError(err):
		return NewNetworkError(err)
	default:
		return &Error{Kind: KindProvider, Message: "request failed", Provider: ResolveProvider(d.config.Model), Cause: err}
	}
}

// finish records the terminal state of a dispatched request and publishes
// the matching signals.
func (d *Dispatcher) finish(f *flight, res dispatchResult) {
	req := f.req
	logger := requestLogger(req)

	if f.cancelled || KindOf(res.err) == KindCancelled {
		d.transition(req, StateCancelled, res.err)
		logger.Info("Analysis request cancelled")
		return
	}

	if res.err == nil {
		if d.transition(req, StateSucceeded, nil) {
			d.Completed.Publish(res.result)
		}
		return
	}

	state := StateFailed
	if KindOf(res.err) == KindTimeout {
		state = StateTimedOut
	}
	if !d.transition(req, state, res.err) {
		return
	}

	var analysisErr *Error
	if errors.As(res.err, &analysisErr) && analysisErr.Body != "" {
		logger = logger.WithFields(logrus.Fields{
			"status": analysisErr.Status,
			"body":   analysisErr.Body,
		})
	}
	logger.WithError(res.err).Error("Analysis request failed")

	d.Failed.Publish(Failure{RequestID: req.ID, RegionID: req.RegionID, Err: res.err})
	d.APIErrors.Publish(APIError{RequestID: req.ID, RegionID: req.RegionID, Message: UserMessage(res.err)})
}

// transition moves req to state. Only one terminal transition is allowed;
// later ones are ignored and reported as false.
func (d *Dispatcher) transition(req *Request, state State, err error) bool {
	if req.state.Terminal() {
		return false
	}
	req.state = state
	d.StateChanges.Publish(StateChange{
		RequestID: req.ID,
		RegionID:  req.RegionID,
		State:     state,
		At:        d.now(),
		Err:       err,
	})
	return true
}

func requestLogger(req *Request) *logrus.Entry {
	return log.WithFields(logrus.Fields{
		"request_id": req.ID,
		"region_id":  req.RegionID,
		"provider":   req.Provider,
	})
}

// SetLogLevel sets the logging level for the analysis package
func SetLogLevel(level logrus.Level) {
	log.SetLevel(level)
}
