package main

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"codelens/analysis"
	"codelens/annotation"
	"codelens/scanner"
	"codelens/transport"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
	"gorm.io/gorm"
)

const shutdownTimeout = 5 * time.Second

// App struct to hold dependencies
type App struct {
	Transport  *transport.Transport
	Dispatcher *analysis.Dispatcher
	Scheduler  *scanner.Scheduler
	Tracker    *annotation.Tracker
	Requests   *RequestStore
	Database   *gorm.DB

	capture captureSource
	history *historyWriter

	scanMu     sync.Mutex
	baseCtx    context.Context
	scanCancel context.CancelFunc
	scanDone   chan struct{}

	errMu     sync.RWMutex
	lastError *analysis.APIError
}

// NewApp assembles the pipeline and subscribes the components to each other.
func NewApp(settings Settings, capture captureSource, extractor scanner.Extractor, db *gorm.DB, presenter annotation.Presenter) (*App, error) {
	tr := transport.New(transport.Config{})

	dispatcher, err := analysis.NewDispatcher(dispatcherConfig(settings), tr)
	if err != nil {
		return nil, err
	}

	scheduler := scanner.NewScheduler(scanner.Config{
		FrameInterval:       settings.FrameInterval(),
		ConfidenceThreshold: settings.ConfidenceThreshold,
		AttachSnapshot:      settings.AttachSnapshot,
	}, capture, fullFrameDetector{margin: settings.DetectionMargin}, extractor, dispatcher)

	app := &App{
		Transport:  tr,
		Dispatcher: dispatcher,
		Scheduler:  scheduler,
		Tracker:    annotation.NewTracker(annotation.Config{}, presenter, scheduler.Store()),
		Requests:   newRequestStore(0),
		Database:   db,
		capture:    capture,
	}
	if db != nil {
		app.history = newHistoryWriter(db, historyBuffer)
	}
	app.wireEvents()
	return app, nil
}

// wireEvents connects dispatcher, store and transport events to their consumers.
func (app *App) wireEvents() {
	app.Dispatcher.Completed.Subscribe(func(result analysis.Result) {
		if app.history != nil {
			app.history.Submit(result)
		}
		app.Tracker.HandleCompleted(result)
	})
	app.Dispatcher.StateChanges.Subscribe(app.Requests.track)
	app.Dispatcher.StateChanges.Subscribe(app.Scheduler.HandleStateChange)
	app.Dispatcher.APIErrors.Subscribe(func(apiErr analysis.APIError) {
		app.errMu.Lock()
		app.lastError = &apiErr
		app.errMu.Unlock()
		log.WithFields(logrus.Fields{
			"request": apiErr.RequestID,
			"region":  apiErr.RegionID,
		}).Warn(apiErr.Message)
	})

	store := app.Scheduler.Store()
	store.Moved.Subscribe(app.Tracker.UpdateAnchor)
	store.Lost.Subscribe(app.Tracker.RemoveForRegion)

	app.Transport.Connectivity.Subscribe(func(online bool) {
		log.WithField("online", online).Info("Connectivity changed")
	})
}

// Run starts the dispatcher, the capture source, the HTTP API and the scan
// loop, and blocks until ctx is done or one of them fails.
func (app *App) Run(ctx context.Context, addr string) error {
	g, ctx := errgroup.WithContext(ctx)

	app.scanMu.Lock()
	app.baseCtx = ctx
	app.scanMu.Unlock()

	g.Go(func() error { return app.Dispatcher.Run(ctx) })
	g.Go(func() error { return app.capture.Run(ctx) })

	srv := &http.Server{Addr: addr, Handler: app.router()}
	g.Go(func() error {
		log.Infof("Server started on %s", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	app.startScan()

	err := g.Wait()
	app.stopScanLoop()
	app.closeHistory()
	return err
}

// closeHistory flushes pending history records.
func (app *App) closeHistory() {
	if app.history != nil {
		app.history.Close()
	}
}

// router builds the gin engine with every API route.
func (app *App) router() *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery())

	api := router.Group("/api")
	{
		api.GET("/status", app.statusHandler)
		api.POST("/scan/start", app.startScanHandler)
		api.POST("/scan/stop", app.stopScanHandler)
		api.POST("/connectivity", app.connectivityHandler)
		api.GET("/annotations", app.annotationsHandler)
		api.GET("/regions", app.regionsHandler)
		api.GET("/requests", app.getAllRequestsHandler)
		api.GET("/requests/:id", app.getRequestHandler)
		api.GET("/history", app.historyHandler)
		api.GET("/prompts", app.getPromptsHandler)
		api.POST("/prompts", app.updatePromptsHandler)
	}
	return router
}

// startScan launches the scheduler loop. It reports false if it was already running.
func (app *App) startScan() bool {
	app.scanMu.Lock()
	defer app.scanMu.Unlock()
	if app.scanCancel != nil {
		return false
	}

	parent := app.baseCtx
	if parent == nil {
		parent = context.Background()
	}
	ctx, cancel := context.WithCancel(parent)
	done := make(chan struct{})
	app.scanCancel = cancel
	app.scanDone = done

	go func() {
		defer close(done)
		_ = app.Scheduler.Run(ctx)
	}()
	log.Info("Scanning started")
	return true
}

// stopScan halts the scheduler, cancels all analysis work, drops pending
// retries and removes every annotation. It reports false if scanning was
// not running.
func (app *App) stopScan() bool {
	if !app.stopScanLoop() {
		return false
	}
	app.Dispatcher.CancelAll()
	app.Transport.Clear()
	app.Tracker.ClearAll()
	app.Scheduler.Store().Clear()
	log.Info("Scanning stopped")
	return true
}

func (app *App) stopScanLoop() bool {
	app.scanMu.Lock()
	cancel, done := app.scanCancel, app.scanDone
	app.scanCancel, app.scanDone = nil, nil
	app.scanMu.Unlock()

	if cancel == nil {
		return false
	}
	cancel()
	<-done
	return true
}

func (app *App) isScanning() bool {
	app.scanMu.Lock()
	defer app.scanMu.Unlock()
	return app.scanCancel != nil
}

func (app *App) lastAPIError() *analysis.APIError {
	app.errMu.RLock()
	defer app.errMu.RUnlock()
	return app.lastError
}
