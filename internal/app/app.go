package app

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/familyhub/famcal/internal/config"
	"github.com/familyhub/famcal/internal/database"
	"github.com/familyhub/famcal/internal/utils"
	"github.com/familyhub/famcal/pkg/calendar"
	"github.com/familyhub/famcal/pkg/docstore"
	"github.com/familyhub/famcal/pkg/recovery"
	"github.com/gorilla/mux"
	"github.com/jackc/pgx/v5/pgxpool"
	log "github.com/sirupsen/logrus"
)

// Application wires configuration, storage, router, scheduler, and server lifecycle.
type Application struct {
	cfg       config.Application
	router    *mux.Router
	srv       *http.Server
	deps      *Dependencies
	scheduler *Scheduler
	pool      *pgxpool.Pool

	// background tracks work started by Run outside the scheduler; close
	// waits for it before releasing the queue and the pool.
	background sync.WaitGroup
}

// NewApplication constructs the full HTTP application, ready to Run().
func NewApplication(ctx context.Context) (*Application, error) {
	cfg, err := config.Load("./config/application.yaml")
	if err != nil {
		return nil, err
	}

	// DB + migrations
	if err := database.Migrate(cfg.Database); err != nil {
		return nil, err
	}
	pool, err := database.Open(ctx, cfg.Database)
	if err != nil {
		return nil, err
	}

	clock := &utils.SystemClock{}
	queue, err := recovery.Open(cfg.Recovery.Path, clock, recovery.Options{
		MaxEntries:  cfg.Recovery.MaxEntries,
		MaxAttempts: cfg.Recovery.MaxAttempts,
	})
	if err != nil {
		pool.Close()
		return nil, err
	}

	r := mux.NewRouter()

	// Build dependencies (services, handlers...)
	deps := BuildDependencies(docstore.NewPostgresStore(pool), queue, clock, cfg)
	deps.CalendarNotifier.Subscribe(func(change calendar.Change) {
		log.Debugf("calendar %s: %s (%s)", change.Action, change.Event.UniversalId, change.Event.OwnerId)
	})

	// Middleware chain
	SetupMiddleware(r)

	// Routes
	RegisterRoutes(r, deps)

	scheduler, err := NewScheduler(deps, cfg)
	if err != nil {
		_ = queue.Close()
		pool.Close()
		return nil, err
	}

	srv := &http.Server{
		Handler:      r,
		Addr:         cfg.Listen,
		WriteTimeout: 15 * time.Second,
		ReadTimeout:  15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return &Application{cfg: cfg, router: r, srv: srv, deps: deps, scheduler: scheduler, pool: pool}, nil
}

// Run starts the scheduler and the HTTP server and blocks until ctx is done.
func (a *Application) Run(ctx context.Context) error {
	if a.cfg.Recovery.DrainOnStart {
		a.goBackground(func() { a.deps.DrainRecovery(ctx) })
	}
	a.scheduler.Start()
	defer a.close()

	serveErr := make(chan error, 1)
	go func() {
		log.Infof("Starting server on %s", a.srv.Addr)
		serveErr <- a.srv.ListenAndServe()
	}()

	select {
	case err := <-serveErr:
		return err
	case <-ctx.Done():
	}

	log.Info("Shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := a.srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-serveErr; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (a *Application) goBackground(f func()) {
	a.background.Add(1)
	go func() {
		defer a.background.Done()
		f()
	}()
}

func (a *Application) close() {
	a.scheduler.Stop()
	a.background.Wait()
	if err := a.deps.RecoveryQueue.Close(); err != nil {
		log.WithError(err).Warn("Failed to close recovery queue")
	}
	if a.pool != nil {
		a.pool.Close()
	}
}
