// Package app wires the pipeline together and runs the worker daemon with
// its ops HTTP server.
package app

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/tise-genene/Unmail/internal/config"
	"github.com/tise-genene/Unmail/internal/mailbox"
	"github.com/tise-genene/Unmail/internal/metrics"
	"github.com/tise-genene/Unmail/internal/model"
	"github.com/tise-genene/Unmail/internal/queue"
	"github.com/tise-genene/Unmail/internal/scan"
	"github.com/tise-genene/Unmail/internal/store"
	"github.com/tise-genene/Unmail/internal/unsub"
)

// App owns the process lifecycle: store, worker pools, and the ops server.
type App struct {
	// Queue is the enqueue surface for callers embedding the daemon.
	Queue *queue.Service

	cfg     *config.Config
	log     zerolog.Logger
	store   *store.SQLiteStore
	workers *queue.Workers
	server  *http.Server
}

// QueueOptions translates the config into queue tuning.
func QueueOptions(cfg *config.Config) queue.Options {
	return queue.Options{
		ScanConcurrency:        cfg.Queue.ScanConcurrency,
		UnsubscribeConcurrency: cfg.Queue.UnsubscribeConcurrency,
		UnsubscribeMaxAttempts: cfg.Queue.UnsubscribeMaxAttempts,
		BackoffBase:            cfg.Queue.BackoffBase,
		ScanTimeout:            cfg.Queue.ScanTimeout,
		UnsubscribeTimeout:     cfg.Queue.UnsubscribeTimeout,
	}
}

func New(cfg *config.Config, log zerolog.Logger) (*App, error) {
	st, err := store.NewSQLiteStore(cfg.Database.Path)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}

	auth := mailbox.NewAuthenticator(cfg.Credentials.Dir, nil, log)
	engine := scan.NewEngine(st, auth, log, cfg.Scan.MaxMessages)
	executor := unsub.NewExecutor(st, auth, log)

	registry := prometheus.NewRegistry()
	m := metrics.New(registry)

	opts := QueueOptions(cfg)
	svc := queue.NewService(st, opts, log)

	scanHandler := func(ctx context.Context, job model.Job) error {
		res, err := engine.Scan(ctx, job.UserID)
		m.MessagesScanned.Add(float64(res.MessagesScanned))
		return err
	}
	unsubHandler := func(ctx context.Context, job model.Job) error {
		return executor.Execute(ctx, job.UserID, job.SubscriptionID)
	}
	workers := queue.NewWorkers(st, scanHandler, unsubHandler, opts, m, log)

	mux := http.NewServeMux()
	mux.HandleFunc("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		fmt.Fprintln(w, "ok")
	})
	mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))

	return &App{
		Queue:   svc,
		cfg:     cfg,
		log:     log.With().Str("component", "app").Logger(),
		store:   st,
		workers: workers,
		server: &http.Server{
			Addr:         cfg.Server.Host + ":" + strconv.Itoa(cfg.Server.Port),
			Handler:      mux,
			ReadTimeout:  5 * time.Second,
			WriteTimeout: 10 * time.Second,
			IdleTimeout:  60 * time.Second,
		},
	}, nil
}

// Run starts the workers and the ops server and blocks until ctx is
// cancelled or the server fails, then shuts down gracefully.
func (a *App) Run(ctx context.Context) error {
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	a.workers.Start(runCtx)

	serverErr := make(chan error, 1)
	go func() {
		a.log.Info().Str("addr", a.server.Addr).Msg("ops server listening")
		if err := a.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			serverErr <- err
		}
	}()

	select {
	case <-ctx.Done():
	case err := <-serverErr:
		cancel()
		a.workers.Wait()
		a.store.Close()
		return fmt.Errorf("ops server: %w", err)
	}

	a.log.Info().Msg("shutting down")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := a.server.Shutdown(shutdownCtx); err != nil {
		a.log.Error().Err(err).Msg("ops server shutdown")
	}

	cancel()
	a.workers.Wait()
	if err := a.store.Close(); err != nil {
		return fmt.Errorf("close store: %w", err)
	}
	return nil
}
