package queue

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/tise-genene/Unmail/internal/metrics"
	"github.com/tise-genene/Unmail/internal/model"
	"github.com/tise-genene/Unmail/internal/store"
	"github.com/tise-genene/Unmail/internal/unsub"
)

// Handler executes one job attempt. A returned error fails the attempt; the
// workers decide whether it is retried.
type Handler func(ctx context.Context, job model.Job) error

// Workers pulls jobs from the job-state table and dispatches them to bounded
// per-queue pools. Scan and unsubscribe run on separate pools so a slow scan
// cannot starve unsubscribe throughput.
type Workers struct {
	jobs    store.JobStore
	scan    Handler
	unsub   Handler
	opts    Options
	metrics *metrics.Metrics
	log     zerolog.Logger
	wg      sync.WaitGroup
}

func NewWorkers(jobs store.JobStore, scanHandler, unsubHandler Handler, opts Options, m *metrics.Metrics, log zerolog.Logger) *Workers {
	return &Workers{
		jobs:    jobs,
		scan:    scanHandler,
		unsub:   unsubHandler,
		opts:    opts.withDefaults(),
		metrics: m,
		log:     log.With().Str("component", "workers").Logger(),
	}
}

// Start launches the worker pools and the retention pruner. Workers run until
// ctx is cancelled; in-flight jobs run to completion (no mid-flight
// cancellation beyond the per-attempt timeout).
func (w *Workers) Start(ctx context.Context) {
	for i := 0; i < w.opts.ScanConcurrency; i++ {
		w.wg.Add(1)
		go w.runWorker(ctx, model.QueueScan, w.opts.ScanTimeout, w.scan)
	}
	for i := 0; i < w.opts.UnsubscribeConcurrency; i++ {
		w.wg.Add(1)
		go w.runWorker(ctx, model.QueueUnsubscribe, w.opts.UnsubscribeTimeout, w.unsub)
	}
	w.wg.Add(1)
	go w.runPruner(ctx)
	w.log.Info().
		Int("scan_workers", w.opts.ScanConcurrency).
		Int("unsubscribe_workers", w.opts.UnsubscribeConcurrency).
		Msg("workers started")
}

// Wait blocks until all workers have drained after ctx cancellation.
func (w *Workers) Wait() {
	w.wg.Wait()
}

func (w *Workers) runWorker(ctx context.Context, queue string, timeout time.Duration, handler Handler) {
	defer w.wg.Done()
	for {
		job, err := w.jobs.ClaimJob(ctx, queue, time.Now())
		if err != nil {
			if !errors.Is(err, store.ErrNotFound) && ctx.Err() == nil {
				w.log.Error().Err(err).Str("queue", queue).Msg("claim job")
			}
			select {
			case <-ctx.Done():
				return
			case <-time.After(w.opts.PollInterval):
			}
			continue
		}
		w.runJob(*job, timeout, handler)
		if ctx.Err() != nil {
			return
		}
	}
}

func (w *Workers) runJob(job model.Job, timeout time.Duration, handler Handler) {
	w.metrics.JobsInFlight.WithLabelValues(job.Queue).Inc()
	defer w.metrics.JobsInFlight.WithLabelValues(job.Queue).Dec()

	// The attempt must finish even when the process is shutting down, so the
	// timeout hangs off the background context, not the worker's.
	attemptCtx, cancel := context.WithTimeout(context.Background(), timeout)
	err := handler(attemptCtx, job)
	cancel()

	// Status writes use a fresh context so a shutdown mid-attempt cannot
	// strand the job IN_FLIGHT.
	ctx, done := context.WithTimeout(context.Background(), 10*time.Second)
	defer done()

	now := time.Now()
	if err == nil {
		if cerr := w.jobs.CompleteJob(ctx, job.ID, now); cerr != nil {
			w.log.Error().Err(cerr).Str("job_id", job.ID).Msg("complete job")
		}
		w.metrics.JobsProcessed.WithLabelValues(job.Queue, metrics.OutcomeCompleted).Inc()
		return
	}

	if job.Attempts < job.MaxAttempts && retryable(err) {
		// Exponential backoff: base delay doubled for each prior attempt.
		delay := w.opts.BackoffBase << (job.Attempts - 1)
		retryAt := now.Add(delay)
		if ferr := w.jobs.FailJob(ctx, job.ID, err.Error(), &retryAt, now); ferr != nil {
			w.log.Error().Err(ferr).Str("job_id", job.ID).Msg("requeue job")
		}
		w.metrics.JobsProcessed.WithLabelValues(job.Queue, metrics.OutcomeRetried).Inc()
		w.log.Warn().Err(err).Str("job_id", job.ID).
			Int("attempt", job.Attempts).Dur("retry_in", delay).
			Msg("job attempt failed, will retry")
		return
	}

	if ferr := w.jobs.FailJob(ctx, job.ID, err.Error(), nil, now); ferr != nil {
		w.log.Error().Err(ferr).Str("job_id", job.ID).Msg("fail job")
	}
	w.metrics.JobsProcessed.WithLabelValues(job.Queue, metrics.OutcomeFailed).Inc()
	w.log.Error().Err(err).Str("job_id", job.ID).Int("attempt", job.Attempts).Msg("job failed terminally")
}

// retryable classifies attempt errors: missing subscriptions and unsupported
// capabilities cannot be fixed by retrying; everything else is assumed to be
// transient I/O.
func retryable(err error) bool {
	return !errors.Is(err, store.ErrNotFound) && !errors.Is(err, unsub.ErrUnsupported)
}

func (w *Workers) runPruner(ctx context.Context) {
	defer w.wg.Done()
	ticker := time.NewTicker(w.opts.PruneInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			now := time.Now()
			n, err := w.jobs.PruneJobs(ctx, now.Add(-w.opts.CompletedRetention), now.Add(-w.opts.FailedRetention))
			if err != nil {
				if ctx.Err() == nil {
					w.log.Error().Err(err).Msg("prune jobs")
				}
				continue
			}
			if n > 0 {
				w.metrics.JobsPruned.Add(float64(n))
				w.log.Debug().Int64("pruned", n).Msg("pruned terminal jobs")
			}

			// Crash backstop: jobs claimed by a worker that died get a
			// generous grace period past their attempt timeout, then go
			// back to the queue.
			for queue, timeout := range map[string]time.Duration{
				model.QueueScan:        w.opts.ScanTimeout,
				model.QueueUnsubscribe: w.opts.UnsubscribeTimeout,
			} {
				stuck, err := w.jobs.RequeueStuckJobs(ctx, queue, now.Add(-(timeout + time.Minute)))
				if err != nil {
					if ctx.Err() == nil {
						w.log.Error().Err(err).Str("queue", queue).Msg("requeue stuck jobs")
					}
					continue
				}
				if stuck > 0 {
					w.log.Warn().Int64("requeued", stuck).Str("queue", queue).Msg("requeued stuck jobs")
				}
			}
		}
	}
}
