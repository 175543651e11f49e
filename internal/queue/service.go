// Package queue provides durable work distribution for scan and unsubscribe
// jobs: an explicit job-state table, bounded worker pools per queue, retry
// with exponential backoff, and in-flight deduplication per subscription.
package queue

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/tise-genene/Unmail/internal/model"
	"github.com/tise-genene/Unmail/internal/store"
)

// Options carries the queue tuning knobs. Zero values fall back to defaults.
type Options struct {
	ScanConcurrency        int           // concurrent scan jobs per process
	UnsubscribeConcurrency int           // concurrent unsubscribe jobs per process
	ScanTimeout            time.Duration // max duration of one scan attempt
	UnsubscribeTimeout     time.Duration // max duration of one unsubscribe attempt
	UnsubscribeMaxAttempts int           // total attempts incl. the first
	BackoffBase            time.Duration // first retry delay, doubled each retry
	PollInterval           time.Duration // idle worker poll interval
	PruneInterval          time.Duration
	CompletedRetention     time.Duration // completed job rows kept this long
	FailedRetention        time.Duration // failed job rows kept this long
}

func (o Options) withDefaults() Options {
	if o.ScanConcurrency <= 0 {
		o.ScanConcurrency = 2
	}
	if o.UnsubscribeConcurrency <= 0 {
		o.UnsubscribeConcurrency = 5
	}
	if o.ScanTimeout <= 0 {
		o.ScanTimeout = 5 * time.Minute
	}
	if o.UnsubscribeTimeout <= 0 {
		o.UnsubscribeTimeout = 60 * time.Second
	}
	if o.UnsubscribeMaxAttempts <= 0 {
		o.UnsubscribeMaxAttempts = 3
	}
	if o.BackoffBase <= 0 {
		o.BackoffBase = 2 * time.Second
	}
	if o.PollInterval <= 0 {
		o.PollInterval = 500 * time.Millisecond
	}
	if o.PruneInterval <= 0 {
		o.PruneInterval = 5 * time.Minute
	}
	if o.CompletedRetention <= 0 {
		o.CompletedRetention = time.Hour
	}
	if o.FailedRetention <= 0 {
		o.FailedRetention = 24 * time.Hour
	}
	return o
}

// UnsubscribeJobID is the deterministic identity that caps in-flight
// unsubscribe jobs to one per subscription.
func UnsubscribeJobID(userID, subscriptionID string) string {
	return fmt.Sprintf("unsub:%s:%s", userID, subscriptionID)
}

// Service is the enqueue surface consumed by the API layer. Job outcomes are
// observable only through the store's run/attempt/subscription rows.
type Service struct {
	jobs store.JobStore
	opts Options
	log  zerolog.Logger
}

func NewService(jobs store.JobStore, opts Options, log zerolog.Logger) *Service {
	return &Service{
		jobs: jobs,
		opts: opts.withDefaults(),
		log:  log.With().Str("component", "queue").Logger(),
	}
}

// EnqueueScan submits one scan job for the user and returns its job id. Scan
// jobs get a single attempt; retrying a failed scan is the caller's decision.
func (s *Service) EnqueueScan(ctx context.Context, userID string) (string, error) {
	job := model.Job{
		ID:          uuid.NewString(),
		Queue:       model.QueueScan,
		UserID:      userID,
		MaxAttempts: 1,
	}
	if _, err := s.jobs.EnqueueJob(ctx, job); err != nil {
		return "", fmt.Errorf("enqueue scan: %w", err)
	}
	s.log.Info().Str("user_id", userID).Str("job_id", job.ID).Msg("scan enqueued")
	return job.ID, nil
}

// EnqueueUnsubscribe submits one unsubscribe job per subscription id and
// returns how many were newly enqueued. Submissions whose identity is already
// queued or in flight collapse into the existing job and are not counted.
func (s *Service) EnqueueUnsubscribe(ctx context.Context, userID string, subscriptionIDs []string) (int, error) {
	enqueued := 0
	for _, sid := range subscriptionIDs {
		job := model.Job{
			ID:             UnsubscribeJobID(userID, sid),
			Queue:          model.QueueUnsubscribe,
			UserID:         userID,
			SubscriptionID: sid,
			MaxAttempts:    s.opts.UnsubscribeMaxAttempts,
		}
		inserted, err := s.jobs.EnqueueJob(ctx, job)
		if err != nil {
			return enqueued, fmt.Errorf("enqueue unsubscribe for %s: %w", sid, err)
		}
		if inserted {
			enqueued++
		} else {
			s.log.Debug().Str("job_id", job.ID).Msg("unsubscribe job already in flight")
		}
	}
	return enqueued, nil
}
