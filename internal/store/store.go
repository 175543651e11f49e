// Package store is the single source of truth for subscriptions, message
// sightings, run records, and the durable job table.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/tise-genene/Unmail/internal/model"
)

// ErrNotFound is returned when a lookup matches no row.
var ErrNotFound = errors.New("store: not found")

// SubscriptionUpsert carries one observation of a subscription signal into
// the store. Empty optional fields leave the stored value untouched on
// update; ListID and OneClickSupported always reflect the latest observation.
type SubscriptionUpsert struct {
	UserID             string
	Fingerprint        string
	ListID             string
	FromAddress        string
	FromDomain         string
	DisplayName        string
	UnsubscribeHTTPURL string
	UnsubscribeMailto  string
	OneClickSupported  bool
	LastSeenAt         time.Time
}

// Store declares the persistence operations the scan engine, unsubscribe
// executor, and job queue require. Implementations must provide atomic
// upsert-by-unique-key for subscriptions and messages and a conditional
// status transition for subscriptions.
type Store interface {
	// UpsertSubscription creates the subscription on first sighting
	// (messageCount=1, status ACTIVE) or refreshes it on re-sighting
	// (metadata overwritten by the latest observation, messageCount
	// incremented). It returns the stored row either way.
	UpsertSubscription(ctx context.Context, up SubscriptionUpsert) (*model.Subscription, error)
	GetSubscription(ctx context.Context, userID, subscriptionID string) (*model.Subscription, error)

	// FinalizeSubscription moves an ACTIVE subscription to the given
	// terminal status and stamps lastUnsubscribeAttemptAt. It reports
	// whether the transition happened; false means a concurrent attempt
	// already finalized the row.
	FinalizeSubscription(ctx context.Context, subscriptionID string, status model.SubscriptionStatus, at time.Time) (bool, error)

	// UpsertEmailMessage creates the sighting once per provider message id;
	// re-sighting only rebinds the subscription link.
	UpsertEmailMessage(ctx context.Context, msg model.EmailMessage) error

	// ListSubscriptions returns the user's subscriptions, newest sighting
	// first. This is the read path the UI layer polls.
	ListSubscriptions(ctx context.Context, userID string) ([]model.Subscription, error)

	CreateScanRun(ctx context.Context, userID string) (*model.ScanRun, error)
	FinishScanRun(ctx context.Context, runID string, status model.RunStatus, messagesScanned int, errMsg string) error
	ListScanRuns(ctx context.Context, userID string) ([]model.ScanRun, error)

	CreateUnsubscribeAttempt(ctx context.Context, userID, subscriptionID string) (*model.UnsubscribeAttempt, error)
	FinishUnsubscribeAttempt(ctx context.Context, attemptID string, status model.RunStatus, method model.UnsubscribeMethod, errMsg string) error
	ListUnsubscribeAttempts(ctx context.Context, subscriptionID string) ([]model.UnsubscribeAttempt, error)
}

// JobStore declares the job-state-table operations the queue layer requires.
type JobStore interface {
	// EnqueueJob inserts the job as QUEUED. When a job with the same id is
	// already queued or in flight the submission collapses into it and
	// EnqueueJob reports false; a terminal row with the same id is replaced.
	EnqueueJob(ctx context.Context, job model.Job) (bool, error)

	// ClaimJob atomically moves the oldest eligible QUEUED job on the given
	// queue to IN_FLIGHT and returns it, or returns ErrNotFound when no job
	// is eligible at now.
	ClaimJob(ctx context.Context, queue string, now time.Time) (*model.Job, error)

	CompleteJob(ctx context.Context, jobID string, now time.Time) error

	// FailJob records the attempt's error. With retryAt set the job goes
	// back to QUEUED, eligible at that time; otherwise it is terminal.
	FailJob(ctx context.Context, jobID string, errMsg string, retryAt *time.Time, now time.Time) error

	GetJob(ctx context.Context, jobID string) (*model.Job, error)

	// RequeueStuckJobs moves IN_FLIGHT jobs on the queue not touched since
	// stuckSince back to QUEUED. This is the crash backstop: a worker that
	// died mid-job must not leave its job in flight forever.
	RequeueStuckJobs(ctx context.Context, queue string, stuckSince time.Time) (int64, error)

	// PruneJobs deletes completed jobs finished before completedBefore and
	// failed jobs finished before failedBefore.
	PruneJobs(ctx context.Context, completedBefore, failedBefore time.Time) (int64, error)
}
