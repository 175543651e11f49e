package model

import "time"

// JobState is the queue-side lifecycle of one durable job.
type JobState string

const (
	JobQueued   JobState = "QUEUED"
	JobInFlight JobState = "IN_FLIGHT"
	JobComplete JobState = "COMPLETED"
	JobFailed   JobState = "FAILED"
)

// Queue names. One scan job per scan request, one unsubscribe job per
// subscription per unsubscribe request.
const (
	QueueScan        = "scan"
	QueueUnsubscribe = "unsubscribe"
)

// Job is one row of the job-state table backing the queue. Unsubscribe jobs
// use the deterministic id "unsub:{userID}:{subscriptionID}" so resubmitting
// while a prior job is queued or in flight collapses into it.
type Job struct {
	ID             string     `db:"id"`
	Queue          string     `db:"queue"`
	UserID         string     `db:"user_id"`
	SubscriptionID string     `db:"subscription_id"`
	State          JobState   `db:"state"`
	Attempts       int        `db:"attempts"`
	MaxAttempts    int        `db:"max_attempts"`
	NextEligibleAt time.Time  `db:"next_eligible_at"`
	LastError      string     `db:"last_error"`
	CreatedAt      time.Time  `db:"created_at"`
	UpdatedAt      time.Time  `db:"updated_at"`
	FinishedAt     *time.Time `db:"finished_at"`
}
