package model

import "time"

// SubscriptionStatus tracks where a subscription sits in its lifecycle.
// ACTIVE rows are eligible for unsubscribe; the two terminal states are only
// ever set by a completed unsubscribe attempt.
type SubscriptionStatus string

const (
	SubscriptionActive       SubscriptionStatus = "ACTIVE"
	SubscriptionUnsubscribed SubscriptionStatus = "UNSUBSCRIBED"
	SubscriptionFailed       SubscriptionStatus = "FAILED"
)

// RunStatus is shared by scan runs and unsubscribe attempts.
type RunStatus string

const (
	RunRunning   RunStatus = "RUNNING"
	RunSucceeded RunStatus = "SUCCEEDED"
	RunFailed    RunStatus = "FAILED"
)

// UnsubscribeMethod records which mechanism an attempt used.
type UnsubscribeMethod string

const (
	MethodHTTPOneClick UnsubscribeMethod = "HTTP_ONECLICK"
	MethodHTTP         UnsubscribeMethod = "HTTP"
	MethodMailto       UnsubscribeMethod = "MAILTO"
)

// Subscription is one logical mailing-list membership, deduplicated across
// message sightings by (UserID, Fingerprint).
type Subscription struct {
	ID                       string             `db:"id"`
	UserID                   string             `db:"user_id"`
	Fingerprint              string             `db:"fingerprint"`
	ListID                   string             `db:"list_id"`
	FromAddress              string             `db:"from_address"`
	FromDomain               string             `db:"from_domain"`
	DisplayName              string             `db:"display_name"`
	UnsubscribeHTTPURL       string             `db:"unsubscribe_http_url"`
	UnsubscribeMailto        string             `db:"unsubscribe_mailto"`
	OneClickSupported        bool               `db:"one_click_supported"`
	Status                   SubscriptionStatus `db:"status"`
	LastSeenAt               time.Time          `db:"last_seen_at"`
	MessageCount             int64              `db:"message_count"`
	LastUnsubscribeAttemptAt *time.Time         `db:"last_unsubscribe_attempt_at"`
	CreatedAt                time.Time          `db:"created_at"`
}

// EmailMessage is one provider message sighting, keyed by
// (UserID, ProviderMessageID). Re-sighting a message only rebinds the
// subscription link.
type EmailMessage struct {
	ID                string     `db:"id"`
	UserID            string     `db:"user_id"`
	ProviderMessageID string     `db:"provider_message_id"`
	SubscriptionID    *string    `db:"subscription_id"`
	FromRaw           string     `db:"from_raw"`
	Subject           string     `db:"subject"`
	InternalDateMs    int64      `db:"internal_date_ms"`
	ReceivedAt        time.Time  `db:"received_at"`
	CreatedAt         time.Time  `db:"created_at"`
}

// ScanRun is one bounded mailbox scan for one user. Finalized exactly once.
type ScanRun struct {
	ID              string     `db:"id"`
	UserID          string     `db:"user_id"`
	Status          RunStatus  `db:"status"`
	MessagesScanned int        `db:"messages_scanned"`
	Error           string     `db:"error"`
	CreatedAt       time.Time  `db:"created_at"`
	FinishedAt      *time.Time `db:"finished_at"`
}

// UnsubscribeAttempt is one execution of the unsubscribe action against one
// subscription. Finalized exactly once.
type UnsubscribeAttempt struct {
	ID             string            `db:"id"`
	UserID         string            `db:"user_id"`
	SubscriptionID string            `db:"subscription_id"`
	Status         RunStatus         `db:"status"`
	Method         UnsubscribeMethod `db:"method"`
	Error          string            `db:"error"`
	CreatedAt      time.Time         `db:"created_at"`
	FinishedAt     *time.Time        `db:"finished_at"`
}
