package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite"

	"github.com/tise-genene/Unmail/internal/model"
)

// SQLiteStore implements Store and JobStore backed by a local SQLite database.
type SQLiteStore struct {
	db *sqlx.DB
}

var _ Store = (*SQLiteStore)(nil)
var _ JobStore = (*SQLiteStore)(nil)

// NewSQLiteStore opens (or creates) the database at the given path and runs
// migrations. Use ":memory:" for tests.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	if dbPath != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
			return nil, fmt.Errorf("create db directory: %w", err)
		}
	}

	db, err := sqlx.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	// Workers claim jobs concurrently; WAL keeps readers unblocked and a
	// single writer connection avoids SQLITE_BUSY on claim contention.
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("set WAL mode: %w", err)
	}
	db.SetMaxOpenConns(1)

	if err := migrate(db); err != nil {
		db.Close()
		return nil, err
	}

	return &SQLiteStore{db: db}, nil
}

func migrate(db *sqlx.DB) error {
	const schema = `
CREATE TABLE IF NOT EXISTS subscriptions (
	id                          TEXT PRIMARY KEY,
	user_id                     TEXT NOT NULL,
	fingerprint                 TEXT NOT NULL,
	list_id                     TEXT NOT NULL DEFAULT '',
	from_address                TEXT NOT NULL DEFAULT '',
	from_domain                 TEXT NOT NULL DEFAULT '',
	display_name                TEXT NOT NULL DEFAULT '',
	unsubscribe_http_url        TEXT NOT NULL DEFAULT '',
	unsubscribe_mailto          TEXT NOT NULL DEFAULT '',
	one_click_supported         INTEGER NOT NULL DEFAULT 0,
	status                      TEXT NOT NULL DEFAULT 'ACTIVE',
	last_seen_at                TIMESTAMP NOT NULL,
	message_count               INTEGER NOT NULL DEFAULT 0,
	last_unsubscribe_attempt_at TIMESTAMP,
	created_at                  TIMESTAMP NOT NULL,
	UNIQUE (user_id, fingerprint)
);

CREATE TABLE IF NOT EXISTS email_messages (
	id                  TEXT PRIMARY KEY,
	user_id             TEXT NOT NULL,
	provider_message_id TEXT NOT NULL,
	subscription_id     TEXT,
	from_raw            TEXT NOT NULL DEFAULT '',
	subject             TEXT NOT NULL DEFAULT '',
	internal_date_ms    INTEGER NOT NULL DEFAULT 0,
	received_at         TIMESTAMP NOT NULL,
	created_at          TIMESTAMP NOT NULL,
	UNIQUE (user_id, provider_message_id)
);

CREATE TABLE IF NOT EXISTS scan_runs (
	id               TEXT PRIMARY KEY,
	user_id          TEXT NOT NULL,
	status           TEXT NOT NULL,
	messages_scanned INTEGER NOT NULL DEFAULT 0,
	error            TEXT NOT NULL DEFAULT '',
	created_at       TIMESTAMP NOT NULL,
	finished_at      TIMESTAMP
);

CREATE TABLE IF NOT EXISTS unsubscribe_attempts (
	id              TEXT PRIMARY KEY,
	user_id         TEXT NOT NULL,
	subscription_id TEXT NOT NULL,
	status          TEXT NOT NULL,
	method          TEXT NOT NULL DEFAULT '',
	error           TEXT NOT NULL DEFAULT '',
	created_at      TIMESTAMP NOT NULL,
	finished_at     TIMESTAMP
);

CREATE TABLE IF NOT EXISTS jobs (
	id               TEXT PRIMARY KEY,
	queue            TEXT NOT NULL,
	user_id          TEXT NOT NULL,
	subscription_id  TEXT NOT NULL DEFAULT '',
	state            TEXT NOT NULL,
	attempts         INTEGER NOT NULL DEFAULT 0,
	max_attempts     INTEGER NOT NULL DEFAULT 1,
	next_eligible_at TIMESTAMP NOT NULL,
	last_error       TEXT NOT NULL DEFAULT '',
	created_at       TIMESTAMP NOT NULL,
	updated_at       TIMESTAMP NOT NULL,
	finished_at      TIMESTAMP
);

CREATE INDEX IF NOT EXISTS idx_subscriptions_user ON subscriptions(user_id);
CREATE INDEX IF NOT EXISTS idx_email_messages_subscription ON email_messages(subscription_id);
CREATE INDEX IF NOT EXISTS idx_jobs_claim ON jobs(queue, state, next_eligible_at);
`
	if _, err := db.Exec(schema); err != nil {
		return fmt.Errorf("migrate schema: %w", err)
	}
	return nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) UpsertSubscription(ctx context.Context, up SubscriptionUpsert) (*model.Subscription, error) {
	now := time.Now().UTC()
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO subscriptions (
			id, user_id, fingerprint, list_id, from_address, from_domain,
			display_name, unsubscribe_http_url, unsubscribe_mailto,
			one_click_supported, status, last_seen_at, message_count, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, 'ACTIVE', ?, 1, ?)
		ON CONFLICT(user_id, fingerprint) DO UPDATE SET
			list_id              = excluded.list_id,
			from_address         = CASE WHEN excluded.from_address  != '' THEN excluded.from_address  ELSE subscriptions.from_address  END,
			from_domain          = CASE WHEN excluded.from_domain   != '' THEN excluded.from_domain   ELSE subscriptions.from_domain   END,
			display_name         = CASE WHEN excluded.display_name  != '' THEN excluded.display_name  ELSE subscriptions.display_name  END,
			unsubscribe_http_url = CASE WHEN excluded.unsubscribe_http_url != '' THEN excluded.unsubscribe_http_url ELSE subscriptions.unsubscribe_http_url END,
			unsubscribe_mailto   = CASE WHEN excluded.unsubscribe_mailto   != '' THEN excluded.unsubscribe_mailto   ELSE subscriptions.unsubscribe_mailto   END,
			one_click_supported  = excluded.one_click_supported,
			last_seen_at         = excluded.last_seen_at,
			message_count        = subscriptions.message_count + 1
	`,
		uuid.NewString(), up.UserID, up.Fingerprint, up.ListID, up.FromAddress, up.FromDomain,
		up.DisplayName, up.UnsubscribeHTTPURL, up.UnsubscribeMailto,
		up.OneClickSupported, up.LastSeenAt.UTC(), now,
	)
	if err != nil {
		return nil, fmt.Errorf("upsert subscription: %w", err)
	}

	var sub model.Subscription
	err = s.db.GetContext(ctx, &sub,
		"SELECT * FROM subscriptions WHERE user_id = ? AND fingerprint = ?",
		up.UserID, up.Fingerprint)
	if err != nil {
		return nil, fmt.Errorf("load upserted subscription: %w", err)
	}
	return &sub, nil
}

func (s *SQLiteStore) GetSubscription(ctx context.Context, userID, subscriptionID string) (*model.Subscription, error) {
	var sub model.Subscription
	err := s.db.GetContext(ctx, &sub,
		"SELECT * FROM subscriptions WHERE id = ? AND user_id = ?",
		subscriptionID, userID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get subscription: %w", err)
	}
	return &sub, nil
}

func (s *SQLiteStore) ListSubscriptions(ctx context.Context, userID string) ([]model.Subscription, error) {
	var subs []model.Subscription
	err := s.db.SelectContext(ctx, &subs,
		"SELECT * FROM subscriptions WHERE user_id = ? ORDER BY last_seen_at DESC",
		userID)
	if err != nil {
		return nil, fmt.Errorf("list subscriptions: %w", err)
	}
	return subs, nil
}

func (s *SQLiteStore) FinalizeSubscription(ctx context.Context, subscriptionID string, status model.SubscriptionStatus, at time.Time) (bool, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE subscriptions
		SET status = ?, last_unsubscribe_attempt_at = ?
		WHERE id = ? AND status = 'ACTIVE'
	`, status, at.UTC(), subscriptionID)
	if err != nil {
		return false, fmt.Errorf("finalize subscription: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func (s *SQLiteStore) UpsertEmailMessage(ctx context.Context, msg model.EmailMessage) error {
	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO email_messages (
			id, user_id, provider_message_id, subscription_id,
			from_raw, subject, internal_date_ms, received_at, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(user_id, provider_message_id) DO UPDATE SET
			subscription_id = excluded.subscription_id
	`,
		msg.ID, msg.UserID, msg.ProviderMessageID, msg.SubscriptionID,
		msg.FromRaw, msg.Subject, msg.InternalDateMs, msg.ReceivedAt.UTC(), time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("upsert email message: %w", err)
	}
	return nil
}

func (s *SQLiteStore) CreateScanRun(ctx context.Context, userID string) (*model.ScanRun, error) {
	run := model.ScanRun{
		ID:        uuid.NewString(),
		UserID:    userID,
		Status:    model.RunRunning,
		CreatedAt: time.Now().UTC(),
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO scan_runs (id, user_id, status, created_at) VALUES (?, ?, ?, ?)
	`, run.ID, run.UserID, run.Status, run.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("create scan run: %w", err)
	}
	return &run, nil
}

func (s *SQLiteStore) FinishScanRun(ctx context.Context, runID string, status model.RunStatus, messagesScanned int, errMsg string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE scan_runs
		SET status = ?, messages_scanned = ?, error = ?, finished_at = ?
		WHERE id = ?
	`, status, messagesScanned, errMsg, time.Now().UTC(), runID)
	if err != nil {
		return fmt.Errorf("finish scan run: %w", err)
	}
	return nil
}

func (s *SQLiteStore) ListScanRuns(ctx context.Context, userID string) ([]model.ScanRun, error) {
	var runs []model.ScanRun
	err := s.db.SelectContext(ctx, &runs,
		"SELECT * FROM scan_runs WHERE user_id = ? ORDER BY created_at DESC",
		userID)
	if err != nil {
		return nil, fmt.Errorf("list scan runs: %w", err)
	}
	return runs, nil
}

func (s *SQLiteStore) CreateUnsubscribeAttempt(ctx context.Context, userID, subscriptionID string) (*model.UnsubscribeAttempt, error) {
	att := model.UnsubscribeAttempt{
		ID:             uuid.NewString(),
		UserID:         userID,
		SubscriptionID: subscriptionID,
		Status:         model.RunRunning,
		CreatedAt:      time.Now().UTC(),
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO unsubscribe_attempts (id, user_id, subscription_id, status, created_at)
		VALUES (?, ?, ?, ?, ?)
	`, att.ID, att.UserID, att.SubscriptionID, att.Status, att.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("create unsubscribe attempt: %w", err)
	}
	return &att, nil
}

func (s *SQLiteStore) FinishUnsubscribeAttempt(ctx context.Context, attemptID string, status model.RunStatus, method model.UnsubscribeMethod, errMsg string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE unsubscribe_attempts
		SET status = ?, method = ?, error = ?, finished_at = ?
		WHERE id = ?
	`, status, method, errMsg, time.Now().UTC(), attemptID)
	if err != nil {
		return fmt.Errorf("finish unsubscribe attempt: %w", err)
	}
	return nil
}

func (s *SQLiteStore) ListUnsubscribeAttempts(ctx context.Context, subscriptionID string) ([]model.UnsubscribeAttempt, error) {
	var atts []model.UnsubscribeAttempt
	err := s.db.SelectContext(ctx, &atts,
		"SELECT * FROM unsubscribe_attempts WHERE subscription_id = ? ORDER BY created_at",
		subscriptionID)
	if err != nil {
		return nil, fmt.Errorf("list unsubscribe attempts: %w", err)
	}
	return atts, nil
}

// Job queue operations.

func (s *SQLiteStore) EnqueueJob(ctx context.Context, job model.Job) (bool, error) {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return false, err
	}
	defer tx.Rollback()

	var state model.JobState
	err = tx.GetContext(ctx, &state, "SELECT state FROM jobs WHERE id = ?", job.ID)
	switch {
	case err == nil:
		if state == model.JobQueued || state == model.JobInFlight {
			// A live job with this identity already exists; collapse.
			return false, nil
		}
		if _, err := tx.ExecContext(ctx, "DELETE FROM jobs WHERE id = ?", job.ID); err != nil {
			return false, fmt.Errorf("replace terminal job: %w", err)
		}
	case errors.Is(err, sql.ErrNoRows):
		// fresh job
	default:
		return false, fmt.Errorf("check existing job: %w", err)
	}

	now := time.Now().UTC()
	if job.NextEligibleAt.IsZero() {
		job.NextEligibleAt = now
	}
	_, err = tx.ExecContext(ctx, `
		INSERT INTO jobs (
			id, queue, user_id, subscription_id, state, attempts, max_attempts,
			next_eligible_at, last_error, created_at, updated_at
		) VALUES (?, ?, ?, ?, 'QUEUED', 0, ?, ?, '', ?, ?)
	`, job.ID, job.Queue, job.UserID, job.SubscriptionID, job.MaxAttempts,
		job.NextEligibleAt.UTC(), now, now)
	if err != nil {
		return false, fmt.Errorf("enqueue job: %w", err)
	}
	return true, tx.Commit()
}

func (s *SQLiteStore) ClaimJob(ctx context.Context, queue string, now time.Time) (*model.Job, error) {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	var job model.Job
	err = tx.GetContext(ctx, &job, `
		SELECT * FROM jobs
		WHERE queue = ? AND state = 'QUEUED' AND next_eligible_at <= ?
		ORDER BY next_eligible_at, created_at
		LIMIT 1
	`, queue, now.UTC())
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("select eligible job: %w", err)
	}

	res, err := tx.ExecContext(ctx, `
		UPDATE jobs SET state = 'IN_FLIGHT', attempts = attempts + 1, updated_at = ?
		WHERE id = ? AND state = 'QUEUED'
	`, now.UTC(), job.ID)
	if err != nil {
		return nil, fmt.Errorf("claim job: %w", err)
	}
	if n, err := res.RowsAffected(); err != nil || n == 0 {
		if err != nil {
			return nil, err
		}
		// Lost the claim race to another worker.
		return nil, ErrNotFound
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}

	job.State = model.JobInFlight
	job.Attempts++
	job.UpdatedAt = now.UTC()
	return &job, nil
}

func (s *SQLiteStore) CompleteJob(ctx context.Context, jobID string, now time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE jobs SET state = 'COMPLETED', updated_at = ?, finished_at = ?
		WHERE id = ?
	`, now.UTC(), now.UTC(), jobID)
	if err != nil {
		return fmt.Errorf("complete job: %w", err)
	}
	return nil
}

func (s *SQLiteStore) FailJob(ctx context.Context, jobID string, errMsg string, retryAt *time.Time, now time.Time) error {
	var err error
	if retryAt != nil {
		_, err = s.db.ExecContext(ctx, `
			UPDATE jobs SET state = 'QUEUED', last_error = ?, next_eligible_at = ?, updated_at = ?
			WHERE id = ?
		`, errMsg, retryAt.UTC(), now.UTC(), jobID)
	} else {
		_, err = s.db.ExecContext(ctx, `
			UPDATE jobs SET state = 'FAILED', last_error = ?, updated_at = ?, finished_at = ?
			WHERE id = ?
		`, errMsg, now.UTC(), now.UTC(), jobID)
	}
	if err != nil {
		return fmt.Errorf("fail job: %w", err)
	}
	return nil
}

func (s *SQLiteStore) GetJob(ctx context.Context, jobID string) (*model.Job, error) {
	var job model.Job
	err := s.db.GetContext(ctx, &job, "SELECT * FROM jobs WHERE id = ?", jobID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get job: %w", err)
	}
	return &job, nil
}

func (s *SQLiteStore) RequeueStuckJobs(ctx context.Context, queue string, stuckSince time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE jobs SET state = 'QUEUED', updated_at = ?
		WHERE queue = ? AND state = 'IN_FLIGHT' AND updated_at < ?
	`, time.Now().UTC(), queue, stuckSince.UTC())
	if err != nil {
		return 0, fmt.Errorf("requeue stuck jobs: %w", err)
	}
	return res.RowsAffected()
}

func (s *SQLiteStore) PruneJobs(ctx context.Context, completedBefore, failedBefore time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, `
		DELETE FROM jobs
		WHERE (state = 'COMPLETED' AND finished_at < ?)
		   OR (state = 'FAILED'    AND finished_at < ?)
	`, completedBefore.UTC(), failedBefore.UTC())
	if err != nil {
		return 0, fmt.Errorf("prune jobs: %w", err)
	}
	return res.RowsAffected()
}
