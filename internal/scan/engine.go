// Package scan implements the mailbox-scanning routine: it pages through
// recent messages, extracts subscription signals from headers, and upserts
// subscription and message rows.
package scan

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/tise-genene/Unmail/internal/fingerprint"
	"github.com/tise-genene/Unmail/internal/header"
	"github.com/tise-genene/Unmail/internal/mailbox"
	"github.com/tise-genene/Unmail/internal/model"
	"github.com/tise-genene/Unmail/internal/store"
)

const (
	// DefaultMaxMessages bounds one scan run.
	DefaultMaxMessages = 300

	pageSize = 100

	// Gmail search defaults exclude spam and trash; in:anywhere includes
	// them so subscriptions hiding there still surface.
	scanQuery = "in:anywhere newer_than:30d"
)

var scanHeaders = []string{
	"From",
	"Subject",
	"Date",
	"List-ID",
	"List-Unsubscribe",
	"List-Unsubscribe-Post",
}

// Failure wraps the error that aborted a scan run. The run record has
// already been finalized as FAILED with the partial count by the time a
// Failure propagates.
type Failure struct {
	MessagesScanned int
	Err             error
}

func (f *Failure) Error() string {
	return fmt.Sprintf("scan failed after %d messages: %v", f.MessagesScanned, f.Err)
}

func (f *Failure) Unwrap() error { return f.Err }

// Result is the outcome of a completed scan.
type Result struct {
	MessagesScanned int
}

// Engine runs scans against a user's mailbox.
type Engine struct {
	store       store.Store
	mail        mailbox.Provider
	log         zerolog.Logger
	maxMessages int
}

func NewEngine(st store.Store, mail mailbox.Provider, log zerolog.Logger, maxMessages int) *Engine {
	if maxMessages <= 0 {
		maxMessages = DefaultMaxMessages
	}
	return &Engine{
		store:       st,
		mail:        mail,
		log:         log.With().Str("component", "scan").Logger(),
		maxMessages: maxMessages,
	}
}

// Scan processes up to the engine's message budget of recent messages for the
// user. A ScanRun row is created RUNNING and finalized exactly once; any
// unrecoverable error aborts the run, finalizes it FAILED with the partial
// count, and propagates as a *Failure. Per-message failures are deliberately
// not isolated: the next scan simply retries from scratch.
func (e *Engine) Scan(ctx context.Context, userID string) (Result, error) {
	client, err := e.mail.ClientFor(ctx, userID)
	if err != nil {
		return Result{}, fmt.Errorf("resolve mailbox client: %w", err)
	}

	run, err := e.store.CreateScanRun(ctx, userID)
	if err != nil {
		return Result{}, fmt.Errorf("create scan run: %w", err)
	}
	e.log.Info().Str("user_id", userID).Str("run_id", run.ID).Msg("scan started")

	processed, err := e.scanPages(ctx, client, userID)
	if err != nil {
		if ferr := e.store.FinishScanRun(ctx, run.ID, model.RunFailed, processed, err.Error()); ferr != nil {
			e.log.Error().Err(ferr).Str("run_id", run.ID).Msg("finalize failed scan run")
		}
		return Result{MessagesScanned: processed}, &Failure{MessagesScanned: processed, Err: err}
	}

	if err := e.store.FinishScanRun(ctx, run.ID, model.RunSucceeded, processed, ""); err != nil {
		return Result{MessagesScanned: processed}, fmt.Errorf("finalize scan run: %w", err)
	}
	e.log.Info().Str("run_id", run.ID).Int("messages_scanned", processed).Msg("scan finished")
	return Result{MessagesScanned: processed}, nil
}

func (e *Engine) scanPages(ctx context.Context, client mailbox.Client, userID string) (int, error) {
	processed := 0
	pageToken := ""

	for processed < e.maxMessages {
		remaining := int64(e.maxMessages - processed)
		limit := int64(pageSize)
		if remaining < limit {
			limit = remaining
		}

		page, err := client.ListMessageIDs(ctx, scanQuery, pageToken, limit)
		if err != nil {
			return processed, err
		}
		if len(page.IDs) == 0 {
			break
		}

		for _, id := range page.IDs {
			if err := e.processMessage(ctx, client, userID, id); err != nil {
				return processed, err
			}
			processed++
		}

		pageToken = page.NextPageToken
		if pageToken == "" {
			break
		}
	}
	return processed, nil
}

func (e *Engine) processMessage(ctx context.Context, client mailbox.Client, userID, messageID string) error {
	hdrs, err := client.GetMessageHeaders(ctx, messageID, scanHeaders)
	if err != nil {
		return err
	}

	fromRaw := hdrs.Get("From")
	subject := hdrs.Get("Subject")
	listID := header.NormalizeListID(hdrs.Get("List-ID"))
	targets := header.ParseListUnsubscribe(hdrs.Get("List-Unsubscribe"))
	oneClick := header.ParseOneClick(hdrs.Get("List-Unsubscribe-Post"))
	from := header.ParseFrom(fromRaw)

	seenAt, ok := parseDate(hdrs.Get("Date"))
	if !ok {
		seenAt = time.Now().UTC()
	}

	msg := model.EmailMessage{
		UserID:            userID,
		ProviderMessageID: messageID,
		FromRaw:           fromRaw,
		Subject:           subject,
		ReceivedAt:        seenAt,
	}
	if !hdrs.InternalTime.IsZero() {
		msg.InternalDateMs = hdrs.InternalTime.UnixMilli()
	}

	// Only messages declaring a list id or an unsubscribe target count as
	// subscriptions; everything else is recorded unlinked.
	if targets.HTTPURL == "" && targets.Mailto == "" && listID == "" {
		return e.store.UpsertEmailMessage(ctx, msg)
	}

	fp := fingerprint.Compute(listID, from.Email, from.Domain)
	if !fingerprint.Stable(fp) {
		// Random fallback identity: this sender will reappear as a new
		// subscription on every scan. Kept as-is pending a product call.
		e.log.Warn().Str("message_id", messageID).Msg("subscription signal with no stable identity")
	}

	displayName := from.Name
	if displayName == "" {
		displayName = from.Domain
	}
	if displayName == "" {
		displayName = from.Email
	}

	sub, err := e.store.UpsertSubscription(ctx, store.SubscriptionUpsert{
		UserID:             userID,
		Fingerprint:        fp,
		ListID:             listID,
		FromAddress:        from.Email,
		FromDomain:         from.Domain,
		DisplayName:        displayName,
		UnsubscribeHTTPURL: targets.HTTPURL,
		UnsubscribeMailto:  targets.Mailto,
		OneClickSupported:  oneClick,
		LastSeenAt:         seenAt,
	})
	if err != nil {
		return err
	}

	msg.SubscriptionID = &sub.ID
	return e.store.UpsertEmailMessage(ctx, msg)
}

// parseDate tries the Date header layouts seen in the wild.
func parseDate(h string) (time.Time, bool) {
	if h == "" {
		return time.Time{}, false
	}
	layouts := []string{
		time.RFC1123Z,
		time.RFC1123,
		time.RFC822Z,
		time.RFC822,
		time.RFC850,
		time.RFC3339,
		"Mon, 2 Jan 2006 15:04:05 -0700",
	}
	for _, l := range layouts {
		if t, err := time.Parse(l, h); err == nil {
			return t.UTC(), true
		}
	}
	return time.Time{}, false
}
