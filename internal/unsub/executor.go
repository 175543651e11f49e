// Package unsub executes unsubscribe actions against a subscription's stored
// capability: RFC 8058 one-click POST, mailto via the user's mailbox, or a
// plain HTTP GET.
package unsub

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/tise-genene/Unmail/internal/mailbox"
	"github.com/tise-genene/Unmail/internal/model"
	"github.com/tise-genene/Unmail/internal/store"
)

// ErrUnsupported means the subscription carries no usable unsubscribe method.
// It is terminal; retrying cannot help.
var ErrUnsupported = errors.New("no supported unsubscribe method")

const oneClickBody = "List-Unsubscribe=One-Click"

// Executor performs unsubscribe attempts and records their outcome.
type Executor struct {
	store store.Store
	mail  mailbox.Provider
	http  *http.Client
	log   zerolog.Logger
}

func NewExecutor(st store.Store, mail mailbox.Provider, log zerolog.Logger) *Executor {
	return &Executor{
		store: st,
		mail:  mail,
		http:  &http.Client{Timeout: 30 * time.Second},
		log:   log.With().Str("component", "unsub").Logger(),
	}
}

// Execute runs one unsubscribe attempt for the subscription. It returns
// store.ErrNotFound when (userID, subscriptionID) matches nothing and no-ops
// silently when the subscription is not ACTIVE — already-terminal rows must
// not collect duplicate attempts.
//
// Every real attempt creates an UnsubscribeAttempt RUNNING before dispatch,
// finalizes it exactly once, and moves the subscription to UNSUBSCRIBED or
// FAILED with lastUnsubscribeAttemptAt stamped.
func (x *Executor) Execute(ctx context.Context, userID, subscriptionID string) error {
	sub, err := x.store.GetSubscription(ctx, userID, subscriptionID)
	if err != nil {
		return err
	}
	if sub.Status != model.SubscriptionActive {
		x.log.Debug().Str("subscription_id", subscriptionID).Str("status", string(sub.Status)).
			Msg("subscription not active, skipping")
		return nil
	}

	attempt, err := x.store.CreateUnsubscribeAttempt(ctx, userID, subscriptionID)
	if err != nil {
		return fmt.Errorf("create unsubscribe attempt: %w", err)
	}

	method, dispatchErr := x.dispatch(ctx, userID, sub)
	now := time.Now().UTC()

	if dispatchErr != nil {
		if ferr := x.store.FinishUnsubscribeAttempt(ctx, attempt.ID, model.RunFailed, "", dispatchErr.Error()); ferr != nil {
			x.log.Error().Err(ferr).Str("attempt_id", attempt.ID).Msg("finalize failed attempt")
		}
		if _, ferr := x.store.FinalizeSubscription(ctx, subscriptionID, model.SubscriptionFailed, now); ferr != nil {
			x.log.Error().Err(ferr).Str("subscription_id", subscriptionID).Msg("mark subscription failed")
		}
		return dispatchErr
	}

	if err := x.store.FinishUnsubscribeAttempt(ctx, attempt.ID, model.RunSucceeded, method, ""); err != nil {
		return fmt.Errorf("finalize attempt: %w", err)
	}
	moved, err := x.store.FinalizeSubscription(ctx, subscriptionID, model.SubscriptionUnsubscribed, now)
	if err != nil {
		return fmt.Errorf("mark subscription unsubscribed: %w", err)
	}
	if !moved {
		// A concurrent attempt won the status transition; ours still
		// succeeded against the remote target.
		x.log.Warn().Str("subscription_id", subscriptionID).Msg("subscription already finalized")
	}
	x.log.Info().Str("subscription_id", subscriptionID).Str("method", string(method)).Msg("unsubscribed")
	return nil
}

// dispatch selects the method in strict priority order: one-click POST,
// mailto, plain GET.
func (x *Executor) dispatch(ctx context.Context, userID string, sub *model.Subscription) (model.UnsubscribeMethod, error) {
	switch {
	case sub.OneClickSupported && sub.UnsubscribeHTTPURL != "":
		return model.MethodHTTPOneClick, x.oneClick(ctx, sub.UnsubscribeHTTPURL)
	case sub.UnsubscribeMailto != "":
		return model.MethodMailto, x.sendMailto(ctx, userID, sub.UnsubscribeMailto)
	case sub.UnsubscribeHTTPURL != "":
		return model.MethodHTTP, x.plainGet(ctx, sub.UnsubscribeHTTPURL)
	}
	return "", ErrUnsupported
}

func (x *Executor) oneClick(ctx context.Context, target string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, target, strings.NewReader(oneClickBody))
	if err != nil {
		return fmt.Errorf("build one-click request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := x.http.Do(req)
	if err != nil {
		return fmt.Errorf("one-click POST: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("HTTP unsubscribe failed (%d)", resp.StatusCode)
	}
	return nil
}

func (x *Executor) plainGet(ctx context.Context, target string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return fmt.Errorf("build unsubscribe request: %w", err)
	}
	resp, err := x.http.Do(req)
	if err != nil {
		return fmt.Errorf("unsubscribe GET: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("HTTP unsubscribe link returned (%d)", resp.StatusCode)
	}
	return nil
}

func (x *Executor) sendMailto(ctx context.Context, userID, target string) error {
	to, subject, body, err := parseMailto(target)
	if err != nil {
		return err
	}
	client, err := x.mail.ClientFor(ctx, userID)
	if err != nil {
		return fmt.Errorf("resolve mailbox client: %w", err)
	}

	raw := strings.Join([]string{
		"To: " + to,
		"Subject: " + subject,
		"Content-Type: text/plain; charset=utf-8",
		"",
		body,
	}, "\r\n")
	return client.SendRawMessage(ctx, []byte(raw))
}

// parseMailto splits mailto:addr?subject=...&body=... into its parts, with
// both subject and body defaulting to "unsubscribe".
func parseMailto(raw string) (to, subject, body string, err error) {
	trimmed := raw
	if len(trimmed) >= len("mailto:") && strings.EqualFold(trimmed[:len("mailto:")], "mailto:") {
		trimmed = trimmed[len("mailto:"):]
	}
	addr, query, _ := strings.Cut(trimmed, "?")
	to, err = url.QueryUnescape(strings.TrimSpace(addr))
	if err != nil {
		to = strings.TrimSpace(addr)
	}
	if to == "" {
		return "", "", "", fmt.Errorf("mailto target has no address: %q", raw)
	}

	subject, body = "unsubscribe", "unsubscribe"
	params, perr := url.ParseQuery(query)
	if perr == nil {
		if v := params.Get("subject"); v != "" {
			subject = v
		}
		if v := params.Get("body"); v != "" {
			body = v
		}
	}
	return to, subject, body, nil
}
