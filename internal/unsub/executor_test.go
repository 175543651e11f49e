package unsub

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tise-genene/Unmail/internal/mailbox"
	"github.com/tise-genene/Unmail/internal/model"
	"github.com/tise-genene/Unmail/internal/store"
)

type fakeMailClient struct {
	sent [][]byte
}

func (c *fakeMailClient) ListMessageIDs(context.Context, string, string, int64) (mailbox.Page, error) {
	return mailbox.Page{}, nil
}

func (c *fakeMailClient) GetMessageHeaders(context.Context, string, []string) (mailbox.Headers, error) {
	return mailbox.Headers{}, nil
}

func (c *fakeMailClient) SendRawMessage(_ context.Context, raw []byte) error {
	c.sent = append(c.sent, raw)
	return nil
}

type fakeProvider struct{ client *fakeMailClient }

func (p fakeProvider) ClientFor(context.Context, string) (mailbox.Client, error) {
	return p.client, nil
}

func newTestExecutor(t *testing.T) (*Executor, *store.SQLiteStore, *fakeMailClient) {
	t.Helper()
	st, err := store.NewSQLiteStore(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })
	client := &fakeMailClient{}
	return NewExecutor(st, fakeProvider{client}, zerolog.Nop()), st, client
}

func seedSubscription(t *testing.T, st *store.SQLiteStore, up store.SubscriptionUpsert) *model.Subscription {
	t.Helper()
	up.UserID = "u1"
	if up.Fingerprint == "" {
		up.Fingerprint = "listid:promo.example.com"
	}
	up.LastSeenAt = time.Now().UTC()
	sub, err := st.UpsertSubscription(context.Background(), up)
	require.NoError(t, err)
	return sub
}

func TestExecute_OneClickSuccess(t *testing.T) {
	var gotMethod, gotContentType, gotBody string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotMethod = r.Method
		gotContentType = r.Header.Get("Content-Type")
		b, _ := io.ReadAll(r.Body)
		gotBody = string(b)
	}))
	defer srv.Close()

	x, st, _ := newTestExecutor(t)
	sub := seedSubscription(t, st, store.SubscriptionUpsert{
		UnsubscribeHTTPURL: srv.URL,
		UnsubscribeMailto:  "mailto:unsub@example.com",
		OneClickSupported:  true,
	})

	ctx := context.Background()
	require.NoError(t, x.Execute(ctx, "u1", sub.ID))

	assert.Equal(t, http.MethodPost, gotMethod)
	assert.Equal(t, "application/x-www-form-urlencoded", gotContentType)
	assert.Equal(t, "List-Unsubscribe=One-Click", gotBody)

	got, err := st.GetSubscription(ctx, "u1", sub.ID)
	require.NoError(t, err)
	assert.Equal(t, model.SubscriptionUnsubscribed, got.Status)
	require.NotNil(t, got.LastUnsubscribeAttemptAt)

	atts, err := st.ListUnsubscribeAttempts(ctx, sub.ID)
	require.NoError(t, err)
	require.Len(t, atts, 1)
	assert.Equal(t, model.RunSucceeded, atts[0].Status)
	assert.Equal(t, model.MethodHTTPOneClick, atts[0].Method)
}

func TestExecute_OneClickServerErrorMarksFailed(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	x, st, _ := newTestExecutor(t)
	sub := seedSubscription(t, st, store.SubscriptionUpsert{
		UnsubscribeHTTPURL: srv.URL,
		OneClickSupported:  true,
	})

	ctx := context.Background()
	err := x.Execute(ctx, "u1", sub.ID)
	require.Error(t, err)

	got, err := st.GetSubscription(ctx, "u1", sub.ID)
	require.NoError(t, err)
	assert.Equal(t, model.SubscriptionFailed, got.Status)

	atts, err := st.ListUnsubscribeAttempts(ctx, sub.ID)
	require.NoError(t, err)
	require.Len(t, atts, 1)
	assert.Equal(t, model.RunFailed, atts[0].Status)
	assert.Contains(t, atts[0].Error, "500")
}

func TestExecute_MailtoSendsThroughMailbox(t *testing.T) {
	x, st, client := newTestExecutor(t)
	sub := seedSubscription(t, st, store.SubscriptionUpsert{
		UnsubscribeMailto: "mailto:bye@example.com?subject=stop%20it",
	})

	ctx := context.Background()
	require.NoError(t, x.Execute(ctx, "u1", sub.ID))

	require.Len(t, client.sent, 1)
	raw := string(client.sent[0])
	assert.Contains(t, raw, "To: bye@example.com\r\n")
	assert.Contains(t, raw, "Subject: stop it\r\n")
	assert.Contains(t, raw, "\r\n\r\nunsubscribe")

	atts, err := st.ListUnsubscribeAttempts(ctx, sub.ID)
	require.NoError(t, err)
	require.Len(t, atts, 1)
	assert.Equal(t, model.MethodMailto, atts[0].Method)
}

func TestExecute_PlainGetWithoutOneClick(t *testing.T) {
	var gotMethod string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotMethod = r.Method
	}))
	defer srv.Close()

	x, st, _ := newTestExecutor(t)
	sub := seedSubscription(t, st, store.SubscriptionUpsert{
		UnsubscribeHTTPURL: srv.URL,
	})

	ctx := context.Background()
	require.NoError(t, x.Execute(ctx, "u1", sub.ID))
	assert.Equal(t, http.MethodGet, gotMethod)

	atts, err := st.ListUnsubscribeAttempts(ctx, sub.ID)
	require.NoError(t, err)
	require.Len(t, atts, 1)
	assert.Equal(t, model.MethodHTTP, atts[0].Method)
}

func TestExecute_NoMethodIsUnsupported(t *testing.T) {
	x, st, _ := newTestExecutor(t)
	sub := seedSubscription(t, st, store.SubscriptionUpsert{
		ListID: "promo.example.com",
	})

	ctx := context.Background()
	err := x.Execute(ctx, "u1", sub.ID)
	assert.ErrorIs(t, err, ErrUnsupported)

	got, err := st.GetSubscription(ctx, "u1", sub.ID)
	require.NoError(t, err)
	assert.Equal(t, model.SubscriptionFailed, got.Status)
}

func TestExecute_UnknownSubscription(t *testing.T) {
	x, _, _ := newTestExecutor(t)
	err := x.Execute(context.Background(), "u1", "nope")
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestExecute_NonActiveNoOps(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	defer srv.Close()

	x, st, _ := newTestExecutor(t)
	sub := seedSubscription(t, st, store.SubscriptionUpsert{
		UnsubscribeHTTPURL: srv.URL,
		OneClickSupported:  true,
	})

	ctx := context.Background()
	require.NoError(t, x.Execute(ctx, "u1", sub.ID))
	// Second call: subscription already terminal, nothing new happens.
	require.NoError(t, x.Execute(ctx, "u1", sub.ID))

	atts, err := st.ListUnsubscribeAttempts(ctx, sub.ID)
	require.NoError(t, err)
	assert.Len(t, atts, 1, "exactly one attempt may finalize the subscription")
}

func TestParseMailto_Defaults(t *testing.T) {
	to, subject, body, err := parseMailto("mailto:bye@example.com")
	require.NoError(t, err)
	assert.Equal(t, "bye@example.com", to)
	assert.Equal(t, "unsubscribe", subject)
	assert.Equal(t, "unsubscribe", body)

	to, subject, body, err = parseMailto("MAILTO:bye@example.com?subject=later&body=now")
	require.NoError(t, err)
	assert.Equal(t, "bye@example.com", to)
	assert.Equal(t, "later", subject)
	assert.Equal(t, "now", body)

	_, _, _, err = parseMailto("mailto:")
	assert.Error(t, err)
}
