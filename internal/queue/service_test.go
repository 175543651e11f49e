package queue

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tise-genene/Unmail/internal/model"
	"github.com/tise-genene/Unmail/internal/store"
)

func newTestStore(t *testing.T) *store.SQLiteStore {
	t.Helper()
	st, err := store.NewSQLiteStore(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })
	return st
}

func TestEnqueueScan(t *testing.T) {
	st := newTestStore(t)
	svc := NewService(st, Options{}, zerolog.Nop())
	ctx := context.Background()

	jobID, err := svc.EnqueueScan(ctx, "u1")
	require.NoError(t, err)
	require.NotEmpty(t, jobID)

	job, err := st.GetJob(ctx, jobID)
	require.NoError(t, err)
	assert.Equal(t, model.QueueScan, job.Queue)
	assert.Equal(t, model.JobQueued, job.State)
	assert.Equal(t, 1, job.MaxAttempts)

	// A second request is a distinct job: scans are not deduplicated.
	jobID2, err := svc.EnqueueScan(ctx, "u1")
	require.NoError(t, err)
	assert.NotEqual(t, jobID, jobID2)
}

func TestEnqueueUnsubscribe_Dedup(t *testing.T) {
	st := newTestStore(t)
	svc := NewService(st, Options{}, zerolog.Nop())
	ctx := context.Background()

	n, err := svc.EnqueueUnsubscribe(ctx, "u1", []string{"s1", "s2"})
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	// Same subscriptions while queued: both collapse into the live jobs.
	n, err = svc.EnqueueUnsubscribe(ctx, "u1", []string{"s1", "s2", "s3"})
	require.NoError(t, err)
	assert.Equal(t, 1, n, "only the new subscription enqueues")

	// Finish s1's job terminally; resubmitting it starts a fresh job.
	job, err := st.ClaimJob(ctx, model.QueueUnsubscribe, time.Now())
	require.NoError(t, err)
	require.NoError(t, st.CompleteJob(ctx, job.ID, time.Now()))

	n, err = svc.EnqueueUnsubscribe(ctx, "u1", []string{job.SubscriptionID})
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestUnsubscribeJobID(t *testing.T) {
	assert.Equal(t, "unsub:u1:s1", UnsubscribeJobID("u1", "s1"))
}
