package queue

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tise-genene/Unmail/internal/metrics"
	"github.com/tise-genene/Unmail/internal/model"
	"github.com/tise-genene/Unmail/internal/store"
	"github.com/tise-genene/Unmail/internal/unsub"
)

var testOpts = Options{
	ScanConcurrency:        1,
	UnsubscribeConcurrency: 1,
	BackoffBase:            time.Millisecond,
	PollInterval:           10 * time.Millisecond,
}

func startWorkers(t *testing.T, st *store.SQLiteStore, scanH, unsubH Handler) *metrics.Metrics {
	t.Helper()
	m := metrics.New(prometheus.NewRegistry())
	w := NewWorkers(st, scanH, unsubH, testOpts, m, zerolog.Nop())
	ctx, cancel := context.WithCancel(context.Background())
	w.Start(ctx)
	t.Cleanup(func() {
		cancel()
		w.Wait()
	})
	return m
}

func waitForState(t *testing.T, st *store.SQLiteStore, jobID string, want model.JobState) *model.Job {
	t.Helper()
	var job *model.Job
	require.Eventually(t, func() bool {
		var err error
		job, err = st.GetJob(context.Background(), jobID)
		return err == nil && job.State == want
	}, 5*time.Second, 10*time.Millisecond, "job %s never reached %s", jobID, want)
	return job
}

func TestWorkers_CompleteJob(t *testing.T) {
	st := newTestStore(t)
	var handled atomic.Int32
	noop := func(context.Context, model.Job) error { return nil }
	m := startWorkers(t, st, noop, func(_ context.Context, job model.Job) error {
		assert.Equal(t, "u1", job.UserID)
		assert.Equal(t, "s1", job.SubscriptionID)
		handled.Add(1)
		return nil
	})

	svc := NewService(st, testOpts, zerolog.Nop())
	n, err := svc.EnqueueUnsubscribe(context.Background(), "u1", []string{"s1"})
	require.NoError(t, err)
	require.Equal(t, 1, n)

	job := waitForState(t, st, UnsubscribeJobID("u1", "s1"), model.JobComplete)
	assert.Equal(t, 1, job.Attempts)
	assert.EqualValues(t, 1, handled.Load())
	assert.Equal(t, 1.0, testutil.ToFloat64(m.JobsProcessed.WithLabelValues(model.QueueUnsubscribe, metrics.OutcomeCompleted)))
}

func TestWorkers_RetryTransientError(t *testing.T) {
	st := newTestStore(t)
	var calls atomic.Int32
	noop := func(context.Context, model.Job) error { return nil }
	startWorkers(t, st, noop, func(context.Context, model.Job) error {
		if calls.Add(1) == 1 {
			return errors.New("flaky network")
		}
		return nil
	})

	svc := NewService(st, testOpts, zerolog.Nop())
	_, err := svc.EnqueueUnsubscribe(context.Background(), "u1", []string{"s1"})
	require.NoError(t, err)

	job := waitForState(t, st, UnsubscribeJobID("u1", "s1"), model.JobComplete)
	assert.Equal(t, 2, job.Attempts)
	assert.Equal(t, "flaky network", job.LastError)
}

func TestWorkers_NoRetryOnUnsupported(t *testing.T) {
	st := newTestStore(t)
	noop := func(context.Context, model.Job) error { return nil }
	startWorkers(t, st, noop, func(context.Context, model.Job) error {
		return unsub.ErrUnsupported
	})

	svc := NewService(st, testOpts, zerolog.Nop())
	_, err := svc.EnqueueUnsubscribe(context.Background(), "u1", []string{"s1"})
	require.NoError(t, err)

	job := waitForState(t, st, UnsubscribeJobID("u1", "s1"), model.JobFailed)
	assert.Equal(t, 1, job.Attempts, "unsupported subscriptions are not retried")
}

func TestWorkers_TerminalAfterMaxAttempts(t *testing.T) {
	st := newTestStore(t)
	var calls atomic.Int32
	noop := func(context.Context, model.Job) error { return nil }
	startWorkers(t, st, noop, func(context.Context, model.Job) error {
		calls.Add(1)
		return errors.New("still down")
	})

	opts := testOpts
	opts.UnsubscribeMaxAttempts = 3
	svc := NewService(st, opts, zerolog.Nop())
	_, err := svc.EnqueueUnsubscribe(context.Background(), "u1", []string{"s1"})
	require.NoError(t, err)

	job := waitForState(t, st, UnsubscribeJobID("u1", "s1"), model.JobFailed)
	assert.Equal(t, 3, job.Attempts)
	assert.EqualValues(t, 3, calls.Load())
}

func TestWorkers_ScanQueueDispatch(t *testing.T) {
	st := newTestStore(t)
	var scanned atomic.Int32
	noop := func(context.Context, model.Job) error { return nil }
	startWorkers(t, st, func(_ context.Context, job model.Job) error {
		assert.Equal(t, "u1", job.UserID)
		scanned.Add(1)
		return nil
	}, noop)

	svc := NewService(st, testOpts, zerolog.Nop())
	jobID, err := svc.EnqueueScan(context.Background(), "u1")
	require.NoError(t, err)

	waitForState(t, st, jobID, model.JobComplete)
	assert.EqualValues(t, 1, scanned.Load())
}

func TestRetryable(t *testing.T) {
	assert.False(t, retryable(store.ErrNotFound))
	assert.False(t, retryable(unsub.ErrUnsupported))
	assert.True(t, retryable(errors.New("timeout")))
}
