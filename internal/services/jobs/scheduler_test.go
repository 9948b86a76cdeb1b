package jobs

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type scriptedJob struct {
	name  string
	every time.Duration
	runs  atomic.Int32
	run   func(n int32) error
}

func (j *scriptedJob) Name() string                    { return j.name }
func (j *scriptedJob) NextRun(now time.Time) time.Time { return now.Add(j.every) }
func (j *scriptedJob) Run(ctx context.Context) error {
	return j.run(j.runs.Add(1))
}

type recordingAlerter struct {
	mu       sync.Mutex
	messages []string
}

func (a *recordingAlerter) SendAlert(_ context.Context, message string) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.messages = append(a.messages, message)
	return nil
}

func (a *recordingAlerter) Messages() []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]string(nil), a.messages...)
}

func TestScheduler_RetriesUntilSuccess(t *testing.T) {
	done := make(chan struct{})
	job := &scriptedJob{name: "flaky", every: time.Millisecond, run: func(n int32) error {
		if n < 3 {
			return errors.New("temporary")
		}
		if n == 3 {
			close(done)
		}
		return nil
	}}
	alerter := &recordingAlerter{}
	s := NewScheduler(slog.New(slog.DiscardHandler), alerter, []time.Duration{time.Millisecond, time.Millisecond})
	s.Register(job)

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- s.Run(ctx) }()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("job did not succeed")
	}
	cancel()
	require.NoError(t, <-errCh)
	assert.Empty(t, alerter.Messages())
}

func TestScheduler_AlertsAfterRetriesExhausted(t *testing.T) {
	alerter := &recordingAlerter{}
	job := &scriptedJob{name: "broken", every: time.Millisecond, run: func(int32) error {
		return errors.New("database unavailable")
	}}
	s := NewScheduler(slog.New(slog.DiscardHandler), alerter, []time.Duration{time.Millisecond})
	s.Register(job)

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- s.Run(ctx) }()

	require.Eventually(t, func() bool { return len(alerter.Messages()) > 0 }, 5*time.Second, time.Millisecond)
	cancel()
	require.NoError(t, <-errCh)

	msg := alerter.Messages()[0]
	assert.Contains(t, msg, "Job: broken")
	assert.Contains(t, msg, "Attempt 1: database unavailable")
	assert.Contains(t, msg, "Attempt 2: database unavailable")
	assert.NotContains(t, msg, "Attempt 3")
}

func TestScheduler_StopsWhileWaiting(t *testing.T) {
	job := &scriptedJob{name: "daily", every: 24 * time.Hour, run: func(int32) error { return nil }}
	s := NewScheduler(slog.New(slog.DiscardHandler), nil, nil)
	s.Register(job)

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- s.Run(ctx) }()
	cancel()

	select {
	case err := <-errCh:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("scheduler did not stop")
	}
	assert.Zero(t, job.runs.Load())
}

func TestScheduler_NoJobs(t *testing.T) {
	s := NewScheduler(slog.New(slog.DiscardHandler), nil, nil)
	assert.NoError(t, s.Run(context.Background()))
}

func TestLedgerReconciler_NextRun(t *testing.T) {
	nairobi, err := time.LoadLocation("Africa/Nairobi")
	require.NoError(t, err)
	j := NewLedgerReconciler(nil, 3, nairobi, slog.New(slog.DiscardHandler))

	// 23:00 UTC = 02:00 Nairobi, запуск в тот же местный день
	next := j.NextRun(time.Date(2025, 6, 1, 23, 0, 0, 0, time.UTC))
	assert.True(t, next.Equal(time.Date(2025, 6, 2, 0, 0, 0, 0, time.UTC)))

	// ровно в 03:00 следующий запуск через сутки
	next = j.NextRun(time.Date(2025, 6, 2, 3, 0, 0, 0, nairobi))
	assert.True(t, next.Equal(time.Date(2025, 6, 3, 3, 0, 0, 0, nairobi)))
}

type reaperFunc func(ctx context.Context) (int, error)

func (f reaperFunc) ReapStale(ctx context.Context) (int, error) { return f(ctx) }

type reconcilerFunc func(ctx context.Context) (int, error)

func (f reconcilerFunc) Reconcile(ctx context.Context) (int, error) { return f(ctx) }

func TestJobsDelegate(t *testing.T) {
	boom := errors.New("boom")
	log := slog.New(slog.DiscardHandler)

	reaper := NewInsightReaper(reaperFunc(func(context.Context) (int, error) { return 2, nil }), time.Minute, log)
	assert.Equal(t, insightReaperName, reaper.Name())
	now := time.Now()
	assert.Equal(t, now.Add(time.Minute), reaper.NextRun(now))
	assert.NoError(t, reaper.Run(context.Background()))

	failing := NewInsightReaper(reaperFunc(func(context.Context) (int, error) { return 0, boom }), time.Minute, log)
	assert.ErrorIs(t, failing.Run(context.Background()), boom)

	rec := NewLedgerReconciler(reconcilerFunc(func(context.Context) (int, error) { return 0, boom }), 3, nil, log)
	assert.Equal(t, ledgerReconcilerName, rec.Name())
	assert.ErrorIs(t, rec.Run(context.Background()), boom)
}
