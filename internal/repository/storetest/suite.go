// Package storetest проверяет любую реализацию репозиториев на одинаковую семантику.
package storetest

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/admin/agro-bots/farm-insights/internal/domain"
	ports "github.com/admin/agro-bots/farm-insights/internal/ports/repository"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Repos набор репозиториев одного хранилища
type Repos struct {
	Farms        ports.IFarmRepo
	Observations ports.IObservationRepo
	Ledger       ports.ILedgerRepo
	Insights     ports.IInsightRepo
	Rewards      ports.IRewardRepo
}

// Run прогоняет набор проверок. makeRepos должен вернуть чистое изолированное хранилище.
func Run(t *testing.T, makeRepos func(t *testing.T) Repos) {
	t.Helper()

	t.Run("farms", func(t *testing.T) { testFarms(t, makeRepos(t)) })
	t.Run("observations", func(t *testing.T) { testObservations(t, makeRepos(t)) })
	t.Run("ledger", func(t *testing.T) { testLedger(t, makeRepos(t)) })
	t.Run("ledger concurrent debit", func(t *testing.T) { testConcurrentDebit(t, makeRepos(t)) })
	t.Run("insights", func(t *testing.T) { testInsights(t, makeRepos(t)) })
	t.Run("rewards", func(t *testing.T) { testRewards(t, makeRepos(t)) })
}

func ptr[T any](v T) *T { return &v }

func mustFarm(t *testing.T, r Repos, owner uuid.UUID, name string, createdAt time.Time) *domain.Farm {
	t.Helper()
	f, err := domain.NewFarm(owner, name, "Nakuru", ptr(-0.3), ptr(36.1), ptr(2.5), createdAt)
	require.NoError(t, err)
	require.NoError(t, r.Farms.Create(context.Background(), f))
	return f
}

func testFarms(t *testing.T, r Repos) {
	ctx := context.Background()
	owner, other := uuid.New(), uuid.New()
	base := time.Now().UTC().Truncate(time.Millisecond)

	older := mustFarm(t, r, owner, "Old Plot", base.Add(-time.Hour))
	newer := mustFarm(t, r, owner, "New Plot", base)
	mustFarm(t, r, other, "Other Plot", base.Add(-30*time.Minute))

	got, err := r.Farms.GetByID(ctx, older.ID)
	require.NoError(t, err)
	assert.Equal(t, "Old Plot", got.Name)
	require.NotNil(t, got.Latitude)
	assert.InDelta(t, -0.3, *got.Latitude, 1e-9)

	_, err = r.Farms.GetByID(ctx, uuid.New())
	assert.ErrorIs(t, err, domain.ErrNotFound)

	mine, err := r.Farms.List(ctx, &owner)
	require.NoError(t, err)
	require.Len(t, mine, 2)
	assert.Equal(t, newer.ID, mine[0].ID, "newest first")

	all, err := r.Farms.List(ctx, nil)
	require.NoError(t, err)
	assert.GreaterOrEqual(t, len(all), 3)

	updated, err := r.Farms.Update(ctx, older.ID, func(f *domain.Farm) error {
		return domain.FarmPatch{Name: ptr("Renamed"), ClearCoordinates: true}.Apply(f)
	})
	require.NoError(t, err)
	assert.Equal(t, "Renamed", updated.Name)
	assert.Nil(t, updated.Latitude)

	rejected := errors.New("rejected")
	_, err = r.Farms.Update(ctx, older.ID, func(f *domain.Farm) error {
		f.Name = "must not persist"
		return rejected
	})
	assert.ErrorIs(t, err, rejected)
	got, err = r.Farms.GetByID(ctx, older.ID)
	require.NoError(t, err)
	assert.Equal(t, "Renamed", got.Name)

	obs, err := domain.NewObservation(older.ID, domain.ObservationKindSoil, domain.ObservationPayload{"ph": 6.5}, base)
	require.NoError(t, err)
	_, _, err = r.Observations.CreateOrGet(ctx, obs)
	require.NoError(t, err)

	err = r.Farms.Delete(ctx, older.ID, func(*domain.Farm) error { return domain.ErrAuthorization })
	assert.ErrorIs(t, err, domain.ErrAuthorization)

	require.NoError(t, r.Farms.Delete(ctx, older.ID, func(*domain.Farm) error { return nil }))
	_, err = r.Farms.GetByID(ctx, older.ID)
	assert.ErrorIs(t, err, domain.ErrNotFound)

	latest, err := r.Observations.Latest(ctx, older.ID, domain.ObservationKindSoil)
	require.NoError(t, err)
	assert.Nil(t, latest, "observations are removed with the farm")
}

func testObservations(t *testing.T, r Repos) {
	ctx := context.Background()
	farm := mustFarm(t, r, uuid.New(), "North Plot", time.Now())
	t0 := time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)

	for i, ph := range []float64{6.1, 6.4, 6.8} {
		obs, err := domain.NewObservation(farm.ID, domain.ObservationKindSoil,
			domain.ObservationPayload{"ph": ph}, t0.Add(time.Duration(i)*time.Hour))
		require.NoError(t, err)
		_, created, err := r.Observations.CreateOrGet(ctx, obs)
		require.NoError(t, err)
		assert.True(t, created)
	}

	dup, err := domain.NewObservation(farm.ID, domain.ObservationKindSoil, domain.ObservationPayload{"ph": 9.9}, t0)
	require.NoError(t, err)
	stored, created, err := r.Observations.CreateOrGet(ctx, dup)
	require.NoError(t, err)
	assert.False(t, created)
	assert.InDelta(t, 6.1, stored.Payload["ph"], 1e-9, "existing record wins")

	orphan, err := domain.NewObservation(uuid.New(), domain.ObservationKindSoil, domain.ObservationPayload{"ph": 7}, t0)
	require.NoError(t, err)
	_, _, err = r.Observations.CreateOrGet(ctx, orphan)
	assert.ErrorIs(t, err, domain.ErrNotFound)

	latest, err := r.Observations.Latest(ctx, farm.ID, domain.ObservationKindSoil)
	require.NoError(t, err)
	require.NotNil(t, latest)
	assert.InDelta(t, 6.8, latest.Payload["ph"], 1e-9)

	none, err := r.Observations.Latest(ctx, farm.ID, domain.ObservationKindWeather)
	require.NoError(t, err)
	assert.Nil(t, none)

	seq := r.Observations.Range(ctx, farm.ID, domain.ObservationKindSoil, t0.Add(30*time.Minute), time.Time{})
	for pass := 0; pass < 2; pass++ {
		var phs []float64
		for obs, err := range seq {
			require.NoError(t, err)
			phs = append(phs, obs.Payload["ph"])
		}
		assert.Equal(t, []float64{6.4, 6.8}, phs, "pass %d", pass)
	}

	var first []float64
	for obs, err := range r.Observations.Range(ctx, farm.ID, domain.ObservationKindSoil, time.Time{}, time.Time{}) {
		require.NoError(t, err)
		first = append(first, obs.Payload["ph"])
		break
	}
	assert.Equal(t, []float64{6.1}, first)
}

func testLedger(t *testing.T, r Repos) {
	ctx := context.Background()
	user := uuid.New()
	now := time.Now().UTC()

	grant, err := domain.NewCredit(user, 100, domain.ReasonSignupGrant, now)
	require.NoError(t, err)
	opened, err := r.Ledger.OpenAccount(ctx, user, grant)
	require.NoError(t, err)
	assert.True(t, opened)

	again, err := domain.NewCredit(user, 100, domain.ReasonSignupGrant, now)
	require.NoError(t, err)
	opened, err = r.Ledger.OpenAccount(ctx, user, again)
	require.NoError(t, err)
	assert.False(t, opened)

	debit, err := domain.NewDebit(user, 30, domain.ReasonInsightRequest, now.Add(time.Second))
	require.NoError(t, err)
	balance, err := r.Ledger.Debit(ctx, debit)
	require.NoError(t, err)
	assert.EqualValues(t, 70, balance)

	tooMuch, err := domain.NewDebit(user, 71, domain.ReasonInsightRequest, now.Add(2*time.Second))
	require.NoError(t, err)
	_, err = r.Ledger.Debit(ctx, tooMuch)
	assert.ErrorIs(t, err, domain.ErrInsufficientBalance)

	balance, err = r.Ledger.Balance(ctx, user)
	require.NoError(t, err)
	assert.EqualValues(t, 70, balance)

	history, err := r.Ledger.History(ctx, user, 50)
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.EqualValues(t, -30, history[0].Delta)
	assert.Equal(t, domain.ReasonSignupGrant, history[1].Reason)
	assert.EqualValues(t, balance, domain.Replay(history))

	accounts, err := r.Ledger.Accounts(ctx)
	require.NoError(t, err)
	var found bool
	for _, acc := range accounts {
		if acc.UserID == user {
			found = true
			assert.True(t, acc.Consistent())
			assert.EqualValues(t, 70, acc.Memo)
		}
	}
	assert.True(t, found)
	require.NoError(t, r.Ledger.RepairAccount(ctx, user))

	empty, err := r.Ledger.Balance(ctx, uuid.New())
	require.NoError(t, err)
	assert.Zero(t, empty)
}

func testConcurrentDebit(t *testing.T, r Repos) {
	ctx := context.Background()
	user := uuid.New()

	credit, err := domain.NewCredit(user, 15, "seed", time.Now())
	require.NoError(t, err)
	_, err = r.Ledger.Append(ctx, credit)
	require.NoError(t, err)

	var (
		wg        sync.WaitGroup
		succeeded atomic.Int32
		rejected  atomic.Int32
	)
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			debit, err := domain.NewDebit(user, 10, domain.ReasonInsightRequest, time.Now())
			if err != nil {
				return
			}
			_, err = r.Ledger.Debit(ctx, debit)
			switch {
			case err == nil:
				succeeded.Add(1)
			case errors.Is(err, domain.ErrInsufficientBalance):
				rejected.Add(1)
			}
		}()
	}
	wg.Wait()

	assert.EqualValues(t, 1, succeeded.Load())
	assert.EqualValues(t, 1, rejected.Load())
	balance, err := r.Ledger.Balance(ctx, user)
	require.NoError(t, err)
	assert.EqualValues(t, 5, balance)
}

func testInsights(t *testing.T, r Repos) {
	ctx := context.Background()
	user := uuid.New()
	created := time.Now().UTC().Add(-time.Hour).Truncate(time.Millisecond)

	grant, err := domain.NewCredit(user, 12, domain.ReasonSignupGrant, created)
	require.NoError(t, err)
	_, err = r.Ledger.Append(ctx, grant)
	require.NoError(t, err)

	newRequest := func(cost int64) (*domain.InsightRequest, *domain.LedgerEntry) {
		req := &domain.InsightRequest{
			ID:          uuid.New(),
			UserID:      user,
			InputText:   ptr("yellow leaves on maize"),
			Status:      domain.InsightStatusPending,
			CostDebited: cost,
			CreatedAt:   created,
		}
		debit, err := domain.NewDebit(user, cost, domain.ReasonInsightRequest, created)
		require.NoError(t, err)
		return req, debit
	}

	req, debit := newRequest(1)
	require.NoError(t, r.Insights.Create(ctx, req, debit))
	assertBalance(t, r, user, 11)

	// не хватает токенов: ни запроса, ни списания
	poor, poorDebit := newRequest(20)
	assert.ErrorIs(t, r.Insights.Create(ctx, poor, poorDebit), domain.ErrInsufficientBalance)
	_, err = r.Insights.GetByID(ctx, poor.ID)
	assert.ErrorIs(t, err, domain.ErrNotFound)
	assertBalance(t, r, user, 11)

	stale, err := r.Insights.ListStalePending(ctx, time.Now().Add(-time.Minute), 10)
	require.NoError(t, err)
	assert.True(t, containsRequest(stale, req.ID))

	done, err := r.Insights.Complete(ctx, req.ID, domain.SucceededOutcome("add compost", time.Now()), nil)
	require.NoError(t, err)
	assert.Equal(t, domain.InsightStatusSucceeded, done.Status)
	require.NotNil(t, done.ResponseText)
	assert.Equal(t, "add compost", *done.ResponseText)
	assert.NotNil(t, done.CompletedAt)

	refund, err := domain.NewCredit(user, 1, domain.ReasonInsightRefund, time.Now())
	require.NoError(t, err)
	_, err = r.Insights.Complete(ctx, req.ID, domain.FailedOutcome("late", time.Now()), refund)
	assert.ErrorIs(t, err, domain.ErrConflict)
	assertBalance(t, r, user, 11)

	_, err = r.Insights.Complete(ctx, uuid.New(), domain.FailedOutcome("x", time.Now()), nil)
	assert.ErrorIs(t, err, domain.ErrNotFound)

	got, err := r.Insights.GetByID(ctx, req.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.InsightStatusSucceeded, got.Status)

	// неудача возвращает токены ровно один раз
	failing, failingDebit := newRequest(10)
	require.NoError(t, r.Insights.Create(ctx, failing, failingDebit))
	assertBalance(t, r, user, 1)

	back, err := domain.NewCredit(user, 10, domain.ReasonInsightRefund, time.Now())
	require.NoError(t, err)
	failed, err := r.Insights.Complete(ctx, failing.ID, domain.FailedOutcome("provider timeout", time.Now()), back)
	require.NoError(t, err)
	assert.Equal(t, domain.InsightStatusFailed, failed.Status)
	require.NotNil(t, failed.ErrorMessage)
	assertBalance(t, r, user, 11)

	again, err := domain.NewCredit(user, 10, domain.ReasonInsightRefund, time.Now())
	require.NoError(t, err)
	_, err = r.Insights.Complete(ctx, failing.ID, domain.FailedOutcome("reaper", time.Now()), again)
	assert.ErrorIs(t, err, domain.ErrConflict)
	assertBalance(t, r, user, 11)

	list, err := r.Insights.ListByUser(ctx, user, 10)
	require.NoError(t, err)
	require.Len(t, list, 2)

	stale, err = r.Insights.ListStalePending(ctx, time.Now(), 10)
	require.NoError(t, err)
	assert.False(t, containsRequest(stale, req.ID))
	assert.False(t, containsRequest(stale, failing.ID))
}

func assertBalance(t *testing.T, r Repos, user uuid.UUID, want int64) {
	t.Helper()
	got, err := r.Ledger.Balance(context.Background(), user)
	require.NoError(t, err)
	assert.Equal(t, want, got)
}

func containsRequest(list []*domain.InsightRequest, id uuid.UUID) bool {
	for _, r := range list {
		if r.ID == id {
			return true
		}
	}
	return false
}

func testRewards(t *testing.T, r Repos) {
	ctx := context.Background()
	user := uuid.New()
	day := domain.CalendarDay(time.Date(2025, 6, 1, 23, 30, 0, 0, time.UTC), time.UTC)

	last, err := r.Rewards.LastClaimDay(ctx, user)
	require.NoError(t, err)
	assert.Nil(t, last)

	var (
		wg      sync.WaitGroup
		granted atomic.Int32
	)
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			entry, err := domain.NewCredit(user, 1, domain.ReasonDailyLoginBonus, time.Now())
			if err != nil {
				return
			}
			ok, _, err := r.Rewards.Claim(ctx, user, day, entry)
			if err == nil && ok {
				granted.Add(1)
			}
		}()
	}
	wg.Wait()
	assert.EqualValues(t, 1, granted.Load())

	balance, err := r.Ledger.Balance(ctx, user)
	require.NoError(t, err)
	assert.EqualValues(t, 1, balance)

	last, err = r.Rewards.LastClaimDay(ctx, user)
	require.NoError(t, err)
	require.NotNil(t, last)
	assert.True(t, last.Equal(day))

	entry, err := domain.NewCredit(user, 1, domain.ReasonDailyLoginBonus, time.Now())
	require.NoError(t, err)
	ok, balance, err := r.Rewards.Claim(ctx, user, day.AddDate(0, 0, 1), entry)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.EqualValues(t, 2, balance)
}
