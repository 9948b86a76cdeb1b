package telemetry

import (
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/admin/agro-bots/farm-insights/internal/adapters/secondary/storage/inmemory"
	"github.com/admin/agro-bots/farm-insights/internal/domain"
	"github.com/admin/agro-bots/farm-insights/internal/ports/cache"
	"github.com/admin/agro-bots/farm-insights/internal/ports/repository"
	"github.com/admin/agro-bots/farm-insights/internal/usecases/farm"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fixture struct {
	store *inmemory.Store
	cache *inmemory.Cache
	svc   *Service
	farms *farm.Service
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	log := slog.New(slog.DiscardHandler)
	store := inmemory.New()
	c := inmemory.NewCache()
	svc := New(store.Farms(), store.Observations(), c, Config{LatestCacheTTL: time.Minute}, log)
	return &fixture{
		store: store,
		cache: c,
		svc:   svc,
		farms: farm.New(store.Farms(), svc, log),
	}
}

func (f *fixture) northPlot(t *testing.T, owner uuid.UUID) *domain.Farm {
	t.Helper()
	lat, lon := -1.28, 36.82
	created, err := f.farms.CreateFarm(context.Background(), owner, farm.CreateFarmInput{
		Name:         "North Plot",
		LocationText: "Nakuru",
		Latitude:     &lat,
		Longitude:    &lon,
	})
	require.NoError(t, err)
	return created
}

func collect(t *testing.T, f *fixture, farmID uuid.UUID, kind domain.ObservationKind, from, to time.Time) []*domain.Observation {
	t.Helper()
	var out []*domain.Observation
	for obs, err := range f.svc.Range(context.Background(), farmID, kind, from, to) {
		require.NoError(t, err)
		out = append(out, obs)
	}
	return out
}

func TestNorthPlotLatestSoil(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	farm := f.northPlot(t, uuid.New())
	t1 := time.Date(2025, 4, 10, 7, 30, 0, 0, time.UTC)

	_, created, err := f.svc.RecordObservation(ctx, farm.ID, domain.ObservationKindSoil, domain.ObservationPayload{"ph": 6.5}, t1)
	require.NoError(t, err)
	assert.True(t, created)

	latest, err := f.svc.Latest(ctx, farm.ID, domain.ObservationKindSoil)
	require.NoError(t, err)
	require.NotNil(t, latest)
	assert.Equal(t, 6.5, latest.Payload["ph"])
	assert.True(t, latest.ObservedAt.Equal(t1))

	weather, err := f.svc.Latest(ctx, farm.ID, domain.ObservationKindWeather)
	require.NoError(t, err)
	assert.Nil(t, weather)
}

func TestRecordObservation_Idempotency(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	farm := f.northPlot(t, uuid.New())
	at := time.Date(2025, 4, 10, 7, 30, 0, 123456789, time.UTC)

	first, created, err := f.svc.RecordObservation(ctx, farm.ID, domain.ObservationKindWeather,
		domain.ObservationPayload{"temperature": 21.5, "humidity": 60}, at)
	require.NoError(t, err)
	require.True(t, created)

	replay, created, err := f.svc.RecordObservation(ctx, farm.ID, domain.ObservationKindWeather,
		domain.ObservationPayload{"humidity": 60, "temperature": 21.5}, at)
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, first.ID, replay.ID)

	_, _, err = f.svc.RecordObservation(ctx, farm.ID, domain.ObservationKindWeather,
		domain.ObservationPayload{"temperature": 25}, at)
	assert.ErrorIs(t, err, domain.ErrConflict)

	all := collect(t, f, farm.ID, domain.ObservationKindWeather, time.Time{}, time.Time{})
	assert.Len(t, all, 1)
}

func TestRecordObservation_Validation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	farm := f.northPlot(t, uuid.New())
	now := time.Now()

	_, _, err := f.svc.RecordObservation(ctx, farm.ID, "pests", domain.ObservationPayload{"count": 1}, now)
	assert.ErrorIs(t, err, domain.ErrValidation)

	_, _, err = f.svc.RecordObservation(ctx, farm.ID, domain.ObservationKindSoil, domain.ObservationPayload{"ph": 15}, now)
	assert.ErrorIs(t, err, domain.ErrValidation)

	_, _, err = f.svc.RecordObservation(ctx, uuid.New(), domain.ObservationKindSoil, domain.ObservationPayload{"ph": 7}, now)
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestLatest_CacheInvalidatedOnRecord(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	farm := f.northPlot(t, uuid.New())
	t1 := time.Date(2025, 4, 10, 0, 0, 0, 0, time.UTC)

	_, _, err := f.svc.RecordObservation(ctx, farm.ID, domain.ObservationKindSoil, domain.ObservationPayload{"ph": 6.0}, t1)
	require.NoError(t, err)

	latest, err := f.svc.Latest(ctx, farm.ID, domain.ObservationKindSoil)
	require.NoError(t, err)
	assert.Equal(t, 6.0, latest.Payload["ph"])
	_, err = f.cache.Get(ctx, latestKey(farm.ID, domain.ObservationKindSoil))
	require.NoError(t, err)

	_, _, err = f.svc.RecordObservation(ctx, farm.ID, domain.ObservationKindSoil, domain.ObservationPayload{"ph": 7.0}, t1.Add(time.Hour))
	require.NoError(t, err)

	latest, err = f.svc.Latest(ctx, farm.ID, domain.ObservationKindSoil)
	require.NoError(t, err)
	assert.Equal(t, 7.0, latest.Payload["ph"])

	// запись более старого наблюдения не меняет latest
	_, _, err = f.svc.RecordObservation(ctx, farm.ID, domain.ObservationKindSoil, domain.ObservationPayload{"ph": 5.0}, t1.Add(-time.Hour))
	require.NoError(t, err)
	latest, err = f.svc.Latest(ctx, farm.ID, domain.ObservationKindSoil)
	require.NoError(t, err)
	assert.Equal(t, 7.0, latest.Payload["ph"])
}

func TestRange(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	farm := f.northPlot(t, uuid.New())
	base := time.Date(2025, 4, 1, 0, 0, 0, 0, time.UTC)

	for i := 4; i >= 0; i-- {
		_, _, err := f.svc.RecordObservation(ctx, farm.ID, domain.ObservationKindSoil,
			domain.ObservationPayload{"moisture": float64(10 * i)}, base.Add(time.Duration(i)*24*time.Hour))
		require.NoError(t, err)
	}

	all := collect(t, f, farm.ID, domain.ObservationKindSoil, time.Time{}, time.Time{})
	require.Len(t, all, 5)
	for i := 1; i < len(all); i++ {
		assert.True(t, all[i-1].ObservedAt.Before(all[i].ObservedAt))
	}

	window := collect(t, f, farm.ID, domain.ObservationKindSoil, base.Add(24*time.Hour), base.Add(3*24*time.Hour))
	require.Len(t, window, 3)
	assert.Equal(t, 10.0, window[0].Payload["moisture"])
	assert.Equal(t, 30.0, window[2].Payload["moisture"])

	// последовательность можно пройти повторно
	seq := f.svc.Range(ctx, farm.ID, domain.ObservationKindSoil, time.Time{}, time.Time{})
	for range 2 {
		n := 0
		for _, err := range seq {
			require.NoError(t, err)
			n++
		}
		assert.Equal(t, 5, n)
	}

	// ранний выход из цикла
	taken := 0
	for _, err := range seq {
		require.NoError(t, err)
		taken++
		if taken == 2 {
			break
		}
	}
	assert.Equal(t, 2, taken)
}

func TestRange_InvalidArguments(t *testing.T) {
	f := newFixture(t)
	now := time.Now()

	for _, tc := range []struct {
		name     string
		kind     domain.ObservationKind
		from, to time.Time
	}{
		{name: "unknown kind", kind: "pests"},
		{name: "inverted window", kind: domain.ObservationKindSoil, from: now, to: now.Add(-time.Hour)},
	} {
		t.Run(tc.name, func(t *testing.T) {
			var errs []error
			for obs, err := range f.svc.Range(context.Background(), uuid.New(), tc.kind, tc.from, tc.to) {
				assert.Nil(t, obs)
				errs = append(errs, err)
			}
			require.Len(t, errs, 1)
			assert.ErrorIs(t, errs[0], domain.ErrValidation)
		})
	}
}

func TestDeleteFarm_CascadesObservations(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	owner := uuid.New()
	farm := f.northPlot(t, owner)

	_, _, err := f.svc.RecordObservation(ctx, farm.ID, domain.ObservationKindSoil, domain.ObservationPayload{"ph": 6.5}, time.Now())
	require.NoError(t, err)
	_, err = f.svc.Latest(ctx, farm.ID, domain.ObservationKindSoil)
	require.NoError(t, err)

	require.NoError(t, f.farms.DeleteFarm(ctx, farm.ID, owner))

	assert.Empty(t, collect(t, f, farm.ID, domain.ObservationKindSoil, time.Time{}, time.Time{}))
	latest, err := f.svc.Latest(ctx, farm.ID, domain.ObservationKindSoil)
	require.NoError(t, err)
	assert.Nil(t, latest)
}

func TestSnapshotAndAuthorize(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	owner := uuid.New()
	farm := f.northPlot(t, owner)

	_, _, err := f.svc.RecordObservation(ctx, farm.ID, domain.ObservationKindWeather, domain.ObservationPayload{"rainfall": 12}, time.Now())
	require.NoError(t, err)

	snap, err := f.svc.Snapshot(ctx, farm.ID)
	require.NoError(t, err)
	assert.Nil(t, snap.Soil)
	require.NotNil(t, snap.Weather)
	assert.Equal(t, 12.0, snap.Weather.Payload["rainfall"])

	assert.NoError(t, f.svc.AuthorizeFarm(ctx, farm.ID, owner))
	assert.ErrorIs(t, f.svc.AuthorizeFarm(ctx, farm.ID, uuid.New()), domain.ErrAuthorization)
	assert.ErrorIs(t, f.svc.AuthorizeFarm(ctx, uuid.New(), owner), domain.ErrNotFound)
}

// interleavingRepo выполняет afterRead один раз между чтением latest из БД и заполнением кэша
type interleavingRepo struct {
	repository.IObservationRepo
	afterRead func()
}

func (r *interleavingRepo) Latest(ctx context.Context, farmID uuid.UUID, kind domain.ObservationKind) (*domain.Observation, error) {
	obs, err := r.IObservationRepo.Latest(ctx, farmID, kind)
	if hook := r.afterRead; hook != nil {
		r.afterRead = nil
		hook()
	}
	return obs, err
}

func newInterleavingFixture(t *testing.T) (*fixture, *interleavingRepo) {
	t.Helper()
	log := slog.New(slog.DiscardHandler)
	store := inmemory.New()
	c := inmemory.NewCache()
	repo := &interleavingRepo{IObservationRepo: store.Observations()}
	svc := New(store.Farms(), repo, c, Config{LatestCacheTTL: time.Minute}, log)
	return &fixture{store: store, cache: c, svc: svc, farms: farm.New(store.Farms(), svc, log)}, repo
}

func TestLatest_ConcurrentRecordNotShadowedByStaleFill(t *testing.T) {
	f, repo := newInterleavingFixture(t)
	ctx := context.Background()
	farm := f.northPlot(t, uuid.New())
	t1 := time.Date(2025, 4, 10, 6, 0, 0, 0, time.UTC)
	t2 := t1.Add(time.Hour)

	_, _, err := f.svc.RecordObservation(ctx, farm.ID, domain.ObservationKindSoil, domain.ObservationPayload{"ph": 6.5}, t1)
	require.NoError(t, err)

	repo.afterRead = func() {
		_, _, err := f.svc.RecordObservation(ctx, farm.ID, domain.ObservationKindSoil, domain.ObservationPayload{"ph": 7.1}, t2)
		require.NoError(t, err)
	}
	first, err := f.svc.Latest(ctx, farm.ID, domain.ObservationKindSoil)
	require.NoError(t, err)
	assert.True(t, first.ObservedAt.Equal(t1))

	_, err = f.cache.Get(ctx, latestKey(farm.ID, domain.ObservationKindSoil))
	assert.ErrorIs(t, err, cache.ErrMiss)

	latest, err := f.svc.Latest(ctx, farm.ID, domain.ObservationKindSoil)
	require.NoError(t, err)
	require.NotNil(t, latest)
	assert.Equal(t, 7.1, latest.Payload["ph"])
	assert.True(t, latest.ObservedAt.Equal(t2))
}

func TestLatest_DeletedFarmNotRecached(t *testing.T) {
	f, repo := newInterleavingFixture(t)
	ctx := context.Background()
	owner := uuid.New()
	farm := f.northPlot(t, owner)

	_, _, err := f.svc.RecordObservation(ctx, farm.ID, domain.ObservationKindSoil, domain.ObservationPayload{"ph": 6.5}, time.Now().UTC())
	require.NoError(t, err)

	repo.afterRead = func() {
		require.NoError(t, f.farms.DeleteFarm(ctx, farm.ID, owner))
	}
	_, err = f.svc.Latest(ctx, farm.ID, domain.ObservationKindSoil)
	require.NoError(t, err)

	latest, err := f.svc.Latest(ctx, farm.ID, domain.ObservationKindSoil)
	require.NoError(t, err)
	assert.Nil(t, latest)
}
