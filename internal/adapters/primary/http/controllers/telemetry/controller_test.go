package telemetryController

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/admin/agro-bots/farm-insights/internal/adapters/primary/http/middlewares"
	"github.com/admin/agro-bots/farm-insights/internal/adapters/secondary/storage/inmemory"
	"github.com/admin/agro-bots/farm-insights/internal/domain"
	"github.com/admin/agro-bots/farm-insights/internal/usecases/telemetry"
)

type fixture struct {
	router *gin.Engine
	owner  uuid.UUID
	farm   *domain.Farm
	base   string
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	gin.SetMode(gin.TestMode)
	log := slog.New(slog.DiscardHandler)
	store := inmemory.New()

	owner := uuid.New()
	farm, err := domain.NewFarm(owner, "North Plot", "Nakuru", nil, nil, nil, time.Now())
	require.NoError(t, err)
	require.NoError(t, store.Farms().Create(context.Background(), farm))

	svc := telemetry.New(store.Farms(), store.Observations(), inmemory.NewCache(), telemetry.Config{LatestCacheTTL: time.Minute}, log)
	router := gin.New()
	New(svc, log).RegisterRoutes(router)

	return &fixture{
		router: router,
		owner:  owner,
		farm:   farm,
		base:   "/api/v1/farms/" + farm.ID.String(),
	}
}

func (f *fixture) do(t *testing.T, method, path string, user uuid.UUID, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(middlewares.UserIDHeader, user.String())
	w := httptest.NewRecorder()
	f.router.ServeHTTP(w, req)
	return w
}

func observation(kind string, at time.Time, payload map[string]float64) map[string]any {
	return map[string]any{
		"kind":        kind,
		"observed_at": at.Format(time.RFC3339),
		"payload":     payload,
	}
}

func TestRecordObservation(t *testing.T) {
	f := newFixture(t)
	at := time.Date(2025, 5, 4, 6, 0, 0, 0, time.UTC)
	body := observation("soil", at, map[string]float64{"moisture": 31, "ph": 6.5})

	w := f.do(t, http.MethodPost, f.base+"/observations", f.owner, body)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	w = f.do(t, http.MethodPost, f.base+"/observations", f.owner, body)
	assert.Equal(t, http.StatusOK, w.Code, "replay")

	w = f.do(t, http.MethodPost, f.base+"/observations", f.owner,
		observation("soil", at, map[string]float64{"moisture": 40}))
	assert.Equal(t, http.StatusConflict, w.Code)

	w = f.do(t, http.MethodPost, f.base+"/observations", f.owner,
		observation("soil", at.Add(time.Hour), map[string]float64{"ph": 42}))
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = f.do(t, http.MethodPost, f.base+"/observations", uuid.New(), body)
	assert.Equal(t, http.StatusForbidden, w.Code)

	w = f.do(t, http.MethodPost, "/api/v1/farms/"+uuid.NewString()+"/observations", f.owner, body)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestLatestAndSnapshot(t *testing.T) {
	f := newFixture(t)

	w := f.do(t, http.MethodGet, f.base+"/observations/latest?kind=soil", f.owner, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = f.do(t, http.MethodGet, f.base+"/observations/latest?kind=rain", f.owner, nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	day := time.Date(2025, 5, 4, 0, 0, 0, 0, time.UTC)
	for i, moisture := range []float64{20, 31} {
		w := f.do(t, http.MethodPost, f.base+"/observations", f.owner,
			observation("soil", day.Add(time.Duration(i)*time.Hour), map[string]float64{"moisture": moisture}))
		require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	}

	w = f.do(t, http.MethodGet, f.base+"/observations/latest?kind=soil", f.owner, nil)
	require.Equal(t, http.StatusOK, w.Code)
	var latest domain.Observation
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &latest))
	assert.Equal(t, 31.0, latest.Payload["moisture"])

	w = f.do(t, http.MethodGet, f.base+"/snapshot", f.owner, nil)
	require.Equal(t, http.StatusOK, w.Code)
	var snap domain.FarmSnapshot
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &snap))
	require.NotNil(t, snap.Soil)
	assert.Nil(t, snap.Weather)
}

func TestRangeStreamsArray(t *testing.T) {
	f := newFixture(t)
	start := time.Date(2025, 5, 1, 0, 0, 0, 0, time.UTC)
	for i := range 5 {
		w := f.do(t, http.MethodPost, f.base+"/observations", f.owner,
			observation("weather", start.Add(time.Duration(i)*24*time.Hour), map[string]float64{"temperature": float64(20 + i)}))
		require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	}

	w := f.do(t, http.MethodGet, f.base+"/observations?kind=weather", f.owner, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Header().Get("Content-Type"), "application/json")
	var all []domain.Observation
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &all), w.Body.String())
	require.Len(t, all, 5)
	for i := 1; i < len(all); i++ {
		assert.True(t, all[i-1].ObservedAt.Before(all[i].ObservedAt))
	}

	path := fmt.Sprintf("%s/observations?kind=weather&from=%s&to=%s", f.base,
		start.Add(24*time.Hour).Format(time.RFC3339), start.Add(3*24*time.Hour).Format(time.RFC3339))
	w = f.do(t, http.MethodGet, path, f.owner, nil)
	require.Equal(t, http.StatusOK, w.Code)
	var window []domain.Observation
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &window))
	assert.Len(t, window, 3)

	w = f.do(t, http.MethodGet, f.base+"/observations?kind=soil", f.owner, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, "[]", w.Body.String())
}

func TestRangeRejectsInvalidArguments(t *testing.T) {
	f := newFixture(t)

	w := f.do(t, http.MethodGet, f.base+"/observations?kind=rain", f.owner, nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = f.do(t, http.MethodGet, f.base+"/observations?kind=soil&from=yesterday", f.owner, nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = f.do(t, http.MethodGet, f.base+"/observations?kind=soil&from=2025-05-02T00:00:00Z&to=2025-05-01T00:00:00Z", f.owner, nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = f.do(t, http.MethodGet, f.base+"/observations?kind=soil", uuid.New(), nil)
	assert.Equal(t, http.StatusForbidden, w.Code)
}
