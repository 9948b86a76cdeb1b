package insightController

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
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
	"github.com/admin/agro-bots/farm-insights/internal/ports/service"
	"github.com/admin/agro-bots/farm-insights/internal/usecases/insight"
)

type providerFunc func(ctx context.Context, req service.InferenceRequest) (string, error)

func (f providerFunc) Complete(ctx context.Context, req service.InferenceRequest) (string, error) {
	return f(ctx, req)
}

type fixture struct {
	router *gin.Engine
	store  *inmemory.Store
}

func newFixture(t *testing.T, provider providerFunc) *fixture {
	t.Helper()
	gin.SetMode(gin.TestMode)
	log := slog.New(slog.DiscardHandler)
	store := inmemory.New()
	svc := insight.New(store.Farms(), store.Insights(), nil, provider, nil, nil, insight.Config{
		CostText:          1,
		CostImage:         10,
		ProviderTimeoutMS: 1000,
		MaxImageBytes:     1024,
		StaleAfter:        time.Minute,
		ReapBatch:         10,
		HistoryLimit:      20,
		ImageURLTTL:       time.Minute,
	}, log)
	router := gin.New()
	New(svc, log).RegisterRoutes(router)
	return &fixture{router: router, store: store}
}

func (f *fixture) fund(t *testing.T, user uuid.UUID, amount int64) {
	t.Helper()
	entry, err := domain.NewCredit(user, amount, domain.ReasonSignupGrant, time.Now())
	require.NoError(t, err)
	_, err = f.store.Ledger().Append(context.Background(), entry)
	require.NoError(t, err)
}

func (f *fixture) balance(t *testing.T, user uuid.UUID) int64 {
	t.Helper()
	b, err := f.store.Ledger().Balance(context.Background(), user)
	require.NoError(t, err)
	return b
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

func TestSubmitText(t *testing.T) {
	f := newFixture(t, func(context.Context, service.InferenceRequest) (string, error) {
		return "Add compost before planting.", nil
	})
	user := uuid.New()
	f.fund(t, user, 100)

	w := f.do(t, http.MethodPost, "/api/v1/insights", user, map[string]any{"text": "How do I improve my soil?"})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	var created domain.InsightRequest
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &created))
	assert.Equal(t, domain.InsightStatusSucceeded, created.Status)
	require.NotNil(t, created.ResponseText)
	assert.Equal(t, "Add compost before planting.", *created.ResponseText)
	assert.EqualValues(t, 99, f.balance(t, user))

	w = f.do(t, http.MethodGet, "/api/v1/insights/"+created.ID.String(), user, nil)
	require.Equal(t, http.StatusOK, w.Code)
	var got map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &got))
	assert.Equal(t, created.ID.String(), got["id"])
	assert.NotContains(t, got, "image_url")

	w = f.do(t, http.MethodGet, "/api/v1/insights/"+created.ID.String(), uuid.New(), nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = f.do(t, http.MethodGet, "/api/v1/insights?limit=5", user, nil)
	require.Equal(t, http.StatusOK, w.Code)
	var list struct {
		Count int `json:"count"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &list))
	assert.Equal(t, 1, list.Count)
}

func TestSubmitImageInsufficientBalance(t *testing.T) {
	f := newFixture(t, func(context.Context, service.InferenceRequest) (string, error) {
		return "Leaf rust.", nil
	})
	user := uuid.New()
	f.fund(t, user, 5)

	w := f.do(t, http.MethodPost, "/api/v1/insights", user, map[string]any{
		"image": map[string]any{"data": []byte{0xff, 0xd8, 0xff}, "mime_type": "image/jpeg"},
	})
	assert.Equal(t, http.StatusPaymentRequired, w.Code, w.Body.String())
	assert.EqualValues(t, 5, f.balance(t, user))
}

func TestSubmitProviderFailureRefunds(t *testing.T) {
	f := newFixture(t, func(context.Context, service.InferenceRequest) (string, error) {
		return "", errors.New("upstream exploded")
	})
	user := uuid.New()
	f.fund(t, user, 20)

	w := f.do(t, http.MethodPost, "/api/v1/insights", user, map[string]any{"text": "Why are my leaves yellow?"})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	var created domain.InsightRequest
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &created))
	assert.Equal(t, domain.InsightStatusFailed, created.Status)
	assert.NotContains(t, w.Body.String(), "upstream exploded")
	assert.EqualValues(t, 20, f.balance(t, user))
}

func TestSubmitValidation(t *testing.T) {
	f := newFixture(t, func(context.Context, service.InferenceRequest) (string, error) {
		return "ok", nil
	})
	user := uuid.New()
	f.fund(t, user, 20)

	w := f.do(t, http.MethodPost, "/api/v1/insights", user, map[string]any{})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = f.do(t, http.MethodPost, "/api/v1/insights", user, map[string]any{
		"image": map[string]any{"data": []byte("GIF89a"), "mime_type": "image/gif"},
	})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = f.do(t, http.MethodPost, "/api/v1/insights", user, map[string]any{
		"text":    "hello",
		"farm_id": uuid.NewString(),
	})
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = f.do(t, http.MethodGet, "/api/v1/insights/oops", user, nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	assert.EqualValues(t, 20, f.balance(t, user))
}
