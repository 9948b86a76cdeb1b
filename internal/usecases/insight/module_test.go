package insight

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/admin/agro-bots/farm-insights/internal/adapters/secondary/storage/inmemory"
	"github.com/admin/agro-bots/farm-insights/internal/domain"
	"github.com/admin/agro-bots/farm-insights/internal/ports/service"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeProvider struct {
	mu       sync.Mutex
	calls    []service.InferenceRequest
	complete func(ctx context.Context, req service.InferenceRequest) (string, error)
}

func (f *fakeProvider) Complete(ctx context.Context, req service.InferenceRequest) (string, error) {
	f.mu.Lock()
	f.calls = append(f.calls, req)
	f.mu.Unlock()
	return f.complete(ctx, req)
}

func (f *fakeProvider) Calls() []service.InferenceRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]service.InferenceRequest(nil), f.calls...)
}

func answering(text string) *fakeProvider {
	return &fakeProvider{complete: func(context.Context, service.InferenceRequest) (string, error) {
		return text, nil
	}}
}

type fakeImages struct {
	puts map[string]domain.Image
	err  error
}

func (f *fakeImages) PutImage(_ context.Context, key string, image domain.Image) error {
	if f.err != nil {
		return f.err
	}
	f.puts[key] = image
	return nil
}

func (f *fakeImages) GetPresignedURL(_ context.Context, key string, _ time.Duration) (string, error) {
	return "https://s3.local/" + key + "?sig=1", nil
}

// blockingImages зависает до отмены контекста
type blockingImages struct{}

func (blockingImages) PutImage(ctx context.Context, _ string, _ domain.Image) error {
	<-ctx.Done()
	return ctx.Err()
}

func (blockingImages) GetPresignedURL(context.Context, string, time.Duration) (string, error) {
	return "", nil
}

type fakePublisher struct {
	mu     sync.Mutex
	events []domain.InsightEvent
}

func (f *fakePublisher) Send(_ context.Context, _ string, value []byte) error {
	var e domain.InsightEvent
	if err := json.Unmarshal(value, &e); err != nil {
		return err
	}
	f.mu.Lock()
	f.events = append(f.events, e)
	f.mu.Unlock()
	return nil
}

type fixture struct {
	store    *inmemory.Store
	svc      *Service
	provider *fakeProvider
	events   *fakePublisher
}

func testConfig() Config {
	return Config{
		CostText:          1,
		CostImage:         10,
		ProviderTimeoutMS: 1000,
		PrepareTimeout:    time.Second,
		MaxImageBytes:     1024,
		StaleAfter:        10 * time.Minute,
		ReapBatch:         10,
		HistoryLimit:      20,
		ImageURLTTL:       time.Minute,
	}
}

func newFixture(t *testing.T, provider *fakeProvider) *fixture {
	t.Helper()
	store := inmemory.New()
	events := &fakePublisher{}
	log := slog.New(slog.DiscardHandler)
	return &fixture{
		store:    store,
		provider: provider,
		events:   events,
		svc: New(store.Farms(), store.Insights(), nil, provider, nil, events, testConfig(), log),
	}
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

func (f *fixture) farm(t *testing.T, owner uuid.UUID, name string) *domain.Farm {
	t.Helper()
	lat, lon := -1.28, 36.82
	farm, err := domain.NewFarm(owner, name, "Nakuru", &lat, &lon, nil, time.Now())
	require.NoError(t, err)
	require.NoError(t, f.store.Farms().Create(context.Background(), farm))
	return farm
}

func pngImage(size int) *domain.Image {
	return &domain.Image{Data: make([]byte, size), MimeType: "image/png"}
}

func TestSubmit_TextSucceeds(t *testing.T) {
	f := newFixture(t, answering("  Add compost and mulch.  "))
	user := uuid.New()
	f.fund(t, user, 100)

	req, err := f.svc.Submit(context.Background(), user, SubmitInput{Text: "  why are my maize leaves yellow? "})
	require.NoError(t, err)

	assert.Equal(t, domain.InsightStatusSucceeded, req.Status)
	require.NotNil(t, req.ResponseText)
	assert.Equal(t, "Add compost and mulch.", *req.ResponseText)
	require.NotNil(t, req.InputText)
	assert.Equal(t, "why are my maize leaves yellow?", *req.InputText)
	assert.EqualValues(t, 1, req.CostDebited)
	assert.NotNil(t, req.CompletedAt)
	assert.EqualValues(t, 99, f.balance(t, user))

	calls := f.provider.Calls()
	require.Len(t, calls, 1)
	assert.Equal(t, textSystemPrompt, calls[0].SystemInstructions)
	assert.Nil(t, calls[0].Image)

	require.Len(t, f.events.events, 1)
	assert.Equal(t, domain.InsightEventCompleted, f.events.events[0].Type)
	assert.Equal(t, domain.InsightStatusSucceeded, f.events.events[0].Status)
	assert.False(t, f.events.events[0].Refunded)
}

func TestSubmit_ImageWithInsufficientBalance(t *testing.T) {
	f := newFixture(t, answering("never called"))
	user := uuid.New()
	f.fund(t, user, 5)

	_, err := f.svc.Submit(context.Background(), user, SubmitInput{Image: pngImage(16)})
	require.ErrorIs(t, err, domain.ErrInsufficientBalance)

	assert.EqualValues(t, 5, f.balance(t, user))
	list, err := f.svc.ListByUser(context.Background(), user, 0)
	require.NoError(t, err)
	assert.Empty(t, list)
	assert.Empty(t, f.provider.Calls())
	assert.Empty(t, f.events.events)
}

func TestSubmit_ProviderTimeoutRefunds(t *testing.T) {
	provider := &fakeProvider{complete: func(ctx context.Context, _ service.InferenceRequest) (string, error) {
		<-ctx.Done()
		return "", ctx.Err()
	}}
	f := newFixture(t, provider)
	f.svc.Cfg.ProviderTimeoutMS = 20
	user := uuid.New()
	f.fund(t, user, 20)

	req, err := f.svc.Submit(context.Background(), user, SubmitInput{Text: "is it going to rain?"})
	require.NoError(t, err)

	assert.Equal(t, domain.InsightStatusFailed, req.Status)
	require.NotNil(t, req.ErrorMessage)
	assert.Equal(t, "inference provider timed out", *req.ErrorMessage)
	assert.Nil(t, req.ResponseText)
	assert.EqualValues(t, 20, f.balance(t, user))

	history, err := f.store.Ledger().History(context.Background(), user, 10)
	require.NoError(t, err)
	var reasons []string
	for _, e := range history {
		reasons = append(reasons, e.Reason)
	}
	assert.ElementsMatch(t, []string{
		domain.ReasonSignupGrant,
		domain.ReasonInsightRequest,
		domain.ReasonInsightRefund,
	}, reasons)

	require.Len(t, f.events.events, 1)
	assert.True(t, f.events.events[0].Refunded)
}

func TestSubmit_ProviderFailures(t *testing.T) {
	tests := []struct {
		name     string
		complete func(context.Context, service.InferenceRequest) (string, error)
		message  string
	}{
		{
			name: "transport error",
			complete: func(context.Context, service.InferenceRequest) (string, error) {
				return "", errors.New("connection refused")
			},
			message: "inference provider failed",
		},
		{
			name: "empty answer",
			complete: func(context.Context, service.InferenceRequest) (string, error) {
				return "   ", nil
			},
			message: "inference provider failed",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, &fakeProvider{complete: tt.complete})
			user := uuid.New()
			f.fund(t, user, 30)

			req, err := f.svc.Submit(context.Background(), user, SubmitInput{Text: "hi", Image: pngImage(8)})
			require.NoError(t, err)
			assert.Equal(t, domain.InsightStatusFailed, req.Status)
			require.NotNil(t, req.ErrorMessage)
			assert.Equal(t, tt.message, *req.ErrorMessage)
			assert.EqualValues(t, 30, f.balance(t, user))
		})
	}
}

func TestSubmit_Validation(t *testing.T) {
	f := newFixture(t, answering("ok"))
	user := uuid.New()
	f.fund(t, user, 100)

	tests := []struct {
		name string
		in   SubmitInput
	}{
		{name: "nothing", in: SubmitInput{}},
		{name: "whitespace text", in: SubmitInput{Text: " \n\t "}},
		{name: "empty image", in: SubmitInput{Image: &domain.Image{MimeType: "image/png"}}},
		{name: "unsupported type", in: SubmitInput{Image: &domain.Image{Data: []byte("GIF89a"), MimeType: "image/gif"}}},
		{name: "too large", in: SubmitInput{Image: pngImage(2048)}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.svc.Submit(context.Background(), user, tt.in)
			assert.ErrorIs(t, err, domain.ErrValidation)
		})
	}
	assert.EqualValues(t, 100, f.balance(t, user))
	assert.Empty(t, f.provider.Calls())
}

func TestSubmit_FarmChecks(t *testing.T) {
	f := newFixture(t, answering("ok"))
	owner, stranger := uuid.New(), uuid.New()
	f.fund(t, stranger, 10)
	farm := f.farm(t, owner, "North Plot")

	missing := uuid.New()
	_, err := f.svc.Submit(context.Background(), stranger, SubmitInput{FarmID: &missing, Text: "hi"})
	assert.ErrorIs(t, err, domain.ErrNotFound)

	_, err = f.svc.Submit(context.Background(), stranger, SubmitInput{FarmID: &farm.ID, Text: "hi"})
	assert.ErrorIs(t, err, domain.ErrAuthorization)

	assert.EqualValues(t, 10, f.balance(t, stranger))
}

type snapshotFunc func(ctx context.Context, farmID uuid.UUID) (*domain.FarmSnapshot, error)

func (f snapshotFunc) Snapshot(ctx context.Context, farmID uuid.UUID) (*domain.FarmSnapshot, error) {
	return f(ctx, farmID)
}

func TestSubmit_FarmContextInPrompt(t *testing.T) {
	f := newFixture(t, answering("Looks healthy."))
	user := uuid.New()
	f.fund(t, user, 10)
	farm := f.farm(t, user, "North Plot")

	observedAt := time.Date(2025, 5, 4, 8, 0, 0, 0, time.UTC)
	f.svc.Snapshots = snapshotFunc(func(_ context.Context, farmID uuid.UUID) (*domain.FarmSnapshot, error) {
		return &domain.FarmSnapshot{
			FarmID: farmID,
			Soil: &domain.Observation{
				FarmID:     farmID,
				Kind:       domain.ObservationKindSoil,
				Payload:    domain.ObservationPayload{"ph": 6.5, "moisture": 31},
				ObservedAt: observedAt,
			},
		}, nil
	})

	req, err := f.svc.Submit(context.Background(), user, SubmitInput{FarmID: &farm.ID, Image: pngImage(8)})
	require.NoError(t, err)
	assert.Equal(t, domain.InsightStatusSucceeded, req.Status)
	assert.EqualValues(t, 0, f.balance(t, user))

	calls := f.provider.Calls()
	require.Len(t, calls, 1)
	assert.Equal(t, imageSystemPrompt, calls[0].SystemInstructions)
	assert.True(t, strings.HasPrefix(calls[0].UserText, defaultImagePrompt))
	assert.Contains(t, calls[0].UserText, "Name: North Plot")
	assert.Contains(t, calls[0].UserText, "Location: Nakuru")
	assert.Contains(t, calls[0].UserText, "Latest soil (2025-05-04): moisture=31, ph=6.5")
	assert.NotContains(t, calls[0].UserText, "Latest weather")
	require.NotNil(t, calls[0].Image)
}

func TestSubmit_ImageStorage(t *testing.T) {
	t.Run("stored in s3", func(t *testing.T) {
		f := newFixture(t, answering("ok"))
		images := &fakeImages{puts: map[string]domain.Image{}}
		f.svc.Images = images
		user := uuid.New()
		f.fund(t, user, 10)

		req, err := f.svc.Submit(context.Background(), user, SubmitInput{Image: pngImage(8)})
		require.NoError(t, err)
		require.NotNil(t, req.InputImageRef)
		assert.Equal(t, "insights/"+user.String()+"/"+req.ID.String()+".png", *req.InputImageRef)
		assert.Contains(t, images.puts, *req.InputImageRef)

		url, err := f.svc.ImageURL(context.Background(), req)
		require.NoError(t, err)
		assert.Contains(t, url, *req.InputImageRef)
	})

	t.Run("content hash without s3", func(t *testing.T) {
		f := newFixture(t, answering("ok"))
		user := uuid.New()
		f.fund(t, user, 10)

		req, err := f.svc.Submit(context.Background(), user, SubmitInput{Image: pngImage(8)})
		require.NoError(t, err)
		require.NotNil(t, req.InputImageRef)
		assert.True(t, strings.HasPrefix(*req.InputImageRef, "sha256:"))

		url, err := f.svc.ImageURL(context.Background(), req)
		require.NoError(t, err)
		assert.Empty(t, url)
	})

	t.Run("upload failure refunds", func(t *testing.T) {
		f := newFixture(t, answering("ok"))
		f.svc.Images = &fakeImages{err: errors.New("bucket unavailable")}
		user := uuid.New()
		f.fund(t, user, 10)

		req, err := f.svc.Submit(context.Background(), user, SubmitInput{Image: pngImage(8)})
		require.NoError(t, err)
		assert.Equal(t, domain.InsightStatusFailed, req.Status)
		assert.EqualValues(t, 10, f.balance(t, user))
		assert.Empty(t, f.provider.Calls())
	})
}

func TestSubmit_ConcurrentDebitsNeverOverdraw(t *testing.T) {
	f := newFixture(t, answering("ok"))
	user := uuid.New()
	f.fund(t, user, 15)

	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		accepted int
		rejected int
	)
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.svc.Submit(context.Background(), user, SubmitInput{Image: pngImage(8)})
			mu.Lock()
			defer mu.Unlock()
			if errors.Is(err, domain.ErrInsufficientBalance) {
				rejected++
			} else if err == nil {
				accepted++
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, accepted)
	assert.Equal(t, 1, rejected)
	assert.EqualValues(t, 5, f.balance(t, user))
}

func TestGet_HidesForeignRequests(t *testing.T) {
	f := newFixture(t, answering("ok"))
	user, other := uuid.New(), uuid.New()
	f.fund(t, user, 5)

	req, err := f.svc.Submit(context.Background(), user, SubmitInput{Text: "hello"})
	require.NoError(t, err)

	got, err := f.svc.Get(context.Background(), req.ID, user)
	require.NoError(t, err)
	assert.Equal(t, req.ID, got.ID)

	_, err = f.svc.Get(context.Background(), req.ID, other)
	assert.ErrorIs(t, err, domain.ErrNotFound)

	_, err = f.svc.Get(context.Background(), uuid.New(), user)
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestReapStale(t *testing.T) {
	f := newFixture(t, answering("unused"))
	user := uuid.New()
	f.fund(t, user, 20)
	ctx := context.Background()

	old := time.Now().UTC().Add(-time.Hour)
	stuck := &domain.InsightRequest{
		ID:          uuid.New(),
		UserID:      user,
		Status:      domain.InsightStatusPending,
		CostDebited: 10,
		CreatedAt:   old,
	}
	debit, err := domain.NewDebit(user, 10, domain.ReasonInsightRequest, old)
	require.NoError(t, err)
	require.NoError(t, f.store.Insights().Create(ctx, stuck, debit))

	fresh := &domain.InsightRequest{
		ID:          uuid.New(),
		UserID:      user,
		Status:      domain.InsightStatusPending,
		CostDebited: 1,
		CreatedAt:   time.Now().UTC(),
	}
	freshDebit, err := domain.NewDebit(user, 1, domain.ReasonInsightRequest, fresh.CreatedAt)
	require.NoError(t, err)
	require.NoError(t, f.store.Insights().Create(ctx, fresh, freshDebit))
	assert.EqualValues(t, 9, f.balance(t, user))

	reaped, err := f.svc.ReapStale(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, reaped)
	assert.EqualValues(t, 19, f.balance(t, user))

	got, err := f.svc.Get(ctx, stuck.ID, user)
	require.NoError(t, err)
	assert.Equal(t, domain.InsightStatusFailed, got.Status)

	// поздний ответ провайдера не меняет закрытый запрос и не возвращает токены повторно
	late, err := f.svc.complete(ctx, stuck, domain.SucceededOutcome("late answer", time.Now()))
	require.NoError(t, err)
	assert.Equal(t, domain.InsightStatusFailed, late.Status)
	assert.EqualValues(t, 19, f.balance(t, user))

	reaped, err = f.svc.ReapStale(ctx)
	require.NoError(t, err)
	assert.Zero(t, reaped)
}

func TestListByUser_Limit(t *testing.T) {
	f := newFixture(t, answering("ok"))
	user := uuid.New()
	f.fund(t, user, 10)

	base := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	for i := 0; i < 3; i++ {
		at := base.Add(time.Duration(i) * time.Minute)
		f.svc.Now = func() time.Time { return at }
		_, err := f.svc.Submit(context.Background(), user, SubmitInput{Text: "q"})
		require.NoError(t, err)
	}

	list, err := f.svc.ListByUser(context.Background(), user, 2)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.True(t, list[0].CreatedAt.After(list[1].CreatedAt))
}

func TestSubmit_PreparationBoundedByTimeout(t *testing.T) {
	t.Run("hung image store", func(t *testing.T) {
		f := newFixture(t, answering("ok"))
		f.svc.Cfg.PrepareTimeout = 20 * time.Millisecond
		f.svc.Images = blockingImages{}
		user := uuid.New()
		f.fund(t, user, 10)

		started := time.Now()
		req, err := f.svc.Submit(context.Background(), user, SubmitInput{Image: pngImage(8)})
		require.NoError(t, err)
		assert.Less(t, time.Since(started), 2*time.Second)
		assert.Equal(t, domain.InsightStatusFailed, req.Status)
		assert.EqualValues(t, 10, f.balance(t, user))
		assert.Empty(t, f.provider.Calls())
	})

	t.Run("hung snapshot", func(t *testing.T) {
		f := newFixture(t, answering("ok"))
		f.svc.Cfg.PrepareTimeout = 20 * time.Millisecond
		f.svc.Snapshots = snapshotFunc(func(ctx context.Context, _ uuid.UUID) (*domain.FarmSnapshot, error) {
			<-ctx.Done()
			return nil, ctx.Err()
		})
		user := uuid.New()
		f.fund(t, user, 1)
		farm := f.farm(t, user, "North Plot")

		req, err := f.svc.Submit(context.Background(), user, SubmitInput{FarmID: &farm.ID, Text: "yellow leaves"})
		require.NoError(t, err)
		assert.Equal(t, domain.InsightStatusSucceeded, req.Status)
		require.Len(t, f.provider.Calls(), 1)
		assert.NotContains(t, f.provider.Calls()[0].UserText, "Latest soil")
	})
}

func TestConfig_MaxInFlight(t *testing.T) {
	cfg := Config{ProviderTimeoutMS: 30000, PrepareTimeout: 10 * time.Second}
	assert.Equal(t, 40*time.Second, cfg.MaxInFlight())

	cfg.PrepareTimeout = 0
	assert.Equal(t, 60*time.Second, cfg.MaxInFlight())
}
