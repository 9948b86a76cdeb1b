package telemetryController

import (
	"context"
	"encoding/json"
	"iter"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/admin/agro-bots/farm-insights/internal/adapters/primary/http/middlewares"
	"github.com/admin/agro-bots/farm-insights/internal/adapters/primary/http/response"
	"github.com/admin/agro-bots/farm-insights/internal/domain"
)

// flushEvery сколько элементов потока отдаётся клиенту за один Flush
const flushEvery = 100

type TelemetryService interface {
	AuthorizeFarm(ctx context.Context, farmID, caller uuid.UUID) error
	RecordObservation(ctx context.Context, farmID uuid.UUID, kind domain.ObservationKind, payload domain.ObservationPayload, observedAt time.Time) (*domain.Observation, bool, error)
	Latest(ctx context.Context, farmID uuid.UUID, kind domain.ObservationKind) (*domain.Observation, error)
	Range(ctx context.Context, farmID uuid.UUID, kind domain.ObservationKind, from, to time.Time) iter.Seq2[*domain.Observation, error]
	Snapshot(ctx context.Context, farmID uuid.UUID) (*domain.FarmSnapshot, error)
}

type TelemetryController struct {
	telemetry TelemetryService
	log       *slog.Logger
}

func New(telemetry TelemetryService, log *slog.Logger) *TelemetryController {
	return &TelemetryController{
		telemetry: telemetry,
		log:       log,
	}
}

func (c *TelemetryController) RegisterRoutes(r *gin.Engine) {
	farm := r.Group("/api/v1/farms/:id", middlewares.RequireUser(), c.authorizeFarm)
	{
		farm.POST("/observations", c.record)
		farm.GET("/observations", c.rangeObservations)
		farm.GET("/observations/latest", c.latest)
		farm.GET("/snapshot", c.snapshot)
	}
}

const farmIDKey = "farm_id"

// authorizeFarm пускает к телеметрии только владельца фермы
func (c *TelemetryController) authorizeFarm(ctx *gin.Context) {
	farmID, ok := response.UUIDParam(ctx, "id")
	if !ok {
		return
	}
	if err := c.telemetry.AuthorizeFarm(ctx.Request.Context(), farmID, middlewares.UserID(ctx)); err != nil {
		response.Error(ctx, c.log, err)
		return
	}
	ctx.Set(farmIDKey, farmID)
	ctx.Next()
}

func farmID(ctx *gin.Context) uuid.UUID {
	v, _ := ctx.Get(farmIDKey)
	id, _ := v.(uuid.UUID)
	return id
}

type recordRequest struct {
	Kind       domain.ObservationKind    `json:"kind"`
	Payload    domain.ObservationPayload `json:"payload"`
	ObservedAt time.Time                 `json:"observed_at"`
}

// POST /api/v1/farms/:id/observations
func (c *TelemetryController) record(ctx *gin.Context) {
	var req recordRequest
	if err := ctx.ShouldBindJSON(&req); err != nil {
		response.BadRequest(ctx, err)
		return
	}

	obs, created, err := c.telemetry.RecordObservation(ctx.Request.Context(), farmID(ctx), req.Kind, req.Payload, req.ObservedAt)
	if err != nil {
		response.Error(ctx, c.log, err)
		return
	}
	status := http.StatusOK
	if created {
		status = http.StatusCreated
	}
	ctx.JSON(status, obs)
}

// GET /api/v1/farms/:id/observations/latest?kind=
func (c *TelemetryController) latest(ctx *gin.Context) {
	kind := domain.ObservationKind(ctx.Query("kind"))
	obs, err := c.telemetry.Latest(ctx.Request.Context(), farmID(ctx), kind)
	if err != nil {
		response.Error(ctx, c.log, err)
		return
	}
	if obs == nil {
		ctx.JSON(http.StatusNotFound, gin.H{"error": "no " + string(kind) + " observations recorded"})
		return
	}
	ctx.JSON(http.StatusOK, obs)
}

// GET /api/v1/farms/:id/observations?kind=&from=&to=
// Отдаёт JSON массив потоком; ошибка после начала ответа обрывает поток.
func (c *TelemetryController) rangeObservations(ctx *gin.Context) {
	from, err := parseTimeQuery(ctx, "from")
	if err != nil {
		response.BadRequest(ctx, err)
		return
	}
	to, err := parseTimeQuery(ctx, "to")
	if err != nil {
		response.BadRequest(ctx, err)
		return
	}

	id := farmID(ctx)
	kind := domain.ObservationKind(ctx.Query("kind"))
	w := ctx.Writer
	started := false
	begin := func() {
		ctx.Header("Content-Type", "application/json; charset=utf-8")
		w.WriteHeader(http.StatusOK)
		_, _ = w.WriteString("[")
		started = true
	}

	count := 0
	for obs, err := range c.telemetry.Range(ctx.Request.Context(), id, kind, from, to) {
		if err != nil {
			if !started {
				response.Error(ctx, c.log, err)
				return
			}
			c.log.Error("observation stream aborted", "error", err, "farm_id", id, "kind", kind, "sent", count)
			return
		}
		data, err := json.Marshal(obs)
		if err != nil {
			c.log.Error("failed to encode observation", "error", err, "observation_id", obs.ID)
			if !started {
				response.Error(ctx, c.log, err)
			}
			return
		}

		if !started {
			begin()
		} else {
			_, _ = w.WriteString(",")
		}
		if _, err := w.Write(data); err != nil {
			c.log.Warn("client went away during observation stream", "error", err, "farm_id", id)
			return
		}
		count++
		if count%flushEvery == 0 {
			w.Flush()
		}
	}

	if !started {
		begin()
	}
	_, _ = w.WriteString("]")
}

// GET /api/v1/farms/:id/snapshot
func (c *TelemetryController) snapshot(ctx *gin.Context) {
	snap, err := c.telemetry.Snapshot(ctx.Request.Context(), farmID(ctx))
	if err != nil {
		response.Error(ctx, c.log, err)
		return
	}
	ctx.JSON(http.StatusOK, snap)
}

func parseTimeQuery(ctx *gin.Context, name string) (time.Time, error) {
	raw := ctx.Query(name)
	if raw == "" {
		return time.Time{}, nil
	}
	t, err := time.Parse(time.RFC3339Nano, raw)
	if err != nil {
		return time.Time{}, domain.NewValidationError(name, "must be an RFC 3339 timestamp")
	}
	return t, nil
}
