package insightController

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/admin/agro-bots/farm-insights/internal/adapters/primary/http/middlewares"
	"github.com/admin/agro-bots/farm-insights/internal/adapters/primary/http/response"
	"github.com/admin/agro-bots/farm-insights/internal/domain"
	"github.com/admin/agro-bots/farm-insights/internal/usecases/insight"
)

type InsightService interface {
	Submit(ctx context.Context, userID uuid.UUID, in insight.SubmitInput) (*domain.InsightRequest, error)
	Get(ctx context.Context, id, caller uuid.UUID) (*domain.InsightRequest, error)
	ListByUser(ctx context.Context, userID uuid.UUID, limit int) ([]*domain.InsightRequest, error)
	ImageURL(ctx context.Context, req *domain.InsightRequest) (string, error)
}

type InsightController struct {
	insights InsightService
	log      *slog.Logger
}

func New(insights InsightService, log *slog.Logger) *InsightController {
	return &InsightController{
		insights: insights,
		log:      log,
	}
}

func (c *InsightController) RegisterRoutes(r *gin.Engine) {
	insights := r.Group("/api/v1/insights", middlewares.RequireUser())
	{
		insights.POST("", c.submit)
		insights.GET("", c.list)
		insights.GET("/:id", c.get)
	}
}

type imagePayload struct {
	Data     []byte `json:"data"` // base64 в JSON
	MimeType string `json:"mime_type"`
}

type submitRequest struct {
	FarmID *uuid.UUID    `json:"farm_id"`
	Text   string        `json:"text"`
	Image  *imagePayload `json:"image"`
}

type insightResponse struct {
	*domain.InsightRequest
	ImageURL string `json:"image_url,omitempty"`
}

// POST /api/v1/insights
// Ошибка провайдера не ошибка запроса: 201 со статусом failed и возвращёнными токенами.
func (c *InsightController) submit(ctx *gin.Context) {
	var req submitRequest
	if err := ctx.ShouldBindJSON(&req); err != nil {
		response.BadRequest(ctx, err)
		return
	}

	in := insight.SubmitInput{FarmID: req.FarmID, Text: req.Text}
	if req.Image != nil {
		in.Image = &domain.Image{Data: req.Image.Data, MimeType: req.Image.MimeType}
	}

	result, err := c.insights.Submit(ctx.Request.Context(), middlewares.UserID(ctx), in)
	if err != nil {
		response.Error(ctx, c.log, err)
		return
	}
	ctx.JSON(http.StatusCreated, result)
}

// GET /api/v1/insights?limit=
func (c *InsightController) list(ctx *gin.Context) {
	limit := 0
	if raw := ctx.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			response.BadRequest(ctx, domain.NewValidationError("limit", "must be a non-negative integer"))
			return
		}
		limit = n
	}

	reqs, err := c.insights.ListByUser(ctx.Request.Context(), middlewares.UserID(ctx), limit)
	if err != nil {
		response.Error(ctx, c.log, err)
		return
	}
	if reqs == nil {
		reqs = []*domain.InsightRequest{}
	}
	ctx.JSON(http.StatusOK, gin.H{
		"requests": reqs,
		"count":    len(reqs),
	})
}

// GET /api/v1/insights/:id
func (c *InsightController) get(ctx *gin.Context) {
	id, ok := response.UUIDParam(ctx, "id")
	if !ok {
		return
	}
	req, err := c.insights.Get(ctx.Request.Context(), id, middlewares.UserID(ctx))
	if err != nil {
		response.Error(ctx, c.log, err)
		return
	}

	resp := insightResponse{InsightRequest: req}
	url, err := c.insights.ImageURL(ctx.Request.Context(), req)
	if err != nil {
		c.log.Warn("failed to presign insight image", "error", err, "request_id", id)
	} else {
		resp.ImageURL = url
	}
	ctx.JSON(http.StatusOK, resp)
}
