package rewardController

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/admin/agro-bots/farm-insights/internal/adapters/primary/http/middlewares"
	"github.com/admin/agro-bots/farm-insights/internal/adapters/primary/http/response"
	"github.com/admin/agro-bots/farm-insights/internal/domain"
)

type RewardService interface {
	ClaimDaily(ctx context.Context, userID uuid.UUID) (*domain.RewardClaim, error)
	Status(ctx context.Context, userID uuid.UUID) (*domain.RewardStatus, error)
}

type RewardController struct {
	rewards RewardService
	log     *slog.Logger
}

func New(rewards RewardService, log *slog.Logger) *RewardController {
	return &RewardController{
		rewards: rewards,
		log:     log,
	}
}

func (c *RewardController) RegisterRoutes(r *gin.Engine) {
	rewards := r.Group("/api/v1/rewards", middlewares.RequireUser())
	{
		rewards.POST("/daily", c.claim)
		rewards.GET("/daily", c.status)
	}
}

// POST /api/v1/rewards/daily
// Повторный запрос в тот же день не ошибка: granted=false.
func (c *RewardController) claim(ctx *gin.Context) {
	claim, err := c.rewards.ClaimDaily(ctx.Request.Context(), middlewares.UserID(ctx))
	if err != nil {
		response.Error(ctx, c.log, err)
		return
	}
	ctx.JSON(http.StatusOK, claim)
}

// GET /api/v1/rewards/daily
func (c *RewardController) status(ctx *gin.Context) {
	status, err := c.rewards.Status(ctx.Request.Context(), middlewares.UserID(ctx))
	if err != nil {
		response.Error(ctx, c.log, err)
		return
	}
	ctx.JSON(http.StatusOK, status)
}
