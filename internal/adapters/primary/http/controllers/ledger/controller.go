package ledgerController

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
)

type LedgerService interface {
	Balance(ctx context.Context, userID uuid.UUID) (int64, error)
	History(ctx context.Context, userID uuid.UUID, limit int) ([]*domain.LedgerEntry, error)
	OpenAccount(ctx context.Context, userID uuid.UUID) (int64, bool, error)
}

type LedgerController struct {
	ledger LedgerService
	log    *slog.Logger
}

func New(ledger LedgerService, log *slog.Logger) *LedgerController {
	return &LedgerController{
		ledger: ledger,
		log:    log,
	}
}

func (c *LedgerController) RegisterRoutes(r *gin.Engine) {
	ledger := r.Group("/api/v1/ledger", middlewares.RequireUser())
	{
		ledger.GET("/balance", c.balance)
		ledger.GET("/history", c.history)
		ledger.POST("/account", c.openAccount)
	}
}

// GET /api/v1/ledger/balance
func (c *LedgerController) balance(ctx *gin.Context) {
	userID := middlewares.UserID(ctx)
	balance, err := c.ledger.Balance(ctx.Request.Context(), userID)
	if err != nil {
		response.Error(ctx, c.log, err)
		return
	}
	ctx.JSON(http.StatusOK, gin.H{
		"user_id": userID,
		"balance": balance,
	})
}

// GET /api/v1/ledger/history?limit=
func (c *LedgerController) history(ctx *gin.Context) {
	limit, err := limitQuery(ctx)
	if err != nil {
		response.BadRequest(ctx, err)
		return
	}
	entries, err := c.ledger.History(ctx.Request.Context(), middlewares.UserID(ctx), limit)
	if err != nil {
		response.Error(ctx, c.log, err)
		return
	}
	if entries == nil {
		entries = []*domain.LedgerEntry{}
	}
	ctx.JSON(http.StatusOK, gin.H{
		"entries": entries,
		"count":   len(entries),
	})
}

// POST /api/v1/ledger/account
func (c *LedgerController) openAccount(ctx *gin.Context) {
	balance, opened, err := c.ledger.OpenAccount(ctx.Request.Context(), middlewares.UserID(ctx))
	if err != nil {
		response.Error(ctx, c.log, err)
		return
	}
	status := http.StatusOK
	if opened {
		status = http.StatusCreated
	}
	ctx.JSON(status, gin.H{
		"opened":  opened,
		"balance": balance,
	})
}

func limitQuery(ctx *gin.Context) (int, error) {
	raw := ctx.Query("limit")
	if raw == "" {
		return 0, nil
	}
	limit, err := strconv.Atoi(raw)
	if err != nil || limit < 0 {
		return 0, domain.NewValidationError("limit", "must be a non-negative integer")
	}
	return limit, nil
}
