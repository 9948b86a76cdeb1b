package farmController

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/admin/agro-bots/farm-insights/internal/adapters/primary/http/middlewares"
	"github.com/admin/agro-bots/farm-insights/internal/adapters/primary/http/response"
	"github.com/admin/agro-bots/farm-insights/internal/domain"
	"github.com/admin/agro-bots/farm-insights/internal/usecases/farm"
)

type FarmService interface {
	CreateFarm(ctx context.Context, caller uuid.UUID, in farm.CreateFarmInput) (*domain.Farm, error)
	UpdateFarm(ctx context.Context, id, caller uuid.UUID, patch domain.FarmPatch) (*domain.Farm, error)
	DeleteFarm(ctx context.Context, id, caller uuid.UUID) error
	ListFarms(ctx context.Context, caller uuid.UUID, owner *uuid.UUID) ([]*domain.Farm, error)
	GetFarm(ctx context.Context, id, caller uuid.UUID) (*domain.Farm, error)
}

type FarmController struct {
	farms FarmService
	log   *slog.Logger
}

func New(farms FarmService, log *slog.Logger) *FarmController {
	return &FarmController{
		farms: farms,
		log:   log,
	}
}

func (c *FarmController) RegisterRoutes(r *gin.Engine) {
	farms := r.Group("/api/v1/farms", middlewares.RequireUser())
	{
		farms.POST("", c.create)
		farms.GET("", c.list)
		farms.GET("/:id", c.get)
		farms.PATCH("/:id", c.update)
		farms.DELETE("/:id", c.delete)
	}
}

type createFarmRequest struct {
	Name         string   `json:"name"`
	LocationText string   `json:"location_text"`
	Latitude     *float64 `json:"latitude"`
	Longitude    *float64 `json:"longitude"`
	Size         *float64 `json:"size"`
}

// POST /api/v1/farms
func (c *FarmController) create(ctx *gin.Context) {
	var req createFarmRequest
	if err := ctx.ShouldBindJSON(&req); err != nil {
		response.BadRequest(ctx, err)
		return
	}

	created, err := c.farms.CreateFarm(ctx.Request.Context(), middlewares.UserID(ctx), farm.CreateFarmInput{
		Name:         req.Name,
		LocationText: req.LocationText,
		Latitude:     req.Latitude,
		Longitude:    req.Longitude,
		Size:         req.Size,
	})
	if err != nil {
		response.Error(ctx, c.log, err)
		return
	}
	ctx.JSON(http.StatusCreated, created)
}

// GET /api/v1/farms?owner=<uuid|me>
func (c *FarmController) list(ctx *gin.Context) {
	caller := middlewares.UserID(ctx)

	var owner *uuid.UUID
	switch raw := ctx.Query("owner"); raw {
	case "":
	case "me":
		owner = &caller
	default:
		id, err := uuid.Parse(raw)
		if err != nil {
			response.BadRequest(ctx, domain.NewValidationError("owner", "must be a valid uuid"))
			return
		}
		owner = &id
	}

	farms, err := c.farms.ListFarms(ctx.Request.Context(), caller, owner)
	if err != nil {
		response.Error(ctx, c.log, err)
		return
	}
	ctx.JSON(http.StatusOK, gin.H{
		"farms": farms,
		"count": len(farms),
	})
}

// GET /api/v1/farms/:id
func (c *FarmController) get(ctx *gin.Context) {
	id, ok := response.UUIDParam(ctx, "id")
	if !ok {
		return
	}
	f, err := c.farms.GetFarm(ctx.Request.Context(), id, middlewares.UserID(ctx))
	if err != nil {
		response.Error(ctx, c.log, err)
		return
	}
	ctx.JSON(http.StatusOK, f)
}

type updateFarmRequest struct {
	Name             *string  `json:"name"`
	LocationText     *string  `json:"location_text"`
	Latitude         *float64 `json:"latitude"`
	Longitude        *float64 `json:"longitude"`
	ClearCoordinates bool     `json:"clear_coordinates"`
	Size             *float64 `json:"size"`
	ClearSize        bool     `json:"clear_size"`
}

// PATCH /api/v1/farms/:id
func (c *FarmController) update(ctx *gin.Context) {
	id, ok := response.UUIDParam(ctx, "id")
	if !ok {
		return
	}
	var req updateFarmRequest
	if err := ctx.ShouldBindJSON(&req); err != nil {
		response.BadRequest(ctx, err)
		return
	}

	updated, err := c.farms.UpdateFarm(ctx.Request.Context(), id, middlewares.UserID(ctx), domain.FarmPatch{
		Name:             req.Name,
		LocationText:     req.LocationText,
		Latitude:         req.Latitude,
		Longitude:        req.Longitude,
		ClearCoordinates: req.ClearCoordinates,
		Size:             req.Size,
		ClearSize:        req.ClearSize,
	})
	if err != nil {
		response.Error(ctx, c.log, err)
		return
	}
	ctx.JSON(http.StatusOK, updated)
}

// DELETE /api/v1/farms/:id
func (c *FarmController) delete(ctx *gin.Context) {
	id, ok := response.UUIDParam(ctx, "id")
	if !ok {
		return
	}
	if err := c.farms.DeleteFarm(ctx.Request.Context(), id, middlewares.UserID(ctx)); err != nil {
		response.Error(ctx, c.log, err)
		return
	}
	ctx.Status(http.StatusNoContent)
}
