package farmRepo

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"

	"github.com/admin/agro-bots/farm-insights/internal/domain"
	"github.com/admin/agro-bots/farm-insights/internal/ports/persistence"
	ports "github.com/admin/agro-bots/farm-insights/internal/ports/repository"
	"github.com/google/uuid"
)

type farmColumns struct {
	TableName    string
	ID           string
	OwnerUserID  string
	Name         string
	LocationText string
	Latitude     string
	Longitude    string
	Size         string
	CreatedAt    string
}

type Repository struct {
	db      persistence.Transactor
	Log     *slog.Logger
	columns farmColumns
}

// New создаёт новый репозиторий для работы с фермами
func New(db persistence.Transactor, log *slog.Logger) ports.IFarmRepo {
	return &Repository{
		db:  db,
		Log: log,
		columns: farmColumns{
			TableName:    "farms",
			ID:           "id",
			OwnerUserID:  "owner_user_id",
			Name:         "name",
			LocationText: "location_text",
			Latitude:     "latitude",
			Longitude:    "longitude",
			Size:         "size",
			CreatedAt:    "created_at",
		},
	}
}

func (r *Repository) allColumns() string {
	return fmt.Sprintf("%s, %s, %s, %s, %s, %s, %s, %s",
		r.columns.ID,
		r.columns.OwnerUserID,
		r.columns.Name,
		r.columns.LocationText,
		r.columns.Latitude,
		r.columns.Longitude,
		r.columns.Size,
		r.columns.CreatedAt)
}

// Create создаёт новую ферму
func (r *Repository) Create(ctx context.Context, farm *domain.Farm) error {
	query := fmt.Sprintf(`INSERT INTO %s (%s) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		r.columns.TableName,
		r.allColumns())
	err := r.db.Exec(ctx, query,
		farm.ID,
		farm.OwnerUserID,
		farm.Name,
		farm.LocationText,
		farm.Latitude,
		farm.Longitude,
		farm.Size,
		farm.CreatedAt)
	if err != nil {
		r.Log.Error("failed to create farm",
			"error", err,
			"farm_id", farm.ID,
			"owner_user_id", farm.OwnerUserID)
		return fmt.Errorf("failed to create farm: %w", err)
	}
	r.Log.Debug("farm created successfully", "farm_id", farm.ID, "owner_user_id", farm.OwnerUserID)
	return nil
}

// GetByID получает ферму по ID
func (r *Repository) GetByID(ctx context.Context, id uuid.UUID) (*domain.Farm, error) {
	return r.get(ctx, r.db, id, false)
}

func (r *Repository) get(ctx context.Context, q persistence.Persistence, id uuid.UUID, forUpdate bool) (*domain.Farm, error) {
	var farm domain.Farm
	query := fmt.Sprintf(`SELECT %s FROM %s WHERE %s = $1`,
		r.allColumns(),
		r.columns.TableName,
		r.columns.ID)
	if forUpdate {
		query += " FOR UPDATE"
	}
	err := q.Get(ctx, &farm, query, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			r.Log.Warn("farm not found", "farm_id", id)
			return nil, fmt.Errorf("farm %s: %w", id, domain.ErrNotFound)
		}
		r.Log.Error("failed to get farm by id", "error", err, "farm_id", id)
		return nil, fmt.Errorf("failed to get farm by id: %w", err)
	}
	return &farm, nil
}

// List возвращает фермы владельца или все фермы, от новых к старым
func (r *Repository) List(ctx context.Context, owner *uuid.UUID) ([]*domain.Farm, error) {
	var (
		farms []*domain.Farm
		err   error
	)
	if owner != nil {
		query := fmt.Sprintf(`SELECT %s FROM %s WHERE %s = $1 ORDER BY %s DESC, %s`,
			r.allColumns(),
			r.columns.TableName,
			r.columns.OwnerUserID,
			r.columns.CreatedAt,
			r.columns.ID)
		err = r.db.Select(ctx, &farms, query, *owner)
	} else {
		query := fmt.Sprintf(`SELECT %s FROM %s ORDER BY %s DESC, %s`,
			r.allColumns(),
			r.columns.TableName,
			r.columns.CreatedAt,
			r.columns.ID)
		err = r.db.Select(ctx, &farms, query)
	}
	if err != nil {
		r.Log.Error("failed to list farms", "error", err, "owner_user_id", owner)
		return nil, fmt.Errorf("failed to list farms: %w", err)
	}
	return farms, nil
}

// Update блокирует строку фермы и сохраняет результат mutate в той же транзакции
func (r *Repository) Update(ctx context.Context, id uuid.UUID, mutate func(*domain.Farm) error) (*domain.Farm, error) {
	var updated *domain.Farm
	err := r.db.WithTransaction(ctx, func(ctx context.Context, tx persistence.Transaction) error {
		farm, err := r.get(ctx, tx, id, true)
		if err != nil {
			return err
		}
		if err := mutate(farm); err != nil {
			return err
		}

		query := fmt.Sprintf(`UPDATE %s SET %s = $2, %s = $3, %s = $4, %s = $5, %s = $6 WHERE %s = $1`,
			r.columns.TableName,
			r.columns.Name,
			r.columns.LocationText,
			r.columns.Latitude,
			r.columns.Longitude,
			r.columns.Size,
			r.columns.ID)
		if err := tx.Exec(ctx, query,
			farm.ID,
			farm.Name,
			farm.LocationText,
			farm.Latitude,
			farm.Longitude,
			farm.Size); err != nil {
			r.Log.Error("failed to update farm", "error", err, "farm_id", id)
			return fmt.Errorf("failed to update farm: %w", err)
		}
		updated = farm
		return nil
	})
	if err != nil {
		return nil, err
	}
	r.Log.Debug("farm updated successfully", "farm_id", id)
	return updated, nil
}

// Delete удаляет наблюдения фермы и саму ферму в одной транзакции
func (r *Repository) Delete(ctx context.Context, id uuid.UUID, check func(*domain.Farm) error) error {
	var removedObservations int64
	err := r.db.WithTransaction(ctx, func(ctx context.Context, tx persistence.Transaction) error {
		farm, err := r.get(ctx, tx, id, true)
		if err != nil {
			return err
		}
		if err := check(farm); err != nil {
			return err
		}

		removedObservations, err = tx.ExecWithResult(ctx, `DELETE FROM observations WHERE farm_id = $1`, id)
		if err != nil {
			r.Log.Error("failed to delete farm observations", "error", err, "farm_id", id)
			return fmt.Errorf("failed to delete farm observations: %w", err)
		}

		query := fmt.Sprintf(`DELETE FROM %s WHERE %s = $1`, r.columns.TableName, r.columns.ID)
		if err := tx.Exec(ctx, query, id); err != nil {
			r.Log.Error("failed to delete farm", "error", err, "farm_id", id)
			return fmt.Errorf("failed to delete farm: %w", err)
		}
		return nil
	})
	if err != nil {
		return err
	}
	r.Log.Debug("farm deleted successfully", "farm_id", id, "observations_removed", removedObservations)
	return nil
}
