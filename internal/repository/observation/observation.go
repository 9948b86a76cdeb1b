package observationRepo

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"iter"
	"log/slog"
	"strings"
	"time"

	"github.com/admin/agro-bots/farm-insights/internal/adapters/secondary/storage/pg"
	"github.com/admin/agro-bots/farm-insights/internal/domain"
	"github.com/admin/agro-bots/farm-insights/internal/ports/persistence"
	ports "github.com/admin/agro-bots/farm-insights/internal/ports/repository"
	"github.com/google/uuid"
)

const columns = "id, farm_id, kind, payload, observed_at"

type Repository struct {
	db  persistence.Persistence
	Log *slog.Logger
}

// New создаёт новый репозиторий наблюдений
func New(db persistence.Persistence, log *slog.Logger) ports.IObservationRepo {
	return &Repository{db: db, Log: log}
}

// CreateOrGet вставляет наблюдение или возвращает уже записанное с тем же ключом
func (r *Repository) CreateOrGet(ctx context.Context, obs *domain.Observation) (*domain.Observation, bool, error) {
	var stored domain.Observation
	err := r.db.Get(ctx, &stored, `
		INSERT INTO observations (`+columns+`)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (farm_id, kind, observed_at) DO NOTHING
		RETURNING `+columns,
		obs.ID, obs.FarmID, obs.Kind, obs.Payload, obs.ObservedAt)
	switch {
	case err == nil:
		r.Log.Debug("observation recorded", "observation_id", stored.ID, "farm_id", obs.FarmID, "kind", obs.Kind)
		return &stored, true, nil
	case pg.IsForeignKeyViolation(err):
		r.Log.Warn("observation for unknown farm", "farm_id", obs.FarmID)
		return nil, false, fmt.Errorf("farm %s: %w", obs.FarmID, domain.ErrNotFound)
	case !errors.Is(err, sql.ErrNoRows):
		r.Log.Error("failed to insert observation", "error", err, "farm_id", obs.FarmID, "kind", obs.Kind)
		return nil, false, fmt.Errorf("failed to insert observation: %w", err)
	}

	// конфликт ключа: возвращаем существующую запись
	err = r.db.Get(ctx, &stored, `
		SELECT `+columns+` FROM observations
		WHERE farm_id = $1 AND kind = $2 AND observed_at = $3`,
		obs.FarmID, obs.Kind, obs.ObservedAt)
	if err != nil {
		r.Log.Error("failed to load existing observation", "error", err, "farm_id", obs.FarmID, "kind", obs.Kind)
		return nil, false, fmt.Errorf("failed to load existing observation: %w", err)
	}
	return &stored, false, nil
}

// Latest последнее наблюдение по ферме и типу
func (r *Repository) Latest(ctx context.Context, farmID uuid.UUID, kind domain.ObservationKind) (*domain.Observation, error) {
	var obs domain.Observation
	err := r.db.Get(ctx, &obs, `
		SELECT `+columns+` FROM observations
		WHERE farm_id = $1 AND kind = $2
		ORDER BY observed_at DESC
		LIMIT 1`, farmID, kind)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		r.Log.Error("failed to get latest observation", "error", err, "farm_id", farmID, "kind", kind)
		return nil, fmt.Errorf("failed to get latest observation: %w", err)
	}
	return &obs, nil
}

// Range отдаёт строки курсора по мере итерации
func (r *Repository) Range(ctx context.Context, farmID uuid.UUID, kind domain.ObservationKind, from, to time.Time) iter.Seq2[*domain.Observation, error] {
	var (
		where = []string{"farm_id = $1", "kind = $2"}
		args  = []interface{}{farmID, kind}
	)
	if !from.IsZero() {
		args = append(args, from.UTC())
		where = append(where, fmt.Sprintf("observed_at >= $%d", len(args)))
	}
	if !to.IsZero() {
		args = append(args, to.UTC())
		where = append(where, fmt.Sprintf("observed_at <= $%d", len(args)))
	}
	query := `SELECT ` + columns + ` FROM observations WHERE ` + strings.Join(where, " AND ") + ` ORDER BY observed_at`

	return func(yield func(*domain.Observation, error) bool) {
		rows, err := r.db.Query(ctx, query, args...)
		if err != nil {
			r.Log.Error("failed to query observations", "error", err, "farm_id", farmID, "kind", kind)
			yield(nil, fmt.Errorf("failed to query observations: %w", err))
			return
		}
		defer rows.Close()

		for rows.Next() {
			var obs domain.Observation
			if err := rows.StructScan(&obs); err != nil {
				yield(nil, fmt.Errorf("failed to scan observation: %w", err))
				return
			}
			if !yield(&obs, nil) {
				return
			}
		}
		if err := rows.Err(); err != nil {
			yield(nil, fmt.Errorf("failed to iterate observations: %w", err))
		}
	}
}
