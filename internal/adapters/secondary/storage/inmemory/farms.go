package inmemory

import (
	"context"
	"fmt"
	"sort"

	"github.com/admin/agro-bots/farm-insights/internal/domain"
	"github.com/google/uuid"
)

type farmRepo Store

func (r *farmRepo) Create(ctx context.Context, farm *domain.Farm) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.farms[farm.ID]; ok {
		return fmt.Errorf("farm %s already exists: %w", farm.ID, domain.ErrConflict)
	}
	stored := *farm
	r.farms[farm.ID] = &stored
	return nil
}

func (r *farmRepo) GetByID(ctx context.Context, id uuid.UUID) (*domain.Farm, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	farm, ok := r.farms[id]
	if !ok {
		return nil, fmt.Errorf("farm %s: %w", id, domain.ErrNotFound)
	}
	out := *farm
	return &out, nil
}

func (r *farmRepo) List(ctx context.Context, owner *uuid.UUID) ([]*domain.Farm, error) {
	r.mu.RLock()
	farms := make([]*domain.Farm, 0, len(r.farms))
	for _, f := range r.farms {
		if owner != nil && f.OwnerUserID != *owner {
			continue
		}
		out := *f
		farms = append(farms, &out)
	}
	r.mu.RUnlock()

	sort.Slice(farms, func(i, j int) bool {
		if !farms[i].CreatedAt.Equal(farms[j].CreatedAt) {
			return farms[i].CreatedAt.After(farms[j].CreatedAt)
		}
		return farms[i].ID.String() < farms[j].ID.String()
	})
	return farms, nil
}

func (r *farmRepo) Update(ctx context.Context, id uuid.UUID, mutate func(*domain.Farm) error) (*domain.Farm, error) {
	unlock := r.farmLocks.Lock(id)
	defer unlock()

	farm, err := r.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := mutate(farm); err != nil {
		return nil, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.farms[id]; !ok {
		return nil, fmt.Errorf("farm %s: %w", id, domain.ErrNotFound)
	}
	stored := *farm
	r.farms[id] = &stored
	return farm, nil
}

func (r *farmRepo) Delete(ctx context.Context, id uuid.UUID, check func(*domain.Farm) error) error {
	unlock := r.farmLocks.Lock(id)
	defer unlock()

	farm, err := r.GetByID(ctx, id)
	if err != nil {
		return err
	}
	if err := check(farm); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.observations, id)
	delete(r.farms, id)
	return nil
}
