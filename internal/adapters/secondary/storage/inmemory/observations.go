package inmemory

import (
	"context"
	"fmt"
	"iter"
	"sort"
	"time"

	"github.com/admin/agro-bots/farm-insights/internal/domain"
	"github.com/google/uuid"
)

type observationRepo Store

func (r *observationRepo) CreateOrGet(ctx context.Context, obs *domain.Observation) (*domain.Observation, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.farms[obs.FarmID]; !ok {
		return nil, false, fmt.Errorf("farm %s: %w", obs.FarmID, domain.ErrNotFound)
	}

	list := r.observations[obs.FarmID]
	for _, existing := range list {
		if existing.Kind == obs.Kind && existing.ObservedAt.Equal(obs.ObservedAt) {
			return copyObservation(existing), false, nil
		}
	}

	stored := copyObservation(obs)
	i := sort.Search(len(list), func(i int) bool { return list[i].ObservedAt.After(stored.ObservedAt) })
	list = append(list, nil)
	copy(list[i+1:], list[i:])
	list[i] = stored
	r.observations[obs.FarmID] = list

	return copyObservation(stored), true, nil
}

func (r *observationRepo) Latest(ctx context.Context, farmID uuid.UUID, kind domain.ObservationKind) (*domain.Observation, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	list := r.observations[farmID]
	for i := len(list) - 1; i >= 0; i-- {
		if list[i].Kind == kind {
			return copyObservation(list[i]), nil
		}
	}
	return nil, nil
}

// Range снимает срез наблюдений в начале каждого прохода и отдаёт его без блокировки
func (r *observationRepo) Range(ctx context.Context, farmID uuid.UUID, kind domain.ObservationKind, from, to time.Time) iter.Seq2[*domain.Observation, error] {
	return func(yield func(*domain.Observation, error) bool) {
		r.mu.RLock()
		var snapshot []*domain.Observation
		for _, o := range r.observations[farmID] {
			if o.Kind != kind {
				continue
			}
			if !from.IsZero() && o.ObservedAt.Before(from) {
				continue
			}
			if !to.IsZero() && o.ObservedAt.After(to) {
				continue
			}
			snapshot = append(snapshot, o)
		}
		r.mu.RUnlock()

		for _, o := range snapshot {
			if err := ctx.Err(); err != nil {
				yield(nil, err)
				return
			}
			if !yield(copyObservation(o), nil) {
				return
			}
		}
	}
}

func copyObservation(o *domain.Observation) *domain.Observation {
	out := *o
	out.Payload = make(domain.ObservationPayload, len(o.Payload))
	for k, v := range o.Payload {
		out.Payload[k] = v
	}
	return &out
}
