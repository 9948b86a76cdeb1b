package inmemory

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/admin/agro-bots/farm-insights/internal/domain"
	"github.com/google/uuid"
)

type insightRepo Store

func (r *insightRepo) Create(ctx context.Context, req *domain.InsightRequest, debit *domain.LedgerEntry) error {
	unlock := r.userLocks.Lock(req.UserID)
	defer unlock()

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.insights[req.ID]; ok {
		return fmt.Errorf("insight request %s already exists: %w", req.ID, domain.ErrConflict)
	}
	if debit != nil {
		if _, err := (*Store)(r).appendHeld(debit, true); err != nil {
			return err
		}
	}
	stored := *req
	r.insights[req.ID] = &stored
	return nil
}

func (r *insightRepo) Complete(ctx context.Context, id uuid.UUID, outcome domain.InsightOutcome, refund *domain.LedgerEntry) (*domain.InsightRequest, error) {
	r.mu.RLock()
	req, ok := r.insights[id]
	var userID uuid.UUID
	if ok {
		userID = req.UserID
	}
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("insight request %s: %w", id, domain.ErrNotFound)
	}

	unlock := r.userLocks.Lock(userID)
	defer unlock()

	r.mu.Lock()
	defer r.mu.Unlock()

	next := *req
	if err := outcome.Apply(&next); err != nil {
		return nil, fmt.Errorf("insight request %s is %s: %w", id, req.Status, err)
	}
	if refund != nil {
		if _, err := (*Store)(r).appendHeld(refund, false); err != nil {
			return nil, err
		}
	}
	*req = next
	out := next
	return &out, nil
}

func (r *insightRepo) GetByID(ctx context.Context, id uuid.UUID) (*domain.InsightRequest, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	req, ok := r.insights[id]
	if !ok {
		return nil, fmt.Errorf("insight request %s: %w", id, domain.ErrNotFound)
	}
	out := *req
	return &out, nil
}

func (r *insightRepo) ListByUser(ctx context.Context, userID uuid.UUID, limit int) ([]*domain.InsightRequest, error) {
	out := r.filter(func(req *domain.InsightRequest) bool { return req.UserID == userID })
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (r *insightRepo) ListStalePending(ctx context.Context, olderThan time.Time, limit int) ([]*domain.InsightRequest, error) {
	out := r.filter(func(req *domain.InsightRequest) bool {
		return req.Status == domain.InsightStatusPending && req.CreatedAt.Before(olderThan)
	})
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (r *insightRepo) filter(keep func(*domain.InsightRequest) bool) []*domain.InsightRequest {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []*domain.InsightRequest
	for _, req := range r.insights {
		if keep(req) {
			c := *req
			out = append(out, &c)
		}
	}
	return out
}
