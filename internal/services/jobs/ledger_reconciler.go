package jobs

import (
	"context"
	"log/slog"
	"time"
)

const ledgerReconcilerName = "ledger-reconciler"

// Reconciler сверка балансов с журналом (usecases/ledger)
type Reconciler interface {
	Reconcile(ctx context.Context) (int, error)
}

// LedgerReconciler джоба сверки балансов, каждый день в hour:00 по location
type LedgerReconciler struct {
	reconciler Reconciler
	hour       int
	location   *time.Location
	log        *slog.Logger
}

func NewLedgerReconciler(reconciler Reconciler, hour int, location *time.Location, log *slog.Logger) *LedgerReconciler {
	if location == nil {
		location = time.UTC
	}
	return &LedgerReconciler{
		reconciler: reconciler,
		hour:       hour,
		location:   location,
		log:        log,
	}
}

func (j *LedgerReconciler) Name() string {
	return ledgerReconcilerName
}

// NextRun ближайшее hour:00 строго после now
func (j *LedgerReconciler) NextRun(now time.Time) time.Time {
	local := now.In(j.location)
	next := time.Date(local.Year(), local.Month(), local.Day(), j.hour, 0, 0, 0, j.location)
	if !next.After(local) {
		next = next.AddDate(0, 0, 1)
	}
	return next
}

func (j *LedgerReconciler) Run(ctx context.Context) error {
	repaired, err := j.reconciler.Reconcile(ctx)
	if err != nil {
		return err
	}
	j.log.Debug("ledger reconciliation job done", "repaired", repaired)
	return nil
}
