package jobs

import (
	"context"
	"log/slog"
	"time"
)

const insightReaperName = "insight-reaper"

// StaleReaper закрывает зависшие запросы (usecases/insight)
type StaleReaper interface {
	ReapStale(ctx context.Context) (int, error)
}

// InsightReaper джоба для возврата токенов по запросам, зависшим в pending
type InsightReaper struct {
	reaper   StaleReaper
	interval time.Duration
	log      *slog.Logger
}

func NewInsightReaper(reaper StaleReaper, interval time.Duration, log *slog.Logger) *InsightReaper {
	return &InsightReaper{
		reaper:   reaper,
		interval: interval,
		log:      log,
	}
}

func (j *InsightReaper) Name() string {
	return insightReaperName
}

// NextRun каждые interval
func (j *InsightReaper) NextRun(now time.Time) time.Time {
	return now.Add(j.interval)
}

func (j *InsightReaper) Run(ctx context.Context) error {
	reaped, err := j.reaper.ReapStale(ctx)
	if err != nil {
		return err
	}
	if reaped > 0 {
		j.log.Warn("stale insight requests reaped", "count", reaped)
	}
	return nil
}
