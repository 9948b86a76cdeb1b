package jobs

import (
	"context"
	"time"
)

// Job фоновая задача планировщика.
// NextRun получает текущее время и возвращает момент следующего запуска;
// Run при ошибке повторяется по паузам планировщика.
type Job interface {
	Name() string
	NextRun(now time.Time) time.Time
	Run(ctx context.Context) error
}
