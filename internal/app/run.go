package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"golang.org/x/sync/errgroup"
)

const shutdownTimeout = 10 * time.Second

func (a *App) runServices(ctx context.Context, deps *Dependencies) error {
	g, gCtx := errgroup.WithContext(ctx)

	g.Go(func() error {
		a.Log.Info("starting http server", "addr", deps.HTTPServer.Addr)
		if err := deps.HTTPServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server error: %w", err)
		}
		return nil
	})

	for name, consumer := range deps.KafkaConsumers {
		g.Go(func() error {
			a.Log.Info("starting kafka consumer", "name", name)
			return consumer.Start(gCtx)
		})
	}

	if deps.JobScheduler != nil {
		g.Go(func() error {
			return deps.JobScheduler.Run(gCtx)
		})
	}

	g.Go(func() error {
		<-gCtx.Done()
		a.Log.Info("received shutdown signal")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		deps.shutdown(shutdownCtx, a.Log)

		a.Log.Info("application shutdown completed")
		return nil
	})

	if err := g.Wait(); err != nil {
		a.Log.Error("application error", "error", err)
		return err
	}
	return nil
}

// shutdown останавливает входящий трафик раньше хранилищ:
// запросы в процессе успевают завершиться и вернуть токены.
func (d *Dependencies) shutdown(ctx context.Context, log *slog.Logger) {
	if err := d.HTTPServer.Shutdown(ctx); err != nil {
		log.Error("failed to shutdown http server", "error", err)
	}

	for name, consumer := range d.KafkaConsumers {
		closeLogged(log, "kafka consumer "+name, consumer.Close)
	}
	for name, producer := range d.KafkaProducers {
		closeLogged(log, "kafka producer "+name, producer.Close)
	}
	if d.Cache != nil {
		closeLogged(log, "cache", d.Cache.Close)
	}
	if d.DB != nil {
		closeLogged(log, "database", d.DB.Close)
	}
}

func closeLogged(log *slog.Logger, name string, closeFn func() error) {
	if err := closeFn(); err != nil {
		log.Error("failed to close "+name, "error", err)
	}
}
