package worker

import (
	"context"
	"log/slog"
	"time"

	"github.com/Staycoo10/mini-airbnb/internal/reliability/retry"
)

// ActiveCounter recounts active reservations and publishes the result
type ActiveCounter interface {
	RefreshActiveGauge(ctx context.Context) (int, error)
}

// StatsWorker periodically resynchronises the active reservation gauge with
// the store count
type StatsWorker struct {
	counter  ActiveCounter
	logger   *slog.Logger
	interval time.Duration
	retry    *retry.Config
}

// NewStatsWorker creates a new stats worker
func NewStatsWorker(counter ActiveCounter, logger *slog.Logger, interval time.Duration) *StatsWorker {
	if logger == nil {
		logger = slog.Default()
	}
	if interval <= 0 {
		interval = time.Minute
	}
	return &StatsWorker{
		counter:  counter,
		logger:   logger,
		interval: interval,
		retry:    retry.DefaultConfig(),
	}
}

// Start runs the worker until ctx is cancelled. The gauge is refreshed once
// immediately and then on every tick.
func (w *StatsWorker) Start(ctx context.Context) error {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	w.logger.Info("stats worker started", slog.Duration("interval", w.interval))
	w.refresh(ctx)

	for {
		select {
		case <-ctx.Done():
			w.logger.Info("stats worker stopped")
			return nil
		case <-ticker.C:
			w.refresh(ctx)
		}
	}
}

func (w *StatsWorker) refresh(ctx context.Context) {
	n, err := retry.Do[int](ctx, w.retry, w.logger, "refresh active reservations", w.counter.RefreshActiveGauge)
	if err != nil {
		if ctx.Err() == nil {
			w.logger.Error("failed to refresh active reservations", slog.String("error", err.Error()))
		}
		return
	}
	w.logger.Debug("active reservations refreshed", slog.Int("active", n))
}
