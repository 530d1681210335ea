// Package janitor runs the periodic sweep: idle sessions, stale staging
// directories and expired history rows.
package janitor

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/mattjoyce/mediaflow/internal/config"
)

// Janitor runs the sweep on a fixed interval.
type Janitor struct {
	cfg      *config.Config
	sessions SessionSweeper
	staging  StagingCleaner
	history  HistoryPruner
	logger   *slog.Logger
	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// New creates a Janitor. history may be nil when no history store is configured.
func New(cfg *config.Config, sessions SessionSweeper, staging StagingCleaner, history HistoryPruner, logger *slog.Logger) *Janitor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Janitor{
		cfg:      cfg,
		sessions: sessions,
		staging:  staging,
		history:  history,
		logger:   logger.With("component", "janitor"),
		stopCh:   make(chan struct{}),
	}
}

// Start launches the tick loop.
func (j *Janitor) Start(ctx context.Context) {
	j.logger.Info("Starting janitor", "interval", j.cfg.Janitor.Interval.String())
	j.wg.Add(1)
	go j.tickLoop(ctx)
}

// Stop ends the tick loop and waits for an in-progress sweep.
func (j *Janitor) Stop() {
	j.stopOnce.Do(func() { close(j.stopCh) })
	j.wg.Wait()
	j.logger.Info("Janitor stopped")
}

func (j *Janitor) tickLoop(ctx context.Context) {
	defer j.wg.Done()

	interval := j.cfg.Janitor.Interval
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			j.tick(ctx)
		case <-j.stopCh:
			return
		case <-ctx.Done():
			return
		}
	}
}

// tick performs one sweep. Each step's failure is logged and does not stop
// the others.
func (j *Janitor) tick(ctx context.Context) {
	j.logger.Debug("Janitor tick")

	if evicted := j.sessions.EvictExpired(); len(evicted) > 0 {
		j.logger.Info("Evicted idle sessions", "count", len(evicted))
	}

	if maxAge := j.cfg.Storage.StagingMaxAge; maxAge > 0 {
		report, err := j.staging.Cleanup(ctx, maxAge)
		if err != nil {
			j.logger.Error("Failed to clean staging", "error", err)
		} else if report.DeletedDirs > 0 {
			j.logger.Info("Removed stale staging directories", "count", report.DeletedDirs)
		}
	}

	if j.history != nil && j.cfg.Storage.HistoryRetention > 0 {
		n, err := j.history.Prune(ctx, j.cfg.Storage.HistoryRetention)
		if err != nil {
			j.logger.Error("Failed to prune job history", "error", err)
		} else if n > 0 {
			j.logger.Info("Pruned job history", "rows", n)
		}
	}
}
