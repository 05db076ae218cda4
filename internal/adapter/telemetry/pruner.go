package telemetry

import (
	"context"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/poolgate/poolgate/internal/core/ports"
)

const DefaultPruneSchedule = "@every 10m"

// Pruner caps the request-log table at a configured row count on a cron
// schedule. Retention is best-effort; nothing in the data plane depends
// on it running.
type Pruner struct {
	store    ports.Store
	logger   *slog.Logger
	cron     *cron.Cron
	schedule string
	maxRows  int64
}

func NewPruner(store ports.Store, maxRows int64, schedule string, logger *slog.Logger) *Pruner {
	if schedule == "" {
		schedule = DefaultPruneSchedule
	}
	return &Pruner{
		store:    store,
		logger:   logger.With("component", "log_pruner"),
		cron:     cron.New(),
		schedule: schedule,
		maxRows:  maxRows,
	}
}

// Start registers the job and begins the schedule. A max of zero or less
// disables pruning entirely.
func (p *Pruner) Start() error {
	if p.maxRows <= 0 {
		p.logger.Info("log pruning disabled")
		return nil
	}
	if _, err := p.cron.AddFunc(p.schedule, p.runOnce); err != nil {
		return err
	}
	p.cron.Start()
	p.logger.Info("log pruner started", "schedule", p.schedule, "max_rows", p.maxRows)
	return nil
}

func (p *Pruner) runOnce() {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	pruned, err := p.store.PruneRequestLogs(ctx, p.maxRows)
	if err != nil {
		p.logger.Error("prune failed", "error", err)
		return
	}
	if pruned > 0 {
		p.logger.Info("pruned request logs", "rows", pruned, "max_rows", p.maxRows)
	}
}

// Stop halts the schedule and waits for a running job to finish.
func (p *Pruner) Stop() {
	ctx := p.cron.Stop()
	<-ctx.Done()
}
