package workers

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"mail-insights/internal/database"
)

// DispatcherConfig carries the scheduling cadence and janitor thresholds.
type DispatcherConfig struct {
	TickInterval        time.Duration
	StaleLockGrace      time.Duration
	StaleExecutionGrace time.Duration
	RetentionDays       int
}

// Dispatcher is the minute-cadence scheduling loop. Each tick it discovers
// due schedules, groups them by firing instant, claims each instant through
// the execution-lock table, and fans the group out to the orchestrator.
type Dispatcher struct {
	db           *database.DB
	orchestrator *Orchestrator
	config       DispatcherConfig
	logger       *slog.Logger

	wg sync.WaitGroup
}

// NewDispatcher wires a dispatcher.
func NewDispatcher(db *database.DB, orchestrator *Orchestrator, config DispatcherConfig, logger *slog.Logger) *Dispatcher {
	if config.TickInterval <= 0 {
		config.TickInterval = time.Minute
	}
	if config.StaleLockGrace <= 0 {
		config.StaleLockGrace = 10 * time.Minute
	}
	if config.StaleExecutionGrace <= 0 {
		config.StaleExecutionGrace = 30 * time.Minute
	}
	return &Dispatcher{
		db:           db,
		orchestrator: orchestrator,
		config:       config,
		logger:       logger.With("component", "dispatcher"),
	}
}

// Run blocks until the context is cancelled. The janitor pass runs at
// startup and then once per tick; a cancelled context cancels every running
// execution and waits for them to settle.
func (d *Dispatcher) Run(ctx context.Context) {
	d.logger.Info("Dispatcher starting", "tick_interval", d.config.TickInterval)
	d.janitor()

	ticker := time.NewTicker(d.config.TickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			d.logger.Info("Dispatcher stopping, waiting for executions to settle")
			d.wg.Wait()
			return
		case <-ticker.C:
			d.janitor()
			d.tick(ctx, time.Now().UTC())
		}
	}
}

// tick dispatches every due schedule group. Exported for tests via Tick.
func (d *Dispatcher) tick(ctx context.Context, now time.Time) {
	schedules, err := d.db.Schedules.LoadDue(now)
	if err != nil {
		d.logger.Error("Failed to load due schedules", "error", err)
		return
	}
	if len(schedules) == 0 {
		return
	}

	for instant, group := range groupByInstant(schedules) {
		d.dispatchGroup(ctx, instant, group)
	}
}

// Tick runs a single dispatch pass. Used by tests and the ad-hoc CLI path.
func (d *Dispatcher) Tick(ctx context.Context, now time.Time) {
	d.tick(ctx, now)
	d.wg.Wait()
}

// dispatchGroup claims one firing instant and runs its schedules
// concurrently. The lock release is deferred inside the spawned goroutine
// so it happens on every exit path after the whole group settles.
func (d *Dispatcher) dispatchGroup(ctx context.Context, instant time.Time, group []database.Schedule) {
	token, acquired, err := d.db.Locks.TryAcquire(instant, scheduleIDs(group))
	if err != nil {
		d.logger.Error("Lock acquisition failed", "execution_time", instant, "error", err)
		return
	}
	if !acquired {
		d.logger.Warn("Execution instant already locked, skipping group",
			"execution_time", instant, "schedules", len(group))
		return
	}

	d.logger.Info("Dispatching schedule group",
		"execution_time", instant, "schedules", len(group), "owner_token", token)

	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		defer func() {
			if err := d.db.Locks.Release(instant); err != nil {
				d.logger.Error("Failed to release execution lock", "execution_time", instant, "error", err)
			}
		}()

		var groupWG sync.WaitGroup
		for i := range group {
			schedule := group[i]
			groupWG.Add(1)
			go func() {
				defer groupWG.Done()
				if _, err := d.orchestrator.Execute(ctx, &schedule); err != nil {
					d.logger.Error("Schedule execution failed",
						"schedule_id", schedule.ID, "error", err)
				}
			}()
		}
		groupWG.Wait()
	}()
}

// janitor reclaims stale locks, reaps hung RUNNING executions, and applies
// the retention sweep when configured.
func (d *Dispatcher) janitor() {
	if reaped, err := d.db.Locks.ReapStale(d.config.StaleLockGrace); err != nil {
		d.logger.Error("Lock janitor failed", "error", err)
	} else if reaped > 0 {
		d.logger.Warn("Reclaimed stale execution locks", "count", reaped)
	}

	cutoff := time.Now().UTC().Add(-d.config.StaleExecutionGrace)
	if reaped, err := d.db.Executions.ReapStale(cutoff); err != nil {
		d.logger.Error("Execution janitor failed", "error", err)
	} else if reaped > 0 {
		d.logger.Warn("Reaped stale running executions", "count", reaped)
	}

	if d.config.RetentionDays > 0 {
		retentionCutoff := time.Now().UTC().AddDate(0, 0, -d.config.RetentionDays)
		if deleted, err := d.db.ProcessedEmails.DeleteOlderThan(retentionCutoff); err != nil {
			d.logger.Error("Retention sweep failed", "error", err)
		} else if deleted > 0 {
			d.logger.Info("Retention sweep removed old emails", "count", deleted)
		}
	}
}

// groupByInstant buckets schedules by their minute-truncated firing time.
func groupByInstant(schedules []database.Schedule) map[time.Time][]database.Schedule {
	groups := make(map[time.Time][]database.Schedule)
	for _, s := range schedules {
		if s.NextExecutionAt == nil {
			continue
		}
		instant := s.NextExecutionAt.UTC().Truncate(time.Minute)
		groups[instant] = append(groups[instant], s)
	}
	return groups
}

func scheduleIDs(schedules []database.Schedule) []int {
	ids := make([]int, 0, len(schedules))
	for _, s := range schedules {
		ids = append(ids, s.ID)
	}
	return ids
}
