package workers

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"mail-insights/internal/cronexpr"
	"mail-insights/internal/database"
	"mail-insights/internal/email"
	"mail-insights/internal/pipeline"
	"mail-insights/internal/progress"
)

// ErrNoFutureDate is returned when a specific-dates schedule has no date
// left to scan.
var ErrNoFutureDate = errors.New("no future specific date remains")

// OrchestratorConfig carries the per-execution limits.
type OrchestratorConfig struct {
	MaxMessagesPerRun int
	DefaultBatchSize  int
}

// Orchestrator drives one execution of a schedule: date range, fetch,
// batching, pipeline, progress, finalize, advance.
type Orchestrator struct {
	db       *database.DB
	fetcher  email.Fetcher
	pipeline *pipeline.Pipeline
	cron     *cronexpr.Evaluator
	hub      *progress.Hub
	config   OrchestratorConfig
	logger   *slog.Logger
}

// NewOrchestrator wires an orchestrator from its collaborators.
func NewOrchestrator(db *database.DB, fetcher email.Fetcher, pipe *pipeline.Pipeline,
	cron *cronexpr.Evaluator, hub *progress.Hub, config OrchestratorConfig, logger *slog.Logger) *Orchestrator {
	if config.MaxMessagesPerRun <= 0 {
		config.MaxMessagesPerRun = 1000
	}
	if config.DefaultBatchSize <= 0 {
		config.DefaultBatchSize = 5
	}
	return &Orchestrator{
		db:       db,
		fetcher:  fetcher,
		pipeline: pipe,
		cron:     cron,
		hub:      hub,
		config:   config,
		logger:   logger.With("component", "orchestrator"),
	}
}

// Execute runs one full execution for the schedule. Per-message failures
// never fail the execution; only fatal errors (no computable date range,
// unreachable account, repository loss) do. The schedule is advanced on
// every outcome, so a failed run does not skip subsequent firings.
func (o *Orchestrator) Execute(ctx context.Context, schedule *database.Schedule) (*database.ScheduleExecution, error) {
	start := time.Now()

	exec, err := o.db.Executions.Create(schedule.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to create execution: %w", err)
	}
	logger := o.logger.With("schedule_id", schedule.ID, "execution_id", exec.ID)

	account, err := o.db.Accounts.GetByID(schedule.EmailAccountID)
	if err != nil {
		return o.fail(exec, schedule, start, fmt.Errorf("unknown account %d: %w", schedule.EmailAccountID, err))
	}
	defer o.fetcher.Close(account.ID)

	o.publish(schedule, exec, progress.StageConnecting, 5, database.ExecutionCounters{}, "")

	since, before, err := o.dateRange(schedule, start)
	if err != nil {
		return o.fail(exec, schedule, start, fmt.Errorf("cannot compute date range: %w", err))
	}
	logger.Info("Starting execution", "since", since, "before", before)

	fetcherAccount := toFetcherAccount(account)
	if err := o.fetcher.EnsureHealthy(ctx, fetcherAccount); err != nil {
		return o.fail(exec, schedule, start, fmt.Errorf("account unreachable: %w", err))
	}

	o.publish(schedule, exec, progress.StageFetching, 15, database.ExecutionCounters{}, "")

	messages, err := o.fetcher.FetchEmails(ctx, fetcherAccount, email.FetchOptions{
		Since:  &since,
		Before: &before,
		Limit:  o.config.MaxMessagesPerRun,
	})
	if err != nil {
		return o.fail(exec, schedule, start, fmt.Errorf("fetch failed: %w", err))
	}

	messages = o.dropProcessed(logger, messages)

	if len(messages) == 0 {
		logger.Info("No messages in range")
		return o.complete(exec, schedule, start, database.ExecutionCounters{})
	}

	batchSize := schedule.BatchSize
	if batchSize < 1 {
		batchSize = o.config.DefaultBatchSize
	}

	counters := database.ExecutionCounters{
		TotalEmailsCount:  len(messages),
		TotalBatchesCount: (len(messages) + batchSize - 1) / batchSize,
	}

	for offset := 0; offset < len(messages); offset += batchSize {
		end := offset + batchSize
		if end > len(messages) {
			end = len(messages)
		}
		batch := messages[offset:end]

		if ctx.Err() != nil {
			return o.cancel(exec, schedule, start, counters)
		}

		// Reaffirm the connection before each batch; a dead session fails
		// the whole batch but not the execution.
		if err := o.fetcher.EnsureHealthy(ctx, fetcherAccount); err != nil {
			logger.Warn("Connection unhealthy, failing batch", "batch_offset", offset, "error", err)
			counters.FailedEmailsCount += len(batch)
			counters.CompletedBatchesCount++
			o.reportBatch(exec, schedule, counters)
			continue
		}

		for _, msg := range batch {
			if ctx.Err() != nil {
				return o.cancel(exec, schedule, start, counters)
			}
			m := msg
			result := o.pipeline.Process(ctx, account.ID, &m, schedule, &exec.ID)
			if result.Success() {
				counters.ProcessedEmailsCount++
			} else {
				counters.FailedEmailsCount++
			}
		}

		counters.CompletedBatchesCount++
		o.reportBatch(exec, schedule, counters)
	}

	return o.complete(exec, schedule, start, counters)
}

// dropProcessed filters out messages whose analysis already completed, one
// repository query for the whole fetch instead of one per message. The
// pipeline keeps its own per-message guard for writes that race this check.
func (o *Orchestrator) dropProcessed(logger *slog.Logger, messages []email.CanonicalMessage) []email.CanonicalMessage {
	if len(messages) == 0 {
		return messages
	}

	ids := make([]string, len(messages))
	for i, m := range messages {
		ids[i] = m.MessageID
	}
	done, err := o.db.ProcessedEmails.FindProcessedMessageIDs(ids)
	if err != nil {
		logger.Warn("Dedupe lookup failed, processing full fetch", "error", err)
		return messages
	}
	if len(done) == 0 {
		return messages
	}

	kept := messages[:0]
	for _, m := range messages {
		if !done[m.MessageID] {
			kept = append(kept, m)
		}
	}
	logger.Info("Skipping already analyzed messages",
		"fetched", len(ids), "skipped", len(ids)-len(kept))
	return kept
}

// dateRange computes the fetch window per ProcessingType.
func (o *Orchestrator) dateRange(schedule *database.Schedule, now time.Time) (time.Time, time.Time, error) {
	switch schedule.ProcessingType {
	case database.ProcessingTypeDateRange:
		return *schedule.DateRangeFrom, *schedule.DateRangeTo, nil

	case database.ProcessingTypeRecurring:
		last, err := o.db.Executions.LastSuccessful(schedule.ID)
		if err != nil {
			return time.Time{}, time.Time{}, err
		}
		since := schedule.CreatedAt
		if last != nil && last.CompletedAt != nil {
			since = *last.CompletedAt
		}
		return since, now, nil

	case database.ProcessingTypeSpecificDates:
		// The date that fired this execution lands on the current minute, so
		// the search reference backs off by one minute to include it.
		ref := now.Truncate(time.Minute).Add(-time.Minute)
		next := schedule.NextSpecificDate(ref)
		if next == nil {
			return time.Time{}, time.Time{}, ErrNoFutureDate
		}
		return *next, next.Add(24 * time.Hour), nil
	}
	return time.Time{}, time.Time{}, fmt.Errorf("unknown processing type %q", schedule.ProcessingType)
}

func (o *Orchestrator) complete(exec *database.ScheduleExecution, schedule *database.Schedule,
	start time.Time, counters database.ExecutionCounters) (*database.ScheduleExecution, error) {

	if err := o.db.Executions.UpdateProgress(exec.ID, counters); err != nil {
		o.logger.Error("Failed to persist final counters", "execution_id", exec.ID, "error", err)
	}
	duration := time.Since(start).Milliseconds()
	if err := o.db.Executions.Finish(exec.ID, database.ExecutionStatusCompleted, duration, nil, nil); err != nil {
		o.logger.Error("Failed to finish execution", "execution_id", exec.ID, "error", err)
	}
	o.publish(schedule, exec, progress.StageCompleted, 100, counters, "")
	o.advance(schedule, true)

	return o.db.Executions.GetByID(exec.ID)
}

func (o *Orchestrator) fail(exec *database.ScheduleExecution, schedule *database.Schedule,
	start time.Time, cause error) (*database.ScheduleExecution, error) {

	o.logger.Error("Execution failed", "execution_id", exec.ID, "error", cause)

	duration := time.Since(start).Milliseconds()
	message := cause.Error()
	details := fmt.Sprintf("%s at %s", cause.Error(), time.Now().UTC().Format(time.RFC3339))
	if err := o.db.Executions.Finish(exec.ID, database.ExecutionStatusFailed, duration, &message, &details); err != nil {
		o.logger.Error("Failed to finish execution", "execution_id", exec.ID, "error", err)
	}
	o.publish(schedule, exec, progress.StageFailed, 100, database.ExecutionCounters{}, message)
	o.advance(schedule, false)

	updated, err := o.db.Executions.GetByID(exec.ID)
	if err != nil {
		return nil, cause
	}
	return updated, cause
}

func (o *Orchestrator) cancel(exec *database.ScheduleExecution, schedule *database.Schedule,
	start time.Time, counters database.ExecutionCounters) (*database.ScheduleExecution, error) {

	o.logger.Info("Execution cancelled", "execution_id", exec.ID)

	if err := o.db.Executions.UpdateProgress(exec.ID, counters); err != nil {
		o.logger.Error("Failed to persist counters on cancel", "execution_id", exec.ID, "error", err)
	}
	duration := time.Since(start).Milliseconds()
	message := "execution cancelled"
	if err := o.db.Executions.Finish(exec.ID, database.ExecutionStatusCancelled, duration, &message, nil); err != nil {
		o.logger.Error("Failed to finish execution", "execution_id", exec.ID, "error", err)
	}
	o.publish(schedule, exec, progress.StageFailed, 100, counters, message)

	// A cancelled run waits for the schedule's next cron firing instead of
	// restarting on the next tick.
	o.advance(schedule, true)

	return o.db.Executions.GetByID(exec.ID)
}

// advance records the firing outcome on the schedule and computes the next
// instant per ProcessingType. DATE_RANGE schedules retire after one run.
func (o *Orchestrator) advance(schedule *database.Schedule, ok bool) {
	now := time.Now().UTC()
	var nextAt *time.Time
	disable := false

	switch schedule.ProcessingType {
	case database.ProcessingTypeDateRange:
		disable = true

	case database.ProcessingTypeRecurring:
		next, err := o.cron.Next(schedule.CronExpression, schedule.Timezone, now)
		if err != nil {
			o.logger.Error("Cannot compute next firing, disabling schedule",
				"schedule_id", schedule.ID, "error", err)
			disable = true
		} else {
			nextAt = &next
		}

	case database.ProcessingTypeSpecificDates:
		nextAt = schedule.NextSpecificDate(now)
		if nextAt == nil {
			disable = true
		}
	}

	if err := o.db.Schedules.Advance(schedule.ID, nextAt, now, ok, disable); err != nil {
		o.logger.Error("Failed to advance schedule", "schedule_id", schedule.ID, "error", err)
	}
}

// reportBatch writes the counter snapshot and publishes progress after one
// batch. Progress climbs from 20 toward 95 as batches complete.
func (o *Orchestrator) reportBatch(exec *database.ScheduleExecution, schedule *database.Schedule,
	counters database.ExecutionCounters) {

	if err := o.db.Executions.UpdateProgress(exec.ID, counters); err != nil {
		o.logger.Error("Failed to update progress", "execution_id", exec.ID, "error", err)
	}

	pct := 20 + (75*counters.CompletedBatchesCount)/counters.TotalBatchesCount
	o.publish(schedule, exec, progress.StageProcessing, pct, counters, "")
}

func (o *Orchestrator) publish(schedule *database.Schedule, exec *database.ScheduleExecution,
	stage progress.Stage, pct int, counters database.ExecutionCounters, message string) {

	if o.hub == nil {
		return
	}
	if err := o.hub.Publish(progress.Update{
		UserID:          schedule.UserID,
		AccountID:       schedule.EmailAccountID,
		ExecutionID:     exec.ID,
		Stage:           stage,
		Progress:        pct,
		ProcessedEmails: counters.ProcessedEmailsCount,
		FailedEmails:    counters.FailedEmailsCount,
		TotalEmails:     counters.TotalEmailsCount,
		Message:         message,
	}); err != nil {
		o.logger.Debug("Progress update rejected", "execution_id", exec.ID, "error", err)
	}
}

// toFetcherAccount maps the stored account onto the fetcher's view of it.
func toFetcherAccount(account *database.EmailAccount) email.Account {
	return email.Account{
		ID:         account.ID,
		Address:    account.Address,
		IMAPHost:   account.IMAPHost,
		IMAPPort:   account.IMAPPort,
		Username:   account.Username,
		AuthMethod: account.AuthMethod,
		Password:   account.Password,
		OAuthToken: account.OAuthToken,
		UseTLS:     account.UseTLS,
	}
}
