package workers

import (
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mail-insights/internal/cronexpr"
	"mail-insights/internal/database"
	"mail-insights/internal/pipeline"
	"mail-insights/internal/priority"
	"mail-insights/internal/progress"
	"mail-insights/internal/templates"
)

func newTestDispatcher(t *testing.T, fetcher *fakeFetcher) (*Dispatcher, *database.DB) {
	t.Helper()
	db, err := database.Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	logger := slog.Default()
	catalog := templates.NewCatalog(templates.BuiltinTemplates(), nil, 0.7, logger)
	pipe := pipeline.New(db.ProcessedEmails, catalog, &staticLLM{response: analysisResponse},
		priority.NewEngine(logger), pipeline.Config{}, logger)
	orchestrator := NewOrchestrator(db, fetcher, pipe, cronexpr.New(), progress.NewHub(logger),
		OrchestratorConfig{}, logger)

	d := NewDispatcher(db, orchestrator, DispatcherConfig{
		TickInterval:        time.Minute,
		StaleLockGrace:      10 * time.Minute,
		StaleExecutionGrace: 30 * time.Minute,
	}, logger)
	return d, db
}

func dueSchedule(t *testing.T, db *database.DB, accountID int, at time.Time) *database.Schedule {
	t.Helper()
	from := at.Add(-24 * time.Hour)
	to := at
	schedule := &database.Schedule{
		UserID: 1, EmailAccountID: accountID, Name: "due",
		ProcessingType: database.ProcessingTypeDateRange,
		DateRangeFrom:  &from, DateRangeTo: &to,
		BatchSize: 5, LLMFocus: database.FocusGeneral,
		IsEnabled: true, NextExecutionAt: &at,
	}
	require.NoError(t, db.Schedules.Create(schedule))
	return schedule
}

func TestTick_RunsDueSchedule(t *testing.T) {
	fetcher := &fakeFetcher{messages: rangeMessages(2)}
	d, db := newTestDispatcher(t, fetcher)
	account := createAccount(t, db)

	now := time.Now().UTC().Truncate(time.Minute)
	schedule := dueSchedule(t, db, account.ID, now.Add(-time.Minute))

	d.Tick(context.Background(), now)

	executions, err := db.Executions.ListBySchedule(schedule.ID, 10)
	require.NoError(t, err)
	require.Len(t, executions, 1)
	assert.Equal(t, database.ExecutionStatusCompleted, executions[0].Status)
	assert.Equal(t, 2, executions[0].ProcessedEmailsCount)

	// The instant's lock must be gone after the group settles.
	locks, err := db.Locks.List()
	require.NoError(t, err)
	assert.Empty(t, locks)
}

func TestTick_SkipsHeldInstant(t *testing.T) {
	fetcher := &fakeFetcher{messages: rangeMessages(2)}
	d, db := newTestDispatcher(t, fetcher)
	account := createAccount(t, db)

	now := time.Now().UTC().Truncate(time.Minute)
	instant := now.Add(-time.Minute)
	schedule := dueSchedule(t, db, account.ID, instant)

	// Another worker owns the instant.
	_, acquired, err := db.Locks.TryAcquire(instant, []int{schedule.ID})
	require.NoError(t, err)
	require.True(t, acquired)

	d.Tick(context.Background(), now)

	executions, err := db.Executions.ListBySchedule(schedule.ID, 10)
	require.NoError(t, err)
	assert.Empty(t, executions, "a held instant must not be dispatched")
	assert.Zero(t, fetcher.fetchCalls)
}

func TestTick_GroupsShareOneLock(t *testing.T) {
	fetcher := &fakeFetcher{}
	d, db := newTestDispatcher(t, fetcher)
	account := createAccount(t, db)

	now := time.Now().UTC().Truncate(time.Minute)
	instant := now.Add(-time.Minute)
	first := dueSchedule(t, db, account.ID, instant)
	second := dueSchedule(t, db, account.ID, instant)

	d.Tick(context.Background(), now)

	for _, id := range []int{first.ID, second.ID} {
		executions, err := db.Executions.ListBySchedule(id, 10)
		require.NoError(t, err)
		require.Len(t, executions, 1)
		assert.Equal(t, database.ExecutionStatusCompleted, executions[0].Status)
	}
}

func TestTick_NothingDue(t *testing.T) {
	fetcher := &fakeFetcher{}
	d, db := newTestDispatcher(t, fetcher)
	account := createAccount(t, db)

	future := time.Now().UTC().Add(time.Hour)
	dueSchedule(t, db, account.ID, future)

	d.Tick(context.Background(), time.Now().UTC())

	assert.Zero(t, fetcher.fetchCalls)
}

func TestJanitor_ReapsStaleLocks(t *testing.T) {
	fetcher := &fakeFetcher{}
	d, db := newTestDispatcher(t, fetcher)

	old := time.Now().UTC().Add(-time.Hour).Truncate(time.Minute)
	_, acquired, err := db.Locks.TryAcquire(old, []int{1})
	require.NoError(t, err)
	require.True(t, acquired)

	// Backdate the lock past the grace period.
	_, err = db.Exec("UPDATE execution_locks SET acquired_at = datetime('now', '-1 hour')")
	require.NoError(t, err)

	d.janitor()

	locks, err := db.Locks.List()
	require.NoError(t, err)
	assert.Empty(t, locks)
}

func TestJanitor_ReapsStaleRunningExecutions(t *testing.T) {
	fetcher := &fakeFetcher{}
	d, db := newTestDispatcher(t, fetcher)
	account := createAccount(t, db)
	schedule := dueSchedule(t, db, account.ID, time.Now().UTC())

	exec, err := db.Executions.Create(schedule.ID)
	require.NoError(t, err)

	_, err = db.Exec("UPDATE schedule_executions SET started_at = datetime('now', '-2 hours') WHERE id = ?", exec.ID)
	require.NoError(t, err)

	d.janitor()

	reaped, err := db.Executions.GetByID(exec.ID)
	require.NoError(t, err)
	assert.Equal(t, database.ExecutionStatusFailed, reaped.Status)
}

func TestGroupByInstant(t *testing.T) {
	a := time.Date(2025, 1, 6, 8, 0, 30, 0, time.UTC)
	b := time.Date(2025, 1, 6, 8, 0, 45, 0, time.UTC)
	c := time.Date(2025, 1, 6, 8, 1, 0, 0, time.UTC)

	groups := groupByInstant([]database.Schedule{
		{ID: 1, NextExecutionAt: &a},
		{ID: 2, NextExecutionAt: &b},
		{ID: 3, NextExecutionAt: &c},
		{ID: 4},
	})

	require.Len(t, groups, 2)
	assert.Len(t, groups[a.Truncate(time.Minute)], 2)
	assert.Len(t, groups[c.Truncate(time.Minute)], 1)
}
