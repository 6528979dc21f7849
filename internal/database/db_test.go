package database

import (
	"database/sql"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestDB(t *testing.T) *DB {
	t.Helper()
	db, err := Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

func seedAccount(t *testing.T, db *DB) *EmailAccount {
	t.Helper()
	account := &EmailAccount{
		UserID: 1, Name: "inbox", Address: "me@example.com",
		IMAPHost: "imap.example.com", Username: "me@example.com",
		UseTLS: true, IsActive: true,
	}
	require.NoError(t, db.Accounts.Create(account))
	return account
}

func completedRecord(accountID int, messageID string) *ProcessedEmail {
	return &ProcessedEmail{
		MessageID:        messageID,
		EmailAccountID:   accountID,
		Subject:          "hello",
		FromAddress:      "sender@example.com",
		ReceivedAt:       time.Date(2025, 1, 6, 8, 0, 0, 0, time.UTC),
		ProcessingStatus: ProcessingStatusCompleted,
		Category:         CategoryWork,
		Priority:         PriorityMedium,
		Sentiment:        SentimentNeutral,
		Summary:          "a work email",
		Confidence:       0.9,
		Entities: []EntityExtraction{
			{EntityType: EntityPerson, EntityValue: "Alice", Confidence: 0.8},
		},
		ActionItems: []ActionItem{
			{ActionType: ActionReply, Description: "answer Alice", Priority: PriorityMedium},
		},
	}
}

func TestProcessedEmails_UpsertRoundTrip(t *testing.T) {
	db := openTestDB(t)
	account := seedAccount(t, db)

	stored, err := db.ProcessedEmails.Upsert(completedRecord(account.ID, "a@x"))
	require.NoError(t, err)

	assert.NotZero(t, stored.ID)
	assert.Equal(t, ProcessingStatusCompleted, stored.ProcessingStatus)
	require.Len(t, stored.Entities, 1)
	assert.Equal(t, "Alice", stored.Entities[0].EntityValue)
	require.Len(t, stored.ActionItems, 1)
}

func TestProcessedEmails_CompletedIsImmutable(t *testing.T) {
	db := openTestDB(t)
	account := seedAccount(t, db)

	first, err := db.ProcessedEmails.Upsert(completedRecord(account.ID, "b@x"))
	require.NoError(t, err)

	attempt := completedRecord(account.ID, "b@x")
	attempt.Summary = "rewritten summary"
	attempt.ProcessingStatus = ProcessingStatusFailed

	second, err := db.ProcessedEmails.Upsert(attempt)
	require.NoError(t, err)

	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, "a work email", second.Summary)
	assert.Equal(t, ProcessingStatusCompleted, second.ProcessingStatus)
}

func TestProcessedEmails_FailedPromotedToCompleted(t *testing.T) {
	db := openTestDB(t)
	account := seedAccount(t, db)

	failed := completedRecord(account.ID, "c@x")
	failed.ProcessingStatus = ProcessingStatusFailed
	failed.Entities = nil
	failed.ActionItems = nil
	errMsg := "llm timeout"
	failed.ErrorMessage = &errMsg

	first, err := db.ProcessedEmails.Upsert(failed)
	require.NoError(t, err)
	assert.Equal(t, ProcessingStatusFailed, first.ProcessingStatus)

	promoted, err := db.ProcessedEmails.Upsert(completedRecord(account.ID, "c@x"))
	require.NoError(t, err)

	assert.Equal(t, first.ID, promoted.ID, "same message keeps its row")
	assert.Equal(t, ProcessingStatusCompleted, promoted.ProcessingStatus)
	assert.Nil(t, promoted.ErrorMessage)
	assert.Len(t, promoted.Entities, 1)
}

func TestProcessedEmails_ChildrenReplacedWholesale(t *testing.T) {
	db := openTestDB(t)
	account := seedAccount(t, db)

	failed := completedRecord(account.ID, "d@x")
	failed.ProcessingStatus = ProcessingStatusFailed
	_, err := db.ProcessedEmails.Upsert(failed)
	require.NoError(t, err)

	update := completedRecord(account.ID, "d@x")
	update.Entities = []EntityExtraction{
		{EntityType: EntityAmount, EntityValue: "$5", Confidence: 0.7},
		{EntityType: EntityDate, EntityValue: "2025-02-01", Confidence: 0.7},
	}
	update.ActionItems = nil

	stored, err := db.ProcessedEmails.Upsert(update)
	require.NoError(t, err)

	require.Len(t, stored.Entities, 2)
	assert.Empty(t, stored.ActionItems)
}

func TestProcessedEmails_FindProcessedMessageIDs(t *testing.T) {
	db := openTestDB(t)
	account := seedAccount(t, db)

	_, err := db.ProcessedEmails.Upsert(completedRecord(account.ID, "done@x"))
	require.NoError(t, err)

	failed := completedRecord(account.ID, "failed@x")
	failed.ProcessingStatus = ProcessingStatusFailed
	_, err = db.ProcessedEmails.Upsert(failed)
	require.NoError(t, err)

	found, err := db.ProcessedEmails.FindProcessedMessageIDs([]string{"done@x", "failed@x", "missing@x"})
	require.NoError(t, err)

	assert.True(t, found["done@x"])
	assert.False(t, found["failed@x"], "only COMPLETED rows count as processed")
	assert.False(t, found["missing@x"])
}

func TestProcessedEmails_DeleteOlderThan(t *testing.T) {
	db := openTestDB(t)
	account := seedAccount(t, db)

	old := completedRecord(account.ID, "old@x")
	old.ReceivedAt = time.Now().UTC().Add(-40 * 24 * time.Hour)
	_, err := db.ProcessedEmails.Upsert(old)
	require.NoError(t, err)

	fresh := completedRecord(account.ID, "fresh@x")
	fresh.ReceivedAt = time.Now().UTC()
	_, err = db.ProcessedEmails.Upsert(fresh)
	require.NoError(t, err)

	deleted, err := db.ProcessedEmails.DeleteOlderThan(time.Now().UTC().AddDate(0, 0, -30))
	require.NoError(t, err)
	assert.Equal(t, 1, deleted)

	_, err = db.ProcessedEmails.GetByMessageID("old@x")
	assert.ErrorIs(t, err, sql.ErrNoRows)
}

func TestCascadesHoldOnEveryPooledConnection(t *testing.T) {
	tmpfile, err := os.CreateTemp("", "mail-insights-test-*.db")
	require.NoError(t, err)
	tmpfile.Close()
	t.Cleanup(func() { os.Remove(tmpfile.Name()) })

	db, err := Open(tmpfile.Name())
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	account := seedAccount(t, db)
	schedule := seedRecurringSchedule(t, db, account.ID)
	exec, err := db.Executions.Create(schedule.ID)
	require.NoError(t, err)

	stored, err := db.ProcessedEmails.Upsert(completedRecord(account.ID, "cascade@x"))
	require.NoError(t, err)

	// Rotate the pool so the deletes run on fresh connections; the
	// foreign_keys setting must hold there too, not just on the connection
	// that happened to serve Open.
	db.SetMaxIdleConns(0)

	require.NoError(t, db.Schedules.Delete(schedule.ID))

	var count int
	require.NoError(t, db.QueryRow(
		"SELECT COUNT(*) FROM schedule_executions WHERE id = ?", exec.ID).Scan(&count))
	assert.Zero(t, count, "executions cascade away with their schedule")

	_, err = db.Exec("DELETE FROM processed_emails WHERE id = ?", stored.ID)
	require.NoError(t, err)

	require.NoError(t, db.QueryRow(
		"SELECT COUNT(*) FROM entity_extractions WHERE processed_email_id = ?", stored.ID).Scan(&count))
	assert.Zero(t, count, "entities cascade away with their email")
	require.NoError(t, db.QueryRow(
		"SELECT COUNT(*) FROM action_items WHERE processed_email_id = ?", stored.ID).Scan(&count))
	assert.Zero(t, count)
}

func TestProcessedEmails_CompletedKeepsChildrenOnOverwriteAttempt(t *testing.T) {
	db := openTestDB(t)
	account := seedAccount(t, db)

	_, err := db.ProcessedEmails.Upsert(completedRecord(account.ID, "e@x"))
	require.NoError(t, err)

	attempt := completedRecord(account.ID, "e@x")
	attempt.ProcessingStatus = ProcessingStatusFailed
	attempt.Summary = "late failure report"
	attempt.Entities = nil
	attempt.ActionItems = nil

	stored, err := db.ProcessedEmails.Upsert(attempt)
	require.NoError(t, err)

	assert.Equal(t, ProcessingStatusCompleted, stored.ProcessingStatus)
	assert.Equal(t, "a work email", stored.Summary)
	require.Len(t, stored.Entities, 1, "a completed analysis keeps its entities")
	require.Len(t, stored.ActionItems, 1)
}

func TestLocks_MutualExclusion(t *testing.T) {
	db := openTestDB(t)
	instant := time.Date(2025, 1, 6, 8, 0, 0, 0, time.UTC)

	token, acquired, err := db.Locks.TryAcquire(instant, []int{1, 2})
	require.NoError(t, err)
	assert.True(t, acquired)
	assert.NotEmpty(t, token)

	_, again, err := db.Locks.TryAcquire(instant, []int{3})
	require.NoError(t, err)
	assert.False(t, again, "second acquire for the same instant must lose")

	// Seconds within the same minute truncate to the same instant.
	_, sameMinute, err := db.Locks.TryAcquire(instant.Add(30*time.Second), []int{4})
	require.NoError(t, err)
	assert.False(t, sameMinute)

	require.NoError(t, db.Locks.Release(instant))
	require.NoError(t, db.Locks.Release(instant), "release is idempotent")

	_, reacquired, err := db.Locks.TryAcquire(instant, []int{5})
	require.NoError(t, err)
	assert.True(t, reacquired)
}

func TestExecutions_FinishExactlyOnce(t *testing.T) {
	db := openTestDB(t)
	account := seedAccount(t, db)
	schedule := seedRecurringSchedule(t, db, account.ID)

	exec, err := db.Executions.Create(schedule.ID)
	require.NoError(t, err)
	assert.Equal(t, ExecutionStatusRunning, exec.Status)

	require.NoError(t, db.Executions.Finish(exec.ID, ExecutionStatusCompleted, 1200, nil, nil))

	err = db.Executions.Finish(exec.ID, ExecutionStatusFailed, 1300, nil, nil)
	assert.ErrorIs(t, err, sql.ErrNoRows, "terminal state is written exactly once")

	final, err := db.Executions.GetByID(exec.ID)
	require.NoError(t, err)
	assert.Equal(t, ExecutionStatusCompleted, final.Status)
}

func TestExecutions_FinishRequiresTerminalStatus(t *testing.T) {
	db := openTestDB(t)
	account := seedAccount(t, db)
	schedule := seedRecurringSchedule(t, db, account.ID)

	exec, err := db.Executions.Create(schedule.ID)
	require.NoError(t, err)

	err = db.Executions.Finish(exec.ID, ExecutionStatusRunning, 0, nil, nil)
	assert.Error(t, err)
}

func TestExecutions_CountersAreMonotonic(t *testing.T) {
	db := openTestDB(t)
	account := seedAccount(t, db)
	schedule := seedRecurringSchedule(t, db, account.ID)

	exec, err := db.Executions.Create(schedule.ID)
	require.NoError(t, err)

	require.NoError(t, db.Executions.UpdateProgress(exec.ID, ExecutionCounters{
		TotalBatchesCount: 2, CompletedBatchesCount: 1,
		TotalEmailsCount: 10, ProcessedEmailsCount: 5, FailedEmailsCount: 0,
	}))

	// A lagging writer cannot move counters backwards.
	require.NoError(t, db.Executions.UpdateProgress(exec.ID, ExecutionCounters{
		TotalBatchesCount: 2, CompletedBatchesCount: 0,
		TotalEmailsCount: 10, ProcessedEmailsCount: 3, FailedEmailsCount: 1,
	}))

	current, err := db.Executions.GetByID(exec.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, current.CompletedBatchesCount)
	assert.Equal(t, 5, current.ProcessedEmailsCount)
	assert.Equal(t, 1, current.FailedEmailsCount)
}

func TestExecutions_LastSuccessful(t *testing.T) {
	db := openTestDB(t)
	account := seedAccount(t, db)
	schedule := seedRecurringSchedule(t, db, account.ID)

	last, err := db.Executions.LastSuccessful(schedule.ID)
	require.NoError(t, err)
	assert.Nil(t, last)

	failed, err := db.Executions.Create(schedule.ID)
	require.NoError(t, err)
	require.NoError(t, db.Executions.Finish(failed.ID, ExecutionStatusFailed, 100, nil, nil))

	completed, err := db.Executions.Create(schedule.ID)
	require.NoError(t, err)
	require.NoError(t, db.Executions.Finish(completed.ID, ExecutionStatusCompleted, 100, nil, nil))

	last, err = db.Executions.LastSuccessful(schedule.ID)
	require.NoError(t, err)
	require.NotNil(t, last)
	assert.Equal(t, completed.ID, last.ID)
}

func TestSchedules_AdvanceRecordsOutcome(t *testing.T) {
	db := openTestDB(t)
	account := seedAccount(t, db)
	schedule := seedRecurringSchedule(t, db, account.ID)

	next := time.Now().UTC().Add(time.Hour)
	fired := time.Now().UTC()

	require.NoError(t, db.Schedules.Advance(schedule.ID, &next, fired, true, false))

	updated, err := db.Schedules.GetByID(schedule.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, updated.TotalExecutions)
	assert.Equal(t, 0, updated.FailedExecutions)
	assert.True(t, updated.IsEnabled)
	require.NotNil(t, updated.NextExecutionAt)

	require.NoError(t, db.Schedules.Advance(schedule.ID, nil, fired, false, true))

	updated, err = db.Schedules.GetByID(schedule.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, updated.TotalExecutions)
	assert.Equal(t, 1, updated.FailedExecutions)
	assert.False(t, updated.IsEnabled)
	assert.Nil(t, updated.NextExecutionAt)
}

func TestSchedules_LoadDue(t *testing.T) {
	db := openTestDB(t)
	account := seedAccount(t, db)

	now := time.Now().UTC()
	past := now.Add(-time.Minute)
	future := now.Add(time.Hour)

	due := seedRecurringSchedule(t, db, account.ID)
	require.NoError(t, db.Schedules.Advance(due.ID, &past, now, true, false))

	notDue := seedRecurringSchedule(t, db, account.ID)
	require.NoError(t, db.Schedules.Advance(notDue.ID, &future, now, true, false))

	disabled := seedRecurringSchedule(t, db, account.ID)
	require.NoError(t, db.Schedules.Advance(disabled.ID, &past, now, true, false))
	require.NoError(t, db.Schedules.SetEnabled(disabled.ID, false))

	loaded, err := db.Schedules.LoadDue(now)
	require.NoError(t, err)
	require.Len(t, loaded, 1)
	assert.Equal(t, due.ID, loaded[0].ID)
}

func TestSchedules_ValidationOnCreate(t *testing.T) {
	db := openTestDB(t)
	account := seedAccount(t, db)

	bad := &Schedule{
		UserID: 1, EmailAccountID: account.ID, Name: "broken",
		ProcessingType: ProcessingTypeRecurring,
		BatchSize:      5, LLMFocus: FocusGeneral,
	}
	err := db.Schedules.Create(bad)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "cron expression")
}

func TestSchedules_JSONFieldsRoundTrip(t *testing.T) {
	db := openTestDB(t)
	account := seedAccount(t, db)

	schedule := seedRecurringSchedule(t, db, account.ID)
	schedule.SenderPriorities = map[string]Priority{"boss@x.com": PriorityUrgent}
	schedule.EmailTypePriorities = map[string]Priority{"INVOICE": PriorityHigh}
	require.NoError(t, db.Schedules.Update(schedule))

	loaded, err := db.Schedules.GetByID(schedule.ID)
	require.NoError(t, err)
	assert.Equal(t, PriorityUrgent, loaded.SenderPriorities["boss@x.com"])
	assert.Equal(t, PriorityHigh, loaded.EmailTypePriorities["INVOICE"])
}

func TestTemplates_UpsertBumpsVersionOnBodyChange(t *testing.T) {
	db := openTestDB(t)

	tmpl := &PromptTemplate{Name: "t1", Template: "v1 body", IsActive: true}
	require.NoError(t, db.Templates.Upsert(tmpl))

	loaded, err := db.Templates.GetByName("t1")
	require.NoError(t, err)
	assert.Equal(t, 1, loaded.Version)

	// Same body: version stays.
	require.NoError(t, db.Templates.Upsert(&PromptTemplate{Name: "t1", Template: "v1 body", IsActive: true}))
	loaded, err = db.Templates.GetByName("t1")
	require.NoError(t, err)
	assert.Equal(t, 1, loaded.Version)

	// Changed body: version bumps.
	require.NoError(t, db.Templates.Upsert(&PromptTemplate{Name: "t1", Template: "v2 body", IsActive: true}))
	loaded, err = db.Templates.GetByName("t1")
	require.NoError(t, err)
	assert.Equal(t, 2, loaded.Version)
	assert.Equal(t, "v2 body", loaded.Template)
}

func TestTemplates_ListActivePreservesInsertionOrder(t *testing.T) {
	db := openTestDB(t)

	for _, name := range []string{"zebra", "alpha", "middle"} {
		require.NoError(t, db.Templates.Upsert(&PromptTemplate{Name: name, Template: "x", IsActive: true}))
	}
	require.NoError(t, db.Templates.Upsert(&PromptTemplate{Name: "inactive", Template: "x", IsActive: false}))

	active, err := db.Templates.ListActive()
	require.NoError(t, err)
	require.Len(t, active, 3)
	assert.Equal(t, "zebra", active[0].Name)
	assert.Equal(t, "alpha", active[1].Name)
	assert.Equal(t, "middle", active[2].Name)
}

func seedRecurringSchedule(t *testing.T, db *DB, accountID int) *Schedule {
	t.Helper()
	schedule := &Schedule{
		UserID: 1, EmailAccountID: accountID, Name: "hourly scan",
		ProcessingType: ProcessingTypeRecurring,
		CronExpression: "0 * * * *", Timezone: "UTC",
		BatchSize: 5, LLMFocus: FocusGeneral,
		IsEnabled: true,
	}
	require.NoError(t, db.Schedules.Create(schedule))
	return schedule
}
