package server

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mail-insights/internal/cronexpr"
	"mail-insights/internal/database"
	"mail-insights/internal/email"
	"mail-insights/internal/llm"
	"mail-insights/internal/pipeline"
	"mail-insights/internal/priority"
	"mail-insights/internal/progress"
	"mail-insights/internal/templates"
	"mail-insights/internal/workers"
)

const stubAnalysis = `{
	"category": "WORK",
	"priority": "HIGH",
	"sentiment": "NEUTRAL",
	"summary": "Quarterly report is due Friday.",
	"tags": ["report"],
	"confidence": 0.9,
	"importance_score": 60
}`

// stubLLM returns a fixed analysis for every message.
type stubLLM struct{}

func (s *stubLLM) ExecuteChat(ctx context.Context, req llm.ChatRequest) (string, error) {
	return stubAnalysis, nil
}
func (s *stubLLM) HealthCheck(ctx context.Context) error { return nil }
func (s *stubLLM) IsEnabled() bool                       { return true }

// stubFetcher serves canned messages without a network.
type stubFetcher struct {
	messages []email.CanonicalMessage
}

func (f *stubFetcher) TestConnection(ctx context.Context, account email.Account) email.ConnectionTestResult {
	return email.ConnectionTestResult{OK: true}
}

func (f *stubFetcher) FetchEmails(ctx context.Context, account email.Account, opts email.FetchOptions) ([]email.CanonicalMessage, error) {
	return f.messages, nil
}

func (f *stubFetcher) EnsureHealthy(ctx context.Context, account email.Account) error { return nil }
func (f *stubFetcher) Close(accountID int)                                            {}
func (f *stubFetcher) CloseAll()                                                      {}

type testEnv struct {
	db     *database.DB
	hub    *progress.Hub
	server *httptest.Server
}

func newTestEnv(t *testing.T, fetcher email.Fetcher) *testEnv {
	t.Helper()

	db, err := database.Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	logger := slog.Default()
	catalog := templates.NewCatalog(templates.BuiltinTemplates(), nil, 0.7, logger)
	pipe := pipeline.New(db.ProcessedEmails, catalog, &stubLLM{}, priority.NewEngine(logger),
		pipeline.Config{}, logger)
	hub := progress.NewHub(logger)
	cron := cronexpr.New()
	orchestrator := workers.NewOrchestrator(db, fetcher, pipe, cron, hub,
		workers.OrchestratorConfig{}, logger)

	router := NewRouter(Deps{
		DB:           db,
		LLM:          llm.NewNoOpClient(),
		Cron:         cron,
		Orchestrator: orchestrator,
		Hub:          hub,
		Logger:       logger,
	})

	srv := httptest.NewServer(router)
	t.Cleanup(srv.Close)

	return &testEnv{db: db, hub: hub, server: srv}
}

func (e *testEnv) request(t *testing.T, method, path string, body interface{}) *http.Response {
	t.Helper()
	var reader *bytes.Buffer
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewBuffer(data)
	} else {
		reader = bytes.NewBuffer(nil)
	}
	req, err := http.NewRequest(method, e.server.URL+path, reader)
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	return resp
}

func decodeBody(t *testing.T, resp *http.Response, v interface{}) {
	t.Helper()
	defer resp.Body.Close()
	require.NoError(t, json.NewDecoder(resp.Body).Decode(v))
}

func (e *testEnv) createAccount(t *testing.T) *database.EmailAccount {
	t.Helper()
	account := &database.EmailAccount{
		UserID: 1, Name: "work", Address: "user@example.com",
		IMAPHost: "imap.example.com", IMAPPort: 993,
		Username: "user@example.com", AuthMethod: "password",
		Password: "secret", UseTLS: true, IsActive: true,
	}
	require.NoError(t, e.db.Accounts.Create(account))
	return account
}

func dateRangeBody(accountID int) map[string]interface{} {
	from := time.Now().UTC().Add(-48 * time.Hour)
	to := time.Now().UTC()
	return map[string]interface{}{
		"user_id":          1,
		"email_account_id": accountID,
		"name":             "backfill",
		"processing_type":  "DATE_RANGE",
		"date_range_from":  from.Format(time.RFC3339),
		"date_range_to":    to.Format(time.RFC3339),
		"batch_size":       5,
		"llm_focus":        "general",
		"is_enabled":       true,
	}
}

func TestHealthEndpoint(t *testing.T) {
	env := newTestEnv(t, &stubFetcher{})

	resp := env.request(t, "GET", "/api/health", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	var health HealthResponse
	decodeBody(t, resp, &health)
	assert.Equal(t, "healthy", health.Status)
	assert.Equal(t, "connected", health.Database)
	assert.Equal(t, "disabled", health.LLM)
}

func TestCreateSchedule(t *testing.T) {
	env := newTestEnv(t, &stubFetcher{})
	account := env.createAccount(t)

	resp := env.request(t, "POST", "/api/schedules", dateRangeBody(account.ID))
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	var created database.Schedule
	decodeBody(t, resp, &created)
	assert.NotZero(t, created.ID)
	assert.NotNil(t, created.NextExecutionAt, "a new enabled schedule gets a firing instant")
}

func TestCreateSchedule_ValidationErrors(t *testing.T) {
	env := newTestEnv(t, &stubFetcher{})
	account := env.createAccount(t)

	missingName := dateRangeBody(account.ID)
	delete(missingName, "name")
	resp := env.request(t, "POST", "/api/schedules", missingName)
	resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	badCron := map[string]interface{}{
		"user_id":          1,
		"email_account_id": account.ID,
		"name":             "bad cron",
		"processing_type":  "RECURRING",
		"cron_expression":  "not a cron",
		"timezone":         "UTC",
		"batch_size":       5,
		"is_enabled":       true,
	}
	resp = env.request(t, "POST", "/api/schedules", badCron)
	resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestGetSchedule_NotFound(t *testing.T) {
	env := newTestEnv(t, &stubFetcher{})

	resp := env.request(t, "GET", "/api/schedules/9999", nil)
	resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestUpdateAndDeleteSchedule(t *testing.T) {
	env := newTestEnv(t, &stubFetcher{})
	account := env.createAccount(t)

	resp := env.request(t, "POST", "/api/schedules", dateRangeBody(account.ID))
	var created database.Schedule
	decodeBody(t, resp, &created)

	body := dateRangeBody(account.ID)
	body["name"] = "renamed"
	resp = env.request(t, "PUT", fmt.Sprintf("/api/schedules/%d", created.ID), body)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var updated database.Schedule
	decodeBody(t, resp, &updated)
	assert.Equal(t, "renamed", updated.Name)

	resp = env.request(t, "DELETE", fmt.Sprintf("/api/schedules/%d", created.ID), nil)
	resp.Body.Close()
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)

	resp = env.request(t, "GET", fmt.Sprintf("/api/schedules/%d", created.ID), nil)
	resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestRunSchedule(t *testing.T) {
	now := time.Now().UTC()
	fetcher := &stubFetcher{messages: []email.CanonicalMessage{
		{UID: 1, MessageID: "<m1@example.com>", Subject: "Report", From: "boss@example.com", Date: now.Add(-time.Hour)},
		{UID: 2, MessageID: "<m2@example.com>", Subject: "Invoice", From: "billing@example.com", Date: now.Add(-2 * time.Hour)},
	}}
	env := newTestEnv(t, fetcher)
	account := env.createAccount(t)

	resp := env.request(t, "POST", "/api/schedules", dateRangeBody(account.ID))
	var created database.Schedule
	decodeBody(t, resp, &created)

	resp = env.request(t, "POST", fmt.Sprintf("/api/schedules/%d/run", created.ID), nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var exec database.ScheduleExecution
	decodeBody(t, resp, &exec)
	assert.Equal(t, database.ExecutionStatusCompleted, exec.Status)
	assert.Equal(t, 2, exec.ProcessedEmailsCount)

	// The run shows up in the execution history.
	resp = env.request(t, "GET", fmt.Sprintf("/api/schedules/%d/executions", created.ID), nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var executions []database.ScheduleExecution
	decodeBody(t, resp, &executions)
	require.Len(t, executions, 1)
	assert.Equal(t, exec.ID, executions[0].ID)
}

func TestPreviewRecurring(t *testing.T) {
	env := newTestEnv(t, &stubFetcher{})
	account := env.createAccount(t)

	body := map[string]interface{}{
		"user_id":          1,
		"email_account_id": account.ID,
		"name":             "hourly",
		"processing_type":  "RECURRING",
		"cron_expression":  "0 * * * *",
		"timezone":         "UTC",
		"batch_size":       5,
		"is_enabled":       true,
	}
	resp := env.request(t, "POST", "/api/schedules", body)
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	var created database.Schedule
	decodeBody(t, resp, &created)

	resp = env.request(t, "GET", fmt.Sprintf("/api/schedules/%d/preview?count=3", created.ID), nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var preview previewResponse
	decodeBody(t, resp, &preview)
	require.Len(t, preview.NextFirings, 3)
	for i, firing := range preview.NextFirings {
		assert.Zero(t, firing.Minute(), "hourly firings land on the hour")
		if i > 0 {
			assert.True(t, firing.After(preview.NextFirings[i-1]))
		}
	}
}

func TestEmailEndpoints(t *testing.T) {
	env := newTestEnv(t, &stubFetcher{})
	account := env.createAccount(t)

	stored, err := env.db.ProcessedEmails.Upsert(&database.ProcessedEmail{
		MessageID:        "<done@example.com>",
		EmailAccountID:   account.ID,
		Subject:          "Done",
		FromAddress:      "peer@example.com",
		ReceivedAt:       time.Now().UTC(),
		ProcessingStatus: database.ProcessingStatusCompleted,
		Category:         database.CategoryWork,
		Priority:         database.PriorityMedium,
		Sentiment:        database.SentimentNeutral,
		Summary:          "All set.",
		Confidence:       0.9,
	})
	require.NoError(t, err)

	resp := env.request(t, "GET", fmt.Sprintf("/api/emails?account_id=%d", account.ID), nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var emails []database.ProcessedEmail
	decodeBody(t, resp, &emails)
	require.Len(t, emails, 1)
	assert.Equal(t, "<done@example.com>", emails[0].MessageID)

	resp = env.request(t, "GET", fmt.Sprintf("/api/emails/%d", stored.ID), nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var single database.ProcessedEmail
	decodeBody(t, resp, &single)
	assert.Equal(t, stored.ID, single.ID)

	resp = env.request(t, "GET", "/api/emails/9999", nil)
	resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestAccountEndpoints(t *testing.T) {
	env := newTestEnv(t, &stubFetcher{})

	body := map[string]interface{}{
		"user_id":     1,
		"name":        "personal",
		"address":     "me@example.com",
		"imap_host":   "imap.example.com",
		"username":    "me@example.com",
		"auth_method": "password",
		"password":    "secret",
	}
	resp := env.request(t, "POST", "/api/accounts", body)
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	var created database.EmailAccount
	decodeBody(t, resp, &created)
	assert.NotZero(t, created.ID)
	assert.Equal(t, 993, created.IMAPPort)

	resp = env.request(t, "GET", "/api/accounts", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var accounts []database.EmailAccount
	decodeBody(t, resp, &accounts)
	require.Len(t, accounts, 1)

	resp = env.request(t, "PUT", fmt.Sprintf("/api/accounts/%d/active", created.ID),
		map[string]interface{}{"is_active": false})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var toggled database.EmailAccount
	decodeBody(t, resp, &toggled)
	assert.False(t, toggled.IsActive)
}

func TestAccountCreate_MissingFields(t *testing.T) {
	env := newTestEnv(t, &stubFetcher{})

	resp := env.request(t, "POST", "/api/accounts", map[string]interface{}{"name": "incomplete"})
	resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestProgressStream(t *testing.T) {
	env := newTestEnv(t, &stubFetcher{})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, "GET",
		env.server.URL+"/api/progress/stream?user_id=1&account_id=1", nil)
	require.NoError(t, err)

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	// The subscription is registered inside the handler, so publish until one
	// update lands. Progress climbs to satisfy the strictly-increasing rule.
	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 1; i <= 100; i++ {
			select {
			case <-ctx.Done():
				return
			default:
			}
			env.hub.Publish(progress.Update{
				UserID: 1, AccountID: 1, ExecutionID: 1,
				Stage: progress.StageProcessing, Progress: i,
			})
			time.Sleep(10 * time.Millisecond)
		}
	}()

	reader := bufio.NewReader(resp.Body)
	var sawEvent, sawData bool
	for !sawEvent || !sawData {
		line, err := reader.ReadString('\n')
		require.NoError(t, err)
		if strings.HasPrefix(line, "event: progress") {
			sawEvent = true
		}
		if strings.HasPrefix(line, "data: ") {
			sawData = true
			var update progress.Update
			require.NoError(t, json.Unmarshal([]byte(strings.TrimPrefix(strings.TrimSpace(line), "data: ")), &update))
			assert.Equal(t, progress.StageProcessing, update.Stage)
		}
	}
	cancel()
	<-done
}

func TestStreamRequiresTopic(t *testing.T) {
	env := newTestEnv(t, &stubFetcher{})

	resp := env.request(t, "GET", "/api/progress/stream", nil)
	resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}
