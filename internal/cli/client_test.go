package cli

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mail-insights/internal/database"
)

func TestHealthCheck(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/health", r.URL.Path)
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]string{"status": "healthy"})
	}))
	defer server.Close()

	client := NewClient(server.URL)
	assert.NoError(t, client.HealthCheck())
}

func TestHealthCheck_ServerDown(t *testing.T) {
	client := NewClientWithTimeout("http://127.0.0.1:1", time.Second)
	assert.Error(t, client.HealthCheck())
}

func TestGetSchedules(t *testing.T) {
	schedules := []database.Schedule{
		{ID: 1, Name: "daily", ProcessingType: database.ProcessingTypeRecurring},
		{ID: 2, Name: "backfill", ProcessingType: database.ProcessingTypeDateRange},
	}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "GET", r.Method)
		assert.Equal(t, "/api/schedules", r.URL.Path)
		json.NewEncoder(w).Encode(schedules)
	}))
	defer server.Close()

	client := NewClient(server.URL)
	got, err := client.GetSchedules()
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "daily", got[0].Name)
}

func TestRunSchedule(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "POST", r.Method)
		assert.Equal(t, "/api/schedules/7/run", r.URL.Path)
		json.NewEncoder(w).Encode(database.ScheduleExecution{
			ID: 42, ScheduleID: 7, Status: database.ExecutionStatusCompleted,
			ProcessedEmailsCount: 3,
		})
	}))
	defer server.Close()

	client := NewClient(server.URL)
	exec, err := client.RunSchedule(7)
	require.NoError(t, err)
	assert.Equal(t, 42, exec.ID)
	assert.Equal(t, database.ExecutionStatusCompleted, exec.Status)
}

func TestAPIError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "Schedule not found", http.StatusNotFound)
	}))
	defer server.Close()

	client := NewClient(server.URL)
	_, err := client.GetSchedule(999)
	require.Error(t, err)

	apiErr, ok := err.(*APIError)
	require.True(t, ok, "expected *APIError, got %T", err)
	assert.Equal(t, http.StatusNotFound, apiErr.Code)
	assert.Contains(t, apiErr.Message, "Schedule not found")
}

func TestGetEmails_QueryParams(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/emails", r.URL.Path)
		assert.Equal(t, "3", r.URL.Query().Get("account_id"))
		assert.Equal(t, "10", r.URL.Query().Get("limit"))
		assert.Equal(t, "20", r.URL.Query().Get("offset"))
		json.NewEncoder(w).Encode([]database.ProcessedEmail{})
	}))
	defer server.Close()

	client := NewClient(server.URL)
	_, err := client.GetEmails(3, 10, 20)
	assert.NoError(t, err)
}

func TestCreateAccount(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "POST", r.Method)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))

		var req CreateAccountRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "me@example.com", req.Address)

		w.WriteHeader(http.StatusCreated)
		json.NewEncoder(w).Encode(database.EmailAccount{ID: 5, Address: req.Address})
	}))
	defer server.Close()

	client := NewClient(server.URL)
	account, err := client.CreateAccount(&CreateAccountRequest{
		UserID: 1, Address: "me@example.com", IMAPHost: "imap.example.com",
		Username: "me@example.com",
	})
	require.NoError(t, err)
	assert.Equal(t, 5, account.ID)
}

func TestPreviewSchedule(t *testing.T) {
	next := time.Date(2026, 9, 1, 8, 0, 0, 0, time.UTC)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/schedules/4/preview", r.URL.Path)
		assert.Equal(t, "3", r.URL.Query().Get("count"))
		json.NewEncoder(w).Encode(PreviewResponse{ScheduleID: 4, NextFirings: []time.Time{next}})
	}))
	defer server.Close()

	client := NewClient(server.URL)
	preview, err := client.PreviewSchedule(4, 3)
	require.NoError(t, err)
	require.Len(t, preview.NextFirings, 1)
	assert.True(t, preview.NextFirings[0].Equal(next))
}
