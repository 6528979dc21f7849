package cli

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"mail-insights/internal/database"
)

// Client is an HTTP client for the mail-insights API.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// NewClient creates a client with the default timeout.
func NewClient(baseURL string) *Client {
	return NewClientWithTimeout(baseURL, 30*time.Second)
}

// NewClientWithTimeout creates a client with an explicit request timeout.
func NewClientWithTimeout(baseURL string, timeout time.Duration) *Client {
	return &Client{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}
}

// APIError is an error response from the API.
type APIError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (e *APIError) Error() string {
	return fmt.Sprintf("API error %d: %s", e.Code, e.Message)
}

// PreviewResponse lists the upcoming firing instants of a schedule.
type PreviewResponse struct {
	ScheduleID  int         `json:"schedule_id"`
	NextFirings []time.Time `json:"next_firings"`
}

// CreateAccountRequest carries the fields for a new email account.
type CreateAccountRequest struct {
	UserID     int    `json:"user_id"`
	Name       string `json:"name"`
	Address    string `json:"address"`
	IMAPHost   string `json:"imap_host"`
	IMAPPort   int    `json:"imap_port,omitempty"`
	Username   string `json:"username"`
	AuthMethod string `json:"auth_method,omitempty"`
	Password   string `json:"password,omitempty"`
	OAuthToken string `json:"oauth_token,omitempty"`
}

// doRequest performs an HTTP request and surfaces API errors.
func (c *Client) doRequest(method, path string, body interface{}) (*http.Response, error) {
	var reqBody io.Reader
	if body != nil {
		jsonData, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal request body: %w", err)
		}
		reqBody = bytes.NewBuffer(jsonData)
	}

	req, err := http.NewRequest(method, c.baseURL+path, reqBody)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}

	if resp.StatusCode >= 400 {
		defer resp.Body.Close()
		message, _ := io.ReadAll(resp.Body)
		text := strings.TrimSpace(string(message))
		if text == "" {
			text = resp.Status
		}
		return nil, &APIError{Code: resp.StatusCode, Message: text}
	}

	return resp, nil
}

func decode(resp *http.Response, v interface{}) error {
	defer resp.Body.Close()
	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}

// HealthCheck verifies the API server is reachable.
func (c *Client) HealthCheck() error {
	resp, err := c.doRequest("GET", "/api/health", nil)
	if err != nil {
		return err
	}
	resp.Body.Close()
	return nil
}

// GetSchedules returns all schedules.
func (c *Client) GetSchedules() ([]database.Schedule, error) {
	resp, err := c.doRequest("GET", "/api/schedules", nil)
	if err != nil {
		return nil, err
	}
	var schedules []database.Schedule
	return schedules, decode(resp, &schedules)
}

// GetSchedule returns one schedule by ID.
func (c *Client) GetSchedule(id int) (*database.Schedule, error) {
	resp, err := c.doRequest("GET", "/api/schedules/"+strconv.Itoa(id), nil)
	if err != nil {
		return nil, err
	}
	var schedule database.Schedule
	return &schedule, decode(resp, &schedule)
}

// CreateSchedule creates a schedule.
func (c *Client) CreateSchedule(schedule *database.Schedule) (*database.Schedule, error) {
	resp, err := c.doRequest("POST", "/api/schedules", schedule)
	if err != nil {
		return nil, err
	}
	var created database.Schedule
	return &created, decode(resp, &created)
}

// DeleteSchedule removes a schedule.
func (c *Client) DeleteSchedule(id int) error {
	resp, err := c.doRequest("DELETE", "/api/schedules/"+strconv.Itoa(id), nil)
	if err != nil {
		return err
	}
	resp.Body.Close()
	return nil
}

// RunSchedule triggers an immediate execution and blocks until it settles.
func (c *Client) RunSchedule(id int) (*database.ScheduleExecution, error) {
	resp, err := c.doRequest("POST", "/api/schedules/"+strconv.Itoa(id)+"/run", nil)
	if err != nil {
		return nil, err
	}
	var exec database.ScheduleExecution
	return &exec, decode(resp, &exec)
}

// GetExecutions returns a schedule's execution history.
func (c *Client) GetExecutions(scheduleID, limit int) ([]database.ScheduleExecution, error) {
	path := fmt.Sprintf("/api/schedules/%d/executions?limit=%d", scheduleID, limit)
	resp, err := c.doRequest("GET", path, nil)
	if err != nil {
		return nil, err
	}
	var executions []database.ScheduleExecution
	return executions, decode(resp, &executions)
}

// PreviewSchedule returns the next firing instants.
func (c *Client) PreviewSchedule(scheduleID, count int) (*PreviewResponse, error) {
	path := fmt.Sprintf("/api/schedules/%d/preview?count=%d", scheduleID, count)
	resp, err := c.doRequest("GET", path, nil)
	if err != nil {
		return nil, err
	}
	var preview PreviewResponse
	return &preview, decode(resp, &preview)
}

// GetEmails returns processed emails, optionally filtered by account.
func (c *Client) GetEmails(accountID, limit, offset int) ([]database.ProcessedEmail, error) {
	params := url.Values{}
	if accountID > 0 {
		params.Set("account_id", strconv.Itoa(accountID))
	}
	if limit > 0 {
		params.Set("limit", strconv.Itoa(limit))
	}
	if offset > 0 {
		params.Set("offset", strconv.Itoa(offset))
	}
	path := "/api/emails"
	if encoded := params.Encode(); encoded != "" {
		path += "?" + encoded
	}

	resp, err := c.doRequest("GET", path, nil)
	if err != nil {
		return nil, err
	}
	var emails []database.ProcessedEmail
	return emails, decode(resp, &emails)
}

// GetEmail returns one processed email with entities and action items.
func (c *Client) GetEmail(id int) (*database.ProcessedEmail, error) {
	resp, err := c.doRequest("GET", "/api/emails/"+strconv.Itoa(id), nil)
	if err != nil {
		return nil, err
	}
	var email database.ProcessedEmail
	return &email, decode(resp, &email)
}

// GetAccounts returns all email accounts.
func (c *Client) GetAccounts() ([]database.EmailAccount, error) {
	resp, err := c.doRequest("GET", "/api/accounts", nil)
	if err != nil {
		return nil, err
	}
	var accounts []database.EmailAccount
	return accounts, decode(resp, &accounts)
}

// CreateAccount registers a new email account.
func (c *Client) CreateAccount(req *CreateAccountRequest) (*database.EmailAccount, error) {
	resp, err := c.doRequest("POST", "/api/accounts", req)
	if err != nil {
		return nil, err
	}
	var account database.EmailAccount
	return &account, decode(resp, &account)
}
