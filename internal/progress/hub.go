package progress

import (
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// Stage names the phase an execution is in.
type Stage string

const (
	StageConnecting Stage = "CONNECTING"
	StageFetching   Stage = "FETCHING"
	StageStoring    Stage = "STORING"
	StageProcessing Stage = "PROCESSING"
	StageCompleted  Stage = "COMPLETED"
	StageFailed     Stage = "FAILED"
)

// Update is one progress event for an execution. Progress is a percentage
// and strictly increases over the life of an execution.
type Update struct {
	UserID          int       `json:"user_id"`
	AccountID       int       `json:"account_id"`
	ExecutionID     int       `json:"execution_id"`
	Stage           Stage     `json:"stage"`
	Progress        int       `json:"progress"`
	ProcessedEmails int       `json:"processed_emails"`
	FailedEmails    int       `json:"failed_emails"`
	TotalEmails     int       `json:"total_emails"`
	Message         string    `json:"message,omitempty"`
	Timestamp       time.Time `json:"timestamp"`
}

type topicKey struct {
	userID    int
	accountID int
}

// Hub is an in-process pub/sub channel for execution progress, keyed by
// (userID, accountID). Slow subscribers drop updates instead of blocking
// publishers.
type Hub struct {
	logger *slog.Logger

	mu          sync.Mutex
	subscribers map[topicKey]map[chan Update]struct{}
	highWater   map[int]int // executionID -> last published progress
}

const subscriberBuffer = 16

// NewHub creates an empty hub.
func NewHub(logger *slog.Logger) *Hub {
	return &Hub{
		logger:      logger.With("component", "progress_hub"),
		subscribers: make(map[topicKey]map[chan Update]struct{}),
		highWater:   make(map[int]int),
	}
}

// Subscribe registers for updates on one (user, account) topic. The caller
// must invoke the returned cancel func when done.
func (h *Hub) Subscribe(userID, accountID int) (<-chan Update, func()) {
	key := topicKey{userID: userID, accountID: accountID}
	ch := make(chan Update, subscriberBuffer)

	h.mu.Lock()
	if h.subscribers[key] == nil {
		h.subscribers[key] = make(map[chan Update]struct{})
	}
	h.subscribers[key][ch] = struct{}{}
	h.mu.Unlock()

	cancel := func() {
		h.mu.Lock()
		if subs, ok := h.subscribers[key]; ok {
			delete(subs, ch)
			if len(subs) == 0 {
				delete(h.subscribers, key)
			}
		}
		h.mu.Unlock()
		close(ch)
	}
	return ch, cancel
}

// Publish fans an update out to the topic's subscribers. Updates whose
// progress does not exceed the execution's high-water mark are rejected,
// keeping the per-execution stream strictly increasing. Terminal stages
// clear the high-water entry.
func (h *Hub) Publish(u Update) error {
	if u.Progress < 0 || u.Progress > 100 {
		return fmt.Errorf("progress %d out of range", u.Progress)
	}
	if u.Timestamp.IsZero() {
		u.Timestamp = time.Now()
	}

	h.mu.Lock()
	if last, ok := h.highWater[u.ExecutionID]; ok && u.Progress <= last {
		h.mu.Unlock()
		return fmt.Errorf("progress %d does not exceed high water %d for execution %d", u.Progress, last, u.ExecutionID)
	}
	h.highWater[u.ExecutionID] = u.Progress
	if u.Stage == StageCompleted || u.Stage == StageFailed {
		delete(h.highWater, u.ExecutionID)
	}

	key := topicKey{userID: u.UserID, accountID: u.AccountID}
	for ch := range h.subscribers[key] {
		select {
		case ch <- u:
		default:
			h.logger.Debug("Dropping update for slow subscriber",
				"execution_id", u.ExecutionID, "stage", u.Stage)
		}
	}
	h.mu.Unlock()
	return nil
}
