package server

import (
	"database/sql"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"mail-insights/internal/cronexpr"
	"mail-insights/internal/database"
	"mail-insights/internal/workers"
)

// ScheduleHandler serves the schedule endpoints.
type ScheduleHandler struct {
	db           *database.DB
	cron         *cronexpr.Evaluator
	orchestrator *workers.Orchestrator
	logger       *slog.Logger
}

// NewScheduleHandler creates a new schedule handler.
func NewScheduleHandler(db *database.DB, cron *cronexpr.Evaluator,
	orchestrator *workers.Orchestrator, logger *slog.Logger) *ScheduleHandler {
	return &ScheduleHandler{
		db:           db,
		cron:         cron,
		orchestrator: orchestrator,
		logger:       logger.With("component", "schedule_handler"),
	}
}

// List handles GET /api/schedules with an optional user_id filter.
func (h *ScheduleHandler) List(w http.ResponseWriter, r *http.Request) {
	var (
		schedules []database.Schedule
		err       error
	)
	if userID := queryInt(r, "user_id", 0); userID > 0 {
		schedules, err = h.db.Schedules.ListByUser(userID)
	} else {
		schedules, err = h.db.Schedules.ListAll()
	}
	if err != nil {
		h.logger.Error("Failed to list schedules", "error", err)
		http.Error(w, "Failed to list schedules", http.StatusInternalServerError)
		return
	}
	if schedules == nil {
		schedules = []database.Schedule{}
	}
	writeJSON(w, http.StatusOK, schedules)
}

// Create handles POST /api/schedules.
func (h *ScheduleHandler) Create(w http.ResponseWriter, r *http.Request) {
	var schedule database.Schedule
	if err := json.NewDecoder(r.Body).Decode(&schedule); err != nil {
		http.Error(w, "Invalid JSON", http.StatusBadRequest)
		return
	}
	h.applyDefaults(&schedule)

	if err := h.validate(&schedule); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	if schedule.NextExecutionAt == nil && schedule.IsEnabled {
		next, err := h.initialNext(&schedule, time.Now().UTC())
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		schedule.NextExecutionAt = next
	}

	if err := h.db.Schedules.Create(&schedule); err != nil {
		if isUniqueViolation(err) {
			http.Error(w, "Account already has a default schedule", http.StatusConflict)
			return
		}
		// Validation failures from the store are client errors.
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	writeJSON(w, http.StatusCreated, schedule)
}

// Get handles GET /api/schedules/{id}.
func (h *ScheduleHandler) Get(w http.ResponseWriter, r *http.Request) {
	schedule, ok := h.load(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, schedule)
}

// Update handles PUT /api/schedules/{id}. The body fully replaces the
// schedule's mutable fields.
func (h *ScheduleHandler) Update(w http.ResponseWriter, r *http.Request) {
	existing, ok := h.load(w, r)
	if !ok {
		return
	}

	var schedule database.Schedule
	if err := json.NewDecoder(r.Body).Decode(&schedule); err != nil {
		http.Error(w, "Invalid JSON", http.StatusBadRequest)
		return
	}
	schedule.ID = existing.ID
	schedule.UserID = existing.UserID
	schedule.EmailAccountID = existing.EmailAccountID
	h.applyDefaults(&schedule)

	if err := h.validate(&schedule); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	if schedule.NextExecutionAt == nil && schedule.IsEnabled {
		next, err := h.initialNext(&schedule, time.Now().UTC())
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		schedule.NextExecutionAt = next
	}

	if err := h.db.Schedules.Update(&schedule); err != nil {
		if isUniqueViolation(err) {
			http.Error(w, "Account already has a default schedule", http.StatusConflict)
			return
		}
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	updated, err := h.db.Schedules.GetByID(schedule.ID)
	if err != nil {
		http.Error(w, "Failed to reload schedule", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, updated)
}

// Delete handles DELETE /api/schedules/{id}.
func (h *ScheduleHandler) Delete(w http.ResponseWriter, r *http.Request) {
	id, ok := idParam(r)
	if !ok {
		http.Error(w, "Invalid schedule ID", http.StatusBadRequest)
		return
	}

	if err := h.db.Schedules.Delete(id); err == sql.ErrNoRows {
		http.Error(w, "Schedule not found", http.StatusNotFound)
		return
	} else if err != nil {
		h.logger.Error("Failed to delete schedule", "id", id, "error", err)
		http.Error(w, "Failed to delete schedule", http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Run handles POST /api/schedules/{id}/run: an immediate ad-hoc execution,
// bypassing the dispatcher. The call blocks until the run settles and
// returns the finished execution record.
func (h *ScheduleHandler) Run(w http.ResponseWriter, r *http.Request) {
	schedule, ok := h.load(w, r)
	if !ok {
		return
	}

	exec, err := h.orchestrator.Execute(r.Context(), schedule)
	if exec == nil {
		h.logger.Error("Ad-hoc execution failed to start", "schedule_id", schedule.ID, "error", err)
		http.Error(w, "Failed to start execution", http.StatusInternalServerError)
		return
	}
	if err != nil {
		h.logger.Warn("Ad-hoc execution failed", "schedule_id", schedule.ID, "error", err)
	}
	writeJSON(w, http.StatusOK, exec)
}

// Executions handles GET /api/schedules/{id}/executions.
func (h *ScheduleHandler) Executions(w http.ResponseWriter, r *http.Request) {
	schedule, ok := h.load(w, r)
	if !ok {
		return
	}

	limit := queryInt(r, "limit", 50)
	executions, err := h.db.Executions.ListBySchedule(schedule.ID, limit)
	if err != nil {
		h.logger.Error("Failed to list executions", "schedule_id", schedule.ID, "error", err)
		http.Error(w, "Failed to list executions", http.StatusInternalServerError)
		return
	}
	if executions == nil {
		executions = []database.ScheduleExecution{}
	}
	writeJSON(w, http.StatusOK, executions)
}

// previewResponse lists the upcoming firing instants of a schedule.
type previewResponse struct {
	ScheduleID  int         `json:"schedule_id"`
	NextFirings []time.Time `json:"next_firings"`
}

// Preview handles GET /api/schedules/{id}/preview.
func (h *ScheduleHandler) Preview(w http.ResponseWriter, r *http.Request) {
	schedule, ok := h.load(w, r)
	if !ok {
		return
	}

	count := queryInt(r, "count", 5)
	if count < 1 {
		count = 1
	}
	if count > 20 {
		count = 20
	}

	now := time.Now().UTC()
	firings := []time.Time{}

	switch schedule.ProcessingType {
	case database.ProcessingTypeRecurring:
		next, err := h.cron.NextN(schedule.CronExpression, schedule.Timezone, now, count)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		firings = next

	case database.ProcessingTypeSpecificDates:
		ref := now
		for len(firings) < count {
			next := schedule.NextSpecificDate(ref)
			if next == nil {
				break
			}
			firings = append(firings, *next)
			ref = *next
		}

	case database.ProcessingTypeDateRange:
		if schedule.NextExecutionAt != nil {
			firings = append(firings, *schedule.NextExecutionAt)
		}
	}

	writeJSON(w, http.StatusOK, previewResponse{ScheduleID: schedule.ID, NextFirings: firings})
}

// load resolves the {id} path parameter to a schedule, writing the error
// response itself when it cannot.
func (h *ScheduleHandler) load(w http.ResponseWriter, r *http.Request) (*database.Schedule, bool) {
	id, ok := idParam(r)
	if !ok {
		http.Error(w, "Invalid schedule ID", http.StatusBadRequest)
		return nil, false
	}

	schedule, err := h.db.Schedules.GetByID(id)
	if err == sql.ErrNoRows {
		http.Error(w, "Schedule not found", http.StatusNotFound)
		return nil, false
	}
	if err != nil {
		h.logger.Error("Failed to get schedule", "id", id, "error", err)
		http.Error(w, "Failed to get schedule", http.StatusInternalServerError)
		return nil, false
	}
	return schedule, true
}

func (h *ScheduleHandler) applyDefaults(schedule *database.Schedule) {
	if schedule.Timezone == "" {
		schedule.Timezone = "UTC"
	}
	if schedule.BatchSize == 0 {
		schedule.BatchSize = 5
	}
	if schedule.LLMFocus == "" {
		schedule.LLMFocus = database.FocusGeneral
	}
}

// validate runs the model invariants plus the cron checks only the
// evaluator can do.
func (h *ScheduleHandler) validate(schedule *database.Schedule) error {
	if err := schedule.Validate(); err != nil {
		return err
	}
	if schedule.ProcessingType == database.ProcessingTypeRecurring {
		return h.cron.Validate(schedule.CronExpression, schedule.Timezone)
	}
	return nil
}

// initialNext computes the first firing instant for a newly stored schedule.
func (h *ScheduleHandler) initialNext(schedule *database.Schedule, now time.Time) (*time.Time, error) {
	switch schedule.ProcessingType {
	case database.ProcessingTypeDateRange:
		// One-shot ranges fire on the next dispatcher tick.
		return &now, nil

	case database.ProcessingTypeRecurring:
		next, err := h.cron.Next(schedule.CronExpression, schedule.Timezone, now)
		if err != nil {
			return nil, err
		}
		return &next, nil

	case database.ProcessingTypeSpecificDates:
		// A date on the current minute still counts as upcoming.
		ref := now.Truncate(time.Minute).Add(-time.Minute)
		return schedule.NextSpecificDate(ref), nil
	}
	return nil, nil
}
