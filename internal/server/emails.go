package server

import (
	"database/sql"
	"log/slog"
	"net/http"

	"mail-insights/internal/database"
)

// EmailHandler serves the processed email endpoints.
type EmailHandler struct {
	db     *database.DB
	logger *slog.Logger
}

// NewEmailHandler creates a new email handler.
func NewEmailHandler(db *database.DB, logger *slog.Logger) *EmailHandler {
	return &EmailHandler{db: db, logger: logger.With("component", "email_handler")}
}

// List handles GET /api/emails with optional account_id, limit and offset.
func (h *EmailHandler) List(w http.ResponseWriter, r *http.Request) {
	limit := queryInt(r, "limit", 50)
	offset := queryInt(r, "offset", 0)
	if offset < 0 {
		offset = 0
	}

	var (
		emails []database.ProcessedEmail
		err    error
	)
	if accountID := queryInt(r, "account_id", 0); accountID > 0 {
		emails, err = h.db.ProcessedEmails.ListByAccount(accountID, limit, offset)
	} else {
		emails, err = h.db.ProcessedEmails.ListAll(limit, offset)
	}
	if err != nil {
		h.logger.Error("Failed to list processed emails", "error", err)
		http.Error(w, "Failed to list emails", http.StatusInternalServerError)
		return
	}
	if emails == nil {
		emails = []database.ProcessedEmail{}
	}
	writeJSON(w, http.StatusOK, emails)
}

// Get handles GET /api/emails/{id}, returning the record with its
// extracted entities and action items.
func (h *EmailHandler) Get(w http.ResponseWriter, r *http.Request) {
	id, ok := idParam(r)
	if !ok {
		http.Error(w, "Invalid email ID", http.StatusBadRequest)
		return
	}

	email, err := h.db.ProcessedEmails.GetByID(id)
	if err == sql.ErrNoRows {
		http.Error(w, "Email not found", http.StatusNotFound)
		return
	}
	if err != nil {
		h.logger.Error("Failed to get processed email", "id", id, "error", err)
		http.Error(w, "Failed to get email", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, email)
}
