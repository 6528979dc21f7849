package server

import (
	"database/sql"
	"encoding/json"
	"log/slog"
	"net/http"

	"mail-insights/internal/database"
)

// AccountHandler serves the email account endpoints.
type AccountHandler struct {
	db     *database.DB
	logger *slog.Logger
}

// NewAccountHandler creates a new account handler.
func NewAccountHandler(db *database.DB, logger *slog.Logger) *AccountHandler {
	return &AccountHandler{db: db, logger: logger.With("component", "account_handler")}
}

// createAccountRequest carries credentials on create only; they are never
// echoed back in responses.
type createAccountRequest struct {
	UserID     int    `json:"user_id"`
	Name       string `json:"name"`
	Address    string `json:"address"`
	IMAPHost   string `json:"imap_host"`
	IMAPPort   int    `json:"imap_port"`
	Username   string `json:"username"`
	AuthMethod string `json:"auth_method"`
	Password   string `json:"password"`
	OAuthToken string `json:"oauth_token"`
	UseTLS     *bool  `json:"use_tls"`
}

// Create handles POST /api/accounts.
func (h *AccountHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req createAccountRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid JSON", http.StatusBadRequest)
		return
	}
	if req.Address == "" || req.IMAPHost == "" || req.Username == "" {
		http.Error(w, "address, imap_host and username are required", http.StatusBadRequest)
		return
	}

	useTLS := true
	if req.UseTLS != nil {
		useTLS = *req.UseTLS
	}

	account := &database.EmailAccount{
		UserID:     req.UserID,
		Name:       req.Name,
		Address:    req.Address,
		IMAPHost:   req.IMAPHost,
		IMAPPort:   req.IMAPPort,
		Username:   req.Username,
		AuthMethod: req.AuthMethod,
		Password:   req.Password,
		OAuthToken: req.OAuthToken,
		UseTLS:     useTLS,
		IsActive:   true,
	}

	if err := h.db.Accounts.Create(account); err != nil {
		h.logger.Error("Failed to create account", "error", err)
		http.Error(w, "Failed to create account", http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusCreated, account)
}

// List handles GET /api/accounts with an optional user_id filter.
func (h *AccountHandler) List(w http.ResponseWriter, r *http.Request) {
	var (
		accounts []database.EmailAccount
		err      error
	)
	if userID := queryInt(r, "user_id", 0); userID > 0 {
		accounts, err = h.db.Accounts.ListByUser(userID)
	} else {
		accounts, err = h.db.Accounts.ListAll()
	}
	if err != nil {
		h.logger.Error("Failed to list accounts", "error", err)
		http.Error(w, "Failed to list accounts", http.StatusInternalServerError)
		return
	}
	if accounts == nil {
		accounts = []database.EmailAccount{}
	}
	writeJSON(w, http.StatusOK, accounts)
}

// Get handles GET /api/accounts/{id}.
func (h *AccountHandler) Get(w http.ResponseWriter, r *http.Request) {
	id, ok := idParam(r)
	if !ok {
		http.Error(w, "Invalid account ID", http.StatusBadRequest)
		return
	}

	account, err := h.db.Accounts.GetByID(id)
	if err == sql.ErrNoRows {
		http.Error(w, "Account not found", http.StatusNotFound)
		return
	}
	if err != nil {
		h.logger.Error("Failed to get account", "id", id, "error", err)
		http.Error(w, "Failed to get account", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, account)
}

// SetActive handles PUT /api/accounts/{id}/active.
func (h *AccountHandler) SetActive(w http.ResponseWriter, r *http.Request) {
	id, ok := idParam(r)
	if !ok {
		http.Error(w, "Invalid account ID", http.StatusBadRequest)
		return
	}

	var req struct {
		IsActive bool `json:"is_active"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid JSON", http.StatusBadRequest)
		return
	}

	if err := h.db.Accounts.SetActive(id, req.IsActive); err == sql.ErrNoRows {
		http.Error(w, "Account not found", http.StatusNotFound)
		return
	} else if err != nil {
		h.logger.Error("Failed to toggle account", "id", id, "error", err)
		http.Error(w, "Failed to toggle account", http.StatusInternalServerError)
		return
	}

	account, err := h.db.Accounts.GetByID(id)
	if err != nil {
		http.Error(w, "Failed to reload account", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, account)
}
