package server

import (
	"net/http"

	"mail-insights/internal/database"
	"mail-insights/internal/llm"
)

// HealthHandler reports service liveness.
type HealthHandler struct {
	db  *database.DB
	llm llm.Client
}

// NewHealthHandler creates a new health handler.
func NewHealthHandler(db *database.DB, llmClient llm.Client) *HealthHandler {
	return &HealthHandler{db: db, llm: llmClient}
}

// HealthResponse is the health endpoint's body.
type HealthResponse struct {
	Status   string `json:"status"`
	Database string `json:"database"`
	LLM      string `json:"llm"`
	Message  string `json:"message,omitempty"`
}

// HealthCheck handles GET /api/health.
func (h *HealthHandler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	response := HealthResponse{Status: "healthy", Database: "connected", LLM: "disabled"}

	if err := h.db.Ping(); err != nil {
		response.Status = "unhealthy"
		response.Database = "disconnected"
		response.Message = err.Error()
		writeJSON(w, http.StatusServiceUnavailable, response)
		return
	}

	if h.llm != nil && h.llm.IsEnabled() {
		if err := h.llm.HealthCheck(r.Context()); err != nil {
			// A down model degrades analysis but the API stays up.
			response.LLM = "unreachable"
			response.Message = err.Error()
		} else {
			response.LLM = "connected"
		}
	}

	writeJSON(w, http.StatusOK, response)
}
