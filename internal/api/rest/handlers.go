// Package rest exposes the assistant over HTTP: an SSE chat stream, the
// confirmation endpoints for pending mutations, and cache introspection.
package rest

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/clintrovert/excelsior/internal/agent"
	"github.com/clintrovert/excelsior/internal/cache"
	"github.com/clintrovert/excelsior/pkg/types"
)

// Handler handles REST API requests.
type Handler struct {
	agent    *agent.Agent
	sessions *agent.Sessions
	cache    *cache.Store
	logger   *zap.Logger
}

// NewHandler creates a new REST handler.
func NewHandler(ag *agent.Agent, sessions *agent.Sessions, store *cache.Store, logger *zap.Logger) *Handler {
	return &Handler{
		agent:    ag,
		sessions: sessions,
		cache:    store,
		logger:   logger,
	}
}

// ChatRequest starts one assistant turn.
type ChatRequest struct {
	SessionID string `json:"session_id"`
	Message   string `json:"message"`
}

// ActionRequest confirms or cancels a pending mutation.
type ActionRequest struct {
	SessionID string `json:"session_id"`
	ActionID  string `json:"action_id"`
}

// MutationRequest is the caller-driven mutation path, bypassing the
// reasoning loop but not the executor.
type MutationRequest struct {
	ToolName string            `json:"tool_name"`
	Issues   []types.IssueSpec `json:"issues"`
}

// CSVRequest uploads pre-parsed CSV rows into a session.
type CSVRequest struct {
	SessionID string              `json:"session_id"`
	Rows      []map[string]string `json:"rows"`
}

// Chat handles POST /projects/{id}/chat, streaming the turn's events as SSE.
func (h *Handler) Chat(w http.ResponseWriter, r *http.Request) {
	configID := chi.URLParam(r, "id")

	var req ChatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if req.SessionID == "" || req.Message == "" {
		http.Error(w, "session_id and message are required", http.StatusBadRequest)
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	session := h.sessions.GetOrCreate(req.SessionID, configID)
	h.agent.RunTurn(r.Context(), session, req.Message, func(ev types.Event) {
		writeSSE(w, ev)
		flusher.Flush()
	})
}

// Confirm handles POST /projects/{id}/confirm.
func (h *Handler) Confirm(w http.ResponseWriter, r *http.Request) {
	configID := chi.URLParam(r, "id")

	var req ActionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	session := h.sessions.GetOrCreate(req.SessionID, configID)
	result, err := h.agent.Confirm(r.Context(), session, req.ActionID)
	if err != nil {
		h.logger.Error("failed to execute confirmed action",
			zap.String("action_id", req.ActionID), zap.Error(err))
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	writeJSON(w, result)
}

// Cancel handles POST /projects/{id}/cancel.
func (h *Handler) Cancel(w http.ResponseWriter, r *http.Request) {
	configID := chi.URLParam(r, "id")

	var req ActionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	session := h.sessions.GetOrCreate(req.SessionID, configID)
	if err := h.agent.Cancel(session, req.ActionID); err != nil {
		http.Error(w, err.Error(), http.StatusNotFound)
		return
	}

	writeJSON(w, map[string]bool{"cancelled": true})
}

// Mutate handles POST /projects/{id}/mutations, running executor logic
// directly for callers that manage their own confirmation flow.
func (h *Handler) Mutate(w http.ResponseWriter, r *http.Request) {
	configID := chi.URLParam(r, "id")

	var req MutationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	result, err := h.agent.ExecuteMutation(r.Context(), configID, req.ToolName, req.Issues)
	if err != nil {
		h.logger.Error("direct mutation failed", zap.String("tool", req.ToolName), zap.Error(err))
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	writeJSON(w, result)
}

// UploadCSV handles POST /projects/{id}/csv. Rows arrive pre-parsed; CSV
// ingestion itself is the uploader's concern.
func (h *Handler) UploadCSV(w http.ResponseWriter, r *http.Request) {
	configID := chi.URLParam(r, "id")

	var req CSVRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if req.SessionID == "" {
		http.Error(w, "session_id is required", http.StatusBadRequest)
		return
	}

	session := h.sessions.GetOrCreate(req.SessionID, configID)
	session.SetCSV(req.Rows)
	writeJSON(w, map[string]int{"rows": len(req.Rows)})
}

// CacheInfo handles GET /projects/{id}/cache.
func (h *Handler) CacheInfo(w http.ResponseWriter, r *http.Request) {
	configID := chi.URLParam(r, "id")
	writeJSON(w, h.cache.Info(configID))
}

// CacheInvalidate handles POST /projects/{id}/cache/invalidate.
func (h *Handler) CacheInvalidate(w http.ResponseWriter, r *http.Request) {
	configID := chi.URLParam(r, "id")
	h.cache.Invalidate(configID)
	w.WriteHeader(http.StatusNoContent)
}

// RegisterRoutes registers REST API routes.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Post("/projects/{id}/chat", h.Chat)
	r.Post("/projects/{id}/confirm", h.Confirm)
	r.Post("/projects/{id}/cancel", h.Cancel)
	r.Post("/projects/{id}/mutations", h.Mutate)
	r.Post("/projects/{id}/csv", h.UploadCSV)
	r.Get("/projects/{id}/cache", h.CacheInfo)
	r.Post("/projects/{id}/cache/invalidate", h.CacheInvalidate)
}

func writeSSE(w http.ResponseWriter, ev types.Event) {
	data, err := json.Marshal(ev.Data)
	if err != nil {
		data = []byte(`"event payload not serializable"`)
	}
	fmt.Fprintf(w, "event: %s\ndata: %s\n\n", ev.Type, data)
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(v)
}
