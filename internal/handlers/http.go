package handlers

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"strings"

	"github.com/vigilo/vigilo/internal/broadcast"
	"github.com/vigilo/vigilo/internal/sources"
)

// Reanalyzer re-runs the vision chain for a stored event
type Reanalyzer interface {
	Reanalyze(ctx context.Context, eventUUID string) error
}

// SourceStates reports connection states for the status endpoint
type SourceStates interface {
	States() map[string]sources.ConnState
}

// HTTPHandler handles the pipeline's HTTP surface: health, source
// status, realtime subscriptions and event reanalysis
type HTTPHandler struct {
	hub        *broadcast.Hub
	reanalyzer Reanalyzer
	manager    SourceStates
}

// NewHTTPHandler creates a new HTTP handler
func NewHTTPHandler(hub *broadcast.Hub, reanalyzer Reanalyzer, manager SourceStates) *HTTPHandler {
	return &HTTPHandler{
		hub:        hub,
		reanalyzer: reanalyzer,
		manager:    manager,
	}
}

// SetupRoutes configures all HTTP routes
func (h *HTTPHandler) SetupRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/health", h.handleHealth)
	mux.HandleFunc("/api/sources/status", h.handleSourceStatus)
	mux.HandleFunc("/api/events/", h.handleEventAction)
	mux.HandleFunc("/ws", h.hub.HandleWebSocket)
}

// handleHealth returns a simple health check response
func (h *HTTPHandler) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":      "ok",
		"subscribers": h.hub.SubscriberCount(),
	})
}

// handleSourceStatus returns the connection state of every managed
// source
func (h *HTTPHandler) handleSourceStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	writeJSON(w, http.StatusOK, h.manager.States())
}

// handleEventAction dispatches /api/events/{uuid}/reanalyze
func (h *HTTPHandler) handleEventAction(w http.ResponseWriter, r *http.Request) {
	rest := strings.TrimPrefix(r.URL.Path, "/api/events/")
	parts := strings.Split(rest, "/")
	if len(parts) != 2 || parts[0] == "" || parts[1] != "reanalyze" {
		http.Error(w, "Not found", http.StatusNotFound)
		return
	}
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	eventUUID := parts[0]
	if err := h.reanalyzer.Reanalyze(r.Context(), eventUUID); err != nil {
		log.Printf("Reanalysis of event %s failed: %v", eventUUID, err)
		writeJSON(w, http.StatusUnprocessableEntity, map[string]string{
			"error": err.Error(),
		})
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{
		"status":   "reanalyzed",
		"event_id": eventUUID,
	})
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		log.Printf("Error encoding response: %v", err)
	}
}
