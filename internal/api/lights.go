package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/nerrad567/lightlink-core/internal/lighting"
)

// SetLightRequest is the body of POST /api/v1/lights/{channel}.
type SetLightRequest struct {
	Level *int `json:"level"`
}

func (s *Server) handleGetLights(w http.ResponseWriter, _ *http.Request) {
	if s.lights == nil {
		writeUnavailable(w, "lighting controller not configured")
		return
	}
	writeJSON(w, http.StatusOK, s.lights.Snapshot())
}

// handleSetLight publishes one channel level to the node.
func (s *Server) handleSetLight(w http.ResponseWriter, r *http.Request) {
	if s.lights == nil {
		writeUnavailable(w, "lighting controller not configured")
		return
	}

	channel, err := lighting.ParseChannel(chi.URLParam(r, "channel"))
	if err != nil {
		writeNotFound(w, err.Error())
		return
	}

	var req SetLightRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}
	if req.Level == nil {
		writeValidationError(w, "level is required")
		return
	}

	if err := s.lights.SetLevel(channel, *req.Level); err != nil {
		switch {
		case errors.Is(err, lighting.ErrLevelRange):
			writeValidationError(w, err.Error())
		default:
			s.logger.Warn("light command failed", "channel", channel, "level", *req.Level, "error", err)
			writeUnavailable(w, "command not delivered: "+err.Error())
		}
		return
	}

	writeJSON(w, http.StatusAccepted, map[string]any{
		"channel": channel,
		"level":   *req.Level,
	})
}
