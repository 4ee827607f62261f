package api

import (
	"net/http"
)

// handleReconnect forces the MQTT client through a fresh connect cycle. The
// call returns immediately; progress shows up in /status and /events.
func (s *Server) handleReconnect(w http.ResponseWriter, r *http.Request) {
	s.logger.Info("forced reconnect requested",
		"request_id", r.Context().Value(ctxKeyRequestID),
		"subject", r.Context().Value(ctxKeySubject),
	)
	s.mqtt.ForceReconnect()
	writeJSON(w, http.StatusAccepted, map[string]string{
		"status": "reconnecting",
		"state":  s.mqtt.State().String(),
	})
}
