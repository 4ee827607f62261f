package api

import (
	"net/http"
	"runtime"
	"time"

	"github.com/nerrad567/lightlink-core/internal/lighting"
)

// StatusResponse is the body of GET /api/v1/status.
type StatusResponse struct {
	Timestamp     string             `json:"timestamp"`
	Version       string             `json:"version"`
	UptimeSeconds int64              `json:"uptime_seconds"`
	Runtime       RuntimeMetrics     `json:"runtime"`
	Connection    ConnectionStatus   `json:"connection"`
	Events        EventMetrics       `json:"events"`
	Lighting      *lighting.Snapshot `json:"lighting,omitempty"`
	JournalSize   *int               `json:"journal_entries,omitempty"`
}

// RuntimeMetrics contains Go runtime statistics.
type RuntimeMetrics struct {
	Goroutines    int     `json:"goroutines"`
	MemoryAllocMB float64 `json:"memory_alloc_mb"`
	NumGC         uint32  `json:"num_gc"`
}

// ConnectionStatus is the JSON view of the MQTT client statistics.
type ConnectionStatus struct {
	ClientID         string `json:"client_id"`
	State            string `json:"state"`
	Reconnecting     bool   `json:"reconnecting"`
	Attempts         int    `json:"attempts"`
	TotalAttempts    uint64 `json:"total_attempts"`
	Connects         uint64 `json:"connects"`
	LastAttempt      string `json:"last_attempt,omitempty"`
	BackoffMillis    int64  `json:"backoff_ms"`
	MessagesIn       uint64 `json:"messages_in"`
	MessagesOut      uint64 `json:"messages_out"`
	Subscriptions    int    `json:"subscriptions"`
	LastResponse     string `json:"last_response,omitempty"`
	MissedPings      int    `json:"missed_pings"`
	BytesIn          uint64 `json:"bytes_in"`
	BytesOut         uint64 `json:"bytes_out"`
	DroppedFrames    uint64 `json:"dropped_frames"`
	TransportFailure uint64 `json:"write_errors"`
}

// EventMetrics contains WebSocket hub statistics.
type EventMetrics struct {
	ConnectedClients int `json:"connected_clients"`
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339Nano)
}

func (s *Server) connectionStatus() ConnectionStatus {
	st := s.mqtt.Stats()
	return ConnectionStatus{
		ClientID:         s.mqtt.ClientID(),
		State:            st.State.String(),
		Reconnecting:     st.Reconnecting,
		Attempts:         st.Attempts,
		TotalAttempts:    st.TotalAttempts,
		Connects:         st.Connects,
		LastAttempt:      formatTime(st.LastAttempt),
		BackoffMillis:    st.CurrentBackoff.Milliseconds(),
		MessagesIn:       st.MessagesIn,
		MessagesOut:      st.MessagesOut,
		Subscriptions:    st.Subscriptions,
		LastResponse:     formatTime(st.Liveness.LastResponse),
		MissedPings:      st.Liveness.MissedPings,
		BytesIn:          st.Transport.BytesIn,
		BytesOut:         st.Transport.BytesOut,
		DroppedFrames:    st.Transport.Dropped,
		TransportFailure: st.Transport.WriteError,
	}
}

// handleStatus returns connection, runtime and lighting state in one document.
func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	var memStats runtime.MemStats
	runtime.ReadMemStats(&memStats)

	resp := StatusResponse{
		Timestamp:     time.Now().UTC().Format(time.RFC3339),
		Version:       s.version,
		UptimeSeconds: int64(time.Since(s.startTime).Seconds()),
		Runtime: RuntimeMetrics{
			Goroutines:    runtime.NumGoroutine(),
			MemoryAllocMB: float64(memStats.Alloc) / 1024 / 1024,
			NumGC:         memStats.NumGC,
		},
		Connection: s.connectionStatus(),
		Events:     EventMetrics{ConnectedClients: s.hub.ClientCount()},
	}

	if s.lights != nil {
		snap := s.lights.Snapshot()
		resp.Lighting = &snap
	}
	if s.journal != nil {
		if n, err := s.journal.Count(r.Context()); err == nil {
			resp.JournalSize = &n
		} else {
			s.logger.Warn("journal count failed", "error", err)
		}
	}

	writeJSON(w, http.StatusOK, resp)
}
