package api

import (
	"encoding/json"
	"net/http"
	"strconv"
)

const maxJournalLimit = 500

// handleJournal returns the most recent journal entries, newest first.
// ?limit= bounds the count (default 50, max 500).
func (s *Server) handleJournal(w http.ResponseWriter, r *http.Request) {
	if s.journal == nil {
		writeUnavailable(w, "journal not enabled")
		return
	}

	limit := 0
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			writeBadRequest(w, "limit must be a positive integer")
			return
		}
		limit = min(n, maxJournalLimit)
	}

	entries, err := s.journal.Recent(r.Context(), limit)
	if err != nil {
		s.logger.Error("reading journal failed", "error", err)
		writeInternalError(w, "failed to read journal")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"entries": entries,
		"count":   len(entries),
	})
}

// ClearJournalRequest guards DELETE /api/v1/journal.
type ClearJournalRequest struct {
	Confirm string `json:"confirm"`
}

// clearJournalConfirmation must be sent verbatim to clear the journal.
const clearJournalConfirmation = "CLEAR JOURNAL"

// handleClearJournal deletes every journal entry.
func (s *Server) handleClearJournal(w http.ResponseWriter, r *http.Request) {
	if s.journal == nil {
		writeUnavailable(w, "journal not enabled")
		return
	}

	var req ClearJournalRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}
	if req.Confirm != clearJournalConfirmation {
		writeBadRequest(w, `confirm field must be exactly "`+clearJournalConfirmation+`"`)
		return
	}

	if err := s.journal.Clear(r.Context()); err != nil {
		s.logger.Error("clearing journal failed", "error", err)
		writeInternalError(w, "failed to clear journal")
		return
	}

	s.logger.Info("journal cleared", "subject", r.Context().Value(ctxKeySubject))
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
