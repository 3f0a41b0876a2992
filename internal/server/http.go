package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"slices"
	"strconv"
	"time"

	"github.com/gorilla/mux"

	"erpchat/internal/protocol"
)

const (
	defaultHistoryLimit = 30
	maxHistoryLimit     = 100
)

// handleHistory serves one page of a room's history, oldest to newest.
// Paging walks backwards: nextCursor is the id to pass as beforeId.
func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(mux.Vars(r)["id"], 10, 64)
	if err != nil || id <= 0 {
		writeError(w, http.StatusBadRequest, errors.New("invalid chat id"))
		return
	}
	query := r.URL.Query()
	kind := query.Get("type")
	if kind == "" {
		kind = string(protocol.RoomDirect)
	}
	room, err := protocol.NewRoom(kind, id)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	var beforeID int64
	if raw := query.Get("beforeId"); raw != "" {
		beforeID, err = strconv.ParseInt(raw, 10, 64)
		if err != nil || beforeID < 0 {
			writeError(w, http.StatusBadRequest, errors.New("invalid beforeId"))
			return
		}
	}
	limit := defaultHistoryLimit
	if raw := query.Get("limit"); raw != "" {
		limit, err = strconv.Atoi(raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, errors.New("invalid limit"))
			return
		}
		if limit <= 0 {
			limit = defaultHistoryLimit
		}
		limit = min(limit, maxHistoryLimit)
	}

	rows, err := s.store.ListMessages(r.Context(), room.String(), beforeID, limit+1)
	if err != nil {
		s.log.Error().Err(err).Str("room", room.String()).Msg("list messages")
		writeError(w, http.StatusInternalServerError, errors.New("could not load messages"))
		return
	}
	page := protocol.HistoryPage{
		Messages: make([]protocol.Message, 0, len(rows)),
		HasMore:  len(rows) > limit,
	}
	if page.HasMore {
		rows = rows[:limit]
	}
	for _, m := range rows {
		page.Messages = append(page.Messages, wireMessage(m))
	}
	slices.Reverse(page.Messages)
	if len(page.Messages) > 0 {
		oldest := page.Messages[0].ID
		page.NextCursor = &oldest
	}
	s.metrics.HistoryRequests.Inc()
	writeJSON(w, http.StatusOK, page)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()
	if err := s.store.Ping(ctx); err != nil {
		writeError(w, http.StatusServiceUnavailable, errors.New("database unavailable"))
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status":      "ok",
		"version":     s.cfg.Version,
		"connections": s.hub.ConnCount(),
		"rooms":       s.hub.RoomCount(),
		"online":      s.presence.Users(),
	})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{"error": err.Error()})
}
