package api

import (
	"net/http"
	"time"
)

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	status := "ok"
	dbStatus := "ok"
	if err := s.store.HealthCheck(r.Context()); err != nil {
		status = "degraded"
		dbStatus = err.Error()
	}

	code := http.StatusOK
	if status != "ok" {
		code = http.StatusServiceUnavailable
	}
	WriteJSON(w, code, map[string]any{
		"status":           status,
		"database":         dbStatus,
		"sessions":         s.hub.Count(),
		"pending_commands": s.commands.PendingCount(),
		"uptime_seconds":   int(time.Since(s.startedAt).Seconds()),
	})
}

func (s *Server) handleSystemLogs(w http.ResponseWriter, r *http.Request) {
	limit, err := ParseLimit(r, 200, 2000)
	if err != nil {
		WriteError(w, http.StatusBadRequest, err.Error())
		return
	}
	logs, err := s.store.ListSystemLogs(r.Context(), r.URL.Query().Get("level"), limit)
	if err != nil {
		s.log.Error().Err(err).Msg("failed to list system logs")
		WriteError(w, http.StatusInternalServerError, "failed to list system logs")
		return
	}
	WriteJSON(w, http.StatusOK, map[string]any{"logs": logs, "count": len(logs)})
}
