package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/snarg/robohub/internal/session"
)

// handleWS upgrades the device channel and hands the socket to the hub. The
// reserved-id check runs before the upgrade so the client gets a proper HTTP
// status instead of an immediate close.
func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	deviceID := chi.URLParam(r, "device_id")
	if deviceID == "" {
		WriteError(w, http.StatusBadRequest, "device_id is required")
		return
	}
	if session.Reserved(deviceID) {
		WriteError(w, http.StatusForbidden, "device id is reserved")
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade already wrote the error response.
		s.log.Warn().Err(err).Str("device_id", deviceID).Msg("websocket upgrade failed")
		return
	}

	if err := s.hub.Accept(deviceID, conn); err != nil {
		s.log.Warn().Err(err).Str("device_id", deviceID).Msg("session rejected")
	}
}
