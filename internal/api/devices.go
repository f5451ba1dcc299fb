package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
)

// handleListDevices serves the live registry view, which includes devices
// seen since startup whether or not they are still online.
func (s *Server) handleListDevices(w http.ResponseWriter, r *http.Request) {
	devices := s.devices.List()
	WriteJSON(w, http.StatusOK, map[string]any{"total": len(devices), "devices": devices})
}

// handleGetDevice prefers the live registry entry and falls back to the
// durable row for devices from before the last restart.
func (s *Server) handleGetDevice(w http.ResponseWriter, r *http.Request) {
	deviceID := chi.URLParam(r, "device_id")

	if d, ok := s.devices.Get(deviceID); ok {
		WriteJSON(w, http.StatusOK, d)
		return
	}

	row, err := s.store.GetDevice(r.Context(), deviceID)
	if err != nil {
		s.log.Error().Err(err).Str("device_id", deviceID).Msg("failed to get device")
		WriteError(w, http.StatusInternalServerError, "failed to get device")
		return
	}
	if row == nil {
		WriteError(w, http.StatusNotFound, "device not found")
		return
	}
	WriteJSON(w, http.StatusOK, row)
}

func (s *Server) handleStateHistory(w http.ResponseWriter, r *http.Request) {
	limit, err := ParseLimit(r, 100, 1000)
	if err != nil {
		WriteError(w, http.StatusBadRequest, err.Error())
		return
	}
	deviceID := chi.URLParam(r, "device_id")
	snapshots, err := s.store.ListStateSnapshots(r.Context(), deviceID, limit)
	if err != nil {
		s.log.Error().Err(err).Str("device_id", deviceID).Msg("failed to list state history")
		WriteError(w, http.StatusInternalServerError, "failed to list state history")
		return
	}
	WriteJSON(w, http.StatusOK, map[string]any{"device_id": deviceID, "snapshots": snapshots, "count": len(snapshots)})
}

func (s *Server) handleConnectionHistory(w http.ResponseWriter, r *http.Request) {
	limit, err := ParseLimit(r, 100, 1000)
	if err != nil {
		WriteError(w, http.StatusBadRequest, err.Error())
		return
	}
	deviceID := chi.URLParam(r, "device_id")
	events, err := s.store.ListConnectionEvents(r.Context(), deviceID, limit)
	if err != nil {
		s.log.Error().Err(err).Str("device_id", deviceID).Msg("failed to list connection history")
		WriteError(w, http.StatusInternalServerError, "failed to list connection history")
		return
	}
	WriteJSON(w, http.StatusOK, map[string]any{"device_id": deviceID, "events": events, "count": len(events)})
}
