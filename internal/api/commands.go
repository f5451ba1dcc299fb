package api

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/snarg/robohub/internal/database"
	"github.com/snarg/robohub/internal/voice"
)

// CommandRequest is the envelope form of the POST /command body.
type CommandRequest struct {
	DeviceType     string         `json:"device_type"`
	CommandName    string         `json:"command_name"`
	Payload        map[string]any `json:"payload,omitempty"`
	TimeoutSeconds int            `json:"timeout_seconds,omitempty"`
}

// handleDispatchCommand accepts both request forms: device_type and
// command_name as query parameters with the payload map as the bare body,
// or a JSON envelope {device_type, command_name, payload}.
func (s *Server) handleDispatchCommand(w http.ResponseWriter, r *http.Request) {
	if deviceType := r.URL.Query().Get("device_type"); deviceType != "" {
		commandName := r.URL.Query().Get("command_name")
		if commandName == "" {
			WriteError(w, http.StatusBadRequest, "command_name is required")
			return
		}
		payload, err := decodePayload(r)
		if err != nil {
			WriteError(w, http.StatusBadRequest, "payload must be a JSON object")
			return
		}
		s.dispatch(w, r, deviceType, commandName, payload, 0)
		return
	}

	var req CommandRequest
	if err := DecodeJSON(r, &req); err != nil {
		WriteError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if req.DeviceType == "" || req.CommandName == "" {
		WriteError(w, http.StatusBadRequest, "device_type and command_name are required")
		return
	}

	s.dispatch(w, r, req.DeviceType, req.CommandName, req.Payload, time.Duration(req.TimeoutSeconds)*time.Second)
}

// decodePayload reads the bare request body as the command payload map.
// An empty body means no payload.
func decodePayload(r *http.Request) (map[string]any, error) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		return nil, err
	}
	body = bytes.TrimSpace(body)
	if len(body) == 0 {
		return nil, nil
	}
	var payload map[string]any
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, err
	}
	return payload, nil
}

// handleServoPose is the shorthand for dashboard pose buttons.
func (s *Server) handleServoPose(w http.ResponseWriter, r *http.Request) {
	s.dispatchAlias(w, r, "servo", chi.URLParam(r, "pose"))
}

// handleWheelMove is the shorthand for dashboard drive buttons.
func (s *Server) handleWheelMove(w http.ResponseWriter, r *http.Request) {
	s.dispatchAlias(w, r, "wheel", chi.URLParam(r, "direction"))
}

func (s *Server) dispatchAlias(w http.ResponseWriter, r *http.Request, deviceType, name string) {
	route, ok := voice.LookupRoute(name)
	if !ok || route.DeviceType != deviceType {
		WriteError(w, http.StatusNotFound, "unknown command: "+name)
		return
	}
	s.dispatch(w, r, route.DeviceType, route.CommandName, map[string]any{"source": "api"}, 0)
}

func (s *Server) dispatch(w http.ResponseWriter, r *http.Request, deviceType, commandName string, payload map[string]any, ackTimeout time.Duration) {
	rec, err := s.commands.Dispatch(r.Context(), deviceType, commandName, payload, ackTimeout)
	if err != nil {
		WriteError(w, http.StatusBadRequest, err.Error())
		return
	}
	// 200 for every well-formed dispatch; no_targets is reported in the
	// record's status, not the HTTP code.
	WriteJSON(w, http.StatusOK, rec)
}

func (s *Server) handleCommandLogs(w http.ResponseWriter, r *http.Request) {
	limit, err := ParseLimit(r, 100, 1000)
	if err != nil {
		WriteError(w, http.StatusBadRequest, err.Error())
		return
	}
	f := database.CommandFilter{
		Status:     r.URL.Query().Get("status"),
		DeviceType: r.URL.Query().Get("device_type"),
		Limit:      limit,
	}
	logs, err := s.store.ListCommands(r.Context(), f)
	if err != nil {
		s.log.Error().Err(err).Msg("failed to list command logs")
		WriteError(w, http.StatusInternalServerError, "failed to list command logs")
		return
	}
	WriteJSON(w, http.StatusOK, map[string]any{"commands": logs, "count": len(logs)})
}

func (s *Server) handleGetCommand(w http.ResponseWriter, r *http.Request) {
	rec, err := s.store.GetCommand(r.Context(), chi.URLParam(r, "command_id"))
	if err != nil {
		s.log.Error().Err(err).Msg("failed to get command")
		WriteError(w, http.StatusInternalServerError, "failed to get command")
		return
	}
	if rec == nil {
		WriteError(w, http.StatusNotFound, "command not found")
		return
	}
	WriteJSON(w, http.StatusOK, rec)
}
