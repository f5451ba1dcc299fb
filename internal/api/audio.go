package api

import (
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/snarg/robohub/internal/voice"
)

// maxUploadBytes bounds one utterance. 10 MiB is over five minutes of
// 16 kHz mono s16le, far beyond any real utterance.
const maxUploadBytes = 10 << 20

// handleAudioUpload accepts one utterance of raw PCM and runs it through
// the voice pipeline. Multipart uploads use the "audio" file field with
// device_id, manual, level, and threshold as form values; bare uploads send
// the PCM as the request body with the same fields as query params.
func (s *Server) handleAudioUpload(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxUploadBytes)

	var (
		pcm      []byte
		deviceID string
		opts     voice.UploadOptions
	)

	ct := r.Header.Get("Content-Type")
	if strings.HasPrefix(ct, "multipart/form-data") {
		if err := r.ParseMultipartForm(maxUploadBytes); err != nil {
			WriteError(w, http.StatusBadRequest, "invalid multipart body")
			return
		}
		file, _, err := r.FormFile("audio")
		if err != nil {
			WriteError(w, http.StatusBadRequest, "audio file field is required")
			return
		}
		defer file.Close()
		pcm, err = io.ReadAll(file)
		if err != nil {
			WriteError(w, http.StatusBadRequest, "failed to read audio data")
			return
		}
		deviceID = r.FormValue("device_id")
		opts.Manual = r.FormValue("manual") == "true"
		opts.Level = parseFloat(r.FormValue("level"))
		opts.Threshold = parseFloat(r.FormValue("threshold"))
	} else {
		var err error
		pcm, err = io.ReadAll(r.Body)
		if err != nil {
			WriteError(w, http.StatusBadRequest, "failed to read audio data")
			return
		}
		q := r.URL.Query()
		deviceID = q.Get("device_id")
		opts.Manual, _ = QueryBool(r, "manual")
		opts.Level = parseFloat(q.Get("level"))
		opts.Threshold = parseFloat(q.Get("threshold"))
	}

	if deviceID == "" {
		WriteError(w, http.StatusBadRequest, "device_id is required")
		return
	}
	if len(pcm) == 0 {
		WriteError(w, http.StatusBadRequest, "audio data is empty")
		return
	}

	res := s.audio.ProcessUpload(r.Context(), deviceID, pcm, opts)
	WriteJSON(w, http.StatusOK, res)
}

// parseFloat returns nil for a missing or malformed measurement field.
func parseFloat(v string) *float64 {
	if v == "" {
		return nil
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return nil
	}
	return &f
}

// NotifyRequest is the POST /audio/notify body.
type NotifyRequest struct {
	DeviceID string `json:"device_id"`
	Text     string `json:"text"`
}

// handleAudioNotify synthesizes text and streams it to one device. GET
// carries device_id and text as query params; POST carries a JSON body.
func (s *Server) handleAudioNotify(w http.ResponseWriter, r *http.Request) {
	var deviceID, text string
	if r.Method == http.MethodGet {
		q := r.URL.Query()
		deviceID = q.Get("device_id")
		text = q.Get("text")
	} else {
		var req NotifyRequest
		if err := DecodeJSON(r, &req); err != nil {
			WriteError(w, http.StatusBadRequest, "invalid JSON body")
			return
		}
		deviceID = req.DeviceID
		text = req.Text
	}
	if deviceID == "" || text == "" {
		WriteError(w, http.StatusBadRequest, "device_id and text are required")
		return
	}

	if err := s.audio.Notify(r.Context(), deviceID, text); err != nil {
		WriteError(w, http.StatusBadGateway, err.Error())
		return
	}
	WriteJSON(w, http.StatusOK, map[string]any{"status": "sent", "device_id": deviceID})
}

func (s *Server) handleListTranscripts(w http.ResponseWriter, r *http.Request) {
	limit, err := ParseLimit(r, 100, 1000)
	if err != nil {
		WriteError(w, http.StatusBadRequest, err.Error())
		return
	}
	transcripts, err := s.store.ListTranscripts(r.Context(), limit)
	if err != nil {
		s.log.Error().Err(err).Msg("failed to list transcripts")
		WriteError(w, http.StatusInternalServerError, "failed to list transcripts")
		return
	}
	WriteJSON(w, http.StatusOK, map[string]any{"transcripts": transcripts, "count": len(transcripts)})
}
