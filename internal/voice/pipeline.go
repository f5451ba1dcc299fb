// Package voice runs the audio command pipeline: speech to text, wake-word
// gating, fuzzy command matching, dispatch, and the spoken reply.
package voice

import (
	"context"
	"encoding/base64"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog"

	"github.com/snarg/robohub/internal/database"
	"github.com/snarg/robohub/internal/metrics"
	"github.com/snarg/robohub/internal/session"
)

// replyChunkBytes is the PCM slice size per audio_chunk frame.
const replyChunkBytes = 2048

// Rejection reasons recorded on transcripts that did not produce a command.
const (
	ReasonSTTFailed     = "stt_failed"
	ReasonPrefixMissing = "prefix_missing"
	ReasonLowConfidence = "low_confidence"
)

// Dispatcher issues a directed command. Implemented by the command router.
type Dispatcher interface {
	Dispatch(ctx context.Context, deviceType, commandName string, payload map[string]any, ackTimeout time.Duration) (database.CommandRow, error)
}

// ReplySender pushes frames to a single device session.
type ReplySender interface {
	Send(deviceID string, frame any) session.Outcome
}

// TranscriptStore persists the audit record of each upload.
type TranscriptStore interface {
	InsertTranscript(ctx context.Context, t database.TranscriptRow) error
}

// EventSink receives transcript notifications for live subscribers.
type EventSink interface {
	TranscriptEvent(deviceID string, payload any)
}

// UploadOptions carries the request-side fields accompanying one upload.
// Level and Threshold are the device-reported input level and wake threshold
// measurements; either may be absent.
type UploadOptions struct {
	Manual    bool
	Level     *float64
	Threshold *float64
}

// UploadResult is the caller-facing outcome of one audio upload.
type UploadResult struct {
	Matched        bool    `json:"matched"`
	Reason         string  `json:"reason,omitempty"`
	RawText        string  `json:"raw_text"`
	NormalizedText string  `json:"normalized_text"`
	PrefixOK       bool    `json:"prefix_ok"`
	CommandName    string  `json:"command_name,omitempty"`
	DeviceType     string  `json:"device_type,omitempty"`
	Confidence     float64 `json:"confidence"`
	CommandID      string  `json:"command_id,omitempty"`
	CommandStatus  string  `json:"command_status,omitempty"`
}

type Pipeline struct {
	stt        Transcriber
	tts        Synthesizer
	gate       *PrefixGate
	matcher    *Matcher
	dispatcher Dispatcher
	sender     ReplySender
	store      TranscriptStore
	events     EventSink
	sampleRate int
	archiveDir string
	log        zerolog.Logger
	now        func() time.Time
}

func NewPipeline(stt Transcriber, tts Synthesizer, gate *PrefixGate, matcher *Matcher,
	dispatcher Dispatcher, sender ReplySender, store TranscriptStore, events EventSink,
	sampleRate int, archiveDir string, log zerolog.Logger) *Pipeline {
	return &Pipeline{
		stt:        stt,
		tts:        tts,
		gate:       gate,
		matcher:    matcher,
		dispatcher: dispatcher,
		sender:     sender,
		store:      store,
		events:     events,
		sampleRate: sampleRate,
		archiveDir: archiveDir,
		log:        log.With().Str("component", "voice").Logger(),
		now:        time.Now,
	}
}

// ProcessUpload runs one utterance through the full pipeline. Every upload
// leaves exactly one transcript row regardless of where it stops; rejected
// uploads are a normal outcome, not an error. Manual uploads skip the
// wake-word gate.
func (p *Pipeline) ProcessUpload(ctx context.Context, deviceID string, pcm []byte, opts UploadOptions) UploadResult {
	p.archive(deviceID, pcm)

	res := UploadResult{}

	raw, err := p.transcribe(ctx, pcm)
	if err != nil {
		p.log.Error().Err(err).Str("device_id", deviceID).Msg("transcription failed")
		res.Reason = ReasonSTTFailed
		p.finish(ctx, deviceID, opts, res)
		p.speak(ctx, deviceID, "Sorry, I could not hear you.")
		return res
	}
	res.RawText = raw
	res.NormalizedText = Normalize(raw)

	rest := res.NormalizedText
	if opts.Manual {
		res.PrefixOK = true
	} else {
		rest, res.PrefixOK = p.gate.Check(res.NormalizedText)
		if !res.PrefixOK {
			res.Reason = ReasonPrefixMissing
			p.finish(ctx, deviceID, opts, res)
			p.speak(ctx, deviceID, "I did not hear the wake word.")
			return res
		}
	}

	intent, confidence, ok := p.matcher.Match(rest)
	res.Confidence = confidence
	if !ok {
		res.Reason = ReasonLowConfidence
		p.finish(ctx, deviceID, opts, res)
		p.speak(ctx, deviceID, "I did not understand that command.")
		return res
	}

	route, ok := LookupRoute(intent)
	if !ok {
		// Matcher vocabulary and route table are the same map, so this
		// only trips if they drift.
		res.Reason = ReasonLowConfidence
		p.finish(ctx, deviceID, opts, res)
		return res
	}
	res.CommandName = route.CommandName
	res.DeviceType = route.DeviceType

	rec, err := p.dispatcher.Dispatch(ctx, route.DeviceType, route.CommandName, map[string]any{"source": "voice"}, 0)
	if err != nil {
		p.log.Error().Err(err).
			Str("device_id", deviceID).
			Str("command_name", route.CommandName).
			Msg("voice dispatch failed")
		p.finish(ctx, deviceID, opts, res)
		return res
	}
	res.Matched = true
	res.CommandID = rec.CommandID
	res.CommandStatus = rec.Status

	p.finish(ctx, deviceID, opts, res)
	p.speak(ctx, deviceID, fmt.Sprintf("Executing %s.", route.CommandName))
	return res
}

// Notify synthesizes arbitrary text and streams it to one device.
func (p *Pipeline) Notify(ctx context.Context, deviceID, text string) error {
	if text == "" {
		return fmt.Errorf("text is required")
	}
	return p.speak(ctx, deviceID, text)
}

func (p *Pipeline) transcribe(ctx context.Context, pcm []byte) (string, error) {
	if p.stt == nil {
		return "", fmt.Errorf("no transcriber configured")
	}
	return p.stt.Transcribe(ctx, pcm, p.sampleRate)
}

// finish writes the transcript row and fires the live event. Store failures
// follow the usual rule: logged, never fatal.
func (p *Pipeline) finish(ctx context.Context, deviceID string, opts UploadOptions, res UploadResult) {
	outcome := res.Reason
	if res.Matched {
		outcome = "matched"
	}
	metrics.AudioUploadsTotal.WithLabelValues(outcome).Inc()

	row := database.TranscriptRow{
		DeviceID:       deviceID,
		RawText:        res.RawText,
		NormalizedText: res.NormalizedText,
		PrefixOK:       res.PrefixOK,
		Confidence:     res.Confidence,
		Manual:         opts.Manual,
		Level:          opts.Level,
		WakeThreshold:  opts.Threshold,
		Time:           p.now(),
	}
	if res.CommandName != "" {
		row.CommandName = &res.CommandName
	}
	if res.CommandID != "" {
		row.CommandID = &res.CommandID
	}
	if res.Reason != "" {
		row.Reason = &res.Reason
	}
	if err := p.store.InsertTranscript(ctx, row); err != nil {
		p.log.Error().Err(err).Str("device_id", deviceID).Msg("failed to persist transcript")
	}
	if p.events != nil {
		p.events.TranscriptEvent(deviceID, res)
	}
}

// speak synthesizes text and streams it to the device as base64 PCM chunks.
// Best effort: a missing TTS backend, a failed synthesis, or a gone session
// never unwinds the pipeline.
func (p *Pipeline) speak(ctx context.Context, deviceID, text string) error {
	if p.tts == nil || p.sender == nil {
		return nil
	}
	pcm, err := p.tts.Synthesize(ctx, text, p.sampleRate)
	if err != nil {
		p.log.Warn().Err(err).Str("device_id", deviceID).Msg("tts synthesis failed, reply skipped")
		return err
	}
	if len(pcm) == 0 {
		return nil
	}

	total := (len(pcm) + replyChunkBytes - 1) / replyChunkBytes
	for i := 0; i < total; i++ {
		start := i * replyChunkBytes
		end := start + replyChunkBytes
		if end > len(pcm) {
			end = len(pcm)
		}
		frame := session.AudioChunkFrame{
			MessageType: session.TypeAudioChunk,
			AudioBase64: base64.StdEncoding.EncodeToString(pcm[start:end]),
			SampleRate:  p.sampleRate,
			Format:      "pcm_s16_le",
			Index:       i,
			Total:       total,
			IsLast:      i == total-1,
		}
		if out := p.sender.Send(deviceID, frame); out != session.OutcomeOK {
			p.log.Warn().
				Str("device_id", deviceID).
				Str("outcome", string(out)).
				Int("chunk", i).
				Msg("audio reply dropped")
			return fmt.Errorf("audio reply to %s: %s", deviceID, out)
		}
	}
	p.log.Debug().Str("device_id", deviceID).Int("chunks", total).Msg("audio reply streamed")
	return nil
}

// archive writes the raw upload as a WAV file when an archive dir is set.
func (p *Pipeline) archive(deviceID string, pcm []byte) {
	if p.archiveDir == "" || len(pcm) == 0 {
		return
	}
	name := fmt.Sprintf("%s-%s.wav", p.now().UTC().Format("20060102T150405.000"), deviceID)
	path := filepath.Join(p.archiveDir, name)
	if err := os.WriteFile(path, EncodeWAV(pcm, p.sampleRate), 0o644); err != nil {
		p.log.Warn().Err(err).Str("path", path).Msg("audio archive write failed")
	}
}
