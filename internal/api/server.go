// Package api serves the operator-facing HTTP surface: command dispatch,
// audio upload, the device channel upgrade, and the read-side views over the
// audit store.
package api

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/snarg/robohub/internal/database"
	"github.com/snarg/robohub/internal/events"
	"github.com/snarg/robohub/internal/metrics"
	"github.com/snarg/robohub/internal/registry"
	"github.com/snarg/robohub/internal/session"
	"github.com/snarg/robohub/internal/voice"
)

// Store is the read-side slice of the database the handlers use.
type Store interface {
	HealthCheck(ctx context.Context) error
	GetDevice(ctx context.Context, deviceID string) (*database.DeviceRow, error)
	ListDevices(ctx context.Context) ([]database.DeviceRow, error)
	ListStateSnapshots(ctx context.Context, deviceID string, limit int) ([]database.StateSnapshotRow, error)
	GetCommand(ctx context.Context, commandID string) (*database.CommandRow, error)
	ListCommands(ctx context.Context, f database.CommandFilter) ([]database.CommandRow, error)
	ListConnectionEvents(ctx context.Context, deviceID string, limit int) ([]database.ConnectionEventRow, error)
	ListTranscripts(ctx context.Context, limit int) ([]database.TranscriptRow, error)
	ListSystemLogs(ctx context.Context, level string, limit int) ([]database.SystemLogRow, error)
}

// DeviceSource is the live registry view.
type DeviceSource interface {
	List() []registry.Device
	Get(deviceID string) (registry.Device, bool)
}

// Dispatcher issues directed commands. Implemented by the command router.
type Dispatcher interface {
	Dispatch(ctx context.Context, deviceType, commandName string, payload map[string]any, ackTimeout time.Duration) (database.CommandRow, error)
	PendingCount() int
}

// AudioPipeline runs uploads and spoken notifications.
type AudioPipeline interface {
	ProcessUpload(ctx context.Context, deviceID string, pcm []byte, opts voice.UploadOptions) voice.UploadResult
	Notify(ctx context.Context, deviceID, text string) error
}

// SessionHub accepts upgraded device channels.
type SessionHub interface {
	Accept(deviceID string, conn session.Conn) error
	Count() int
}

// LiveSource feeds the SSE stream.
type LiveSource interface {
	Subscribe(filter events.Filter) (<-chan events.Event, func())
	ReplaySince(lastEventID string, filter events.Filter) []events.Event
}

type Server struct {
	store     Store
	devices   DeviceSource
	commands  Dispatcher
	audio     AudioPipeline
	hub       SessionHub
	live      LiveSource
	authToken string
	log       zerolog.Logger
	upgrader  websocket.Upgrader
	startedAt time.Time
	httpSrv   *http.Server
}

// ServerTimeouts configures the embedded http.Server.
type ServerTimeouts struct {
	Read  time.Duration
	Write time.Duration
	Idle  time.Duration
}

func NewServer(store Store, devices DeviceSource, commands Dispatcher, audio AudioPipeline,
	hub SessionHub, live LiveSource, authToken string, log zerolog.Logger) *Server {
	return &Server{
		store:     store,
		devices:   devices,
		commands:  commands,
		audio:     audio,
		hub:       hub,
		live:      live,
		authToken: authToken,
		log:       log.With().Str("component", "api").Logger(),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			// Devices and dashboards connect from arbitrary LAN origins.
			CheckOrigin: func(*http.Request) bool { return true },
		},
		startedAt: time.Now(),
	}
}

// Router assembles the full route tree with middleware.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()

	r.Use(RequestID)
	r.Use(Logger(s.log))
	r.Use(Recoverer)
	r.Use(CORS)
	r.Use(metrics.InstrumentHandler)

	// Device channel, liveness, and scrape endpoints stay unauthenticated.
	r.Get("/ws/{device_id}", s.handleWS)
	r.Get("/health", s.handleHealth)
	r.Method(http.MethodGet, "/metrics", promhttp.Handler())

	r.Group(func(r chi.Router) {
		r.Use(BearerAuth(s.authToken))

		r.Post("/command", s.handleDispatchCommand)
		r.Post("/servo/pose/{pose}", s.handleServoPose)
		r.Post("/wheel/move/{direction}", s.handleWheelMove)

		r.Post("/audio/upload", s.handleAudioUpload)
		r.Get("/audio/notify", s.handleAudioNotify)
		r.Post("/audio/notify", s.handleAudioNotify)
		r.Get("/audio/transcripts", s.handleListTranscripts)
		r.Get("/audio/logs", s.handleListTranscripts)

		r.Get("/devices", s.handleListDevices)
		r.Get("/devices/{device_id}", s.handleGetDevice)
		r.Get("/state-history/{device_id}", s.handleStateHistory)
		r.Get("/command-logs", s.handleCommandLogs)
		r.Get("/command-logs/{command_id}", s.handleGetCommand)
		r.Get("/device-connection-history/{device_id}", s.handleConnectionHistory)
		r.Get("/system-logs", s.handleSystemLogs)

		r.Get("/events", s.handleEvents)
	})

	return r
}

// Start runs the HTTP server until Shutdown. Blocks.
func (s *Server) Start(addr string, t ServerTimeouts) error {
	s.httpSrv = &http.Server{
		Addr:         addr,
		Handler:      s.Router(),
		ReadTimeout:  t.Read,
		WriteTimeout: t.Write,
		IdleTimeout:  t.Idle,
	}
	s.log.Info().Str("addr", addr).Msg("http server listening")
	if err := s.httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Shutdown stops the HTTP server gracefully.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpSrv == nil {
		return nil
	}
	return s.httpSrv.Shutdown(ctx)
}
