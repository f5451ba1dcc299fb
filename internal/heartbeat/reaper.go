// Package heartbeat runs the background reaper that moves stale devices
// offline. It is the only component allowed to offline a device for
// staleness; disconnect-driven offlining flows through the session hook.
package heartbeat

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/snarg/robohub/internal/registry"
)

// SessionCloser force-closes live sessions. Implemented by the session hub.
type SessionCloser interface {
	Close(deviceID, reason string) bool
}

// Sweeper expires pending command acknowledgements. Implemented by the
// command router; its sweep piggy-backs on the reaper tick.
type Sweeper interface {
	SweepTimeouts(now time.Time)
}

type Reaper struct {
	registry *registry.Registry
	sessions SessionCloser
	commands Sweeper
	interval time.Duration
	timeout  time.Duration
	log      zerolog.Logger
	now      func() time.Time
}

func NewReaper(reg *registry.Registry, sessions SessionCloser, commands Sweeper, interval, timeout time.Duration, log zerolog.Logger) *Reaper {
	return &Reaper{
		registry: reg,
		sessions: sessions,
		commands: commands,
		interval: interval,
		timeout:  timeout,
		log:      log.With().Str("component", "reaper").Logger(),
		now:      time.Now,
	}
}

// Run ticks until the context is cancelled. Call in its own goroutine.
func (r *Reaper) Run(ctx context.Context) {
	r.log.Info().
		Dur("interval", r.interval).
		Dur("heartbeat_timeout", r.timeout).
		Msg("heartbeat reaper started")

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			r.log.Info().Msg("heartbeat reaper stopped")
			return
		case <-ticker.C:
			r.Scan(ctx, r.now())
		}
	}
}

// Scan performs one reaper pass at the given instant: stale devices are
// marked offline and their sessions closed, then expired command acks are
// swept.
func (r *Reaper) Scan(ctx context.Context, now time.Time) {
	for _, id := range r.registry.Stale(now, r.timeout) {
		r.log.Warn().Str("device_id", id).Msg("heartbeat timeout, reaping device")
		r.registry.MarkOffline(ctx, id, "timeout")
		r.sessions.Close(id, "timeout")
	}
	if r.commands != nil {
		r.commands.SweepTimeouts(now)
	}
}
