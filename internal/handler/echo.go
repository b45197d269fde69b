package handler

import (
	"context"
	"time"

	"github.com/dkeye/voicebot/internal/core"
	"github.com/rs/zerolog/log"
)

// Echo plays the caller's audio straight back. Used when no model backend
// is configured.
type Echo struct {
	pollInterval time.Duration
	queueSize    int

	lc  lifecycle
	out *queue[core.Output]
}

func NewEcho() *Echo {
	return newEcho(DefaultPollInterval, DefaultQueueSize)
}

func newEcho(poll time.Duration, size int) *Echo {
	return &Echo{
		pollInterval: poll,
		queueSize:    size,
		out:          newQueue[core.Output](size),
	}
}

func (h *Echo) Name() string { return "echo" }

func (h *Echo) StartUp(context.Context) error {
	if h.lc.transition(stateCreated, stateStarted) {
		h.lc.transition(stateStarted, stateRunning)
	}
	log.Debug().Str("module", "handler.echo").Msg("echo handler started")
	return nil
}

func (h *Echo) Receive(frame core.Frame) {
	if !h.lc.accepting() {
		log.Debug().Str("module", "handler.echo").Str("state", h.lc.load().String()).Msg("frame dropped, not running")
		return
	}
	if !h.out.tryPush(core.FrameOutput(frame.Clone())) {
		log.Debug().Str("module", "handler.echo").Msg("frame dropped, queue full")
	}
}

func (h *Echo) Emit(ctx context.Context) (core.Output, error) {
	return emitFrom(ctx, h.out, h.pollInterval), nil
}

func (h *Echo) Shutdown(context.Context) error {
	if h.lc.beginShutdown() {
		log.Info().Str("module", "handler.echo").Msg("echo handler shutting down")
		h.lc.set(stateStopped)
	}
	return nil
}

func (h *Echo) Copy() core.AudioHandler {
	return newEcho(h.pollInterval, h.queueSize)
}
