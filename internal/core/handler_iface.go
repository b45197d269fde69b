package core

import (
	"context"
	"errors"
)

// ErrHandlerFault marks a failure inside an AudioHandler (upstream model
// gone, protocol error). It ends the owning call only.
var ErrHandlerFault = errors.New("audio handler fault")

type OutputKind int

const (
	// OutputIdle means nothing was ready within the poll interval. Not an error.
	OutputIdle OutputKind = iota
	OutputFrame
	OutputEvent
)

// Event is a structured, non-audio handler output such as a finished transcript.
type Event struct {
	Type string
	Text string
}

type Output struct {
	Kind  OutputKind
	Frame Frame
	Event Event
}

var Idle = Output{Kind: OutputIdle}

func FrameOutput(f Frame) Output { return Output{Kind: OutputFrame, Frame: f} }

func EventOutput(e Event) Output { return Output{Kind: OutputEvent, Event: e} }

// AudioHandler is the per-call unit that consumes caller audio and produces
// reply audio or events. One instance belongs to exactly one call; new
// instances are made from a configured template with Copy.
type AudioHandler interface {
	Name() string
	// StartUp establishes any upstream connection. Receive and Emit are
	// only meaningful after it returns nil.
	StartUp(ctx context.Context) error
	// Receive hands one inbound frame to the handler. It never blocks the
	// caller; frames arriving before start-up or after shutdown are dropped.
	Receive(frame Frame)
	// Emit waits a short poll interval for the next output and returns Idle
	// when none is ready. A non-nil error wraps ErrHandlerFault.
	Emit(ctx context.Context) (Output, error)
	// Shutdown releases upstream resources. Safe to call more than once.
	Shutdown(ctx context.Context) error
	// Copy returns a fresh instance sharing only static configuration.
	Copy() AudioHandler
}
