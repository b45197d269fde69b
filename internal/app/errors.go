package app

import (
	"errors"
	"fmt"

	"github.com/dkeye/voicebot/internal/domain"
)

var (
	ErrDuplicateSession = errors.New("duplicate session")
	ErrUnknownSession   = errors.New("unknown session")
	ErrSessionClosed    = errors.New("session closed")
	ErrNegotiation      = errors.New("media negotiation failed")
	// ErrTransport is fatal: the signaling stream is the only path to the peer.
	ErrTransport = errors.New("signaling transport failed")
)

// DuplicateSessionError is returned when an offer names a call that already
// has a live session. The existing session is left untouched.
type DuplicateSessionError struct {
	CallID domain.CallID
}

func (e *DuplicateSessionError) Error() string {
	return fmt.Sprintf("duplicate session for call %q", string(e.CallID))
}

func (e *DuplicateSessionError) Is(target error) bool { return target == ErrDuplicateSession }

type NegotiationError struct {
	CallID domain.CallID
	Err    error
}

func (e *NegotiationError) Error() string {
	return fmt.Sprintf("negotiate call %q: %v", string(e.CallID), e.Err)
}

func (e *NegotiationError) Unwrap() error { return e.Err }

func (e *NegotiationError) Is(target error) bool { return target == ErrNegotiation }
