package app

import "github.com/dkeye/voicebot/internal/domain"

type FailureAction int

const (
	NoAction FailureAction = iota
	SendBye
)

// Policy decides what the peer is told when a call ends on our side.
type Policy interface {
	OnClosed(id domain.CallID, reason domain.CloseReason) FailureAction
}

// ByePolicy always answers a local hangup with a bye. Calls that fail on
// our side (negotiation, handler fault, media loss) get a bye only when
// OnFailure is set. Peer byes and process shutdown never do.
type ByePolicy struct {
	OnFailure bool
}

func (p ByePolicy) OnClosed(_ domain.CallID, reason domain.CloseReason) FailureAction {
	switch reason {
	case domain.ReasonHangup:
		return SendBye
	case domain.ReasonNegotiation, domain.ReasonHandlerFault, domain.ReasonTransportFailure:
		if p.OnFailure {
			return SendBye
		}
	case domain.ReasonBye, domain.ReasonShutdown:
	}
	return NoAction
}
