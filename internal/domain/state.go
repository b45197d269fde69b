package domain

// SessionState is the lifecycle position of one call session.
type SessionState int32

const (
	StateNegotiating SessionState = iota
	StateActive
	StateClosing
	StateClosed
)

func (s SessionState) String() string {
	switch s {
	case StateNegotiating:
		return "negotiating"
	case StateActive:
		return "active"
	case StateClosing:
		return "closing"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// CloseReason records why a session left the Active state.
type CloseReason string

const (
	ReasonBye              CloseReason = "bye"
	ReasonHangup           CloseReason = "hangup"
	ReasonNegotiation      CloseReason = "negotiation_failed"
	ReasonHandlerFault     CloseReason = "handler_fault"
	ReasonTransportFailure CloseReason = "transport_failure"
	ReasonShutdown         CloseReason = "shutdown"
)
