package core

//go:generate mockgen -source=media_iface.go -destination=mocks/media_mock.go -package=mocks

import (
	"context"

	"github.com/dkeye/voicebot/internal/domain"
)

// MediaConnection is the negotiated audio path of one call.
// Owned by the session that negotiated it; the session must Close() it.
type MediaConnection interface {
	// Frames delivers decoded caller audio in arrival order. Implementations
	// may leave it open after the end; Done is authoritative.
	Frames() <-chan Frame
	// WriteFrame queues reply audio toward the caller.
	WriteFrame(Frame) error
	// Done is closed once the connection has failed or been closed.
	Done() <-chan struct{}
	Close()
}

// MediaTransport performs the offer/answer exchange for a call and returns
// the resulting audio path.
type MediaTransport interface {
	Answer(ctx context.Context, offer domain.SessionDescription) (MediaConnection, domain.SessionDescription, error)
}
