package core

//go:generate mockgen -source=signal_iface.go -destination=mocks/signal_mock.go -package=mocks

import "github.com/dkeye/voicebot/internal/domain"

// SignalConnection is the single duplex stream to the signaling peer.
// Recv is called from one goroutine and Send from another; Close unblocks both.
type SignalConnection interface {
	Recv() (*domain.SignalMessage, error)
	Send(*domain.SignalMessage) error
	Close() error
}
