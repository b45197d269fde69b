// Package signal runs the single duplex signaling stream: inbound events are
// dispatched in arrival order and outbound messages leave in enqueue order.
package signal

import (
	"context"
	"errors"
	"io"

	"github.com/dkeye/voicebot/internal/app"
	"github.com/dkeye/voicebot/internal/core"
	"github.com/dkeye/voicebot/internal/domain"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"
)

var ErrStreamClosed = errors.New("signaling stream closed by peer")

// Dispatcher receives the calls' signaling events. Implementations must
// return quickly; long work belongs in their own goroutines.
type Dispatcher interface {
	HandleOffer(id domain.CallID, offer domain.Offer) error
	HandleBye(id domain.CallID) error
	// Admit is asked right before a message is written.
	Admit(msg *domain.SignalMessage) bool
}

type Bridge struct {
	conn    core.SignalConnection
	disp    Dispatcher
	out     *OutboundQueue
	limiter *OfferLimiter
}

func NewBridge(conn core.SignalConnection, disp Dispatcher, out *OutboundQueue, limiter *OfferLimiter) *Bridge {
	return &Bridge{conn: conn, disp: disp, out: out, limiter: limiter}
}

// Run pumps the stream until ctx is done or the stream fails. A failure is
// returned wrapped with app.ErrTransport; a cancelled ctx yields nil.
func (b *Bridge) Run(ctx context.Context) error {
	log.Info().Str("module", "signal").Msg("signaling bridge started")
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return b.readPump(gctx) })
	g.Go(func() error { return b.writePump(gctx) })
	g.Go(func() error {
		<-gctx.Done()
		b.out.Close()
		if err := b.conn.Close(); err != nil {
			log.Debug().Err(err).Str("module", "signal").Msg("close stream")
		}
		return nil
	})

	err := g.Wait()
	if errors.Is(err, app.ErrTransport) {
		log.Error().Err(err).Str("module", "signal").Msg("signaling bridge failed")
		return err
	}
	log.Info().Str("module", "signal").Msg("signaling bridge stopped")
	return nil
}

func (b *Bridge) readPump(ctx context.Context) error {
	for {
		msg, err := b.conn.Recv()
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if errors.Is(err, io.EOF) {
				return errors.Join(app.ErrTransport, ErrStreamClosed)
			}
			return errors.Join(app.ErrTransport, err)
		}
		b.dispatch(msg)
	}
}

func (b *Bridge) writePump(ctx context.Context) error {
	for {
		msg, err := b.out.Pop(ctx)
		if err != nil {
			return nil
		}
		logger := log.With().Str("module", "signal").Str("call_id", string(msg.CallID)).Str("kind", string(msg.Kind())).Logger()
		if !b.disp.Admit(msg) {
			logger.Info().Msg("call ended, outbound message discarded")
			continue
		}
		if err := b.conn.Send(msg); err != nil {
			logger.Error().Err(err).Msg("send failed")
			return errors.Join(app.ErrTransport, err)
		}
		logger.Debug().Msg("sent")
	}
}

func (b *Bridge) dispatch(msg *domain.SignalMessage) {
	logger := log.With().Str("module", "signal").Str("call_id", string(msg.CallID)).Str("kind", string(msg.Kind())).Logger()
	if err := msg.CallID.Validate(); err != nil {
		logger.Warn().Err(err).Msg("event without usable call id ignored")
		return
	}

	switch msg.Kind() {
	case domain.KindOffer:
		if b.limiter != nil && !b.limiter.Allow(msg.Offer.MSISDN) {
			logger.Warn().Str("msisdn", msg.Offer.MSISDN).Msg("offer rate limited, rejecting call")
			b.out.Enqueue(domain.NewBye(msg.CallID))
			return
		}
		if err := b.disp.HandleOffer(msg.CallID, *msg.Offer); err != nil {
			logger.Warn().Err(err).Msg("offer rejected")
		}
	case domain.KindBye:
		if err := b.disp.HandleBye(msg.CallID); err != nil {
			if errors.Is(err, app.ErrUnknownSession) {
				logger.Info().Msg("bye for unknown call ignored")
				return
			}
			logger.Warn().Err(err).Msg("bye failed")
		}
	default:
		logger.Warn().Msg("unsupported signaling event ignored")
	}
}
