package app

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dkeye/voicebot/internal/core"
	"github.com/dkeye/voicebot/internal/domain"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/sourcegraph/conc/panics"
)

const (
	DefaultSessionQueueSize       = 64
	DefaultHandlerShutdownTimeout = 3 * time.Second
)

type SessionConfig struct {
	QueueSize       int
	ShutdownTimeout time.Duration
}

func (c SessionConfig) withDefaults() SessionConfig {
	if c.QueueSize <= 0 {
		c.QueueSize = DefaultSessionQueueSize
	}
	if c.ShutdownTimeout <= 0 {
		c.ShutdownTimeout = DefaultHandlerShutdownTimeout
	}
	return c
}

// Session is one telephone call: its handler, its audio queues and its
// lifecycle from Negotiating through Active and Closing to Closed.
type Session struct {
	id      domain.CallID
	handler core.AudioHandler
	cfg     SessionConfig
	created time.Time
	log     zerolog.Logger

	state   atomic.Int32
	closing atomic.Bool
	reason  atomic.Value

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}

	mu     sync.Mutex
	media  core.MediaConnection
	msisdn string

	inbound  chan core.Frame
	outbound chan core.Frame

	onClosed func(*Session)
}

func newSession(id domain.CallID, h core.AudioHandler, cfg SessionConfig, onClosed func(*Session)) *Session {
	cfg = cfg.withDefaults()
	ctx, cancel := context.WithCancel(context.Background())
	s := &Session{
		id:       id,
		handler:  h,
		cfg:      cfg,
		created:  time.Now(),
		log:      log.With().Str("module", "app.session").Str("call_id", string(id)).Logger(),
		ctx:      ctx,
		cancel:   cancel,
		done:     make(chan struct{}),
		inbound:  make(chan core.Frame, cfg.QueueSize),
		outbound: make(chan core.Frame, cfg.QueueSize),
		onClosed: onClosed,
	}
	s.state.Store(int32(domain.StateNegotiating))
	return s
}

func (s *Session) ID() domain.CallID { return s.id }

func (s *Session) State() domain.SessionState { return domain.SessionState(s.state.Load()) }

func (s *Session) HandlerName() string { return s.handler.Name() }

func (s *Session) CreatedAt() time.Time { return s.created }

// Done is closed once the session reached Closed.
func (s *Session) Done() <-chan struct{} { return s.done }

// Context is cancelled when the session starts closing.
func (s *Session) Context() context.Context { return s.ctx }

// Live reports whether the call still wants signaling traffic.
func (s *Session) Live() bool { return !s.closing.Load() }

func (s *Session) Reason() domain.CloseReason {
	r, _ := s.reason.Load().(domain.CloseReason)
	return r
}

func (s *Session) MSISDN() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.msisdn
}

// rewriteOffer hides rtcp attribute lines from the media stack; the peer
// advertises an rtcp address it does not actually serve.
func rewriteOffer(sdp string) string {
	return strings.ReplaceAll(sdp, "a=rtcp:", "a=notrtcp:")
}

// Negotiate produces the answer for the call's offer and binds the
// resulting media connection to the session. It returns ErrSessionClosed
// when the session started closing first.
func (s *Session) Negotiate(ctx context.Context, transport core.MediaTransport, offer domain.Offer) (domain.SessionDescription, error) {
	if s.State() != domain.StateNegotiating || s.closing.Load() {
		return domain.SessionDescription{}, ErrSessionClosed
	}
	s.mu.Lock()
	s.msisdn = offer.MSISDN
	s.mu.Unlock()

	mc, answer, err := transport.Answer(ctx, domain.SessionDescription{
		CallID: s.id,
		Type:   domain.SDPTypeOffer,
		SDP:    rewriteOffer(offer.SDP),
	})
	if err != nil {
		if s.closing.Load() {
			return domain.SessionDescription{}, ErrSessionClosed
		}
		return domain.SessionDescription{}, &NegotiationError{CallID: s.id, Err: err}
	}

	s.mu.Lock()
	if s.closing.Load() {
		s.mu.Unlock()
		mc.Close()
		return domain.SessionDescription{}, ErrSessionClosed
	}
	s.media = mc
	s.mu.Unlock()

	s.log.Info().Msg("media negotiated")
	return answer, nil
}

// Activate moves a negotiated session to Active and starts its audio
// tasks. It reports false when the session is no longer negotiating.
func (s *Session) Activate() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closing.Load() || s.media == nil {
		return false
	}
	if !s.state.CompareAndSwap(int32(domain.StateNegotiating), int32(domain.StateActive)) {
		return false
	}
	mc := s.media
	s.spawn("handler", s.runHandler)
	s.spawn("ingress", func() { s.runIngress(mc) })
	s.spawn("feed", s.runFeed)
	s.spawn("egress", func() { s.runEgress(mc) })
	s.log.Info().Str("handler", s.handler.Name()).Msg("session active")
	return true
}

// spawn runs fn in its own goroutine. A panic ends this call only.
func (s *Session) spawn(name string, fn func()) {
	go func() {
		if r := panics.Try(fn); r != nil {
			s.log.Error().Str("task", name).Err(r.AsError()).Msg("session task panicked")
			s.Close(domain.ReasonHandlerFault)
		}
	}()
}

func (s *Session) runHandler() {
	if err := s.handler.StartUp(s.ctx); err != nil {
		if s.ctx.Err() == nil {
			s.log.Error().Err(err).Msg("handler start-up failed")
			s.Close(domain.ReasonHandlerFault)
		}
		return
	}
	for {
		out, err := s.handler.Emit(s.ctx)
		if s.ctx.Err() != nil {
			return
		}
		if err != nil {
			s.log.Error().Err(err).Msg("handler failed")
			s.Close(domain.ReasonHandlerFault)
			return
		}
		switch out.Kind {
		case core.OutputFrame:
			select {
			case s.outbound <- out.Frame:
			default:
				s.log.Debug().Msg("outbound frame dropped, queue full")
			}
		case core.OutputEvent:
			s.log.Info().Str("event", out.Event.Type).Str("text", out.Event.Text).Msg("handler event")
		case core.OutputIdle:
		}
	}
}

func (s *Session) runIngress(mc core.MediaConnection) {
	frames := mc.Frames()
	for {
		select {
		case <-s.ctx.Done():
			return
		case <-mc.Done():
			s.log.Warn().Msg("media connection ended")
			s.Close(domain.ReasonTransportFailure)
			return
		case f, ok := <-frames:
			if !ok {
				s.log.Warn().Msg("media frames closed")
				s.Close(domain.ReasonTransportFailure)
				return
			}
			select {
			case s.inbound <- f:
			default:
				s.log.Debug().Msg("inbound frame dropped, queue full")
			}
		}
	}
}

func (s *Session) runFeed() {
	for {
		select {
		case <-s.ctx.Done():
			return
		case f := <-s.inbound:
			s.handler.Receive(f)
		}
	}
}

func (s *Session) runEgress(mc core.MediaConnection) {
	for {
		select {
		case <-s.ctx.Done():
			return
		case f := <-s.outbound:
			if err := mc.WriteFrame(f); err != nil {
				s.log.Warn().Err(err).Msg("write to media failed")
				s.Close(domain.ReasonTransportFailure)
				return
			}
		}
	}
}

// Close tears the session down exactly once. Later and concurrent callers
// wait until the first teardown has finished; calls on a Closed session
// return immediately.
func (s *Session) Close(reason domain.CloseReason) {
	if !s.closing.CompareAndSwap(false, true) {
		<-s.done
		return
	}
	s.reason.Store(reason)
	s.state.Store(int32(domain.StateClosing))
	s.log.Info().Str("reason", string(reason)).Msg("session closing")

	s.cancel()
	s.shutdownHandler()

	dropped := 0
drain:
	for {
		select {
		case <-s.outbound:
			dropped++
		default:
			break drain
		}
	}

	s.mu.Lock()
	mc := s.media
	s.mu.Unlock()
	if mc != nil {
		mc.Close()
	}

	s.state.Store(int32(domain.StateClosed))
	if s.onClosed != nil {
		s.onClosed(s)
	}
	close(s.done)
	s.log.Info().Int("discarded", dropped).Msg("session closed")
}

// shutdownHandler gives the handler ShutdownTimeout to stop. A handler
// that hangs or panics is abandoned; the session still closes.
func (s *Session) shutdownHandler() {
	ctx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownTimeout)
	defer cancel()

	errc := make(chan error, 1)
	go func() {
		var err error
		if r := panics.Try(func() { err = s.handler.Shutdown(ctx) }); r != nil {
			err = r.AsError()
		}
		errc <- err
	}()

	select {
	case err := <-errc:
		if err != nil && !errors.Is(err, context.DeadlineExceeded) {
			s.log.Warn().Err(err).Msg("handler shutdown failed")
		}
	case <-ctx.Done():
		s.log.Warn().Dur("timeout", s.cfg.ShutdownTimeout).Msg("handler shutdown timed out, releasing anyway")
	}
}
