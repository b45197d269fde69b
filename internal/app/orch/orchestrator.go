package orch

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/dkeye/voicebot/internal/app"
	"github.com/dkeye/voicebot/internal/core"
	"github.com/dkeye/voicebot/internal/domain"
	"github.com/rs/zerolog/log"
	"github.com/sourcegraph/conc"
)

const DefaultNegotiationTimeout = 10 * time.Second

// Outbox accepts messages for the shared signaling stream. Enqueue must not block.
type Outbox interface {
	Enqueue(msg *domain.SignalMessage) bool
}

// Orchestrator turns signaling events into session lifecycle changes.
// Slow work (negotiation, teardown) runs in its own goroutines so the
// dispatch loop is never held up by one call.
type Orchestrator struct {
	Registry *app.Registry
	Media    core.MediaTransport
	Policy   app.Policy
	Outbox   Outbox

	NegotiationTimeout time.Duration

	ctx    context.Context
	cancel context.CancelFunc
	wg     conc.WaitGroup
}

func New(reg *app.Registry, media core.MediaTransport, policy app.Policy, outbox Outbox, negotiationTimeout time.Duration) *Orchestrator {
	if negotiationTimeout <= 0 {
		negotiationTimeout = DefaultNegotiationTimeout
	}
	ctx, cancel := context.WithCancel(context.Background())
	o := &Orchestrator{
		Registry:           reg,
		Media:              media,
		Policy:             policy,
		Outbox:             outbox,
		NegotiationTimeout: negotiationTimeout,
		ctx:                ctx,
		cancel:             cancel,
	}
	reg.OnClosed(o.onSessionClosed)
	return o
}

// HandleOffer registers the call and starts negotiating it in the
// background. A duplicate offer is rejected and leaves the live call alone.
func (o *Orchestrator) HandleOffer(id domain.CallID, offer domain.Offer) error {
	sess, err := o.Registry.Create(id)
	if err != nil {
		return err
	}
	log.Info().Str("module", "orch").Str("call_id", string(id)).Str("msisdn", offer.MSISDN).Msg("offer received")
	o.wg.Go(func() { o.negotiate(sess, offer) })
	return nil
}

func (o *Orchestrator) negotiate(sess *app.Session, offer domain.Offer) {
	ctx, cancel := context.WithTimeout(sess.Context(), o.NegotiationTimeout)
	defer cancel()
	stop := context.AfterFunc(o.ctx, cancel)
	defer stop()

	answer, err := sess.Negotiate(ctx, o.Media, offer)
	switch {
	case errors.Is(err, app.ErrSessionClosed):
		log.Debug().Str("module", "orch").Str("call_id", string(sess.ID())).Msg("call ended during negotiation")
		return
	case err != nil && o.ctx.Err() != nil:
		sess.Close(domain.ReasonShutdown)
		return
	case err != nil:
		log.Error().Err(err).Str("module", "orch").Str("call_id", string(sess.ID())).Msg("negotiation failed")
		sess.Close(domain.ReasonNegotiation)
		return
	}

	if !o.Outbox.Enqueue(domain.NewAnswer(sess.ID(), answer.SDP)) {
		log.Error().Str("module", "orch").Str("call_id", string(sess.ID())).Msg("signaling closed, answer not queued")
		sess.Close(domain.ReasonShutdown)
		return
	}
	if !sess.Activate() {
		log.Debug().Str("module", "orch").Str("call_id", string(sess.ID())).Msg("call ended before activation")
	}
}

// HandleBye tears the call down in the background. An unknown call is
// reported with ErrUnknownSession and otherwise ignored.
func (o *Orchestrator) HandleBye(id domain.CallID) error {
	if _, ok := o.Registry.Lookup(id); !ok {
		return fmt.Errorf("bye: %w: %s", app.ErrUnknownSession, id)
	}
	log.Info().Str("module", "orch").Str("call_id", string(id)).Msg("bye received")
	o.wg.Go(func() { o.Registry.Remove(id, domain.ReasonBye) })
	return nil
}

// Hangup ends a call from our side; the policy sends the peer a bye.
func (o *Orchestrator) Hangup(id domain.CallID) error {
	if _, err := o.Registry.Get(id); err != nil {
		return err
	}
	o.Registry.Remove(id, domain.ReasonHangup)
	return nil
}

// Calls lists the live calls for the status API.
func (o *Orchestrator) Calls() []app.SessionInfo { return o.Registry.Snapshot() }

// Admit reports whether msg may still go out on the wire. Answers for calls
// that are gone or closing are discarded; byes always pass.
func (o *Orchestrator) Admit(msg *domain.SignalMessage) bool {
	if msg.Kind() != domain.KindAnswer {
		return true
	}
	sess, ok := o.Registry.Lookup(msg.CallID)
	return ok && sess.Live()
}

func (o *Orchestrator) onSessionClosed(sess *app.Session) {
	if o.Policy == nil {
		return
	}
	switch o.Policy.OnClosed(sess.ID(), sess.Reason()) {
	case app.SendBye:
		if o.Outbox.Enqueue(domain.NewBye(sess.ID())) {
			log.Info().Str("module", "orch").Str("call_id", string(sess.ID())).Str("reason", string(sess.Reason())).Msg("bye queued")
		}
	case app.NoAction:
	}
}

// Shutdown stops pending negotiations and closes every call, waiting at
// most until ctx is done.
func (o *Orchestrator) Shutdown(ctx context.Context) error {
	o.cancel()
	err := o.Registry.CloseAll(ctx, domain.ReasonShutdown)

	done := make(chan struct{})
	go func() {
		o.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		if err == nil {
			err = ctx.Err()
		}
	}
	return err
}
