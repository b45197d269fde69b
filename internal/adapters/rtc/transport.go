// Package rtc negotiates each call's audio over WebRTC with pion and
// converts between PCMU RTP and PCM frames.
package rtc

import (
	"context"
	"errors"
	"fmt"

	"github.com/dkeye/voicebot/internal/core"
	"github.com/dkeye/voicebot/internal/domain"
	"github.com/pion/interceptor"
	"github.com/pion/sdp/v3"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"
)

var (
	ErrInvalidOffer = errors.New("invalid offer")
	ErrNoAudio      = errors.New("offer has no audio section")
)

type Config struct {
	// ICEServers is empty in production: only direct host candidates are
	// offered, no STUN or TURN.
	ICEServers []webrtc.ICEServer
	// FrameBacklog bounds reply frames waiting to be paced out.
	FrameBacklog int
}

type Transport struct {
	api     *webrtc.API
	pcCfg   webrtc.Configuration
	backlog int
}

var _ core.MediaTransport = (*Transport)(nil)

func NewTransport(cfg Config) (*Transport, error) {
	m := &webrtc.MediaEngine{}
	if err := m.RegisterCodec(webrtc.RTPCodecParameters{
		RTPCodecCapability: webrtc.RTPCodecCapability{
			MimeType:  webrtc.MimeTypePCMU,
			ClockRate: sampleRate,
			Channels:  1,
		},
		PayloadType: 0,
	}, webrtc.RTPCodecTypeAudio); err != nil {
		return nil, fmt.Errorf("register pcmu: %w", err)
	}

	i := &interceptor.Registry{}
	if err := webrtc.RegisterDefaultInterceptors(m, i); err != nil {
		return nil, fmt.Errorf("register interceptors: %w", err)
	}

	backlog := cfg.FrameBacklog
	if backlog <= 0 {
		backlog = DefaultFrameBacklog
	}
	return &Transport{
		api: webrtc.NewAPI(webrtc.WithMediaEngine(m), webrtc.WithInterceptorRegistry(i)),
		pcCfg: webrtc.Configuration{
			ICEServers:         cfg.ICEServers,
			ICETransportPolicy: webrtc.ICETransportPolicyAll,
		},
		backlog: backlog,
	}, nil
}

// ValidateOffer parses raw and checks that it offers audio.
func ValidateOffer(raw string) error {
	var sd sdp.SessionDescription
	if err := sd.UnmarshalString(raw); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidOffer, err)
	}
	for _, md := range sd.MediaDescriptions {
		if md.MediaName.Media == "audio" {
			return nil
		}
	}
	return ErrNoAudio
}

// Answer builds a PeerConnection for the call, applies the offer and
// returns the answer once ICE gathering is complete.
func (t *Transport) Answer(ctx context.Context, offer domain.SessionDescription) (core.MediaConnection, domain.SessionDescription, error) {
	if err := ValidateOffer(offer.SDP); err != nil {
		return nil, domain.SessionDescription{}, err
	}

	pc, err := t.api.NewPeerConnection(t.pcCfg)
	if err != nil {
		return nil, domain.SessionDescription{}, fmt.Errorf("new peer connection: %w", err)
	}
	c, err := newConnection(pc, offer.CallID, t.backlog)
	if err != nil {
		_ = pc.Close()
		return nil, domain.SessionDescription{}, err
	}

	fail := func(step string, err error) (core.MediaConnection, domain.SessionDescription, error) {
		c.Close()
		return nil, domain.SessionDescription{}, fmt.Errorf("%s: %w", step, err)
	}

	if err := pc.SetRemoteDescription(webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: offer.SDP}); err != nil {
		return fail("set remote description", err)
	}
	answer, err := pc.CreateAnswer(nil)
	if err != nil {
		return fail("create answer", err)
	}
	gatherComplete := webrtc.GatheringCompletePromise(pc)
	if err := pc.SetLocalDescription(answer); err != nil {
		return fail("set local description", err)
	}
	select {
	case <-gatherComplete:
	case <-ctx.Done():
		return fail("ice gathering", ctx.Err())
	}

	c.start()
	log.Info().Str("module", "rtc").Str("call_id", string(offer.CallID)).Msg("answer created")
	return c, domain.SessionDescription{
		CallID: offer.CallID,
		Type:   domain.SDPTypeAnswer,
		SDP:    pc.LocalDescription().SDP,
	}, nil
}
