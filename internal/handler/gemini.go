package handler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/dkeye/voicebot/internal/core"
	"github.com/rs/zerolog/log"
	"google.golang.org/genai"
)

const (
	DefaultGeminiModel      = "gemini-2.0-flash-exp"
	DefaultGeminiVoice      = "Puck"
	DefaultGeminiAPIVersion = "v1alpha"

	geminiInputRate  = 16000
	geminiOutputRate = 24000
)

type GeminiConfig struct {
	APIKey       string
	Model        string
	Voice        string
	APIVersion   string
	// BaseURL overrides the API endpoint; a ws:// URL is dialled as is.
	BaseURL      string
	PollInterval time.Duration
	QueueSize    int
}

// Gemini streams call audio into a Gemini live session and plays back the
// audio it answers with.
type Gemini struct {
	cfg GeminiConfig
	lc  lifecycle

	in  *queue[core.Frame]
	out *queue[core.Output]

	mu       sync.Mutex
	session  *genai.Session
	cancel   context.CancelFunc
	recvDone chan struct{}

	faultMu sync.Mutex
	fault   error
}

func NewGemini(cfg GeminiConfig) *Gemini {
	if cfg.Model == "" {
		cfg.Model = DefaultGeminiModel
	}
	if cfg.Voice == "" {
		cfg.Voice = DefaultGeminiVoice
	}
	if cfg.APIVersion == "" {
		cfg.APIVersion = DefaultGeminiAPIVersion
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = DefaultPollInterval
	}
	return &Gemini{
		cfg:      cfg,
		in:       newQueue[core.Frame](cfg.QueueSize),
		out:      newQueue[core.Output](cfg.QueueSize),
		recvDone: make(chan struct{}),
	}
}

func (h *Gemini) Name() string { return "gemini" }

func (h *Gemini) Copy() core.AudioHandler { return NewGemini(h.cfg) }

func (h *Gemini) StartUp(ctx context.Context) error {
	if h.lc.load() != stateCreated {
		return fmt.Errorf("%w: gemini handler already started", core.ErrHandlerFault)
	}
	log.Info().Str("module", "handler.gemini").Str("model", h.cfg.Model).Str("voice", h.cfg.Voice).Msg("starting gemini session")

	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:      h.cfg.APIKey,
		Backend:     genai.BackendGeminiAPI,
		HTTPOptions: genai.HTTPOptions{APIVersion: h.cfg.APIVersion, BaseURL: h.cfg.BaseURL},
	})
	if err != nil {
		return fmt.Errorf("%w: gemini client: %v", core.ErrHandlerFault, err)
	}
	session, err := client.Live.Connect(ctx, h.cfg.Model, &genai.LiveConnectConfig{
		ResponseModalities: []genai.Modality{genai.ModalityAudio},
		SpeechConfig: &genai.SpeechConfig{
			VoiceConfig: &genai.VoiceConfig{
				PrebuiltVoiceConfig: &genai.PrebuiltVoiceConfig{VoiceName: h.cfg.Voice},
			},
		},
	})
	if err != nil {
		return fmt.Errorf("%w: gemini live connect: %v", core.ErrHandlerFault, err)
	}

	runCtx, cancel := context.WithCancel(context.Background())
	h.mu.Lock()
	if !h.lc.transition(stateCreated, stateStarted) {
		h.mu.Unlock()
		cancel()
		_ = session.Close()
		return fmt.Errorf("%w: gemini handler shut down during start-up", core.ErrHandlerFault)
	}
	h.session = session
	h.cancel = cancel
	h.mu.Unlock()

	go h.sendLoop(runCtx, session)
	go h.recvLoop(session)
	h.lc.transition(stateStarted, stateRunning)
	return nil
}

func (h *Gemini) Receive(frame core.Frame) {
	if !h.lc.accepting() {
		log.Debug().Str("module", "handler.gemini").Str("state", h.lc.load().String()).Msg("frame dropped, not running")
		return
	}
	if !h.in.tryPush(frame) {
		log.Debug().Str("module", "handler.gemini").Msg("frame dropped, input queue full")
	}
}

func (h *Gemini) Emit(ctx context.Context) (core.Output, error) {
	out := emitFrom(ctx, h.out, h.cfg.PollInterval)
	if out.Kind != core.OutputIdle {
		return out, nil
	}
	if err := h.faultErr(); err != nil {
		return core.Idle, err
	}
	return core.Idle, nil
}

func (h *Gemini) Shutdown(ctx context.Context) error {
	if !h.lc.beginShutdown() {
		return nil
	}
	log.Info().Str("module", "handler.gemini").Msg("gemini handler shutting down")
	defer h.lc.set(stateStopped)

	h.mu.Lock()
	session, cancel := h.session, h.cancel
	h.mu.Unlock()
	if session == nil {
		return nil
	}
	cancel()
	_ = session.Close()

	select {
	case <-h.recvDone:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// sendLoop polls the input queue so it can notice shutdown between frames.
func (h *Gemini) sendLoop(ctx context.Context, session *genai.Session) {
	for {
		f, ok := h.in.poll(ctx, h.cfg.PollInterval)
		if ctx.Err() != nil {
			return
		}
		if !ok {
			continue
		}
		err := session.SendRealtimeInput(genai.LiveRealtimeInput{
			Audio: &genai.Blob{
				Data:     f.Resample(geminiInputRate).PCM16LE(),
				MIMEType: fmt.Sprintf("audio/pcm;rate=%d", geminiInputRate),
			},
		})
		if err != nil {
			if ctx.Err() == nil {
				h.setFault(err)
			}
			return
		}
	}
}

func (h *Gemini) recvLoop(session *genai.Session) {
	defer close(h.recvDone)
	for {
		msg, err := session.Receive()
		if err != nil {
			if h.lc.load() < stateShuttingDown {
				h.setFault(err)
			}
			return
		}
		sc := msg.ServerContent
		if sc == nil {
			continue
		}
		if sc.ModelTurn != nil {
			for _, part := range sc.ModelTurn.Parts {
				if part == nil || part.InlineData == nil || len(part.InlineData.Data) == 0 {
					continue
				}
				frame := core.FrameFromPCM16LE(geminiOutputRate, part.InlineData.Data)
				if !h.out.tryPush(core.FrameOutput(frame)) {
					log.Debug().Str("module", "handler.gemini").Msg("audio dropped, output queue full")
				}
			}
		}
		if sc.Interrupted {
			h.out.tryPush(core.EventOutput(core.Event{Type: "interrupted"}))
		}
		if sc.TurnComplete {
			h.out.tryPush(core.EventOutput(core.Event{Type: "turn.complete"}))
		}
	}
}

func (h *Gemini) setFault(err error) {
	h.faultMu.Lock()
	defer h.faultMu.Unlock()
	if h.fault == nil {
		h.fault = fmt.Errorf("%w: gemini: %v", core.ErrHandlerFault, err)
		log.Error().Err(err).Str("module", "handler.gemini").Msg("gemini session failed")
	}
}

func (h *Gemini) faultErr() error {
	h.faultMu.Lock()
	defer h.faultMu.Unlock()
	return h.fault
}
