package handler

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/dkeye/voicebot/internal/core"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

const (
	DefaultOpenAIURL   = "wss://api.openai.com/v1/realtime"
	DefaultOpenAIModel = "gpt-4o-mini-realtime-preview-2024-12-17"

	openAISampleRate   = 24000
	openAIWriteTimeout = 5 * time.Second
)

type OpenAIConfig struct {
	APIKey       string
	Model        string
	URL          string
	PollInterval time.Duration
	QueueSize    int
}

// OpenAI proxies call audio to the OpenAI realtime API over a websocket and
// returns the model's spoken reply plus finished transcripts.
type OpenAI struct {
	cfg OpenAIConfig
	lc  lifecycle

	in  *queue[core.Frame]
	out *queue[core.Output]

	mu       sync.Mutex
	conn     *websocket.Conn
	writeMu  sync.Mutex
	closed   chan struct{}
	readDone chan struct{}

	faultMu sync.Mutex
	fault   error
}

func NewOpenAI(cfg OpenAIConfig) *OpenAI {
	if cfg.Model == "" {
		cfg.Model = DefaultOpenAIModel
	}
	if cfg.URL == "" {
		cfg.URL = DefaultOpenAIURL
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = DefaultPollInterval
	}
	return &OpenAI{
		cfg:      cfg,
		in:       newQueue[core.Frame](cfg.QueueSize),
		out:      newQueue[core.Output](cfg.QueueSize),
		closed:   make(chan struct{}),
		readDone: make(chan struct{}),
	}
}

func (h *OpenAI) Name() string { return "openai" }

func (h *OpenAI) Copy() core.AudioHandler { return NewOpenAI(h.cfg) }

func (h *OpenAI) endpoint() (string, error) {
	u, err := url.Parse(h.cfg.URL)
	if err != nil {
		return "", err
	}
	q := u.Query()
	q.Set("model", h.cfg.Model)
	u.RawQuery = q.Encode()
	return u.String(), nil
}

func (h *OpenAI) StartUp(ctx context.Context) error {
	if h.lc.load() != stateCreated {
		return fmt.Errorf("%w: openai handler already started", core.ErrHandlerFault)
	}
	log.Info().Str("module", "handler.openai").Str("model", h.cfg.Model).Msg("connecting to realtime api")

	wsURL, err := h.endpoint()
	if err != nil {
		return fmt.Errorf("%w: realtime url: %v", core.ErrHandlerFault, err)
	}
	header := http.Header{}
	header.Set("Authorization", "Bearer "+strings.TrimSpace(h.cfg.APIKey))
	header.Set("OpenAI-Beta", "realtime=v1")

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, wsURL, header)
	if err != nil {
		return fmt.Errorf("%w: dial realtime: %v", core.ErrHandlerFault, err)
	}

	h.mu.Lock()
	if !h.lc.transition(stateCreated, stateStarted) {
		h.mu.Unlock()
		_ = conn.Close()
		return fmt.Errorf("%w: openai handler shut down during start-up", core.ErrHandlerFault)
	}
	h.conn = conn
	h.mu.Unlock()

	update := map[string]any{
		"type":     "session.update",
		"event_id": uuid.NewString(),
		"session": map[string]any{
			"modalities":          []string{"audio", "text"},
			"input_audio_format":  "pcm16",
			"output_audio_format": "pcm16",
			"turn_detection":      map[string]any{"type": "server_vad"},
		},
	}
	if err := h.writeJSON(update); err != nil {
		h.setFault(err)
		close(h.readDone)
		return fmt.Errorf("%w: session update: %v", core.ErrHandlerFault, err)
	}

	go h.readLoop(conn)
	go h.writeLoop()
	h.lc.transition(stateStarted, stateRunning)
	return nil
}

func (h *OpenAI) Receive(frame core.Frame) {
	if !h.lc.accepting() {
		log.Debug().Str("module", "handler.openai").Str("state", h.lc.load().String()).Msg("frame dropped, not running")
		return
	}
	if !h.in.tryPush(frame) {
		log.Debug().Str("module", "handler.openai").Msg("frame dropped, input queue full")
	}
}

func (h *OpenAI) Emit(ctx context.Context) (core.Output, error) {
	out := emitFrom(ctx, h.out, h.cfg.PollInterval)
	if out.Kind != core.OutputIdle {
		return out, nil
	}
	if err := h.faultErr(); err != nil {
		return core.Idle, err
	}
	return core.Idle, nil
}

func (h *OpenAI) Shutdown(ctx context.Context) error {
	if !h.lc.beginShutdown() {
		return nil
	}
	log.Info().Str("module", "handler.openai").Msg("shutting down openai handler")
	close(h.closed)

	h.mu.Lock()
	conn := h.conn
	h.mu.Unlock()
	defer h.lc.set(stateStopped)
	if conn == nil {
		return nil
	}

	h.writeMu.Lock()
	_ = conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(time.Second))
	h.writeMu.Unlock()
	_ = conn.Close()

	select {
	case <-h.readDone:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (h *OpenAI) writeJSON(v any) error {
	h.mu.Lock()
	conn := h.conn
	h.mu.Unlock()
	if conn == nil {
		return errors.New("not connected")
	}
	h.writeMu.Lock()
	defer h.writeMu.Unlock()
	if err := conn.SetWriteDeadline(time.Now().Add(openAIWriteTimeout)); err != nil {
		return err
	}
	return conn.WriteJSON(v)
}

func (h *OpenAI) writeLoop() {
	for {
		select {
		case <-h.closed:
			return
		case f := <-h.in.ch:
			msg := map[string]any{
				"type":  "input_audio_buffer.append",
				"audio": base64.StdEncoding.EncodeToString(f.Resample(openAISampleRate).PCM16LE()),
			}
			if err := h.writeJSON(msg); err != nil {
				h.setFault(err)
				return
			}
		}
	}
}

type realtimeEvent struct {
	Type       string `json:"type"`
	Delta      string `json:"delta"`
	Transcript string `json:"transcript"`
	Error      *struct {
		Type    string `json:"type"`
		Message string `json:"message"`
	} `json:"error"`
}

func (h *OpenAI) readLoop(conn *websocket.Conn) {
	defer close(h.readDone)
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if h.lc.load() < stateShuttingDown {
				h.setFault(err)
			}
			return
		}
		var ev realtimeEvent
		if err := json.Unmarshal(data, &ev); err != nil {
			log.Warn().Err(err).Str("module", "handler.openai").Msg("bad realtime event")
			continue
		}
		switch ev.Type {
		case "response.audio.delta":
			pcm, err := base64.StdEncoding.DecodeString(ev.Delta)
			if err != nil {
				log.Warn().Err(err).Str("module", "handler.openai").Msg("bad audio delta")
				continue
			}
			if !h.out.tryPush(core.FrameOutput(core.FrameFromPCM16LE(openAISampleRate, pcm))) {
				log.Debug().Str("module", "handler.openai").Msg("audio delta dropped, output queue full")
			}
		case "response.audio_transcript.done":
			h.out.tryPush(core.EventOutput(core.Event{Type: "transcript.done", Text: ev.Transcript}))
		case "error":
			if ev.Error != nil {
				log.Warn().Str("module", "handler.openai").Str("type", ev.Error.Type).Msg(ev.Error.Message)
			}
		default:
			log.Trace().Str("module", "handler.openai").Str("type", ev.Type).Msg("realtime event")
		}
	}
}

func (h *OpenAI) setFault(err error) {
	h.faultMu.Lock()
	defer h.faultMu.Unlock()
	if h.fault == nil {
		h.fault = fmt.Errorf("%w: openai: %v", core.ErrHandlerFault, err)
		log.Error().Err(err).Str("module", "handler.openai").Msg("realtime connection failed")
	}
}

func (h *OpenAI) faultErr() error {
	h.faultMu.Lock()
	defer h.faultMu.Unlock()
	return h.fault
}
