package handler

import (
	"context"
	"encoding/base64"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/dkeye/voicebot/internal/core"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const geminiLivePath = "/ws/google.ai.generativelanguage.v1alpha.GenerativeService.BidiGenerateContent"

func liveServer(t *testing.T, script func(conn *websocket.Conn)) string {
	t.Helper()
	up := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, geminiLivePath, r.URL.Path)
		assert.Equal(t, "key", r.Header.Get("x-goog-api-key"))
		conn, err := up.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		setup := readEvent(t, conn)
		if assert.NotNil(t, setup) {
			body, ok := setup["setup"].(map[string]any)
			if assert.True(t, ok, "first message is the live setup") {
				assert.Contains(t, body["model"], "test-model")
			}
		}
		script(conn)
	}))
	t.Cleanup(srv.Close)
	return "ws" + strings.TrimPrefix(srv.URL, "http") + "/"
}

func newTestGemini(baseURL string) *Gemini {
	return NewGemini(GeminiConfig{
		APIKey:       "key",
		Model:        "test-model",
		BaseURL:      baseURL,
		PollInterval: 20 * time.Millisecond,
	})
}

func TestGeminiStreamsAudioBothWays(t *testing.T) {
	forwarded := make(chan map[string]any, 1)
	baseURL := liveServer(t, func(conn *websocket.Conn) {
		pcm := core.Frame{SampleRate: 24000, Samples: []int16{4, 5, 6}}.PCM16LE()
		_ = conn.WriteJSON(map[string]any{
			"serverContent": map[string]any{
				"modelTurn": map[string]any{
					"parts": []any{map[string]any{
						"inlineData": map[string]any{
							"mimeType": "audio/pcm;rate=24000",
							"data":     base64.StdEncoding.EncodeToString(pcm),
						},
					}},
				},
				"turnComplete": true,
			},
		})
		_ = conn.WriteJSON(map[string]any{"serverContent": map[string]any{"interrupted": true}})

		if ev := readEvent(t, conn); ev != nil {
			forwarded <- ev
		}
		for readEvent(t, conn) != nil {
		}
	})

	h := newTestGemini(baseURL)
	require.NoError(t, h.StartUp(context.Background()))

	out, err := emitUntil(t, h, core.OutputFrame)
	require.NoError(t, err)
	assert.Equal(t, 24000, out.Frame.SampleRate)
	assert.Equal(t, []int16{4, 5, 6}, out.Frame.Samples)

	out, err = emitUntil(t, h, core.OutputEvent)
	require.NoError(t, err)
	assert.Equal(t, "turn.complete", out.Event.Type)

	out, err = emitUntil(t, h, core.OutputEvent)
	require.NoError(t, err)
	assert.Equal(t, "interrupted", out.Event.Type)

	h.Receive(core.Frame{SampleRate: 8000, Samples: make([]int16, 160)})
	select {
	case ev := <-forwarded:
		input, ok := ev["realtimeInput"].(map[string]any)
		require.True(t, ok)
		audio, ok := input["audio"].(map[string]any)
		require.True(t, ok)
		assert.Equal(t, "audio/pcm;rate=16000", audio["mimeType"])
		raw, err := base64.StdEncoding.DecodeString(audio["data"].(string))
		require.NoError(t, err)
		assert.Len(t, raw, 320*2, "8 kHz input is resampled to 16 kHz pcm16")
	case <-time.After(2 * time.Second):
		t.Fatal("audio was not forwarded upstream")
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, h.Shutdown(ctx))
	select {
	case <-h.recvDone:
	default:
		t.Fatal("shutdown returned before the receive loop ended")
	}
	require.NoError(t, h.Shutdown(ctx))
	assert.Equal(t, stateStopped, h.lc.load())
}

func TestGeminiUpstreamDisconnectIsHandlerFault(t *testing.T) {
	baseURL := liveServer(t, func(*websocket.Conn) {})

	h := newTestGemini(baseURL)
	require.NoError(t, h.StartUp(context.Background()))

	var err error
	deadline := time.Now().Add(2 * time.Second)
	for err == nil && time.Now().Before(deadline) {
		_, err = h.Emit(context.Background())
	}
	require.Error(t, err)
	assert.True(t, errors.Is(err, core.ErrHandlerFault))

	require.NoError(t, h.Shutdown(context.Background()))
}

func TestGeminiStartUpDialFailure(t *testing.T) {
	h := newTestGemini("ws://127.0.0.1:1/")
	err := h.StartUp(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, core.ErrHandlerFault)
}
