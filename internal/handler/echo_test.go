package handler

import (
	"context"
	"testing"
	"time"

	"github.com/dkeye/voicebot/internal/core"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testFrame(v int16) core.Frame {
	return core.Frame{SampleRate: 8000, Samples: []int16{v, v, v}}
}

func TestEchoReturnsFramesInOrder(t *testing.T) {
	h := newEcho(10*time.Millisecond, 8)
	ctx := context.Background()
	require.NoError(t, h.StartUp(ctx))

	for i := range 3 {
		h.Receive(testFrame(int16(i)))
	}
	for i := range 3 {
		out, err := h.Emit(ctx)
		require.NoError(t, err)
		require.Equal(t, core.OutputFrame, out.Kind)
		assert.Equal(t, int16(i), out.Frame.Samples[0])
	}

	out, err := h.Emit(ctx)
	require.NoError(t, err)
	assert.Equal(t, core.OutputIdle, out.Kind, "empty queue reports idle, not an error")
}

func TestEchoDropsFramesOutsideRunningState(t *testing.T) {
	h := newEcho(10*time.Millisecond, 8)
	ctx := context.Background()

	h.Receive(testFrame(1))
	assert.Equal(t, 0, h.out.len(), "frames before start-up are dropped")

	require.NoError(t, h.StartUp(ctx))
	require.NoError(t, h.Shutdown(ctx))
	require.NoError(t, h.Shutdown(ctx), "shutdown is idempotent")
	assert.Equal(t, stateStopped, h.lc.load())

	h.Receive(testFrame(2))
	assert.Equal(t, 0, h.out.len(), "frames after shutdown are dropped")
}

func TestEchoDropsWhenFull(t *testing.T) {
	h := newEcho(10*time.Millisecond, 2)
	require.NoError(t, h.StartUp(context.Background()))
	for i := range 5 {
		h.Receive(testFrame(int16(i)))
	}
	assert.Equal(t, 2, h.out.len())
}

func TestEchoEmitIdleWaitsPollInterval(t *testing.T) {
	h := newEcho(30*time.Millisecond, 2)
	require.NoError(t, h.StartUp(context.Background()))

	start := time.Now()
	out, err := h.Emit(context.Background())
	require.NoError(t, err)
	assert.Equal(t, core.OutputIdle, out.Kind)
	assert.GreaterOrEqual(t, time.Since(start), 25*time.Millisecond)
}

func TestCopyHasNoSharedState(t *testing.T) {
	templates := []core.AudioHandler{
		NewEcho(),
		NewOpenAI(OpenAIConfig{APIKey: "k"}),
		NewGemini(GeminiConfig{APIKey: "k"}),
	}
	for _, tmpl := range templates {
		t.Run(tmpl.Name(), func(t *testing.T) {
			a := tmpl.Copy()
			b := tmpl.Copy()
			require.NotSame(t, a, b)
			assert.Equal(t, tmpl.Name(), a.Name())

			switch a := a.(type) {
			case *Echo:
				b := b.(*Echo)
				require.NoError(t, a.StartUp(context.Background()))
				a.Receive(testFrame(7))
				assert.Equal(t, 1, a.out.len())
				assert.Equal(t, 0, b.out.len())
				assert.Equal(t, stateCreated, b.lc.load())
			case *OpenAI:
				b := b.(*OpenAI)
				a.out.tryPush(core.Idle)
				assert.Equal(t, 1, a.out.len())
				assert.Equal(t, 0, b.out.len())
				assert.NotEqual(t, a.closed, b.closed)
				assert.Equal(t, a.cfg, b.cfg)
			case *Gemini:
				b := b.(*Gemini)
				a.in.tryPush(testFrame(1))
				assert.Equal(t, 1, a.in.len())
				assert.Equal(t, 0, b.in.len())
				assert.Equal(t, a.cfg, b.cfg)
			default:
				t.Fatalf("unexpected handler type %T", a)
			}
		})
	}
}

func TestNewTemplateSelection(t *testing.T) {
	cases := []struct {
		name string
		opts Options
		want string
	}{
		{"openai wins", Options{OpenAI: OpenAIConfig{APIKey: "o"}, Gemini: GeminiConfig{APIKey: "g"}}, "openai"},
		{"gemini", Options{Gemini: GeminiConfig{APIKey: "g"}}, "gemini"},
		{"echo fallback", Options{}, "echo"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, NewTemplate(tc.opts).Name())
		})
	}
}

func TestRemoteHandlersDropBeforeStartUp(t *testing.T) {
	o := NewOpenAI(OpenAIConfig{APIKey: "k"})
	o.Receive(testFrame(1))
	assert.Equal(t, 0, o.in.len())
	require.NoError(t, o.Shutdown(context.Background()))
	require.NoError(t, o.Shutdown(context.Background()))

	g := NewGemini(GeminiConfig{APIKey: "k"})
	g.Receive(testFrame(1))
	assert.Equal(t, 0, g.in.len())
	require.NoError(t, g.Shutdown(context.Background()))
	assert.Equal(t, stateStopped, g.lc.load())
}
