package app

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dkeye/voicebot/internal/core"
	"github.com/dkeye/voicebot/internal/domain"
)

type fakeMedia struct {
	frames    chan core.Frame
	done      chan struct{}
	closeOnce sync.Once
	closed    atomic.Bool

	mu      sync.Mutex
	written []core.Frame
}

func newFakeMedia() *fakeMedia {
	return &fakeMedia{frames: make(chan core.Frame, 16), done: make(chan struct{})}
}

func (m *fakeMedia) Frames() <-chan core.Frame { return m.frames }
func (m *fakeMedia) Done() <-chan struct{}     { return m.done }

func (m *fakeMedia) WriteFrame(f core.Frame) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.written = append(m.written, f)
	return nil
}

func (m *fakeMedia) Written() []core.Frame {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]core.Frame(nil), m.written...)
}

func (m *fakeMedia) Close() {
	m.closeOnce.Do(func() {
		m.closed.Store(true)
		close(m.done)
	})
}

type fakeTransport struct {
	media   *fakeMedia
	err     error
	during  func()
	offered chan domain.SessionDescription
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{media: newFakeMedia(), offered: make(chan domain.SessionDescription, 1)}
}

func (t *fakeTransport) Answer(_ context.Context, offer domain.SessionDescription) (core.MediaConnection, domain.SessionDescription, error) {
	select {
	case t.offered <- offer:
	default:
	}
	if t.during != nil {
		t.during()
	}
	if t.err != nil {
		return nil, domain.SessionDescription{}, t.err
	}
	return t.media, domain.SessionDescription{CallID: offer.CallID, Type: domain.SDPTypeAnswer, SDP: "v=0 answer"}, nil
}

// fakeHandler is a scriptable AudioHandler. Copies share the counters so a
// test can observe every instance made from one template.
type fakeHandler struct {
	hangShutdown bool
	release      chan struct{}
	panicOnFrame bool

	shutdowns *atomic.Int32
	copies    *atomic.Int32

	out   chan core.Output
	fault chan error
	got   chan core.Frame
}

func newFakeHandler() *fakeHandler {
	return &fakeHandler{
		release:   make(chan struct{}),
		shutdowns: &atomic.Int32{},
		copies:    &atomic.Int32{},
		out:       make(chan core.Output, 8),
		fault:     make(chan error, 1),
		got:       make(chan core.Frame, 8),
	}
}

func (h *fakeHandler) Name() string                  { return "fake" }
func (h *fakeHandler) StartUp(context.Context) error { return nil }

func (h *fakeHandler) Receive(f core.Frame) {
	if h.panicOnFrame {
		panic("boom")
	}
	select {
	case h.got <- f:
	default:
	}
}

func (h *fakeHandler) Emit(ctx context.Context) (core.Output, error) {
	select {
	case o := <-h.out:
		return o, nil
	case err := <-h.fault:
		return core.Idle, err
	case <-ctx.Done():
		return core.Idle, nil
	case <-time.After(10 * time.Millisecond):
		return core.Idle, nil
	}
}

func (h *fakeHandler) Shutdown(ctx context.Context) error {
	h.shutdowns.Add(1)
	if h.hangShutdown {
		<-h.release
	}
	return nil
}

func (h *fakeHandler) Copy() core.AudioHandler {
	h.copies.Add(1)
	return &fakeHandler{
		hangShutdown: h.hangShutdown,
		release:      h.release,
		panicOnFrame: h.panicOnFrame,
		shutdowns:    h.shutdowns,
		copies:       h.copies,
		out:          make(chan core.Output, 8),
		fault:        make(chan error, 1),
		got:          make(chan core.Frame, 8),
	}
}

var errUpstream = errors.New("upstream gone")
