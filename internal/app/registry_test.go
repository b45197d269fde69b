package app

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/dkeye/voicebot/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegistryCreateLookupRemove(t *testing.T) {
	tmpl := newFakeHandler()
	r := NewRegistry(tmpl, SessionConfig{})

	a, err := r.Create("a")
	require.NoError(t, err)
	b, err := r.Create("b")
	require.NoError(t, err)
	assert.Equal(t, domain.StateNegotiating, a.State())
	assert.EqualValues(t, 2, tmpl.copies.Load(), "every session gets its own handler copy")
	assert.NotSame(t, a.handler, b.handler)

	got, ok := r.Lookup("a")
	require.True(t, ok)
	assert.Same(t, a, got)

	assert.True(t, r.Remove("a", domain.ReasonBye))
	assert.Equal(t, domain.StateClosed, a.State())
	assert.Equal(t, domain.ReasonBye, a.Reason())
	_, ok = r.Lookup("a")
	assert.False(t, ok)

	assert.False(t, r.Remove("a", domain.ReasonBye), "second bye is a no-op")
	_, ok = r.Lookup("b")
	assert.True(t, ok, "other sessions are untouched")

	_, err = r.Get("a")
	assert.ErrorIs(t, err, ErrUnknownSession)
}

func TestRegistryRejectsInvalidID(t *testing.T) {
	r := NewRegistry(newFakeHandler(), SessionConfig{})
	_, err := r.Create("")
	assert.ErrorIs(t, err, domain.ErrCallIDEmpty)
	assert.Zero(t, r.Len())
}

func TestRegistryDuplicateOffer(t *testing.T) {
	r := NewRegistry(newFakeHandler(), SessionConfig{})
	first, err := r.Create("dup")
	require.NoError(t, err)

	_, err = r.Create("dup")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrDuplicateSession)
	var dup *DuplicateSessionError
	require.True(t, errors.As(err, &dup))
	assert.Equal(t, domain.CallID("dup"), dup.CallID)

	got, ok := r.Lookup("dup")
	require.True(t, ok)
	assert.Same(t, first, got)
	assert.Equal(t, domain.StateNegotiating, first.State())
}

func TestRegistryConcurrentDuplicateCreate(t *testing.T) {
	r := NewRegistry(newFakeHandler(), SessionConfig{})

	var created, rejected atomic.Int32
	var wg sync.WaitGroup
	for range 32 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := r.Create("same")
			switch {
			case err == nil:
				created.Add(1)
			case errors.Is(err, ErrDuplicateSession):
				rejected.Add(1)
			}
		}()
	}
	wg.Wait()

	assert.EqualValues(t, 1, created.Load())
	assert.EqualValues(t, 31, rejected.Load())
	assert.Equal(t, 1, r.Len())
}

func TestRegistryOfferByeSequence(t *testing.T) {
	r := NewRegistry(newFakeHandler(), SessionConfig{})
	var closed atomic.Int32
	r.OnClosed(func(*Session) { closed.Add(1) })

	const n = 40
	for i := range n {
		_, err := r.Create(domain.CallID(fmt.Sprintf("call-%d", i)))
		require.NoError(t, err)
	}
	assert.Equal(t, n, r.Len())

	for i := range n {
		assert.True(t, r.Remove(domain.CallID(fmt.Sprintf("call-%d", i)), domain.ReasonBye))
	}
	assert.Zero(t, r.Len())
	assert.EqualValues(t, n, closed.Load(), "each bye removes exactly one session")
}

func TestRegistryRemoveWithHungHandler(t *testing.T) {
	tmpl := newFakeHandler()
	tmpl.hangShutdown = true
	t.Cleanup(func() { close(tmpl.release) })

	r := NewRegistry(tmpl, SessionConfig{ShutdownTimeout: 50 * time.Millisecond})
	s, err := r.Create("stuck")
	require.NoError(t, err)

	start := time.Now()
	assert.True(t, r.Remove("stuck", domain.ReasonBye))
	assert.Less(t, time.Since(start), time.Second)
	assert.Equal(t, domain.StateClosed, s.State())
	_, ok := r.Lookup("stuck")
	assert.False(t, ok)
	assert.EqualValues(t, 1, tmpl.shutdowns.Load())
}

func TestRegistryReleaseKeepsNewerSession(t *testing.T) {
	r := NewRegistry(newFakeHandler(), SessionConfig{})
	old, err := r.Create("reuse")
	require.NoError(t, err)
	old.Close(domain.ReasonBye)

	fresh, err := r.Create("reuse")
	require.NoError(t, err, "identity is reusable after teardown")

	r.release(old)
	got, ok := r.Lookup("reuse")
	require.True(t, ok)
	assert.Same(t, fresh, got)
}

func TestRegistrySnapshot(t *testing.T) {
	r := NewRegistry(newFakeHandler(), SessionConfig{})
	_, err := r.Create("one")
	require.NoError(t, err)
	time.Sleep(time.Millisecond)
	_, err = r.Create("two")
	require.NoError(t, err)

	snap := r.Snapshot()
	require.Len(t, snap, 2)
	assert.Equal(t, domain.CallID("one"), snap[0].CallID)
	assert.Equal(t, "negotiating", snap[0].Status)
	assert.Equal(t, "fake", snap[1].Handler)
}

func TestRegistryCloseAll(t *testing.T) {
	r := NewRegistry(newFakeHandler(), SessionConfig{})
	for _, id := range []domain.CallID{"x", "y", "z"} {
		_, err := r.Create(id)
		require.NoError(t, err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, r.CloseAll(ctx, domain.ReasonShutdown))
	assert.Zero(t, r.Len())
}

func TestRegistryCloseAllDeadline(t *testing.T) {
	tmpl := newFakeHandler()
	tmpl.hangShutdown = true
	t.Cleanup(func() { close(tmpl.release) })
	r := NewRegistry(tmpl, SessionConfig{ShutdownTimeout: 200 * time.Millisecond})
	_, err := r.Create("slow")
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, r.CloseAll(ctx, domain.ReasonShutdown), context.DeadlineExceeded)

	assert.Eventually(t, func() bool { return r.Len() == 0 }, time.Second, 10*time.Millisecond,
		"bounded handler shutdown still releases the session")
}

func TestByePolicy(t *testing.T) {
	cases := []struct {
		reason    domain.CloseReason
		onFailure bool
		want      FailureAction
	}{
		{domain.ReasonHangup, false, SendBye},
		{domain.ReasonBye, true, NoAction},
		{domain.ReasonShutdown, true, NoAction},
		{domain.ReasonNegotiation, true, SendBye},
		{domain.ReasonNegotiation, false, NoAction},
		{domain.ReasonHandlerFault, true, SendBye},
		{domain.ReasonTransportFailure, true, SendBye},
	}
	for _, tc := range cases {
		t.Run(fmt.Sprintf("%s/%v", tc.reason, tc.onFailure), func(t *testing.T) {
			assert.Equal(t, tc.want, ByePolicy{OnFailure: tc.onFailure}.OnClosed("c", tc.reason))
		})
	}
}
