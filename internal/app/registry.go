package app

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/dkeye/voicebot/internal/core"
	"github.com/dkeye/voicebot/internal/domain"
	"github.com/rs/zerolog/log"
	"github.com/sourcegraph/conc"
)

// Registry maps call identities to their sessions. Every new session gets
// its own handler copied from the template.
type Registry struct {
	template core.AudioHandler
	cfg      SessionConfig

	mu       sync.RWMutex
	sessions map[domain.CallID]*Session
	observer func(*Session)
}

func NewRegistry(template core.AudioHandler, cfg SessionConfig) *Registry {
	return &Registry{
		template: template,
		cfg:      cfg.withDefaults(),
		sessions: make(map[domain.CallID]*Session),
	}
}

// OnClosed registers fn to run for every session that reaches Closed,
// after it has left the registry.
func (r *Registry) OnClosed(fn func(*Session)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.observer = fn
}

func (r *Registry) Create(id domain.CallID) (*Session, error) {
	if err := id.Validate(); err != nil {
		return nil, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.sessions[id]; ok {
		log.Warn().Str("module", "app.registry").Str("call_id", string(id)).Msg("duplicate offer rejected")
		return nil, &DuplicateSessionError{CallID: id}
	}
	s := newSession(id, r.template.Copy(), r.cfg, r.release)
	r.sessions[id] = s
	log.Info().Str("module", "app.registry").Str("call_id", string(id)).Int("sessions", len(r.sessions)).Msg("created session")
	return s, nil
}

func (r *Registry) Lookup(id domain.CallID) (*Session, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.sessions[id]
	return s, ok
}

// Get is Lookup for callers that want an error for a missing call.
func (r *Registry) Get(id domain.CallID) (*Session, error) {
	s, ok := r.Lookup(id)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownSession, id)
	}
	return s, nil
}

// Remove closes and forgets the session for id. It reports false when no
// session exists, which is normal for a repeated bye.
func (r *Registry) Remove(id domain.CallID, reason domain.CloseReason) bool {
	s, ok := r.Lookup(id)
	if !ok {
		log.Debug().Str("module", "app.registry").Str("call_id", string(id)).Msg("remove: no such session")
		return false
	}
	s.Close(reason)
	r.release(s)
	return true
}

// release drops the entry only if it still points at s, so a late close
// never evicts a newer call that reused the identity.
func (r *Registry) release(s *Session) {
	r.mu.Lock()
	cur, ok := r.sessions[s.ID()]
	removed := ok && cur == s
	if removed {
		delete(r.sessions, s.ID())
	}
	observer := r.observer
	left := len(r.sessions)
	r.mu.Unlock()

	if !removed {
		return
	}
	log.Info().Str("module", "app.registry").Str("call_id", string(s.ID())).Int("sessions", left).Msg("released session")
	if observer != nil {
		observer(s)
	}
}

func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}

type SessionInfo struct {
	CallID  domain.CallID       `json:"call_id"`
	State   domain.SessionState `json:"-"`
	Status  string              `json:"state"`
	Handler string              `json:"handler"`
	MSISDN  string              `json:"msisdn,omitempty"`
	Since   time.Time           `json:"since"`
	Reason  domain.CloseReason  `json:"reason,omitempty"`
}

// Snapshot lists current sessions, oldest first.
func (r *Registry) Snapshot() []SessionInfo {
	r.mu.RLock()
	out := make([]SessionInfo, 0, len(r.sessions))
	for _, s := range r.sessions {
		st := s.State()
		out = append(out, SessionInfo{
			CallID:  s.ID(),
			State:   st,
			Status:  st.String(),
			Handler: s.HandlerName(),
			MSISDN:  s.MSISDN(),
			Since:   s.CreatedAt(),
			Reason:  s.Reason(),
		})
	}
	r.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].Since.Before(out[j].Since) })
	return out
}

// CloseAll closes every session concurrently. It returns ctx.Err() if the
// sessions did not all close in time; closing continues in the background.
func (r *Registry) CloseAll(ctx context.Context, reason domain.CloseReason) error {
	r.mu.RLock()
	all := make([]*Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		all = append(all, s)
	}
	r.mu.RUnlock()
	if len(all) == 0 {
		return nil
	}
	log.Info().Str("module", "app.registry").Int("sessions", len(all)).Str("reason", string(reason)).Msg("closing all sessions")

	done := make(chan struct{})
	go func() {
		defer close(done)
		var wg conc.WaitGroup
		for _, s := range all {
			wg.Go(func() { s.Close(reason) })
		}
		wg.Wait()
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
