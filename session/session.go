// Package session provides scoped resource release bound to the current
// page instance. A session is active from creation until navigation starts,
// the URL stops matching its filter, or it is ended explicitly; on
// deactivation its cleanups run exactly once, in registration order.
package session

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"github.com/link-foundation/browser-commander-sub000/navigation"
	"github.com/link-foundation/browser-commander-sub000/network"
)

// ErrSessionEnded is the sentinel returned by IfActive once the session has
// deactivated.
var ErrSessionEnded = errors.New("session ended")

// EventTarget is anything whose listener registration hands back a removal
// function, the idiom every listener surface in this module follows.
type EventTarget interface {
	On(event string, handler any) (remove func())
}

// Session is one scoped-cleanup scope.
type Session struct {
	factory   *Factory
	sessionID uint64

	mu        sync.Mutex
	active    bool
	cleanups  []func()
	listeners []func()
	removers  []func()
}

// Factory creates sessions against one page lifecycle and keeps the
// process-local registry of live ones.
type Factory struct {
	manager *navigation.Manager
	tracker *network.Tracker

	mu       sync.Mutex
	sessions map[uint64][]*Session
}

// NewFactory creates a session factory bound to a manager and tracker.
func NewFactory(manager *navigation.Manager, tracker *network.Tracker) *Factory {
	return &Factory{
		manager:  manager,
		tracker:  tracker,
		sessions: make(map[uint64][]*Session),
	}
}

// Open creates an active session for the current navigation epoch. The
// session deactivates when navigation starts, and, with a non-nil urlFilter,
// as soon as the URL stops matching it.
func (f *Factory) Open(urlFilter func(url string) bool) *Session {
	s := &Session{
		factory:   f,
		sessionID: f.manager.SessionID(),
		active:    true,
	}

	f.mu.Lock()
	f.sessions[s.sessionID] = append(f.sessions[s.sessionID], s)
	f.mu.Unlock()

	// Navigation start drains session cleanups in the manager, which is
	// what guarantees the exactly-once FIFO contract.
	f.manager.AddSessionCleanup(s.End)

	if urlFilter != nil {
		remove := f.manager.OnURLChange(func(ev navigation.ChangeEvent) {
			if !urlFilter(ev.NewURL) {
				s.End()
			}
		})
		s.mu.Lock()
		s.removers = append(s.removers, remove)
		s.mu.Unlock()
	}

	return s
}

// EndAll ends every live session serially.
func (f *Factory) EndAll() {
	f.mu.Lock()
	var all []*Session
	for _, group := range f.sessions {
		all = append(all, group...)
	}
	f.mu.Unlock()

	for _, s := range all {
		s.End()
	}
}

func (f *Factory) unregister(s *Session) {
	f.mu.Lock()
	defer f.mu.Unlock()
	group := f.sessions[s.sessionID]
	for i, cur := range group {
		if cur == s {
			group = append(group[:i], group[i+1:]...)
			break
		}
	}
	if len(group) == 0 {
		delete(f.sessions, s.sessionID)
	} else {
		f.sessions[s.sessionID] = group
	}
}

// Active reports whether the session has not yet deactivated.
func (s *Session) Active() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.active
}

// OnCleanup registers a callback to run on deactivation, FIFO. Registering
// on an ended session runs the callback immediately.
func (s *Session) OnCleanup(fn func()) {
	s.mu.Lock()
	if s.active {
		s.cleanups = append(s.cleanups, fn)
		s.mu.Unlock()
		return
	}
	s.mu.Unlock()
	runCleanup(fn)
}

// AddEventListener registers a handler on the target and unregisters it when
// the session deactivates.
func (s *Session) AddEventListener(target EventTarget, event string, handler any) {
	remove := target.On(event, handler)
	s.mu.Lock()
	if s.active {
		s.listeners = append(s.listeners, remove)
		s.mu.Unlock()
		return
	}
	s.mu.Unlock()
	remove()
}

// WaitForNetworkIdle delegates to the tracker while the session is active.
func (s *Session) WaitForNetworkIdle(ctx context.Context, opts network.IdleOptions) bool {
	if !s.Active() {
		return false
	}
	return s.factory.tracker.WaitForIdle(ctx, opts)
}

// WaitForPageReady delegates to the manager while the session is active.
func (s *Session) WaitForPageReady(ctx context.Context, opts navigation.ReadyOptions) bool {
	if !s.Active() {
		return false
	}
	return s.factory.manager.WaitForPageReady(ctx, opts)
}

// IfActive runs fn only while the session is active; otherwise it returns
// ErrSessionEnded without calling fn.
func (s *Session) IfActive(fn func() error) error {
	if !s.Active() {
		return ErrSessionEnded
	}
	return fn()
}

// End deactivates the session: cleanups run exactly once in registration
// order and every listener added through the session is unregistered.
// Subsequent calls are no-ops.
func (s *Session) End() {
	s.mu.Lock()
	if !s.active {
		s.mu.Unlock()
		return
	}
	s.active = false
	cleanups := s.cleanups
	listeners := s.listeners
	removers := s.removers
	s.cleanups, s.listeners, s.removers = nil, nil, nil
	s.mu.Unlock()

	for _, fn := range cleanups {
		runCleanup(fn)
	}
	for _, remove := range listeners {
		remove()
	}
	for _, remove := range removers {
		remove()
	}

	s.factory.unregister(s)
}

func runCleanup(fn func()) {
	defer func() {
		if r := recover(); r != nil {
			slog.Warn("session cleanup panicked", "panic", r)
		}
	}()
	fn()
}
