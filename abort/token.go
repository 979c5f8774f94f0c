// Package abort provides the single-shot cancellation primitive shared by
// the navigation lifecycle and the trigger scheduler. One token exists per
// navigation epoch; firing it is irreversible.
package abort

import (
	"log/slog"
	"sync"

	"github.com/link-foundation/browser-commander-sub000/models"
)

// Token is a single-shot cancellation signal. It is fired at most once and
// never un-fired. Cleanup callbacks registered on the token run exactly once,
// in registration order, when the token fires.
type Token struct {
	mu       sync.Mutex
	done     chan struct{}
	fired    bool
	cleanups []func()
}

// NewToken creates an unfired token.
func NewToken() *Token {
	return &Token{done: make(chan struct{})}
}

// Fire marks the token as fired, runs the registered cleanup callbacks in
// FIFO order, and releases every waiter on Done. Subsequent calls are no-ops.
func (t *Token) Fire() {
	t.mu.Lock()
	if t.fired {
		t.mu.Unlock()
		return
	}
	t.fired = true
	cleanups := t.cleanups
	t.cleanups = nil
	close(t.done)
	t.mu.Unlock()

	for _, fn := range cleanups {
		runCleanup(fn)
	}
}

// Fired reports whether the token has been fired.
func (t *Token) Fired() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.fired
}

// Done returns a channel that is closed when the token fires.
func (t *Token) Done() <-chan struct{} {
	return t.done
}

// Err returns ErrActionStopped if the token has fired, nil otherwise.
func (t *Token) Err() error {
	if t.Fired() {
		return models.ErrActionStopped
	}
	return nil
}

// OnCleanup registers a callback to run when the token fires. If the token
// has already fired, the callback runs immediately.
func (t *Token) OnCleanup(fn func()) {
	t.mu.Lock()
	if !t.fired {
		t.cleanups = append(t.cleanups, fn)
		t.mu.Unlock()
		return
	}
	t.mu.Unlock()
	runCleanup(fn)
}

func runCleanup(fn func()) {
	defer func() {
		if r := recover(); r != nil {
			slog.Warn("abort cleanup panicked", "panic", r)
		}
	}()
	fn()
}
