// Package network tallies a page's in-flight requests to infer a quiet
// window, the network-idle signal the lifecycle manager waits on.
package network

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/link-foundation/browser-commander-sub000/driver"
)

// Config controls the tracker.
type Config struct {
	// IdleTimeout is the quiet window with no active requests that counts
	// as idle.
	IdleTimeout time.Duration

	// RequestTimeout bounds how long a request stays pending before it is
	// treated as stuck and collected.
	RequestTimeout time.Duration

	// PollInterval is the WaitForIdle tick.
	PollInterval time.Duration
}

func (c *Config) defaults() {
	if c.IdleTimeout <= 0 {
		c.IdleTimeout = 500 * time.Millisecond
	}
	if c.RequestTimeout <= 0 {
		c.RequestTimeout = 30 * time.Second
	}
	if c.PollInterval <= 0 {
		c.PollInterval = 100 * time.Millisecond
	}
}

// IdleOptions control a single WaitForIdle call.
type IdleOptions struct {
	// Timeout is the overall deadline. Zero means the request timeout.
	Timeout time.Duration

	// IdleTime is the quiet window to confirm. Zero means the tracker's
	// idle timeout.
	IdleTime time.Duration
}

type requestKey struct {
	method string
	url    string
}

type pendingRequest struct {
	key       requestKey
	startedAt time.Time
}

type idleListener struct {
	id int
	fn func()
}

// Tracker tallies in-flight requests for one page. It is driven by the
// driver's request events and never returns an error to them; callback
// failures are swallowed and logged.
type Tracker struct {
	cfg Config

	mu        sync.Mutex
	pending   map[requestKey]pendingRequest
	epoch     uint64
	debounce  *time.Timer
	listeners []idleListener
	nextID    int
	stopped   bool
	sub       driver.Subscription
}

// NewTracker creates a tracker. Zero config fields get the standalone
// defaults.
func NewTracker(cfg Config) *Tracker {
	cfg.defaults()
	return &Tracker{
		cfg:     cfg,
		pending: make(map[requestKey]pendingRequest),
	}
}

// Attach subscribes the tracker to a driver's request events.
func (t *Tracker) Attach(d driver.Driver) {
	t.sub = d.SubscribeRequests(driver.RequestHooks{
		OnStart:  t.HandleStart,
		OnFinish: t.HandleFinish,
		OnFail:   t.HandleFail,
	})
}

// IdleTimeout returns the configured quiet window.
func (t *Tracker) IdleTimeout() time.Duration { return t.cfg.IdleTimeout }

func ignoredScheme(url string) bool {
	return strings.HasPrefix(url, "data:") || strings.HasPrefix(url, "blob:")
}

// HandleStart records a request and disarms any pending idle debounce.
func (t *Tracker) HandleStart(method, url string) {
	if ignoredScheme(url) {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.stopped {
		return
	}
	key := requestKey{method, url}
	t.pending[key] = pendingRequest{key: key, startedAt: time.Now()}
	t.disarmLocked()
}

// HandleFinish removes a request; an unknown key is a no-op. When the tally
// drops to zero a one-shot debounce timer is armed for the idle window.
func (t *Tracker) HandleFinish(method, url string) {
	t.settle(method, url)
}

// HandleFail removes a request just like HandleFinish.
func (t *Tracker) HandleFail(method, url string) {
	t.settle(method, url)
}

func (t *Tracker) settle(method, url string) {
	if ignoredScheme(url) {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.stopped {
		return
	}
	key := requestKey{method, url}
	if _, known := t.pending[key]; !known {
		return
	}
	delete(t.pending, key)
	if len(t.pending) == 0 {
		t.armLocked()
	}
}

func (t *Tracker) armLocked() {
	t.disarmLocked()
	t.debounce = time.AfterFunc(t.cfg.IdleTimeout, t.fireIdle)
}

func (t *Tracker) disarmLocked() {
	if t.debounce != nil {
		t.debounce.Stop()
		t.debounce = nil
	}
}

// fireIdle announces network idle, unless a request started in the meantime.
func (t *Tracker) fireIdle() {
	t.mu.Lock()
	if t.stopped || len(t.pending) > 0 {
		t.mu.Unlock()
		return
	}
	listeners := make([]idleListener, len(t.listeners))
	copy(listeners, t.listeners)
	t.mu.Unlock()

	for _, l := range listeners {
		safeNotify(l.fn)
	}
}

func safeNotify(fn func()) {
	defer func() {
		if r := recover(); r != nil {
			slog.Warn("network idle listener panicked", "panic", r)
		}
	}()
	fn()
}

// OnIdle registers a listener for the idle announcement and returns its
// removal function. Listeners fire in registration order.
func (t *Tracker) OnIdle(fn func()) (remove func()) {
	t.mu.Lock()
	defer t.mu.Unlock()
	id := t.nextID
	t.nextID++
	t.listeners = append(t.listeners, idleListener{id: id, fn: fn})
	return func() {
		t.mu.Lock()
		defer t.mu.Unlock()
		for i, l := range t.listeners {
			if l.id == id {
				t.listeners = append(t.listeners[:i], t.listeners[i+1:]...)
				return
			}
		}
	}
}

// Reset starts a new navigation epoch: the tally is cleared and any armed
// debounce is cancelled. Called on every Idle to Loading transition.
func (t *Tracker) Reset() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.epoch++
	t.pending = make(map[requestKey]pendingRequest)
	t.disarmLocked()
}

// Epoch returns the current navigation epoch.
func (t *Tracker) Epoch() uint64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.epoch
}

// PendingCount returns the number of tracked in-flight requests.
func (t *Tracker) PendingCount() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.pending)
}

// gcStale drops requests pending longer than the request timeout. This
// bounds the stuck-request class: a hung fetch cannot hold idle hostage.
func (t *Tracker) gcStale() {
	t.mu.Lock()
	defer t.mu.Unlock()
	now := time.Now()
	for key, req := range t.pending {
		if now.Sub(req.startedAt) > t.cfg.RequestTimeout {
			slog.Debug("collecting stuck request", "method", key.method, "url", key.url)
			delete(t.pending, key)
		}
	}
}

// WaitForIdle blocks until a confirmed quiet window, the deadline, or an
// epoch change. It returns true only for a confirmed idle within the same
// navigation epoch it started in; timeouts return false, never an error.
func (t *Tracker) WaitForIdle(ctx context.Context, opts IdleOptions) bool {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = t.cfg.RequestTimeout
	}
	idleTime := opts.IdleTime
	if idleTime <= 0 {
		idleTime = t.cfg.IdleTimeout
	}

	e0 := t.Epoch()
	deadline := time.Now().Add(timeout)

	if t.PendingCount() == 0 {
		if !sleep(ctx, idleTime) {
			return false
		}
		if t.PendingCount() == 0 && t.Epoch() == e0 {
			return true
		}
	}

	ticker := time.NewTicker(t.cfg.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return false
		case <-ticker.C:
		}

		t.gcStale()
		if t.Epoch() != e0 {
			return false
		}
		if time.Now().After(deadline) {
			return false
		}
		if t.PendingCount() != 0 {
			continue
		}
		if !sleep(ctx, idleTime) {
			return false
		}
		if t.PendingCount() == 0 && t.Epoch() == e0 {
			return true
		}
	}
}

func sleep(ctx context.Context, d time.Duration) bool {
	select {
	case <-ctx.Done():
		return false
	case <-time.After(d):
		return true
	}
}

// Stop detaches the tracker from the driver and silences it.
func (t *Tracker) Stop() {
	t.mu.Lock()
	t.stopped = true
	t.disarmLocked()
	t.listeners = nil
	sub := t.sub
	t.sub = nil
	t.mu.Unlock()

	if sub != nil {
		sub.Close()
	}
}
