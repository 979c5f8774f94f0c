// Package navigation owns the page lifecycle: it converts raw main-frame URL
// changes into the Idle/Loading state machine, rotates the abort token on
// each navigation epoch, and decides when a page is ready for work.
package navigation

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/link-foundation/browser-commander-sub000/abort"
	"github.com/link-foundation/browser-commander-sub000/config"
	"github.com/link-foundation/browser-commander-sub000/driver"
	"github.com/link-foundation/browser-commander-sub000/models"
	"github.com/link-foundation/browser-commander-sub000/network"
)

// State is the lifecycle state of the page.
type State int

const (
	// StateIdle is the working state: actions may run.
	StateIdle State = iota
	// StateLoading means a navigation is in flight; no new action starts.
	StateLoading
)

func (s State) String() string {
	if s == StateLoading {
		return "loading"
	}
	return "idle"
}

// StartEvent is the navigation_start payload.
type StartEvent struct {
	URL        string
	SessionID  uint64
	IsExternal bool
	Token      *abort.Token
}

// CompleteEvent is the navigation_complete payload.
type CompleteEvent struct {
	URL       string
	SessionID uint64
	Duration  time.Duration
}

// ChangeEvent is the url_change payload.
type ChangeEvent struct {
	PreviousURL string
	NewURL      string
	SessionID   uint64
}

// ReadyEvent is the page_ready payload.
type ReadyEvent struct {
	URL       string
	SessionID uint64
}

// NavigateOptions control an imperative navigation.
type NavigateOptions struct {
	// WaitUntil is passed to the driver goto; empty means "load".
	WaitUntil string
	// Timeout bounds the whole navigate, goto included. Zero means the
	// configured ready timeout.
	Timeout time.Duration
}

// ReadyOptions control a wait-for-page-ready call.
type ReadyOptions struct {
	Timeout time.Duration
	// Reason is logged with the wait, for diagnostics.
	Reason string
}

// Manager drives the lifecycle of a single page.
type Manager struct {
	drv     driver.Driver
	tracker *network.Tracker
	cfg     config.NavigationConfig

	mu              sync.Mutex
	currentURL      string
	state           State
	loadingSince    time.Time
	loadingExternal bool
	sessionID       uint64
	token           *abort.Token
	sessionCleanups []func()
	stopped         bool

	beforeNavigate *callbackList[func(context.Context)]
	navStart       *callbackList[func(StartEvent)]
	urlChange      *callbackList[func(ChangeEvent)]
	navComplete    *callbackList[func(CompleteEvent)]
	pageReady      *callbackList[func(ReadyEvent)]

	ready    singleflight.Group
	frameSub driver.Subscription
}

// NewManager creates a manager in the Idle state at the driver's current URL.
func NewManager(drv driver.Driver, tracker *network.Tracker, cfg config.NavigationConfig) *Manager {
	if cfg.RedirectStabilization <= 0 {
		cfg.RedirectStabilization = time.Second
	}
	if cfg.URLPollInterval <= 0 {
		cfg.URLPollInterval = 200 * time.Millisecond
	}
	if cfg.ReadyTimeout <= 0 {
		cfg.ReadyTimeout = 60 * time.Second
	}
	return &Manager{
		drv:            drv,
		tracker:        tracker,
		cfg:            cfg,
		currentURL:     drv.URL(),
		state:          StateIdle,
		token:          abort.NewToken(),
		beforeNavigate: newCallbackList[func(context.Context)](),
		navStart:       newCallbackList[func(StartEvent)](),
		urlChange:      newCallbackList[func(ChangeEvent)](),
		navComplete:    newCallbackList[func(CompleteEvent)](),
		pageReady:      newCallbackList[func(ReadyEvent)](),
	}
}

// Attach subscribes the manager to the driver's main-frame navigation events.
func (m *Manager) Attach() {
	m.frameSub = m.drv.SubscribeFrameNavigated(m.HandleFrameNavigated)
}

// OnBeforeNavigate registers a listener awaited serially before every
// navigation proceeds. Returns its removal function.
func (m *Manager) OnBeforeNavigate(fn func(context.Context)) (remove func()) {
	return m.beforeNavigate.add(fn)
}

// OnNavigationStart registers a navigation_start listener.
func (m *Manager) OnNavigationStart(fn func(StartEvent)) (remove func()) {
	return m.navStart.add(fn)
}

// OnURLChange registers a url_change listener.
func (m *Manager) OnURLChange(fn func(ChangeEvent)) (remove func()) {
	return m.urlChange.add(fn)
}

// OnNavigationComplete registers a navigation_complete listener.
func (m *Manager) OnNavigationComplete(fn func(CompleteEvent)) (remove func()) {
	return m.navComplete.add(fn)
}

// OnPageReady registers a page_ready listener.
func (m *Manager) OnPageReady(fn func(ReadyEvent)) (remove func()) {
	return m.pageReady.add(fn)
}

// AddSessionCleanup registers a callback drained on the next Idle to Loading
// transition. Callbacks run in registration order; errors are swallowed.
func (m *Manager) AddSessionCleanup(fn func()) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sessionCleanups = append(m.sessionCleanups, fn)
}

// BeginNavigation performs the Idle to Loading transition: the previous
// token fires before any listener runs, before_navigate listeners are
// awaited serially, session cleanups drain, the tracker resets, and
// navigation_start fires. A no-op while already Loading.
func (m *Manager) BeginNavigation(ctx context.Context, isExternal bool) {
	m.mu.Lock()
	if m.stopped || m.state == StateLoading {
		m.mu.Unlock()
		return
	}
	prev := m.token
	m.token = abort.NewToken()
	m.state = StateLoading
	m.loadingSince = time.Now()
	m.loadingExternal = isExternal
	m.sessionID++
	sid := m.sessionID
	tok := m.token
	url := m.currentURL
	cleanups := m.sessionCleanups
	m.sessionCleanups = nil
	m.mu.Unlock()

	prev.Fire()

	for _, fn := range m.beforeNavigate.snapshot() {
		fn(ctx)
	}

	for _, fn := range cleanups {
		runSwallowed("session cleanup", fn)
	}

	m.tracker.Reset()

	ev := StartEvent{URL: url, SessionID: sid, IsExternal: isExternal, Token: tok}
	for _, fn := range m.navStart.snapshot() {
		fn(ev)
	}

	slog.Debug("navigation started", "url", url, "sessionID", sid, "external", isExternal)
}

// CompleteNavigation performs the Loading to Idle transition and fires
// navigation_complete, then page_ready. A no-op while Idle.
func (m *Manager) CompleteNavigation() {
	m.mu.Lock()
	if m.state != StateLoading {
		m.mu.Unlock()
		return
	}
	duration := time.Since(m.loadingSince)
	m.state = StateIdle
	url := m.currentURL
	sid := m.sessionID
	m.mu.Unlock()

	for _, fn := range m.navComplete.snapshot() {
		fn(CompleteEvent{URL: url, SessionID: sid, Duration: duration})
	}
	for _, fn := range m.pageReady.snapshot() {
		fn(ReadyEvent{URL: url, SessionID: sid})
	}

	slog.Debug("navigation complete", "url", url, "sessionID", sid, "duration", duration)
}

// HandleFrameNavigated is the main-frame URL change handler. A change while
// Idle is an external navigation (JS redirect, link click, back/forward) and
// enters Loading, then waits for readiness in the background.
func (m *Manager) HandleFrameNavigated(newURL string) {
	m.mu.Lock()
	if m.stopped || newURL == m.currentURL {
		m.mu.Unlock()
		return
	}
	previous := m.currentURL
	m.currentURL = newURL
	state := m.state
	sid := m.sessionID
	m.mu.Unlock()

	for _, fn := range m.urlChange.snapshot() {
		fn(ChangeEvent{PreviousURL: previous, NewURL: newURL, SessionID: sid})
	}

	if state == StateIdle {
		m.BeginNavigation(context.Background(), true)
		go m.WaitForPageReady(context.Background(), ReadyOptions{Reason: "external navigation"})
	}
}

// Navigate is the imperative entry: it enters Loading, drives the goto, and
// waits for readiness. A navigation-transient goto failure completes the
// navigation and returns false with no error.
func (m *Manager) Navigate(ctx context.Context, url string, opts NavigateOptions) (bool, error) {
	m.BeginNavigation(ctx, false)

	err := m.drv.Goto(ctx, url, driver.GotoOptions{
		WaitUntil: opts.WaitUntil,
		Timeout:   m.cfg.GotoTimeout,
	})
	if err != nil {
		if models.IsNavigationTransient(err) {
			slog.Debug("goto interrupted by navigation", "url", url, "error", err)
			m.CompleteNavigation()
			return false, nil
		}
		m.CompleteNavigation()
		return false, err
	}

	if u := m.drv.URL(); u != "" {
		m.setCurrentURL(u)
	}

	m.WaitForPageReady(ctx, ReadyOptions{Timeout: opts.Timeout, Reason: "navigate"})
	return true, nil
}

func (m *Manager) setCurrentURL(u string) {
	m.mu.Lock()
	m.currentURL = u
	m.mu.Unlock()
}

// WaitForPageReady waits for the URL to stop changing and the network to go
// quiet, then completes the navigation. Concurrent callers share one
// underlying wait.
func (m *Manager) WaitForPageReady(ctx context.Context, opts ReadyOptions) bool {
	v, _, _ := m.ready.Do("page-ready", func() (interface{}, error) {
		return m.waitForPageReady(ctx, opts), nil
	})
	ok, _ := v.(bool)
	return ok
}

func (m *Manager) waitForPageReady(ctx context.Context, opts ReadyOptions) bool {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = m.cfg.ReadyTimeout
	}
	deadline := time.Now().Add(timeout)

	// Phase 1: URL stabilization. JS redirect chains move the main frame
	// several times in quick succession; the page is not worth touching
	// until the URL has sat still for the stabilization window.
	lastChange := time.Now()
	lastURL := m.drv.URL()
	if lastURL != "" {
		m.setCurrentURL(lastURL)
	}
	for time.Since(lastChange) < m.cfg.RedirectStabilization && time.Now().Before(deadline) {
		if !sleepCtx(ctx, m.cfg.URLPollInterval) {
			break
		}
		u := m.drv.URL()
		if u != "" && u != lastURL {
			lastURL = u
			m.setCurrentURL(u)
			lastChange = time.Now()
		}
	}

	// Phase 2: network idle. Failure here is logged, not fatal; a noisy
	// page still becomes ready at the deadline.
	idleBudget := time.Until(deadline)
	if idleBudget < 60*time.Second {
		idleBudget = 60 * time.Second
	}
	idle := m.tracker.WaitForIdle(ctx, network.IdleOptions{
		Timeout:  idleBudget,
		IdleTime: m.tracker.IdleTimeout(),
	})
	if !idle {
		slog.Warn("network did not go idle before page ready",
			"url", m.CurrentURL(), "reason", opts.Reason)
	}

	m.CompleteNavigation()
	return true
}

// CurrentURL returns the last observed main-frame URL.
func (m *Manager) CurrentURL() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.currentURL
}

// SessionID returns the current navigation epoch label.
func (m *Manager) SessionID() uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.sessionID
}

// State returns the lifecycle state.
func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// CurrentToken returns the abort token of the live loading attempt, or the
// most recent one when Idle.
func (m *Manager) CurrentToken() *abort.Token {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.token
}

// ShouldAbort reports whether in-flight page work should stop: the page is
// loading, or the current token has already fired.
func (m *Manager) ShouldAbort() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state == StateLoading || m.token.Fired()
}

// Stop detaches the manager from the driver and fires the current token so
// abortable waits release.
func (m *Manager) Stop() {
	m.mu.Lock()
	if m.stopped {
		m.mu.Unlock()
		return
	}
	m.stopped = true
	tok := m.token
	sub := m.frameSub
	m.frameSub = nil
	m.mu.Unlock()

	if sub != nil {
		sub.Close()
	}
	tok.Fire()
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	select {
	case <-ctx.Done():
		return false
	case <-time.After(d):
		return true
	}
}

func runSwallowed(what string, fn func()) {
	defer func() {
		if r := recover(); r != nil {
			slog.Warn(what+" panicked", "panic", r)
		}
	}()
	fn()
}
