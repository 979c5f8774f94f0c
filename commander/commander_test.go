package commander

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/link-foundation/browser-commander-sub000/abort"
	"github.com/link-foundation/browser-commander-sub000/config"
	"github.com/link-foundation/browser-commander-sub000/driver"
)

// fakeDriver is an in-process driver: tests move the main frame and emit
// request events through it.
type fakeDriver struct {
	mu           sync.Mutex
	url          string
	frameHandler func(url string)
	hooks        driver.RequestHooks

	queryErr   error
	hasElement bool
	visible    bool
	text       string
	mutErr     error

	evalFn   string
	evalArgs []any
}

func (f *fakeDriver) Name() string { return "fake" }

func (f *fakeDriver) URL() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.url
}

// navigate simulates the browser moving the main frame.
func (f *fakeDriver) navigate(u string) {
	f.mu.Lock()
	f.url = u
	h := f.frameHandler
	f.mu.Unlock()
	if h != nil {
		h(u)
	}
}

func (f *fakeDriver) requestStart(method, url string) {
	f.mu.Lock()
	h := f.hooks.OnStart
	f.mu.Unlock()
	if h != nil {
		h(method, url)
	}
}

func (f *fakeDriver) requestFinish(method, url string) {
	f.mu.Lock()
	h := f.hooks.OnFinish
	f.mu.Unlock()
	if h != nil {
		h(method, url)
	}
}

func (f *fakeDriver) Goto(_ context.Context, url string, _ driver.GotoOptions) error {
	f.mu.Lock()
	f.url = url
	f.mu.Unlock()
	return nil
}

func (f *fakeDriver) CreateLocator(string) driver.Locator {
	return &fakeLocator{d: f}
}

func (f *fakeDriver) QueryOne(string) (driver.Locator, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.queryErr != nil {
		return nil, f.queryErr
	}
	if !f.hasElement {
		return nil, nil
	}
	return &fakeLocator{d: f}, nil
}

func (f *fakeDriver) QueryAll(string) ([]driver.Locator, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.queryErr != nil {
		return nil, f.queryErr
	}
	if !f.hasElement {
		return nil, nil
	}
	return []driver.Locator{&fakeLocator{d: f}}, nil
}

func (f *fakeDriver) Count(string) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.queryErr != nil {
		return 0, f.queryErr
	}
	if f.hasElement {
		return 1, nil
	}
	return 0, nil
}

func (f *fakeDriver) WaitFor(context.Context, string, driver.WaitForOptions) error {
	return nil
}

func (f *fakeDriver) EvalOnPage(fn string, args ...any) (any, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.evalFn = fn
	f.evalArgs = args
	return nil, nil
}

func (f *fakeDriver) SubscribeRequests(hooks driver.RequestHooks) driver.Subscription {
	f.mu.Lock()
	f.hooks = hooks
	f.mu.Unlock()
	return nopSub{}
}

func (f *fakeDriver) SubscribeFrameNavigated(handler func(url string)) driver.Subscription {
	f.mu.Lock()
	f.frameHandler = handler
	f.mu.Unlock()
	return nopSub{}
}

type nopSub struct{}

func (nopSub) Close() {}

type fakeLocator struct {
	d *fakeDriver
}

func (l *fakeLocator) Click(driver.ClickOptions) error { return l.d.mutErr }
func (l *fakeLocator) Type(string) error { return l.d.mutErr }
func (l *fakeLocator) Fill(string) error { return l.d.mutErr }
func (l *fakeLocator) Focus() error { return l.d.mutErr }

func (l *fakeLocator) TextContent() (string, error) {
	return l.d.text, nil
}

func (l *fakeLocator) InputValue() (string, error) { return l.d.text, nil }

func (l *fakeLocator) GetAttribute(string) (string, bool, error) {
	return "", false, nil
}

func (l *fakeLocator) Eval(string, ...any) (any, error) { return nil, nil }

func (l *fakeLocator) IsVisible() (bool, error) { return l.d.visible, nil }
func (l *fakeLocator) IsEnabled() (bool, error) { return true, nil }

func testConfig() *config.Config {
	cfg := config.Default()
	cfg.Network.LifecycleIdleTimeout = 20 * time.Millisecond
	cfg.Network.RequestTimeout = time.Second
	cfg.Network.PollInterval = 10 * time.Millisecond
	cfg.Navigation.RedirectStabilization = 40 * time.Millisecond
	cfg.Navigation.URLPollInterval = 10 * time.Millisecond
	cfg.Navigation.ReadyTimeout = 2 * time.Second
	cfg.Navigation.GotoTimeout = time.Second
	cfg.Scheduler.GracefulStopTimeout = 300 * time.Millisecond
	return cfg
}

func newTestCommander(url string) (*Commander, *fakeDriver) {
	drv := &fakeDriver{url: url}
	c := NewFromDriver(drv, WithConfig(testConfig()))
	return c, drv
}

func TestSoftDegradationOnTransientErrors(t *testing.T) {
	c, drv := newTestCommander("https://a.example/x")
	defer c.Destroy(context.Background())
	drv.queryErr = errors.New("Execution context was destroyed")

	visible, err := c.IsVisible("#x")
	if err != nil || visible {
		t.Errorf("IsVisible = (%v, %v), want (false, nil)", visible, err)
	}

	count, err := c.Count("#x")
	if err != nil || count != 0 {
		t.Errorf("Count = (%d, %v), want (0, nil)", count, err)
	}

	value, err := c.InputValue("#x")
	if err != nil || value != "" {
		t.Errorf("InputValue = (%q, %v), want (\"\", nil)", value, err)
	}

	_, present, err := c.TextContent("#x")
	if err != nil || present {
		t.Errorf("TextContent presence = (%v, %v), want (false, nil)", present, err)
	}

	loc, err := c.QueryOne("#x")
	if err != nil || loc != nil {
		t.Errorf("QueryOne = (%v, %v), want (nil, nil)", loc, err)
	}

	all, err := c.QueryAll("#x")
	if err != nil || len(all) != 0 {
		t.Errorf("QueryAll = (%v, %v), want empty", all, err)
	}
}

func TestMutatingOperationsPropagateTransientErrors(t *testing.T) {
	c, drv := newTestCommander("https://a.example/x")
	defer c.Destroy(context.Background())
	drv.hasElement = true
	drv.mutErr = errors.New("Execution context was destroyed")

	if err := c.Click("#x", driver.ClickOptions{}); err == nil {
		t.Error("Click must surface the transient error, not swallow it")
	}
	if err := c.Fill("#x", "text"); err == nil {
		t.Error("Fill must surface the transient error")
	}
}

func TestNonTransientQueryErrorsSurface(t *testing.T) {
	c, drv := newTestCommander("https://a.example/x")
	defer c.Destroy(context.Background())
	drv.queryErr = errors.New("some driver bug")

	if _, err := c.IsVisible("#x"); err == nil {
		t.Error("non-transient errors must not be degraded")
	}
}

func TestBadSelectorSurfaces(t *testing.T) {
	c, _ := newTestCommander("https://a.example/x")
	defer c.Destroy(context.Background())

	if _, err := c.IsVisible(42); err == nil {
		t.Error("a non-string selector must fail with BAD_SELECTOR")
	}
}

func TestEvalPassesArgsThrough(t *testing.T) {
	c, drv := newTestCommander("https://a.example/x")
	defer c.Destroy(context.Background())

	if _, err := c.Eval("(a, b, c) => a", 1, "two", []string{"three"}); err != nil {
		t.Fatalf("Eval error: %v", err)
	}
	if len(drv.evalArgs) != 3 {
		t.Errorf("driver received %d args, want 3 positional args", len(drv.evalArgs))
	}
}

func TestGuardedShortCircuitsAfterStop(t *testing.T) {
	c, drv := newTestCommander("https://a.example/x")
	defer c.Destroy(context.Background())
	drv.hasElement = true
	drv.visible = true

	token := abort.NewToken()
	token.Fire()
	actx := newActionContext("https://a.example/x", token, c)
	g := actx.Commander()

	if _, err := g.IsVisible("#x"); err == nil {
		t.Error("guarded call after stop must fail")
	}
	if err := g.Click("#x", driver.ClickOptions{}); err == nil {
		t.Error("guarded click after stop must fail")
	}
}

func TestDestroyIdempotent(t *testing.T) {
	c, _ := newTestCommander("https://a.example/x")
	c.Destroy(context.Background())
	c.Destroy(context.Background())
	if c.Wedged() {
		t.Error("a destroyed commander with no action is not wedged")
	}
}
