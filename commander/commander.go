// Package commander ties the core together: it owns the driver adapter, the
// network tracker, the navigation manager, the session factory and the
// trigger scheduler for one browser page, and exposes the element operations
// actions run against.
package commander

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/link-foundation/browser-commander-sub000/config"
	"github.com/link-foundation/browser-commander-sub000/driver"
	"github.com/link-foundation/browser-commander-sub000/navigation"
	"github.com/link-foundation/browser-commander-sub000/network"
	"github.com/link-foundation/browser-commander-sub000/session"
)

// Commander is the per-page automation core. Build one per driver page; a
// commander is single-owner and must be destroyed when the page goes away.
type Commander struct {
	drv      driver.Driver
	tracker  *network.Tracker
	manager  *navigation.Manager
	sessions *session.Factory
	sched    *scheduler
	cfg      *config.Config
	verbose  bool

	destroyOnce sync.Once
}

type options struct {
	cfg *config.Config
}

// Option customises commander construction.
type Option func(*options)

// WithConfig overrides the environment-derived configuration.
func WithConfig(cfg *config.Config) Option {
	return func(o *options) { o.cfg = cfg }
}

// New detects the driver variant for page and wires the full core around it.
func New(page any, opts ...Option) (*Commander, error) {
	drv, err := driver.Detect(page)
	if err != nil {
		return nil, err
	}
	return NewFromDriver(drv, opts...), nil
}

// NewFromDriver builds a commander on an already-constructed driver adapter.
func NewFromDriver(drv driver.Driver, opts ...Option) *Commander {
	var o options
	for _, opt := range opts {
		opt(&o)
	}
	cfg := o.cfg
	if cfg == nil {
		cfg = config.Load()
	}

	tracker := network.NewTracker(network.Config{
		// The lifecycle-integrated quiet window, not the standalone one.
		IdleTimeout:    cfg.Network.LifecycleIdleTimeout,
		RequestTimeout: cfg.Network.RequestTimeout,
		PollInterval:   cfg.Network.PollInterval,
	})
	tracker.Attach(drv)

	manager := navigation.NewManager(drv, tracker, cfg.Navigation)
	manager.Attach()

	c := &Commander{
		drv:      drv,
		tracker:  tracker,
		manager:  manager,
		sessions: session.NewFactory(manager, tracker),
		cfg:      cfg,
		verbose:  cfg.Verbose,
	}
	c.sched = newScheduler(c, cfg.Scheduler.GracefulStopTimeout)
	c.sched.bind(manager)

	if c.verbose {
		slog.Info("commander created", "driver", drv.Name(), "url", drv.URL())
	}
	return c
}

// Driver returns the underlying adapter.
func (c *Commander) Driver() driver.Driver { return c.drv }

// Tracker returns the network tracker.
func (c *Commander) Tracker() *network.Tracker { return c.tracker }

// Manager returns the navigation manager.
func (c *Commander) Manager() *navigation.Manager { return c.manager }

// Sessions returns the session factory.
func (c *Commander) Sessions() *session.Factory { return c.sessions }

// URL returns the current main-frame URL.
func (c *Commander) URL() string { return c.manager.CurrentURL() }

// Navigate drives an imperative navigation and waits for readiness. It
// returns false with no error when the goto was interrupted by another
// navigation.
func (c *Commander) Navigate(ctx context.Context, url string, opts navigation.NavigateOptions) (bool, error) {
	return c.manager.Navigate(ctx, url, opts)
}

// RegisterTrigger adds a trigger and returns its unregister handle.
func (c *Commander) RegisterTrigger(t Trigger) (unregister func(), err error) {
	return c.sched.register(t)
}

// StopCurrentAction stops the running action, if any, waiting up to the
// graceful-stop deadline.
func (c *Commander) StopCurrentAction(ctx context.Context) {
	c.sched.stopCurrent(ctx)
}

// Wedged reports whether an abandoned action still occupies the scheduler.
func (c *Commander) Wedged() bool { return c.sched.wedged() }

// Destroy tears the core down: scheduler, tracker, manager, sessions, in
// that order. Idempotent.
func (c *Commander) Destroy(ctx context.Context) {
	c.destroyOnce.Do(func() {
		c.sched.stop(ctx)
		c.tracker.Stop()
		c.manager.Stop()
		c.sessions.EndAll()
		if c.verbose {
			slog.Info("commander destroyed", "url", c.manager.CurrentURL())
		}
	})
}

// ── Element operations ─────────────────────────────────────────────

// resolve normalizes any accepted selector shape; "" means a text selector
// matched nothing.
func (c *Commander) resolve(selector any) (string, error) {
	return driver.NormalizeSelector(c.drv, selector)
}

// IsVisible reports element visibility; navigation races degrade to false.
func (c *Commander) IsVisible(selector any) (bool, error) {
	sel, err := c.resolve(selector)
	if err != nil || sel == "" {
		return false, err
	}
	return softBool("isVisible", func() (bool, error) {
		loc, err := c.drv.QueryOne(sel)
		if err != nil {
			return false, err
		}
		if loc == nil {
			return false, nil
		}
		return loc.IsVisible()
	})
}

// IsEnabled reports whether the element accepts input; navigation races
// degrade to false.
func (c *Commander) IsEnabled(selector any) (bool, error) {
	sel, err := c.resolve(selector)
	if err != nil || sel == "" {
		return false, err
	}
	return softBool("isEnabled", func() (bool, error) {
		loc, err := c.drv.QueryOne(sel)
		if err != nil {
			return false, err
		}
		if loc == nil {
			return false, nil
		}
		return loc.IsEnabled()
	})
}

// Count returns how many elements match; navigation races degrade to 0.
func (c *Commander) Count(selector any) (int, error) {
	sel, err := c.resolve(selector)
	if err != nil || sel == "" {
		return 0, err
	}
	return soft("count", 0, func() (int, error) {
		return c.drv.Count(sel)
	})
}

// TextContent returns the element's text and whether the element exists;
// navigation races degrade to absent.
func (c *Commander) TextContent(selector any) (string, bool, error) {
	sel, err := c.resolve(selector)
	if err != nil || sel == "" {
		return "", false, err
	}
	return softOpt("textContent", func() (string, bool, error) {
		loc, err := c.drv.QueryOne(sel)
		if err != nil || loc == nil {
			return "", false, err
		}
		text, err := loc.TextContent()
		if err != nil {
			return "", false, err
		}
		return text, true, nil
	})
}

// GetAttribute returns an attribute value and its presence; navigation races
// degrade to absent.
func (c *Commander) GetAttribute(selector any, name string) (string, bool, error) {
	sel, err := c.resolve(selector)
	if err != nil || sel == "" {
		return "", false, err
	}
	return softOpt("getAttribute", func() (string, bool, error) {
		loc, err := c.drv.QueryOne(sel)
		if err != nil || loc == nil {
			return "", false, err
		}
		return loc.GetAttribute(name)
	})
}

// InputValue returns the element's value; navigation races degrade to "".
func (c *Commander) InputValue(selector any) (string, error) {
	sel, err := c.resolve(selector)
	if err != nil || sel == "" {
		return "", err
	}
	return soft("inputValue", "", func() (string, error) {
		loc, err := c.drv.QueryOne(sel)
		if err != nil {
			return "", err
		}
		if loc == nil {
			return "", nil
		}
		return loc.InputValue()
	})
}

// QueryOne returns a locator for the first match, nil when none; navigation
// races degrade to nil.
func (c *Commander) QueryOne(selector any) (driver.Locator, error) {
	sel, err := c.resolve(selector)
	if err != nil || sel == "" {
		return nil, err
	}
	return soft[driver.Locator]("queryOne", nil, func() (driver.Locator, error) {
		return c.drv.QueryOne(sel)
	})
}

// QueryAll returns locators in document order; navigation races degrade to
// an empty sequence.
func (c *Commander) QueryAll(selector any) ([]driver.Locator, error) {
	sel, err := c.resolve(selector)
	if err != nil || sel == "" {
		return nil, err
	}
	return soft[[]driver.Locator]("queryAll", nil, func() ([]driver.Locator, error) {
		return c.drv.QueryAll(sel)
	})
}

// WaitFor blocks until the selector reaches the wanted state or the timeout
// elapses.
func (c *Commander) WaitFor(ctx context.Context, selector any, opts driver.WaitForOptions) error {
	sel, err := c.resolve(selector)
	if err != nil {
		return err
	}
	if sel == "" {
		return nil
	}
	return c.drv.WaitFor(ctx, sel, opts)
}

// Eval runs fn in the page context with spread-form arguments.
func (c *Commander) Eval(fn string, args ...any) (any, error) {
	return c.drv.EvalOnPage(fn, args...)
}

// Click clicks the first matching element. Mutating operations never degrade
// silently: they complete, or the error surfaces.
func (c *Commander) Click(selector any, opts driver.ClickOptions) error {
	loc, err := c.mutatingLocator(selector)
	if err != nil {
		return err
	}
	return loc.Click(opts)
}

// Type simulates keystrokes into the first matching element.
func (c *Commander) Type(selector any, text string) error {
	loc, err := c.mutatingLocator(selector)
	if err != nil {
		return err
	}
	return loc.Type(text)
}

// Fill sets the element value directly and dispatches input and change.
func (c *Commander) Fill(selector any, text string) error {
	loc, err := c.mutatingLocator(selector)
	if err != nil {
		return err
	}
	return loc.Fill(text)
}

// Focus focuses the first matching element.
func (c *Commander) Focus(selector any) error {
	loc, err := c.mutatingLocator(selector)
	if err != nil {
		return err
	}
	return loc.Focus()
}

func (c *Commander) mutatingLocator(selector any) (driver.Locator, error) {
	sel, err := c.resolve(selector)
	if err != nil {
		return nil, err
	}
	if sel == "" {
		return nil, &selectorNotFoundError{selector: selector}
	}
	return c.drv.CreateLocator(sel), nil
}

type selectorNotFoundError struct {
	selector any
}

func (e *selectorNotFoundError) Error() string {
	return fmt.Sprintf("no element matched selector %v", e.selector)
}
