package driver

import (
	"context"
	"fmt"
	"regexp"
	"strconv"
	"sync/atomic"

	"github.com/link-foundation/browser-commander-sub000/models"
	"github.com/playwright-community/playwright-go"
)

// nthOfTypeRe matches a trailing :nth-of-type(N) pseudo-selector. The
// playwright locator engine rejects it, so the adapter rewrites the selector
// into "N-th among base" instead.
var nthOfTypeRe = regexp.MustCompile(`^(.*?):nth-of-type\((\d+)\)$`)

type pwDriver struct {
	page playwright.Page
}

func newPlaywrightDriver(page playwright.Page) *pwDriver {
	return &pwDriver{page: page}
}

func (d *pwDriver) Name() string { return "playwright" }

func (d *pwDriver) URL() string { return d.page.URL() }

func (d *pwDriver) Goto(ctx context.Context, url string, opts GotoOptions) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	o := playwright.PageGotoOptions{}
	if opts.Timeout > 0 {
		o.Timeout = playwright.Float(float64(opts.Timeout.Milliseconds()))
	}
	switch opts.WaitUntil {
	case "domcontentloaded":
		o.WaitUntil = playwright.WaitUntilStateDomcontentloaded
	case "networkidle":
		o.WaitUntil = playwright.WaitUntilStateNetworkidle
	default:
		o.WaitUntil = playwright.WaitUntilStateLoad
	}
	_, err := d.page.Goto(url, o)
	return err
}

// locator builds the playwright locator, rewriting :nth-of-type(N) when
// present.
func (d *pwDriver) locator(selector string) playwright.Locator {
	if m := nthOfTypeRe.FindStringSubmatch(selector); m != nil && m[1] != "" {
		n, err := strconv.Atoi(m[2])
		if err == nil && n > 0 {
			return d.page.Locator(m[1]).Nth(n - 1)
		}
	}
	return d.page.Locator(selector)
}

func (d *pwDriver) CreateLocator(selector string) Locator {
	return &pwLocator{l: d.locator(selector)}
}

func (d *pwDriver) QueryOne(selector string) (Locator, error) {
	l := d.locator(selector)
	count, err := l.Count()
	if err != nil {
		return nil, err
	}
	if count == 0 {
		return nil, nil
	}
	return &pwLocator{l: l.First()}, nil
}

func (d *pwDriver) QueryAll(selector string) ([]Locator, error) {
	all, err := d.locator(selector).All()
	if err != nil {
		return nil, err
	}
	out := make([]Locator, len(all))
	for i, l := range all {
		out[i] = &pwLocator{l: l}
	}
	return out, nil
}

func (d *pwDriver) WaitFor(ctx context.Context, selector string, opts WaitForOptions) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	o := playwright.LocatorWaitForOptions{}
	if opts.Timeout > 0 {
		o.Timeout = playwright.Float(float64(opts.Timeout.Milliseconds()))
	}
	if opts.State == WaitVisible {
		o.State = playwright.WaitForSelectorStateVisible
	} else {
		o.State = playwright.WaitForSelectorStateAttached
	}
	if err := d.locator(selector).WaitFor(o); err != nil {
		if models.IsTimeout(err) {
			return models.NewCommandError(models.ErrCodeTimeout,
				fmt.Sprintf("waiting for selector %q", selector), err)
		}
		return err
	}
	return nil
}

func (d *pwDriver) Count(selector string) (int, error) {
	return d.locator(selector).Count()
}

// EvalOnPage honours the spread contract: playwright passes a single eval
// argument natively, so multiple arguments are shipped as an array and the
// call is reconstructed inside the page.
func (d *pwDriver) EvalOnPage(fn string, args ...any) (any, error) {
	switch len(args) {
	case 0:
		return d.page.Evaluate(fn)
	case 1:
		return d.page.Evaluate(fn, args[0])
	default:
		wrapped := fmt.Sprintf("(__args) => (%s).apply(null, __args)", fn)
		return d.page.Evaluate(wrapped, args)
	}
}

// pwSubscription gates handlers with an atomic flag because this playwright
// binding has no listener removal; handlers stay registered until the page
// closes.
type pwSubscription struct {
	closed atomic.Bool
}

func (s *pwSubscription) Close() { s.closed.Store(true) }

func (d *pwDriver) SubscribeRequests(hooks RequestHooks) Subscription {
	sub := &pwSubscription{}
	d.page.On("request", func(req playwright.Request) {
		if sub.closed.Load() || hooks.OnStart == nil {
			return
		}
		hooks.OnStart(req.Method(), req.URL())
	})
	d.page.On("requestfinished", func(req playwright.Request) {
		if sub.closed.Load() || hooks.OnFinish == nil {
			return
		}
		hooks.OnFinish(req.Method(), req.URL())
	})
	d.page.On("requestfailed", func(req playwright.Request) {
		if sub.closed.Load() || hooks.OnFail == nil {
			return
		}
		hooks.OnFail(req.Method(), req.URL())
	})
	return sub
}

func (d *pwDriver) SubscribeFrameNavigated(handler func(url string)) Subscription {
	sub := &pwSubscription{}
	d.page.On("framenavigated", func(frame playwright.Frame) {
		if sub.closed.Load() {
			return
		}
		if frame != d.page.MainFrame() {
			return
		}
		handler(frame.URL())
	})
	return sub
}

type pwLocator struct {
	l playwright.Locator
}

func (l *pwLocator) Click(opts ClickOptions) error {
	o := playwright.LocatorClickOptions{}
	if opts.Timeout > 0 {
		o.Timeout = playwright.Float(float64(opts.Timeout.Milliseconds()))
	}
	return l.l.Click(o)
}

func (l *pwLocator) Type(text string) error {
	return l.l.PressSequentially(text)
}

func (l *pwLocator) Fill(text string) error {
	return l.l.Fill(text)
}

func (l *pwLocator) Focus() error {
	return l.l.Focus()
}

func (l *pwLocator) TextContent() (string, error) {
	return l.l.TextContent()
}

func (l *pwLocator) InputValue() (string, error) {
	return l.l.InputValue()
}

func (l *pwLocator) GetAttribute(name string) (string, bool, error) {
	v, err := l.l.Evaluate("(el, name) => el.getAttribute(name)", name)
	if err != nil {
		return "", false, err
	}
	if v == nil {
		return "", false, nil
	}
	s, _ := v.(string)
	return s, true, nil
}

func (l *pwLocator) Eval(fn string, args ...any) (any, error) {
	switch len(args) {
	case 0:
		return l.l.Evaluate(fn, nil)
	case 1:
		return l.l.Evaluate(fn, args[0])
	default:
		wrapped := fmt.Sprintf("(el, __args) => (%s)(el, ...__args)", fn)
		return l.l.Evaluate(wrapped, args)
	}
}

func (l *pwLocator) IsVisible() (bool, error) {
	return l.l.IsVisible()
}

func (l *pwLocator) IsEnabled() (bool, error) {
	return l.l.IsEnabled()
}
