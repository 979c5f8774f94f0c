package driver

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/proto"
	"github.com/link-foundation/browser-commander-sub000/models"
)

type rodDriver struct {
	page *rod.Page
}

func newRodDriver(page *rod.Page) *rodDriver {
	return &rodDriver{page: page}
}

func (d *rodDriver) Name() string { return "rod" }

func (d *rodDriver) URL() string {
	info, err := d.page.Info()
	if err != nil {
		return ""
	}
	return info.URL
}

func (d *rodDriver) Goto(ctx context.Context, url string, opts GotoOptions) error {
	p := d.page.Context(ctx)
	if opts.Timeout > 0 {
		p = p.Timeout(opts.Timeout)
	}

	// The request-idle listener must be mounted before Navigate, or
	// in-flight requests are missed and the wait returns instantly.
	var waitIdle func()
	if opts.WaitUntil == "networkidle" {
		waitIdle = p.WaitRequestIdle(300*time.Millisecond, nil, nil, nil)
	}

	if err := p.Navigate(url); err != nil {
		return err
	}

	switch opts.WaitUntil {
	case "networkidle":
		waitIdle()
		return nil
	case "domcontentloaded":
		return p.WaitDOMStable(300*time.Millisecond, 0.1)
	default:
		return p.WaitLoad()
	}
}

func (d *rodDriver) CreateLocator(selector string) Locator {
	return &rodLocator{page: d.page, selector: selector}
}

func (d *rodDriver) QueryOne(selector string) (Locator, error) {
	has, el, err := d.page.Has(selector)
	if err != nil {
		return nil, err
	}
	if !has {
		return nil, nil
	}
	return &rodLocator{page: d.page, selector: selector, el: el}, nil
}

func (d *rodDriver) QueryAll(selector string) ([]Locator, error) {
	els, err := d.page.Elements(selector)
	if err != nil {
		return nil, err
	}
	out := make([]Locator, len(els))
	for i, el := range els {
		out[i] = &rodLocator{page: d.page, selector: selector, el: el}
	}
	return out, nil
}

func (d *rodDriver) WaitFor(ctx context.Context, selector string, opts WaitForOptions) error {
	p := d.page.Context(ctx)
	if opts.Timeout > 0 {
		p = p.Timeout(opts.Timeout)
	}
	el, err := p.Element(selector)
	if err != nil {
		return wrapRodWaitErr(selector, err)
	}
	if opts.State == WaitVisible {
		if err := el.WaitVisible(); err != nil {
			return wrapRodWaitErr(selector, err)
		}
	}
	return nil
}

func wrapRodWaitErr(selector string, err error) error {
	if errors.Is(err, context.DeadlineExceeded) || models.IsTimeout(err) {
		return models.NewCommandError(models.ErrCodeTimeout,
			fmt.Sprintf("waiting for selector %q", selector), err)
	}
	return err
}

func (d *rodDriver) Count(selector string) (int, error) {
	els, err := d.page.Elements(selector)
	if err != nil {
		return 0, err
	}
	return len(els), nil
}

// EvalOnPage relies on rod spreading eval params into the function
// arguments natively.
func (d *rodDriver) EvalOnPage(fn string, args ...any) (any, error) {
	obj, err := d.page.Eval(fn, args...)
	if err != nil {
		return nil, err
	}
	return obj.Value.Val(), nil
}

type rodSubscription struct {
	cancel func()
}

func (s *rodSubscription) Close() { s.cancel() }

// SubscribeRequests correlates request ids to (method, url) pairs because
// rod's finish and fail events carry only the id.
func (d *rodDriver) SubscribeRequests(hooks RequestHooks) Subscription {
	p, cancel := d.page.WithCancel()

	type key struct{ method, url string }
	inflight := map[proto.NetworkRequestID]key{}

	wait := p.EachEvent(
		func(e *proto.NetworkRequestWillBeSent) {
			// Redirects repeat the id; track the first occurrence only.
			if _, has := inflight[e.RequestID]; has {
				return
			}
			inflight[e.RequestID] = key{e.Request.Method, e.Request.URL}
			if hooks.OnStart != nil {
				hooks.OnStart(e.Request.Method, e.Request.URL)
			}
		},
		func(e *proto.NetworkLoadingFinished) {
			k, has := inflight[e.RequestID]
			if !has {
				return
			}
			delete(inflight, e.RequestID)
			if hooks.OnFinish != nil {
				hooks.OnFinish(k.method, k.url)
			}
		},
		func(e *proto.NetworkLoadingFailed) {
			k, has := inflight[e.RequestID]
			if !has {
				return
			}
			delete(inflight, e.RequestID)
			if hooks.OnFail != nil {
				hooks.OnFail(k.method, k.url)
			}
		},
	)
	go wait()

	return &rodSubscription{cancel: cancel}
}

func (d *rodDriver) SubscribeFrameNavigated(handler func(url string)) Subscription {
	p, cancel := d.page.WithCancel()

	wait := p.EachEvent(func(e *proto.PageFrameNavigated) {
		if e.Frame.ID != d.page.FrameID {
			return
		}
		handler(e.Frame.URL)
	})
	go wait()

	return &rodSubscription{cancel: cancel}
}

// rodLocator resolves lazily; el is set when the locator came from a query.
type rodLocator struct {
	page     *rod.Page
	selector string
	el       *rod.Element
}

func (l *rodLocator) resolve() (*rod.Element, error) {
	if l.el != nil {
		return l.el, nil
	}
	has, el, err := l.page.Has(l.selector)
	if err != nil {
		return nil, err
	}
	if !has {
		return nil, fmt.Errorf("element %q not found", l.selector)
	}
	return el, nil
}

func (l *rodLocator) Click(opts ClickOptions) error {
	el, err := l.resolve()
	if err != nil {
		return err
	}
	if opts.Timeout > 0 {
		el = el.Timeout(opts.Timeout)
	}
	return el.Click(proto.InputMouseButtonLeft, 1)
}

func (l *rodLocator) Type(text string) error {
	el, err := l.resolve()
	if err != nil {
		return err
	}
	return el.Input(text)
}

func (l *rodLocator) Fill(text string) error {
	el, err := l.resolve()
	if err != nil {
		return err
	}
	_, err = el.Eval(`(value) => {
		this.value = value
		this.dispatchEvent(new Event('input', { bubbles: true }))
		this.dispatchEvent(new Event('change', { bubbles: true }))
	}`, text)
	return err
}

func (l *rodLocator) Focus() error {
	el, err := l.resolve()
	if err != nil {
		return err
	}
	return el.Focus()
}

func (l *rodLocator) TextContent() (string, error) {
	el, err := l.resolve()
	if err != nil {
		return "", err
	}
	return el.Text()
}

func (l *rodLocator) InputValue() (string, error) {
	el, err := l.resolve()
	if err != nil {
		return "", err
	}
	v, err := el.Property("value")
	if err != nil {
		return "", err
	}
	return v.Str(), nil
}

func (l *rodLocator) GetAttribute(name string) (string, bool, error) {
	el, err := l.resolve()
	if err != nil {
		return "", false, err
	}
	v, err := el.Attribute(name)
	if err != nil {
		return "", false, err
	}
	if v == nil {
		return "", false, nil
	}
	return *v, true, nil
}

func (l *rodLocator) Eval(fn string, args ...any) (any, error) {
	el, err := l.resolve()
	if err != nil {
		return nil, err
	}
	wrapped := fmt.Sprintf("(...__args) => (%s).apply(null, [this, ...__args])", fn)
	obj, err := el.Eval(wrapped, args...)
	if err != nil {
		return nil, err
	}
	return obj.Value.Val(), nil
}

func (l *rodLocator) IsVisible() (bool, error) {
	el, err := l.resolve()
	if err != nil {
		return false, err
	}
	return el.Visible()
}

func (l *rodLocator) IsEnabled() (bool, error) {
	el, err := l.resolve()
	if err != nil {
		return false, err
	}
	v, err := el.Property("disabled")
	if err != nil {
		return false, err
	}
	return !v.Bool(), nil
}
