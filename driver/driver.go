// Package driver wraps a concrete browser driver behind a uniform element
// and page operation surface. Two variants exist: the playwright binding and
// the rod CDP client. Detection picks the variant from the page value; call
// sites never branch on the driver again.
package driver

import (
	"context"
	"fmt"
	"time"

	"github.com/go-rod/rod"
	"github.com/link-foundation/browser-commander-sub000/models"
	"github.com/playwright-community/playwright-go"
)

// WaitState selects what wait-for must observe before returning.
type WaitState int

const (
	// WaitAttached waits until the element is present in the DOM.
	WaitAttached WaitState = iota
	// WaitVisible waits until the element is present and visible.
	WaitVisible
)

// GotoOptions control an imperative navigation.
type GotoOptions struct {
	// WaitUntil is "load" (default), "domcontentloaded" or "networkidle".
	WaitUntil string
	Timeout   time.Duration
}

// ClickOptions control a click.
type ClickOptions struct {
	Timeout time.Duration
}

// WaitForOptions control wait-for.
type WaitForOptions struct {
	State   WaitState
	Timeout time.Duration
}

// RequestHooks receive the driver's network request events. Hooks must not
// block; the tracker does its own bookkeeping off them.
type RequestHooks struct {
	OnStart  func(method, url string)
	OnFinish func(method, url string)
	OnFail   func(method, url string)
}

// Subscription detaches an event subscription. Close is idempotent.
type Subscription interface {
	Close()
}

// Locator is a deferred handle to one element.
type Locator interface {
	Click(opts ClickOptions) error
	// Type simulates keystrokes into the element.
	Type(text string) error
	// Fill sets the value directly and dispatches input and change events.
	Fill(text string) error
	Focus() error
	TextContent() (string, error)
	InputValue() (string, error)
	// GetAttribute returns the attribute value and whether it is present.
	GetAttribute(name string) (string, bool, error)
	// Eval runs fn in the page with the element as its first argument,
	// remaining args spread after it.
	Eval(fn string, args ...any) (any, error)
	IsVisible() (bool, error)
	IsEnabled() (bool, error)
}

// Driver is the uniform surface over one browser page.
type Driver interface {
	// Name identifies the variant, "playwright" or "rod".
	Name() string
	// URL returns the page's current URL, or "" when it cannot be read.
	URL() string
	Goto(ctx context.Context, url string, opts GotoOptions) error

	// CreateLocator builds a deferred handle without touching the page.
	CreateLocator(selector string) Locator
	// QueryOne returns nil when nothing matches.
	QueryOne(selector string) (Locator, error)
	// QueryAll returns matches in document order.
	QueryAll(selector string) ([]Locator, error)
	WaitFor(ctx context.Context, selector string, opts WaitForOptions) error
	Count(selector string) (int, error)

	// EvalOnPage runs fn in the page context. With more than one argument
	// the arguments arrive at fn in spread form, never as one array.
	EvalOnPage(fn string, args ...any) (any, error)

	SubscribeRequests(hooks RequestHooks) Subscription
	// SubscribeFrameNavigated calls handler with the new URL, main frame
	// only.
	SubscribeFrameNavigated(handler func(url string)) Subscription
}

// Detect picks the adapter variant for an opaque page value. A playwright
// page exposes the callable locator builder and context accessor; a rod page
// exposes single and multi element queries. A value that already implements
// Driver is returned as is. Anything else fails construction.
func Detect(page any) (Driver, error) {
	switch p := page.(type) {
	case Driver:
		return p, nil
	case playwright.Page:
		return newPlaywrightDriver(p), nil
	case *rod.Page:
		return newRodDriver(p), nil
	default:
		return nil, models.NewCommandError(
			models.ErrCodeDriverUnknown,
			fmt.Sprintf("unsupported page type %T", page),
			nil,
		)
	}
}
