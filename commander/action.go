package commander

import (
	"context"
	"time"

	"github.com/link-foundation/browser-commander-sub000/abort"
	"github.com/link-foundation/browser-commander-sub000/driver"
	"github.com/link-foundation/browser-commander-sub000/models"
	"github.com/link-foundation/browser-commander-sub000/navigation"
)

// ActionContext is the runtime surface an action sees. Cancellation is
// pervasive: the guarded commander, Wait and ForEach all observe the action's
// abort token without the action threading it manually.
type ActionContext struct {
	url     string
	token   *abort.Token
	raw     *Commander
	guarded *Guarded
}

func newActionContext(url string, token *abort.Token, c *Commander) *ActionContext {
	actx := &ActionContext{url: url, token: token, raw: c}
	actx.guarded = &Guarded{actx: actx, c: c}
	return actx
}

// URL is the URL the trigger fired for.
func (a *ActionContext) URL() string { return a.url }

// Token is the action's abort token.
func (a *ActionContext) Token() *abort.Token { return a.token }

// IsStopped reports whether the action has been asked to stop.
func (a *ActionContext) IsStopped() bool { return a.token.Fired() }

// CheckStopped fails with ErrActionStopped once the token has fired.
func (a *ActionContext) CheckStopped() error {
	if a.token.Fired() {
		return models.ErrActionStopped
	}
	return nil
}

// Wait sleeps for d, failing with ErrActionStopped if the token fires first.
func (a *ActionContext) Wait(d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-a.token.Done():
		return models.ErrActionStopped
	}
}

// OnCleanup registers a callback that runs once when the token fires.
func (a *ActionContext) OnCleanup(fn func()) {
	a.token.OnCleanup(fn)
}

// Commander is the guarded commander: every operation checks the token
// before the call and again after it returns.
func (a *ActionContext) Commander() *Guarded { return a.guarded }

// Raw is the unguarded commander, for the rare operation that must outlive a
// stop.
func (a *ActionContext) Raw() *Commander { return a.raw }

// ForEach iterates items sequentially, checking the token before each one.
func ForEach[T any](a *ActionContext, items []T, fn func(item T) error) error {
	for _, item := range items {
		if err := a.CheckStopped(); err != nil {
			return err
		}
		if err := fn(item); err != nil {
			return err
		}
	}
	return nil
}

// Guarded wraps the commander's page operations for use inside an action.
// Destroy and RegisterTrigger are deliberately absent; use Raw for those.
type Guarded struct {
	actx *ActionContext
	c    *Commander
}

// guard runs op between two token checks.
func guard[T any](g *Guarded, op func() (T, error)) (T, error) {
	var zero T
	if err := g.actx.CheckStopped(); err != nil {
		return zero, err
	}
	v, err := op()
	if err != nil {
		return zero, err
	}
	if err := g.actx.CheckStopped(); err != nil {
		return zero, err
	}
	return v, nil
}

func guardErr(g *Guarded, op func() error) error {
	if err := g.actx.CheckStopped(); err != nil {
		return err
	}
	if err := op(); err != nil {
		return err
	}
	return g.actx.CheckStopped()
}

// URL returns the current main-frame URL.
func (g *Guarded) URL() string { return g.c.URL() }

// Navigate drives a navigation under the token. Navigating ends the action's
// page session, so a successful call still returns ErrActionStopped once the
// navigation has begun.
func (g *Guarded) Navigate(ctx context.Context, url string, opts navigation.NavigateOptions) (bool, error) {
	if err := g.actx.CheckStopped(); err != nil {
		return false, err
	}
	unmark := g.c.sched.beginSelfNavigation(g.actx.token)
	ok, err := g.c.Navigate(ctx, url, opts)
	unmark()
	if err != nil {
		return ok, err
	}
	return ok, g.actx.CheckStopped()
}

// IsVisible is the guarded Commander.IsVisible.
func (g *Guarded) IsVisible(selector any) (bool, error) {
	return guard(g, func() (bool, error) { return g.c.IsVisible(selector) })
}

// IsEnabled is the guarded Commander.IsEnabled.
func (g *Guarded) IsEnabled(selector any) (bool, error) {
	return guard(g, func() (bool, error) { return g.c.IsEnabled(selector) })
}

// Count is the guarded Commander.Count.
func (g *Guarded) Count(selector any) (int, error) {
	return guard(g, func() (int, error) { return g.c.Count(selector) })
}

// TextContent is the guarded Commander.TextContent.
func (g *Guarded) TextContent(selector any) (string, bool, error) {
	if err := g.actx.CheckStopped(); err != nil {
		return "", false, err
	}
	text, ok, err := g.c.TextContent(selector)
	if err != nil {
		return "", false, err
	}
	if err := g.actx.CheckStopped(); err != nil {
		return "", false, err
	}
	return text, ok, nil
}

// GetAttribute is the guarded Commander.GetAttribute.
func (g *Guarded) GetAttribute(selector any, name string) (string, bool, error) {
	if err := g.actx.CheckStopped(); err != nil {
		return "", false, err
	}
	v, ok, err := g.c.GetAttribute(selector, name)
	if err != nil {
		return "", false, err
	}
	if err := g.actx.CheckStopped(); err != nil {
		return "", false, err
	}
	return v, ok, nil
}

// InputValue is the guarded Commander.InputValue.
func (g *Guarded) InputValue(selector any) (string, error) {
	return guard(g, func() (string, error) { return g.c.InputValue(selector) })
}

// QueryOne is the guarded Commander.QueryOne.
func (g *Guarded) QueryOne(selector any) (driver.Locator, error) {
	return guard(g, func() (driver.Locator, error) { return g.c.QueryOne(selector) })
}

// QueryAll is the guarded Commander.QueryAll.
func (g *Guarded) QueryAll(selector any) ([]driver.Locator, error) {
	return guard(g, func() ([]driver.Locator, error) { return g.c.QueryAll(selector) })
}

// WaitFor is the guarded Commander.WaitFor.
func (g *Guarded) WaitFor(ctx context.Context, selector any, opts driver.WaitForOptions) error {
	return guardErr(g, func() error { return g.c.WaitFor(ctx, selector, opts) })
}

// Eval is the guarded Commander.Eval.
func (g *Guarded) Eval(fn string, args ...any) (any, error) {
	return guard(g, func() (any, error) { return g.c.Eval(fn, args...) })
}

// Click is the guarded Commander.Click.
func (g *Guarded) Click(selector any, opts driver.ClickOptions) error {
	return guardErr(g, func() error { return g.c.Click(selector, opts) })
}

// Type is the guarded Commander.Type.
func (g *Guarded) Type(selector any, text string) error {
	return guardErr(g, func() error { return g.c.Type(selector, text) })
}

// Fill is the guarded Commander.Fill.
func (g *Guarded) Fill(selector any, text string) error {
	return guardErr(g, func() error { return g.c.Fill(selector, text) })
}

// Focus is the guarded Commander.Focus.
func (g *Guarded) Focus(selector any) error {
	return guardErr(g, func() error { return g.c.Focus(selector) })
}
