package driver

import (
	"context"
	"errors"
	"testing"

	"github.com/link-foundation/browser-commander-sub000/models"
)

// fakeDriver satisfies Driver for selector tests; only EvalOnPage matters.
type fakeDriver struct {
	evalResult any
	evalErr    error
	evalArgs   []any
}

func (f *fakeDriver) Name() string { return "fake" }
func (f *fakeDriver) URL() string { return "" }
func (f *fakeDriver) Goto(context.Context, string, GotoOptions) error { return nil }
func (f *fakeDriver) CreateLocator(string) Locator { return nil }
func (f *fakeDriver) QueryOne(string) (Locator, error) { return nil, nil }
func (f *fakeDriver) QueryAll(string) ([]Locator, error) { return nil, nil }
func (f *fakeDriver) WaitFor(context.Context, string, WaitForOptions) error { return nil }
func (f *fakeDriver) Count(string) (int, error) { return 0, nil }
func (f *fakeDriver) SubscribeRequests(RequestHooks) Subscription { return nopSub{} }
func (f *fakeDriver) SubscribeFrameNavigated(func(url string)) Subscription { return nopSub{} }

func (f *fakeDriver) EvalOnPage(fn string, args ...any) (any, error) {
	f.evalArgs = args
	return f.evalResult, f.evalErr
}

type nopSub struct{}

func (nopSub) Close() {}

func TestParseTextSelectorString(t *testing.T) {
	tests := []struct {
		name  string
		in    string
		want  TextSelector
		match bool
	}{
		{"has-text", `button:has-text("Apply")`, TextSelector{Base: "button", Text: "Apply"}, true},
		{"text-is", `li.item:text-is("Done")`, TextSelector{Base: "li.item", Text: "Done", Exact: true}, true},
		{"plain css", "button.primary", TextSelector{}, false},
		{"empty text", `a:has-text("")`, TextSelector{Base: "a", Text: ""}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := parseTextSelectorString(tt.in)
			if ok != tt.match {
				t.Fatalf("parseTextSelectorString(%q) matched = %v, want %v", tt.in, ok, tt.match)
			}
			if ok && got != tt.want {
				t.Errorf("parseTextSelectorString(%q) = %+v, want %+v", tt.in, got, tt.want)
			}
		})
	}
}

func TestNormalizeSelectorPlainString(t *testing.T) {
	d := &fakeDriver{}
	sel, err := NormalizeSelector(d, "div.card > a")
	if err != nil {
		t.Fatalf("NormalizeSelector error: %v", err)
	}
	if sel != "div.card > a" {
		t.Errorf("plain selector changed: %q", sel)
	}
}

func TestNormalizeSelectorTextRecord(t *testing.T) {
	d := &fakeDriver{evalResult: `[data-qa="apply-button"]`}
	sel, err := NormalizeSelector(d, TextSelector{Base: "button", Text: "Apply"})
	if err != nil {
		t.Fatalf("NormalizeSelector error: %v", err)
	}
	if sel != `[data-qa="apply-button"]` {
		t.Errorf("resolved selector = %q", sel)
	}
	if len(d.evalArgs) != 3 {
		t.Errorf("resolution should pass base, text and exact; got %d args", len(d.evalArgs))
	}
}

func TestNormalizeSelectorNoMatch(t *testing.T) {
	d := &fakeDriver{evalResult: nil}
	sel, err := NormalizeSelector(d, `button:has-text("Missing")`)
	if err != nil {
		t.Fatalf("NormalizeSelector error: %v", err)
	}
	if sel != "" {
		t.Errorf("no match should resolve to empty, got %q", sel)
	}
}

func TestNormalizeSelectorBadShape(t *testing.T) {
	d := &fakeDriver{}
	for _, bad := range []any{42, []string{"a"}, map[string]string{"x": "y"}, 3.14} {
		if _, err := NormalizeSelector(d, bad); err == nil {
			t.Errorf("NormalizeSelector(%T) should fail", bad)
		} else {
			var ce *models.CommandError
			if !errors.As(err, &ce) || ce.Code != models.ErrCodeBadSelector {
				t.Errorf("NormalizeSelector(%T) error = %v, want BAD_SELECTOR", bad, err)
			}
		}
	}
}

func TestNthOfTypeRewriteDetection(t *testing.T) {
	tests := []struct {
		in       string
		base     string
		n        string
		rewrites bool
	}{
		{"li.item:nth-of-type(3)", "li.item", "3", true},
		{"div:nth-of-type(1)", "div", "1", true},
		{"div.card", "", "", false},
		{"div:nth-child(2)", "", "", false},
	}

	for _, tt := range tests {
		m := nthOfTypeRe.FindStringSubmatch(tt.in)
		if (m != nil) != tt.rewrites {
			t.Errorf("nthOfTypeRe(%q) matched = %v, want %v", tt.in, m != nil, tt.rewrites)
			continue
		}
		if m != nil && (m[1] != tt.base || m[2] != tt.n) {
			t.Errorf("nthOfTypeRe(%q) = (%q, %q), want (%q, %q)", tt.in, m[1], m[2], tt.base, tt.n)
		}
	}
}

func TestDetectUnknownDriver(t *testing.T) {
	_, err := Detect(struct{}{})
	if err == nil {
		t.Fatal("Detect should fail for an unknown page type")
	}
	var ce *models.CommandError
	if !errors.As(err, &ce) || ce.Code != models.ErrCodeDriverUnknown {
		t.Errorf("Detect error = %v, want DRIVER_UNKNOWN", err)
	}
}

func TestDetectPassesThroughDriver(t *testing.T) {
	d := &fakeDriver{}
	got, err := Detect(d)
	if err != nil {
		t.Fatalf("Detect(Driver) error: %v", err)
	}
	if got != Driver(d) {
		t.Error("Detect should pass an existing Driver through")
	}
}
