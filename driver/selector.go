package driver

import (
	"fmt"
	"log/slog"
	"regexp"
	"strings"

	"github.com/andybalholm/cascadia"
	"github.com/link-foundation/browser-commander-sub000/models"
)

// TextSelector addresses the first element matching Base whose trimmed text
// contains (or, with Exact, equals) Text.
type TextSelector struct {
	Base  string
	Text  string
	Exact bool
}

var (
	hasTextRe = regexp.MustCompile(`^(.+):has-text\("(.*)"\)$`)
	textIsRe  = regexp.MustCompile(`^(.+):text-is\("(.*)"\)$`)
)

// parseTextSelectorString recognises the string forms of a text selector.
func parseTextSelectorString(s string) (TextSelector, bool) {
	if m := textIsRe.FindStringSubmatch(s); m != nil {
		return TextSelector{Base: m[1], Text: m[2], Exact: true}, true
	}
	if m := hasTextRe.FindStringSubmatch(s); m != nil {
		return TextSelector{Base: m[1], Text: m[2], Exact: false}, true
	}
	return TextSelector{}, false
}

// resolveTextJS scans the page for the first base match with the wanted text
// and returns a selector that uniquely re-identifies it: a data-qa attribute
// when present, the element's nth-of-type position otherwise.
const resolveTextJS = `(base, text, exact) => {
	const els = document.querySelectorAll(base)
	for (let i = 0; i < els.length; i++) {
		const el = els[i]
		const t = (el.textContent || '').trim()
		if (exact ? t === text : t.includes(text)) {
			const qa = el.getAttribute('data-qa')
			if (qa) return '[data-qa="' + qa + '"]'
			let idx = 1
			let sib = el
			while ((sib = sib.previousElementSibling)) {
				if (sib.tagName === el.tagName) idx++
			}
			return el.tagName.toLowerCase() + ':nth-of-type(' + idx + ')'
		}
	}
	return null
}`

// NormalizeSelector turns any accepted selector shape into a plain CSS
// selector string. Text selectors are resolved against the live page; ""
// with a nil error means no element matched. Unsupported shapes (arrays,
// numbers, ...) are a BAD_SELECTOR error, never passed through.
func NormalizeSelector(d Driver, selector any) (string, error) {
	switch s := selector.(type) {
	case string:
		if ts, ok := parseTextSelectorString(s); ok {
			return resolveTextSelector(d, ts)
		}
		validateCSS(s)
		return s, nil
	case TextSelector:
		return resolveTextSelector(d, s)
	case *TextSelector:
		return resolveTextSelector(d, *s)
	default:
		slog.Warn("rejecting selector of unsupported shape", "type", fmt.Sprintf("%T", selector))
		return "", models.NewCommandError(
			models.ErrCodeBadSelector,
			fmt.Sprintf("selector must be a string or text selector, got %T", selector),
			nil,
		)
	}
}

func resolveTextSelector(d Driver, ts TextSelector) (string, error) {
	v, err := d.EvalOnPage(resolveTextJS, ts.Base, ts.Text, ts.Exact)
	if err != nil {
		return "", err
	}
	if v == nil {
		return "", nil
	}
	sel, ok := v.(string)
	if !ok {
		return "", nil
	}
	return sel, nil
}

// validateCSS parses plain CSS selectors to flag typos early. Driver-specific
// engines (playwright's "text=" etc.) are skipped, and failures only log:
// the driver stays the authority on what it accepts.
func validateCSS(s string) {
	if strings.Contains(s, "=") || strings.Contains(s, ">>") {
		return
	}
	if _, err := cascadia.ParseGroup(s); err != nil {
		slog.Debug("selector is not standard CSS", "selector", s, "error", err)
	}
}
