// Package urlmatch compiles trigger URL patterns into match conditions.
//
// A pattern is a predicate function, a compiled regexp, or a string:
//
//	"*checkout*"          substring match
//	"*.example.com/cart"  suffix match
//	"https://a.example/*" prefix match
//	"/vacancy/:id"        parameterised path segment match
//	"https://a.example/x" exact match (query string and fragment tolerated)
//	"cart"                substring match
package urlmatch

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/link-foundation/browser-commander-sub000/models"
)

// Condition reports whether a URL matches a compiled pattern.
type Condition func(url string) bool

// paramRe finds ":name" path parameters preceded by the pattern start or a
// slash.
var paramRe = regexp.MustCompile(`(^|/):[A-Za-z_][A-Za-z0-9_]*`)

// substRe rewrites each ":name" inside an already regex-escaped pattern.
var substRe = regexp.MustCompile(`:[A-Za-z_][A-Za-z0-9_]*`)

// Compile turns a pattern into a Condition. Unsupported pattern types are an
// INVARIANT_VIOLATED programming error.
func Compile(pattern any) (Condition, error) {
	switch p := pattern.(type) {
	case Condition:
		return p, nil
	case func(string) bool:
		return p, nil
	case *regexp.Regexp:
		return p.MatchString, nil
	case string:
		return compileString(p), nil
	default:
		return nil, models.NewCommandError(
			models.ErrCodeInvariant,
			fmt.Sprintf("unsupported url pattern type %T", pattern),
			nil,
		)
	}
}

// MustCompile is Compile for statically known patterns.
func MustCompile(pattern any) Condition {
	c, err := Compile(pattern)
	if err != nil {
		panic(err)
	}
	return c
}

func compileString(pattern string) Condition {
	switch {
	case pattern == "*":
		return containsCond("")

	case len(pattern) >= 2 && strings.HasPrefix(pattern, "*") && strings.HasSuffix(pattern, "*"):
		return containsCond(pattern[1 : len(pattern)-1])

	case strings.HasPrefix(pattern, "*"):
		suffix := pattern[1:]
		return func(url string) bool {
			return url != "" && strings.HasSuffix(url, suffix)
		}

	case strings.HasSuffix(pattern, "*"):
		prefix := pattern[:len(pattern)-1]
		return func(url string) bool {
			return strings.HasPrefix(url, prefix)
		}

	case paramRe.MatchString(pattern):
		return paramPathCond(pattern)

	case strings.HasPrefix(pattern, "http://") || strings.HasPrefix(pattern, "https://"):
		return func(url string) bool {
			return url == pattern ||
				strings.HasPrefix(url, pattern+"?") ||
				strings.HasPrefix(url, pattern+"#")
		}

	default:
		return containsCond(pattern)
	}
}

func containsCond(inner string) Condition {
	return func(url string) bool {
		return url != "" && strings.Contains(url, inner)
	}
}

// paramPathCond escapes the pattern's regex metacharacters, then substitutes
// each ":name" with a segment matcher.
func paramPathCond(pattern string) Condition {
	escaped := regexp.QuoteMeta(pattern)
	expr := substRe.ReplaceAllString(escaped, `([^/&?#]+)`)
	re, err := regexp.Compile(expr)
	if err != nil {
		// QuoteMeta output is always compilable; keep a safe fallback anyway.
		return containsCond(pattern)
	}
	return re.MatchString
}

// AllOf matches when every condition matches (short-circuiting).
func AllOf(conds ...Condition) Condition {
	return func(url string) bool {
		for _, c := range conds {
			if !c(url) {
				return false
			}
		}
		return true
	}
}

// AnyOf matches when at least one condition matches (short-circuiting).
func AnyOf(conds ...Condition) Condition {
	return func(url string) bool {
		for _, c := range conds {
			if c(url) {
				return true
			}
		}
		return false
	}
}

// NotOf inverts a condition.
func NotOf(cond Condition) Condition {
	return func(url string) bool {
		return !cond(url)
	}
}
