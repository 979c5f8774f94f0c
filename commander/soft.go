package commander

import (
	"log/slog"

	"github.com/link-foundation/browser-commander-sub000/models"
)

// soft degrades a navigation-transient failure to the given default. Only
// read-like working-state queries go through here; mutating operations must
// never silently succeed.
func soft[T any](op string, def T, fn func() (T, error)) (T, error) {
	v, err := fn()
	if err != nil && models.IsNavigationTransient(err) {
		slog.Debug("transient navigation error degraded to default",
			"op", op, "error", err)
		return def, nil
	}
	return v, err
}

func softBool(op string, fn func() (bool, error)) (bool, error) {
	return soft(op, false, fn)
}

// softOpt is soft for operations with a presence flag; the transient default
// is absent.
func softOpt(op string, fn func() (string, bool, error)) (string, bool, error) {
	s, ok, err := fn()
	if err != nil && models.IsNavigationTransient(err) {
		slog.Debug("transient navigation error degraded to default",
			"op", op, "error", err)
		return "", false, nil
	}
	return s, ok, err
}
