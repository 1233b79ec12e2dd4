package autohands

import (
	"io"
	"log/slog"
)

// nopLogger returns a *slog.Logger that discards everything, used as the
// zero-value default so every component can log unconditionally without
// nil-checking.
func nopLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}
