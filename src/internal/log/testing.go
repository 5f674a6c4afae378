package log

import (
	"context"
	"fmt"
	"testing"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest"
	"go.uber.org/zap/zaptest/observer"
)

// History is a set of captured log lines.
type History struct {
	logs *observer.ObservedLogs
}

// Logs returns the captured lines as "level: message".
func (h *History) Logs() []string {
	var result []string
	for _, e := range h.logs.All() {
		result = append(result, fmt.Sprintf("%s: %s", e.Level, e.Message))
	}
	return result
}

// Entries returns the raw captured entries.
func (h *History) Entries() []observer.LoggedEntry {
	return h.logs.All()
}

// DuplicateKeys returns the keys that appear more than once on a single
// captured line, including keys added by enclosing spans.
func (h *History) DuplicateKeys() []string {
	var dups []string
	for _, e := range h.logs.All() {
		seen := make(map[string]bool)
		for _, f := range e.Context {
			if f.Key == "" {
				continue
			}
			if seen[f.Key] {
				dups = append(dups, fmt.Sprintf("%s: %s", e.Message, f.Key))
			}
			seen[f.Key] = true
		}
	}
	return dups
}

// HasALog fails the test if nothing was logged.
func (h *History) HasALog(t testing.TB) {
	t.Helper()
	if h.logs.Len() == 0 {
		t.Error("expected some logs, but got none")
	}
}

// TestWithCapture returns a context whose logger records every line at debug
// and above.  The global logger is replaced for the duration of the test, so
// tests using it must not run in parallel.
func TestWithCapture(t testing.TB) (context.Context, *History) {
	core, logs := observer.New(zapcore.DebugLevel)
	l := zap.New(core)
	t.Cleanup(zap.ReplaceGlobals(l))
	return withLogger(context.Background(), l), &History{logs: logs}
}

// TestParallel returns a context whose logger writes to the test's log.  It
// does not touch the global logger, so it is safe for parallel tests.
func TestParallel(t testing.TB) context.Context {
	return withLogger(context.Background(), zaptest.NewLogger(t, zaptest.Level(zapcore.DebugLevel)))
}
