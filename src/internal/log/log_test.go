package log

import (
	"context"
	"testing"

	"github.com/pachyderm/durachunk/src/internal/errors"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestBasics(t *testing.T) {
	ctx, h := TestWithCapture(t)
	Debug(ctx, "hello")
	Info(ctx, "hello")
	Warn(ctx, "hello")
	Error(ctx, "hello")
	require.Equal(t, []string{"debug: hello", "info: hello", "warn: hello", "error: hello"}, h.Logs())
}

func TestEmptyContextUsesGlobal(t *testing.T) {
	_, h := TestWithCapture(t)
	Info(context.Background(), "from the global logger")
	require.Equal(t, []string{"info: from the global logger"}, h.Logs())
}

func TestChildLogger(t *testing.T) {
	ctx, h := TestWithCapture(t)
	ctx = ChildLogger(ctx, "uploader", WithFields(zap.String("spaceID", "photos")))
	Info(ctx, "hi")
	entries := h.Entries()
	require.Len(t, entries, 1)
	require.Equal(t, "uploader", entries[0].LoggerName)
	require.Equal(t, "photos", entries[0].ContextMap()["spaceID"])
}

func TestSpan(t *testing.T) {
	ctx, h := TestWithCapture(t)
	func() (retErr error) {
		_, end := SpanContext(ctx, "ok")
		defer end(Errorp(&retErr))
		return nil
	}()
	func() (retErr error) {
		end := Span(ctx, "broken")
		defer end(Errorp(&retErr))
		return errors.New("boom")
	}()
	require.Equal(t, []string{
		"debug: ok: span start",
		"debug: ok: span finished ok",
		"debug: broken: span start",
		"error: broken: span failed",
	}, h.Logs())
}

func TestRetryAttempt(t *testing.T) {
	ctx, h := TestWithCapture(t)
	Info(ctx, "retrying", RetryAttempt(1, 3))
	fields := h.Entries()[0].ContextMap()
	require.Equal(t, 1, fields["attempt"])
	require.Equal(t, 3, fields["totalAttempts"])
}

func TestDuplicateKeys(t *testing.T) {
	ctx, h := TestWithCapture(t)
	sctx, end := SpanContext(ctx, "write", Space("photos"), Content("a.jpg"))
	Info(sctx, "chunk", Object("a.jpg.dura-chunk-0000"), RetryAttempt(0, 2))
	require.Empty(t, h.DuplicateKeys())
	Info(sctx, "again", Space("photos"))
	end()
	require.Equal(t, []string{"again: spaceID"}, h.DuplicateKeys())
}
