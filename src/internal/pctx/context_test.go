package pctx

import (
	"testing"

	"github.com/pachyderm/durachunk/src/internal/log"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestBackground(t *testing.T) {
	_, h := log.TestWithCapture(t)
	log.Info(Background(""), "hi")
	h.HasALog(t)
}

func TestTODO(t *testing.T) {
	_, h := log.TestWithCapture(t)
	log.Info(TODO(), "hi")
	h.HasALog(t)
}

func TestChild(t *testing.T) {
	_, h := log.TestWithCapture(t)
	ctx := Child(Background("chunkctl"), "upload", WithFields(zap.String("spaceID", "s1")))
	log.Info(ctx, "hi")
	entries := h.Entries()
	require.Len(t, entries, 1)
	require.Equal(t, "chunkctl.upload", entries[0].LoggerName)
	require.Equal(t, "s1", entries[0].ContextMap()["spaceID"])
}

func TestTestContextCancelled(t *testing.T) {
	var done <-chan struct{}
	t.Run("inner", func(t *testing.T) {
		ctx := TestContext(t)
		done = ctx.Done()
		require.NoError(t, ctx.Err())
	})
	<-done
}
