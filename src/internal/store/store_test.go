package store

import (
	"bytes"
	"context"
	"io"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/pachyderm/durachunk/src/internal/pacherr"
)

func TestMemStore(t *testing.T) {
	TestSuite(t, NewTestStore)
}

func TestFileStore(t *testing.T) {
	TestSuite(t, NewTestFileStore)
}

func TestLimitedStore(t *testing.T) {
	TestSuite(t, func(t testing.TB) Store {
		return NewLimitedStore(NewTestStore(t), 2, 1)
	})
}

func TestLimitedStoreHoldsReadSlotUntilClose(t *testing.T) {
	ctx := context.Background()
	s := NewLimitedStore(NewTestStore(t), 1, 0)
	space := NewTestSpace(t, s)
	_, err := s.AddContent(ctx, space, "a", bytes.NewReader([]byte("a")), 1, "", "", nil)
	require.NoError(t, err)

	c, err := s.GetContent(ctx, space, "a")
	require.NoError(t, err)
	cancelled, cancel := context.WithCancel(ctx)
	cancel()
	_, err = s.GetContent(cancelled, space, "a")
	require.ErrorIs(t, err, context.Canceled)

	require.NoError(t, c.Body.Close())
	require.NoError(t, c.Body.Close())
	c, err = s.GetContent(ctx, space, "a")
	require.NoError(t, err)
	data, err := io.ReadAll(c.Body)
	require.NoError(t, err)
	require.Equal(t, "a", string(data))
	require.NoError(t, c.Body.Close())
}

func TestOpen(t *testing.T) {
	ctx := context.Background()
	dir := filepath.Join(t.TempDir(), "nested", "root")
	s, closeFn, err := Open(ctx, "file://"+dir)
	require.NoError(t, err)
	defer func() { require.NoError(t, closeFn()) }()
	require.NoError(t, s.CreateSpace(ctx, "space"))
	_, err = s.AddContent(ctx, "space", "x", bytes.NewReader([]byte("x")), 1, "", "", nil)
	require.NoError(t, err)
	require.FileExists(t, filepath.Join(dir, "space", "x"))

	for _, bad := range []string{"ftp://host/x", "file://", "::"} {
		_, _, err := Open(ctx, bad)
		require.True(t, pacherr.IsConfigError(err), "%s: %v", bad, err)
	}
}

func TestInvalidSpace(t *testing.T) {
	ctx := context.Background()
	s := NewTestStore(t)
	for _, bad := range []string{"", "a/b", ".spaces"} {
		require.Error(t, s.CreateSpace(ctx, bad), bad)
	}
}
