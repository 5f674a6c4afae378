package store

import (
	"bytes"
	"context"
	"crypto/md5"
	"crypto/rand"
	"encoding/hex"
	"io"
	"path"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"gocloud.dev/blob/fileblob"
	"gocloud.dev/blob/memblob"

	"github.com/pachyderm/durachunk/src/internal/pacherr"
)

// TestSuite runs tests to ensure the Store returned by newStore behaves like a
// Store.  newStore should register cleanup of the returned Store using
// testing.T.Cleanup.  All of the subtests call t.Parallel, but the top level
// test does not.
func TestSuite(t *testing.T, newStore func(t testing.TB) Store) {
	ctx := context.Background()
	t.Run("TestSpaces", func(t *testing.T) {
		t.Parallel()
		s := newStore(t)
		space := uniqueSpace()
		exists, err := s.SpaceExists(ctx, space)
		require.NoError(t, err)
		require.False(t, exists)
		require.NoError(t, s.CreateSpace(ctx, space))
		require.NoError(t, s.CreateSpace(ctx, space))
		exists, err = s.SpaceExists(ctx, space)
		require.NoError(t, err)
		require.True(t, exists)
	})

	t.Run("TestMissingSpace", func(t *testing.T) {
		t.Parallel()
		s := newStore(t)
		_, err := s.AddContent(ctx, uniqueSpace(), "x", bytes.NewReader(nil), 0, "", "", nil)
		require.True(t, pacherr.IsNotExist(err), "%v", err)
	})

	t.Run("TestMissingContent", func(t *testing.T) {
		t.Parallel()
		s := newStore(t)
		space := newSpace(t, s)
		requireExists(t, s, space, "missing", false)
		_, err := s.GetContent(ctx, space, "missing")
		require.True(t, pacherr.IsNotExist(err), "%v", err)
		_, err = s.GetContentProperties(ctx, space, "missing")
		require.True(t, pacherr.IsNotExist(err), "%v", err)
		require.NoError(t, s.DeleteContent(ctx, space, "missing"))
	})

	t.Run("TestSingleWrite", func(t *testing.T) {
		t.Parallel()
		s := newStore(t)
		doWriteTest(t, s, newSpace(t, s), "test-single-write", []byte("foo bar"))
	})

	t.Run("TestEmptyWrite", func(t *testing.T) {
		t.Parallel()
		s := newStore(t)
		doWriteTest(t, s, newSpace(t, s), "test-empty-write", []byte{})
	})

	t.Run("TestSubdirectory", func(t *testing.T) {
		t.Parallel()
		s := newStore(t)
		doWriteTest(t, s, newSpace(t, s), path.Join("test-subdirectory", "object"), []byte("foo bar"))
	})

	t.Run("TestIntegrity", func(t *testing.T) {
		t.Parallel()
		s := newStore(t)
		space := newSpace(t, s)
		data := make([]byte, 1<<20)
		_, err := io.ReadFull(rand.Reader, data)
		require.NoError(t, err)
		sum := md5.Sum(data)
		expected := hex.EncodeToString(sum[:])
		checksum, err := s.AddContent(ctx, space, "prefix/test-object", bytes.NewReader(data), int64(len(data)), "", expected, nil)
		require.NoError(t, err)
		require.Equal(t, expected, checksum)
		c, err := s.GetContent(ctx, space, "prefix/test-object")
		require.NoError(t, err)
		defer c.Body.Close()
		actual, err := io.ReadAll(c.Body)
		require.NoError(t, err)
		require.Equal(t, data, actual)
		require.Equal(t, expected, c.Properties.Checksum())
		require.Equal(t, int64(len(data)), c.Properties.Size())
	})

	t.Run("TestChecksumMismatch", func(t *testing.T) {
		t.Parallel()
		s := newStore(t)
		space := newSpace(t, s)
		_, err := s.AddContent(ctx, space, "bad", bytes.NewReader([]byte("foo")), 3, "", "00000000000000000000000000000000", nil)
		require.True(t, pacherr.IsChecksumMismatch(err), "%v", err)
		requireExists(t, s, space, "bad", false)
	})

	t.Run("TestSizeMismatch", func(t *testing.T) {
		t.Parallel()
		s := newStore(t)
		space := newSpace(t, s)
		_, err := s.AddContent(ctx, space, "short", bytes.NewReader([]byte("foo")), 4, "", "", nil)
		require.Error(t, err)
		requireExists(t, s, space, "short", false)
	})

	t.Run("TestProperties", func(t *testing.T) {
		t.Parallel()
		s := newStore(t)
		space := newSpace(t, s)
		_, err := s.AddContent(ctx, space, "doc.txt", bytes.NewReader([]byte("hello")), 5, "text/plain", "", Properties{"owner": "alice"})
		require.NoError(t, err)
		props, err := s.GetContentProperties(ctx, space, "doc.txt")
		require.NoError(t, err)
		require.Equal(t, "text/plain", props.Mimetype())
		require.Equal(t, int64(5), props.Size())
		require.Equal(t, "5d41402abc4b2a76b9719d911017c592", props.Checksum())
		require.Equal(t, "alice", props["owner"])
	})

	t.Run("TestListContents", func(t *testing.T) {
		t.Parallel()
		s := newStore(t)
		space := newSpace(t, s)
		other := newSpace(t, s)
		for _, id := range []string{"b", "a/1", "a/2", "c"} {
			_, err := s.AddContent(ctx, space, id, bytes.NewReader([]byte(id)), int64(len(id)), "", "", nil)
			require.NoError(t, err)
		}
		_, err := s.AddContent(ctx, other, "a/3", bytes.NewReader(nil), 0, "", "", nil)
		require.NoError(t, err)
		require.Equal(t, []string{"a/1", "a/2", "b", "c"}, listAll(t, s, space, ""))
		require.Equal(t, []string{"a/1", "a/2"}, listAll(t, s, space, "a/"))
		require.Empty(t, listAll(t, s, space, "z"))
	})
}

// NewTestStore returns a Store over an in-memory bucket.
func NewTestStore(t testing.TB) Store {
	bucket := memblob.OpenBucket(nil)
	t.Cleanup(func() { require.NoError(t, bucket.Close()) })
	return NewBucketStore(bucket)
}

// NewTestFileStore returns a Store over a bucket in a temporary directory.
func NewTestFileStore(t testing.TB) Store {
	bucket, err := fileblob.OpenBucket(t.TempDir(), nil)
	require.NoError(t, err)
	t.Cleanup(func() { require.NoError(t, bucket.Close()) })
	return NewBucketStore(bucket)
}

// NewTestSpace creates a uniquely named space in s and returns its id.
func NewTestSpace(t testing.TB, s Store) string {
	return newSpace(t, s)
}

func uniqueSpace() string {
	return "space-" + uuid.NewString()
}

func newSpace(t testing.TB, s Store) string {
	space := uniqueSpace()
	require.NoError(t, s.CreateSpace(context.Background(), space))
	return space
}

func listAll(t testing.TB, s Store, space, prefix string) []string {
	var ids []string
	require.NoError(t, s.ListContents(context.Background(), space, prefix, func(id string) error {
		ids = append(ids, id)
		return nil
	}))
	return ids
}

func requireExists(t testing.TB, s Store, space, id string, expected bool) {
	t.Helper()
	exists, err := s.ContentExists(context.Background(), space, id)
	require.NoError(t, err)
	require.Equal(t, expected, exists)
}

func doWriteTest(t testing.TB, s Store, space, id string, data []byte) {
	ctx := context.Background()
	requireExists(t, s, space, id, false)
	defer requireExists(t, s, space, id, false)
	_, err := s.AddContent(ctx, space, id, bytes.NewReader(data), int64(len(data)), "", "", nil)
	require.NoError(t, err)
	requireExists(t, s, space, id, true)
	c, err := s.GetContent(ctx, space, id)
	require.NoError(t, err)
	actual, err := io.ReadAll(c.Body)
	require.NoError(t, err)
	require.NoError(t, c.Body.Close())
	require.Equal(t, len(data), len(actual))
	require.True(t, bytes.Equal(data, actual))
	require.NoError(t, s.DeleteContent(ctx, space, id))
}
