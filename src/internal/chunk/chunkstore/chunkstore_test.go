package chunkstore

import (
	"bytes"
	"context"
	"crypto/md5"
	"encoding/hex"
	"io"
	"math/rand"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/pachyderm/durachunk/src/internal/chunk"
	"github.com/pachyderm/durachunk/src/internal/chunk/manifest"
	"github.com/pachyderm/durachunk/src/internal/errors"
	"github.com/pachyderm/durachunk/src/internal/pacherr"
	"github.com/pachyderm/durachunk/src/internal/pctx"
	"github.com/pachyderm/durachunk/src/internal/store"
)

func randomBytes(seed int64, n int) []byte {
	data := make([]byte, n)
	rand.New(rand.NewSource(seed)).Read(data) //nolint:gosec
	return data
}

func md5Hex(data []byte) string {
	sum := md5.Sum(data)
	return hex.EncodeToString(sum[:])
}

// countingStore records every AddContent and can fail ids containing failID.
type countingStore struct {
	store.Store
	mu     sync.Mutex
	adds   []string
	failID string
}

func (s *countingStore) AddContent(ctx context.Context, spaceID, contentID string, r io.Reader, size int64, mimetype, checksum string, props store.Properties) (string, error) {
	s.mu.Lock()
	s.adds = append(s.adds, contentID)
	s.mu.Unlock()
	if s.failID != "" && strings.Contains(contentID, s.failID) {
		return "", errors.New("injected failure")
	}
	return s.Store.AddContent(ctx, spaceID, contentID, r, size, mimetype, checksum, props)
}

func (s *countingStore) reset() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	adds := s.adds
	s.adds = nil
	return adds
}

type fixture struct {
	ctx   context.Context
	base  *countingStore
	store *Store
	space string
}

func newFixture(t *testing.T) *fixture {
	base := &countingStore{Store: store.NewTestStore(t)}
	opts, err := chunk.NewOptions(10000)
	require.NoError(t, err)
	f := &fixture{
		ctx:   pctx.TestContext(t),
		base:  base,
		store: New(base, opts, WithTempDir(t.TempDir())),
		space: store.NewTestSpace(t, base),
	}
	return f
}

func (f *fixture) add(t *testing.T, id string, data []byte, checksum string) (string, error) {
	return f.store.AddContent(f.ctx, f.space, id, bytes.NewReader(data), int64(len(data)), "application/test", checksum, nil)
}

func (f *fixture) list(t *testing.T, prefix string) []string {
	var ids []string
	require.NoError(t, f.store.ListContents(f.ctx, f.space, prefix, func(id string) error {
		ids = append(ids, id)
		return nil
	}))
	return ids
}

func (f *fixture) get(t *testing.T, id string) []byte {
	c, err := f.store.GetContent(f.ctx, f.space, id)
	require.NoError(t, err)
	defer c.Body.Close()
	data, err := io.ReadAll(c.Body)
	require.NoError(t, err)
	return data
}

func (f *fixture) manifest(t *testing.T, id string) *manifest.Manifest {
	m, err := manifest.Unmarshal(f.get(t, manifest.ID(id)))
	require.NoError(t, err)
	return m
}

func chunkIDs(id string, n int) []string {
	var ids []string
	for i := 0; i < n; i++ {
		ids = append(ids, chunk.ID(id, i, 4))
	}
	return ids
}

func TestSmallContentPassesThrough(t *testing.T) {
	f := newFixture(t)
	data := randomBytes(1, 10000)
	sum, err := f.add(t, "small", data, md5Hex(data))
	require.NoError(t, err)
	require.Equal(t, md5Hex(data), sum)
	require.Equal(t, []string{"small"}, f.list(t, ""))
	require.Equal(t, data, f.get(t, "small"))
}

func TestChunked(t *testing.T) {
	f := newFixture(t)
	data := randomBytes(2, 45000)
	sum, err := f.add(t, "big", data, "")
	require.NoError(t, err)
	require.Equal(t, md5Hex(data), sum)
	require.Equal(t, append(chunkIDs("big", 5), "big.dura-manifest"), f.list(t, ""))

	m := f.manifest(t, "big")
	require.Equal(t, int64(45000), m.Header().SourceSize)
	require.Equal(t, "application/test", m.Header().SourceMimetype)
	var joined []byte
	for _, e := range m.Entries() {
		chunkData := f.get(t, e.ID)
		require.Equal(t, e.MD5, md5Hex(chunkData))
		joined = append(joined, chunkData...)
	}
	require.Equal(t, data, joined)
}

func TestIdempotentReupload(t *testing.T) {
	f := newFixture(t)
	data := randomBytes(3, 45000)
	_, err := f.add(t, "big", data, "")
	require.NoError(t, err)
	require.Len(t, f.base.reset(), 6)

	_, err = f.add(t, "big", data, md5Hex(data))
	require.NoError(t, err)
	require.Empty(t, f.base.reset())
	require.Equal(t, append(chunkIDs("big", 5), "big.dura-manifest"), f.list(t, ""))
}

func TestChangedChunkReuploaded(t *testing.T) {
	f := newFixture(t)
	data := randomBytes(4, 45000)
	_, err := f.add(t, "big", data, "")
	require.NoError(t, err)
	f.base.reset()

	changed := append([]byte(nil), data...)
	changed[25000] ^= 0xff
	_, err = f.add(t, "big", changed, "")
	require.NoError(t, err)
	require.Equal(t, []string{chunk.ID("big", 2, 4), "big.dura-manifest"}, f.base.reset())
	require.Equal(t, md5Hex(changed), f.manifest(t, "big").Header().SourceMD5)
}

func TestOrphanCleanup(t *testing.T) {
	f := newFixture(t)
	_, err := f.add(t, "big", randomBytes(5, 40000), "")
	require.NoError(t, err)
	require.Len(t, f.list(t, chunk.Prefix("big")), 4)
	// Another content whose id extends this one must not be touched.
	_, err = f.add(t, "big.dura-chunk-0001.bak", randomBytes(6, 10), "")
	require.NoError(t, err)

	_, err = f.add(t, "big", randomBytes(7, 15000), "")
	require.NoError(t, err)
	require.Equal(t, []string{
		"big.dura-chunk-0000",
		"big.dura-chunk-0001",
		"big.dura-chunk-0001.bak",
		"big.dura-manifest",
	}, f.list(t, ""))
	require.Equal(t, 2, f.manifest(t, "big").Len())
}

func TestShrinkAndGrow(t *testing.T) {
	f := newFixture(t)
	_, err := f.add(t, "doc", randomBytes(8, 45000), "")
	require.NoError(t, err)

	small := randomBytes(9, 5000)
	_, err = f.add(t, "doc", small, "")
	require.NoError(t, err)
	require.Equal(t, []string{"doc"}, f.list(t, ""))
	require.Equal(t, small, f.get(t, "doc"))

	_, err = f.add(t, "doc", randomBytes(10, 25000), "")
	require.NoError(t, err)
	require.Equal(t, append(chunkIDs("doc", 3), "doc.dura-manifest"), f.list(t, ""))
}

// writeChunked stores the chunks of data and, if withManifest is set, its
// manifest, without any cleanup.
func (f *fixture) writeChunked(t *testing.T, id string, data []byte, withManifest bool) *manifest.Manifest {
	c, err := chunk.NewContent(id, "", bytes.NewReader(data), int64(len(data)), f.store.opts)
	require.NoError(t, err)
	for {
		st, err := c.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		require.NoError(t, err)
		_, err = f.base.Store.AddContent(f.ctx, f.space, st.ID(), st, st.Size(), "", "", nil)
		require.NoError(t, err)
		require.NoError(t, st.Close())
	}
	m, err := c.Finalize()
	require.NoError(t, err)
	if withManifest {
		body, err := m.Body()
		require.NoError(t, err)
		_, err = f.base.Store.AddContent(f.ctx, f.space, m.ID(), body, body.Size(), "application/xml", body.MD5(), nil)
		require.NoError(t, err)
	}
	return m
}

func TestReconcile(t *testing.T) {
	f := newFixture(t)
	_, err := f.add(t, "doc", randomBytes(16, 45000), "")
	require.NoError(t, err)

	// Written whole: the earlier chunks and manifest go.
	small := randomBytes(17, 500)
	_, err = f.base.Store.AddContent(f.ctx, f.space, "doc", bytes.NewReader(small), int64(len(small)), "", "", nil)
	require.NoError(t, err)
	require.NoError(t, f.store.Reconcile(f.ctx, f.space, "doc", nil))
	require.Equal(t, []string{"doc"}, f.list(t, ""))

	// Chunks written but no manifest: nothing is touched.
	m := f.writeChunked(t, "doc", randomBytes(18, 25000), false)
	require.NoError(t, f.store.Reconcile(f.ctx, f.space, "doc", m))
	require.Equal(t, append([]string{"doc"}, chunkIDs("doc", 3)...), f.list(t, ""))
	require.Equal(t, small, f.get(t, "doc"))

	// A complete chunked write replaces the unchunked object.
	_, err = f.add(t, "doc", randomBytes(19, 45000), "")
	require.NoError(t, err)
	_, err = f.base.Store.AddContent(f.ctx, f.space, "doc", bytes.NewReader(small), int64(len(small)), "", "", nil)
	require.NoError(t, err)
	m = f.writeChunked(t, "doc", randomBytes(20, 25000), true)
	require.NoError(t, f.store.Reconcile(f.ctx, f.space, "doc", m))
	require.Equal(t, append(chunkIDs("doc", 3), "doc.dura-manifest"), f.list(t, ""))
}

func TestUnwritableID(t *testing.T) {
	f := newFixture(t)
	_, err := f.add(t, "dir/file\x01name", randomBytes(21, 45000), "")
	require.True(t, pacherr.IsInvalidManifest(err), "%v", err)
	require.Empty(t, f.base.reset())
	require.Empty(t, f.list(t, ""))
}

func TestChecksumMismatch(t *testing.T) {
	f := newFixture(t)
	data := randomBytes(11, 45000)
	_, err := f.add(t, "big", data, md5Hex([]byte("something else")))
	require.True(t, pacherr.IsChecksumMismatch(err), "%v", err)
	// Nothing is rolled back.
	require.Len(t, f.list(t, ""), 6)

	_, err = f.add(t, "small", data[:100], md5Hex([]byte("something else")))
	require.True(t, pacherr.IsChecksumMismatch(err), "%v", err)
}

func TestChunkUploadFailure(t *testing.T) {
	f := newFixture(t)
	f.base.failID = ".dura-chunk-0003"
	_, err := f.add(t, "big", randomBytes(12, 45000), "")
	require.True(t, pacherr.IsNotAdded(err), "%v", err)
	require.Equal(t, chunkIDs("big", 3), f.list(t, ""))
}

func TestManifestUploadFailure(t *testing.T) {
	f := newFixture(t)
	f.base.failID = ".dura-manifest"
	_, err := f.add(t, "big", randomBytes(13, 15000), "")
	require.True(t, pacherr.IsNotAdded(err), "%v", err)
}

func TestUnknownSize(t *testing.T) {
	f := newFixture(t)
	_, err := f.store.AddContent(f.ctx, f.space, "x", bytes.NewReader(nil), -1, "", "", nil)
	require.Error(t, err)
}

func TestDeleteContent(t *testing.T) {
	f := newFixture(t)
	_, err := f.add(t, "big", randomBytes(14, 45000), "")
	require.NoError(t, err)
	_, err = f.add(t, "small", randomBytes(15, 10), "")
	require.NoError(t, err)

	require.NoError(t, f.store.DeleteContent(f.ctx, f.space, "big"))
	require.Equal(t, []string{"small"}, f.list(t, ""))
	require.NoError(t, f.store.DeleteContent(f.ctx, f.space, "small"))
	require.Empty(t, f.list(t, ""))
	require.NoError(t, f.store.DeleteContent(f.ctx, f.space, "never-existed"))
}
