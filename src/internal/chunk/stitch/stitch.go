// Package stitch reads chunked content back as one stream.
//
// A Stitcher opens the chunks named by a manifest in order and joins them
// into a single reader, checking each chunk's size and MD5 against the
// manifest as it is read.  A Source iterates the logical content of one or
// more spaces, hiding chunks and presenting chunked content under its
// original id.
package stitch

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"hash"
	"io"

	lru "github.com/hashicorp/golang-lru/v2"
	"go.uber.org/zap"

	"github.com/pachyderm/durachunk/src/internal/chunk/manifest"
	"github.com/pachyderm/durachunk/src/internal/errors"
	"github.com/pachyderm/durachunk/src/internal/log"
	"github.com/pachyderm/durachunk/src/internal/pacherr"
	"github.com/pachyderm/durachunk/src/internal/store"
)

// DefaultCacheSize is the number of manifests a Stitcher keeps by default.
const DefaultCacheSize = 128

// Listener is told about each chunk as it is fetched.
type Listener func(e manifest.Entry)

// cacheKey includes the stored manifest's checksum, so a rewritten manifest
// is never served from the cache.
type cacheKey struct {
	spaceID    string
	manifestID string
	checksum   string
}

// Stitcher reassembles chunked content.
type Stitcher struct {
	store        store.Store
	cacheSize    int
	cache        *lru.Cache[cacheKey, *manifest.Manifest]
	verifySource bool
}

// Option configures a Stitcher.
type Option func(s *Stitcher)

// WithCacheSize sets how many manifests are cached.  Zero disables the cache.
func WithCacheSize(size int) Option {
	return func(s *Stitcher) {
		s.cacheSize = size
	}
}

// WithSourceVerification makes stitched readers also check the MD5 of the
// whole content when they reach the end.
func WithSourceVerification() Option {
	return func(s *Stitcher) {
		s.verifySource = true
	}
}

// New returns a Stitcher reading from s.
func New(s store.Store, opts ...Option) *Stitcher {
	st := &Stitcher{store: s, cacheSize: DefaultCacheSize}
	for _, opt := range opts {
		opt(st)
	}
	if st.cacheSize > 0 {
		cache, err := lru.New[cacheKey, *manifest.Manifest](st.cacheSize)
		if err != nil {
			// lru.New only errors for size < 1
			panic(err)
		}
		st.cache = cache
	}
	return st
}

// GetManifest fetches and parses a manifest.
func (s *Stitcher) GetManifest(ctx context.Context, spaceID, manifestID string) (*manifest.Manifest, error) {
	props, err := s.store.GetContentProperties(ctx, spaceID, manifestID)
	if err != nil {
		return nil, err //nolint:wrapcheck
	}
	key := cacheKey{spaceID: spaceID, manifestID: manifestID, checksum: props.Checksum()}
	if s.cache != nil && key.checksum != "" {
		if m, ok := s.cache.Get(key); ok {
			return m, nil
		}
	}
	c, err := s.store.GetContent(ctx, spaceID, manifestID)
	if err != nil {
		return nil, err //nolint:wrapcheck
	}
	defer c.Body.Close()
	m, err := manifest.Read(c.Body)
	if err != nil {
		invalid := &pacherr.ErrInvalidManifest{}
		if errors.As(err, &invalid) && invalid.ID == "" {
			invalid.ID = manifestID
		}
		return nil, err
	}
	if manifest.BaseID(manifestID) != m.Header().SourceContentID {
		return nil, pacherr.NewInvalidManifest(manifestID, "describes %s", m.Header().SourceContentID)
	}
	if s.cache != nil && key.checksum != "" {
		s.cache.Add(key, m)
	}
	return m, nil
}

// Content is stitched content.  The caller must close Body.
type Content struct {
	Body     io.ReadCloser
	Manifest *manifest.Manifest
}

// GetContentFromManifest returns the content described by the manifest
// manifestID.  listener may be nil.
//
// If a chunk cannot be fetched, the error is a not-chunked error when the
// content exists unchunked.  Otherwise a chunk the store reports missing gives
// a not-exist error, and any other fetch failure is returned wrapped but
// unclassified, so a transient store error is not mistaken for missing
// content.  The first chunk is fetched before returning; the rest are fetched
// as the body is read.
func (s *Stitcher) GetContentFromManifest(ctx context.Context, spaceID, manifestID string, listener Listener) (*Content, error) {
	m, err := s.GetManifest(ctx, spaceID, manifestID)
	if err != nil {
		return nil, err
	}
	r := &reader{
		ctx:      ctx,
		s:        s,
		spaceID:  spaceID,
		m:        m,
		listener: listener,
	}
	if s.verifySource {
		r.sourceHash = md5.New()
	}
	if err := r.open(); err != nil {
		return nil, err
	}
	log.Debug(ctx, "stitching content", log.Space(spaceID), log.Content(m.Header().SourceContentID), zap.Int("chunks", m.Len()))
	return &Content{Body: r, Manifest: m}, nil
}

// chunkError classifies a failed chunk fetch.
func (s *Stitcher) chunkError(ctx context.Context, spaceID string, m *manifest.Manifest, e manifest.Entry, err error) error {
	contentID := m.Header().SourceContentID
	exists, existsErr := s.store.ContentExists(ctx, spaceID, contentID)
	if existsErr == nil && exists {
		log.Info(ctx, "chunk missing but content is stored whole", log.Object(e.ID), zap.Error(err))
		return pacherr.NewNotChunked(spaceID, contentID)
	}
	if pacherr.IsNotExist(err) {
		return pacherr.NewNotExist(spaceID, e.ID)
	}
	return errors.Wrapf(err, "fetch chunk %s", e.ID)
}

type reader struct {
	ctx      context.Context
	s        *Stitcher
	spaceID  string
	m        *manifest.Manifest
	listener Listener

	next       int
	body       io.ReadCloser
	entry      manifest.Entry
	read       int64
	hash       hash.Hash
	sourceHash hash.Hash
	sourceRead int64
	err        error
}

func (r *reader) open() error {
	e := r.m.Entry(r.next)
	c, err := r.s.store.GetContent(r.ctx, r.spaceID, e.ID)
	if err != nil {
		return r.s.chunkError(r.ctx, r.spaceID, r.m, e, err)
	}
	r.next++
	r.body = c.Body
	r.entry = e
	r.read = 0
	r.hash = md5.New()
	if r.listener != nil {
		r.listener(e)
	}
	return nil
}

// finishChunk checks the chunk that was just read to the end.
func (r *reader) finishChunk() error {
	body := r.body
	r.body = nil
	if err := body.Close(); err != nil {
		return errors.EnsureStack(err)
	}
	if r.read != r.entry.Size {
		return errors.Errorf("chunk %s: read %d bytes, manifest records %d", r.entry.ID, r.read, r.entry.Size)
	}
	if sum := hex.EncodeToString(r.hash.Sum(nil)); sum != r.entry.MD5 {
		return pacherr.NewChecksumMismatch(r.entry.ID, r.entry.MD5, sum)
	}
	return nil
}

func (r *reader) finishSource() error {
	h := r.m.Header()
	if r.sourceRead != h.SourceSize {
		return errors.Errorf("content %s: read %d bytes, manifest records %d", h.SourceContentID, r.sourceRead, h.SourceSize)
	}
	if r.sourceHash == nil {
		return nil
	}
	if sum := hex.EncodeToString(r.sourceHash.Sum(nil)); sum != h.SourceMD5 {
		return pacherr.NewChecksumMismatch(h.SourceContentID, h.SourceMD5, sum)
	}
	return nil
}

func (r *reader) Read(p []byte) (int, error) {
	if len(p) == 0 {
		return 0, nil
	}
	for r.err == nil {
		if r.body == nil {
			if r.next >= r.m.Len() {
				if err := r.finishSource(); err != nil {
					r.err = err
					break
				}
				r.err = io.EOF
				break
			}
			if err := r.open(); err != nil {
				r.err = err
				break
			}
		}
		n, err := r.body.Read(p)
		r.hash.Write(p[:n])
		if r.sourceHash != nil {
			r.sourceHash.Write(p[:n])
		}
		r.read += int64(n)
		r.sourceRead += int64(n)
		if errors.Is(err, io.EOF) {
			if ferr := r.finishChunk(); ferr != nil {
				r.err = ferr
				return n, ferr
			}
			err = nil
		} else if err != nil {
			r.err = errors.EnsureStack(err)
			return n, r.err
		}
		if n > 0 {
			return n, nil
		}
	}
	return 0, r.err
}

func (r *reader) Close() error {
	if r.body == nil {
		return nil
	}
	body := r.body
	r.body = nil
	return errors.EnsureStack(body.Close())
}
