// Package chunkstore wraps a store.Store so that content larger than the
// maximum chunk size is stored as chunks plus a manifest.
//
// Only AddContent and DeleteContent behave differently from the wrapped
// store.  Reconcile applies the same cleanup to content written some other
// way.  Re-adding unchanged content uploads nothing: a chunk whose stored
// checksum already matches is skipped, and so is an identical manifest.
package chunkstore

import (
	"context"
	"io"
	"os"
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"

	"github.com/pachyderm/durachunk/src/internal/chunk"
	"github.com/pachyderm/durachunk/src/internal/chunk/manifest"
	"github.com/pachyderm/durachunk/src/internal/errors"
	"github.com/pachyderm/durachunk/src/internal/log"
	"github.com/pachyderm/durachunk/src/internal/pacherr"
	"github.com/pachyderm/durachunk/src/internal/store"
)

var (
	chunksMetric = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "durachunk",
		Subsystem: "chunk_store",
		Name:      "chunks_total",
		Help:      "Number of chunks handled by AddContent, by outcome (uploaded, skipped).",
	}, []string{"outcome"})
	manifestsMetric = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "durachunk",
		Subsystem: "chunk_store",
		Name:      "manifests_total",
		Help:      "Number of manifests handled by AddContent, by outcome (uploaded, skipped).",
	}, []string{"outcome"})
	cleanupMetric = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "durachunk",
		Subsystem: "chunk_store",
		Name:      "cleanup_deleted_total",
		Help:      "Number of objects deleted while cleaning up, by reason (orphan, unchunked, stale).",
	}, []string{"reason"})
)

const manifestMimetype = "application/xml"

var _ store.Store = &Store{}

// Store is a store.Store that chunks large content.
type Store struct {
	store.Store
	opts   *chunk.Options
	tmpDir string
}

// Option configures a Store.
type Option func(s *Store)

// WithTempDir sets the directory chunks are spooled to before upload.
func WithTempDir(dir string) Option {
	return func(s *Store) {
		s.tmpDir = dir
	}
}

// New wraps s.
func New(s store.Store, opts *chunk.Options, options ...Option) *Store {
	cs := &Store{Store: s, opts: opts}
	for _, opt := range options {
		opt(cs)
	}
	return cs
}

// AddContent stores content, chunking it if it is larger than the maximum
// chunk size, and returns the MD5 of the whole content.  A failed chunk or
// manifest upload is a not-added error.  A checksum that does not match the
// content is reported after everything has been uploaded, and the uploaded
// objects are left in place.
func (s *Store) AddContent(ctx context.Context, spaceID, contentID string, r io.Reader, size int64, mimetype, checksum string, props store.Properties) (_ string, retErr error) {
	ctx, end := log.SpanContext(ctx, "addContent", log.Space(spaceID), log.Content(contentID), zap.Int64("size", size))
	defer end(log.Errorp(&retErr))
	if size < 0 {
		return "", errors.Errorf("content %s: size must be known", contentID)
	}
	if !s.opts.NeedsChunking(size) {
		sum, err := s.Store.AddContent(ctx, spaceID, contentID, r, size, mimetype, checksum, props)
		if err != nil {
			return "", pacherr.NewNotAdded(spaceID, contentID, err)
		}
		s.cleanup(ctx, spaceID, contentID, nil)
		return sum, nil
	}
	m, err := s.addChunked(ctx, spaceID, contentID, r, size, mimetype)
	if err != nil {
		return "", err
	}
	s.cleanup(ctx, spaceID, contentID, m)
	sourceMD5 := m.Header().SourceMD5
	if checksum != "" && !strings.EqualFold(checksum, sourceMD5) {
		return "", pacherr.NewChecksumMismatch(contentID, checksum, sourceMD5)
	}
	return sourceMD5, nil
}

// Reconcile removes what an earlier upload of contentID left behind, for
// content that was written without AddContent, for instance by a
// writer.StoreWriter.  A nil m means the content was just stored whole, so its
// chunks and manifest are deleted.  Otherwise the unchunked object and any
// chunk m does not reference are deleted, but only once m is confirmed
// stored; after a partial write nothing is touched.  Delete failures are
// logged, not returned.
func (s *Store) Reconcile(ctx context.Context, spaceID, contentID string, m *manifest.Manifest) (retErr error) {
	ctx, end := log.SpanContext(ctx, "reconcile", log.Space(spaceID), log.Content(contentID))
	defer end(log.Errorp(&retErr))
	if m != nil {
		body, err := m.Body()
		if err != nil {
			return err
		}
		if !s.matches(ctx, spaceID, m.ID(), body.MD5(), body.Size()) {
			log.Info(ctx, "manifest not stored; leaving earlier uploads in place", log.Object(m.ID()))
			return nil
		}
	}
	s.cleanup(ctx, spaceID, contentID, m)
	return nil
}

// cleanup deletes the layout contentID is not stored in.  m is nil for
// content stored whole.
func (s *Store) cleanup(ctx context.Context, spaceID, contentID string, m *manifest.Manifest) {
	if m == nil {
		s.deleteChunked(ctx, spaceID, contentID, "stale")
		return
	}
	s.deleteUnchunked(ctx, spaceID, contentID)
	s.deleteOrphans(ctx, spaceID, m)
}

func (s *Store) addChunked(ctx context.Context, spaceID, contentID string, r io.Reader, size int64, mimetype string) (_ *manifest.Manifest, retErr error) {
	c, err := chunk.NewContent(contentID, mimetype, r, size, s.opts)
	if err != nil {
		return nil, err
	}
	spool, err := os.CreateTemp(s.tmpDir, "chunk-*")
	if err != nil {
		return nil, errors.EnsureStack(err)
	}
	defer func() {
		errors.JoinInto(&retErr, errors.EnsureStack(spool.Close()))
		errors.JoinInto(&retErr, errors.EnsureStack(os.Remove(spool.Name())))
	}()
	for {
		st, err := c.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, err
		}
		if err := s.addChunk(ctx, spaceID, st, spool); err != nil {
			return nil, err
		}
	}
	m, err := c.Finalize()
	if err != nil {
		return nil, err
	}
	if err := s.addManifest(ctx, spaceID, m); err != nil {
		return nil, err
	}
	return m, nil
}

// addChunk spools st to a file to learn its checksum, then uploads it unless
// the stored chunk already has that checksum.
func (s *Store) addChunk(ctx context.Context, spaceID string, st *chunk.Stream, spool *os.File) error {
	if err := spool.Truncate(0); err != nil {
		return errors.EnsureStack(err)
	}
	if _, err := spool.Seek(0, io.SeekStart); err != nil {
		return errors.EnsureStack(err)
	}
	if _, err := st.WriteTo(spool); err != nil {
		return err
	}
	if err := st.Close(); err != nil {
		return errors.EnsureStack(err)
	}
	sum, err := st.MD5()
	if err != nil {
		return err
	}
	if s.matches(ctx, spaceID, st.ID(), sum, st.Size()) {
		chunksMetric.WithLabelValues("skipped").Inc()
		log.Debug(ctx, "chunk already stored", log.Object(st.ID()))
		return nil
	}
	if _, err := spool.Seek(0, io.SeekStart); err != nil {
		return errors.EnsureStack(err)
	}
	if _, err := s.Store.AddContent(ctx, spaceID, st.ID(), spool, st.Size(), st.Mimetype(), sum, nil); err != nil {
		return pacherr.NewNotAdded(spaceID, st.ID(), err)
	}
	chunksMetric.WithLabelValues("uploaded").Inc()
	return nil
}

func (s *Store) addManifest(ctx context.Context, spaceID string, m *manifest.Manifest) error {
	body, err := m.Body()
	if err != nil {
		return err
	}
	if s.matches(ctx, spaceID, m.ID(), body.MD5(), body.Size()) {
		manifestsMetric.WithLabelValues("skipped").Inc()
		log.Debug(ctx, "manifest already stored", log.Object(m.ID()))
		return nil
	}
	if _, err := s.Store.AddContent(ctx, spaceID, m.ID(), body, body.Size(), manifestMimetype, body.MD5(), nil); err != nil {
		return pacherr.NewNotAdded(spaceID, m.ID(), err)
	}
	manifestsMetric.WithLabelValues("uploaded").Inc()
	return nil
}

// matches reports whether contentID is stored with the given checksum and size.
func (s *Store) matches(ctx context.Context, spaceID, contentID, checksum string, size int64) bool {
	props, err := s.Store.GetContentProperties(ctx, spaceID, contentID)
	if err != nil {
		if !pacherr.IsNotExist(err) {
			log.Info(ctx, "could not read stored properties", log.Object(contentID), zap.Error(err))
		}
		return false
	}
	return strings.EqualFold(props.Checksum(), checksum) && props.Size() == size
}

// deleteChunked removes the manifest and every chunk of contentID.  Failures
// are logged.
func (s *Store) deleteChunked(ctx context.Context, spaceID, contentID, reason string) {
	ids, err := s.chunkIDs(ctx, spaceID, contentID)
	if err != nil {
		log.Warn(ctx, "could not list chunks for cleanup", zap.Error(err))
	}
	ids = append(ids, manifest.ID(contentID))
	s.deleteAll(ctx, spaceID, ids, reason)
}

func (s *Store) deleteUnchunked(ctx context.Context, spaceID, contentID string) {
	exists, err := s.Store.ContentExists(ctx, spaceID, contentID)
	if err != nil {
		log.Warn(ctx, "could not check for unchunked content", zap.Error(err))
		return
	}
	if exists {
		s.deleteAll(ctx, spaceID, []string{contentID}, "unchunked")
	}
}

// deleteOrphans removes chunks of the content that m does not reference.
func (s *Store) deleteOrphans(ctx context.Context, spaceID string, m *manifest.Manifest) {
	ids, err := s.chunkIDs(ctx, spaceID, m.Header().SourceContentID)
	if err != nil {
		log.Warn(ctx, "could not list chunks for orphan cleanup", zap.Error(err))
		return
	}
	keep := m.ChunkIDs()
	var orphans []string
	for _, id := range ids {
		if _, ok := keep[id]; !ok {
			orphans = append(orphans, id)
		}
	}
	s.deleteAll(ctx, spaceID, orphans, "orphan")
}

// chunkIDs lists the stored chunks of contentID.
func (s *Store) chunkIDs(ctx context.Context, spaceID, contentID string) ([]string, error) {
	var ids []string
	err := s.Store.ListContents(ctx, spaceID, chunk.Prefix(contentID), func(id string) error {
		if base, _, ok := chunk.ParseID(id); ok && base == contentID {
			ids = append(ids, id)
		}
		return nil
	})
	return ids, err
}

func (s *Store) deleteAll(ctx context.Context, spaceID string, ids []string, reason string) {
	for _, id := range ids {
		exists, err := s.Store.ContentExists(ctx, spaceID, id)
		if err == nil && !exists {
			continue
		}
		if err := s.Store.DeleteContent(ctx, spaceID, id); err != nil {
			log.Warn(ctx, "could not delete during cleanup", log.Object(id), zap.String("reason", reason), zap.Error(err))
			continue
		}
		cleanupMetric.WithLabelValues(reason).Inc()
		log.Debug(ctx, "deleted during cleanup", log.Object(id), zap.String("reason", reason))
	}
}

// DeleteContent deletes contentID, along with its manifest and chunks if it
// was chunked.
func (s *Store) DeleteContent(ctx context.Context, spaceID, contentID string) (retErr error) {
	ctx, end := log.SpanContext(ctx, "deleteContent", log.Space(spaceID), log.Content(contentID))
	defer end(log.Errorp(&retErr))
	if err := s.Store.DeleteContent(ctx, spaceID, contentID); err != nil {
		return err
	}
	if chunk.IsID(contentID) || manifest.IsID(contentID) {
		return nil
	}
	ids, err := s.chunkIDs(ctx, spaceID, contentID)
	if err != nil {
		return err
	}
	for _, id := range append(ids, manifest.ID(contentID)) {
		if err := s.Store.DeleteContent(ctx, spaceID, id); err != nil {
			return err
		}
	}
	return nil
}
