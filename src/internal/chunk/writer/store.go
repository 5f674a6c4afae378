package writer

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/pachyderm/durachunk/src/internal/chunk"
	"github.com/pachyderm/durachunk/src/internal/chunk/manifest"
	"github.com/pachyderm/durachunk/src/internal/errors"
	"github.com/pachyderm/durachunk/src/internal/log"
	"github.com/pachyderm/durachunk/src/internal/pacherr"
	"github.com/pachyderm/durachunk/src/internal/store"
)

const (
	// DefaultSpaceRetries is how many times a new space is polled for.
	DefaultSpaceRetries = 10
	// DefaultSpaceRetryDelay is the wait between polls.
	DefaultSpaceRetryDelay = 3 * time.Second

	manifestMimetype = "application/xml"
)

var _ Writer = &StoreWriter{}

// StoreWriter writes to spaces of a store.Store, creating each space the
// first time it is written to.
type StoreWriter struct {
	store      store.Store
	failFast   bool
	retries    int
	retryDelay time.Duration

	mu     sync.Mutex
	spaces map[string]struct{}
	sf     singleflight.Group

	results resultList
}

// StoreOption configures a StoreWriter.
type StoreOption func(w *StoreWriter)

// WithFailFast makes the first failed write abort the whole Write with a
// not-added error.  Without it a failure is recorded as an ERROR result and
// writing continues.
func WithFailFast() StoreOption {
	return func(w *StoreWriter) {
		w.failFast = true
	}
}

// WithSpaceRetries sets how many times, and how often, a space is polled for
// after creating it.  The space is always checked at least once.
func WithSpaceRetries(retries int, delay time.Duration) StoreOption {
	return func(w *StoreWriter) {
		w.retries = max(retries, 1)
		w.retryDelay = delay
	}
}

// NewStoreWriter returns a StoreWriter over s.
func NewStoreWriter(s store.Store, opts ...StoreOption) *StoreWriter {
	w := &StoreWriter{
		store:      s,
		retries:    DefaultSpaceRetries,
		retryDelay: DefaultSpaceRetryDelay,
		spaces:     make(map[string]struct{}),
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

func (w *StoreWriter) knownSpace(spaceID string) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	_, ok := w.spaces[spaceID]
	return ok
}

// ensureSpace creates spaceID once per writer and waits for it to appear.
// Concurrent callers for the same space share one attempt.  It is always
// called under a span naming the space.
func (w *StoreWriter) ensureSpace(ctx context.Context, spaceID string) error {
	if w.knownSpace(spaceID) {
		return nil
	}
	_, err, _ := w.sf.Do(spaceID, func() (any, error) {
		if w.knownSpace(spaceID) {
			return nil, nil
		}
		if err := w.store.CreateSpace(ctx, spaceID); err != nil {
			log.Info(ctx, "could not create space; waiting for it to exist", zap.Error(err))
		}
		for i := 0; i < w.retries; i++ {
			exists, err := w.store.SpaceExists(ctx, spaceID)
			if err == nil && exists {
				w.mu.Lock()
				w.spaces[spaceID] = struct{}{}
				w.mu.Unlock()
				return nil, nil
			}
			log.Debug(ctx, "space does not exist yet", log.RetryAttempt(i, w.retries), zap.Error(err))
			if i == w.retries-1 {
				break
			}
			select {
			case <-ctx.Done():
				return nil, errors.EnsureStack(context.Cause(ctx))
			case <-time.After(w.retryDelay):
			}
		}
		return nil, pacherr.NewNotExist("spaces", spaceID)
	})
	return err //nolint:wrapcheck
}

// Write implements Writer.  The space is waited for at most once per call;
// once that fails every remaining item fails with the same error.
func (w *StoreWriter) Write(ctx context.Context, spaceID string, c *chunk.Content) (*manifest.Manifest, error) {
	var (
		once     sync.Once
		spaceErr error
	)
	space := func(ctx context.Context) error {
		once.Do(func() { spaceErr = w.ensureSpace(ctx, spaceID) })
		return spaceErr
	}
	single := func(ctx context.Context, spaceID, checksum string, s *chunk.Stream) (Result, error) {
		return w.writeSingle(ctx, spaceID, checksum, s, space)
	}
	putManifest := func(ctx context.Context, spaceID string, m *manifest.Manifest) (Result, error) {
		return w.writeManifest(ctx, spaceID, m, space)
	}
	return writeContent(ctx, spaceID, c, &w.results, single, putManifest)
}

// WriteSingle implements Writer.  In fail-fast mode a failure is returned as
// a not-added error; otherwise it is recorded and the returned checksum is empty.
func (w *StoreWriter) WriteSingle(ctx context.Context, spaceID, checksum string, s *chunk.Stream) (_ string, retErr error) {
	ctx, end := log.SpanContext(ctx, "writeSingle", log.Space(spaceID), log.Content(s.ID()))
	defer end(log.Errorp(&retErr))
	r, err := w.writeSingle(ctx, spaceID, checksum, s, func(ctx context.Context) error { return w.ensureSpace(ctx, spaceID) })
	if err != nil {
		return "", err
	}
	if r.State != StateSuccess {
		return "", nil
	}
	return r.Checksum, nil
}

func (w *StoreWriter) writeSingle(ctx context.Context, spaceID, checksum string, s *chunk.Stream, space func(context.Context) error) (Result, error) {
	r := newResult(spaceID, s.ID(), s.Size())
	err := func() error {
		if err := space(ctx); err != nil {
			return err
		}
		expected := ""
		if s.PreserveMD5() {
			expected = checksum
		}
		stored, err := w.store.AddContent(ctx, spaceID, s.ID(), s, s.Size(), s.Mimetype(), expected, nil)
		if err != nil {
			return err
		}
		actual, err := s.MD5()
		if err != nil {
			return err
		}
		if stored != actual {
			return pacherr.NewChecksumMismatch(s.ID(), actual, stored)
		}
		r.Checksum = actual
		return errors.EnsureStack(s.Close())
	}()
	return w.record(ctx, r, err, func() error { return finishStream(s) })
}

func (w *StoreWriter) writeManifest(ctx context.Context, spaceID string, m *manifest.Manifest, space func(context.Context) error) (Result, error) {
	body, err := m.Body()
	if err != nil {
		return Result{}, err
	}
	r := newResult(spaceID, m.ID(), body.Size())
	err = func() error {
		if err := space(ctx); err != nil {
			return err
		}
		stored, err := w.store.AddContent(ctx, spaceID, m.ID(), body, body.Size(), manifestMimetype, body.MD5(), nil)
		r.Checksum = stored
		return err
	}()
	return w.record(ctx, r, err, nil)
}

// record stores the outcome of one write.  On failure in tolerant mode it
// runs resume so the caller can carry on.  The enclosing span names the space
// and content.
func (w *StoreWriter) record(ctx context.Context, r Result, err error, resume func() error) (Result, error) {
	if err == nil {
		r.State = StateSuccess
		w.results.add(r)
		log.Debug(ctx, "wrote object", log.Object(r.ContentID), zap.Int64("size", r.Size))
		return r, nil
	}
	err = pacherr.NewNotAdded(r.SpaceID, r.ContentID, err)
	r.State = StateError
	r.Checksum = ChecksumNotFound
	r.Err = err
	w.results.add(r)
	if w.failFast {
		return r, err
	}
	log.Error(ctx, "failed to write object", log.Object(r.ContentID), zap.Error(err))
	if resume != nil {
		if rerr := resume(); rerr != nil {
			return r, rerr
		}
	}
	return r, nil
}

// Ignore implements Writer.
func (w *StoreWriter) Ignore(ctx context.Context, spaceID, contentID string, size int64) {
	w.results.ignore(ctx, spaceID, contentID, size)
}

// Results implements Writer.
func (w *StoreWriter) Results() []Result {
	return w.results.all()
}
