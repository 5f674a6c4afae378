// Package writer persists chunked content.
//
// A Writer writes every chunk of a chunk.Content followed by its manifest,
// and keeps one Result per item it was asked to handle.  StoreWriter writes
// to a store.Store and FSWriter writes to a local directory.  Both are safe
// for use by several upload workers at once.
package writer

import (
	"context"
	"io"
	"strings"
	"sync"

	"github.com/pachyderm/durachunk/src/internal/chunk"
	"github.com/pachyderm/durachunk/src/internal/chunk/manifest"
	"github.com/pachyderm/durachunk/src/internal/errors"
	"github.com/pachyderm/durachunk/src/internal/log"
	"github.com/pachyderm/durachunk/src/internal/pacherr"
)

// ChecksumNotFound is the checksum of a Result that has none yet.
const ChecksumNotFound = "not-found"

// State is the outcome of one item.
type State int

const (
	StateUnknown State = iota
	StateSuccess
	StateError
	StateIgnored
)

func (s State) String() string {
	switch s {
	case StateSuccess:
		return "SUCCESS"
	case StateError:
		return "ERROR"
	case StateIgnored:
		return "IGNORED"
	default:
		return "UNKNOWN"
	}
}

// Result is the outcome of writing, or ignoring, one chunk, manifest or
// whole object.
type Result struct {
	SpaceID   string
	ContentID string
	Checksum  string
	Size      int64
	State     State
	Err       error
}

func newResult(spaceID, contentID string, size int64) Result {
	return Result{
		SpaceID:   spaceID,
		ContentID: contentID,
		Checksum:  ChecksumNotFound,
		Size:      size,
		State:     StateUnknown,
	}
}

// Writer writes chunked content to a destination: a space for StoreWriter,
// a directory for FSWriter.
type Writer interface {
	// Write writes every chunk of c and then its manifest, which it returns.
	Write(ctx context.Context, dest string, c *chunk.Content) (*manifest.Manifest, error)
	// WriteSingle writes one stream and returns its MD5.  If checksum is
	// non-empty and s preserves MD5s, checksum must match the stream.
	WriteSingle(ctx context.Context, dest, checksum string, s *chunk.Stream) (string, error)
	// Ignore records that an item was skipped without writing it.
	Ignore(ctx context.Context, dest, contentID string, size int64)
	// Results returns every result recorded so far, oldest first.
	Results() []Result
}

// resultList only grows.
type resultList struct {
	mu      sync.Mutex
	results []Result
}

func (l *resultList) add(r Result) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.results = append(l.results, r)
}

func (l *resultList) all() []Result {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]Result(nil), l.results...)
}

func (l *resultList) ignore(ctx context.Context, dest, contentID string, size int64) {
	r := newResult(dest, contentID, size)
	r.State = StateIgnored
	l.add(r)
	log.Info(ctx, "ignored content", log.Space(dest), log.Content(contentID))
}

// Counts tallies results by state.
func Counts(results []Result) map[State]int {
	counts := make(map[State]int)
	for _, r := range results {
		counts[r.State]++
	}
	return counts
}

// singleFunc writes one stream and returns its result.  A non-nil error
// means the whole write must stop.
type singleFunc func(ctx context.Context, dest, checksum string, s *chunk.Stream) (Result, error)

// manifestFunc writes a sealed manifest.
type manifestFunc func(ctx context.Context, dest string, m *manifest.Manifest) (Result, error)

// writeContent drives c through single and then writes its manifest with
// putManifest.  The manifest is not written if any chunk failed.
func writeContent(ctx context.Context, dest string, c *chunk.Content, results *resultList, single singleFunc, putManifest manifestFunc) (_ *manifest.Manifest, retErr error) {
	ctx, end := log.SpanContext(ctx, "writeContent", log.Space(dest), log.Content(c.ContentID()))
	defer end(log.Errorp(&retErr))
	var failed int
	for {
		s, err := c.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, err
		}
		r, err := single(ctx, dest, "", s)
		if err != nil {
			return nil, err
		}
		if r.State != StateSuccess {
			failed++
		}
	}
	m, err := c.Finalize()
	if err != nil {
		return nil, err
	}
	if failed > 0 {
		r := newResult(dest, m.ID(), 0)
		r.State = StateError
		r.Err = errors.Errorf("%d of %d chunks failed", failed, m.Len())
		results.add(r)
		log.Warn(ctx, "not writing manifest", log.Object(m.ID()))
		return m, nil
	}
	if _, err := putManifest(ctx, dest, m); err != nil {
		return nil, err
	}
	return m, nil
}

// finishStream reads whatever the stream has left and closes it, so that
// iteration can continue after a failed write.
func finishStream(s *chunk.Stream) error {
	if _, err := io.Copy(io.Discard, s); err != nil {
		return err
	}
	return s.Close()
}

// checkPreserved compares a caller supplied checksum with the stream's own.
func checkPreserved(s *chunk.Stream, checksum, actual string) error {
	if checksum == "" || !s.PreserveMD5() || strings.EqualFold(checksum, actual) {
		return nil
	}
	return pacherr.NewChecksumMismatch(s.ID(), checksum, actual)
}
