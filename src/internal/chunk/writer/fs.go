package writer

import (
	"bufio"
	"context"
	"os"
	"path/filepath"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/pachyderm/durachunk/src/internal/chunk"
	"github.com/pachyderm/durachunk/src/internal/chunk/manifest"
	"github.com/pachyderm/durachunk/src/internal/errors"
	"github.com/pachyderm/durachunk/src/internal/log"
	"github.com/pachyderm/durachunk/src/internal/pacherr"
)

const (
	// LargeCopyThreshold is the size above which streams are copied through
	// a large write buffer.
	LargeCopyThreshold = 2_000_000_000

	largeCopyBufferSize = 4 << 20
)

var _ Writer = &FSWriter{}

// FSWriter writes items as files under a destination directory, one file
// per id.  Ids containing slashes become subdirectories.
type FSWriter struct {
	results resultList
}

// NewFSWriter returns an FSWriter.
func NewFSWriter() *FSWriter {
	return &FSWriter{}
}

// Write implements Writer.
func (w *FSWriter) Write(ctx context.Context, dir string, c *chunk.Content) (*manifest.Manifest, error) {
	return writeContent(ctx, dir, c, &w.results, w.writeSingle, w.writeManifest)
}

// WriteSingle implements Writer.  A supplied checksum that does not match
// leaves the file written and records an ERROR result.
func (w *FSWriter) WriteSingle(ctx context.Context, dir, checksum string, s *chunk.Stream) (_ string, retErr error) {
	ctx, end := log.SpanContext(ctx, "writeSingle", log.Space(dir), log.Content(s.ID()))
	defer end(log.Errorp(&retErr))
	r, err := w.writeSingle(ctx, dir, checksum, s)
	if err != nil {
		return "", err
	}
	return r.Checksum, nil
}

func (w *FSWriter) writeSingle(ctx context.Context, dir, checksum string, s *chunk.Stream) (Result, error) {
	r := newResult(dir, s.ID(), s.Size())
	if err := writeFile(dir, s.ID(), func(f *os.File) error {
		if s.Size() > LargeCopyThreshold {
			bw := bufio.NewWriterSize(f, largeCopyBufferSize)
			if _, err := s.WriteTo(bw); err != nil {
				return err
			}
			return errors.EnsureStack(bw.Flush())
		}
		_, err := s.WriteTo(f)
		return err
	}); err != nil {
		err = pacherr.NewNotAdded(dir, s.ID(), err)
		r.State = StateError
		r.Err = err
		w.results.add(r)
		return r, err
	}
	actual, err := s.MD5()
	if err != nil {
		return r, err
	}
	if err := s.Close(); err != nil {
		return r, errors.EnsureStack(err)
	}
	r.Checksum = actual
	r.State = StateSuccess
	if err := checkPreserved(s, checksum, actual); err != nil {
		r.State = StateError
		r.Err = err
		log.Error(ctx, "checksum does not match", log.Object(s.ID()), zap.Error(err))
	}
	w.results.add(r)
	return r, nil
}

func (w *FSWriter) writeManifest(ctx context.Context, dir string, m *manifest.Manifest) (Result, error) {
	body, err := m.Body()
	if err != nil {
		return Result{}, err
	}
	r := newResult(dir, m.ID(), body.Size())
	if err := writeFile(dir, m.ID(), func(f *os.File) error {
		_, err := body.WriteTo(f)
		return errors.EnsureStack(err)
	}); err != nil {
		err = pacherr.NewNotAdded(dir, m.ID(), err)
		r.State = StateError
		r.Err = err
		w.results.add(r)
		return r, err
	}
	r.Checksum = body.MD5()
	r.State = StateSuccess
	w.results.add(r)
	log.Debug(ctx, "wrote manifest", log.Object(m.ID()))
	return r, nil
}

// writeFile writes id under dir through a staging file, so a failed write
// never leaves a partial file behind.  Ids that would resolve outside dir are
// refused.
func writeFile(dir, id string, write func(f *os.File) error) (retErr error) {
	rel := filepath.FromSlash(id)
	if !filepath.IsLocal(rel) {
		return errors.Errorf("content id %q escapes the destination directory", id)
	}
	path := filepath.Join(dir, rel)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return errors.EnsureStack(err)
	}
	staging := filepath.Join(filepath.Dir(path), ".staging-"+uuid.NewString())
	f, err := os.Create(staging)
	if err != nil {
		return errors.EnsureStack(err)
	}
	defer func() {
		if retErr != nil {
			os.Remove(staging) //nolint:errcheck
		}
	}()
	if err := write(f); err != nil {
		f.Close() //nolint:errcheck
		return err
	}
	if err := f.Close(); err != nil {
		return errors.EnsureStack(err)
	}
	return errors.EnsureStack(os.Rename(staging, path))
}

// Ignore implements Writer.
func (w *FSWriter) Ignore(ctx context.Context, dir, contentID string, size int64) {
	w.results.ignore(ctx, dir, contentID, size)
}

// Results implements Writer.
func (w *FSWriter) Results() []Result {
	return w.results.all()
}
