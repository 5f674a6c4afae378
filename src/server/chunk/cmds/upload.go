package cmds

import (
	"context"
	"fmt"
	"io"
	"io/fs"
	"mime"
	"os"
	"path"
	"path/filepath"

	"github.com/dustin/go-humanize"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/pachyderm/durachunk/src/internal/chunk"
	"github.com/pachyderm/durachunk/src/internal/chunk/chunkstore"
	"github.com/pachyderm/durachunk/src/internal/chunk/writer"
	"github.com/pachyderm/durachunk/src/internal/errors"
	"github.com/pachyderm/durachunk/src/internal/log"
	"github.com/pachyderm/durachunk/src/internal/store"
)

type uploadJob struct {
	path      string
	contentID string
}

// collectUploads expands paths into files.  A file is uploaded under its base
// name; files inside a directory are uploaded under their slash separated
// path relative to it.
func collectUploads(paths []string, filter *chunk.Filter) ([]uploadJob, error) {
	var jobs []uploadJob
	for _, p := range paths {
		info, err := os.Stat(p)
		if err != nil {
			return nil, errors.EnsureStack(err)
		}
		if !info.IsDir() {
			jobs = append(jobs, uploadJob{path: p, contentID: filepath.Base(p)})
			continue
		}
		if err := filepath.WalkDir(p, func(file string, d fs.DirEntry, err error) error {
			if err != nil {
				return err
			}
			rel, err := filepath.Rel(p, file)
			if err != nil {
				return errors.EnsureStack(err)
			}
			rel = filepath.ToSlash(rel)
			if d.IsDir() {
				if rel != "." && !filter.IncludeDir(rel) {
					return filepath.SkipDir
				}
				return nil
			}
			if d.Type().IsRegular() && filter.IncludeFile(rel) {
				jobs = append(jobs, uploadJob{path: file, contentID: rel})
			}
			return nil
		}); err != nil {
			return nil, errors.EnsureStack(err)
		}
	}
	return jobs, nil
}

// uploadFiles writes every job through w, concurrency at a time.  Failures
// that w records do not stop the other uploads.  If cleaner is non-nil, each
// complete upload is followed by removing what an earlier upload of the same
// content left in the other layout, chunked or whole.
func uploadFiles(ctx context.Context, w writer.Writer, cleaner *chunkstore.Store, dest string, jobs []uploadJob, opts *chunk.Options, concurrency int) error {
	eg, ctx := errgroup.WithContext(ctx)
	eg.SetLimit(concurrency)
	for _, job := range jobs {
		job := job
		eg.Go(func() error {
			return uploadFile(ctx, w, cleaner, dest, job, opts)
		})
	}
	return errors.EnsureStack(eg.Wait())
}

func mimetypeOf(p string) string {
	if t := mime.TypeByExtension(path.Ext(p)); t != "" {
		return t
	}
	return store.DefaultMimetype
}

func uploadFile(ctx context.Context, w writer.Writer, cleaner *chunkstore.Store, dest string, job uploadJob, opts *chunk.Options) (retErr error) {
	defer log.Span(ctx, "uploadFile", zap.String("path", job.path))(log.Errorp(&retErr))
	f, err := os.Open(job.path)
	if err != nil {
		return errors.EnsureStack(err)
	}
	defer func() { errors.JoinInto(&retErr, errors.EnsureStack(f.Close())) }()
	info, err := f.Stat()
	if err != nil {
		return errors.EnsureStack(err)
	}
	size := info.Size()
	mimetype := mimetypeOf(job.contentID)
	if !opts.NeedsChunking(size) {
		s, err := chunk.Whole(job.contentID, mimetype, f, size, opts)
		if err != nil {
			return err
		}
		sum, err := w.WriteSingle(ctx, dest, "", s)
		if err != nil || sum == "" || cleaner == nil {
			return err
		}
		return cleaner.Reconcile(ctx, dest, job.contentID, nil)
	}
	if opts.IgnoreLargeFiles() {
		w.Ignore(ctx, dest, job.contentID, size)
		return nil
	}
	c, err := chunk.NewContent(job.contentID, mimetype, f, size, opts)
	if err != nil {
		return err
	}
	m, err := w.Write(ctx, dest, c)
	if err != nil {
		return err
	}
	log.Info(ctx, "uploaded chunked content", log.Content(job.contentID), log.Space(dest), zap.Int("chunks", m.Len()))
	if cleaner == nil {
		return nil
	}
	return cleaner.Reconcile(ctx, dest, job.contentID, m)
}

func report(out io.Writer, results []writer.Result) {
	counts := writer.Counts(results)
	var total uint64
	for _, r := range results {
		if r.State == writer.StateSuccess {
			total += uint64(r.Size)
		}
	}
	fmt.Fprintf(out, "%d succeeded (%s), %d failed, %d ignored\n",
		counts[writer.StateSuccess], humanize.Bytes(total), counts[writer.StateError], counts[writer.StateIgnored])
	for _, r := range results {
		if r.State == writer.StateError {
			fmt.Fprintf(out, "  %s: %v\n", r.ContentID, r.Err)
		}
	}
}
