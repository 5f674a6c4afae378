package cmds

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/dustin/go-humanize"
	"go.uber.org/zap"

	"github.com/pachyderm/durachunk/src/internal/chunk/stitch"
	"github.com/pachyderm/durachunk/src/internal/errors"
	"github.com/pachyderm/durachunk/src/internal/log"
	"github.com/pachyderm/durachunk/src/internal/pacherr"
)

// itemFailed reports whether err affects only one item, so the download can
// carry on with the next.
func itemFailed(err error) bool {
	return pacherr.IsChecksumMismatch(err) || pacherr.IsNotExist(err) ||
		pacherr.IsNotChunked(err) || pacherr.IsInvalidManifest(err)
}

// download writes every item of src under dir.
func download(ctx context.Context, src *stitch.Source, dir string, out io.Writer) (retErr error) {
	ctx, end := log.SpanContextL(ctx, "download", log.InfoLevel, zap.String("dir", dir))
	defer end(log.Errorp(&retErr))
	var files int
	var total uint64
	var failed []string
	for {
		item, err := src.NextContentItem(ctx)
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return err
		}
		n, err := downloadItem(ctx, src, item, dir)
		if err != nil {
			if !itemFailed(err) {
				return err
			}
			log.Error(ctx, "download failed", log.Space(item.SpaceID), log.Content(item.ContentID), zap.Error(err))
			fmt.Fprintf(out, "  %s: %v\n", item.ContentID, err)
			failed = append(failed, item.ContentID)
			continue
		}
		files++
		total += uint64(n)
	}
	fmt.Fprintf(out, "%d downloaded (%s), %d failed\n", files, humanize.Bytes(total), len(failed))
	if len(failed) > 0 {
		return errors.Errorf("%d items failed: %s", len(failed), strings.Join(failed, ", "))
	}
	return nil
}

func downloadItem(ctx context.Context, src *stitch.Source, item stitch.Item, dir string) (_ int64, retErr error) {
	rel := filepath.FromSlash(item.ContentID)
	if !filepath.IsLocal(rel) {
		return 0, errors.Errorf("content id %q escapes %s", item.ContentID, dir)
	}
	target := filepath.Join(dir, rel)
	expected, err := src.SourceChecksum(ctx, item)
	if err != nil {
		return 0, err
	}
	c, err := src.SourceContent(ctx, item)
	if err != nil {
		return 0, err
	}
	defer func() { errors.JoinInto(&retErr, errors.EnsureStack(c.Body.Close())) }()
	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return 0, errors.EnsureStack(err)
	}
	f, err := os.CreateTemp(filepath.Dir(target), ".download-*")
	if err != nil {
		return 0, errors.EnsureStack(err)
	}
	defer func() {
		if retErr != nil {
			errors.JoinInto(&retErr, errors.EnsureStack(os.Remove(f.Name())))
		}
	}()
	h := md5.New()
	n, err := io.Copy(io.MultiWriter(f, h), c.Body)
	if err := errors.Join(errors.EnsureStack(err), errors.EnsureStack(f.Close())); err != nil {
		return 0, err
	}
	if sum := hex.EncodeToString(h.Sum(nil)); !strings.EqualFold(sum, expected) {
		return 0, pacherr.NewChecksumMismatch(item.ContentID, expected, sum)
	}
	if err := os.Rename(f.Name(), target); err != nil {
		return 0, errors.EnsureStack(err)
	}
	log.Debug(ctx, "downloaded content", log.Content(item.ContentID), zap.Bool("stitched", c.Manifest != nil))
	return n, nil
}
