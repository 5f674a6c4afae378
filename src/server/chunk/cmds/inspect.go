package cmds

import (
	"context"
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/dustin/go-humanize"

	"github.com/pachyderm/durachunk/src/internal/chunk/manifest"
	"github.com/pachyderm/durachunk/src/internal/chunk/stitch"
	"github.com/pachyderm/durachunk/src/internal/errors"
)

func inspectManifest(ctx context.Context, st *stitch.Stitcher, spaceID, id string, raw bool, out io.Writer) error {
	m, err := st.GetManifest(ctx, spaceID, manifest.ID(manifest.BaseID(id)))
	if err != nil {
		return err
	}
	if raw {
		data, err := m.Marshal()
		if err != nil {
			return err
		}
		_, err = out.Write(data)
		return errors.EnsureStack(err)
	}
	h := m.Header()
	fmt.Fprintf(out, "Content:  %s\n", h.SourceContentID)
	fmt.Fprintf(out, "Mimetype: %s\n", h.SourceMimetype)
	fmt.Fprintf(out, "Size:     %s (%d bytes)\n", humanize.Bytes(uint64(h.SourceSize)), h.SourceSize)
	fmt.Fprintf(out, "MD5:      %s\n", h.SourceMD5)
	fmt.Fprintf(out, "Chunks:   %d\n\n", m.Len())
	w := tabwriter.NewWriter(out, 0, 8, 2, ' ', 0)
	fmt.Fprintln(w, "INDEX\tID\tSIZE\tMD5")
	for _, e := range m.Entries() {
		fmt.Fprintf(w, "%d\t%s\t%s\t%s\n", e.Index, e.ID, humanize.Bytes(uint64(e.Size)), e.MD5)
	}
	return errors.EnsureStack(w.Flush())
}
