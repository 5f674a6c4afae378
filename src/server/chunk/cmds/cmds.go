// Package cmds contains the chunkctl commands.
package cmds

import (
	"context"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/pachyderm/durachunk/src/internal/chunk/chunkstore"
	"github.com/pachyderm/durachunk/src/internal/chunk/stitch"
	"github.com/pachyderm/durachunk/src/internal/chunk/writer"
	"github.com/pachyderm/durachunk/src/internal/chunkconfig"
	"github.com/pachyderm/durachunk/src/internal/cmdutil"
	"github.com/pachyderm/durachunk/src/internal/errors"
	"github.com/pachyderm/durachunk/src/internal/pctx"
	"github.com/pachyderm/durachunk/src/internal/store"
)

func withStore(ctx context.Context, config *chunkconfig.Configuration, f func(s store.Store) error) (retErr error) {
	s, closeStore, err := config.OpenStore(ctx)
	if err != nil {
		return err
	}
	defer func() { errors.JoinInto(&retErr, errors.EnsureStack(closeStore())) }()
	return f(s)
}

func joinPatterns(patterns string, extra []string) string {
	if len(extra) == 0 {
		return patterns
	}
	if patterns == "" {
		return strings.Join(extra, ",")
	}
	return patterns + "," + strings.Join(extra, ",")
}

// Cmds returns the chunk commands.  config must be populated before any of
// them runs.
func Cmds(config *chunkconfig.Configuration) []*cobra.Command {
	var commands []*cobra.Command

	var toDir string
	var include, exclude cmdutil.RepeatedStringArg
	upload := &cobra.Command{
		Use:   "upload <space> <path>...",
		Short: "Upload files, chunking those larger than the maximum chunk size.",
		Long: "Upload files and directories to a space.  Files larger than CHUNK_MAX_SIZE are split into chunks " +
			"described by a manifest, or skipped when CHUNK_IGNORE_LARGE_FILES is set.  Directories are walked " +
			"with the CHUNK_INCLUDE and CHUNK_EXCLUDE filters.",
		Run: cmdutil.RunBoundedArgs(2, 1<<16, func(cmd *cobra.Command, args []string) error {
			ctx := pctx.Child(cmd.Context(), "upload")
			config.ChunkInclude = joinPatterns(config.ChunkInclude, include)
			config.ChunkExclude = joinPatterns(config.ChunkExclude, exclude)
			opts, err := config.ChunkOptions()
			if err != nil {
				return err
			}
			jobs, err := collectUploads(args[1:], opts.Filter())
			if err != nil {
				return err
			}
			if toDir != "" {
				w := writer.NewFSWriter()
				err := uploadFiles(ctx, w, nil, toDir, jobs, opts, config.UploadConcurrency())
				report(cmd.OutOrStdout(), w.Results())
				return err
			}
			return withStore(ctx, config, func(s store.Store) error {
				w := writer.NewStoreWriter(s, config.WriterOptions()...)
				err := uploadFiles(ctx, w, chunkstore.New(s, opts), args[0], jobs, opts, config.UploadConcurrency())
				report(cmd.OutOrStdout(), w.Results())
				return err
			})
		}),
	}
	upload.Flags().Var(&include, "include", "Only upload files matching this glob; may be repeated.  Added to CHUNK_INCLUDE.")
	upload.Flags().Var(&exclude, "exclude", "Skip files and directories matching this glob; may be repeated.  Added to CHUNK_EXCLUDE.")
	upload.Flags().StringVar(&toDir, "to-dir", "", "Write chunks under this local directory instead of the store; the space argument is ignored.")
	commands = append(commands, upload)

	download := &cobra.Command{
		Use:   "download <space> <dir>",
		Short: "Download a space, stitching chunked content back together.",
		Long: "Download every item of a space into a local directory.  Chunked content is reassembled from its " +
			"manifest and each file is checked against its source MD5.",
		Run: cmdutil.RunFixedArgs(2, func(cmd *cobra.Command, args []string) error {
			ctx := pctx.Child(cmd.Context(), "download")
			return withStore(ctx, config, func(s store.Store) error {
				src := stitch.NewSource(s, stitch.New(s, config.StitchOptions()...), []string{args[0]})
				return download(ctx, src, args[1], cmd.OutOrStdout())
			})
		}),
	}
	commands = append(commands, download)

	var raw bool
	inspect := &cobra.Command{
		Use:   "inspect <space> <id>",
		Short: "Print the manifest of chunked content.",
		Long:  "Print the manifest of chunked content.  id may be the content id or the manifest id.",
		Run: cmdutil.RunFixedArgs(2, func(cmd *cobra.Command, args []string) error {
			ctx := pctx.Child(cmd.Context(), "inspect")
			return withStore(ctx, config, func(s store.Store) error {
				return inspectManifest(ctx, stitch.New(s, stitch.WithCacheSize(0)), args[0], args[1], raw, cmd.OutOrStdout())
			})
		}),
	}
	inspect.Flags().BoolVar(&raw, "raw", false, "Print the manifest XML as stored.")
	commands = append(commands, inspect)

	del := &cobra.Command{
		Use:   "delete <space:id>...",
		Short: "Delete content together with its chunks and manifest.",
		Long:  "Delete content together with its chunks and manifest.  Deleting content that does not exist is not an error.",
		Run: cmdutil.RunBoundedArgs(1, 1<<16, func(cmd *cobra.Command, args []string) error {
			ctx := pctx.Child(cmd.Context(), "delete")
			var locations []cmdutil.Location
			for _, arg := range args {
				l, err := cmdutil.ParseLocation(arg)
				if err != nil {
					return err
				}
				locations = append(locations, l)
			}
			opts, err := config.ChunkOptions()
			if err != nil {
				return err
			}
			return withStore(ctx, config, func(s store.Store) error {
				cs := chunkstore.New(s, opts)
				for _, l := range locations {
					if err := cs.DeleteContent(ctx, l.SpaceID, l.ContentID); err != nil {
						return errors.Wrapf(err, "delete %v", l)
					}
					fmt.Fprintf(cmd.OutOrStdout(), "deleted %v\n", l)
				}
				return nil
			})
		}),
	}
	commands = append(commands, del)

	return commands
}
