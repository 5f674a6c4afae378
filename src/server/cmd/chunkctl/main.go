package main

import (
	"os"

	"github.com/spf13/cobra"

	"github.com/pachyderm/durachunk/src/internal/chunkconfig"
	"github.com/pachyderm/durachunk/src/internal/cmdutil"
	"github.com/pachyderm/durachunk/src/internal/log"
	"github.com/pachyderm/durachunk/src/internal/pctx"
	chunkcmds "github.com/pachyderm/durachunk/src/server/chunk/cmds"
)

func main() {
	config := &chunkconfig.Configuration{}
	var configFile string
	flush := func() {}
	root := &cobra.Command{
		Use:          os.Args[0],
		Short:        "Upload, download and inspect chunked content.",
		Long:         "Upload, download and inspect chunked content.  Settings are read from the environment, then from --config.",
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			loaded, err := chunkconfig.New(cmdutil.YAMLFileDecoder{Path: configFile})
			if err != nil {
				return err
			}
			*config = *loaded
			if flush, err = log.InitLogger(config.LogLevel); err != nil {
				return err
			}
			cmd.SetContext(pctx.Background("chunkctl"))
			return nil
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			flush()
		},
	}
	root.PersistentFlags().StringVar(&configFile, "config", "chunkctl.yaml", "YAML file of KEY: value settings, used for keys not set in the environment.")
	root.PersistentFlags().BoolVar(&cmdutil.PrintErrorStacks, "stacks", false, "Print stack traces with errors.")
	root.AddCommand(chunkcmds.Cmds(config)...)
	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}
