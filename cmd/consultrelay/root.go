package main

import (
	"github.com/spf13/cobra"

	"github.com/1ureka/consultrelay/internal/config"
	"github.com/1ureka/consultrelay/internal/util"
)

// options is shared by every subcommand. cfg is filled in before RunE.
type options struct {
	configPath string
	debug      bool
	cfg        *config.Config
}

func newRootCmd() *cobra.Command {
	opts := &options{}

	root := &cobra.Command{
		Use:           "consultrelay",
		Short:         "Signaling relay and peer for two-party video consultations",
		Long:          "consultrelay pairs a patient and a doctor in a named room, relays their WebRTC handshake, and keeps a transcript of the chat exchanged during the call.",
		Version:       version,
		SilenceErrors: true,
		SilenceUsage:  true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(config.ResolvePath(opts.configPath))
			if err != nil {
				return err
			}
			if opts.debug {
				cfg.Debug = true
			}
			if cfg.Debug {
				util.EnableDebug()
			}
			opts.cfg = cfg
			return nil
		},
	}

	root.PersistentFlags().StringVar(&opts.configPath, "config", "", "Path to a YAML config file")
	root.PersistentFlags().BoolVar(&opts.debug, "debug", false, "Enable debug logging")

	root.AddCommand(newServeCmd(opts), newJoinCmd(opts))
	return root
}
