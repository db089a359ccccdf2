package main

import (
	"fmt"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/1ureka/consultrelay/internal/registry"
	"github.com/1ureka/consultrelay/internal/relay"
	"github.com/1ureka/consultrelay/internal/server"
	"github.com/1ureka/consultrelay/internal/transcript"
	"github.com/1ureka/consultrelay/internal/util"
)

func newServeCmd(opts *options) *cobra.Command {
	var (
		addr      string
		backend   string
		storePath string
		lazy      bool
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the signaling relay",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := opts.cfg
			if cmd.Flags().Changed("addr") {
				cfg.HTTP.Addr = addr
			}
			if cmd.Flags().Changed("store") {
				cfg.Store.Backend = backend
			}
			if cmd.Flags().Changed("store-path") {
				cfg.Store.Path = storePath
			}
			if lazy {
				cfg.Relay.EagerStart = false
			}

			store, err := transcript.Open(cfg.Store)
			if err != nil {
				return err
			}
			defer store.Close()

			r := relay.New(cfg.Relay, registry.New[*relay.Peer](), store)
			if cfg.Relay.EagerStart {
				r.Start()
			}

			srv, err := server.New(cfg.HTTP, r, store)
			if err != nil {
				return err
			}

			pterm.Info.Println(fmt.Sprintf("Consultrelay v%s", version))
			util.LogInfo("transcript store ready", "backend", cfg.Store.Backend, "path", cfg.Store.Path)

			g, ctx := errgroup.WithContext(cmd.Context())
			g.Go(func() error {
				return srv.Run(ctx)
			})
			g.Go(func() error {
				util.ReportStats(ctx, cfg.Stats.Interval)
				return nil
			})
			return g.Wait()
		},
	}

	cmd.Flags().StringVar(&addr, "addr", "", "Listen address (overrides http.addr)")
	cmd.Flags().StringVar(&backend, "store", "", "Transcript backend: file or sqlite")
	cmd.Flags().StringVar(&storePath, "store-path", "", "Transcript document or database path")
	cmd.Flags().BoolVar(&lazy, "lazy", false, "Wait for GET /api/socket before accepting websocket connections")
	return cmd
}
