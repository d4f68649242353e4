package main

import (
	"fmt"
	"io"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/shaban/fxhost/host"
	"github.com/shaban/fxhost/internal/api"
)

func newServeCmd() *cobra.Command {
	var (
		addr    string
		noWatch bool
	)
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the HTTP API and watch search paths until interrupted",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if addr != "" {
				cfg.API.Addr = addr
			}
			cfg.Scan.Watch = !noWatch

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			return withHost(cmd, func(h *host.Host, out io.Writer) error {
				srv := api.NewServer(h.API(), h.Logger(), cfg.API.Addr)
				if err := srv.Start(); err != nil {
					return err
				}
				fmt.Fprintf(out, "listening on %s\n", srv.Addr())

				<-ctx.Done()
				h.Logger().Info("Shutting down", zap.Error(ctx.Err()))
				return srv.Stop()
			})
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "listen address (default from config)")
	cmd.Flags().BoolVar(&noWatch, "no-watch", false, "do not rescan when search paths change")
	return cmd
}
