package main

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"

	"peerreads/pkg/gateway"
)

func newServeCmd() *cobra.Command {
	var addr string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Expose the session and lending actions as a local HTTP API",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a := appFrom(cmd)
			if cmd.Flags().Changed("addr") {
				a.cfg.GatewayAddr = addr
			}
			if os.Getenv(gin.EnvGinMode) == "" {
				gin.SetMode(gin.ReleaseMode)
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			router := gateway.NewRouter(a.svc, a.registry, a.log)
			return gateway.Serve(ctx, a.cfg.GatewayAddr, router, a.log)
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "listen address (overrides PEERREADS_GATEWAY_ADDR)")
	return cmd
}
