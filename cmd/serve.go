package cmd

import (
	"os/signal"
	"syscall"

	"nendo/core/nendo"
	"nendo/server"

	"github.com/spf13/cobra"
)

var serveAddr string

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP API server",
	Long:  `Serve the library over HTTP: track and collection endpoints, plugin runs, a websocket track stream and Prometheus metrics.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		addr := cfg.ServerAddr
		if serveAddr != "" {
			addr = serveAddr
		}
		return withNendo(ctx, func(n *nendo.Nendo) error {
			s, err := server.New(n)
			if err != nil {
				return err
			}
			defer s.Close()
			return s.Run(ctx, addr)
		})
	},
}

func init() {
	serveCmd.Flags().StringVarP(&serveAddr, "addr", "a", "", "listen address, overrides NENDO_SERVER_ADDR")
	rootCmd.AddCommand(serveCmd)
}
