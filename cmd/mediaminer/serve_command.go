package main

import (
	"strings"

	"github.com/spf13/cobra"

	"mediaminer/internal/server"
)

func newServeCommand(ctx *commandContext) *cobra.Command {
	var bind string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the dispatcher over HTTP until interrupted",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			logger, err := ctx.logger()
			if err != nil {
				return err
			}
			d, err := ctx.dispatcher()
			if err != nil {
				return err
			}

			srv, err := server.New(d,
				server.WithLogger(logger),
				server.WithToken(cfg.Server.Token),
				server.WithDefaults(cfg.Dispatch.DefaultMaxTokens, cfg.Dispatch.DefaultTemperature),
			)
			if err != nil {
				return err
			}

			address := strings.TrimSpace(bind)
			if address == "" {
				address = cfg.Server.Bind
			}
			return srv.ListenAndServe(cmd.Context(), address)
		},
	}

	cmd.Flags().StringVar(&bind, "bind", "", "Listen address (default server.bind)")
	return cmd
}
