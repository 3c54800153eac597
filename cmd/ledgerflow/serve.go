package main

import (
	"context"
	"os/signal"
	"syscall"

	"ledgerflow/internal/engine"

	"github.com/spf13/cobra"
)

func serveCmd() *cobra.Command {
	var specPath string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the handlers and responders named in a service spec",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			e, err := engine.Bootstrap(ctx, engine.Config{SpecPath: specPath})
			if err != nil {
				return err
			}
			return e.Run(ctx)
		},
	}
	cmd.Flags().StringVarP(&specPath, "spec", "s", "service.yml", "service spec file")
	return cmd
}
