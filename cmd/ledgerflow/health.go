package main

import (
	"context"
	"fmt"
	"time"

	"ledgerflow/internal/transport"

	"github.com/spf13/cobra"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

func healthCmd() *cobra.Command {
	var (
		addr    string
		service string
	)
	cmd := &cobra.Command{
		Use:   "health",
		Short: "Probe the control port of a running service",
		RunE: func(cmd *cobra.Command, _ []string) error {
			c, err := transport.Dial(addr)
			if err != nil {
				return err
			}
			defer c.Close()

			ctx, cancel := context.WithTimeout(cmd.Context(), 3*time.Second)
			defer cancel()
			st, err := c.Check(ctx, service)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), st)
			if st != healthpb.HealthCheckResponse_SERVING {
				return fmt.Errorf("service %q is %s", service, st)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "localhost:7070", "control port address")
	cmd.Flags().StringVar(&service, "service", "", "topic to check; empty checks the process")
	return cmd
}
