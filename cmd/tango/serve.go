package main

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/example/go-tango/internal/server"
	"github.com/spf13/cobra"
)

func newServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the Tango web form and HTTP API",
		RunE: func(_ *cobra.Command, _ []string) error {
			cfg, err := requireConfig()
			if err != nil {
				return err
			}

			gen, err := newGenerator(cfg)
			if err != nil {
				return fmt.Errorf("load model: %w", err)
			}
			defer gen.Close()

			srv := server.New(cfg, gen)

			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			return srv.Start(ctx)
		},
	}

	return cmd
}
