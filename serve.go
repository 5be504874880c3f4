package main

import (
	"context"
	"fmt"
	"log/slog"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"intelhub/api"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the WebSocket hub",
	RunE: func(cmd *cobra.Command, args []string) error {
		config := ParseServeArgs()
		server, err := api.NewServer(config)
		if err != nil {
			return err
		}
		defer server.Close()

		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		server.Start()
		errCh := make(chan error, 1)
		go func() {
			errCh <- server.ListenAndServe()
		}()

		select {
		case err := <-errCh:
			if err != nil {
				return fmt.Errorf("serve: %w", err)
			}
			return nil
		case <-ctx.Done():
			slog.Info("shutting down", slog.Any("cause", context.Cause(ctx)))
			return nil
		}
	},
}

func init() {
	addServeFlags(serveCmd.Flags())
}
