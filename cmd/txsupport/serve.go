package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/gofhir/validationsupport/server"
)

func newServeCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the terminology operations over HTTP",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return a.serve(ctx)
		},
	}
	cmd.Flags().Int("port", 0, "listen port")
	a.bind("port", "server.port")
	return cmd
}

func (a *app) serve(ctx context.Context) error {
	rt, err := buildChain(ctx, a.cfg, a.logger)
	if err != nil {
		return err
	}
	defer rt.Close()

	srv := server.New(rt.chain,
		server.WithLogger(a.logger),
		server.WithMetrics(rt.metrics),
	)
	addr := fmt.Sprintf(":%d", a.cfg.Server.Port)

	errCh := make(chan error, 1)
	go func() {
		a.logger.Info().Str("addr", addr).Int("modules", len(rt.chain.Modules())).Msg("server starting")
		errCh <- srv.Start(addr)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	a.logger.Info().Msg("shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), a.cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown: %w", err)
	}
	a.logger.Info().Msg("server stopped")
	return nil
}
