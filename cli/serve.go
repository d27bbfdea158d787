package cli

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/hupe1980/toolmesh/config"
	"github.com/hupe1980/toolmesh/logging"
	"github.com/hupe1980/toolmesh/server"
	"github.com/hupe1980/toolmesh/transport"
	"github.com/hupe1980/toolmesh/transport/sse"
)

// NewServeCmd creates the "serve" subcommand.
func NewServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the tool server over stdio or SSE",
		RunE:  runServe,
	}

	cmd.Flags().String("config", "", "Path to toolmesh.yaml")
	cmd.Flags().String("transport", "", "Transport kind: stdio | sse (overrides config)")
	cmd.Flags().String("addr", "", "SSE listen address (overrides config)")

	return cmd
}

func runServe(cmd *cobra.Command, _ []string) error {
	cfg, _, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	if kind, _ := cmd.Flags().GetString("transport"); kind != "" {
		cfg.Transport.Kind = kind
	}
	if addr, _ := cmd.Flags().GetString("addr"); addr != "" {
		cfg.Transport.Addr = addr
	}
	if err := cfg.Validate(); err != nil {
		return exitError(exitConfig, "%s", err)
	}

	logger := newLogger(cfg)

	mesh, err := buildMesh(cfg, logger)
	if err != nil {
		return err
	}
	defer mesh.cleanup()

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if cfg.Transport.Kind == config.TransportSSE {
		return serveSSE(ctx, cmd, cfg, mesh, logger)
	}
	return serveStdIO(ctx, cmd, mesh, logger)
}

// serveStdIO runs the server over the command's stdin/stdout until the peer
// disconnects or a signal arrives.
func serveStdIO(ctx context.Context, cmd *cobra.Command, mesh *meshComponents, logger logging.Logger) error {
	tr := transport.NewStdIO(cmd.InOrStdin(), cmd.OutOrStdout())

	srv := server.New(mesh.dispatcher, tr,
		server.WithLogger(logger),
		server.WithInstructions(serverInstructions(mesh.withSentiment)),
	)

	done := make(chan struct{})
	go func() {
		srv.Serve()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return exitError(exitRuntime, "shutdown error: %v", err)
		}
		return nil
	}
}

// serveSSE runs the server behind an HTTP listener with the SSE stream on
// /sse and the message endpoint on /message.
func serveSSE(ctx context.Context, cmd *cobra.Command, cfg config.Config, mesh *meshComponents, logger logging.Logger) error {
	sseTransport := sse.NewServer("/message", func(o *sse.ServerOptions) {
		o.Logger = logger
	})

	srv := server.New(mesh.dispatcher, sseTransport,
		server.WithLogger(logger),
		server.WithInstructions(serverInstructions(mesh.withSentiment)),
	)

	done := make(chan struct{})
	go func() {
		srv.Serve()
		close(done)
	}()

	mux := http.NewServeMux()
	mux.Handle("/sse", sseTransport.HandleSSE())
	mux.Handle("/message", sseTransport.HandleMessage())

	httpServer := &http.Server{
		Addr:              cfg.Transport.Addr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		fmt.Fprintf(cmd.OutOrStdout(), "toolmesh listening on %s\n", cfg.Transport.Addr)
		errCh <- httpServer.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		// Stop the protocol sessions first so the long-lived stream
		// handlers return and the HTTP shutdown can drain.
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return exitError(exitRuntime, "shutdown error: %v", err)
		}
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			return exitError(exitRuntime, "shutdown error: %v", err)
		}
		return nil
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return exitError(exitRuntime, "server error: %v", err)
		}
		return nil
	}
}
