package cli

import (
	"bufio"
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/hupe1980/toolmesh/client"
	"github.com/hupe1980/toolmesh/server"
	"github.com/hupe1980/toolmesh/transport"
	"github.com/hupe1980/toolmesh/transport/sse"
)

const exitCommand = "exit"

// NewChatCmd creates the "chat" subcommand.
func NewChatCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "chat",
		Short: "Chat with the tool server through a language model",
		RunE:  runChat,
	}

	cmd.Flags().String("config", "", "Path to toolmesh.yaml")
	cmd.Flags().String("connect", "", "SSE URL of a running server (default: in-process server)")
	cmd.Flags().String("system", "", "Extra system prompt for the model")

	return cmd
}

func runChat(cmd *cobra.Command, _ []string) error {
	cfg, _, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return exitError(exitConfig, "%s", err)
	}

	logger := newLogger(cfg)

	m, err := buildModel(cfg)
	if err != nil {
		return err
	}

	connectURL, _ := cmd.Flags().GetString("connect")

	var c *client.Client
	if connectURL != "" {
		c = client.New(sse.NewClient(connectURL), client.WithLogger(logger))
	} else {
		mesh, err := buildMesh(cfg, logger)
		if err != nil {
			return err
		}
		defer mesh.cleanup()

		pipe := transport.NewPipe()
		srv := server.New(mesh.dispatcher, pipe,
			server.WithLogger(logger),
			server.WithInstructions(serverInstructions(mesh.withSentiment)),
		)
		go srv.Serve()
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = srv.Shutdown(shutdownCtx)
		}()

		c = client.New(pipe, client.WithLogger(logger))
	}

	ctx := cmd.Context()
	if err := c.Connect(ctx); err != nil {
		return exitError(exitRuntime, "connecting: %v", err)
	}
	defer c.Close()

	systemPrompt, _ := cmd.Flags().GetString("system")
	chat := client.NewChat(c, m, func(o *client.ChatOptions) {
		o.Logger = logger
		o.SystemPrompt = systemPrompt
	})

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Connected to %s (session %s). Type %q to quit.\n",
		c.ServerInfo().Name, c.SessionID(), exitCommand)

	scanner := bufio.NewScanner(cmd.InOrStdin())
	for {
		fmt.Fprint(out, "> ")
		if !scanner.Scan() {
			break
		}

		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		if line == exitCommand || line == "quit" {
			break
		}

		answer, err := chat.Send(ctx, line)
		if err != nil {
			fmt.Fprintf(cmd.ErrOrStderr(), "error: %v\n", err)
			continue
		}
		fmt.Fprintln(out, answer)
	}

	return scanner.Err()
}
