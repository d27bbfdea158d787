package cli

import (
	"encoding/json"
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/hupe1980/toolmesh/client"
	"github.com/hupe1980/toolmesh/config"
	"github.com/hupe1980/toolmesh/logging"
	"github.com/hupe1980/toolmesh/transport"
	"github.com/hupe1980/toolmesh/transport/sse"
)

// NewToolsCmd creates the "tools" command group.
func NewToolsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "tools",
		Short: "Inspect the tools a server exposes",
	}
	cmd.PersistentFlags().String("config", "", "Path to toolmesh.yaml")

	cmd.AddCommand(newToolsListCmd())

	return cmd
}

func newToolsListCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List available tools",
		RunE:  runToolsList,
	}
	cmd.Flags().String("connect", "", "SSE URL of a running server (default: local registry)")
	cmd.Flags().Bool("json", false, "Emit tool descriptors as JSON")
	return cmd
}

func runToolsList(cmd *cobra.Command, _ []string) error {
	cfg, _, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return exitError(exitConfig, "%s", err)
	}

	descriptors, err := listDescriptors(cmd, cfg)
	if err != nil {
		return err
	}

	asJSON, _ := cmd.Flags().GetBool("json")
	if asJSON {
		data, err := json.MarshalIndent(descriptors, "", "  ")
		if err != nil {
			return exitError(exitRuntime, "encoding tools: %v", err)
		}
		_, _ = cmd.OutOrStdout().Write(append(data, '\n'))
		return nil
	}

	writer := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 2, 2, ' ', 0)
	fmt.Fprintln(writer, "NAME\tDESCRIPTION")
	for _, d := range descriptors {
		fmt.Fprintf(writer, "%s\t%s\n", d.Name, d.Description)
	}
	return writer.Flush()
}

// listDescriptors asks a remote server when --connect is set and otherwise
// builds the local registry the serve command would expose.
func listDescriptors(cmd *cobra.Command, cfg config.Config) ([]transport.ToolDescriptor, error) {
	connectURL, _ := cmd.Flags().GetString("connect")
	if connectURL != "" {
		c := client.New(sse.NewClient(connectURL), client.WithLogger(newLogger(cfg)))
		if err := c.Connect(cmd.Context()); err != nil {
			return nil, exitError(exitRuntime, "connecting: %v", err)
		}
		defer c.Close()

		descriptors, err := c.ListTools(cmd.Context())
		if err != nil {
			return nil, exitError(exitRuntime, "listing tools: %v", err)
		}
		return descriptors, nil
	}

	registry, _, err := buildRegistry(cfg, logging.NoOpLogger{})
	if err != nil {
		return nil, err
	}

	descriptors := make([]transport.ToolDescriptor, 0, registry.Len())
	for _, t := range registry.List() {
		descriptors = append(descriptors, transport.ToolDescriptor{
			Name:         t.Name(),
			Description:  t.Description(),
			InputSchema:  t.InputSchema(),
			OutputSchema: t.OutputSchema(),
		})
	}
	return descriptors, nil
}
