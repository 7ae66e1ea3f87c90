package main

import (
	"os"

	"github.com/spf13/cobra"

	"github.com/rmax-ai/revonto/pkg/client"
	"github.com/rmax-ai/revonto/pkg/mcp"
)

func newMCPCmd() *cobra.Command {
	var endpoint string

	cmd := &cobra.Command{
		Use:   "mcp",
		Short: "Serve the Model Context Protocol on stdio",
		Long: `mcp exposes a running revonto-d to MCP clients: the population and
study archive as resources, reverse lookups as tools.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if !cmd.Flags().Changed("endpoint") {
				if env := os.Getenv("REVONTO_ENDPOINT"); env != "" {
					endpoint = env
				}
			}
			return mcp.NewServer(endpoint).Serve()
		},
	}
	cmd.Flags().StringVar(&endpoint, "endpoint", client.DefaultEndpoint, "revonto-d base URL (env REVONTO_ENDPOINT)")
	return cmd
}
