package cmd

import (
	"github.com/spf13/cobra"

	"github.com/mfinley/stepflow/internal/mcp"
)

var mcpCmd = &cobra.Command{
	Use:   "mcp",
	Short: "Start MCP stdio server exposing run status to agents",
	Long: `Start an MCP (Model Context Protocol) server on stdio.

This lets a supervising agent query stepflow for session progress, plan
structure, and failure details. Configure the client with:

  {
    "mcpServers": {
      "stepflow": { "command": "stepflow", "args": ["mcp"] }
    }
  }

Available tools: stepflow_list_sessions, stepflow_session_status,
stepflow_plan_steps`,
	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := getStore()
		if err != nil {
			return err
		}
		return mcp.NewServer(s).ServeStdio(cmd.Context())
	},
}

func init() {
	rootCmd.AddCommand(mcpCmd)
}
