package cmd

import (
	"context"
	"errors"
	"os/signal"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/joescharf/buggy/internal/mcp"
	"github.com/joescharf/buggy/internal/models"
)

var mcpCmd = &cobra.Command{
	Use:   "mcp",
	Short: "Start an MCP stdio server for coding assistants",
	Long: `Start an MCP (Model Context Protocol) server on stdio.

MCP clients can then list, file and work on bugs. A client configuration
looks like:

  {
    "mcpServers": {
      "buggy": { "command": "buggy", "args": ["mcp", "--as", "ada"] }
    }
  }

Mutating tools act as the --as user (or the ` + "`user`" + ` config key).

Available tools: buggy_list_projects, buggy_list_bugs, buggy_show_bug,
buggy_legal_actions, buggy_create_bug, buggy_perform_action`,
	RunE: func(cmd *cobra.Command, args []string) error {
		svc, err := getService()
		if err != nil {
			return err
		}

		// Without a user the server still answers read-only tools.
		var user *models.User
		if asUser != "" || viper.GetString("user") != "" {
			if user, err = actingUser(cmd.Context(), svc); err != nil {
				return err
			}
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), shutdownSignals...)
		defer stop()
		err = mcp.NewServer(svc, user).ServeStdio(ctx)
		if errors.Is(err, context.Canceled) {
			return nil
		}
		return err
	},
}

func init() {
	rootCmd.AddCommand(mcpCmd)
}
