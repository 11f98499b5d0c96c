package commands

import (
	"github.com/spf13/cobra"

	"github.com/teranos/factwire/errors"
	"github.com/teranos/factwire/logger"
	"github.com/teranos/factwire/mcp"
)

// McpCmd serves the fact tools over MCP stdio
var McpCmd = &cobra.Command{
	Use:   "mcp",
	Short: "Serve MCP tools on stdio",
	Long: `Run an in-process engine and expose it to an MCP client on stdin/stdout.

Tools: current_value, facts_for_entity, recent_changes, submit_fact.
Logs go to stderr. Producers run as they would under "factwire server".`,
	RunE: runMcp,
}

var mcpDBPath string

func init() {
	McpCmd.Flags().StringVar(&mcpDBPath, "db-path", "", "Database path (overrides database.path)")
}

func runMcp(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(mcpDBPath)
	if err != nil {
		return err
	}
	e, err := openEngine(cfg)
	if err != nil {
		return err
	}
	defer e.Stop()

	if err := e.Start(cmd.Context()); err != nil {
		return errors.Wrap(err, "failed to start engine")
	}

	s, err := mcp.NewMCPServer(e, logger.Logger.Named("mcp"))
	if err != nil {
		return err
	}
	return s.Serve()
}
