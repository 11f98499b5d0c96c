package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/teranos/factwire/cmd/factwire/commands"
	"github.com/teranos/factwire/errors"
	"github.com/teranos/factwire/logger"
)

var rootCmd = &cobra.Command{
	Use:   "factwire",
	Short: "factwire - versioned fact store with live change propagation",
	Long: `factwire - versioned fact store with live change propagation.

Producers watch pharmacy and payer sources and submit observed values.
Values that change a fact are validated, scored for importance, stored
with their history and pushed to every live subscriber.

Available commands:
  server  - Run the engine with its HTTP, WebSocket and metrics surface
  submit  - Submit an observed value to a running server
  recent  - Show recent changes
  status  - Show engine status
  sources - List the source catalog
  mcp     - Serve MCP tools on stdio
  am      - Manage configuration

Examples:
  factwire server -v
  factwire submit --type coverage --id ozempic:aetna_comm --field formulary_tier --value 2 --source "Aetna Provider Portal"
  factwire recent --hours 48 --min-importance 7`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		verbosity, _ := cmd.Flags().GetCount("verbose")
		level := logger.VerbosityToLevel(verbosity)

		// stdout carries the MCP protocol
		if cmd.Name() == "mcp" {
			return logger.InitializeStderr(level)
		}
		// Skip for commands whose stdout is the output
		if cmd.Name() == "show" || cmd.Name() == "get" {
			return nil
		}
		if err := logger.InitializeWithLevel(false, level); err != nil {
			return errors.Wrap(err, "failed to initialize logger")
		}
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().CountP("verbose", "v", "Increase output verbosity (repeat for more detail: -v, -vv, -vvv)")

	rootCmd.AddCommand(commands.ServerCmd)
	rootCmd.AddCommand(commands.SubmitCmd)
	rootCmd.AddCommand(commands.RecentCmd)
	rootCmd.AddCommand(commands.StatusCmd)
	rootCmd.AddCommand(commands.SourcesCmd)
	rootCmd.AddCommand(commands.McpCmd)
	rootCmd.AddCommand(commands.AmCmd)
	rootCmd.AddCommand(commands.VersionCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		logger.Cleanup()
		fmt.Fprintln(os.Stderr, err)
		for _, hint := range errors.GetAllHints(err) {
			fmt.Fprintf(os.Stderr, "hint: %s\n", hint)
		}
		os.Exit(1)
	}
	logger.Cleanup()
}
