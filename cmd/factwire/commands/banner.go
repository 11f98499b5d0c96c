package commands

import (
	"fmt"

	"github.com/pterm/pterm"

	"github.com/teranos/factwire/am"
	"github.com/teranos/factwire/version"
)

// printStartupBanner prints the user-friendly startup message
func printStartupBanner(cfg *am.Config, verbosity int) {
	info := version.Get()
	port := cfg.Server.Port
	if port <= 0 {
		port = am.DefaultServerPort
	}

	journal := "off"
	if cfg.Database.Journal {
		journal = cfg.GetDatabasePath()
	}

	pterm.DefaultBox.WithTitle("factwire").Println(
		fmt.Sprintf("Version:   %s (commit %s)\n", info.Version, info.Short()) +
			fmt.Sprintf("Built:     %s\n", info.BuildTime) +
			fmt.Sprintf("Verbosity: %d\n", verbosity) +
			fmt.Sprintf("Journal:   %s\n", journal) +
			fmt.Sprintf("Scorer:    %s\n", cfg.Scorer.Provider) +
			fmt.Sprintf("HTTP:      http://localhost:%d/api\n", port) +
			fmt.Sprintf("Live:      ws://localhost:%d/ws", port),
	)
	pterm.Info.Println("Press Ctrl+C to stop")
}
