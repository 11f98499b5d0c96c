package commands

import (
	"fmt"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"github.com/teranos/factwire/producer"
)

// SourcesCmd lists the built-in source catalog and agents
var SourcesCmd = &cobra.Command{
	Use:   "sources",
	Short: "List the source catalog and the agents watching it",
	RunE:  runSources,
}

var sourcesFlags struct {
	sourceType string
	json       bool
}

func init() {
	SourcesCmd.Flags().StringVar(&sourcesFlags.sourceType, "type", "", "Only sources of this type (api, portal, scraper, sftp)")
	SourcesCmd.Flags().BoolVarP(&sourcesFlags.json, "json", "j", false, "Output raw JSON")
}

func runSources(cmd *cobra.Command, args []string) error {
	catalog := producer.DefaultCatalog()

	var sources []producer.Source
	for _, s := range catalog.Sources() {
		if sourcesFlags.sourceType == "" || s.Type == sourcesFlags.sourceType {
			sources = append(sources, s)
		}
	}
	if sourcesFlags.json {
		return printJSON(map[string]interface{}{
			"sources": sources,
			"agents":  producer.DefaultAgents(),
		})
	}

	pterm.DefaultSection.Printf("%d source(s)", len(sources))
	data := pterm.TableData{{"ID", "Name", "Type", "Frequency", "Every", "Enabled"}}
	for _, s := range sources {
		enabled := "yes"
		if !s.Enabled {
			enabled = "no"
		}
		data = append(data, []string{s.ID, s.Name, s.Type, string(s.Frequency), s.Frequency.Interval().String(), enabled})
	}
	if err := pterm.DefaultTable.WithHasHeader().WithData(data).Render(); err != nil {
		return err
	}

	pterm.DefaultSection.WithLevel(2).Println("Agents")
	agents := pterm.TableData{{"Agent", "Interval", "Sources", "Watches"}}
	for _, a := range producer.DefaultAgents() {
		agents = append(agents, []string{a.Name, a.Interval.String(), fmt.Sprint(len(a.Sources)), a.Description})
	}
	return pterm.DefaultTable.WithHasHeader().WithData(agents).Render()
}
