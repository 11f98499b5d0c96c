package commands

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"github.com/teranos/factwire/server"
)

// StatusCmd shows the status of a running server
var StatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show engine status",
	RunE:  runStatus,
}

var statusFlags struct {
	server string
	json   bool
}

func init() {
	StatusCmd.Flags().BoolVarP(&statusFlags.json, "json", "j", false, "Output raw JSON")
	addServerFlag(StatusCmd, &statusFlags.server)
}

func runStatus(cmd *cobra.Command, args []string) error {
	var st server.StatusResponse
	if _, err := newAPIClient(statusFlags.server).do(cmd.Context(), "GET", "/api/status", nil, &st); err != nil {
		return err
	}
	if statusFlags.json {
		return printJSON(st)
	}

	pterm.DefaultSection.Println("factwire " + st.Status.Status)
	uptime := time.Duration(st.UptimeSeconds * float64(time.Second)).Round(time.Second)
	kg := st.KnowledgeGraph
	info := pterm.TableData{
		{"Version", st.Version.String()},
		{"Uptime", uptime.String()},
		{"Facts", fmt.Sprintf("%d current, %d in history, %d entities", kg.TotalFacts, kg.HistoryLength, kg.Entities)},
		{"Changes (24h)", fmt.Sprint(kg.RecentChanges24h)},
		{"Sources", fmt.Sprintf("%d active of %d", st.Firehose.SourcesActive, st.Firehose.SourcesTotal)},
		{"Subscribers", fmt.Sprintf("%d (%d websocket)", st.Subscribers, st.WebSocketClients)},
		{"Ingest", fmt.Sprintf("%d submitted, %d admitted, %d unchanged, %d invalid",
			st.Ingest.Submitted, st.Ingest.Admitted, st.Ingest.NoChange, st.Ingest.Invalid)},
		{"Review threshold", fmt.Sprint(st.EscalationThreshold)},
	}
	if kg.JournalErrors > 0 {
		info = append(info, []string{"Journal errors", fmt.Sprint(kg.JournalErrors)})
	}
	if st.Process != nil {
		info = append(info, []string{"Memory", fmt.Sprintf("%.1f MiB RSS", float64(st.Process.RSSBytes)/(1<<20))})
	}
	if err := pterm.DefaultTable.WithData(info).Render(); err != nil {
		return err
	}

	if len(st.Agents) == 0 {
		return nil
	}
	pterm.DefaultSection.WithLevel(2).Println("Agents")
	agents := pterm.TableData{{"Name", "Interval", "Checks", "Updates", "Errors", "Last check", "Last error"}}
	for _, a := range st.Agents {
		last := "-"
		if a.LastCheck != nil {
			last = a.LastCheck.Local().Format("15:04:05")
		}
		if a.Idle {
			last = "idle (no feed)"
		}
		agents = append(agents, []string{
			a.Name,
			a.Interval.String(),
			fmt.Sprint(a.Checks),
			fmt.Sprint(a.UpdatesFound),
			fmt.Sprint(a.Errors),
			last,
			a.LastError,
		})
	}
	return pterm.DefaultTable.WithHasHeader().WithData(agents).Render()
}

func printJSON(v interface{}) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal JSON: %w", err)
	}
	fmt.Println(string(data))
	return nil
}
