package commands

import (
	"fmt"
	"net/url"
	"strconv"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"github.com/teranos/factwire/fact"
)

// RecentCmd lists recent changes from a running server
var RecentCmd = &cobra.Command{
	Use:   "recent",
	Short: "Show recent fact changes",
	Long: `Show fact changes admitted in the last N hours, newest first.

Examples:
  factwire recent                           # last 24h, importance >= 3
  factwire recent --hours 168 --min-importance 8`,
	RunE: runRecent,
}

var recentFlags struct {
	hours         int
	minImportance string
	server        string
	json          bool
}

func init() {
	RecentCmd.Flags().IntVar(&recentFlags.hours, "hours", 24, "Look-back window in hours (1-168)")
	RecentCmd.Flags().StringVar(&recentFlags.minImportance, "min-importance", "3", "Minimum importance, number or name (e.g. 7, high)")
	RecentCmd.Flags().BoolVarP(&recentFlags.json, "json", "j", false, "Output raw JSON")
	addServerFlag(RecentCmd, &recentFlags.server)
}

type recentReply struct {
	Count   int          `json:"count"`
	Hours   int          `json:"hours"`
	Updates []*fact.Fact `json:"updates"`
}

func runRecent(cmd *cobra.Command, args []string) error {
	imp, err := fact.ParseImportance(recentFlags.minImportance)
	if err != nil {
		return err
	}

	q := url.Values{}
	q.Set("hours", strconv.Itoa(recentFlags.hours))
	q.Set("min_importance", strconv.Itoa(int(imp)))

	var reply recentReply
	if _, err := newAPIClient(recentFlags.server).do(cmd.Context(), "GET", "/api/updates/recent?"+q.Encode(), nil, &reply); err != nil {
		return err
	}

	if recentFlags.json {
		return printJSON(reply)
	}

	if reply.Count == 0 {
		pterm.Info.Printf("No changes with importance >= %d in the last %dh\n", int(imp), reply.Hours)
		return nil
	}

	pterm.DefaultSection.Printf("%d change(s) in the last %dh", reply.Count, reply.Hours)
	if err := pterm.DefaultTable.WithHasHeader().WithData(recentTable(reply.Updates)).Render(); err != nil {
		return err
	}
	if reply.Count > len(reply.Updates) {
		pterm.Info.Printf("Showing newest %d of %d\n", len(reply.Updates), reply.Count)
	}
	return nil
}

func recentTable(updates []*fact.Fact) pterm.TableData {
	data := pterm.TableData{{"Updated", "Entity", "Field", "Change", "Importance", "Confidence", "Source"}}
	for _, f := range updates {
		change := fmt.Sprintf("%s → %s", formatValue(f.PreviousValue), formatValue(f.Value))
		importance := fmt.Sprintf("%d %s", int(f.Importance), f.Importance)
		if f.RequiresHumanReview {
			importance += " (review)"
		}
		data = append(data, []string{
			f.UpdatedAt.Local().Format("2006-01-02 15:04"),
			f.EntityRef(),
			f.Field,
			change,
			importance,
			fmt.Sprintf("%.2f", f.Confidence),
			f.Source,
		})
	}
	return data
}
