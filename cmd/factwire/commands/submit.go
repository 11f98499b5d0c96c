package commands

import (
	"encoding/json"
	"fmt"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"github.com/teranos/factwire/errors"
	"github.com/teranos/factwire/fact"
	"github.com/teranos/factwire/ingest"
)

// SubmitCmd posts one observed value to a running server
var SubmitCmd = &cobra.Command{
	Use:   "submit",
	Short: "Submit an observed value",
	Long: `Submit one observed value to a running factwire server.

The value is parsed as JSON when possible (2, true, {"tier": 2}),
otherwise it is sent as a string.

Examples:
  factwire submit --type coverage --id ozempic:aetna_comm --field formulary_tier --value 2 --source "Aetna Provider Portal"
  factwire submit --type price --id ozempic --field nadac --value 935.77 --source CMS --effective-date 2024-03-01`,
	RunE: runSubmit,
}

var submitFlags struct {
	entityType    string
	entityID      string
	field         string
	value         string
	source        string
	sourceURL     string
	verifiedBy    string
	effectiveDate string
	server        string
}

func init() {
	f := SubmitCmd.Flags()
	f.StringVar(&submitFlags.entityType, "type", "", "Entity type (required)")
	f.StringVar(&submitFlags.entityID, "id", "", "Entity id (required)")
	f.StringVar(&submitFlags.field, "field", "", "Field name (required)")
	f.StringVar(&submitFlags.value, "value", "", "Observed value, JSON or plain text (required)")
	f.StringVar(&submitFlags.source, "source", "", "Where the value was observed (required)")
	f.StringVar(&submitFlags.sourceURL, "source-url", "", "Link to the source document")
	f.StringVar(&submitFlags.verifiedBy, "verified-by", "", "Who verified the value")
	f.StringVar(&submitFlags.effectiveDate, "effective-date", "", "RFC 3339 or YYYY-MM-DD")
	addServerFlag(SubmitCmd, &submitFlags.server)
	for _, name := range []string{"type", "id", "field", "value", "source"} {
		_ = SubmitCmd.MarkFlagRequired(name)
	}
}

// buildCandidate turns the flags into a candidate
func buildCandidate() (fact.Candidate, error) {
	c := fact.Candidate{
		EntityType: submitFlags.entityType,
		EntityID:   submitFlags.entityID,
		Field:      submitFlags.field,
		Value:      fact.ParseLiteral(submitFlags.value),
		Source:     submitFlags.source,
		SourceURL:  submitFlags.sourceURL,
		VerifiedBy: submitFlags.verifiedBy,
	}
	if submitFlags.effectiveDate != "" {
		d, err := fact.ParseDate(submitFlags.effectiveDate)
		if err != nil {
			return c, err
		}
		c.EffectiveDate = &d
	}
	return c, c.Validate()
}

func runSubmit(cmd *cobra.Command, args []string) error {
	cand, err := buildCandidate()
	if err != nil {
		return err
	}

	var res ingest.AdmissionResult
	_, err = newAPIClient(submitFlags.server).do(cmd.Context(), "POST", "/api/facts", cand, &res)
	if err != nil {
		var apiErr *apiError
		if errors.As(err, &apiErr) && apiErr.StatusCode == 422 {
			pterm.Error.Printf("Rejected: %s\n", apiErr.Message)
		}
		return err
	}

	if !res.Admitted {
		pterm.Info.Printf("No change: %s already has this value\n", cand.Key())
		return nil
	}

	pterm.Success.Printf("Admitted %s\n", cand.Key())
	pterm.Printf("  importance: %d (%s)\n", int(res.Importance), res.Importance)
	pterm.Printf("  confidence: %.3f\n", res.Confidence)
	pterm.Printf("  reason:     %s\n", res.Reason)
	if res.RequiresHumanReview {
		pterm.Warning.Println("Requires human review")
	}
	if res.Fact != nil && res.Fact.PreviousValue != nil {
		pterm.Printf("  previous:   %s\n", formatValue(res.Fact.PreviousValue))
	}
	return nil
}

func formatValue(v interface{}) string {
	switch x := v.(type) {
	case string:
		return x
	case nil:
		return "-"
	default:
		if data, err := json.Marshal(x); err == nil {
			return string(data)
		}
		return fmt.Sprint(x)
	}
}
