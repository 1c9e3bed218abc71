package checks

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"

	"github.com/ethereum-optimism/infra/op-checks/metrics"
	"github.com/ethereum-optimism/infra/op-checks/types"
)

// printResultsTable prints the results of the check run to the console.
func (c *checks) printResultsTable(runID string) {
	c.config.Log.Info("Printing results...")
	t := table.NewWriter()
	t.SetOutputMirror(os.Stdout)
	t.SetTitle(fmt.Sprintf("Check Run Results (%s)", formatDuration(c.result.Duration)))

	// Configure columns
	t.AppendHeader(table.Row{
		"Session", "Kind", "Duration", "Status", "Error",
	})

	// Set column configurations for better readability
	t.SetColumnConfigs([]table.ColumnConfig{
		{Name: "Session", WidthMax: 30, WidthMaxEnforcer: text.WrapSoft},
		{Name: "Duration", Align: text.AlignRight},
		{Name: "Error", WidthMax: 80, WidthMaxEnforcer: text.WrapSoft},
	})

	for _, result := range c.result.Results {
		t.AppendRow(table.Row{
			result.Name,
			string(result.Kind),
			formatDuration(result.Duration),
			getResultString(result.Status),
			extractKeyErrorMessage(result.Error),
		})
	}

	// Update the table style setting based on result status
	if c.result.Status == types.SessionStatusPass {
		t.SetStyle(table.StyleColoredBlackOnGreenWhite)
	} else if c.result.Status == types.SessionStatusSkip {
		t.SetStyle(table.StyleColoredBlackOnYellowWhite)
	} else {
		t.SetStyle(table.StyleColoredBlackOnRedWhite)
	}

	// Add summary footer
	t.AppendFooter(table.Row{
		"TOTAL",
		"",
		formatDuration(c.result.Duration),
		getResultString(c.result.Status),
		fmt.Sprintf("%d passed, %d failed, %d skipped",
			c.result.Stats.Passed, c.result.Stats.Failed, c.result.Stats.Skipped),
	})

	t.Render()

	// Emit metrics
	metrics.RecordCheckRun(
		runID,
		string(c.result.Status),
		c.result.Stats.Total,
		c.result.Stats.Passed,
		c.result.Stats.Failed,
		c.result.Duration,
	)
}

// PrintSessionList renders the registered sessions for the list subcommand.
func PrintSessionList(sessions []types.SessionDefinition) {
	t := table.NewWriter()
	t.SetOutputMirror(os.Stdout)
	t.SetTitle("Registered Sessions")

	t.AppendHeader(table.Row{"Session", "Kind", "Install Extras", "Coverage"})
	for _, session := range sessions {
		coverage := ""
		if session.Coverage {
			coverage = "yes"
		}
		t.AppendRow(table.Row{
			session.Name,
			string(session.Kind),
			strings.Join(session.InstallExtras, ","),
			coverage,
		})
	}
	t.SetStyle(table.StyleLight)
	t.Render()
}

// extractKeyErrorMessage extracts the most pertinent part of the error message for display
func extractKeyErrorMessage(err error) string {
	if err == nil {
		return ""
	}

	errStr := err.Error()

	// Limit to the first line or 80 chars
	if idx := strings.Index(errStr, "\n"); idx != -1 {
		errStr = errStr[:idx]
	}
	if len(errStr) > 80 {
		return errStr[:70] + "..."
	}

	return errStr
}

// getResultString returns a colored string representing the session result
func getResultString(status types.SessionStatus) string {
	switch status {
	case types.SessionStatusPass:
		return "✓ pass"
	case types.SessionStatusSkip:
		return "- skip"
	default:
		return "✗ fail"
	}
}

// Helper function to format duration to seconds with 1 decimal place
func formatDuration(d time.Duration) string {
	return fmt.Sprintf("%.1fs", d.Seconds())
}
