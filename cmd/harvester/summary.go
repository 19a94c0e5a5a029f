package main

import (
	"fmt"
	"io"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"

	"github.com/aluiziolira/go-price-harvester/models"
)

// renderSummary prints the per-category outcome table of one run.
func renderSummary(w io.Writer, result *models.RunResult, outputFile string) {
	t := table.NewWriter()
	t.SetStyle(table.StyleRounded)
	t.SetOutputMirror(w)
	t.SetTitle("Harvest %s", result.RunID)

	t.AppendHeader(table.Row{"Category", "State", "Reason", "Pages", "Extracted", "Rejected", "Duplicates", "New", "Updated", "Prices", "Duration"})
	for _, c := range result.Categories {
		t.AppendRow(table.Row{
			c.Name, c.State, c.Reason, c.Pages, c.Extracted, c.Rejected, c.Duplicates,
			c.New, c.Updated, c.Prices, c.Duration.Round(time.Millisecond),
		})
	}

	done, failed, newProducts, updated, prices := result.Totals()
	t.AppendFooter(table.Row{
		"Total", "", "", "", "", "", "",
		newProducts, updated, prices, result.EndTime.Sub(result.StartTime).Round(time.Millisecond),
	})
	caption := fmt.Sprintf("done %d, failed %d", done, failed)
	if outputFile != "" {
		caption += ", exported to " + outputFile
	}
	t.SetCaption("%s", caption)
	t.Render()
}
