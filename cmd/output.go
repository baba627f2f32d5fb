package cmd

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/sw33tLie/spacescope/internal/utils"
	"github.com/sw33tLie/spacescope/pkg/catalog"
	"github.com/sw33tLie/spacescope/pkg/history"
)

// printItems writes items as "txt" (tab aligned) or "json".
func printItems(out io.Writer, format string, items []catalog.Item, scores map[int]float64) error {
	if strings.ToLower(format) == "json" {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(items)
	}

	return writeItemTable(out, items, scores, true)
}

// writeItemTable prints items as aligned rows. A non-nil scores map adds a
// SCORE column.
func writeItemTable(out io.Writer, items []catalog.Item, scores map[int]float64, header bool) error {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	if header {
		if scores != nil {
			fmt.Fprintln(w, "ID\tNAME\tCATEGORY\tDATE\tSCORE\t")
		} else {
			fmt.Fprintln(w, "ID\tNAME\tCATEGORY\tDATE\t")
		}
	}
	for _, it := range items {
		if scores != nil {
			fmt.Fprintf(w, "%d\t%s\t%s\t%s\t%.2f\t\n", it.ID, utils.Truncate(it.Name, 60), it.Category, it.PublishedDate, scores[it.ID])
			continue
		}
		fmt.Fprintf(w, "%d\t%s\t%s\t%s\t\n", it.ID, utils.Truncate(it.Name, 60), it.Category, it.PublishedDate)
	}
	return w.Flush()
}

func printHistoryPage(out io.Writer, format string, p history.Page) error {
	if strings.ToLower(format) == "json" {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(p)
	}
	if p.Fallback {
		fmt.Fprintln(os.Stderr, "[!] History backend unavailable, showing the local cache")
	}
	if len(p.Items) == 0 {
		fmt.Fprintln(out, "No searches in history.")
		return nil
	}

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tWHEN\tRESULTS\tQUERY\t")
	for _, e := range p.Items {
		fmt.Fprintf(w, "%s\t%s\t%d\t%s\t\n", e.ID, formatMillis(e.Timestamp), e.ResultCount, utils.Truncate(e.Query, 50))
	}
	w.Flush()
	fmt.Fprintf(out, "\npage %d/%d (%d searches)\n", p.Page, p.TotalPages, p.TotalItems)
	return nil
}

func formatMillis(ms int64) string {
	return time.UnixMilli(ms).Local().Format("2006-01-02 15:04:05")
}
