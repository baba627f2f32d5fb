package cmd

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/sw33tLie/spacescope/internal/utils"
	"github.com/sw33tLie/spacescope/pkg/history"
)

var searchCmd = &cobra.Command{
	Use:   "search [query]",
	Short: "Search the catalog and record the search in history",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		pages, _ := cmd.Flags().GetInt("pages")
		output, _ := cmd.Flags().GetString("output")
		noHistory, _ := cmd.Flags().GetBool("no-history")

		query := strings.TrimSpace(strings.Join(args, " "))
		if query == "" {
			return fmt.Errorf("empty query")
		}

		e, err := newEngine()
		if err != nil {
			return err
		}
		defer e.close()

		cfg := oneShotConfig(cmd, e)
		cfg.Query = query
		if !noHistory {
			cfg.History = e.ledger
			cfg.OnCommit = func(entry history.Entry, err error) {
				if err != nil {
					utils.Log.Warnf("History: %v", err)
					return
				}
				utils.Log.Debugf("Saved search %s", entry.ID)
			}
		}

		v, err := runOnce(cmd.Context(), cfg, pages)
		if err != nil {
			return err
		}
		if v.Stream.Err != nil && len(v.Stream.Items) == 0 {
			return fmt.Errorf("search failed: %w", v.Stream.Err)
		}
		if v.ShowNoResults {
			fmt.Printf("No results for %q\n", query)
			return nil
		}

		if err := printItems(os.Stdout, output, v.Stream.Items, v.Stream.Scores); err != nil {
			return err
		}
		if output != "json" {
			fmt.Printf("\n%d of %d results for %q\n", len(v.Stream.Items), v.Stream.TotalItems, query)
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(searchCmd)
	searchCmd.Flags().IntP("pages", "p", 1, "Number of result pages to load")
	searchCmd.Flags().StringP("output", "o", "txt", "Output format (txt, json)")
	searchCmd.Flags().Int("attempts", 3, "Retry attempts on transient failures (0 = unlimited)")
	searchCmd.Flags().Bool("no-history", false, "Do not record this search")
}
