package cmd

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"github.com/sw33tLie/spacescope/internal/utils"
	"github.com/sw33tLie/spacescope/pkg/history"
)

// historyCmd represents the history command
var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "List, inspect, replay and delete past searches",
}

var historyListCmd = &cobra.Command{
	Use:   "list",
	Short: "List past searches, most recent first",
	RunE: func(cmd *cobra.Command, args []string) error {
		page, _ := cmd.Flags().GetInt("page")
		output, _ := cmd.Flags().GetString("output")

		e, err := newEngine()
		if err != nil {
			return err
		}
		defer e.close()

		p, err := e.ledger.LoadPage(cmd.Context(), page, viper.GetInt("history.pagesize"))
		if err != nil {
			return err
		}
		return printHistoryPage(os.Stdout, output, p)
	},
}

var historyShowCmd = &cobra.Command{
	Use:   "show <id>",
	Short: "Show the results a past search returned",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		output, _ := cmd.Flags().GetString("output")

		e, err := newEngine()
		if err != nil {
			return err
		}
		defer e.close()

		entry, err := history.Lookup(cmd.Context(), e.ledger, args[0])
		if errors.Is(err, history.ErrNotFound) {
			return fmt.Errorf("no search with id %s", args[0])
		}
		if err != nil {
			return err
		}

		if output == "json" {
			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(entry)
		}
		fmt.Printf("Query:   %s\nWhen:    %s\nResults: %d\n\n", entry.Query, formatMillis(entry.Timestamp), entry.ResultCount)
		scores := entry.ConfidenceScores
		if scores == nil {
			scores = map[int]float64{}
		}
		return printItems(os.Stdout, "txt", entry.Results, scores)
	},
}

var historyRmCmd = &cobra.Command{
	Use:   "rm <id>...",
	Short: "Delete searches from history",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		e, err := newEngine()
		if err != nil {
			return err
		}
		defer e.close()

		for _, id := range args {
			if err := e.ledger.RemoveByID(cmd.Context(), id); err != nil {
				return err
			}
			utils.Log.Infof("Removed %s", id)
		}
		return nil
	},
}

var historyClearCmd = &cobra.Command{
	Use:   "clear",
	Short: "Delete the whole search history",
	RunE: func(cmd *cobra.Command, args []string) error {
		yes, _ := cmd.Flags().GetBool("yes")
		if !yes {
			return fmt.Errorf("refusing to clear history without --yes")
		}

		e, err := newEngine()
		if err != nil {
			return err
		}
		defer e.close()

		if err := e.ledger.ClearAll(cmd.Context()); err != nil {
			return err
		}
		utils.Log.Info("History cleared")
		return nil
	},
}

var historyReplayCmd = &cobra.Command{
	Use:   "replay <id>",
	Short: "Run a past search again (records a new entry)",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		output, _ := cmd.Flags().GetString("output")

		e, err := newEngine()
		if err != nil {
			return err
		}
		defer e.close()

		entry, err := history.Lookup(cmd.Context(), e.ledger, args[0])
		if err != nil {
			return err
		}

		cfg := oneShotConfig(cmd, e)
		cfg.Query = entry.Query
		cfg.History = e.ledger
		v, err := runOnce(cmd.Context(), cfg, 1)
		if err != nil {
			return err
		}
		if v.Stream.Err != nil {
			return fmt.Errorf("replay failed: %w", v.Stream.Err)
		}
		if v.HistoryError != nil {
			utils.Log.Warnf("History: %v", v.HistoryError)
		}
		fmt.Printf("%q: %d results now, %d on %s\n\n", entry.Query, v.Stream.TotalItems, entry.ResultCount, formatMillis(entry.Timestamp))
		return printItems(os.Stdout, output, v.Stream.Items, v.Stream.Scores)
	},
}

func init() {
	rootCmd.AddCommand(historyCmd)
	historyCmd.AddCommand(historyListCmd, historyShowCmd, historyRmCmd, historyClearCmd, historyReplayCmd)

	historyCmd.PersistentFlags().String("backend", "", "History backend (remote, sqlite, local)")
	historyCmd.PersistentFlags().String("cache", "", "History cache (file, redis, none)")
	viper.BindPFlag("history.backend", historyCmd.PersistentFlags().Lookup("backend"))
	viper.BindPFlag("history.cache", historyCmd.PersistentFlags().Lookup("cache"))

	historyListCmd.Flags().Int("page", 1, "Page to show")
	historyListCmd.Flags().StringP("output", "o", "txt", "Output format (txt, json)")
	historyShowCmd.Flags().StringP("output", "o", "txt", "Output format (txt, json)")
	historyReplayCmd.Flags().StringP("output", "o", "txt", "Output format (txt, json)")
	historyReplayCmd.Flags().Int("attempts", 3, "Retry attempts on transient failures (0 = unlimited)")
	historyClearCmd.Flags().Bool("yes", false, "Confirm clearing the history")
}
