package cmd

import (
	"context"
	"fmt"
	"os"
	"sync"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"github.com/sw33tLie/spacescope/internal/utils"
	"github.com/sw33tLie/spacescope/pkg/explorer"
)

// runOnce drives an explorer until it settles: the first page, then up to
// pages-1 more. The returned view is the final state.
func runOnce(ctx context.Context, cfg explorer.Config, pages int) (explorer.View, error) {
	ex, err := explorer.New(cfg)
	if err != nil {
		return explorer.View{}, err
	}
	defer ex.Close()

	ex.Start()
	if err := ex.WaitIdle(ctx); err != nil {
		return ex.View(), err
	}
	for i := 1; i < pages; i++ {
		if !ex.LoadMore() {
			break
		}
		if err := ex.WaitIdle(ctx); err != nil {
			return ex.View(), err
		}
	}
	return ex.View(), nil
}

func oneShotConfig(cmd *cobra.Command, e *engine) explorer.Config {
	attempts, _ := cmd.Flags().GetInt("attempts")
	var mu sync.Mutex
	lastShown := -1
	return explorer.Config{
		Catalog:          e.catalog,
		PageSize:         viper.GetInt("catalog.pagesize"),
		RetryCountdown:   viper.GetInt("retry.countdown"),
		RetryMaxAttempts: attempts,
		Log:              utils.Log,
		OnChange: func(v explorer.View) {
			mu.Lock()
			defer mu.Unlock()
			if !v.Retry.Active || v.Retry.InFlight {
				lastShown = -1
				return
			}
			if v.Retry.SecondsRemaining != lastShown {
				lastShown = v.Retry.SecondsRemaining
				utils.Log.Infof("Request failed, retrying in %d seconds", lastShown)
			}
		},
	}
}

var browseCmd = &cobra.Command{
	Use:   "browse",
	Short: "List catalog items page by page",
	RunE: func(cmd *cobra.Command, args []string) error {
		pages, _ := cmd.Flags().GetInt("pages")
		output, _ := cmd.Flags().GetString("output")

		e, err := newEngine()
		if err != nil {
			return err
		}
		defer e.close()

		v, err := runOnce(cmd.Context(), oneShotConfig(cmd, e), pages)
		if err != nil {
			return err
		}
		if v.Stream.Err != nil && len(v.Stream.Items) == 0 {
			return fmt.Errorf("browse failed: %w", v.Stream.Err)
		}
		if v.Stream.Err != nil {
			utils.Log.Warnf("Stopped early: %v", v.Stream.Err)
		}

		if err := printItems(os.Stdout, output, v.Stream.Items, nil); err != nil {
			return err
		}
		if output != "json" {
			fmt.Printf("\n%d of %d items", len(v.Stream.Items), v.Stream.TotalItems)
			if v.Stream.HasMore {
				fmt.Print(" (more available, use --pages)")
			}
			fmt.Println()
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(browseCmd)
	browseCmd.Flags().IntP("pages", "p", 1, "Number of pages to load")
	browseCmd.Flags().StringP("output", "o", "txt", "Output format (txt, json)")
	browseCmd.Flags().Int("attempts", 3, "Retry attempts on transient failures (0 = unlimited)")
}
