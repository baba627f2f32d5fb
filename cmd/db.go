package cmd

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"github.com/sw33tLie/spacescope/internal/utils"
	"github.com/sw33tLie/spacescope/pkg/catalog"
	"github.com/sw33tLie/spacescope/pkg/storage"
)

var dbPath string

// dbCmd represents the db command
var dbCmd = &cobra.Command{
	Use:   "db",
	Short: "Interact with the spacescope database",
}

// shellCmd represents the shell command
var shellCmd = &cobra.Command{
	Use:   "shell",
	Short: "Start an interactive shell to the database",
	RunE: func(cmd *cobra.Command, args []string) error {
		dbPath, _ := cmd.Parent().Flags().GetString("dbpath")
		if dbPath == "" {
			dbPath = "spacescope.sqlite"
		}

		if _, err := os.Stat(dbPath); os.IsNotExist(err) {
			return fmt.Errorf("database file not found: %s", dbPath)
		}

		// Check if sqlite3 is in PATH
		sqlitePath, err := exec.LookPath("sqlite3")
		if err != nil {
			return fmt.Errorf("sqlite3 command not found in your PATH. Please install it to use the db shell")
		}

		// Print schema first
		fmt.Println("--> Database schema:")
		schemaCmd := exec.Command(sqlitePath, dbPath, ".schema")
		schemaCmd.Stdout = os.Stdout
		schemaCmd.Stderr = os.Stderr
		if err := schemaCmd.Run(); err != nil {
			fmt.Fprintf(os.Stderr, "Warning: couldn't retrieve schema: %v\n", err)
		}
		fmt.Println("\n--> Starting interactive shell... (Ctrl+D to exit)")

		c := exec.Command(sqlitePath, dbPath)
		c.Stdin = os.Stdin
		c.Stdout = os.Stdout
		c.Stderr = os.Stderr

		return c.Run()
	},
}

// statsCmd represents the stats command
var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Prints statistics about the catalog and the search history in the database.",
	Long:  "Prints statistics about the catalog and the search history in the database.",
	RunE: func(cmd *cobra.Command, args []string) error {
		dbPath, _ := cmd.Parent().Flags().GetString("dbpath")
		if dbPath == "" {
			dbPath = "spacescope.sqlite"
		}

		if _, err := os.Stat(dbPath); os.IsNotExist(err) {
			return fmt.Errorf("database file not found: %s", dbPath)
		}

		db, err := storage.Open(dbPath)
		if err != nil {
			return err
		}
		defer db.Close()

		stats, err := db.GetStats(context.Background())
		if err != nil {
			return err
		}

		if stats.Items == 0 && stats.Searches == 0 {
			fmt.Println("No data in the database to generate stats.")
			return nil
		}

		fmt.Printf("Items: %d\nSearches: %d\n\n", stats.Items, stats.Searches)

		w := tabwriter.NewWriter(os.Stdout, 0, 0, 3, ' ', tabwriter.AlignRight)
		fmt.Fprintln(w, "CATEGORY\tITEMS\t")
		for _, c := range stats.Categories {
			fmt.Fprintf(w, "%s\t%d\t\n", c.Category, c.Count)
		}
		fmt.Fprintln(w, " \t \t")
		fmt.Fprintln(w, "MEDIA DOMAIN\tITEMS\t")
		for _, d := range stats.Domains {
			fmt.Fprintf(w, "%s\t%d\t\n", d.Domain, d.Count)
		}
		w.Flush()

		return nil
	},
}

// importCmd represents the import command
var importCmd = &cobra.Command{
	Use:   "import <collection.json>",
	Short: "Replace the catalog with the items of a NASA media collection file",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		dbPath, _ := cmd.Parent().Flags().GetString("dbpath")
		firstID, _ := cmd.Flags().GetInt("first-id")

		raw, err := os.ReadFile(args[0])
		if err != nil {
			return err
		}

		items, err := catalog.ParseCollection(string(raw), firstID)
		if err != nil {
			return fmt.Errorf("parsing %s: %w", args[0], err)
		}

		db, err := storage.Open(dbPath)
		if err != nil {
			return err
		}
		defer db.Close()

		if err := db.ReplaceCatalog(cmd.Context(), items); err != nil {
			return err
		}
		utils.Log.Infof("Imported %d items into %s", len(items), dbPath)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(dbCmd)
	dbCmd.AddCommand(shellCmd)
	dbCmd.AddCommand(statsCmd)
	dbCmd.AddCommand(importCmd)
	dbCmd.PersistentFlags().StringVar(&dbPath, "dbpath", "spacescope.sqlite", "Path to SQLite DB file")
	importCmd.Flags().Int("first-id", 1, "ID assigned to the first imported item")
}
