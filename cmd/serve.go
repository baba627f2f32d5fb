package cmd

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"github.com/sw33tLie/spacescope/internal/metrics"
	"github.com/sw33tLie/spacescope/internal/server"
	"github.com/sw33tLie/spacescope/internal/utils"
	"github.com/sw33tLie/spacescope/pkg/storage"
	"golang.org/x/sync/errgroup"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the catalog, search and history API from the local database",
	RunE: func(cmd *cobra.Command, args []string) error {
		dbPath, _ := cmd.Flags().GetString("dbpath")

		db, err := storage.Open(dbPath)
		if err != nil {
			return err
		}
		defer db.Close()

		metrics.Register(prometheus.DefaultRegisterer)

		srv := server.New(db, viper.GetString("server.username"), viper.GetString("server.password"))
		srv.Log = utils.Log

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		g, ctx := errgroup.WithContext(ctx)
		g.Go(func() error {
			return srv.Start(ctx, viper.GetString("server.addr"))
		})
		g.Go(func() error {
			<-ctx.Done()
			utils.Log.Info("Shutting down")
			return nil
		})
		return g.Wait()
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
	serveCmd.Flags().String("listen", "", "HTTP listen address (overrides server.addr)")
	serveCmd.Flags().String("dbpath", "spacescope.sqlite", "Path to SQLite DB file")
	viper.BindPFlag("server.addr", serveCmd.Flags().Lookup("listen"))
}
