package cmd

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"
	"github.com/sw33tLie/spacescope/internal/utils"

	homedir "github.com/mitchellh/go-homedir"
	"github.com/spf13/viper"
)

var cfgFile string

const (
	LOGO = `                                                     
	 ___ _ __   __ _  ___ ___  ___  ___ ___  _ __   ___ 
	/ __| '_ \ / _' |/ __/ _ \/ __|/ __/ _ \| '_ \ / _ \
	\__ \ |_) | (_| | (_|  __/\__ \ (_| (_) | |_) |  __/
	|___/ .__/ \__,_|\___\___||___/\___\___/| .__/ \___|
	    |_|                                 |_|         

`
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "spacescope",
	Short: "Browse and search a space media catalog, and keep a replayable search history.",
	Long: LOGO + `spacescope browses a paginated media catalog, runs free-text searches against it
and keeps every completed search in a durable history you can list, inspect and replay.

It can also serve the catalog API itself from a local SQLite database.`,
	CompletionOptions: cobra.CompletionOptions{
		DisableDefaultCmd: true,
	},
	SilenceUsage: true,
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initConfig)
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is $HOME/.spacescope.yaml)")

	// Global flags
	rootCmd.PersistentFlags().StringP("proxy", "", "", "HTTP Proxy (Useful for debugging. Example: http://127.0.0.1:8080)")
	rootCmd.PersistentFlags().StringP("loglevel", "l", "info", "Set log level. Available: debug, info, warn, error, fatal")
	rootCmd.PersistentFlags().String("api", "", "Catalog API base URL (overrides api.url)")

	viper.BindPFlag("api.url", rootCmd.PersistentFlags().Lookup("api"))
	viper.BindPFlag("api.proxy", rootCmd.PersistentFlags().Lookup("proxy"))
}

func setDefaults() {
	home, _ := homedir.Dir()

	viper.SetDefault("api.url", "http://localhost:5000/api")
	viper.SetDefault("api.timeout", "15s")
	viper.SetDefault("api.retries", 1)
	viper.SetDefault("api.rps", 10)
	viper.SetDefault("catalog.pagesize", 20)
	viper.SetDefault("search.debounce", "500ms")
	viper.SetDefault("retry.countdown", 3)
	viper.SetDefault("retry.maxattempts", 0)
	viper.SetDefault("history.backend", "remote")
	viper.SetDefault("history.dbpath", "spacescope.sqlite")
	viper.SetDefault("history.cache", "file")
	viper.SetDefault("history.cachedir", filepath.Join(home, ".config", "spacescope"))
	viper.SetDefault("history.key", "spacescope-history")
	viper.SetDefault("history.pagesize", 100)
	viper.SetDefault("redis.url", "redis://localhost:6379/0")
	viper.SetDefault("server.addr", ":5000")
	viper.SetDefault("server.username", "")
	viper.SetDefault("server.password", "")
}

// initConfig reads in config file and ENV variables if set.
func initConfig() {
	setDefaults()

	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		home, err := homedir.Dir()
		if err != nil {
			fmt.Println(err)
			os.Exit(1)
		}
		viper.AddConfigPath(home)
		viper.SetConfigName(".spacescope")
		viper.SetConfigType("yaml")
	}

	viper.SetEnvPrefix("spacescope")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	// If a config file is found, read it in.
	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			// Config file not found; create it with defaults.
			home, _ := homedir.Dir()
			configPath := filepath.Join(home, ".spacescope.yaml")
			if err := viper.SafeWriteConfigAs(configPath); err != nil {
				fmt.Printf("Error creating config file: %s\n", err)
			}
		}
	}

	// Init log library
	levelString, _ := rootCmd.PersistentFlags().GetString("loglevel")
	if err := utils.SetLogLevel(levelString); err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
}
