package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"collectroute/internal/config"
	"collectroute/internal/logging"
)

var cfg config.Config

var rootCmd = &cobra.Command{
	Use:   "collectroute",
	Short: "Waste-collection route lifecycle service",
	Long: `collectroute tracks collection routes and their houses through their lifecycle,
keeps an append-only history of every transition, derives team and driver statistics,
and turns live device positions into proximity alerts for the houses on a route.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		c, err := config.Load(viper.GetViper(), viper.GetString("config"))
		if err != nil {
			return err
		}
		if _, err := logging.Setup(logging.Options{Level: c.Log.Level, Format: c.Log.Format, File: c.Log.File}); err != nil {
			return err
		}
		cfg = c
		return nil
	},
}

func main() {
	cobra.OnInitialize(initConfig)
	addPersistentFlags()
	registerCommands()
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func initConfig() {
	config.LoadDotEnv()
	config.Bind(viper.GetViper())
}

func addPersistentFlags() {
	f := rootCmd.PersistentFlags()
	f.String("config", "", "YAML config file")
	f.String("db-driver", "", "store backend: memory, postgres or sqlite")
	f.String("db-url", "", "postgres DSN or sqlite file path")
	f.String("log-level", "", "log level")
	f.Bool("json", false, "output JSON")
	_ = viper.BindPFlag("config", f.Lookup("config"))
	_ = viper.BindPFlag("db.driver", f.Lookup("db-driver"))
	_ = viper.BindPFlag("db.url", f.Lookup("db-url"))
	_ = viper.BindPFlag("log.level", f.Lookup("log-level"))
	_ = viper.BindPFlag("json", f.Lookup("json"))
}

func registerCommands() {
	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(migrateCmd())
	rootCmd.AddCommand(statsCmd())
	rootCmd.AddCommand(historyCmd())
	rootCmd.AddCommand(versionCmd())
}
