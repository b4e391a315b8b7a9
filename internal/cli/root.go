package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"arbwatch/internal/app"
	"arbwatch/internal/config"
	"arbwatch/internal/logging"
)

var (
	cfgFile   string
	logDir    string
	logLevel  string
	appHandle *app.App
)

// Commands that never touch configuration.
var configFree = map[string]bool{
	"version": true,
	"replay":  true,
	"help":    true,
}

var rootCmd = &cobra.Command{
	Use:   "monitor",
	Short: "Monitor Kalshi/Polymarket pairs for net-positive arbitrage windows",
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if appHandle != nil || configFree[cmd.Name()] {
			return nil
		}

		cfg, err := config.Load(cfgFile)
		if err != nil {
			return err
		}

		if logLevel != "" {
			cfg.Logging.Level = logLevel
		}

		logger := logging.NewLogger(cfg.Logging)
		appHandle = app.NewApp(cfg, logger, logDir)
		return nil
	},
	RunE: func(cmd *cobra.Command, args []string) error {
		return getApp().Run(cmd.Context())
	},
}

// Execute runs the root command and exits with the contract's code.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(app.ExitCode(err))
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "Path to JSON configuration file")
	rootCmd.PersistentFlags().StringVar(&logDir, "log-dir", "data", "Directory for CSV logs, errors.log, and checkpoints")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Override log level defined in config")
	rootCmd.SilenceUsage = true

	rootCmd.AddCommand(replayCmd)
	rootCmd.AddCommand(exportCmd)
	rootCmd.AddCommand(showCmd)
	rootCmd.AddCommand(simulateCmd)
	rootCmd.AddCommand(versionCmd)
}

func getApp() *app.App {
	if appHandle == nil {
		panic("application not initialized; PersistentPreRunE not executed")
	}
	return appHandle
}
