// Package cmd implements the iris command-line interface.
package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/nextlevelbuilder/iris/internal/config"
	"github.com/nextlevelbuilder/iris/internal/logging"
)

// Version is set at build time via -ldflags "-X github.com/nextlevelbuilder/iris/cmd.Version=v1.0.0"
var Version = "dev"

var (
	cfgFile string
	verbose bool
)

var rootCmd = &cobra.Command{
	Use:   "iris",
	Short: "Iris — multi-channel messaging gateway for AI agents",
	Long:  "Iris bridges chat platforms (Telegram, WhatsApp, Discord, Slack, webchat) to a conversational AI backend, with pairing-based access control, streaming responses, and scheduled jobs.",
	Run: func(cmd *cobra.Command, args []string) {
		if err := runGateway(); err != nil {
			fail(err)
		}
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: iris.config.json or $IRIS_CONFIG_PATH)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")

	rootCmd.AddCommand(gatewayCmd())
	rootCmd.AddCommand(sendCmd())
	rootCmd.AddCommand(statusCmd())
	rootCmd.AddCommand(configCmd())
	rootCmd.AddCommand(pairingCmd())
	rootCmd.AddCommand(sessionCmd())
	rootCmd.AddCommand(cronCmd())
	rootCmd.AddCommand(securityCmd())
	rootCmd.AddCommand(doctorCmd())
	rootCmd.AddCommand(scanCmd())
	rootCmd.AddCommand(versionCmd())
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("iris %s\n", Version)
		},
	}
}

// loadConfig resolves the config path, loads it, and initializes logging
// honoring the verbose flag.
func loadConfig() (*config.Config, string, error) {
	path := config.ResolvePath(cfgFile)
	cfg, err := config.Load(path)
	if err != nil {
		return nil, path, err
	}
	level := cfg.Logging.Level
	if verbose {
		level = "debug"
	}
	logging.Setup(logging.Options{Level: level, File: cfg.Logging.File, JSON: cfg.Logging.JSON})
	return cfg, path, nil
}

// fail prints an error and exits 1; all subcommands use it so the exit-code
// contract stays uniform.
func fail(err error) {
	fmt.Fprintln(os.Stderr, "Error:", err)
	os.Exit(1)
}

// Execute runs the root cobra command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
