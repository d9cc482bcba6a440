package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

const appVersion = "1.0.0"

var (
	// Global flags
	configPath string
	verbose    bool

	// Logger
	logger *zap.Logger
)

// rootCmd represents the base command
var rootCmd = &cobra.Command{
	Use:   "convergeai",
	Short: "ConvergeAI - multi-agent customer service core",
	Long: `ConvergeAI is the conversational core of a home-services marketplace.

A coordinator routes each turn to a specialist agent (booking, complaint,
discovery, policy), slot-filling workflows drive bookings and cancellations
to commit, and an operational layer watches complaint SLA clocks and ranks
open work for staff.

Run "convergeai serve" to expose the HTTP API, or "convergeai chat" for an
interactive session against the same pipeline.`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		// The chat REPL owns the terminal; keep zap out of it.
		if cmd.Name() == "chat" {
			logger = zap.NewNop()
			return nil
		}

		config := zap.NewProductionConfig()
		if verbose {
			config.Level = zap.NewAtomicLevelAt(zapcore.DebugLevel)
		}
		var err error
		logger, err = config.Build()
		if err != nil {
			return fmt.Errorf("failed to initialize logger: %w", err)
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if logger != nil {
			_ = logger.Sync()
		}
	},
}

// versionCmd prints the build version
var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the convergeai version",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("convergeai %s\n", appVersion)
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "config.yaml", "Path to the YAML config file")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable verbose logging")

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(chatCmd)
	rootCmd.AddCommand(ingestCmd)
	rootCmd.AddCommand(seedCmd)
	rootCmd.AddCommand(opsCmd)
	rootCmd.AddCommand(versionCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
