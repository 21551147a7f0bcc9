// Package commands provides the CLI commands for sharesync.
package commands

import (
	"fmt"
	"io"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/opencode-ai/sharesync/internal/config"
	"github.com/opencode-ai/sharesync/internal/logging"
	"github.com/opencode-ai/sharesync/pkg/types"
)

var (
	// Version information set at build time
	Version   = "0.1.0"
	BuildTime = "dev"
)

// Global flags
var (
	printLogs bool
	logLevel  string
)

var rootCmd = &cobra.Command{
	Use:   "sharesync",
	Short: "sharesync - publish opencode sessions to the web",
	Long: `sharesync relays locally stored sessions to the share server so
anyone with the link can follow along in real time.

Run 'sharesync share <sessionID>' to share a session, 'sharesync sync'
to keep sessions written by other processes flowing, or
'sharesync serve' to run the share server itself.`,
	Version: Version,
	Run: func(cmd *cobra.Command, args []string) {
		cmd.Help()
	},
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		setupLogging()
	},
}

func init() {
	rootCmd.PersistentFlags().BoolVar(&printLogs, "print-logs", false, "Print logs to stderr")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "INFO", "Log level (DEBUG|INFO|WARN|ERROR)")

	rootCmd.SetVersionTemplate(fmt.Sprintf("sharesync %s (%s)\n", Version, BuildTime))

	rootCmd.AddCommand(shareCmd)
	rootCmd.AddCommand(unshareCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(syncCmd)
	rootCmd.AddCommand(serveCmd)
}

// Execute runs the root command.
func Execute() error {
	godotenv.Load()
	return rootCmd.Execute()
}

// setupLogging routes logs to a file under the XDG state dir so they
// never interleave with command output; --print-logs mirrors them to
// stderr as pretty console lines.
func setupLogging() {
	cfg := logging.DefaultConfig()
	cfg.Level = logging.ParseLevel(logLevel)
	cfg.LogToFile = true
	cfg.LogDir = config.GetPaths().LogPath()
	if printLogs {
		cfg.Pretty = true
	} else {
		cfg.Output = io.Discard
	}
	logging.Init(cfg)
}

// loadConfig loads the author config for the current directory and
// applies the log-level from it unless the flag overrode it.
func loadConfig() (*types.Config, error) {
	cwd, err := os.Getwd()
	if err != nil {
		return nil, err
	}
	cfg, err := config.Load(cwd)
	if err != nil {
		return nil, err
	}
	if cfg.Log != nil && cfg.Log.Level != "" && !rootCmd.PersistentFlags().Changed("log-level") {
		logging.Init(logging.Config{
			Level:     logging.ParseLevel(cfg.Log.Level),
			Pretty:    cfg.Log.Pretty || printLogs,
			LogToFile: true,
			LogDir:    config.GetPaths().LogPath(),
		})
	}
	return cfg, nil
}
