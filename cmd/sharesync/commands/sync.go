package commands

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/opencode-ai/sharesync/internal/logging"
	"github.com/opencode-ai/sharesync/internal/storage"
)

var syncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Watch local storage and sync shared sessions",
	Long: `Sync runs until interrupted, watching the storage directory for
session writes made by other processes and pushing them to the share
server. Only sessions that are already shared are synced.

Run this alongside an editor or agent that writes sessions itself so
viewers keep receiving updates without the writer knowing about
sharesync.`,
	RunE: runSync,
}

func runSync(cmd *cobra.Command, args []string) error {
	a, err := newApp()
	if err != nil {
		return err
	}
	defer a.Close()

	watcher, err := storage.NewWatcher(a.Storage, a.Bus)
	if err != nil {
		return fmt.Errorf("failed to watch storage: %w", err)
	}
	watcher.Start()
	defer watcher.Stop()

	logging.Info().Str("dir", a.Storage.BasePath()).Msg("watching storage for session writes")
	fmt.Println("Syncing shared sessions. Press Ctrl+C to stop.")

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	fmt.Println("\nStopping...")
	return nil
}
