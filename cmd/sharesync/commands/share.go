package commands

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
)

var shareCmd = &cobra.Command{
	Use:   "share <sessionID>",
	Short: "Share a session and print its URL",
	Long: `Share publishes a session to the share server and prints the URL
viewers can open. Sharing an already shared session prints the existing
URL; the stored history is re-synced either way so the server never
misses fragments written while sharesync was not running.`,
	Args: cobra.ExactArgs(1),
	RunE: runShare,
}

func runShare(cmd *cobra.Command, args []string) error {
	a, err := newApp()
	if err != nil {
		return err
	}
	defer a.Close()

	ctx := context.Background()
	sessionID := args[0]

	if _, err := a.Sessions.Get(ctx, sessionID); err != nil {
		return fmt.Errorf("session %s: %w", sessionID, err)
	}

	info, err := a.Shares.Create(ctx, sessionID)
	if err != nil {
		return fmt.Errorf("failed to share session: %w", err)
	}

	fmt.Println(info.URL)
	return nil
}
