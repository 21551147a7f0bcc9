package commands

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
)

var unshareCmd = &cobra.Command{
	Use:   "unshare <sessionID>",
	Short: "Stop sharing a session",
	Long: `Unshare tells the server to delete everything published for the
session and forgets the share locally. Connected viewers are
disconnected and the URL stops working.`,
	Args: cobra.ExactArgs(1),
	RunE: runUnshare,
}

func runUnshare(cmd *cobra.Command, args []string) error {
	a, err := newApp()
	if err != nil {
		return err
	}
	defer a.Close()

	ctx := context.Background()
	sessionID := args[0]

	if !a.Shares.IsShared(ctx, sessionID) {
		return fmt.Errorf("session %s is not shared", sessionID)
	}

	if err := a.Shares.Remove(ctx, sessionID); err != nil {
		return fmt.Errorf("failed to unshare session: %w", err)
	}

	fmt.Printf("Session %s is no longer shared\n", sessionID)
	return nil
}
