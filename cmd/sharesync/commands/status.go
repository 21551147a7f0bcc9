package commands

import (
	"context"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
)

var statusAll bool

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "List sessions and their share state",
	Long: `Status lists locally stored sessions together with their share URL,
if any. By default only shared sessions are shown; pass --all to
include unshared ones.`,
	RunE: runStatus,
}

func init() {
	statusCmd.Flags().BoolVarP(&statusAll, "all", "a", false, "Include sessions that are not shared")
}

func runStatus(cmd *cobra.Command, args []string) error {
	a, err := newApp()
	if err != nil {
		return err
	}
	defer a.Close()

	ctx := context.Background()
	sessions, err := a.Sessions.List(ctx)
	if err != nil {
		return fmt.Errorf("failed to list sessions: %w", err)
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "SESSION\tUPDATED\tTITLE\tSHARE URL\t")

	shown := 0
	for _, sess := range sessions {
		url := ""
		if info, err := a.Shares.Get(ctx, sess.ID); err == nil {
			url = info.URL
		}
		if url == "" && !statusAll {
			continue
		}

		title := sess.Title
		if len(title) > 40 {
			title = title[:37] + "..."
		}
		updated := time.UnixMilli(sess.Time.Updated).Format("2006-01-02 15:04")

		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t\n", sess.ID, updated, title, url)
		shown++
	}

	w.Flush()

	if shown == 0 {
		if statusAll {
			fmt.Println("No sessions found")
		} else {
			fmt.Println("No shared sessions. Use 'sharesync share <sessionID>' to share one.")
		}
	}

	return nil
}
