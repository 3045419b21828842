package cli

import (
	"context"
	"fmt"

	"github.com/fatih/color"
	"github.com/sentinelops/fleetsync/internal/core"
	"github.com/spf13/cobra"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show connectivity and queue status",
	Long:  `Show whether the server is reachable and how many logs are waiting in the local queue.`,
	Run:   runStatus,
}

func runStatus(cmd *cobra.Command, args []string) {
	ctx := context.Background()
	c := initFullContext(ctx)
	defer c.Close()

	sig := c.probeOnce(ctx)
	coord := core.NewCoordinator(c.newEngine(sig, nil), c.Queue, sig, core.CoordinatorOptions{Logger: c.Logger})
	st := coord.Status(ctx)

	total, err := c.Queue.Count(ctx, false)
	if err != nil {
		exitError("failed to count queue: %v", err)
	}

	fmt.Printf("Server:  %s\n", c.Config.ServerURL)
	fmt.Printf("Queue:   %s (%s)\n", c.Config.QueuePath(), backendName(c.Config.QueueBackend))

	fmt.Print("Status:  ")
	if st.Online {
		color.New(color.FgGreen).Println("online")
	} else {
		color.New(color.FgRed).Println("offline")
	}

	fmt.Printf("Pending: %d\n", st.Pending)
	if total != st.Pending {
		fmt.Printf("Stored:  %d\n", total)
	}
	if st.LastSynced.IsZero() {
		fmt.Println("Synced:  never")
	} else {
		fmt.Printf("Synced:  %s\n", formatMillis(st.LastSynced.UnixMilli()))
	}

	if st.Pending > 0 && st.Online {
		color.New(color.FgYellow).Println("\nRun 'fleetsync sync' to deliver queued logs.")
	}
}

func backendName(b string) string {
	if b == "" {
		return "bbolt"
	}
	return b
}
