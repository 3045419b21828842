package cli

import (
	"context"
	"fmt"

	"github.com/fatih/color"
	"github.com/sentinelops/fleetsync/internal/core"
	"github.com/sentinelops/fleetsync/internal/models"
	"github.com/spf13/cobra"
)

var syncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Deliver queued logs to the server",
	Long: `Deliver every queued log to the fleet log service.

Delivered logs are removed from the queue. Logs the server rejects for an
unknown or malformed asset are dropped. Everything else stays queued for the
next sync.`,
	Run: runSync,
}

var syncQuiet bool

func init() {
	syncCmd.Flags().BoolVarP(&syncQuiet, "quiet", "q", false, "Only print the summary")
}

func runSync(cmd *cobra.Command, args []string) {
	ctx := context.Background()
	c := initFullContext(ctx)
	defer c.Close()

	sig := c.probeOnce(ctx)
	if !sig.Online() {
		n, _ := c.Queue.Count(ctx, true)
		color.New(color.FgYellow).Printf("Server %s is not reachable; %d log(s) remain queued\n", c.Config.ServerURL, n)
		return
	}

	green := color.New(color.FgGreen)
	red := color.New(color.FgRed)
	yellow := color.New(color.FgYellow)

	progress := func(current, total int, rec *models.PendingLog, outcome string) {
		if syncQuiet {
			return
		}
		col := yellow
		switch outcome {
		case "delivered":
			col = green
		case "evicted":
			col = red
		}
		fmt.Printf("[%d/%d] %s ", current, total, shortID(rec.ID))
		col.Println(outcome)
	}

	coord := core.NewCoordinator(c.newEngine(sig, progress), c.Queue, sig, core.CoordinatorOptions{Logger: c.Logger})
	res, started, err := coord.RequestSync(ctx, core.TriggerManual)
	if err != nil {
		exitError("sync failed: %v", err)
	}
	if !started || res.Empty() {
		fmt.Println("Nothing to sync")
		return
	}

	green.Printf("%d report(s) synced\n", res.Delivered)
	if res.Evicted > 0 {
		red.Printf("%d report(s) dropped as invalid\n", res.Evicted)
	}
	if res.Retained > 0 {
		yellow.Printf("%d report(s) kept for retry\n", res.Retained)
	}
}
