package cli

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/fatih/color"
	"github.com/sentinelops/fleetsync/internal/models"
	"github.com/sentinelops/fleetsync/internal/store"
	"github.com/spf13/cobra"
)

var pendingCmd = &cobra.Command{
	Use:   "pending",
	Short: "Inspect the local queue",
	Run:   runPendingList,
}

var pendingShowCmd = &cobra.Command{
	Use:   "show <id>",
	Short: "Show a queued log",
	Args:  cobra.ExactArgs(1),
	Run:   runPendingShow,
}

func init() {
	pendingCmd.AddCommand(pendingShowCmd)
}

func runPendingList(cmd *cobra.Command, args []string) {
	ctx := context.Background()
	c := initContext()
	defer c.Close()

	logs, err := c.Queue.ListPending(ctx)
	if err != nil {
		exitError("failed to list queue: %v", err)
	}
	if len(logs) == 0 {
		fmt.Println("Queue is empty")
		return
	}

	yellow := color.New(color.FgYellow)
	for _, l := range logs {
		yellow.Printf("%s", shortID(l.ID))
		fmt.Printf("  %s  asset %s", formatMillis(l.CreatedAt), shortID(l.AssetID))
		if l.HoursReading > 0 {
			fmt.Printf("  %.1f h", l.HoursReading)
		}
		if l.Photo != nil {
			fmt.Printf("  [photo %d B]", l.Photo.Size())
		}
		fmt.Println()
	}
	fmt.Printf("\n%d log(s) pending\n", len(logs))
}

func runPendingShow(cmd *cobra.Command, args []string) {
	ctx := context.Background()
	c := initContext()
	defer c.Close()

	l, err := c.Queue.Get(ctx, args[0])
	if errors.Is(err, store.ErrNotFound) {
		l, err = findByPrefix(ctx, c.Queue, args[0])
	}
	if err != nil {
		exitError("%v", err)
	}

	color.New(color.FgYellow).Printf("log %s\n", l.ID)
	fmt.Printf("Asset:    %s\n", l.AssetID)
	if l.OperatorID != "" {
		fmt.Printf("Operator: %s\n", l.OperatorID)
	}
	fmt.Printf("Type:     %s\n", l.Type)
	fmt.Printf("Created:  %s\n", formatMillis(l.CreatedAt))
	if l.HoursReading > 0 {
		fmt.Printf("Hours:    %.1f\n", l.HoursReading)
	}
	if l.GPSLocation != nil {
		fmt.Printf("Location: %.5f,%.5f\n", l.GPSLocation.Lat, l.GPSLocation.Lng)
	}
	if l.Photo != nil {
		fmt.Printf("Photo:    %s (%d bytes)\n", l.Photo.Name, l.Photo.Size())
	}
	if len(l.Answers) > 0 {
		fmt.Printf("\n%s\n", l.Answers)
	}
}

// findByPrefix resolves an abbreviated id as printed by 'pending'.
func findByPrefix(ctx context.Context, q store.Queue, prefix string) (*models.PendingLog, error) {
	logs, err := q.ListPending(ctx)
	if err != nil {
		return nil, err
	}
	var match *models.PendingLog
	for _, l := range logs {
		if strings.HasPrefix(l.ID, prefix) {
			if match != nil {
				return nil, fmt.Errorf("ambiguous id %q", prefix)
			}
			match = l
		}
	}
	if match == nil {
		return nil, fmt.Errorf("no queued log %q", prefix)
	}
	return match, nil
}
