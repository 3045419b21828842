package cli

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/fatih/color"
	"github.com/sentinelops/fleetsync/internal/core"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

var agentCmd = &cobra.Command{
	Use:   "agent",
	Short: "Keep the queue in sync in the background",
	Long: `Run until interrupted, delivering queued logs whenever the server is
reachable. A sync starts on launch, every sync_interval, and each time the
server comes back after being unreachable.`,
	Run: runAgent,
}

func runAgent(cmd *cobra.Command, args []string) {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	c := initFullContext(ctx)
	defer c.Close()

	sig := c.probeOnce(ctx)
	prober := core.NewProber(c.Client, sig, c.Config.ProbeEvery(), c.Logger)

	green := color.New(color.FgGreen)
	coord := core.NewCoordinator(c.newEngine(sig, nil), c.Queue, sig, core.CoordinatorOptions{
		Interval: c.Config.SyncEvery(),
		Logger:   c.Logger,
		OnSynced: func(r *core.SyncResult) {
			green.Printf("%s  %d report(s) synced\n", time.Now().Format("15:04:05"), r.Delivered)
		},
	})

	c.Logger.Info("agent started", "server", c.Config.ServerURL, "online", sig.Online(),
		"sync_interval", c.Config.SyncEvery(), "probe_interval", c.Config.ProbeEvery())

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return prober.Run(gctx) })
	g.Go(func() error { return coord.Run(gctx) })

	if err := g.Wait(); err != nil {
		exitError("%v", err)
	}
	c.Logger.Info("agent stopped")
}
