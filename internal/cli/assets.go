package cli

import (
	"context"
	"fmt"

	"github.com/fatih/color"
	"github.com/sentinelops/fleetsync/internal/models"
	"github.com/sentinelops/fleetsync/internal/remote"
	"github.com/spf13/cobra"
)

var assetsCmd = &cobra.Command{
	Use:   "assets",
	Short: "List fleet assets",
	Run:   runAssetsList,
}

var assetsCreateCmd = &cobra.Command{
	Use:   "create",
	Short: "Register a new asset",
	Run:   runAssetsCreate,
}

var assetsLogsCmd = &cobra.Command{
	Use:   "logs <asset-id>",
	Short: "Show delivered logs of an asset, newest first",
	Args:  cobra.ExactArgs(1),
	Run:   runAssetsLogs,
}

var assetReq remote.CreateAssetRequest

func init() {
	assetsCmd.AddCommand(assetsCreateCmd, assetsLogsCmd)

	f := assetsCreateCmd.Flags()
	f.StringVar(&assetReq.Name, "name", "", "Display name")
	f.StringVar(&assetReq.InternalID, "internal-id", "", "Internal fleet code (e.g. MIN-EXC-001)")
	f.StringVar(&assetReq.Category, "category", "heavy_machinery", "Category")
	f.StringVar(&assetReq.Brand, "brand", "", "Brand")
	f.StringVar(&assetReq.Model, "model", "", "Model")
	f.Float64Var(&assetReq.CurrentHours, "hours", 0, "Current hour meter reading")
	f.StringVar(&assetReq.Location, "location", "", "Site or location name")
	_ = assetsCreateCmd.MarkFlagRequired("name")
	_ = assetsCreateCmd.MarkFlagRequired("internal-id")
}

func runAssetsList(cmd *cobra.Command, args []string) {
	ctx := context.Background()
	c := initFullContext(ctx)
	defer c.Close()

	assets, err := c.Client.ListAssets(ctx)
	if err != nil {
		exitError("%v", err)
	}
	if len(assets) == 0 {
		fmt.Println("No assets")
		return
	}
	printAssets(assets)
}

func runAssetsCreate(cmd *cobra.Command, args []string) {
	ctx := context.Background()
	c := initFullContext(ctx)
	defer c.Close()

	a, err := c.Client.CreateAsset(ctx, &assetReq)
	if err != nil {
		exitError("%v", err)
	}
	color.New(color.FgGreen).Printf("Created asset %s\n", a.InternalID)
	fmt.Printf("  ID: %s\n", a.ID)
}

func runAssetsLogs(cmd *cobra.Command, args []string) {
	ctx := context.Background()
	c := initFullContext(ctx)
	defer c.Close()

	logs, err := c.Client.ListAssetLogs(ctx, args[0])
	if err != nil {
		exitError("%v", err)
	}
	if len(logs) == 0 {
		fmt.Println("No logs")
		return
	}

	yellow := color.New(color.FgYellow)
	for _, l := range logs {
		yellow.Printf("log %s\n", l.ID)
		fmt.Printf("Date:     %s\n", l.CreatedAt.Local().Format("2006-01-02 15:04:05"))
		if l.OperatorID != "" {
			fmt.Printf("Operator: %s\n", shortID(l.OperatorID))
		}
		if l.HoursReading > 0 {
			fmt.Printf("Hours:    %.1f\n", l.HoursReading)
		}
		if l.PhotoURL != "" {
			fmt.Printf("Photo:    %s\n", l.PhotoURL)
		}
		fmt.Println()
	}
}

func printAssets(assets []*models.Asset) {
	fmt.Printf("  %-14s  %-28s  %-8s  %10s  %s\n", "Code", "Name", "Status", "Hours", "ID")
	for _, a := range assets {
		fmt.Printf("  %-14s  %-28s  ", a.InternalID, a.Name)
		statusColor(a.Status).Printf("%-8s", a.Status)
		fmt.Printf("  %10.1f  %s\n", a.CurrentHours, a.ID)
	}
}

func statusColor(s models.AssetStatus) *color.Color {
	switch s {
	case models.AssetActive:
		return color.New(color.FgGreen)
	case models.AssetWarning, models.AssetMaintenance:
		return color.New(color.FgYellow)
	case models.AssetDown:
		return color.New(color.FgRed)
	default:
		return color.New(color.Faint)
	}
}
