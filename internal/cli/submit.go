package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"mime"
	"os"
	"path/filepath"

	"github.com/fatih/color"
	"github.com/sentinelops/fleetsync/internal/core"
	"github.com/sentinelops/fleetsync/internal/models"
	"github.com/spf13/cobra"
)

var submitCmd = &cobra.Command{
	Use:   "submit",
	Short: "Record an inspection log",
	Long: `Record an inspection log for an asset.

The log is delivered straight to the server when it is reachable. Otherwise
(or when delivery fails) it is saved in the local queue and sent by the next
sync. Answers are passed as a JSON document with --data or --data-file.

Examples:
  fleetsync submit --asset 6f1c2a4e-... --data '{"items":{"horometer":"1320"}}'
  fleetsync submit --asset 6f1c2a4e-... --data-file answers.json --photo motor.jpg
  fleetsync submit --asset 6f1c2a4e-... --data '{}' --offline`,
	Run: runSubmit,
}

var (
	submitAsset    string
	submitType     string
	submitData     string
	submitDataFile string
	submitLocation string
	submitPhoto    string
	submitOffline  bool
)

func init() {
	f := submitCmd.Flags()
	f.StringVar(&submitAsset, "asset", "", "Asset id (UUID)")
	f.StringVar(&submitType, "type", string(models.SubmissionInspection), "Submission type (inspection|draft_inspection)")
	f.StringVar(&submitData, "data", "", "Answers as a JSON document")
	f.StringVar(&submitDataFile, "data-file", "", "Read answers from a JSON file")
	f.StringVar(&submitLocation, "location", "", "Fallback GPS location as \"lat,lng\"")
	f.StringVar(&submitPhoto, "photo", "", "Attach a photo")
	f.BoolVar(&submitOffline, "offline", false, "Queue without contacting the server")
	_ = submitCmd.MarkFlagRequired("asset")
	submitCmd.MarkFlagsMutuallyExclusive("data", "data-file")
}

func runSubmit(cmd *cobra.Command, args []string) {
	ctx := context.Background()

	sub, err := buildSubmission()
	if err != nil {
		exitError("%v", err)
	}

	c := initFullContext(ctx)
	defer c.Close()

	var conn core.Connectivity = core.NewSignal(false)
	if !submitOffline {
		conn = c.probeOnce(ctx)
	}

	router := core.NewRouter(c.Queue, c.Service, c.Uploader, conn, c.Logger)
	router.SetTimeout(c.Config.RecordDeadline())
	res, err := router.Submit(ctx, sub)
	if err != nil {
		exitError("%v", err)
	}

	if res.Delivered {
		color.New(color.FgGreen).Printf("Log %s delivered\n", shortID(res.Log.ID))
		return
	}

	color.New(color.FgYellow).Printf("Log %s queued for sync\n", shortID(res.PendingID))
	if res.Err != nil {
		fmt.Printf("  delivery failed: %v\n", res.Err)
	}
}

func buildSubmission() (*models.Submission, error) {
	data := json.RawMessage(submitData)
	if submitDataFile != "" {
		raw, err := os.ReadFile(submitDataFile)
		if err != nil {
			return nil, fmt.Errorf("read data file: %w", err)
		}
		data = raw
	}
	if len(data) == 0 {
		data = json.RawMessage(`{}`)
	}
	if !json.Valid(data) {
		return nil, fmt.Errorf("answers are not valid JSON")
	}

	sub := &models.Submission{
		AssetID:  submitAsset,
		Type:     models.SubmissionType(submitType),
		Data:     data,
		Location: submitLocation,
	}

	if submitPhoto != "" {
		raw, err := os.ReadFile(submitPhoto)
		if err != nil {
			return nil, fmt.Errorf("read photo: %w", err)
		}
		sub.Photo = &models.Photo{
			Name:        filepath.Base(submitPhoto),
			ContentType: mime.TypeByExtension(filepath.Ext(submitPhoto)),
			Data:        raw,
		}
	}
	return sub, nil
}
