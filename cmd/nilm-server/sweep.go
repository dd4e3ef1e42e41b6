package main

import (
	"fmt"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/sweeney/nilm-server/internal/store"
)

var sweepCmd = &cobra.Command{
	Use:   "sweep",
	Short: "Delete expired readings, events and detections",
	Long: `Applies the configured retention windows once and reports how many
rows were removed. The serve command runs this automatically on an interval.`,
	RunE: runSweep,
}

func init() {
	rootCmd.AddCommand(sweepCmd)
}

func runSweep(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	st, err := openStore(cfg)
	if err != nil {
		return fmt.Errorf("opening database: %w", err)
	}
	defer st.Close()

	deleted, err := st.SweepExpired(time.Now(), store.Retention{
		Readings:   cfg.GetReadingsRetention(),
		Events:     cfg.GetEventsRetention(),
		Detections: cfg.GetDetectionsRetention(),
	})
	if err != nil {
		return fmt.Errorf("sweeping: %w", err)
	}

	fmt.Printf("Removed %s expired rows\n", humanize.Comma(deleted))
	return nil
}
