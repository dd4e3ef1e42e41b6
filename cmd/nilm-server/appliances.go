package main

import (
	"fmt"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
)

var appliancesCmd = &cobra.Command{
	Use:   "appliances",
	Short: "List the appliance catalogue",
	Long:  `Displays all known appliance profiles and how much each has learned.`,
	RunE:  runAppliances,
}

func init() {
	rootCmd.AddCommand(appliancesCmd)
}

func runAppliances(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	st, err := openStore(cfg)
	if err != nil {
		return fmt.Errorf("opening database: %w", err)
	}
	defer st.Close()

	profiles, err := st.ListProfiles()
	if err != nil {
		return fmt.Errorf("listing profiles: %w", err)
	}
	if len(profiles) == 0 {
		fmt.Println("No appliances found (run 'nilm-server seed' first)")
		return nil
	}

	fmt.Printf("%-20s %10s %18s %8s  %s\n", "Appliance", "Typical W", "Range W", "Learned", "Last Updated")
	fmt.Println("--------------------------------------------------------------------------------")
	for _, p := range profiles {
		updated := "never"
		if !p.LastUpdated.IsZero() {
			updated = humanize.Time(p.LastUpdated)
		}
		fmt.Printf("%-20s %10.0f %8.0f - %7.0f %8d  %s\n",
			p.Name, p.TypicalPower, p.MinPower, p.MaxPower, p.LearningCount, updated)
	}
	fmt.Printf("\n%d appliances\n", len(profiles))
	return nil
}
