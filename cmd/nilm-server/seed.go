package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/sweeney/nilm-server/internal/nilm"
)

var seedCmd = &cobra.Command{
	Use:   "seed",
	Short: "Seed the appliance catalogue",
	Long: `Inserts the built-in appliance profiles into the database. Profiles
that already exist (including learned ones) are left untouched.`,
	RunE: runSeed,
}

func init() {
	rootCmd.AddCommand(seedCmd)
}

func runSeed(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	st, err := openStore(cfg)
	if err != nil {
		return fmt.Errorf("opening database: %w", err)
	}
	defer st.Close()

	before, err := st.ListProfiles()
	if err != nil {
		return fmt.Errorf("listing profiles: %w", err)
	}
	if err := st.Seed(nilm.SeedProfiles()); err != nil {
		return fmt.Errorf("seeding: %w", err)
	}
	after, err := st.ListProfiles()
	if err != nil {
		return fmt.Errorf("listing profiles: %w", err)
	}

	fmt.Printf("Seeded %d new profiles (%d total)\n", len(after)-len(before), len(after))
	return nil
}
