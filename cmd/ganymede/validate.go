package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"mercator-hq/ganymede/pkg/config"
	"mercator-hq/ganymede/pkg/tier"
)

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate configuration and tier policy",
	Long: `Validate the configuration file and, if one is referenced, the tier
policy table. Exits non-zero on the first problem found.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		fmt.Println("✓ Configuration valid")

		if cfg.Tiers.FilePath != "" {
			table, err := tier.LoadTable(cfg.Tiers.FilePath)
			if err != nil {
				return fmt.Errorf("tier table: %w", err)
			}
			if _, ok := table[tier.Tier(cfg.Tiers.DefaultTier)]; !ok {
				return fmt.Errorf("tier table: default tier %q not present in %s", cfg.Tiers.DefaultTier, cfg.Tiers.FilePath)
			}
			fmt.Printf("✓ Tier table valid (%d tiers)\n", len(table))
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(validateCmd)
}

// loadConfig resolves the effective configuration: the file named by
// --config when given, otherwise built-in defaults plus environment
// overrides.
func loadConfig() (*config.Config, error) {
	if cfgFile == "" {
		return config.Default(), nil
	}
	return config.LoadWithEnvOverrides(cfgFile)
}
