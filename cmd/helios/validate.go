package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"helios-hq/helios/pkg/adapterfactory"
	"helios-hq/helios/pkg/config"
)

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate the configuration file",
	Long: `Load the configuration file, apply defaults, and report every
structural problem: malformed YAML, invalid provider records, and
adapter configurations that would be rejected at startup.

Examples:
  # Validate the default config
  helios validate

  # Validate a specific file
  helios validate --config /etc/helios/config.yaml`,
	RunE: validateConfig,
}

func init() {
	rootCmd.AddCommand(validateCmd)
}

func validateConfig(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return err
	}

	// Provider records passed structural validation; also run each
	// adapter's own config check.
	problems := 0
	for i := range cfg.Providers {
		p := &cfg.Providers[i]
		adapter, err := adapterfactory.New(p)
		if err != nil {
			fmt.Printf("✗ provider %q: %v\n", p.Slug, err)
			problems++
			continue
		}
		result := adapter.ValidateConfig()
		adapter.Close()
		if !result.Valid {
			for _, msg := range result.Errors {
				fmt.Printf("✗ provider %q: %s\n", p.Slug, msg)
			}
			problems += len(result.Errors)
			continue
		}
		if verbose {
			fmt.Printf("✓ provider %q (%s)\n", p.Slug, p.Type)
		}
	}

	if problems > 0 {
		return fmt.Errorf("%d configuration problem(s) found", problems)
	}
	fmt.Println("✓ Configuration valid")
	return nil
}
