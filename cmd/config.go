package cmd

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"
)

func configCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Inspect and validate configuration",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "show",
		Short: "Print the effective configuration",
		Run: func(cmd *cobra.Command, args []string) {
			cfg, path, err := loadConfig()
			if err != nil {
				fail(err)
			}
			data, err := json.MarshalIndent(cfg, "", "  ")
			if err != nil {
				fail(err)
			}
			fmt.Printf("# %s\n%s\n", path, data)
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "validate",
		Short: "Validate the configuration file",
		Run: func(cmd *cobra.Command, args []string) {
			cfg, path, err := loadConfig()
			if err != nil {
				fail(err)
			}
			if err := cfg.Validate(); err != nil {
				fail(fmt.Errorf("%s: %w", path, err))
			}
			fmt.Printf("%s is valid (%d channels enabled)\n", path, len(cfg.EnabledChannels()))
		},
	})
	return cmd
}
