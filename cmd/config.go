package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

var validateOnly bool

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Print the effective configuration (account key masked)",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		if validateOnly {
			if err := cfg.Validate(); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "✅ Configuration is valid")
			return nil
		}

		out, err := cfg.YAML()
		if err != nil {
			return err
		}
		_, err = cmd.OutOrStdout().Write(out)
		return err
	},
}

func init() {
	configCmd.Flags().BoolVar(&validateOnly, "validate", false, "Check the configuration instead of printing it")
	rootCmd.AddCommand(configCmd)
}
