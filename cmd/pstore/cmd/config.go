package cmd

import (
	"fmt"

	"github.com/goccy/go-yaml"
	"github.com/spf13/cobra"
)

// configCmd prints the effective configuration
var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Print the effective configuration as yaml",
	Long: `Resolve the configuration exactly as serve would, defaults included,
and print it as yaml together with the sources it was built from.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		eff, err := effectiveConfig(cmd)
		if err != nil {
			return err
		}
		out, err := yaml.Marshal(eff.Config)
		if err != nil {
			return fmt.Errorf("encode config: %w", err)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "# source: %s\n", eff.Source)
		_, err = cmd.OutOrStdout().Write(out)
		return err
	},
}

func init() {
	rootCmd.AddCommand(configCmd)

	configCmd.Flags().String("root", "", "directory holding one store per partition (overrides config)")
}
