package cmd

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"firestige.xyz/pktstream/internal/config"
)

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate the configuration file",
	Long: `Load the configuration file with environment overrides applied and check it
without starting the daemon. With --print the effective configuration is
written as YAML, with the InfluxDB token masked.

Examples:
  pktstream validate -c config.yml
  pktstream validate -c config.yml --print`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runValidate(configFile, validatePrint, cmd.OutOrStdout())
	},
}

var validatePrint bool

func init() {
	validateCmd.Flags().BoolVar(&validatePrint, "print", false,
		"print the effective configuration")
}

func runValidate(path string, printConfig bool, out io.Writer) error {
	cfg, err := config.Load(path)
	if err != nil {
		return fmt.Errorf("INVALID: %w", err)
	}

	if !printConfig {
		fmt.Fprintf(out, "VALID: interface %q, %d export(s), influxdb enabled=%t\n",
			cfg.Capture.Interface,
			len(cfg.Storage.Exports),
			cfg.Storage.InfluxDB.Enabled,
		)
		return nil
	}

	enc := yaml.NewEncoder(out)
	enc.SetIndent(2)
	defer enc.Close()
	return enc.Encode(map[string]config.Config{"pktstream": cfg.Redacted()})
}
