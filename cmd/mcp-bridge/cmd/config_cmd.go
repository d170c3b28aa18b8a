package cmd

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/Sentinel-Gate/mcp-bridge/internal/config"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Inspect the effective configuration",
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the effective configuration as YAML",
	Long: `Print the configuration the server would run with: the config file, then
environment overrides, then defaults. Validation problems are reported after
the YAML but do not prevent printing.

Examples:
  mcp-bridge config show
  MCP_BRIDGE_UPSTREAM_TIMEOUT=30s mcp-bridge config show`,
	RunE: runConfigShow,
}

var configValidateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate the configuration and exit",
	RunE: func(cmd *cobra.Command, args []string) error {
		if _, err := loadValidatedConfig(nil); err != nil {
			return err
		}
		file := config.ConfigFileUsed()
		if file == "" {
			file = "(environment only)"
		}
		fmt.Fprintf(cmd.OutOrStdout(), "configuration OK: %s\n", file)
		return nil
	},
}

func init() {
	configCmd.AddCommand(configShowCmd, configValidateCmd)
	rootCmd.AddCommand(configCmd)
}

func runConfigShow(cmd *cobra.Command, args []string) error {
	cfg, err := config.LoadConfigRaw()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	cfg.SetDevDefaults()

	if err := writeConfigYAML(cmd.OutOrStdout(), cfg); err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(stderr, "warning: %v\n", err)
	}
	return nil
}

func writeConfigYAML(w io.Writer, cfg *config.Config) error {
	if file := config.ConfigFileUsed(); file != "" {
		fmt.Fprintf(w, "# loaded from %s\n", file)
	}
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(cfg); err != nil {
		return fmt.Errorf("encode config: %w", err)
	}
	return enc.Close()
}
