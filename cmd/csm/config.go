package main

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/zulandar/csmportal/internal/config"
	"gopkg.in/yaml.v3"
)

func newConfigCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "config",
		Short: "Print the effective configuration",
		Long:  "Loads the config file, .env and environment overrides and prints the result with secrets masked.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runConfig(cmd, configPath)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "csm.yaml", "path to portal config file")
	return cmd
}

func runConfig(cmd *cobra.Command, configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	data, err := yaml.Marshal(cfg.Redacted())
	if err != nil {
		return fmt.Errorf("encode config: %w", err)
	}

	out := cmd.OutOrStdout()
	fmt.Fprint(out, string(data))
	if cfg.PINValid() {
		fmt.Fprintln(out, "# access PIN: configured")
	} else {
		fmt.Fprintln(out, "# access PIN: missing or invalid, portal will refuse every login")
	}
	return nil
}
