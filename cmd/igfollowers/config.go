package main

import (
	"errors"
	"fmt"
	"os"

	"igfollowers/pkg/config"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

const defaultConfigPath = "igfollowers.yaml"

func newConfigCmd(root *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Manage configuration files",
		Long: `Manage igfollowers configuration files.

Configuration can be loaded from:
  - Command line flags (highest priority)
  - Environment variables (IGFOLLOWERS_*)
  - .env files
  - Configuration file
  - Default values (lowest priority)`,
	}
	cmd.AddCommand(
		newConfigInitCmd(root),
		newConfigShowCmd(root),
		newConfigValidateCmd(root),
	)
	return cmd
}

func newConfigInitCmd(root *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "init",
		Short: "Create a configuration file with the defaults",
		Long: `Create a configuration file with every option set to its default.

The file is created as 'igfollowers.yaml' in the current directory unless a
different path is given with --config. An existing file is never overwritten.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			path := root.configFile
			if path == "" {
				path = defaultConfigPath
			}
			if _, err := os.Stat(path); err == nil {
				return fmt.Errorf("config file already exists: %s", path)
			} else if !errors.Is(err, os.ErrNotExist) {
				return err
			}

			if err := config.DefaultConfig().Save(path); err != nil {
				return err
			}
			root.printer(cmd).Success("Created " + path)
			return nil
		},
	}
}

func newConfigShowCmd(root *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Show the effective configuration",
		Long: `Show the configuration merged from every source. The password and the
database URL are masked.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := root.load(nil)
			if err != nil {
				return err
			}

			masked := *cfg
			if masked.Instagram.Password != "" {
				masked.Instagram.Password = "********"
			}
			if masked.Database.URL != "" {
				masked.Database.URL = "********"
			}

			data, err := yaml.Marshal(&masked)
			if err != nil {
				return fmt.Errorf("failed to marshal config: %w", err)
			}
			_, err = cmd.OutOrStdout().Write(data)
			return err
		},
	}
}

func newConfigValidateCmd(root *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "validate",
		Short: "Validate the configuration",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := root.load(nil)
			if err != nil {
				return err
			}

			p := root.printer(cmd)
			p.Success("Configuration is valid")
			if !cfg.HasCredentials() {
				p.Warning("No login configured; stored accounts from 'igfollowers auth login' will be used")
			}
			return nil
		},
	}
}
