package cli

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/ppiankov/devcheck/internal/model"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

// newConfigCmd represents the config command
func newConfigCmd(a *app) *cobra.Command {
	configCmd := &cobra.Command{
		Use:   "config",
		Short: "Manage devcheck configuration",
		Long: `Manage devcheck configuration files and settings.

Configuration hierarchy (highest to lowest priority):
1. CLI flags
2. Environment variables (DEVCHECK_*, e.g. DEVCHECK_HTTP_USER_AGENT)
3. Config file (~/.devcheck/config.yaml)
4. Defaults`,
	}

	configCmd.AddCommand(newConfigShowCmd(a), newConfigInitCmd())
	return configCmd
}

func newConfigShowCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Show current configuration",
		Long:  `Display the effective configuration after merging defaults, the config file, environment variables and flags.`,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()

			if a.configUsed != "" {
				fmt.Fprintf(cmd.ErrOrStderr(), "Configuration file: %s\n\n", a.configUsed)
			} else {
				fmt.Fprintf(cmd.ErrOrStderr(), "No configuration file found (using defaults)\n\n")
			}

			yamlData, err := yaml.Marshal(a.cfg)
			if err != nil {
				return fmt.Errorf("error marshaling config: %w", err)
			}

			_, err = out.Write(yamlData)
			return err
		},
	}
}

func newConfigInitCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "init",
		Short: "Initialize default configuration file",
		Long:  `Create a default configuration file at ~/.devcheck/config.yaml with all available options.`,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) (err error) {
			home, err := os.UserHomeDir()
			if err != nil {
				return fmt.Errorf("error finding home directory: %w", err)
			}

			configDir := filepath.Join(home, ".devcheck")
			configPath := filepath.Join(configDir, "config.yaml")

			if _, err := os.Stat(configPath); err == nil {
				return fmt.Errorf("config file already exists: %s\nUse 'devcheck config show' to view it, or delete it first to recreate", configPath)
			}

			if err := os.MkdirAll(configDir, 0o755); err != nil {
				return fmt.Errorf("error creating config directory: %w", err)
			}

			f, err := os.Create(configPath)
			if err != nil {
				return fmt.Errorf("error creating config file: %w", err)
			}
			defer func() {
				if closeErr := f.Close(); closeErr != nil && err == nil {
					err = fmt.Errorf("close config file: %w", closeErr)
				}
			}()

			// Helper for writing with error checking
			printf := func(format string, a ...any) {
				if err != nil {
					return
				}
				_, err = fmt.Fprintf(f, format, a...)
			}

			printf("# devcheck configuration file\n")
			printf("# See https://github.com/ppiankov/devcheck for full documentation\n")
			printf("#\n")
			printf("# Configuration hierarchy (highest to lowest priority):\n")
			printf("#   1. CLI flags\n")
			printf("#   2. Environment variables (DEVCHECK_*)\n")
			printf("#   3. This config file\n")
			printf("#   4. Built-in defaults\n")
			printf("#\n")
			printf("# rules.markers are matched as case-sensitive substrings; scripts whose\n")
			printf("# URL contains an entry of rules.ignore are never inspected.\n\n")

			yamlData, mErr := yaml.Marshal(model.DefaultConfig())
			if mErr != nil {
				return fmt.Errorf("error marshaling config: %w", mErr)
			}
			printf("%s", yamlData)
			if err != nil {
				return fmt.Errorf("error writing config: %w", err)
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "✓ Created default configuration: %s\n", configPath)
			fmt.Fprintf(out, "\nTo view the configuration:\n")
			fmt.Fprintf(out, "  devcheck config show\n")
			fmt.Fprintf(out, "\nTo customize, edit the file with your preferred editor:\n")
			fmt.Fprintf(out, "  $EDITOR %s\n", configPath)

			return nil
		},
	}
}
