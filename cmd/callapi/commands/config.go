package commands

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"github.com/fivetwenty-io/callapi/internal/constants"
	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// settableKeys are the keys accepted by 'config set'.
var settableKeys = map[string]bool{
	"api":          true,
	"context":      true,
	"timeout":      true,
	"storage":      true,
	"storage_key":  true,
	"cookie_name":  true,
	"login_route":  true,
	"retry_max":    true,
	"cache_type":   true,
	"cache_size":   true,
	"nats_url":     true,
	"nats_bucket":  true,
	"redis_addr":   true,
	"redis_prefix": true,
	"output":       true,
}

// NewConfigCommand creates the config command group.
func NewConfigCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Manage CLI configuration",
		Long:  "Show and change the settings stored in $HOME/.callapi/config.yml",
	}

	cmd.AddCommand(newConfigShowCommand())
	cmd.AddCommand(newConfigSetCommand())

	return cmd
}

func newConfigShowCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Show current configuration",
		Long:  "Display the effective configuration after flags, environment and config file",
		RunE: func(cmd *cobra.Command, args []string) error {
			s := loadSettings()

			storage, err := s.tokenStorage()
			if err != nil {
				return err
			}

			token, _, err := storage.Get(s.StorageKey)
			if err != nil {
				return err
			}

			return writeOutput(cmd.OutOrStdout(), s.Output, s, func(t *tablewriter.Table) {
				t.Header("Property", "Value")
				_ = t.Append("API", valueOrNA(s.API))
				_ = t.Append("Context", s.Context)
				_ = t.Append("Timeout", s.Timeout.String())
				_ = t.Append("Retry Max", strconv.Itoa(s.RetryMax))
				_ = t.Append("Storage", storage.Path())
				_ = t.Append("Storage Key", s.StorageKey)
				_ = t.Append("Token", maskSecret(token))
				_ = t.Append("Cookie Name", s.CookieName)
				_ = t.Append("Login Route", s.LoginRoute)
				_ = t.Append("Cache Type", valueOrNA(s.CacheType))
				_ = t.Append("NATS URL", valueOrNA(s.NATSURL))
				_ = t.Append("Redis Address", valueOrNA(s.RedisAddr))
			})
		},
	}
}

func newConfigSetCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "set KEY VALUE",
		Short: "Set a configuration value",
		Args:  cobra.ExactArgs(constants.MinimumArgumentCount),
		RunE: func(cmd *cobra.Command, args []string) error {
			key, value := args[0], args[1]

			if !settableKeys[key] {
				return fmt.Errorf("%w: unknown key %q", constants.ErrInvalidParam, key)
			}

			viper.Set(key, value)

			err := saveConfig()
			if err != nil {
				return err
			}

			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "Set %s\n", key)

			return nil
		},
	}
}

func saveConfig() error {
	configFile := viper.ConfigFileUsed()
	if configFile == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return fmt.Errorf("failed to get user home directory: %w", err)
		}

		configFile = filepath.Join(home, ".callapi", "config.yml")
	}

	err := os.MkdirAll(filepath.Dir(configFile), constants.ConfigDirPerm)
	if err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	err = viper.WriteConfigAs(configFile)
	if err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}

	err = os.Chmod(configFile, constants.ConfigFilePerm)
	if err != nil {
		return fmt.Errorf("failed to set config permissions: %w", err)
	}

	return nil
}

func valueOrNA(v string) string {
	if v == "" {
		return constants.NotAvailable
	}

	return v
}
