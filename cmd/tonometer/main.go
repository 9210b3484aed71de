// Package main provides the entry point for the tonometer blood-pressure bot.
package main

import (
	"errors"
	"fmt"
	"io/fs"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/Veraticus/tonometer/internal/config"
)

const (
	envPrefix         = "TONOMETER"
	defaultConfigPath = "tonometer.yaml"

	keyConfig   = "config"
	keyLogLevel = "log-level"
)

// version is set at build time.
var version = "dev"

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// newRootCmd builds the command tree. Flags may also be set through
// TONOMETER_* environment variables or a .env file.
func newRootCmd() *cobra.Command {
	v := viper.New()
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(envKeyReplacer)
	v.AutomaticEnv()

	root := &cobra.Command{
		Use:           "tonometer",
		Short:         "Signal bot that records blood-pressure readings",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(_ *cobra.Command, _ []string) error {
			if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
				return fmt.Errorf("load .env: %w", err)
			}
			return nil
		},
	}

	root.PersistentFlags().String(keyConfig, defaultConfigPath, "path to the YAML configuration file")
	root.PersistentFlags().String(keyLogLevel, "", "override logging.level (debug|info|warn|error)")
	for _, key := range []string{keyConfig, keyLogLevel} {
		if err := v.BindPFlag(key, root.PersistentFlags().Lookup(key)); err != nil {
			panic(fmt.Sprintf("bind flag %s: %v", key, err))
		}
	}

	root.AddCommand(newServeCmd(v), newExportCmd(v), newVersionCmd())
	return root
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "tonometer %s\n", version)
		},
	}
}

// loadConfig reads the configured file, falling back to defaults when the
// default path does not exist. An explicitly named file must exist.
func loadConfig(v *viper.Viper) (*config.Config, string, error) {
	path := v.GetString(keyConfig)

	cfg, err := config.LoadFromFile(path)
	if errors.Is(err, fs.ErrNotExist) && path == defaultConfigPath {
		cfg = config.DefaultConfig()
		path = ""
		err = nil
	}
	if err != nil {
		return nil, "", err
	}

	if level := v.GetString(keyLogLevel); level != "" {
		cfg.Logging.Level = level
		if err := cfg.Validate(); err != nil {
			return nil, "", err
		}
	}

	return cfg, path, nil
}
