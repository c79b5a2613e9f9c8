// Package cmd wires the CLI: configuration loading, logger initialization,
// and the run / generate / report subcommands.
package cmd

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/dbbuilder/autoplaytest/internal/config"
	"github.com/dbbuilder/autoplaytest/internal/observability"
)

// Version is stamped at build time via -ldflags.
var Version = "dev"

var (
	cfgFile   string
	appConfig *config.Config
)

var rootCmd = &cobra.Command{
	Use:     "autoplaytest",
	Short:   "Session-aware test execution for web applications",
	Long:    `autoplaytest generates browser test units from a page analysis, runs them login-first, and transparently reuses the authenticated session across the batch.`,
	Version: Version,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if err := initializeConfig(); err != nil {
			return fmt.Errorf("failed to initialize configuration: %w", err)
		}

		cfg, err := config.Load(viper.GetViper())
		if err != nil {
			observability.InitializeLogger(config.LoggerConfig{Level: "info", Format: "console", ServiceName: "autoplaytest"})
			return err
		}
		appConfig = cfg

		observability.InitializeLogger(cfg.Logger)
		observability.GetLogger().Debug("Configuration loaded", zap.String("version", Version))
		return nil
	},
}

// Execute runs the root command with the given context.
func Execute(ctx context.Context) error {
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		if logger := observability.GetLogger(); logger != nil && ctx.Err() == nil {
			logger.Error("Command execution failed", zap.Error(err))
		} else {
			fmt.Fprintln(os.Stderr, "Error:", err)
		}
		return err
	}
	return nil
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "", "config file (default is ./config.yaml)")

	rootCmd.AddCommand(newRunCmd())
	rootCmd.AddCommand(newGenerateCmd())
	rootCmd.AddCommand(newReportCmd())
}

// initializeConfig reads the config file and environment variables.
func initializeConfig() error {
	config.SetDefaults(viper.GetViper())

	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		viper.AddConfigPath(".")
		viper.SetConfigName("config")
		viper.SetConfigType("yaml")
	}

	viper.SetEnvPrefix("AUTOPLAY")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	// Secrets that should never live in a config file.
	_ = viper.BindEnv("postgres.url", "AUTOPLAY_POSTGRES_URL")
	_ = viper.BindEnv("generator.api_key", "AUTOPLAY_GENERATOR_API_KEY", "OPENAI_API_KEY", "GOOGLE_API_KEY")
	_ = viper.BindEnv("target.password", "AUTOPLAY_TARGET_PASSWORD")

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return fmt.Errorf("error reading config file: %w", err)
		}
		// No config file: defaults and environment carry the run.
	}
	return nil
}
