package cmd

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/dbbuilder/autoplaytest/api/schemas"
	"github.com/dbbuilder/autoplaytest/internal/analyzer"
	"github.com/dbbuilder/autoplaytest/internal/generator"
	"github.com/dbbuilder/autoplaytest/internal/observability"
)

// maxPageBytes caps how much of the target page is fed to the analyzer.
const maxPageBytes = 4 << 20

func newGenerateCmd() *cobra.Command {
	var outputFile string

	generateCmd := &cobra.Command{
		Use:   "generate",
		Short: "Analyze the target page and generate a suite of test units",
		Long: `Fetches the target page, analyzes its structure (forms, links, navigation,
login detection), and asks the configured AI provider for one test unit per
applicable category. The suite is written as JSON for 'run' to execute.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			logger := observability.GetLogger()
			cfg := appConfig

			if cfg.Target.URL == "" {
				return fmt.Errorf("a target URL is required (--target or target.url)")
			}

			pageHTML, err := fetchPage(cmd, cfg.Target.URL)
			if err != nil {
				return err
			}

			analysis, err := analyzer.New(logger).Analyze(cfg.Target.URL, pageHTML)
			if err != nil {
				return fmt.Errorf("analyzing target page: %w", err)
			}

			gen, err := newGenerator(cfg, logger)
			if err != nil {
				return err
			}

			creds := generator.Credentials{
				Username: cfg.Target.Username,
				Password: cfg.Target.Password,
			}

			var units []schemas.TestUnit
			if categories := parseCategories(cfg.Generator.Categories); len(categories) > 0 {
				for _, category := range categories {
					unit, err := gen.GenerateUnit(ctx, analysis, category, creds)
					if err != nil {
						logger.Warn("Skipping category, generation failed",
							zap.String("category", string(category)), zap.Error(err))
						continue
					}
					units = append(units, unit)
				}
				if len(units) == 0 {
					return fmt.Errorf("no units generated for the configured categories")
				}
			} else {
				units, err = gen.GenerateSuite(ctx, analysis, creds)
				if err != nil {
					return err
				}
			}

			logger.Info("Suite generated",
				zap.String("target", cfg.Target.URL),
				zap.Int("units", len(units)),
			)
			return writeUnits(cmd, outputFile, units)
		},
	}

	generateCmd.Flags().StringVarP(&outputFile, "output", "o", "", "write the suite to this file instead of stdout")

	generateCmd.Flags().String("target", "", "base URL of the application under test")
	_ = viper.BindPFlag("target.url", generateCmd.Flags().Lookup("target"))
	generateCmd.Flags().String("username", "", "principal for generated login units")
	_ = viper.BindPFlag("target.username", generateCmd.Flags().Lookup("username"))
	generateCmd.Flags().String("provider", "", "AI provider (openai or gemini)")
	_ = viper.BindPFlag("generator.provider", generateCmd.Flags().Lookup("provider"))
	generateCmd.Flags().String("model", "", "model name for the provider")
	_ = viper.BindPFlag("generator.model", generateCmd.Flags().Lookup("model"))

	return generateCmd
}

// fetchPage retrieves the rendered HTML of the target URL.
func fetchPage(cmd *cobra.Command, target string) (string, error) {
	client := &http.Client{Timeout: 30 * time.Second}
	req, err := http.NewRequestWithContext(cmd.Context(), http.MethodGet, target, nil)
	if err != nil {
		return "", fmt.Errorf("creating request for %s: %w", target, err)
	}

	resp, err := client.Do(req)
	if err != nil {
		return "", fmt.Errorf("fetching %s: %w", target, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return "", fmt.Errorf("fetching %s: status %d", target, resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxPageBytes))
	if err != nil {
		return "", fmt.Errorf("reading %s: %w", target, err)
	}
	return string(body), nil
}

func parseCategories(names []string) []schemas.Category {
	var categories []schemas.Category
	for _, name := range names {
		categories = append(categories, schemas.Category(name))
	}
	return categories
}

func writeUnits(cmd *cobra.Command, path string, units []schemas.TestUnit) error {
	data, err := json.MarshalIndent(units, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding suite: %w", err)
	}
	data = append(data, '\n')

	if path == "" {
		_, err = cmd.OutOrStdout().Write(data)
		return err
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("writing suite to %s: %w", path, err)
	}
	return nil
}
