package cmd

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/dbbuilder/autoplaytest/api/schemas"
	"github.com/dbbuilder/autoplaytest/internal/observability"
	"github.com/dbbuilder/autoplaytest/internal/results"
)

func newRunCmd() *cobra.Command {
	var (
		unitsFile  string
		outputFile string
	)

	runCmd := &cobra.Command{
		Use:   "run",
		Short: "Execute a suite of test units against the target",
		Long: `Loads a suite of test units (as produced by 'generate'), schedules login
units first, and executes the batch with session capture and reuse. The batch
report is written as JSON to stdout or --output, and persisted to Postgres
when a database URL is configured.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			logger := observability.GetLogger()
			cfg := appConfig

			if cfg.Target.URL == "" {
				return fmt.Errorf("a target URL is required (--target or target.url)")
			}

			units, err := loadUnits(unitsFile)
			if err != nil {
				return err
			}

			key, err := schemas.NewSessionKey(cfg.Target.URL, cfg.Target.Username)
			if err != nil {
				return fmt.Errorf("deriving session key: %w", err)
			}

			components, err := newRunComponents(ctx, cfg, logger)
			if err != nil {
				return err
			}
			defer components.Shutdown(ctx)

			batch := schemas.Batch{
				ID:        uuid.NewString(),
				Target:    cfg.Target.URL,
				Principal: key.Principal,
				StartedAt: time.Now().UTC(),
			}
			logger.Info("Starting run",
				zap.String("batch_id", batch.ID),
				zap.String("target", batch.Target),
				zap.Int("units", len(units)),
			)

			outcomes, err := components.Coordinator.ScheduleAndRun(ctx, units, key)
			if err != nil {
				return fmt.Errorf("executing batch: %w", err)
			}
			batch.FinishedAt = time.Now().UTC()

			report := results.Build(batch, outcomes)

			if components.Store != nil {
				if err := components.Store.PersistBatch(ctx, batch, outcomes); err != nil {
					logger.Error("Failed to persist batch", zap.String("batch_id", batch.ID), zap.Error(err))
				}
			}

			if outputFile != "" {
				if err := results.WriteFile(outputFile, report); err != nil {
					return err
				}
				logger.Info("Report written", zap.String("path", outputFile))
				return nil
			}
			return results.WriteJSON(cmd.OutOrStdout(), report)
		},
	}

	runCmd.Flags().StringVar(&unitsFile, "units", "", "path to the JSON suite of test units (required)")
	_ = runCmd.MarkFlagRequired("units")
	runCmd.Flags().StringVarP(&outputFile, "output", "o", "", "write the batch report to this file instead of stdout")

	runCmd.Flags().String("target", "", "base URL of the application under test")
	_ = viper.BindPFlag("target.url", runCmd.Flags().Lookup("target"))
	runCmd.Flags().String("username", "", "principal generated login units authenticate as")
	_ = viper.BindPFlag("target.username", runCmd.Flags().Lookup("username"))
	runCmd.Flags().Bool("force-new-session", false, "ignore any stored session and capture fresh")
	_ = viper.BindPFlag("session.force_new", runCmd.Flags().Lookup("force-new-session"))

	return runCmd
}

// loadUnits reads a JSON array of test units.
func loadUnits(path string) ([]schemas.TestUnit, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading units file %s: %w", path, err)
	}
	var units []schemas.TestUnit
	if err := json.Unmarshal(data, &units); err != nil {
		return nil, fmt.Errorf("parsing units file %s: %w", path, err)
	}
	if len(units) == 0 {
		return nil, fmt.Errorf("units file %s contains no units", path)
	}
	for i, u := range units {
		if u.ID == "" {
			return nil, fmt.Errorf("unit %d has no id", i)
		}
		if u.Source == "" {
			return nil, fmt.Errorf("unit %s has no source", u.ID)
		}
	}
	return units, nil
}
