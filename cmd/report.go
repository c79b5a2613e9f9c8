package cmd

import (
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/spf13/cobra"

	"github.com/dbbuilder/autoplaytest/api/schemas"
	"github.com/dbbuilder/autoplaytest/internal/observability"
	"github.com/dbbuilder/autoplaytest/internal/results"
	"github.com/dbbuilder/autoplaytest/internal/store"
)

func newReportCmd() *cobra.Command {
	var batchID string

	reportCmd := &cobra.Command{
		Use:   "report",
		Short: "Rebuild the report for a persisted batch",
		Long:  `Reads the outcomes of a completed batch back from Postgres and prints the aggregated JSON report.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			logger := observability.GetLogger()
			cfg := appConfig

			if cfg.Postgres.URL == "" {
				return fmt.Errorf("postgres.url must be configured to read back batches")
			}

			pool, err := pgxpool.New(ctx, cfg.Postgres.URL)
			if err != nil {
				return fmt.Errorf("failed to connect to database: %w", err)
			}
			defer pool.Close()

			st, err := store.New(ctx, pool, logger)
			if err != nil {
				return fmt.Errorf("failed to initialize store: %w", err)
			}

			outcomes, err := st.GetOutcomesByBatchID(ctx, batchID)
			if err != nil {
				return err
			}
			if len(outcomes) == 0 {
				return fmt.Errorf("no outcomes found for batch %s", batchID)
			}

			report := results.Build(schemas.Batch{ID: batchID}, outcomes)
			return results.WriteJSON(cmd.OutOrStdout(), report)
		},
	}

	reportCmd.Flags().StringVar(&batchID, "batch-id", "", "the ID of the batch to report on (required)")
	_ = reportCmd.MarkFlagRequired("batch-id")

	return reportCmd
}
