// Package store persists execution batches and their outcomes to PostgreSQL.
// Persistence is optional; the orchestrator only wires a Store when a
// database URL is configured.
package store

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"go.uber.org/zap"

	"github.com/dbbuilder/autoplaytest/api/schemas"
)

// DBPool abstracts pgxpool.Pool so tests can substitute pgxmock.
type DBPool interface {
	Ping(ctx context.Context) error
	Begin(ctx context.Context) (pgx.Tx, error)
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	CopyFrom(ctx context.Context, tableName pgx.Identifier, columnNames []string, rowSrc pgx.CopyFromSource) (int64, error)
}

// Store provides the PostgreSQL persistence for batches and outcomes.
type Store struct {
	pool DBPool
	log  *zap.Logger
}

// New creates a store and verifies the connection.
func New(ctx context.Context, pool DBPool, logger *zap.Logger) (*Store, error) {
	if err := pool.Ping(ctx); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	return &Store{
		pool: pool,
		log:  logger.Named("store"),
	}, nil
}

const insertBatchSQL = `
        INSERT INTO batches (id, target, principal, started_at, finished_at)
        VALUES ($1, $2, $3, $4, $5);
    `

// PersistBatch writes the batch row and all its outcomes in one transaction.
func (s *Store) PersistBatch(ctx context.Context, batch schemas.Batch, outcomes []schemas.ExecutionOutcome) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		if rollbackErr := tx.Rollback(ctx); rollbackErr != nil && rollbackErr != pgx.ErrTxClosed {
			s.log.Error("Failed to rollback transaction", zap.Error(rollbackErr))
		}
	}()

	if _, err := tx.Exec(ctx, insertBatchSQL,
		batch.ID, batch.Target, batch.Principal, batch.StartedAt, batch.FinishedAt,
	); err != nil {
		return fmt.Errorf("failed to insert batch %s: %w", batch.ID, err)
	}

	if len(outcomes) > 0 {
		if err := s.persistOutcomes(ctx, tx, batch.ID, outcomes); err != nil {
			return err
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}

	s.log.Info("Batch persisted",
		zap.String("batch_id", batch.ID),
		zap.Int("outcomes", len(outcomes)),
	)
	return nil
}

func (s *Store) persistOutcomes(ctx context.Context, tx pgx.Tx, batchID string, outcomes []schemas.ExecutionOutcome) error {
	rows := make([][]interface{}, len(outcomes))
	for i, o := range outcomes {
		rows[i] = []interface{}{
			batchID, i, o.UnitID,
			string(o.Category), string(o.Status),
			o.Duration.Milliseconds(),
			string(o.SessionAction), o.Detail, o.Retry,
		}
	}

	copyCount, err := tx.CopyFrom(
		ctx,
		pgx.Identifier{"outcomes"},
		[]string{"batch_id", "seq", "unit_id", "category", "status", "duration_ms", "session_action", "detail", "retry"},
		pgx.CopyFromRows(rows),
	)
	if err != nil {
		return fmt.Errorf("failed to copy outcomes: %w", err)
	}
	if int(copyCount) != len(outcomes) {
		return fmt.Errorf("mismatch in copied outcomes count: expected %d, got %d", len(outcomes), copyCount)
	}
	return nil
}

// GetOutcomesByBatchID reads back all outcomes of a batch in execution order.
func (s *Store) GetOutcomesByBatchID(ctx context.Context, batchID string) ([]schemas.ExecutionOutcome, error) {
	query := `
        SELECT unit_id, category, status, duration_ms, session_action, detail, retry
        FROM outcomes
        WHERE batch_id = $1
        ORDER BY seq ASC;
    `
	rows, err := s.pool.Query(ctx, query, batchID)
	if err != nil {
		return nil, fmt.Errorf("failed to query outcomes: %w", err)
	}
	defer rows.Close()

	var outcomes []schemas.ExecutionOutcome
	for rows.Next() {
		var o schemas.ExecutionOutcome
		var category, status, sessionAction string
		var durationMS int64

		if err := rows.Scan(
			&o.UnitID, &category, &status, &durationMS, &sessionAction, &o.Detail, &o.Retry,
		); err != nil {
			return nil, fmt.Errorf("failed to scan outcome row: %w", err)
		}

		o.Category = schemas.Category(category)
		o.Status = schemas.Status(status)
		o.SessionAction = schemas.SessionAction(sessionAction)
		o.Duration = durationFromMillis(durationMS)
		outcomes = append(outcomes, o)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error during row iteration: %w", err)
	}
	return outcomes, nil
}

func durationFromMillis(ms int64) time.Duration {
	return time.Duration(ms) * time.Millisecond
}
