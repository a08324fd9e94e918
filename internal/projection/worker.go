// Package projection maintains Postgres read models derived from the audit
// record stream. Projections are eventually consistent and rebuildable from
// ledger_log.records; the feed channel drops on overflow rather than blocking
// the engine.
package projection

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/ahmad-codex/precog/internal/observability"
	"github.com/ahmad-codex/precog/internal/record"
)

// Worker applies audit records to the projection tables.
type Worker struct {
	db      *sql.DB
	input   <-chan record.Record
	lastSeq uint64
	log     zerolog.Logger
}

func NewWorker(db *sql.DB, input <-chan record.Record) *Worker {
	return &Worker{
		db:    db,
		input: input,
		log:   observability.NewLogger("projection"),
	}
}

// Run applies records until ctx is cancelled or the channel closes.
func (w *Worker) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case rec, ok := <-w.input:
			if !ok {
				return nil
			}
			if err := w.apply(ctx, rec); err != nil {
				// Non-fatal: projections can be rebuilt from the record log.
				w.log.Warn().Err(err).
					Uint64("sequence", rec.Sequence).
					Str("type", rec.Type.String()).
					Msg("projection update failed")
			}
			w.lastSeq = rec.Sequence
		}
	}
}

func (w *Worker) apply(ctx context.Context, rec record.Record) error {
	tx, err := w.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if err := w.updatePoolActivity(ctx, tx, rec); err != nil {
		return fmt.Errorf("pool activity: %w", err)
	}
	if err := w.updateAccountFlows(ctx, tx, rec); err != nil {
		return fmt.Errorf("account flows: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO projections.watermark (worker_id, last_sequence, updated_at)
		VALUES ('main', $1, NOW())
		ON CONFLICT (worker_id) DO UPDATE SET last_sequence = $1, updated_at = NOW()
	`, rec.Sequence); err != nil {
		return fmt.Errorf("watermark update: %w", err)
	}

	return tx.Commit()
}

// updatePoolActivity accumulates per-asset totals by record type, plus the
// fee taken on each record.
func (w *Worker) updatePoolActivity(ctx context.Context, tx *sql.Tx, rec record.Record) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO projections.pool_activity (asset_id, symbol, record_type, total_amount, total_fees, record_count, last_sequence)
		VALUES ($1, $2, $3, $4, $5, 1, $6)
		ON CONFLICT (asset_id, record_type)
		DO UPDATE SET
			total_amount  = projections.pool_activity.total_amount + $4,
			total_fees    = projections.pool_activity.total_fees + $5,
			record_count  = projections.pool_activity.record_count + 1,
			last_sequence = $6
	`, int64(rec.Asset), rec.Symbol, rec.Type.String(), rec.Amount, rec.Fee, rec.Sequence)
	return err
}

// updateAccountFlows tracks per-account movement for records that carry an
// account. Rollovers and listings are pool-level and skipped.
func (w *Worker) updateAccountFlows(ctx context.Context, tx *sql.Tx, rec record.Record) error {
	if rec.Account == uuid.Nil {
		return nil
	}
	_, err := tx.ExecContext(ctx, `
		INSERT INTO projections.account_flows (account_id, asset_id, record_type, total_amount, record_count, last_sequence)
		VALUES ($1, $2, $3, $4, 1, $5)
		ON CONFLICT (account_id, asset_id, record_type)
		DO UPDATE SET
			total_amount  = projections.account_flows.total_amount + $4,
			record_count  = projections.account_flows.record_count + 1,
			last_sequence = $5
	`, rec.Account.String(), int64(rec.Asset), rec.Type.String(), rec.Amount, rec.Sequence)
	return err
}

// Rebuild truncates the projection tables and reconstructs them from the
// record log in one pass.
func Rebuild(ctx context.Context, db *sql.DB) error {
	truncateStatements := []string{
		`TRUNCATE projections.pool_activity`,
		`TRUNCATE projections.account_flows`,
		`DELETE FROM projections.watermark WHERE worker_id = 'main'`,
	}
	for _, stmt := range truncateStatements {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("truncate failed: %w", err)
		}
	}

	_, err := db.ExecContext(ctx, `
		INSERT INTO projections.pool_activity (asset_id, symbol, record_type, total_amount, total_fees, record_count, last_sequence)
		SELECT
			asset_id,
			MAX(symbol),
			record_type,
			SUM(amount),
			SUM(fee),
			COUNT(*),
			MAX(sequence)
		FROM ledger_log.records
		GROUP BY asset_id, record_type
	`)
	if err != nil {
		return fmt.Errorf("rebuild pool activity: %w", err)
	}

	_, err = db.ExecContext(ctx, `
		INSERT INTO projections.account_flows (account_id, asset_id, record_type, total_amount, record_count, last_sequence)
		SELECT
			account_id,
			asset_id,
			record_type,
			SUM(amount),
			COUNT(*),
			MAX(sequence)
		FROM ledger_log.records
		WHERE account_id IS NOT NULL
		GROUP BY account_id, asset_id, record_type
	`)
	if err != nil {
		return fmt.Errorf("rebuild account flows: %w", err)
	}

	return nil
}
