// Package persistence stores the audit record log and state snapshots in
// Postgres. The record log is an append-only audit trail; recovery goes
// through snapshots, not replay.
package persistence

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/ahmad-codex/precog/internal/record"
)

// execer is satisfied by *sql.DB and *sql.Tx.
type execer interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
}

// RecordWriter batch-inserts audit records into ledger_log.records using
// multi-row INSERT. ON CONFLICT DO NOTHING makes retried batches idempotent
// on the sequence key.
type RecordWriter struct {
	db *sql.DB
}

func NewRecordWriter(db *sql.DB) *RecordWriter {
	return &RecordWriter{db: db}
}

// WriteBatch writes a batch of records within the given transaction.
func (w *RecordWriter) WriteBatch(ctx context.Context, tx execer, recs []record.Record) error {
	if len(recs) == 0 {
		return nil
	}

	query := `INSERT INTO ledger_log.records
		(sequence, record_type, asset_id, symbol, account_id, amount, fee, unit, cycle_id, intent_id, created_at)
		VALUES `

	values := make([]string, 0, len(recs))
	args := make([]interface{}, 0, len(recs)*11)

	for i, r := range recs {
		base := i * 11
		values = append(values, fmt.Sprintf(
			"($%d, $%d, $%d, $%d, $%d, $%d, $%d, $%d, $%d, $%d, $%d)",
			base+1, base+2, base+3, base+4, base+5, base+6,
			base+7, base+8, base+9, base+10, base+11,
		))

		var account, intent interface{}
		if r.Account != uuid.Nil {
			account = r.Account.String()
		}
		if r.Intent != uuid.Nil {
			intent = r.Intent.String()
		}
		args = append(args,
			r.Sequence, r.Type.String(), int64(r.Asset), r.Symbol,
			account, r.Amount, r.Fee, r.Unit, r.CycleID, intent, r.Timestamp,
		)
	}

	query += strings.Join(values, ", ")
	query += " ON CONFLICT (sequence) DO NOTHING"

	_, err := tx.ExecContext(ctx, query, args...)
	return err
}

// LatestSequence returns the highest persisted record sequence, zero for an
// empty log. Used to seed the engine's sequence counter on restart.
func (w *RecordWriter) LatestSequence(ctx context.Context) (uint64, error) {
	var seq sql.NullInt64
	err := w.db.QueryRowContext(ctx,
		`SELECT MAX(sequence) FROM ledger_log.records`,
	).Scan(&seq)
	if err != nil {
		return 0, err
	}
	if !seq.Valid {
		return 0, nil
	}
	return uint64(seq.Int64), nil
}
