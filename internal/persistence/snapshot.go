package persistence

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/ahmad-codex/precog/internal/core"
	"github.com/ahmad-codex/precog/internal/observability"
)

// SnapshotStore persists full engine state snapshots to ledger_log.snapshots.
// Restart recovery loads the latest snapshot rather than replaying the record
// log, so snapshot cadence bounds how much audit history a restart re-reads.
type SnapshotStore struct {
	db      *sql.DB
	metrics *observability.Metrics
	log     zerolog.Logger
}

func NewSnapshotStore(db *sql.DB, metrics *observability.Metrics) *SnapshotStore {
	return &SnapshotStore{
		db:      db,
		metrics: metrics,
		log:     observability.NewLogger("snapshot"),
	}
}

// Save serializes the state and upserts it keyed on sequence. Re-snapshotting
// an unchanged engine overwrites the previous row instead of accumulating
// duplicates.
func (s *SnapshotStore) Save(ctx context.Context, state *core.SnapshotState) error {
	start := time.Now()

	payload, err := json.Marshal(state)
	if err != nil {
		return err
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO ledger_log.snapshots (id, sequence, state, size_bytes, created_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (sequence) DO UPDATE
		SET state = EXCLUDED.state, size_bytes = EXCLUDED.size_bytes, created_at = EXCLUDED.created_at`,
		uuid.New().String(), state.Sequence, payload, len(payload), time.Now().UTC(),
	)
	if err != nil {
		return err
	}

	if s.metrics != nil {
		s.metrics.SnapshotTaken.Inc()
		s.metrics.SnapshotDuration.Observe(time.Since(start).Seconds())
		s.metrics.SnapshotSizeBytes.Set(float64(len(payload)))
		s.metrics.SnapshotLastSeq.Set(float64(state.Sequence))
	}
	s.log.Info().
		Uint64("sequence", state.Sequence).
		Int("size_bytes", len(payload)).
		Dur("took", time.Since(start)).
		Msg("snapshot saved")
	return nil
}

// LoadLatest returns the most recent snapshot, or (nil, nil) when no snapshot
// exists yet.
func (s *SnapshotStore) LoadLatest(ctx context.Context) (*core.SnapshotState, error) {
	var payload []byte
	err := s.db.QueryRowContext(ctx, `
		SELECT state FROM ledger_log.snapshots
		ORDER BY sequence DESC
		LIMIT 1`,
	).Scan(&payload)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	var state core.SnapshotState
	if err := json.Unmarshal(payload, &state); err != nil {
		return nil, err
	}
	s.log.Info().Uint64("sequence", state.Sequence).Msg("snapshot loaded")
	return &state, nil
}
