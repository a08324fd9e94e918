package persistence

import (
	"context"
	"database/sql"
	"time"

	"github.com/rs/zerolog"

	"github.com/ahmad-codex/precog/internal/observability"
	"github.com/ahmad-codex/precog/internal/record"
)

const (
	initialRetryBackoff = 100 * time.Millisecond
	maxRetryBackoff     = 30 * time.Second
)

// Worker drains the engine's persist channel and writes audit records to
// Postgres in batches. A batch is flushed when it reaches batchSize or when
// flushTimeout elapses with records pending, whichever comes first.
//
// Flushes retry indefinitely with exponential backoff. The record log is the
// audit trail of account balances, so dropping a batch is never acceptable;
// the engine blocks on the persist channel and applies backpressure instead.
type Worker struct {
	db           *sql.DB
	writer       *RecordWriter
	input        <-chan record.Record
	batchSize    int
	flushTimeout time.Duration
	metrics      *observability.Metrics
	log          zerolog.Logger
}

func NewWorker(db *sql.DB, input <-chan record.Record, batchSize int, flushTimeout time.Duration, metrics *observability.Metrics) *Worker {
	return &Worker{
		db:           db,
		writer:       NewRecordWriter(db),
		input:        input,
		batchSize:    batchSize,
		flushTimeout: flushTimeout,
		metrics:      metrics,
		log:          observability.NewLogger("persistence"),
	}
}

// Run processes records until ctx is cancelled, then drains the channel and
// flushes whatever remains before returning.
func (w *Worker) Run(ctx context.Context) {
	w.log.Info().
		Int("batch_size", w.batchSize).
		Dur("flush_timeout", w.flushTimeout).
		Msg("persistence worker started")

	batch := make([]record.Record, 0, w.batchSize)
	timer := time.NewTimer(w.flushTimeout)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			w.drainAndFlush(batch)
			w.log.Info().Msg("persistence worker stopped")
			return

		case rec, ok := <-w.input:
			if !ok {
				w.flushWithRetry(context.Background(), batch)
				w.log.Info().Msg("persist channel closed, worker stopped")
				return
			}
			batch = append(batch, rec)
			if len(batch) >= w.batchSize {
				w.flushWithRetry(ctx, batch)
				batch = batch[:0]
				resetTimer(timer, w.flushTimeout)
			}

		case <-timer.C:
			if len(batch) > 0 {
				w.flushWithRetry(ctx, batch)
				batch = batch[:0]
			}
			timer.Reset(w.flushTimeout)
		}
	}
}

// drainAndFlush collects whatever is still buffered in the channel at
// shutdown and writes it out under a background context so in-flight records
// are never lost to cancellation.
func (w *Worker) drainAndFlush(batch []record.Record) {
	for {
		select {
		case rec, ok := <-w.input:
			if !ok {
				w.flushWithRetry(context.Background(), batch)
				return
			}
			batch = append(batch, rec)
			if len(batch) >= w.batchSize {
				w.flushWithRetry(context.Background(), batch)
				batch = batch[:0]
			}
		default:
			w.flushWithRetry(context.Background(), batch)
			return
		}
	}
}

// flushWithRetry writes the batch, retrying forever with exponential backoff.
// It returns early only when ctx is cancelled mid-backoff; the shutdown path
// calls it again with a background context.
func (w *Worker) flushWithRetry(ctx context.Context, batch []record.Record) {
	if len(batch) == 0 {
		return
	}

	backoff := initialRetryBackoff
	for attempt := 1; ; attempt++ {
		err := w.flush(ctx, batch)
		if err == nil {
			if attempt > 1 {
				w.log.Info().
					Int("attempt", attempt).
					Int("batch_size", len(batch)).
					Msg("batch flush recovered")
			}
			return
		}

		if w.metrics != nil {
			w.metrics.PersistErrors.WithLabelValues("flush").Inc()
			w.metrics.PersistRetry.Inc()
		}
		w.log.Error().Err(err).
			Int("attempt", attempt).
			Int("batch_size", len(batch)).
			Dur("backoff", backoff).
			Msg("batch flush failed, retrying")

		select {
		case <-ctx.Done():
			w.log.Warn().
				Int("batch_size", len(batch)).
				Msg("context cancelled during flush retry")
			return
		case <-time.After(backoff):
		}

		backoff *= 2
		if backoff > maxRetryBackoff {
			backoff = maxRetryBackoff
		}
	}
}

func (w *Worker) flush(ctx context.Context, batch []record.Record) error {
	start := time.Now()

	tx, err := w.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if err := w.writer.WriteBatch(ctx, tx, batch); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return err
	}

	last := batch[len(batch)-1].Sequence
	if w.metrics != nil {
		w.metrics.PersistBatchDur.Observe(time.Since(start).Seconds())
		w.metrics.PersistBatchSize.Observe(float64(len(batch)))
		w.metrics.PersistRecordsWritten.Add(float64(len(batch)))
		w.metrics.PersistLastSequence.Set(float64(last))
	}
	w.log.Debug().
		Int("batch_size", len(batch)).
		Uint64("last_sequence", last).
		Dur("took", time.Since(start)).
		Msg("batch flushed")
	return nil
}

func resetTimer(t *time.Timer, d time.Duration) {
	if !t.Stop() {
		select {
		case <-t.C:
		default:
		}
	}
	t.Reset(d)
}
