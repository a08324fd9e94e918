// Package schedule runs the periodic maintenance jobs: cycle rollovers for
// quiet pools and state snapshots for restart recovery.
package schedule

import (
	"context"
	"fmt"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"

	"github.com/ahmad-codex/precog/internal/core"
	"github.com/ahmad-codex/precog/internal/observability"
	"github.com/ahmad-codex/precog/internal/persistence"
)

// Scheduler manages the cron jobs.
type Scheduler struct {
	cron      *cron.Cron
	engine    *core.Engine
	snapshots *persistence.SnapshotStore
	log       zerolog.Logger
}

func NewScheduler(engine *core.Engine, snapshots *persistence.SnapshotStore) *Scheduler {
	return &Scheduler{
		cron:      cron.New(),
		engine:    engine,
		snapshots: snapshots,
		log:       observability.NewLogger("scheduler"),
	}
}

// Register wires the rollover and snapshot jobs. Cron specs accept the
// standard five-field syntax plus descriptors like "@every 1m".
func (s *Scheduler) Register(rolloverSpec, snapshotSpec string) error {
	if _, err := s.cron.AddFunc(rolloverSpec, s.rolloverTask); err != nil {
		return fmt.Errorf("register rollover task: %w", err)
	}
	if s.snapshots != nil {
		if _, err := s.cron.AddFunc(snapshotSpec, s.snapshotTask); err != nil {
			return fmt.Errorf("register snapshot task: %w", err)
		}
	}
	return nil
}

// rolloverTask advances every pool to the current cycle. Rollovers also
// happen lazily on each operation; the job exists so cycle freezes are not
// postponed indefinitely on idle pools.
func (s *Scheduler) rolloverTask() {
	s.engine.RolloverAll()
	s.log.Debug().Msg("rollover sweep complete")
}

func (s *Scheduler) snapshotTask() {
	state := s.engine.CreateSnapshotState()
	if err := s.snapshots.Save(context.Background(), state); err != nil {
		s.log.Error().Err(err).Uint64("sequence", state.Sequence).Msg("snapshot save failed")
	}
}

// SnapshotNow takes a snapshot outside the cron cadence, used at shutdown.
func (s *Scheduler) SnapshotNow(ctx context.Context) error {
	if s.snapshots == nil {
		return nil
	}
	return s.snapshots.Save(ctx, s.engine.CreateSnapshotState())
}

func (s *Scheduler) Start() {
	s.cron.Start()
	s.log.Info().Msg("scheduler started")
}

func (s *Scheduler) Stop() {
	s.cron.Stop()
	s.log.Info().Msg("scheduler stopped")
}
