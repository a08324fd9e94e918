package pool

import (
	"time"

	"github.com/ahmad-codex/precog/internal/cycle"
	"github.com/ahmad-codex/precog/internal/ledger"
)

// RolloverDiff reports what a rollover did: which cycles closed and which
// opened. Closed cycles have had their unit aggregates frozen.
type RolloverDiff struct {
	Frozen []uint64
	Opened []cycle.TradingCycle
}

// Advanced reports whether the rollover moved the pool forward at all.
func (d RolloverDiff) Advanced() bool { return len(d.Opened) > 0 }

// Rollover advances the pool's investment cycle to the one containing now,
// opening every intermediate cycle and freezing the unit aggregate of every
// cycle that closed. It is a no-op when now still falls inside the current
// cycle, so it is safe to call on every operation as well as from a timer.
//
// Rollover never iterates accounts. Each opened cycle's aggregate is seeded
// with the pool's carried principal at full weight, which is exactly the sum
// of every untouched position's full-weight unit. Per-account re-snapshots
// happen lazily in the ledger and are aggregate-neutral, so the seed and the
// later position deltas together keep the aggregate equal to the sum of
// account units without ever iterating accounts.
func Rollover(p *AssetPool, cfg cycle.Config, agg *ledger.AggregateBook, now time.Time) RolloverDiff {
	var diff RolloverDiff
	for {
		cur := p.Current()
		if now.Before(cur.End) {
			return diff
		}
		agg.Freeze(p.Asset, cur.ID)
		diff.Frozen = append(diff.Frozen, cur.ID)

		next := cfg.Next(cur)
		if p.Liquidity > 0 {
			agg.Add(p.Asset, next.ID, p.Liquidity)
		}
		p.Cycles = append(p.Cycles, next)
		p.CurrentInvestmentCycleID = next.ID
		p.HasPriorCycle = true
		diff.Opened = append(diff.Opened, next)
	}
}
