// Package ledger implements the participation ledger: per-account append-only
// principal histories, time-weighted unit accounting, and per-cycle aggregate
// totals. It has no notion of cycles beyond their bounds; the rollover
// engine decides when a cycle turns over.
package ledger

import (
	"time"

	"github.com/google/uuid"

	"github.com/ahmad-codex/precog/internal/cycle"
	"github.com/ahmad-codex/precog/internal/fixed"
)

// Ledger combines the snapshot book and the aggregate book. All mutation goes
// through RecordPosition so the per-cycle aggregates can never drift from the
// snapshot histories.
type Ledger struct {
	book       *Book
	aggregates *AggregateBook
}

func New() *Ledger {
	return &Ledger{
		book:       NewBook(),
		aggregates: NewAggregateBook(),
	}
}

// Book exposes the snapshot histories for read-only queries and snapshots.
func (l *Ledger) Book() *Book { return l.book }

// Aggregates exposes the aggregate book for the rollover engine and queries.
func (l *Ledger) Aggregates() *AggregateBook { return l.aggregates }

// UnitFor computes the time-weighted unit value of a principal change of
// |delta| at instant now inside the given cycle: delta * (end-now)/(end-start).
// Clamped to delta before the cycle starts and to 0 at or after its end.
func UnitFor(delta int64, tc cycle.TradingCycle, now time.Time) int64 {
	if !now.After(tc.Start) {
		return delta
	}
	if !now.Before(tc.End) {
		return 0
	}
	remaining := int64(tc.End.Sub(now))
	length := int64(tc.End.Sub(tc.Start))
	return fixed.MulDiv(delta, remaining, length)
}

// RecordPosition applies a principal change for (asset, account) inside the
// pool's current investment cycle and keeps the cycle aggregate in sync.
// newAmount is the resulting held principal, not the delta.
//
// An account that carried a nonzero position from a prior cycle is first
// re-snapshotted at full weight (unit == amount). There is no way to iterate
// all accounts when a cycle turns over, so the first mutating touch in the
// new cycle does it. A second change within the same still-open cycle
// corrects the aggregate instead of double counting.
//
// Returns the account's unit contribution for the current cycle after the
// change.
func (l *Ledger) RecordPosition(asset AssetID, account uuid.UUID, newAmount int64, tc cycle.TradingCycle, now time.Time) int64 {
	l.Touch(asset, account, tc)

	h := l.book.HistoryOf(asset, account)
	prevAmount := int64(0)
	prevUnit := int64(0)
	if last, ok := h.Latest(); ok {
		prevAmount = last.Amount
		if last.CycleID == tc.ID {
			prevUnit = last.Unit
		}
	}

	delta := newAmount - prevAmount
	if delta == 0 {
		return prevUnit
	}

	var newUnit int64
	if delta > 0 {
		newUnit = prevUnit + UnitFor(delta, tc, now)
	} else {
		newUnit = prevUnit - UnitFor(-delta, tc, now)
		if newUnit < 0 {
			newUnit = 0
		}
	}

	h.Append(PositionSnapshot{
		Amount:    newAmount,
		Unit:      newUnit,
		Timestamp: now,
		CycleID:   tc.ID,
	})
	l.aggregates.Add(asset, tc.ID, newUnit-prevUnit)

	return newUnit
}

// Touch re-snapshots a carried position into the current cycle at full
// weight without changing the amount. The rollover already seeded the new
// cycle's aggregate with all carried principal, so the re-snapshot is
// aggregate-neutral. RecordPosition calls it before applying any change.
func (l *Ledger) Touch(asset AssetID, account uuid.UUID, tc cycle.TradingCycle) {
	h := l.book.HistoryOf(asset, account)
	last, ok := h.Latest()
	if !ok || last.CycleID >= tc.ID || last.Amount == 0 {
		return
	}
	h.Append(PositionSnapshot{
		Amount:    last.Amount,
		Unit:      last.Amount,
		Timestamp: tc.Start,
		CycleID:   tc.ID,
	})
}

// UnitOf resolves the account's unit contribution for a cycle from its
// snapshot history.
func (l *Ledger) UnitOf(asset AssetID, account uuid.UUID, cycleID uint64) int64 {
	h, ok := l.book.Lookup(asset, account)
	if !ok {
		return 0
	}
	return h.UnitAt(cycleID)
}

// HeldAmount returns the account's currently held principal.
func (l *Ledger) HeldAmount(asset AssetID, account uuid.UUID) int64 {
	h, ok := l.book.Lookup(asset, account)
	if !ok {
		return 0
	}
	last, ok := h.Latest()
	if !ok {
		return 0
	}
	return last.Amount
}
