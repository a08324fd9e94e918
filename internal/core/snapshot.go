package core

import (
	"github.com/google/uuid"

	"github.com/ahmad-codex/precog/internal/cycle"
	"github.com/ahmad-codex/precog/internal/ledger"
	"github.com/ahmad-codex/precog/internal/pool"
)

// SnapshotState is the serializable in-memory state of the engine. On warm
// restart the service loads the latest snapshot and resumes; the durable
// record log is an audit trail, not a replay source.
type SnapshotState struct {
	Sequence uint64 `json:"sequence"`

	Assets []AssetEntry     `json:"assets"`
	Pools  []*pool.AssetPool `json:"pools"`

	Positions  []PositionEntry  `json:"positions"`
	Aggregates []AggregateEntry `json:"aggregates"`

	ProfitRecords []ProfitEntry `json:"profit_records"`
	Cursors       []CursorEntry `json:"cursors"`
}

type AssetEntry struct {
	ID       ledger.AssetID `json:"id"`
	Symbol   string         `json:"symbol"`
	Decimals uint8          `json:"decimals"`
}

type PositionEntry struct {
	Asset     ledger.AssetID            `json:"asset"`
	Account   uuid.UUID                 `json:"account"`
	Snapshots []ledger.PositionSnapshot `json:"snapshots"`
}

type AggregateEntry struct {
	Asset     ledger.AssetID        `json:"asset"`
	Cycle     uint64                `json:"cycle"`
	Aggregate ledger.CycleAggregate `json:"aggregate"`
}

type ProfitEntry struct {
	Asset   ledger.AssetID      `json:"asset"`
	Records []pool.ProfitRecord `json:"records"`
}

type CursorEntry struct {
	Asset   ledger.AssetID `json:"asset"`
	Account uuid.UUID      `json:"account"`
	Cursor  pool.Cursor    `json:"cursor"`
}

// CreateSnapshotState captures the current in-memory state for persistence.
func (e *Engine) CreateSnapshotState() *SnapshotState {
	e.mu.Lock()
	defer e.mu.Unlock()

	snap := &SnapshotState{Sequence: e.sequence}

	for _, id := range e.assets.IDs() {
		sym, _ := e.assets.SymbolOf(id)
		dec, _ := e.assets.DecimalsOf(id)
		snap.Assets = append(snap.Assets, AssetEntry{ID: id, Symbol: sym, Decimals: dec})
	}
	e.pools.ForEach(func(p *pool.AssetPool) {
		cp := *p
		cp.Cycles = append([]cycle.TradingCycle(nil), p.Cycles...)
		snap.Pools = append(snap.Pools, &cp)

		snap.ProfitRecords = append(snap.ProfitRecords, ProfitEntry{
			Asset:   p.Asset,
			Records: e.profits.Records(p.Asset),
		})
	})
	e.ledger.Book().ForEach(func(asset ledger.AssetID, account uuid.UUID, h *ledger.History) {
		snap.Positions = append(snap.Positions, PositionEntry{
			Asset:     asset,
			Account:   account,
			Snapshots: h.Snapshots(),
		})
	})
	e.ledger.Aggregates().ForEach(func(asset ledger.AssetID, cycleID uint64, agg ledger.CycleAggregate) {
		snap.Aggregates = append(snap.Aggregates, AggregateEntry{Asset: asset, Cycle: cycleID, Aggregate: agg})
	})
	e.profits.ForEachCursor(func(asset ledger.AssetID, account uuid.UUID, c pool.Cursor) {
		snap.Cursors = append(snap.Cursors, CursorEntry{Asset: asset, Account: account, Cursor: c})
	})

	return snap
}

// RestoreFromSnapshot replaces the engine's in-memory state.
func (e *Engine) RestoreFromSnapshot(snap *SnapshotState) {
	e.mu.Lock()
	defer e.mu.Unlock()

	// The record log can be ahead of the snapshot; never reuse a sequence
	// already handed out.
	if snap.Sequence > e.sequence {
		e.sequence = snap.Sequence
	}

	for _, a := range snap.Assets {
		e.assets.Restore(a.ID, a.Symbol, a.Decimals)
	}
	e.pools.Restore(snap.Pools)
	for _, pe := range snap.Positions {
		e.ledger.Book().Restore(pe.Asset, pe.Account, pe.Snapshots)
	}
	for _, ae := range snap.Aggregates {
		e.ledger.Aggregates().Restore(ae.Asset, ae.Cycle, ae.Aggregate)
	}
	for _, pr := range snap.ProfitRecords {
		e.profits.RestoreRecords(pr.Asset, pr.Records)
	}
	for _, ce := range snap.Cursors {
		e.profits.RestoreCursor(ce.Asset, ce.Account, ce.Cursor)
	}
}
