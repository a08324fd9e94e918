package pool

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/ahmad-codex/precog/internal/fixed"
	"github.com/ahmad-codex/precog/internal/ledger"
)

// ProfitRecord is the write-once accounting row for one profit cycle of one
// pool. TotalUnits is captured from the frozen cycle aggregate at deposit
// time so later settlement needs no further lookups.
type ProfitRecord struct {
	CycleID    uint64    `json:"cycle_id"`
	Amount     int64     `json:"amount"`
	TotalUnits int64     `json:"total_units"`
	Deposited  time.Time `json:"deposited"`
}

// Cursor tracks how far one account has settled against a pool's profit
// records, and what it has accrued and claimed so far. Settled profit moves
// to Unclaimed; Claim moves it on to Claimed. LastSeen is the first profit
// cycle not yet settled and only ever moves forward.
type Cursor struct {
	LastSeen  uint64 `json:"last_seen"`
	Unclaimed int64  `json:"unclaimed"`
	Claimed   int64  `json:"claimed"`
}

type cursorKey struct {
	Asset   ledger.AssetID
	Account uuid.UUID
}

// ProfitBook stores profit records and per-account settlement cursors for
// all pools. Records are append-only and never revised.
type ProfitBook struct {
	mu      sync.RWMutex
	records map[ledger.AssetID][]ProfitRecord
	cursors map[cursorKey]*Cursor
}

func NewProfitBook() *ProfitBook {
	return &ProfitBook{
		records: make(map[ledger.AssetID][]ProfitRecord),
		cursors: make(map[cursorKey]*Cursor),
	}
}

// RecordProfit appends the write-once record for a profit cycle. A second
// record for the same cycle is rejected; records must arrive in cycle order.
func (pb *ProfitBook) RecordProfit(asset ledger.AssetID, rec ProfitRecord) error {
	pb.mu.Lock()
	defer pb.mu.Unlock()
	recs := pb.records[asset]
	if len(recs) > 0 && rec.CycleID <= recs[len(recs)-1].CycleID {
		return fmt.Errorf("profit record for cycle %d already written", rec.CycleID)
	}
	pb.records[asset] = append(recs, rec)
	return nil
}

// Record returns the profit record of a cycle, if one was written.
func (pb *ProfitBook) Record(asset ledger.AssetID, cycleID uint64) (ProfitRecord, bool) {
	pb.mu.RLock()
	defer pb.mu.RUnlock()
	for _, rec := range pb.records[asset] {
		if rec.CycleID == cycleID {
			return rec, true
		}
		if rec.CycleID > cycleID {
			break
		}
	}
	return ProfitRecord{}, false
}

// Records returns all profit records of a pool in cycle order.
func (pb *ProfitBook) Records(asset ledger.AssetID) []ProfitRecord {
	pb.mu.RLock()
	defer pb.mu.RUnlock()
	out := make([]ProfitRecord, len(pb.records[asset]))
	copy(out, pb.records[asset])
	return out
}

// CursorOf returns a copy of the account's cursor.
func (pb *ProfitBook) CursorOf(asset ledger.AssetID, account uuid.UUID) Cursor {
	pb.mu.RLock()
	defer pb.mu.RUnlock()
	if c, ok := pb.cursors[cursorKey{asset, account}]; ok {
		return *c
	}
	return Cursor{}
}

// Settle brings the account's cursor up to the pool's current profit cycle,
// accruing its proportional share of every settled cycle's profit. Cycles in
// [cursor, current) are covered; the current cycle is still open and never
// settled. Cost is proportional to the backlog, not to the account count.
//
// unitOf resolves the account's unit for a given cycle. The accrued amount
// is returned in addition to being added to the cursor.
func (pb *ProfitBook) Settle(asset ledger.AssetID, account uuid.UUID, currentProfitCycle uint64, unitOf func(cycleID uint64) int64) int64 {
	pb.mu.Lock()
	defer pb.mu.Unlock()
	key := cursorKey{asset, account}
	cur, ok := pb.cursors[key]
	if !ok {
		cur = &Cursor{}
		pb.cursors[key] = cur
	}
	if cur.LastSeen >= currentProfitCycle {
		return 0
	}

	accrued := accrueRange(pb.records[asset], cur.LastSeen, currentProfitCycle, unitOf)
	cur.LastSeen = currentProfitCycle
	cur.Unclaimed += accrued
	return accrued
}

// accrueRange sums the account's share of every record with CycleID in
// [from, until). Records are sorted by CycleID, so the start is found by
// binary search and the walk covers only the backlog.
func accrueRange(recs []ProfitRecord, from, until uint64, unitOf func(cycleID uint64) int64) int64 {
	i := sort.Search(len(recs), func(i int) bool {
		return recs[i].CycleID >= from
	})
	var accrued int64
	for _, rec := range recs[i:] {
		if rec.CycleID >= until {
			break
		}
		if rec.TotalUnits == 0 || rec.Amount == 0 {
			continue
		}
		accrued += fixed.Share(rec.Amount, unitOf(rec.CycleID), rec.TotalUnits)
	}
	return accrued
}

// Preview computes what Settle would leave unclaimed without moving the
// cursor. Backs the read-only profit query.
func (pb *ProfitBook) Preview(asset ledger.AssetID, account uuid.UUID, currentProfitCycle uint64, unitOf func(cycleID uint64) int64) int64 {
	pb.mu.RLock()
	defer pb.mu.RUnlock()
	var cur Cursor
	if c, ok := pb.cursors[cursorKey{asset, account}]; ok {
		cur = *c
	}
	return cur.Unclaimed + accrueRange(pb.records[asset], cur.LastSeen, currentProfitCycle, unitOf)
}

// Claim drains the account's unclaimed profit, moving it to the claimed
// total, and returns the amount drained.
func (pb *ProfitBook) Claim(asset ledger.AssetID, account uuid.UUID) int64 {
	pb.mu.Lock()
	defer pb.mu.Unlock()
	cur, ok := pb.cursors[cursorKey{asset, account}]
	if !ok || cur.Unclaimed == 0 {
		return 0
	}
	amount := cur.Unclaimed
	cur.Unclaimed = 0
	cur.Claimed += amount
	return amount
}

// ForEachCursor visits every cursor. Iteration order is unspecified.
func (pb *ProfitBook) ForEachCursor(fn func(asset ledger.AssetID, account uuid.UUID, c Cursor)) {
	pb.mu.RLock()
	defer pb.mu.RUnlock()
	for k, c := range pb.cursors {
		fn(k.Asset, k.Account, *c)
	}
}

// RestoreRecords replaces a pool's profit records from a snapshot.
func (pb *ProfitBook) RestoreRecords(asset ledger.AssetID, recs []ProfitRecord) {
	pb.mu.Lock()
	defer pb.mu.Unlock()
	pb.records[asset] = append([]ProfitRecord(nil), recs...)
}

// RestoreCursor replaces one account's cursor from a snapshot.
func (pb *ProfitBook) RestoreCursor(asset ledger.AssetID, account uuid.UUID, c Cursor) {
	pb.mu.Lock()
	defer pb.mu.Unlock()
	cc := c
	pb.cursors[cursorKey{asset, account}] = &cc
}
