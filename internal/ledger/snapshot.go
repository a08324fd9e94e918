package ledger

import (
	"sort"
	"time"

	"github.com/google/uuid"
)

// PositionSnapshot is one entry in an account's append-only principal history.
// The latest snapshot's Amount is the account's currently held principal;
// Unit is the time-weighted contribution for CycleID only and is never reused
// across cycles.
type PositionSnapshot struct {
	Amount    int64     `json:"amount"`
	Unit      int64     `json:"unit"`
	Timestamp time.Time `json:"timestamp"`
	CycleID   uint64    `json:"cycle_id"`
}

// History is the growable arena of snapshots for one (asset, account).
// Appended by the position lifecycle only; snapshots are time- and
// cycle-ordered, which is what makes UnitAt binary-searchable.
type History struct {
	snaps []PositionSnapshot
}

func (h *History) Append(s PositionSnapshot) {
	h.snaps = append(h.snaps, s)
}

// Latest returns the most recent snapshot, or false for an empty history.
func (h *History) Latest() (PositionSnapshot, bool) {
	if len(h.snaps) == 0 {
		return PositionSnapshot{}, false
	}
	return h.snaps[len(h.snaps)-1], true
}

func (h *History) Len() int {
	return len(h.snaps)
}

// At returns the snapshot at index i, oldest first.
func (h *History) At(i int) (PositionSnapshot, bool) {
	if i < 0 || i >= len(h.snaps) {
		return PositionSnapshot{}, false
	}
	return h.snaps[i], true
}

// UnitAt resolves the account's unit contribution for a given cycle:
// the latest snapshot with CycleID <= cycleID decides. If that snapshot was
// taken in the cycle itself its Unit applies; if it predates the cycle the
// position was carried at full weight, so Amount applies. No snapshot at or
// before the cycle means the account did not participate.
func (h *History) UnitAt(cycleID uint64) int64 {
	// First index with CycleID > cycleID; the entry before it decides.
	idx := sort.Search(len(h.snaps), func(i int) bool {
		return h.snaps[i].CycleID > cycleID
	})
	if idx == 0 {
		return 0
	}
	s := h.snaps[idx-1]
	if s.CycleID == cycleID {
		return s.Unit
	}
	return s.Amount
}

// Snapshots returns the raw history slice for state snapshotting.
func (h *History) Snapshots() []PositionSnapshot {
	return h.snaps
}

// positionKey identifies one account's history in one asset.
type positionKey struct {
	Asset   AssetID
	Account uuid.UUID
}

// Book owns every account's snapshot history, keyed by (asset, account).
type Book struct {
	histories map[positionKey]*History
}

func NewBook() *Book {
	return &Book{histories: make(map[positionKey]*History)}
}

// HistoryOf returns the history for (asset, account), creating it if absent.
func (b *Book) HistoryOf(asset AssetID, account uuid.UUID) *History {
	key := positionKey{Asset: asset, Account: account}
	h, ok := b.histories[key]
	if !ok {
		h = &History{}
		b.histories[key] = h
	}
	return h
}

// Lookup returns the history without creating one.
func (b *Book) Lookup(asset AssetID, account uuid.UUID) (*History, bool) {
	h, ok := b.histories[positionKey{Asset: asset, Account: account}]
	return h, ok
}

// ForEach visits every history. Used for state snapshots; never called from
// a per-account entry point.
func (b *Book) ForEach(fn func(asset AssetID, account uuid.UUID, h *History)) {
	for key, h := range b.histories {
		fn(key.Asset, key.Account, h)
	}
}

// Restore installs a history wholesale (snapshot recovery).
func (b *Book) Restore(asset AssetID, account uuid.UUID, snaps []PositionSnapshot) {
	b.histories[positionKey{Asset: asset, Account: account}] = &History{snaps: snaps}
}
