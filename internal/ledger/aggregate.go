package ledger

import "fmt"

// CycleAggregate is the per-(asset, cycle) sum of all unit contributions.
// Frozen exactly once, by whichever call first observes the cycle ended;
// a frozen aggregate is immutable.
type CycleAggregate struct {
	TotalUnits int64 `json:"total_units"`
	Frozen     bool  `json:"frozen"`
}

type aggregateKey struct {
	Asset AssetID
	Cycle uint64
}

// AggregateBook owns every cycle aggregate. Writes go through Add and Freeze
// only, both called under the engine's lock.
type AggregateBook struct {
	aggregates map[aggregateKey]*CycleAggregate
}

func NewAggregateBook() *AggregateBook {
	return &AggregateBook{aggregates: make(map[aggregateKey]*CycleAggregate)}
}

func (ab *AggregateBook) get(asset AssetID, cycle uint64) *CycleAggregate {
	key := aggregateKey{Asset: asset, Cycle: cycle}
	agg, ok := ab.aggregates[key]
	if !ok {
		agg = &CycleAggregate{}
		ab.aggregates[key] = agg
	}
	return agg
}

// Add adjusts the open aggregate for (asset, cycle) by delta. Adjusting a
// frozen aggregate is an invariant violation, not a recoverable error.
func (ab *AggregateBook) Add(asset AssetID, cycle uint64, delta int64) {
	agg := ab.get(asset, cycle)
	if agg.Frozen {
		panic(fmt.Sprintf("FATAL: aggregate for asset %d cycle %d mutated after freeze", asset, cycle))
	}
	agg.TotalUnits += delta
	if agg.TotalUnits < 0 {
		panic(fmt.Sprintf("FATAL: aggregate for asset %d cycle %d went negative: %d", asset, cycle, agg.TotalUnits))
	}
}

// Freeze marks the aggregate immutable. Idempotent: freezing an already
// frozen aggregate is a no-op.
func (ab *AggregateBook) Freeze(asset AssetID, cycle uint64) {
	ab.get(asset, cycle).Frozen = true
}

// TotalUnits returns the aggregate's unit total (0 if nothing was recorded).
func (ab *AggregateBook) TotalUnits(asset AssetID, cycle uint64) int64 {
	if agg, ok := ab.aggregates[aggregateKey{Asset: asset, Cycle: cycle}]; ok {
		return agg.TotalUnits
	}
	return 0
}

// IsFrozen reports whether the aggregate for (asset, cycle) is frozen.
func (ab *AggregateBook) IsFrozen(asset AssetID, cycle uint64) bool {
	if agg, ok := ab.aggregates[aggregateKey{Asset: asset, Cycle: cycle}]; ok {
		return agg.Frozen
	}
	return false
}

// ForEach visits every aggregate. Used for state snapshots.
func (ab *AggregateBook) ForEach(fn func(asset AssetID, cycle uint64, agg CycleAggregate)) {
	for key, agg := range ab.aggregates {
		fn(key.Asset, key.Cycle, *agg)
	}
}

// Restore installs an aggregate wholesale (snapshot recovery).
func (ab *AggregateBook) Restore(asset AssetID, cycle uint64, agg CycleAggregate) {
	copied := agg
	ab.aggregates[aggregateKey{Asset: asset, Cycle: cycle}] = &copied
}
