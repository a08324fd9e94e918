// Package pool tracks per-asset pool state: the listing lifecycle, liquidity,
// cycle positions, and profit settlement cursors.
package pool

import (
	"fmt"
	"sync"
	"time"

	"github.com/ahmad-codex/precog/internal/cycle"
	"github.com/ahmad-codex/precog/internal/ledger"
)

// AssetPool is the state carried per listed asset. Pools advance through
// trading cycles independently of each other; the investment cycle follows
// wall-clock time while the profit cycle advances only when profit is
// deposited.
type AssetPool struct {
	Asset   ledger.AssetID `json:"asset"`
	Symbol  string         `json:"symbol"`
	Created time.Time      `json:"created"`

	// Listed is permanent once set. Active can be toggled to suspend new
	// funding without forgetting the pool's history.
	Listed bool `json:"listed"`
	Active bool `json:"active"`

	// Liquidity is principal currently held for investors, before any
	// investment has been taken out.
	Liquidity int64 `json:"liquidity"`

	// Taken is the portion of liquidity currently deployed by the trading
	// desk. ActualBalance() is what remains on hand.
	Taken int64 `json:"taken"`

	// PendingWithdrawal accumulates amounts locked for withdrawal requests
	// that have not been claimed yet.
	PendingWithdrawal int64 `json:"pending_withdrawal"`

	CurrentInvestmentCycleID uint64 `json:"current_investment_cycle_id"`
	CurrentProfitCycleID     uint64 `json:"current_profit_cycle_id"`

	// HasPriorCycle distinguishes the first cycle, whose defunding window is
	// widened by the first-defunding configuration.
	HasPriorCycle bool `json:"has_prior_cycle"`

	// Cycles is the append-only record of opened trading cycles. The last
	// element is the cycle currently open. Cycle boundaries tile time, so a
	// configuration change takes effect on the next opened cycle only.
	Cycles []cycle.TradingCycle `json:"cycles"`
}

// Current returns the currently open trading cycle.
func (p *AssetPool) Current() cycle.TradingCycle {
	return p.Cycles[len(p.Cycles)-1]
}

// ActualBalance is the amount physically on hand: liquidity plus settled but
// unclaimed obligations, minus what the desk has taken.
func (p *AssetPool) ActualBalance() int64 {
	return p.Liquidity + p.PendingWithdrawal - p.Taken
}

// CycleByID looks up an opened trading cycle. Cycles are opened densely so
// the slice index is the cycle id offset from the first recorded cycle.
func (p *AssetPool) CycleByID(id uint64) (cycle.TradingCycle, bool) {
	first := p.Cycles[0].ID
	if id < first || id >= first+uint64(len(p.Cycles)) {
		return cycle.TradingCycle{}, false
	}
	return p.Cycles[id-first], true
}

// Registry holds all pools keyed by asset. It is not safe for concurrent use;
// the engine serializes access.
type Registry struct {
	mu    sync.RWMutex
	pools map[ledger.AssetID]*AssetPool
	order []ledger.AssetID
}

func NewRegistry() *Registry {
	return &Registry{pools: make(map[ledger.AssetID]*AssetPool)}
}

// List creates a pool for the asset and opens its first trading cycle.
// Listing is permanent; listing an already listed asset is an error.
func (r *Registry) List(asset ledger.AssetID, symbol string, cfg cycle.Config, now time.Time) (*AssetPool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.pools[asset]; ok {
		return nil, fmt.Errorf("asset %s already listed", symbol)
	}
	p := &AssetPool{
		Asset:   asset,
		Symbol:  symbol,
		Created: now,
		Listed:  true,
		Active:  true,
		Cycles:  []cycle.TradingCycle{cfg.First(now)},
	}
	r.pools[asset] = p
	r.order = append(r.order, asset)
	return p, nil
}

// Get returns the pool for an asset.
func (r *Registry) Get(asset ledger.AssetID) (*AssetPool, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.pools[asset]
	return p, ok
}

// ForEach visits pools in listing order.
func (r *Registry) ForEach(fn func(p *AssetPool)) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, a := range r.order {
		fn(r.pools[a])
	}
}

// Restore replaces the registry contents from a snapshot.
func (r *Registry) Restore(pools []*AssetPool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.pools = make(map[ledger.AssetID]*AssetPool, len(pools))
	r.order = r.order[:0]
	for _, p := range pools {
		r.pools[p.Asset] = p
		r.order = append(r.order, p.Asset)
	}
}
