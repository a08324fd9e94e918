package cycle

import (
	"fmt"
	"time"
)

// Config holds the cycle window durations. Admin-set, applies to every pool;
// a change takes effect for cycles opened after the change (already-opened
// trading cycles keep the bounds they were created with).
type Config struct {
	TradingCycle         time.Duration
	FundingWindow        time.Duration
	DefundingWindow      time.Duration
	FirstDefundingWindow time.Duration
}

// Validate checks the window durations fit inside one trading cycle.
func (c Config) Validate() error {
	if c.TradingCycle <= 0 {
		return fmt.Errorf("trading cycle must be positive, got %v", c.TradingCycle)
	}
	if c.FundingWindow < 0 || c.DefundingWindow < 0 || c.FirstDefundingWindow < 0 {
		return fmt.Errorf("window durations must be non-negative")
	}
	if c.FundingWindow+c.DefundingWindow > c.TradingCycle {
		return fmt.Errorf("funding (%v) + defunding (%v) exceeds trading cycle (%v)",
			c.FundingWindow, c.DefundingWindow, c.TradingCycle)
	}
	return nil
}

// TradingCycle is the append-only record of one cycle's bounds.
// Created once when the boundary is first crossed, never mutated.
type TradingCycle struct {
	ID    uint64    `json:"id"`
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

// Contains reports whether now falls inside [Start, End).
func (tc TradingCycle) Contains(now time.Time) bool {
	return !now.Before(tc.Start) && now.Before(tc.End)
}

// ID computes the cycle id for a wall-clock instant under a constant trading
// cycle length: floor((now - creation) / length). Pure, no state.
func ID(poolCreation, now time.Time, tradingCycle time.Duration) uint64 {
	if now.Before(poolCreation) {
		return 0
	}
	return uint64(now.Sub(poolCreation) / tradingCycle)
}

// Bounds returns the [start, end) interval for a cycle id under a constant
// trading cycle length.
func Bounds(poolCreation time.Time, id uint64, tradingCycle time.Duration) (time.Time, time.Time) {
	start := poolCreation.Add(time.Duration(id) * tradingCycle)
	return start, start.Add(tradingCycle)
}

// InFundingWindow reports whether now is inside the funding window of the
// given cycle: [start, start + fundingWindow).
func (c Config) InFundingWindow(tc TradingCycle, now time.Time) bool {
	return !now.Before(tc.Start) && now.Before(tc.Start.Add(c.FundingWindow))
}

// InDefundingWindow reports whether now is inside the defunding window at the
// tail of the given cycle: [end - defundingWindow, end). The very first cycle
// uses the wider first-defunding margin, since there is no prior-cycle profit
// to fund immediate exits.
func (c Config) InDefundingWindow(tc TradingCycle, now time.Time, hasPriorCycle bool) bool {
	window := c.DefundingWindow
	if !hasPriorCycle {
		window = c.FirstDefundingWindow
	}
	return !now.Before(tc.End.Add(-window)) && now.Before(tc.End)
}

// Next returns the trading cycle that follows tc under this config. The new
// cycle starts exactly where tc ends, so lazily appended cycles tile time
// with no gaps even across config changes.
func (c Config) Next(tc TradingCycle) TradingCycle {
	return TradingCycle{
		ID:    tc.ID + 1,
		Start: tc.End,
		End:   tc.End.Add(c.TradingCycle),
	}
}

// First returns cycle 0 for a pool created at the given instant.
func (c Config) First(createdAt time.Time) TradingCycle {
	return TradingCycle{
		ID:    0,
		Start: createdAt,
		End:   createdAt.Add(c.TradingCycle),
	}
}
