// Package core implements the accounting engine behind the pooled-investment
// ledger. Every entry point runs to completion under one lock: rollover,
// ledger update, and aggregate adjustment happen as one atomic unit, and
// collaborator calls come strictly last so a reentrant collaborator can never
// observe or corrupt an aggregate under computation.
package core

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/ahmad-codex/precog/internal/collab"
	"github.com/ahmad-codex/precog/internal/cycle"
	"github.com/ahmad-codex/precog/internal/fixed"
	"github.com/ahmad-codex/precog/internal/ledger"
	"github.com/ahmad-codex/precog/internal/observability"
	"github.com/ahmad-codex/precog/internal/pool"
	"github.com/ahmad-codex/precog/internal/record"
)

// Role gates which entry points an actor may call.
type Role uint8

const (
	RoleInvestor Role = iota
	RoleMiddleware
	RoleAdmin
)

func (r Role) String() string {
	switch r {
	case RoleMiddleware:
		return "middleware"
	case RoleAdmin:
		return "admin"
	default:
		return "investor"
	}
}

// Actor is the authenticated caller of an entry point. Account-scoped
// operations act on the actor's own id.
type Actor struct {
	ID   uuid.UUID
	Role Role
}

// FeeConfig holds fee rates in parts per million.
type FeeConfig struct {
	DepositFeeRate       int64 `json:"deposit_fee_rate" yaml:"deposit_fee_rate"`
	ForceExitPenaltyRate int64 `json:"force_exit_penalty_rate" yaml:"force_exit_penalty_rate"`
	ProfitFeeRate        int64 `json:"profit_fee_rate" yaml:"profit_fee_rate"`
}

func (f FeeConfig) validate() error {
	for _, r := range []int64{f.DepositFeeRate, f.ForceExitPenaltyRate, f.ProfitFeeRate} {
		if r < 0 || r >= fixed.RateScale {
			return fmt.Errorf("fee rate %d out of range [0, %d)", r, fixed.RateScale)
		}
	}
	return nil
}

// CapConfig bounds principal per account and per pool. Zero means uncapped.
type CapConfig struct {
	MaxPerAccount int64 `json:"max_per_account" yaml:"max_per_account"`
	MaxPerPool    int64 `json:"max_per_pool" yaml:"max_per_pool"`
}

// Config is the engine's admin-set configuration.
type Config struct {
	Cycle cycle.Config
	Fees  FeeConfig
	Caps  CapConfig

	// InvestmentTakeRate is the fraction of pool liquidity, in parts per
	// million, that one TakeInvestment call moves to the middleware.
	InvestmentTakeRate int64
}

// Deps wires the engine's collaborators and output channels. PersistChan is
// drained by the persistence worker with a blocking send (backpressure);
// ProjectionChan is best-effort with drop-on-full.
type Deps struct {
	Receipts collab.ReceiptToken
	Treasury collab.Treasury
	Register collab.WithdrawalRegister

	PersistChan    chan<- record.Record
	ProjectionChan chan<- record.Record

	Metrics *observability.Metrics

	// Now overrides the clock, for tests. Defaults to time.Now.
	Now func() time.Time

	// StartSequence seeds the audit sequence, normally from the last
	// persisted record on restart.
	StartSequence uint64
}

// Engine is the single-writer accounting core. All entry points serialize on
// one mutex; correctness hazards are about ordering across calls, never about
// parallel mutation.
type Engine struct {
	mu sync.Mutex

	cfg     Config
	assets  *ledger.AssetCatalog
	ledger  *ledger.Ledger
	pools   *pool.Registry
	profits *pool.ProfitBook

	receipts collab.ReceiptToken
	treasury collab.Treasury
	register collab.WithdrawalRegister

	sequence       uint64
	persistChan    chan<- record.Record
	projectionChan chan<- record.Record
	metrics        *observability.Metrics
	nowFn          func() time.Time
}

func NewEngine(cfg Config, deps Deps) (*Engine, error) {
	if err := cfg.Cycle.Validate(); err != nil {
		return nil, fmt.Errorf("cycle config: %w", err)
	}
	if err := cfg.Fees.validate(); err != nil {
		return nil, fmt.Errorf("fee config: %w", err)
	}
	nowFn := deps.Now
	if nowFn == nil {
		nowFn = time.Now
	}
	return &Engine{
		cfg:            cfg,
		assets:         ledger.NewAssetCatalog(),
		ledger:         ledger.New(),
		pools:          pool.NewRegistry(),
		profits:        pool.NewProfitBook(),
		receipts:       deps.Receipts,
		treasury:       deps.Treasury,
		register:       deps.Register,
		sequence:       deps.StartSequence,
		persistChan:    deps.PersistChan,
		projectionChan: deps.ProjectionChan,
		metrics:        deps.Metrics,
		nowFn:          nowFn,
	}, nil
}

// ============================================================================
// Internal plumbing
// ============================================================================

// emit assigns the next sequence and hands the record to the output channels.
// Persist is a blocking send so no record is ever lost; projection drops on
// full and catches up from the durable log.
func (e *Engine) emit(rec record.Record) {
	e.sequence++
	rec.Sequence = e.sequence

	if e.persistChan != nil {
		e.persistChan <- rec
	}
	if e.projectionChan != nil {
		select {
		case e.projectionChan <- rec:
		default:
			if e.metrics != nil {
				e.metrics.ProjectionDrops.Inc()
			}
		}
	}
	if e.metrics != nil {
		e.metrics.Sequence.Set(float64(e.sequence))
	}
}

func (e *Engine) poolFor(asset ledger.AssetID) (*pool.AssetPool, error) {
	p, ok := e.pools.Get(asset)
	if !ok || !p.Listed {
		return nil, ErrNotListed
	}
	return p, nil
}

// ensureRolledOver advances the pool to the cycle containing now and emits a
// rollover record per opened cycle. Called first in every mutating entry
// point, so the boundary crossing is observed by whichever call comes first.
func (e *Engine) ensureRolledOver(p *pool.AssetPool, now time.Time) {
	diff := pool.Rollover(p, e.cfg.Cycle, e.ledger.Aggregates(), now)
	if !diff.Advanced() {
		return
	}
	for _, opened := range diff.Opened {
		e.emit(record.Record{
			Type:      record.TypeRollover,
			Asset:     p.Asset,
			Symbol:    p.Symbol,
			Unit:      e.ledger.Aggregates().TotalUnits(p.Asset, opened.ID-1),
			CycleID:   opened.ID,
			Timestamp: now,
		})
	}
	if e.metrics != nil {
		e.metrics.CyclesRolledOver.WithLabelValues(p.Symbol).Add(float64(len(diff.Frozen)))
		e.metrics.InvestmentCycleID.WithLabelValues(p.Symbol).Set(float64(p.CurrentInvestmentCycleID))
	}
}

func (e *Engine) observe(op string, start time.Time, err error) {
	if e.metrics == nil {
		return
	}
	if err != nil {
		e.metrics.OpsRejected.WithLabelValues(op, reasonOf(err)).Inc()
		return
	}
	e.metrics.OpsApplied.WithLabelValues(op).Inc()
	e.metrics.OpDuration.WithLabelValues(op).Observe(time.Since(start).Seconds())
}

func reasonOf(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrUnauthorized):
		return "unauthorized"
	case errors.Is(err, ErrWindowClosed):
		return "window_closed"
	case errors.Is(err, ErrCapExceeded):
		return "cap_exceeded"
	case errors.Is(err, ErrInsufficientBalance):
		return "insufficient_balance"
	case errors.Is(err, ErrNotListed), errors.Is(err, ErrNotActive):
		return "listing"
	default:
		return "validation"
	}
}

func (e *Engine) updatePoolGauges(p *pool.AssetPool) {
	if e.metrics == nil {
		return
	}
	e.metrics.PoolLiquidity.WithLabelValues(p.Symbol).Set(float64(p.Liquidity))
	e.metrics.PoolTaken.WithLabelValues(p.Symbol).Set(float64(p.Taken))
	e.metrics.PoolPendingWithdrawal.WithLabelValues(p.Symbol).Set(float64(p.PendingWithdrawal))
}

// ============================================================================
// Admin operations
// ============================================================================

// ConfigureCycles replaces the cycle window configuration. Already-opened
// trading cycles keep their bounds; the change applies from the next opened
// cycle.
func (e *Engine) ConfigureCycles(actor Actor, cfg cycle.Config) error {
	if actor.Role != RoleAdmin {
		return ErrUnauthorized
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	e.cfg.Cycle = cfg
	return nil
}

func (e *Engine) ConfigureFees(actor Actor, fees FeeConfig) error {
	if actor.Role != RoleAdmin {
		return ErrUnauthorized
	}
	if err := fees.validate(); err != nil {
		return err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	e.cfg.Fees = fees
	return nil
}

func (e *Engine) SetCaps(actor Actor, caps CapConfig) error {
	if actor.Role != RoleAdmin {
		return ErrUnauthorized
	}
	if caps.MaxPerAccount < 0 || caps.MaxPerPool < 0 {
		return fmt.Errorf("caps must be non-negative")
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	e.cfg.Caps = caps
	return nil
}

func (e *Engine) SetInvestmentTakeRate(actor Actor, ratePPM int64) error {
	if actor.Role != RoleAdmin {
		return ErrUnauthorized
	}
	if ratePPM < 0 || ratePPM > fixed.RateScale {
		return fmt.Errorf("take rate %d out of range [0, %d]", ratePPM, fixed.RateScale)
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	e.cfg.InvestmentTakeRate = ratePPM
	return nil
}

// ListAsset registers the asset and opens its pool's first trading cycle.
func (e *Engine) ListAsset(actor Actor, symbol string, decimals uint8) (ledger.AssetID, error) {
	if actor.Role != RoleAdmin {
		return 0, ErrUnauthorized
	}
	e.mu.Lock()
	defer e.mu.Unlock()

	now := e.nowFn()
	asset := e.assets.Register(symbol, decimals)
	p, err := e.pools.List(asset, symbol, e.cfg.Cycle, now)
	if err != nil {
		return 0, err
	}

	e.emit(record.Record{
		Type:      record.TypeListing,
		Asset:     asset,
		Symbol:    symbol,
		CycleID:   0,
		Timestamp: now,
	})
	e.updatePoolGauges(p)
	return asset, nil
}

// DelistAsset blocks new deposits. Withdrawals and profit claims keep
// working; listing itself is permanent.
func (e *Engine) DelistAsset(actor Actor, asset ledger.AssetID) error {
	if actor.Role != RoleAdmin {
		return ErrUnauthorized
	}
	e.mu.Lock()
	defer e.mu.Unlock()

	p, err := e.poolFor(asset)
	if err != nil {
		return err
	}
	p.Active = false
	return nil
}

// ============================================================================
// Account operations
// ============================================================================

// Deposit adds principal to the pool. The deposit fee goes to the treasury;
// the net amount earns units pro-rated by the time remaining in the current
// cycle, and the receipt token is minted 1:1 for the net principal.
func (e *Engine) Deposit(actor Actor, asset ledger.AssetID, amount int64, intent uuid.UUID) (int64, error) {
	start := time.Now()
	unit, err := e.deposit(actor, asset, amount, intent)
	e.observe("deposit", start, err)
	return unit, err
}

func (e *Engine) deposit(actor Actor, asset ledger.AssetID, amount int64, intent uuid.UUID) (int64, error) {
	if amount <= 0 {
		return 0, ErrZeroAmount
	}
	e.mu.Lock()
	defer e.mu.Unlock()

	p, err := e.poolFor(asset)
	if err != nil {
		return 0, err
	}
	if !p.Active {
		return 0, ErrNotActive
	}

	now := e.nowFn()
	e.ensureRolledOver(p, now)
	cur := p.Current()

	// A zero funding window means no window policy: deposits are open for
	// the whole cycle.
	if e.cfg.Cycle.FundingWindow > 0 && !e.cfg.Cycle.InFundingWindow(cur, now) {
		return 0, ErrWindowClosed
	}

	fee := fixed.ApplyRate(amount, e.cfg.Fees.DepositFeeRate)
	net := amount - fee

	held := e.ledger.HeldAmount(asset, actor.ID)
	if e.cfg.Caps.MaxPerAccount > 0 && held+net > e.cfg.Caps.MaxPerAccount {
		return 0, ErrCapExceeded
	}
	if e.cfg.Caps.MaxPerPool > 0 && p.Liquidity+net > e.cfg.Caps.MaxPerPool {
		return 0, ErrCapExceeded
	}

	unit := e.ledger.RecordPosition(asset, actor.ID, held+net, cur, now)
	p.Liquidity += net

	e.emit(record.Record{
		Type:      record.TypeDeposit,
		Asset:     asset,
		Symbol:    p.Symbol,
		Account:   actor.ID,
		Amount:    net,
		Fee:       fee,
		Unit:      unit,
		CycleID:   cur.ID,
		Intent:    intent,
		Timestamp: now,
	})
	e.updatePoolGauges(p)

	// Collaborators last: internal state is final at this point.
	if fee > 0 {
		if err := e.treasury.Receive(asset, fee, "deposit_fee"); err != nil {
			panic(fmt.Sprintf("FATAL: treasury rejected deposit fee: %v", err))
		}
	}
	if err := e.receipts.Mint(asset, actor.ID, net); err != nil {
		panic(fmt.Sprintf("FATAL: receipt mint failed: %v", err))
	}
	return unit, nil
}

// ForceExit withdraws principal immediately, before it has been taken for
// off-ledger trading. Only permitted inside the funding window; a penalty
// rate is charged and routed to the treasury.
func (e *Engine) ForceExit(actor Actor, asset ledger.AssetID, amount int64, intent uuid.UUID) (returned, penalty int64, err error) {
	start := time.Now()
	returned, penalty, err = e.forceExit(actor, asset, amount, intent)
	e.observe("force_exit", start, err)
	return returned, penalty, err
}

func (e *Engine) forceExit(actor Actor, asset ledger.AssetID, amount int64, intent uuid.UUID) (int64, int64, error) {
	if amount <= 0 {
		return 0, 0, ErrZeroAmount
	}
	e.mu.Lock()
	defer e.mu.Unlock()

	p, err := e.poolFor(asset)
	if err != nil {
		return 0, 0, err
	}

	now := e.nowFn()
	e.ensureRolledOver(p, now)
	cur := p.Current()

	if e.cfg.Cycle.FundingWindow > 0 && !e.cfg.Cycle.InFundingWindow(cur, now) {
		return 0, 0, ErrWindowClosed
	}

	held := e.ledger.HeldAmount(asset, actor.ID)
	if held < amount {
		return 0, 0, ErrInsufficientBalance
	}
	if p.ActualBalance() < amount {
		return 0, 0, ErrInsufficientBalance
	}

	penalty := fixed.ApplyRate(amount, e.cfg.Fees.ForceExitPenaltyRate)
	returned := amount - penalty

	unit := e.ledger.RecordPosition(asset, actor.ID, held-amount, cur, now)
	p.Liquidity -= amount
	if p.Liquidity < 0 {
		panic(fmt.Sprintf("FATAL: pool %s liquidity negative after force exit", p.Symbol))
	}

	e.emit(record.Record{
		Type:      record.TypeForceExit,
		Asset:     asset,
		Symbol:    p.Symbol,
		Account:   actor.ID,
		Amount:    returned,
		Fee:       penalty,
		Unit:      unit,
		CycleID:   cur.ID,
		Intent:    intent,
		Timestamp: now,
	})
	e.updatePoolGauges(p)

	if err := e.receipts.Burn(asset, actor.ID, amount); err != nil {
		panic(fmt.Sprintf("FATAL: receipt burn failed: %v", err))
	}
	if penalty > 0 {
		if err := e.treasury.Receive(asset, penalty, "force_exit_penalty"); err != nil {
			panic(fmt.Sprintf("FATAL: treasury rejected penalty: %v", err))
		}
	}
	return returned, penalty, nil
}

// RequestWithdrawal reserves principal for the two-phase withdrawal. Only
// permitted inside the defunding window. The reserved amount stops earning
// units immediately; no funds move until the middleware fulfills the intent
// and the account calls Withdraw.
func (e *Engine) RequestWithdrawal(actor Actor, asset ledger.AssetID, amount int64) (uuid.UUID, error) {
	start := time.Now()
	id, err := e.requestWithdrawal(actor, asset, amount)
	e.observe("request_withdrawal", start, err)
	return id, err
}

func (e *Engine) requestWithdrawal(actor Actor, asset ledger.AssetID, amount int64) (uuid.UUID, error) {
	if amount <= 0 {
		return uuid.Nil, ErrZeroAmount
	}
	e.mu.Lock()
	defer e.mu.Unlock()

	p, err := e.poolFor(asset)
	if err != nil {
		return uuid.Nil, err
	}

	now := e.nowFn()
	e.ensureRolledOver(p, now)
	cur := p.Current()

	if !e.cfg.Cycle.InDefundingWindow(cur, now, p.HasPriorCycle) {
		return uuid.Nil, ErrWindowClosed
	}

	held := e.ledger.HeldAmount(asset, actor.ID)
	if held < amount {
		return uuid.Nil, ErrInsufficientBalance
	}

	unit := e.ledger.RecordPosition(asset, actor.ID, held-amount, cur, now)
	p.Liquidity -= amount
	p.PendingWithdrawal += amount

	intentID := uuid.New()
	e.emit(record.Record{
		Type:      record.TypeWithdrawalRequest,
		Asset:     asset,
		Symbol:    p.Symbol,
		Account:   actor.ID,
		Amount:    amount,
		Unit:      unit,
		CycleID:   cur.ID,
		Intent:    intentID,
		Timestamp: now,
	})
	e.updatePoolGauges(p)

	if err := e.register.Reserve(asset, actor.ID, amount); err != nil {
		panic(fmt.Sprintf("FATAL: withdrawal reserve failed: %v", err))
	}
	return intentID, nil
}

// Withdraw claims a fulfilled withdrawal intent, burning the reserved
// receipt tokens and releasing the full reserved principal.
func (e *Engine) Withdraw(actor Actor, asset ledger.AssetID) (int64, error) {
	start := time.Now()
	amount, err := e.withdraw(actor, asset)
	e.observe("withdraw", start, err)
	return amount, err
}

func (e *Engine) withdraw(actor Actor, asset ledger.AssetID) (int64, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	p, err := e.poolFor(asset)
	if err != nil {
		return 0, err
	}

	now := e.nowFn()
	e.ensureRolledOver(p, now)

	if !e.register.IsFulfilled(asset, actor.ID) {
		return 0, ErrNotFulfilledYet
	}
	amount, err := e.register.Release(asset, actor.ID)
	if err != nil {
		return 0, fmt.Errorf("release reservation: %w", err)
	}

	p.PendingWithdrawal -= amount
	if p.PendingWithdrawal < 0 {
		panic(fmt.Sprintf("FATAL: pool %s pending withdrawal negative", p.Symbol))
	}

	e.emit(record.Record{
		Type:      record.TypeWithdrawalClaim,
		Asset:     asset,
		Symbol:    p.Symbol,
		Account:   actor.ID,
		Amount:    amount,
		CycleID:   p.CurrentInvestmentCycleID,
		Timestamp: now,
	})
	e.updatePoolGauges(p)

	if err := e.receipts.Burn(asset, actor.ID, amount); err != nil {
		panic(fmt.Sprintf("FATAL: receipt burn failed: %v", err))
	}
	return amount, nil
}

// CalculateProfit is the read-only projection of settle: what TakeProfit
// would pay right now. Nothing is persisted.
func (e *Engine) CalculateProfit(asset ledger.AssetID, account uuid.UUID) (int64, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	p, err := e.poolFor(asset)
	if err != nil {
		return 0, err
	}
	e.ensureRolledOver(p, e.nowFn())

	return e.profits.Preview(asset, account, p.CurrentProfitCycleID, e.unitResolver(asset, account)), nil
}

// TakeProfit settles the account's unclaimed profit cycles and claims the
// accrued reward amount.
func (e *Engine) TakeProfit(actor Actor, asset ledger.AssetID) (int64, error) {
	start := time.Now()
	amount, err := e.takeProfit(actor, asset)
	e.observe("take_profit", start, err)
	return amount, err
}

func (e *Engine) takeProfit(actor Actor, asset ledger.AssetID) (int64, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	p, err := e.poolFor(asset)
	if err != nil {
		return 0, err
	}
	now := e.nowFn()
	e.ensureRolledOver(p, now)

	cursorBefore := e.profits.CursorOf(asset, actor.ID)
	accrued := e.profits.Settle(asset, actor.ID, p.CurrentProfitCycleID, e.unitResolver(asset, actor.ID))
	amount := e.profits.Claim(asset, actor.ID)
	if amount == 0 {
		return 0, ErrNothingToClaim
	}

	if accrued > 0 {
		e.emit(record.Record{
			Type:      record.TypeProfitSettle,
			Asset:     asset,
			Symbol:    p.Symbol,
			Account:   actor.ID,
			Amount:    accrued,
			CycleID:   p.CurrentProfitCycleID,
			Timestamp: now,
		})
	}

	if e.metrics != nil {
		backlog := p.CurrentProfitCycleID - cursorBefore.LastSeen
		e.metrics.SettleBacklog.WithLabelValues(p.Symbol).Observe(float64(backlog))
		e.metrics.ProfitClaimed.WithLabelValues(p.Symbol).Add(float64(amount))
	}

	e.emit(record.Record{
		Type:      record.TypeProfitClaim,
		Asset:     asset,
		Symbol:    p.Symbol,
		Account:   actor.ID,
		Amount:    amount,
		CycleID:   p.CurrentProfitCycleID,
		Timestamp: now,
	})
	return amount, nil
}

// unitResolver must be called with e.mu held; the returned closure is only
// used within the same locked call.
func (e *Engine) unitResolver(asset ledger.AssetID, account uuid.UUID) func(uint64) int64 {
	return func(cycleID uint64) int64 {
		return e.ledger.UnitOf(asset, account, cycleID)
	}
}

// ============================================================================
// Middleware operations
// ============================================================================

// TakeInvestment moves the configured fraction of pool liquidity to the
// middleware for off-ledger trading. Recorded units are untouched; the
// time-weighting was captured at deposit time.
func (e *Engine) TakeInvestment(actor Actor, asset ledger.AssetID) (int64, error) {
	start := time.Now()
	moved, err := e.takeInvestment(actor, asset)
	e.observe("take_investment", start, err)
	return moved, err
}

func (e *Engine) takeInvestment(actor Actor, asset ledger.AssetID) (int64, error) {
	if actor.Role != RoleMiddleware {
		return 0, ErrUnauthorized
	}
	e.mu.Lock()
	defer e.mu.Unlock()

	p, err := e.poolFor(asset)
	if err != nil {
		return 0, err
	}
	if !p.Active {
		return 0, ErrNotActive
	}

	now := e.nowFn()
	e.ensureRolledOver(p, now)

	moved := fixed.ApplyRate(p.Liquidity, e.cfg.InvestmentTakeRate)
	if undeployed := p.Liquidity - p.Taken; moved > undeployed {
		moved = undeployed
	}
	if moved <= 0 {
		return 0, nil
	}
	p.Taken += moved

	e.emit(record.Record{
		Type:      record.TypeInvestmentTake,
		Asset:     asset,
		Symbol:    p.Symbol,
		Account:   actor.ID,
		Amount:    moved,
		CycleID:   p.CurrentInvestmentCycleID,
		Timestamp: now,
	})
	e.updatePoolGauges(p)
	return moved, nil
}

// DepositProfit writes the profit record for the cycle the profit cursor
// points to, then advances the cursor. The profit cycle never auto-advances
// on time; it moves exactly one step per middleware deposit, so the
// middleware is never forced to act every cycle. A zero reward is valid: a
// loss cycle gets a zero record so the cursor can move past it.
func (e *Engine) DepositProfit(actor Actor, asset ledger.AssetID, rewardAmount int64) error {
	start := time.Now()
	err := e.depositProfit(actor, asset, rewardAmount)
	e.observe("deposit_profit", start, err)
	return err
}

func (e *Engine) depositProfit(actor Actor, asset ledger.AssetID, rewardAmount int64) error {
	if actor.Role != RoleMiddleware {
		return ErrUnauthorized
	}
	if rewardAmount < 0 {
		return ErrNegativeAmount
	}
	e.mu.Lock()
	defer e.mu.Unlock()

	p, err := e.poolFor(asset)
	if err != nil {
		return err
	}

	now := e.nowFn()
	e.ensureRolledOver(p, now)

	if p.CurrentProfitCycleID >= p.CurrentInvestmentCycleID {
		return ErrCycleNotClosed
	}
	closing := p.CurrentProfitCycleID
	if !e.ledger.Aggregates().IsFrozen(asset, closing) {
		panic(fmt.Sprintf("FATAL: profit cycle %d closed but aggregate not frozen", closing))
	}

	fee := fixed.ApplyRate(rewardAmount, e.cfg.Fees.ProfitFeeRate)
	net := rewardAmount - fee
	totalUnits := e.ledger.Aggregates().TotalUnits(asset, closing)

	if err := e.profits.RecordProfit(asset, pool.ProfitRecord{
		CycleID:    closing,
		Amount:     net,
		TotalUnits: totalUnits,
		Deposited:  now,
	}); err != nil {
		return fmt.Errorf("%w: cycle %d", ErrDuplicateProfitRecord, closing)
	}
	p.CurrentProfitCycleID++

	if e.metrics != nil {
		e.metrics.ProfitRecorded.WithLabelValues(p.Symbol).Inc()
		e.metrics.ProfitCycleID.WithLabelValues(p.Symbol).Set(float64(p.CurrentProfitCycleID))
	}

	e.emit(record.Record{
		Type:      record.TypeProfitDeposit,
		Asset:     asset,
		Symbol:    p.Symbol,
		Account:   actor.ID,
		Amount:    net,
		Fee:       fee,
		Unit:      totalUnits,
		CycleID:   closing,
		Timestamp: now,
	})

	if fee > 0 {
		if err := e.treasury.Receive(asset, fee, "profit_fee"); err != nil {
			panic(fmt.Sprintf("FATAL: treasury rejected profit fee: %v", err))
		}
	}
	if totalUnits == 0 && net > 0 {
		// Nobody participated in the cycle: the record stays for the audit
		// trail but the amount is unclaimable and goes to the treasury.
		if e.metrics != nil {
			e.metrics.UnclaimableProfit.WithLabelValues(p.Symbol).Add(float64(net))
		}
		if err := e.treasury.Receive(asset, net, "unclaimable_profit"); err != nil {
			panic(fmt.Sprintf("FATAL: treasury rejected unclaimable profit: %v", err))
		}
	}
	return nil
}

// ============================================================================
// Queries
// ============================================================================

func (e *Engine) CurrentInvestmentCycleID(asset ledger.AssetID) (uint64, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	p, err := e.poolFor(asset)
	if err != nil {
		return 0, err
	}
	e.ensureRolledOver(p, e.nowFn())
	return p.CurrentInvestmentCycleID, nil
}

func (e *Engine) CurrentProfitCycleID(asset ledger.AssetID) (uint64, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	p, err := e.poolFor(asset)
	if err != nil {
		return 0, err
	}
	return p.CurrentProfitCycleID, nil
}

// CurrentProfitCycle returns the trading cycle the profit cursor points to.
func (e *Engine) CurrentProfitCycle(asset ledger.AssetID) (cycle.TradingCycle, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	p, err := e.poolFor(asset)
	if err != nil {
		return cycle.TradingCycle{}, err
	}
	e.ensureRolledOver(p, e.nowFn())
	tc, ok := p.CycleByID(p.CurrentProfitCycleID)
	if !ok {
		return cycle.TradingCycle{}, fmt.Errorf("profit cycle %d not opened yet", p.CurrentProfitCycleID)
	}
	return tc, nil
}

func (e *Engine) TotalUnits(asset ledger.AssetID, cycleID uint64) (int64, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, err := e.poolFor(asset); err != nil {
		return 0, err
	}
	return e.ledger.Aggregates().TotalUnits(asset, cycleID), nil
}

// PositionOf returns one snapshot from the account's history.
func (e *Engine) PositionOf(asset ledger.AssetID, account uuid.UUID, index int) (ledger.PositionSnapshot, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, err := e.poolFor(asset); err != nil {
		return ledger.PositionSnapshot{}, err
	}
	h, ok := e.ledger.Book().Lookup(asset, account)
	if !ok {
		return ledger.PositionSnapshot{}, fmt.Errorf("no position history")
	}
	s, ok := h.At(index)
	if !ok {
		return ledger.PositionSnapshot{}, fmt.Errorf("history index %d out of range", index)
	}
	return s, nil
}

func (e *Engine) PositionHistoryLen(asset ledger.AssetID, account uuid.UUID) int {
	e.mu.Lock()
	defer e.mu.Unlock()
	h, ok := e.ledger.Book().Lookup(asset, account)
	if !ok {
		return 0
	}
	return h.Len()
}

func (e *Engine) Liquidity(asset ledger.AssetID) (int64, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	p, err := e.poolFor(asset)
	if err != nil {
		return 0, err
	}
	return p.Liquidity, nil
}

// ActualBalance is what the pool physically holds: liquidity plus pending
// withdrawals not yet claimed, minus principal taken by the middleware.
func (e *Engine) ActualBalance(asset ledger.AssetID) (int64, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	p, err := e.poolFor(asset)
	if err != nil {
		return 0, err
	}
	return p.ActualBalance(), nil
}

func (e *Engine) ProfitRecordOf(asset ledger.AssetID, cycleID uint64) (pool.ProfitRecord, bool, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, err := e.poolFor(asset); err != nil {
		return pool.ProfitRecord{}, false, err
	}
	rec, ok := e.profits.Record(asset, cycleID)
	return rec, ok, nil
}

// AccruedProfitOf is CalculateProfit without the rollover side effect, for
// read paths that must not mutate.
func (e *Engine) AccruedProfitOf(asset ledger.AssetID, account uuid.UUID) (int64, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	p, err := e.poolFor(asset)
	if err != nil {
		return 0, err
	}
	return e.profits.Preview(asset, account, p.CurrentProfitCycleID, e.unitResolver(asset, account)), nil
}

func (e *Engine) ClaimedProfitOf(asset ledger.AssetID, account uuid.UUID) (int64, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, err := e.poolFor(asset); err != nil {
		return 0, err
	}
	return e.profits.CursorOf(asset, account).Claimed, nil
}

func (e *Engine) CycleConfigOf() cycle.Config {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.cfg.Cycle
}

// PoolSummary is the query-facing view of one pool.
type PoolSummary struct {
	Asset             ledger.AssetID `json:"asset"`
	Symbol            string         `json:"symbol"`
	Decimals          uint8          `json:"decimals"`
	Listed            bool           `json:"listed"`
	Active            bool           `json:"active"`
	Liquidity         int64          `json:"liquidity"`
	ActualBalance     int64          `json:"actual_balance"`
	InvestmentCycleID uint64         `json:"investment_cycle_id"`
	ProfitCycleID     uint64         `json:"profit_cycle_id"`
}

func (e *Engine) Pools() []PoolSummary {
	e.mu.Lock()
	defer e.mu.Unlock()
	now := e.nowFn()
	var out []PoolSummary
	e.pools.ForEach(func(p *pool.AssetPool) {
		e.ensureRolledOver(p, now)
		dec, _ := e.assets.DecimalsOf(p.Asset)
		out = append(out, PoolSummary{
			Asset:             p.Asset,
			Symbol:            p.Symbol,
			Decimals:          dec,
			Listed:            p.Listed,
			Active:            p.Active,
			Liquidity:         p.Liquidity,
			ActualBalance:     p.ActualBalance(),
			InvestmentCycleID: p.CurrentInvestmentCycleID,
			ProfitCycleID:     p.CurrentProfitCycleID,
		})
	})
	return out
}

// AssetBySymbol resolves a symbol to its registered id.
func (e *Engine) AssetBySymbol(symbol string) (ledger.AssetID, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.assets.IDOf(symbol)
}

// Sequence returns the last assigned audit sequence.
func (e *Engine) Sequence() uint64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.sequence
}

// RolloverAll advances every listed pool to the cycle containing now. Run
// from the maintenance scheduler so cycle freezes happen even without user
// traffic.
func (e *Engine) RolloverAll() {
	e.mu.Lock()
	defer e.mu.Unlock()
	now := e.nowFn()
	e.pools.ForEach(func(p *pool.AssetPool) {
		e.ensureRolledOver(p, now)
	})
}
