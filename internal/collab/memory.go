package collab

import (
	"errors"
	"sync"

	"github.com/google/uuid"

	"github.com/ahmad-codex/precog/internal/ledger"
)

type tokenKey struct {
	Asset   ledger.AssetID
	Account uuid.UUID
}

// MemoryReceiptToken is the in-process receipt token used in single-binary
// deployments and tests.
type MemoryReceiptToken struct {
	mu       sync.Mutex
	balances map[tokenKey]int64
}

func NewMemoryReceiptToken() *MemoryReceiptToken {
	return &MemoryReceiptToken{balances: make(map[tokenKey]int64)}
}

func (m *MemoryReceiptToken) Mint(asset ledger.AssetID, account uuid.UUID, amount int64) error {
	if amount <= 0 {
		return errors.New("mint amount must be positive")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.balances[tokenKey{asset, account}] += amount
	return nil
}

func (m *MemoryReceiptToken) Burn(asset ledger.AssetID, account uuid.UUID, amount int64) error {
	if amount <= 0 {
		return errors.New("burn amount must be positive")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	key := tokenKey{asset, account}
	if m.balances[key] < amount {
		return errors.New("burn exceeds receipt balance")
	}
	m.balances[key] -= amount
	return nil
}

// BalanceOf returns the receipt balance held by an account.
func (m *MemoryReceiptToken) BalanceOf(asset ledger.AssetID, account uuid.UUID) int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.balances[tokenKey{asset, account}]
}

// MemoryTreasury accumulates fee revenue per asset.
type MemoryTreasury struct {
	mu     sync.Mutex
	totals map[ledger.AssetID]int64
}

func NewMemoryTreasury() *MemoryTreasury {
	return &MemoryTreasury{totals: make(map[ledger.AssetID]int64)}
}

func (m *MemoryTreasury) Receive(asset ledger.AssetID, amount int64, reason string) error {
	if amount < 0 {
		return errors.New("treasury amount must be non-negative")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.totals[asset] += amount
	return nil
}

// Total returns the fees collected so far for an asset.
func (m *MemoryTreasury) Total(asset ledger.AssetID) int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.totals[asset]
}

// MemoryRewardExchange swaps at fixed parts-per-million rates set per asset
// pair. Pairs without a configured rate swap 1:1.
type MemoryRewardExchange struct {
	mu    sync.Mutex
	rates map[[2]ledger.AssetID]int64
}

func NewMemoryRewardExchange() *MemoryRewardExchange {
	return &MemoryRewardExchange{rates: make(map[[2]ledger.AssetID]int64)}
}

// SetRate fixes the from/to conversion rate in parts per million.
func (m *MemoryRewardExchange) SetRate(from, to ledger.AssetID, ratePPM int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rates[[2]ledger.AssetID{from, to}] = ratePPM
}

func (m *MemoryRewardExchange) Swap(from, to ledger.AssetID, amount int64) (int64, error) {
	if amount <= 0 {
		return 0, errors.New("swap amount must be positive")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	rate, ok := m.rates[[2]ledger.AssetID{from, to}]
	if !ok {
		return amount, nil
	}
	return amount * rate / 1_000_000, nil
}

type reservationState uint8

const (
	reservationRequested reservationState = iota
	reservationFulfilled
)

type reservation struct {
	Amount int64
	State  reservationState
}

// MemoryWithdrawalRegister holds one open reservation per account and asset.
// Reservations move Requested -> Fulfilled -> released (removed).
type MemoryWithdrawalRegister struct {
	mu   sync.Mutex
	open map[tokenKey]*reservation
}

func NewMemoryWithdrawalRegister() *MemoryWithdrawalRegister {
	return &MemoryWithdrawalRegister{open: make(map[tokenKey]*reservation)}
}

func (m *MemoryWithdrawalRegister) Reserve(asset ledger.AssetID, account uuid.UUID, amount int64) error {
	if amount <= 0 {
		return errors.New("reservation amount must be positive")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	key := tokenKey{asset, account}
	if r, ok := m.open[key]; ok {
		// A new request stacks onto the open reservation and resets it to
		// requested until operations fund the full amount.
		r.Amount += amount
		r.State = reservationRequested
		return nil
	}
	m.open[key] = &reservation{Amount: amount}
	return nil
}

// Fulfill marks the account's reservation as funded. Used by the operations
// flow after the desk returns capital.
func (m *MemoryWithdrawalRegister) Fulfill(asset ledger.AssetID, account uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.open[tokenKey{asset, account}]
	if !ok {
		return errors.New("no open reservation")
	}
	r.State = reservationFulfilled
	return nil
}

func (m *MemoryWithdrawalRegister) IsFulfilled(asset ledger.AssetID, account uuid.UUID) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.open[tokenKey{asset, account}]
	return ok && r.State == reservationFulfilled
}

func (m *MemoryWithdrawalRegister) Release(asset ledger.AssetID, account uuid.UUID) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := tokenKey{asset, account}
	r, ok := m.open[key]
	if !ok {
		return 0, errors.New("no open reservation")
	}
	if r.State != reservationFulfilled {
		return 0, ErrNotFulfilled
	}
	delete(m.open, key)
	return r.Amount, nil
}

// Reserved returns the open reservation amount, zero when none is open.
func (m *MemoryWithdrawalRegister) Reserved(asset ledger.AssetID, account uuid.UUID) int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	if r, ok := m.open[tokenKey{asset, account}]; ok {
		return r.Amount
	}
	return 0
}
