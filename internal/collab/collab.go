// Package collab defines the external collaborators the accounting engine
// calls out to: the receipt token, the treasury, the reward exchange, and the
// withdrawal register. The engine finalizes its own state before invoking any
// of them, so a collaborator failure never leaves the books half written.
package collab

import (
	"errors"

	"github.com/google/uuid"

	"github.com/ahmad-codex/precog/internal/ledger"
)

// ErrNotFulfilled is returned when a withdrawal claim arrives before the
// reservation has been funded.
var ErrNotFulfilled = errors.New("withdrawal reservation not fulfilled yet")

// ReceiptToken mints and burns the 1:1 claim token handed to depositors.
type ReceiptToken interface {
	Mint(asset ledger.AssetID, account uuid.UUID, amount int64) error
	Burn(asset ledger.AssetID, account uuid.UUID, amount int64) error
}

// Treasury receives fee revenue skimmed off deposits, exits, and profit.
type Treasury interface {
	Receive(asset ledger.AssetID, amount int64, reason string) error
}

// RewardExchange converts reward inventory into the pool asset when profit
// is deposited in kind.
type RewardExchange interface {
	Swap(from, to ledger.AssetID, amount int64) (int64, error)
}

// WithdrawalRegister tracks two-phase withdrawals: a request reserves the
// amount, operations fund it, and the claim releases it to the account.
type WithdrawalRegister interface {
	Reserve(asset ledger.AssetID, account uuid.UUID, amount int64) error
	IsFulfilled(asset ledger.AssetID, account uuid.UUID) bool
	Release(asset ledger.AssetID, account uuid.UUID) (int64, error)
}
