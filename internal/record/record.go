// Package record defines the audit record emitted for every state change the
// accounting engine applies. Records are written to the durable log and
// published for downstream consumers; they describe what happened but are not
// replayed to rebuild state.
package record

import (
	"time"

	"github.com/google/uuid"

	"github.com/ahmad-codex/precog/internal/ledger"
)

// Type identifies the operation that produced a record.
type Type uint8

const (
	TypeUnknown Type = iota
	TypeDeposit
	TypeWithdrawalRequest
	TypeWithdrawalClaim
	TypeInvestmentTake
	TypeProfitDeposit
	TypeProfitSettle
	TypeProfitClaim
	TypeForceExit
	TypeRollover
	TypeListing
)

var typeNames = [...]string{
	TypeUnknown:           "UNKNOWN",
	TypeDeposit:           "DEPOSIT",
	TypeWithdrawalRequest: "WITHDRAWAL_REQUEST",
	TypeWithdrawalClaim:   "WITHDRAWAL_CLAIM",
	TypeInvestmentTake:    "INVESTMENT_TAKE",
	TypeProfitDeposit:     "PROFIT_DEPOSIT",
	TypeProfitSettle:      "PROFIT_SETTLE",
	TypeProfitClaim:       "PROFIT_CLAIM",
	TypeForceExit:         "FORCE_EXIT",
	TypeRollover:          "ROLLOVER",
	TypeListing:           "LISTING",
}

func (t Type) String() string {
	if int(t) < len(typeNames) {
		return typeNames[t]
	}
	return "UNKNOWN"
}

// Record is one audit log entry. Sequence is assigned by the engine and is
// strictly increasing across all assets, which gives the durable log a total
// order without coordinating writers.
type Record struct {
	Sequence uint64         `json:"sequence"`
	Type     Type           `json:"type"`
	Asset    ledger.AssetID `json:"asset"`
	Symbol   string         `json:"symbol"`
	Account  uuid.UUID      `json:"account,omitempty"`
	Amount   int64          `json:"amount"`
	Fee      int64          `json:"fee,omitempty"`
	Unit     int64          `json:"unit,omitempty"`
	CycleID  uint64         `json:"cycle_id"`

	// Intent is the caller-supplied idempotency key, zero for internally
	// generated records such as rollovers.
	Intent uuid.UUID `json:"intent,omitempty"`

	Timestamp time.Time `json:"timestamp"`
}
