package collab_test

import (
	"errors"
	"testing"

	"github.com/google/uuid"

	"github.com/ahmad-codex/precog/internal/collab"
	"github.com/ahmad-codex/precog/internal/ledger"
)

const asset = ledger.AssetID(1)

func TestReceiptToken_MintBurn(t *testing.T) {
	tok := collab.NewMemoryReceiptToken()
	acct := uuid.New()

	if err := tok.Mint(asset, acct, 1000); err != nil {
		t.Fatal(err)
	}
	if err := tok.Burn(asset, acct, 400); err != nil {
		t.Fatal(err)
	}
	if got := tok.BalanceOf(asset, acct); got != 600 {
		t.Errorf("balance: got %d, want 600", got)
	}
	if err := tok.Burn(asset, acct, 700); err == nil {
		t.Error("overburn must fail")
	}
}

func TestWithdrawalRegister_Lifecycle(t *testing.T) {
	reg := collab.NewMemoryWithdrawalRegister()
	acct := uuid.New()

	if err := reg.Reserve(asset, acct, 500); err != nil {
		t.Fatal(err)
	}
	if reg.IsFulfilled(asset, acct) {
		t.Error("fresh reservation must not be fulfilled")
	}
	if _, err := reg.Release(asset, acct); !errors.Is(err, collab.ErrNotFulfilled) {
		t.Errorf("release before funding: got %v", err)
	}

	if err := reg.Fulfill(asset, acct); err != nil {
		t.Fatal(err)
	}
	amount, err := reg.Release(asset, acct)
	if err != nil || amount != 500 {
		t.Fatalf("release: got %d, %v", amount, err)
	}
	if _, err := reg.Release(asset, acct); err == nil {
		t.Error("double release must fail")
	}
}

func TestWithdrawalRegister_StackedRequestResetsFunding(t *testing.T) {
	reg := collab.NewMemoryWithdrawalRegister()
	acct := uuid.New()

	reg.Reserve(asset, acct, 500)
	reg.Fulfill(asset, acct)
	reg.Reserve(asset, acct, 300)

	if reg.IsFulfilled(asset, acct) {
		t.Error("stacking a request must reset the funded state")
	}
	if got := reg.Reserved(asset, acct); got != 800 {
		t.Errorf("reserved: got %d, want 800", got)
	}
}

func TestRewardExchange_Rates(t *testing.T) {
	ex := collab.NewMemoryRewardExchange()
	reward := ledger.AssetID(9)

	// Unconfigured pairs swap at par.
	got, err := ex.Swap(reward, asset, 1000)
	if err != nil || got != 1000 {
		t.Fatalf("par swap: got %d, %v", got, err)
	}

	ex.SetRate(reward, asset, 250_000) // 0.25
	got, err = ex.Swap(reward, asset, 1000)
	if err != nil || got != 250 {
		t.Errorf("rated swap: got %d, %v", got, err)
	}
}
