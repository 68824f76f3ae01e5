package bank

import (
	"context"
	"errors"
	"math"
	"testing"

	"fluxrisk/core/state"
	"fluxrisk/crypto"
	nativecommon "fluxrisk/native/common"
	"fluxrisk/storage"
)

func newTestLedger(t *testing.T) *Ledger {
	t.Helper()
	ledger, err := NewLedger(state.NewManager(storage.NewMemDB()), " usdc ")
	if err != nil {
		t.Fatalf("new ledger: %v", err)
	}
	return ledger
}

func addr(b byte) crypto.Address {
	raw := make([]byte, crypto.AddressLength)
	raw[0] = b
	return crypto.MustNewAddress(crypto.UserPrefix, raw)
}

func TestLedgerCreditAndTransfer(t *testing.T) {
	ledger := newTestLedger(t)
	if ledger.Asset() != "USDC" {
		t.Fatalf("unexpected asset %q", ledger.Asset())
	}
	if _, err := ledger.Credit(addr(1), 1_000); err != nil {
		t.Fatalf("credit: %v", err)
	}
	if err := ledger.Transfer(context.Background(), addr(1), addr(2), 400); err != nil {
		t.Fatalf("transfer: %v", err)
	}
	from, _ := ledger.Balance(addr(1))
	to, _ := ledger.Balance(addr(2))
	if from != 600 || to != 400 {
		t.Fatalf("unexpected balances: from=%d to=%d", from, to)
	}
}

func TestLedgerTransferInsufficientLeavesBalances(t *testing.T) {
	ledger := newTestLedger(t)
	if _, err := ledger.Credit(addr(1), 100); err != nil {
		t.Fatalf("credit: %v", err)
	}
	err := ledger.Transfer(context.Background(), addr(1), addr(2), 101)
	if !errors.Is(err, nativecommon.ErrInsufficientLiquidity) {
		t.Fatalf("expected insufficient liquidity, got %v", err)
	}
	from, _ := ledger.Balance(addr(1))
	to, _ := ledger.Balance(addr(2))
	if from != 100 || to != 0 {
		t.Fatalf("balances changed on failure: from=%d to=%d", from, to)
	}
}

func TestLedgerTransferOverflowIsAtomic(t *testing.T) {
	ledger := newTestLedger(t)
	if _, err := ledger.Credit(addr(1), 10); err != nil {
		t.Fatalf("credit: %v", err)
	}
	if _, err := ledger.Credit(addr(2), math.MaxUint64); err != nil {
		t.Fatalf("credit: %v", err)
	}
	err := ledger.Transfer(context.Background(), addr(1), addr(2), 10)
	if !errors.Is(err, nativecommon.ErrArithmeticOverflow) {
		t.Fatalf("expected overflow, got %v", err)
	}
	from, _ := ledger.Balance(addr(1))
	if from != 10 {
		t.Fatalf("debit applied despite failed credit: %d", from)
	}
}

func TestLedgerRejectsZeroAndCancelled(t *testing.T) {
	ledger := newTestLedger(t)
	if _, err := ledger.Credit(addr(1), 0); !errors.Is(err, nativecommon.ErrInvalidAmount) {
		t.Fatalf("expected invalid amount, got %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := ledger.Transfer(ctx, addr(1), addr(2), 1); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected cancellation, got %v", err)
	}
}
