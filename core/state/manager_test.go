package state

import (
	"errors"
	"testing"

	"fluxrisk/crypto"
	nativecommon "fluxrisk/native/common"
	"fluxrisk/native/vault"
	"fluxrisk/storage"
)

func newTestManager(t *testing.T) *Manager {
	t.Helper()
	db := storage.NewMemDB()
	t.Cleanup(db.Close)
	return NewManager(db)
}

func TestKVRoundTrip(t *testing.T) {
	mgr := newTestManager(t)
	type record struct {
		Name  string
		Value uint64
	}
	if err := mgr.KVPut([]byte("k"), record{Name: "a", Value: 7}); err != nil {
		t.Fatalf("put: %v", err)
	}
	var out record
	ok, err := mgr.KVGet([]byte("k"), &out)
	if err != nil || !ok {
		t.Fatalf("get: ok=%v err=%v", ok, err)
	}
	if out.Name != "a" || out.Value != 7 {
		t.Fatalf("unexpected record: %+v", out)
	}
	ok, err = mgr.KVGet([]byte("missing"), &out)
	if err != nil || ok {
		t.Fatalf("missing key: ok=%v err=%v", ok, err)
	}
	if _, err := mgr.KVGet(nil, &out); err == nil {
		t.Fatalf("expected empty key to be rejected")
	}
	if err := mgr.KVDelete([]byte("k")); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if ok, err := mgr.KVGet([]byte("k"), &out); err != nil || ok {
		t.Fatalf("deleted key still present: ok=%v err=%v", ok, err)
	}
}

func TestKVAppendDeduplicates(t *testing.T) {
	mgr := newTestManager(t)
	for _, v := range [][]byte{{1}, {2}, {1}} {
		if err := mgr.KVAppend([]byte("list"), v); err != nil {
			t.Fatalf("append: %v", err)
		}
	}
	var list [][]byte
	if err := mgr.KVGetList([]byte("list"), &list); err != nil {
		t.Fatalf("get list: %v", err)
	}
	if len(list) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(list))
	}
	var empty [][]byte
	if err := mgr.KVGetList([]byte("none"), &empty); err != nil || empty == nil {
		t.Fatalf("expected initialised empty list, got %v %v", empty, err)
	}
}

func TestUpdateIsAtomic(t *testing.T) {
	mgr := newTestManager(t)
	boom := errors.New("boom")
	err := mgr.Update(func(tx *Tx) error {
		if err := tx.KVPut([]byte("a"), uint64(1)); err != nil {
			return err
		}
		var staged uint64
		if ok, err := tx.KVGet([]byte("a"), &staged); err != nil || !ok || staged != 1 {
			t.Fatalf("staged read: %d %v %v", staged, ok, err)
		}
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("expected boom, got %v", err)
	}
	if ok, _ := mgr.KVGet([]byte("a"), nil); ok {
		t.Fatalf("failed update leaked writes")
	}

	if err := mgr.Update(func(tx *Tx) error { return tx.KVPut([]byte("a"), uint64(2)) }); err != nil {
		t.Fatalf("update: %v", err)
	}
	var value uint64
	if ok, err := mgr.KVGet([]byte("a"), &value); err != nil || !ok || value != 2 {
		t.Fatalf("committed read: %d %v %v", value, ok, err)
	}
}

func TestVaultRoundTrip(t *testing.T) {
	mgr := newTestManager(t)
	raw := make([]byte, crypto.AddressLength)
	raw[0] = 9
	accumulator, err := nativecommon.U128(1 << 62).MulU64(8)
	if err != nil {
		t.Fatalf("accumulator: %v", err)
	}
	v := &vault.Vault{
		Address:              vault.VaultAddress("sol-usdc"),
		Authority:            crypto.MustNewAddress(crypto.UserPrefix, raw),
		CollateralAsset:      "SOL",
		DebtAsset:            "USDC",
		CollateralAmount:     1_000,
		DebtAmount:           900,
		LastUpdateTime:       1_700_000_000,
		InterestAccumulator:  accumulator,
		RiskFactor:           200,
		CollateralRatioFloor: 15_000,
		LiquidationPenalty:   1_000,
		LiquidationBonus:     500,
		Frozen:               true,
	}
	if err := mgr.PutVault(v); err != nil {
		t.Fatalf("put vault: %v", err)
	}
	if err := mgr.PutVault(v); err != nil {
		t.Fatalf("put vault again: %v", err)
	}
	loaded, err := mgr.GetVault(v.Address)
	if err != nil {
		t.Fatalf("get vault: %v", err)
	}
	if loaded.Address != v.Address || loaded.Authority != v.Authority {
		t.Fatalf("addresses not preserved: %+v", loaded)
	}
	if loaded.InterestAccumulator.Cmp(accumulator) != 0 {
		t.Fatalf("accumulator not preserved: %s", loaded.InterestAccumulator)
	}
	if loaded.DebtAmount != 900 || !loaded.Frozen || loaded.RiskFactor != 200 {
		t.Fatalf("fields not preserved: %+v", loaded)
	}

	addrs, err := mgr.VaultAddresses()
	if err != nil || len(addrs) != 1 || addrs[0] != v.Address {
		t.Fatalf("unexpected index: %v %v", addrs, err)
	}

	missing, err := mgr.GetVault(vault.VaultAddress("other"))
	if err != nil || missing != nil {
		t.Fatalf("expected nil vault, got %+v %v", missing, err)
	}
}
