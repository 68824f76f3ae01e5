package audit

import (
	"context"
	"encoding/json"
	"fmt"
	"testing"

	"github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"gorm.io/gorm"

	"fluxrisk/core/events"
	"fluxrisk/crypto"
)

func setupTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", uuid.NewString())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	if err != nil {
		t.Fatalf("failed to open sqlite: %v", err)
	}
	if err := AutoMigrate(db); err != nil {
		t.Fatalf("failed to migrate: %v", err)
	}
	return db
}

func testAddress(prefix crypto.AddressPrefix, b byte) crypto.Address {
	raw := make([]byte, crypto.AddressLength)
	raw[0] = b
	return crypto.MustNewAddress(prefix, raw)
}

func TestJournalAppendAndQuery(t *testing.T) {
	journal := NewJournal(setupTestDB(t), nil)
	vaultAddr := testAddress(crypto.VaultPrefix, 1)
	user := testAddress(crypto.UserPrefix, 2)

	journal.Emit(events.CollateralDeposited{Vault: vaultAddr, Amount: 100, Collateral: 100})
	journal.Emit(events.ProfileRegistered{User: user, Timestamp: 10})
	journal.Emit(events.DebtBorrowed{Vault: vaultAddr, Borrower: user, Amount: 40, Debt: 40})

	entries, err := journal.Recent(context.Background(), Query{})
	if err != nil {
		t.Fatalf("recent: %v", err)
	}
	if len(entries) != 3 {
		t.Fatalf("expected 3 entries, got %d", len(entries))
	}
	if entries[0].Sequence != 3 || entries[0].Type != events.TypeDebtBorrowed {
		t.Fatalf("expected newest entry first, got %+v", entries[0])
	}

	byVault, err := journal.Recent(context.Background(), Query{Subject: vaultAddr.String()})
	if err != nil {
		t.Fatalf("recent by subject: %v", err)
	}
	if len(byVault) != 2 {
		t.Fatalf("expected 2 vault entries, got %d", len(byVault))
	}

	byType, err := journal.Recent(context.Background(), Query{Type: events.TypeProfileRegistered, Limit: 5})
	if err != nil {
		t.Fatalf("recent by type: %v", err)
	}
	if len(byType) != 1 || byType[0].Subject != user.String() {
		t.Fatalf("unexpected profile entries: %+v", byType)
	}
	var attrs map[string]string
	if err := json.Unmarshal([]byte(byType[0].Attributes), &attrs); err != nil {
		t.Fatalf("decode attributes: %v", err)
	}
	if attrs["user"] != user.String() {
		t.Fatalf("unexpected attributes: %v", attrs)
	}
}

func TestJournalResumesSequence(t *testing.T) {
	db := setupTestDB(t)
	first := NewJournal(db, nil)
	if err := first.Append(context.Background(), events.ProfileRegistered{User: testAddress(crypto.UserPrefix, 3)}); err != nil {
		t.Fatalf("append: %v", err)
	}

	second := NewJournal(db, nil)
	if err := second.Append(context.Background(), events.ProfileRegistered{User: testAddress(crypto.UserPrefix, 4)}); err != nil {
		t.Fatalf("append: %v", err)
	}
	entries, err := second.Recent(context.Background(), Query{Limit: 1})
	if err != nil {
		t.Fatalf("recent: %v", err)
	}
	if entries[0].Sequence != 2 {
		t.Fatalf("expected sequence to resume at 2, got %d", entries[0].Sequence)
	}
}

func TestJournalRequiresDatabase(t *testing.T) {
	journal := NewJournal(nil, nil)
	if err := journal.Append(context.Background(), events.ProfileRegistered{}); err == nil {
		t.Fatal("expected error without database")
	}
	if _, err := journal.Recent(context.Background(), Query{}); err == nil {
		t.Fatal("expected error without database")
	}
}

func TestOpenRejectsUnknownDriver(t *testing.T) {
	if _, err := Open("mysql", "root@/audit"); err == nil {
		t.Fatal("expected unsupported driver error")
	}
}
