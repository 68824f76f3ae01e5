package bank

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"fluxrisk/core/state"
	"fluxrisk/crypto"
	nativecommon "fluxrisk/native/common"
)

var balancePrefix = []byte("bank/balance/")

// Ledger tracks custodial balances of a single settlement asset. It satisfies
// the funds transfer collaborator of both engines.
type Ledger struct {
	manager *state.Manager
	asset   string
}

// NewLedger binds a ledger to the state manager for asset.
func NewLedger(manager *state.Manager, asset string) (*Ledger, error) {
	if manager == nil {
		return nil, fmt.Errorf("bank: state manager required")
	}
	symbol := strings.ToUpper(strings.TrimSpace(asset))
	if symbol == "" {
		return nil, fmt.Errorf("bank: settlement asset required")
	}
	return &Ledger{manager: manager, asset: symbol}, nil
}

// Asset returns the settlement asset symbol.
func (l *Ledger) Asset() string { return l.asset }

func (l *Ledger) balanceKey(addr crypto.Address) []byte {
	raw := addr.Raw()
	buf := make([]byte, 0, len(balancePrefix)+len(l.asset)+1+len(raw))
	buf = append(buf, balancePrefix...)
	buf = append(buf, l.asset...)
	buf = append(buf, ':')
	return append(buf, raw[:]...)
}

type kvReader interface {
	KVGet(key []byte, out interface{}) (bool, error)
}

func (l *Ledger) read(r kvReader, addr crypto.Address) (uint64, error) {
	var balance uint64
	if _, err := r.KVGet(l.balanceKey(addr), &balance); err != nil {
		return 0, fmt.Errorf("bank: load balance: %w", err)
	}
	return balance, nil
}

// Balance returns the custodial balance held by addr.
func (l *Ledger) Balance(addr crypto.Address) (uint64, error) {
	if l == nil {
		return 0, errors.New("bank: ledger not configured")
	}
	return l.read(l.manager, addr)
}

// Credit mints amount into addr. It is used to seed custody accounts.
func (l *Ledger) Credit(addr crypto.Address, amount uint64) (uint64, error) {
	if amount == 0 {
		return 0, nativecommon.ErrInvalidAmount
	}
	var updated uint64
	err := l.manager.Update(func(tx *state.Tx) error {
		balance, err := l.read(tx, addr)
		if err != nil {
			return err
		}
		if updated, err = nativecommon.CheckedAdd(balance, amount); err != nil {
			return err
		}
		return tx.KVPut(l.balanceKey(addr), updated)
	})
	if err != nil {
		return 0, err
	}
	return updated, nil
}

// Transfer moves amount from one holder to another. Both balances change in a
// single batch or not at all.
func (l *Ledger) Transfer(ctx context.Context, from, to crypto.Address, amount uint64) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if amount == 0 {
		return nativecommon.ErrInvalidAmount
	}
	if from.Equal(to) {
		return nil
	}
	return l.manager.Update(func(tx *state.Tx) error {
		fromBalance, err := l.read(tx, from)
		if err != nil {
			return err
		}
		if fromBalance < amount {
			return fmt.Errorf("bank: %s holds %d of %d %s: %w", from, fromBalance, amount, l.asset, nativecommon.ErrInsufficientLiquidity)
		}
		toBalance, err := l.read(tx, to)
		if err != nil {
			return err
		}
		credited, err := nativecommon.CheckedAdd(toBalance, amount)
		if err != nil {
			return err
		}
		if err := tx.KVPut(l.balanceKey(from), fromBalance-amount); err != nil {
			return err
		}
		return tx.KVPut(l.balanceKey(to), credited)
	})
}
