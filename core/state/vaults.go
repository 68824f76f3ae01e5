package state

import (
	"fmt"
	"math/big"

	"fluxrisk/crypto"
	nativecommon "fluxrisk/native/common"
	"fluxrisk/native/vault"
)

var (
	vaultPrefix   = []byte("vault/record/")
	vaultIndexKey = []byte("vault/index")
	errNilVault   = fmt.Errorf("state: vault required")
	errNilManager = fmt.Errorf("state: manager not initialised")
)

func vaultKey(addr crypto.Address) []byte {
	raw := addr.Raw()
	buf := make([]byte, len(vaultPrefix)+len(raw))
	copy(buf, vaultPrefix)
	copy(buf[len(vaultPrefix):], raw[:])
	return buf
}

// storedVault is the RLP encoding of a vault. RLP has no signed integers, so
// timestamps are persisted unsigned with negatives clamped to zero.
type storedVault struct {
	AddressPrefix        string
	Address              [crypto.AddressLength]byte
	AuthorityPrefix      string
	Authority            [crypto.AddressLength]byte
	CollateralAsset      string
	DebtAsset            string
	CollateralAmount     uint64
	DebtAmount           uint64
	LastUpdateTime       uint64
	InterestAccumulator  *big.Int
	RiskFactor           uint64
	CollateralRatioFloor uint64
	PerformanceFeeRate   uint64
	ManagementFeeRate    uint64
	FlashLoanFeeRate     uint64
	LiquidationPenalty   uint64
	LiquidationBonus     uint64
	LastFeeCollection    uint64
	Frozen               bool
}

func unsignedTime(ts int64) uint64 {
	if ts < 0 {
		return 0
	}
	return uint64(ts)
}

func newStoredVault(v *vault.Vault) *storedVault {
	return &storedVault{
		AddressPrefix:        string(v.Address.Prefix()),
		Address:              v.Address.Raw(),
		AuthorityPrefix:      string(v.Authority.Prefix()),
		Authority:            v.Authority.Raw(),
		CollateralAsset:      v.CollateralAsset,
		DebtAsset:            v.DebtAsset,
		CollateralAmount:     v.CollateralAmount,
		DebtAmount:           v.DebtAmount,
		LastUpdateTime:       unsignedTime(v.LastUpdateTime),
		InterestAccumulator:  v.InterestAccumulator.Big(),
		RiskFactor:           v.RiskFactor,
		CollateralRatioFloor: v.CollateralRatioFloor,
		PerformanceFeeRate:   v.PerformanceFeeRate,
		ManagementFeeRate:    v.ManagementFeeRate,
		FlashLoanFeeRate:     v.FlashLoanFeeRate,
		LiquidationPenalty:   v.LiquidationPenalty,
		LiquidationBonus:     v.LiquidationBonus,
		LastFeeCollection:    unsignedTime(v.LastFeeCollection),
		Frozen:               v.Frozen,
	}
}

func decodeAddress(prefix string, raw [crypto.AddressLength]byte) (crypto.Address, error) {
	if prefix == "" && raw == ([crypto.AddressLength]byte{}) {
		return crypto.Address{}, nil
	}
	return crypto.NewAddress(crypto.AddressPrefix(prefix), raw[:])
}

func (s *storedVault) vault() (*vault.Vault, error) {
	addr, err := decodeAddress(s.AddressPrefix, s.Address)
	if err != nil {
		return nil, fmt.Errorf("state: decode vault address: %w", err)
	}
	authority, err := decodeAddress(s.AuthorityPrefix, s.Authority)
	if err != nil {
		return nil, fmt.Errorf("state: decode vault authority: %w", err)
	}
	accumulator, err := nativecommon.U128FromBig(s.InterestAccumulator)
	if err != nil {
		return nil, fmt.Errorf("state: decode interest accumulator: %w", err)
	}
	return &vault.Vault{
		Address:              addr,
		Authority:            authority,
		CollateralAsset:      s.CollateralAsset,
		DebtAsset:            s.DebtAsset,
		CollateralAmount:     s.CollateralAmount,
		DebtAmount:           s.DebtAmount,
		LastUpdateTime:       int64(s.LastUpdateTime),
		InterestAccumulator:  accumulator,
		RiskFactor:           s.RiskFactor,
		CollateralRatioFloor: s.CollateralRatioFloor,
		PerformanceFeeRate:   s.PerformanceFeeRate,
		ManagementFeeRate:    s.ManagementFeeRate,
		FlashLoanFeeRate:     s.FlashLoanFeeRate,
		LiquidationPenalty:   s.LiquidationPenalty,
		LiquidationBonus:     s.LiquidationBonus,
		LastFeeCollection:    int64(s.LastFeeCollection),
		Frozen:               s.Frozen,
	}, nil
}

// GetVault loads the vault stored at addr. A missing vault yields nil with no
// error.
func (m *Manager) GetVault(addr crypto.Address) (*vault.Vault, error) {
	if m == nil {
		return nil, errNilManager
	}
	var stored storedVault
	ok, err := m.KVGet(vaultKey(addr), &stored)
	if err != nil || !ok {
		return nil, err
	}
	return stored.vault()
}

// PutVault persists the vault and records it in the vault index.
func (m *Manager) PutVault(v *vault.Vault) error {
	if m == nil {
		return errNilManager
	}
	if v == nil {
		return errNilVault
	}
	if err := m.KVPut(vaultKey(v.Address), newStoredVault(v)); err != nil {
		return err
	}
	raw := v.Address.Raw()
	return m.KVAppend(vaultIndexKey, raw[:])
}

// VaultAddresses lists every stored vault in creation order.
func (m *Manager) VaultAddresses() ([]crypto.Address, error) {
	if m == nil {
		return nil, errNilManager
	}
	var index [][]byte
	if err := m.KVGetList(vaultIndexKey, &index); err != nil {
		return nil, err
	}
	out := make([]crypto.Address, 0, len(index))
	for _, raw := range index {
		addr, err := crypto.NewAddress(crypto.VaultPrefix, raw)
		if err != nil {
			return nil, err
		}
		out = append(out, addr)
	}
	return out, nil
}
