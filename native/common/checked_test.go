package common

import (
	"errors"
	"math"
	"math/big"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestUint128MulWithinBounds(t *testing.T) {
	product, err := U128(math.MaxUint64).MulU64(math.MaxUint64)
	require.NoError(t, err)

	expected := new(big.Int).Mul(new(big.Int).SetUint64(math.MaxUint64), new(big.Int).SetUint64(math.MaxUint64))
	require.Equal(t, 0, product.Big().Cmp(expected))
}

func TestUint128MulOverflow(t *testing.T) {
	product, err := U128(math.MaxUint64).MulU64(math.MaxUint64)
	require.NoError(t, err)

	_, err = product.MulU64(2)
	require.ErrorIs(t, err, ErrArithmeticOverflow)
}

func TestUint128AddOverflow(t *testing.T) {
	_, err := MaxUint128().Add(U128(1))
	require.ErrorIs(t, err, ErrArithmeticOverflow)
}

func TestUint128SubUnderflow(t *testing.T) {
	_, err := U128(1).Sub(U128(2))
	require.ErrorIs(t, err, ErrArithmeticOverflow)
}

func TestUint128DivByZero(t *testing.T) {
	_, err := U128(10).DivU64(0)
	require.ErrorIs(t, err, ErrArithmeticOverflow)
}

func TestUint128Narrowing(t *testing.T) {
	wide, err := U128(math.MaxUint64).Add(U128(1))
	require.NoError(t, err)

	_, err = wide.Uint64()
	require.ErrorIs(t, err, ErrArithmeticOverflow)
	require.Equal(t, uint64(math.MaxUint64), wide.SaturatingUint64())
}

func TestU128FromBig(t *testing.T) {
	limit := new(big.Int).Lsh(big.NewInt(1), 128)
	_, err := U128FromBig(limit)
	require.ErrorIs(t, err, ErrArithmeticOverflow)

	_, err = U128FromBig(big.NewInt(-1))
	require.ErrorIs(t, err, ErrArithmeticOverflow)

	v, err := U128FromBig(new(big.Int).Sub(limit, big.NewInt(1)))
	require.NoError(t, err)
	require.Equal(t, 0, v.Cmp(MaxUint128()))
}

func TestMulDiv(t *testing.T) {
	got, err := MulDiv(math.MaxUint64, 10, 20)
	require.NoError(t, err)
	require.Equal(t, uint64(math.MaxUint64/2), got)

	_, err = MulDiv(math.MaxUint64, 10, 1)
	require.ErrorIs(t, err, ErrArithmeticOverflow)
}

func TestCheckedHelpers(t *testing.T) {
	_, err := CheckedAdd(math.MaxUint64, 1)
	require.ErrorIs(t, err, ErrArithmeticOverflow)

	_, err = CheckedSub(1, 2)
	require.ErrorIs(t, err, ErrArithmeticOverflow)

	sum, err := CheckedAdd(2, 3)
	require.NoError(t, err)
	require.Equal(t, uint64(5), sum)
}

func TestSaturatingHelpers(t *testing.T) {
	require.Equal(t, uint16(math.MaxUint16), SaturatingAdd[uint16](math.MaxUint16, 5))
	require.Equal(t, uint32(0), SaturatingSub[uint32](3, 10))
	require.Equal(t, uint8(100), SaturatingSub[uint8](110, 10))
	require.Equal(t, uint64(1000), Clamp[uint64](5000, 100, 1000))
	require.Equal(t, uint64(100), Clamp[uint64](10, 100, 1000))
}

func TestErrorKinds(t *testing.T) {
	wrapped := errors.Join(errors.New("context"), ErrVaultFrozen)
	require.Equal(t, KindVaultFrozen, KindOf(wrapped))
	require.Equal(t, "vault_frozen", KindOf(wrapped).String())
	require.Equal(t, KindUnknown, KindOf(errors.New("plain")))
	require.ErrorIs(t, wrapped, ErrVaultFrozen)
}

func TestGuard(t *testing.T) {
	require.NoError(t, Guard(nil, "vault"))
	require.NoError(t, Guard(Pauses{"vault": false}, "vault"))
	require.ErrorIs(t, Guard(Pauses{"vault": true}, "vault"), ErrModulePaused)
	require.NoError(t, Guard(Pauses{"vault": true}, ""))
}
