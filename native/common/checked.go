package common

import (
	"math/big"

	"github.com/holiman/uint256"
)

// BasisPoints is the denominator for every bps-denominated ratio.
const BasisPoints = 10_000

var maxUint128 = func() uint256.Int {
	var v uint256.Int
	v.Lsh(uint256.NewInt(1), 128)
	v.SubUint64(&v, 1)
	return v
}()

// Uint128 is an unsigned 128-bit quantity. Every arithmetic step is computed
// on a 256-bit intermediate and rejected with ErrArithmeticOverflow when the
// result leaves the 128-bit range, so multiply-before-divide chains over
// 64-bit operands can never wrap silently.
type Uint128 struct {
	v uint256.Int
}

// U128 widens a 64-bit value.
func U128(x uint64) Uint128 {
	var out Uint128
	out.v.SetUint64(x)
	return out
}

// U128FromBig converts a non-negative big integer, rejecting values that do
// not fit in 128 bits.
func U128FromBig(b *big.Int) (Uint128, error) {
	if b == nil {
		return Uint128{}, nil
	}
	if b.Sign() < 0 {
		return Uint128{}, ErrArithmeticOverflow
	}
	v, overflow := uint256.FromBig(b)
	if overflow || v.Gt(&maxUint128) {
		return Uint128{}, ErrArithmeticOverflow
	}
	return Uint128{v: *v}, nil
}

// MaxUint128 returns the largest representable value.
func MaxUint128() Uint128 {
	return Uint128{v: maxUint128}
}

func bounded(v *uint256.Int, overflow bool) (Uint128, error) {
	if overflow || v.Gt(&maxUint128) {
		return Uint128{}, ErrArithmeticOverflow
	}
	return Uint128{v: *v}, nil
}

// Add returns x+y.
func (x Uint128) Add(y Uint128) (Uint128, error) {
	return bounded(new(uint256.Int).AddOverflow(&x.v, &y.v))
}

// Sub returns x-y, failing on underflow.
func (x Uint128) Sub(y Uint128) (Uint128, error) {
	if x.v.Lt(&y.v) {
		return Uint128{}, ErrArithmeticOverflow
	}
	return Uint128{v: *new(uint256.Int).Sub(&x.v, &y.v)}, nil
}

// Mul returns x*y.
func (x Uint128) Mul(y Uint128) (Uint128, error) {
	return bounded(new(uint256.Int).MulOverflow(&x.v, &y.v))
}

// MulU64 returns x*y.
func (x Uint128) MulU64(y uint64) (Uint128, error) {
	return x.Mul(U128(y))
}

// Div returns floor(x/y). Division by zero is reported as an arithmetic
// error rather than yielding zero.
func (x Uint128) Div(y Uint128) (Uint128, error) {
	if y.v.IsZero() {
		return Uint128{}, ErrArithmeticOverflow
	}
	return Uint128{v: *new(uint256.Int).Div(&x.v, &y.v)}, nil
}

// DivU64 returns floor(x/y).
func (x Uint128) DivU64(y uint64) (Uint128, error) {
	return x.Div(U128(y))
}

// Uint64 narrows the value, failing when it does not fit in 64 bits.
func (x Uint128) Uint64() (uint64, error) {
	if !x.v.IsUint64() {
		return 0, ErrArithmeticOverflow
	}
	return x.v.Uint64(), nil
}

// SaturatingUint64 narrows the value, clamping to MaxUint64.
func (x Uint128) SaturatingUint64() uint64 {
	if !x.v.IsUint64() {
		return ^uint64(0)
	}
	return x.v.Uint64()
}

// IsZero reports whether the value is zero.
func (x Uint128) IsZero() bool { return x.v.IsZero() }

// Cmp compares x and y and returns -1, 0 or +1.
func (x Uint128) Cmp(y Uint128) int { return x.v.Cmp(&y.v) }

// Big returns a copy as a big integer.
func (x Uint128) Big() *big.Int { return x.v.ToBig() }

// String renders the decimal representation.
func (x Uint128) String() string { return x.v.ToBig().String() }

// MulDiv computes floor(a*b/d) with a 128-bit intermediate.
func MulDiv(a, b, d uint64) (uint64, error) {
	product, err := U128(a).MulU64(b)
	if err != nil {
		return 0, err
	}
	quotient, err := product.DivU64(d)
	if err != nil {
		return 0, err
	}
	return quotient.Uint64()
}

// CheckedAdd returns a+b or ErrArithmeticOverflow.
func CheckedAdd(a, b uint64) (uint64, error) {
	sum := a + b
	if sum < a {
		return 0, ErrArithmeticOverflow
	}
	return sum, nil
}

// CheckedSub returns a-b or ErrArithmeticOverflow on underflow.
func CheckedSub(a, b uint64) (uint64, error) {
	if b > a {
		return 0, ErrArithmeticOverflow
	}
	return a - b, nil
}

// Unsigned is the set of counter widths that support saturating updates.
type Unsigned interface {
	~uint8 | ~uint16 | ~uint32 | ~uint64
}

// SaturatingAdd returns a+b clamped to the maximum of T.
func SaturatingAdd[T Unsigned](a, b T) T {
	sum := a + b
	if sum < a {
		return ^T(0)
	}
	return sum
}

// SaturatingSub returns a-b clamped at zero.
func SaturatingSub[T Unsigned](a, b T) T {
	if b > a {
		return 0
	}
	return a - b
}

// Clamp bounds v to [lo, hi].
func Clamp[T Unsigned](v, lo, hi T) T {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// MarshalText renders the decimal form so the value survives JSON and TOML.
func (x Uint128) MarshalText() ([]byte, error) {
	return []byte(x.String()), nil
}

// UnmarshalText parses a decimal string.
func (x *Uint128) UnmarshalText(text []byte) error {
	b, ok := new(big.Int).SetString(string(text), 10)
	if !ok {
		return ErrInvalidAmount
	}
	v, err := U128FromBig(b)
	if err != nil {
		return err
	}
	*x = v
	return nil
}
