package math

import (
	"math/big"
	"sync"
)

// DefaultScale is the fixed-point scale shared by prices, ratios and
// quote/base amounts: 9 decimal places.
const DefaultScale int64 = 1_000_000_000

// Int128 pool for intermediate products. Every 64x64 multiply goes through
// a big.Int so the hot path never overflows silently.
var int128Pool = &sync.Pool{
	New: func() interface{} {
		return new(big.Int)
	},
}

func getInt128() *big.Int {
	return int128Pool.Get().(*big.Int)
}

// NewInt128 returns a zeroed pooled big.Int. Release with PutInt128.
func NewInt128() *big.Int {
	return getInt128()
}

// PutInt128 returns an intermediate to the pool. Callers that received a
// *big.Int from MulInt128 own it until they release it here.
func PutInt128(v *big.Int) {
	v.SetInt64(0)
	int128Pool.Put(v)
}

// MulInt128 computes a * b as a pooled big.Int.
func MulInt128(a, b int64) *big.Int {
	result := getInt128()
	x := getInt128().SetInt64(a)
	y := getInt128().SetInt64(b)
	result.Mul(x, y)
	PutInt128(x)
	PutInt128(y)
	return result
}

// ScaleInt128 multiplies v in place by mul and returns v.
func ScaleInt128(v *big.Int, mul int64) *big.Int {
	m := getInt128().SetInt64(mul)
	v.Mul(v, m)
	PutInt128(m)
	return v
}

// DivInt128 divides num by denom, truncating toward zero, and reports
// whether the division was exact. num is not released.
func DivInt128(num *big.Int, denom int64) (int64, bool) {
	d := getInt128().SetInt64(denom)
	quo := getInt128()
	rem := getInt128()
	quo.QuoRem(num, d, rem)

	result := quo.Int64()
	exact := rem.Sign() == 0

	PutInt128(d)
	PutInt128(quo)
	PutInt128(rem)
	return result, exact
}

// MulDiv computes a * b / denom with an int128 intermediate, truncating
// toward zero. Truncation toward zero matches the reference integer
// semantics for signed operands.
func MulDiv(a, b, denom int64) int64 {
	q, _ := MulDivExact(a, b, denom)
	return q
}

// MulDivExact is MulDiv plus an exactness flag for callers that round the
// truncated quotient away from the pool (swap pricing).
func MulDivExact(a, b, denom int64) (int64, bool) {
	num := MulInt128(a, b)
	q, exact := DivInt128(num, denom)
	PutInt128(num)
	return q, exact
}

// MulRatio applies a decimal-scaled ratio to an amount.
func MulRatio(amount, ratio, scale int64) int64 {
	return MulDiv(amount, ratio, scale)
}

// Abs returns |v|. Panics on math.MinInt64 via negation overflow being
// impossible at the magnitudes this engine handles.
func Abs(v int64) int64 {
	if v < 0 {
		return -v
	}
	return v
}

// Sign returns +1, -1 or 0.
func Sign(v int64) int64 {
	switch {
	case v > 0:
		return 1
	case v < 0:
		return -1
	default:
		return 0
	}
}

// Min returns the smaller of a and b.
func Min(a, b int64) int64 {
	if a < b {
		return a
	}
	return b
}

// Max returns the larger of a and b.
func Max(a, b int64) int64 {
	if a > b {
		return a
	}
	return b
}
