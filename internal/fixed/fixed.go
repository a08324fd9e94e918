package fixed

import (
	"math/big"
	"sync"
)

// RateScale is the denominator for fee and funding rates: 1_000_000 == 100%.
const RateScale int64 = 1_000_000

var int128Pool = &sync.Pool{
	New: func() interface{} {
		return new(big.Int)
	},
}

func getInt128() *big.Int {
	return int128Pool.Get().(*big.Int)
}

func putInt128(v *big.Int) {
	v.SetInt64(0)
	int128Pool.Put(v)
}

// MulDiv computes a * b / denom using int128 intermediates so that
// amounts near the int64 range cannot overflow. Truncates toward zero.
// Panics on denom == 0. Callers guarantee a positive denominator.
func MulDiv(a, b, denom int64) int64 {
	if denom == 0 {
		panic("fixed: MulDiv with zero denominator")
	}

	prod := getInt128()
	prod.Mul(big.NewInt(a), big.NewInt(b))
	prod.Quo(prod, big.NewInt(denom))
	result := prod.Int64()
	putInt128(prod)

	return result
}

// ApplyRate returns amount * rate / RateScale (rate in parts-per-million).
func ApplyRate(amount, rate int64) int64 {
	return MulDiv(amount, rate, RateScale)
}

// Share computes total * part / whole, the pro-rata slice used for
// per-cycle profit distribution. Returns 0 when whole == 0.
func Share(total, part, whole int64) int64 {
	if whole == 0 {
		return 0
	}
	return MulDiv(total, part, whole)
}
