package math

import "math/big"

// PrecisionDecimals is the number of decimal places in the shared
// fixed-point representation. Every ratio, rate, price, and per-unit
// accumulator in the system carries this scale.
const PrecisionDecimals = 18

// maxPowExponent bounds DecPow exponents. At one tick per second this
// covers more than fifteen years of accrual, far beyond any realistic
// gap between index updates.
const maxPowExponent = 525_600_000

var (
	// Precision is the fixed-point unit, 10^18.
	Precision = big.NewInt(1_000_000_000_000_000_000)

	// HalfPrecision is used for half-up rounding inside DecPow.
	HalfPrecision = big.NewInt(500_000_000_000_000_000)

	// MaxUint256 is returned as the nominal collateral ratio of a
	// zero-debt position so it sorts above every real ratio.
	MaxUint256 = new(big.Int).Sub(new(big.Int).Lsh(big.NewInt(1), 256), big.NewInt(1))
)

// Mul returns a*b/1e18, truncated toward zero.
func Mul(a, b *big.Int) *big.Int {
	out := new(big.Int).Mul(a, b)
	return out.Quo(out, Precision)
}

// MulRound returns a*b/1e18 rounded half-up. DecPow compounds its
// base across many squarings, so truncation there would bias every
// accrued index low; half-up keeps the error centered.
func MulRound(a, b *big.Int) *big.Int {
	out := new(big.Int).Mul(a, b)
	out.Add(out, HalfPrecision)
	return out.Quo(out, Precision)
}

// Div returns a*1e18/b, truncated toward zero.
func Div(a, b *big.Int) *big.Int {
	out := new(big.Int).Mul(a, Precision)
	return out.Quo(out, b)
}

// DecPow returns base^n in fixed point via exponentiation by
// squaring. Exponents are capped at maxPowExponent.
func DecPow(base *big.Int, n uint64) *big.Int {
	if n > maxPowExponent {
		n = maxPowExponent
	}
	if n == 0 {
		return new(big.Int).Set(Precision)
	}

	x := new(big.Int).Set(base)
	y := new(big.Int).Set(Precision)
	for n > 1 {
		if n%2 == 1 {
			y = MulRound(x, y)
		}
		x = MulRound(x, x)
		n /= 2
	}
	return MulRound(x, y)
}

// Min returns the smaller of a and b as a fresh value.
func Min(a, b *big.Int) *big.Int {
	if a.Cmp(b) <= 0 {
		return new(big.Int).Set(a)
	}
	return new(big.Int).Set(b)
}

// Max returns the larger of a and b as a fresh value.
func Max(a, b *big.Int) *big.Int {
	if a.Cmp(b) >= 0 {
		return new(big.Int).Set(a)
	}
	return new(big.Int).Set(b)
}

// NominalCR returns coll*1e18/debt, a price-free ratio used only for
// ordering troves. Zero debt yields MaxUint256.
func NominalCR(coll, debt *big.Int) *big.Int {
	if debt.Sign() == 0 {
		return new(big.Int).Set(MaxUint256)
	}
	out := new(big.Int).Mul(coll, Precision)
	return out.Quo(out, debt)
}

// ComputeCR returns the collateral ratio coll*price/debt where coll is
// already normalized to 18 decimals. Zero debt yields MaxUint256.
func ComputeCR(coll, price, debt *big.Int) *big.Int {
	if debt.Sign() == 0 {
		return new(big.Int).Set(MaxUint256)
	}
	out := new(big.Int).Mul(coll, price)
	return out.Quo(out, debt)
}

// ScaleToPrecision converts a raw collateral amount carrying the
// asset's native decimals into the shared 18-decimal representation.
func ScaleToPrecision(amount *big.Int, decimals uint8) *big.Int {
	if decimals == PrecisionDecimals {
		return new(big.Int).Set(amount)
	}
	if decimals < PrecisionDecimals {
		factor := pow10(PrecisionDecimals - decimals)
		return new(big.Int).Mul(amount, factor)
	}
	factor := pow10(decimals - PrecisionDecimals)
	return new(big.Int).Quo(amount, factor)
}

func pow10(n uint8) *big.Int {
	return new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(n)), nil)
}
