package math

import (
	"math/big"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func dec(s string) *big.Int {
	v, ok := new(big.Int).SetString(s, 10)
	if !ok {
		panic("bad decimal literal: " + s)
	}
	return v
}

func TestMulTruncatesTowardZero(t *testing.T) {
	// 1.5 * 1.5 = 2.25
	got := Mul(dec("1500000000000000000"), dec("1500000000000000000"))
	assert.Equal(t, dec("2250000000000000000"), got)

	// 1/3 * 1 truncates, never rounds up
	third := Div(big.NewInt(1), big.NewInt(3))
	got = Mul(third, Precision)
	assert.Equal(t, third, got)
}

func TestDivTruncatesTowardZero(t *testing.T) {
	// 10/3 = 3.333...
	got := Div(big.NewInt(10), big.NewInt(3))
	assert.Equal(t, dec("3333333333333333333"), got)
}

func TestDecPowIdentity(t *testing.T) {
	base := dec("1000000000016000000") // tiny per-second rate
	assert.Equal(t, Precision, DecPow(base, 0))
	assert.Equal(t, base, DecPow(base, 1))
}

func TestDecPowSquaring(t *testing.T) {
	// 1.1^4 = 1.4641 exactly
	got := DecPow(dec("1100000000000000000"), 4)
	assert.Equal(t, dec("1464100000000000000"), got)
}

func TestDecPowCapsExponent(t *testing.T) {
	base := dec("1000000000000000001")
	capped := DecPow(base, maxPowExponent)
	beyond := DecPow(base, maxPowExponent+1)
	assert.Equal(t, capped, beyond)
}

func TestDecPowMonotonicAboveOne(t *testing.T) {
	base := dec("1000000001000000000")
	prev := DecPow(base, 1)
	for n := uint64(2); n < 20; n++ {
		cur := DecPow(base, n)
		require.True(t, cur.Cmp(prev) > 0, "exponent %d not increasing", n)
		prev = cur
	}
}

func TestNominalCR(t *testing.T) {
	// 2 units of collateral, 1 unit of debt => 200%
	got := NominalCR(dec("2000000000000000000"), dec("1000000000000000000"))
	assert.Equal(t, dec("2000000000000000000"), got)

	assert.Equal(t, MaxUint256, NominalCR(big.NewInt(5), big.NewInt(0)))
}

func TestComputeCR(t *testing.T) {
	// 1 ETH at $2000 against 1000 debt => 200%
	coll := dec("1000000000000000000")
	price := dec("2000000000000000000000")
	debt := dec("1000000000000000000000")
	got := ComputeCR(coll, price, debt)
	assert.Equal(t, dec("2000000000000000000"), got)

	assert.Equal(t, MaxUint256, ComputeCR(coll, price, big.NewInt(0)))
}

func TestScaleToPrecision(t *testing.T) {
	// 6-decimal token, 1.5 units
	got := ScaleToPrecision(big.NewInt(1_500_000), 6)
	assert.Equal(t, dec("1500000000000000000"), got)

	// 18-decimal passthrough copies the value
	in := dec("42000000000000000000")
	out := ScaleToPrecision(in, 18)
	assert.Equal(t, in, out)
	out.SetInt64(0)
	assert.Equal(t, dec("42000000000000000000"), in)
}

func TestMinMax(t *testing.T) {
	a, b := big.NewInt(3), big.NewInt(7)
	assert.Equal(t, big.NewInt(3), Min(a, b))
	assert.Equal(t, big.NewInt(7), Max(a, b))

	// results are detached from the inputs
	m := Min(a, b)
	m.SetInt64(99)
	assert.Equal(t, big.NewInt(3), a)
}
