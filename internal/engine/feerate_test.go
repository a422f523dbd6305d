package engine

import (
	"math/big"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	fp "stablecore/internal/math"
)

func newFeeModel(now int64) *DecayingFeeModel {
	fm := NewDecayingFeeModel()
	floor := big.NewInt(5_000_000_000_000_000) // 0.5%
	fm.Configure("ETH", floor, floor, now)
	return fm
}

func TestFeeFloorsWithZeroBaseRate(t *testing.T) {
	fm := newFeeModel(0)
	floor := big.NewInt(5_000_000_000_000_000)

	assert.Equal(t, floor, fm.GetBorrowRate("ETH", 0))
	assert.Equal(t, floor, fm.GetRedeemRate("ETH", 0))
	assert.Equal(t, 0, fm.BaseRate("ETH", 0).Sign())
}

func TestRedeemRateBumpsWithVolume(t *testing.T) {
	fm := newFeeModel(0)

	// 10% of supply redeemed: base rate rises by fraction/2 = 5%
	rate, err := fm.CalcRedeemRate("ETH", e18(100), e18(1000), 0)
	require.NoError(t, err)

	want := new(big.Int).Add(big.NewInt(5_000_000_000_000_000), big.NewInt(50_000_000_000_000_000))
	assert.Equal(t, want, rate)
	assert.Equal(t, big.NewInt(50_000_000_000_000_000), fm.BaseRate("ETH", 0))

	// back-to-back redemptions stack
	rate, err = fm.CalcRedeemRate("ETH", e18(100), e18(1000), 0)
	require.NoError(t, err)
	assert.Equal(t, big.NewInt(105_000_000_000_000_000), rate)
}

func TestBaseRateHalvesOverTwelveHours(t *testing.T) {
	fm := newFeeModel(0)

	_, err := fm.CalcRedeemRate("ETH", e18(100), e18(1000), 0)
	require.NoError(t, err)

	base := fm.BaseRate("ETH", 720*60)
	lo := big.NewInt(24_900_000_000_000_000)
	hi := big.NewInt(25_100_000_000_000_000)
	assert.True(t, base.Cmp(lo) > 0 && base.Cmp(hi) < 0, "got %s", base)

	// Get* previews never mutate the stored rate
	assert.Equal(t, big.NewInt(50_000_000_000_000_000), fm.BaseRate("ETH", 0))
}

func TestSubMinuteChurnDoesNotDecay(t *testing.T) {
	fm := newFeeModel(0)
	_, err := fm.CalcRedeemRate("ETH", e18(100), e18(1000), 0)
	require.NoError(t, err)

	before := fm.BaseRate("ETH", 0)
	_, err = fm.CalcBorrowRate("ETH", 59)
	require.NoError(t, err)
	assert.Equal(t, before, fm.BaseRate("ETH", 59))
}

func TestBorrowRateCapsAtFivePercent(t *testing.T) {
	fm := newFeeModel(0)

	// 20% of supply redeemed pushes base to 10%
	_, err := fm.CalcRedeemRate("ETH", e18(200), e18(1000), 0)
	require.NoError(t, err)

	rate, err := fm.CalcBorrowRate("ETH", 0)
	require.NoError(t, err)
	assert.Equal(t, big.NewInt(50_000_000_000_000_000), rate)
}

func TestRedeemRateCapsAtFullDraw(t *testing.T) {
	fm := newFeeModel(0)

	rate, err := fm.CalcRedeemRate("ETH", e18(4000), e18(1000), 0)
	require.NoError(t, err)
	assert.Equal(t, fp.Precision, rate)
}

func TestReconfigureKeepsBaseRate(t *testing.T) {
	fm := newFeeModel(0)
	_, err := fm.CalcRedeemRate("ETH", e18(100), e18(1000), 0)
	require.NoError(t, err)

	newFloor := big.NewInt(10_000_000_000_000_000) // 1%
	fm.Configure("ETH", newFloor, newFloor, 0)

	assert.Equal(t, big.NewInt(50_000_000_000_000_000), fm.BaseRate("ETH", 0))
	assert.Equal(t, big.NewInt(60_000_000_000_000_000), fm.GetRedeemRate("ETH", 0))
}

func TestUnknownAssetRejected(t *testing.T) {
	fm := NewDecayingFeeModel()

	_, err := fm.CalcBorrowRate("BTC", 0)
	assert.ErrorIs(t, err, ErrFeeAssetUnknown)
	_, err = fm.CalcRedeemRate("BTC", e18(1), e18(1), 0)
	assert.ErrorIs(t, err, ErrFeeAssetUnknown)
	assert.Equal(t, 0, fm.GetBorrowRate("BTC", 0).Sign())
}
