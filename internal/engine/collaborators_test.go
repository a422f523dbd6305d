package engine

import (
	"math/big"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPriceBookSequenceOrdering(t *testing.T) {
	pb := NewPriceBook()

	assert.Equal(t, int64(-1), pb.LastSequence("ETH"))
	_, err := pb.GetPrice("ETH")
	assert.ErrorIs(t, err, ErrNoPrice)

	require.NoError(t, pb.Update("ETH", e18(2000), 5, 100))
	p, err := pb.FetchPrice("ETH")
	require.NoError(t, err)
	assert.Equal(t, e18(2000), p)
	assert.Equal(t, int64(5), pb.LastSequence("ETH"))

	// replayed and out-of-order observations are dropped
	err = pb.Update("ETH", e18(1900), 5, 101)
	assert.ErrorIs(t, err, ErrStalePriceSeq)
	err = pb.Update("ETH", e18(1900), 3, 101)
	assert.ErrorIs(t, err, ErrStalePriceSeq)
	p, _ = pb.GetPrice("ETH")
	assert.Equal(t, e18(2000), p)

	require.NoError(t, pb.Update("ETH", e18(2100), 6, 102))
	p, _ = pb.GetPrice("ETH")
	assert.Equal(t, e18(2100), p)

	assert.ErrorIs(t, pb.Update("ETH", new(big.Int), 7, 103), ErrBadPrice)
	assert.ErrorIs(t, pb.Update("ETH", nil, 7, 103), ErrBadPrice)
}

func TestPriceBookCopiesOnReadAndWrite(t *testing.T) {
	pb := NewPriceBook()
	in := e18(2000)
	require.NoError(t, pb.Update("ETH", in, 1, 0))
	in.SetInt64(0)

	out, err := pb.GetPrice("ETH")
	require.NoError(t, err)
	assert.Equal(t, e18(2000), out)

	out.SetInt64(7)
	again, _ := pb.GetPrice("ETH")
	assert.Equal(t, e18(2000), again)
}

func TestStreamingIssuanceAccrual(t *testing.T) {
	si := NewStreamingIssuance()
	si.SetRates("ETH", e18(2), e18(1), 100)

	// nothing before the configured start
	assert.Equal(t, 0, si.IssueLiquidityReward("ETH", 100).Sign())

	assert.Equal(t, e18(20), si.IssueLiquidityReward("ETH", 110))
	assert.Equal(t, e18(10), si.IssueStabilityReward("ETH", 110))

	// same timestamp pays nothing twice
	assert.Equal(t, 0, si.IssueLiquidityReward("ETH", 110).Sign())

	// the streams track independent clocks
	assert.Equal(t, e18(2), si.IssueLiquidityReward("ETH", 111))
	assert.Equal(t, e18(5), si.IssueStabilityReward("ETH", 115))
}

func TestStreamingIssuanceDisable(t *testing.T) {
	si := NewStreamingIssuance()
	si.SetRates("ETH", e18(2), e18(1), 0)
	si.IssueLiquidityReward("ETH", 10)

	si.SetRates("ETH", nil, e18(1), 10)
	assert.Equal(t, 0, si.IssueLiquidityReward("ETH", 20).Sign())
	assert.Equal(t, e18(20), si.IssueStabilityReward("ETH", 20))

	assert.Equal(t, 0, si.IssueLiquidityReward("BTC", 20).Sign())
}

func TestNullFarmerBookkeeping(t *testing.T) {
	nf := NewNullFarmer()

	bal, err := nf.BalanceOfAsset("ETH")
	require.NoError(t, err)
	assert.Equal(t, 0, bal.Sign())

	require.NoError(t, nf.Deposit("ETH", e18(100)))
	require.NoError(t, nf.SendAsset("ETH", e18(30)))
	require.NoError(t, nf.SendAssetToPool("ETH", e18(20)))

	bal, _ = nf.BalanceOfAsset("ETH")
	assert.Equal(t, e18(50), bal)

	assert.ErrorIs(t, nf.SendAsset("ETH", e18(60)), ErrFarmerBalance)

	reward, err := nf.IssueRewards("ETH", 100)
	require.NoError(t, err)
	assert.Equal(t, 0, reward.Sign())

	require.NoError(t, nf.EmergencyStop("ETH"))
	assert.ErrorIs(t, nf.Deposit("ETH", e18(1)), ErrFarmerStopped)
}
