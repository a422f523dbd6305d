package engine

import (
	"math/big"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	fp "stablecore/internal/math"
)

func newRedemptionRig(t *testing.T) (*rig, *RedemptionEngine) {
	t.Helper()
	r := newRig(t)
	fm := NewDecayingFeeModel()
	p, _ := r.ledger.Params("ETH")
	fm.Configure("ETH", p.BorrowFeeFloor, p.RedemptionFeeFloor, 0)
	return r, NewRedemptionEngine(r.ledger, r.surplus, fm)
}

func dec(s string) *big.Int {
	v, ok := new(big.Int).SetString(s, 10)
	if !ok {
		panic("bad decimal literal: " + s)
	}
	return v
}

func TestRedeemWalksRiskiestFirst(t *testing.T) {
	r, red := newRedemptionRig(t)
	price := e18(200)

	a := r.open(t, e18(100), e18(4000), price) // composite 4010, safest
	b := r.open(t, e18(50), e18(3000), price)  // composite 3010
	c := r.open(t, e18(30), e18(2500), price)  // composite 2510, riskiest

	// 6000 clears c and b fully and shaves 500 off a
	newColl := dec("97500000000000000000") // 100 - 2.5
	hint := fp.NominalCR(newColl, e18(3510))
	res, err := red.Redeem(&RedemptionRequest{
		Asset:       "ETH",
		Redeemer:    uuid.New(),
		Amount:      e18(6000),
		PartialNICR: hint,
	}, price, e18(12_000), 0)
	require.NoError(t, err)

	assert.Equal(t, e18(6000), res.Redeemed)
	assert.Equal(t, e18(30), res.CollDrawn) // 12.5 + 15 + 2.5 at price 200
	assert.Equal(t, 2, res.TrovesClosed)
	assert.False(t, res.CancelledPartial)
	assert.Equal(t, e18(20), res.GasCompBurned)

	// leftover collateral of the cleared troves is claimable surplus
	assert.Equal(t, dec("17500000000000000000"), r.surplus.BalanceOf("ETH", c))
	assert.Equal(t, e18(35), r.surplus.BalanceOf("ETH", b))

	// the partially redeemed trove survives with a viable remainder
	collA, debtA, err := r.ledger.EntirePosition("ETH", a)
	require.NoError(t, err)
	assert.Equal(t, newColl, collA)
	assert.Equal(t, e18(3510), debtA)
	assert.Equal(t, 1, r.ledger.ActiveCount("ETH"))

	// half the supply redeemed: rate = floor + 0.5/2 = 25.5%
	wantRate := new(big.Int).Add(big.NewInt(5_000_000_000_000_000), big.NewInt(250_000_000_000_000_000))
	assert.Equal(t, wantRate, res.Rate)
	assert.Equal(t, fp.Mul(e18(30), wantRate), res.Fee)
	assert.Equal(t, new(big.Int).Sub(res.CollDrawn, res.Fee), res.CollToRedeemer)

	// fee splits evenly at the default 50% reserve factor
	assert.Equal(t, new(big.Int).Add(res.FeeToStaking, res.FeeToReserve), res.Fee)
	assert.Equal(t, res.FeeToStaking, res.FeeToReserve)
}

func TestRedeemSkipsTrovesUnderMCR(t *testing.T) {
	r, red := newRedemptionRig(t)
	price := e18(200)

	a := r.open(t, e18(100), e18(1000), price)
	c := r.open(t, e18(10), e18(1500), price)

	// at 160: c sits at ~106% (skipped), a is the only target
	crashed := e18(160)
	collLot := fp.Div(e18(500), crashed)
	newColl := new(big.Int).Sub(e18(100), collLot)
	hint := fp.NominalCR(newColl, e18(510))
	res, err := red.Redeem(&RedemptionRequest{
		Asset:       "ETH",
		Redeemer:    uuid.New(),
		Amount:      e18(500),
		PartialNICR: hint,
	}, crashed, e18(2500), 0)
	require.NoError(t, err)

	assert.Equal(t, e18(500), res.Redeemed)
	assert.Equal(t, 0, res.TrovesClosed)

	// the under-collateralized trove is untouched
	collC, debtC, err := r.ledger.EntirePosition("ETH", c)
	require.NoError(t, err)
	assert.Equal(t, e18(10), collC)
	assert.Equal(t, e18(1510), debtC)

	_, debtA, err := r.ledger.EntirePosition("ETH", a)
	require.NoError(t, err)
	assert.Equal(t, e18(510), debtA)
}

func TestRedeemCancelsPartialOnStaleHint(t *testing.T) {
	r, red := newRedemptionRig(t)
	price := e18(200)

	r.open(t, e18(100), e18(4000), price)
	b := r.open(t, e18(50), e18(3000), price)
	r.open(t, e18(30), e18(2500), price)

	// full clear of the riskiest stands, the stale-hinted partial does not
	res, err := red.Redeem(&RedemptionRequest{
		Asset:       "ETH",
		Redeemer:    uuid.New(),
		Amount:      e18(3000),
		PartialNICR: big.NewInt(1),
	}, price, e18(12_000), 0)
	require.NoError(t, err)

	assert.True(t, res.CancelledPartial)
	assert.Equal(t, e18(2500), res.Redeemed)
	assert.Equal(t, 1, res.TrovesClosed)

	_, debtB, err := r.ledger.EntirePosition("ETH", b)
	require.NoError(t, err)
	assert.Equal(t, e18(3010), debtB)
}

func TestRedeemCancelsPartialBelowMinimumDebt(t *testing.T) {
	r, red := newRedemptionRig(t)
	price := e18(200)

	r.open(t, e18(100), e18(4000), price)
	r.open(t, e18(50), e18(3000), price)
	r.open(t, e18(30), e18(2500), price)

	// a 5450 redemption would leave the second trove with net 50 < 100
	res, err := red.Redeem(&RedemptionRequest{
		Asset:    "ETH",
		Redeemer: uuid.New(),
		Amount:   e18(5450),
	}, price, e18(12_000), 0)
	require.NoError(t, err)

	assert.True(t, res.CancelledPartial)
	assert.Equal(t, e18(2500), res.Redeemed)
	assert.Equal(t, 1, res.TrovesClosed)
}

func TestRedeemRejections(t *testing.T) {
	r, red := newRedemptionRig(t)
	price := e18(200)

	r.open(t, e18(100), e18(4000), price)
	r.open(t, e18(30), e18(2500), price)

	_, err := red.Redeem(&RedemptionRequest{
		Asset:    "ETH",
		Redeemer: uuid.New(),
		Amount:   new(big.Int),
	}, price, e18(8000), 0)
	assert.ErrorIs(t, err, ErrZeroRedemption)

	// redemptions are shut off while the system is under-collateralized
	_, err = red.Redeem(&RedemptionRequest{
		Asset:    "ETH",
		Redeemer: uuid.New(),
		Amount:   e18(100),
	}, e18(20), e18(8000), 0)
	assert.ErrorIs(t, err, ErrRedemptionTCRTooLow)

	// a first-step partial with no hint redeems nothing
	_, err = red.Redeem(&RedemptionRequest{
		Asset:    "ETH",
		Redeemer: uuid.New(),
		Amount:   e18(100),
	}, price, e18(8000), 0)
	assert.ErrorIs(t, err, ErrNothingRedeemed)
}

func TestRedeemFeeCannotConsumeDraw(t *testing.T) {
	r, red := newRedemptionRig(t)
	price := e18(200)

	r.open(t, e18(100), e18(4000), price)
	r.open(t, e18(30), e18(2500), price)

	// redeeming 4x the reported supply caps the rate at 100%
	_, err := red.Redeem(&RedemptionRequest{
		Asset:    "ETH",
		Redeemer: uuid.New(),
		Amount:   e18(2500),
	}, price, e18(625), 0)
	assert.ErrorIs(t, err, ErrFeeConsumesDraw)
}

func TestRedeemRespectsMaxIterations(t *testing.T) {
	r, red := newRedemptionRig(t)
	price := e18(200)

	r.open(t, e18(100), e18(4000), price)
	r.open(t, e18(50), e18(3000), price)
	r.open(t, e18(30), e18(2500), price)

	res, err := red.Redeem(&RedemptionRequest{
		Asset:         "ETH",
		Redeemer:      uuid.New(),
		Amount:        e18(6000),
		MaxIterations: 1,
	}, price, e18(12_000), 0)
	require.NoError(t, err)

	assert.Equal(t, e18(2500), res.Redeemed)
	assert.Equal(t, 1, res.TrovesClosed)
	assert.Equal(t, 2, r.ledger.ActiveCount("ETH"))
}

func TestRedeemKeepsListOrdered(t *testing.T) {
	r, red := newRedemptionRig(t)
	price := e18(200)

	a := r.open(t, e18(100), e18(4000), price)
	r.open(t, e18(50), e18(3000), price)
	r.open(t, e18(30), e18(2500), price)

	res, err := red.Redeem(&RedemptionRequest{
		Asset:       "ETH",
		Redeemer:    uuid.New(),
		Amount:      e18(6000),
		PartialNICR: fp.NominalCR(dec("97500000000000000000"), e18(3510)),
	}, price, e18(12_000), 0)
	require.NoError(t, err)
	require.False(t, res.CancelledPartial)

	list, ok := r.ledger.SortedList("ETH")
	require.True(t, ok)
	assert.Equal(t, 1, list.Size())
	assert.Equal(t, a, list.First())
	assert.Equal(t, a, list.Last())
}
