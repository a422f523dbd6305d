package state

import (
	"math/big"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	fp "stablecore/internal/math"
)

func e18(n int64) *big.Int {
	return new(big.Int).Mul(big.NewInt(n), fp.Precision)
}

func testParams(sym string) *AssetParams {
	p := DefaultAssetParams.Clone()
	p.Symbol = sym
	p.MinNetDebt = e18(100)
	p.GasCompensation = e18(10)
	return p
}

func newTestLedger(t *testing.T, syms ...string) *TroveLedger {
	t.Helper()
	tl := NewTroveLedger(nil)
	for _, s := range syms {
		require.NoError(t, tl.Configure(testParams(s)))
	}
	return tl
}

func mustOpen(t *testing.T, tl *TroveLedger, asset string, coll, debt, price *big.Int) uuid.UUID {
	t.Helper()
	owner := uuid.New()
	_, err := tl.Open(asset, owner, coll, debt, price, uuid.Nil, uuid.Nil, 0)
	require.NoError(t, err)
	return owner
}

func impliedColl(tl *TroveLedger, asset string, owner uuid.UUID) *big.Int {
	coll, _, err := tl.EntirePosition(asset, owner)
	if err != nil {
		return new(big.Int)
	}
	return coll
}

func TestOpenFirstTroveStakeEqualsCollateral(t *testing.T) {
	tl := newTestLedger(t, "ETH")
	price := e18(200)

	owner := uuid.New()
	res, err := tl.Open("ETH", owner, e18(100), e18(1000), price, uuid.Nil, uuid.Nil, 0)
	require.NoError(t, err)

	assert.Equal(t, e18(100), res.Stake)
	assert.Equal(t, e18(1010), res.CompositeDebt) // net + gas compensation
	assert.Equal(t, e18(100), tl.TotalStakes("ETH"))
	assert.Equal(t, e18(100), tl.TotalColl("ETH"))
	assert.Equal(t, e18(10), tl.TotalGasComp("ETH"))
	assert.Equal(t, 1, tl.ActiveCount("ETH"))
}

func TestOpenRejections(t *testing.T) {
	tl := newTestLedger(t, "ETH")
	price := e18(200)

	_, err := tl.Open("BTC", uuid.New(), e18(1), e18(100), price, uuid.Nil, uuid.Nil, 0)
	assert.ErrorIs(t, err, ErrUnknownAsset)

	_, err = tl.Open("ETH", uuid.New(), e18(1), e18(50), price, uuid.Nil, uuid.Nil, 0)
	assert.ErrorIs(t, err, ErrBelowMinNetDebt)

	// 1 ETH at $200 against 210 composite debt is under 110%
	_, err = tl.Open("ETH", uuid.New(), e18(1), e18(200), price, uuid.Nil, uuid.Nil, 0)
	assert.ErrorIs(t, err, ErrICRBelowMCR)

	owner := mustOpen(t, tl, "ETH", e18(100), e18(1000), price)
	_, err = tl.Open("ETH", owner, e18(100), e18(1000), price, uuid.Nil, uuid.Nil, 0)
	assert.ErrorIs(t, err, ErrTroveExists)
}

func TestStakeCollateralDuality(t *testing.T) {
	tl := newTestLedger(t, "ETH")
	price := e18(200)

	a := mustOpen(t, tl, "ETH", e18(100), e18(1000), price)
	b := mustOpen(t, tl, "ETH", e18(50), e18(500), price)

	// implied collateral equals what each deposited
	assert.Equal(t, e18(100), impliedColl(tl, "ETH", a))
	assert.Equal(t, e18(50), impliedColl(tl, "ETH", b))

	trA, _ := tl.GetTrove("ETH", a)
	trB, _ := tl.GetTrove("ETH", b)
	assert.Equal(t, e18(100), trA.Stake)
	assert.Equal(t, e18(50), trB.Stake)
}

func TestRedistributionConservation(t *testing.T) {
	tl := newTestLedger(t, "ETH")
	price := e18(200)

	a := mustOpen(t, tl, "ETH", e18(100), e18(1000), price)
	b := mustOpen(t, tl, "ETH", e18(50), e18(500), price)
	c := mustOpen(t, tl, "ETH", e18(20), e18(3000), price)

	collC, debtC, err := tl.EntirePosition("ETH", c)
	require.NoError(t, err)
	normC := tl.NormalizeDebt("ETH", debtC)

	totalNormBefore := tl.TotalNormDebt("ETH")
	require.NoError(t, tl.RemoveForLiquidation("ETH", c))
	require.NoError(t, tl.Redistribute("ETH", normC, collC))

	// totals are conserved exactly
	assert.Equal(t, totalNormBefore, tl.TotalNormDebt("ETH"))
	assert.Equal(t, e18(170), tl.TotalColl("ETH"))

	// per-trove implied collateral grows in stake proportion and sums
	// back to the total within rounding dust
	collA := impliedColl(tl, "ETH", a)
	collB := impliedColl(tl, "ETH", b)
	sum := new(big.Int).Add(collA, collB)
	diff := new(big.Int).Sub(tl.TotalColl("ETH"), sum)
	assert.True(t, diff.Sign() >= 0 && diff.Cmp(big.NewInt(2)) <= 0, "dust %s", diff)

	// pending debt shows up in entire positions without touching
	_, debtA, err := tl.EntirePosition("ETH", a)
	require.NoError(t, err)
	assert.True(t, debtA.Cmp(e18(1010)) > 0)

	// sum of entire debts matches the conserved total within dust
	_, debtB, err := tl.EntirePosition("ETH", b)
	require.NoError(t, err)
	// the undistributed residue sits in the error carry, bounded by
	// totalStakes/1e18 units plus per-trove floor dust
	debtSum := new(big.Int).Add(debtA, debtB)
	debtDiff := new(big.Int).Sub(tl.TotalActualDebt("ETH"), debtSum)
	assert.True(t, debtDiff.Sign() >= 0 && debtDiff.Cmp(big.NewInt(200)) <= 0, "debt dust %s", debtDiff)
}

func TestRedistributionPreservesOrder(t *testing.T) {
	tl := newTestLedger(t, "ETH")
	price := e18(200)

	a := mustOpen(t, tl, "ETH", e18(100), e18(1000), price) // safest
	b := mustOpen(t, tl, "ETH", e18(50), e18(1000), price)
	c := mustOpen(t, tl, "ETH", e18(30), e18(1000), price) // riskiest

	list, ok := tl.SortedList("ETH")
	require.True(t, ok)
	assert.Equal(t, a, list.First())
	assert.Equal(t, c, list.Last())

	require.NoError(t, tl.Redistribute("ETH", e18(600), e18(5)))

	assert.Equal(t, a, list.First())
	assert.Equal(t, b, list.Next(a))
	assert.Equal(t, c, list.Last())
}

func TestAdjustAppliesPendingAndChecksICR(t *testing.T) {
	tl := newTestLedger(t, "ETH")
	price := e18(200)

	a := mustOpen(t, tl, "ETH", e18(100), e18(1000), price)
	mustOpen(t, tl, "ETH", e18(100), e18(1000), price)

	require.NoError(t, tl.Redistribute("ETH", e18(100), e18(2)))

	res, err := tl.Adjust("ETH", a, e18(10), big.NewInt(0), big.NewInt(0), false, price, uuid.Nil, uuid.Nil, 0)
	require.NoError(t, err)

	// pending half of the redistributed debt folded into the trove
	tr, _ := tl.GetTrove("ETH", a)
	want := new(big.Int).Add(e18(1010), e18(50))
	got := fp.Mul(tr.NormDebt, tl.DebtIndex("ETH"))
	diff := new(big.Int).Sub(got, want)
	assert.True(t, diff.CmpAbs(big.NewInt(2)) <= 0, "debt after apply: %s", got)
	assert.True(t, res.NewColl.Cmp(e18(110)) > 0) // deposit + redistribution share

	// withdrawing almost everything fails the MCR check
	_, err = tl.Adjust("ETH", a, big.NewInt(0), e18(106), big.NewInt(0), false, price, uuid.Nil, uuid.Nil, 0)
	assert.ErrorIs(t, err, ErrICRBelowMCR)

	_, err = tl.Adjust("ETH", a, big.NewInt(0), big.NewInt(0), big.NewInt(0), false, price, uuid.Nil, uuid.Nil, 0)
	assert.ErrorIs(t, err, ErrZeroAdjustment)
}

func TestCloseTrove(t *testing.T) {
	tl := newTestLedger(t, "ETH")
	price := e18(200)

	a := mustOpen(t, tl, "ETH", e18(100), e18(1000), price)
	mustOpen(t, tl, "ETH", e18(100), e18(1000), price)

	res, err := tl.Close("ETH", a, price, 0)
	require.NoError(t, err)
	assert.Equal(t, e18(100), res.Coll)
	assert.Equal(t, e18(1000), res.NetDebtRepaid)
	assert.Equal(t, e18(10), res.GasCompRefund)

	tr, _ := tl.GetTrove("ETH", a)
	assert.Equal(t, TroveClosedByOwner, tr.Status)
	assert.Equal(t, 1, tl.ActiveCount("ETH"))
}

func TestCloseLastTroveRejected(t *testing.T) {
	tl := newTestLedger(t, "ETH")
	price := e18(200)
	a := mustOpen(t, tl, "ETH", e18(100), e18(1000), price)

	_, err := tl.Close("ETH", a, price, 0)
	assert.ErrorIs(t, err, ErrLastTrove)
	assert.ErrorIs(t, tl.RemoveForLiquidation("ETH", a), ErrLastTrove)
}

func TestRecoveryModeGates(t *testing.T) {
	tl := newTestLedger(t, "ETH")
	price := e18(200)

	a := mustOpen(t, tl, "ETH", e18(100), e18(10000), price) // TCR 198%
	mustOpen(t, tl, "ETH", e18(10), e18(1000), price)

	// price collapse puts the system under CCR
	crashed := e18(140)
	rec, err := tl.IsRecoveryMode("ETH", crashed)
	require.NoError(t, err)
	require.True(t, rec)

	// opening below CCR is rejected even though ICR > MCR
	_, err = tl.Open("ETH", uuid.New(), e18(10), e18(1000), crashed, uuid.Nil, uuid.Nil, 0)
	assert.ErrorIs(t, err, ErrICRBelowCCR)

	// opening at >= CCR is allowed
	_, err = tl.Open("ETH", uuid.New(), e18(20), e18(1500), crashed, uuid.Nil, uuid.Nil, 0)
	assert.NoError(t, err)

	// collateral withdrawal is blocked
	_, err = tl.Adjust("ETH", a, big.NewInt(0), e18(1), big.NewInt(0), false, crashed, uuid.Nil, uuid.Nil, 0)
	assert.ErrorIs(t, err, ErrCollWithdrawRecovery)

	// owner close is blocked
	_, err = tl.Close("ETH", a, crashed, 0)
	assert.ErrorIs(t, err, ErrCloseInRecovery)
}

func TestInterestIndexAccrual(t *testing.T) {
	p := testParams("ETH")
	// ~5% APR expressed per second
	p.InterestRatePerSecond = big.NewInt(1_547_125_958)
	tl := NewTroveLedger(nil)
	require.NoError(t, tl.Configure(p))
	price := e18(200)

	owner := uuid.New()
	_, err := tl.Open("ETH", owner, e18(100), e18(1000), price, uuid.Nil, uuid.Nil, 0)
	require.NoError(t, err)

	require.NoError(t, tl.AdvanceIndexes("ETH", 365*24*3600))

	idx := tl.DebtIndex("ETH")
	assert.True(t, idx.Cmp(fp.Precision) > 0)

	// a year of ~5% interest lands near 1.05e18
	low, high := big.NewInt(1_048_000_000_000_000_000), big.NewInt(1_054_000_000_000_000_000)
	assert.True(t, idx.Cmp(low) > 0 && idx.Cmp(high) < 0, "index %s", idx)

	_, debt, err := tl.EntirePosition("ETH", owner)
	require.NoError(t, err)
	assert.True(t, debt.Cmp(e18(1010)) > 0)

	// the index never moves backwards
	require.NoError(t, tl.AdvanceIndexes("ETH", 100))
	assert.Equal(t, idx, tl.DebtIndex("ETH"))
}

func TestHasTroveBelowMCR(t *testing.T) {
	tl := newTestLedger(t, "ETH")
	price := e18(200)

	mustOpen(t, tl, "ETH", e18(100), e18(1000), price)
	mustOpen(t, tl, "ETH", e18(10), e18(1500), price) // ICR ~132%

	under, err := tl.HasTroveBelowMCR("ETH", price)
	require.NoError(t, err)
	assert.False(t, under)

	under, err = tl.HasTroveBelowMCR("ETH", e18(150))
	require.NoError(t, err)
	assert.True(t, under)
}

func TestReduceForRedemptionReRanks(t *testing.T) {
	tl := newTestLedger(t, "ETH")
	price := e18(200)

	a := mustOpen(t, tl, "ETH", e18(100), e18(5000), price) // ICR ~198%
	b := mustOpen(t, tl, "ETH", e18(100), e18(4000), price)

	list, _ := tl.SortedList("ETH")
	require.Equal(t, a, list.Last())

	// redeem 3000 debt from a: lot collateral = 3000/200 = 15
	require.NoError(t, tl.ReduceForRedemption("ETH", a, e18(3000), e18(15), uuid.Nil, uuid.Nil))

	// a is now the safer trove
	assert.Equal(t, a, list.First())
	assert.Equal(t, b, list.Last())

	coll, debt, err := tl.EntirePosition("ETH", a)
	require.NoError(t, err)
	assert.Equal(t, e18(85), coll)
	diff := new(big.Int).Sub(debt, e18(2010))
	assert.True(t, diff.CmpAbs(big.NewInt(2)) <= 0, "debt %s", debt)
}

func TestLiquidityRewardStream(t *testing.T) {
	p := testParams("ETH")
	p.IssuanceRatePerSecond = e18(1)
	tl := NewTroveLedger(&oneShotIssuance{at: 10, liquidity: e18(300)})
	require.NoError(t, tl.Configure(p))
	price := e18(200)

	a := mustOpen(t, tl, "ETH", e18(100), e18(1000), price)
	b := mustOpen(t, tl, "ETH", e18(50), e18(500), price)

	// the stream pays out on the next index advance, split 2:1
	require.NoError(t, tl.AdvanceIndexes("ETH", 10))
	claimA, err := tl.ClaimReward("ETH", a, 10)
	require.NoError(t, err)
	claimB, err := tl.ClaimReward("ETH", b, 10)
	require.NoError(t, err)

	assert.Equal(t, e18(200), claimA)
	assert.Equal(t, e18(100), claimB)

	// draining twice yields nothing more
	claimA, err = tl.ClaimReward("ETH", a, 10)
	require.NoError(t, err)
	assert.Equal(t, 0, claimA.Sign())
}

// oneShotIssuance pays a fixed amount the first time it is polled at
// or after `at`, then zero.
type oneShotIssuance struct {
	at        int64
	liquidity *big.Int
	stability *big.Int
	paidLiq   bool
	paidStab  bool
}

func (f *oneShotIssuance) IssueLiquidityReward(asset string, now int64) *big.Int {
	if f.liquidity == nil || f.paidLiq || now < f.at {
		return new(big.Int)
	}
	f.paidLiq = true
	return new(big.Int).Set(f.liquidity)
}

func (f *oneShotIssuance) IssueStabilityReward(asset string, now int64) *big.Int {
	if f.stability == nil || f.paidStab || now < f.at {
		return new(big.Int)
	}
	f.paidStab = true
	return new(big.Int).Set(f.stability)
}
