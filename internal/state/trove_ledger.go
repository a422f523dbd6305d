package state

import (
	"errors"
	"fmt"
	"math/big"
	"sort"

	"github.com/google/uuid"

	fp "stablecore/internal/math"
	"stablecore/internal/sorted"
)

var (
	ErrUnknownAsset         = errors.New("trove ledger: asset not configured")
	ErrTroveExists          = errors.New("trove ledger: trove already active")
	ErrTroveNotActive       = errors.New("trove ledger: trove not active")
	ErrBelowMinNetDebt      = errors.New("trove ledger: net debt below minimum")
	ErrICRBelowMCR          = errors.New("trove ledger: icr below mcr")
	ErrICRBelowCCR          = errors.New("trove ledger: icr below ccr in recovery mode")
	ErrICRNotImproved       = errors.New("trove ledger: recovery mode adjustment must improve icr")
	ErrTCRBelowCCR          = errors.New("trove ledger: operation would pull tcr below ccr")
	ErrCollWithdrawRecovery = errors.New("trove ledger: collateral withdrawal blocked in recovery mode")
	ErrCloseInRecovery      = errors.New("trove ledger: close blocked in recovery mode")
	ErrLastTrove            = errors.New("trove ledger: cannot remove the last trove")
	ErrCollateralCap        = errors.New("trove ledger: collateral cap exceeded")
	ErrZeroAdjustment       = errors.New("trove ledger: adjustment changes nothing")
	ErrNegativeAmount       = errors.New("trove ledger: negative amount")
	ErrInsufficientColl     = errors.New("trove ledger: withdrawal exceeds collateral")
	ErrRepayExceedsDebt     = errors.New("trove ledger: repayment exceeds debt")
)

// RewardIssuance streams community reward tokens into the trove
// ledger and the stability pool. Implementations own their clocks:
// each Issue call returns the amount accrued since the previous call
// for that asset.
type RewardIssuance interface {
	IssueLiquidityReward(asset string, now int64) *big.Int
	IssueStabilityReward(asset string, now int64) *big.Int
}

// assetState is the per-asset trove book. Aggregates and accumulators
// follow the stake/collateral duality: a trove's collateral is
// implied by its share of totalStakes, so redistribution only moves
// aggregate numbers.
type assetState struct {
	params *AssetParams
	troves map[uuid.UUID]*Trove
	list   *sorted.List

	totalStakes  *big.Int
	totalColl    *big.Int
	totalNorm    *big.Int // normalized composite debt incl. pending redistribution
	totalGasComp *big.Int

	lDebt      *big.Int // normalized debt per unit stake
	lDebtErr   *big.Int // floor-division carry for lDebt
	lReward    *big.Int // reward tokens per unit stake
	lRewardErr *big.Int

	debtIndex    *big.Int // R: norm * R / 1e18 = actual debt
	indexUpdated int64

	rewardClaims map[uuid.UUID]*big.Int
}

// TroveLedger is the multi-asset trove book. All methods validate
// before mutating; an error return means state is untouched. Not safe
// for concurrent use.
type TroveLedger struct {
	assets   map[string]*assetState
	issuance RewardIssuance
}

func NewTroveLedger(issuance RewardIssuance) *TroveLedger {
	return &TroveLedger{
		assets:   make(map[string]*assetState),
		issuance: issuance,
	}
}

// Configure registers a collateral asset or updates its parameters.
// The supported-asset allowlist is exactly the set of configured
// assets; every other entry point rejects unknown symbols.
func (tl *TroveLedger) Configure(p *AssetParams) error {
	if err := ValidateAssetParams(p); err != nil {
		return fmt.Errorf("trove ledger: %w", err)
	}
	if as, ok := tl.assets[p.Symbol]; ok {
		as.params = p.Clone()
		return nil
	}
	as := &assetState{
		params:       p.Clone(),
		troves:       make(map[uuid.UUID]*Trove),
		totalStakes:  new(big.Int),
		totalColl:    new(big.Int),
		totalNorm:    new(big.Int),
		totalGasComp: new(big.Int),
		lDebt:        new(big.Int),
		lDebtErr:     new(big.Int),
		lReward:      new(big.Int),
		lRewardErr:   new(big.Int),
		debtIndex:    new(big.Int).Set(fp.Precision),
		rewardClaims: make(map[uuid.UUID]*big.Int),
	}
	list, err := sorted.NewList(nicrAdapter{as: as}, p.MaxTroves)
	if err != nil {
		return fmt.Errorf("trove ledger: %w", err)
	}
	as.list = list
	tl.assets[p.Symbol] = as
	return nil
}

func (tl *TroveLedger) Params(asset string) (*AssetParams, bool) {
	as, ok := tl.assets[asset]
	if !ok {
		return nil, false
	}
	return as.params, true
}

func (tl *TroveLedger) Supported(asset string) bool {
	_, ok := tl.assets[asset]
	return ok
}

// AssetSymbols returns the configured assets in sorted order for
// deterministic iteration.
func (tl *TroveLedger) AssetSymbols() []string {
	out := make([]string, 0, len(tl.assets))
	for sym := range tl.assets {
		out = append(out, sym)
	}
	sort.Strings(out)
	return out
}

// --- ordering adapter ---

type nicrAdapter struct{ as *assetState }

// ListNICR orders troves by implied collateral over entire normalized
// debt. Normalized debt keeps ordering stable as the debt index
// advances: the index scales every trove's actual debt equally.
func (a nicrAdapter) ListNICR(id uuid.UUID) *big.Int {
	tr, ok := a.as.troves[id]
	if !ok || tr.Status != TroveActive {
		return nil
	}
	return fp.NominalCR(a.as.impliedColl(tr), a.as.entireNorm(tr))
}

// --- lifecycle results ---

type OpenResult struct {
	CompositeDebt *big.Int // net debt + gas compensation, actual units
	NormDebt      *big.Int
	Stake         *big.Int
	ICR           *big.Int
}

type AdjustResult struct {
	NewColl          *big.Int
	NewCompositeDebt *big.Int
	NewStake         *big.Int
	ICR              *big.Int
}

type CloseResult struct {
	Coll          *big.Int
	NetDebtRepaid *big.Int
	GasCompRefund *big.Int
}

// Open creates a trove for owner with coll collateral (18-decimal)
// and netDebt freshly minted stable. Gas compensation is escrowed on
// top of netDebt. In normal mode the trove needs ICR >= MCR and must
// leave TCR >= CCR; in recovery mode it needs ICR >= CCR.
func (tl *TroveLedger) Open(
	asset string,
	owner uuid.UUID,
	coll, netDebt, price *big.Int,
	prevHint, nextHint uuid.UUID,
	now int64,
) (*OpenResult, error) {
	as, ok := tl.assets[asset]
	if !ok {
		return nil, ErrUnknownAsset
	}
	if coll.Sign() <= 0 || netDebt.Sign() <= 0 {
		return nil, ErrNegativeAmount
	}
	if tr, ok := as.troves[owner]; ok && tr.Status == TroveActive {
		return nil, ErrTroveExists
	}
	if netDebt.Cmp(as.params.MinNetDebt) < 0 {
		return nil, ErrBelowMinNetDebt
	}
	if as.params.CollateralCap != nil && as.params.CollateralCap.Sign() > 0 {
		projected := new(big.Int).Add(as.totalColl, coll)
		if projected.Cmp(as.params.CollateralCap) > 0 {
			return nil, ErrCollateralCap
		}
	}

	tl.advanceDebtIndex(as, now)
	tl.advanceLiquidityRewards(as, asset, now)

	composite := new(big.Int).Add(netDebt, as.params.GasCompensation)
	icr := fp.ComputeCR(coll, price, composite)

	if tl.recoveryMode(as, price) {
		if icr.Cmp(as.params.CCR) < 0 {
			return nil, ErrICRBelowCCR
		}
	} else {
		if icr.Cmp(as.params.MCR) < 0 {
			return nil, ErrICRBelowMCR
		}
		if tl.projectedTCR(as, price, coll, composite).Cmp(as.params.CCR) < 0 {
			return nil, ErrTCRBelowCCR
		}
	}

	norm := as.normalizeDebt(composite)
	stake := as.computeStake(coll)

	tr := &Trove{
		Owner:          owner,
		Asset:          asset,
		Status:         TroveActive,
		Stake:          stake,
		NormDebt:       norm,
		GasComp:        new(big.Int).Set(as.params.GasCompensation),
		DebtSnapshot:   new(big.Int).Set(as.lDebt),
		RewardSnapshot: new(big.Int).Set(as.lReward),
		Version:        1,
	}
	as.troves[owner] = tr
	as.totalStakes.Add(as.totalStakes, stake)
	as.totalColl.Add(as.totalColl, coll)
	as.totalNorm.Add(as.totalNorm, norm)
	as.totalGasComp.Add(as.totalGasComp, tr.GasComp)

	nicr := fp.NominalCR(as.impliedColl(tr), tr.NormDebt)
	if err := as.list.Insert(owner, nicr, prevHint, nextHint); err != nil {
		panic(fmt.Sprintf("FATAL: trove ledger: list insert after validation: %v", err))
	}

	return &OpenResult{
		CompositeDebt: composite,
		NormDebt:      new(big.Int).Set(norm),
		Stake:         new(big.Int).Set(stake),
		ICR:           icr,
	}, nil
}

// Adjust deposits/withdraws collateral and/or borrows/repays debt on
// an active trove. Pending redistributed debt is applied first.
// Recovery mode forbids collateral withdrawal and requires debt
// increases to raise the trove's ICR to at least CCR.
func (tl *TroveLedger) Adjust(
	asset string,
	owner uuid.UUID,
	collDeposit, collWithdraw, debtDelta *big.Int,
	debtIncrease bool,
	price *big.Int,
	prevHint, nextHint uuid.UUID,
	now int64,
) (*AdjustResult, error) {
	as, ok := tl.assets[asset]
	if !ok {
		return nil, ErrUnknownAsset
	}
	if collDeposit.Sign() < 0 || collWithdraw.Sign() < 0 || debtDelta.Sign() < 0 {
		return nil, ErrNegativeAmount
	}
	if collDeposit.Sign() == 0 && collWithdraw.Sign() == 0 && debtDelta.Sign() == 0 {
		return nil, ErrZeroAdjustment
	}
	tr, ok := as.troves[owner]
	if !ok || tr.Status != TroveActive {
		return nil, ErrTroveNotActive
	}

	tl.advanceDebtIndex(as, now)
	tl.advanceLiquidityRewards(as, asset, now)
	tl.applyPending(as, tr)

	oldColl := as.impliedColl(tr)
	oldDebt := as.actualDebt(tr.NormDebt)
	oldICR := fp.ComputeCR(oldColl, price, oldDebt)

	newColl := new(big.Int).Add(oldColl, collDeposit)
	newColl.Sub(newColl, collWithdraw)
	if newColl.Sign() < 0 {
		return nil, ErrInsufficientColl
	}

	newDebt := new(big.Int).Set(oldDebt)
	if debtIncrease {
		newDebt.Add(newDebt, debtDelta)
	} else {
		if debtDelta.Cmp(new(big.Int).Sub(oldDebt, tr.GasComp)) > 0 {
			return nil, ErrRepayExceedsDebt
		}
		newDebt.Sub(newDebt, debtDelta)
	}
	netDebt := new(big.Int).Sub(newDebt, tr.GasComp)
	if netDebt.Cmp(as.params.MinNetDebt) < 0 {
		return nil, ErrBelowMinNetDebt
	}

	if as.params.CollateralCap != nil && as.params.CollateralCap.Sign() > 0 && collDeposit.Sign() > 0 {
		projected := new(big.Int).Add(as.totalColl, collDeposit)
		projected.Sub(projected, collWithdraw)
		if projected.Cmp(as.params.CollateralCap) > 0 {
			return nil, ErrCollateralCap
		}
	}

	newICR := fp.ComputeCR(newColl, price, newDebt)
	if tl.recoveryMode(as, price) {
		if collWithdraw.Sign() > 0 {
			return nil, ErrCollWithdrawRecovery
		}
		if debtIncrease && debtDelta.Sign() > 0 {
			if newICR.Cmp(as.params.CCR) < 0 {
				return nil, ErrICRBelowCCR
			}
			if newICR.Cmp(oldICR) < 0 {
				return nil, ErrICRNotImproved
			}
		}
	} else {
		if newICR.Cmp(as.params.MCR) < 0 {
			return nil, ErrICRBelowMCR
		}
		collDelta := new(big.Int).Sub(collDeposit, collWithdraw)
		debtChange := new(big.Int).Sub(newDebt, oldDebt)
		if tl.projectedTCR(as, price, collDelta, debtChange).Cmp(as.params.CCR) < 0 {
			return nil, ErrTCRBelowCCR
		}
	}

	newStake := as.reStake(tr, newColl)
	newNorm := as.normalizeDebt(newDebt)
	as.totalNorm.Sub(as.totalNorm, tr.NormDebt)
	as.totalNorm.Add(as.totalNorm, newNorm)
	tr.NormDebt = newNorm
	tr.Version++

	nicr := fp.NominalCR(as.impliedColl(tr), tr.NormDebt)
	if err := as.list.ReInsert(owner, nicr, prevHint, nextHint); err != nil {
		panic(fmt.Sprintf("FATAL: trove ledger: list reinsert after validation: %v", err))
	}

	return &AdjustResult{
		NewColl:          newColl,
		NewCompositeDebt: newDebt,
		NewStake:         new(big.Int).Set(newStake),
		ICR:              newICR,
	}, nil
}

// Close repays the trove's full net debt and returns its collateral
// and gas compensation to the owner. Blocked in recovery mode and
// when this is the last active trove.
func (tl *TroveLedger) Close(asset string, owner uuid.UUID, price *big.Int, now int64) (*CloseResult, error) {
	as, ok := tl.assets[asset]
	if !ok {
		return nil, ErrUnknownAsset
	}
	tr, ok := as.troves[owner]
	if !ok || tr.Status != TroveActive {
		return nil, ErrTroveNotActive
	}
	if as.list.Size() < 2 {
		return nil, ErrLastTrove
	}

	tl.advanceDebtIndex(as, now)
	tl.advanceLiquidityRewards(as, asset, now)

	if tl.recoveryMode(as, price) {
		return nil, ErrCloseInRecovery
	}

	tl.applyPending(as, tr)

	coll := as.impliedColl(tr)
	composite := as.actualDebt(tr.NormDebt)
	netDebt := new(big.Int).Sub(composite, tr.GasComp)
	gasComp := new(big.Int).Set(tr.GasComp)

	as.removeTrove(tr, TroveClosedByOwner, coll)

	return &CloseResult{
		Coll:          coll,
		NetDebtRepaid: netDebt,
		GasCompRefund: gasComp,
	}, nil
}

// --- liquidation and redemption hooks ---

// EntirePosition reports a trove's implied collateral and actual
// composite debt including pending redistribution, without mutating.
func (tl *TroveLedger) EntirePosition(asset string, owner uuid.UUID) (coll, debt *big.Int, err error) {
	as, ok := tl.assets[asset]
	if !ok {
		return nil, nil, ErrUnknownAsset
	}
	tr, ok := as.troves[owner]
	if !ok || tr.Status != TroveActive {
		return nil, nil, ErrTroveNotActive
	}
	return as.impliedColl(tr), as.actualDebt(as.entireNorm(tr)), nil
}

// RemoveForLiquidation takes a trove out of the book, removing its
// entire stake, implied collateral, normalized debt, and gas
// compensation from the aggregates. Pending rewards are credited to
// the owner's claim balance before removal. The caller decides where
// the collateral and debt go.
func (tl *TroveLedger) RemoveForLiquidation(asset string, owner uuid.UUID) error {
	return tl.removeClosed(asset, owner, TroveClosedByLiquidation)
}

// RemoveForRedemption fully clears a trove whose debt was redeemed.
func (tl *TroveLedger) RemoveForRedemption(asset string, owner uuid.UUID) error {
	return tl.removeClosed(asset, owner, TroveClosedByRedemption)
}

func (tl *TroveLedger) removeClosed(asset string, owner uuid.UUID, status TroveStatus) error {
	as, ok := tl.assets[asset]
	if !ok {
		return ErrUnknownAsset
	}
	tr, ok := as.troves[owner]
	if !ok || tr.Status != TroveActive {
		return ErrTroveNotActive
	}
	if as.list.Size() < 2 {
		return ErrLastTrove
	}
	tl.applyPending(as, tr)
	coll := as.impliedColl(tr)
	as.removeTrove(tr, status, coll)
	return nil
}

// Redistribute socializes normalized debt and collateral across the
// remaining stakes via the L_debt accumulator. The collateral simply
// stays in totalColl; stake proportions pick it up implicitly.
func (tl *TroveLedger) Redistribute(asset string, normDebt, coll *big.Int) error {
	as, ok := tl.assets[asset]
	if !ok {
		return ErrUnknownAsset
	}
	if normDebt.Sign() == 0 && coll.Sign() == 0 {
		return nil
	}
	if as.totalStakes.Sign() == 0 {
		panic("FATAL: trove ledger: redistribution with zero total stakes")
	}

	if normDebt.Sign() > 0 {
		// Error-feedback carry keeps sum(per-trove pending) within one
		// unit of the redistributed total across repeated rounds.
		num := new(big.Int).Mul(normDebt, fp.Precision)
		num.Add(num, as.lDebtErr)
		per := new(big.Int).Quo(num, as.totalStakes)
		as.lDebtErr = num.Sub(num, new(big.Int).Mul(per, as.totalStakes))
		as.lDebt.Add(as.lDebt, per)
		as.totalNorm.Add(as.totalNorm, normDebt)
	}
	if coll.Sign() > 0 {
		as.totalColl.Add(as.totalColl, coll)
	}
	return nil
}

// ReduceForRedemption shrinks an active trove by a redeemed debt lot
// and the corresponding collateral, re-ranking it in the list. The
// caller has already validated the partial redemption.
func (tl *TroveLedger) ReduceForRedemption(
	asset string,
	owner uuid.UUID,
	debtLot, collLot *big.Int,
	prevHint, nextHint uuid.UUID,
) error {
	as, ok := tl.assets[asset]
	if !ok {
		return ErrUnknownAsset
	}
	tr, ok := as.troves[owner]
	if !ok || tr.Status != TroveActive {
		return ErrTroveNotActive
	}
	tl.applyPending(as, tr)

	newColl := new(big.Int).Sub(as.impliedColl(tr), collLot)
	newDebt := new(big.Int).Sub(as.actualDebt(tr.NormDebt), debtLot)
	if newColl.Sign() < 0 || newDebt.Cmp(tr.GasComp) < 0 {
		return ErrRepayExceedsDebt
	}

	as.reStake(tr, newColl)
	newNorm := as.normalizeDebt(newDebt)
	as.totalNorm.Sub(as.totalNorm, tr.NormDebt)
	as.totalNorm.Add(as.totalNorm, newNorm)
	tr.NormDebt = newNorm
	tr.Version++

	nicr := fp.NominalCR(as.impliedColl(tr), tr.NormDebt)
	if err := as.list.ReInsert(owner, nicr, prevHint, nextHint); err != nil {
		panic(fmt.Sprintf("FATAL: trove ledger: list reinsert after redemption: %v", err))
	}
	return nil
}

// --- reads ---

func (tl *TroveLedger) GetTrove(asset string, owner uuid.UUID) (*Trove, bool) {
	as, ok := tl.assets[asset]
	if !ok {
		return nil, false
	}
	tr, ok := as.troves[owner]
	return tr, ok
}

func (tl *TroveLedger) ActiveCount(asset string) int {
	as, ok := tl.assets[asset]
	if !ok {
		return 0
	}
	return as.list.Size()
}

// SortedList exposes the per-asset ordering for the liquidation and
// redemption walks.
func (tl *TroveLedger) SortedList(asset string) (*sorted.List, bool) {
	as, ok := tl.assets[asset]
	if !ok {
		return nil, false
	}
	return as.list, true
}

// CurrentICR returns a trove's collateral ratio at the given price,
// including pending redistributed debt. Pure.
func (tl *TroveLedger) CurrentICR(asset string, owner uuid.UUID, price *big.Int) (*big.Int, error) {
	as, ok := tl.assets[asset]
	if !ok {
		return nil, ErrUnknownAsset
	}
	tr, ok := as.troves[owner]
	if !ok || tr.Status != TroveActive {
		return nil, ErrTroveNotActive
	}
	return fp.ComputeCR(as.impliedColl(tr), price, as.actualDebt(as.entireNorm(tr))), nil
}

// TCR is the system collateral ratio of one asset at the given price.
func (tl *TroveLedger) TCR(asset string, price *big.Int) (*big.Int, error) {
	as, ok := tl.assets[asset]
	if !ok {
		return nil, ErrUnknownAsset
	}
	return fp.ComputeCR(as.totalColl, price, as.actualDebt(as.totalNorm)), nil
}

// IsRecoveryMode reports whether the asset's TCR is below CCR.
func (tl *TroveLedger) IsRecoveryMode(asset string, price *big.Int) (bool, error) {
	as, ok := tl.assets[asset]
	if !ok {
		return false, ErrUnknownAsset
	}
	return tl.recoveryMode(as, price), nil
}

// HasTroveBelowMCR reports whether the riskiest trove sits under MCR
// at the given price. Used to gate stability pool withdrawals.
func (tl *TroveLedger) HasTroveBelowMCR(asset string, price *big.Int) (bool, error) {
	as, ok := tl.assets[asset]
	if !ok {
		return false, ErrUnknownAsset
	}
	tail := as.list.Last()
	if tail == uuid.Nil {
		return false, nil
	}
	icr, err := tl.CurrentICR(asset, tail, price)
	if err != nil {
		return false, err
	}
	return icr.Cmp(as.params.MCR) < 0, nil
}

func (tl *TroveLedger) TotalStakes(asset string) *big.Int   { return tl.total(asset, func(as *assetState) *big.Int { return as.totalStakes }) }
func (tl *TroveLedger) TotalColl(asset string) *big.Int     { return tl.total(asset, func(as *assetState) *big.Int { return as.totalColl }) }
func (tl *TroveLedger) TotalNormDebt(asset string) *big.Int { return tl.total(asset, func(as *assetState) *big.Int { return as.totalNorm }) }
func (tl *TroveLedger) TotalGasComp(asset string) *big.Int  { return tl.total(asset, func(as *assetState) *big.Int { return as.totalGasComp }) }

// TotalActualDebt is totalNorm scaled by the current debt index.
func (tl *TroveLedger) TotalActualDebt(asset string) *big.Int {
	as, ok := tl.assets[asset]
	if !ok {
		return new(big.Int)
	}
	return as.actualDebt(as.totalNorm)
}

// DebtIndex returns the current value of R for an asset.
func (tl *TroveLedger) DebtIndex(asset string) *big.Int {
	as, ok := tl.assets[asset]
	if !ok {
		return new(big.Int).Set(fp.Precision)
	}
	return new(big.Int).Set(as.debtIndex)
}

// NormalizeDebt converts an actual stable amount to normalized units
// at the asset's current index, rounding up.
func (tl *TroveLedger) NormalizeDebt(asset string, actual *big.Int) *big.Int {
	as, ok := tl.assets[asset]
	if !ok {
		return new(big.Int).Set(actual)
	}
	return as.normalizeDebt(actual)
}

func (tl *TroveLedger) total(asset string, f func(*assetState) *big.Int) *big.Int {
	as, ok := tl.assets[asset]
	if !ok {
		return new(big.Int)
	}
	return new(big.Int).Set(f(as))
}

// AdvanceIndexes rolls the asset's debt index and liquidity reward
// accumulator forward to now. Engines call this once at the head of
// every operation that reads debt values.
func (tl *TroveLedger) AdvanceIndexes(asset string, now int64) error {
	as, ok := tl.assets[asset]
	if !ok {
		return ErrUnknownAsset
	}
	tl.advanceDebtIndex(as, now)
	tl.advanceLiquidityRewards(as, asset, now)
	return nil
}

// ClaimReward drains the owner's accrued liquidity reward balance.
func (tl *TroveLedger) ClaimReward(asset string, owner uuid.UUID, now int64) (*big.Int, error) {
	as, ok := tl.assets[asset]
	if !ok {
		return nil, ErrUnknownAsset
	}
	tl.advanceLiquidityRewards(as, asset, now)
	if tr, ok := as.troves[owner]; ok && tr.Status == TroveActive {
		tl.applyPending(as, tr)
	}
	claim, ok := as.rewardClaims[owner]
	if !ok || claim.Sign() == 0 {
		return new(big.Int), nil
	}
	delete(as.rewardClaims, owner)
	return claim, nil
}

// RewardClaimOf reads the accrued claim without draining it.
func (tl *TroveLedger) RewardClaimOf(asset string, owner uuid.UUID) *big.Int {
	as, ok := tl.assets[asset]
	if !ok {
		return new(big.Int)
	}
	if c, ok := as.rewardClaims[owner]; ok {
		return new(big.Int).Set(c)
	}
	return new(big.Int)
}

// --- internals ---

func (as *assetState) impliedColl(tr *Trove) *big.Int {
	if as.totalStakes.Sign() == 0 {
		return new(big.Int)
	}
	out := new(big.Int).Mul(tr.Stake, as.totalColl)
	return out.Quo(out, as.totalStakes)
}

func (as *assetState) entireNorm(tr *Trove) *big.Int {
	delta := new(big.Int).Sub(as.lDebt, tr.DebtSnapshot)
	pending := fp.Mul(tr.Stake, delta)
	return pending.Add(pending, tr.NormDebt)
}

func (as *assetState) actualDebt(norm *big.Int) *big.Int {
	return fp.Mul(norm, as.debtIndex)
}

// normalizeDebt rounds up so a borrower can never owe less than the
// actual amount they were credited with.
func (as *assetState) normalizeDebt(actual *big.Int) *big.Int {
	num := new(big.Int).Mul(actual, fp.Precision)
	q, r := new(big.Int).QuoRem(num, as.debtIndex, new(big.Int))
	if r.Sign() != 0 {
		q.Add(q, big.NewInt(1))
	}
	return q
}

// computeStake converts a collateral amount into stake units at the
// current stake/collateral ratio. The first trove sets the ratio 1:1.
func (as *assetState) computeStake(coll *big.Int) *big.Int {
	if as.totalColl.Sign() == 0 || as.totalStakes.Sign() == 0 {
		return new(big.Int).Set(coll)
	}
	out := new(big.Int).Mul(coll, as.totalStakes)
	return out.Quo(out, as.totalColl)
}

// reStake rebases a trove to newColl: its old stake and implied
// collateral leave the aggregates, the new ones enter at the ratio of
// the remaining book.
func (as *assetState) reStake(tr *Trove, newColl *big.Int) *big.Int {
	oldColl := as.impliedColl(tr)
	as.totalStakes.Sub(as.totalStakes, tr.Stake)
	as.totalColl.Sub(as.totalColl, oldColl)
	newStake := as.computeStake(newColl)
	as.totalStakes.Add(as.totalStakes, newStake)
	as.totalColl.Add(as.totalColl, newColl)
	tr.Stake = newStake
	return newStake
}

// removeTrove deletes a trove and its aggregate contributions. coll
// is the trove's implied collateral, computed by the caller before
// any aggregate mutation.
func (as *assetState) removeTrove(tr *Trove, status TroveStatus, coll *big.Int) {
	if err := as.list.Remove(tr.Owner); err != nil {
		panic(fmt.Sprintf("FATAL: trove ledger: active trove missing from list: %v", err))
	}
	as.totalStakes.Sub(as.totalStakes, tr.Stake)
	as.totalColl.Sub(as.totalColl, coll)
	as.totalNorm.Sub(as.totalNorm, tr.NormDebt)
	as.totalGasComp.Sub(as.totalGasComp, tr.GasComp)
	if as.totalStakes.Sign() < 0 || as.totalColl.Sign() < 0 || as.totalNorm.Sign() < 0 {
		panic("FATAL: trove ledger: negative aggregate after trove removal")
	}
	tr.Status = status
	tr.Stake = new(big.Int)
	tr.NormDebt = new(big.Int)
	tr.GasComp = new(big.Int)
	tr.Version++
}

// applyPending folds redistributed debt into the trove's own balance
// and credits accrued liquidity rewards, then refreshes snapshots.
func (tl *TroveLedger) applyPending(as *assetState, tr *Trove) {
	debtDelta := new(big.Int).Sub(as.lDebt, tr.DebtSnapshot)
	if debtDelta.Sign() > 0 {
		pending := fp.Mul(tr.Stake, debtDelta)
		tr.NormDebt.Add(tr.NormDebt, pending)
	}
	rewardDelta := new(big.Int).Sub(as.lReward, tr.RewardSnapshot)
	if rewardDelta.Sign() > 0 {
		pending := fp.Mul(tr.Stake, rewardDelta)
		if pending.Sign() > 0 {
			claim, ok := as.rewardClaims[tr.Owner]
			if !ok {
				claim = new(big.Int)
				as.rewardClaims[tr.Owner] = claim
			}
			claim.Add(claim, pending)
		}
	}
	tr.DebtSnapshot = new(big.Int).Set(as.lDebt)
	tr.RewardSnapshot = new(big.Int).Set(as.lReward)
	tr.Version++
}

func (tl *TroveLedger) advanceDebtIndex(as *assetState, now int64) {
	if now <= as.indexUpdated {
		return
	}
	elapsed := uint64(now - as.indexUpdated)
	as.indexUpdated = now
	if as.params.InterestRatePerSecond.Sign() == 0 {
		return
	}
	base := new(big.Int).Add(fp.Precision, as.params.InterestRatePerSecond)
	factor := fp.DecPow(base, elapsed)
	as.debtIndex = fp.MulRound(as.debtIndex, factor)
}

func (tl *TroveLedger) advanceLiquidityRewards(as *assetState, asset string, now int64) {
	if tl.issuance == nil || as.totalStakes.Sign() == 0 {
		// With no stakes the stream stays untapped; it pays out once
		// a trove exists to receive it.
		return
	}
	amount := tl.issuance.IssueLiquidityReward(asset, now)
	if amount == nil || amount.Sign() == 0 {
		return
	}
	num := new(big.Int).Mul(amount, fp.Precision)
	num.Add(num, as.lRewardErr)
	per := new(big.Int).Quo(num, as.totalStakes)
	as.lRewardErr = num.Sub(num, new(big.Int).Mul(per, as.totalStakes))
	as.lReward.Add(as.lReward, per)
}

func (tl *TroveLedger) recoveryMode(as *assetState, price *big.Int) bool {
	tcr := fp.ComputeCR(as.totalColl, price, as.actualDebt(as.totalNorm))
	return tcr.Cmp(as.params.CCR) < 0
}

// projectedTCR computes the system ratio after applying a collateral
// delta and an actual-debt delta (either may be negative).
func (tl *TroveLedger) projectedTCR(as *assetState, price, collDelta, debtDelta *big.Int) *big.Int {
	coll := new(big.Int).Add(as.totalColl, collDelta)
	debt := new(big.Int).Add(as.actualDebt(as.totalNorm), debtDelta)
	if debt.Sign() <= 0 {
		return new(big.Int).Set(fp.MaxUint256)
	}
	return fp.ComputeCR(coll, price, debt)
}
