package engine

import (
	"errors"
	"math/big"

	"github.com/google/uuid"

	fp "stablecore/internal/math"
	"stablecore/internal/state"
)

var (
	ErrEmptyBatch        = errors.New("liquidation: empty candidate batch")
	ErrNothingLiquidated = errors.New("liquidation: no candidate was liquidatable")
)

// LiquidationMode tags which branch a trove went through.
type LiquidationMode int32

const (
	ModeNormalOffset LiquidationMode = iota
	ModeFullRedistribution
	ModeOffsetAndRedistribute
	ModeCappedOffset
)

// TroveLiquidation is the outcome for one liquidated trove.
type TroveLiquidation struct {
	Owner             uuid.UUID
	Mode              LiquidationMode
	Debt              *big.Int // entire composite debt taken over
	Coll              *big.Int // entire implied collateral seized
	DebtOffset        *big.Int
	CollToPool        *big.Int
	DebtRedistributed *big.Int
	CollRedistributed *big.Int
	CollSurplus       *big.Int // returned to the borrower (capped branch)
	CollBonus         *big.Int // caller incentive
	GasComp           *big.Int // stable paid to the caller
}

// BatchResult aggregates a liquidation batch. The stability pool
// offset and the redistribution are each applied exactly once, after
// every candidate has been sequenced.
type BatchResult struct {
	Asset               string
	RecoveryModeAtStart bool
	Liquidated          []TroveLiquidation

	TotalDebtOffset        *big.Int
	TotalCollToPool        *big.Int
	TotalDebtRedistributed *big.Int
	TotalCollRedistributed *big.Int
	TotalCollSurplus       *big.Int
	TotalCollBonus         *big.Int
	TotalGasComp           *big.Int
}

// LiquidationEngine sequences liquidation batches against the trove
// ledger, stability pools, and surplus pool.
type LiquidationEngine struct {
	ledger  *state.TroveLedger
	pools   *state.StabilityPools
	surplus *state.SurplusPool
}

func NewLiquidationEngine(ledger *state.TroveLedger, pools *state.StabilityPools, surplus *state.SurplusPool) *LiquidationEngine {
	return &LiquidationEngine{ledger: ledger, pools: pools, surplus: surplus}
}

// LiquidateBatch runs the sequencer over an explicit candidate list.
// Recovery mode is fixed at batch start; a one-way backToNormalMode
// flag flips when enough debt has left the system to lift the virtual
// TCR back over CCR. Ineligible candidates are skipped, never failed.
func (le *LiquidationEngine) LiquidateBatch(
	asset string,
	candidates []uuid.UUID,
	price *big.Int,
	now int64,
) (*BatchResult, error) {
	if len(candidates) == 0 {
		return nil, ErrEmptyBatch
	}
	if err := le.ledger.AdvanceIndexes(asset, now); err != nil {
		return nil, err
	}
	params, ok := le.ledger.Params(asset)
	if !ok {
		return nil, state.ErrUnknownAsset
	}
	recoveryAtStart, err := le.ledger.IsRecoveryMode(asset, price)
	if err != nil {
		return nil, err
	}

	res := newBatchResult(asset, recoveryAtStart)
	remainingSP := le.pools.TotalDeposits(asset)

	// Virtual system totals track what the batch has already removed,
	// so the capped branch and the backToNormalMode flip see the
	// system as it will be once the batch lands.
	vColl := le.ledger.TotalColl(asset)
	vDebt := le.ledger.TotalActualDebt(asset)
	backToNormal := false

	for _, owner := range candidates {
		coll, debt, err := le.ledger.EntirePosition(asset, owner)
		if err != nil {
			continue // closed or unknown: skip
		}
		icr, err := le.ledger.CurrentICR(asset, owner, price)
		if err != nil {
			continue
		}
		tr, _ := le.ledger.GetTrove(asset, owner)
		gasComp := new(big.Int).Set(tr.GasComp)

		var tl *TroveLiquidation
		if recoveryAtStart && !backToNormal {
			tl = le.sequenceRecovery(params, owner, coll, debt, gasComp, icr, price, remainingSP, vColl, vDebt)
		} else {
			tl = le.sequenceNormal(params, owner, coll, debt, gasComp, icr, remainingSP)
		}
		if tl == nil {
			continue
		}
		if err := le.ledger.RemoveForLiquidation(asset, owner); err != nil {
			// ErrLastTrove guards the floor of one active trove
			continue
		}

		if tl.CollSurplus.Sign() > 0 {
			le.surplus.Credit(asset, owner, tl.CollSurplus)
		}
		res.add(tl)
		remainingSP.Sub(remainingSP, tl.DebtOffset)

		// Offset debt is burned and paid-out collateral leaves the
		// system; redistributed amounts stay inside it.
		vDebt.Sub(vDebt, tl.DebtOffset)
		vColl.Sub(vColl, tl.CollToPool)
		vColl.Sub(vColl, tl.CollSurplus)
		vColl.Sub(vColl, tl.CollBonus)
		if recoveryAtStart && !backToNormal {
			if fp.ComputeCR(vColl, price, vDebt).Cmp(params.CCR) >= 0 {
				backToNormal = true
			}
		}
	}

	if len(res.Liquidated) == 0 {
		return nil, ErrNothingLiquidated
	}

	if res.TotalDebtOffset.Sign() > 0 {
		if err := le.pools.Offset(asset, res.TotalDebtOffset, res.TotalCollToPool, now); err != nil {
			return nil, err
		}
	}
	if res.TotalDebtRedistributed.Sign() > 0 || res.TotalCollRedistributed.Sign() > 0 {
		norm := le.ledger.NormalizeDebt(asset, res.TotalDebtRedistributed)
		if err := le.ledger.Redistribute(asset, norm, res.TotalCollRedistributed); err != nil {
			return nil, err
		}
	}
	return res, nil
}

// LiquidateRiskiest walks the sorted list from the riskiest end and
// liquidates up to n troves. The walk stops early once troves are no
// longer candidates at the current price.
func (le *LiquidationEngine) LiquidateRiskiest(asset string, n int, price *big.Int, now int64) (*BatchResult, error) {
	if n <= 0 {
		return nil, ErrEmptyBatch
	}
	if err := le.ledger.AdvanceIndexes(asset, now); err != nil {
		return nil, err
	}
	params, ok := le.ledger.Params(asset)
	if !ok {
		return nil, state.ErrUnknownAsset
	}
	recovery, err := le.ledger.IsRecoveryMode(asset, price)
	if err != nil {
		return nil, err
	}
	list, _ := le.ledger.SortedList(asset)

	var candidates []uuid.UUID
	for id := list.Last(); id != uuid.Nil && len(candidates) < n; id = list.Prev(id) {
		icr, err := le.ledger.CurrentICR(asset, id, price)
		if err != nil {
			continue
		}
		if icr.Cmp(params.MCR) >= 0 {
			if !recovery {
				break // the list is ordered: nothing riskier remains
			}
			tcr, _ := le.ledger.TCR(asset, price)
			if icr.Cmp(tcr) >= 0 {
				break
			}
		}
		candidates = append(candidates, id)
	}
	if len(candidates) == 0 {
		return nil, ErrNothingLiquidated
	}
	return le.LiquidateBatch(asset, candidates, price, now)
}

// sequenceNormal handles normal-mode branching: only ICR < MCR is
// liquidatable; the stability pool absorbs what it can and the rest
// is redistributed.
func (le *LiquidationEngine) sequenceNormal(
	params *state.AssetParams,
	owner uuid.UUID,
	coll, debt, gasComp, icr, remainingSP *big.Int,
) *TroveLiquidation {
	if icr.Cmp(params.MCR) >= 0 {
		return nil
	}
	tl := newTroveLiquidation(owner, ModeNormalOffset, coll, debt, gasComp)
	tl.CollBonus = bonus(coll, params)
	distributable := new(big.Int).Sub(coll, tl.CollBonus)

	tl.DebtOffset = fp.Min(debt, remainingSP)
	tl.DebtRedistributed = new(big.Int).Sub(debt, tl.DebtOffset)
	if tl.DebtRedistributed.Sign() > 0 {
		tl.Mode = ModeOffsetAndRedistribute
	}
	if debt.Sign() > 0 {
		tl.CollToPool = new(big.Int).Mul(distributable, tl.DebtOffset)
		tl.CollToPool.Quo(tl.CollToPool, debt)
	}
	tl.CollRedistributed = new(big.Int).Sub(distributable, tl.CollToPool)
	return tl
}

// sequenceRecovery handles the recovery-mode branches at the current
// virtual TCR.
func (le *LiquidationEngine) sequenceRecovery(
	params *state.AssetParams,
	owner uuid.UUID,
	coll, debt, gasComp, icr, price, remainingSP, vColl, vDebt *big.Int,
) *TroveLiquidation {
	tcr := fp.ComputeCR(vColl, price, vDebt)

	switch {
	case icr.Cmp(fp.Precision) <= 0:
		// At or under water: the pool gains nothing from absorbing
		// this debt, everything is redistributed.
		tl := newTroveLiquidation(owner, ModeFullRedistribution, coll, debt, gasComp)
		tl.CollBonus = bonus(coll, params)
		tl.DebtRedistributed = new(big.Int).Set(debt)
		tl.CollRedistributed = new(big.Int).Sub(coll, tl.CollBonus)
		return tl

	case icr.Cmp(params.MCR) < 0:
		// Same split as normal mode.
		tl := newTroveLiquidation(owner, ModeOffsetAndRedistribute, coll, debt, gasComp)
		tl.CollBonus = bonus(coll, params)
		distributable := new(big.Int).Sub(coll, tl.CollBonus)
		tl.DebtOffset = fp.Min(debt, remainingSP)
		tl.DebtRedistributed = new(big.Int).Sub(debt, tl.DebtOffset)
		if debt.Sign() > 0 {
			tl.CollToPool = new(big.Int).Mul(distributable, tl.DebtOffset)
			tl.CollToPool.Quo(tl.CollToPool, debt)
		}
		tl.CollRedistributed = new(big.Int).Sub(distributable, tl.CollToPool)
		return tl

	case icr.Cmp(tcr) < 0 && remainingSP.Cmp(debt) >= 0:
		// Between MCR and TCR with the pool able to take the whole
		// debt: offset capped at MCR worth of collateral, the
		// borrower keeps the excess as claimable surplus.
		tl := newTroveLiquidation(owner, ModeCappedOffset, coll, debt, gasComp)
		tl.DebtOffset = new(big.Int).Set(debt)
		capped := fp.Mul(debt, params.MCR)
		capped = fp.Div(capped, price)
		tl.CollToPool = fp.Min(capped, coll)
		rest := new(big.Int).Sub(coll, tl.CollToPool)
		tl.CollBonus = fp.Min(bonus(coll, params), rest)
		tl.CollSurplus = new(big.Int).Sub(rest, tl.CollBonus)
		return tl

	default:
		return nil
	}
}

func bonus(coll *big.Int, params *state.AssetParams) *big.Int {
	if params.LiquidationBonusDivisor <= 0 {
		return new(big.Int)
	}
	return new(big.Int).Quo(coll, big.NewInt(params.LiquidationBonusDivisor))
}

func newTroveLiquidation(owner uuid.UUID, mode LiquidationMode, coll, debt, gasComp *big.Int) *TroveLiquidation {
	return &TroveLiquidation{
		Owner:             owner,
		Mode:              mode,
		Debt:              new(big.Int).Set(debt),
		Coll:              new(big.Int).Set(coll),
		DebtOffset:        new(big.Int),
		CollToPool:        new(big.Int),
		DebtRedistributed: new(big.Int),
		CollRedistributed: new(big.Int),
		CollSurplus:       new(big.Int),
		CollBonus:         new(big.Int),
		GasComp:           gasComp,
	}
}

func newBatchResult(asset string, recovery bool) *BatchResult {
	return &BatchResult{
		Asset:                  asset,
		RecoveryModeAtStart:    recovery,
		TotalDebtOffset:        new(big.Int),
		TotalCollToPool:        new(big.Int),
		TotalDebtRedistributed: new(big.Int),
		TotalCollRedistributed: new(big.Int),
		TotalCollSurplus:       new(big.Int),
		TotalCollBonus:         new(big.Int),
		TotalGasComp:           new(big.Int),
	}
}

func (br *BatchResult) add(tl *TroveLiquidation) {
	br.Liquidated = append(br.Liquidated, *tl)
	br.TotalDebtOffset.Add(br.TotalDebtOffset, tl.DebtOffset)
	br.TotalCollToPool.Add(br.TotalCollToPool, tl.CollToPool)
	br.TotalDebtRedistributed.Add(br.TotalDebtRedistributed, tl.DebtRedistributed)
	br.TotalCollRedistributed.Add(br.TotalCollRedistributed, tl.CollRedistributed)
	br.TotalCollSurplus.Add(br.TotalCollSurplus, tl.CollSurplus)
	br.TotalCollBonus.Add(br.TotalCollBonus, tl.CollBonus)
	br.TotalGasComp.Add(br.TotalGasComp, tl.GasComp)
}
