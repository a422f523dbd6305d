package engine

import (
	"errors"
	"math/big"

	"github.com/google/uuid"

	fp "stablecore/internal/math"
	"stablecore/internal/state"
)

var (
	ErrRedemptionTCRTooLow = errors.New("redemption: tcr below mcr")
	ErrNothingRedeemed     = errors.New("redemption: no debt redeemed")
	ErrZeroRedemption      = errors.New("redemption: amount must be positive")
	ErrFeeConsumesDraw     = errors.New("redemption: fee would consume the drawn collateral")
)

// RedemptionRequest carries the caller-supplied inputs. Hints come
// from an off-core preview against a recent state: the first-trove
// hint seeds the walk, the partial hints place the one trove that may
// be left partially redeemed.
type RedemptionRequest struct {
	Asset         string
	Redeemer      uuid.UUID
	Amount        *big.Int
	MaxIterations int

	PartialNICR     *big.Int
	PartialPrevHint uuid.UUID
	PartialNextHint uuid.UUID
}

// RedeemResult is the aggregate outcome of a redemption walk.
type RedeemResult struct {
	Asset            string
	Redeemed         *big.Int // stable burned against trove debt
	CollDrawn        *big.Int // collateral released before the fee
	Fee              *big.Int
	FeeToStaking     *big.Int
	FeeToReserve     *big.Int
	CollToRedeemer   *big.Int
	GasCompBurned    *big.Int // escrow of fully cleared troves
	CollSurplus      *big.Int // cleared-trove leftovers credited as surplus
	TrovesClosed     int
	CancelledPartial bool
	Rate             *big.Int
}

// RedemptionEngine walks troves from the riskiest end, swapping
// stable for collateral at face value.
type RedemptionEngine struct {
	ledger   *state.TroveLedger
	surplus  *state.SurplusPool
	feeModel FeeRateModel
}

func NewRedemptionEngine(ledger *state.TroveLedger, surplus *state.SurplusPool, feeModel FeeRateModel) *RedemptionEngine {
	return &RedemptionEngine{ledger: ledger, surplus: surplus, feeModel: feeModel}
}

// Redeem burns up to req.Amount of stable against the riskiest troves
// at or above MCR. Troves under MCR are skipped: redemption must not
// bypass liquidation. A final partial step only lands when the
// supplied hint still matches within the asset's tolerance and the
// remainder stays above the minimum debt; otherwise the walk stops
// with CancelledPartial set and every prior step stands.
func (re *RedemptionEngine) Redeem(
	req *RedemptionRequest,
	price, stableSupply *big.Int,
	now int64,
) (*RedeemResult, error) {
	if req.Amount == nil || req.Amount.Sign() <= 0 {
		return nil, ErrZeroRedemption
	}
	if err := re.ledger.AdvanceIndexes(req.Asset, now); err != nil {
		return nil, err
	}
	params, ok := re.ledger.Params(req.Asset)
	if !ok {
		return nil, state.ErrUnknownAsset
	}
	tcr, err := re.ledger.TCR(req.Asset, price)
	if err != nil {
		return nil, err
	}
	if tcr.Cmp(params.MCR) < 0 {
		return nil, ErrRedemptionTCRTooLow
	}

	res := &RedeemResult{
		Asset:          req.Asset,
		Redeemed:       new(big.Int),
		CollDrawn:      new(big.Int),
		Fee:            new(big.Int),
		FeeToStaking:   new(big.Int),
		FeeToReserve:   new(big.Int),
		CollToRedeemer: new(big.Int),
		GasCompBurned:  new(big.Int),
		CollSurplus:    new(big.Int),
	}

	remaining := new(big.Int).Set(req.Amount)
	iterations := 0
	for remaining.Sign() > 0 {
		if req.MaxIterations > 0 && iterations >= req.MaxIterations {
			break
		}
		iterations++

		owner := re.nextRedeemable(req.Asset, price, params.MCR)
		if owner == uuid.Nil {
			break
		}
		coll, debt, err := re.ledger.EntirePosition(req.Asset, owner)
		if err != nil {
			break
		}
		tr, _ := re.ledger.GetTrove(req.Asset, owner)
		netDebt := new(big.Int).Sub(debt, tr.GasComp)

		lot := fp.Min(remaining, netDebt)
		collLot := fp.Div(lot, price)

		if lot.Cmp(netDebt) == 0 {
			// Full clear: the trove closes as redeemed, leftover
			// collateral becomes a borrower surplus, the gas
			// compensation escrow is burned.
			gasComp := new(big.Int).Set(tr.GasComp)
			if err := re.ledger.RemoveForRedemption(req.Asset, owner); err != nil {
				break // last-trove floor
			}
			leftover := new(big.Int).Sub(coll, collLot)
			if leftover.Sign() > 0 {
				re.surplus.Credit(req.Asset, owner, leftover)
				res.CollSurplus.Add(res.CollSurplus, leftover)
			}
			res.GasCompBurned.Add(res.GasCompBurned, gasComp)
			res.TrovesClosed++
		} else {
			// Partial: the trove survives with reduced debt and
			// collateral, so the caller's placement hint must still
			// be valid and the remainder must be a viable trove.
			newColl := new(big.Int).Sub(coll, collLot)
			newDebt := new(big.Int).Sub(debt, lot)
			newNet := new(big.Int).Sub(newDebt, tr.GasComp)
			if newNet.Cmp(params.MinNetDebt) < 0 {
				res.CancelledPartial = true
				break
			}
			newNICR := fp.NominalCR(newColl, re.ledger.NormalizeDebt(req.Asset, newDebt))
			if !nicrWithinTolerance(newNICR, req.PartialNICR, params.RedemptionHintTolerance) {
				res.CancelledPartial = true
				break
			}
			if err := re.ledger.ReduceForRedemption(req.Asset, owner, lot, collLot, req.PartialPrevHint, req.PartialNextHint); err != nil {
				res.CancelledPartial = true
				break
			}
		}

		remaining.Sub(remaining, lot)
		res.Redeemed.Add(res.Redeemed, lot)
		res.CollDrawn.Add(res.CollDrawn, collLot)
	}

	if res.Redeemed.Sign() == 0 {
		return nil, ErrNothingRedeemed
	}

	rate, err := re.feeModel.CalcRedeemRate(req.Asset, res.Redeemed, stableSupply, now)
	if err != nil {
		return nil, err
	}
	res.Rate = rate
	res.Fee = fp.Mul(res.CollDrawn, rate)
	if res.Fee.Cmp(res.CollDrawn) >= 0 {
		return nil, ErrFeeConsumesDraw
	}
	res.CollToRedeemer = new(big.Int).Sub(res.CollDrawn, res.Fee)
	res.FeeToReserve = fp.Mul(res.Fee, params.ReserveFactor)
	res.FeeToStaking = new(big.Int).Sub(res.Fee, res.FeeToReserve)
	return res, nil
}

// nextRedeemable finds the riskiest trove at or above MCR.
func (re *RedemptionEngine) nextRedeemable(asset string, price, mcr *big.Int) uuid.UUID {
	list, ok := re.ledger.SortedList(asset)
	if !ok {
		return uuid.Nil
	}
	for id := list.Last(); id != uuid.Nil; id = list.Prev(id) {
		icr, err := re.ledger.CurrentICR(asset, id, price)
		if err != nil {
			continue
		}
		if icr.Cmp(mcr) >= 0 {
			return id
		}
	}
	return uuid.Nil
}

// nicrWithinTolerance accepts a hint when the realized NICR is within
// the relative tolerance of the hinted one.
func nicrWithinTolerance(got, hint, tolerance *big.Int) bool {
	if hint == nil || hint.Sign() <= 0 {
		return false
	}
	diff := new(big.Int).Sub(got, hint)
	diff.Abs(diff)
	allowed := fp.Mul(hint, tolerance)
	return diff.Cmp(allowed) <= 0
}
