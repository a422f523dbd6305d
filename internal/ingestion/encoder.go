package ingestion

import (
	"encoding/json"
	"fmt"
	"math/big"

	"github.com/google/uuid"

	"stablecore/internal/event"
)

// MarshalEvent is the inverse of ParseRawEvent: it encodes a typed
// event into the same JSON wire format, so persisted payloads parse
// back during replay.
func MarshalEvent(evt event.Event) ([]byte, error) {
	switch e := evt.(type) {
	case *event.PriceUpdate:
		return json.Marshal(priceUpdateJSON{
			Asset:          e.Asset,
			Price:          bigStr(e.Price),
			PriceSequence:  e.PriceSequence,
			PriceTimestamp: e.PriceTimestamp,
		})
	case *event.AssetParamUpdate:
		return json.Marshal(assetParamUpdateJSON{
			Asset:                   e.Asset,
			Decimals:                e.Decimals,
			MCR:                     bigStr(e.MCR),
			CCR:                     bigStr(e.CCR),
			MinNetDebt:              bigStr(e.MinNetDebt),
			GasCompensation:         bigStr(e.GasCompensation),
			CollateralCap:           bigStr(e.CollateralCap),
			LiquidationBonusDivisor: e.LiquidationBonusDivisor,
			BorrowFeeFloor:          bigStr(e.BorrowFeeFloor),
			RedemptionFeeFloor:      bigStr(e.RedemptionFeeFloor),
			ReserveFactor:           bigStr(e.ReserveFactor),
			InterestRatePerSecond:   bigStr(e.InterestRatePerSecond),
			IssuanceRatePerSecond:   bigStr(e.IssuanceRatePerSecond),
			RedemptionHintTolerance: bigStr(e.RedemptionHintTolerance),
			EffectiveSeq:            e.EffectiveSeq,
			Sequence:                e.Sequence,
			Timestamp:               e.Timestamp,
		})
	case *event.TroveOpen:
		return json.Marshal(troveOpenJSON{
			OpID:      e.OpID.String(),
			Owner:     e.Owner.String(),
			Asset:     e.Asset,
			Coll:      bigStr(e.Coll),
			NetDebt:   bigStr(e.NetDebt),
			PrevHint:  hintStr(e.PrevHint),
			NextHint:  hintStr(e.NextHint),
			Sequence:  e.Sequence,
			Timestamp: e.Timestamp,
		})
	case *event.TroveAdjust:
		return json.Marshal(troveAdjustJSON{
			OpID:      e.OpID.String(),
			Owner:     e.Owner.String(),
			Asset:     e.Asset,
			CollDelta: bigStr(e.CollDelta),
			DebtDelta: bigStr(e.DebtDelta),
			PrevHint:  hintStr(e.PrevHint),
			NextHint:  hintStr(e.NextHint),
			Sequence:  e.Sequence,
			Timestamp: e.Timestamp,
		})
	case *event.TroveClose:
		return json.Marshal(troveCloseJSON{
			OpID:      e.OpID.String(),
			Owner:     e.Owner.String(),
			Asset:     e.Asset,
			Sequence:  e.Sequence,
			Timestamp: e.Timestamp,
		})
	case *event.Liquidate:
		targets := make([]string, 0, len(e.Targets))
		for _, t := range e.Targets {
			targets = append(targets, t.String())
		}
		return json.Marshal(liquidateJSON{
			OpID:      e.OpID.String(),
			Caller:    e.Caller.String(),
			Asset:     e.Asset,
			Targets:   targets,
			Sequence:  e.Sequence,
			Timestamp: e.Timestamp,
		})
	case *event.LiquidateRiskiest:
		return json.Marshal(liquidateRiskiestJSON{
			OpID:      e.OpID.String(),
			Caller:    e.Caller.String(),
			Asset:     e.Asset,
			MaxTroves: e.MaxTroves,
			Sequence:  e.Sequence,
			Timestamp: e.Timestamp,
		})
	case *event.Redeem:
		j := redeemJSON{
			OpID:            e.OpID.String(),
			Redeemer:        e.Redeemer.String(),
			Asset:           e.Asset,
			Amount:          bigStr(e.Amount),
			MaxIterations:   e.MaxIterations,
			PartialPrevHint: hintStr(e.PartialPrevHint),
			PartialNextHint: hintStr(e.PartialNextHint),
			Sequence:        e.Sequence,
			Timestamp:       e.Timestamp,
		}
		if e.PartialNICR != nil {
			j.PartialNICR = e.PartialNICR.String()
		}
		return json.Marshal(j)
	case *event.StabilityProvide:
		return json.Marshal(stabilityJSON{
			OpID:      e.OpID.String(),
			Depositor: e.Depositor.String(),
			Asset:     e.Asset,
			Amount:    bigStr(e.Amount),
			Sequence:  e.Sequence,
			Timestamp: e.Timestamp,
		})
	case *event.StabilityWithdraw:
		return json.Marshal(stabilityJSON{
			OpID:      e.OpID.String(),
			Depositor: e.Depositor.String(),
			Asset:     e.Asset,
			Amount:    bigStr(e.Amount),
			Sequence:  e.Sequence,
			Timestamp: e.Timestamp,
		})
	case *event.SurplusClaim:
		return json.Marshal(claimJSON{
			OpID:      e.OpID.String(),
			Owner:     e.Owner.String(),
			Asset:     e.Asset,
			Sequence:  e.Sequence,
			Timestamp: e.Timestamp,
		})
	case *event.RewardClaim:
		return json.Marshal(claimJSON{
			OpID:      e.OpID.String(),
			Owner:     e.Owner.String(),
			Asset:     e.Asset,
			Sequence:  e.Sequence,
			Timestamp: e.Timestamp,
		})
	case *event.FlashMint:
		return json.Marshal(flashMintJSON{
			OpID:      e.OpID.String(),
			Borrower:  e.Borrower.String(),
			Amount:    bigStr(e.Amount),
			Fee:       bigStr(e.Fee),
			Sequence:  e.Sequence,
			Timestamp: e.Timestamp,
		})
	default:
		return nil, fmt.Errorf("marshal: unknown event type %T", evt)
	}
}

func bigStr(v *big.Int) string {
	if v == nil {
		return ""
	}
	return v.String()
}

func hintStr(id uuid.UUID) string {
	if id == uuid.Nil {
		return ""
	}
	return id.String()
}
