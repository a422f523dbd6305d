package ingestion

import (
	"encoding/json"
	"fmt"
	"math/big"

	"github.com/google/uuid"

	"stablecore/internal/event"
)

// ParseRawEvent converts a RawEvent (JSON bytes + event type string)
// into a typed event.Event. The ingestion shell validates, parses, and
// converts raw operations before handing them to the deterministic core.
func ParseRawEvent(raw RawEvent, eventType string) (event.Event, error) {
	switch eventType {
	case "PriceUpdate":
		return parsePriceUpdate(raw.Data)
	case "AssetParamUpdate":
		return parseAssetParamUpdate(raw.Data)
	case "TroveOpen":
		return parseTroveOpen(raw.Data)
	case "TroveAdjust":
		return parseTroveAdjust(raw.Data)
	case "TroveClose":
		return parseTroveClose(raw.Data)
	case "Liquidate":
		return parseLiquidate(raw.Data)
	case "LiquidateRiskiest":
		return parseLiquidateRiskiest(raw.Data)
	case "Redeem":
		return parseRedeem(raw.Data)
	case "StabilityProvide":
		return parseStabilityProvide(raw.Data)
	case "StabilityWithdraw":
		return parseStabilityWithdraw(raw.Data)
	case "SurplusClaim":
		return parseSurplusClaim(raw.Data)
	case "RewardClaim":
		return parseRewardClaim(raw.Data)
	case "FlashMint":
		return parseFlashMint(raw.Data)
	default:
		return nil, fmt.Errorf("unknown event type: %s", eventType)
	}
}

// parseBig decodes a decimal string into a fixed-point 1e18 amount.
// Amounts travel as strings on the wire because they exceed int64.
func parseBig(s, field string) (*big.Int, error) {
	if s == "" {
		return new(big.Int), nil
	}
	v, ok := new(big.Int).SetString(s, 10)
	if !ok {
		return nil, fmt.Errorf("parse %s: invalid integer %q", field, s)
	}
	return v, nil
}

func parseUUID(s, field string) (uuid.UUID, error) {
	id, err := uuid.Parse(s)
	if err != nil {
		return uuid.Nil, fmt.Errorf("parse %s: %w", field, err)
	}
	return id, nil
}

// parseHint tolerates an absent hint; uuid.Nil means "walk from the ends".
func parseHint(s, field string) (uuid.UUID, error) {
	if s == "" {
		return uuid.Nil, nil
	}
	return parseUUID(s, field)
}

// --- JSON wire formats ---
// These structs represent the JSON payloads received from NATS.
// Field names use snake_case to match upstream producers.

type priceUpdateJSON struct {
	Asset          string `json:"asset"`
	Price          string `json:"price"`
	PriceSequence  int64  `json:"price_sequence"`
	PriceTimestamp int64  `json:"price_timestamp"`
}

func parsePriceUpdate(data []byte) (*event.PriceUpdate, error) {
	var j priceUpdateJSON
	if err := json.Unmarshal(data, &j); err != nil {
		return nil, fmt.Errorf("parse PriceUpdate: %w", err)
	}
	price, err := parseBig(j.Price, "price")
	if err != nil {
		return nil, err
	}
	return &event.PriceUpdate{
		Asset:          j.Asset,
		Price:          price,
		PriceSequence:  j.PriceSequence,
		PriceTimestamp: j.PriceTimestamp,
	}, nil
}

type assetParamUpdateJSON struct {
	Asset                   string `json:"asset"`
	Decimals                int32  `json:"decimals"`
	MCR                     string `json:"mcr"`
	CCR                     string `json:"ccr"`
	MinNetDebt              string `json:"min_net_debt"`
	GasCompensation         string `json:"gas_compensation"`
	CollateralCap           string `json:"collateral_cap"`
	LiquidationBonusDivisor int64  `json:"liquidation_bonus_divisor"`
	BorrowFeeFloor          string `json:"borrow_fee_floor"`
	RedemptionFeeFloor      string `json:"redemption_fee_floor"`
	ReserveFactor           string `json:"reserve_factor"`
	InterestRatePerSecond   string `json:"interest_rate_per_second"`
	IssuanceRatePerSecond   string `json:"issuance_rate_per_second"`
	RedemptionHintTolerance string `json:"redemption_hint_tolerance"`
	EffectiveSeq            int64  `json:"effective_seq"`
	Sequence                int64  `json:"sequence"`
	Timestamp               int64  `json:"timestamp"`
}

func parseAssetParamUpdate(data []byte) (*event.AssetParamUpdate, error) {
	var j assetParamUpdateJSON
	if err := json.Unmarshal(data, &j); err != nil {
		return nil, fmt.Errorf("parse AssetParamUpdate: %w", err)
	}

	evt := &event.AssetParamUpdate{
		Asset:                   j.Asset,
		Decimals:                j.Decimals,
		LiquidationBonusDivisor: j.LiquidationBonusDivisor,
		EffectiveSeq:            j.EffectiveSeq,
		Sequence:                j.Sequence,
		Timestamp:               j.Timestamp,
	}

	var err error
	for _, f := range []struct {
		dst   **big.Int
		src   string
		field string
	}{
		{&evt.MCR, j.MCR, "mcr"},
		{&evt.CCR, j.CCR, "ccr"},
		{&evt.MinNetDebt, j.MinNetDebt, "min_net_debt"},
		{&evt.GasCompensation, j.GasCompensation, "gas_compensation"},
		{&evt.CollateralCap, j.CollateralCap, "collateral_cap"},
		{&evt.BorrowFeeFloor, j.BorrowFeeFloor, "borrow_fee_floor"},
		{&evt.RedemptionFeeFloor, j.RedemptionFeeFloor, "redemption_fee_floor"},
		{&evt.ReserveFactor, j.ReserveFactor, "reserve_factor"},
		{&evt.InterestRatePerSecond, j.InterestRatePerSecond, "interest_rate_per_second"},
		{&evt.IssuanceRatePerSecond, j.IssuanceRatePerSecond, "issuance_rate_per_second"},
		{&evt.RedemptionHintTolerance, j.RedemptionHintTolerance, "redemption_hint_tolerance"},
	} {
		if *f.dst, err = parseBig(f.src, f.field); err != nil {
			return nil, err
		}
	}

	return evt, nil
}

type troveOpenJSON struct {
	OpID      string `json:"op_id"`
	Owner     string `json:"owner"`
	Asset     string `json:"asset"`
	Coll      string `json:"coll"`
	NetDebt   string `json:"net_debt"`
	PrevHint  string `json:"prev_hint,omitempty"`
	NextHint  string `json:"next_hint,omitempty"`
	Sequence  int64  `json:"sequence"`
	Timestamp int64  `json:"timestamp"`
}

func parseTroveOpen(data []byte) (*event.TroveOpen, error) {
	var j troveOpenJSON
	if err := json.Unmarshal(data, &j); err != nil {
		return nil, fmt.Errorf("parse TroveOpen: %w", err)
	}
	opID, err := parseUUID(j.OpID, "op_id")
	if err != nil {
		return nil, err
	}
	owner, err := parseUUID(j.Owner, "owner")
	if err != nil {
		return nil, err
	}
	coll, err := parseBig(j.Coll, "coll")
	if err != nil {
		return nil, err
	}
	netDebt, err := parseBig(j.NetDebt, "net_debt")
	if err != nil {
		return nil, err
	}
	prevHint, err := parseHint(j.PrevHint, "prev_hint")
	if err != nil {
		return nil, err
	}
	nextHint, err := parseHint(j.NextHint, "next_hint")
	if err != nil {
		return nil, err
	}
	return &event.TroveOpen{
		OpID:      opID,
		Owner:     owner,
		Asset:     j.Asset,
		Coll:      coll,
		NetDebt:   netDebt,
		PrevHint:  prevHint,
		NextHint:  nextHint,
		Sequence:  j.Sequence,
		Timestamp: j.Timestamp,
	}, nil
}

type troveAdjustJSON struct {
	OpID      string `json:"op_id"`
	Owner     string `json:"owner"`
	Asset     string `json:"asset"`
	CollDelta string `json:"coll_delta"` // signed
	DebtDelta string `json:"debt_delta"` // signed
	PrevHint  string `json:"prev_hint,omitempty"`
	NextHint  string `json:"next_hint,omitempty"`
	Sequence  int64  `json:"sequence"`
	Timestamp int64  `json:"timestamp"`
}

func parseTroveAdjust(data []byte) (*event.TroveAdjust, error) {
	var j troveAdjustJSON
	if err := json.Unmarshal(data, &j); err != nil {
		return nil, fmt.Errorf("parse TroveAdjust: %w", err)
	}
	opID, err := parseUUID(j.OpID, "op_id")
	if err != nil {
		return nil, err
	}
	owner, err := parseUUID(j.Owner, "owner")
	if err != nil {
		return nil, err
	}
	collDelta, err := parseBig(j.CollDelta, "coll_delta")
	if err != nil {
		return nil, err
	}
	debtDelta, err := parseBig(j.DebtDelta, "debt_delta")
	if err != nil {
		return nil, err
	}
	prevHint, err := parseHint(j.PrevHint, "prev_hint")
	if err != nil {
		return nil, err
	}
	nextHint, err := parseHint(j.NextHint, "next_hint")
	if err != nil {
		return nil, err
	}
	return &event.TroveAdjust{
		OpID:      opID,
		Owner:     owner,
		Asset:     j.Asset,
		CollDelta: collDelta,
		DebtDelta: debtDelta,
		PrevHint:  prevHint,
		NextHint:  nextHint,
		Sequence:  j.Sequence,
		Timestamp: j.Timestamp,
	}, nil
}

type troveCloseJSON struct {
	OpID      string `json:"op_id"`
	Owner     string `json:"owner"`
	Asset     string `json:"asset"`
	Sequence  int64  `json:"sequence"`
	Timestamp int64  `json:"timestamp"`
}

func parseTroveClose(data []byte) (*event.TroveClose, error) {
	var j troveCloseJSON
	if err := json.Unmarshal(data, &j); err != nil {
		return nil, fmt.Errorf("parse TroveClose: %w", err)
	}
	opID, err := parseUUID(j.OpID, "op_id")
	if err != nil {
		return nil, err
	}
	owner, err := parseUUID(j.Owner, "owner")
	if err != nil {
		return nil, err
	}
	return &event.TroveClose{
		OpID:      opID,
		Owner:     owner,
		Asset:     j.Asset,
		Sequence:  j.Sequence,
		Timestamp: j.Timestamp,
	}, nil
}

type liquidateJSON struct {
	OpID      string   `json:"op_id"`
	Caller    string   `json:"caller"`
	Asset     string   `json:"asset"`
	Targets   []string `json:"targets"`
	Sequence  int64    `json:"sequence"`
	Timestamp int64    `json:"timestamp"`
}

func parseLiquidate(data []byte) (*event.Liquidate, error) {
	var j liquidateJSON
	if err := json.Unmarshal(data, &j); err != nil {
		return nil, fmt.Errorf("parse Liquidate: %w", err)
	}
	opID, err := parseUUID(j.OpID, "op_id")
	if err != nil {
		return nil, err
	}
	caller, err := parseUUID(j.Caller, "caller")
	if err != nil {
		return nil, err
	}
	targets := make([]uuid.UUID, 0, len(j.Targets))
	for i, s := range j.Targets {
		id, err := parseUUID(s, fmt.Sprintf("targets[%d]", i))
		if err != nil {
			return nil, err
		}
		targets = append(targets, id)
	}
	return &event.Liquidate{
		OpID:      opID,
		Caller:    caller,
		Asset:     j.Asset,
		Targets:   targets,
		Sequence:  j.Sequence,
		Timestamp: j.Timestamp,
	}, nil
}

type liquidateRiskiestJSON struct {
	OpID      string `json:"op_id"`
	Caller    string `json:"caller"`
	Asset     string `json:"asset"`
	MaxTroves int32  `json:"max_troves"`
	Sequence  int64  `json:"sequence"`
	Timestamp int64  `json:"timestamp"`
}

func parseLiquidateRiskiest(data []byte) (*event.LiquidateRiskiest, error) {
	var j liquidateRiskiestJSON
	if err := json.Unmarshal(data, &j); err != nil {
		return nil, fmt.Errorf("parse LiquidateRiskiest: %w", err)
	}
	opID, err := parseUUID(j.OpID, "op_id")
	if err != nil {
		return nil, err
	}
	caller, err := parseUUID(j.Caller, "caller")
	if err != nil {
		return nil, err
	}
	return &event.LiquidateRiskiest{
		OpID:      opID,
		Caller:    caller,
		Asset:     j.Asset,
		MaxTroves: j.MaxTroves,
		Sequence:  j.Sequence,
		Timestamp: j.Timestamp,
	}, nil
}

type redeemJSON struct {
	OpID            string `json:"op_id"`
	Redeemer        string `json:"redeemer"`
	Asset           string `json:"asset"`
	Amount          string `json:"amount"`
	MaxIterations   int32  `json:"max_iterations"`
	PartialNICR     string `json:"partial_nicr,omitempty"`
	PartialPrevHint string `json:"partial_prev_hint,omitempty"`
	PartialNextHint string `json:"partial_next_hint,omitempty"`
	Sequence        int64  `json:"sequence"`
	Timestamp       int64  `json:"timestamp"`
}

func parseRedeem(data []byte) (*event.Redeem, error) {
	var j redeemJSON
	if err := json.Unmarshal(data, &j); err != nil {
		return nil, fmt.Errorf("parse Redeem: %w", err)
	}
	opID, err := parseUUID(j.OpID, "op_id")
	if err != nil {
		return nil, err
	}
	redeemer, err := parseUUID(j.Redeemer, "redeemer")
	if err != nil {
		return nil, err
	}
	amount, err := parseBig(j.Amount, "amount")
	if err != nil {
		return nil, err
	}
	var partialNICR *big.Int
	if j.PartialNICR != "" {
		if partialNICR, err = parseBig(j.PartialNICR, "partial_nicr"); err != nil {
			return nil, err
		}
	}
	prevHint, err := parseHint(j.PartialPrevHint, "partial_prev_hint")
	if err != nil {
		return nil, err
	}
	nextHint, err := parseHint(j.PartialNextHint, "partial_next_hint")
	if err != nil {
		return nil, err
	}
	return &event.Redeem{
		OpID:            opID,
		Redeemer:        redeemer,
		Asset:           j.Asset,
		Amount:          amount,
		MaxIterations:   j.MaxIterations,
		PartialNICR:     partialNICR,
		PartialPrevHint: prevHint,
		PartialNextHint: nextHint,
		Sequence:        j.Sequence,
		Timestamp:       j.Timestamp,
	}, nil
}

type stabilityJSON struct {
	OpID      string `json:"op_id"`
	Depositor string `json:"depositor"`
	Asset     string `json:"asset"`
	Amount    string `json:"amount"`
	Sequence  int64  `json:"sequence"`
	Timestamp int64  `json:"timestamp"`
}

func parseStabilityProvide(data []byte) (*event.StabilityProvide, error) {
	var j stabilityJSON
	if err := json.Unmarshal(data, &j); err != nil {
		return nil, fmt.Errorf("parse StabilityProvide: %w", err)
	}
	opID, err := parseUUID(j.OpID, "op_id")
	if err != nil {
		return nil, err
	}
	depositor, err := parseUUID(j.Depositor, "depositor")
	if err != nil {
		return nil, err
	}
	amount, err := parseBig(j.Amount, "amount")
	if err != nil {
		return nil, err
	}
	return &event.StabilityProvide{
		OpID:      opID,
		Depositor: depositor,
		Asset:     j.Asset,
		Amount:    amount,
		Sequence:  j.Sequence,
		Timestamp: j.Timestamp,
	}, nil
}

func parseStabilityWithdraw(data []byte) (*event.StabilityWithdraw, error) {
	var j stabilityJSON
	if err := json.Unmarshal(data, &j); err != nil {
		return nil, fmt.Errorf("parse StabilityWithdraw: %w", err)
	}
	opID, err := parseUUID(j.OpID, "op_id")
	if err != nil {
		return nil, err
	}
	depositor, err := parseUUID(j.Depositor, "depositor")
	if err != nil {
		return nil, err
	}
	amount, err := parseBig(j.Amount, "amount")
	if err != nil {
		return nil, err
	}
	return &event.StabilityWithdraw{
		OpID:      opID,
		Depositor: depositor,
		Asset:     j.Asset,
		Amount:    amount,
		Sequence:  j.Sequence,
		Timestamp: j.Timestamp,
	}, nil
}

type claimJSON struct {
	OpID      string `json:"op_id"`
	Owner     string `json:"owner"`
	Asset     string `json:"asset"`
	Sequence  int64  `json:"sequence"`
	Timestamp int64  `json:"timestamp"`
}

func parseSurplusClaim(data []byte) (*event.SurplusClaim, error) {
	var j claimJSON
	if err := json.Unmarshal(data, &j); err != nil {
		return nil, fmt.Errorf("parse SurplusClaim: %w", err)
	}
	opID, err := parseUUID(j.OpID, "op_id")
	if err != nil {
		return nil, err
	}
	owner, err := parseUUID(j.Owner, "owner")
	if err != nil {
		return nil, err
	}
	return &event.SurplusClaim{
		OpID:      opID,
		Owner:     owner,
		Asset:     j.Asset,
		Sequence:  j.Sequence,
		Timestamp: j.Timestamp,
	}, nil
}

func parseRewardClaim(data []byte) (*event.RewardClaim, error) {
	var j claimJSON
	if err := json.Unmarshal(data, &j); err != nil {
		return nil, fmt.Errorf("parse RewardClaim: %w", err)
	}
	opID, err := parseUUID(j.OpID, "op_id")
	if err != nil {
		return nil, err
	}
	owner, err := parseUUID(j.Owner, "owner")
	if err != nil {
		return nil, err
	}
	return &event.RewardClaim{
		OpID:      opID,
		Owner:     owner,
		Asset:     j.Asset,
		Sequence:  j.Sequence,
		Timestamp: j.Timestamp,
	}, nil
}

type flashMintJSON struct {
	OpID      string `json:"op_id"`
	Borrower  string `json:"borrower"`
	Amount    string `json:"amount"`
	Fee       string `json:"fee"`
	Sequence  int64  `json:"sequence"`
	Timestamp int64  `json:"timestamp"`
}

func parseFlashMint(data []byte) (*event.FlashMint, error) {
	var j flashMintJSON
	if err := json.Unmarshal(data, &j); err != nil {
		return nil, fmt.Errorf("parse FlashMint: %w", err)
	}
	opID, err := parseUUID(j.OpID, "op_id")
	if err != nil {
		return nil, err
	}
	borrower, err := parseUUID(j.Borrower, "borrower")
	if err != nil {
		return nil, err
	}
	amount, err := parseBig(j.Amount, "amount")
	if err != nil {
		return nil, err
	}
	fee, err := parseBig(j.Fee, "fee")
	if err != nil {
		return nil, err
	}
	return &event.FlashMint{
		OpID:      opID,
		Borrower:  borrower,
		Amount:    amount,
		Fee:       fee,
		Sequence:  j.Sequence,
		Timestamp: j.Timestamp,
	}, nil
}
