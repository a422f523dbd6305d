package event

import (
	"fmt"
	"math/big"
)

// AssetParamUpdate represents an update to a collateral asset's risk
// parameters. When received, the core swaps the in-memory params; open
// troves are re-checked lazily on their next touch.
type AssetParamUpdate struct {
	Asset                   string
	Decimals                int32
	MCR                     *big.Int // Fixed-point 1e18
	CCR                     *big.Int // Fixed-point 1e18
	MinNetDebt              *big.Int
	GasCompensation         *big.Int
	CollateralCap           *big.Int // 0 disables the cap
	LiquidationBonusDivisor int64
	BorrowFeeFloor          *big.Int
	RedemptionFeeFloor      *big.Int
	ReserveFactor           *big.Int
	InterestRatePerSecond   *big.Int
	IssuanceRatePerSecond   *big.Int
	RedemptionHintTolerance *big.Int
	EffectiveSeq            int64 // Sequence at which params take effect
	Sequence                int64 // Source sequence
	Timestamp               int64 // Epoch seconds (versioned input)
}

func (a *AssetParamUpdate) IdempotencyKey() string {
	return fmt.Sprintf("asset_param:%s:%d", a.Asset, a.EffectiveSeq)
}

func (a *AssetParamUpdate) EventType() EventType {
	return EventTypeAssetParamUpdate
}

func (a *AssetParamUpdate) AssetID() *string {
	s := a.Asset
	return &s
}

func (a *AssetParamUpdate) SourceSequence() int64 {
	return a.Sequence
}
