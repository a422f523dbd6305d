package event

import (
	"time"
)

// EventType discriminator for operation payloads
type EventType int32

const (
	EventTypeUnknown EventType = iota
	EventTypePriceUpdate
	EventTypeAssetParamUpdate
	EventTypeTroveOpen
	EventTypeTroveAdjust
	EventTypeTroveClose
	EventTypeLiquidate
	EventTypeLiquidateRiskiest
	EventTypeRedeem
	EventTypeStabilityProvide
	EventTypeStabilityWithdraw
	EventTypeSurplusClaim
	EventTypeRewardClaim
	EventTypeFlashMint
)

// EventEnvelope wraps every operation in the log
type EventEnvelope struct {
	// Global monotonic sequence assigned by core
	Sequence int64

	// Stable idempotency key from upstream
	IdempotencyKey string

	// Event type discriminator
	EventType EventType

	// Collateral asset context (nullable for global events)
	AssetID *string

	// Versioned input timestamp (NOT wall-clock)
	Timestamp time.Time

	// Upstream sequence for ordering validation
	SourceSequence int64

	// JSON-encoded event-specific data
	Payload []byte

	// SHA-256 of state AFTER applying this event
	StateHash [32]byte

	// Previous event's state hash (chain integrity)
	PrevHash [32]byte
}

// Event is the interface all operation payloads must implement
type Event interface {
	// IdempotencyKey returns the stable dedup key
	IdempotencyKey() string

	// EventType returns the discriminator
	EventType() EventType

	// AssetID returns the collateral asset context (nil for global events)
	AssetID() *string

	// SourceSequence returns upstream ordering key
	SourceSequence() int64
}

func (et EventType) String() string {
	switch et {
	case EventTypePriceUpdate:
		return "PriceUpdate"
	case EventTypeAssetParamUpdate:
		return "AssetParamUpdate"
	case EventTypeTroveOpen:
		return "TroveOpen"
	case EventTypeTroveAdjust:
		return "TroveAdjust"
	case EventTypeTroveClose:
		return "TroveClose"
	case EventTypeLiquidate:
		return "Liquidate"
	case EventTypeLiquidateRiskiest:
		return "LiquidateRiskiest"
	case EventTypeRedeem:
		return "Redeem"
	case EventTypeStabilityProvide:
		return "StabilityProvide"
	case EventTypeStabilityWithdraw:
		return "StabilityWithdraw"
	case EventTypeSurplusClaim:
		return "SurplusClaim"
	case EventTypeRewardClaim:
		return "RewardClaim"
	case EventTypeFlashMint:
		return "FlashMint"
	default:
		return "Unknown"
	}
}
