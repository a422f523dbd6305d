package event

import (
	"github.com/google/uuid"
)

// Liquidate represents a caller-supplied batch liquidation attempt.
// Targets above MCR are skipped, not rejected.
type Liquidate struct {
	OpID      uuid.UUID
	Caller    uuid.UUID // Receives gas compensation and the collateral bonus
	Asset     string
	Targets   []uuid.UUID
	Sequence  int64
	Timestamp int64
}

func (l *Liquidate) IdempotencyKey() string {
	return l.OpID.String()
}

func (l *Liquidate) EventType() EventType {
	return EventTypeLiquidate
}

func (l *Liquidate) AssetID() *string {
	s := l.Asset
	return &s
}

func (l *Liquidate) SourceSequence() int64 {
	return l.Sequence
}

// LiquidateRiskiest represents a sweep of up to MaxTroves troves from
// the riskiest end of the sorted list
type LiquidateRiskiest struct {
	OpID      uuid.UUID
	Caller    uuid.UUID
	Asset     string
	MaxTroves int32
	Sequence  int64
	Timestamp int64
}

func (l *LiquidateRiskiest) IdempotencyKey() string {
	return l.OpID.String()
}

func (l *LiquidateRiskiest) EventType() EventType {
	return EventTypeLiquidateRiskiest
}

func (l *LiquidateRiskiest) AssetID() *string {
	s := l.Asset
	return &s
}

func (l *LiquidateRiskiest) SourceSequence() int64 {
	return l.Sequence
}
