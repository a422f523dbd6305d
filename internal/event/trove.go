package event

import (
	"math/big"

	"github.com/google/uuid"
)

// TroveOpen represents a borrower opening a collateralized position.
// Idempotency key: op_id (UUID from the gateway).
type TroveOpen struct {
	OpID      uuid.UUID // Idempotency key
	Owner     uuid.UUID
	Asset     string
	Coll      *big.Int // Fixed-point 1e18
	NetDebt   *big.Int // Stable drawn, before gas compensation
	PrevHint  uuid.UUID
	NextHint  uuid.UUID
	Sequence  int64 // Source sequence from the gateway
	Timestamp int64 // Epoch seconds (versioned input)
}

func (t *TroveOpen) IdempotencyKey() string {
	return t.OpID.String()
}

func (t *TroveOpen) EventType() EventType {
	return EventTypeTroveOpen
}

func (t *TroveOpen) AssetID() *string {
	s := t.Asset
	return &s
}

func (t *TroveOpen) SourceSequence() int64 {
	return t.Sequence
}

// TroveAdjust represents a collateral and/or debt change on an open
// trove. Deltas are signed; both zero is rejected by the core.
type TroveAdjust struct {
	OpID      uuid.UUID
	Owner     uuid.UUID
	Asset     string
	CollDelta *big.Int // Signed, fixed-point 1e18
	DebtDelta *big.Int // Signed net-debt change
	PrevHint  uuid.UUID
	NextHint  uuid.UUID
	Sequence  int64
	Timestamp int64
}

func (t *TroveAdjust) IdempotencyKey() string {
	return t.OpID.String()
}

func (t *TroveAdjust) EventType() EventType {
	return EventTypeTroveAdjust
}

func (t *TroveAdjust) AssetID() *string {
	s := t.Asset
	return &s
}

func (t *TroveAdjust) SourceSequence() int64 {
	return t.Sequence
}

// TroveClose represents a voluntary full repayment and close
type TroveClose struct {
	OpID      uuid.UUID
	Owner     uuid.UUID
	Asset     string
	Sequence  int64
	Timestamp int64
}

func (t *TroveClose) IdempotencyKey() string {
	return t.OpID.String()
}

func (t *TroveClose) EventType() EventType {
	return EventTypeTroveClose
}

func (t *TroveClose) AssetID() *string {
	s := t.Asset
	return &s
}

func (t *TroveClose) SourceSequence() int64 {
	return t.Sequence
}
