package event

import (
	"math/big"

	"github.com/google/uuid"
)

// StabilityProvide represents a deposit into an asset's stability pool.
// Pending collateral and reward gains are paid out as a side effect.
type StabilityProvide struct {
	OpID      uuid.UUID
	Depositor uuid.UUID
	Asset     string
	Amount    *big.Int // Fixed-point 1e18
	Sequence  int64
	Timestamp int64
}

func (s *StabilityProvide) IdempotencyKey() string {
	return s.OpID.String()
}

func (s *StabilityProvide) EventType() EventType {
	return EventTypeStabilityProvide
}

func (s *StabilityProvide) AssetID() *string {
	a := s.Asset
	return &a
}

func (s *StabilityProvide) SourceSequence() int64 {
	return s.Sequence
}

// StabilityWithdraw represents a withdrawal from an asset's stability
// pool. Rejected while any trove in the asset sits below MCR.
type StabilityWithdraw struct {
	OpID      uuid.UUID
	Depositor uuid.UUID
	Asset     string
	Amount    *big.Int // Capped at the compounded deposit
	Sequence  int64
	Timestamp int64
}

func (s *StabilityWithdraw) IdempotencyKey() string {
	return s.OpID.String()
}

func (s *StabilityWithdraw) EventType() EventType {
	return EventTypeStabilityWithdraw
}

func (s *StabilityWithdraw) AssetID() *string {
	a := s.Asset
	return &a
}

func (s *StabilityWithdraw) SourceSequence() int64 {
	return s.Sequence
}
