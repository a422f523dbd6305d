package event

import (
	"math/big"

	"github.com/google/uuid"
)

// Redeem represents a stable-for-collateral redemption request. The
// partial hints come from an off-core preview; a stale hint cancels
// only the final partial step.
type Redeem struct {
	OpID            uuid.UUID
	Redeemer        uuid.UUID
	Asset           string
	Amount          *big.Int // Stable to redeem, fixed-point 1e18
	MaxIterations   int32    // 0 means unbounded
	PartialNICR     *big.Int
	PartialPrevHint uuid.UUID
	PartialNextHint uuid.UUID
	Sequence        int64
	Timestamp       int64
}

func (r *Redeem) IdempotencyKey() string {
	return r.OpID.String()
}

func (r *Redeem) EventType() EventType {
	return EventTypeRedeem
}

func (r *Redeem) AssetID() *string {
	s := r.Asset
	return &s
}

func (r *Redeem) SourceSequence() int64 {
	return r.Sequence
}
