package event

import (
	"github.com/google/uuid"
)

// SurplusClaim represents a borrower claiming collateral left over
// from a capped liquidation or a full redemption of their trove
type SurplusClaim struct {
	OpID      uuid.UUID
	Owner     uuid.UUID
	Asset     string
	Sequence  int64
	Timestamp int64
}

func (c *SurplusClaim) IdempotencyKey() string {
	return c.OpID.String()
}

func (c *SurplusClaim) EventType() EventType {
	return EventTypeSurplusClaim
}

func (c *SurplusClaim) AssetID() *string {
	s := c.Asset
	return &s
}

func (c *SurplusClaim) SourceSequence() int64 {
	return c.Sequence
}

// RewardClaim represents a borrower claiming accrued liquidity
// rewards against their trove stake
type RewardClaim struct {
	OpID      uuid.UUID
	Owner     uuid.UUID
	Asset     string
	Sequence  int64
	Timestamp int64
}

func (c *RewardClaim) IdempotencyKey() string {
	return c.OpID.String()
}

func (c *RewardClaim) EventType() EventType {
	return EventTypeRewardClaim
}

func (c *RewardClaim) AssetID() *string {
	s := c.Asset
	return &s
}

func (c *RewardClaim) SourceSequence() int64 {
	return c.Sequence
}
