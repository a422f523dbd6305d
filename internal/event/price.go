package event

import (
	"fmt"
	"math/big"
)

// PriceUpdate represents a collateral price observation from the feed
type PriceUpdate struct {
	Asset          string
	Price          *big.Int // Fixed-point 1e18, stable units per whole token
	PriceSequence  int64    // Monotonic per asset
	PriceTimestamp int64    // Epoch seconds (versioned input)
}

func (p *PriceUpdate) IdempotencyKey() string {
	return fmt.Sprintf("%s:price:%d", p.Asset, p.PriceSequence)
}

func (p *PriceUpdate) EventType() EventType {
	return EventTypePriceUpdate
}

func (p *PriceUpdate) AssetID() *string {
	s := p.Asset
	return &s
}

func (p *PriceUpdate) SourceSequence() int64 {
	return p.PriceSequence
}
