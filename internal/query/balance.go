package query

import (
	"github.com/google/uuid"
)

// BalanceResponse represents a user's holdings for API queries.
// Amounts come from the balance projection, not the in-memory
// tracker, so AsOfSequence reflects the projection watermark.
type BalanceResponse struct {
	UserID uuid.UUID `json:"user_id"`
	Asset  string    `json:"asset"`

	// Ledger balances (from journal entries)
	Stable     string `json:"stable"`     // Stable tokens held
	Collateral string `json:"collateral"` // Free collateral of this asset
	Reward     string `json:"reward"`     // Claimed reward tokens

	// Metadata
	AsOfSequence int64 `json:"as_of_sequence"` // Projection watermark
}
