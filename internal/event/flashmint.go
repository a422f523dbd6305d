package event

import (
	"math/big"

	"github.com/google/uuid"
)

// FlashMint represents a same-event mint-and-burn of stable. The core
// verifies the fee and rejects reentrant mints; supply is unchanged
// after the event.
type FlashMint struct {
	OpID      uuid.UUID
	Borrower  uuid.UUID
	Amount    *big.Int // Stable minted, fixed-point 1e18
	Fee       *big.Int // Paid by the borrower on return
	Sequence  int64
	Timestamp int64
}

func (f *FlashMint) IdempotencyKey() string {
	return f.OpID.String()
}

func (f *FlashMint) EventType() EventType {
	return EventTypeFlashMint
}

func (f *FlashMint) AssetID() *string {
	return nil // Global event
}

func (f *FlashMint) SourceSequence() int64 {
	return f.Sequence
}
