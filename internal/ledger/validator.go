package ledger

import (
	"fmt"
	"math/big"

	"github.com/google/uuid"
)

// InvariantValidator checks ledger invariants after each batch
type InvariantValidator struct {
	tracker *BalanceTracker
}

func NewInvariantValidator(tracker *BalanceTracker) *InvariantValidator {
	return &InvariantValidator{
		tracker: tracker,
	}
}

// ValidateBatchBalance verifies a batch is well-formed before it applies
func (v *InvariantValidator) ValidateBatchBalance(batch *Batch) error {
	return batch.Validate()
}

// ValidateGlobalBalance verifies the ledger is zero-sum per asset
func (v *InvariantValidator) ValidateGlobalBalance() error {
	totals := v.tracker.ComputeGlobalBalance()

	for assetID, total := range totals {
		if total.Sign() != 0 {
			assetName, _ := GetAssetName(assetID)
			return fmt.Errorf("global balance for %s is non-zero: %s", assetName, total)
		}
	}

	return nil
}

// ValidateUserStableNonNegative checks a user never owes stable
func (v *InvariantValidator) ValidateUserStableNonNegative(userID uuid.UUID) error {
	return v.tracker.ValidateNonNegative(NewUserAccountKey(userID, SubTypeStable, AssetIDStable))
}

// ValidateSystemPoolsNonNegative checks no protocol pool went negative
// for the given collateral asset.
func (v *InvariantValidator) ValidateSystemPoolsNonNegative(asset string, collAssetID AssetID) error {
	checks := []AccountKey{
		NewSystemAccountKey(asset, SubTypeSystemActivePool, collAssetID),
		NewSystemAccountKey(asset, SubTypeSystemStabilityPool, collAssetID),
		NewSystemAccountKey(asset, SubTypeSystemStabilityPool, AssetIDStable),
		NewSystemAccountKey(asset, SubTypeSystemSurplusPool, collAssetID),
		NewSystemAccountKey(asset, SubTypeSystemGasPool, AssetIDStable),
	}
	for _, key := range checks {
		if err := v.tracker.ValidateNonNegative(key); err != nil {
			return err
		}
	}
	return nil
}

// ValidateGasPoolMatches cross-checks the gas escrow account against
// the trove ledger's aggregate.
func (v *InvariantValidator) ValidateGasPoolMatches(asset string, want *big.Int) error {
	got := v.tracker.GetSystemBalance(asset, SubTypeSystemGasPool, AssetIDStable)
	if got.Cmp(want) != 0 {
		return fmt.Errorf("gas pool for %s diverged: ledger=%s troves=%s", asset, got, want)
	}
	return nil
}

// ValidateStabilityPoolMatches cross-checks the stability pool's
// stable account against the pool tracker's total deposits.
func (v *InvariantValidator) ValidateStabilityPoolMatches(asset string, want *big.Int) error {
	got := v.tracker.GetSystemBalance(asset, SubTypeSystemStabilityPool, AssetIDStable)
	if got.Cmp(want) != 0 {
		return fmt.Errorf("stability pool for %s diverged: ledger=%s pool=%s", asset, got, want)
	}
	return nil
}
