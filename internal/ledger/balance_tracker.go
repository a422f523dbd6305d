package ledger

import (
	"fmt"
	"math/big"

	"github.com/google/uuid"
)

// BalanceTracker maintains in-memory account balances
type BalanceTracker struct {
	balances map[AccountKey]*big.Int
}

func NewBalanceTracker() *BalanceTracker {
	return &BalanceTracker{
		balances: make(map[AccountKey]*big.Int),
	}
}

// ApplyJournal applies a single journal entry to balances
func (bt *BalanceTracker) ApplyJournal(j Journal) {
	debit := bt.mut(j.DebitAccount)
	debit.Add(debit, j.Amount)
	credit := bt.mut(j.CreditAccount)
	credit.Sub(credit, j.Amount)
}

// ApplyBatch applies all journals in a batch
func (bt *BalanceTracker) ApplyBatch(batch *Batch) error {
	if err := batch.Validate(); err != nil {
		return fmt.Errorf("invalid batch: %w", err)
	}

	for _, j := range batch.Journals {
		bt.ApplyJournal(j)
	}

	return nil
}

func (bt *BalanceTracker) mut(key AccountKey) *big.Int {
	bal, ok := bt.balances[key]
	if !ok {
		bal = new(big.Int)
		bt.balances[key] = bal
	}
	return bal
}

// GetBalance returns the current balance for an account
func (bt *BalanceTracker) GetBalance(key AccountKey) *big.Int {
	if bal, ok := bt.balances[key]; ok {
		return new(big.Int).Set(bal)
	}
	return new(big.Int)
}

// GetUserStable returns a user's stable token balance
func (bt *BalanceTracker) GetUserStable(userID uuid.UUID) *big.Int {
	return bt.GetBalance(NewUserAccountKey(userID, SubTypeStable, AssetIDStable))
}

// GetUserCollateral returns a user's free collateral balance
func (bt *BalanceTracker) GetUserCollateral(userID uuid.UUID, assetID AssetID) *big.Int {
	return bt.GetBalance(NewUserAccountKey(userID, SubTypeCollateral, assetID))
}

// GetUserReward returns a user's claimed reward token balance
func (bt *BalanceTracker) GetUserReward(userID uuid.UUID) *big.Int {
	return bt.GetBalance(NewUserAccountKey(userID, SubTypeReward, AssetIDReward))
}

// GetSystemBalance returns a protocol pool balance
func (bt *BalanceTracker) GetSystemBalance(name string, subType AccountSubType, assetID AssetID) *big.Int {
	return bt.GetBalance(NewSystemAccountKey(name, subType, assetID))
}

// StableSupply returns the circulating stable supply: everything the
// mint boundary has issued and not yet taken back.
func (bt *BalanceTracker) StableSupply() *big.Int {
	minted := bt.GetBalance(NewExternalAccountKey(SubTypeExternalMint, AssetIDStable))
	return minted.Neg(minted)
}

// ValidateNonNegative checks that a specific account balance is >= 0
func (bt *BalanceTracker) ValidateNonNegative(key AccountKey) error {
	if bal, ok := bt.balances[key]; ok && bal.Sign() < 0 {
		return fmt.Errorf("account %s has negative balance: %s", key.AccountPath(), bal)
	}
	return nil
}

// ValidateSufficient checks the account can cover a transfer out
func (bt *BalanceTracker) ValidateSufficient(key AccountKey, required *big.Int) error {
	bal := bt.GetBalance(key)
	if bal.Cmp(required) < 0 {
		return fmt.Errorf("insufficient balance on %s: have=%s, need=%s", key.AccountPath(), bal, required)
	}
	return nil
}

// ComputeGlobalBalance sums all account balances per asset (should be
// 0 for every asset in a zero-sum ledger)
func (bt *BalanceTracker) ComputeGlobalBalance() map[AssetID]*big.Int {
	totals := make(map[AssetID]*big.Int)

	for key, balance := range bt.balances {
		tot, ok := totals[key.AssetID]
		if !ok {
			tot = new(big.Int)
			totals[key.AssetID] = tot
		}
		tot.Add(tot, balance)
	}

	return totals
}

// SetBalance overwrites an account balance during snapshot restore.
func (bt *BalanceTracker) SetBalance(key AccountKey, balance *big.Int) {
	bt.balances[key] = new(big.Int).Set(balance)
}

// Snapshot returns a copy of all balances (for state hashing)
func (bt *BalanceTracker) Snapshot() map[AccountKey]*big.Int {
	snapshot := make(map[AccountKey]*big.Int, len(bt.balances))
	for k, v := range bt.balances {
		snapshot[k] = new(big.Int).Set(v)
	}
	return snapshot
}
