package ledger

import (
	"fmt"
	"math/big"

	"github.com/google/uuid"

	"stablecore/internal/engine"
	"stablecore/internal/event"
	"stablecore/internal/state"
)

// JournalGenerator creates balanced journal batches from applied
// operations. Every stable token enters and leaves through the mint
// boundary; every collateral token through the collateral bridge, so
// the ledger stays zero-sum per asset.
type JournalGenerator struct {
	sequence       int64
	balanceTracker *BalanceTracker // Reference for pre-checks
}

func NewJournalGenerator(startSequence int64, tracker *BalanceTracker) *JournalGenerator {
	return &JournalGenerator{
		sequence:       startSequence,
		balanceTracker: tracker,
	}
}

func (jg *JournalGenerator) newBatch(eventRef string, timestamp int64) *Batch {
	return &Batch{
		BatchID:   uuid.New(),
		EventRef:  eventRef,
		Sequence:  jg.sequence,
		Timestamp: timestamp,
		Journals:  make([]Journal, 0, 4),
	}
}

// add appends one transfer leg. Nil and zero amounts are skipped so
// callers can pass optional legs unconditionally.
func (jg *JournalGenerator) add(b *Batch, debit, credit AccountKey, assetID AssetID, amount *big.Int, jt JournalType) {
	if amount == nil || amount.Sign() == 0 {
		return
	}
	b.Journals = append(b.Journals, Journal{
		JournalID:     uuid.New(),
		BatchID:       b.BatchID,
		EventRef:      b.EventRef,
		Sequence:      b.Sequence,
		DebitAccount:  debit,
		CreditAccount: credit,
		AssetID:       assetID,
		Amount:        new(big.Int).Set(amount),
		JournalType:   jt,
		Timestamp:     b.Timestamp,
	})
}

// GenerateTroveOpen records an open: collateral locks into the active
// pool, net debt is minted to the borrower, the borrow fee moves on to
// the staking and reserve sinks, and gas compensation is escrowed.
func (jg *JournalGenerator) GenerateTroveOpen(
	evt *event.TroveOpen,
	gasComp, feeToStaking, feeToReserve *big.Int,
	collAssetID AssetID,
) (*Batch, error) {
	batch := jg.newBatch(evt.IdempotencyKey(), evt.Timestamp)

	jg.add(batch,
		NewSystemAccountKey(evt.Asset, SubTypeSystemActivePool, collAssetID),
		NewExternalAccountKey(SubTypeExternalCollateral, collAssetID),
		collAssetID, evt.Coll, JournalTypeCollateralDeposit)

	userStable := NewUserAccountKey(evt.Owner, SubTypeStable, AssetIDStable)
	jg.add(batch,
		userStable,
		NewExternalAccountKey(SubTypeExternalMint, AssetIDStable),
		AssetIDStable, evt.NetDebt, JournalTypeStableMint)

	jg.add(batch,
		NewSystemAccountKey(evt.Asset, SubTypeSystemStakingSink, AssetIDStable),
		userStable,
		AssetIDStable, feeToStaking, JournalTypeBorrowFee)
	jg.add(batch,
		NewSystemAccountKey(evt.Asset, SubTypeSystemReserveSink, AssetIDStable),
		userStable,
		AssetIDStable, feeToReserve, JournalTypeBorrowFee)

	jg.add(batch,
		NewSystemAccountKey(evt.Asset, SubTypeSystemGasPool, AssetIDStable),
		NewExternalAccountKey(SubTypeExternalMint, AssetIDStable),
		AssetIDStable, gasComp, JournalTypeGasCompMint)

	jg.sequence++
	return batch, nil
}

// GenerateTroveAdjust records a collateral and/or debt change. Debt
// repayments are pre-checked against the borrower's stable balance.
func (jg *JournalGenerator) GenerateTroveAdjust(
	evt *event.TroveAdjust,
	feeToStaking, feeToReserve *big.Int,
	collAssetID AssetID,
) (*Batch, error) {
	batch := jg.newBatch(evt.IdempotencyKey(), evt.Timestamp)
	userStable := NewUserAccountKey(evt.Owner, SubTypeStable, AssetIDStable)
	activePool := NewSystemAccountKey(evt.Asset, SubTypeSystemActivePool, collAssetID)
	bridge := NewExternalAccountKey(SubTypeExternalCollateral, collAssetID)
	mint := NewExternalAccountKey(SubTypeExternalMint, AssetIDStable)

	if evt.CollDelta != nil {
		switch evt.CollDelta.Sign() {
		case 1:
			jg.add(batch, activePool, bridge, collAssetID, evt.CollDelta, JournalTypeCollateralDeposit)
		case -1:
			jg.add(batch, bridge, activePool, collAssetID, new(big.Int).Neg(evt.CollDelta), JournalTypeCollateralWithdraw)
		}
	}

	if evt.DebtDelta != nil {
		switch evt.DebtDelta.Sign() {
		case 1:
			jg.add(batch, userStable, mint, AssetIDStable, evt.DebtDelta, JournalTypeStableMint)
			jg.add(batch, NewSystemAccountKey(evt.Asset, SubTypeSystemStakingSink, AssetIDStable), userStable,
				AssetIDStable, feeToStaking, JournalTypeBorrowFee)
			jg.add(batch, NewSystemAccountKey(evt.Asset, SubTypeSystemReserveSink, AssetIDStable), userStable,
				AssetIDStable, feeToReserve, JournalTypeBorrowFee)
		case -1:
			repay := new(big.Int).Neg(evt.DebtDelta)
			if err := jg.balanceTracker.ValidateSufficient(userStable, repay); err != nil {
				return nil, fmt.Errorf("repay pre-check failed: %w", err)
			}
			jg.add(batch, mint, userStable, AssetIDStable, repay, JournalTypeStableBurn)
		}
	}

	if len(batch.Journals) == 0 {
		return nil, fmt.Errorf("adjust %s moves nothing", evt.OpID)
	}

	jg.sequence++
	return batch, nil
}

// GenerateTroveClose records a voluntary close: the borrower burns the
// remaining net debt, the gas escrow is burned, and the collateral
// leaves the active pool.
func (jg *JournalGenerator) GenerateTroveClose(
	evt *event.TroveClose,
	res *state.CloseResult,
	collAssetID AssetID,
) (*Batch, error) {
	userStable := NewUserAccountKey(evt.Owner, SubTypeStable, AssetIDStable)
	if err := jg.balanceTracker.ValidateSufficient(userStable, res.NetDebtRepaid); err != nil {
		return nil, fmt.Errorf("close pre-check failed: %w", err)
	}

	batch := jg.newBatch(evt.IdempotencyKey(), evt.Timestamp)
	mint := NewExternalAccountKey(SubTypeExternalMint, AssetIDStable)

	jg.add(batch, mint, userStable, AssetIDStable, res.NetDebtRepaid, JournalTypeStableBurn)
	jg.add(batch, mint,
		NewSystemAccountKey(evt.Asset, SubTypeSystemGasPool, AssetIDStable),
		AssetIDStable, res.GasCompRefund, JournalTypeGasCompBurn)
	jg.add(batch,
		NewExternalAccountKey(SubTypeExternalCollateral, collAssetID),
		NewSystemAccountKey(evt.Asset, SubTypeSystemActivePool, collAssetID),
		collAssetID, res.Coll, JournalTypeCollateralWithdraw)

	jg.sequence++
	return batch, nil
}

// GenerateLiquidation records the aggregate movements of a liquidation
// batch. Redistributed debt and collateral stay inside the active pool
// and produce no journal.
func (jg *JournalGenerator) GenerateLiquidation(
	eventRef string,
	caller uuid.UUID,
	res *engine.BatchResult,
	collAssetID AssetID,
	timestamp int64,
) (*Batch, error) {
	batch := jg.newBatch(eventRef, timestamp)
	activePool := NewSystemAccountKey(res.Asset, SubTypeSystemActivePool, collAssetID)
	stabilityStable := NewSystemAccountKey(res.Asset, SubTypeSystemStabilityPool, AssetIDStable)
	stabilityColl := NewSystemAccountKey(res.Asset, SubTypeSystemStabilityPool, collAssetID)

	jg.add(batch,
		NewExternalAccountKey(SubTypeExternalMint, AssetIDStable),
		stabilityStable,
		AssetIDStable, res.TotalDebtOffset, JournalTypeStableBurn)

	jg.add(batch, stabilityColl, activePool, collAssetID, res.TotalCollToPool, JournalTypeLiquidationTransfer)

	jg.add(batch,
		NewUserAccountKey(caller, SubTypeCollateral, collAssetID),
		activePool,
		collAssetID, res.TotalCollBonus, JournalTypeLiquidationBonus)

	jg.add(batch,
		NewSystemAccountKey(res.Asset, SubTypeSystemSurplusPool, collAssetID),
		activePool,
		collAssetID, res.TotalCollSurplus, JournalTypeSurplusCredit)

	jg.add(batch,
		NewUserAccountKey(caller, SubTypeStable, AssetIDStable),
		NewSystemAccountKey(res.Asset, SubTypeSystemGasPool, AssetIDStable),
		AssetIDStable, res.TotalGasComp, JournalTypeGasCompPayout)

	jg.sequence++
	return batch, nil
}

// GenerateRedemption records a redemption walk: the redeemer's stable
// burns, gas escrow of cleared troves burns, drawn collateral goes to
// the redeemer, and the fee lands on the sinks in collateral units.
func (jg *JournalGenerator) GenerateRedemption(
	evt *event.Redeem,
	res *engine.RedeemResult,
	collAssetID AssetID,
) (*Batch, error) {
	userStable := NewUserAccountKey(evt.Redeemer, SubTypeStable, AssetIDStable)
	if err := jg.balanceTracker.ValidateSufficient(userStable, res.Redeemed); err != nil {
		return nil, fmt.Errorf("redeem pre-check failed: %w", err)
	}

	batch := jg.newBatch(evt.IdempotencyKey(), evt.Timestamp)
	mint := NewExternalAccountKey(SubTypeExternalMint, AssetIDStable)
	activePool := NewSystemAccountKey(res.Asset, SubTypeSystemActivePool, collAssetID)

	jg.add(batch, mint, userStable, AssetIDStable, res.Redeemed, JournalTypeStableBurn)
	jg.add(batch, mint,
		NewSystemAccountKey(res.Asset, SubTypeSystemGasPool, AssetIDStable),
		AssetIDStable, res.GasCompBurned, JournalTypeGasCompBurn)

	jg.add(batch,
		NewUserAccountKey(evt.Redeemer, SubTypeCollateral, collAssetID),
		activePool,
		collAssetID, res.CollToRedeemer, JournalTypeRedemptionTransfer)
	jg.add(batch,
		NewSystemAccountKey(res.Asset, SubTypeSystemStakingSink, collAssetID),
		activePool,
		collAssetID, res.FeeToStaking, JournalTypeRedemptionFee)
	jg.add(batch,
		NewSystemAccountKey(res.Asset, SubTypeSystemReserveSink, collAssetID),
		activePool,
		collAssetID, res.FeeToReserve, JournalTypeRedemptionFee)

	jg.sequence++
	return batch, nil
}

// GenerateStabilityProvide records a pool top-up plus the pending
// gains the compounding pays out.
func (jg *JournalGenerator) GenerateStabilityProvide(
	evt *event.StabilityProvide,
	gains *state.PoolGains,
	collAssetID AssetID,
) (*Batch, error) {
	userStable := NewUserAccountKey(evt.Depositor, SubTypeStable, AssetIDStable)
	if err := jg.balanceTracker.ValidateSufficient(userStable, evt.Amount); err != nil {
		return nil, fmt.Errorf("provide pre-check failed: %w", err)
	}

	batch := jg.newBatch(evt.IdempotencyKey(), evt.Timestamp)

	jg.add(batch,
		NewSystemAccountKey(evt.Asset, SubTypeSystemStabilityPool, AssetIDStable),
		userStable,
		AssetIDStable, evt.Amount, JournalTypeStabilityProvide)

	jg.addPoolGains(batch, evt.Asset, evt.Depositor, gains, collAssetID)

	jg.sequence++
	return batch, nil
}

// GenerateStabilityWithdraw records a pool withdrawal plus gains.
func (jg *JournalGenerator) GenerateStabilityWithdraw(
	evt *event.StabilityWithdraw,
	gains *state.PoolGains,
	collAssetID AssetID,
) (*Batch, error) {
	batch := jg.newBatch(evt.IdempotencyKey(), evt.Timestamp)

	jg.add(batch,
		NewUserAccountKey(evt.Depositor, SubTypeStable, AssetIDStable),
		NewSystemAccountKey(evt.Asset, SubTypeSystemStabilityPool, AssetIDStable),
		AssetIDStable, gains.Withdrawn, JournalTypeStabilityWithdraw)

	jg.addPoolGains(batch, evt.Asset, evt.Depositor, gains, collAssetID)

	if len(batch.Journals) == 0 {
		return nil, fmt.Errorf("withdraw %s moves nothing", evt.OpID)
	}

	jg.sequence++
	return batch, nil
}

func (jg *JournalGenerator) addPoolGains(batch *Batch, asset string, depositor uuid.UUID, gains *state.PoolGains, collAssetID AssetID) {
	if gains == nil {
		return
	}
	jg.add(batch,
		NewUserAccountKey(depositor, SubTypeCollateral, collAssetID),
		NewSystemAccountKey(asset, SubTypeSystemStabilityPool, collAssetID),
		collAssetID, gains.CollGain, JournalTypeStabilityGain)
	jg.add(batch,
		NewUserAccountKey(depositor, SubTypeReward, AssetIDReward),
		NewExternalAccountKey(SubTypeExternalReward, AssetIDReward),
		AssetIDReward, gains.RewardGain, JournalTypeRewardIssue)
}

// GenerateSurplusClaim records a borrower draining their surplus.
func (jg *JournalGenerator) GenerateSurplusClaim(
	evt *event.SurplusClaim,
	amount *big.Int,
	collAssetID AssetID,
) (*Batch, error) {
	batch := jg.newBatch(evt.IdempotencyKey(), evt.Timestamp)

	jg.add(batch,
		NewUserAccountKey(evt.Owner, SubTypeCollateral, collAssetID),
		NewSystemAccountKey(evt.Asset, SubTypeSystemSurplusPool, collAssetID),
		collAssetID, amount, JournalTypeSurplusClaim)

	if len(batch.Journals) == 0 {
		return nil, fmt.Errorf("surplus claim %s moves nothing", evt.OpID)
	}

	jg.sequence++
	return batch, nil
}

// GenerateRewardClaim records a borrower claiming accrued liquidity
// rewards. Reward tokens enter through the issuance boundary.
func (jg *JournalGenerator) GenerateRewardClaim(
	evt *event.RewardClaim,
	amount *big.Int,
) (*Batch, error) {
	batch := jg.newBatch(evt.IdempotencyKey(), evt.Timestamp)

	jg.add(batch,
		NewUserAccountKey(evt.Owner, SubTypeReward, AssetIDReward),
		NewExternalAccountKey(SubTypeExternalReward, AssetIDReward),
		AssetIDReward, amount, JournalTypeRewardClaim)

	if len(batch.Journals) == 0 {
		return nil, fmt.Errorf("reward claim %s moves nothing", evt.OpID)
	}

	jg.sequence++
	return batch, nil
}

// GenerateFlashMint records a mint-and-burn pair plus the fee. Supply
// is unchanged after the batch applies; only the fee moves.
func (jg *JournalGenerator) GenerateFlashMint(evt *event.FlashMint) (*Batch, error) {
	batch := jg.newBatch(evt.IdempotencyKey(), evt.Timestamp)
	userStable := NewUserAccountKey(evt.Borrower, SubTypeStable, AssetIDStable)
	mint := NewExternalAccountKey(SubTypeExternalMint, AssetIDStable)

	jg.add(batch, userStable, mint, AssetIDStable, evt.Amount, JournalTypeFlashMint)
	jg.add(batch, mint, userStable, AssetIDStable, evt.Amount, JournalTypeFlashBurn)
	jg.add(batch,
		NewSystemAccountKey("flash", SubTypeSystemReserveSink, AssetIDStable),
		userStable,
		AssetIDStable, evt.Fee, JournalTypeAdjustment)

	if len(batch.Journals) == 0 {
		return nil, fmt.Errorf("flash mint %s moves nothing", evt.OpID)
	}

	jg.sequence++
	return batch, nil
}

// Sequence returns the next batch sequence to be assigned.
func (jg *JournalGenerator) Sequence() int64 {
	return jg.sequence
}

// SetSequence aligns the generator with the core's global sequence.
func (jg *JournalGenerator) SetSequence(seq int64) {
	jg.sequence = seq
}
