package core

import (
	"errors"
	"fmt"
	"math/big"
	"sort"
	"time"

	"github.com/google/uuid"

	"stablecore/internal/engine"
	"stablecore/internal/event"
	"stablecore/internal/ledger"
	fp "stablecore/internal/math"
	"stablecore/internal/observability"
	"stablecore/internal/state"
)

var (
	ErrFlashMintActive = errors.New("core: flash mint already in progress")
	ErrFlashFeeTooLow  = errors.New("core: flash mint fee below required")
	ErrTroveBelowMCR   = errors.New("core: withdrawal blocked while a trove sits below MCR")
)

// Flash mints charge 0.05% of the minted amount.
var defaultFlashFeeRate = big.NewInt(500_000_000_000_000)

// DeterministicCore is the single-threaded operation processor. All
// state mutation happens here, in source order, with no wall-clock
// reads; timestamps are versioned inputs carried on the events.
type DeterministicCore struct {
	sequence          int64
	hasher            *StateHasher
	balanceTracker    *ledger.BalanceTracker
	journalGen        *ledger.JournalGenerator
	validator         *ledger.InvariantValidator
	troves            *state.TroveLedger
	pools             *state.StabilityPools
	surplus           *state.SurplusPool
	liquidation       *engine.LiquidationEngine
	redemption        *engine.RedemptionEngine
	feeModel          *engine.DecayingFeeModel
	priceBook         *engine.PriceBook
	issuance          *engine.StreamingIssuance
	idempotency       *IdempotencyChecker
	sequenceValidator *SequenceValidator
	metrics           *observability.Metrics

	// farmers mirror active-trove collateral per asset so a yield
	// adapter can put idle collateral to work. NullFarmer by default.
	farmers map[string]engine.Farmer

	flashFeeRate *big.Int
	flashActive  bool

	persistChan    chan<- CoreOutput
	projectionChan chan<- CoreOutput
}

// CoreOutput carries one processed event downstream. Event is the
// original payload so the persistence bridge can store it in a form
// the replay path can parse back.
type CoreOutput struct {
	Envelope   *event.EventEnvelope
	Event      event.Event
	Batch      *ledger.Batch
	StateDelta []byte
}

func NewDeterministicCore(
	startSequence int64,
	persistChan, projectionChan chan<- CoreOutput,
	dbChecker DBIdempotencyChecker,
	metrics *observability.Metrics,
) *DeterministicCore {
	balanceTracker := ledger.NewBalanceTracker()
	validator := ledger.NewInvariantValidator(balanceTracker)
	journalGen := ledger.NewJournalGenerator(startSequence, balanceTracker)
	issuance := engine.NewStreamingIssuance()
	troves := state.NewTroveLedger(issuance)
	pools := state.NewStabilityPools(issuance)
	surplus := state.NewSurplusPool()
	feeModel := engine.NewDecayingFeeModel()

	return &DeterministicCore{
		sequence:          startSequence,
		hasher:            NewStateHasher(),
		balanceTracker:    balanceTracker,
		journalGen:        journalGen,
		validator:         validator,
		troves:            troves,
		pools:             pools,
		surplus:           surplus,
		liquidation:       engine.NewLiquidationEngine(troves, pools, surplus),
		redemption:        engine.NewRedemptionEngine(troves, surplus, feeModel),
		feeModel:          feeModel,
		priceBook:         engine.NewPriceBook(),
		issuance:          issuance,
		idempotency:       NewIdempotencyChecker(1_000_000, dbChecker),
		sequenceValidator: NewSequenceValidator(),
		metrics:           metrics,
		farmers:           make(map[string]engine.Farmer),
		flashFeeRate:      new(big.Int).Set(defaultFlashFeeRate),
		persistChan:       persistChan,
		projectionChan:    projectionChan,
	}
}

// ConfigureAsset wires a collateral asset through every component:
// trove ledger, stability pool, fee model, reward issuance, and the
// journal asset registry.
func (c *DeterministicCore) ConfigureAsset(p *state.AssetParams, now int64) error {
	if err := c.troves.Configure(p); err != nil {
		return err
	}
	c.pools.Configure(p.Symbol)
	c.feeModel.Configure(p.Symbol, p.BorrowFeeFloor, p.RedemptionFeeFloor, now)
	c.issuance.SetRates(p.Symbol, p.IssuanceRatePerSecond, p.IssuanceRatePerSecond, now)
	if _, ok := c.farmers[p.Symbol]; !ok {
		c.farmers[p.Symbol] = engine.NewNullFarmer()
	}
	ledger.RegisterAsset(p.Symbol)
	return nil
}

// SetFarmer replaces an asset's yield adapter. Must be called before
// event processing starts; the default is a NullFarmer.
func (c *DeterministicCore) SetFarmer(asset string, f engine.Farmer) {
	c.farmers[asset] = f
}

// Farmer returns the yield adapter registered for an asset.
func (c *DeterministicCore) Farmer(asset string) (engine.Farmer, bool) {
	f, ok := c.farmers[asset]
	return f, ok
}

// farmDeposit hands newly locked trove collateral to the farmer.
func (c *DeterministicCore) farmDeposit(asset string, amount *big.Int) error {
	f, ok := c.farmers[asset]
	if !ok || amount == nil || amount.Sign() == 0 {
		return nil
	}
	return f.Deposit(asset, amount)
}

// farmRelease recalls collateral leaving the active troves for a user.
func (c *DeterministicCore) farmRelease(asset string, amount *big.Int) error {
	f, ok := c.farmers[asset]
	if !ok || amount == nil || amount.Sign() == 0 {
		return nil
	}
	return f.SendAsset(asset, amount)
}

// farmToPool recalls collateral seized into the stability pool.
func (c *DeterministicCore) farmToPool(asset string, amount *big.Int) error {
	f, ok := c.farmers[asset]
	if !ok || amount == nil || amount.Sign() == 0 {
		return nil
	}
	return f.SendAssetToPool(asset, amount)
}

// farmLiquidation mirrors a liquidation batch's collateral outflows.
// Redistributed collateral stays inside the active troves and so stays
// with the farmer.
func (c *DeterministicCore) farmLiquidation(res *engine.BatchResult) error {
	if err := c.farmToPool(res.Asset, res.TotalCollToPool); err != nil {
		return err
	}
	paidOut := new(big.Int).Add(res.TotalCollBonus, res.TotalCollSurplus)
	return c.farmRelease(res.Asset, paidOut)
}

// SetFlashFeeRate overrides the default flash mint fee rate.
func (c *DeterministicCore) SetFlashFeeRate(rate *big.Int) {
	c.flashFeeRate = new(big.Int).Set(rate)
}

// ProcessEvent is the main processing pipeline
func (c *DeterministicCore) ProcessEvent(evt event.Event) error {
	start := time.Now()
	eventType := evt.EventType().String()
	idempotencyKey := evt.IdempotencyKey()

	// Step 1: Idempotency check (two-tier)
	isDuplicate := c.idempotency.IsDuplicate(eventType, idempotencyKey)

	// Step 2: Sequence validation. Price feeds tolerate gaps; every
	// other partition must be strictly contiguous.
	partition := c.getPartition(evt)
	sourceSequence := evt.SourceSequence()

	if priceEvt, ok := evt.(*event.PriceUpdate); ok {
		if err := c.sequenceValidator.ValidatePriceSequence(priceEvt.Asset, priceEvt.PriceSequence); err != nil {
			return err
		}
	} else {
		if err := c.sequenceValidator.ValidateSequence(partition, sourceSequence, idempotencyKey, isDuplicate); err != nil {
			return fmt.Errorf("sequence validation failed: %w", err)
		}
	}

	if isDuplicate {
		if c.metrics != nil {
			c.metrics.CoreEventsRejected.WithLabelValues(eventType, "duplicate").Inc()
		}
		return nil
	}

	// Step 3: Dispatch. Every operation produces at most one balanced
	// journal batch; state-only events (price, params) produce none
	// but still get an envelope in the log.
	batch, err := c.dispatchEvent(evt)
	if err != nil {
		if c.metrics != nil {
			c.metrics.CoreEventsRejected.WithLabelValues(eventType, "rejected").Inc()
		}
		return fmt.Errorf("dispatch failed: %w", err)
	}

	// Step 4: Validate and apply
	if len(batch.Journals) > 0 {
		if err := c.validator.ValidateBatchBalance(batch); err != nil {
			panic(fmt.Sprintf("FATAL: unbalanced batch: %v", err))
		}
		if err := c.balanceTracker.ApplyBatch(batch); err != nil {
			return fmt.Errorf("apply batch failed: %w", err)
		}
	}

	// Step 5: State digest and hash chain
	stateDigest := c.computeStateDigest(batch, evt.AssetID())
	stateHash := c.hasher.ComputeHash(c.sequence, stateDigest)

	envelope := &event.EventEnvelope{
		Sequence:       c.sequence,
		IdempotencyKey: idempotencyKey,
		EventType:      evt.EventType(),
		AssetID:        evt.AssetID(),
		Timestamp:      c.getEventTimestamp(evt),
		SourceSequence: sourceSequence,
		StateHash:      stateHash,
		PrevHash:       c.hasher.GetPrevHash(),
	}

	output := CoreOutput{
		Envelope:   envelope,
		Event:      evt,
		Batch:      batch,
		StateDelta: stateDigest,
	}
	c.sequence++

	// Step 6: Post-checks
	if err := c.postCheckInvariants(evt); err != nil {
		panic(fmt.Sprintf("FATAL: invariant violated: %v", err))
	}

	// Step 7: Emit. Persistence is a blocking send (backpressure, no
	// event loss); projections are non-blocking with silent drop and
	// rebuild from the log when they fall behind.
	c.persistChan <- output

	select {
	case c.projectionChan <- output:
	default:
	}

	// Step 8: Mark as processed (add to LRU)
	c.idempotency.MarkProcessed(eventType, idempotencyKey)

	if c.metrics != nil {
		c.metrics.CoreEventsApplied.WithLabelValues(eventType).Inc()
		c.metrics.CoreEventDuration.WithLabelValues(eventType).Observe(time.Since(start).Seconds())
		c.metrics.CoreSequence.Set(float64(c.sequence))
	}

	return nil
}

// getPartition determines partition key for sequence validation
func (c *DeterministicCore) getPartition(evt event.Event) string {
	if assetID := evt.AssetID(); assetID != nil {
		return fmt.Sprintf("asset:%s", *assetID)
	}
	return "global"
}

// getEventTimestamp extracts the versioned timestamp. The core never
// calls time.Now() for event time.
func (c *DeterministicCore) getEventTimestamp(evt event.Event) time.Time {
	return time.Unix(c.eventNow(evt), 0).UTC()
}

// eventNow extracts the versioned epoch-seconds clock for an event.
func (c *DeterministicCore) eventNow(evt event.Event) int64 {
	switch e := evt.(type) {
	case *event.PriceUpdate:
		return e.PriceTimestamp
	case *event.AssetParamUpdate:
		return e.Timestamp
	case *event.TroveOpen:
		return e.Timestamp
	case *event.TroveAdjust:
		return e.Timestamp
	case *event.TroveClose:
		return e.Timestamp
	case *event.Liquidate:
		return e.Timestamp
	case *event.LiquidateRiskiest:
		return e.Timestamp
	case *event.Redeem:
		return e.Timestamp
	case *event.StabilityProvide:
		return e.Timestamp
	case *event.StabilityWithdraw:
		return e.Timestamp
	case *event.SurplusClaim:
		return e.Timestamp
	case *event.RewardClaim:
		return e.Timestamp
	case *event.FlashMint:
		return e.Timestamp
	default:
		panic(fmt.Sprintf("FATAL: eventNow called with unhandled event type %T — deterministic core cannot use wall-clock time", evt))
	}
}

func (c *DeterministicCore) dispatchEvent(evt event.Event) (*ledger.Batch, error) {
	switch e := evt.(type) {
	case *event.PriceUpdate:
		return c.handlePriceUpdate(e)
	case *event.AssetParamUpdate:
		return c.handleAssetParamUpdate(e)
	case *event.TroveOpen:
		return c.handleTroveOpen(e)
	case *event.TroveAdjust:
		return c.handleTroveAdjust(e)
	case *event.TroveClose:
		return c.handleTroveClose(e)
	case *event.Liquidate:
		return c.handleLiquidate(e)
	case *event.LiquidateRiskiest:
		return c.handleLiquidateRiskiest(e)
	case *event.Redeem:
		return c.handleRedeem(e)
	case *event.StabilityProvide:
		return c.handleStabilityProvide(e)
	case *event.StabilityWithdraw:
		return c.handleStabilityWithdraw(e)
	case *event.SurplusClaim:
		return c.handleSurplusClaim(e)
	case *event.RewardClaim:
		return c.handleRewardClaim(e)
	case *event.FlashMint:
		return c.handleFlashMint(e)
	default:
		return nil, fmt.Errorf("unknown event type: %T", evt)
	}
}

// emptyBatch carries an envelope-only event through the pipeline.
func emptyBatch(eventRef string, timestamp int64) *ledger.Batch {
	return &ledger.Batch{
		BatchID:   uuid.New(),
		EventRef:  eventRef,
		Timestamp: timestamp,
	}
}

func (c *DeterministicCore) handlePriceUpdate(evt *event.PriceUpdate) (*ledger.Batch, error) {
	err := c.priceBook.Update(evt.Asset, evt.Price, evt.PriceSequence, evt.PriceTimestamp)
	if err != nil && !errors.Is(err, engine.ErrStalePriceSeq) {
		return nil, err
	}
	// Stale observations still get an envelope; they mutate nothing.
	return emptyBatch(evt.IdempotencyKey(), evt.PriceTimestamp), nil
}

func (c *DeterministicCore) handleAssetParamUpdate(evt *event.AssetParamUpdate) (*ledger.Batch, error) {
	params := &state.AssetParams{
		Symbol:                  evt.Asset,
		Decimals:                uint8(evt.Decimals),
		MCR:                     evt.MCR,
		CCR:                     evt.CCR,
		MinNetDebt:              evt.MinNetDebt,
		GasCompensation:         evt.GasCompensation,
		CollateralCap:           evt.CollateralCap,
		LiquidationBonusDivisor: evt.LiquidationBonusDivisor,
		BorrowFeeFloor:          evt.BorrowFeeFloor,
		RedemptionFeeFloor:      evt.RedemptionFeeFloor,
		ReserveFactor:           evt.ReserveFactor,
		InterestRatePerSecond:   evt.InterestRatePerSecond,
		IssuanceRatePerSecond:   evt.IssuanceRatePerSecond,
		RedemptionHintTolerance: evt.RedemptionHintTolerance,
		MaxTroves:               state.DefaultAssetParams.MaxTroves,
		EffectiveSeq:            evt.EffectiveSeq,
	}
	if err := c.ConfigureAsset(params, evt.Timestamp); err != nil {
		return nil, err
	}
	return emptyBatch(evt.IdempotencyKey(), evt.Timestamp), nil
}

func (c *DeterministicCore) handleTroveOpen(evt *event.TroveOpen) (*ledger.Batch, error) {
	price, err := c.priceBook.GetPrice(evt.Asset)
	if err != nil {
		return nil, err
	}
	assetID, ok := ledger.GetAssetID(evt.Asset)
	if !ok {
		return nil, fmt.Errorf("unknown asset: %s", evt.Asset)
	}
	params, _ := c.troves.Params(evt.Asset)

	rate, err := c.feeModel.CalcBorrowRate(evt.Asset, evt.Timestamp)
	if err != nil {
		return nil, err
	}
	fee := fp.Mul(evt.NetDebt, rate)

	if _, err := c.troves.Open(evt.Asset, evt.Owner, evt.Coll, evt.NetDebt, price, evt.PrevHint, evt.NextHint, evt.Timestamp); err != nil {
		return nil, err
	}

	feeToReserve := fp.Mul(fee, params.ReserveFactor)
	feeToStaking := new(big.Int).Sub(fee, feeToReserve)
	batch, err := c.journalGen.GenerateTroveOpen(evt, params.GasCompensation, feeToStaking, feeToReserve, assetID)
	if err != nil {
		return nil, err
	}
	if err := c.farmDeposit(evt.Asset, evt.Coll); err != nil {
		return nil, err
	}
	return batch, nil
}

func (c *DeterministicCore) handleTroveAdjust(evt *event.TroveAdjust) (*ledger.Batch, error) {
	price, err := c.priceBook.GetPrice(evt.Asset)
	if err != nil {
		return nil, err
	}
	assetID, ok := ledger.GetAssetID(evt.Asset)
	if !ok {
		return nil, fmt.Errorf("unknown asset: %s", evt.Asset)
	}
	params, _ := c.troves.Params(evt.Asset)

	collDeposit := new(big.Int)
	collWithdraw := new(big.Int)
	if evt.CollDelta != nil {
		switch evt.CollDelta.Sign() {
		case 1:
			collDeposit.Set(evt.CollDelta)
		case -1:
			collWithdraw.Neg(evt.CollDelta)
		}
	}

	debtDelta := new(big.Int)
	debtIncrease := false
	feeToStaking := new(big.Int)
	feeToReserve := new(big.Int)
	if evt.DebtDelta != nil && evt.DebtDelta.Sign() != 0 {
		debtIncrease = evt.DebtDelta.Sign() > 0
		debtDelta.Abs(evt.DebtDelta)
		if debtIncrease {
			rate, err := c.feeModel.CalcBorrowRate(evt.Asset, evt.Timestamp)
			if err != nil {
				return nil, err
			}
			fee := fp.Mul(debtDelta, rate)
			feeToReserve = fp.Mul(fee, params.ReserveFactor)
			feeToStaking = new(big.Int).Sub(fee, feeToReserve)
		}
	}

	// repayment funds must exist before the trove mutates
	if !debtIncrease && debtDelta.Sign() > 0 {
		userStable := ledger.NewUserAccountKey(evt.Owner, ledger.SubTypeStable, ledger.AssetIDStable)
		if err := c.balanceTracker.ValidateSufficient(userStable, debtDelta); err != nil {
			return nil, err
		}
	}

	if _, err := c.troves.Adjust(evt.Asset, evt.Owner, collDeposit, collWithdraw, debtDelta, debtIncrease, price, evt.PrevHint, evt.NextHint, evt.Timestamp); err != nil {
		return nil, err
	}

	batch, err := c.journalGen.GenerateTroveAdjust(evt, feeToStaking, feeToReserve, assetID)
	if err != nil {
		return nil, err
	}
	if err := c.farmDeposit(evt.Asset, collDeposit); err != nil {
		return nil, err
	}
	if err := c.farmRelease(evt.Asset, collWithdraw); err != nil {
		return nil, err
	}
	return batch, nil
}

func (c *DeterministicCore) handleTroveClose(evt *event.TroveClose) (*ledger.Batch, error) {
	price, err := c.priceBook.GetPrice(evt.Asset)
	if err != nil {
		return nil, err
	}
	assetID, ok := ledger.GetAssetID(evt.Asset)
	if !ok {
		return nil, fmt.Errorf("unknown asset: %s", evt.Asset)
	}

	// full repayment must be covered before the trove mutates
	if tr, ok := c.troves.GetTrove(evt.Asset, evt.Owner); ok {
		_, debt, perr := c.troves.EntirePosition(evt.Asset, evt.Owner)
		if perr != nil {
			return nil, perr
		}
		netDebt := new(big.Int).Sub(debt, tr.GasComp)
		userStable := ledger.NewUserAccountKey(evt.Owner, ledger.SubTypeStable, ledger.AssetIDStable)
		if err := c.balanceTracker.ValidateSufficient(userStable, netDebt); err != nil {
			return nil, err
		}
	}

	res, err := c.troves.Close(evt.Asset, evt.Owner, price, evt.Timestamp)
	if err != nil {
		return nil, err
	}
	batch, err := c.journalGen.GenerateTroveClose(evt, res, assetID)
	if err != nil {
		return nil, err
	}
	if err := c.farmRelease(evt.Asset, res.Coll); err != nil {
		return nil, err
	}
	return batch, nil
}

func (c *DeterministicCore) handleLiquidate(evt *event.Liquidate) (*ledger.Batch, error) {
	price, err := c.priceBook.GetPrice(evt.Asset)
	if err != nil {
		return nil, err
	}
	assetID, ok := ledger.GetAssetID(evt.Asset)
	if !ok {
		return nil, fmt.Errorf("unknown asset: %s", evt.Asset)
	}

	res, err := c.liquidation.LiquidateBatch(evt.Asset, evt.Targets, price, evt.Timestamp)
	if err != nil {
		return nil, err
	}
	c.recordLiquidation(res)
	batch, err := c.journalGen.GenerateLiquidation(evt.IdempotencyKey(), evt.Caller, res, assetID, evt.Timestamp)
	if err != nil {
		return nil, err
	}
	if err := c.farmLiquidation(res); err != nil {
		return nil, err
	}
	return batch, nil
}

func (c *DeterministicCore) handleLiquidateRiskiest(evt *event.LiquidateRiskiest) (*ledger.Batch, error) {
	price, err := c.priceBook.GetPrice(evt.Asset)
	if err != nil {
		return nil, err
	}
	assetID, ok := ledger.GetAssetID(evt.Asset)
	if !ok {
		return nil, fmt.Errorf("unknown asset: %s", evt.Asset)
	}

	res, err := c.liquidation.LiquidateRiskiest(evt.Asset, int(evt.MaxTroves), price, evt.Timestamp)
	if err != nil {
		return nil, err
	}
	c.recordLiquidation(res)
	batch, err := c.journalGen.GenerateLiquidation(evt.IdempotencyKey(), evt.Caller, res, assetID, evt.Timestamp)
	if err != nil {
		return nil, err
	}
	if err := c.farmLiquidation(res); err != nil {
		return nil, err
	}
	return batch, nil
}

func (c *DeterministicCore) recordLiquidation(res *engine.BatchResult) {
	if c.metrics == nil {
		return
	}
	c.metrics.LiquidationTroves.WithLabelValues(res.Asset).Add(float64(len(res.Liquidated)))
	c.metrics.LiquidationDebtOffset.WithLabelValues(res.Asset).Add(observability.BigFloat(res.TotalDebtOffset))
	c.metrics.LiquidationDebtRedistributed.WithLabelValues(res.Asset).Add(observability.BigFloat(res.TotalDebtRedistributed))
}

func (c *DeterministicCore) handleRedeem(evt *event.Redeem) (*ledger.Batch, error) {
	price, err := c.priceBook.GetPrice(evt.Asset)
	if err != nil {
		return nil, err
	}
	assetID, ok := ledger.GetAssetID(evt.Asset)
	if !ok {
		return nil, fmt.Errorf("unknown asset: %s", evt.Asset)
	}

	// the walk burns at most evt.Amount from the redeemer
	userStable := ledger.NewUserAccountKey(evt.Redeemer, ledger.SubTypeStable, ledger.AssetIDStable)
	if err := c.balanceTracker.ValidateSufficient(userStable, evt.Amount); err != nil {
		return nil, err
	}

	req := &engine.RedemptionRequest{
		Asset:           evt.Asset,
		Redeemer:        evt.Redeemer,
		Amount:          evt.Amount,
		MaxIterations:   int(evt.MaxIterations),
		PartialNICR:     evt.PartialNICR,
		PartialPrevHint: evt.PartialPrevHint,
		PartialNextHint: evt.PartialNextHint,
	}
	res, err := c.redemption.Redeem(req, price, c.balanceTracker.StableSupply(), evt.Timestamp)
	if err != nil {
		return nil, err
	}
	if c.metrics != nil {
		c.metrics.RedemptionVolume.WithLabelValues(evt.Asset).Add(observability.BigFloat(res.Redeemed))
	}
	batch, err := c.journalGen.GenerateRedemption(evt, res, assetID)
	if err != nil {
		return nil, err
	}
	// drawn collateral and cleared-trove surplus both leave the
	// active troves
	released := new(big.Int).Add(res.CollDrawn, res.CollSurplus)
	if err := c.farmRelease(evt.Asset, released); err != nil {
		return nil, err
	}
	return batch, nil
}

func (c *DeterministicCore) handleStabilityProvide(evt *event.StabilityProvide) (*ledger.Batch, error) {
	assetID, ok := ledger.GetAssetID(evt.Asset)
	if !ok {
		return nil, fmt.Errorf("unknown asset: %s", evt.Asset)
	}
	userStable := ledger.NewUserAccountKey(evt.Depositor, ledger.SubTypeStable, ledger.AssetIDStable)
	if err := c.balanceTracker.ValidateSufficient(userStable, evt.Amount); err != nil {
		return nil, err
	}
	gains, err := c.pools.Provide(evt.Asset, evt.Depositor, evt.Amount, evt.Timestamp)
	if err != nil {
		return nil, err
	}
	return c.journalGen.GenerateStabilityProvide(evt, gains, assetID)
}

func (c *DeterministicCore) handleStabilityWithdraw(evt *event.StabilityWithdraw) (*ledger.Batch, error) {
	price, err := c.priceBook.GetPrice(evt.Asset)
	if err != nil {
		return nil, err
	}
	assetID, ok := ledger.GetAssetID(evt.Asset)
	if !ok {
		return nil, fmt.Errorf("unknown asset: %s", evt.Asset)
	}

	// Withdrawals are frozen while any trove is liquidatable, so
	// depositors cannot front-run an offset. A zero-amount withdrawal
	// only realizes pending gains and stays allowed.
	if evt.Amount.Sign() != 0 {
		below, err := c.troves.HasTroveBelowMCR(evt.Asset, price)
		if err != nil {
			return nil, err
		}
		if below {
			return nil, ErrTroveBelowMCR
		}
	}

	gains, err := c.pools.Withdraw(evt.Asset, evt.Depositor, evt.Amount, evt.Timestamp)
	if err != nil {
		return nil, err
	}
	return c.journalGen.GenerateStabilityWithdraw(evt, gains, assetID)
}

func (c *DeterministicCore) handleSurplusClaim(evt *event.SurplusClaim) (*ledger.Batch, error) {
	assetID, ok := ledger.GetAssetID(evt.Asset)
	if !ok {
		return nil, fmt.Errorf("unknown asset: %s", evt.Asset)
	}
	amount, err := c.surplus.Claim(evt.Asset, evt.Owner)
	if err != nil {
		return nil, err
	}
	return c.journalGen.GenerateSurplusClaim(evt, amount, assetID)
}

func (c *DeterministicCore) handleRewardClaim(evt *event.RewardClaim) (*ledger.Batch, error) {
	amount, err := c.troves.ClaimReward(evt.Asset, evt.Owner, evt.Timestamp)
	if err != nil {
		return nil, err
	}
	return c.journalGen.GenerateRewardClaim(evt, amount)
}

func (c *DeterministicCore) handleFlashMint(evt *event.FlashMint) (*ledger.Batch, error) {
	if c.flashActive {
		return nil, ErrFlashMintActive
	}
	c.flashActive = true
	defer func() { c.flashActive = false }()

	if evt.Amount == nil || evt.Amount.Sign() <= 0 {
		return nil, fmt.Errorf("flash mint %s has no amount", evt.OpID)
	}
	required := fp.Mul(evt.Amount, c.flashFeeRate)
	if evt.Fee == nil || evt.Fee.Cmp(required) < 0 {
		return nil, ErrFlashFeeTooLow
	}
	return c.journalGen.GenerateFlashMint(evt)
}

// computeStateDigest creates canonical bytes for the state hash: the
// balances the batch touched, then the touched asset's aggregate
// invariant state. Account paths sort deterministically.
func (c *DeterministicCore) computeStateDigest(batch *ledger.Batch, asset *string) []byte {
	affectedAccounts := make(map[ledger.AccountKey]bool)

	if batch != nil {
		for _, j := range batch.Journals {
			affectedAccounts[j.DebitAccount] = true
			affectedAccounts[j.CreditAccount] = true
		}
	}

	accounts := make([]ledger.AccountKey, 0, len(affectedAccounts))
	for key := range affectedAccounts {
		accounts = append(accounts, key)
	}
	sort.Slice(accounts, func(i, j int) bool {
		return accounts[i].AccountPath() < accounts[j].AccountPath()
	})

	digest := make([]byte, 0, len(accounts)*64)
	for _, key := range accounts {
		path := key.AccountPath()
		digest = append(digest, byte(len(path)))
		digest = append(digest, []byte(path)...)
		digest = appendBig(digest, c.balanceTracker.GetBalance(key))
	}

	if asset != nil && c.troves.Supported(*asset) {
		digest = append(digest, []byte(*asset)...)
		digest = appendBig(digest, c.troves.TotalStakes(*asset))
		digest = appendBig(digest, c.troves.TotalColl(*asset))
		digest = appendBig(digest, c.troves.TotalNormDebt(*asset))
		digest = appendBig(digest, c.troves.TotalGasComp(*asset))
		digest = appendBig(digest, c.troves.DebtIndex(*asset))
		digest = appendBig(digest, c.pools.TotalDeposits(*asset))
		digest = appendBig(digest, c.pools.CollBalance(*asset))
		digest = appendBig(digest, c.pools.Product(*asset))
		scale, epoch := c.pools.ScaleEpoch(*asset)
		digest = appendInt64LE(digest, scale)
		digest = appendInt64LE(digest, epoch)
		digest = appendBig(digest, c.surplus.Total(*asset))
	}

	return digest
}

// appendBig writes a sign byte, a 2-byte LE length, then magnitude bytes.
func appendBig(buf []byte, v *big.Int) []byte {
	if v == nil {
		v = new(big.Int)
	}
	sign := byte(0)
	if v.Sign() < 0 {
		sign = 1
	}
	b := v.Bytes()
	buf = append(buf, sign, byte(len(b)), byte(len(b)>>8))
	return append(buf, b...)
}

func appendInt64LE(buf []byte, v int64) []byte {
	return append(buf,
		byte(v),
		byte(v>>8),
		byte(v>>16),
		byte(v>>24),
		byte(v>>32),
		byte(v>>40),
		byte(v>>48),
		byte(v>>56),
	)
}

// postCheckInvariants validates invariants after batch application
func (c *DeterministicCore) postCheckInvariants(evt event.Event) error {
	if asset := evt.AssetID(); asset != nil && c.troves.Supported(*asset) {
		assetID, _ := ledger.GetAssetID(*asset)
		if err := c.validator.ValidateSystemPoolsNonNegative(*asset, assetID); err != nil {
			return err
		}
		if err := c.validator.ValidateGasPoolMatches(*asset, c.troves.TotalGasComp(*asset)); err != nil {
			return err
		}
		if err := c.validator.ValidateStabilityPoolMatches(*asset, c.pools.TotalDeposits(*asset)); err != nil {
			return err
		}
	}

	// Periodic global zero-sum sweep; per-event sweeps would be O(accounts).
	if c.sequence > 0 && c.sequence%1000 == 0 {
		if err := c.validator.ValidateGlobalBalance(); err != nil {
			return fmt.Errorf("post-check zero-sum: %w", err)
		}
	}

	return nil
}

// --- Snapshot Restore & Startup Methods ---

// SnapshotState holds the serializable in-memory state for restore.
// This mirrors persistence.SnapshotData but uses typed fields.
type SnapshotState struct {
	Sequence        int64
	StateHash       [32]byte
	PrevHash        [32]byte
	Balances        map[ledger.AccountKey]*big.Int
	Troves          *state.LedgerExport
	Pools           *state.PoolsExport
	Surplus         *state.SurplusExport
	SequenceState   map[string]int64
	IdempotencyKeys []string
}

// RestoreFromSnapshot restores the core's in-memory state from a
// snapshot. On warm restart: load the latest snapshot, then replay
// the event log from Sequence+1.
func (c *DeterministicCore) RestoreFromSnapshot(snap *SnapshotState) error {
	c.sequence = snap.Sequence + 1
	c.hasher.SetPrevHash(snap.StateHash)

	for key, balance := range snap.Balances {
		c.balanceTracker.SetBalance(key, balance)
	}

	if snap.Troves != nil {
		if err := c.troves.Restore(snap.Troves); err != nil {
			return fmt.Errorf("restore troves: %w", err)
		}
		// reseed farmer custody to match the restored active collateral
		for _, ax := range snap.Troves.Assets {
			if _, ok := c.farmers[ax.Symbol]; !ok {
				c.farmers[ax.Symbol] = engine.NewNullFarmer()
			}
			if err := c.farmDeposit(ax.Symbol, c.troves.TotalColl(ax.Symbol)); err != nil {
				return fmt.Errorf("restore farmer %s: %w", ax.Symbol, err)
			}
		}
	}
	if snap.Pools != nil {
		if err := c.pools.Restore(snap.Pools); err != nil {
			return fmt.Errorf("restore pools: %w", err)
		}
	}
	if snap.Surplus != nil {
		if err := c.surplus.Restore(snap.Surplus); err != nil {
			return fmt.Errorf("restore surplus: %w", err)
		}
	}

	for partition, nextSeq := range snap.SequenceState {
		c.sequenceValidator.SetExpectedSequence(partition, nextSeq)
	}

	c.journalGen.SetSequence(snap.Sequence + 1)
	return nil
}

// WarmLRU loads recent idempotency keys into the LRU cache so a warm
// restart avoids cold-path DB lookups.
func (c *DeterministicCore) WarmLRU(keys []string) {
	c.idempotency.lru.WarmFromKeys(keys)
}

// GetSequence returns the next global sequence number to assign.
func (c *DeterministicCore) GetSequence() int64 {
	return c.sequence
}

// GetStateHash returns the current state hash (chain tip).
func (c *DeterministicCore) GetStateHash() [32]byte {
	return c.hasher.GetPrevHash()
}

// CreateSnapshotState captures the current in-memory state for persistence.
func (c *DeterministicCore) CreateSnapshotState() *SnapshotState {
	return &SnapshotState{
		Sequence:        c.sequence - 1,
		StateHash:       c.hasher.GetPrevHash(),
		Balances:        c.balanceTracker.Snapshot(),
		Troves:          c.troves.Export(),
		Pools:           c.pools.Export(),
		Surplus:         c.surplus.Export(),
		SequenceState:   c.sequenceValidator.GetAllPartitions(),
		IdempotencyKeys: c.idempotency.lru.GetAllKeys(),
	}
}

// Balances exposes the balance tracker for read-side queries.
func (c *DeterministicCore) Balances() *ledger.BalanceTracker { return c.balanceTracker }

// Troves exposes the trove ledger for read-side queries.
func (c *DeterministicCore) Troves() *state.TroveLedger { return c.troves }

// Pools exposes the stability pools for read-side queries.
func (c *DeterministicCore) Pools() *state.StabilityPools { return c.pools }

// Surplus exposes the surplus pool for read-side queries.
func (c *DeterministicCore) Surplus() *state.SurplusPool { return c.surplus }

// PriceBook exposes the oracle book for read-side queries.
func (c *DeterministicCore) PriceBook() *engine.PriceBook { return c.priceBook }
