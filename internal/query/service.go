package query

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/google/uuid"

	"stablecore/internal/engine"
	"stablecore/internal/state"
)

// CoreReader is the read-only view of the deterministic core. Trove
// and pool queries read in-memory state directly so they are always
// consistent with the last applied event; balance and history queries
// read Postgres projections and carry the projection watermark.
type CoreReader interface {
	GetSequence() int64
	Troves() *state.TroveLedger
	Pools() *state.StabilityPools
	Surplus() *state.SurplusPool
	PriceBook() *engine.PriceBook
}

// QueryService provides read-only access to protocol state. All
// responses include as_of_sequence for freshness semantics.
type QueryService struct {
	db   *sql.DB
	core CoreReader
}

func NewQueryService(db *sql.DB, core CoreReader) *QueryService {
	return &QueryService{db: db, core: core}
}

// coreSequence is the sequence of the last applied event.
func (qs *QueryService) coreSequence() int64 {
	return qs.core.GetSequence() - 1
}

// GetBalance returns a user's stable, collateral, and reward balances.
func (qs *QueryService) GetBalance(
	ctx context.Context,
	userID uuid.UUID,
	asset string,
) (*BalanceResponse, error) {
	asOfSeq, err := qs.getWatermark(ctx)
	if err != nil {
		return nil, fmt.Errorf("watermark: %w", err)
	}

	stablePath := fmt.Sprintf("user:%s:stable:STABLE", userID)
	stable, err := qs.getProjectedBalance(ctx, stablePath)
	if err != nil {
		return nil, err
	}

	collateralPath := fmt.Sprintf("user:%s:collateral:%s", userID, asset)
	collateral, err := qs.getProjectedBalance(ctx, collateralPath)
	if err != nil {
		return nil, err
	}

	rewardPath := fmt.Sprintf("user:%s:reward:REWARD", userID)
	reward, err := qs.getProjectedBalance(ctx, rewardPath)
	if err != nil {
		return nil, err
	}

	return &BalanceResponse{
		UserID:       userID,
		Asset:        asset,
		Stable:       stable,
		Collateral:   collateral,
		Reward:       reward,
		AsOfSequence: asOfSeq,
	}, nil
}

// GetTrove returns a trove with its entire position, pending
// redistribution gains included.
func (qs *QueryService) GetTrove(asset string, owner uuid.UUID) (*TroveResponse, error) {
	troves := qs.core.Troves()

	tr, ok := troves.GetTrove(asset, owner)
	if !ok {
		return nil, fmt.Errorf("trove %s/%s not found", asset, owner)
	}

	coll, debt, err := troves.EntirePosition(asset, owner)
	if err != nil {
		return nil, err
	}

	resp := &TroveResponse{
		Owner:        owner,
		Asset:        asset,
		Status:       tr.Status.String(),
		Collateral:   coll.String(),
		Debt:         debt.String(),
		Stake:        tr.Stake.String(),
		AsOfSequence: qs.coreSequence(),
	}

	if price, err := qs.core.PriceBook().GetPrice(asset); err == nil {
		if icr, err := troves.CurrentICR(asset, owner, price); err == nil {
			resp.ICR = icr.String()
		}
	}

	return resp, nil
}

// GetSystemState returns per-asset protocol totals. TCR and recovery
// mode are omitted until a price has been observed.
func (qs *QueryService) GetSystemState(asset string) (*SystemStateResponse, error) {
	troves := qs.core.Troves()
	if !troves.Supported(asset) {
		return nil, fmt.Errorf("asset %s not configured", asset)
	}

	resp := &SystemStateResponse{
		Asset:                 asset,
		TotalCollateral:       troves.TotalColl(asset).String(),
		TotalDebt:             troves.TotalActualDebt(asset).String(),
		ActiveTroves:          troves.ActiveCount(asset),
		StabilityPoolDeposits: qs.core.Pools().TotalDeposits(asset).String(),
		AsOfSequence:          qs.coreSequence(),
	}

	if price, err := qs.core.PriceBook().GetPrice(asset); err == nil {
		resp.Price = price.String()
		if tcr, err := troves.TCR(asset, price); err == nil {
			resp.TCR = tcr.String()
		}
		if recovery, err := troves.IsRecoveryMode(asset, price); err == nil {
			resp.RecoveryMode = recovery
		}
	}

	return resp, nil
}

// GetStabilityDeposit returns a depositor's compounded deposit and
// pending collateral and reward gains.
func (qs *QueryService) GetStabilityDeposit(asset string, depositor uuid.UUID) (*StabilityDepositResponse, error) {
	pools := qs.core.Pools()
	if !pools.Supported(asset) {
		return nil, fmt.Errorf("asset %s not configured", asset)
	}

	return &StabilityDepositResponse{
		Depositor:         depositor,
		Asset:             asset,
		CompoundedDeposit: pools.CompoundedDeposit(asset, depositor).String(),
		CollateralGain:    pools.DepositorCollGain(asset, depositor).String(),
		RewardGain:        pools.DepositorRewardGain(asset, depositor).String(),
		AsOfSequence:      qs.coreSequence(),
	}, nil
}

// GetSurplus returns an owner's claimable collateral surplus.
func (qs *QueryService) GetSurplus(asset string, owner uuid.UUID) *SurplusResponse {
	return &SurplusResponse{
		Owner:        owner,
		Asset:        asset,
		Amount:       qs.core.Surplus().BalanceOf(asset, owner).String(),
		AsOfSequence: qs.coreSequence(),
	}
}

// GetLiquidationHistory returns liquidation events, newest first, with
// cursor-based pagination on sequence.
func (qs *QueryService) GetLiquidationHistory(
	ctx context.Context,
	asset *string,
	limit int,
	beforeSequence *int64,
) ([]LiquidationHistoryResponse, error) {
	asOfSeq, err := qs.getWatermark(ctx)
	if err != nil {
		return nil, err
	}

	query := `
		SELECT sequence, asset, debt_offset, coll_to_pool, coll_bonus, coll_surplus, gas_comp, timestamp
		FROM projections.liquidation_history
		WHERE TRUE
	`
	args := []interface{}{}
	argIdx := 1

	if asset != nil {
		query += fmt.Sprintf(" AND asset = $%d", argIdx)
		args = append(args, *asset)
		argIdx++
	}

	if beforeSequence != nil {
		query += fmt.Sprintf(" AND sequence < $%d", argIdx)
		args = append(args, *beforeSequence)
		argIdx++
	}

	query += " ORDER BY sequence DESC"
	query += fmt.Sprintf(" LIMIT $%d", argIdx)
	args = append(args, limit)

	rows, err := qs.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var history []LiquidationHistoryResponse
	for rows.Next() {
		var h LiquidationHistoryResponse
		h.AsOfSequence = asOfSeq
		if err := rows.Scan(
			&h.Sequence, &h.Asset, &h.DebtOffset, &h.CollToPool,
			&h.CollBonus, &h.CollSurplus, &h.GasComp, &h.Timestamp,
		); err != nil {
			return nil, err
		}
		history = append(history, h)
	}

	return history, rows.Err()
}

// GetRedemptionHistory returns redemption events, newest first.
func (qs *QueryService) GetRedemptionHistory(
	ctx context.Context,
	asset *string,
	limit int,
	beforeSequence *int64,
) ([]RedemptionHistoryResponse, error) {
	asOfSeq, err := qs.getWatermark(ctx)
	if err != nil {
		return nil, err
	}

	query := `
		SELECT sequence, asset, redeemed, coll_drawn, fee, gas_comp, timestamp
		FROM projections.redemption_history
		WHERE TRUE
	`
	args := []interface{}{}
	argIdx := 1

	if asset != nil {
		query += fmt.Sprintf(" AND asset = $%d", argIdx)
		args = append(args, *asset)
		argIdx++
	}

	if beforeSequence != nil {
		query += fmt.Sprintf(" AND sequence < $%d", argIdx)
		args = append(args, *beforeSequence)
		argIdx++
	}

	query += " ORDER BY sequence DESC"
	query += fmt.Sprintf(" LIMIT $%d", argIdx)
	args = append(args, limit)

	rows, err := qs.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var history []RedemptionHistoryResponse
	for rows.Next() {
		var h RedemptionHistoryResponse
		h.AsOfSequence = asOfSeq
		if err := rows.Scan(
			&h.Sequence, &h.Asset, &h.Redeemed, &h.CollDrawn,
			&h.Fee, &h.GasComp, &h.Timestamp,
		); err != nil {
			return nil, err
		}
		history = append(history, h)
	}

	return history, rows.Err()
}

// GetJournalHistory returns journal entries touching a user's
// accounts with pagination.
func (qs *QueryService) GetJournalHistory(
	ctx context.Context,
	userID uuid.UUID,
	limit int,
	beforeSequence *int64,
) ([]JournalHistoryEntry, error) {
	accountPrefix := fmt.Sprintf("user:%s:%%", userID)

	query := `
		SELECT journal_id, batch_id, event_ref, sequence,
		       debit_account, credit_account, asset, amount, journal_type, timestamp
		FROM event_log.journal
		WHERE (debit_account LIKE $1 OR credit_account LIKE $1)
	`
	args := []interface{}{accountPrefix}
	argIdx := 2

	if beforeSequence != nil {
		query += fmt.Sprintf(" AND sequence < $%d", argIdx)
		args = append(args, *beforeSequence)
		argIdx++
	}

	query += " ORDER BY sequence DESC"
	query += fmt.Sprintf(" LIMIT $%d", argIdx)
	args = append(args, limit)

	rows, err := qs.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []JournalHistoryEntry
	for rows.Next() {
		var e JournalHistoryEntry
		if err := rows.Scan(
			&e.JournalID, &e.BatchID, &e.EventRef, &e.Sequence,
			&e.DebitAccount, &e.CreditAccount, &e.Asset, &e.Amount,
			&e.JournalType, &e.Timestamp,
		); err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}

	return entries, rows.Err()
}

// --- Admin APIs ---

// VerifyIntegrity checks hash chain continuity and the global
// zero-sum invariant over the balance projection.
func (qs *QueryService) VerifyIntegrity(ctx context.Context) (*IntegrityReport, error) {
	report := &IntegrityReport{}

	rows, err := qs.db.QueryContext(ctx, `
		SELECT e1.sequence
		FROM event_log.events e1
		LEFT JOIN event_log.events e2 ON e2.sequence = e1.sequence - 1
		WHERE e1.sequence > 0 AND e1.prev_hash != COALESCE(e2.state_hash, e1.prev_hash)
		LIMIT 10
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var seq int64
		if err := rows.Scan(&seq); err != nil {
			return nil, err
		}
		report.HashChainBreaks = append(report.HashChainBreaks, seq)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	// Each asset must sum to zero across all accounts
	balanceRows, err := qs.db.QueryContext(ctx, `
		SELECT asset, SUM(balance) AS total
		FROM projections.balances
		GROUP BY asset
		HAVING SUM(balance) != 0
	`)
	if err != nil {
		return nil, err
	}
	defer balanceRows.Close()

	for balanceRows.Next() {
		var asset, total string
		if err := balanceRows.Scan(&asset, &total); err != nil {
			return nil, err
		}
		report.UnbalancedAssets = append(report.UnbalancedAssets, UnbalancedAsset{
			Asset:     asset,
			Imbalance: total,
		})
	}
	if err := balanceRows.Err(); err != nil {
		return nil, err
	}

	report.IsHealthy = len(report.HashChainBreaks) == 0 && len(report.UnbalancedAssets) == 0
	return report, nil
}

// --- helpers ---

func (qs *QueryService) getWatermark(ctx context.Context) (int64, error) {
	var seq int64
	err := qs.db.QueryRowContext(ctx, `
		SELECT COALESCE(last_sequence, 0) FROM projections.watermark WHERE worker_id = 'main'
	`).Scan(&seq)
	if err == sql.ErrNoRows {
		return 0, nil
	}
	return seq, err
}

func (qs *QueryService) getProjectedBalance(ctx context.Context, accountPath string) (string, error) {
	var balance string
	err := qs.db.QueryRowContext(ctx, `
		SELECT balance::text FROM projections.balances
		WHERE account_path = $1
	`, accountPath).Scan(&balance)
	if err == sql.ErrNoRows {
		return "0", nil
	}
	return balance, err
}
