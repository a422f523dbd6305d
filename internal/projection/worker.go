package projection

import (
	"context"
	"database/sql"
	"fmt"
	"log"

	"github.com/rs/zerolog"

	"stablecore/internal/observability"
)

// ProjectionOutput mirrors the data needed by projection workers.
// The orchestrator bridges between core.CoreOutput and this.
type ProjectionOutput struct {
	Sequence       int64
	EventType      string
	AssetID        *string
	JournalEntries []JournalEntry
	Timestamp      int64
}

// JournalEntry is a simplified journal for projection consumption.
// Amount is the decimal string form of the fixed-point value.
type JournalEntry struct {
	DebitAccount  string
	CreditAccount string
	Asset         string
	Amount        string
	JournalType   int32
}

// ProjectionWorker updates projection tables from processed events.
// The projection channel is non-blocking with drop: if projections
// fall behind, they can be rebuilt from the event log.
type ProjectionWorker struct {
	db        *sql.DB
	inputChan <-chan ProjectionOutput
	logger    zerolog.Logger
	lastSeq   int64
}

func NewProjectionWorker(db *sql.DB, inputChan <-chan ProjectionOutput) *ProjectionWorker {
	return &ProjectionWorker{
		db:        db,
		inputChan: inputChan,
		logger:    observability.NewLogger("projection"),
	}
}

// Run starts the projection worker loop.
func (pw *ProjectionWorker) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case output, ok := <-pw.inputChan:
			if !ok {
				return nil
			}

			if err := pw.processOutput(ctx, output); err != nil {
				// Continue, projections are eventually consistent
				// and can be rebuilt from the event log
				pw.logger.Warn().
					Int64("sequence", output.Sequence).
					Err(err).
					Msg("projection update failed")
			}

			pw.lastSeq = output.Sequence
		}
	}
}

func (pw *ProjectionWorker) processOutput(ctx context.Context, output ProjectionOutput) error {
	tx, err := pw.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	for _, j := range output.JournalEntries {
		if err := pw.updateBalanceProjection(ctx, tx, j, output.Sequence); err != nil {
			return fmt.Errorf("balance projection: %w", err)
		}
	}

	switch output.EventType {
	case "Liquidate", "LiquidateRiskiest":
		if err := pw.insertLiquidationHistory(ctx, tx, output); err != nil {
			return fmt.Errorf("liquidation history: %w", err)
		}
	case "Redeem":
		if err := pw.insertRedemptionHistory(ctx, tx, output); err != nil {
			return fmt.Errorf("redemption history: %w", err)
		}
	}

	// Update projection watermark
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO projections.watermark (worker_id, last_sequence, updated_at)
		VALUES ('main', $1, NOW())
		ON CONFLICT (worker_id) DO UPDATE SET last_sequence = $1, updated_at = NOW()
	`, output.Sequence); err != nil {
		return fmt.Errorf("watermark update: %w", err)
	}

	return tx.Commit()
}

// updateBalanceProjection follows the in-memory tracker convention:
// debit increases the balance, credit decreases it.
func (pw *ProjectionWorker) updateBalanceProjection(ctx context.Context, tx *sql.Tx, j JournalEntry, seq int64) error {
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO projections.balances (account_path, asset, balance, last_sequence)
		VALUES ($1, $2, $3::numeric, $4)
		ON CONFLICT (account_path, asset)
		DO UPDATE SET balance = projections.balances.balance + $3::numeric, last_sequence = $4
	`, j.DebitAccount, j.Asset, j.Amount, seq); err != nil {
		return err
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO projections.balances (account_path, asset, balance, last_sequence)
		VALUES ($1, $2, -($3::numeric), $4)
		ON CONFLICT (account_path, asset)
		DO UPDATE SET balance = projections.balances.balance - $3::numeric, last_sequence = $4
	`, j.CreditAccount, j.Asset, j.Amount, seq); err != nil {
		return err
	}

	return nil
}

func (pw *ProjectionWorker) insertLiquidationHistory(ctx context.Context, tx *sql.Tx, output ProjectionOutput) error {
	s := summarizeLiquidation(output.JournalEntries)
	if s.DebtOffset.Sign() == 0 && s.CollToPool.Sign() == 0 && s.CollSurplus.Sign() == 0 {
		return nil // All targets skipped
	}

	asset := ""
	if output.AssetID != nil {
		asset = *output.AssetID
	}

	_, err := tx.ExecContext(ctx, `
		INSERT INTO projections.liquidation_history
			(sequence, asset, debt_offset, coll_to_pool, coll_bonus, coll_surplus, gas_comp, timestamp)
		VALUES ($1, $2, $3::numeric, $4::numeric, $5::numeric, $6::numeric, $7::numeric, $8)
		ON CONFLICT (sequence) DO NOTHING
	`, output.Sequence, asset,
		s.DebtOffset.String(), s.CollToPool.String(), s.CollBonus.String(),
		s.CollSurplus.String(), s.GasComp.String(), output.Timestamp)
	return err
}

func (pw *ProjectionWorker) insertRedemptionHistory(ctx context.Context, tx *sql.Tx, output ProjectionOutput) error {
	s := summarizeRedemption(output.JournalEntries)
	if s.Redeemed.Sign() == 0 {
		return nil
	}

	asset := ""
	if output.AssetID != nil {
		asset = *output.AssetID
	}

	_, err := tx.ExecContext(ctx, `
		INSERT INTO projections.redemption_history
			(sequence, asset, redeemed, coll_drawn, fee, gas_comp, timestamp)
		VALUES ($1, $2, $3::numeric, $4::numeric, $5::numeric, $6::numeric, $7)
		ON CONFLICT (sequence) DO NOTHING
	`, output.Sequence, asset,
		s.Redeemed.String(), s.CollDrawn.String(), s.Fee.String(),
		s.GasComp.String(), output.Timestamp)
	return err
}

// RebuildProjections rebuilds balance projections from the event log.
// History tables rebuild as the worker replays; balances rebuild in
// two set-based passes (debits add, credits subtract).
func RebuildProjections(ctx context.Context, db *sql.DB) error {
	truncateStatements := []string{
		`TRUNCATE projections.balances`,
		`TRUNCATE projections.liquidation_history`,
		`TRUNCATE projections.redemption_history`,
		`DELETE FROM projections.watermark WHERE worker_id = 'main'`,
	}

	for _, stmt := range truncateStatements {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("truncate failed: %w", err)
		}
	}

	_, err := db.ExecContext(ctx, `
		INSERT INTO projections.balances (account_path, asset, balance, last_sequence)
		SELECT
			debit_account AS account_path,
			asset,
			SUM(amount) AS balance,
			MAX(sequence) AS last_sequence
		FROM event_log.journal
		GROUP BY debit_account, asset
		ON CONFLICT (account_path, asset) DO UPDATE
			SET balance = EXCLUDED.balance, last_sequence = EXCLUDED.last_sequence
	`)
	if err != nil {
		return fmt.Errorf("rebuild debit balances: %w", err)
	}

	_, err = db.ExecContext(ctx, `
		INSERT INTO projections.balances (account_path, asset, balance, last_sequence)
		SELECT
			credit_account AS account_path,
			asset,
			-SUM(amount) AS balance,
			MAX(sequence) AS last_sequence
		FROM event_log.journal
		GROUP BY credit_account, asset
		ON CONFLICT (account_path, asset) DO UPDATE
			SET balance = projections.balances.balance + EXCLUDED.balance,
			    last_sequence = GREATEST(projections.balances.last_sequence, EXCLUDED.last_sequence)
	`)
	if err != nil {
		return fmt.Errorf("rebuild credit balances: %w", err)
	}

	log.Println("INFO: projection rebuild complete")
	return nil
}
