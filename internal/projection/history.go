package projection

import (
	"math/big"

	"stablecore/internal/ledger"
)

// liquidationSummary aggregates one liquidation event's journal batch
// into a history row.
type liquidationSummary struct {
	DebtOffset  *big.Int // Stable burned against the stability pool
	CollToPool  *big.Int // Collateral moved to pool depositors
	CollBonus   *big.Int // Caller's collateral incentive
	CollSurplus *big.Int // Over-collateralization returned to owners
	GasComp     *big.Int // Stable paid to the caller from the gas pool
}

// redemptionSummary aggregates one redemption event's journal batch.
type redemptionSummary struct {
	Redeemed  *big.Int // Stable burned
	CollDrawn *big.Int // Collateral paid to the redeemer
	Fee       *big.Int // Redemption fee in collateral
	GasComp   *big.Int // Gas compensation burned for fully-cleared troves
}

func summarizeLiquidation(entries []JournalEntry) liquidationSummary {
	s := liquidationSummary{
		DebtOffset:  new(big.Int),
		CollToPool:  new(big.Int),
		CollBonus:   new(big.Int),
		CollSurplus: new(big.Int),
		GasComp:     new(big.Int),
	}
	for _, e := range entries {
		amt, ok := new(big.Int).SetString(e.Amount, 10)
		if !ok {
			continue
		}
		switch ledger.JournalType(e.JournalType) {
		case ledger.JournalTypeStableBurn:
			s.DebtOffset.Add(s.DebtOffset, amt)
		case ledger.JournalTypeLiquidationTransfer:
			s.CollToPool.Add(s.CollToPool, amt)
		case ledger.JournalTypeLiquidationBonus:
			s.CollBonus.Add(s.CollBonus, amt)
		case ledger.JournalTypeSurplusCredit:
			s.CollSurplus.Add(s.CollSurplus, amt)
		case ledger.JournalTypeGasCompPayout:
			s.GasComp.Add(s.GasComp, amt)
		}
	}
	return s
}

func summarizeRedemption(entries []JournalEntry) redemptionSummary {
	s := redemptionSummary{
		Redeemed:  new(big.Int),
		CollDrawn: new(big.Int),
		Fee:       new(big.Int),
		GasComp:   new(big.Int),
	}
	for _, e := range entries {
		amt, ok := new(big.Int).SetString(e.Amount, 10)
		if !ok {
			continue
		}
		switch ledger.JournalType(e.JournalType) {
		case ledger.JournalTypeStableBurn:
			s.Redeemed.Add(s.Redeemed, amt)
		case ledger.JournalTypeRedemptionTransfer:
			s.CollDrawn.Add(s.CollDrawn, amt)
		case ledger.JournalTypeRedemptionFee:
			s.Fee.Add(s.Fee, amt)
		case ledger.JournalTypeGasCompBurn:
			s.GasComp.Add(s.GasComp, amt)
		}
	}
	return s
}
