package query

import "github.com/google/uuid"

// Amounts are 1e18 fixed-point values serialized as decimal strings.

// TroveResponse represents a trove for API queries. ICR is empty when
// no price has been observed for the asset yet.
type TroveResponse struct {
	Owner        uuid.UUID `json:"owner"`
	Asset        string    `json:"asset"`
	Status       string    `json:"status"`
	Collateral   string    `json:"collateral"`
	Debt         string    `json:"debt"`
	Stake        string    `json:"stake"`
	ICR          string    `json:"icr,omitempty"`
	AsOfSequence int64     `json:"as_of_sequence"`
}

// SystemStateResponse represents per-asset protocol totals.
type SystemStateResponse struct {
	Asset                 string `json:"asset"`
	TotalCollateral       string `json:"total_collateral"`
	TotalDebt             string `json:"total_debt"`
	TCR                   string `json:"tcr,omitempty"`
	RecoveryMode          bool   `json:"recovery_mode"`
	ActiveTroves          int    `json:"active_troves"`
	StabilityPoolDeposits string `json:"stability_pool_deposits"`
	Price                 string `json:"price,omitempty"`
	AsOfSequence          int64  `json:"as_of_sequence"`
}

// StabilityDepositResponse represents a depositor's compounded
// position and pending gains.
type StabilityDepositResponse struct {
	Depositor         uuid.UUID `json:"depositor"`
	Asset             string    `json:"asset"`
	CompoundedDeposit string    `json:"compounded_deposit"`
	CollateralGain    string    `json:"collateral_gain"`
	RewardGain        string    `json:"reward_gain"`
	AsOfSequence      int64     `json:"as_of_sequence"`
}

// SurplusResponse represents claimable collateral surplus.
type SurplusResponse struct {
	Owner        uuid.UUID `json:"owner"`
	Asset        string    `json:"asset"`
	Amount       string    `json:"amount"`
	AsOfSequence int64     `json:"as_of_sequence"`
}

// LiquidationHistoryResponse represents one liquidation event.
type LiquidationHistoryResponse struct {
	Sequence     int64  `json:"sequence"`
	Asset        string `json:"asset"`
	DebtOffset   string `json:"debt_offset"`
	CollToPool   string `json:"coll_to_pool"`
	CollBonus    string `json:"coll_bonus"`
	CollSurplus  string `json:"coll_surplus"`
	GasComp      string `json:"gas_comp"`
	Timestamp    int64  `json:"timestamp"`
	AsOfSequence int64  `json:"as_of_sequence"`
}

// RedemptionHistoryResponse represents one redemption event.
type RedemptionHistoryResponse struct {
	Sequence     int64  `json:"sequence"`
	Asset        string `json:"asset"`
	Redeemed     string `json:"redeemed"`
	CollDrawn    string `json:"coll_drawn"`
	Fee          string `json:"fee"`
	GasComp      string `json:"gas_comp"`
	Timestamp    int64  `json:"timestamp"`
	AsOfSequence int64  `json:"as_of_sequence"`
}

// JournalHistoryEntry represents a journal entry for API queries.
type JournalHistoryEntry struct {
	JournalID     string `json:"journal_id"`
	BatchID       string `json:"batch_id"`
	EventRef      string `json:"event_ref"`
	Sequence      int64  `json:"sequence"`
	DebitAccount  string `json:"debit_account"`
	CreditAccount string `json:"credit_account"`
	Asset         string `json:"asset"`
	Amount        string `json:"amount"`
	JournalType   int32  `json:"journal_type"`
	Timestamp     int64  `json:"timestamp"`
}

// IntegrityReport is the result of an integrity verification check.
type IntegrityReport struct {
	IsHealthy        bool              `json:"is_healthy"`
	HashChainBreaks  []int64           `json:"hash_chain_breaks,omitempty"`
	UnbalancedAssets []UnbalancedAsset `json:"unbalanced_assets,omitempty"`
}

// UnbalancedAsset represents an asset with non-zero global balance sum.
type UnbalancedAsset struct {
	Asset     string `json:"asset"`
	Imbalance string `json:"imbalance"`
}
