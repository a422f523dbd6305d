package state

import (
	"fmt"
	"math/big"

	fp "stablecore/internal/math"
)

// AssetParams defines the risk and economic parameters of one
// supported collateral asset. All ratios and rates are 1e18 fixed
// point; amounts are in the shared 18-decimal representation.
type AssetParams struct {
	Symbol   string
	Decimals uint8

	MCR *big.Int // minimum collateral ratio, e.g. 1.10e18
	CCR *big.Int // critical system ratio, e.g. 1.50e18

	MinNetDebt      *big.Int // smallest allowed debt excluding gas compensation
	GasCompensation *big.Int // stable units escrowed per trove for liquidators
	CollateralCap   *big.Int // total collateral bound; nil or zero = uncapped

	LiquidationBonusDivisor int64    // caller bonus = coll / divisor; 0 disables
	RedemptionFeeFloor      *big.Int // lower bound on the redemption rate
	BorrowFeeFloor          *big.Int // lower bound on the borrow rate
	ReserveFactor           *big.Int // fraction of redemption fees kept by the reserve

	InterestRatePerSecond *big.Int // compounding debt index rate; 0 = interest-free
	IssuanceRatePerSecond *big.Int // reward token stream split across stakes

	RedemptionHintTolerance *big.Int // allowed relative NICR drift for partial hints

	MaxTroves    int   // sorted list capacity
	EffectiveSeq int64 // sequence at which these params take effect
}

var (
	// Default parameter template applied to assets whose config omits
	// a field. Ratios follow the usual 110%/150% CDP settings.
	DefaultAssetParams = AssetParams{
		Decimals:                18,
		MCR:                     big.NewInt(1_100_000_000_000_000_000),
		CCR:                     big.NewInt(1_500_000_000_000_000_000),
		MinNetDebt:              new(big.Int).Mul(big.NewInt(200), fp.Precision),
		GasCompensation:         new(big.Int).Mul(big.NewInt(10), fp.Precision),
		CollateralCap:           big.NewInt(0),
		LiquidationBonusDivisor: 200, // 0.5%
		RedemptionFeeFloor:      big.NewInt(5_000_000_000_000_000), // 0.5%
		BorrowFeeFloor:          big.NewInt(5_000_000_000_000_000),
		ReserveFactor:           big.NewInt(500_000_000_000_000_000), // 50%
		InterestRatePerSecond:   big.NewInt(0),
		IssuanceRatePerSecond:   big.NewInt(0),
		RedemptionHintTolerance: big.NewInt(10_000_000_000_000_000), // 1%
		MaxTroves:               1 << 20,
	}
)

// ValidateAssetParams checks parameter ranges: 1e18 < MCR < CCR,
// positive minimum debt, non-negative rates and caps.
func ValidateAssetParams(p *AssetParams) error {
	if p.Symbol == "" {
		return fmt.Errorf("asset symbol must be set")
	}
	if p.MCR == nil || p.MCR.Cmp(fp.Precision) <= 0 {
		return fmt.Errorf("mcr must be > 1e18 for %s", p.Symbol)
	}
	if p.CCR == nil || p.CCR.Cmp(p.MCR) <= 0 {
		return fmt.Errorf("ccr must be > mcr for %s", p.Symbol)
	}
	if p.MinNetDebt == nil || p.MinNetDebt.Sign() <= 0 {
		return fmt.Errorf("min_net_debt must be > 0 for %s", p.Symbol)
	}
	if p.GasCompensation == nil || p.GasCompensation.Sign() < 0 {
		return fmt.Errorf("gas_compensation must be >= 0 for %s", p.Symbol)
	}
	if p.CollateralCap != nil && p.CollateralCap.Sign() < 0 {
		return fmt.Errorf("collateral_cap must be >= 0 for %s", p.Symbol)
	}
	if p.LiquidationBonusDivisor < 0 {
		return fmt.Errorf("liquidation_bonus_divisor must be >= 0 for %s", p.Symbol)
	}
	if p.InterestRatePerSecond == nil || p.InterestRatePerSecond.Sign() < 0 {
		return fmt.Errorf("interest_rate must be >= 0 for %s", p.Symbol)
	}
	if p.IssuanceRatePerSecond == nil || p.IssuanceRatePerSecond.Sign() < 0 {
		return fmt.Errorf("issuance_rate must be >= 0 for %s", p.Symbol)
	}
	if p.RedemptionHintTolerance == nil || p.RedemptionHintTolerance.Sign() < 0 {
		return fmt.Errorf("redemption_hint_tolerance must be >= 0 for %s", p.Symbol)
	}
	if p.MaxTroves <= 0 {
		return fmt.Errorf("max_troves must be > 0 for %s", p.Symbol)
	}
	return nil
}

// Clone returns a deep copy so callers can hold params without
// aliasing the live configuration.
func (p *AssetParams) Clone() *AssetParams {
	if p == nil {
		return nil
	}
	out := *p
	out.MCR = cloneBig(p.MCR)
	out.CCR = cloneBig(p.CCR)
	out.MinNetDebt = cloneBig(p.MinNetDebt)
	out.GasCompensation = cloneBig(p.GasCompensation)
	out.CollateralCap = cloneBig(p.CollateralCap)
	out.RedemptionFeeFloor = cloneBig(p.RedemptionFeeFloor)
	out.BorrowFeeFloor = cloneBig(p.BorrowFeeFloor)
	out.ReserveFactor = cloneBig(p.ReserveFactor)
	out.InterestRatePerSecond = cloneBig(p.InterestRatePerSecond)
	out.IssuanceRatePerSecond = cloneBig(p.IssuanceRatePerSecond)
	out.RedemptionHintTolerance = cloneBig(p.RedemptionHintTolerance)
	return &out
}

func cloneBig(v *big.Int) *big.Int {
	if v == nil {
		return nil
	}
	return new(big.Int).Set(v)
}
