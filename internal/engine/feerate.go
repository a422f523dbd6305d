package engine

import (
	"errors"
	"math/big"

	fp "stablecore/internal/math"
)

var ErrFeeAssetUnknown = errors.New("fee model: asset not configured")

// FeeRateModel prices borrowing and redemption. Calc* methods mutate
// the decaying base rate; Get* are pure previews.
type FeeRateModel interface {
	CalcBorrowRate(asset string, now int64) (*big.Int, error)
	CalcRedeemRate(asset string, redeemed, stableSupply *big.Int, now int64) (*big.Int, error)
	GetBorrowRate(asset string, now int64) *big.Int
	GetRedeemRate(asset string, now int64) *big.Int
}

// Half-life decay per minute for a 12 hour half-life.
var minuteDecayFactor, _ = new(big.Int).SetString("999037758833783000", 10)

// Redemptions push the base rate up by redeemedFraction / beta.
var feeBeta = big.NewInt(2)

// Borrow fees cap at 5% regardless of base rate.
var maxBorrowRate = big.NewInt(50_000_000_000_000_000)

type feeState struct {
	borrowFloor *big.Int
	redeemFloor *big.Int
	baseRate    *big.Int
	lastDecay   int64
}

// DecayingFeeModel is the default fee model: a shared base rate per
// asset that spikes with redemption volume and halves every twelve
// hours of inactivity.
type DecayingFeeModel struct {
	assets map[string]*feeState
}

func NewDecayingFeeModel() *DecayingFeeModel {
	return &DecayingFeeModel{assets: make(map[string]*feeState)}
}

// Configure registers an asset's fee floors. Reconfiguring keeps the
// current base rate.
func (fm *DecayingFeeModel) Configure(asset string, borrowFloor, redeemFloor *big.Int, now int64) {
	if fs, ok := fm.assets[asset]; ok {
		fs.borrowFloor = new(big.Int).Set(borrowFloor)
		fs.redeemFloor = new(big.Int).Set(redeemFloor)
		return
	}
	fm.assets[asset] = &feeState{
		borrowFloor: new(big.Int).Set(borrowFloor),
		redeemFloor: new(big.Int).Set(redeemFloor),
		baseRate:    new(big.Int),
		lastDecay:   now,
	}
}

// CalcBorrowRate decays the base rate and returns the borrow fee rate
// to apply to a debt increase.
func (fm *DecayingFeeModel) CalcBorrowRate(asset string, now int64) (*big.Int, error) {
	fs, ok := fm.assets[asset]
	if !ok {
		return nil, ErrFeeAssetUnknown
	}
	fm.decay(fs, now)
	return fs.borrowRate(), nil
}

// CalcRedeemRate decays the base rate, bumps it by the redeemed
// fraction of supply over beta, and returns the redemption fee rate.
func (fm *DecayingFeeModel) CalcRedeemRate(asset string, redeemed, stableSupply *big.Int, now int64) (*big.Int, error) {
	fs, ok := fm.assets[asset]
	if !ok {
		return nil, ErrFeeAssetUnknown
	}
	fm.decay(fs, now)
	if stableSupply.Sign() > 0 {
		fraction := fp.Div(redeemed, stableSupply)
		bump := new(big.Int).Quo(fraction, feeBeta)
		fs.baseRate.Add(fs.baseRate, bump)
		if fs.baseRate.Cmp(fp.Precision) > 0 {
			fs.baseRate.Set(fp.Precision)
		}
	}
	return fs.redeemRate(), nil
}

func (fm *DecayingFeeModel) GetBorrowRate(asset string, now int64) *big.Int {
	fs, ok := fm.assets[asset]
	if !ok {
		return new(big.Int)
	}
	return previewState(fs, now).borrowRate()
}

func (fm *DecayingFeeModel) GetRedeemRate(asset string, now int64) *big.Int {
	fs, ok := fm.assets[asset]
	if !ok {
		return new(big.Int)
	}
	return previewState(fs, now).redeemRate()
}

// BaseRate exposes the raw decayed base rate for observability.
func (fm *DecayingFeeModel) BaseRate(asset string, now int64) *big.Int {
	fs, ok := fm.assets[asset]
	if !ok {
		return new(big.Int)
	}
	return previewState(fs, now).baseRate
}

func (fm *DecayingFeeModel) decay(fs *feeState, now int64) {
	minutes := (now - fs.lastDecay) / 60
	if minutes <= 0 {
		return
	}
	factor := fp.DecPow(minuteDecayFactor, uint64(minutes))
	fs.baseRate = fp.Mul(fs.baseRate, factor)
	// Timestamp advances in whole minutes so sub-minute churn cannot
	// hold the rate artificially high.
	fs.lastDecay += minutes * 60
}

func previewState(fs *feeState, now int64) *feeState {
	out := &feeState{
		borrowFloor: fs.borrowFloor,
		redeemFloor: fs.redeemFloor,
		baseRate:    new(big.Int).Set(fs.baseRate),
		lastDecay:   fs.lastDecay,
	}
	minutes := (now - out.lastDecay) / 60
	if minutes > 0 {
		factor := fp.DecPow(minuteDecayFactor, uint64(minutes))
		out.baseRate = fp.Mul(out.baseRate, factor)
	}
	return out
}

func (fs *feeState) borrowRate() *big.Int {
	rate := new(big.Int).Add(fs.borrowFloor, fs.baseRate)
	return fp.Min(rate, maxBorrowRate)
}

func (fs *feeState) redeemRate() *big.Int {
	rate := new(big.Int).Add(fs.redeemFloor, fs.baseRate)
	return clampRate(rate, fs.redeemFloor)
}
