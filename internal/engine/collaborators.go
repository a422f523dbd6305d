// Package engine holds the liquidation and redemption sequencers and
// the external collaborator contracts they depend on: price oracle,
// fee-rate model, yield farmer, and reward issuance.
package engine

import (
	"errors"
	"math/big"

	fp "stablecore/internal/math"
)

var (
	ErrNoPrice       = errors.New("oracle: no price for asset")
	ErrStalePriceSeq = errors.New("oracle: price sequence not newer")
	ErrBadPrice      = errors.New("oracle: price must be positive")
	ErrFarmerStopped = errors.New("farmer: emergency stopped")
	ErrFarmerBalance = errors.New("farmer: insufficient balance")
)

// PriceOracle supplies collateral prices in stable units per whole
// collateral token, 1e18 fixed point. FetchPrice may mutate internal
// freshness bookkeeping; GetPrice is pure.
type PriceOracle interface {
	FetchPrice(asset string) (*big.Int, error)
	GetPrice(asset string) (*big.Int, error)
}

type pricePoint struct {
	price *big.Int
	seq   int64
	ts    int64
}

// PriceBook is the default oracle, fed by the price-update operation
// stream. Out-of-order source sequences are dropped rather than
// rejected hard: feeds replay after reconnects.
type PriceBook struct {
	prices map[string]*pricePoint
}

func NewPriceBook() *PriceBook {
	return &PriceBook{prices: make(map[string]*pricePoint)}
}

// Update records a price observation. Returns ErrStalePriceSeq when
// seq does not advance; the caller can treat that as a no-op.
func (pb *PriceBook) Update(asset string, price *big.Int, seq, ts int64) error {
	if price == nil || price.Sign() <= 0 {
		return ErrBadPrice
	}
	if cur, ok := pb.prices[asset]; ok && seq <= cur.seq {
		return ErrStalePriceSeq
	}
	pb.prices[asset] = &pricePoint{price: new(big.Int).Set(price), seq: seq, ts: ts}
	return nil
}

func (pb *PriceBook) FetchPrice(asset string) (*big.Int, error) {
	return pb.GetPrice(asset)
}

func (pb *PriceBook) GetPrice(asset string) (*big.Int, error) {
	p, ok := pb.prices[asset]
	if !ok {
		return nil, ErrNoPrice
	}
	return new(big.Int).Set(p.price), nil
}

// LastSequence reports the newest source sequence seen for an asset.
func (pb *PriceBook) LastSequence(asset string) int64 {
	if p, ok := pb.prices[asset]; ok {
		return p.seq
	}
	return -1
}

// Farmer is the yield adapter for idle pool collateral. The core only
// moves bookkeeping; an implementation bridges to wherever the
// collateral is actually put to work.
type Farmer interface {
	Deposit(asset string, amount *big.Int) error
	SendAsset(asset string, amount *big.Int) error
	SendAssetToPool(asset string, amount *big.Int) error
	IssueRewards(asset string, now int64) (*big.Int, error)
	BalanceOfAsset(asset string) (*big.Int, error)
	EmergencyStop(asset string) error
}

// NullFarmer satisfies Farmer with plain balance bookkeeping and no
// yield. It is the default when an asset's config names no farmer.
type NullFarmer struct {
	balances map[string]*big.Int
	stopped  map[string]bool
}

func NewNullFarmer() *NullFarmer {
	return &NullFarmer{
		balances: make(map[string]*big.Int),
		stopped:  make(map[string]bool),
	}
}

func (nf *NullFarmer) Deposit(asset string, amount *big.Int) error {
	if nf.stopped[asset] {
		return ErrFarmerStopped
	}
	bal, ok := nf.balances[asset]
	if !ok {
		bal = new(big.Int)
		nf.balances[asset] = bal
	}
	bal.Add(bal, amount)
	return nil
}

func (nf *NullFarmer) SendAsset(asset string, amount *big.Int) error {
	return nf.withdraw(asset, amount)
}

func (nf *NullFarmer) SendAssetToPool(asset string, amount *big.Int) error {
	return nf.withdraw(asset, amount)
}

func (nf *NullFarmer) withdraw(asset string, amount *big.Int) error {
	bal, ok := nf.balances[asset]
	if !ok || bal.Cmp(amount) < 0 {
		return ErrFarmerBalance
	}
	bal.Sub(bal, amount)
	return nil
}

func (nf *NullFarmer) IssueRewards(asset string, now int64) (*big.Int, error) {
	return new(big.Int), nil
}

func (nf *NullFarmer) BalanceOfAsset(asset string) (*big.Int, error) {
	if bal, ok := nf.balances[asset]; ok {
		return new(big.Int).Set(bal), nil
	}
	return new(big.Int), nil
}

func (nf *NullFarmer) EmergencyStop(asset string) error {
	nf.stopped[asset] = true
	return nil
}

// StreamingIssuance implements state.RewardIssuance by streaming a
// fixed per-second rate per asset. Each stream tracks its own last
// payout time, so callers get exactly the amount accrued since they
// last asked.
type StreamingIssuance struct {
	liquidityRates map[string]*big.Int
	stabilityRates map[string]*big.Int
	lastLiquidity  map[string]int64
	lastStability  map[string]int64
}

func NewStreamingIssuance() *StreamingIssuance {
	return &StreamingIssuance{
		liquidityRates: make(map[string]*big.Int),
		stabilityRates: make(map[string]*big.Int),
		lastLiquidity:  make(map[string]int64),
		lastStability:  make(map[string]int64),
	}
}

// SetRates configures both streams for an asset. Rates are reward
// units per second, 1e18 fixed point; nil disables a stream.
func (si *StreamingIssuance) SetRates(asset string, liquidity, stability *big.Int, now int64) {
	if liquidity != nil && liquidity.Sign() > 0 {
		si.liquidityRates[asset] = new(big.Int).Set(liquidity)
		if _, ok := si.lastLiquidity[asset]; !ok {
			si.lastLiquidity[asset] = now
		}
	} else {
		delete(si.liquidityRates, asset)
	}
	if stability != nil && stability.Sign() > 0 {
		si.stabilityRates[asset] = new(big.Int).Set(stability)
		if _, ok := si.lastStability[asset]; !ok {
			si.lastStability[asset] = now
		}
	} else {
		delete(si.stabilityRates, asset)
	}
}

func (si *StreamingIssuance) IssueLiquidityReward(asset string, now int64) *big.Int {
	return stream(si.liquidityRates, si.lastLiquidity, asset, now)
}

func (si *StreamingIssuance) IssueStabilityReward(asset string, now int64) *big.Int {
	return stream(si.stabilityRates, si.lastStability, asset, now)
}

func stream(rates map[string]*big.Int, last map[string]int64, asset string, now int64) *big.Int {
	rate, ok := rates[asset]
	if !ok {
		return new(big.Int)
	}
	prev := last[asset]
	if now <= prev {
		return new(big.Int)
	}
	last[asset] = now
	return new(big.Int).Mul(rate, big.NewInt(now-prev))
}

// effective clamp used by the fee model and the engines
func clampRate(rate, floor *big.Int) *big.Int {
	out := fp.Max(rate, floor)
	return fp.Min(out, fp.Precision)
}
