package state

import (
	"errors"
	"math/big"
	"sort"

	"github.com/google/uuid"
)

var ErrNoSurplus = errors.New("surplus pool: nothing to claim")

// SurplusPool holds collateral owed back to borrowers after capped
// recovery-mode liquidations and redemption leftovers. Balances are
// per (asset, borrower) and claimable in full only.
type SurplusPool struct {
	balances map[string]map[uuid.UUID]*big.Int
	totals   map[string]*big.Int
}

func NewSurplusPool() *SurplusPool {
	return &SurplusPool{
		balances: make(map[string]map[uuid.UUID]*big.Int),
		totals:   make(map[string]*big.Int),
	}
}

// Credit adds claimable collateral for a borrower.
func (sp *SurplusPool) Credit(asset string, owner uuid.UUID, amount *big.Int) {
	if amount == nil || amount.Sign() <= 0 {
		return
	}
	byOwner, ok := sp.balances[asset]
	if !ok {
		byOwner = make(map[uuid.UUID]*big.Int)
		sp.balances[asset] = byOwner
		sp.totals[asset] = new(big.Int)
	}
	bal, ok := byOwner[owner]
	if !ok {
		bal = new(big.Int)
		byOwner[owner] = bal
	}
	bal.Add(bal, amount)
	sp.totals[asset].Add(sp.totals[asset], amount)
}

// Claim drains the borrower's full balance for an asset.
func (sp *SurplusPool) Claim(asset string, owner uuid.UUID) (*big.Int, error) {
	byOwner, ok := sp.balances[asset]
	if !ok {
		return nil, ErrNoSurplus
	}
	bal, ok := byOwner[owner]
	if !ok || bal.Sign() == 0 {
		return nil, ErrNoSurplus
	}
	delete(byOwner, owner)
	sp.totals[asset].Sub(sp.totals[asset], bal)
	return bal, nil
}

// BalanceOf reads without draining.
func (sp *SurplusPool) BalanceOf(asset string, owner uuid.UUID) *big.Int {
	if byOwner, ok := sp.balances[asset]; ok {
		if bal, ok := byOwner[owner]; ok {
			return new(big.Int).Set(bal)
		}
	}
	return new(big.Int)
}

// Total is the aggregate surplus held for an asset.
func (sp *SurplusPool) Total(asset string) *big.Int {
	if t, ok := sp.totals[asset]; ok {
		return new(big.Int).Set(t)
	}
	return new(big.Int)
}

// AssetSymbols returns assets with recorded surplus in sorted order.
func (sp *SurplusPool) AssetSymbols() []string {
	out := make([]string, 0, len(sp.balances))
	for sym := range sp.balances {
		out = append(out, sym)
	}
	sort.Strings(out)
	return out
}
