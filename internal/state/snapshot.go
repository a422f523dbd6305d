package state

import (
	"fmt"
	"math/big"
	"sort"

	"github.com/google/uuid"
)

// Export structures capture the full domain state in a deterministic,
// JSON-friendly form. Slices are sorted, big.Int values are decimal
// strings. The same bytes feed both warm-restart snapshots and the
// per-operation state digest, so determinism here is load-bearing.

type ParamsExport struct {
	Symbol                  string `json:"symbol"`
	Decimals                uint8  `json:"decimals"`
	MCR                     string `json:"mcr"`
	CCR                     string `json:"ccr"`
	MinNetDebt              string `json:"min_net_debt"`
	GasCompensation         string `json:"gas_compensation"`
	CollateralCap           string `json:"collateral_cap"`
	LiquidationBonusDivisor int64  `json:"liquidation_bonus_divisor"`
	RedemptionFeeFloor      string `json:"redemption_fee_floor"`
	BorrowFeeFloor          string `json:"borrow_fee_floor"`
	ReserveFactor           string `json:"reserve_factor"`
	InterestRatePerSecond   string `json:"interest_rate_per_second"`
	IssuanceRatePerSecond   string `json:"issuance_rate_per_second"`
	RedemptionHintTolerance string `json:"redemption_hint_tolerance"`
	MaxTroves               int    `json:"max_troves"`
	EffectiveSeq            int64  `json:"effective_seq"`
}

type TroveExport struct {
	Owner          uuid.UUID `json:"owner"`
	Status         int32     `json:"status"`
	Stake          string    `json:"stake"`
	NormDebt       string    `json:"norm_debt"`
	GasComp        string    `json:"gas_comp"`
	DebtSnapshot   string    `json:"debt_snapshot"`
	RewardSnapshot string    `json:"reward_snapshot"`
	Version        int64     `json:"version"`
}

type ClaimExport struct {
	Owner  uuid.UUID `json:"owner"`
	Amount string    `json:"amount"`
}

type AssetExport struct {
	Symbol       string        `json:"symbol"`
	Params       ParamsExport  `json:"params"`
	Troves       []TroveExport `json:"troves"`
	ListOrder    []uuid.UUID   `json:"list_order"`
	TotalStakes  string        `json:"total_stakes"`
	TotalColl    string        `json:"total_coll"`
	TotalNorm    string        `json:"total_norm"`
	TotalGasComp string        `json:"total_gas_comp"`
	LDebt        string        `json:"l_debt"`
	LDebtErr     string        `json:"l_debt_err"`
	LReward      string        `json:"l_reward"`
	LRewardErr   string        `json:"l_reward_err"`
	DebtIndex    string        `json:"debt_index"`
	IndexUpdated int64         `json:"index_updated"`
	RewardClaims []ClaimExport `json:"reward_claims"`
}

type LedgerExport struct {
	Assets []AssetExport `json:"assets"`
}

type PoolDepositExport struct {
	Depositor    uuid.UUID `json:"depositor"`
	InitialValue string    `json:"initial_value"`
	P            string    `json:"p"`
	S            string    `json:"s"`
	G            string    `json:"g"`
	Scale        int64     `json:"scale"`
	Epoch        int64     `json:"epoch"`
}

type SumExport struct {
	Epoch int64  `json:"epoch"`
	Scale int64  `json:"scale"`
	Value string `json:"value"`
}

type PoolExport struct {
	Symbol        string              `json:"symbol"`
	TotalDeposits string              `json:"total_deposits"`
	CollBalance   string              `json:"coll_balance"`
	P             string              `json:"p"`
	CurrentScale  int64               `json:"current_scale"`
	CurrentEpoch  int64               `json:"current_epoch"`
	Sums          []SumExport         `json:"sums"`
	RewardSums    []SumExport         `json:"reward_sums"`
	Deposits      []PoolDepositExport `json:"deposits"`
	LastCollErr   string              `json:"last_coll_err"`
	LastDebtErr   string              `json:"last_debt_err"`
	LastRewardErr string              `json:"last_reward_err"`
}

type PoolsExport struct {
	Pools []PoolExport `json:"pools"`
}

type SurplusEntryExport struct {
	Asset  string    `json:"asset"`
	Owner  uuid.UUID `json:"owner"`
	Amount string    `json:"amount"`
}

type SurplusExport struct {
	Entries []SurplusEntryExport `json:"entries"`
}

// --- trove ledger ---

func (tl *TroveLedger) Export() *LedgerExport {
	out := &LedgerExport{}
	for _, sym := range tl.AssetSymbols() {
		as := tl.assets[sym]
		ax := AssetExport{
			Symbol:       sym,
			Params:       exportParams(as.params),
			TotalStakes:  as.totalStakes.String(),
			TotalColl:    as.totalColl.String(),
			TotalNorm:    as.totalNorm.String(),
			TotalGasComp: as.totalGasComp.String(),
			LDebt:        as.lDebt.String(),
			LDebtErr:     as.lDebtErr.String(),
			LReward:      as.lReward.String(),
			LRewardErr:   as.lRewardErr.String(),
			DebtIndex:    as.debtIndex.String(),
			IndexUpdated: as.indexUpdated,
		}
		owners := make([]uuid.UUID, 0, len(as.troves))
		for o := range as.troves {
			owners = append(owners, o)
		}
		sortUUIDs(owners)
		for _, o := range owners {
			tr := as.troves[o]
			ax.Troves = append(ax.Troves, TroveExport{
				Owner:          o,
				Status:         int32(tr.Status),
				Stake:          tr.Stake.String(),
				NormDebt:       tr.NormDebt.String(),
				GasComp:        tr.GasComp.String(),
				DebtSnapshot:   tr.DebtSnapshot.String(),
				RewardSnapshot: tr.RewardSnapshot.String(),
				Version:        tr.Version,
			})
		}
		for id := as.list.First(); id != uuid.Nil; id = as.list.Next(id) {
			ax.ListOrder = append(ax.ListOrder, id)
		}
		claimOwners := make([]uuid.UUID, 0, len(as.rewardClaims))
		for o := range as.rewardClaims {
			claimOwners = append(claimOwners, o)
		}
		sortUUIDs(claimOwners)
		for _, o := range claimOwners {
			ax.RewardClaims = append(ax.RewardClaims, ClaimExport{Owner: o, Amount: as.rewardClaims[o].String()})
		}
		out.Assets = append(out.Assets, ax)
	}
	return out
}

func (tl *TroveLedger) Restore(exp *LedgerExport) error {
	tl.assets = make(map[string]*assetState)
	for _, ax := range exp.Assets {
		params, err := restoreParams(&ax.Params)
		if err != nil {
			return err
		}
		if err := tl.Configure(params); err != nil {
			return err
		}
		as := tl.assets[ax.Symbol]
		if as.totalStakes, err = parseBig(ax.TotalStakes); err != nil {
			return err
		}
		if as.totalColl, err = parseBig(ax.TotalColl); err != nil {
			return err
		}
		if as.totalNorm, err = parseBig(ax.TotalNorm); err != nil {
			return err
		}
		if as.totalGasComp, err = parseBig(ax.TotalGasComp); err != nil {
			return err
		}
		if as.lDebt, err = parseBig(ax.LDebt); err != nil {
			return err
		}
		if as.lDebtErr, err = parseBig(ax.LDebtErr); err != nil {
			return err
		}
		if as.lReward, err = parseBig(ax.LReward); err != nil {
			return err
		}
		if as.lRewardErr, err = parseBig(ax.LRewardErr); err != nil {
			return err
		}
		if as.debtIndex, err = parseBig(ax.DebtIndex); err != nil {
			return err
		}
		as.indexUpdated = ax.IndexUpdated
		for _, tx := range ax.Troves {
			tr := &Trove{
				Owner:   tx.Owner,
				Asset:   ax.Symbol,
				Status:  TroveStatus(tx.Status),
				Version: tx.Version,
			}
			if tr.Stake, err = parseBig(tx.Stake); err != nil {
				return err
			}
			if tr.NormDebt, err = parseBig(tx.NormDebt); err != nil {
				return err
			}
			if tr.GasComp, err = parseBig(tx.GasComp); err != nil {
				return err
			}
			if tr.DebtSnapshot, err = parseBig(tx.DebtSnapshot); err != nil {
				return err
			}
			if tr.RewardSnapshot, err = parseBig(tx.RewardSnapshot); err != nil {
				return err
			}
			as.troves[tx.Owner] = tr
		}
		// Rebuild the list in saved order; each insert hints at the
		// previous entry so the rebuild is linear.
		prev := uuid.Nil
		for _, id := range ax.ListOrder {
			tr, ok := as.troves[id]
			if !ok || tr.Status != TroveActive {
				return fmt.Errorf("trove ledger: snapshot list references inactive trove %s", id)
			}
			nicr := nicrAdapter{as: as}.ListNICR(id)
			if err := as.list.Insert(id, nicr, prev, uuid.Nil); err != nil {
				return fmt.Errorf("trove ledger: snapshot list rebuild: %w", err)
			}
			prev = id
		}
		for _, cx := range ax.RewardClaims {
			amt, err := parseBig(cx.Amount)
			if err != nil {
				return err
			}
			as.rewardClaims[cx.Owner] = amt
		}
	}
	return nil
}

// --- stability pools ---

func (sp *StabilityPools) Export() *PoolsExport {
	out := &PoolsExport{}
	for _, sym := range sp.AssetSymbols() {
		ps := sp.pools[sym]
		px := PoolExport{
			Symbol:        sym,
			TotalDeposits: ps.totalDeposits.String(),
			CollBalance:   ps.collBalance.String(),
			P:             ps.p.String(),
			CurrentScale:  ps.currentScale,
			CurrentEpoch:  ps.currentEpoch,
			Sums:          exportSums(ps.sums),
			RewardSums:    exportSums(ps.rewardSums),
			LastCollErr:   ps.lastCollErr.String(),
			LastDebtErr:   ps.lastDebtErr.String(),
			LastRewardErr: ps.lastRewardErr.String(),
		}
		ids := make([]uuid.UUID, 0, len(ps.deposits))
		for id := range ps.deposits {
			ids = append(ids, id)
		}
		sortUUIDs(ids)
		for _, id := range ids {
			d := ps.deposits[id]
			px.Deposits = append(px.Deposits, PoolDepositExport{
				Depositor:    id,
				InitialValue: d.initialValue.String(),
				P:            d.p.String(),
				S:            d.s.String(),
				G:            d.g.String(),
				Scale:        d.scale,
				Epoch:        d.epoch,
			})
		}
		out.Pools = append(out.Pools, px)
	}
	return out
}

func (sp *StabilityPools) Restore(exp *PoolsExport) error {
	sp.pools = make(map[string]*poolState)
	for _, px := range exp.Pools {
		sp.Configure(px.Symbol)
		ps := sp.pools[px.Symbol]
		var err error
		if ps.totalDeposits, err = parseBig(px.TotalDeposits); err != nil {
			return err
		}
		if ps.collBalance, err = parseBig(px.CollBalance); err != nil {
			return err
		}
		if ps.p, err = parseBig(px.P); err != nil {
			return err
		}
		ps.currentScale = px.CurrentScale
		ps.currentEpoch = px.CurrentEpoch
		if ps.sums, err = restoreSums(px.Sums); err != nil {
			return err
		}
		if ps.rewardSums, err = restoreSums(px.RewardSums); err != nil {
			return err
		}
		if ps.lastCollErr, err = parseBig(px.LastCollErr); err != nil {
			return err
		}
		if ps.lastDebtErr, err = parseBig(px.LastDebtErr); err != nil {
			return err
		}
		if ps.lastRewardErr, err = parseBig(px.LastRewardErr); err != nil {
			return err
		}
		for _, dx := range px.Deposits {
			d := &poolDeposit{scale: dx.Scale, epoch: dx.Epoch}
			if d.initialValue, err = parseBig(dx.InitialValue); err != nil {
				return err
			}
			if d.p, err = parseBig(dx.P); err != nil {
				return err
			}
			if d.s, err = parseBig(dx.S); err != nil {
				return err
			}
			if d.g, err = parseBig(dx.G); err != nil {
				return err
			}
			ps.deposits[dx.Depositor] = d
		}
	}
	return nil
}

// --- surplus pool ---

func (sp *SurplusPool) Export() *SurplusExport {
	out := &SurplusExport{}
	for _, sym := range sp.AssetSymbols() {
		byOwner := sp.balances[sym]
		owners := make([]uuid.UUID, 0, len(byOwner))
		for o := range byOwner {
			owners = append(owners, o)
		}
		sortUUIDs(owners)
		for _, o := range owners {
			out.Entries = append(out.Entries, SurplusEntryExport{
				Asset:  sym,
				Owner:  o,
				Amount: byOwner[o].String(),
			})
		}
	}
	return out
}

func (sp *SurplusPool) Restore(exp *SurplusExport) error {
	sp.balances = make(map[string]map[uuid.UUID]*big.Int)
	sp.totals = make(map[string]*big.Int)
	for _, e := range exp.Entries {
		amt, err := parseBig(e.Amount)
		if err != nil {
			return err
		}
		sp.Credit(e.Asset, e.Owner, amt)
	}
	return nil
}

// --- helpers ---

func exportParams(p *AssetParams) ParamsExport {
	return ParamsExport{
		Symbol:                  p.Symbol,
		Decimals:                p.Decimals,
		MCR:                     p.MCR.String(),
		CCR:                     p.CCR.String(),
		MinNetDebt:              p.MinNetDebt.String(),
		GasCompensation:         p.GasCompensation.String(),
		CollateralCap:           bigOrZero(p.CollateralCap),
		LiquidationBonusDivisor: p.LiquidationBonusDivisor,
		RedemptionFeeFloor:      bigOrZero(p.RedemptionFeeFloor),
		BorrowFeeFloor:          bigOrZero(p.BorrowFeeFloor),
		ReserveFactor:           bigOrZero(p.ReserveFactor),
		InterestRatePerSecond:   p.InterestRatePerSecond.String(),
		IssuanceRatePerSecond:   p.IssuanceRatePerSecond.String(),
		RedemptionHintTolerance: p.RedemptionHintTolerance.String(),
		MaxTroves:               p.MaxTroves,
		EffectiveSeq:            p.EffectiveSeq,
	}
}

func restoreParams(px *ParamsExport) (*AssetParams, error) {
	p := &AssetParams{
		Symbol:                  px.Symbol,
		Decimals:                px.Decimals,
		LiquidationBonusDivisor: px.LiquidationBonusDivisor,
		MaxTroves:               px.MaxTroves,
		EffectiveSeq:            px.EffectiveSeq,
	}
	var err error
	if p.MCR, err = parseBig(px.MCR); err != nil {
		return nil, err
	}
	if p.CCR, err = parseBig(px.CCR); err != nil {
		return nil, err
	}
	if p.MinNetDebt, err = parseBig(px.MinNetDebt); err != nil {
		return nil, err
	}
	if p.GasCompensation, err = parseBig(px.GasCompensation); err != nil {
		return nil, err
	}
	if p.CollateralCap, err = parseBig(px.CollateralCap); err != nil {
		return nil, err
	}
	if p.RedemptionFeeFloor, err = parseBig(px.RedemptionFeeFloor); err != nil {
		return nil, err
	}
	if p.BorrowFeeFloor, err = parseBig(px.BorrowFeeFloor); err != nil {
		return nil, err
	}
	if p.ReserveFactor, err = parseBig(px.ReserveFactor); err != nil {
		return nil, err
	}
	if p.InterestRatePerSecond, err = parseBig(px.InterestRatePerSecond); err != nil {
		return nil, err
	}
	if p.IssuanceRatePerSecond, err = parseBig(px.IssuanceRatePerSecond); err != nil {
		return nil, err
	}
	if p.RedemptionHintTolerance, err = parseBig(px.RedemptionHintTolerance); err != nil {
		return nil, err
	}
	return p, nil
}

func exportSums(m map[int64]map[int64]*big.Int) []SumExport {
	var out []SumExport
	epochs := make([]int64, 0, len(m))
	for e := range m {
		epochs = append(epochs, e)
	}
	sort.Slice(epochs, func(i, j int) bool { return epochs[i] < epochs[j] })
	for _, e := range epochs {
		scales := make([]int64, 0, len(m[e]))
		for s := range m[e] {
			scales = append(scales, s)
		}
		sort.Slice(scales, func(i, j int) bool { return scales[i] < scales[j] })
		for _, s := range scales {
			out = append(out, SumExport{Epoch: e, Scale: s, Value: m[e][s].String()})
		}
	}
	return out
}

func restoreSums(in []SumExport) (map[int64]map[int64]*big.Int, error) {
	out := make(map[int64]map[int64]*big.Int)
	for _, sx := range in {
		v, err := parseBig(sx.Value)
		if err != nil {
			return nil, err
		}
		if _, ok := out[sx.Epoch]; !ok {
			out[sx.Epoch] = make(map[int64]*big.Int)
		}
		out[sx.Epoch][sx.Scale] = v
	}
	if _, ok := out[0]; !ok {
		out[0] = map[int64]*big.Int{0: new(big.Int)}
	}
	return out, nil
}

func parseBig(s string) (*big.Int, error) {
	if s == "" {
		return new(big.Int), nil
	}
	v, ok := new(big.Int).SetString(s, 10)
	if !ok {
		return nil, fmt.Errorf("state snapshot: bad integer %q", s)
	}
	return v, nil
}

func bigOrZero(v *big.Int) string {
	if v == nil {
		return "0"
	}
	return v.String()
}

func sortUUIDs(ids []uuid.UUID) {
	sort.Slice(ids, func(i, j int) bool {
		a, b := ids[i], ids[j]
		for k := 0; k < len(a); k++ {
			if a[k] != b[k] {
				return a[k] < b[k]
			}
		}
		return false
	})
}
