package state

import (
	"errors"
	"math/big"
	"sort"

	"github.com/google/uuid"

	fp "stablecore/internal/math"
)

var (
	ErrPoolEmpty      = errors.New("stability pool: no deposits to offset against")
	ErrNoDeposit      = errors.New("stability pool: depositor has no deposit")
	ErrZeroAmount     = errors.New("stability pool: amount must be positive")
	ErrOffsetTooLarge = errors.New("stability pool: offset exceeds total deposits")
)

// scaleFactor is the 1e9 shift applied to the running product P when
// an offset would push it below 1e9, trading one scale increment for
// nine decimal digits of headroom.
var scaleFactor = big.NewInt(1_000_000_000)

// poolDeposit is one depositor's stake plus the snapshot frame used
// to compound it lazily.
type poolDeposit struct {
	initialValue *big.Int
	p            *big.Int
	s            *big.Int
	g            *big.Int
	scale        int64
	epoch        int64
}

// poolState is the per-asset product-sum tracker. P compounds losses
// multiplicatively; S and G accumulate per-unit collateral and reward
// gains pre-multiplied by P so depositor gains divide by the
// snapshot P exactly once.
type poolState struct {
	totalDeposits *big.Int
	collBalance   *big.Int

	p            *big.Int
	currentScale int64
	currentEpoch int64
	sums         map[int64]map[int64]*big.Int // epoch -> scale -> S
	rewardSums   map[int64]map[int64]*big.Int // epoch -> scale -> G

	deposits map[uuid.UUID]*poolDeposit

	lastCollErr   *big.Int
	lastDebtErr   *big.Int
	lastRewardErr *big.Int
}

// StabilityPools manages one stability pool per collateral asset.
// Not safe for concurrent use; the deterministic core is the single
// writer.
type StabilityPools struct {
	pools    map[string]*poolState
	issuance RewardIssuance
}

func NewStabilityPools(issuance RewardIssuance) *StabilityPools {
	return &StabilityPools{
		pools:    make(map[string]*poolState),
		issuance: issuance,
	}
}

// Configure creates the pool for an asset if it does not exist yet.
func (sp *StabilityPools) Configure(asset string) {
	if _, ok := sp.pools[asset]; ok {
		return
	}
	ps := &poolState{
		totalDeposits: new(big.Int),
		collBalance:   new(big.Int),
		p:             new(big.Int).Set(fp.Precision),
		sums:          map[int64]map[int64]*big.Int{0: {0: new(big.Int)}},
		rewardSums:    map[int64]map[int64]*big.Int{0: {0: new(big.Int)}},
		deposits:      make(map[uuid.UUID]*poolDeposit),
		lastCollErr:   new(big.Int),
		lastDebtErr:   new(big.Int),
		lastRewardErr: new(big.Int),
	}
	sp.pools[asset] = ps
}

func (sp *StabilityPools) Supported(asset string) bool {
	_, ok := sp.pools[asset]
	return ok
}

// AssetSymbols returns configured assets in sorted order.
func (sp *StabilityPools) AssetSymbols() []string {
	out := make([]string, 0, len(sp.pools))
	for sym := range sp.pools {
		out = append(out, sym)
	}
	sort.Strings(out)
	return out
}

// PoolGains reports what a provide/withdraw paid out.
type PoolGains struct {
	CollGain   *big.Int
	RewardGain *big.Int
	Withdrawn  *big.Int
	NewDeposit *big.Int
}

// Provide adds stable to the depositor's position. Pending collateral
// and reward gains are paid out and the deposit is compounded before
// the top-up.
func (sp *StabilityPools) Provide(asset string, depositor uuid.UUID, amount *big.Int, now int64) (*PoolGains, error) {
	ps, ok := sp.pools[asset]
	if !ok {
		return nil, ErrUnknownAsset
	}
	if amount.Sign() <= 0 {
		return nil, ErrZeroAmount
	}
	sp.updateRewardGain(ps, asset, now)

	collGain := ps.depositorCollGain(depositor)
	rewardGain := ps.depositorRewardGain(depositor)
	compounded := ps.compoundedDeposit(depositor)

	newValue := new(big.Int).Add(compounded, amount)
	ps.totalDeposits.Add(ps.totalDeposits, amount)
	ps.collBalance.Sub(ps.collBalance, collGain)
	ps.snapshot(depositor, newValue)

	return &PoolGains{
		CollGain:   collGain,
		RewardGain: rewardGain,
		Withdrawn:  new(big.Int),
		NewDeposit: newValue,
	}, nil
}

// Withdraw removes up to amount of the compounded deposit and pays
// out pending gains. A zero amount just realizes gains. The caller
// enforces the no-trove-under-MCR guard for non-zero withdrawals.
func (sp *StabilityPools) Withdraw(asset string, depositor uuid.UUID, amount *big.Int, now int64) (*PoolGains, error) {
	ps, ok := sp.pools[asset]
	if !ok {
		return nil, ErrUnknownAsset
	}
	if amount.Sign() < 0 {
		return nil, ErrZeroAmount
	}
	d, ok := ps.deposits[depositor]
	if !ok || d.initialValue.Sign() == 0 {
		return nil, ErrNoDeposit
	}
	sp.updateRewardGain(ps, asset, now)

	collGain := ps.depositorCollGain(depositor)
	rewardGain := ps.depositorRewardGain(depositor)
	compounded := ps.compoundedDeposit(depositor)

	withdrawn := fp.Min(amount, compounded)
	newValue := new(big.Int).Sub(compounded, withdrawn)
	ps.totalDeposits.Sub(ps.totalDeposits, withdrawn)
	ps.collBalance.Sub(ps.collBalance, collGain)
	ps.snapshot(depositor, newValue)

	return &PoolGains{
		CollGain:   collGain,
		RewardGain: rewardGain,
		Withdrawn:  withdrawn,
		NewDeposit: newValue,
	}, nil
}

// Offset burns debtToOffset of pooled stable against collToAdd of
// seized collateral, spreading the loss over all deposits through P
// and crediting the gain through S.
func (sp *StabilityPools) Offset(asset string, debtToOffset, collToAdd *big.Int, now int64) error {
	ps, ok := sp.pools[asset]
	if !ok {
		return ErrUnknownAsset
	}
	if debtToOffset.Sign() <= 0 {
		return ErrZeroAmount
	}
	if ps.totalDeposits.Sign() == 0 {
		return ErrPoolEmpty
	}
	if debtToOffset.Cmp(ps.totalDeposits) > 0 {
		return ErrOffsetTooLarge
	}
	sp.updateRewardGain(ps, asset, now)

	collGainPerUnit, debtLossPerUnit := ps.perUnitAmounts(debtToOffset, collToAdd)
	ps.updateSumAndProduct(collGainPerUnit, debtLossPerUnit)

	ps.totalDeposits.Sub(ps.totalDeposits, debtToOffset)
	ps.collBalance.Add(ps.collBalance, collToAdd)
	return nil
}

// --- reads ---

func (sp *StabilityPools) TotalDeposits(asset string) *big.Int {
	return sp.read(asset, func(ps *poolState) *big.Int { return ps.totalDeposits })
}

func (sp *StabilityPools) CollBalance(asset string) *big.Int {
	return sp.read(asset, func(ps *poolState) *big.Int { return ps.collBalance })
}

func (sp *StabilityPools) Product(asset string) *big.Int {
	return sp.read(asset, func(ps *poolState) *big.Int { return ps.p })
}

func (sp *StabilityPools) ScaleEpoch(asset string) (scale, epoch int64) {
	ps, ok := sp.pools[asset]
	if !ok {
		return 0, 0
	}
	return ps.currentScale, ps.currentEpoch
}

// CompoundedDeposit is the depositor's current deposit after all
// offsets since their last snapshot.
func (sp *StabilityPools) CompoundedDeposit(asset string, depositor uuid.UUID) *big.Int {
	ps, ok := sp.pools[asset]
	if !ok {
		return new(big.Int)
	}
	return ps.compoundedDeposit(depositor)
}

// DepositorCollGain is the pending collateral gain.
func (sp *StabilityPools) DepositorCollGain(asset string, depositor uuid.UUID) *big.Int {
	ps, ok := sp.pools[asset]
	if !ok {
		return new(big.Int)
	}
	return ps.depositorCollGain(depositor)
}

// DepositorRewardGain is the pending community reward gain.
func (sp *StabilityPools) DepositorRewardGain(asset string, depositor uuid.UUID) *big.Int {
	ps, ok := sp.pools[asset]
	if !ok {
		return new(big.Int)
	}
	return ps.depositorRewardGain(depositor)
}

func (sp *StabilityPools) read(asset string, f func(*poolState) *big.Int) *big.Int {
	ps, ok := sp.pools[asset]
	if !ok {
		return new(big.Int)
	}
	return new(big.Int).Set(f(ps))
}

// --- internals ---

// updateRewardGain streams community issuance into G. The marginal
// gain carries the current P so depositor math can divide by the
// snapshot P uniformly.
func (sp *StabilityPools) updateRewardGain(ps *poolState, asset string, now int64) {
	if sp.issuance == nil || ps.totalDeposits.Sign() == 0 {
		return
	}
	amount := sp.issuance.IssueStabilityReward(asset, now)
	if amount == nil || amount.Sign() == 0 {
		return
	}
	num := new(big.Int).Mul(amount, fp.Precision)
	num.Add(num, ps.lastRewardErr)
	perUnit := new(big.Int).Quo(num, ps.totalDeposits)
	ps.lastRewardErr = num.Sub(num, new(big.Int).Mul(perUnit, ps.totalDeposits))

	marginal := new(big.Int).Mul(perUnit, ps.p)
	g := ps.currentG()
	g.Add(g, marginal)
}

// perUnitAmounts computes the per-unit collateral gain (floored, pool
// keeps the dust) and per-unit debt loss (ceiled, pool never
// under-burns). A full drain is exact by construction.
func (ps *poolState) perUnitAmounts(debtToOffset, collToAdd *big.Int) (gain, loss *big.Int) {
	collNum := new(big.Int).Mul(collToAdd, fp.Precision)
	collNum.Add(collNum, ps.lastCollErr)

	if debtToOffset.Cmp(ps.totalDeposits) == 0 {
		loss = new(big.Int).Set(fp.Precision)
		ps.lastDebtErr = new(big.Int)
	} else {
		debtNum := new(big.Int).Mul(debtToOffset, fp.Precision)
		debtNum.Sub(debtNum, ps.lastDebtErr)
		loss = new(big.Int).Quo(debtNum, ps.totalDeposits)
		loss.Add(loss, big.NewInt(1))
		ps.lastDebtErr = new(big.Int).Mul(loss, ps.totalDeposits)
		ps.lastDebtErr.Sub(ps.lastDebtErr, debtNum)
	}

	gain = new(big.Int).Quo(collNum, ps.totalDeposits)
	ps.lastCollErr = collNum.Sub(collNum, new(big.Int).Mul(gain, ps.totalDeposits))
	return gain, loss
}

func (ps *poolState) updateSumAndProduct(collGainPerUnit, debtLossPerUnit *big.Int) {
	if debtLossPerUnit.Cmp(fp.Precision) > 0 {
		panic("FATAL: stability pool: per-unit loss above one")
	}
	productFactor := new(big.Int).Sub(fp.Precision, debtLossPerUnit)

	marginalGain := new(big.Int).Mul(collGainPerUnit, ps.p)
	s := ps.currentS()
	s.Add(s, marginalGain)

	switch {
	case productFactor.Sign() == 0:
		// Full drain: every live deposit compounds to zero, a fresh
		// epoch opens with P reset.
		ps.currentEpoch++
		ps.currentScale = 0
		ps.p = new(big.Int).Set(fp.Precision)
		ps.sums[ps.currentEpoch] = map[int64]*big.Int{0: new(big.Int)}
		ps.rewardSums[ps.currentEpoch] = map[int64]*big.Int{0: new(big.Int)}
	default:
		newP := fp.Mul(ps.p, productFactor)
		if newP.Cmp(scaleFactor) < 0 {
			newP = new(big.Int).Mul(newP, scaleFactor)
			ps.currentScale++
		}
		if newP.Sign() == 0 {
			panic("FATAL: stability pool: product reached zero outside epoch reset")
		}
		ps.p = newP
	}
}

func (ps *poolState) currentS() *big.Int {
	return ps.sumAt(ps.sums, ps.currentEpoch, ps.currentScale)
}

func (ps *poolState) currentG() *big.Int {
	return ps.sumAt(ps.rewardSums, ps.currentEpoch, ps.currentScale)
}

func (ps *poolState) sumAt(m map[int64]map[int64]*big.Int, epoch, scale int64) *big.Int {
	scales, ok := m[epoch]
	if !ok {
		scales = make(map[int64]*big.Int)
		m[epoch] = scales
	}
	v, ok := scales[scale]
	if !ok {
		v = new(big.Int)
		scales[scale] = v
	}
	return v
}

// compoundedDeposit shrinks the initial value by the P ratio. One
// scale boundary costs a 1e9 shift; two or more, or an older epoch,
// means the deposit was fully consumed.
func (ps *poolState) compoundedDeposit(depositor uuid.UUID) *big.Int {
	d, ok := ps.deposits[depositor]
	if !ok || d.initialValue.Sign() == 0 {
		return new(big.Int)
	}
	if d.epoch < ps.currentEpoch {
		return new(big.Int)
	}
	scaleDiff := ps.currentScale - d.scale
	if scaleDiff >= 2 {
		return new(big.Int)
	}

	out := new(big.Int).Mul(d.initialValue, ps.p)
	out.Quo(out, d.p)
	if scaleDiff == 1 {
		out.Quo(out, scaleFactor)
	}
	// Rounding dust below a billionth of the original deposit is
	// treated as zero.
	dust := new(big.Int).Quo(d.initialValue, scaleFactor)
	if out.Cmp(dust) < 0 {
		return new(big.Int)
	}
	return out
}

func (ps *poolState) depositorCollGain(depositor uuid.UUID) *big.Int {
	d, ok := ps.deposits[depositor]
	if !ok || d.initialValue.Sign() == 0 {
		return new(big.Int)
	}
	return ps.gain(d, ps.sums, d.s)
}

func (ps *poolState) depositorRewardGain(depositor uuid.UUID) *big.Int {
	d, ok := ps.deposits[depositor]
	if !ok || d.initialValue.Sign() == 0 {
		return new(big.Int)
	}
	return ps.gain(d, ps.rewardSums, d.g)
}

// gain sums the portion earned at the snapshot scale and the
// 1e9-shifted portion from the following scale. Later scales are
// worth less than a billionth of the deposit and are ignored.
func (ps *poolState) gain(d *poolDeposit, m map[int64]map[int64]*big.Int, snap *big.Int) *big.Int {
	first := new(big.Int).Sub(ps.sumAt(m, d.epoch, d.scale), snap)
	second := new(big.Int).Quo(ps.sumAt(m, d.epoch, d.scale+1), scaleFactor)

	out := new(big.Int).Add(first, second)
	out.Mul(out, d.initialValue)
	out.Quo(out, d.p)
	out.Quo(out, fp.Precision)
	return out
}

// snapshot rebases the depositor's frame to the current P/S/G. A zero
// value clears the frame entirely.
func (ps *poolState) snapshot(depositor uuid.UUID, newValue *big.Int) {
	if newValue.Sign() == 0 {
		delete(ps.deposits, depositor)
		return
	}
	ps.deposits[depositor] = &poolDeposit{
		initialValue: new(big.Int).Set(newValue),
		p:            new(big.Int).Set(ps.p),
		s:            new(big.Int).Set(ps.currentS()),
		g:            new(big.Int).Set(ps.currentG()),
		scale:        ps.currentScale,
		epoch:        ps.currentEpoch,
	}
}
