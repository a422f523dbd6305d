package ledger_test

import (
	"math/big"
	"testing"

	"github.com/google/uuid"

	"stablecore/internal/engine"
	"stablecore/internal/event"
	"stablecore/internal/ledger"
)

func e18(n int64) *big.Int {
	return new(big.Int).Mul(big.NewInt(n), big.NewInt(1_000_000_000_000_000_000))
}

// ============================================================================
// Test: AccountKey
// ============================================================================

func TestAccountKey_UserPath(t *testing.T) {
	userID := uuid.MustParse("550e8400-e29b-41d4-a716-446655440000")
	key := ledger.NewUserAccountKey(userID, ledger.SubTypeStable, ledger.AssetIDStable)

	path := key.AccountPath()
	expected := "user:550e8400-e29b-41d4-a716-446655440000:stable:STABLE"
	if path != expected {
		t.Errorf("got %q, want %q", path, expected)
	}
}

func TestAccountKey_SystemPath(t *testing.T) {
	assetID := ledger.RegisterAsset("ETH")
	key := ledger.NewSystemAccountKey("ETH", ledger.SubTypeSystemActivePool, assetID)

	path := key.AccountPath()
	if path != "system:active_pool:ETH" {
		t.Errorf("got %q, want %q", path, "system:active_pool:ETH")
	}
}

func TestAccountKey_ExternalPath(t *testing.T) {
	key := ledger.NewExternalAccountKey(ledger.SubTypeExternalMint, ledger.AssetIDStable)

	path := key.AccountPath()
	if path != "external:mint:STABLE" {
		t.Errorf("got %q, want %q", path, "external:mint:STABLE")
	}
}

func TestRegisterAsset_Idempotent(t *testing.T) {
	first := ledger.RegisterAsset("WBTC")
	second := ledger.RegisterAsset("WBTC")
	if first != second {
		t.Errorf("re-registering returned a new id: %d vs %d", first, second)
	}

	name, ok := ledger.GetAssetName(first)
	if !ok || name != "WBTC" {
		t.Errorf("reverse lookup failed: %q %v", name, ok)
	}
}

func TestGetAssetID_Unknown(t *testing.T) {
	_, ok := ledger.GetAssetID("DOGE")
	if ok {
		t.Error("DOGE should not be a known asset")
	}
}

// ============================================================================
// Test: Batch validation
// ============================================================================

func TestBatch_ValidateRejections(t *testing.T) {
	assetID := ledger.RegisterAsset("ETH")
	batchID := uuid.New()
	user := uuid.New()
	good := ledger.Journal{
		JournalID:     uuid.New(),
		BatchID:       batchID,
		DebitAccount:  ledger.NewUserAccountKey(user, ledger.SubTypeCollateral, assetID),
		CreditAccount: ledger.NewExternalAccountKey(ledger.SubTypeExternalCollateral, assetID),
		AssetID:       assetID,
		Amount:        e18(1),
	}

	empty := &ledger.Batch{BatchID: batchID}
	if err := empty.Validate(); err == nil {
		t.Error("empty batch should be rejected")
	}

	neg := good
	neg.Amount = big.NewInt(-1)
	if err := (&ledger.Batch{BatchID: batchID, Journals: []ledger.Journal{neg}}).Validate(); err == nil {
		t.Error("negative amount should be rejected")
	}

	wrongBatch := good
	wrongBatch.BatchID = uuid.New()
	if err := (&ledger.Batch{BatchID: batchID, Journals: []ledger.Journal{wrongBatch}}).Validate(); err == nil {
		t.Error("mismatched batch_id should be rejected")
	}

	self := good
	self.CreditAccount = self.DebitAccount
	if err := (&ledger.Batch{BatchID: batchID, Journals: []ledger.Journal{self}}).Validate(); err == nil {
		t.Error("self-transfer should be rejected")
	}

	crossAsset := good
	crossAsset.CreditAccount = ledger.NewExternalAccountKey(ledger.SubTypeExternalMint, ledger.AssetIDStable)
	if err := (&ledger.Batch{BatchID: batchID, Journals: []ledger.Journal{crossAsset}}).Validate(); err == nil {
		t.Error("cross-asset transfer should be rejected")
	}
}

// ============================================================================
// Test: BalanceTracker
// ============================================================================

func TestBalanceTracker_ApplyJournalZeroSum(t *testing.T) {
	bt := ledger.NewBalanceTracker()
	assetID := ledger.RegisterAsset("ETH")
	user := uuid.New()

	j := ledger.Journal{
		JournalID:     uuid.New(),
		BatchID:       uuid.New(),
		DebitAccount:  ledger.NewUserAccountKey(user, ledger.SubTypeCollateral, assetID),
		CreditAccount: ledger.NewExternalAccountKey(ledger.SubTypeExternalCollateral, assetID),
		AssetID:       assetID,
		Amount:        e18(5),
	}
	bt.ApplyJournal(j)

	if got := bt.GetUserCollateral(user, assetID); got.Cmp(e18(5)) != 0 {
		t.Errorf("collateral: got %s, want 5e18", got)
	}

	v := ledger.NewInvariantValidator(bt)
	if err := v.ValidateGlobalBalance(); err != nil {
		t.Errorf("ledger should be zero-sum: %v", err)
	}
}

func TestBalanceTracker_GetBalanceIsCopy(t *testing.T) {
	bt := ledger.NewBalanceTracker()
	user := uuid.New()
	j := ledger.Journal{
		JournalID:     uuid.New(),
		BatchID:       uuid.New(),
		DebitAccount:  ledger.NewUserAccountKey(user, ledger.SubTypeStable, ledger.AssetIDStable),
		CreditAccount: ledger.NewExternalAccountKey(ledger.SubTypeExternalMint, ledger.AssetIDStable),
		AssetID:       ledger.AssetIDStable,
		Amount:        e18(10),
	}
	bt.ApplyJournal(j)

	bal := bt.GetUserStable(user)
	bal.SetInt64(0)
	if got := bt.GetUserStable(user); got.Cmp(e18(10)) != 0 {
		t.Errorf("internal balance mutated through read: %s", got)
	}
}

func TestBalanceTracker_StableSupply(t *testing.T) {
	bt := ledger.NewBalanceTracker()
	user := uuid.New()
	j := ledger.Journal{
		JournalID:     uuid.New(),
		BatchID:       uuid.New(),
		DebitAccount:  ledger.NewUserAccountKey(user, ledger.SubTypeStable, ledger.AssetIDStable),
		CreditAccount: ledger.NewExternalAccountKey(ledger.SubTypeExternalMint, ledger.AssetIDStable),
		AssetID:       ledger.AssetIDStable,
		Amount:        e18(1200),
	}
	bt.ApplyJournal(j)

	if got := bt.StableSupply(); got.Cmp(e18(1200)) != 0 {
		t.Errorf("supply: got %s, want 1200e18", got)
	}
}

// ============================================================================
// Test: JournalGenerator
// ============================================================================

func TestGenerator_TroveOpen(t *testing.T) {
	bt := ledger.NewBalanceTracker()
	jg := ledger.NewJournalGenerator(1, bt)
	assetID := ledger.RegisterAsset("ETH")
	owner := uuid.New()

	evt := &event.TroveOpen{
		OpID:      uuid.New(),
		Owner:     owner,
		Asset:     "ETH",
		Coll:      e18(10),
		NetDebt:   e18(1000),
		Timestamp: 42,
	}
	batch, err := jg.GenerateTroveOpen(evt, e18(10), e18(3), e18(2), assetID)
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if err := bt.ApplyBatch(batch); err != nil {
		t.Fatalf("apply: %v", err)
	}

	// borrower keeps net debt minus the 5 fee
	if got := bt.GetUserStable(owner); got.Cmp(e18(995)) != 0 {
		t.Errorf("user stable: got %s, want 995e18", got)
	}
	if got := bt.GetSystemBalance("ETH", ledger.SubTypeSystemActivePool, assetID); got.Cmp(e18(10)) != 0 {
		t.Errorf("active pool: got %s, want 10e18", got)
	}
	if got := bt.GetSystemBalance("ETH", ledger.SubTypeSystemGasPool, ledger.AssetIDStable); got.Cmp(e18(10)) != 0 {
		t.Errorf("gas pool: got %s, want 10e18", got)
	}

	// minted = net debt + gas compensation
	if got := bt.StableSupply(); got.Cmp(e18(1010)) != 0 {
		t.Errorf("supply: got %s, want 1010e18", got)
	}

	v := ledger.NewInvariantValidator(bt)
	if err := v.ValidateGlobalBalance(); err != nil {
		t.Errorf("zero-sum violated: %v", err)
	}
	if err := v.ValidateGasPoolMatches("ETH", e18(10)); err != nil {
		t.Errorf("gas pool cross-check: %v", err)
	}

	if jg.Sequence() != 2 {
		t.Errorf("sequence should advance to 2, got %d", jg.Sequence())
	}
}

func TestGenerator_AdjustRepayPreCheck(t *testing.T) {
	bt := ledger.NewBalanceTracker()
	jg := ledger.NewJournalGenerator(1, bt)
	assetID := ledger.RegisterAsset("ETH")
	owner := uuid.New()

	// no stable minted yet, repaying must fail
	evt := &event.TroveAdjust{
		OpID:      uuid.New(),
		Owner:     owner,
		Asset:     "ETH",
		CollDelta: new(big.Int),
		DebtDelta: e18(-100),
	}
	if _, err := jg.GenerateTroveAdjust(evt, nil, nil, assetID); err == nil {
		t.Error("repay without balance should fail the pre-check")
	}
}

func TestGenerator_LiquidationBatch(t *testing.T) {
	bt := ledger.NewBalanceTracker()
	jg := ledger.NewJournalGenerator(1, bt)
	assetID := ledger.RegisterAsset("ETH")
	caller := uuid.New()

	// seed the pools the way an open + provide would
	open := &event.TroveOpen{OpID: uuid.New(), Owner: uuid.New(), Asset: "ETH", Coll: e18(10), NetDebt: e18(1500)}
	b1, _ := jg.GenerateTroveOpen(open, e18(10), nil, nil, assetID)
	if err := bt.ApplyBatch(b1); err != nil {
		t.Fatalf("seed open: %v", err)
	}
	provide := &event.StabilityProvide{OpID: uuid.New(), Depositor: open.Owner, Asset: "ETH", Amount: e18(1500)}
	b2, err := jg.GenerateStabilityProvide(provide, nil, assetID)
	if err != nil {
		t.Fatalf("seed provide: %v", err)
	}
	if err := bt.ApplyBatch(b2); err != nil {
		t.Fatalf("apply provide: %v", err)
	}

	res := &engine.BatchResult{
		Asset:                  "ETH",
		TotalDebtOffset:        e18(1500),
		TotalCollToPool:        e18(9),
		TotalDebtRedistributed: new(big.Int),
		TotalCollRedistributed: new(big.Int),
		TotalCollSurplus:       new(big.Int),
		TotalCollBonus:         new(big.Int).Quo(e18(1), big.NewInt(2)),
		TotalGasComp:           e18(10),
	}

	batch, err := jg.GenerateLiquidation("liq-1", caller, res, assetID, 43)
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if err := bt.ApplyBatch(batch); err != nil {
		t.Fatalf("apply: %v", err)
	}

	if got := bt.GetSystemBalance("ETH", ledger.SubTypeSystemStabilityPool, ledger.AssetIDStable); got.Sign() != 0 {
		t.Errorf("stability pool stable should drain to 0, got %s", got)
	}
	if got := bt.GetSystemBalance("ETH", ledger.SubTypeSystemStabilityPool, assetID); got.Cmp(e18(9)) != 0 {
		t.Errorf("stability pool collateral: got %s, want 9e18", got)
	}
	if got := bt.GetUserCollateral(caller, assetID); got.Cmp(res.TotalCollBonus) != 0 {
		t.Errorf("caller bonus: got %s, want %s", got, res.TotalCollBonus)
	}
	if got := bt.GetUserStable(caller); got.Cmp(e18(10)) != 0 {
		t.Errorf("caller gas comp: got %s, want 10e18", got)
	}

	v := ledger.NewInvariantValidator(bt)
	if err := v.ValidateGlobalBalance(); err != nil {
		t.Errorf("zero-sum violated: %v", err)
	}
	if err := v.ValidateSystemPoolsNonNegative("ETH", assetID); err != nil {
		t.Errorf("pool went negative: %v", err)
	}
}

func TestGenerator_FlashMintSupplyNeutral(t *testing.T) {
	bt := ledger.NewBalanceTracker()
	jg := ledger.NewJournalGenerator(1, bt)
	borrower := uuid.New()

	// seed the fee the borrower pays
	seed := ledger.Journal{
		JournalID:     uuid.New(),
		BatchID:       uuid.New(),
		DebitAccount:  ledger.NewUserAccountKey(borrower, ledger.SubTypeStable, ledger.AssetIDStable),
		CreditAccount: ledger.NewExternalAccountKey(ledger.SubTypeExternalMint, ledger.AssetIDStable),
		AssetID:       ledger.AssetIDStable,
		Amount:        e18(1),
	}
	bt.ApplyJournal(seed)
	supplyBefore := bt.StableSupply()

	evt := &event.FlashMint{
		OpID:     uuid.New(),
		Borrower: borrower,
		Amount:   e18(1_000_000),
		Fee:      e18(1),
	}
	batch, err := jg.GenerateFlashMint(evt)
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if err := bt.ApplyBatch(batch); err != nil {
		t.Fatalf("apply: %v", err)
	}

	if got := bt.StableSupply(); got.Cmp(supplyBefore) != 0 {
		t.Errorf("supply changed across flash mint: %s -> %s", supplyBefore, got)
	}
	if got := bt.GetUserStable(borrower); got.Sign() != 0 {
		t.Errorf("borrower should end with 0 after paying the fee, got %s", got)
	}
	if got := bt.GetSystemBalance("flash", ledger.SubTypeSystemReserveSink, ledger.AssetIDStable); got.Cmp(e18(1)) != 0 {
		t.Errorf("fee sink: got %s, want 1e18", got)
	}
}

func TestValidator_GasPoolDivergence(t *testing.T) {
	bt := ledger.NewBalanceTracker()
	v := ledger.NewInvariantValidator(bt)

	if err := v.ValidateGasPoolMatches("ETH", e18(10)); err == nil {
		t.Error("divergence should be reported")
	}
	if err := v.ValidateGasPoolMatches("ETH", new(big.Int)); err != nil {
		t.Errorf("zero-zero should match: %v", err)
	}
}
