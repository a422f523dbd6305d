package ingestion_test

import (
	"encoding/json"
	"math/big"
	"testing"
	"time"

	"stablecore/internal/event"
	"stablecore/internal/ingestion"
)

func rawFromJSON(t *testing.T, v interface{}) ingestion.RawEvent {
	t.Helper()
	data, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	return ingestion.RawEvent{
		Subject:   "test",
		Data:      data,
		Timestamp: time.Now(),
		AckFunc:   func() {},
		NakFunc:   func() {},
	}
}

func bigFromString(t *testing.T, s string) *big.Int {
	t.Helper()
	v, ok := new(big.Int).SetString(s, 10)
	if !ok {
		t.Fatalf("bad big int literal %q", s)
	}
	return v
}

func TestParseTroveOpen(t *testing.T) {
	payload := map[string]interface{}{
		"op_id":     "550e8400-e29b-41d4-a716-446655440000",
		"owner":     "660e8400-e29b-41d4-a716-446655440001",
		"asset":     "ETH",
		"coll":      "10000000000000000000",
		"net_debt":  "2000000000000000000000",
		"prev_hint": "770e8400-e29b-41d4-a716-446655440002",
		"sequence":  int64(42),
		"timestamp": int64(1700000000),
	}

	raw := rawFromJSON(t, payload)
	evt, err := ingestion.ParseRawEvent(raw, "TroveOpen")
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}

	to, ok := evt.(*event.TroveOpen)
	if !ok {
		t.Fatalf("expected *event.TroveOpen, got %T", evt)
	}

	if to.Asset != "ETH" {
		t.Errorf("asset: got %s, want ETH", to.Asset)
	}
	if to.Coll.Cmp(bigFromString(t, "10000000000000000000")) != 0 {
		t.Errorf("coll: got %s", to.Coll)
	}
	if to.NetDebt.Cmp(bigFromString(t, "2000000000000000000000")) != 0 {
		t.Errorf("net_debt: got %s", to.NetDebt)
	}
	if to.PrevHint.String() != "770e8400-e29b-41d4-a716-446655440002" {
		t.Errorf("prev_hint: got %s", to.PrevHint)
	}
	if to.NextHint.String() != "00000000-0000-0000-0000-000000000000" {
		t.Errorf("absent next_hint should parse as uuid.Nil, got %s", to.NextHint)
	}
	if to.Sequence != 42 {
		t.Errorf("sequence: got %d, want 42", to.Sequence)
	}
	if to.EventType() != event.EventTypeTroveOpen {
		t.Errorf("event type: got %v, want TroveOpen", to.EventType())
	}
}

func TestParseTroveAdjust_SignedDeltas(t *testing.T) {
	payload := map[string]interface{}{
		"op_id":      "550e8400-e29b-41d4-a716-446655440000",
		"owner":      "660e8400-e29b-41d4-a716-446655440001",
		"asset":      "ETH",
		"coll_delta": "-1000000000000000000",
		"debt_delta": "500000000000000000000",
		"sequence":   int64(7),
		"timestamp":  int64(1700000000),
	}

	raw := rawFromJSON(t, payload)
	evt, err := ingestion.ParseRawEvent(raw, "TroveAdjust")
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}

	ta, ok := evt.(*event.TroveAdjust)
	if !ok {
		t.Fatalf("expected *event.TroveAdjust, got %T", evt)
	}

	if ta.CollDelta.Sign() != -1 {
		t.Errorf("coll_delta should be negative, got %s", ta.CollDelta)
	}
	if ta.DebtDelta.Sign() != 1 {
		t.Errorf("debt_delta should be positive, got %s", ta.DebtDelta)
	}
}

func TestParsePriceUpdate(t *testing.T) {
	payload := map[string]interface{}{
		"asset":           "ETH",
		"price":           "200000000000000000000",
		"price_sequence":  int64(100),
		"price_timestamp": int64(1700000000),
	}

	raw := rawFromJSON(t, payload)
	evt, err := ingestion.ParseRawEvent(raw, "PriceUpdate")
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}

	pu, ok := evt.(*event.PriceUpdate)
	if !ok {
		t.Fatalf("expected *event.PriceUpdate, got %T", evt)
	}

	if pu.Asset != "ETH" {
		t.Errorf("asset: got %s, want ETH", pu.Asset)
	}
	if pu.Price.Cmp(bigFromString(t, "200000000000000000000")) != 0 {
		t.Errorf("price: got %s", pu.Price)
	}
	if pu.PriceSequence != 100 {
		t.Errorf("price_sequence: got %d, want 100", pu.PriceSequence)
	}
}

func TestParseAssetParamUpdate(t *testing.T) {
	payload := map[string]interface{}{
		"asset":                     "WBTC",
		"decimals":                  int32(18),
		"mcr":                       "1100000000000000000",
		"ccr":                       "1500000000000000000",
		"min_net_debt":              "100000000000000000000",
		"gas_compensation":          "10000000000000000000",
		"collateral_cap":            "0",
		"liquidation_bonus_divisor": int64(200),
		"borrow_fee_floor":          "5000000000000000",
		"redemption_fee_floor":      "5000000000000000",
		"reserve_factor":            "500000000000000000",
		"interest_rate_per_second":  "0",
		"issuance_rate_per_second":  "0",
		"redemption_hint_tolerance": "10000000000000000",
		"effective_seq":             int64(99),
		"sequence":                  int64(1),
		"timestamp":                 int64(1700000000),
	}

	raw := rawFromJSON(t, payload)
	evt, err := ingestion.ParseRawEvent(raw, "AssetParamUpdate")
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}

	ap, ok := evt.(*event.AssetParamUpdate)
	if !ok {
		t.Fatalf("expected *event.AssetParamUpdate, got %T", evt)
	}

	if ap.Asset != "WBTC" {
		t.Errorf("asset: got %s, want WBTC", ap.Asset)
	}
	if ap.MCR.Cmp(bigFromString(t, "1100000000000000000")) != 0 {
		t.Errorf("mcr: got %s", ap.MCR)
	}
	if ap.LiquidationBonusDivisor != 200 {
		t.Errorf("liquidation_bonus_divisor: got %d, want 200", ap.LiquidationBonusDivisor)
	}
	if ap.EffectiveSeq != 99 {
		t.Errorf("effective_seq: got %d, want 99", ap.EffectiveSeq)
	}
}

func TestParseRedeem_PartialHint(t *testing.T) {
	payload := map[string]interface{}{
		"op_id":             "550e8400-e29b-41d4-a716-446655440000",
		"redeemer":          "660e8400-e29b-41d4-a716-446655440001",
		"asset":             "ETH",
		"amount":            "6000000000000000000000",
		"max_iterations":    int32(10),
		"partial_nicr":      "27777777777777777",
		"partial_prev_hint": "770e8400-e29b-41d4-a716-446655440002",
		"sequence":          int64(3),
		"timestamp":         int64(1700000000),
	}

	raw := rawFromJSON(t, payload)
	evt, err := ingestion.ParseRawEvent(raw, "Redeem")
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}

	rd, ok := evt.(*event.Redeem)
	if !ok {
		t.Fatalf("expected *event.Redeem, got %T", evt)
	}

	if rd.MaxIterations != 10 {
		t.Errorf("max_iterations: got %d, want 10", rd.MaxIterations)
	}
	if rd.PartialNICR == nil || rd.PartialNICR.Cmp(bigFromString(t, "27777777777777777")) != 0 {
		t.Errorf("partial_nicr: got %v", rd.PartialNICR)
	}
}

func TestParseRedeem_NoPartialNICR(t *testing.T) {
	payload := map[string]interface{}{
		"op_id":     "550e8400-e29b-41d4-a716-446655440000",
		"redeemer":  "660e8400-e29b-41d4-a716-446655440001",
		"asset":     "ETH",
		"amount":    "1000000000000000000000",
		"sequence":  int64(3),
		"timestamp": int64(1700000000),
	}

	raw := rawFromJSON(t, payload)
	evt, err := ingestion.ParseRawEvent(raw, "Redeem")
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}

	rd := evt.(*event.Redeem)
	if rd.PartialNICR != nil {
		t.Errorf("absent partial_nicr should stay nil, got %s", rd.PartialNICR)
	}
}

func TestParseLiquidate_Targets(t *testing.T) {
	payload := map[string]interface{}{
		"op_id":  "550e8400-e29b-41d4-a716-446655440000",
		"caller": "660e8400-e29b-41d4-a716-446655440001",
		"asset":  "ETH",
		"targets": []string{
			"770e8400-e29b-41d4-a716-446655440002",
			"880e8400-e29b-41d4-a716-446655440003",
		},
		"sequence":  int64(5),
		"timestamp": int64(1700000000),
	}

	raw := rawFromJSON(t, payload)
	evt, err := ingestion.ParseRawEvent(raw, "Liquidate")
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}

	lq, ok := evt.(*event.Liquidate)
	if !ok {
		t.Fatalf("expected *event.Liquidate, got %T", evt)
	}

	if len(lq.Targets) != 2 {
		t.Fatalf("targets: got %d, want 2", len(lq.Targets))
	}
	if lq.Targets[0].String() != "770e8400-e29b-41d4-a716-446655440002" {
		t.Errorf("targets[0]: got %s", lq.Targets[0])
	}
}

func TestParseFlashMint(t *testing.T) {
	payload := map[string]interface{}{
		"op_id":     "550e8400-e29b-41d4-a716-446655440000",
		"borrower":  "660e8400-e29b-41d4-a716-446655440001",
		"amount":    "1000000000000000000000",
		"fee":       "500000000000000000",
		"sequence":  int64(0),
		"timestamp": int64(1700000000),
	}

	raw := rawFromJSON(t, payload)
	evt, err := ingestion.ParseRawEvent(raw, "FlashMint")
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}

	fm, ok := evt.(*event.FlashMint)
	if !ok {
		t.Fatalf("expected *event.FlashMint, got %T", evt)
	}
	if fm.AssetID() != nil {
		t.Error("flash mint should be a global event")
	}
	if fm.Fee.Cmp(bigFromString(t, "500000000000000000")) != 0 {
		t.Errorf("fee: got %s", fm.Fee)
	}
}

func TestParseUnknownEventType_Fails(t *testing.T) {
	raw := ingestion.RawEvent{Data: []byte(`{}`)}
	_, err := ingestion.ParseRawEvent(raw, "NonExistentType")
	if err == nil {
		t.Fatal("expected error for unknown event type")
	}
}

func TestParseInvalidJSON_Fails(t *testing.T) {
	raw := ingestion.RawEvent{Data: []byte(`{invalid json`)}
	_, err := ingestion.ParseRawEvent(raw, "TroveOpen")
	if err == nil {
		t.Fatal("expected error for invalid JSON")
	}
}

func TestParseInvalidUUID_Fails(t *testing.T) {
	payload := map[string]interface{}{
		"op_id":     "not-a-uuid",
		"owner":     "also-not-a-uuid",
		"asset":     "ETH",
		"coll":      "1",
		"net_debt":  "1",
		"sequence":  int64(0),
		"timestamp": int64(0),
	}

	raw := rawFromJSON(t, payload)
	_, err := ingestion.ParseRawEvent(raw, "TroveOpen")
	if err == nil {
		t.Fatal("expected error for invalid UUID")
	}
}

func TestParseInvalidAmount_Fails(t *testing.T) {
	payload := map[string]interface{}{
		"op_id":     "550e8400-e29b-41d4-a716-446655440000",
		"owner":     "660e8400-e29b-41d4-a716-446655440001",
		"asset":     "ETH",
		"coll":      "ten ether",
		"net_debt":  "1",
		"sequence":  int64(0),
		"timestamp": int64(0),
	}

	raw := rawFromJSON(t, payload)
	_, err := ingestion.ParseRawEvent(raw, "TroveOpen")
	if err == nil {
		t.Fatal("expected error for non-numeric amount")
	}
}
