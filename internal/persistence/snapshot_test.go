package persistence_test

import (
	"encoding/json"
	"math/big"
	"testing"

	"github.com/google/uuid"

	"stablecore/internal/core"
	"stablecore/internal/event"
	fp "stablecore/internal/math"
	"stablecore/internal/persistence"
	"stablecore/internal/state"
)

func e18(n int64) *big.Int {
	return new(big.Int).Mul(big.NewInt(n), fp.Precision)
}

func newPopulatedCore(t *testing.T) *core.DeterministicCore {
	t.Helper()

	persistChan := make(chan core.CoreOutput, 1024)
	projChan := make(chan core.CoreOutput, 1024)
	c := core.NewDeterministicCore(0, persistChan, projChan, nil, nil)

	params := state.DefaultAssetParams.Clone()
	params.Symbol = "ETH"
	params.MinNetDebt = e18(100)
	params.GasCompensation = e18(10)
	if err := c.ConfigureAsset(params, 0); err != nil {
		t.Fatalf("ConfigureAsset: %v", err)
	}

	owner := uuid.New()
	events := []event.Event{
		&event.PriceUpdate{Asset: "ETH", Price: e18(200), PriceSequence: 0, PriceTimestamp: 1_000},
		&event.TroveOpen{
			OpID: uuid.New(), Owner: owner, Asset: "ETH",
			Coll: e18(10), NetDebt: e18(1000),
			Sequence: 0, Timestamp: 1_001,
		},
		&event.StabilityProvide{
			OpID: uuid.New(), Depositor: owner, Asset: "ETH",
			Amount: e18(300),
			Sequence: 1, Timestamp: 1_002,
		},
	}
	for _, evt := range events {
		if err := c.ProcessEvent(evt); err != nil {
			t.Fatalf("ProcessEvent(%s): %v", evt.EventType(), err)
		}
	}
	return c
}

// The snapshot must survive the full path the manager uses: core form
// to row form, through JSON, and back.
func TestSnapshotRoundTrip(t *testing.T) {
	c := newPopulatedCore(t)

	coreSnap := c.CreateSnapshotState()
	sd, err := persistence.SnapshotFromCore(coreSnap)
	if err != nil {
		t.Fatalf("SnapshotFromCore: %v", err)
	}

	data, err := json.Marshal(sd)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var decoded persistence.SnapshotData
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}

	restored, err := decoded.ToCore()
	if err != nil {
		t.Fatalf("ToCore: %v", err)
	}

	if restored.Sequence != coreSnap.Sequence {
		t.Errorf("sequence: got %d, want %d", restored.Sequence, coreSnap.Sequence)
	}
	if restored.StateHash != coreSnap.StateHash {
		t.Errorf("state hash changed through serialization")
	}

	if len(restored.Balances) != len(coreSnap.Balances) {
		t.Fatalf("balances: got %d entries, want %d", len(restored.Balances), len(coreSnap.Balances))
	}
	for key, want := range coreSnap.Balances {
		got, ok := restored.Balances[key]
		if !ok {
			t.Errorf("balance for %s missing after round trip", key.AccountPath())
			continue
		}
		if got.Cmp(want) != 0 {
			t.Errorf("balance for %s: got %s, want %s", key.AccountPath(), got, want)
		}
	}

	for partition, want := range coreSnap.SequenceState {
		if got := restored.SequenceState[partition]; got != want {
			t.Errorf("sequence state %s: got %d, want %d", partition, got, want)
		}
	}
	if len(restored.IdempotencyKeys) != len(coreSnap.IdempotencyKeys) {
		t.Errorf("idempotency keys: got %d, want %d",
			len(restored.IdempotencyKeys), len(coreSnap.IdempotencyKeys))
	}
}

// Restoring into a fresh core must reproduce the trove ledger, the
// pool deposits, and the hash chain tip.
func TestSnapshotRestoreIntoFreshCore(t *testing.T) {
	c := newPopulatedCore(t)

	coreSnap := c.CreateSnapshotState()
	sd, err := persistence.SnapshotFromCore(coreSnap)
	if err != nil {
		t.Fatalf("SnapshotFromCore: %v", err)
	}
	restored, err := sd.ToCore()
	if err != nil {
		t.Fatalf("ToCore: %v", err)
	}

	persistChan := make(chan core.CoreOutput, 16)
	projChan := make(chan core.CoreOutput, 16)
	fresh := core.NewDeterministicCore(0, persistChan, projChan, nil, nil)
	if err := fresh.RestoreFromSnapshot(restored); err != nil {
		t.Fatalf("RestoreFromSnapshot: %v", err)
	}

	if fresh.GetSequence() != c.GetSequence() {
		t.Errorf("sequence: got %d, want %d", fresh.GetSequence(), c.GetSequence())
	}
	if fresh.GetStateHash() != c.GetStateHash() {
		t.Errorf("hash chain tip differs after restore")
	}

	wantColl := c.Troves().TotalColl("ETH")
	if got := fresh.Troves().TotalColl("ETH"); got.Cmp(wantColl) != 0 {
		t.Errorf("total collateral: got %s, want %s", got, wantColl)
	}
	wantDeposits := c.Pools().TotalDeposits("ETH")
	if got := fresh.Pools().TotalDeposits("ETH"); got.Cmp(wantDeposits) != 0 {
		t.Errorf("pool deposits: got %s, want %s", got, wantDeposits)
	}
}
