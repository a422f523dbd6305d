package persistence

import (
	"context"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"math/big"
	"time"

	"github.com/google/uuid"

	"stablecore/internal/core"
	"stablecore/internal/ledger"
)

// SnapshotManager handles creating and loading state snapshots for
// recovery. A snapshot carries balances, the trove ledger, stability
// pools, surplus entries, sequence counters, recent idempotency keys,
// and the last state hash. Prices and fee decay state are not
// snapshotted: the feed republishes after restart.
type SnapshotManager struct {
	db *sql.DB
}

// SnapshotData is the JSON-serializable form of core.SnapshotState.
type SnapshotData struct {
	Sequence        int64             `json:"sequence"`
	StateHash       []byte            `json:"state_hash"`
	PrevHash        []byte            `json:"prev_hash"`
	Balances        []BalanceSnap     `json:"balances"`
	Troves          json.RawMessage   `json:"troves"`
	Pools           json.RawMessage   `json:"pools"`
	Surplus         json.RawMessage   `json:"surplus"`
	SequenceState   map[string]int64  `json:"sequence_state"` // partition -> next expected seq
	IdempotencyKeys []string          `json:"idempotency_keys"`
	CreatedAt       time.Time         `json:"created_at"`
}

// BalanceSnap is a serializable ledger account balance. The asset is
// stored by symbol because numeric asset IDs are assigned in
// registration order and may differ across restarts.
type BalanceSnap struct {
	Scope    uint8  `json:"scope"`
	EntityID string `json:"entity_id"` // hex-encoded 16 bytes
	SubType  uint8  `json:"sub_type"`
	Asset    string `json:"asset"`
	Balance  string `json:"balance"`
}

// SnapshotFromCore converts the core's in-memory snapshot into the
// serializable form.
func SnapshotFromCore(snap *core.SnapshotState) (*SnapshotData, error) {
	balances := make([]BalanceSnap, 0, len(snap.Balances))
	for key, bal := range snap.Balances {
		assetName, ok := ledger.GetAssetName(key.AssetID)
		if !ok {
			return nil, fmt.Errorf("unknown asset id %d in balance snapshot", key.AssetID)
		}
		balances = append(balances, BalanceSnap{
			Scope:    uint8(key.Scope),
			EntityID: hex.EncodeToString(key.EntityID[:]),
			SubType:  uint8(key.SubType),
			Asset:    assetName,
			Balance:  bal.String(),
		})
	}

	troves, err := json.Marshal(snap.Troves)
	if err != nil {
		return nil, fmt.Errorf("marshal trove export: %w", err)
	}
	pools, err := json.Marshal(snap.Pools)
	if err != nil {
		return nil, fmt.Errorf("marshal pool export: %w", err)
	}
	surplus, err := json.Marshal(snap.Surplus)
	if err != nil {
		return nil, fmt.Errorf("marshal surplus export: %w", err)
	}

	return &SnapshotData{
		Sequence:        snap.Sequence,
		StateHash:       snap.StateHash[:],
		PrevHash:        snap.PrevHash[:],
		Balances:        balances,
		Troves:          troves,
		Pools:           pools,
		Surplus:         surplus,
		SequenceState:   snap.SequenceState,
		IdempotencyKeys: snap.IdempotencyKeys,
		CreatedAt:       time.Now().UTC(),
	}, nil
}

// ToCore converts the serialized snapshot back into the core's form.
// Collateral symbols found in the trove export are registered first,
// so balances resolve even when config no longer lists an asset.
func (sd *SnapshotData) ToCore() (*core.SnapshotState, error) {
	snap := &core.SnapshotState{
		Sequence:        sd.Sequence,
		Balances:        make(map[ledger.AccountKey]*big.Int, len(sd.Balances)),
		SequenceState:   sd.SequenceState,
		IdempotencyKeys: sd.IdempotencyKeys,
	}
	copy(snap.StateHash[:], sd.StateHash)
	copy(snap.PrevHash[:], sd.PrevHash)

	if err := json.Unmarshal(sd.Troves, &snap.Troves); err != nil {
		return nil, fmt.Errorf("unmarshal trove export: %w", err)
	}
	if snap.Troves != nil {
		for _, ax := range snap.Troves.Assets {
			ledger.RegisterAsset(ax.Symbol)
		}
	}

	for _, b := range sd.Balances {
		assetID, ok := ledger.GetAssetID(b.Asset)
		if !ok {
			return nil, fmt.Errorf("asset %s in snapshot is not registered", b.Asset)
		}
		entity, err := hex.DecodeString(b.EntityID)
		if err != nil || len(entity) != 16 {
			return nil, fmt.Errorf("bad entity id %q in snapshot", b.EntityID)
		}
		key := ledger.AccountKey{
			Scope:   ledger.AccountScope(b.Scope),
			SubType: ledger.AccountSubType(b.SubType),
			AssetID: assetID,
		}
		copy(key.EntityID[:], entity)

		bal, ok := new(big.Int).SetString(b.Balance, 10)
		if !ok {
			return nil, fmt.Errorf("bad balance %q in snapshot", b.Balance)
		}
		snap.Balances[key] = bal
	}

	if err := json.Unmarshal(sd.Pools, &snap.Pools); err != nil {
		return nil, fmt.Errorf("unmarshal pool export: %w", err)
	}
	if err := json.Unmarshal(sd.Surplus, &snap.Surplus); err != nil {
		return nil, fmt.Errorf("unmarshal surplus export: %w", err)
	}

	return snap, nil
}

func NewSnapshotManager(db *sql.DB) *SnapshotManager {
	return &SnapshotManager{db: db}
}

// SaveSnapshot persists a snapshot to Postgres. Snapshots are taken
// periodically and marked verified after a replay check.
func (sm *SnapshotManager) SaveSnapshot(ctx context.Context, snap *SnapshotData) error {
	data, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("marshal snapshot: %w", err)
	}

	snapshotID := uuid.New()
	sizeBytes := len(data)
	formatVersion := int32(1) // v1: JSON-encoded SnapshotData

	_, err = sm.db.ExecContext(ctx, `
		INSERT INTO event_log.snapshots
			(snapshot_id, sequence, data, state_hash, format_version, size_bytes, verified, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, FALSE, $7)
		ON CONFLICT (sequence) DO UPDATE SET data = $3, state_hash = $4, size_bytes = $6
	`, snapshotID, snap.Sequence, data, snap.StateHash, formatVersion, sizeBytes, snap.CreatedAt)

	return err
}

// LoadLatestSnapshot loads the most recent verified snapshot. Returns
// nil on cold start.
func (sm *SnapshotManager) LoadLatestSnapshot(ctx context.Context) (*SnapshotData, error) {
	row := sm.db.QueryRowContext(ctx, `
		SELECT data FROM event_log.snapshots
		WHERE verified = TRUE
		ORDER BY sequence DESC
		LIMIT 1
	`)

	var data []byte
	if err := row.Scan(&data); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("load snapshot: %w", err)
	}

	var snap SnapshotData
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, fmt.Errorf("unmarshal snapshot: %w", err)
	}

	return &snap, nil
}

// MarkVerified marks a snapshot as verified after integrity check.
func (sm *SnapshotManager) MarkVerified(ctx context.Context, sequence int64) error {
	_, err := sm.db.ExecContext(ctx, `
		UPDATE event_log.snapshots SET verified = TRUE WHERE sequence = $1
	`, sequence)
	return err
}

// LoadEventsFrom loads events from a given sequence for replay. Used
// for warm restart (replay from snapshot) and cold restart (replay all).
func (sm *SnapshotManager) LoadEventsFrom(ctx context.Context, fromSequence int64, limit int) ([]EventRow, error) {
	rows, err := sm.db.QueryContext(ctx, `
		SELECT sequence, event_type, idempotency_key, asset, payload,
		       state_hash, prev_hash, timestamp, source_sequence
		FROM event_log.events
		WHERE sequence >= $1
		ORDER BY sequence ASC
		LIMIT $2
	`, fromSequence, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []EventRow
	for rows.Next() {
		var e EventRow
		if err := rows.Scan(
			&e.Sequence, &e.EventType, &e.IdempotencyKey, &e.AssetID,
			&e.Payload, &e.StateHash, &e.PrevHash, &e.Timestamp, &e.SourceSequence,
		); err != nil {
			return nil, err
		}
		events = append(events, e)
	}

	return events, rows.Err()
}

// GetLatestSequence returns the highest sequence in the event log.
func (sm *SnapshotManager) GetLatestSequence(ctx context.Context) (int64, error) {
	var seq sql.NullInt64
	err := sm.db.QueryRowContext(ctx, `
		SELECT MAX(sequence) FROM event_log.events
	`).Scan(&seq)
	if err != nil {
		return 0, err
	}
	if !seq.Valid {
		return 0, nil // Empty event log
	}
	return seq.Int64, nil
}
