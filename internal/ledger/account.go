package ledger

import (
	"fmt"
	"sort"
	"sync"

	"github.com/google/uuid"
)

// AccountScope represents the top-level account namespace
type AccountScope uint8

const (
	AccountScopeUser AccountScope = iota
	AccountScopeSystem
	AccountScopeExternal
)

// AccountSubType represents the account purpose
type AccountSubType uint8

const (
	// User sub-types
	SubTypeStable AccountSubType = iota
	SubTypeCollateral
	SubTypeReward

	// System sub-types
	SubTypeSystemActivePool
	SubTypeSystemStabilityPool
	SubTypeSystemSurplusPool
	SubTypeSystemGasPool
	SubTypeSystemStakingSink
	SubTypeSystemReserveSink

	// External sub-types
	SubTypeExternalCollateral
	SubTypeExternalMint
	SubTypeExternalReward
)

// AssetID maps asset symbols to numeric IDs for compact keys. The
// stable token and the reward token are fixed; collateral assets are
// registered from config at startup.
type AssetID uint16

const (
	AssetIDStable AssetID = 1
	AssetIDReward AssetID = 2
)

var (
	registryMu sync.RWMutex
	assetToID  = map[string]AssetID{
		"STABLE": AssetIDStable,
		"REWARD": AssetIDReward,
	}
	idToAsset = map[AssetID]string{
		AssetIDStable: "STABLE",
		AssetIDReward: "REWARD",
	}
	nextAssetID AssetID = 3
)

// RegisterAsset assigns an ID to a collateral symbol. Registering the
// same symbol twice returns the existing ID.
func RegisterAsset(symbol string) AssetID {
	registryMu.Lock()
	defer registryMu.Unlock()
	if id, ok := assetToID[symbol]; ok {
		return id
	}
	id := nextAssetID
	nextAssetID++
	assetToID[symbol] = id
	idToAsset[id] = symbol
	return id
}

func GetAssetID(asset string) (AssetID, bool) {
	registryMu.RLock()
	defer registryMu.RUnlock()
	id, ok := assetToID[asset]
	return id, ok
}

func GetAssetName(id AssetID) (string, bool) {
	registryMu.RLock()
	defer registryMu.RUnlock()
	name, ok := idToAsset[id]
	return name, ok
}

// RegisteredAssets returns all known symbols in sorted order.
func RegisteredAssets() []string {
	registryMu.RLock()
	defer registryMu.RUnlock()
	out := make([]string, 0, len(assetToID))
	for sym := range assetToID {
		out = append(out, sym)
	}
	sort.Strings(out)
	return out
}

// AccountKey is the in-memory key for balance tracking (20 bytes, cache-friendly)
type AccountKey struct {
	Scope    AccountScope
	EntityID [16]byte // UUID for users, name bytes for system accounts
	SubType  AccountSubType
	AssetID  AssetID
}

// NewUserAccountKey creates a key for user accounts
func NewUserAccountKey(userID uuid.UUID, subType AccountSubType, assetID AssetID) AccountKey {
	return AccountKey{
		Scope:    AccountScopeUser,
		EntityID: userID,
		SubType:  subType,
		AssetID:  assetID,
	}
}

// NewSystemAccountKey creates a key for protocol pool accounts. The
// collateral asset name scopes pools that exist per asset.
func NewSystemAccountKey(name string, subType AccountSubType, assetID AssetID) AccountKey {
	var entityID [16]byte
	copy(entityID[:], []byte(name))
	return AccountKey{
		Scope:    AccountScopeSystem,
		EntityID: entityID,
		SubType:  subType,
		AssetID:  assetID,
	}
}

// NewExternalAccountKey creates a key for external boundary accounts
func NewExternalAccountKey(subType AccountSubType, assetID AssetID) AccountKey {
	return AccountKey{
		Scope:   AccountScopeExternal,
		SubType: subType,
		AssetID: assetID,
	}
}

// AccountPath returns the string representation for storage/logging
func (k AccountKey) AccountPath() string {
	assetName, _ := GetAssetName(k.AssetID)

	switch k.Scope {
	case AccountScopeUser:
		uid := uuid.UUID(k.EntityID)
		return fmt.Sprintf("user:%s:%s:%s", uid.String(), k.subTypeName(), assetName)
	case AccountScopeSystem:
		return fmt.Sprintf("system:%s:%s", k.subTypeName(), assetName)
	case AccountScopeExternal:
		return fmt.Sprintf("external:%s:%s", k.subTypeName(), assetName)
	}
	return "unknown"
}

func (k AccountKey) subTypeName() string {
	switch k.SubType {
	case SubTypeStable:
		return "stable"
	case SubTypeCollateral:
		return "collateral"
	case SubTypeReward:
		return "reward"
	case SubTypeSystemActivePool:
		return "active_pool"
	case SubTypeSystemStabilityPool:
		return "stability_pool"
	case SubTypeSystemSurplusPool:
		return "surplus_pool"
	case SubTypeSystemGasPool:
		return "gas_pool"
	case SubTypeSystemStakingSink:
		return "staking_sink"
	case SubTypeSystemReserveSink:
		return "reserve_sink"
	case SubTypeExternalCollateral:
		return "collateral_bridge"
	case SubTypeExternalMint:
		return "mint"
	case SubTypeExternalReward:
		return "reward_issuance"
	default:
		return "unknown"
	}
}
