package state

import (
	"encoding/binary"
	"math/big"

	"github.com/google/uuid"
)

// TroveStatus is the lifecycle state of a trove.
type TroveStatus int32

const (
	TroveNonExistent TroveStatus = iota
	TroveActive
	TroveClosedByOwner
	TroveClosedByLiquidation
	TroveClosedByRedemption
)

func (s TroveStatus) String() string {
	switch s {
	case TroveNonExistent:
		return "non_existent"
	case TroveActive:
		return "active"
	case TroveClosedByOwner:
		return "closed_by_owner"
	case TroveClosedByLiquidation:
		return "closed_by_liquidation"
	case TroveClosedByRedemption:
		return "closed_by_redemption"
	default:
		return "unknown"
	}
}

// Trove is one borrower's position against one collateral asset.
//
// Collateral is not stored on the trove: the implied collateral is
// stake * totalColl / totalStakes, which keeps liquidation
// redistribution O(1). NormDebt is the composite debt (including gas
// compensation) divided by the asset's debt index at last touch;
// pending redistributed debt accrues against DebtSnapshot until the
// trove is next touched.
type Trove struct {
	Owner  uuid.UUID
	Asset  string
	Status TroveStatus

	Stake    *big.Int
	NormDebt *big.Int
	GasComp  *big.Int

	DebtSnapshot   *big.Int // L_debt at last touch
	RewardSnapshot *big.Int // L_reward at last touch

	Version int64
}

// CanonicalBytes encodes the trove deterministically for the state
// digest. Field order is fixed; big.Int values are length-prefixed
// big-endian magnitudes (all non-negative by invariant).
func (t *Trove) CanonicalBytes() []byte {
	buf := make([]byte, 0, 160)
	buf = append(buf, t.Owner[:]...)
	buf = append(buf, []byte(t.Asset)...)
	buf = binary.BigEndian.AppendUint32(buf, uint32(t.Status))
	buf = appendBig(buf, t.Stake)
	buf = appendBig(buf, t.NormDebt)
	buf = appendBig(buf, t.GasComp)
	buf = appendBig(buf, t.DebtSnapshot)
	buf = appendBig(buf, t.RewardSnapshot)
	buf = binary.BigEndian.AppendUint64(buf, uint64(t.Version))
	return buf
}

func appendBig(buf []byte, v *big.Int) []byte {
	if v == nil {
		return binary.BigEndian.AppendUint32(buf, 0)
	}
	b := v.Bytes()
	buf = binary.BigEndian.AppendUint32(buf, uint32(len(b)))
	return append(buf, b...)
}
