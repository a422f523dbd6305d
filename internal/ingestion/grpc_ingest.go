package ingestion

import (
	"context"
	"fmt"
	"math/big"
	"time"

	"github.com/google/uuid"

	"stablecore/internal/event"
)

// GRPCIngestService provides admin/manual event injection via gRPC.
// This surface is for operational interventions (price overrides,
// parameter pushes, forced liquidation sweeps), not high-throughput
// ingestion; producers use NATS for that.
type GRPCIngestService struct {
	eventChan chan<- event.Event
}

func NewGRPCIngestService(eventChan chan<- event.Event) *GRPCIngestService {
	return &GRPCIngestService{eventChan: eventChan}
}

// InjectPrice manually injects a PriceUpdate for an asset. The price
// sequence must advance past the feed's last tick or the core drops it
// as stale.
func (s *GRPCIngestService) InjectPrice(
	ctx context.Context,
	asset string,
	price *big.Int,
	priceSequence int64,
) error {
	if price == nil || price.Sign() <= 0 {
		return fmt.Errorf("price must be positive")
	}

	evt := &event.PriceUpdate{
		Asset:          asset,
		Price:          new(big.Int).Set(price),
		PriceSequence:  priceSequence,
		PriceTimestamp: time.Now().Unix(),
	}

	select {
	case s.eventChan <- evt:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// InjectAssetParams manually injects an AssetParamUpdate. Nil big
// fields are left nil and rejected downstream, so callers must supply
// the full parameter set.
func (s *GRPCIngestService) InjectAssetParams(
	ctx context.Context,
	upd *event.AssetParamUpdate,
) error {
	if upd == nil {
		return fmt.Errorf("params required")
	}
	if upd.Asset == "" {
		return fmt.Errorf("asset symbol required")
	}
	if upd.MCR == nil || upd.MCR.Sign() <= 0 {
		return fmt.Errorf("MCR must be positive")
	}
	if upd.CCR == nil || upd.CCR.Cmp(upd.MCR) < 0 {
		return fmt.Errorf("CCR must be at least MCR")
	}

	upd.Sequence = time.Now().UnixMicro() // Admin-injected: use timestamp as sequence
	upd.Timestamp = time.Now().Unix()

	select {
	case s.eventChan <- upd:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// InjectLiquidate manually injects a batch liquidation against specific troves.
func (s *GRPCIngestService) InjectLiquidate(
	ctx context.Context,
	caller uuid.UUID,
	asset string,
	targets []uuid.UUID,
) error {
	if len(targets) == 0 {
		return fmt.Errorf("at least one target required")
	}

	evt := &event.Liquidate{
		OpID:      uuid.New(),
		Caller:    caller,
		Asset:     asset,
		Targets:   targets,
		Sequence:  time.Now().UnixMicro(),
		Timestamp: time.Now().Unix(),
	}

	select {
	case s.eventChan <- evt:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// InjectLiquidateRiskiest manually injects a sweep of up to maxTroves
// troves from the riskiest end of the sorted list.
func (s *GRPCIngestService) InjectLiquidateRiskiest(
	ctx context.Context,
	caller uuid.UUID,
	asset string,
	maxTroves int32,
) error {
	if maxTroves <= 0 {
		return fmt.Errorf("max troves must be positive")
	}

	evt := &event.LiquidateRiskiest{
		OpID:      uuid.New(),
		Caller:    caller,
		Asset:     asset,
		MaxTroves: maxTroves,
		Sequence:  time.Now().UnixMicro(),
		Timestamp: time.Now().Unix(),
	}

	select {
	case s.eventChan <- evt:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
