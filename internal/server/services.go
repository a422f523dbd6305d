package server

import (
	"context"
	"database/sql"
	"fmt"
	"math/big"
	"time"

	"github.com/google/uuid"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"stablecore/internal/event"
	"stablecore/internal/ingestion"
	"stablecore/internal/persistence"
	"stablecore/internal/projection"
	"stablecore/internal/query"
)

// unaryHandler adapts a typed method onto the grpc.MethodDesc handler
// shape, decoding the JSON request and honoring interceptors.
func unaryHandler[Srv any, Req any](fullMethod string, call func(Srv, context.Context, *Req) (interface{}, error)) func(interface{}, context.Context, func(interface{}) error, grpc.UnaryServerInterceptor) (interface{}, error) {
	return func(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
		req := new(Req)
		if err := dec(req); err != nil {
			return nil, err
		}
		if interceptor == nil {
			return call(srv.(Srv), ctx, req)
		}
		info := &grpc.UnaryServerInfo{Server: srv, FullMethod: fullMethod}
		return interceptor(ctx, req, info, func(ctx context.Context, r interface{}) (interface{}, error) {
			return call(srv.(Srv), ctx, r.(*Req))
		})
	}
}

func parseUserID(s string) (uuid.UUID, error) {
	if s == "" {
		return uuid.Nil, status.Error(codes.InvalidArgument, "user id is required")
	}
	id, err := uuid.Parse(s)
	if err != nil {
		return uuid.Nil, status.Errorf(codes.InvalidArgument, "invalid uuid %q", s)
	}
	return id, nil
}

func parseAmount(s, field string) (*big.Int, error) {
	if s == "" {
		return new(big.Int), nil
	}
	v, ok := new(big.Int).SetString(s, 10)
	if !ok {
		return nil, status.Errorf(codes.InvalidArgument, "%s: invalid amount %q", field, s)
	}
	return v, nil
}

func pageSizeOrDefault(n int32, def, max int) int {
	size := int(n)
	if size <= 0 || size > max {
		return def
	}
	return size
}

// ============================================================================
// QueryService
// ============================================================================

type GetBalanceRequest struct {
	UserID string `json:"user_id"`
	Asset  string `json:"asset"`
}

type GetTroveRequest struct {
	Asset string `json:"asset"`
	Owner string `json:"owner"`
}

type GetSystemStateRequest struct {
	Asset string `json:"asset"`
}

type GetStabilityDepositRequest struct {
	Asset     string `json:"asset"`
	Depositor string `json:"depositor"`
}

type GetSurplusRequest struct {
	Asset string `json:"asset"`
	Owner string `json:"owner"`
}

type ListHistoryRequest struct {
	Asset          string `json:"asset,omitempty"`
	PageSize       int32  `json:"page_size"`
	BeforeSequence int64  `json:"before_sequence,omitempty"`
}

type ListLiquidationHistoryResponse struct {
	Events []query.LiquidationHistoryResponse `json:"events"`
}

type ListRedemptionHistoryResponse struct {
	Events []query.RedemptionHistoryResponse `json:"events"`
}

type ListJournalsRequest struct {
	UserID         string `json:"user_id"`
	PageSize       int32  `json:"page_size"`
	BeforeSequence int64  `json:"before_sequence,omitempty"`
}

type ListJournalsResponse struct {
	Journals []query.JournalHistoryEntry `json:"journals"`
}

type queryService interface {
	GetBalance(ctx context.Context, req *GetBalanceRequest) (interface{}, error)
	GetTrove(ctx context.Context, req *GetTroveRequest) (interface{}, error)
	GetSystemState(ctx context.Context, req *GetSystemStateRequest) (interface{}, error)
	GetStabilityDeposit(ctx context.Context, req *GetStabilityDepositRequest) (interface{}, error)
	GetSurplus(ctx context.Context, req *GetSurplusRequest) (interface{}, error)
	ListLiquidationHistory(ctx context.Context, req *ListHistoryRequest) (interface{}, error)
	ListRedemptionHistory(ctx context.Context, req *ListHistoryRequest) (interface{}, error)
	ListJournals(ctx context.Context, req *ListJournalsRequest) (interface{}, error)
}

type queryServiceImpl struct {
	qs *query.QueryService
}

func (s *queryServiceImpl) GetBalance(ctx context.Context, req *GetBalanceRequest) (interface{}, error) {
	userID, err := parseUserID(req.UserID)
	if err != nil {
		return nil, err
	}
	if req.Asset == "" {
		return nil, status.Error(codes.InvalidArgument, "asset is required")
	}

	bal, err := s.qs.GetBalance(ctx, userID, req.Asset)
	if err != nil {
		return nil, status.Errorf(codes.Internal, "get balance: %v", err)
	}
	return bal, nil
}

func (s *queryServiceImpl) GetTrove(ctx context.Context, req *GetTroveRequest) (interface{}, error) {
	owner, err := parseUserID(req.Owner)
	if err != nil {
		return nil, err
	}

	trove, err := s.qs.GetTrove(req.Asset, owner)
	if err != nil {
		return nil, status.Errorf(codes.NotFound, "%v", err)
	}
	return trove, nil
}

func (s *queryServiceImpl) GetSystemState(ctx context.Context, req *GetSystemStateRequest) (interface{}, error) {
	state, err := s.qs.GetSystemState(req.Asset)
	if err != nil {
		return nil, status.Errorf(codes.NotFound, "%v", err)
	}
	return state, nil
}

func (s *queryServiceImpl) GetStabilityDeposit(ctx context.Context, req *GetStabilityDepositRequest) (interface{}, error) {
	depositor, err := parseUserID(req.Depositor)
	if err != nil {
		return nil, err
	}

	dep, err := s.qs.GetStabilityDeposit(req.Asset, depositor)
	if err != nil {
		return nil, status.Errorf(codes.NotFound, "%v", err)
	}
	return dep, nil
}

func (s *queryServiceImpl) GetSurplus(ctx context.Context, req *GetSurplusRequest) (interface{}, error) {
	owner, err := parseUserID(req.Owner)
	if err != nil {
		return nil, err
	}
	return s.qs.GetSurplus(req.Asset, owner), nil
}

func (s *queryServiceImpl) ListLiquidationHistory(ctx context.Context, req *ListHistoryRequest) (interface{}, error) {
	var asset *string
	if req.Asset != "" {
		asset = &req.Asset
	}
	var before *int64
	if req.BeforeSequence > 0 {
		before = &req.BeforeSequence
	}

	events, err := s.qs.GetLiquidationHistory(ctx, asset, pageSizeOrDefault(req.PageSize, 50, 500), before)
	if err != nil {
		return nil, status.Errorf(codes.Internal, "liquidation history: %v", err)
	}
	return &ListLiquidationHistoryResponse{Events: events}, nil
}

func (s *queryServiceImpl) ListRedemptionHistory(ctx context.Context, req *ListHistoryRequest) (interface{}, error) {
	var asset *string
	if req.Asset != "" {
		asset = &req.Asset
	}
	var before *int64
	if req.BeforeSequence > 0 {
		before = &req.BeforeSequence
	}

	events, err := s.qs.GetRedemptionHistory(ctx, asset, pageSizeOrDefault(req.PageSize, 50, 500), before)
	if err != nil {
		return nil, status.Errorf(codes.Internal, "redemption history: %v", err)
	}
	return &ListRedemptionHistoryResponse{Events: events}, nil
}

func (s *queryServiceImpl) ListJournals(ctx context.Context, req *ListJournalsRequest) (interface{}, error) {
	userID, err := parseUserID(req.UserID)
	if err != nil {
		return nil, err
	}
	var before *int64
	if req.BeforeSequence > 0 {
		before = &req.BeforeSequence
	}

	journals, err := s.qs.GetJournalHistory(ctx, userID, pageSizeOrDefault(req.PageSize, 100, 500), before)
	if err != nil {
		return nil, status.Errorf(codes.Internal, "journals: %v", err)
	}
	return &ListJournalsResponse{Journals: journals}, nil
}

const queryServiceName = "stablecore.v1.QueryService"

var queryServiceDesc = grpc.ServiceDesc{
	ServiceName: queryServiceName,
	HandlerType: (*queryService)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "GetBalance", Handler: unaryHandler(queryServiceName+"/GetBalance", queryService.GetBalance)},
		{MethodName: "GetTrove", Handler: unaryHandler(queryServiceName+"/GetTrove", queryService.GetTrove)},
		{MethodName: "GetSystemState", Handler: unaryHandler(queryServiceName+"/GetSystemState", queryService.GetSystemState)},
		{MethodName: "GetStabilityDeposit", Handler: unaryHandler(queryServiceName+"/GetStabilityDeposit", queryService.GetStabilityDeposit)},
		{MethodName: "GetSurplus", Handler: unaryHandler(queryServiceName+"/GetSurplus", queryService.GetSurplus)},
		{MethodName: "ListLiquidationHistory", Handler: unaryHandler(queryServiceName+"/ListLiquidationHistory", queryService.ListLiquidationHistory)},
		{MethodName: "ListRedemptionHistory", Handler: unaryHandler(queryServiceName+"/ListRedemptionHistory", queryService.ListRedemptionHistory)},
		{MethodName: "ListJournals", Handler: unaryHandler(queryServiceName+"/ListJournals", queryService.ListJournals)},
	},
	Streams: []grpc.StreamDesc{},
}

// ============================================================================
// IngestService
// ============================================================================

type InjectPriceRequest struct {
	Asset         string `json:"asset"`
	Price         string `json:"price"`
	PriceSequence int64  `json:"price_sequence"`
}

type InjectAssetParamsRequest struct {
	Asset                   string `json:"asset"`
	Decimals                int32  `json:"decimals"`
	MCR                     string `json:"mcr"`
	CCR                     string `json:"ccr"`
	MinNetDebt              string `json:"min_net_debt"`
	GasCompensation         string `json:"gas_compensation"`
	CollateralCap           string `json:"collateral_cap"`
	LiquidationBonusDivisor int64  `json:"liquidation_bonus_divisor"`
	BorrowFeeFloor          string `json:"borrow_fee_floor"`
	RedemptionFeeFloor      string `json:"redemption_fee_floor"`
	ReserveFactor           string `json:"reserve_factor"`
	InterestRatePerSecond   string `json:"interest_rate_per_second"`
	IssuanceRatePerSecond   string `json:"issuance_rate_per_second"`
	RedemptionHintTolerance string `json:"redemption_hint_tolerance"`
	EffectiveSeq            int64  `json:"effective_seq"`
}

type InjectLiquidateRequest struct {
	Caller  string   `json:"caller"`
	Asset   string   `json:"asset"`
	Targets []string `json:"targets"`
}

type InjectLiquidateRiskiestRequest struct {
	Caller    string `json:"caller"`
	Asset     string `json:"asset"`
	MaxTroves int32  `json:"max_troves"`
}

type InjectResponse struct {
	Accepted bool `json:"accepted"`
}

type ingestService interface {
	InjectPrice(ctx context.Context, req *InjectPriceRequest) (interface{}, error)
	InjectAssetParams(ctx context.Context, req *InjectAssetParamsRequest) (interface{}, error)
	InjectLiquidate(ctx context.Context, req *InjectLiquidateRequest) (interface{}, error)
	InjectLiquidateRiskiest(ctx context.Context, req *InjectLiquidateRiskiestRequest) (interface{}, error)
}

type ingestServiceImpl struct {
	svc *ingestion.GRPCIngestService
}

func (s *ingestServiceImpl) InjectPrice(ctx context.Context, req *InjectPriceRequest) (interface{}, error) {
	price, err := parseAmount(req.Price, "price")
	if err != nil {
		return nil, err
	}

	if err := s.svc.InjectPrice(ctx, req.Asset, price, req.PriceSequence); err != nil {
		return nil, status.Errorf(codes.InvalidArgument, "%v", err)
	}
	return &InjectResponse{Accepted: true}, nil
}

func (s *ingestServiceImpl) InjectAssetParams(ctx context.Context, req *InjectAssetParamsRequest) (interface{}, error) {
	upd := &event.AssetParamUpdate{
		Asset:                   req.Asset,
		Decimals:                req.Decimals,
		LiquidationBonusDivisor: req.LiquidationBonusDivisor,
		EffectiveSeq:            req.EffectiveSeq,
	}

	fields := []struct {
		dst  **big.Int
		src  string
		name string
	}{
		{&upd.MCR, req.MCR, "mcr"},
		{&upd.CCR, req.CCR, "ccr"},
		{&upd.MinNetDebt, req.MinNetDebt, "min_net_debt"},
		{&upd.GasCompensation, req.GasCompensation, "gas_compensation"},
		{&upd.CollateralCap, req.CollateralCap, "collateral_cap"},
		{&upd.BorrowFeeFloor, req.BorrowFeeFloor, "borrow_fee_floor"},
		{&upd.RedemptionFeeFloor, req.RedemptionFeeFloor, "redemption_fee_floor"},
		{&upd.ReserveFactor, req.ReserveFactor, "reserve_factor"},
		{&upd.InterestRatePerSecond, req.InterestRatePerSecond, "interest_rate_per_second"},
		{&upd.IssuanceRatePerSecond, req.IssuanceRatePerSecond, "issuance_rate_per_second"},
		{&upd.RedemptionHintTolerance, req.RedemptionHintTolerance, "redemption_hint_tolerance"},
	}
	for _, f := range fields {
		v, err := parseAmount(f.src, f.name)
		if err != nil {
			return nil, err
		}
		*f.dst = v
	}

	if err := s.svc.InjectAssetParams(ctx, upd); err != nil {
		return nil, status.Errorf(codes.InvalidArgument, "%v", err)
	}
	return &InjectResponse{Accepted: true}, nil
}

func (s *ingestServiceImpl) InjectLiquidate(ctx context.Context, req *InjectLiquidateRequest) (interface{}, error) {
	caller, err := parseUserID(req.Caller)
	if err != nil {
		return nil, err
	}

	targets := make([]uuid.UUID, 0, len(req.Targets))
	for _, t := range req.Targets {
		id, err := uuid.Parse(t)
		if err != nil {
			return nil, status.Errorf(codes.InvalidArgument, "invalid target %q", t)
		}
		targets = append(targets, id)
	}

	if err := s.svc.InjectLiquidate(ctx, caller, req.Asset, targets); err != nil {
		return nil, status.Errorf(codes.InvalidArgument, "%v", err)
	}
	return &InjectResponse{Accepted: true}, nil
}

func (s *ingestServiceImpl) InjectLiquidateRiskiest(ctx context.Context, req *InjectLiquidateRiskiestRequest) (interface{}, error) {
	caller, err := parseUserID(req.Caller)
	if err != nil {
		return nil, err
	}

	if err := s.svc.InjectLiquidateRiskiest(ctx, caller, req.Asset, req.MaxTroves); err != nil {
		return nil, status.Errorf(codes.InvalidArgument, "%v", err)
	}
	return &InjectResponse{Accepted: true}, nil
}

const ingestServiceName = "stablecore.v1.IngestService"

var ingestServiceDesc = grpc.ServiceDesc{
	ServiceName: ingestServiceName,
	HandlerType: (*ingestService)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "InjectPrice", Handler: unaryHandler(ingestServiceName+"/InjectPrice", ingestService.InjectPrice)},
		{MethodName: "InjectAssetParams", Handler: unaryHandler(ingestServiceName+"/InjectAssetParams", ingestService.InjectAssetParams)},
		{MethodName: "InjectLiquidate", Handler: unaryHandler(ingestServiceName+"/InjectLiquidate", ingestService.InjectLiquidate)},
		{MethodName: "InjectLiquidateRiskiest", Handler: unaryHandler(ingestServiceName+"/InjectLiquidateRiskiest", ingestService.InjectLiquidateRiskiest)},
	},
	Streams: []grpc.StreamDesc{},
}

// ============================================================================
// AdminService
// ============================================================================

type TakeSnapshotRequest struct{}

type TakeSnapshotResponse struct {
	Sequence int64 `json:"sequence"`
}

type RebuildProjectionsRequest struct{}

type RebuildProjectionsResponse struct {
	Completed bool `json:"completed"`
}

type GetEventLogInfoRequest struct{}

type GetEventLogInfoResponse struct {
	LastSequence int64  `json:"last_sequence"`
	Uptime       string `json:"uptime"`
}

type VerifyIntegrityRequest struct{}

type adminService interface {
	TakeSnapshot(ctx context.Context, req *TakeSnapshotRequest) (interface{}, error)
	RebuildProjections(ctx context.Context, req *RebuildProjectionsRequest) (interface{}, error)
	GetEventLogInfo(ctx context.Context, req *GetEventLogInfoRequest) (interface{}, error)
	VerifyIntegrity(ctx context.Context, req *VerifyIntegrityRequest) (interface{}, error)
}

type adminServiceImpl struct {
	db           *sql.DB
	snapMgr      *persistence.SnapshotManager
	queryService *query.QueryService
	takeSnapshot func(ctx context.Context) (int64, error)
	startTime    time.Time
}

func (s *adminServiceImpl) TakeSnapshot(ctx context.Context, req *TakeSnapshotRequest) (interface{}, error) {
	if s.takeSnapshot == nil {
		return nil, status.Error(codes.Unimplemented, "snapshotting not wired")
	}

	seq, err := s.takeSnapshot(ctx)
	if err != nil {
		return nil, status.Errorf(codes.Internal, "take snapshot: %v", err)
	}
	return &TakeSnapshotResponse{Sequence: seq}, nil
}

func (s *adminServiceImpl) RebuildProjections(ctx context.Context, req *RebuildProjectionsRequest) (interface{}, error) {
	if err := projection.RebuildProjections(ctx, s.db); err != nil {
		return nil, status.Errorf(codes.Internal, "rebuild failed: %v", err)
	}
	return &RebuildProjectionsResponse{Completed: true}, nil
}

func (s *adminServiceImpl) GetEventLogInfo(ctx context.Context, req *GetEventLogInfoRequest) (interface{}, error) {
	latestSeq, err := s.snapMgr.GetLatestSequence(ctx)
	if err != nil {
		return nil, status.Errorf(codes.Internal, "get latest sequence: %v", err)
	}

	return &GetEventLogInfoResponse{
		LastSequence: latestSeq,
		Uptime:       fmt.Sprintf("%v", time.Since(s.startTime)),
	}, nil
}

func (s *adminServiceImpl) VerifyIntegrity(ctx context.Context, req *VerifyIntegrityRequest) (interface{}, error) {
	report, err := s.queryService.VerifyIntegrity(ctx)
	if err != nil {
		return nil, status.Errorf(codes.Internal, "verify integrity: %v", err)
	}
	return report, nil
}

const adminServiceName = "stablecore.v1.AdminService"

var adminServiceDesc = grpc.ServiceDesc{
	ServiceName: adminServiceName,
	HandlerType: (*adminService)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "TakeSnapshot", Handler: unaryHandler(adminServiceName+"/TakeSnapshot", adminService.TakeSnapshot)},
		{MethodName: "RebuildProjections", Handler: unaryHandler(adminServiceName+"/RebuildProjections", adminService.RebuildProjections)},
		{MethodName: "GetEventLogInfo", Handler: unaryHandler(adminServiceName+"/GetEventLogInfo", adminService.GetEventLogInfo)},
		{MethodName: "VerifyIntegrity", Handler: unaryHandler(adminServiceName+"/VerifyIntegrity", adminService.VerifyIntegrity)},
	},
	Streams: []grpc.StreamDesc{},
}
