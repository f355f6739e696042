package grpc

import (
	"context"
	"errors"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	fundpoolv1 "github.com/simaogato/fundpool-backend/internal/adapter/grpc/fundpool/v1"
	"github.com/simaogato/fundpool-backend/internal/domain"
	"github.com/simaogato/fundpool-backend/internal/logger"
	"github.com/simaogato/fundpool-backend/internal/usecase/inbox"
	"github.com/simaogato/fundpool-backend/internal/usecase/ledger"
	"github.com/simaogato/fundpool-backend/internal/usecase/registry"
)

// Confirmations applies a transport confirmation and waits for the outcome.
type Confirmations interface {
	Do(ctx context.Context, conf domain.Confirmation) (*ledger.CreditResult, error)
}

// Server implements the AggregationService gRPC server
type Server struct {
	fundpoolv1.UnimplementedAggregationServiceServer

	RegistryService *registry.RegistryService
	LedgerService   *ledger.LedgerService
	Confirmations   Confirmations
	Logger          *logger.Logger
}

// NewServer creates a new gRPC server instance
func NewServer(
	registryService *registry.RegistryService,
	ledgerService *ledger.LedgerService,
	confirmations Confirmations,
	log *logger.Logger,
) *Server {
	return &Server{
		RegistryService: registryService,
		LedgerService:   ledgerService,
		Confirmations:   confirmations,
		Logger:          logger.OrNop(log),
	}
}

// CreateRequest handles the CreateRequest RPC. The payer must be the caller.
func (s *Server) CreateRequest(ctx context.Context, req *fundpoolv1.CreateRequestRequest) (*fundpoolv1.CreateRequestResponse, error) {
	caller, err := requireCaller(ctx)
	if err != nil {
		return nil, err
	}

	payer, err := domain.ParseAddress(req.Payer)
	if err != nil {
		return nil, status.Errorf(codes.InvalidArgument, "invalid payer: %v", err)
	}
	if payer != caller.Address {
		return nil, status.Error(codes.PermissionDenied, "payer must be the caller")
	}

	payee, err := domain.ParseAddress(req.Payee)
	if err != nil {
		return nil, status.Errorf(codes.InvalidArgument, "invalid payee: %v", err)
	}

	if req.Deadline == nil {
		return nil, status.Error(codes.InvalidArgument, "deadline is required")
	}
	if err := req.Deadline.CheckValid(); err != nil {
		return nil, status.Errorf(codes.InvalidArgument, "invalid deadline: %v", err)
	}

	input := registry.CreateInput{
		Payer:               payer,
		Payee:               payee,
		TargetAmount:        domain.Amount(req.TargetAmount),
		MinimumThresholdPct: int(req.MinimumThresholdPct),
		DestinationDomain:   req.DestinationDomain,
		RefundDomain:        req.RefundDomain,
		Deadline:            req.Deadline.AsTime(),
		RefundBudget:        domain.Amount(req.RefundBudget),
	}

	// Parse optional caller-supplied id
	if req.Id != "" {
		id, err := domain.ParseRequestID(req.Id)
		if err != nil {
			return nil, status.Errorf(codes.InvalidArgument, "invalid id: %v", err)
		}
		input.ID = &id
	}

	id, err := s.RegistryService.Create(ctx, input)
	if err != nil {
		return nil, s.mapError(err)
	}

	return &fundpoolv1.CreateRequestResponse{Id: id.String()}, nil
}

// GetRequest handles the GetRequest RPC
func (s *Server) GetRequest(ctx context.Context, req *fundpoolv1.GetRequestRequest) (*fundpoolv1.GetRequestResponse, error) {
	id, err := parseID(req.Id)
	if err != nil {
		return nil, err
	}

	r, err := s.RegistryService.Get(ctx, id)
	if err != nil {
		return nil, s.mapError(err)
	}

	return &fundpoolv1.GetRequestResponse{Request: domainRequestToProto(r)}, nil
}

// Credit handles the Credit RPC. Only the transport gateway may call it.
func (s *Server) Credit(ctx context.Context, req *fundpoolv1.CreditRequest) (*fundpoolv1.CreditResponse, error) {
	caller, err := requireCaller(ctx)
	if err != nil {
		return nil, err
	}
	if caller.Role != RoleTransport {
		return nil, status.Error(codes.PermissionDenied, "only the transport gateway may credit")
	}

	conf := domain.Confirmation{
		Handle:          domain.TransferHandle(req.Handle),
		SourceDomain:    req.SourceDomain,
		Amount:          domain.Amount(req.Amount),
		Asset:           req.Asset,
		MinAmountOut:    domain.Amount(req.MinAmountOut),
		ConfirmationKey: req.ConfirmationKey,
		Tag:             req.Tag,
	}
	if !conf.Outbound() {
		if conf.RequestID, err = parseID(req.RequestId); err != nil {
			return nil, err
		}
	}

	result, err := s.Confirmations.Do(ctx, conf)
	if err != nil {
		return nil, s.mapError(err)
	}

	// Outbound confirmations carry no request of their own
	if result == nil {
		return &fundpoolv1.CreditResponse{Outcome: "outbound"}, nil
	}

	outcome := "applied"
	switch {
	case result.Settled():
		outcome = "settled"
	case result.Duplicate:
		outcome = "duplicate"
	}

	return &fundpoolv1.CreditResponse{
		Outcome: outcome,
		Request: domainRequestToProto(result.Request),
	}, nil
}

// AcceptPartial handles the AcceptPartial RPC
func (s *Server) AcceptPartial(ctx context.Context, req *fundpoolv1.AcceptPartialRequest) (*fundpoolv1.AcceptPartialResponse, error) {
	caller, err := requireCaller(ctx)
	if err != nil {
		return nil, err
	}
	id, err := parseID(req.Id)
	if err != nil {
		return nil, err
	}

	r, err := s.LedgerService.AcceptPartial(ctx, id, caller.Address)
	if err != nil {
		return nil, s.mapError(err)
	}

	return &fundpoolv1.AcceptPartialResponse{Request: domainRequestToProto(r)}, nil
}

// RequestRefund handles the RequestRefund RPC
func (s *Server) RequestRefund(ctx context.Context, req *fundpoolv1.RequestRefundRequest) (*fundpoolv1.RequestRefundResponse, error) {
	caller, err := requireCaller(ctx)
	if err != nil {
		return nil, err
	}
	id, err := parseID(req.Id)
	if err != nil {
		return nil, err
	}

	r, err := s.LedgerService.RequestRefund(ctx, id, caller.Address)
	if err != nil {
		return nil, s.mapError(err)
	}

	return &fundpoolv1.RequestRefundResponse{Request: domainRequestToProto(r)}, nil
}

func requireCaller(ctx context.Context) (Caller, error) {
	caller, ok := CallerFrom(ctx)
	if !ok {
		return Caller{}, status.Error(codes.Unauthenticated, "caller is not authenticated")
	}
	return caller, nil
}

func parseID(raw string) (domain.RequestID, error) {
	id, err := domain.ParseRequestID(raw)
	if err != nil {
		return id, status.Errorf(codes.InvalidArgument, "invalid id: %v", err)
	}
	return id, nil
}

// domainRequestToProto converts a domain request to its wire form
func domainRequestToProto(r *domain.AggregationRequest) *fundpoolv1.Request {
	out := &fundpoolv1.Request{
		Id:                  r.ID.String(),
		Payer:               r.Payer.String(),
		Payee:               r.Payee.String(),
		Status:              string(r.Status),
		View:                string(r.View()),
		TargetAmount:        int64(r.TargetAmount),
		MinimumThresholdPct: int32(r.MinimumThresholdPct),
		ThresholdAmount:     int64(r.ThresholdAmount()),
		TotalCredited:       int64(r.TotalCredited),
		SettledAmount:       int64(r.SettledAmount),
		DestinationDomain:   r.DestinationDomain,
		RefundDomain:        r.RefundDomain,
		RefundBudget:        int64(r.RefundBudget),
		BudgetState:         string(r.BudgetState),
		Deadline:            fundpoolv1.NewTimestamp(r.Deadline),
		CreatedAt:           fundpoolv1.NewTimestamp(r.CreatedAt),
	}
	if r.SettledAt != nil {
		out.SettledAt = fundpoolv1.NewTimestamp(*r.SettledAt)
	}
	return out
}

// mapError converts domain errors to gRPC status errors
func (s *Server) mapError(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, domain.ErrInvalidRequest):
		return status.Error(codes.InvalidArgument, err.Error())
	case errors.Is(err, domain.ErrNotFound):
		return status.Error(codes.NotFound, err.Error())
	case errors.Is(err, domain.ErrUnauthorized):
		return status.Error(codes.PermissionDenied, err.Error())
	case errors.Is(err, domain.ErrAlreadyTerminal), errors.Is(err, domain.ErrNotEligible):
		return status.Error(codes.FailedPrecondition, err.Error())
	case errors.Is(err, domain.ErrTransportFailure), errors.Is(err, domain.ErrConflict), errors.Is(err, inbox.ErrClosed):
		return status.Error(codes.Unavailable, err.Error())
	case errors.Is(err, context.DeadlineExceeded):
		return status.Error(codes.DeadlineExceeded, err.Error())
	case errors.Is(err, context.Canceled):
		return status.Error(codes.Canceled, err.Error())
	}

	// Store failures stay in the log
	s.Logger.Error("unexpected error", "error", err)
	return status.Error(codes.Internal, "internal error")
}
