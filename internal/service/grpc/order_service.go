package grpcsvc

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"

	"github.com/vladislavdragonenkov/forwarder/internal/domain"
	"github.com/vladislavdragonenkov/forwarder/internal/service/lifecycle"
)

// LinkValidator — часть валидатора ссылок, доступная через API.
type LinkValidator interface {
	Validate(ctx context.Context, rawURL, productTypeHint string) (domain.ValidationResult, error)
	Override(ctx context.Context, rawURL string, override domain.AdminOverride) (domain.LinkCacheEntry, error)
}

// OrderService реализует gRPC API поверх движка жизненного цикла заказов.
type OrderService struct {
	engine    *lifecycle.Engine
	validator LinkValidator
	idemRepo  domain.IdempotencyRepository
	logger    *log.Entry
}

const (
	grpcMethodCreateOrder        = "/forwarder.v1.OrderService/CreateOrder"
	grpcMethodTransitionStatus   = "/forwarder.v1.OrderService/TransitionStatus"
	grpcMethodRequestRefund      = "/forwarder.v1.OrderService/RequestRefund"
	grpcMethodUpdateRefundStatus = "/forwarder.v1.OrderService/UpdateRefundStatus"

	defaultListOrdersLimit = 100
)

// NewOrderService конструирует сервис с зависимостями. validator и idemRepo необязательны.
func NewOrderService(
	engine *lifecycle.Engine,
	validator LinkValidator,
	idemRepo domain.IdempotencyRepository,
	logger *log.Entry,
) *OrderService {
	if logger == nil {
		logger = log.New().WithField("component", "order-service")
	}
	return &OrderService{
		engine:    engine,
		validator: validator,
		idemRepo:  idemRepo,
		logger:    logger,
	}
}

var _ OrderServiceServer = (*OrderService)(nil)

// CreateOrder создаёт заказ со статусом submitted.
func (s *OrderService) CreateOrder(ctx context.Context, req *CreateOrderRequest) (*OrderResponse, error) {
	if req == nil {
		return nil, status.Error(codes.InvalidArgument, "request is required")
	}

	return withIdempotency(s, ctx, grpcMethodCreateOrder, req,
		func() *OrderResponse { return &OrderResponse{} },
		func(ctx context.Context) (*OrderResponse, error) {
			order, err := s.engine.CreateOrder(ctx, *req)
			if err != nil {
				return nil, s.toStatus(err, "CreateOrder", "")
			}
			return &OrderResponse{Order: order}, nil
		},
	)
}

// TransitionStatus переводит заказ в новый статус с записью в историю.
func (s *OrderService) TransitionStatus(ctx context.Context, req *TransitionStatusRequest) (*OrderResponse, error) {
	if req == nil || req.OrderID == "" {
		return nil, status.Error(codes.InvalidArgument, "order_id is required")
	}
	in := *req
	in.Actor = actorOr(ctx, in.Actor)

	return withIdempotency(s, ctx, grpcMethodTransitionStatus, &in,
		func() *OrderResponse { return &OrderResponse{} },
		func(ctx context.Context) (*OrderResponse, error) {
			order, err := s.engine.TransitionStatus(ctx, in)
			if err != nil {
				return nil, s.toStatus(err, "TransitionStatus", req.OrderID)
			}
			return &OrderResponse{Order: order}, nil
		},
	)
}

// RequestRefund открывает заявку на возврат.
func (s *OrderService) RequestRefund(ctx context.Context, req *RequestRefundRequest) (*OrderResponse, error) {
	if req == nil || req.OrderID == "" {
		return nil, status.Error(codes.InvalidArgument, "order_id is required")
	}

	return withIdempotency(s, ctx, grpcMethodRequestRefund, req,
		func() *OrderResponse { return &OrderResponse{} },
		func(ctx context.Context) (*OrderResponse, error) {
			order, err := s.engine.RequestRefund(ctx, *req)
			if err != nil {
				return nil, s.toStatus(err, "RequestRefund", req.OrderID)
			}
			return &OrderResponse{Order: order}, nil
		},
	)
}

// UpdateRefundStatus двигает возврат по его состояниям.
func (s *OrderService) UpdateRefundStatus(ctx context.Context, req *UpdateRefundStatusRequest) (*OrderResponse, error) {
	if req == nil || req.OrderID == "" {
		return nil, status.Error(codes.InvalidArgument, "order_id is required")
	}
	in := *req
	in.Actor = actorOr(ctx, in.Actor)

	return withIdempotency(s, ctx, grpcMethodUpdateRefundStatus, &in,
		func() *OrderResponse { return &OrderResponse{} },
		func(ctx context.Context) (*OrderResponse, error) {
			order, err := s.engine.UpdateRefundStatus(ctx, in)
			if err != nil {
				return nil, s.toStatus(err, "UpdateRefundStatus", req.OrderID)
			}
			return &OrderResponse{Order: order}, nil
		},
	)
}

func (s *OrderService) UpdateQuotation(ctx context.Context, req *UpdateQuotationRequest) (*OrderResponse, error) {
	if req == nil || req.OrderID == "" {
		return nil, status.Error(codes.InvalidArgument, "order_id is required")
	}
	order, err := s.engine.UpdateQuotation(ctx, req.OrderID, req.Quotation)
	if err != nil {
		return nil, s.toStatus(err, "UpdateQuotation", req.OrderID)
	}
	return &OrderResponse{Order: order}, nil
}

func (s *OrderService) UpdateCustomerInfo(ctx context.Context, req *UpdateCustomerInfoRequest) (*OrderResponse, error) {
	if req == nil || req.OrderID == "" {
		return nil, status.Error(codes.InvalidArgument, "order_id is required")
	}
	order, err := s.engine.UpdateCustomerInfo(ctx, req.OrderID, req.CustomerInfo)
	if err != nil {
		return nil, s.toStatus(err, "UpdateCustomerInfo", req.OrderID)
	}
	return &OrderResponse{Order: order}, nil
}

func (s *OrderService) SetAutomation(ctx context.Context, req *SetAutomationRequest) (*OrderResponse, error) {
	if req == nil || req.OrderID == "" {
		return nil, status.Error(codes.InvalidArgument, "order_id is required")
	}
	order, err := s.engine.SetAutomation(ctx, req.OrderID, req.Enabled)
	if err != nil {
		return nil, s.toStatus(err, "SetAutomation", req.OrderID)
	}
	return &OrderResponse{Order: order}, nil
}

// OverrideItem фиксирует ручное решение администратора по позиции заказа.
func (s *OrderService) OverrideItem(ctx context.Context, req *OverrideItemRequest) (*OrderResponse, error) {
	if req == nil || req.OrderID == "" {
		return nil, status.Error(codes.InvalidArgument, "order_id is required")
	}
	in := *req
	in.AdminID = actorOr(ctx, in.AdminID)
	if strings.TrimSpace(in.AdminID) == "" {
		return nil, status.Error(codes.InvalidArgument, "admin_id is required")
	}
	order, err := s.engine.OverrideItem(ctx, in)
	if err != nil {
		return nil, s.toStatus(err, "OverrideItem", req.OrderID)
	}
	return &OrderResponse{Order: order}, nil
}

// GetOrder возвращает заказ вместе с историей статусов.
func (s *OrderService) GetOrder(ctx context.Context, req *GetOrderRequest) (*OrderResponse, error) {
	if req == nil || req.OrderID == "" {
		return nil, status.Error(codes.InvalidArgument, "order_id is required")
	}
	order, err := s.engine.GetOrder(ctx, req.OrderID)
	if err != nil {
		return nil, s.toStatus(err, "GetOrder", req.OrderID)
	}
	return &OrderResponse{Order: order}, nil
}

// ListOrders возвращает заказы, новые первыми. Статус фильтрует выборку.
func (s *OrderService) ListOrders(ctx context.Context, req *ListOrdersRequest) (*ListOrdersResponse, error) {
	if req == nil {
		req = &ListOrdersRequest{}
	}

	var (
		orders []domain.Order
		err    error
	)
	if req.Status != "" {
		orders, err = s.engine.ListOrdersByStatus(ctx, req.Status)
		if err == nil && req.Limit > 0 && len(orders) > req.Limit {
			orders = orders[:req.Limit]
		}
	} else {
		limit := req.Limit
		if limit <= 0 {
			limit = defaultListOrdersLimit
		}
		orders, err = s.engine.ListOrders(ctx, limit)
	}
	if err != nil {
		return nil, s.toStatus(err, "ListOrders", "")
	}
	if orders == nil {
		orders = []domain.Order{}
	}
	return &ListOrdersResponse{Orders: orders}, nil
}

// TrackOrder отдаёт заказ клиенту после сверки телефона.
func (s *OrderService) TrackOrder(ctx context.Context, req *TrackOrderRequest) (*OrderResponse, error) {
	if req == nil || req.OrderID == "" {
		return nil, status.Error(codes.InvalidArgument, "order_id is required")
	}
	if strings.TrimSpace(req.Phone) == "" {
		return nil, status.Error(codes.InvalidArgument, "phone is required")
	}
	order, err := s.engine.TrackOrder(ctx, req.OrderID, req.Phone)
	if err != nil {
		return nil, s.toStatus(err, "TrackOrder", req.OrderID)
	}
	return &OrderResponse{Order: order}, nil
}

func (s *OrderService) Statistics(ctx context.Context, _ *StatisticsRequest) (*StatisticsResponse, error) {
	stats, err := s.engine.Statistics(ctx)
	if err != nil {
		return nil, s.toStatus(err, "Statistics", "")
	}
	return &StatisticsResponse{Statistics: stats}, nil
}

// ValidateLink проверяет ссылку до создания заказа.
func (s *OrderService) ValidateLink(ctx context.Context, req *ValidateLinkRequest) (*ValidateLinkResponse, error) {
	if s.validator == nil {
		return nil, status.Error(codes.Unavailable, "link validator is not configured")
	}
	if req == nil || strings.TrimSpace(req.URL) == "" {
		return nil, status.Error(codes.InvalidArgument, "url is required")
	}
	result, err := s.validator.Validate(ctx, req.URL, req.ProductType)
	if err != nil {
		return nil, s.toStatus(err, "ValidateLink", "")
	}
	return &ValidateLinkResponse{Result: result}, nil
}

// OverrideLink добавляет ручное решение в историю ссылки.
func (s *OrderService) OverrideLink(ctx context.Context, req *OverrideLinkRequest) (*LinkEntryResponse, error) {
	if s.validator == nil {
		return nil, status.Error(codes.Unavailable, "link validator is not configured")
	}
	if req == nil || strings.TrimSpace(req.URL) == "" {
		return nil, status.Error(codes.InvalidArgument, "url is required")
	}
	adminID := actorOr(ctx, req.AdminID)
	if strings.TrimSpace(adminID) == "" || strings.TrimSpace(req.Action) == "" {
		return nil, status.Error(codes.InvalidArgument, "admin_id and action are required")
	}
	entry, err := s.validator.Override(ctx, req.URL, domain.AdminOverride{
		AdminID: adminID,
		Action:  req.Action,
		Notes:   req.Notes,
	})
	if err != nil {
		return nil, s.toStatus(err, "OverrideLink", "")
	}
	return &LinkEntryResponse{Entry: entry}, nil
}

// GetCustomer отдаёт профиль клиента с историей заказов.
func (s *OrderService) GetCustomer(ctx context.Context, req *GetCustomerRequest) (*CustomerResponse, error) {
	if req == nil {
		return nil, status.Error(codes.InvalidArgument, "customer_id, email or phone is required")
	}

	var (
		customer domain.Customer
		err      error
	)
	if id := strings.TrimSpace(req.CustomerID); id != "" {
		customer, err = s.engine.GetCustomer(ctx, id)
	} else {
		customer, err = s.engine.FindCustomer(ctx, req.Email, req.Phone)
	}
	if err != nil {
		return nil, s.toStatus(err, "GetCustomer", "")
	}
	return &CustomerResponse{Customer: customer}, nil
}

func (s *OrderService) UpdateCustomerPreferences(ctx context.Context, req *UpdateCustomerPreferencesRequest) (*CustomerResponse, error) {
	if req == nil || strings.TrimSpace(req.CustomerID) == "" {
		return nil, status.Error(codes.InvalidArgument, "customer_id is required")
	}
	customer, err := s.engine.UpdateCustomerPreferences(ctx, req.CustomerID, req.Preferences)
	if err != nil {
		return nil, s.toStatus(err, "UpdateCustomerPreferences", "")
	}
	return &CustomerResponse{Customer: customer}, nil
}

// toStatus переводит доменную ошибку в gRPC status. Внутренние детали наружу не отдаются.
func (s *OrderService) toStatus(err error, operation, orderID string) error {
	code := codeForError(err)
	if code != codes.Internal {
		return status.Error(code, err.Error())
	}

	s.logger.WithError(err).WithFields(log.Fields{
		"operation": operation,
		"order_id":  orderID,
	}).Error("order operation failed")
	return status.Error(codes.Internal, "internal error")
}

func codeForError(err error) codes.Code {
	switch {
	case errors.Is(err, context.Canceled):
		return codes.Canceled
	case errors.Is(err, context.DeadlineExceeded):
		return codes.DeadlineExceeded
	case domain.IsNotFound(err), errors.Is(err, domain.ErrLinkNotCached):
		return codes.NotFound
	case errors.Is(err, domain.ErrTrackingVerificationFailed):
		return codes.PermissionDenied
	case errors.Is(err, domain.ErrOrderAlreadyExists):
		return codes.AlreadyExists
	case domain.IsConflict(err), errors.Is(err, domain.ErrAutomationDisabled):
		return codes.FailedPrecondition
	case errors.Is(err, domain.ErrLinkCacheUnavailable), errors.Is(err, domain.ErrCustomerRegistryUnavailable):
		return codes.Unavailable
	case domain.IsValidationError(err):
		return codes.InvalidArgument
	default:
		return codes.Internal
	}
}

const (
	idempotencyKeyHeader = "idempotency-key"
	idempotencyTTL       = 24 * time.Hour
)

type idempotencyErrorPayload struct {
	Code    int32  `json:"code"`
	Message string `json:"message"`
}

func withIdempotency[T any](
	s *OrderService,
	ctx context.Context,
	method string,
	req any,
	newResp func() T,
	handler func(context.Context) (T, error),
) (T, error) {
	var zero T

	if s.idemRepo == nil {
		return handler(ctx)
	}

	idemKey, err := readIdempotencyKey(ctx)
	if err != nil {
		return zero, err
	}

	reqHash, err := buildIdempotencyRequestHash(method, req)
	if err != nil {
		s.logger.WithError(err).WithField("method", method).Warn("failed to build idempotency request hash")
		return zero, status.Error(codes.Internal, "failed to initialize idempotency request")
	}

	key := domain.ScopedKey(method, idemKey)
	record, err := s.idemRepo.CreateProcessing(key, reqHash, time.Now().UTC().Add(idempotencyTTL))
	if err != nil {
		return replayIdempotency(s, err, record, newResp)
	}

	resp, runErr := handler(ctx)
	if runErr != nil {
		s.cacheIdempotencyFailure(key, runErr)
		return resp, runErr
	}

	if cacheErr := s.cacheIdempotencySuccess(key, resp); cacheErr != nil {
		s.logger.WithError(cacheErr).WithField("idempotency_key", key.String()).Warn("failed to store idempotent success response")
	}

	return resp, nil
}

func replayIdempotency[T any](
	s *OrderService,
	createErr error,
	record domain.IdempotencyRecord,
	newResp func() T,
) (T, error) {
	var zero T

	switch {
	case errors.Is(createErr, domain.ErrIdempotencyHashMismatch):
		return zero, status.Error(codes.AlreadyExists, "idempotency key is already used with different request payload")
	case errors.Is(createErr, domain.ErrIdempotencyKeyAlreadyExists):
		switch record.Status {
		case domain.IdempotencyStatusDone:
			if len(record.ResponseBody) == 0 {
				return zero, status.Error(codes.Internal, "idempotency cache is empty")
			}
			resp := newResp()
			if err := json.Unmarshal(record.ResponseBody, resp); err != nil {
				s.logger.WithError(err).WithField("idempotency_key", record.ScopedKey().String()).Warn("failed to decode cached idempotency response")
				return zero, status.Error(codes.Internal, "failed to decode cached idempotency response")
			}
			return resp, nil
		case domain.IdempotencyStatusProcessing:
			return zero, status.Error(codes.Aborted, "request with the same idempotency key is already processing")
		case domain.IdempotencyStatusFailed:
			return zero, decodeIdempotencyFailure(record)
		default:
			return zero, status.Error(codes.Internal, "unknown idempotency record status")
		}
	default:
		s.logger.WithError(createErr).Warn("failed to create idempotency record")
		return zero, status.Error(codes.Internal, "failed to initialize idempotency request")
	}
}

func (s *OrderService) cacheIdempotencySuccess(key domain.IdempotencyKey, resp any) error {
	data, err := json.Marshal(resp)
	if err != nil {
		return err
	}
	return s.idemRepo.MarkDone(key, data, int(codes.OK))
}

func (s *OrderService) cacheIdempotencyFailure(key domain.IdempotencyKey, runErr error) {
	st := status.Convert(runErr)
	code := st.Code()
	if code == codes.OK {
		code = codes.Internal
	}

	payload, err := json.Marshal(idempotencyErrorPayload{
		Code:    int32(code), //nolint:gosec // codes.Code is a bounded enum value.
		Message: st.Message(),
	})
	if err != nil {
		s.logger.WithError(err).WithField("idempotency_key", key.String()).Warn("failed to encode idempotency failure payload")
		payload = nil
	}

	if err := s.idemRepo.MarkFailed(key, payload, int(code)); err != nil {
		s.logger.WithError(err).WithField("idempotency_key", key.String()).Warn("failed to store idempotency failure response")
	}
}

func decodeIdempotencyFailure(record domain.IdempotencyRecord) error {
	if len(record.ResponseBody) > 0 {
		var payload idempotencyErrorPayload
		if err := json.Unmarshal(record.ResponseBody, &payload); err == nil {
			if code, ok := grpcCodeFromInt(int(payload.Code)); ok {
				if code == codes.OK {
					code = codes.Internal
				}
				if payload.Message == "" {
					payload.Message = "previous request with the same idempotency key failed"
				}
				return status.Error(code, payload.Message)
			}
		}
	}

	if record.ResponseCode > 0 {
		if code, ok := grpcCodeFromInt(record.ResponseCode); ok && code != codes.OK {
			return status.Error(code, "previous request with the same idempotency key failed")
		}
	}

	return status.Error(codes.Internal, "previous request with the same idempotency key failed")
}

func grpcCodeFromInt(value int) (codes.Code, bool) {
	if value < int(codes.OK) || value > int(codes.Unauthenticated) {
		return codes.Internal, false
	}
	return codes.Code(uint32(value)), true
}

func readIdempotencyKey(ctx context.Context) (string, error) {
	if md, ok := metadata.FromIncomingContext(ctx); ok {
		values := md.Get(idempotencyKeyHeader)
		if len(values) > 0 && strings.TrimSpace(values[0]) != "" {
			return strings.TrimSpace(values[0]), nil
		}
	}

	if md, ok := metadata.FromOutgoingContext(ctx); ok {
		values := md.Get(idempotencyKeyHeader)
		if len(values) > 0 && strings.TrimSpace(values[0]) != "" {
			return strings.TrimSpace(values[0]), nil
		}
	}

	return "", status.Error(codes.InvalidArgument, "idempotency-key metadata is required")
}

// buildIdempotencyRequestHash хеширует метод вместе с запросом: один ключ на разные методы — разные запросы.
func buildIdempotencyRequestHash(method string, req any) (string, error) {
	if req == nil {
		return "", fmt.Errorf("request is nil")
	}

	data, err := json.Marshal(req)
	if err != nil {
		return "", err
	}

	payload := make([]byte, 0, len(method)+1+len(data))
	payload = append(payload, method...)
	payload = append(payload, ':')
	payload = append(payload, data...)
	sum := sha256.Sum256(payload)
	return hex.EncodeToString(sum[:]), nil
}
