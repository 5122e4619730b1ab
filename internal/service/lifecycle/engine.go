package lifecycle

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/forwarder/internal/domain"
	"github.com/vladislavdragonenkov/forwarder/internal/metrics"
	"github.com/vladislavdragonenkov/forwarder/internal/service/validation"
)

// LinkValidator — то, что движку нужно от валидатора ссылок.
type LinkValidator interface {
	Validate(ctx context.Context, rawURL, productTypeHint string) (domain.ValidationResult, error)
	Override(ctx context.Context, rawURL string, override domain.AdminOverride) (domain.LinkCacheEntry, error)
}

// Option настраивает Engine.
type Option func(*Engine)

// WithOutbox включает запись событий заказа в outbox.
func WithOutbox(outbox domain.OutboxRepository) Option {
	return func(e *Engine) { e.outbox = outbox }
}

// WithCustomers подключает реестр клиентов.
func WithCustomers(customers domain.CustomerRepository) Option {
	return func(e *Engine) { e.customers = customers }
}

// WithValidator задаёт валидатор ссылок.
func WithValidator(v LinkValidator) Option {
	return func(e *Engine) { e.validator = v }
}

// WithMetrics подключает метрики.
func WithMetrics(m *metrics.LifecycleMetrics) Option {
	return func(e *Engine) { e.metrics = m }
}

// WithLogger задаёт logger.
func WithLogger(logger *log.Entry) Option {
	return func(e *Engine) { e.logger = logger }
}

// WithClock подменяет источник времени.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// Engine владеет агрегатом заказа: создание, смена статусов, расчёт и возврат.
// Все изменения идут через OrderRepository.Update, поэтому для одного заказа они сериализуются хранилищем.
type Engine struct {
	orders    domain.OrderRepository
	outbox    domain.OutboxRepository
	customers domain.CustomerRepository
	validator LinkValidator
	metrics   *metrics.LifecycleMetrics
	logger    *log.Entry
	now       func() time.Time
}

// NewEngine создаёт движок. Без WithValidator используется валидатор без кеша.
func NewEngine(orders domain.OrderRepository, options ...Option) *Engine {
	e := &Engine{
		orders: orders,
		now:    func() time.Time { return time.Now().UTC() },
	}
	for _, option := range options {
		option(e)
	}
	if e.logger == nil {
		e.logger = log.WithField("component", "lifecycle")
	}
	if e.validator == nil {
		e.validator = validation.NewValidator(validation.WithMetrics(e.metrics), validation.WithLogger(e.logger))
	}
	return e
}

// ItemInput — позиция нового заказа.
type ItemInput struct {
	ProductLink         string `json:"product_link"`
	Quantity            int    `json:"quantity"`
	ProductType         string `json:"product_type,omitempty"`
	EstimatedPriceMinor *int64 `json:"estimated_price_minor,omitempty"`
}

// CreateOrderInput — данные клиента и ссылки на товары.
type CreateOrderInput struct {
	CustomerInfo      domain.CustomerInfo `json:"customer_info"`
	Items             []ItemInput         `json:"items"`
	AutomationEnabled bool                `json:"automation_enabled"`
}

// TransitionInput — запрос на смену статуса заказа.
type TransitionInput struct {
	OrderID string              `json:"order_id"`
	Status  domain.OrderStatus  `json:"status"`
	Actor   string              `json:"actor,omitempty"`
	Method  domain.UpdateMethod `json:"method,omitempty"`
	Notes   string              `json:"notes,omitempty"`
	// Quotation обязателен для quotation_sent; в остальных статусах заменяет текущий расчёт, если передан,
	// и сбрасывает решения клиента по прежнему.
	Quotation *domain.Quotation `json:"quotation,omitempty"`
}

// RefundInput — заявка клиента на возврат.
type RefundInput struct {
	OrderID              string   `json:"order_id"`
	Reason               string   `json:"reason"`
	RequestedAmountMinor int64    `json:"requested_amount_minor"`
	CustomerNotes        string   `json:"customer_notes,omitempty"`
	Evidence             []string `json:"evidence,omitempty"`
}

// RefundUpdateInput — решение сотрудника по возврату.
type RefundUpdateInput struct {
	OrderID             string              `json:"order_id"`
	Status              domain.RefundStatus `json:"status"`
	ApprovedAmountMinor *int64              `json:"approved_amount_minor,omitempty"`
	AdminNotes          string              `json:"admin_notes,omitempty"`
	Actor               string              `json:"actor,omitempty"`
}

// ItemOverrideInput — ручное решение по позиции заказа.
type ItemOverrideInput struct {
	OrderID          string                  `json:"order_id"`
	ItemIndex        int                     `json:"item_index"`
	AdminID          string                  `json:"admin_id"`
	Action           string                  `json:"action"`
	RiskLevel        domain.RiskLevel        `json:"risk_level,omitempty"`
	ValidationStatus domain.ValidationStatus `json:"validation_status,omitempty"`
	Notes            string                  `json:"notes,omitempty"`
}

// CreateOrder проверяет ссылки, выдаёт номер и сохраняет заказ в статусе submitted.
// Некорректная ссылка отклоняет весь заказ; неподдерживаемый ритейлер только помечает позицию на ручную проверку.
func (e *Engine) CreateOrder(ctx context.Context, in CreateOrderInput) (order domain.Order, err error) {
	defer e.observe("create_order", time.Now(), &err)

	if err := ctx.Err(); err != nil {
		return domain.Order{}, err
	}
	if len(in.Items) == 0 {
		return domain.Order{}, domain.ErrItemsRequired
	}

	items := make([]domain.OrderItem, 0, len(in.Items))
	for i, input := range in.Items {
		link := strings.TrimSpace(input.ProductLink)
		if link == "" {
			return domain.Order{}, fmt.Errorf("item %d: %w", i, domain.ErrProductLinkRequired)
		}
		if input.Quantity < 0 {
			return domain.Order{}, fmt.Errorf("item %d: %w", i, domain.ErrItemQtyInvalid)
		}

		result, err := e.validator.Validate(ctx, link, input.ProductType)
		if err != nil {
			return domain.Order{}, fmt.Errorf("validate item %d: %w", i, err)
		}
		if !result.IsValid {
			return domain.Order{}, fmt.Errorf("item %d: %w", i, domain.ErrInvalidProductLink)
		}

		items = append(items, domain.OrderItem{
			ProductLink:         link,
			Quantity:            input.Quantity,
			ProductType:         input.ProductType,
			ValidationStatus:    result.ItemValidationStatus(),
			ValidationMethod:    result.ValidationMethod,
			StockStatus:         result.StockStatus,
			RiskLevel:           result.RiskLevel,
			AdminOverride:       result.ValidationMethod == domain.ValidationMethodOverride,
			EstimatedPriceMinor: input.EstimatedPriceMinor,
		})
	}

	seq, err := e.orders.NextOrderNumber()
	if err != nil {
		return domain.Order{}, fmt.Errorf("next order number: %w", err)
	}

	now := e.now()
	order = domain.Order{
		ID:                domain.FormatOrderID(seq),
		CustomerID:        customerID(in.CustomerInfo),
		AutomationEnabled: in.AutomationEnabled,
		Items:             items,
		CustomerInfo:      in.CustomerInfo,
		CreatedAt:         now,
	}
	order.AppendHistory(domain.StatusHistoryEntry{
		Status:       domain.OrderStatusSubmitted,
		Timestamp:    now,
		UpdatedBy:    domain.ActorSystem,
		UpdateMethod: domain.UpdateMethodAuto,
		Notes:        "Order submitted",
	})

	if err := e.orders.Create(order); err != nil {
		return domain.Order{}, err
	}

	e.metrics.RecordOrderCreated()
	e.logger.WithFields(log.Fields{
		"order_id":    order.ID,
		"customer_id": order.CustomerID,
		"items":       len(order.Items),
	}).Info("order created")
	e.emit(order, EventOrderCreated, nil)
	e.registerCustomer(order)

	return order, nil
}

// TransitionStatus переводит заказ в любой известный статус и добавляет ровно одну запись истории.
func (e *Engine) TransitionStatus(ctx context.Context, in TransitionInput) (order domain.Order, err error) {
	defer e.observe("transition_status", time.Now(), &err)

	if err := ctx.Err(); err != nil {
		return domain.Order{}, err
	}
	if !in.Status.Valid() {
		return domain.Order{}, domain.ErrUnknownStatus
	}
	method := in.Method
	if method == "" {
		method = domain.UpdateMethodManual
	}
	if !method.Valid() {
		return domain.Order{}, domain.ErrUnknownUpdateMethod
	}
	actor := actorOrDefault(in.Actor, method)

	if in.Status == domain.OrderStatusQuotationSent && in.Quotation == nil {
		return domain.Order{}, domain.ErrQuotationRequired
	}
	if in.Quotation != nil {
		if err := in.Quotation.Validate(); err != nil {
			return domain.Order{}, err
		}
	}

	order, err = e.orders.Update(in.OrderID, func(o *domain.Order) error {
		now := e.now()
		if in.Quotation != nil {
			o.Quotation = replaceQuotation(*in.Quotation, now)
		}
		stampQuoteDecision(o.Quotation, in.Status, now)
		o.AppendHistory(domain.StatusHistoryEntry{
			Status:       in.Status,
			Timestamp:    now,
			UpdatedBy:    actor,
			UpdateMethod: method,
			Notes:        in.Notes,
		})
		return nil
	})
	if err != nil {
		return domain.Order{}, err
	}

	fields := log.Fields{
		"order_id": order.ID,
		"status":   order.Status,
		"actor":    actor,
		"method":   method,
	}
	if in.Status == domain.OrderStatusIssueRefund {
		e.logger.WithFields(fields).Warn("issue_refund set directly, bypassing refund workflow")
	} else {
		e.logger.WithFields(fields).Info("order status changed")
	}
	e.metrics.RecordTransition(string(in.Status), string(method))
	e.emit(order, EventOrderStatusChanged, &eventDetails{UpdatedBy: actor, UpdateMethod: method, Notes: in.Notes})

	return order, nil
}

// ApplyAutomationUpdate применяет системное обновление статуса (перевозчик, платёжный шлюз).
// Для заказов с выключенной автоматизацией возвращает ErrAutomationDisabled и ничего не меняет.
func (e *Engine) ApplyAutomationUpdate(ctx context.Context, orderID string, status domain.OrderStatus, notes string) (order domain.Order, err error) {
	defer e.observe("automation_update", time.Now(), &err)

	if err := ctx.Err(); err != nil {
		return domain.Order{}, err
	}
	if !status.Valid() {
		return domain.Order{}, domain.ErrUnknownStatus
	}
	// Расчёт автоматизация не присылает, поэтому quotation_sent ей недоступен.
	if status == domain.OrderStatusQuotationSent {
		return domain.Order{}, domain.ErrQuotationRequired
	}

	order, err = e.orders.Update(orderID, func(o *domain.Order) error {
		if !o.AutomationEnabled {
			return domain.ErrAutomationDisabled
		}
		now := e.now()
		stampQuoteDecision(o.Quotation, status, now)
		o.AppendHistory(domain.StatusHistoryEntry{
			Status:       status,
			Timestamp:    now,
			UpdatedBy:    domain.ActorSystem,
			UpdateMethod: domain.UpdateMethodAuto,
			Notes:        notes,
		})
		return nil
	})
	if err != nil {
		return domain.Order{}, err
	}

	e.logger.WithFields(log.Fields{
		"order_id": order.ID,
		"status":   order.Status,
	}).Info("automation status update applied")
	e.metrics.RecordTransition(string(status), string(domain.UpdateMethodAuto))
	e.emit(order, EventOrderStatusChanged, &eventDetails{UpdatedBy: domain.ActorSystem, UpdateMethod: domain.UpdateMethodAuto, Notes: notes})

	return order, nil
}

// RequestRefund создаёт заявку на возврат. Повторная заявка отклоняется.
func (e *Engine) RequestRefund(ctx context.Context, in RefundInput) (order domain.Order, err error) {
	defer e.observe("request_refund", time.Now(), &err)

	if err := ctx.Err(); err != nil {
		return domain.Order{}, err
	}
	reason := strings.TrimSpace(in.Reason)
	if reason == "" {
		return domain.Order{}, domain.ErrRefundReasonRequired
	}
	if in.RequestedAmountMinor < 0 {
		return domain.Order{}, domain.ErrRefundAmountNegative
	}

	order, err = e.orders.Update(in.OrderID, func(o *domain.Order) error {
		if o.RefundRequest != nil && o.RefundRequest.Requested {
			return domain.ErrRefundAlreadyRequested
		}
		now := e.now()
		o.RefundRequest = &domain.RefundRequest{
			Requested:            true,
			Reason:               reason,
			Evidence:             append([]string(nil), in.Evidence...),
			Status:               domain.RefundStatusPendingReview,
			RequestedAmountMinor: in.RequestedAmountMinor,
			CustomerNotes:        in.CustomerNotes,
			RequestedAt:          now,
		}
		o.UpdatedAt = now
		return nil
	})
	if err != nil {
		return domain.Order{}, err
	}

	e.logger.WithFields(log.Fields{
		"order_id":     order.ID,
		"amount_minor": in.RequestedAmountMinor,
	}).Info("refund requested")
	e.metrics.RecordRefundUpdate(string(domain.RefundStatusPendingReview))
	e.emit(order, EventRefundRequested, nil)

	return order, nil
}

// UpdateRefundStatus двигает возврат по подсостояниям. Завершённый возврат переводит заказ в issue_refund.
func (e *Engine) UpdateRefundStatus(ctx context.Context, in RefundUpdateInput) (order domain.Order, err error) {
	defer e.observe("update_refund_status", time.Now(), &err)

	if err := ctx.Err(); err != nil {
		return domain.Order{}, err
	}
	if !in.Status.Valid() || in.Status == domain.RefundStatusPendingReview {
		return domain.Order{}, domain.ErrRefundInvalidStatus
	}
	if in.ApprovedAmountMinor != nil && *in.ApprovedAmountMinor < 0 {
		return domain.Order{}, domain.ErrRefundAmountNegative
	}
	actor := actorOrDefault(in.Actor, domain.UpdateMethodManual)

	order, err = e.orders.Update(in.OrderID, func(o *domain.Order) error {
		refund := o.RefundRequest
		if refund == nil || !refund.Requested {
			return domain.ErrRefundNotRequested
		}
		if refund.Status.Terminal() {
			return domain.ErrRefundTerminal
		}
		if refundRank(in.Status) < refundRank(refund.Status) {
			return fmt.Errorf("%w: %s -> %s", domain.ErrRefundInvalidStatus, refund.Status, in.Status)
		}

		now := e.now()
		refund.Status = in.Status
		refund.ProcessedAt = &now
		if in.AdminNotes != "" {
			refund.AdminNotes = in.AdminNotes
		}
		switch {
		case in.ApprovedAmountMinor != nil:
			amount := *in.ApprovedAmountMinor
			refund.ApprovedAmountMinor = &amount
		case in.Status == domain.RefundStatusApproved && refund.ApprovedAmountMinor == nil:
			amount := refund.RequestedAmountMinor
			refund.ApprovedAmountMinor = &amount
		}
		o.UpdatedAt = now

		if in.Status == domain.RefundStatusCompleted {
			o.AppendHistory(domain.StatusHistoryEntry{
				Status:       domain.OrderStatusIssueRefund,
				Timestamp:    now,
				UpdatedBy:    actor,
				UpdateMethod: domain.UpdateMethodManual,
				Notes:        refundCompletedNotes(in.AdminNotes),
			})
		}
		return nil
	})
	if err != nil {
		return domain.Order{}, err
	}

	e.logger.WithFields(log.Fields{
		"order_id":      order.ID,
		"refund_status": in.Status,
		"actor":         actor,
	}).Info("refund status updated")
	e.metrics.RecordRefundUpdate(string(in.Status))
	e.emit(order, EventRefundUpdated, &eventDetails{UpdatedBy: actor, UpdateMethod: domain.UpdateMethodManual, Notes: in.AdminNotes})
	if in.Status == domain.RefundStatusCompleted {
		e.metrics.RecordTransition(string(domain.OrderStatusIssueRefund), string(domain.UpdateMethodManual))
		e.emit(order, EventOrderStatusChanged, &eventDetails{UpdatedBy: actor, UpdateMethod: domain.UpdateMethodManual})
	}

	return order, nil
}

// GetOrder возвращает снимок заказа или ErrOrderNotFound.
func (e *Engine) GetOrder(ctx context.Context, orderID string) (domain.Order, error) {
	if err := ctx.Err(); err != nil {
		return domain.Order{}, err
	}
	return e.orders.Get(strings.TrimSpace(orderID))
}

// ListOrdersByStatus возвращает все заказы в статусе, новые первыми.
func (e *Engine) ListOrdersByStatus(ctx context.Context, status domain.OrderStatus) ([]domain.Order, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if !status.Valid() {
		return nil, domain.ErrUnknownStatus
	}
	return e.orders.List(status, 0)
}

// ListOrders возвращает последние заказы; limit<=0 означает все.
func (e *Engine) ListOrders(ctx context.Context, limit int) ([]domain.Order, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return e.orders.List("", limit)
}

// UpdateQuotation заменяет расчёт без смены статуса и без записи в историю.
// Новый расчёт считается отправленным заново: ApprovedAt и RejectedAt сбрасываются.
func (e *Engine) UpdateQuotation(ctx context.Context, orderID string, quotation domain.Quotation) (order domain.Order, err error) {
	defer e.observe("update_quotation", time.Now(), &err)

	if err := ctx.Err(); err != nil {
		return domain.Order{}, err
	}
	if err := quotation.Validate(); err != nil {
		return domain.Order{}, err
	}

	order, err = e.orders.Update(orderID, func(o *domain.Order) error {
		now := e.now()
		o.Quotation = replaceQuotation(quotation, now)
		o.UpdatedAt = now
		return nil
	})
	if err != nil {
		return domain.Order{}, err
	}

	e.logger.WithFields(log.Fields{
		"order_id":    order.ID,
		"total_minor": order.Quotation.TotalAmountMinor,
		"currency":    order.Quotation.Currency,
	}).Info("quotation updated")
	e.emit(order, EventQuotationUpdated, nil)
	return order, nil
}

// UpdateCustomerInfo заменяет контактные данные клиента.
func (e *Engine) UpdateCustomerInfo(ctx context.Context, orderID string, info domain.CustomerInfo) (order domain.Order, err error) {
	defer e.observe("update_customer_info", time.Now(), &err)

	if err := ctx.Err(); err != nil {
		return domain.Order{}, err
	}

	order, err = e.orders.Update(orderID, func(o *domain.Order) error {
		o.CustomerInfo = info
		o.CustomerID = customerID(info)
		o.UpdatedAt = e.now()
		return nil
	})
	if err != nil {
		return domain.Order{}, err
	}

	e.logger.WithField("order_id", order.ID).Info("customer info updated")
	e.registerCustomer(order)
	return order, nil
}

// SetAutomation включает или выключает автоматические обновления статуса для заказа.
func (e *Engine) SetAutomation(ctx context.Context, orderID string, enabled bool) (order domain.Order, err error) {
	defer e.observe("set_automation", time.Now(), &err)

	if err := ctx.Err(); err != nil {
		return domain.Order{}, err
	}

	order, err = e.orders.Update(orderID, func(o *domain.Order) error {
		o.AutomationEnabled = enabled
		o.UpdatedAt = e.now()
		return nil
	})
	if err != nil {
		return domain.Order{}, err
	}

	e.logger.WithFields(log.Fields{
		"order_id": order.ID,
		"enabled":  enabled,
	}).Info("order automation toggled")
	return order, nil
}

// OverrideItem фиксирует ручное решение по позиции и записывает его в журнал ссылки.
func (e *Engine) OverrideItem(ctx context.Context, in ItemOverrideInput) (order domain.Order, err error) {
	defer e.observe("override_item", time.Now(), &err)

	if err := ctx.Err(); err != nil {
		return domain.Order{}, err
	}
	if in.RiskLevel != "" && !in.RiskLevel.Valid() {
		return domain.Order{}, domain.ErrRiskLevelInvalid
	}
	if in.ValidationStatus != "" && !in.ValidationStatus.Valid() {
		return domain.Order{}, domain.ErrValidationStatusInvalid
	}
	adminID := strings.TrimSpace(in.AdminID)
	if adminID == "" {
		adminID = domain.ActorAdmin
	}

	var link string
	order, err = e.orders.Update(in.OrderID, func(o *domain.Order) error {
		if in.ItemIndex < 0 || in.ItemIndex >= len(o.Items) {
			return domain.ErrItemIndexOutOfRange
		}
		item := &o.Items[in.ItemIndex]
		item.AdminOverride = true
		item.ValidationMethod = domain.ValidationMethodOverride
		if in.RiskLevel != "" {
			item.RiskLevel = in.RiskLevel
		}
		if in.ValidationStatus != "" {
			item.ValidationStatus = in.ValidationStatus
		}
		link = item.ProductLink
		o.UpdatedAt = e.now()
		return nil
	})
	if err != nil {
		return domain.Order{}, err
	}

	// Журнал ссылки вторичен: заказ уже сохранён, ошибку кеша только логируем.
	if _, err := e.validator.Override(ctx, link, domain.AdminOverride{
		Timestamp: e.now(),
		AdminID:   adminID,
		Action:    in.Action,
		Notes:     in.Notes,
	}); err != nil {
		e.logger.WithError(err).WithFields(log.Fields{
			"order_id": order.ID,
			"url":      link,
		}).Warn("failed to record link override")
	}

	e.logger.WithFields(log.Fields{
		"order_id":   order.ID,
		"item_index": in.ItemIndex,
		"admin_id":   adminID,
	}).Info("order item overridden")
	return order, nil
}

// Statistics считает сводку по всем заказам.
func (e *Engine) Statistics(ctx context.Context) (domain.OrderStatistics, error) {
	if err := ctx.Err(); err != nil {
		return domain.OrderStatistics{}, err
	}
	orders, err := e.orders.List("", 0)
	if err != nil {
		return domain.OrderStatistics{}, err
	}
	return domain.ComputeStatistics(orders, e.now()), nil
}

// TrackOrder отдаёт заказ клиенту, если последние цифры телефона совпадают с сохранёнными.
func (e *Engine) TrackOrder(ctx context.Context, orderID, phone string) (domain.Order, error) {
	order, err := e.GetOrder(ctx, orderID)
	if err != nil {
		return domain.Order{}, err
	}
	if !phonesMatch(order.CustomerInfo.Phone, phone) {
		e.logger.WithField("order_id", order.ID).Warn("tracking phone verification failed")
		return domain.Order{}, domain.ErrTrackingVerificationFailed
	}
	return order, nil
}

// GetCustomer возвращает клиента из реестра.
func (e *Engine) GetCustomer(ctx context.Context, customerID string) (domain.Customer, error) {
	if err := ctx.Err(); err != nil {
		return domain.Customer{}, err
	}
	if e.customers == nil {
		return domain.Customer{}, domain.ErrCustomerRegistryUnavailable
	}
	return e.customers.Get(strings.TrimSpace(customerID))
}

// FindCustomer ищет клиента по email, а если он не задан — по телефону.
func (e *Engine) FindCustomer(ctx context.Context, email, phone string) (domain.Customer, error) {
	if err := ctx.Err(); err != nil {
		return domain.Customer{}, err
	}
	if e.customers == nil {
		return domain.Customer{}, domain.ErrCustomerRegistryUnavailable
	}
	switch {
	case domain.NormalizeEmail(email) != "":
		return e.customers.FindByEmail(email)
	case domain.PhoneDigits(phone) != "":
		return e.customers.FindByPhone(phone)
	default:
		return domain.Customer{}, domain.ErrCustomerLookupRequired
	}
}

// UpdateCustomerPreferences заменяет настройки уведомлений клиента.
func (e *Engine) UpdateCustomerPreferences(ctx context.Context, customerID string, prefs domain.CustomerPreferences) (customer domain.Customer, err error) {
	defer e.observe("update_customer_preferences", time.Now(), &err)

	if err := ctx.Err(); err != nil {
		return domain.Customer{}, err
	}
	if e.customers == nil {
		return domain.Customer{}, domain.ErrCustomerRegistryUnavailable
	}
	customer, err = e.customers.UpdatePreferences(strings.TrimSpace(customerID), prefs)
	if err != nil {
		return domain.Customer{}, err
	}
	e.logger.WithField("customer_id", customer.ID).Info("customer preferences updated")
	return customer, nil
}

// registerCustomer обновляет реестр после сохранения заказа. Заказ уже записан,
// поэтому ошибки реестра только логируются.
func (e *Engine) registerCustomer(order domain.Order) {
	if e.customers == nil {
		return
	}
	fields := log.Fields{
		"order_id":    order.ID,
		"customer_id": order.CustomerID,
	}
	profile := domain.NewCustomerFromInfo(order.CustomerID, order.CustomerInfo, order.UpdatedAt)
	if _, err := e.customers.Upsert(profile); err != nil {
		e.logger.WithError(err).WithFields(fields).Warn("failed to upsert customer")
		return
	}
	if _, err := e.customers.AddOrder(order.CustomerID, order.ID); err != nil {
		e.logger.WithError(err).WithFields(fields).Warn("failed to add order to customer history")
	}
}

func (e *Engine) observe(operation string, started time.Time, err *error) {
	e.metrics.RecordOperation(operation, *err, time.Since(started))
}

// replaceQuotation нормализует новый расчёт и открывает по нему новый цикл согласования:
// QuoteSentAt ставится заново, решения клиента по прежнему расчёту к новому не относятся.
func replaceQuotation(next domain.Quotation, now time.Time) *domain.Quotation {
	next.Normalize()
	stamp := now
	next.QuoteSentAt = &stamp
	next.ApprovedAt, next.RejectedAt = nil, nil
	return &next
}

// stampQuoteDecision ставит отметку решения клиента один раз и только по отправленному расчёту.
func stampQuoteDecision(q *domain.Quotation, status domain.OrderStatus, now time.Time) {
	if q == nil || q.QuoteSentAt == nil {
		return
	}
	stamp := now
	switch status {
	case domain.OrderStatusQuoteApproved:
		if q.ApprovedAt == nil {
			q.ApprovedAt = &stamp
		}
	case domain.OrderStatusQuoteRejected:
		if q.RejectedAt == nil {
			q.RejectedAt = &stamp
		}
	}
}

func refundRank(s domain.RefundStatus) int {
	switch s {
	case domain.RefundStatusPendingReview:
		return 0
	case domain.RefundStatusApproved:
		return 1
	case domain.RefundStatusProcessing:
		return 2
	default:
		// completed и rejected достижимы из любого нетерминального состояния.
		return 3
	}
}

func refundCompletedNotes(adminNotes string) string {
	if adminNotes = strings.TrimSpace(adminNotes); adminNotes == "" {
		return "Refund completed"
	}
	return "Refund completed: " + adminNotes
}

func actorOrDefault(actor string, method domain.UpdateMethod) string {
	if actor = strings.TrimSpace(actor); actor != "" {
		return actor
	}
	if method == domain.UpdateMethodAuto {
		return domain.ActorSystem
	}
	return domain.ActorAdmin
}

// customerID стабилен для одного email, поэтому повторные заказы клиента группируются.
func customerID(info domain.CustomerInfo) string {
	key := domain.NormalizeEmail(info.Email)
	if key == "" {
		key = "tel:" + domain.PhoneDigits(info.Phone)
	}
	return "CUST-" + uuid.NewSHA1(uuid.NameSpaceURL, []byte("mailto:"+key)).String()
}

const trackingPhoneDigits = 7

func phonesMatch(stored, provided string) bool {
	a, b := domain.PhoneDigits(stored), domain.PhoneDigits(provided)
	if a == "" || b == "" {
		return false
	}
	if len(a) > trackingPhoneDigits {
		a = a[len(a)-trackingPhoneDigits:]
	}
	if len(b) > trackingPhoneDigits {
		b = b[len(b)-trackingPhoneDigits:]
	}
	return a == b
}

// Типы событий заказа в outbox.
const (
	EventOrderCreated       = "order.created"
	EventOrderStatusChanged = "order.status_changed"
	EventQuotationUpdated   = "order.quotation_updated"
	EventRefundRequested    = "order.refund_requested"
	EventRefundUpdated      = "order.refund_updated"
)

type eventDetails struct {
	UpdatedBy    string
	UpdateMethod domain.UpdateMethod
	Notes        string
}

// OrderEventPayload — тело события заказа в outbox.
type OrderEventPayload struct {
	OrderID           string              `json:"order_id"`
	CustomerID        string              `json:"customer_id"`
	Status            domain.OrderStatus  `json:"status"`
	RefundStatus      domain.RefundStatus `json:"refund_status,omitempty"`
	QuoteTotalMinor   *int64              `json:"quote_total_minor,omitempty"`
	Currency          string              `json:"currency,omitempty"`
	UpdatedBy         string              `json:"updated_by,omitempty"`
	UpdateMethod      domain.UpdateMethod `json:"update_method,omitempty"`
	Notes             string              `json:"notes,omitempty"`
	AutomationEnabled bool                `json:"automation_enabled"`
	Version           int64               `json:"version"`
	OccurredAt        time.Time           `json:"occurred_at"`
}

func (e *Engine) emit(order domain.Order, eventType string, details *eventDetails) {
	if e.outbox == nil {
		return
	}

	payload := OrderEventPayload{
		OrderID:           order.ID,
		CustomerID:        order.CustomerID,
		Status:            order.Status,
		AutomationEnabled: order.AutomationEnabled,
		Version:           order.Version,
		OccurredAt:        order.UpdatedAt,
	}
	if order.RefundRequest != nil {
		payload.RefundStatus = order.RefundRequest.Status
	}
	if order.Quotation != nil {
		total := order.Quotation.TotalAmountMinor
		payload.QuoteTotalMinor = &total
		payload.Currency = order.Quotation.Currency
	}
	if details != nil {
		payload.UpdatedBy = details.UpdatedBy
		payload.UpdateMethod = details.UpdateMethod
		payload.Notes = details.Notes
	}

	data, err := json.Marshal(payload)
	if err != nil {
		e.logger.WithError(err).WithFields(log.Fields{
			"order_id": order.ID,
			"event":    eventType,
		}).Error("marshal event failed")
		return
	}

	if _, err := e.outbox.Enqueue(domain.OutboxMessage{
		AggregateType: "order",
		AggregateID:   order.ID,
		EventType:     eventType,
		Payload:       data,
	}); err != nil {
		e.logger.WithError(err).WithFields(log.Fields{
			"order_id": order.ID,
			"event":    eventType,
		}).Error("enqueue event failed")
		return
	}
	e.metrics.RecordOutboxEnqueued()
}
