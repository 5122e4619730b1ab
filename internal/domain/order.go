package domain

import (
	"fmt"
	"regexp"
	"time"
)

// OrderStatus описывает жизненный цикл заказа на выкуп и доставку.
type OrderStatus string

const (
	// OrderStatusSubmitted — заказ принят от клиента, ещё не просмотрен менеджером.
	OrderStatusSubmitted OrderStatus = "submitted"
	// OrderStatusConfirmed — менеджер подтвердил, что заказ можно обрабатывать.
	OrderStatusConfirmed OrderStatus = "confirmed"
	// OrderStatusQuotationPending — готовится расчёт стоимости.
	OrderStatusQuotationPending OrderStatus = "quotation_pending"
	// OrderStatusQuotationSent — расчёт отправлен клиенту.
	OrderStatusQuotationSent OrderStatus = "quotation_sent"
	// OrderStatusAwaitingApproval — ждём решения клиента по расчёту.
	OrderStatusAwaitingApproval OrderStatus = "awaiting_approval"
	// OrderStatusQuoteApproved — клиент согласился с расчётом.
	OrderStatusQuoteApproved OrderStatus = "quote_approved"
	// OrderStatusPaymentPending — ожидаем оплату.
	OrderStatusPaymentPending OrderStatus = "payment_pending"
	// OrderStatusPaymentReceived — оплата получена.
	OrderStatusPaymentReceived OrderStatus = "payment_received"
	// OrderStatusProcessing — заказ в работе у закупщика.
	OrderStatusProcessing OrderStatus = "processing"
	// OrderStatusPurchased — товары выкуплены у ритейлера.
	OrderStatusPurchased OrderStatus = "purchased"
	// OrderStatusInTransitInternational — посылка в международной доставке.
	OrderStatusInTransitInternational OrderStatus = "in_transit_international"
	// OrderStatusArrivedLocal — посылка прибыла на локальный склад.
	OrderStatusArrivedLocal OrderStatus = "arrived_local"
	// OrderStatusOutForDelivery — курьер везёт посылку клиенту.
	OrderStatusOutForDelivery OrderStatus = "out_for_delivery"
	// OrderStatusDelivered — заказ вручён.
	OrderStatusDelivered OrderStatus = "delivered"
	// OrderStatusQuoteRejected — клиент отказался от расчёта.
	OrderStatusQuoteRejected OrderStatus = "quote_rejected"
	// OrderStatusIssueRefund — по заказу выполнен возврат.
	OrderStatusIssueRefund OrderStatus = "issue_refund"
)

var orderStatuses = []OrderStatus{
	OrderStatusSubmitted,
	OrderStatusConfirmed,
	OrderStatusQuotationPending,
	OrderStatusQuotationSent,
	OrderStatusAwaitingApproval,
	OrderStatusQuoteApproved,
	OrderStatusPaymentPending,
	OrderStatusPaymentReceived,
	OrderStatusProcessing,
	OrderStatusPurchased,
	OrderStatusInTransitInternational,
	OrderStatusArrivedLocal,
	OrderStatusOutForDelivery,
	OrderStatusDelivered,
	OrderStatusQuoteRejected,
	OrderStatusIssueRefund,
}

// OrderStatuses возвращает все статусы в порядке основного сценария.
func OrderStatuses() []OrderStatus {
	return append([]OrderStatus(nil), orderStatuses...)
}

// Valid проверяет, что статус относится к закрытому набору.
func (s OrderStatus) Valid() bool {
	for _, known := range orderStatuses {
		if s == known {
			return true
		}
	}
	return false
}

// UpdateMethod показывает, кто инициировал переход: система или человек.
type UpdateMethod string

const (
	UpdateMethodAuto   UpdateMethod = "auto"
	UpdateMethodManual UpdateMethod = "manual"
)

// Valid проверяет значение метода.
func (m UpdateMethod) Valid() bool {
	return m == UpdateMethodAuto || m == UpdateMethodManual
}

// Стандартные авторы записей истории. Вместо ActorAdmin допускается логин сотрудника.
const (
	ActorSystem   = "system"
	ActorAdmin    = "admin"
	ActorCustomer = "customer"
)

// TrafficSource — канал, из которого пришёл клиент.
type TrafficSource string

const (
	TrafficSourceInstagram TrafficSource = "instagram"
	TrafficSourceDirect    TrafficSource = "direct"
	TrafficSourceReferral  TrafficSource = "referral"
)

// OrderItem представляет одну ссылку на товар в заказе.
type OrderItem struct {
	ProductLink      string           `json:"product_link"`
	Quantity         int              `json:"quantity"`
	ProductType      string           `json:"product_type,omitempty"`
	ValidationStatus ValidationStatus `json:"validation_status"`
	ValidationMethod ValidationMethod `json:"validation_method"`
	StockStatus      string           `json:"stock_status,omitempty"`
	RiskLevel        RiskLevel        `json:"risk_level"`
	AdminOverride    bool             `json:"admin_override"`
	// Цены в центах; nil означает, что цена ещё неизвестна.
	EstimatedPriceMinor *int64 `json:"estimated_price_minor,omitempty"`
	QuotedPriceMinor    *int64 `json:"quoted_price_minor,omitempty"`
	FinalPriceMinor     *int64 `json:"final_price_minor,omitempty"`
}

// CustomerInfo — снимок контактных данных клиента на момент заказа.
type CustomerInfo struct {
	Name                string        `json:"name"`
	Email               string        `json:"email"`
	Phone               string        `json:"phone"`
	Address             string        `json:"address"`
	SpecialInstructions string        `json:"special_instructions,omitempty"`
	TrafficSource       TrafficSource `json:"traffic_source,omitempty"`
}

// StatusHistoryEntry — неизменяемая запись аудита смены статуса.
type StatusHistoryEntry struct {
	Status       OrderStatus  `json:"status"`
	Timestamp    time.Time    `json:"timestamp"`
	UpdatedBy    string       `json:"updated_by"`
	UpdateMethod UpdateMethod `json:"update_method"`
	Notes        string       `json:"notes,omitempty"`
}

// Order агрегирует состояние заказа, его позиции, расчёт и возврат.
type Order struct {
	ID                string               `json:"order_id"`
	CustomerID        string               `json:"customer_id"`
	Status            OrderStatus          `json:"status"`
	AutomationEnabled bool                 `json:"automation_enabled"`
	Items             []OrderItem          `json:"items"`
	CustomerInfo      CustomerInfo         `json:"customer_info"`
	Quotation         *Quotation           `json:"quotation,omitempty"`
	StatusHistory     []StatusHistoryEntry `json:"status_history"`
	RefundRequest     *RefundRequest       `json:"refund_request,omitempty"`
	Version           int64                `json:"version"`
	CreatedAt         time.Time            `json:"created_at"`
	UpdatedAt         time.Time            `json:"updated_at"`
}

const orderIDPrefix = "KS-25-"

var orderIDPattern = regexp.MustCompile(`^KS-25-\d{6}$`)

// FormatOrderID превращает порядковый номер в человекочитаемый идентификатор.
func FormatOrderID(seq int64) string {
	return fmt.Sprintf("%s%06d", orderIDPrefix, seq)
}

// IsValidOrderID проверяет формат идентификатора заказа.
func IsValidOrderID(id string) bool {
	return orderIDPattern.MatchString(id)
}

// AppendHistory добавляет запись истории и синхронизирует статус и updatedAt.
func (o *Order) AppendHistory(entry StatusHistoryEntry) {
	o.StatusHistory = append(o.StatusHistory, entry)
	o.Status = entry.Status
	o.UpdatedAt = entry.Timestamp
}

// LastHistoryEntry возвращает последнюю запись истории.
func (o *Order) LastHistoryEntry() (StatusHistoryEntry, bool) {
	if len(o.StatusHistory) == 0 {
		return StatusHistoryEntry{}, false
	}
	return o.StatusHistory[len(o.StatusHistory)-1], true
}

// Clone возвращает глубокую копию, чтобы хранилища не делили срезы с вызывающим кодом.
func (o Order) Clone() Order {
	dst := o
	if o.Items != nil {
		dst.Items = make([]OrderItem, len(o.Items))
		for i, item := range o.Items {
			dst.Items[i] = item
			dst.Items[i].EstimatedPriceMinor = cloneInt64(item.EstimatedPriceMinor)
			dst.Items[i].QuotedPriceMinor = cloneInt64(item.QuotedPriceMinor)
			dst.Items[i].FinalPriceMinor = cloneInt64(item.FinalPriceMinor)
		}
	}
	if o.StatusHistory != nil {
		dst.StatusHistory = append([]StatusHistoryEntry(nil), o.StatusHistory...)
	}
	if o.Quotation != nil {
		q := *o.Quotation
		q.QuoteSentAt = cloneTime(o.Quotation.QuoteSentAt)
		q.ApprovedAt = cloneTime(o.Quotation.ApprovedAt)
		q.RejectedAt = cloneTime(o.Quotation.RejectedAt)
		dst.Quotation = &q
	}
	if o.RefundRequest != nil {
		r := *o.RefundRequest
		r.Evidence = append([]string(nil), o.RefundRequest.Evidence...)
		r.ApprovedAmountMinor = cloneInt64(o.RefundRequest.ApprovedAmountMinor)
		r.ProcessedAt = cloneTime(o.RefundRequest.ProcessedAt)
		dst.RefundRequest = &r
	}
	return dst
}

// ValidateInvariants проверяет инварианты агрегата и возвращает список нарушений.
func (o *Order) ValidateInvariants() []error {
	var errs []error

	if !IsValidOrderID(o.ID) {
		errs = append(errs, ErrOrderIDInvalid)
	}
	if !o.Status.Valid() {
		errs = append(errs, ErrUnknownStatus)
	}
	if len(o.Items) == 0 {
		errs = append(errs, ErrItemsRequired)
	}
	for _, item := range o.Items {
		if item.Quantity < 0 {
			errs = append(errs, ErrItemQtyInvalid)
		}
		if item.ProductLink == "" {
			errs = append(errs, ErrProductLinkRequired)
		}
	}

	last, ok := o.LastHistoryEntry()
	switch {
	case !ok:
		errs = append(errs, ErrHistoryEmpty)
	case last.Status != o.Status:
		errs = append(errs, ErrHistoryOutOfSync)
	}

	if o.Quotation != nil && o.Quotation.TotalAmountMinor != o.Quotation.ComponentsSum() {
		errs = append(errs, ErrQuotationTotalMismatch)
	}

	return errs
}

func cloneInt64(v *int64) *int64 {
	if v == nil {
		return nil
	}
	c := *v
	return &c
}

func cloneTime(v *time.Time) *time.Time {
	if v == nil {
		return nil
	}
	c := *v
	return &c
}
