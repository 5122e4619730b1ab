package grpcsvc

import (
	"github.com/vladislavdragonenkov/forwarder/internal/domain"
	"github.com/vladislavdragonenkov/forwarder/internal/service/lifecycle"
)

// Запросы мутаций совпадают с входами движка.
type (
	CreateOrderRequest        = lifecycle.CreateOrderInput
	TransitionStatusRequest   = lifecycle.TransitionInput
	RequestRefundRequest      = lifecycle.RefundInput
	UpdateRefundStatusRequest = lifecycle.RefundUpdateInput
	OverrideItemRequest       = lifecycle.ItemOverrideInput
)

// OrderResponse возвращается всеми методами, которые меняют или читают один заказ.
type OrderResponse struct {
	Order domain.Order `json:"order"`
}

type GetOrderRequest struct {
	OrderID string `json:"order_id"`
}

type ListOrdersRequest struct {
	Status domain.OrderStatus `json:"status,omitempty"`
	Limit  int                `json:"limit,omitempty"`
}

type ListOrdersResponse struct {
	Orders []domain.Order `json:"orders"`
}

type UpdateQuotationRequest struct {
	OrderID   string           `json:"order_id"`
	Quotation domain.Quotation `json:"quotation"`
}

type UpdateCustomerInfoRequest struct {
	OrderID      string              `json:"order_id"`
	CustomerInfo domain.CustomerInfo `json:"customer_info"`
}

type SetAutomationRequest struct {
	OrderID string `json:"order_id"`
	Enabled bool   `json:"enabled"`
}

// TrackOrderRequest — запрос клиента; Phone сверяется по последним цифрам.
type TrackOrderRequest struct {
	OrderID string `json:"order_id"`
	Phone   string `json:"phone"`
}

type StatisticsRequest struct{}

type StatisticsResponse struct {
	Statistics domain.OrderStatistics `json:"statistics"`
}

type ValidateLinkRequest struct {
	URL         string `json:"url"`
	ProductType string `json:"product_type,omitempty"`
}

type ValidateLinkResponse struct {
	Result domain.ValidationResult `json:"result"`
}

type OverrideLinkRequest struct {
	URL     string `json:"url"`
	AdminID string `json:"admin_id"`
	Action  string `json:"action"`
	Notes   string `json:"notes,omitempty"`
}

type LinkEntryResponse struct {
	Entry domain.LinkCacheEntry `json:"entry"`
}

// GetCustomerRequest ищет клиента по id, иначе по email, иначе по телефону.
type GetCustomerRequest struct {
	CustomerID string `json:"customer_id,omitempty"`
	Email      string `json:"email,omitempty"`
	Phone      string `json:"phone,omitempty"`
}

type UpdateCustomerPreferencesRequest struct {
	CustomerID  string                     `json:"customer_id"`
	Preferences domain.CustomerPreferences `json:"preferences"`
}

type CustomerResponse struct {
	Customer domain.Customer `json:"customer"`
}
