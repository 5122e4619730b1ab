package httpapi

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/vladislavdragonenkov/forwarder/internal/domain"
	"github.com/vladislavdragonenkov/forwarder/internal/service/lifecycle"
)

type loginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type validateLinkRequest struct {
	URL         string `json:"url"`
	ProductType string `json:"product_type,omitempty"`
}

// storefrontOrderRequest — заказ с витрины. Автоматизацию включает только администратор.
type storefrontOrderRequest struct {
	CustomerInfo domain.CustomerInfo   `json:"customer_info"`
	Items        []lifecycle.ItemInput `json:"items"`
}

type trackRequest struct {
	Phone string `json:"phone"`
}

type customerRefundRequest struct {
	Phone                string   `json:"phone"`
	Reason               string   `json:"reason"`
	RequestedAmountMinor int64    `json:"requested_amount_minor"`
	CustomerNotes        string   `json:"customer_notes,omitempty"`
	Evidence             []string `json:"evidence,omitempty"`
}

type transitionRequest struct {
	Status    domain.OrderStatus `json:"status"`
	Notes     string             `json:"notes,omitempty"`
	Quotation *domain.Quotation  `json:"quotation,omitempty"`
}

type automationRequest struct {
	Enabled bool `json:"enabled"`
}

type itemOverrideRequest struct {
	Action           string                  `json:"action"`
	RiskLevel        domain.RiskLevel        `json:"risk_level,omitempty"`
	ValidationStatus domain.ValidationStatus `json:"validation_status,omitempty"`
	Notes            string                  `json:"notes,omitempty"`
}

type refundStatusRequest struct {
	Status              domain.RefundStatus `json:"status"`
	ApprovedAmountMinor *int64              `json:"approved_amount_minor,omitempty"`
	AdminNotes          string              `json:"admin_notes,omitempty"`
}

type linkOverrideRequest struct {
	URL    string `json:"url"`
	Action string `json:"action"`
	Notes  string `json:"notes,omitempty"`
}

func (a *API) handleLogin(w http.ResponseWriter, r *http.Request) {
	if a.auth == nil {
		writeError(w, http.StatusServiceUnavailable, "auth_disabled", "staff authentication is not configured")
		return
	}
	var req loginRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	resp, err := a.auth.Login(req.Username, req.Password)
	if err != nil {
		writeError(w, http.StatusUnauthorized, "unauthorized", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (a *API) handleValidateLink(w http.ResponseWriter, r *http.Request) {
	if a.validator == nil {
		writeError(w, http.StatusServiceUnavailable, "unavailable", "link validator is not configured")
		return
	}
	var req validateLinkRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	if strings.TrimSpace(req.URL) == "" {
		writeError(w, http.StatusBadRequest, "invalid_request", "url is required")
		return
	}
	result, err := a.validator.Validate(r.Context(), req.URL, req.ProductType)
	if err != nil {
		a.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (a *API) handleCreateOrder(w http.ResponseWriter, r *http.Request) {
	body, err := readBody(w, r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	var req storefrontOrderRequest
	if err := decodeBody(body, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}

	a.idempotent(w, r, "POST /orders", body, func() result {
		order, err := a.engine.CreateOrder(r.Context(), lifecycle.CreateOrderInput{
			CustomerInfo: req.CustomerInfo,
			Items:        req.Items,
		})
		if err != nil {
			return a.failure(r, err)
		}
		return result{status: http.StatusCreated, payload: order}
	})
}

func (a *API) handleTrackOrder(w http.ResponseWriter, r *http.Request) {
	var req trackRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	if strings.TrimSpace(req.Phone) == "" {
		writeError(w, http.StatusBadRequest, "invalid_request", "phone is required")
		return
	}
	order, err := a.engine.TrackOrder(r.Context(), chi.URLParam(r, "orderID"), req.Phone)
	if err != nil {
		a.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, order)
}

// handleCustomerRefund принимает заявку клиента после сверки телефона, как при трекинге.
func (a *API) handleCustomerRefund(w http.ResponseWriter, r *http.Request) {
	orderID := chi.URLParam(r, "orderID")
	body, err := readBody(w, r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	var req customerRefundRequest
	if err := decodeBody(body, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}

	a.idempotent(w, r, "POST /orders/"+orderID+"/refund", body, func() result {
		if _, err := a.engine.TrackOrder(r.Context(), orderID, req.Phone); err != nil {
			return a.failure(r, err)
		}
		order, err := a.engine.RequestRefund(r.Context(), lifecycle.RefundInput{
			OrderID:              orderID,
			Reason:               req.Reason,
			RequestedAmountMinor: req.RequestedAmountMinor,
			CustomerNotes:        req.CustomerNotes,
			Evidence:             req.Evidence,
		})
		if err != nil {
			return a.failure(r, err)
		}
		return result{status: http.StatusCreated, payload: order.RefundRequest}
	})
}

func (a *API) handleListOrders(w http.ResponseWriter, r *http.Request) {
	limit := defaultListLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 {
			writeError(w, http.StatusBadRequest, "invalid_request", "limit must be a positive integer")
			return
		}
		limit = parsed
	}

	var (
		orders []domain.Order
		err    error
	)
	if status := domain.OrderStatus(r.URL.Query().Get("status")); status != "" {
		orders, err = a.engine.ListOrdersByStatus(r.Context(), status)
		if err == nil && len(orders) > limit {
			orders = orders[:limit]
		}
	} else {
		orders, err = a.engine.ListOrders(r.Context(), limit)
	}
	if err != nil {
		a.writeDomainError(w, r, err)
		return
	}
	if orders == nil {
		orders = []domain.Order{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"orders": orders})
}

func (a *API) handleGetOrder(w http.ResponseWriter, r *http.Request) {
	order, err := a.engine.GetOrder(r.Context(), chi.URLParam(r, "orderID"))
	if err != nil {
		a.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, order)
}

func (a *API) handleTransition(w http.ResponseWriter, r *http.Request) {
	var req transitionRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	order, err := a.engine.TransitionStatus(r.Context(), lifecycle.TransitionInput{
		OrderID:   chi.URLParam(r, "orderID"),
		Status:    req.Status,
		Actor:     actorFrom(r.Context()).Username,
		Method:    domain.UpdateMethodManual,
		Notes:     req.Notes,
		Quotation: req.Quotation,
	})
	if err != nil {
		a.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, order)
}

func (a *API) handleUpdateQuotation(w http.ResponseWriter, r *http.Request) {
	var req domain.Quotation
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	order, err := a.engine.UpdateQuotation(r.Context(), chi.URLParam(r, "orderID"), req)
	if err != nil {
		a.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, order)
}

func (a *API) handleUpdateCustomer(w http.ResponseWriter, r *http.Request) {
	var req domain.CustomerInfo
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	order, err := a.engine.UpdateCustomerInfo(r.Context(), chi.URLParam(r, "orderID"), req)
	if err != nil {
		a.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, order)
}

func (a *API) handleSetAutomation(w http.ResponseWriter, r *http.Request) {
	var req automationRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	order, err := a.engine.SetAutomation(r.Context(), chi.URLParam(r, "orderID"), req.Enabled)
	if err != nil {
		a.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, order)
}

func (a *API) handleOverrideItem(w http.ResponseWriter, r *http.Request) {
	index, err := strconv.Atoi(chi.URLParam(r, "index"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "item index must be an integer")
		return
	}
	var req itemOverrideRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	order, err := a.engine.OverrideItem(r.Context(), lifecycle.ItemOverrideInput{
		OrderID:          chi.URLParam(r, "orderID"),
		ItemIndex:        index,
		AdminID:          actorFrom(r.Context()).Username,
		Action:           req.Action,
		RiskLevel:        req.RiskLevel,
		ValidationStatus: req.ValidationStatus,
		Notes:            req.Notes,
	})
	if err != nil {
		a.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, order)
}

func (a *API) handleRefundStatus(w http.ResponseWriter, r *http.Request) {
	var req refundStatusRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	order, err := a.engine.UpdateRefundStatus(r.Context(), lifecycle.RefundUpdateInput{
		OrderID:             chi.URLParam(r, "orderID"),
		Status:              req.Status,
		ApprovedAmountMinor: req.ApprovedAmountMinor,
		AdminNotes:          req.AdminNotes,
		Actor:               actorFrom(r.Context()).Username,
	})
	if err != nil {
		a.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, order)
}

func (a *API) handleStatistics(w http.ResponseWriter, r *http.Request) {
	stats, err := a.engine.Statistics(r.Context())
	if err != nil {
		a.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

// handleFindCustomer ищет клиента по ?email=, а без него по ?phone=.
func (a *API) handleFindCustomer(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	customer, err := a.engine.FindCustomer(r.Context(), query.Get("email"), query.Get("phone"))
	if err != nil {
		a.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, customer)
}

func (a *API) handleGetCustomer(w http.ResponseWriter, r *http.Request) {
	customer, err := a.engine.GetCustomer(r.Context(), chi.URLParam(r, "customerID"))
	if err != nil {
		a.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, customer)
}

func (a *API) handleUpdatePreferences(w http.ResponseWriter, r *http.Request) {
	var prefs domain.CustomerPreferences
	if err := decodeJSON(w, r, &prefs); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	customer, err := a.engine.UpdateCustomerPreferences(r.Context(), chi.URLParam(r, "customerID"), prefs)
	if err != nil {
		a.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, customer)
}

func (a *API) handleListLinks(w http.ResponseWriter, r *http.Request) {
	if a.validator == nil {
		writeError(w, http.StatusServiceUnavailable, "unavailable", "link validator is not configured")
		return
	}
	retailer := strings.TrimSpace(r.URL.Query().Get("domain"))
	if retailer == "" {
		writeError(w, http.StatusBadRequest, "invalid_request", "domain is required")
		return
	}
	entries, err := a.validator.ListByDomain(r.Context(), retailer)
	if err != nil {
		a.writeDomainError(w, r, err)
		return
	}
	if entries == nil {
		entries = []domain.LinkCacheEntry{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"links": entries})
}

func (a *API) handleLookupLink(w http.ResponseWriter, r *http.Request) {
	if a.validator == nil {
		writeError(w, http.StatusServiceUnavailable, "unavailable", "link validator is not configured")
		return
	}
	entry, err := a.validator.Lookup(r.Context(), r.URL.Query().Get("url"))
	if err != nil {
		a.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, entry)
}

func (a *API) handleOverrideLink(w http.ResponseWriter, r *http.Request) {
	if a.validator == nil {
		writeError(w, http.StatusServiceUnavailable, "unavailable", "link validator is not configured")
		return
	}
	var req linkOverrideRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	if strings.TrimSpace(req.URL) == "" || strings.TrimSpace(req.Action) == "" {
		writeError(w, http.StatusBadRequest, "invalid_request", "url and action are required")
		return
	}
	entry, err := a.validator.Override(r.Context(), req.URL, domain.AdminOverride{
		AdminID: actorFrom(r.Context()).Username,
		Action:  req.Action,
		Notes:   req.Notes,
	})
	if err != nil {
		a.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, entry)
}

func (a *API) handlePurgeLinks(w http.ResponseWriter, r *http.Request) {
	if a.validator == nil {
		writeError(w, http.StatusServiceUnavailable, "unavailable", "link validator is not configured")
		return
	}
	deleted, err := a.validator.PurgeExpired(r.Context())
	if err != nil {
		a.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"deleted": deleted})
}
