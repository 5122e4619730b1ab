package httpapi

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/vladislavdragonenkov/forwarder/internal/domain"
	"github.com/vladislavdragonenkov/forwarder/internal/service/lifecycle"
	"github.com/vladislavdragonenkov/forwarder/internal/service/validation"
	"github.com/vladislavdragonenkov/forwarder/internal/storage/memory"
)

const (
	testSecret   = "test-secret"
	testStaff    = "ops@example.com"
	testPassword = "correct horse"
)

type testAPI struct {
	t       *testing.T
	handler http.Handler
	token   string
}

func newTestAPI(t *testing.T, options ...Option) *testAPI {
	t.Helper()

	validator := validation.NewValidator(validation.WithCache(memory.NewLinkCacheRepository()))
	engine := lifecycle.NewEngine(memory.NewOrderRepository(),
		lifecycle.WithValidator(validator),
		lifecycle.WithCustomers(memory.NewCustomerRepository()),
	)
	auth, err := NewAuthManager(testSecret, time.Hour, map[string]string{testStaff: testPassword})
	require.NoError(t, err)

	options = append([]Option{WithIdempotency(memory.NewIdempotencyRepository())}, options...)
	api := &testAPI{t: t, handler: New(engine, validator, auth, options...).Handler()}

	login, err := auth.Login(testStaff, testPassword)
	require.NoError(t, err)
	api.token = login.AccessToken
	return api
}

func (a *testAPI) do(method, path string, body any, headers map[string]string) *httptest.ResponseRecorder {
	a.t.Helper()

	var reader *bytes.Reader
	switch v := body.(type) {
	case nil:
		reader = bytes.NewReader(nil)
	case string:
		reader = bytes.NewReader([]byte(v))
	default:
		data, err := json.Marshal(v)
		require.NoError(a.t, err)
		reader = bytes.NewReader(data)
	}

	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	a.handler.ServeHTTP(rec, req)
	return rec
}

func (a *testAPI) admin(method, path string, body any) *httptest.ResponseRecorder {
	return a.do(method, path, body, map[string]string{"Authorization": "Bearer " + a.token})
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

func orderBody() storefrontOrderRequest {
	return storefrontOrderRequest{
		CustomerInfo: domain.CustomerInfo{
			Name:    "Esi Owusu",
			Email:   "esi@example.com",
			Phone:   "+233 20 111 2233",
			Address: "Takoradi",
		},
		Items: []lifecycle.ItemInput{{ProductLink: "https://www.amazon.com/dp/B0042", Quantity: 1}},
	}
}

func (a *testAPI) createOrder() domain.Order {
	a.t.Helper()
	rec := a.do(http.MethodPost, "/api/v1/orders", orderBody(), nil)
	require.Equal(a.t, http.StatusCreated, rec.Code, rec.Body.String())
	return decode[domain.Order](a.t, rec)
}

func TestCreateOrder(t *testing.T) {
	api := newTestAPI(t)

	order := api.createOrder()
	require.True(t, domain.IsValidOrderID(order.ID))
	require.Equal(t, domain.OrderStatusSubmitted, order.Status)
	require.False(t, order.AutomationEnabled)
}

func TestCreateOrderRejectsBadInput(t *testing.T) {
	api := newTestAPI(t)

	cases := []struct {
		name string
		body any
	}{
		{"empty body", nil},
		{"malformed json", "{"},
		{"unknown field", `{"customer_info":{},"items":[],"automation_enabled":true}`},
		{"no items", storefrontOrderRequest{CustomerInfo: orderBody().CustomerInfo}},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rec := api.do(http.MethodPost, "/api/v1/orders", tc.body, nil)
			require.Equal(t, http.StatusBadRequest, rec.Code, rec.Body.String())
			body := decode[errorBody](t, rec)
			require.Equal(t, "invalid_request", body.Error)
			require.NotEmpty(t, body.Message)
		})
	}
}

func TestCreateOrderIdempotency(t *testing.T) {
	api := newTestAPI(t)
	headers := map[string]string{idempotencyKeyHeader: "order-1"}

	first := api.do(http.MethodPost, "/api/v1/orders", orderBody(), headers)
	require.Equal(t, http.StatusCreated, first.Code)

	second := api.do(http.MethodPost, "/api/v1/orders", orderBody(), headers)
	require.Equal(t, http.StatusCreated, second.Code)
	require.Equal(t, "true", second.Header().Get(idempotencyReplayedHeader))
	require.Equal(t, decode[domain.Order](t, first).ID, decode[domain.Order](t, second).ID)

	changed := orderBody()
	changed.Items[0].Quantity = 3
	mismatch := api.do(http.MethodPost, "/api/v1/orders", changed, headers)
	require.Equal(t, http.StatusUnprocessableEntity, mismatch.Code)

	list := api.admin(http.MethodGet, "/api/v1/admin/orders", nil)
	require.Equal(t, http.StatusOK, list.Code)
	require.Len(t, decode[map[string][]domain.Order](t, list)["orders"], 1)
}

func TestIdempotencyKeyIsScopedPerOperation(t *testing.T) {
	api := newTestAPI(t)
	headers := map[string]string{idempotencyKeyHeader: "shared-key"}

	created := api.do(http.MethodPost, "/api/v1/orders", orderBody(), headers)
	require.Equal(t, http.StatusCreated, created.Code)
	order := decode[domain.Order](t, created)

	refund := api.do(http.MethodPost, "/api/v1/orders/"+order.ID+"/refund",
		customerRefundRequest{Phone: "0201112233", Reason: "Damaged"}, headers)
	require.Equal(t, http.StatusCreated, refund.Code, refund.Body.String())
	require.Empty(t, refund.Header().Get(idempotencyReplayedHeader))
	require.Equal(t, domain.RefundStatusPendingReview, decode[domain.RefundRequest](t, refund).Status)

	replay := api.do(http.MethodPost, "/api/v1/orders/"+order.ID+"/refund",
		customerRefundRequest{Phone: "0201112233", Reason: "Damaged"}, headers)
	require.Equal(t, http.StatusCreated, replay.Code)
	require.Equal(t, "true", replay.Header().Get(idempotencyReplayedHeader))
}

func TestTrackOrder(t *testing.T) {
	api := newTestAPI(t)
	order := api.createOrder()

	rec := api.do(http.MethodPost, "/api/v1/orders/"+order.ID+"/track", trackRequest{Phone: "020 111 2233"}, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, order.ID, decode[domain.Order](t, rec).ID)

	rec = api.do(http.MethodPost, "/api/v1/orders/"+order.ID+"/track", trackRequest{Phone: "0209999999"}, nil)
	require.Equal(t, http.StatusForbidden, rec.Code)
	require.Equal(t, "verification_failed", decode[errorBody](t, rec).Error)

	rec = api.do(http.MethodPost, "/api/v1/orders/KS-25-999999/track", trackRequest{Phone: "0201112233"}, nil)
	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestCustomerRefundAndAdminResolution(t *testing.T) {
	api := newTestAPI(t)
	order := api.createOrder()
	path := "/api/v1/orders/" + order.ID + "/refund"

	rec := api.do(http.MethodPost, path, customerRefundRequest{Phone: "0000000", Reason: "Damaged"}, nil)
	require.Equal(t, http.StatusForbidden, rec.Code)

	rec = api.do(http.MethodPost, path, customerRefundRequest{Phone: "0201112233", Reason: "Damaged", RequestedAmountMinor: 4200}, nil)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	refund := decode[domain.RefundRequest](t, rec)
	require.Equal(t, domain.RefundStatusPendingReview, refund.Status)

	rec = api.do(http.MethodPost, path, customerRefundRequest{Phone: "0201112233", Reason: "Again"}, nil)
	require.Equal(t, http.StatusConflict, rec.Code)

	rec = api.admin(http.MethodPost, "/api/v1/admin/orders/"+order.ID+"/refund/status", refundStatusRequest{Status: domain.RefundStatusApproved})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	updated := decode[domain.Order](t, rec)
	require.Equal(t, int64(4200), *updated.RefundRequest.ApprovedAmountMinor)
	require.Equal(t, domain.RefundStatusApproved, updated.RefundRequest.Status)

	rec = api.admin(http.MethodPost, "/api/v1/admin/orders/"+order.ID+"/refund/status", refundStatusRequest{Status: domain.RefundStatusPendingReview})
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestAdminCustomerLookup(t *testing.T) {
	api := newTestAPI(t)
	first := api.createOrder()
	second := api.createOrder()

	rec := api.admin(http.MethodGet, "/api/v1/admin/customers?"+url.Values{"email": {"ESI@example.com"}}.Encode(), nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	customer := decode[domain.Customer](t, rec)
	require.Equal(t, first.CustomerID, customer.ID)
	require.Equal(t, []string{first.ID, second.ID}, customer.OrderHistory)
	require.True(t, customer.Preferences.WhatsAppUpdates)

	rec = api.admin(http.MethodGet, "/api/v1/admin/customers?"+url.Values{"phone": {"+233 20 111 2233"}}.Encode(), nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	require.Equal(t, customer.ID, decode[domain.Customer](t, rec).ID)

	rec = api.admin(http.MethodPut, "/api/v1/admin/customers/"+customer.ID+"/preferences",
		domain.CustomerPreferences{Notifications: true, EmailUpdates: true})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	require.False(t, decode[domain.Customer](t, rec).Preferences.WhatsAppUpdates)

	rec = api.admin(http.MethodGet, "/api/v1/admin/customers/"+customer.ID, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.False(t, decode[domain.Customer](t, rec).Preferences.WhatsAppUpdates)

	rec = api.admin(http.MethodGet, "/api/v1/admin/customers", nil)
	require.Equal(t, http.StatusBadRequest, rec.Code)
	rec = api.admin(http.MethodGet, "/api/v1/admin/customers/CUST-missing", nil)
	require.Equal(t, http.StatusNotFound, rec.Code)
	rec = api.do(http.MethodGet, "/api/v1/admin/customers/"+customer.ID, nil, nil)
	require.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestAdminCustomerLookupWithoutRegistry(t *testing.T) {
	auth, err := NewAuthManager(testSecret, time.Hour, map[string]string{testStaff: testPassword})
	require.NoError(t, err)
	login, err := auth.Login(testStaff, testPassword)
	require.NoError(t, err)
	handler := New(lifecycle.NewEngine(memory.NewOrderRepository()), nil, auth).Handler()

	req := httptest.NewRequest(http.MethodGet, "/api/v1/admin/customers?email=esi@example.com", nil)
	req.Header.Set("Authorization", "Bearer "+login.AccessToken)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestAdminRequiresToken(t *testing.T) {
	api := newTestAPI(t)

	rec := api.do(http.MethodGet, "/api/v1/admin/orders", nil, nil)
	require.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = api.do(http.MethodGet, "/api/v1/admin/orders", nil, map[string]string{"Authorization": "Bearer nope"})
	require.Equal(t, http.StatusUnauthorized, rec.Code)
	require.Equal(t, "unauthorized", decode[errorBody](t, rec).Error)
}

func TestLogin(t *testing.T) {
	api := newTestAPI(t)

	rec := api.do(http.MethodPost, "/api/v1/auth/login", loginRequest{Username: testStaff, Password: "wrong"}, nil)
	require.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = api.do(http.MethodPost, "/api/v1/auth/login", loginRequest{Username: " OPS@example.com ", Password: testPassword}, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.NotEmpty(t, decode[LoginResponse](t, rec).AccessToken)
}

func TestAdminTransitionRecordsActor(t *testing.T) {
	api := newTestAPI(t)
	order := api.createOrder()

	rec := api.admin(http.MethodPost, "/api/v1/admin/orders/"+order.ID+"/status", transitionRequest{
		Status: domain.OrderStatusConfirmed,
		Notes:  "called customer",
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	updated := decode[domain.Order](t, rec)
	last := updated.StatusHistory[len(updated.StatusHistory)-1]
	require.Equal(t, domain.OrderStatusConfirmed, last.Status)
	require.Equal(t, testStaff, last.UpdatedBy)
	require.Equal(t, domain.UpdateMethodManual, last.UpdateMethod)

	rec = api.admin(http.MethodPost, "/api/v1/admin/orders/"+order.ID+"/status", transitionRequest{Status: "lost"})
	require.Equal(t, http.StatusBadRequest, rec.Code)

	rec = api.admin(http.MethodPost, "/api/v1/admin/orders/"+order.ID+"/status", transitionRequest{Status: domain.OrderStatusQuotationSent})
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestAdminListOrders(t *testing.T) {
	api := newTestAPI(t)
	first := api.createOrder()
	api.createOrder()

	rec := api.admin(http.MethodPost, "/api/v1/admin/orders/"+first.ID+"/status", transitionRequest{Status: domain.OrderStatusConfirmed})
	require.Equal(t, http.StatusOK, rec.Code)

	rec = api.admin(http.MethodGet, "/api/v1/admin/orders?status=confirmed", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	confirmed := decode[map[string][]domain.Order](t, rec)["orders"]
	require.Len(t, confirmed, 1)
	require.Equal(t, first.ID, confirmed[0].ID)

	rec = api.admin(http.MethodGet, "/api/v1/admin/orders?limit=1", nil)
	require.Len(t, decode[map[string][]domain.Order](t, rec)["orders"], 1)

	rec = api.admin(http.MethodGet, "/api/v1/admin/orders?limit=abc", nil)
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestAdminOrderEdits(t *testing.T) {
	api := newTestAPI(t)
	order := api.createOrder()
	base := "/api/v1/admin/orders/" + order.ID

	rec := api.admin(http.MethodPut, base+"/automation", automationRequest{Enabled: true})
	require.Equal(t, http.StatusOK, rec.Code)
	require.True(t, decode[domain.Order](t, rec).AutomationEnabled)

	rec = api.admin(http.MethodPut, base+"/quotation", domain.Quotation{ItemCostMinor: 500, ShippingFeeMinor: 100, Currency: "USD"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	require.Equal(t, int64(600), decode[domain.Order](t, rec).Quotation.TotalAmountMinor)

	info := orderBody().CustomerInfo
	info.Address = "Cape Coast"
	rec = api.admin(http.MethodPut, base+"/customer", info)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "Cape Coast", decode[domain.Order](t, rec).CustomerInfo.Address)

	rec = api.admin(http.MethodPost, base+"/items/0/override", itemOverrideRequest{Action: "approve", RiskLevel: domain.RiskLevelLow})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	item := decode[domain.Order](t, rec).Items[0]
	require.True(t, item.AdminOverride)
	require.Equal(t, domain.ValidationMethodOverride, item.ValidationMethod)

	rec = api.admin(http.MethodPost, base+"/items/7/override", itemOverrideRequest{Action: "approve"})
	require.Equal(t, http.StatusBadRequest, rec.Code)

	rec = api.admin(http.MethodPost, base+"/items/x/override", itemOverrideRequest{Action: "approve"})
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestStatisticsEndpoint(t *testing.T) {
	api := newTestAPI(t)
	api.createOrder()

	rec := api.admin(http.MethodGet, "/api/v1/admin/statistics", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, 1, decode[domain.OrderStatistics](t, rec).TotalOrders)
}

func TestLinkEndpoints(t *testing.T) {
	api := newTestAPI(t)

	rec := api.do(http.MethodPost, "/api/v1/links/validate", validateLinkRequest{URL: "notaurl"}, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	result := decode[domain.ValidationResult](t, rec)
	require.False(t, result.IsValid)
	require.Equal(t, "Invalid URL format", result.ErrorMessage)

	rec = api.do(http.MethodPost, "/api/v1/links/validate", validateLinkRequest{URL: "https://www.ebay.com/itm/9"}, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.True(t, decode[domain.ValidationResult](t, rec).IsSupported)

	rec = api.admin(http.MethodGet, "/api/v1/admin/links?domain=ebay.com", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Len(t, decode[map[string][]domain.LinkCacheEntry](t, rec)["links"], 1)

	rec = api.admin(http.MethodPost, "/api/v1/admin/links/override", linkOverrideRequest{URL: "https://www.ebay.com/itm/9", Action: "block"})
	require.Equal(t, http.StatusOK, rec.Code)
	entry := decode[domain.LinkCacheEntry](t, rec)
	require.Len(t, entry.AdminOverrides, 1)
	require.Equal(t, testStaff, entry.AdminOverrides[0].AdminID)

	rec = api.admin(http.MethodGet, "/api/v1/admin/links/lookup?url=https://www.ebay.com/itm/9", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = api.admin(http.MethodGet, "/api/v1/admin/links/lookup?url=https://www.ebay.com/itm/unknown", nil)
	require.Equal(t, http.StatusNotFound, rec.Code)

	rec = api.admin(http.MethodPost, "/api/v1/admin/links/purge", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, 0, decode[map[string]int](t, rec)["deleted"])
}

func TestValidateLinkRateLimited(t *testing.T) {
	api := newTestAPI(t, WithValidateRateLimit(0.001, 2))
	body := validateLinkRequest{URL: "https://www.amazon.com/dp/1"}

	for i := 0; i < 2; i++ {
		require.Equal(t, http.StatusOK, api.do(http.MethodPost, "/api/v1/links/validate", body, nil).Code)
	}
	rec := api.do(http.MethodPost, "/api/v1/links/validate", body, nil)
	require.Equal(t, http.StatusTooManyRequests, rec.Code)
	require.Equal(t, "rate_limited", decode[errorBody](t, rec).Error)

	other := api.do(http.MethodPost, "/api/v1/links/validate", body, map[string]string{"X-Forwarded-For": "198.51.100.7"})
	require.Equal(t, http.StatusOK, other.Code)
}
