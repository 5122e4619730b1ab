package grpcsvc

import (
	"context"

	"google.golang.org/grpc"
)

// Client — клиент OrderService, всегда запрашивающий JSON-кодек.
type Client struct {
	cc grpc.ClientConnInterface
}

// NewClient оборачивает соединение.
func NewClient(cc grpc.ClientConnInterface) *Client {
	return &Client{cc: cc}
}

func invoke[Resp any](ctx context.Context, c *Client, method string, in any, opts []grpc.CallOption) (*Resp, error) {
	out := new(Resp)
	opts = append([]grpc.CallOption{grpc.CallContentSubtype(codecName)}, opts...)
	if err := c.cc.Invoke(ctx, fullMethod(method), in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) CreateOrder(ctx context.Context, in *CreateOrderRequest, opts ...grpc.CallOption) (*OrderResponse, error) {
	return invoke[OrderResponse](ctx, c, "CreateOrder", in, opts)
}

func (c *Client) TransitionStatus(ctx context.Context, in *TransitionStatusRequest, opts ...grpc.CallOption) (*OrderResponse, error) {
	return invoke[OrderResponse](ctx, c, "TransitionStatus", in, opts)
}

func (c *Client) RequestRefund(ctx context.Context, in *RequestRefundRequest, opts ...grpc.CallOption) (*OrderResponse, error) {
	return invoke[OrderResponse](ctx, c, "RequestRefund", in, opts)
}

func (c *Client) UpdateRefundStatus(ctx context.Context, in *UpdateRefundStatusRequest, opts ...grpc.CallOption) (*OrderResponse, error) {
	return invoke[OrderResponse](ctx, c, "UpdateRefundStatus", in, opts)
}

func (c *Client) UpdateQuotation(ctx context.Context, in *UpdateQuotationRequest, opts ...grpc.CallOption) (*OrderResponse, error) {
	return invoke[OrderResponse](ctx, c, "UpdateQuotation", in, opts)
}

func (c *Client) UpdateCustomerInfo(ctx context.Context, in *UpdateCustomerInfoRequest, opts ...grpc.CallOption) (*OrderResponse, error) {
	return invoke[OrderResponse](ctx, c, "UpdateCustomerInfo", in, opts)
}

func (c *Client) SetAutomation(ctx context.Context, in *SetAutomationRequest, opts ...grpc.CallOption) (*OrderResponse, error) {
	return invoke[OrderResponse](ctx, c, "SetAutomation", in, opts)
}

func (c *Client) OverrideItem(ctx context.Context, in *OverrideItemRequest, opts ...grpc.CallOption) (*OrderResponse, error) {
	return invoke[OrderResponse](ctx, c, "OverrideItem", in, opts)
}

func (c *Client) GetOrder(ctx context.Context, in *GetOrderRequest, opts ...grpc.CallOption) (*OrderResponse, error) {
	return invoke[OrderResponse](ctx, c, "GetOrder", in, opts)
}

func (c *Client) ListOrders(ctx context.Context, in *ListOrdersRequest, opts ...grpc.CallOption) (*ListOrdersResponse, error) {
	return invoke[ListOrdersResponse](ctx, c, "ListOrders", in, opts)
}

func (c *Client) TrackOrder(ctx context.Context, in *TrackOrderRequest, opts ...grpc.CallOption) (*OrderResponse, error) {
	return invoke[OrderResponse](ctx, c, "TrackOrder", in, opts)
}

func (c *Client) Statistics(ctx context.Context, in *StatisticsRequest, opts ...grpc.CallOption) (*StatisticsResponse, error) {
	return invoke[StatisticsResponse](ctx, c, "Statistics", in, opts)
}

func (c *Client) ValidateLink(ctx context.Context, in *ValidateLinkRequest, opts ...grpc.CallOption) (*ValidateLinkResponse, error) {
	return invoke[ValidateLinkResponse](ctx, c, "ValidateLink", in, opts)
}

func (c *Client) OverrideLink(ctx context.Context, in *OverrideLinkRequest, opts ...grpc.CallOption) (*LinkEntryResponse, error) {
	return invoke[LinkEntryResponse](ctx, c, "OverrideLink", in, opts)
}

func (c *Client) GetCustomer(ctx context.Context, in *GetCustomerRequest, opts ...grpc.CallOption) (*CustomerResponse, error) {
	return invoke[CustomerResponse](ctx, c, "GetCustomer", in, opts)
}

func (c *Client) UpdateCustomerPreferences(ctx context.Context, in *UpdateCustomerPreferencesRequest, opts ...grpc.CallOption) (*CustomerResponse, error) {
	return invoke[CustomerResponse](ctx, c, "UpdateCustomerPreferences", in, opts)
}
