package grpcsvc

import (
	"context"

	"google.golang.org/grpc"
)

const serviceName = "forwarder.v1.OrderService"

// OrderServiceServer — серверная сторона forwarder.v1.OrderService.
type OrderServiceServer interface {
	CreateOrder(context.Context, *CreateOrderRequest) (*OrderResponse, error)
	TransitionStatus(context.Context, *TransitionStatusRequest) (*OrderResponse, error)
	RequestRefund(context.Context, *RequestRefundRequest) (*OrderResponse, error)
	UpdateRefundStatus(context.Context, *UpdateRefundStatusRequest) (*OrderResponse, error)
	UpdateQuotation(context.Context, *UpdateQuotationRequest) (*OrderResponse, error)
	UpdateCustomerInfo(context.Context, *UpdateCustomerInfoRequest) (*OrderResponse, error)
	SetAutomation(context.Context, *SetAutomationRequest) (*OrderResponse, error)
	OverrideItem(context.Context, *OverrideItemRequest) (*OrderResponse, error)
	GetOrder(context.Context, *GetOrderRequest) (*OrderResponse, error)
	ListOrders(context.Context, *ListOrdersRequest) (*ListOrdersResponse, error)
	TrackOrder(context.Context, *TrackOrderRequest) (*OrderResponse, error)
	Statistics(context.Context, *StatisticsRequest) (*StatisticsResponse, error)
	ValidateLink(context.Context, *ValidateLinkRequest) (*ValidateLinkResponse, error)
	OverrideLink(context.Context, *OverrideLinkRequest) (*LinkEntryResponse, error)
	GetCustomer(context.Context, *GetCustomerRequest) (*CustomerResponse, error)
	UpdateCustomerPreferences(context.Context, *UpdateCustomerPreferencesRequest) (*CustomerResponse, error)
}

// OrderServiceDesc описывает сервис для grpc.Server; сообщения кодируются jsonCodec.
var OrderServiceDesc = grpc.ServiceDesc{
	ServiceName: serviceName,
	HandlerType: (*OrderServiceServer)(nil),
	Methods: []grpc.MethodDesc{
		unaryMethod("CreateOrder", OrderServiceServer.CreateOrder),
		unaryMethod("TransitionStatus", OrderServiceServer.TransitionStatus),
		unaryMethod("RequestRefund", OrderServiceServer.RequestRefund),
		unaryMethod("UpdateRefundStatus", OrderServiceServer.UpdateRefundStatus),
		unaryMethod("UpdateQuotation", OrderServiceServer.UpdateQuotation),
		unaryMethod("UpdateCustomerInfo", OrderServiceServer.UpdateCustomerInfo),
		unaryMethod("SetAutomation", OrderServiceServer.SetAutomation),
		unaryMethod("OverrideItem", OrderServiceServer.OverrideItem),
		unaryMethod("GetOrder", OrderServiceServer.GetOrder),
		unaryMethod("ListOrders", OrderServiceServer.ListOrders),
		unaryMethod("TrackOrder", OrderServiceServer.TrackOrder),
		unaryMethod("Statistics", OrderServiceServer.Statistics),
		unaryMethod("ValidateLink", OrderServiceServer.ValidateLink),
		unaryMethod("OverrideLink", OrderServiceServer.OverrideLink),
		unaryMethod("GetCustomer", OrderServiceServer.GetCustomer),
		unaryMethod("UpdateCustomerPreferences", OrderServiceServer.UpdateCustomerPreferences),
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "forwarder/v1/order_service",
}

// RegisterOrderServiceServer регистрирует реализацию на сервере.
func RegisterOrderServiceServer(s grpc.ServiceRegistrar, srv OrderServiceServer) {
	s.RegisterService(&OrderServiceDesc, srv)
}

func fullMethod(method string) string {
	return "/" + serviceName + "/" + method
}

// unaryMethod строит MethodDesc так же, как это делает protoc-gen-go-grpc.
func unaryMethod[Req, Resp any](
	name string,
	call func(OrderServiceServer, context.Context, *Req) (*Resp, error),
) grpc.MethodDesc {
	return grpc.MethodDesc{
		MethodName: name,
		Handler: func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
			in := new(Req)
			if err := dec(in); err != nil {
				return nil, err
			}
			if interceptor == nil {
				return call(srv.(OrderServiceServer), ctx, in)
			}
			info := &grpc.UnaryServerInfo{
				Server:     srv,
				FullMethod: fullMethod(name),
			}
			handler := func(ctx context.Context, req any) (any, error) {
				return call(srv.(OrderServiceServer), ctx, req.(*Req))
			}
			return interceptor(ctx, in, info, handler)
		},
	}
}
