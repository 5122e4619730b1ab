package grpcsvc

import (
	"context"
	"strings"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
)

const authorizationHeader = "authorization"

// StaffVerifier проверяет bearer-токен сотрудника и возвращает его имя.
// Реализуется httpapi.AuthManager: REST и gRPC принимают одни и те же JWT.
type StaffVerifier interface {
	VerifyStaff(token string) (string, error)
}

// Методы, доступные клиентам без токена. Всё остальное — операции сотрудников.
var customerMethods = map[string]struct{}{
	fullMethod("CreateOrder"):   {},
	fullMethod("RequestRefund"): {},
	fullMethod("TrackOrder"):    {},
	fullMethod("ValidateLink"):  {},
}

type staffKey struct{}

// StaffFromContext возвращает имя сотрудника, прошедшего StaffAuthInterceptor.
func StaffFromContext(ctx context.Context) (string, bool) {
	name, ok := ctx.Value(staffKey{}).(string)
	return name, ok && name != ""
}

// WithStaff кладёт имя сотрудника в контекст так же, как это делает интерсептор.
func WithStaff(ctx context.Context, name string) context.Context {
	return context.WithValue(ctx, staffKey{}, name)
}

// StaffAuthInterceptor требует JWT сотрудника на служебных методах OrderService.
// Без verifier служебные методы недоступны, клиентские работают как обычно.
// Health и reflection не проверяются.
func StaffAuthInterceptor(verifier StaffVerifier) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		if !strings.HasPrefix(info.FullMethod, "/"+serviceName+"/") {
			return handler(ctx, req)
		}
		if _, public := customerMethods[info.FullMethod]; public {
			return handler(ctx, req)
		}
		if verifier == nil {
			return nil, status.Error(codes.Unavailable, "staff authentication is not configured")
		}

		token := bearerToken(ctx)
		if token == "" {
			return nil, status.Error(codes.Unauthenticated, "bearer token is required")
		}
		name, err := verifier.VerifyStaff(token)
		if err != nil {
			return nil, status.Error(codes.Unauthenticated, "invalid or expired token")
		}
		return handler(WithStaff(ctx, name), req)
	}
}

func bearerToken(ctx context.Context) string {
	md, ok := metadata.FromIncomingContext(ctx)
	if !ok {
		return ""
	}
	for _, value := range md.Get(authorizationHeader) {
		scheme, token, found := strings.Cut(strings.TrimSpace(value), " ")
		if found && strings.EqualFold(scheme, "bearer") && strings.TrimSpace(token) != "" {
			return strings.TrimSpace(token)
		}
	}
	return ""
}

// actorOr подменяет присланное клиентом имя на имя из токена, если оно есть.
func actorOr(ctx context.Context, claimed string) string {
	if name, ok := StaffFromContext(ctx); ok {
		return name
	}
	return claimed
}
