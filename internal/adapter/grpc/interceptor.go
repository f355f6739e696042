package grpc

import (
	"context"
	"strings"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
)

// AuthInterceptor returns a gRPC unary server interceptor that validates
// the bearer token from request metadata.
// If the token is missing or invalid, it returns status.Unauthenticated.
// If valid, it calls the handler with the caller stored in the context.
// Methods listed in public skip authentication.
func AuthInterceptor(tokens *TokenService, public ...string) grpc.UnaryServerInterceptor {
	skip := make(map[string]bool, len(public))
	for _, m := range public {
		skip[m] = true
	}

	return func(
		ctx context.Context,
		req interface{},
		info *grpc.UnaryServerInfo,
		handler grpc.UnaryHandler,
	) (interface{}, error) {
		if skip[info.FullMethod] {
			return handler(ctx, req)
		}

		md, ok := metadata.FromIncomingContext(ctx)
		if !ok {
			return nil, status.Error(codes.Unauthenticated, "missing metadata")
		}

		authHeaders := md.Get("authorization")
		if len(authHeaders) == 0 {
			return nil, status.Error(codes.Unauthenticated, "missing authorization header")
		}

		token, found := strings.CutPrefix(authHeaders[0], "Bearer ")
		if !found {
			return nil, status.Error(codes.Unauthenticated, "authorization header must be a bearer token")
		}

		caller, err := tokens.Validate(token)
		if err != nil {
			return nil, status.Error(codes.Unauthenticated, err.Error())
		}

		return handler(withCaller(ctx, caller), req)
	}
}
