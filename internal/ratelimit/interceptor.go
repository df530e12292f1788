package ratelimit

import (
	"context"
	"net"
	"path"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/peer"
	"google.golang.org/grpc/status"
)

// UnaryServerInterceptor rejects calls over the limit with ResourceExhausted.
// Clients are keyed by remote host, so reconnecting does not reset a bucket.
func (l *Limiter) UnaryServerInterceptor() grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		if l == nil {
			return handler(ctx, req)
		}
		if res := l.Allow(clientKey(ctx), path.Base(info.FullMethod)); res.Exceeded {
			return nil, status.Error(codes.ResourceExhausted, res.Reason)
		}
		return handler(ctx, req)
	}
}

func clientKey(ctx context.Context) string {
	p, ok := peer.FromContext(ctx)
	if !ok || p.Addr == nil {
		return "unknown"
	}
	addr := p.Addr.String()
	if host, _, err := net.SplitHostPort(addr); err == nil {
		return host
	}
	return addr
}
