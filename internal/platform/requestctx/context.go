package requestctx

import (
	"context"

	"go.uber.org/zap"

	domain "github.com/TienDattttt/Retail-Chain-Management-sub000/internal/domain"
)

type contextKey string

const (
	loggerContextKey   contextKey = "pos/requestctx/logger"
	traceContextKey    contextKey = "pos/requestctx/trace"
	operatorContextKey contextKey = "pos/requestctx/operator"
)

var noopLogger = zap.NewNop()

// TraceInfo captures trace metadata propagated through request context.
type TraceInfo struct {
	TraceID   string
	SpanID    string
	Sampled   bool
	ProjectID string
}

// WithLogger stores the logger in context for downstream consumers.
func WithLogger(ctx context.Context, logger *zap.Logger) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	if logger == nil {
		logger = noopLogger
	}
	return context.WithValue(ctx, loggerContextKey, logger)
}

// Logger retrieves the zap logger from context or returns a no-op logger.
func Logger(ctx context.Context) *zap.Logger {
	if ctx == nil {
		return noopLogger
	}
	if logger, ok := ctx.Value(loggerContextKey).(*zap.Logger); ok && logger != nil {
		return logger
	}
	return noopLogger
}

// NoopLogger exposes the shared noop logger instance.
func NoopLogger() *zap.Logger { return noopLogger }

// WithTrace stores the trace metadata on the context.
func WithTrace(ctx context.Context, info TraceInfo) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	return context.WithValue(ctx, traceContextKey, info)
}

// Trace retrieves the trace metadata from context when available.
func Trace(ctx context.Context) (TraceInfo, bool) {
	if ctx == nil {
		return TraceInfo{}, false
	}
	info, ok := ctx.Value(traceContextKey).(TraceInfo)
	return info, ok
}

// TraceID extracts the trace identifier from context when present.
func TraceID(ctx context.Context) string {
	info, _ := Trace(ctx)
	return info.TraceID
}

// WithOperator stores the authenticated operator session on the context.
func WithOperator(ctx context.Context, op domain.Operator) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	return context.WithValue(ctx, operatorContextKey, op)
}

// Operator returns the authenticated operator session, if any.
func Operator(ctx context.Context) (domain.Operator, bool) {
	if ctx == nil {
		return domain.Operator{}, false
	}
	op, ok := ctx.Value(operatorContextKey).(domain.Operator)
	return op, ok
}

// BearerToken returns the operator's session token for forwarding to downstream services.
func BearerToken(ctx context.Context) string {
	op, _ := Operator(ctx)
	return op.Token
}
