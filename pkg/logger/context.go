package logger

import (
	"context"
	"log/slog"
)

type scopeKey struct{}

// scope is what a request carries: its logger and the fields that built it, so the
// audit stream can be tagged with the same request id and user.
type scope struct {
	logger *slog.Logger
	fields []any
}

// With returns ctx carrying a logger enriched with fields. Fields accumulate across calls.
func With(ctx context.Context, fields ...any) context.Context {
	if len(fields) == 0 {
		return ctx
	}
	prev, _ := ctx.Value(scopeKey{}).(*scope)
	next := &scope{logger: From(ctx).With(fields...)}
	if prev != nil {
		next.fields = append(next.fields, prev.fields...)
	}
	next.fields = append(next.fields, fields...)
	return context.WithValue(ctx, scopeKey{}, next)
}

func From(ctx context.Context) *slog.Logger {
	if s, ok := ctx.Value(scopeKey{}).(*scope); ok {
		return s.logger
	}
	return LoggerWrapper()
}

// AuditFrom returns the audit logger tagged with the request-scoped fields of ctx.
func AuditFrom(ctx context.Context) *slog.Logger {
	if s, ok := ctx.Value(scopeKey{}).(*scope); ok && len(s.fields) > 0 {
		return Audit().With(s.fields...)
	}
	return Audit()
}
