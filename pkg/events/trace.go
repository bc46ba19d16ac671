package events

import "context"

type traceParentKey struct{}

// WithTraceParent attaches a W3C traceparent header value to the context.
// The intake layer calls this when the client supplied one; absence is not
// an error anywhere downstream.
func WithTraceParent(ctx context.Context, traceparent string) context.Context {
	if traceparent == "" {
		return ctx
	}
	return context.WithValue(ctx, traceParentKey{}, traceparent)
}

// TraceParentFrom returns the traceparent carried by ctx, or "".
func TraceParentFrom(ctx context.Context) string {
	tp, _ := ctx.Value(traceParentKey{}).(string)
	return tp
}
