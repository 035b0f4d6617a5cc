package internal

import (
	"context"
	"time"
)

type ctxKey string

const ContextProcessorKey ctxKey = "processorID"

func ProcessorIDFromContext(ctx context.Context) int64 {
	if ctx == nil {
		return 0
	}
	if id, ok := ctx.Value(ContextProcessorKey).(int64); ok {
		return id
	}
	return 0
}

func ContextWithProcessorID(ctx context.Context, id int64) context.Context {
	return context.WithValue(ctx, ContextProcessorKey, id)
}

// WithTimeout returns a context with timeout, defaulting to 5 seconds if duration is zero or negative.
func WithTimeout(ctx context.Context, duration time.Duration) (context.Context, context.CancelFunc) {
	if duration <= 0 {
		duration = 5 * time.Second
	}
	return context.WithTimeout(ctx, duration)
}
