package logger

import (
	"context"
	"sync/atomic"
)

type contextKey string

const (
	statementCounterKey contextKey = "statement_counter"
	statementElapsedKey contextKey = "statement_elapsed_nanos"
)

// WithStatementCounter returns a context that accumulates the number of tracked
// statements and their total elapsed time.
func WithStatementCounter(ctx context.Context) context.Context {
	counter := int64(0)
	elapsed := int64(0)
	ctx = context.WithValue(ctx, statementCounterKey, &counter)
	ctx = context.WithValue(ctx, statementElapsedKey, &elapsed)
	return ctx
}

// IncrementStatementCounter adds one to the counter in ctx, if present.
func IncrementStatementCounter(ctx context.Context) {
	if counter, ok := ctx.Value(statementCounterKey).(*int64); ok && counter != nil {
		atomic.AddInt64(counter, 1)
	}
}

// StatementCount returns the counter in ctx, or 0.
func StatementCount(ctx context.Context) int64 {
	if counter, ok := ctx.Value(statementCounterKey).(*int64); ok && counter != nil {
		return atomic.LoadInt64(counter)
	}
	return 0
}

// AddStatementElapsed adds nanos to the elapsed total in ctx, if present.
func AddStatementElapsed(ctx context.Context, nanos int64) {
	if elapsed, ok := ctx.Value(statementElapsedKey).(*int64); ok && elapsed != nil {
		atomic.AddInt64(elapsed, nanos)
	}
}

// StatementElapsed returns the elapsed total in ctx in nanoseconds, or 0.
func StatementElapsed(ctx context.Context) int64 {
	if elapsed, ok := ctx.Value(statementElapsedKey).(*int64); ok && elapsed != nil {
		return atomic.LoadInt64(elapsed)
	}
	return 0
}
