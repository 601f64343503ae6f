package engine

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	semconv "go.opentelemetry.io/otel/semconv/v1.32.0"
	"go.opentelemetry.io/otel/trace"

	"github.com/gaborage/capsql/config"
	"github.com/gaborage/capsql/logger"
)

const (
	// DefaultSlowQueryThreshold defines the default threshold for slow statement detection
	DefaultSlowQueryThreshold = 200 * time.Millisecond
	// DefaultMaxQueryLength defines the default maximum statement length for logging
	DefaultMaxQueryLength = 1000

	instrumentationName = "github.com/gaborage/capsql/engine"
	maxQueryAttrLen     = 2000
	defaultOperation    = "query"
)

// Settings controls how executed statements are logged.
type Settings struct {
	slowQueryThreshold time.Duration
	maxQueryLength     int
	logQueryParameters bool
}

// NewSettings creates Settings from cfg. A nil cfg or non-positive values fall back
// to DefaultSlowQueryThreshold and DefaultMaxQueryLength.
func NewSettings(cfg *config.DatabaseConfig) Settings {
	settings := Settings{
		slowQueryThreshold: DefaultSlowQueryThreshold,
		maxQueryLength:     DefaultMaxQueryLength,
	}
	if cfg == nil {
		return settings
	}

	if cfg.Query.Slow.Threshold > 0 {
		settings.slowQueryThreshold = cfg.Query.Slow.Threshold
	}
	if cfg.Query.Log.MaxLength > 0 {
		settings.maxQueryLength = cfg.Query.Log.MaxLength
	}
	settings.logQueryParameters = cfg.Query.Log.Parameters

	return settings
}

// SlowQueryThreshold returns the threshold for slow statement detection
func (s Settings) SlowQueryThreshold() time.Duration {
	return s.slowQueryThreshold
}

// MaxQueryLength returns the maximum statement length for logging
func (s Settings) MaxQueryLength() int {
	return s.maxQueryLength
}

// LogQueryParameters returns whether statement arguments are logged
func (s Settings) LogQueryParameters() bool {
	return s.logQueryParameters
}

// operation describes one tracked driver call.
type operation struct {
	name  string // select, insert, update, delete, begin, commit, rollback or query
	table string
	query string
	args  []any
}

// track logs, traces and meters a completed driver call.
func (e *Engine) track(ctx context.Context, op operation, start time.Time, rowsAffected int64, err error) {
	elapsed := time.Since(start)

	logger.IncrementStatementCounter(ctx)
	logger.AddStatementElapsed(ctx, elapsed.Nanoseconds())

	e.span(ctx, op, start, err)
	e.metrics.record(ctx, e.dialect.Vendor, op, elapsed, rowsAffected, err)

	query := op.query
	if e.settings.MaxQueryLength() > 0 && len(query) > e.settings.MaxQueryLength() {
		query = TruncateString(query, e.settings.MaxQueryLength())
	}

	logEvent := e.log.WithContext(ctx).WithFields(map[string]any{
		"vendor":      e.dialect.Vendor,
		"operation":   op.name,
		"duration_ms": elapsed.Milliseconds(),
		"duration_ns": elapsed.Nanoseconds(),
		"query":       query,
	})

	if e.settings.LogQueryParameters() && len(op.args) > 0 {
		logEvent = logEvent.WithFields(map[string]any{
			"args": SanitizeArgs(op.args, e.settings.MaxQueryLength()),
		})
	}

	switch {
	case err != nil && errors.Is(err, sql.ErrNoRows):
		logEvent.Debug().Msg("Statement returned no rows")
	case err != nil:
		logEvent.Error().Err(err).Msg("Statement error")
	case elapsed > e.settings.SlowQueryThreshold():
		logEvent.Warn().Msgf("Slow statement detected (%s)", elapsed)
	default:
		logEvent.Debug().Msg("Statement executed")
	}
}

func (e *Engine) span(ctx context.Context, op operation, start time.Time, err error) {
	_, span := e.tracer.Start(ctx, "db."+op.name,
		trace.WithTimestamp(start),
		trace.WithSpanKind(trace.SpanKindClient),
	)
	defer span.End()

	attrs := []attribute.KeyValue{
		attribute.String("db.system", e.dialect.Vendor),
		semconv.DBQueryText(TruncateString(op.query, maxQueryAttrLen)),
	}
	if op.name != defaultOperation {
		attrs = append(attrs, semconv.DBOperationName(op.name))
	}
	if op.table != "" {
		attrs = append(attrs, semconv.DBCollectionName(op.table))
	}
	span.SetAttributes(attrs...)

	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
}

// TruncateString truncates value to at most maxLen runes, ending in "..." when
// maxLen leaves room for it. A non-positive maxLen returns value unchanged.
func TruncateString(value string, maxLen int) string {
	if maxLen <= 0 {
		return value
	}
	r := []rune(value)
	if len(r) <= maxLen {
		return value
	}
	if maxLen <= 3 {
		return string(r[:maxLen])
	}
	return string(r[:maxLen-3]) + "..."
}

// SanitizeArgs returns a copy of args fit for logging: strings and formatted values
// truncated to maxLen, byte slices replaced by "<bytes len=N>".
func SanitizeArgs(args []any, maxLen int) []any {
	if len(args) == 0 {
		return nil
	}
	sanitized := make([]any, len(args))
	for i, arg := range args {
		switch v := arg.(type) {
		case string:
			sanitized[i] = TruncateString(v, maxLen)
		case []byte:
			sanitized[i] = fmt.Sprintf("<bytes len=%d>", len(v))
		default:
			sanitized[i] = TruncateString(fmt.Sprintf("%v", v), maxLen)
		}
	}
	return sanitized
}

func rowsAffected(result sql.Result, err error) int64 {
	if result == nil || err != nil {
		return 0
	}
	affected, affErr := result.RowsAffected()
	if affErr != nil {
		return 0
	}
	return affected
}
