package engine

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/gaborage/capsql/logger"
)

// Metric names following OpenTelemetry semantic conventions
const (
	metricDBCalls      = "db.client.calls"
	metricDBDuration   = "db.client.operation.duration"
	metricRowsAffected = "db.rows.affected"

	metricPoolActive = "db.connection.pool.active"
	metricPoolIdle   = "db.connection.pool.idle"
	metricPoolTotal  = "db.connection.pool.total"

	attrDBSystem    = "db.system"
	attrDBOperation = "db.operation.name"
	attrDBTable     = "db.sql.table"
)

// instruments are created once per engine. A nil instrument is skipped.
type instruments struct {
	calls        metric.Int64Counter
	duration     metric.Float64Histogram
	rowsAffected metric.Int64Counter
}

func newInstruments(meter metric.Meter, log logger.Logger) *instruments {
	var (
		inst instruments
		err  error
	)

	inst.calls, err = meter.Int64Counter(metricDBCalls,
		metric.WithDescription("Total number of database client calls"))
	logMetricError(log, metricDBCalls, err)

	inst.duration, err = meter.Float64Histogram(metricDBDuration,
		metric.WithDescription("Duration of database operations in milliseconds"),
		metric.WithUnit("ms"))
	logMetricError(log, metricDBDuration, err)

	inst.rowsAffected, err = meter.Int64Counter(metricRowsAffected,
		metric.WithDescription("Number of rows affected by database operations"))
	logMetricError(log, metricRowsAffected, err)

	return &inst
}

func logMetricError(log logger.Logger, name string, err error) {
	if err != nil {
		log.Warn().Err(err).Str("metric", name).Msg("Failed to initialize metric")
	}
}

func (m *instruments) record(ctx context.Context, vendor string, op operation, elapsed time.Duration, affected int64, err error) {
	if m == nil {
		return
	}

	table := op.table
	if table == "" {
		table = "unknown"
	}
	isError := err != nil && !errors.Is(err, sql.ErrNoRows)

	common := []attribute.KeyValue{
		attribute.String(attrDBSystem, vendor),
		attribute.String(attrDBOperation, op.name),
		attribute.String(attrDBTable, table),
	}

	if m.calls != nil {
		attrs := append(append(make([]attribute.KeyValue, 0, len(common)+1), common...), attribute.Bool("error", isError))
		m.calls.Add(ctx, 1, metric.WithAttributes(attrs...))
	}
	if m.duration != nil {
		m.duration.Record(ctx, float64(elapsed.Nanoseconds())/1e6, metric.WithAttributes(common...))
	}
	if m.rowsAffected != nil && affected > 0 && !isError {
		m.rowsAffected.Add(ctx, affected, metric.WithAttributes(common...))
	}
}

// registerPoolMetrics reports db.Stats() through observable gauges. The returned
// function unregisters the callback.
func registerPoolMetrics(meter metric.Meter, db *sql.DB, vendor string, log logger.Logger) func() {
	noop := func() {}
	if db == nil {
		return noop
	}

	active, err := meter.Int64ObservableGauge(metricPoolActive,
		metric.WithDescription("Number of active database connections"))
	logMetricError(log, metricPoolActive, err)
	idle, err := meter.Int64ObservableGauge(metricPoolIdle,
		metric.WithDescription("Number of idle database connections"))
	logMetricError(log, metricPoolIdle, err)
	total, err := meter.Int64ObservableGauge(metricPoolTotal,
		metric.WithDescription("Maximum number of database connections configured"))
	logMetricError(log, metricPoolTotal, err)

	var observables []metric.Observable
	for _, g := range []metric.Int64ObservableGauge{active, idle, total} {
		if g != nil {
			observables = append(observables, g)
		}
	}
	if len(observables) == 0 {
		return noop
	}

	attrs := metric.WithAttributes(attribute.String(attrDBSystem, vendor))
	registration, err := meter.RegisterCallback(func(_ context.Context, o metric.Observer) error {
		stats := db.Stats()
		if active != nil {
			o.ObserveInt64(active, int64(stats.InUse), attrs)
		}
		if idle != nil {
			o.ObserveInt64(idle, int64(stats.Idle), attrs)
		}
		if total != nil {
			o.ObserveInt64(total, int64(stats.MaxOpenConnections), attrs)
		}
		return nil
	}, observables...)
	if err != nil {
		logMetricError(log, "pool_metrics_callback", err)
		return noop
	}

	return func() {
		if err := registration.Unregister(); err != nil {
			logMetricError(log, "pool_metrics_unregister", err)
		}
	}
}
