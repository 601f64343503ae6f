package observability

import (
	"context"
	"errors"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/Masterminds/squirrel"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/metric"
	metricnoop "go.opentelemetry.io/otel/metric/noop"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	"go.opentelemetry.io/otel/trace"

	"github.com/gaborage/capsql/config"
	"github.com/gaborage/capsql/engine"
)

const (
	testServiceName      = "capsql-test"
	testOTLPHTTPEndpoint = "localhost:4318"
	testOTLPGRPCEndpoint = "localhost:4317"
)

func enabledConfig() *config.ObservabilityConfig {
	return &config.ObservabilityConfig{
		Enabled: true,
		Service: config.ServiceConfig{Name: testServiceName, Version: "1.0.0"},
	}
}

func shutdownNow(t *testing.T, p Provider) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	assert.NoError(t, p.Shutdown(ctx))
}

func TestNewProviderDisabled(t *testing.T) {
	for name, cfg := range map[string]*config.ObservabilityConfig{
		"nil":      nil,
		"disabled": {Enabled: false},
	} {
		t.Run(name, func(t *testing.T) {
			p, err := NewProvider(cfg)
			require.NoError(t, err)

			_, ok := p.(*noopProvider)
			assert.True(t, ok, "expected noopProvider when disabled")
			assert.NoError(t, p.ForceFlush(context.Background()))
			assert.NoError(t, p.Shutdown(context.Background()))
		})
	}
}

func TestNewProviderStdoutExporters(t *testing.T) {
	cfg := enabledConfig()
	cfg.Trace = config.ExportConfig{Enabled: true, Endpoint: EndpointStdout}
	cfg.Metrics = config.ExportConfig{Enabled: true, Endpoint: EndpointStdout, Interval: time.Hour}

	p, err := NewProvider(cfg)
	require.NoError(t, err)

	_, ok := p.TracerProvider().(*sdktrace.TracerProvider)
	assert.True(t, ok, "expected SDK tracer provider")
	_, ok = p.MeterProvider().(*sdkmetric.MeterProvider)
	assert.True(t, ok, "expected SDK meter provider")

	assert.NoError(t, p.ForceFlush(context.Background()))
	shutdownNow(t, p)
}

func TestNewProviderTraceOnly(t *testing.T) {
	cfg := enabledConfig()
	cfg.Trace = config.ExportConfig{Enabled: true, Endpoint: testOTLPHTTPEndpoint, Protocol: ProtocolHTTP, Insecure: true}

	p, err := NewProvider(cfg)
	require.NoError(t, err)

	_, ok := p.TracerProvider().(*sdktrace.TracerProvider)
	assert.True(t, ok)
	_, ok = p.MeterProvider().(metricnoop.MeterProvider)
	assert.True(t, ok, "metrics disabled should fall back to noop")
	shutdownNow(t, p)
}

func TestNewProviderGRPCTraceExporter(t *testing.T) {
	cfg := enabledConfig()
	cfg.Trace = config.ExportConfig{
		Enabled:  true,
		Endpoint: testOTLPGRPCEndpoint,
		Protocol: ProtocolGRPC,
		Insecure: true,
		Headers:  map[string]string{"x-team": "payments"},
	}

	p, err := NewProvider(cfg)
	require.NoError(t, err)
	shutdownNow(t, p)
}

func TestNewProviderInvalidProtocol(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*config.ObservabilityConfig)
	}{
		{
			name: "trace",
			mutate: func(c *config.ObservabilityConfig) {
				c.Trace = config.ExportConfig{Enabled: true, Endpoint: testOTLPHTTPEndpoint, Protocol: "tcp"}
			},
		},
		{
			name: "metrics",
			mutate: func(c *config.ObservabilityConfig) {
				c.Trace = config.ExportConfig{Enabled: true, Endpoint: EndpointStdout}
				c.Metrics = config.ExportConfig{Enabled: true, Endpoint: testOTLPHTTPEndpoint, Protocol: "tcp"}
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := enabledConfig()
			tt.mutate(cfg)

			p, err := NewProvider(cfg)
			assert.Nil(t, p)
			assert.ErrorIs(t, err, ErrInvalidProtocol)
			assert.Contains(t, err.Error(), "'tcp'")
		})
	}
}

func TestStdoutEndpointIgnoresProtocol(t *testing.T) {
	cfg := enabledConfig()
	cfg.Trace = config.ExportConfig{Enabled: true, Endpoint: EndpointStdout, Protocol: "tcp"}

	p, err := NewProvider(cfg)
	require.NoError(t, err)
	shutdownNow(t, p)
}

// recordingProvider hands out a span recorder and counts shutdowns.
type recordingProvider struct {
	tracerProvider *sdktrace.TracerProvider
	recorder       *tracetest.SpanRecorder
	shutdowns      int
	shutdownErr    error
}

func newRecordingProvider() *recordingProvider {
	recorder := tracetest.NewSpanRecorder()
	return &recordingProvider{
		tracerProvider: sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder)),
		recorder:       recorder,
	}
}

func (r *recordingProvider) TracerProvider() trace.TracerProvider { return r.tracerProvider }

func (r *recordingProvider) MeterProvider() metric.MeterProvider { return metricnoop.NewMeterProvider() }

func (r *recordingProvider) Shutdown(ctx context.Context) error {
	r.shutdowns++
	return errors.Join(r.shutdownErr, r.tracerProvider.Shutdown(ctx))
}

func (r *recordingProvider) ForceFlush(ctx context.Context) error {
	return r.tracerProvider.ForceFlush(ctx)
}

func TestEngineOptionsReportToProvider(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO orders").WithArgs(1).WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit()
	mock.ExpectClose()

	p := newRecordingProvider()
	e := engine.New(db, EngineOptions(p)...)

	ctx := context.Background()
	err = e.Transaction(ctx, func(c *engine.Conn) error {
		_, err := c.Exec(ctx, squirrel.Insert("orders").Columns("id").Values(1))
		return err
	})
	require.NoError(t, err)

	names := make([]string, 0, 3)
	for _, span := range p.recorder.Ended() {
		names = append(names, span.Name())
	}
	assert.Equal(t, []string{"db.begin", "db.insert", "db.commit"}, names)

	require.NoError(t, e.Close())
	assert.Equal(t, 1, p.shutdowns)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestEngineOptionsCloseReportsShutdownError(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	mock.ExpectClose()

	p := newRecordingProvider()
	p.shutdownErr = errors.New("collector unreachable")
	e := engine.New(db, EngineOptions(p)...)

	err = e.Close()
	assert.ErrorIs(t, err, p.shutdownErr)
	assert.Contains(t, err.Error(), "observability shutdown failed")
	assert.NoError(t, e.Close(), "hooks run once")
	assert.Equal(t, 1, p.shutdowns)
}

func TestShutdownNilProvider(t *testing.T) {
	assert.NoError(t, Shutdown(nil, 0))
}
