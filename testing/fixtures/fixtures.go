// Package fixtures wires capture contexts into Go tests.
//
// A Registry holds one session-wide engine, built lazily by the factory given to
// ProvideDBEngine, and hands every test its own full-test capture context:
//
//	func TestMain(m *testing.M) {
//		fixtures.ProvideDBEngine(fixtures.EngineFromConfig())
//		code := m.Run()
//		_ = fixtures.Close()
//		os.Exit(code)
//	}
//
//	func TestListOrders(t *testing.T) {
//		capsql := fixtures.CapSQL(t)
//		// ... run the code under test against capsql.Engine() ...
//		capsql.AssertQueryCount(t, 1, capture.ExcludeTCL())
//	}
package fixtures

import (
	"context"
	"fmt"
	"sync"

	"golang.org/x/sync/singleflight"

	"github.com/gaborage/capsql/capture"
	"github.com/gaborage/capsql/config"
	"github.com/gaborage/capsql/engine"
	"github.com/gaborage/capsql/logger"
	"github.com/gaborage/capsql/observability"
)

// DBEngineFixture is the name setup errors use for the engine dependency.
const DBEngineFixture = "db_engine"

// EngineFactory builds the session engine.
type EngineFactory func(ctx context.Context) (*engine.Engine, error)

// TB is the part of testing.TB the fixtures use.
type TB interface {
	Helper()
	Cleanup(func())
	Fatalf(format string, args ...any)
	Name() string
}

type testCapture struct {
	context  *capture.Context
	capturer *capture.Capturer
}

// Registry owns the session engine and the per-test capture contexts. It is safe
// for parallel tests.
type Registry struct {
	group singleflight.Group

	mu      sync.Mutex
	factory EngineFactory
	built   bool
	engine  *engine.Engine
	err     error
	tests   map[TB]*testCapture
}

// NewRegistry returns a registry without an engine factory.
func NewRegistry() *Registry {
	return &Registry{tests: make(map[TB]*testCapture)}
}

// ProvideDBEngine registers the factory of the session engine. An engine built by a
// previous factory is closed; a close failure is logged through that engine's logger.
func (r *Registry) ProvideDBEngine(factory EngineFactory) {
	if previous := r.detach(); previous != nil {
		if err := previous.Close(); err != nil {
			previous.Logger().Warn().Err(err).Msg("Failed to close previous session engine")
		}
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.factory = factory
}

func (r *Registry) sessionEngine() (*engine.Engine, error) {
	r.mu.Lock()
	factory, built := r.factory, r.built
	r.mu.Unlock()

	if factory == nil {
		return nil, fmt.Errorf("fixture %q not found: register one with ProvideDBEngine", DBEngineFixture)
	}
	if !built {
		// Parallel tests asking for the engine at once share one factory call.
		_, _, _ = r.group.Do(DBEngineFixture, func() (any, error) {
			r.mu.Lock()
			done := r.built
			r.mu.Unlock()
			if done {
				return nil, nil
			}

			e, err := factory(context.Background())
			if err == nil && e == nil {
				err = fmt.Errorf("factory returned no engine")
			}
			if err != nil {
				err = fmt.Errorf("fixture %q failed: %w", DBEngineFixture, err)
			}

			r.mu.Lock()
			r.engine, r.err, r.built = e, err, true
			r.mu.Unlock()
			return nil, nil
		})
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	return r.engine, r.err
}

// DBEngine returns the session engine, building it on first use. A factory failure
// is remembered and fails every later caller the same way.
func (r *Registry) DBEngine(tb TB) *engine.Engine {
	tb.Helper()

	e, err := r.sessionEngine()
	if err != nil {
		tb.Fatalf("%v", err)
		return nil
	}
	return e
}

// CapSQLContext returns the test's full-test capture context, opened now and
// closed when the test finishes.
func (r *Registry) CapSQLContext(tb TB) *capture.Context {
	tb.Helper()

	tc := r.testCapture(tb)
	if tc == nil {
		return nil
	}
	return tc.context
}

// CapSQL returns a Capturer over the test's full-test capture context.
func (r *Registry) CapSQL(tb TB) *capture.Capturer {
	tb.Helper()

	tc := r.testCapture(tb)
	if tc == nil {
		return nil
	}
	return tc.capturer
}

func (r *Registry) testCapture(tb TB) *testCapture {
	tb.Helper()

	e := r.DBEngine(tb)
	if e == nil {
		return nil
	}

	r.mu.Lock()
	if tc, ok := r.tests[tb]; ok {
		r.mu.Unlock()
		return tc
	}
	c := capture.NewContext(e)
	if err := c.Open(); err != nil {
		r.mu.Unlock()
		tb.Fatalf("failed to open capture context for %s: %v", tb.Name(), err)
		return nil
	}
	tc := &testCapture{context: c, capturer: capture.NewCapturer(c)}
	r.tests[tb] = tc
	r.mu.Unlock()

	tb.Cleanup(func() {
		r.mu.Lock()
		delete(r.tests, tb)
		r.mu.Unlock()

		if tc.capturer.InScope() {
			_ = tc.capturer.Exit()
		}
		_ = c.Close()
	})
	return tc
}

// Close closes the session engine, if one was built, and forgets it.
func (r *Registry) Close() error {
	e := r.detach()
	if e == nil {
		return nil
	}
	return e.Close()
}

// detach forgets the session engine and returns it.
func (r *Registry) detach() *engine.Engine {
	r.mu.Lock()
	defer r.mu.Unlock()

	e := r.engine
	r.engine, r.err, r.built = nil, nil, false
	return e
}

var defaultRegistry = NewRegistry()

// ProvideDBEngine registers the session engine factory of the default registry.
func ProvideDBEngine(factory EngineFactory) {
	defaultRegistry.ProvideDBEngine(factory)
}

// DBEngine returns the default registry's session engine.
func DBEngine(tb TB) *engine.Engine {
	tb.Helper()
	return defaultRegistry.DBEngine(tb)
}

// CapSQLContext returns the test's full-test capture context from the default registry.
func CapSQLContext(tb TB) *capture.Context {
	tb.Helper()
	return defaultRegistry.CapSQLContext(tb)
}

// CapSQL returns the test's Capturer from the default registry.
func CapSQL(tb TB) *capture.Capturer {
	tb.Helper()
	return defaultRegistry.CapSQL(tb)
}

// Close closes the default registry's session engine.
func Close() error {
	return defaultRegistry.Close()
}

// EngineFromConfig returns a factory that loads the capsql configuration and opens
// the configured database. When observability is enabled the engine exports its
// statement telemetry and shuts the exporters down on Close.
func EngineFromConfig() EngineFactory {
	return func(context.Context) (*engine.Engine, error) {
		cfg, err := config.Load()
		if err != nil {
			return nil, err
		}
		log := logger.New(cfg.Log.Level, cfg.Log.Pretty)

		if !cfg.Observability.Enabled {
			return engine.Open(&cfg.Database, log)
		}

		provider, err := observability.NewProvider(&cfg.Observability)
		if err != nil {
			return nil, err
		}
		e, err := engine.Open(&cfg.Database, log, observability.EngineOptions(provider)...)
		if err != nil {
			_ = observability.Shutdown(provider, 0)
			return nil, err
		}
		return e, nil
	}
}
