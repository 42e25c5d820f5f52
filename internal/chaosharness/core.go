// Package chaosharness is the scenario-driven test harness used by
// faultproxy's own integration tests: it runs a live *proxy.Proxy as a
// Target, applies process-level chaos (CPU pressure, randomized delay) while
// traffic flows through it, and asserts invariants such as "no leaked
// forwarder goroutines after every client disconnects".
//
// # Basic usage
//
//	scenario := chaosharness.NewScenario("delete-in-flight").
//		WithTarget(proxyTarget).
//		Inject("cpu-load", injectors.CPUStress(2)).
//		Assert("goroutines", validators.GoroutineLimit(baseline+4)).
//		Build()
//
//	executor := chaosharness.NewExecutor()
//	if err := executor.Run(ctx, scenario); err != nil {
//		log.Fatal(err)
//	}
//
// # Architecture
//
// Clear separation between:
//   - Scenarios: define what to test
//   - Injectors: introduce faults into the system
//   - Validators: verify system invariants
//   - Executor: orchestrates scenario execution
package chaosharness

import (
	"context"
	"log/slog"
	"math/rand"
)

type recorderKey struct{}
type loggerKey struct{}
type randKey struct{}

// Target represents the system under test.
type Target interface {
	Name() string
	Setup(ctx context.Context) error
	Teardown(ctx context.Context) error
}

// Step represents a single step in a scenario, executed sequentially.
type Step interface {
	Name() string
	Execute(ctx context.Context, target Target) error
}

// InjectorType defines how an injector applies its effects.
type InjectorType int

const (
	// InjectorTypeGlobal applies effects globally (e.g. CPU stress).
	InjectorTypeGlobal InjectorType = iota
	// InjectorTypeContext applies effects through context (e.g. delay).
	InjectorTypeContext
	// InjectorTypeStep applies effects before/after steps.
	InjectorTypeStep
	// InjectorTypeHybrid can work in multiple modes.
	InjectorTypeHybrid
)

// Injector introduces faults into the system. Inject() starts injecting,
// Stop() stops and cleans up.
type Injector interface {
	Name() string
	Inject(ctx context.Context) error
	Stop(ctx context.Context) error
}

// CategorizedInjector provides information about injector type.
type CategorizedInjector interface {
	Injector
	Type() InjectorType
}

// GlobalInjector indicates that injector applies global effects.
type GlobalInjector interface {
	Injector
	IsGlobal() bool
}

// StepInjector can inject faults before/after step execution.
type StepInjector interface {
	Injector
	BeforeStep(ctx context.Context) error
	AfterStep(ctx context.Context, err error) error
}

// MetricsProvider allows injectors to expose metrics.
type MetricsProvider interface {
	Injector
	GetMetrics() map[string]interface{}
}

// Validator checks system invariants after a scenario execution.
type Validator interface {
	Name() string
	Validate(ctx context.Context, target Target) error
}

// Resettable is implemented by validators that carry state across repeated
// scenario executions and need to clear it between iterations.
type Resettable interface {
	Reset()
}

// PanicRecorder is implemented by validators that track panics recovered
// during step execution.
type PanicRecorder interface {
	RecordPanic()
}

// EventRecorder is attached to the context so steps and the executor's own
// panic-recovery path can forward runtime events to interested validators.
type EventRecorder interface {
	RecordPanic()
}

// AttachRecorder attaches an EventRecorder to ctx.
func AttachRecorder(ctx context.Context, r EventRecorder) context.Context {
	return context.WithValue(ctx, recorderKey{}, r)
}

// RecordPanic forwards a panic event to the context's recorder, if any.
func RecordPanic(ctx context.Context) {
	if v := ctx.Value(recorderKey{}); v != nil {
		if r, ok := v.(EventRecorder); ok {
			r.RecordPanic()
		}
	}
}

// AttachLogger attaches a logger to ctx.
func AttachLogger(ctx context.Context, logger *slog.Logger) context.Context {
	return context.WithValue(ctx, loggerKey{}, logger)
}

// GetLogger retrieves the logger attached to ctx, or slog.Default() if none.
func GetLogger(ctx context.Context) *slog.Logger {
	if v := ctx.Value(loggerKey{}); v != nil {
		if logger, ok := v.(*slog.Logger); ok {
			return logger
		}
	}

	return slog.Default()
}

// AttachRand attaches a *rand.Rand to ctx so injectors can share the
// scenario's deterministic seed (when one is set) instead of each rolling
// their own source.
func AttachRand(ctx context.Context, rng *rand.Rand) context.Context {
	return context.WithValue(ctx, randKey{}, rng)
}

// GetRand retrieves the *rand.Rand attached to ctx, or a freshly seeded one
// if none was attached.
func GetRand(ctx context.Context) *rand.Rand {
	if v := ctx.Value(randKey{}); v != nil {
		if rng, ok := v.(*rand.Rand); ok {
			return rng
		}
	}

	return rand.New(rand.NewSource(rand.Int63()))
}
