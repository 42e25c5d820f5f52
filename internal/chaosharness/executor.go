package chaosharness

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand"
	"time"
)

// ExecutionResult contains the result of a scenario execution.
type ExecutionResult struct {
	ScenarioName  string
	Success       bool
	Error         error
	Duration      time.Duration
	StepsExecuted int
	Timestamp     time.Time
}

// FailurePolicy defines how the executor handles failures.
type FailurePolicy int

const (
	// FailFast stops execution on first failure.
	FailFast FailurePolicy = iota
	// ContinueOnFailure continues execution even after failures.
	ContinueOnFailure
)

// Executor runs scenarios.
type Executor struct {
	logger        *slog.Logger
	failurePolicy FailurePolicy
}

// ExecutorOption configures an Executor.
type ExecutorOption func(*Executor)

// WithSlogLogger sets a structured logger.
func WithSlogLogger(logger *slog.Logger) ExecutorOption {
	return func(e *Executor) {
		e.logger = logger
	}
}

// WithFailurePolicy sets the failure handling policy.
func WithFailurePolicy(policy FailurePolicy) ExecutorOption {
	return func(e *Executor) {
		e.failurePolicy = policy
	}
}

// NewExecutor creates a new executor with options.
func NewExecutor(opts ...ExecutorOption) *Executor {
	e := &Executor{
		logger:        slog.Default(),
		failurePolicy: FailFast,
	}

	for _, opt := range opts {
		opt(e)
	}

	return e
}

// validatorEventRecorder forwards runtime events recorded during step
// execution to every validator that cares about them.
type validatorEventRecorder struct{ validators []Validator }

func (r *validatorEventRecorder) RecordPanic() {
	for _, v := range r.validators {
		if pr, ok := v.(PanicRecorder); ok {
			pr.RecordPanic()
		}
	}
}

// getAllInjectors collects all injectors from the scenario, both direct and
// scoped.
func (e *Executor) getAllInjectors(scenario *Scenario) []Injector {
	allInjectors := make([]Injector, 0, len(scenario.injectors))
	allInjectors = append(allInjectors, scenario.injectors...)

	for _, scope := range scenario.scopes {
		e.logger.Debug("scope contains injectors",
			slog.String("scope", scope.name),
			slog.Int("injector_count", len(scope.injectors)))
		allInjectors = append(allInjectors, scope.injectors...)
	}

	return allInjectors
}

// Run executes a scenario: sets up the target, starts every injector, runs
// steps and validators (once, or repeated, or for a fixed duration), then
// tears everything down in reverse order.
func (e *Executor) Run(ctx context.Context, scenario *Scenario) error {
	if scenario.target == nil {
		return fmt.Errorf("scenario %s has no target", scenario.name)
	}

	ctx = AttachLogger(ctx, e.logger)

	var rng *rand.Rand
	if scenario.seed != nil {
		rng = rand.New(rand.NewSource(*scenario.seed))
		e.logger.Info("using deterministic seed",
			slog.String("scenario", scenario.name),
			slog.Int64("seed", *scenario.seed))
	} else {
		rng = rand.New(rand.NewSource(rand.Int63()))
	}
	ctx = AttachRand(ctx, rng)

	if err := scenario.target.Setup(ctx); err != nil {
		return fmt.Errorf("setup failed: %w", err)
	}
	defer func() {
		if err := scenario.target.Teardown(ctx); err != nil {
			e.logger.Warn("teardown error",
				slog.String("scenario", scenario.name),
				slog.String("error", err.Error()))
		}
	}()

	allInjectors := e.getAllInjectors(scenario)

	activeInjectors := make([]Injector, 0, len(allInjectors))
	for _, inj := range allInjectors {
		if err := inj.Inject(ctx); err != nil {
			e.logger.Error("injector failed to start",
				slog.String("scenario", scenario.name),
				slog.String("injector", inj.Name()),
				slog.String("error", err.Error()))
			e.stopInjectors(ctx, activeInjectors)

			return fmt.Errorf("injector %s failed: %w", inj.Name(), err)
		}
		activeInjectors = append(activeInjectors, inj)
	}
	defer e.stopInjectors(ctx, activeInjectors)

	if scenario.duration > 0 {
		return e.runForDuration(ctx, scenario)
	}

	return e.runRepeated(ctx, scenario)
}

func (e *Executor) stopInjectors(ctx context.Context, injectors []Injector) {
	for _, inj := range injectors {
		if err := inj.Stop(ctx); err != nil {
			e.logger.Warn("injector failed to stop",
				slog.String("injector", inj.Name()),
				slog.String("error", err.Error()))
		}
	}
}

func (e *Executor) runRepeated(ctx context.Context, scenario *Scenario) error {
	var firstError error

	for i := 0; i < scenario.repeat; i++ {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		e.resetValidators(scenario.validators)

		result := e.executeOnce(ctx, scenario)
		if result.Error != nil {
			if firstError == nil {
				firstError = fmt.Errorf("execution %d failed: %w", i+1, result.Error)
			}

			if e.failurePolicy == FailFast {
				return firstError
			}
			e.logger.Warn("execution failed (continuing)",
				slog.String("scenario", scenario.name),
				slog.Int("iteration", i+1),
				slog.String("error", result.Error.Error()))
		}
	}

	return firstError
}

func (e *Executor) runForDuration(ctx context.Context, scenario *Scenario) error {
	ctx, cancel := context.WithTimeout(ctx, scenario.duration)
	defer cancel()

	iteration := 0
	var firstError error

	for {
		select {
		case <-ctx.Done():
			if errors.Is(ctx.Err(), context.DeadlineExceeded) {
				return firstError
			}

			return ctx.Err()
		default:
		}

		e.resetValidators(scenario.validators)

		result := e.executeOnce(ctx, scenario)
		if result.Error != nil {
			if firstError == nil {
				firstError = fmt.Errorf("execution %d failed: %w", iteration+1, result.Error)
			}

			if e.failurePolicy == FailFast {
				return firstError
			}
			e.logger.Warn("execution failed (continuing)",
				slog.String("scenario", scenario.name),
				slog.Int("iteration", iteration+1),
				slog.String("error", result.Error.Error()))
		}
		iteration++
	}
}

func (e *Executor) resetValidators(validators []Validator) {
	for _, val := range validators {
		if resettable, ok := val.(Resettable); ok {
			resettable.Reset()
		}
	}
}

func (e *Executor) executeOnce(ctx context.Context, scenario *Scenario) ExecutionResult {
	start := time.Now()
	result := ExecutionResult{
		ScenarioName: scenario.name,
		Success:      true,
		Timestamp:    start,
	}

	if ctx.Value(randKey{}) == nil {
		var rng *rand.Rand
		if scenario.seed != nil {
			rng = rand.New(rand.NewSource(*scenario.seed))
		} else {
			rng = rand.New(rand.NewSource(rand.Int63()))
		}
		ctx = AttachRand(ctx, rng)
	}

	recorder := &validatorEventRecorder{validators: scenario.validators}
	ctx = AttachRecorder(ctx, recorder)

	allInjectors := e.getAllInjectors(scenario)

	for i, step := range scenario.steps {
		stepErr := func() (err error) {
			defer func() {
				if r := recover(); r != nil {
					recorder.RecordPanic()
					err = fmt.Errorf("panic in step %s: %v", step.Name(), r)
				}
			}()

			for _, inj := range allInjectors {
				if stepInj, ok := inj.(StepInjector); ok {
					if err := stepInj.BeforeStep(ctx); err != nil {
						return fmt.Errorf("injector %s before step failed: %w", inj.Name(), err)
					}
				}
			}

			stepErr := step.Execute(ctx, scenario.target)

			for _, inj := range allInjectors {
				if stepInj, ok := inj.(StepInjector); ok {
					if err := stepInj.AfterStep(ctx, stepErr); err != nil {
						return fmt.Errorf("injector %s after step failed: %w", inj.Name(), err)
					}
				}
			}

			return stepErr
		}()

		if stepErr != nil {
			result.Success = false
			result.Error = fmt.Errorf("step %s failed: %w", step.Name(), stepErr)
			result.StepsExecuted = i
			result.Duration = time.Since(start)

			return result
		}
	}
	result.StepsExecuted = len(scenario.steps)

	for _, val := range scenario.validators {
		if err := val.Validate(ctx, scenario.target); err != nil {
			result.Success = false
			result.Error = fmt.Errorf("validator %s failed: %w", val.Name(), err)
			result.Duration = time.Since(start)

			return result
		}
	}

	result.Duration = time.Since(start)

	return result
}
