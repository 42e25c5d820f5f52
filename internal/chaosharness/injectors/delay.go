package injectors

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand"
	"sync"
	"time"

	"github.com/rom8726/faultproxy/internal/chaosharness"
)

// DelayInjector introduces a random delay, bounded by [minDelay, maxDelay],
// with the given per-call probability. Used to perturb goroutine scheduling
// around a scenario's steps without touching the target's own timing logic.
type DelayInjector struct {
	name        string
	minDelay    time.Duration
	maxDelay    time.Duration
	probability float64

	mu         sync.Mutex
	stopped    bool
	delayCount int64
	rng        *rand.Rand
}

// RandomDelayWithProbability creates a delay injector that, on each
// BeforeStep/GetChaosDelay call, applies a delay in [min, max] with the
// given probability (clamped to [0, 1]).
func RandomDelayWithProbability(min, max time.Duration, probability float64) *DelayInjector {
	if probability < 0 {
		probability = 0
	}
	if probability > 1 {
		probability = 1
	}

	return &DelayInjector{
		name:        fmt.Sprintf("delay_injector_%v_%v_%.2f", min, max, probability),
		minDelay:    min,
		maxDelay:    max,
		probability: probability,
	}
}

func (d *DelayInjector) Name() string {
	return d.name
}

func (d *DelayInjector) Inject(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.stopped {
		return fmt.Errorf("injector already stopped")
	}

	d.rng = chaosharness.GetRand(ctx)

	slog.Info("delay injector started",
		slog.String("injector", d.name),
		slog.Duration("min_delay", d.minDelay),
		slog.Duration("max_delay", d.maxDelay),
		slog.Float64("probability", d.probability))

	return nil
}

func (d *DelayInjector) calculateDelay() time.Duration {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.stopped {
		return 0
	}

	if d.maxDelay <= d.minDelay {
		return d.minDelay
	}

	delta := d.maxDelay - d.minDelay
	rng := d.rng
	if rng == nil {
		rng = rand.New(rand.NewSource(rand.Int63()))
	}

	return d.minDelay + time.Duration(rng.Int63n(int64(delta)+1))
}

func (d *DelayInjector) Stop(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if !d.stopped {
		d.stopped = true
		slog.Info("delay injector stopped",
			slog.String("injector", d.name),
			slog.Int64("total_delays", d.delayCount))
	}

	return nil
}

// GetDelayCount returns the number of delays injected so far.
func (d *DelayInjector) GetDelayCount() int64 {
	d.mu.Lock()
	defer d.mu.Unlock()

	return d.delayCount
}

// BeforeStep implements chaosharness.StepInjector: it may sleep before the
// step runs, with the configured probability.
func (d *DelayInjector) BeforeStep(ctx context.Context) error {
	d.mu.Lock()
	stopped := d.stopped
	d.mu.Unlock()
	if stopped {
		return nil
	}

	if delay, ok := d.GetChaosDelay(); ok {
		slog.Debug("injecting delay before step",
			slog.String("injector", d.name),
			slog.Duration("delay", delay))
		time.Sleep(delay)
	}

	return nil
}

// AfterStep is a no-op: this injector only perturbs timing before a step.
func (d *DelayInjector) AfterStep(ctx context.Context, err error) error {
	return nil
}

// GetChaosDelay rolls the configured probability and, on a hit, returns a
// delay in [minDelay, maxDelay].
func (d *DelayInjector) GetChaosDelay() (time.Duration, bool) {
	d.mu.Lock()
	stopped := d.stopped
	probability := d.probability
	rng := d.rng
	d.mu.Unlock()

	if stopped {
		return 0, false
	}
	if rng == nil {
		rng = rand.New(rand.NewSource(rand.Int63()))
	}

	if rng.Float64() < probability {
		delay := d.calculateDelay()
		if delay > 0 {
			d.mu.Lock()
			d.delayCount++
			d.mu.Unlock()

			return delay, true
		}
	}

	return 0, false
}

// Type implements chaosharness.CategorizedInjector.
func (d *DelayInjector) Type() chaosharness.InjectorType {
	return chaosharness.InjectorTypeContext
}

// GetMetrics implements chaosharness.MetricsProvider.
func (d *DelayInjector) GetMetrics() map[string]interface{} {
	d.mu.Lock()
	defer d.mu.Unlock()

	return map[string]interface{}{
		"min_delay":   d.minDelay.String(),
		"max_delay":   d.maxDelay.String(),
		"probability": d.probability,
		"delay_count": d.delayCount,
		"stopped":     d.stopped,
	}
}
