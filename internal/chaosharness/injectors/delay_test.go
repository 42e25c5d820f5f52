package injectors

import (
	"context"
	"testing"
	"time"
)

func TestDelay_ProbabilityMode_GetChaosDelay(t *testing.T) {
	di := RandomDelayWithProbability(5*time.Millisecond, 5*time.Millisecond, 1.0)
	if err := di.Inject(context.Background()); err != nil {
		t.Fatalf("inject err: %v", err)
	}
	d, ok := di.GetChaosDelay()
	if !ok {
		t.Fatalf("expected delay to be applied")
	}
	if d != 5*time.Millisecond {
		t.Fatalf("expected 5ms, got %v", d)
	}
	if di.GetDelayCount() == 0 {
		t.Fatalf("expected delay count > 0")
	}
	if err := di.Stop(context.Background()); err != nil {
		t.Fatalf("stop err: %v", err)
	}
	if d2, ok2 := di.GetChaosDelay(); ok2 || d2 != 0 {
		t.Fatalf("expected no delay after stop, got %v %v", d2, ok2)
	}
}

func TestDelay_ZeroProbability_NeverDelays(t *testing.T) {
	di := RandomDelayWithProbability(5*time.Millisecond, 10*time.Millisecond, 0)
	if err := di.Inject(context.Background()); err != nil {
		t.Fatalf("inject err: %v", err)
	}
	if _, ok := di.GetChaosDelay(); ok {
		t.Fatalf("expected no delay with zero probability")
	}
}

func TestDelay_BeforeStep_AppliesDelay(t *testing.T) {
	di := RandomDelayWithProbability(time.Millisecond, time.Millisecond, 1.0)
	if err := di.Inject(context.Background()); err != nil {
		t.Fatalf("inject err: %v", err)
	}

	start := time.Now()
	if err := di.BeforeStep(context.Background()); err != nil {
		t.Fatalf("before step err: %v", err)
	}
	if time.Since(start) < time.Millisecond {
		t.Fatalf("expected BeforeStep to sleep at least 1ms")
	}
}
