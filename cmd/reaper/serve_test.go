package main

import (
	"testing"
	"time"
)

func TestDrainContext(t *testing.T) {
	ctx, cancel := drainContext(0)
	defer cancel()
	if _, ok := ctx.Deadline(); ok {
		t.Error("zero timeout should not set a deadline")
	}

	ctx, cancel = drainContext(10 * time.Minute)
	defer cancel()
	deadline, ok := ctx.Deadline()
	if !ok {
		t.Fatal("expected a deadline")
	}
	if remaining := time.Until(deadline); remaining < 9*time.Minute || remaining > 10*time.Minute {
		t.Errorf("remaining = %v, want about 10m", remaining)
	}
}
