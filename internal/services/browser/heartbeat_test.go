package browser

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ternarybob/arbor"
)

func TestStartHeartbeatStampsUntilStopped(t *testing.T) {
	var stamps atomic.Int64
	stop := startHeartbeat(context.Background(), 5*time.Millisecond, arbor.NewLogger(), func(context.Context) error {
		stamps.Add(1)
		return nil
	})

	time.Sleep(40 * time.Millisecond)
	stop()
	after := stamps.Load()
	if after < 2 {
		t.Fatalf("Expected at least 2 stamps, got %d", after)
	}

	// stop waits for the loop, so the count must not move again.
	time.Sleep(20 * time.Millisecond)
	if got := stamps.Load(); got != after {
		t.Errorf("Expected no stamps after stop, got %d more", got-after)
	}
}

func TestStartHeartbeatStopsWithParentContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	var stamps atomic.Int64
	stop := startHeartbeat(ctx, 5*time.Millisecond, arbor.NewLogger(), func(context.Context) error {
		stamps.Add(1)
		return nil
	})
	defer stop()

	cancel()
	time.Sleep(15 * time.Millisecond)
	settled := stamps.Load()
	time.Sleep(20 * time.Millisecond)
	if got := stamps.Load(); got != settled {
		t.Errorf("Expected stamping to stop with the parent context, got %d more", got-settled)
	}
}
