package feed

import (
	"context"
	"runtime"
	"testing"
	"time"
)

// Repeated Read calls, as the collector issues after each reconnect, must not
// leave ping goroutines behind once their read loop ends.
func TestPingLoopEndsWithReadLoop(t *testing.T) {
	c := &Client{pingInterval: 5 * time.Millisecond}
	before := runtime.NumGoroutine()

	ctx := context.Background()
	for i := 0; i < 20; i++ {
		_, errs := c.Read(ctx)
		if err := <-errs; err == nil {
			t.Fatalf("expected a read error on a closed feed")
		}
	}

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if runtime.NumGoroutine() <= before+2 {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("ping goroutines leaked: before=%d now=%d", before, runtime.NumGoroutine())
}
