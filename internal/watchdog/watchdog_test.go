package watchdog

import (
	"sync/atomic"
	"testing"
	"time"
)

func TestFiresWithoutHeartbeat(t *testing.T) {
	fired := make(chan struct{})
	w := New("ai-invoke", 30*time.Millisecond, func() { close(fired) }, nil)

	w.Start()
	select {
	case <-fired:
	case <-time.After(time.Second):
		t.Fatal("watchdog did not fire without heartbeats")
	}
	if !w.Fired() {
		t.Error("Fired() = false after timeout")
	}
}

func TestHeartbeatDefersTimeout(t *testing.T) {
	var fired atomic.Bool
	w := New("ai-invoke", 60*time.Millisecond, func() { fired.Store(true) }, nil)

	w.Start()
	// Keep heartbeating well past the timeout window. A slow call that
	// shows progress must not be treated as hung.
	for i := 0; i < 6; i++ {
		time.Sleep(30 * time.Millisecond)
		w.Heartbeat()
	}
	if fired.Load() {
		t.Fatal("watchdog fired despite steady heartbeats")
	}
	w.Stop()
}

func TestFiresAfterHeartbeatsStop(t *testing.T) {
	fired := make(chan struct{})
	w := New("ai-invoke", 50*time.Millisecond, func() { close(fired) }, nil)

	w.Start()
	time.Sleep(20 * time.Millisecond)
	w.Heartbeat()

	select {
	case <-fired:
	case <-time.After(time.Second):
		t.Fatal("watchdog did not fire after heartbeats stopped")
	}
}

func TestStopPreventsFiring(t *testing.T) {
	var fired atomic.Bool
	w := New("ai-invoke", 30*time.Millisecond, func() { fired.Store(true) }, nil)

	w.Start()
	w.Stop()
	time.Sleep(80 * time.Millisecond)

	if fired.Load() {
		t.Error("watchdog fired after Stop()")
	}
}

func TestFiresAtMostOncePerStart(t *testing.T) {
	var count atomic.Int32
	w := New("ai-invoke", 20*time.Millisecond, func() { count.Add(1) }, nil)

	w.Start()
	time.Sleep(100 * time.Millisecond)
	// Late heartbeats after firing must not rearm the timer.
	w.Heartbeat()
	time.Sleep(60 * time.Millisecond)

	if got := count.Load(); got != 1 {
		t.Errorf("timeout fired %d times, want 1", got)
	}
}

func TestRestartRearms(t *testing.T) {
	var count atomic.Int32
	w := New("ai-invoke", 20*time.Millisecond, func() { count.Add(1) }, nil)

	w.Start()
	time.Sleep(60 * time.Millisecond)
	if got := count.Load(); got != 1 {
		t.Fatalf("timeout fired %d times after first start, want 1", got)
	}

	w.Start()
	if w.Fired() {
		t.Error("Fired() = true immediately after restart")
	}
	time.Sleep(60 * time.Millisecond)
	if got := count.Load(); got != 2 {
		t.Errorf("timeout fired %d times after restart, want 2", got)
	}
}

func TestStopIsIdempotent(t *testing.T) {
	w := New("ai-invoke", time.Minute, nil, nil)
	w.Stop()
	w.Start()
	w.Stop()
	w.Stop()
}
