package retry

import (
	"context"
	"testing"
	"time"

	"github.com/fixwright/fixwright/internal/errors"
)

func fastPolicy() Policy {
	return Policy{
		MaxRetries: 3,
		BaseDelay:  time.Millisecond,
		MaxDelay:   5 * time.Millisecond,
	}
}

func TestSucceedsFirstAttempt(t *testing.T) {
	calls := 0
	err := fastPolicy().Do(context.Background(), "op", func(context.Context) error {
		calls++
		return nil
	})
	if err != nil {
		t.Fatalf("Do() error = %v", err)
	}
	if calls != 1 {
		t.Errorf("calls = %d, want 1", calls)
	}
}

func TestRetriesTransientThenSucceeds(t *testing.T) {
	calls := 0
	err := fastPolicy().Do(context.Background(), "op", func(context.Context) error {
		calls++
		if calls < 3 {
			return errors.Transient("op", errors.New("flaky"))
		}
		return nil
	})
	if err != nil {
		t.Fatalf("Do() error = %v", err)
	}
	if calls != 3 {
		t.Errorf("calls = %d, want 3", calls)
	}
}

func TestFatalErrorNotRetried(t *testing.T) {
	fatal := errors.New("bad request")
	calls := 0
	err := fastPolicy().Do(context.Background(), "op", func(context.Context) error {
		calls++
		return fatal
	})
	if !errors.Is(err, fatal) {
		t.Fatalf("Do() error = %v, want fatal error", err)
	}
	if errors.Is(err, errors.ErrRetriesExhausted) {
		t.Error("fatal error wrapped as retries exhausted")
	}
	if calls != 1 {
		t.Errorf("calls = %d, want 1", calls)
	}
}

func TestExhaustsRetries(t *testing.T) {
	transient := errors.Transient("op", errors.New("still down"))
	calls := 0
	err := fastPolicy().Do(context.Background(), "op", func(context.Context) error {
		calls++
		return transient
	})
	if !errors.Is(err, errors.ErrRetriesExhausted) {
		t.Fatalf("Do() error = %v, want ErrRetriesExhausted", err)
	}
	if !errors.Is(err, transient) {
		t.Errorf("Do() error = %v, does not wrap the last failure", err)
	}
	if calls != 4 {
		t.Errorf("calls = %d, want 4 (initial + 3 retries)", calls)
	}
}

func TestCircuitOpenNotRetried(t *testing.T) {
	calls := 0
	err := fastPolicy().Do(context.Background(), "op", func(context.Context) error {
		calls++
		return &errors.BreakerOpenError{Key: "ai-invoke", Remaining: time.Minute}
	})
	if !errors.Is(err, errors.ErrCircuitOpen) {
		t.Fatalf("Do() error = %v, want ErrCircuitOpen", err)
	}
	if calls != 1 {
		t.Errorf("calls = %d, want 1 (circuit-open is fatal)", calls)
	}
}

func TestContextCancelledStopsRetries(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	p := Policy{MaxRetries: 10, BaseDelay: time.Hour, MaxDelay: time.Hour}

	done := make(chan error, 1)
	go func() {
		done <- p.Do(ctx, "op", func(context.Context) error {
			return errors.Transient("op", errors.New("down"))
		})
	}()

	time.Sleep(20 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		if err != context.Canceled {
			t.Errorf("Do() error = %v, want context.Canceled", err)
		}
	case <-time.After(time.Second):
		t.Fatal("Do() did not return after cancellation")
	}
}

func TestOnRetryHook(t *testing.T) {
	type call struct {
		attempt int
		delay   time.Duration
	}
	var hooks []call

	p := fastPolicy()
	p.OnRetry = func(_ error, attempt int, delay time.Duration) {
		hooks = append(hooks, call{attempt, delay})
	}

	_ = p.Do(context.Background(), "op", func(context.Context) error {
		return errors.Transient("op", errors.New("down"))
	})

	if len(hooks) != 3 {
		t.Fatalf("hook fired %d times, want 3", len(hooks))
	}
	for i, h := range hooks {
		if h.attempt != i+1 {
			t.Errorf("hook %d attempt = %d, want %d", i, h.attempt, i+1)
		}
	}
}

func TestDelayDoublingAndCap(t *testing.T) {
	p := Policy{
		MaxRetries: 5,
		BaseDelay:  100 * time.Millisecond,
		MaxDelay:   400 * time.Millisecond,
	}

	tests := []struct {
		attempt int
		want    time.Duration
	}{
		{1, 100 * time.Millisecond},
		{2, 200 * time.Millisecond},
		{3, 400 * time.Millisecond},
		{4, 400 * time.Millisecond},
		{10, 400 * time.Millisecond},
	}
	for _, tt := range tests {
		if got := p.delayFor(tt.attempt); got != tt.want {
			t.Errorf("delayFor(%d) = %v, want %v", tt.attempt, got, tt.want)
		}
	}
}

func TestJitterStaysBounded(t *testing.T) {
	p := Policy{
		MaxRetries: 1,
		BaseDelay:  100 * time.Millisecond,
		MaxDelay:   time.Second,
		Jitter:     true,
	}
	for i := 0; i < 50; i++ {
		d := p.delayFor(1)
		if d < 50*time.Millisecond || d > 100*time.Millisecond {
			t.Fatalf("jittered delay %v outside [50ms, 100ms]", d)
		}
	}
}

func TestCustomRetryablePredicate(t *testing.T) {
	special := errors.New("special")
	p := fastPolicy()
	p.Retryable = func(err error) bool { return errors.Is(err, special) }

	calls := 0
	err := p.Do(context.Background(), "op", func(context.Context) error {
		calls++
		if calls < 2 {
			return special
		}
		return nil
	})
	if err != nil {
		t.Fatalf("Do() error = %v", err)
	}
	if calls != 2 {
		t.Errorf("calls = %d, want 2", calls)
	}
}
