package dispatch

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"sandboxnotify/internal/telemetry"
	"sandboxnotify/internal/types"
)

// ---------------------------------------------------------------------------
// Fakes shared across the dispatch tests
// ---------------------------------------------------------------------------

type recordingLogger struct {
	mu     sync.Mutex
	infos  []string
	warns  []string
	errors []string
}

func (l *recordingLogger) Info(msg string, args ...any) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.infos = append(l.infos, msg+" "+fmt.Sprint(args...))
}

func (l *recordingLogger) Warn(msg string, args ...any) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.warns = append(l.warns, msg+" "+fmt.Sprint(args...))
}

func (l *recordingLogger) Error(msg string, args ...any) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.errors = append(l.errors, msg+" "+fmt.Sprint(args...))
}

func (l *recordingLogger) With(_ ...any) types.Logger { return l }

func contains(entries []string, substr string) bool {
	for _, e := range entries {
		if strings.Contains(e, substr) {
			return true
		}
	}
	return false
}

type recordingMetrics struct {
	telemetry.Nop
	mu           sync.Mutex
	attempts     int
	successes    int
	failures     []types.ErrorKind
	breakerOpens int
}

func (m *recordingMetrics) DispatchAttempted(_ context.Context, _ types.Channel) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.attempts++
}

func (m *recordingMetrics) DispatchSucceeded(_ context.Context, _ types.Channel) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.successes++
}

func (m *recordingMetrics) DispatchFailed(_ context.Context, _ types.Channel, kind types.ErrorKind) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failures = append(m.failures, kind)
}

func (m *recordingMetrics) BreakerOpened(_ context.Context, _ string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.breakerOpens++
}

type fixedClock struct{ t time.Time }

func (c fixedClock) Now() time.Time { return c.t }

// newTestCore builds a retryCore with instant sleeps, recording each
// requested wait.
func newTestCore(schedule []time.Duration, threshold uint32, cooldown time.Duration) (*retryCore, *recordingMetrics, *[]time.Duration) {
	metrics := &recordingMetrics{}
	core := newRetryCore(types.ChannelEmail, schedule, threshold, cooldown,
		&recordingLogger{}, metrics, fixedClock{t: time.Date(2026, 6, 15, 9, 30, 0, 0, time.UTC)})
	sleeps := &[]time.Duration{}
	core.sleep = func(_ context.Context, d time.Duration) error {
		*sleeps = append(*sleeps, d)
		return nil
	}
	return core, metrics, sleeps
}

func asNotificationError(t *testing.T, err error) *types.NotificationError {
	t.Helper()
	var nerr *types.NotificationError
	if !errors.As(err, &nerr) {
		t.Fatalf("expected a NotificationError, got %T: %v", err, err)
	}
	return nerr
}

// ---------------------------------------------------------------------------
// Retry loop
// ---------------------------------------------------------------------------

func TestRun_SucceedsFirstAttempt(t *testing.T) {
	core, metrics, sleeps := newTestCore([]time.Duration{10 * time.Millisecond}, 3, time.Minute)

	id, attempts, err := core.run(context.Background(), func(_ context.Context) (string, error) {
		return "provider-1", nil
	})
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if id != "provider-1" {
		t.Errorf("id = %q, want provider-1", id)
	}
	if attempts != 1 {
		t.Errorf("attempts = %d, want 1", attempts)
	}
	if len(*sleeps) != 0 {
		t.Errorf("slept %d times, want 0", len(*sleeps))
	}
	if metrics.attempts != 1 || metrics.successes != 1 {
		t.Errorf("metrics attempts=%d successes=%d, want 1/1", metrics.attempts, metrics.successes)
	}
}

func TestRun_RetriesRetriableFailures(t *testing.T) {
	core, metrics, sleeps := newTestCore([]time.Duration{10 * time.Millisecond, 20 * time.Millisecond}, 5, time.Minute)

	calls := 0
	id, attempts, err := core.run(context.Background(), func(_ context.Context) (string, error) {
		calls++
		if calls < 3 {
			return "", types.NewError(types.KindRetriable, types.ErrCodeProviderUnavailable, "upstream 503", nil)
		}
		return "provider-2", nil
	})
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if id != "provider-2" || attempts != 3 {
		t.Errorf("got id=%q attempts=%d, want provider-2/3", id, attempts)
	}
	if len(*sleeps) != 2 {
		t.Fatalf("slept %d times, want 2", len(*sleeps))
	}
	// Full jitter keeps each wait in [delay/2, delay).
	if s := (*sleeps)[0]; s < 5*time.Millisecond || s >= 10*time.Millisecond {
		t.Errorf("first sleep %v outside [5ms, 10ms)", s)
	}
	if s := (*sleeps)[1]; s < 10*time.Millisecond || s >= 20*time.Millisecond {
		t.Errorf("second sleep %v outside [10ms, 20ms)", s)
	}
	if metrics.attempts != 3 || metrics.successes != 1 {
		t.Errorf("metrics attempts=%d successes=%d, want 3/1", metrics.attempts, metrics.successes)
	}
}

func TestRun_PermanentFailureStopsImmediately(t *testing.T) {
	core, metrics, sleeps := newTestCore([]time.Duration{10 * time.Millisecond, 20 * time.Millisecond}, 3, time.Minute)

	_, attempts, err := core.run(context.Background(), func(_ context.Context) (string, error) {
		return "", types.NewError(types.KindPermanent, types.ErrCodeProviderRejected, "template rejected", nil)
	})
	if attempts != 1 {
		t.Errorf("attempts = %d, want 1", attempts)
	}
	if len(*sleeps) != 0 {
		t.Errorf("slept %d times, want 0", len(*sleeps))
	}
	nerr := asNotificationError(t, err)
	if nerr.Kind != types.KindPermanent {
		t.Errorf("kind = %v, want Permanent", nerr.Kind)
	}
	if len(metrics.failures) != 1 || metrics.failures[0] != types.KindPermanent {
		t.Errorf("failure metrics = %v, want [Permanent]", metrics.failures)
	}
}

func TestRun_CriticalFailureStopsImmediately(t *testing.T) {
	core, _, sleeps := newTestCore([]time.Duration{10 * time.Millisecond}, 3, time.Minute)

	_, attempts, err := core.run(context.Background(), func(_ context.Context) (string, error) {
		return "", types.NewError(types.KindCritical, types.ErrCodeCredentialsDenied, "credentials rejected", nil)
	})
	if attempts != 1 || len(*sleeps) != 0 {
		t.Errorf("attempts=%d sleeps=%d, want 1/0", attempts, len(*sleeps))
	}
	if kind := types.KindOf(err); kind != types.KindCritical {
		t.Errorf("kind = %v, want Critical", kind)
	}
}

func TestRun_ExhaustionNamesAttemptCount(t *testing.T) {
	core, _, _ := newTestCore([]time.Duration{time.Millisecond, time.Millisecond}, 10, time.Minute)

	underlying := types.NewError(types.KindRetriable, types.ErrCodeProviderUnavailable, "upstream 503", nil)
	_, attempts, err := core.run(context.Background(), func(_ context.Context) (string, error) {
		return "", underlying
	})
	if attempts != 3 {
		t.Errorf("attempts = %d, want 3", attempts)
	}
	nerr := asNotificationError(t, err)
	if nerr.Code != types.ErrCodeRetriesExhausted {
		t.Errorf("code = %q, want %q", nerr.Code, types.ErrCodeRetriesExhausted)
	}
	if nerr.Kind != types.KindRetriable {
		t.Errorf("kind = %v, want Retriable", nerr.Kind)
	}
	if !strings.Contains(nerr.Message, "3 attempts") {
		t.Errorf("message %q does not name the attempt count", nerr.Message)
	}
	if !errors.Is(err, underlying) {
		t.Error("exhaustion error does not wrap the last provider error")
	}
}

func TestRun_RetryAfterOverridesScheduleWhenLarger(t *testing.T) {
	core, _, sleeps := newTestCore([]time.Duration{10 * time.Millisecond}, 5, time.Minute)

	calls := 0
	_, _, err := core.run(context.Background(), func(_ context.Context) (string, error) {
		calls++
		if calls == 1 {
			return "", types.NewError(types.KindRetriable, types.ErrCodeProviderThrottled, "throttled", nil).
				WithRetryAfter(5 * time.Second)
		}
		return "ok", nil
	})
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if len(*sleeps) != 1 || (*sleeps)[0] != 5*time.Second {
		t.Errorf("sleeps = %v, want exactly [5s]", *sleeps)
	}
}

func TestRun_RetryAfterSmallerThanScheduleIsIgnored(t *testing.T) {
	core, _, sleeps := newTestCore([]time.Duration{100 * time.Millisecond}, 5, time.Minute)

	calls := 0
	_, _, _ = core.run(context.Background(), func(_ context.Context) (string, error) {
		calls++
		if calls == 1 {
			return "", types.NewError(types.KindRetriable, types.ErrCodeProviderThrottled, "throttled", nil).
				WithRetryAfter(time.Millisecond)
		}
		return "ok", nil
	})
	if len(*sleeps) != 1 {
		t.Fatalf("slept %d times, want 1", len(*sleeps))
	}
	if s := (*sleeps)[0]; s < 50*time.Millisecond || s >= 100*time.Millisecond {
		t.Errorf("sleep %v outside jittered schedule [50ms, 100ms)", s)
	}
}

func TestRun_ContextCancelledDuringWait(t *testing.T) {
	core, _, _ := newTestCore([]time.Duration{10 * time.Millisecond}, 5, time.Minute)
	core.sleep = func(_ context.Context, _ time.Duration) error {
		return context.Canceled
	}

	_, _, err := core.run(context.Background(), func(_ context.Context) (string, error) {
		return "", types.NewError(types.KindRetriable, types.ErrCodeProviderUnavailable, "upstream 503", nil)
	})
	nerr := asNotificationError(t, err)
	if nerr.Code != types.ErrCodeDispatchInterrupted {
		t.Errorf("code = %q, want %q", nerr.Code, types.ErrCodeDispatchInterrupted)
	}
	if nerr.Kind != types.KindRetriable {
		t.Errorf("kind = %v, want Retriable", nerr.Kind)
	}
	if !errors.Is(err, context.Canceled) {
		t.Error("interrupted error does not wrap the context error")
	}
}

// ---------------------------------------------------------------------------
// Circuit breaker
// ---------------------------------------------------------------------------

func TestRun_BreakerOpensMidLoop(t *testing.T) {
	core, metrics, _ := newTestCore([]time.Duration{time.Millisecond, time.Millisecond, time.Millisecond}, 2, time.Minute)

	_, attempts, err := core.run(context.Background(), func(_ context.Context) (string, error) {
		return "", types.NewError(types.KindRetriable, types.ErrCodeProviderUnavailable, "upstream 503", nil)
	})
	// The second consecutive failure opens the breaker; the third loop
	// iteration is refused without running.
	if attempts != 2 {
		t.Errorf("attempts = %d, want 2", attempts)
	}
	nerr := asNotificationError(t, err)
	if nerr.Code != types.ErrCodeBreakerOpen {
		t.Errorf("code = %q, want %q", nerr.Code, types.ErrCodeBreakerOpen)
	}
	if nerr.RetryAfter != time.Minute {
		t.Errorf("retry-after = %v, want the full cooldown 1m0s", nerr.RetryAfter)
	}
	if metrics.breakerOpens != 1 {
		t.Errorf("breaker open metric = %d, want 1", metrics.breakerOpens)
	}
	if metrics.attempts != 2 {
		t.Errorf("attempt metric = %d, want 2", metrics.attempts)
	}
}

func TestGate_RejectsWhileOpen(t *testing.T) {
	core, metrics, _ := newTestCore(nil, 1, time.Minute)

	// One failure at threshold 1 opens the breaker.
	_, _, _ = core.run(context.Background(), func(_ context.Context) (string, error) {
		return "", types.NewError(types.KindRetriable, types.ErrCodeProviderUnavailable, "upstream 503", nil)
	})

	err := core.gate(context.Background())
	nerr := asNotificationError(t, err)
	if nerr.Kind != types.KindRetriable || nerr.Code != types.ErrCodeBreakerOpen {
		t.Errorf("gate error = %v/%q, want Retriable/%q", nerr.Kind, nerr.Code, types.ErrCodeBreakerOpen)
	}
	if nerr.RetryAfter <= 0 || nerr.RetryAfter > time.Minute {
		t.Errorf("retry-after = %v, want within (0, 1m]", nerr.RetryAfter)
	}
	if got := len(metrics.failures); got != 2 {
		t.Errorf("failure metrics = %d, want 2 (run and gate)", got)
	}
}

func TestGate_AllowsWhileClosed(t *testing.T) {
	core, _, _ := newTestCore(nil, 3, time.Minute)
	if err := core.gate(context.Background()); err != nil {
		t.Fatalf("gate on a closed breaker: %v", err)
	}
}

func TestRun_PermanentFailuresDoNotTripBreaker(t *testing.T) {
	core, metrics, _ := newTestCore(nil, 2, time.Minute)

	for i := 0; i < 5; i++ {
		_, _, err := core.run(context.Background(), func(_ context.Context) (string, error) {
			return "", types.NewError(types.KindPermanent, types.ErrCodeProviderRejected, "rejected", nil)
		})
		if types.KindOf(err) != types.KindPermanent {
			t.Fatalf("run %d: kind = %v, want Permanent", i, types.KindOf(err))
		}
	}
	if metrics.breakerOpens != 0 {
		t.Fatalf("breaker opened after permanent failures")
	}

	// The provider is still reachable.
	id, _, err := core.run(context.Background(), func(_ context.Context) (string, error) {
		return "still-open-for-business", nil
	})
	if err != nil || id != "still-open-for-business" {
		t.Errorf("follow-up send failed: id=%q err=%v", id, err)
	}
}
