// Package dispatch delivers rendered notifications to their channels. Each
// channel (email, chat) gets a dispatcher that wraps its provider client in
// the same resilience core: a circuit breaker guarding the provider plus a
// fixed retry schedule with full jitter. Classification decides retries; only
// Retriable failures re-enter the loop.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"sandboxnotify/internal/types"

	"github.com/sony/gobreaker/v2"
)

// sleepFunc waits for the given duration or until the context is cancelled,
// in which case it returns the context's error.
type sleepFunc func(ctx context.Context, d time.Duration) error

func defaultSleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// retryCore runs delivery attempts for one channel. The breaker sees one
// outcome per provider attempt; Permanent and Security results count as
// successes because the dependency answered and rejected the request
// semantically. Only Retriable and Critical transport-class failures
// accumulate toward opening.
type retryCore struct {
	channel  types.Channel
	schedule []time.Duration
	cooldown time.Duration

	breaker *gobreaker.CircuitBreaker[string]

	mu       sync.Mutex
	openedAt time.Time

	logger  types.Logger
	metrics types.Metrics
	clock   types.Clock
	sleep   sleepFunc
}

func newRetryCore(
	channel types.Channel,
	schedule []time.Duration,
	threshold uint32,
	cooldown time.Duration,
	logger types.Logger,
	metrics types.Metrics,
	clock types.Clock,
) *retryCore {
	if clock == nil {
		clock = types.RealClock{}
	}
	c := &retryCore{
		channel:  channel,
		schedule: schedule,
		cooldown: cooldown,
		logger:   logger,
		metrics:  metrics,
		clock:    clock,
		sleep:    defaultSleep,
	}
	c.breaker = gobreaker.NewCircuitBreaker[string](gobreaker.Settings{
		Name:        string(channel),
		MaxRequests: 1,
		Timeout:     cooldown,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= threshold
		},
		IsSuccessful: func(err error) bool {
			if err == nil {
				return true
			}
			switch types.KindOf(err) {
			case types.KindPermanent, types.KindSecurity:
				return true
			default:
				return false
			}
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("dispatch breaker state change",
				"channel", name,
				"from", from.String(),
				"to", to.String(),
			)
			if to == gobreaker.StateOpen {
				c.mu.Lock()
				c.openedAt = c.clock.Now()
				c.mu.Unlock()
				metrics.BreakerOpened(context.Background(), name)
			}
		},
	})
	return c
}

// gate rejects immediately while the breaker is open, before any per-dispatch
// work happens. The returned Retriable error suggests retrying after the
// remaining cooldown.
func (c *retryCore) gate(ctx context.Context) error {
	if c.breaker.State() != gobreaker.StateOpen {
		return nil
	}
	err := c.openError()
	c.metrics.DispatchFailed(ctx, c.channel, types.KindRetriable)
	return err
}

func (c *retryCore) openError() error {
	remaining := c.cooldown
	c.mu.Lock()
	if !c.openedAt.IsZero() {
		remaining = c.cooldown - c.clock.Now().Sub(c.openedAt)
	}
	c.mu.Unlock()
	if remaining < 0 {
		remaining = 0
	}
	return types.NewError(types.KindRetriable, types.ErrCodeBreakerOpen,
		fmt.Sprintf("%s delivery suspended while the circuit breaker cools down", c.channel), nil,
	).WithRetryAfter(remaining)
}

// run executes attempt through the breaker, retrying Retriable failures on
// the configured schedule. Total attempts are capped at len(schedule)+1. It
// returns the provider id, the number of attempts actually made, and the
// final error.
func (c *retryCore) run(ctx context.Context, attempt func(ctx context.Context) (string, error)) (string, int, error) {
	start := c.clock.Now()
	attempts := 0

	var lastErr error
	for i := 0; i <= len(c.schedule); i++ {
		id, err := c.breaker.Execute(func() (string, error) {
			attempts++
			c.metrics.DispatchAttempted(ctx, c.channel)
			return attempt(ctx)
		})
		if err == nil {
			c.metrics.DispatchSucceeded(ctx, c.channel)
			c.metrics.DispatchLatency(ctx, c.channel, c.clock.Now().Sub(start))
			return id, attempts, nil
		}

		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			// The breaker opened mid-loop; the attempt never ran.
			lastErr = c.openError()
			break
		}

		lastErr = err
		if !types.IsRetriable(err) {
			break
		}
		if i == len(c.schedule) {
			lastErr = types.NewError(types.KindRetriable, types.ErrCodeRetriesExhausted,
				fmt.Sprintf("%s dispatch failed after %d attempts", c.channel, attempts), err)
			break
		}

		wait := c.backoff(c.schedule[i], err)
		c.logger.Warn("dispatch attempt failed, retrying",
			"channel", c.channel,
			"attempt", attempts,
			"wait", wait.String(),
			"error", err,
		)
		if serr := c.sleep(ctx, wait); serr != nil {
			lastErr = types.NewError(types.KindRetriable, types.ErrCodeDispatchInterrupted,
				fmt.Sprintf("%s dispatch interrupted while waiting to retry", c.channel), serr)
			break
		}
	}

	c.metrics.DispatchFailed(ctx, c.channel, types.KindOf(lastErr))
	c.metrics.DispatchLatency(ctx, c.channel, c.clock.Now().Sub(start))
	return "", attempts, lastErr
}

// backoff computes the wait before the next attempt: half the scheduled
// delay plus a random slice of the other half, so synchronized retries from
// concurrent containers spread out. A provider retry-after hint wins when it
// asks for longer.
func (c *retryCore) backoff(delay time.Duration, lastErr error) time.Duration {
	wait := delay
	if half := delay / 2; half > 0 {
		wait = half + time.Duration(rand.Int63n(int64(half)))
	}
	if ra := types.RetryAfterOf(lastErr); ra > wait {
		wait = ra
	}
	return wait
}
