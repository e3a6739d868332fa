// Package enrichment augments a validated event with best-effort context
// from the lease, account, and profile stores. Enrichment never fails the
// pipeline: every lookup error is absorbed here, and a fully degraded run
// returns an EnrichedData carrying nothing but its timestamp.
package enrichment

import (
	"context"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"sandboxnotify/internal/types"

	"github.com/sony/gobreaker/v2"
)

// Options tune the engine's timeout, breaker, and secondary-check behavior.
// Zero values fall back to the defaults below.
type Options struct {
	// Timeout is the wall-clock budget for one Enrich call. When it fires,
	// in-flight lookups are cancelled and whatever merged so far is returned.
	Timeout time.Duration

	// BreakerThreshold is the consecutive-failure count that opens a
	// per-source breaker; BreakerCooldown is how long it stays open.
	BreakerThreshold uint32
	BreakerCooldown  time.Duration

	// StalenessWindow is how old a lease record's lastModified may be before
	// a warning is logged.
	StalenessWindow time.Duration

	// DiscrepancyFraction is the relative difference between the event's
	// budget figure and the figure on record that triggers the budget
	// discrepancy warning.
	DiscrepancyFraction float64
}

func (o Options) withDefaults() Options {
	if o.Timeout <= 0 {
		o.Timeout = 2 * time.Second
	}
	if o.BreakerThreshold == 0 {
		o.BreakerThreshold = 3
	}
	if o.BreakerCooldown <= 0 {
		o.BreakerCooldown = 60 * time.Second
	}
	if o.StalenessWindow <= 0 {
		o.StalenessWindow = 5 * time.Minute
	}
	if o.DiscrepancyFraction <= 0 {
		o.DiscrepancyFraction = 0.10
	}
	return o
}

// Engine fans out the lookups a template declares, merges the results, and
// runs the staleness and budget discrepancy checks. Breaker state is the
// only mutable state and is shared across invocations in one process.
type Engine struct {
	leases   types.LeaseStore
	accounts types.AccountStore
	profiles types.ProfileStore

	leaseBreaker   *gobreaker.CircuitBreaker[*types.LeaseRecord]
	accountBreaker *gobreaker.CircuitBreaker[*types.AccountRecord]
	profileBreaker *gobreaker.CircuitBreaker[*types.UserProfile]

	opts    Options
	logger  types.Logger
	metrics types.Metrics
	clock   types.Clock
}

// NewEngine builds an Engine with one circuit breaker per enrichment source.
func NewEngine(
	leases types.LeaseStore,
	accounts types.AccountStore,
	profiles types.ProfileStore,
	opts Options,
	logger types.Logger,
	metrics types.Metrics,
	clock types.Clock,
) *Engine {
	opts = opts.withDefaults()
	if clock == nil {
		clock = types.RealClock{}
	}

	return &Engine{
		leases:         leases,
		accounts:       accounts,
		profiles:       profiles,
		leaseBreaker:   newBreaker[*types.LeaseRecord](string(types.QueryLease), opts, logger, metrics),
		accountBreaker: newBreaker[*types.AccountRecord](string(types.QueryAccount), opts, logger, metrics),
		profileBreaker: newBreaker[*types.UserProfile](string(types.QueryProfile), opts, logger, metrics),
		opts:           opts,
		logger:         logger,
		metrics:        metrics,
		clock:          clock,
	}
}

// newBreaker builds a per-source breaker. Not-found lookups return a nil
// record with a nil error and therefore count as successes; only transport
// and timeout errors trip the breaker.
func newBreaker[T any](source string, opts Options, logger types.Logger, metrics types.Metrics) *gobreaker.CircuitBreaker[T] {
	return gobreaker.NewCircuitBreaker[T](gobreaker.Settings{
		Name:        source,
		MaxRequests: 1,
		Timeout:     opts.BreakerCooldown,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= opts.BreakerThreshold
		},
		IsSuccessful: func(err error) bool {
			return err == nil
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("enrichment breaker state change",
				"dependency", name,
				"from", from.String(),
				"to", to.String(),
			)
			if to == gobreaker.StateOpen {
				metrics.BreakerOpened(context.Background(), name)
			}
		},
	})
}

// Enrich runs the lookups declared by the template's enrichment queries and
// returns whatever merged before the timeout. It never returns an error.
func (e *Engine) Enrich(ctx context.Context, ev *types.ValidatedEvent, tpl types.TemplateConfig) types.EnrichedData {
	now := e.clock.Now()
	data := types.EnrichedData{EnrichedAt: now}

	lookups := e.plan(ev, tpl)
	if len(lookups) == 0 {
		return data
	}

	// Skip sources whose breaker is already open; if that leaves nothing,
	// skip enrichment wholesale rather than spinning up the fan-out.
	runnable := lookups[:0]
	for _, lk := range lookups {
		if lk.state() == gobreaker.StateOpen {
			e.logger.Warn("enrichment source skipped, breaker open", "dependency", lk.source)
			e.metrics.EnrichmentSkipped(ctx, lk.source)
			continue
		}
		runnable = append(runnable, lk)
	}
	if len(runnable) == 0 {
		return data
	}

	lookupCtx, cancel := context.WithTimeout(ctx, e.opts.Timeout)
	defer cancel()

	var mu sync.Mutex
	g, gCtx := errgroup.WithContext(lookupCtx)
	for _, lk := range runnable {
		lk := lk
		g.Go(func() error {
			// Lookup failures are absorbed: partial enrichment is expected.
			if err := lk.run(gCtx, &mu, &data); err != nil {
				e.logger.Warn("enrichment lookup failed",
					"dependency", lk.source,
					"eventId", ev.ID,
					"error", err,
				)
			}
			return nil
		})
	}
	// Goroutines absorb their own failures, so Wait never returns an error.
	_ = g.Wait()

	if lookupCtx.Err() == context.DeadlineExceeded && ctx.Err() == nil {
		e.logger.Warn("enrichment timed out, proceeding with partial data",
			"eventId", ev.ID,
			"timeout", e.opts.Timeout,
		)
		e.metrics.EnrichmentTimeout(ctx, ev.Type)
	}

	e.checkStaleness(ev, &data, now)
	e.checkDiscrepancy(ctx, ev, &data)

	return data
}

// lookup binds one enrichment source to the closure that executes it through
// its breaker and merges the result.
type lookup struct {
	source string
	state  func() gobreaker.State
	run    func(ctx context.Context, mu *sync.Mutex, data *types.EnrichedData) error
}

// plan resolves the template's declared queries into runnable lookups,
// dropping any query whose key the event does not carry.
func (e *Engine) plan(ev *types.ValidatedEvent, tpl types.TemplateConfig) []lookup {
	var lookups []lookup
	for _, q := range tpl.EnrichmentQueries {
		switch q {
		case types.QueryLease:
			key, ok := ev.Lease()
			if !ok {
				continue
			}
			lookups = append(lookups, lookup{
				source: string(types.QueryLease),
				state:  e.leaseBreaker.State,
				run: func(ctx context.Context, mu *sync.Mutex, data *types.EnrichedData) error {
					record, err := e.leaseBreaker.Execute(func() (*types.LeaseRecord, error) {
						return e.leases.GetLease(ctx, key)
					})
					if err != nil || record == nil {
						return err
					}
					mu.Lock()
					defer mu.Unlock()
					data.MaxSpend = record.MaxSpend
					data.TemplateName = record.TemplateName
					data.InternalStatus = record.Status
					data.LastModified = record.LastModified
					data.ExpiresAt = record.ExpiresAt
					return nil
				},
			})

		case types.QueryAccount:
			accountID, ok := ev.AccountID()
			if !ok {
				continue
			}
			lookups = append(lookups, lookup{
				source: string(types.QueryAccount),
				state:  e.accountBreaker.State,
				run: func(ctx context.Context, mu *sync.Mutex, data *types.EnrichedData) error {
					record, err := e.accountBreaker.Execute(func() (*types.AccountRecord, error) {
						return e.accounts.GetAccount(ctx, accountID)
					})
					if err != nil || record == nil {
						return err
					}
					mu.Lock()
					defer mu.Unlock()
					data.AccountName = record.Name
					return nil
				},
			})

		case types.QueryProfile:
			key, ok := ev.Lease()
			if !ok {
				continue
			}
			lookups = append(lookups, lookup{
				source: string(types.QueryProfile),
				state:  e.profileBreaker.State,
				run: func(ctx context.Context, mu *sync.Mutex, data *types.EnrichedData) error {
					profile, err := e.profileBreaker.Execute(func() (*types.UserProfile, error) {
						return e.profiles.GetProfile(ctx, key.UserEmail)
					})
					if err != nil || profile == nil {
						return err
					}
					mu.Lock()
					defer mu.Unlock()
					data.UserTimezone = profile.Timezone
					data.SSOURL = profile.SSOURL
					return nil
				},
			})
		}
	}
	return lookups
}
