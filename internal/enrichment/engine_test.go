package enrichment

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sandboxnotify/internal/telemetry"
	"sandboxnotify/internal/types"
)

const (
	testEmail = "jane.doe@example.gov.uk"
	testUUID  = "0f2a1d7c-9b3e-4a56-8c01-2d4e6f8a0b1c"
)

// ============================================================
// Fakes
// ============================================================

type fakeLeaseStore struct {
	record *types.LeaseRecord
	err    error
	delay  time.Duration
	calls  atomic.Int32
}

func (f *fakeLeaseStore) GetLease(ctx context.Context, _ types.LeaseKey) (*types.LeaseRecord, error) {
	f.calls.Add(1)
	if f.delay > 0 {
		select {
		case <-time.After(f.delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return f.record, f.err
}

type fakeAccountStore struct {
	record *types.AccountRecord
	err    error
	calls  atomic.Int32
}

func (f *fakeAccountStore) GetAccount(_ context.Context, _ string) (*types.AccountRecord, error) {
	f.calls.Add(1)
	return f.record, f.err
}

type fakeProfileStore struct {
	record *types.UserProfile
	err    error
	calls  atomic.Int32
}

func (f *fakeProfileStore) GetProfile(_ context.Context, _ string) (*types.UserProfile, error) {
	f.calls.Add(1)
	return f.record, f.err
}

// recordingLogger captures warn messages for assertions.
type recordingLogger struct {
	mu    sync.Mutex
	warns []string
}

func (l *recordingLogger) Info(_ string, _ ...any)  {}
func (l *recordingLogger) Error(_ string, _ ...any) {}
func (l *recordingLogger) Warn(msg string, args ...any) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.warns = append(l.warns, msg+" "+fmt.Sprint(args...))
}
func (l *recordingLogger) With(_ ...any) types.Logger { return l }

func (l *recordingLogger) warned(substr string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, w := range l.warns {
		if strings.Contains(w, substr) {
			return true
		}
	}
	return false
}

// recordingMetrics counts emissions by metric name; everything it does not
// override is discarded by the embedded Nop.
type recordingMetrics struct {
	telemetry.Nop
	mu     sync.Mutex
	counts map[string]int
}

func newRecordingMetrics() *recordingMetrics {
	return &recordingMetrics{counts: map[string]int{}}
}

func (m *recordingMetrics) bump(name string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.counts[name]++
}

func (m *recordingMetrics) EnrichmentTimeout(_ context.Context, _ types.EventType) {
	m.bump(types.MetricEnrichmentTimeout)
}

func (m *recordingMetrics) EnrichmentSkipped(_ context.Context, _ string) {
	m.bump(types.MetricEnrichmentSkipped)
}

func (m *recordingMetrics) BreakerOpened(_ context.Context, _ string) {
	m.bump(types.MetricBreakerOpen)
}

func (m *recordingMetrics) BudgetDiscrepancy(_ context.Context, _ types.EventType) {
	m.bump(types.MetricBudgetMismatch)
}

func (m *recordingMetrics) count(name string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.counts[name]
}

type fixedClock struct{ t time.Time }

func (c fixedClock) Now() time.Time { return c.t }

// ============================================================
// Helpers
// ============================================================

func approvedEvent(maxSpend *float64) *types.ValidatedEvent {
	return &types.ValidatedEvent{
		ID:      "evt-001",
		Type:    types.EventLeaseApproved,
		Source:  "sandbox.leases",
		Account: "999988887777",
		Time:    time.Date(2026, 7, 14, 9, 30, 0, 0, time.UTC),
		Detail: &types.LeaseApprovedDetail{
			UserEmail:  testEmail,
			UUID:       testUUID,
			AccountID:  "111122223333",
			ApprovedBy: "ops.lead@example.gov.uk",
			MaxSpend:   maxSpend,
		},
	}
}

func allQueries() types.TemplateConfig {
	return types.TemplateConfig{
		EnrichmentQueries: []types.EnrichmentQuery{
			types.QueryLease, types.QueryAccount, types.QueryProfile,
		},
	}
}

func leaseOnly() types.TemplateConfig {
	return types.TemplateConfig{
		EnrichmentQueries: []types.EnrichmentQuery{types.QueryLease},
	}
}

func ptr(v float64) *float64 { return &v }

// ============================================================
// Tests
// ============================================================

func TestEnrichMergesAllSources(t *testing.T) {
	now := time.Date(2026, 7, 14, 9, 31, 0, 0, time.UTC)
	lastModified := now.Add(-time.Minute)
	expires := now.Add(24 * time.Hour)

	leases := &fakeLeaseStore{record: &types.LeaseRecord{
		UserEmail:    testEmail,
		UUID:         testUUID,
		Status:       types.LeaseStatusActive,
		MaxSpend:     ptr(150),
		TemplateName: "innovation-standard",
		LastModified: &lastModified,
		ExpiresAt:    &expires,
	}}
	accounts := &fakeAccountStore{record: &types.AccountRecord{
		AccountID: "111122223333",
		Name:      "sandbox-blue-07",
	}}
	profiles := &fakeProfileStore{record: &types.UserProfile{
		Email:    testEmail,
		Timezone: "America/New_York",
		SSOURL:   "https://sso.example.gov.uk/start",
	}}

	e := NewEngine(leases, accounts, profiles, Options{}, &recordingLogger{}, newRecordingMetrics(), fixedClock{now})

	data := e.Enrich(context.Background(), approvedEvent(ptr(150)), allQueries())

	assert.True(t, data.EnrichedAt.Equal(now))
	require.NotNil(t, data.MaxSpend)
	assert.InDelta(t, 150, *data.MaxSpend, 0.001)
	assert.Equal(t, "innovation-standard", data.TemplateName)
	assert.Equal(t, types.LeaseStatusActive, data.InternalStatus)
	assert.Equal(t, "sandbox-blue-07", data.AccountName)
	assert.Equal(t, "America/New_York", data.UserTimezone)
	assert.Equal(t, "https://sso.example.gov.uk/start", data.SSOURL)
	require.NotNil(t, data.LastModified)
	assert.True(t, data.LastModified.Equal(lastModified))
	require.NotNil(t, data.ExpiresAt)

	assert.EqualValues(t, 1, leases.calls.Load())
	assert.EqualValues(t, 1, accounts.calls.Load())
	assert.EqualValues(t, 1, profiles.calls.Load())
}

func TestEnrichNotFoundIsEmptySuccess(t *testing.T) {
	leases := &fakeLeaseStore{}
	e := NewEngine(leases, &fakeAccountStore{}, &fakeProfileStore{}, Options{},
		&recordingLogger{}, newRecordingMetrics(), fixedClock{time.Now()})

	// Not-found must never trip the breaker, so the store keeps being hit.
	for i := 0; i < 5; i++ {
		data := e.Enrich(context.Background(), approvedEvent(nil), leaseOnly())
		assert.Nil(t, data.MaxSpend)
		assert.Empty(t, data.InternalStatus)
		assert.False(t, data.EnrichedAt.IsZero())
	}
	assert.EqualValues(t, 5, leases.calls.Load())
}

func TestEnrichAbsorbsLookupFailures(t *testing.T) {
	leases := &fakeLeaseStore{err: types.NewError(types.KindRetriable, types.ErrCodeStoreUnavailable, "store unreachable", nil)}
	accounts := &fakeAccountStore{record: &types.AccountRecord{AccountID: "111122223333", Name: "sandbox-blue-07"}}
	logger := &recordingLogger{}

	e := NewEngine(leases, accounts, &fakeProfileStore{}, Options{}, logger, newRecordingMetrics(), fixedClock{time.Now()})

	data := e.Enrich(context.Background(), approvedEvent(nil), allQueries())

	assert.Empty(t, data.InternalStatus)
	assert.Equal(t, "sandbox-blue-07", data.AccountName)
	assert.True(t, logger.warned("enrichment lookup failed"))
}

func TestEnrichTimeoutReturnsPartialData(t *testing.T) {
	leases := &fakeLeaseStore{
		record: &types.LeaseRecord{UserEmail: testEmail, UUID: testUUID, Status: types.LeaseStatusActive},
		delay:  500 * time.Millisecond,
	}
	profiles := &fakeProfileStore{record: &types.UserProfile{Email: testEmail, Timezone: "Europe/London"}}
	metrics := newRecordingMetrics()

	e := NewEngine(leases, &fakeAccountStore{}, profiles, Options{Timeout: 50 * time.Millisecond},
		&recordingLogger{}, metrics, fixedClock{time.Now()})

	start := time.Now()
	data := e.Enrich(context.Background(), approvedEvent(nil), allQueries())
	elapsed := time.Since(start)

	assert.Less(t, elapsed, 400*time.Millisecond, "timeout must cut the slow lookup short")
	assert.Empty(t, data.InternalStatus, "slow lookup must not contribute")
	assert.Equal(t, "Europe/London", data.UserTimezone, "fast lookup must still land")
	assert.EqualValues(t, 1, metrics.count(types.MetricEnrichmentTimeout))
}

func TestBreakerOpensAfterConsecutiveFailures(t *testing.T) {
	leases := &fakeLeaseStore{err: errors.New("dial tcp: connection refused")}
	metrics := newRecordingMetrics()

	e := NewEngine(leases, &fakeAccountStore{}, &fakeProfileStore{},
		Options{BreakerThreshold: 3}, &recordingLogger{}, metrics, fixedClock{time.Now()})

	for i := 0; i < 5; i++ {
		e.Enrich(context.Background(), approvedEvent(nil), leaseOnly())
	}

	// Three failures open the breaker; the remaining calls are skipped
	// without touching the store.
	assert.EqualValues(t, 3, leases.calls.Load())
	assert.EqualValues(t, 1, metrics.count(types.MetricBreakerOpen))
	assert.EqualValues(t, 2, metrics.count(types.MetricEnrichmentSkipped))
}

func TestBreakerRecoversAfterCooldown(t *testing.T) {
	leases := &fakeLeaseStore{err: errors.New("dial tcp: connection refused")}

	e := NewEngine(leases, &fakeAccountStore{}, &fakeProfileStore{},
		Options{BreakerThreshold: 1, BreakerCooldown: 50 * time.Millisecond},
		&recordingLogger{}, newRecordingMetrics(), fixedClock{time.Now()})

	e.Enrich(context.Background(), approvedEvent(nil), leaseOnly())
	require.EqualValues(t, 1, leases.calls.Load())

	// Open: skipped without an attempt.
	e.Enrich(context.Background(), approvedEvent(nil), leaseOnly())
	require.EqualValues(t, 1, leases.calls.Load())

	// After the cooldown the half-open probe goes through and the success
	// closes the breaker again.
	time.Sleep(80 * time.Millisecond)
	leases.err = nil
	leases.record = &types.LeaseRecord{UserEmail: testEmail, UUID: testUUID, Status: types.LeaseStatusActive}

	data := e.Enrich(context.Background(), approvedEvent(nil), leaseOnly())
	assert.EqualValues(t, 2, leases.calls.Load())
	assert.Equal(t, types.LeaseStatusActive, data.InternalStatus)

	e.Enrich(context.Background(), approvedEvent(nil), leaseOnly())
	assert.EqualValues(t, 3, leases.calls.Load())
}

func TestEnrichSkipsQueriesWithoutKeys(t *testing.T) {
	leases := &fakeLeaseStore{}
	accounts := &fakeAccountStore{}
	profiles := &fakeProfileStore{}

	e := NewEngine(leases, accounts, profiles, Options{}, &recordingLogger{}, newRecordingMetrics(), fixedClock{time.Now()})

	ev := &types.ValidatedEvent{
		ID:     "evt-002",
		Type:   types.EventCostReportReady,
		Source: "sandbox.reports",
		Time:   time.Now().UTC(),
		Detail: &types.CostReportDetail{ReportID: "2026-07"},
	}
	data := e.Enrich(context.Background(), ev, allQueries())

	assert.False(t, data.EnrichedAt.IsZero())
	assert.EqualValues(t, 0, leases.calls.Load())
	assert.EqualValues(t, 0, accounts.calls.Load())
	assert.EqualValues(t, 0, profiles.calls.Load())
}

func TestStaleLeaseRecordLogsWarning(t *testing.T) {
	now := time.Date(2026, 7, 14, 9, 30, 0, 0, time.UTC)
	old := now.Add(-10 * time.Minute)
	leases := &fakeLeaseStore{record: &types.LeaseRecord{
		UserEmail:    testEmail,
		UUID:         testUUID,
		Status:       types.LeaseStatusActive,
		LastModified: &old,
	}}
	logger := &recordingLogger{}

	e := NewEngine(leases, &fakeAccountStore{}, &fakeProfileStore{},
		Options{StalenessWindow: 5 * time.Minute}, logger, newRecordingMetrics(), fixedClock{now})

	e.Enrich(context.Background(), approvedEvent(nil), leaseOnly())

	assert.True(t, logger.warned("lease record is stale"))
}

func TestBudgetDiscrepancySurfacesFigureOnRecord(t *testing.T) {
	leases := &fakeLeaseStore{record: &types.LeaseRecord{
		UserEmail: testEmail,
		UUID:      testUUID,
		Status:    types.LeaseStatusActive,
		MaxSpend:  ptr(150),
	}}
	metrics := newRecordingMetrics()

	e := NewEngine(leases, &fakeAccountStore{}, &fakeProfileStore{}, Options{},
		&recordingLogger{}, metrics, fixedClock{time.Now()})

	data := e.Enrich(context.Background(), approvedEvent(ptr(100)), leaseOnly())

	require.NotNil(t, data.CurrentBudgetOnRecord)
	assert.InDelta(t, 150, *data.CurrentBudgetOnRecord, 0.001)
	assert.EqualValues(t, 1, metrics.count(types.MetricBudgetMismatch))
}

func TestBudgetWithinToleranceIsQuiet(t *testing.T) {
	leases := &fakeLeaseStore{record: &types.LeaseRecord{
		UserEmail: testEmail,
		UUID:      testUUID,
		Status:    types.LeaseStatusActive,
		MaxSpend:  ptr(105),
	}}
	metrics := newRecordingMetrics()

	e := NewEngine(leases, &fakeAccountStore{}, &fakeProfileStore{}, Options{},
		&recordingLogger{}, metrics, fixedClock{time.Now()})

	data := e.Enrich(context.Background(), approvedEvent(ptr(100)), leaseOnly())

	assert.Nil(t, data.CurrentBudgetOnRecord)
	assert.EqualValues(t, 0, metrics.count(types.MetricBudgetMismatch))
}
