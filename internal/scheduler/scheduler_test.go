package scheduler

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"SiteHealthPlatform/internal/domain"
	"SiteHealthPlatform/internal/eventbus"
	"SiteHealthPlatform/internal/executor"
	"SiteHealthPlatform/internal/incident"
	"SiteHealthPlatform/internal/plugin"
	"SiteHealthPlatform/internal/repository"
	apperrors "SiteHealthPlatform/pkg/errors"
	"SiteHealthPlatform/pkg/logger"
)

// schedConfigRepo конфигурации в памяти для тестов планировщика
type schedConfigRepo struct {
	mu       sync.Mutex
	enabled  []*domain.CheckConfiguration
	runTimes map[string]time.Time
}

func newSchedConfigRepo(enabled ...*domain.CheckConfiguration) *schedConfigRepo {
	return &schedConfigRepo{enabled: enabled, runTimes: make(map[string]time.Time)}
}

func (r *schedConfigRepo) Create(ctx context.Context, cfg *domain.CheckConfiguration) error {
	return nil
}

func (r *schedConfigRepo) Update(ctx context.Context, cfg *domain.CheckConfiguration) error {
	return nil
}

func (r *schedConfigRepo) Delete(ctx context.Context, id string) error { return nil }

func (r *schedConfigRepo) GetByID(ctx context.Context, id string) (*domain.CheckConfiguration, error) {
	return nil, apperrors.New(apperrors.ErrNotFound, "configuration not found")
}

func (r *schedConfigRepo) ListByOrganization(ctx context.Context, organizationID string) ([]*domain.CheckConfiguration, error) {
	return nil, nil
}

func (r *schedConfigRepo) ListEnabled(ctx context.Context) ([]*domain.CheckConfiguration, error) {
	return r.enabled, nil
}

func (r *schedConfigRepo) UpdateRunTimes(ctx context.Context, id string, lastRunAt, nextRunAt time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.runTimes[id] = nextRunAt
	return nil
}

// schedResultRepo собирает сохраненные результаты
type schedResultRepo struct {
	mu      sync.Mutex
	results []*domain.CheckResult
}

func (r *schedResultRepo) Save(ctx context.Context, result *domain.CheckResult) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.results = append(r.results, result)
	return nil
}

func (r *schedResultRepo) saved() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.results)
}

func (r *schedResultRepo) GetByID(ctx context.Context, id string) (*domain.CheckResult, error) {
	return nil, apperrors.New(apperrors.ErrNotFound, "result not found")
}

func (r *schedResultRepo) List(ctx context.Context, filter repository.ResultFilter) ([]*domain.CheckResult, error) {
	return nil, nil
}

func (r *schedResultRepo) GetLatest(ctx context.Context, configurationID string) (*domain.CheckResult, error) {
	return nil, apperrors.New(apperrors.ErrNotFound, "result not found")
}

func (r *schedResultRepo) CountConsecutiveFailures(ctx context.Context, configurationID string) (int, error) {
	return 0, nil
}

func (r *schedResultRepo) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	return 0, nil
}

// schedIncidentRepo пустое хранилище инцидентов
type schedIncidentRepo struct{}

func (r *schedIncidentRepo) Create(ctx context.Context, incident *domain.Incident) error { return nil }

func (r *schedIncidentRepo) GetByID(ctx context.Context, id string) (*domain.Incident, error) {
	return nil, apperrors.New(apperrors.ErrNotFound, "incident not found")
}

func (r *schedIncidentRepo) GetUnresolvedByConfiguration(ctx context.Context, configurationID string) (*domain.Incident, error) {
	return nil, apperrors.New(apperrors.ErrNotFound, "incident not found")
}

func (r *schedIncidentRepo) ListByOrganization(ctx context.Context, organizationID string, limit, offset int) ([]*domain.Incident, error) {
	return nil, nil
}

func (r *schedIncidentRepo) ListByConfiguration(ctx context.Context, configurationID string, status domain.IncidentStatus, limit, offset int) ([]*domain.Incident, error) {
	return nil, nil
}

func (r *schedIncidentRepo) UpdateFailureCount(ctx context.Context, id string, failureCount int) error {
	return nil
}

func (r *schedIncidentRepo) Acknowledge(ctx context.Context, id, acknowledgedBy string) error {
	return nil
}

func (r *schedIncidentRepo) Resolve(ctx context.Context, id string) error { return nil }

// blockingCheck плагин, который держит выполнение до сигнала освобождения
type blockingCheck struct {
	started  chan string
	release  chan struct{}
	launched int64
}

func newBlockingCheck() *blockingCheck {
	return &blockingCheck{
		started: make(chan string, 16),
		release: make(chan struct{}),
	}
}

func (c *blockingCheck) Type() string { return "blocking" }

func (c *blockingCheck) DisplayName() string { return "Blocking Check" }

func (c *blockingCheck) Description() string { return "test check" }

func (c *blockingCheck) ConfigSchema() []plugin.ConfigField { return nil }

func (c *blockingCheck) ValidateConfig(target string, config domain.CheckConfig) error {
	return nil
}

func (c *blockingCheck) Execute(ctx context.Context, target string, config domain.CheckConfig) (*plugin.Outcome, error) {
	atomic.AddInt64(&c.launched, 1)
	c.started <- target
	select {
	case <-c.release:
	case <-ctx.Done():
	}
	return plugin.SuccessOutcome("released"), nil
}

type schedFixture struct {
	scheduler *Scheduler
	configs   *schedConfigRepo
	results   *schedResultRepo
	check     *blockingCheck
}

func newSchedFixture(t *testing.T, cfg Config, enabled ...*domain.CheckConfiguration) *schedFixture {
	t.Helper()

	registry := plugin.NewRegistry()
	check := newBlockingCheck()
	require.NoError(t, registry.Register(check))

	configs := newSchedConfigRepo(enabled...)
	results := &schedResultRepo{}
	bus := eventbus.NewMemoryBus(logger.NewNop(), nil, 16)
	exec := executor.NewExecutor(registry, logger.NewNop(), nil, 30*time.Second)
	tracker := incident.NewTracker(&schedIncidentRepo{}, results, bus, nil, logger.NewNop(), nil)

	s := NewScheduler(configs, results, exec, tracker, bus, logger.NewNop(), nil, cfg)

	return &schedFixture{
		scheduler: s,
		configs:   configs,
		results:   results,
		check:     check,
	}
}

func schedConfig(id string, intervalSeconds int) *domain.CheckConfiguration {
	return &domain.CheckConfiguration{
		ID:              id,
		OrganizationID:  "org-1",
		Type:            "blocking",
		Target:          id,
		IntervalSeconds: intervalSeconds,
		TimeoutSeconds:  60,
		Enabled:         true,
	}
}

// waitFor опрашивает условие до истечения таймаута
func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met within timeout")
}

func (f *schedFixture) entryFor(id string) (domain.ScheduleEntry, bool) {
	for _, e := range f.scheduler.Entries() {
		if e.ConfigurationID == id {
			return e, true
		}
	}
	return domain.ScheduleEntry{}, false
}

func TestScheduler_TickRunsDueCheck(t *testing.T) {
	f := newSchedFixture(t, DefaultConfig())
	cfg := schedConfig("cfg-1", 60)

	f.scheduler.Upsert(cfg)
	f.scheduler.tick(context.Background())

	<-f.check.started
	close(f.check.release)

	waitFor(t, 2*time.Second, func() bool { return f.results.saved() == 1 })

	waitFor(t, 2*time.Second, func() bool {
		e, ok := f.entryFor("cfg-1")
		return ok && !e.Claimed && !e.LastRunAt.IsZero()
	})

	e, _ := f.entryFor("cfg-1")
	assert.Equal(t, e.LastRunAt.Add(time.Minute), e.NextRunAt)

	f.configs.mu.Lock()
	_, persisted := f.configs.runTimes["cfg-1"]
	f.configs.mu.Unlock()
	assert.True(t, persisted, "run times must be persisted")
}

func TestScheduler_AtMostOneInFlight(t *testing.T) {
	f := newSchedFixture(t, DefaultConfig())
	cfg := schedConfig("cfg-1", 60)

	f.scheduler.Upsert(cfg)
	f.scheduler.tick(context.Background())
	<-f.check.started

	// Пока захват активен, повторные тики не запускают проверку
	f.scheduler.tick(context.Background())
	f.scheduler.tick(context.Background())

	assert.Equal(t, int64(1), atomic.LoadInt64(&f.check.launched))

	close(f.check.release)
	waitFor(t, 2*time.Second, func() bool {
		e, ok := f.entryFor("cfg-1")
		return ok && !e.Claimed
	})
}

func TestScheduler_RunNowCoalesces(t *testing.T) {
	f := newSchedFixture(t, DefaultConfig())
	cfg := schedConfig("cfg-1", 3600)

	f.scheduler.Upsert(cfg)
	f.scheduler.tick(context.Background())
	<-f.check.started
	close(f.check.release)

	waitFor(t, 2*time.Second, func() bool {
		e, ok := f.entryFor("cfg-1")
		return ok && !e.Claimed
	})

	// Запись не готова, запрос немедленного запуска делает ее готовой
	require.NoError(t, f.scheduler.RunNow("cfg-1"))
	require.NoError(t, f.scheduler.RunNow("cfg-1"), "repeat request must coalesce")

	e, ok := f.entryFor("cfg-1")
	require.True(t, ok)
	assert.True(t, e.RunRequested)

	f.check.release = make(chan struct{})
	f.scheduler.tick(context.Background())
	<-f.check.started
	close(f.check.release)

	waitFor(t, 2*time.Second, func() bool { return f.results.saved() == 2 })
	assert.Equal(t, int64(2), atomic.LoadInt64(&f.check.launched))
}

func TestScheduler_RunNowUnknownConfiguration(t *testing.T) {
	f := newSchedFixture(t, DefaultConfig())

	err := f.scheduler.RunNow("missing")
	assert.True(t, apperrors.IsCode(err, apperrors.ErrNotFound))
}

func TestScheduler_RecoverMakesOverdueDue(t *testing.T) {
	past := time.Now().Add(-time.Hour)
	future := time.Now().Add(time.Hour)

	overdue := schedConfig("overdue", 60)
	overdue.NextRunAt = &past

	upcoming := schedConfig("upcoming", 60)
	upcoming.NextRunAt = &future

	fresh := schedConfig("fresh", 60)

	f := newSchedFixture(t, DefaultConfig(), overdue, upcoming, fresh)
	require.NoError(t, f.scheduler.Start(context.Background()))
	defer func() {
		close(f.check.release)
		f.scheduler.Stop()
	}()

	now := time.Now()

	e, ok := f.entryFor("overdue")
	require.True(t, ok)
	assert.False(t, e.NextRunAt.After(now), "overdue check must become immediately due")

	e, ok = f.entryFor("fresh")
	require.True(t, ok)
	assert.False(t, e.NextRunAt.After(now), "check without next run must become immediately due")

	e, ok = f.entryFor("upcoming")
	require.True(t, ok)
	assert.True(t, e.NextRunAt.After(now), "future next run must be preserved")
}

func TestScheduler_RemoveDuringExecution(t *testing.T) {
	f := newSchedFixture(t, DefaultConfig())
	cfg := schedConfig("cfg-1", 60)

	f.scheduler.Upsert(cfg)
	f.scheduler.tick(context.Background())
	<-f.check.started

	f.scheduler.Remove("cfg-1")
	close(f.check.release)

	// Выполнение завершается, но запись не перепланируется
	waitFor(t, 2*time.Second, func() bool { return f.results.saved() == 1 })

	_, ok := f.entryFor("cfg-1")
	assert.False(t, ok)
}

func TestScheduler_ConcurrencyLimit(t *testing.T) {
	f := newSchedFixture(t, Config{TickInterval: time.Second, MaxConcurrent: 1})

	f.scheduler.Upsert(schedConfig("cfg-1", 60))
	f.scheduler.Upsert(schedConfig("cfg-2", 60))

	f.scheduler.tick(context.Background())
	<-f.check.started

	assert.Equal(t, int64(1), atomic.LoadInt64(&f.check.launched), "second check must wait for a slot")

	close(f.check.release)

	// Освободившийся слот позволяет второй проверке запуститься
	waitFor(t, 2*time.Second, func() bool {
		f.scheduler.tick(context.Background())
		return atomic.LoadInt64(&f.check.launched) == 2
	})

	waitFor(t, 2*time.Second, func() bool { return f.results.saved() == 2 })
}

func TestScheduler_UpsertDisabledRemovesEntry(t *testing.T) {
	f := newSchedFixture(t, DefaultConfig())
	cfg := schedConfig("cfg-1", 60)

	f.scheduler.Upsert(cfg)
	_, ok := f.entryFor("cfg-1")
	require.True(t, ok)

	disabled := *cfg
	disabled.Enabled = false
	f.scheduler.Upsert(&disabled)

	_, ok = f.entryFor("cfg-1")
	assert.False(t, ok)
}

func TestScheduler_UpsertIntervalChangeReschedules(t *testing.T) {
	f := newSchedFixture(t, DefaultConfig())

	base := time.Now()
	current := base
	f.scheduler.now = func() time.Time { return current }

	cfg := schedConfig("cfg-1", 7200)
	f.scheduler.Upsert(cfg)
	f.scheduler.tick(context.Background())
	<-f.check.started
	close(f.check.release)

	waitFor(t, 2*time.Second, func() bool {
		e, ok := f.entryFor("cfg-1")
		return ok && !e.Claimed
	})

	// Час спустя интервал укорачивается, следующий запуск назначается
	// от текущего момента, запись не становится немедленно готовой
	current = base.Add(time.Hour)
	updated := *cfg
	updated.IntervalSeconds = 60
	f.scheduler.Upsert(&updated)

	e, ok := f.entryFor("cfg-1")
	require.True(t, ok)
	assert.Equal(t, time.Minute, e.Interval)
	assert.Equal(t, current.Add(time.Minute), e.NextRunAt)
	assert.False(t, e.IsDue(current), "shortened interval must not make the entry immediately due")
}

func TestScheduler_StopDrainsInFlight(t *testing.T) {
	f := newSchedFixture(t, Config{TickInterval: 10 * time.Millisecond, MaxConcurrent: 1})
	f.scheduler.Upsert(schedConfig("cfg-1", 3600))
	require.NoError(t, f.scheduler.Start(context.Background()))

	<-f.check.started

	stopped := make(chan struct{})
	go func() {
		f.scheduler.Stop()
		close(stopped)
	}()

	// Остановка дожидается запущенную проверку, не прерывая ее
	select {
	case <-stopped:
		t.Fatal("Stop returned before the in-flight check finished")
	case <-time.After(50 * time.Millisecond):
	}

	close(f.check.release)

	select {
	case <-stopped:
	case <-time.After(2 * time.Second):
		t.Fatal("Stop did not return after the check finished")
	}

	require.Equal(t, 1, f.results.saved(), "result of the drained check must be saved")
	f.results.mu.Lock()
	status := f.results.results[0].Status
	f.results.mu.Unlock()
	assert.Equal(t, domain.ResultStatusSuccess, status)
}

func TestScheduler_StartTwice(t *testing.T) {
	f := newSchedFixture(t, DefaultConfig())

	require.NoError(t, f.scheduler.Start(context.Background()))
	defer func() {
		close(f.check.release)
		f.scheduler.Stop()
	}()

	err := f.scheduler.Start(context.Background())
	assert.True(t, apperrors.IsCode(err, apperrors.ErrConflict))
}
