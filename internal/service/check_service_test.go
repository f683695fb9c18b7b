package service

import (
	"context"
	"errors"
	"sync"
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
	"SiteHealthPlatform/internal/scheduler"
	apperrors "SiteHealthPlatform/pkg/errors"
	"SiteHealthPlatform/pkg/logger"
	"SiteHealthPlatform/pkg/ratelimit"
)

// memoryConfigRepo конфигурации в памяти
type memoryConfigRepo struct {
	mu    sync.Mutex
	store map[string]*domain.CheckConfiguration
}

func newMemoryConfigRepo() *memoryConfigRepo {
	return &memoryConfigRepo{store: make(map[string]*domain.CheckConfiguration)}
}

func (r *memoryConfigRepo) Create(ctx context.Context, cfg *domain.CheckConfiguration) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.store[cfg.ID] = cfg
	return nil
}

func (r *memoryConfigRepo) GetByID(ctx context.Context, id string) (*domain.CheckConfiguration, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	cfg, ok := r.store[id]
	if !ok {
		return nil, apperrors.New(apperrors.ErrNotFound, "check configuration not found")
	}
	return cfg, nil
}

func (r *memoryConfigRepo) Update(ctx context.Context, cfg *domain.CheckConfiguration) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.store[cfg.ID]; !ok {
		return apperrors.New(apperrors.ErrNotFound, "check configuration not found")
	}
	r.store[cfg.ID] = cfg
	return nil
}

func (r *memoryConfigRepo) Delete(ctx context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.store[id]; !ok {
		return apperrors.New(apperrors.ErrNotFound, "check configuration not found")
	}
	delete(r.store, id)
	return nil
}

func (r *memoryConfigRepo) ListByOrganization(ctx context.Context, organizationID string) ([]*domain.CheckConfiguration, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*domain.CheckConfiguration
	for _, cfg := range r.store {
		if cfg.OrganizationID == organizationID {
			out = append(out, cfg)
		}
	}
	return out, nil
}

func (r *memoryConfigRepo) ListEnabled(ctx context.Context) ([]*domain.CheckConfiguration, error) {
	return nil, nil
}

func (r *memoryConfigRepo) UpdateRunTimes(ctx context.Context, id string, lastRunAt, nextRunAt time.Time) error {
	return nil
}

// stubResultRepo пустое хранилище результатов
type stubResultRepo struct{}

func (stubResultRepo) Save(ctx context.Context, result *domain.CheckResult) error { return nil }

func (stubResultRepo) GetByID(ctx context.Context, id string) (*domain.CheckResult, error) {
	return nil, apperrors.New(apperrors.ErrNotFound, "result not found")
}

func (stubResultRepo) List(ctx context.Context, filter repository.ResultFilter) ([]*domain.CheckResult, error) {
	return nil, nil
}

func (stubResultRepo) GetLatest(ctx context.Context, configurationID string) (*domain.CheckResult, error) {
	return nil, apperrors.New(apperrors.ErrNotFound, "result not found")
}

func (stubResultRepo) CountConsecutiveFailures(ctx context.Context, configurationID string) (int, error) {
	return 0, nil
}

func (stubResultRepo) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	return 0, nil
}

// stubIncidentRepo пустое хранилище инцидентов
type stubIncidentRepo struct {
	acknowledged map[string]string
}

func (r *stubIncidentRepo) Create(ctx context.Context, incident *domain.Incident) error { return nil }

func (r *stubIncidentRepo) GetByID(ctx context.Context, id string) (*domain.Incident, error) {
	return nil, apperrors.New(apperrors.ErrNotFound, "incident not found")
}

func (r *stubIncidentRepo) GetUnresolvedByConfiguration(ctx context.Context, configurationID string) (*domain.Incident, error) {
	return nil, apperrors.New(apperrors.ErrNotFound, "incident not found")
}

func (r *stubIncidentRepo) ListByOrganization(ctx context.Context, organizationID string, limit, offset int) ([]*domain.Incident, error) {
	return nil, nil
}

func (r *stubIncidentRepo) ListByConfiguration(ctx context.Context, configurationID string, status domain.IncidentStatus, limit, offset int) ([]*domain.Incident, error) {
	return []*domain.Incident{domain.NewIncident(configurationID, "org-1", "connection refused", 3)}, nil
}

func (r *stubIncidentRepo) UpdateFailureCount(ctx context.Context, id string, failureCount int) error {
	return nil
}

func (r *stubIncidentRepo) Acknowledge(ctx context.Context, id, acknowledgedBy string) error {
	if r.acknowledged == nil {
		r.acknowledged = make(map[string]string)
	}
	r.acknowledged[id] = acknowledgedBy
	return nil
}

func (r *stubIncidentRepo) Resolve(ctx context.Context, id string) error { return nil }

// stubCheck плагин с управляемой валидацией конфигурации
type stubCheck struct {
	checkType   string
	validateErr error
}

func (c *stubCheck) Type() string { return c.checkType }

func (c *stubCheck) DisplayName() string { return c.checkType }

func (c *stubCheck) Description() string { return "test check" }

func (c *stubCheck) ConfigSchema() []plugin.ConfigField { return nil }

func (c *stubCheck) ValidateConfig(target string, config domain.CheckConfig) error {
	return c.validateErr
}

func (c *stubCheck) Execute(ctx context.Context, target string, config domain.CheckConfig) (*plugin.Outcome, error) {
	return plugin.SuccessOutcome("ok"), nil
}

// limitedRateLimiter всегда отклоняет запрос
type limitedRateLimiter struct{}

func (limitedRateLimiter) CheckRateLimit(ctx context.Context, key string, limit int, window time.Duration) (bool, error) {
	return true, nil
}

type serviceFixture struct {
	service   *CheckService
	configs   *memoryConfigRepo
	incidents *stubIncidentRepo
	scheduler *scheduler.Scheduler
}

func newServiceFixture(t *testing.T, limiter ratelimit.RateLimiter, checks ...plugin.Check) *serviceFixture {
	t.Helper()

	registry := plugin.NewRegistry()
	for _, c := range checks {
		require.NoError(t, registry.Register(c))
	}

	configs := newMemoryConfigRepo()
	results := stubResultRepo{}
	incidents := &stubIncidentRepo{}
	bus := eventbus.NewMemoryBus(logger.NewNop(), nil, 16)
	exec := executor.NewExecutor(registry, logger.NewNop(), nil, 10*time.Second)
	tracker := incident.NewTracker(incidents, results, bus, nil, logger.NewNop(), nil)
	sched := scheduler.NewScheduler(configs, results, exec, tracker, bus,
		logger.NewNop(), nil, scheduler.DefaultConfig())

	svc := NewCheckService(configs, results, incidents, registry, sched,
		limiter, logger.NewNop(), 10)

	return &serviceFixture{
		service:   svc,
		configs:   configs,
		incidents: incidents,
		scheduler: sched,
	}
}

func createInput() CreateCheckInput {
	return CreateCheckInput{
		OrganizationID:  "org-1",
		WebsiteID:       "site-1",
		Name:            "Main page",
		Type:            "stub",
		Target:          "https://example.com",
		IntervalSeconds: 60,
	}
}

func scheduled(s *scheduler.Scheduler, id string) bool {
	for _, e := range s.Entries() {
		if e.ConfigurationID == id {
			return true
		}
	}
	return false
}

func TestCheckService_Create(t *testing.T) {
	f := newServiceFixture(t, ratelimit.NopRateLimiter{}, &stubCheck{checkType: "stub"})

	cfg, err := f.service.Create(context.Background(), createInput())
	require.NoError(t, err)

	assert.NotEmpty(t, cfg.ID)
	assert.True(t, cfg.Enabled, "checks are enabled by default")
	assert.Equal(t, 10, cfg.TimeoutSeconds, "timeout defaults to 10 seconds")
	assert.True(t, scheduled(f.scheduler, cfg.ID), "created check must be scheduled")

	stored, err := f.configs.GetByID(context.Background(), cfg.ID)
	require.NoError(t, err)
	assert.Equal(t, cfg.ID, stored.ID)
}

func TestCheckService_Create_UnknownType(t *testing.T) {
	f := newServiceFixture(t, ratelimit.NopRateLimiter{})

	input := createInput()
	input.Type = "missing"

	_, err := f.service.Create(context.Background(), input)
	assert.True(t, apperrors.IsCode(err, apperrors.ErrValidation))
}

func TestCheckService_Create_IntervalBounds(t *testing.T) {
	f := newServiceFixture(t, ratelimit.NopRateLimiter{}, &stubCheck{checkType: "stub"})

	input := createInput()
	input.IntervalSeconds = 10
	_, err := f.service.Create(context.Background(), input)
	assert.True(t, apperrors.IsCode(err, apperrors.ErrValidation), "interval below 30s is rejected")

	input.IntervalSeconds = 100000
	_, err = f.service.Create(context.Background(), input)
	assert.True(t, apperrors.IsCode(err, apperrors.ErrValidation), "interval above one day is rejected")

	input.IntervalSeconds = 30
	_, err = f.service.Create(context.Background(), input)
	assert.NoError(t, err)

	input.IntervalSeconds = 86400
	_, err = f.service.Create(context.Background(), input)
	assert.NoError(t, err)
}

func TestCheckService_Create_PluginRejectsConfig(t *testing.T) {
	f := newServiceFixture(t, ratelimit.NopRateLimiter{},
		&stubCheck{checkType: "stub", validateErr: errors.New("keywords_present is required")})

	_, err := f.service.Create(context.Background(), createInput())
	require.Error(t, err)
	assert.True(t, apperrors.IsCode(err, apperrors.ErrValidation))
	assert.Contains(t, err.Error(), "keywords_present")
}

func TestCheckService_Create_MissingRequiredFields(t *testing.T) {
	f := newServiceFixture(t, ratelimit.NopRateLimiter{}, &stubCheck{checkType: "stub"})

	input := createInput()
	input.OrganizationID = ""
	_, err := f.service.Create(context.Background(), input)
	assert.True(t, apperrors.IsCode(err, apperrors.ErrValidation))

	input = createInput()
	input.Name = ""
	_, err = f.service.Create(context.Background(), input)
	assert.True(t, apperrors.IsCode(err, apperrors.ErrValidation))
}

func TestCheckService_Update(t *testing.T) {
	f := newServiceFixture(t, ratelimit.NopRateLimiter{}, &stubCheck{checkType: "stub"})

	cfg, err := f.service.Create(context.Background(), createInput())
	require.NoError(t, err)

	newName := "Renamed"
	newInterval := 120
	updated, err := f.service.Update(context.Background(), cfg.ID, UpdateCheckInput{
		Name:            &newName,
		IntervalSeconds: &newInterval,
	})
	require.NoError(t, err)

	assert.Equal(t, "Renamed", updated.Name)
	assert.Equal(t, 120, updated.IntervalSeconds)
}

func TestCheckService_Update_InvalidInterval(t *testing.T) {
	f := newServiceFixture(t, ratelimit.NopRateLimiter{}, &stubCheck{checkType: "stub"})

	cfg, err := f.service.Create(context.Background(), createInput())
	require.NoError(t, err)

	badInterval := 5
	_, err = f.service.Update(context.Background(), cfg.ID, UpdateCheckInput{
		IntervalSeconds: &badInterval,
	})
	assert.True(t, apperrors.IsCode(err, apperrors.ErrValidation))
}

func TestCheckService_Update_NotFound(t *testing.T) {
	f := newServiceFixture(t, ratelimit.NopRateLimiter{}, &stubCheck{checkType: "stub"})

	_, err := f.service.Update(context.Background(), "missing", UpdateCheckInput{})
	assert.True(t, apperrors.IsCode(err, apperrors.ErrNotFound))
}

func TestCheckService_Update_DisableRemovesFromSchedule(t *testing.T) {
	f := newServiceFixture(t, ratelimit.NopRateLimiter{}, &stubCheck{checkType: "stub"})

	cfg, err := f.service.Create(context.Background(), createInput())
	require.NoError(t, err)
	require.True(t, scheduled(f.scheduler, cfg.ID))

	disabled := false
	_, err = f.service.Update(context.Background(), cfg.ID, UpdateCheckInput{Enabled: &disabled})
	require.NoError(t, err)

	assert.False(t, scheduled(f.scheduler, cfg.ID))
}

func TestCheckService_Delete(t *testing.T) {
	f := newServiceFixture(t, ratelimit.NopRateLimiter{}, &stubCheck{checkType: "stub"})

	cfg, err := f.service.Create(context.Background(), createInput())
	require.NoError(t, err)

	require.NoError(t, f.service.Delete(context.Background(), cfg.ID))

	assert.False(t, scheduled(f.scheduler, cfg.ID))
	_, err = f.configs.GetByID(context.Background(), cfg.ID)
	assert.True(t, apperrors.IsCode(err, apperrors.ErrNotFound))
}

func TestCheckService_RunNow(t *testing.T) {
	f := newServiceFixture(t, ratelimit.NopRateLimiter{}, &stubCheck{checkType: "stub"})

	cfg, err := f.service.Create(context.Background(), createInput())
	require.NoError(t, err)

	assert.NoError(t, f.service.RunNow(context.Background(), cfg.ID))
}

func TestCheckService_RunNow_NotFound(t *testing.T) {
	f := newServiceFixture(t, ratelimit.NopRateLimiter{}, &stubCheck{checkType: "stub"})

	err := f.service.RunNow(context.Background(), "missing")
	assert.True(t, apperrors.IsCode(err, apperrors.ErrNotFound))
}

func TestCheckService_RunNow_RateLimited(t *testing.T) {
	f := newServiceFixture(t, limitedRateLimiter{}, &stubCheck{checkType: "stub"})

	cfg, err := f.service.Create(context.Background(), createInput())
	require.NoError(t, err)

	err = f.service.RunNow(context.Background(), cfg.ID)
	assert.True(t, apperrors.IsCode(err, apperrors.ErrConflict))
}

func TestCheckService_ListPlugins(t *testing.T) {
	f := newServiceFixture(t, ratelimit.NopRateLimiter{},
		&stubCheck{checkType: "stub"}, &stubCheck{checkType: "another"})

	descriptors := f.service.ListPlugins()
	require.Len(t, descriptors, 2)
	assert.Equal(t, "another", descriptors[0].Type)
	assert.Equal(t, "stub", descriptors[1].Type)
}

func TestCheckService_AcknowledgeIncident(t *testing.T) {
	f := newServiceFixture(t, ratelimit.NopRateLimiter{}, &stubCheck{checkType: "stub"})

	err := f.service.AcknowledgeIncident(context.Background(), "inc-1", "")
	assert.True(t, apperrors.IsCode(err, apperrors.ErrValidation))

	require.NoError(t, f.service.AcknowledgeIncident(context.Background(), "inc-1", "operator"))
	assert.Equal(t, "operator", f.incidents.acknowledged["inc-1"])
}

func TestCheckService_ListConfigurationIncidents(t *testing.T) {
	f := newServiceFixture(t, ratelimit.NopRateLimiter{}, &stubCheck{checkType: "stub"})

	cfg, err := f.service.Create(context.Background(), createInput())
	require.NoError(t, err)

	incidents, err := f.service.ListConfigurationIncidents(
		context.Background(), cfg.ID, domain.IncidentStatusOpen, 10, 0)
	require.NoError(t, err)
	require.Len(t, incidents, 1)
	assert.Equal(t, cfg.ID, incidents[0].ConfigurationID)

	_, err = f.service.ListConfigurationIncidents(
		context.Background(), cfg.ID, domain.IncidentStatus("bogus"), 10, 0)
	assert.True(t, apperrors.IsCode(err, apperrors.ErrValidation))

	_, err = f.service.ListConfigurationIncidents(
		context.Background(), "missing", "", 10, 0)
	assert.True(t, apperrors.IsCode(err, apperrors.ErrNotFound))
}

func TestCheckService_ListValidation(t *testing.T) {
	f := newServiceFixture(t, ratelimit.NopRateLimiter{}, &stubCheck{checkType: "stub"})

	_, err := f.service.List(context.Background(), "")
	assert.True(t, apperrors.IsCode(err, apperrors.ErrValidation))

	_, err = f.service.ListIncidents(context.Background(), "", 10, 0)
	assert.True(t, apperrors.IsCode(err, apperrors.ErrValidation))
}
