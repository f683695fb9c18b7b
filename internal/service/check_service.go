package service

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"SiteHealthPlatform/internal/domain"
	"SiteHealthPlatform/internal/plugin"
	"SiteHealthPlatform/internal/repository"
	"SiteHealthPlatform/internal/scheduler"
	apperrors "SiteHealthPlatform/pkg/errors"
	"SiteHealthPlatform/pkg/logger"
	"SiteHealthPlatform/pkg/ratelimit"
	"SiteHealthPlatform/pkg/validation"
)

// CreateCheckInput данные для создания конфигурации проверки
type CreateCheckInput struct {
	OrganizationID   string             `json:"organization_id"`
	WebsiteID        string             `json:"website_id"`
	Name             string             `json:"name"`
	Type             string             `json:"type"`
	Target           string             `json:"target"`
	IntervalSeconds  int                `json:"interval_seconds"`
	TimeoutSeconds   int                `json:"timeout_seconds"`
	FailureThreshold int                `json:"failure_threshold"`
	Enabled          *bool              `json:"enabled"`
	Config           domain.CheckConfig `json:"config"`
}

// UpdateCheckInput данные для обновления конфигурации проверки
type UpdateCheckInput struct {
	Name             *string             `json:"name"`
	Target           *string             `json:"target"`
	IntervalSeconds  *int                `json:"interval_seconds"`
	TimeoutSeconds   *int                `json:"timeout_seconds"`
	FailureThreshold *int                `json:"failure_threshold"`
	Enabled          *bool               `json:"enabled"`
	Config           *domain.CheckConfig `json:"config"`
}

// CheckService реализует операции над конфигурациями проверок
// Служит фасадом между внешним API, хранилищем и планировщиком
type CheckService struct {
	configs   repository.ConfigurationRepository
	results   repository.ResultRepository
	incidents repository.IncidentRepository
	registry  *plugin.Registry
	scheduler *scheduler.Scheduler
	limiter   ratelimit.RateLimiter
	logger    logger.Logger

	runNowLimit  int
	runNowWindow time.Duration
}

// NewCheckService создает сервис конфигураций проверок
func NewCheckService(
	configs repository.ConfigurationRepository,
	results repository.ResultRepository,
	incidents repository.IncidentRepository,
	registry *plugin.Registry,
	sched *scheduler.Scheduler,
	limiter ratelimit.RateLimiter,
	log logger.Logger,
	runNowPerMinute int,
) *CheckService {
	if runNowPerMinute <= 0 {
		runNowPerMinute = 10
	}
	return &CheckService{
		configs:      configs,
		results:      results,
		incidents:    incidents,
		registry:     registry,
		scheduler:    sched,
		limiter:      limiter,
		logger:       log,
		runNowLimit:  runNowPerMinute,
		runNowWindow: time.Minute,
	}
}

// Create создает конфигурацию проверки и включает ее в расписание
func (s *CheckService) Create(ctx context.Context, input CreateCheckInput) (*domain.CheckConfiguration, error) {
	if input.OrganizationID == "" {
		return nil, apperrors.New(apperrors.ErrValidation, "organization_id is required")
	}
	if input.Name == "" {
		return nil, apperrors.New(apperrors.ErrValidation, "name is required")
	}

	check, err := s.registry.Resolve(input.Type)
	if err != nil {
		return nil, apperrors.New(apperrors.ErrValidation,
			fmt.Sprintf("unknown check type: %s", input.Type))
	}

	if err := validation.ValidateInterval(input.IntervalSeconds); err != nil {
		return nil, err
	}

	config := input.Config
	if config == nil {
		config = make(domain.CheckConfig)
	}

	if err := check.ValidateConfig(input.Target, config); err != nil {
		return nil, apperrors.Wrap(err, apperrors.ErrValidation, "invalid check configuration")
	}

	timeout := input.TimeoutSeconds
	if timeout <= 0 {
		timeout = 10
	}

	enabled := true
	if input.Enabled != nil {
		enabled = *input.Enabled
	}

	now := time.Now().UTC()
	cfg := &domain.CheckConfiguration{
		ID:               uuid.New().String(),
		OrganizationID:   input.OrganizationID,
		WebsiteID:        input.WebsiteID,
		Name:             input.Name,
		Type:             input.Type,
		Target:           input.Target,
		IntervalSeconds:  input.IntervalSeconds,
		TimeoutSeconds:   timeout,
		FailureThreshold: input.FailureThreshold,
		Enabled:          enabled,
		Config:           config,
		CreatedAt:        now,
		UpdatedAt:        now,
	}

	if err := cfg.Validate(); err != nil {
		return nil, apperrors.Wrap(err, apperrors.ErrValidation, "invalid check configuration")
	}

	if err := s.configs.Create(ctx, cfg); err != nil {
		return nil, err
	}

	s.scheduler.Upsert(cfg)

	s.logger.Info("check configuration created",
		logger.String("configuration_id", cfg.ID),
		logger.String("organization_id", cfg.OrganizationID),
		logger.String("type", cfg.Type))

	return cfg, nil
}

// Get возвращает конфигурацию по идентификатору
func (s *CheckService) Get(ctx context.Context, id string) (*domain.CheckConfiguration, error) {
	return s.configs.GetByID(ctx, id)
}

// List возвращает конфигурации организации
func (s *CheckService) List(ctx context.Context, organizationID string) ([]*domain.CheckConfiguration, error) {
	if organizationID == "" {
		return nil, apperrors.New(apperrors.ErrValidation, "organization_id is required")
	}
	return s.configs.ListByOrganization(ctx, organizationID)
}

// Update обновляет конфигурацию и перепланирует проверку
func (s *CheckService) Update(ctx context.Context, id string, input UpdateCheckInput) (*domain.CheckConfiguration, error) {
	cfg, err := s.configs.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}

	if input.Name != nil {
		cfg.Name = *input.Name
	}
	if input.Target != nil {
		cfg.Target = *input.Target
	}
	if input.IntervalSeconds != nil {
		if err := validation.ValidateInterval(*input.IntervalSeconds); err != nil {
			return nil, err
		}
		cfg.IntervalSeconds = *input.IntervalSeconds
	}
	if input.TimeoutSeconds != nil {
		cfg.TimeoutSeconds = *input.TimeoutSeconds
	}
	if input.FailureThreshold != nil {
		cfg.FailureThreshold = *input.FailureThreshold
	}
	if input.Enabled != nil {
		cfg.Enabled = *input.Enabled
	}
	if input.Config != nil {
		cfg.Config = *input.Config
	}

	check, err := s.registry.Resolve(cfg.Type)
	if err != nil {
		return nil, apperrors.New(apperrors.ErrValidation,
			fmt.Sprintf("unknown check type: %s", cfg.Type))
	}
	if err := check.ValidateConfig(cfg.Target, cfg.Config); err != nil {
		return nil, apperrors.Wrap(err, apperrors.ErrValidation, "invalid check configuration")
	}

	cfg.UpdatedAt = time.Now().UTC()
	if err := cfg.Validate(); err != nil {
		return nil, apperrors.Wrap(err, apperrors.ErrValidation, "invalid check configuration")
	}

	if err := s.configs.Update(ctx, cfg); err != nil {
		return nil, err
	}

	s.scheduler.Upsert(cfg)

	s.logger.Info("check configuration updated",
		logger.String("configuration_id", cfg.ID))

	return cfg, nil
}

// Delete удаляет конфигурацию и снимает ее с расписания
func (s *CheckService) Delete(ctx context.Context, id string) error {
	if err := s.configs.Delete(ctx, id); err != nil {
		return err
	}

	s.scheduler.Remove(id)

	s.logger.Info("check configuration deleted",
		logger.String("configuration_id", id))

	return nil
}

// RunNow запрашивает немедленный запуск проверки
// Запросы ограничиваются по частоте в пределах организации
func (s *CheckService) RunNow(ctx context.Context, id string) error {
	cfg, err := s.configs.GetByID(ctx, id)
	if err != nil {
		return err
	}

	if s.limiter != nil {
		key := fmt.Sprintf("run_now:%s", cfg.OrganizationID)
		limited, err := s.limiter.CheckRateLimit(ctx, key, s.runNowLimit, s.runNowWindow)
		if err != nil {
			s.logger.Warn("rate limit check failed, allowing request",
				logger.String("organization_id", cfg.OrganizationID),
				logger.Error(err))
		} else if limited {
			return apperrors.New(apperrors.ErrConflict, "run now rate limit exceeded")
		}
	}

	return s.scheduler.RunNow(id)
}

// ListPlugins возвращает дескрипторы зарегистрированных плагинов
func (s *CheckService) ListPlugins() []plugin.Descriptor {
	return s.registry.List()
}

// ListResults возвращает результаты по фильтру
func (s *CheckService) ListResults(ctx context.Context, filter repository.ResultFilter) ([]*domain.CheckResult, error) {
	return s.results.List(ctx, filter)
}

// LatestResult возвращает последний результат конфигурации
func (s *CheckService) LatestResult(ctx context.Context, configurationID string) (*domain.CheckResult, error) {
	return s.results.GetLatest(ctx, configurationID)
}

// ListIncidents возвращает инциденты организации
func (s *CheckService) ListIncidents(ctx context.Context, organizationID string, limit, offset int) ([]*domain.Incident, error) {
	if organizationID == "" {
		return nil, apperrors.New(apperrors.ErrValidation, "organization_id is required")
	}
	return s.incidents.ListByOrganization(ctx, organizationID, limit, offset)
}

// ListConfigurationIncidents возвращает инциденты конфигурации,
// опционально отфильтрованные по статусу
func (s *CheckService) ListConfigurationIncidents(ctx context.Context, configurationID string, status domain.IncidentStatus, limit, offset int) ([]*domain.Incident, error) {
	if status != "" {
		switch status {
		case domain.IncidentStatusOpen, domain.IncidentStatusAcknowledged, domain.IncidentStatusResolved:
		default:
			return nil, apperrors.New(apperrors.ErrValidation,
				fmt.Sprintf("unknown incident status: %s", status))
		}
	}

	if _, err := s.configs.GetByID(ctx, configurationID); err != nil {
		return nil, err
	}

	return s.incidents.ListByConfiguration(ctx, configurationID, status, limit, offset)
}

// AcknowledgeIncident подтверждает открытый инцидент
// Подтверждение не останавливает проверки и не подавляет разрешение
func (s *CheckService) AcknowledgeIncident(ctx context.Context, id, acknowledgedBy string) error {
	if acknowledgedBy == "" {
		return apperrors.New(apperrors.ErrValidation, "acknowledged_by is required")
	}
	return s.incidents.Acknowledge(ctx, id, acknowledgedBy)
}
