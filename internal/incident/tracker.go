package incident

import (
	"context"
	"fmt"
	"sync"

	"SiteHealthPlatform/internal/domain"
	"SiteHealthPlatform/internal/eventbus"
	"SiteHealthPlatform/internal/repository"
	apperrors "SiteHealthPlatform/pkg/errors"
	"SiteHealthPlatform/pkg/logger"
	"SiteHealthPlatform/pkg/metrics"
)

// Notifier отправляет уведомления о переходах инцидентов во внешний канал доставки
type Notifier interface {
	// NotifyFailure отправляет уведомление об открытии инцидента
	NotifyFailure(ctx context.Context, cfg *domain.CheckConfiguration, incident *domain.Incident) error

	// NotifyRecovery отправляет уведомление о восстановлении
	NotifyRecovery(ctx context.Context, cfg *domain.CheckConfiguration, incident *domain.Incident) error
}

// Tracker ведет машину состояний инцидентов по результатам проверок
// Инцидент открывается после порога последовательных сбоев,
// разрешается первым успешным результатом, warning нейтрален
//
// Результаты одной конфигурации обрабатываются строго последовательно,
// это гарантирует планировщик
type Tracker struct {
	incidents repository.IncidentRepository
	results   repository.ResultRepository
	bus       eventbus.Bus
	notifier  Notifier
	logger    logger.Logger
	metrics   *metrics.Metrics

	mu       sync.Mutex
	counters map[string]int
	seeded   map[string]bool
}

// NewTracker создает трекер инцидентов
func NewTracker(
	incidents repository.IncidentRepository,
	results repository.ResultRepository,
	bus eventbus.Bus,
	notifier Notifier,
	log logger.Logger,
	m *metrics.Metrics,
) *Tracker {
	return &Tracker{
		incidents: incidents,
		results:   results,
		bus:       bus,
		notifier:  notifier,
		logger:    log,
		metrics:   m,
		counters:  make(map[string]int),
		seeded:    make(map[string]bool),
	}
}

// ProcessResult применяет результат проверки к машине состояний
// Вызывается после сохранения результата в хранилище
func (t *Tracker) ProcessResult(ctx context.Context, cfg *domain.CheckConfiguration, result *domain.CheckResult) error {
	if cfg == nil || result == nil {
		return apperrors.New(apperrors.ErrValidation, "configuration and result are required")
	}

	// Warning не влияет на серию сбоев и не разрешает инцидент
	if result.Status == domain.ResultStatusWarning {
		return nil
	}

	count, err := t.advanceCounter(ctx, cfg.ID, result.Status)
	if err != nil {
		return err
	}

	switch result.Status {
	case domain.ResultStatusFailure:
		return t.handleFailure(ctx, cfg, result, count)
	case domain.ResultStatusSuccess:
		return t.handleSuccess(ctx, cfg, result)
	default:
		return apperrors.New(apperrors.ErrValidation,
			fmt.Sprintf("unknown result status: %s", result.Status))
	}
}

// advanceCounter продвигает счетчик последовательных сбоев конфигурации
// При первом обращении счетчик восстанавливается из хранилища результатов,
// которое уже содержит текущий результат
func (t *Tracker) advanceCounter(ctx context.Context, configurationID string, status domain.ResultStatus) (int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if !t.seeded[configurationID] {
		count, err := t.results.CountConsecutiveFailures(ctx, configurationID)
		if err != nil {
			return 0, err
		}
		t.counters[configurationID] = count
		t.seeded[configurationID] = true

		t.logger.Debug("failure counter seeded from result store",
			logger.String("configuration_id", configurationID),
			logger.Int("count", count))
		return count, nil
	}

	if status == domain.ResultStatusFailure {
		t.counters[configurationID]++
	} else {
		t.counters[configurationID] = 0
	}

	return t.counters[configurationID], nil
}

// handleFailure открывает инцидент при достижении порога или обновляет счетчик
func (t *Tracker) handleFailure(ctx context.Context, cfg *domain.CheckConfiguration, result *domain.CheckResult, count int) error {
	threshold := cfg.GetFailureThreshold()
	if count < threshold {
		return nil
	}

	existing, err := t.incidents.GetUnresolvedByConfiguration(ctx, cfg.ID)
	if err != nil && !apperrors.IsCode(err, apperrors.ErrNotFound) {
		return err
	}

	if existing != nil {
		return t.incidents.UpdateFailureCount(ctx, existing.ID, count)
	}

	incident := domain.NewIncident(cfg.ID, cfg.OrganizationID, result.Message, count)
	if err := t.incidents.Create(ctx, incident); err != nil {
		return err
	}

	t.logger.Info("incident opened",
		logger.String("incident_id", incident.ID),
		logger.String("configuration_id", cfg.ID),
		logger.Int("failure_count", count))

	if t.metrics != nil {
		t.metrics.IncidentsOpened.Inc()
	}

	t.publish(ctx, domain.EventTypeIncidentOpened, cfg, incident)

	if t.notifier != nil {
		if err := t.notifier.NotifyFailure(ctx, cfg, incident); err != nil {
			t.logger.Error("failed to send failure notification",
				logger.String("incident_id", incident.ID),
				logger.Error(err))
		}
	}

	return nil
}

// handleSuccess разрешает активный инцидент если он есть
func (t *Tracker) handleSuccess(ctx context.Context, cfg *domain.CheckConfiguration, result *domain.CheckResult) error {
	incident, err := t.incidents.GetUnresolvedByConfiguration(ctx, cfg.ID)
	if err != nil {
		if apperrors.IsCode(err, apperrors.ErrNotFound) {
			return nil
		}
		return err
	}

	if err := t.incidents.Resolve(ctx, incident.ID); err != nil {
		// Инцидент уже разрешен конкурентным вызовом, событие не дублируем
		if apperrors.IsCode(err, apperrors.ErrConflict) {
			return nil
		}
		return err
	}

	t.logger.Info("incident resolved",
		logger.String("incident_id", incident.ID),
		logger.String("configuration_id", cfg.ID))

	if t.metrics != nil {
		t.metrics.IncidentsResolved.Inc()
	}

	t.publish(ctx, domain.EventTypeIncidentResolved, cfg, incident)

	if t.notifier != nil {
		if err := t.notifier.NotifyRecovery(ctx, cfg, incident); err != nil {
			t.logger.Error("failed to send recovery notification",
				logger.String("incident_id", incident.ID),
				logger.Error(err))
		}
	}

	return nil
}

// publish отправляет событие инцидента в шину
func (t *Tracker) publish(ctx context.Context, eventType domain.EventType, cfg *domain.CheckConfiguration, incident *domain.Incident) {
	event := domain.NewEvent(eventType, cfg.Scope(), incident)
	if err := t.bus.Publish(ctx, event); err != nil {
		t.logger.Error("failed to publish incident event",
			logger.String("incident_id", incident.ID),
			logger.String("event_type", string(eventType)),
			logger.Error(err))
	}
}
