package repository

import (
	"context"
	"time"

	"SiteHealthPlatform/internal/domain"
)

// ConfigurationRepository определяет доступ к конфигурациям проверок
type ConfigurationRepository interface {
	// Create сохраняет новую конфигурацию
	Create(ctx context.Context, cfg *domain.CheckConfiguration) error

	// GetByID возвращает конфигурацию по идентификатору
	GetByID(ctx context.Context, id string) (*domain.CheckConfiguration, error)

	// Update обновляет конфигурацию
	Update(ctx context.Context, cfg *domain.CheckConfiguration) error

	// Delete удаляет конфигурацию
	Delete(ctx context.Context, id string) error

	// ListByOrganization возвращает конфигурации организации
	ListByOrganization(ctx context.Context, organizationID string) ([]*domain.CheckConfiguration, error)

	// ListEnabled возвращает все включенные конфигурации
	ListEnabled(ctx context.Context) ([]*domain.CheckConfiguration, error)

	// UpdateRunTimes фиксирует времена последнего и следующего запуска
	UpdateRunTimes(ctx context.Context, id string, lastRunAt, nextRunAt time.Time) error
}

// ResultFilter задает фильтр выборки результатов
type ResultFilter struct {
	ConfigurationID string
	OrganizationID  string
	Status          domain.ResultStatus
	From            time.Time
	To              time.Time
	Limit           int
	Offset          int
}

// ResultRepository определяет доступ к результатам проверок
type ResultRepository interface {
	// Save сохраняет результат проверки
	Save(ctx context.Context, result *domain.CheckResult) error

	// GetByID возвращает результат по идентификатору
	GetByID(ctx context.Context, id string) (*domain.CheckResult, error)

	// List возвращает результаты по фильтру, новые первыми
	List(ctx context.Context, filter ResultFilter) ([]*domain.CheckResult, error)

	// GetLatest возвращает последний результат конфигурации
	GetLatest(ctx context.Context, configurationID string) (*domain.CheckResult, error)

	// CountConsecutiveFailures считает непрерывную серию сбоев
	// с конца истории результатов конфигурации
	CountConsecutiveFailures(ctx context.Context, configurationID string) (int, error)

	// DeleteOlderThan удаляет результаты старше отметки времени
	DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error)
}

// IncidentRepository определяет доступ к инцидентам
type IncidentRepository interface {
	// Create сохраняет новый инцидент
	Create(ctx context.Context, incident *domain.Incident) error

	// GetByID возвращает инцидент по идентификатору
	GetByID(ctx context.Context, id string) (*domain.Incident, error)

	// GetUnresolvedByConfiguration возвращает активный инцидент конфигурации
	GetUnresolvedByConfiguration(ctx context.Context, configurationID string) (*domain.Incident, error)

	// ListByOrganization возвращает инциденты организации
	ListByOrganization(ctx context.Context, organizationID string, limit, offset int) ([]*domain.Incident, error)

	// ListByConfiguration возвращает инциденты конфигурации,
	// пустой статус означает любой
	ListByConfiguration(ctx context.Context, configurationID string, status domain.IncidentStatus, limit, offset int) ([]*domain.Incident, error)

	// UpdateFailureCount обновляет счетчик сбоев инцидента
	UpdateFailureCount(ctx context.Context, id string, failureCount int) error

	// Acknowledge переводит инцидент в состояние acknowledged
	Acknowledge(ctx context.Context, id, acknowledgedBy string) error

	// Resolve переводит инцидент в состояние resolved
	Resolve(ctx context.Context, id string) error
}
