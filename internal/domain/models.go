package domain

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// ResultStatus представляет исход выполнения проверки
type ResultStatus string

const (
	ResultStatusSuccess ResultStatus = "success"
	ResultStatusFailure ResultStatus = "failure"
	ResultStatusWarning ResultStatus = "warning"
)

// IncidentStatus представляет статус инцидента
type IncidentStatus string

const (
	IncidentStatusOpen         IncidentStatus = "open"
	IncidentStatusAcknowledged IncidentStatus = "acknowledged"
	IncidentStatusResolved     IncidentStatus = "resolved"
)

// EventType представляет тип события платформы
type EventType string

const (
	EventTypeCheckResult      EventType = "check_result"
	EventTypeIncidentOpened   EventType = "incident_opened"
	EventTypeIncidentResolved EventType = "incident_resolved"
	EventTypeNotificationSent EventType = "notification_sent"
)

const (
	// MinIntervalSeconds минимальный интервал между проверками
	MinIntervalSeconds = 30
	// MaxIntervalSeconds максимальный интервал между проверками
	MaxIntervalSeconds = 86400
	// DefaultFailureThreshold порог последовательных сбоев для открытия инцидента
	DefaultFailureThreshold = 3
)

// CheckConfig представляет конфигурацию специфичную для типа проверки
type CheckConfig map[string]interface{}

// Value реализует driver.Valuer для CheckConfig
func (c CheckConfig) Value() (driver.Value, error) {
	if c == nil {
		return json.Marshal(CheckConfig{})
	}
	return json.Marshal(c)
}

// Scan реализует sql.Scanner для CheckConfig
func (c *CheckConfig) Scan(value interface{}) error {
	if value == nil {
		*c = make(CheckConfig)
		return nil
	}

	switch v := value.(type) {
	case []byte:
		return json.Unmarshal(v, c)
	case string:
		return json.Unmarshal([]byte(v), c)
	default:
		return fmt.Errorf("cannot scan %T into CheckConfig", value)
	}
}

// GetString возвращает строковое значение по ключу
func (c CheckConfig) GetString(key string) (string, bool) {
	raw, ok := c[key]
	if !ok {
		return "", false
	}
	s, ok := raw.(string)
	return s, ok
}

// GetInt возвращает целочисленное значение по ключу
// JSON числа декодируются как float64, значение приводится к int
func (c CheckConfig) GetInt(key string) (int, bool) {
	raw, ok := c[key]
	if !ok {
		return 0, false
	}

	switch v := raw.(type) {
	case int:
		return v, true
	case int64:
		return int(v), true
	case float64:
		return int(v), true
	default:
		return 0, false
	}
}

// GetBool возвращает булево значение по ключу
func (c CheckConfig) GetBool(key string) (bool, bool) {
	raw, ok := c[key]
	if !ok {
		return false, false
	}
	b, ok := raw.(bool)
	return b, ok
}

// CheckConfiguration представляет настроенную пользователем проверку
type CheckConfiguration struct {
	ID               string      `json:"id" db:"id"`
	OrganizationID   string      `json:"organization_id" db:"organization_id"`
	WebsiteID        string      `json:"website_id" db:"website_id"`
	Name             string      `json:"name" db:"name"`
	Type             string      `json:"type" db:"type"`
	Target           string      `json:"target" db:"target"`
	IntervalSeconds  int         `json:"interval_seconds" db:"interval_seconds"`
	TimeoutSeconds   int         `json:"timeout_seconds" db:"timeout_seconds"`
	FailureThreshold int         `json:"failure_threshold" db:"failure_threshold"`
	Enabled          bool        `json:"enabled" db:"enabled"`
	Config           CheckConfig `json:"config" db:"config"`
	CreatedAt        time.Time   `json:"created_at" db:"created_at"`
	UpdatedAt        time.Time   `json:"updated_at" db:"updated_at"`
	LastRunAt        *time.Time  `json:"last_run_at" db:"last_run_at"`
	NextRunAt        *time.Time  `json:"next_run_at" db:"next_run_at"`
}

// GetIntervalDuration возвращает интервал как time.Duration
func (c *CheckConfiguration) GetIntervalDuration() time.Duration {
	return time.Duration(c.IntervalSeconds) * time.Second
}

// GetTimeoutDuration возвращает таймаут как time.Duration
func (c *CheckConfiguration) GetTimeoutDuration() time.Duration {
	return time.Duration(c.TimeoutSeconds) * time.Second
}

// GetFailureThreshold возвращает порог сбоев с учетом значения по умолчанию
func (c *CheckConfiguration) GetFailureThreshold() int {
	if c.FailureThreshold <= 0 {
		return DefaultFailureThreshold
	}
	return c.FailureThreshold
}

// Scope возвращает область видимости событий по этой проверке
func (c *CheckConfiguration) Scope() string {
	return OrganizationScope(c.OrganizationID)
}

// Validate валидирует данные проверки
func (c *CheckConfiguration) Validate() error {
	if c.ID == "" {
		return fmt.Errorf("configuration id is required")
	}
	if c.OrganizationID == "" {
		return fmt.Errorf("organization id is required")
	}
	if c.Name == "" {
		return fmt.Errorf("configuration name is required")
	}
	if c.Type == "" {
		return fmt.Errorf("check type is required")
	}
	if c.Target == "" {
		return fmt.Errorf("check target is required")
	}

	if c.IntervalSeconds < MinIntervalSeconds || c.IntervalSeconds > MaxIntervalSeconds {
		return fmt.Errorf("interval must be between %d seconds and 24 hours", MinIntervalSeconds)
	}

	if c.TimeoutSeconds < 1 || c.TimeoutSeconds > 300 {
		return fmt.Errorf("timeout must be between 1 second and 5 minutes")
	}

	if c.FailureThreshold < 0 {
		return fmt.Errorf("failure threshold must not be negative")
	}

	return nil
}

// ScheduleEntry представляет запись планировщика для одной проверки
// ExecutionToken увеличивается при каждом захвате, запись с ненулевым
// захваченным токеном не может быть запущена повторно до освобождения
type ScheduleEntry struct {
	ConfigurationID string
	OrganizationID  string
	Interval        time.Duration
	NextRunAt       time.Time
	LastRunAt       time.Time
	ExecutionToken  uint64
	Claimed         bool
	RunRequested    bool
}

// IsDue проверяет, пора ли выполнять проверку
func (e *ScheduleEntry) IsDue(now time.Time) bool {
	if e.Claimed {
		return false
	}
	if e.RunRequested {
		return true
	}
	return !now.Before(e.NextRunAt)
}

// CheckResult представляет результат одного выполнения проверки
type CheckResult struct {
	ID              string       `json:"id" db:"id"`
	ConfigurationID string       `json:"configuration_id" db:"configuration_id"`
	OrganizationID  string       `json:"organization_id" db:"organization_id"`
	Status          ResultStatus `json:"status" db:"status"`
	ResponseTimeMs  int64        `json:"response_time_ms" db:"response_time_ms"`
	Message         string       `json:"message" db:"message"`
	Details         CheckConfig  `json:"details" db:"details"`
	CheckedAt       time.Time    `json:"checked_at" db:"checked_at"`
}

// NewCheckResult создает результат проверки с новым идентификатором
func NewCheckResult(configurationID, organizationID string, status ResultStatus, message string) *CheckResult {
	return &CheckResult{
		ID:              uuid.New().String(),
		ConfigurationID: configurationID,
		OrganizationID:  organizationID,
		Status:          status,
		Message:         message,
		Details:         make(CheckConfig),
		CheckedAt:       time.Now().UTC(),
	}
}

// IsFailure проверяет, является ли результат сбоем
func (r *CheckResult) IsFailure() bool {
	return r.Status == ResultStatusFailure
}

// IsSuccess проверяет, является ли результат успешным
func (r *CheckResult) IsSuccess() bool {
	return r.Status == ResultStatusSuccess
}

// Incident представляет инцидент по проверке
type Incident struct {
	ID              string         `json:"id" db:"id"`
	ConfigurationID string         `json:"configuration_id" db:"configuration_id"`
	OrganizationID  string         `json:"organization_id" db:"organization_id"`
	Status          IncidentStatus `json:"status" db:"status"`
	FailureCount    int            `json:"failure_count" db:"failure_count"`
	Reason          string         `json:"reason" db:"reason"`
	StartedAt       time.Time      `json:"started_at" db:"started_at"`
	AcknowledgedAt  *time.Time     `json:"acknowledged_at" db:"acknowledged_at"`
	AcknowledgedBy  string         `json:"acknowledged_by" db:"acknowledged_by"`
	ResolvedAt      *time.Time     `json:"resolved_at" db:"resolved_at"`
	CreatedAt       time.Time      `json:"created_at" db:"created_at"`
	UpdatedAt       time.Time      `json:"updated_at" db:"updated_at"`
}

// NewIncident создает открытый инцидент
func NewIncident(configurationID, organizationID, reason string, failureCount int) *Incident {
	now := time.Now().UTC()
	return &Incident{
		ID:              uuid.New().String(),
		ConfigurationID: configurationID,
		OrganizationID:  organizationID,
		Status:          IncidentStatusOpen,
		FailureCount:    failureCount,
		Reason:          reason,
		StartedAt:       now,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
}

// IsResolved проверяет, разрешен ли инцидент
func (i *Incident) IsResolved() bool {
	return i.Status == IncidentStatusResolved
}

// IsActive проверяет, активен ли инцидент (открыт или подтвержден)
func (i *Incident) IsActive() bool {
	return i.Status == IncidentStatusOpen || i.Status == IncidentStatusAcknowledged
}

// Event представляет событие платформы для шины событий
type Event struct {
	ID        string      `json:"id"`
	Type      EventType   `json:"type"`
	Scope     string      `json:"scope"`
	Payload   interface{} `json:"payload"`
	CreatedAt time.Time   `json:"created_at"`
}

// NewEvent создает событие с новым идентификатором
func NewEvent(eventType EventType, scope string, payload interface{}) *Event {
	return &Event{
		ID:        uuid.New().String(),
		Type:      eventType,
		Scope:     scope,
		Payload:   payload,
		CreatedAt: time.Now().UTC(),
	}
}

// OrganizationScope возвращает область видимости событий организации
func OrganizationScope(organizationID string) string {
	return fmt.Sprintf("org:%s", organizationID)
}
