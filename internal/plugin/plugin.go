package plugin

import (
	"context"

	"SiteHealthPlatform/internal/domain"
)

// Outcome представляет исход выполнения плагина
type Outcome struct {
	Status  domain.ResultStatus
	Message string
	Details domain.CheckConfig
}

// ConfigField описывает одно поле конфигурации плагина
type ConfigField struct {
	Name        string      `json:"name"`
	Type        string      `json:"type"`
	Required    bool        `json:"required"`
	Default     interface{} `json:"default,omitempty"`
	Description string      `json:"description,omitempty"`
	Enum        []string    `json:"enum,omitempty"`
}

// Check определяет интерфейс плагина проверки
type Check interface {
	// Type возвращает уникальный идентификатор типа проверки
	Type() string

	// DisplayName возвращает человекочитаемое название
	DisplayName() string

	// Description возвращает описание проверки
	Description() string

	// ConfigSchema возвращает описание полей конфигурации
	ConfigSchema() []ConfigField

	// ValidateConfig валидирует конфигурацию и цель до сохранения
	ValidateConfig(target string, config domain.CheckConfig) error

	// Execute выполняет проверку
	// Ошибка означает внутренний сбой плагина, а не сбой цели
	Execute(ctx context.Context, target string, config domain.CheckConfig) (*Outcome, error)
}

// Descriptor представляет метаданные плагина для выдачи наружу
type Descriptor struct {
	Type         string        `json:"type"`
	DisplayName  string        `json:"display_name"`
	Description  string        `json:"description"`
	ConfigSchema []ConfigField `json:"config_schema"`
}

// SuccessOutcome создает успешный исход
func SuccessOutcome(message string) *Outcome {
	return &Outcome{
		Status:  domain.ResultStatusSuccess,
		Message: message,
		Details: make(domain.CheckConfig),
	}
}

// FailureOutcome создает исход со сбоем
func FailureOutcome(message string) *Outcome {
	return &Outcome{
		Status:  domain.ResultStatusFailure,
		Message: message,
		Details: make(domain.CheckConfig),
	}
}

// WarningOutcome создает деградированный исход
func WarningOutcome(message string) *Outcome {
	return &Outcome{
		Status:  domain.ResultStatusWarning,
		Message: message,
		Details: make(domain.CheckConfig),
	}
}

// WithDetail добавляет деталь к исходу
func (o *Outcome) WithDetail(key string, value interface{}) *Outcome {
	if o.Details == nil {
		o.Details = make(domain.CheckConfig)
	}
	o.Details[key] = value
	return o
}
