package alert

import (
	"context"
	"encoding/json"
	"time"

	"SiteHealthPlatform/internal/domain"
	apperrors "SiteHealthPlatform/pkg/errors"
	"SiteHealthPlatform/pkg/logger"
	"SiteHealthPlatform/pkg/rabbitmq"
)

// TriggerType тип триггера уведомления
type TriggerType string

const (
	TriggerCheckFailure  TriggerType = "check_failure"
	TriggerCheckRecovery TriggerType = "check_recovery"
)

// Trigger представляет сообщение триггера уведомления
// Доставляется сервису уведомлений через RabbitMQ
type Trigger struct {
	Type              TriggerType `json:"type"`
	IncidentID        string      `json:"incident_id"`
	ConfigurationID   string      `json:"configuration_id"`
	OrganizationID    string      `json:"organization_id"`
	ConfigurationName string      `json:"configuration_name"`
	Target            string      `json:"target"`
	Reason            string      `json:"reason,omitempty"`
	FailureCount      int         `json:"failure_count,omitempty"`
	OccurredAt        time.Time   `json:"occurred_at"`
}

// Publisher определяет зависимость для публикации в очередь
type Publisher interface {
	PublishWithRetry(ctx context.Context, body []byte, maxRetries int, retryInterval time.Duration, options ...rabbitmq.PublishOption) error
}

// RabbitNotifier отправляет триггеры уведомлений в RabbitMQ
type RabbitNotifier struct {
	producer   Publisher
	routingKey string
	logger     logger.Logger
}

// NewRabbitNotifier создает отправитель триггеров
func NewRabbitNotifier(producer Publisher, routingKey string, log logger.Logger) *RabbitNotifier {
	return &RabbitNotifier{
		producer:   producer,
		routingKey: routingKey,
		logger:     log,
	}
}

// NotifyFailure отправляет триггер об открытии инцидента
func (n *RabbitNotifier) NotifyFailure(ctx context.Context, cfg *domain.CheckConfiguration, incident *domain.Incident) error {
	return n.send(ctx, &Trigger{
		Type:              TriggerCheckFailure,
		IncidentID:        incident.ID,
		ConfigurationID:   cfg.ID,
		OrganizationID:    cfg.OrganizationID,
		ConfigurationName: cfg.Name,
		Target:            cfg.Target,
		Reason:            incident.Reason,
		FailureCount:      incident.FailureCount,
		OccurredAt:        incident.StartedAt,
	})
}

// NotifyRecovery отправляет триггер о восстановлении
func (n *RabbitNotifier) NotifyRecovery(ctx context.Context, cfg *domain.CheckConfiguration, incident *domain.Incident) error {
	occurredAt := time.Now().UTC()
	if incident.ResolvedAt != nil {
		occurredAt = *incident.ResolvedAt
	}

	return n.send(ctx, &Trigger{
		Type:              TriggerCheckRecovery,
		IncidentID:        incident.ID,
		ConfigurationID:   cfg.ID,
		OrganizationID:    cfg.OrganizationID,
		ConfigurationName: cfg.Name,
		Target:            cfg.Target,
		OccurredAt:        occurredAt,
	})
}

// send сериализует и публикует триггер
func (n *RabbitNotifier) send(ctx context.Context, trigger *Trigger) error {
	body, err := json.Marshal(trigger)
	if err != nil {
		return apperrors.Wrap(err, apperrors.ErrInternal, "failed to marshal notification trigger")
	}

	if err := n.producer.PublishWithRetry(ctx, body, 3, time.Second, rabbitmq.WithRoutingKey(n.routingKey)); err != nil {
		return apperrors.Wrap(err, apperrors.ErrInternal, "failed to publish notification trigger")
	}

	n.logger.Debug("notification trigger published",
		logger.String("type", string(trigger.Type)),
		logger.String("incident_id", trigger.IncidentID))

	return nil
}
