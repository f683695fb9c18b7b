package alert

import (
	"context"
	"encoding/json"
	"time"

	"github.com/rabbitmq/amqp091-go"

	"SiteHealthPlatform/internal/domain"
	"SiteHealthPlatform/internal/eventbus"
	"SiteHealthPlatform/pkg/logger"
	"SiteHealthPlatform/pkg/rabbitmq"
)

// DeliveryReport сообщение сервиса уведомлений о доставке
type DeliveryReport struct {
	IncidentID      string    `json:"incident_id"`
	ConfigurationID string    `json:"configuration_id"`
	OrganizationID  string    `json:"organization_id"`
	Channel         string    `json:"channel"`
	Recipient       string    `json:"recipient"`
	DeliveredAt     time.Time `json:"delivered_at"`
}

// DeliveryBridge транслирует отчеты о доставленных уведомлениях
// из очереди RabbitMQ в шину событий как notification_sent
type DeliveryBridge struct {
	consumer *rabbitmq.Consumer
	bus      eventbus.Bus
	queue    string
	logger   logger.Logger
}

// NewDeliveryBridge создает мост доставки уведомлений
func NewDeliveryBridge(consumer *rabbitmq.Consumer, bus eventbus.Bus, queue string, log logger.Logger) *DeliveryBridge {
	return &DeliveryBridge{
		consumer: consumer,
		bus:      bus,
		queue:    queue,
		logger:   log,
	}
}

// Start регистрирует обработчик очереди и запускает потребление
func (b *DeliveryBridge) Start(ctx context.Context) error {
	b.consumer.RegisterHandler(b.queue, b.handle)
	return b.consumer.Start(ctx)
}

// handle обрабатывает одно сообщение о доставке
func (b *DeliveryBridge) handle(ctx context.Context, delivery amqp091.Delivery) error {
	var report DeliveryReport
	if err := json.Unmarshal(delivery.Body, &report); err != nil {
		// Некорректное сообщение, повторная доставка не поможет
		b.logger.Warn("failed to decode delivery report",
			logger.Error(err))
		return nil
	}

	if report.OrganizationID == "" {
		b.logger.Warn("delivery report without organization id",
			logger.String("incident_id", report.IncidentID))
		return nil
	}

	event := domain.NewEvent(domain.EventTypeNotificationSent,
		domain.OrganizationScope(report.OrganizationID), &report)

	if err := b.bus.Publish(ctx, event); err != nil {
		b.logger.Error("failed to publish notification_sent event",
			logger.String("incident_id", report.IncidentID),
			logger.Error(err))
		return err
	}

	b.logger.Debug("notification delivery bridged to event bus",
		logger.String("incident_id", report.IncidentID),
		logger.String("channel", report.Channel))

	return nil
}
