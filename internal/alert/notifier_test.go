package alert

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"SiteHealthPlatform/internal/domain"
	"SiteHealthPlatform/pkg/logger"
	"SiteHealthPlatform/pkg/rabbitmq"
)

// capturingPublisher запоминает опубликованные сообщения
type capturingPublisher struct {
	bodies     [][]byte
	maxRetries int
}

func (p *capturingPublisher) PublishWithRetry(ctx context.Context, body []byte, maxRetries int, retryInterval time.Duration, options ...rabbitmq.PublishOption) error {
	p.bodies = append(p.bodies, body)
	p.maxRetries = maxRetries
	return nil
}

func notifierConfig() *domain.CheckConfiguration {
	return &domain.CheckConfiguration{
		ID:             "cfg-1",
		OrganizationID: "org-1",
		Name:           "Main page",
		Target:         "https://example.com",
		Type:           "http",
	}
}

func TestRabbitNotifier_NotifyFailure(t *testing.T) {
	publisher := &capturingPublisher{}
	notifier := NewRabbitNotifier(publisher, "notifications.triggers", logger.NewNop())

	incident := domain.NewIncident("cfg-1", "org-1", "connection refused", 3)

	require.NoError(t, notifier.NotifyFailure(context.Background(), notifierConfig(), incident))
	require.Len(t, publisher.bodies, 1)
	assert.Equal(t, 3, publisher.maxRetries)

	var trigger Trigger
	require.NoError(t, json.Unmarshal(publisher.bodies[0], &trigger))

	assert.Equal(t, TriggerCheckFailure, trigger.Type)
	assert.Equal(t, incident.ID, trigger.IncidentID)
	assert.Equal(t, "cfg-1", trigger.ConfigurationID)
	assert.Equal(t, "org-1", trigger.OrganizationID)
	assert.Equal(t, "Main page", trigger.ConfigurationName)
	assert.Equal(t, "https://example.com", trigger.Target)
	assert.Equal(t, "connection refused", trigger.Reason)
	assert.Equal(t, 3, trigger.FailureCount)
	assert.False(t, trigger.OccurredAt.IsZero())
}

func TestRabbitNotifier_NotifyRecovery(t *testing.T) {
	publisher := &capturingPublisher{}
	notifier := NewRabbitNotifier(publisher, "notifications.triggers", logger.NewNop())

	incident := domain.NewIncident("cfg-1", "org-1", "connection refused", 3)
	resolvedAt := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	incident.Status = domain.IncidentStatusResolved
	incident.ResolvedAt = &resolvedAt

	require.NoError(t, notifier.NotifyRecovery(context.Background(), notifierConfig(), incident))
	require.Len(t, publisher.bodies, 1)

	var trigger Trigger
	require.NoError(t, json.Unmarshal(publisher.bodies[0], &trigger))

	assert.Equal(t, TriggerCheckRecovery, trigger.Type)
	assert.Equal(t, incident.ID, trigger.IncidentID)
	assert.True(t, trigger.OccurredAt.Equal(resolvedAt))
	assert.Empty(t, trigger.Reason)
	assert.Zero(t, trigger.FailureCount)
}
