package eventbus

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"SiteHealthPlatform/internal/domain"
	apperrors "SiteHealthPlatform/pkg/errors"
	"SiteHealthPlatform/pkg/logger"
)

func newTestBus(bufferSize int) *MemoryBus {
	return NewMemoryBus(logger.NewNop(), nil, bufferSize)
}

func TestMemoryBus_PublishDeliversToSubscriber(t *testing.T) {
	bus := newTestBus(4)
	defer bus.Close()

	sub, err := bus.Subscribe(context.Background(), "org:1")
	require.NoError(t, err)
	defer sub.Close()

	event := domain.NewEvent(domain.EventTypeCheckResult, "org:1", map[string]string{"status": "success"})
	require.NoError(t, bus.Publish(context.Background(), event))

	received := <-sub.Events()
	assert.Equal(t, event.ID, received.ID)
	assert.Equal(t, domain.EventTypeCheckResult, received.Type)
}

func TestMemoryBus_ScopeIsolation(t *testing.T) {
	bus := newTestBus(4)
	defer bus.Close()

	first, err := bus.Subscribe(context.Background(), "org:1")
	require.NoError(t, err)
	defer first.Close()

	second, err := bus.Subscribe(context.Background(), "org:2")
	require.NoError(t, err)
	defer second.Close()

	require.NoError(t, bus.Publish(context.Background(),
		domain.NewEvent(domain.EventTypeCheckResult, "org:1", nil)))

	assert.Len(t, first.Events(), 1)
	assert.Len(t, second.Events(), 0, "event must not cross organization scopes")
}

func TestMemoryBus_FanOutWithinScope(t *testing.T) {
	bus := newTestBus(4)
	defer bus.Close()

	first, err := bus.Subscribe(context.Background(), "org:1")
	require.NoError(t, err)
	defer first.Close()

	second, err := bus.Subscribe(context.Background(), "org:1")
	require.NoError(t, err)
	defer second.Close()

	require.NoError(t, bus.Publish(context.Background(),
		domain.NewEvent(domain.EventTypeIncidentOpened, "org:1", nil)))

	assert.Len(t, first.Events(), 1)
	assert.Len(t, second.Events(), 1)
}

func TestMemoryBus_SlowSubscriberDropsEvents(t *testing.T) {
	bus := newTestBus(2)
	defer bus.Close()

	sub, err := bus.Subscribe(context.Background(), "org:1")
	require.NoError(t, err)
	defer sub.Close()

	// Буфер на два события, третье теряется без блокировки публикации
	for i := 0; i < 3; i++ {
		require.NoError(t, bus.Publish(context.Background(),
			domain.NewEvent(domain.EventTypeCheckResult, "org:1", i)))
	}

	assert.Len(t, sub.Events(), 2)
}

func TestMemoryBus_CloseSubscriptionStopsDelivery(t *testing.T) {
	bus := newTestBus(4)
	defer bus.Close()

	sub, err := bus.Subscribe(context.Background(), "org:1")
	require.NoError(t, err)
	require.NoError(t, sub.Close())
	require.NoError(t, sub.Close(), "double close must be safe")

	require.NoError(t, bus.Publish(context.Background(),
		domain.NewEvent(domain.EventTypeCheckResult, "org:1", nil)))

	_, open := <-sub.Events()
	assert.False(t, open, "channel must be closed after unsubscribe")
}

func TestMemoryBus_CloseRejectsFurtherUse(t *testing.T) {
	bus := newTestBus(4)

	sub, err := bus.Subscribe(context.Background(), "org:1")
	require.NoError(t, err)

	require.NoError(t, bus.Close())
	require.NoError(t, bus.Close(), "double close must be safe")

	_, open := <-sub.Events()
	assert.False(t, open)

	err = bus.Publish(context.Background(), domain.NewEvent(domain.EventTypeCheckResult, "org:1", nil))
	assert.True(t, apperrors.IsCode(err, apperrors.ErrInternal))

	_, err = bus.Subscribe(context.Background(), "org:1")
	assert.True(t, apperrors.IsCode(err, apperrors.ErrInternal))
}

func TestMemoryBus_Validation(t *testing.T) {
	bus := newTestBus(4)
	defer bus.Close()

	err := bus.Publish(context.Background(), nil)
	assert.True(t, apperrors.IsCode(err, apperrors.ErrValidation))

	_, err = bus.Subscribe(context.Background(), "")
	assert.True(t, apperrors.IsCode(err, apperrors.ErrValidation))
}
