package eventbus

import (
	"context"
	"sync"

	"SiteHealthPlatform/internal/domain"
	apperrors "SiteHealthPlatform/pkg/errors"
	"SiteHealthPlatform/pkg/logger"
	"SiteHealthPlatform/pkg/metrics"
)

// MemoryBus шина событий в памяти процесса
// Подписчики группируются по области видимости, у каждого свой буфер
// Переполненный буфер приводит к потере события для этого подписчика
type MemoryBus struct {
	mu          sync.RWMutex
	subscribers map[string]map[*memorySubscription]struct{}
	bufferSize  int
	closed      bool
	logger      logger.Logger
	metrics     *metrics.Metrics
}

// memorySubscription подписка шины в памяти
type memorySubscription struct {
	bus    *MemoryBus
	scope  string
	events chan *domain.Event
	once   sync.Once
}

// Events возвращает канал событий подписки
func (s *memorySubscription) Events() <-chan *domain.Event {
	return s.events
}

// Close отписывает подписчика и закрывает канал
func (s *memorySubscription) Close() error {
	s.once.Do(func() {
		s.bus.remove(s)
		close(s.events)
	})
	return nil
}

// NewMemoryBus создает шину событий в памяти
func NewMemoryBus(log logger.Logger, m *metrics.Metrics, bufferSize int) *MemoryBus {
	if bufferSize <= 0 {
		bufferSize = DefaultBufferSize
	}
	return &MemoryBus{
		subscribers: make(map[string]map[*memorySubscription]struct{}),
		bufferSize:  bufferSize,
		logger:      log,
		metrics:     m,
	}
}

// Publish доставляет событие всем подписчикам области видимости события
// Доставка неблокирующая, событие теряется для подписчика с полным буфером
func (b *MemoryBus) Publish(ctx context.Context, event *domain.Event) error {
	if event == nil {
		return apperrors.New(apperrors.ErrValidation, "event must not be nil")
	}

	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.closed {
		return apperrors.New(apperrors.ErrInternal, "event bus is closed")
	}

	if b.metrics != nil {
		b.metrics.BusPublished.WithLabelValues(string(event.Type)).Inc()
	}

	for sub := range b.subscribers[event.Scope] {
		select {
		case sub.events <- event:
		default:
			if b.metrics != nil {
				b.metrics.BusDroppedEvents.WithLabelValues(string(event.Type)).Inc()
			}
			b.logger.Warn("event dropped for slow subscriber",
				logger.String("scope", event.Scope),
				logger.String("event_type", string(event.Type)))
		}
	}

	return nil
}

// Subscribe создает подписку на область видимости
func (b *MemoryBus) Subscribe(ctx context.Context, scope string) (Subscription, error) {
	if scope == "" {
		return nil, apperrors.New(apperrors.ErrValidation, "scope must not be empty")
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return nil, apperrors.New(apperrors.ErrInternal, "event bus is closed")
	}

	sub := &memorySubscription{
		bus:    b,
		scope:  scope,
		events: make(chan *domain.Event, b.bufferSize),
	}

	if b.subscribers[scope] == nil {
		b.subscribers[scope] = make(map[*memorySubscription]struct{})
	}
	b.subscribers[scope][sub] = struct{}{}

	if b.metrics != nil {
		b.metrics.BusSubscribers.WithLabelValues(scope).Inc()
	}

	return sub, nil
}

// Close закрывает шину и все подписки
func (b *MemoryBus) Close() error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true

	var all []*memorySubscription
	for _, subs := range b.subscribers {
		for sub := range subs {
			all = append(all, sub)
		}
	}
	b.subscribers = make(map[string]map[*memorySubscription]struct{})
	b.mu.Unlock()

	for _, sub := range all {
		sub.once.Do(func() {
			close(sub.events)
		})
	}

	return nil
}

// remove удаляет подписку из шины
func (b *MemoryBus) remove(sub *memorySubscription) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if subs, ok := b.subscribers[sub.scope]; ok {
		if _, present := subs[sub]; present {
			delete(subs, sub)
			if len(subs) == 0 {
				delete(b.subscribers, sub.scope)
			}
			if b.metrics != nil {
				b.metrics.BusSubscribers.WithLabelValues(sub.scope).Dec()
			}
		}
	}
}
