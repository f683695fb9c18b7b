package eventbus

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/redis/go-redis/v9"

	"SiteHealthPlatform/internal/domain"
	apperrors "SiteHealthPlatform/pkg/errors"
	"SiteHealthPlatform/pkg/logger"
	"SiteHealthPlatform/pkg/metrics"
)

const redisChannelPrefix = "sitehealth:events:"

// RedisBus шина событий поверх Redis pub/sub
// Используется когда поток событий должен быть виден нескольким процессам
type RedisBus struct {
	client  *redis.Client
	logger  logger.Logger
	metrics *metrics.Metrics

	mu     sync.Mutex
	closed bool
	subs   map[*redisSubscription]struct{}
}

// redisSubscription подписка на канал Redis
type redisSubscription struct {
	bus    *RedisBus
	scope  string
	pubsub *redis.PubSub
	events chan *domain.Event
	cancel context.CancelFunc
	once   sync.Once
}

// Events возвращает канал событий подписки
func (s *redisSubscription) Events() <-chan *domain.Event {
	return s.events
}

// Close отписывает подписчика и закрывает канал
func (s *redisSubscription) Close() error {
	var err error
	s.once.Do(func() {
		s.cancel()
		err = s.pubsub.Close()

		s.bus.mu.Lock()
		delete(s.bus.subs, s)
		s.bus.mu.Unlock()

		if s.bus.metrics != nil {
			s.bus.metrics.BusSubscribers.WithLabelValues(s.scope).Dec()
		}
	})
	return err
}

// NewRedisBus создает шину событий поверх Redis
func NewRedisBus(client *redis.Client, log logger.Logger, m *metrics.Metrics) *RedisBus {
	return &RedisBus{
		client:  client,
		logger:  log,
		metrics: m,
		subs:    make(map[*redisSubscription]struct{}),
	}
}

// Publish публикует событие в канал области видимости
func (b *RedisBus) Publish(ctx context.Context, event *domain.Event) error {
	if event == nil {
		return apperrors.New(apperrors.ErrValidation, "event must not be nil")
	}

	payload, err := json.Marshal(event)
	if err != nil {
		return apperrors.Wrap(err, apperrors.ErrInternal, "failed to marshal event")
	}

	if err := b.client.Publish(ctx, redisChannelPrefix+event.Scope, payload).Err(); err != nil {
		return apperrors.Wrap(err, apperrors.ErrInternal, "failed to publish event")
	}

	if b.metrics != nil {
		b.metrics.BusPublished.WithLabelValues(string(event.Type)).Inc()
	}

	return nil
}

// Subscribe создает подписку на область видимости
func (b *RedisBus) Subscribe(ctx context.Context, scope string) (Subscription, error) {
	if scope == "" {
		return nil, apperrors.New(apperrors.ErrValidation, "scope must not be empty")
	}

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil, apperrors.New(apperrors.ErrInternal, "event bus is closed")
	}
	b.mu.Unlock()

	pubsub := b.client.Subscribe(ctx, redisChannelPrefix+scope)

	// Дожидаемся подтверждения подписки
	if _, err := pubsub.Receive(ctx); err != nil {
		pubsub.Close()
		return nil, apperrors.Wrap(err, apperrors.ErrInternal, "failed to subscribe")
	}

	subCtx, cancel := context.WithCancel(context.Background())
	sub := &redisSubscription{
		bus:    b,
		scope:  scope,
		pubsub: pubsub,
		events: make(chan *domain.Event, DefaultBufferSize),
		cancel: cancel,
	}

	b.mu.Lock()
	b.subs[sub] = struct{}{}
	b.mu.Unlock()

	if b.metrics != nil {
		b.metrics.BusSubscribers.WithLabelValues(scope).Inc()
	}

	go b.pump(subCtx, sub)

	return sub, nil
}

// pump перекладывает сообщения Redis в канал подписки
func (b *RedisBus) pump(ctx context.Context, sub *redisSubscription) {
	defer close(sub.events)

	ch := sub.pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}

			var event domain.Event
			if err := json.Unmarshal([]byte(msg.Payload), &event); err != nil {
				b.logger.Warn("failed to decode event payload",
					logger.String("scope", sub.scope),
					logger.Error(err))
				continue
			}

			select {
			case sub.events <- &event:
			default:
				if b.metrics != nil {
					b.metrics.BusDroppedEvents.WithLabelValues(string(event.Type)).Inc()
				}
				b.logger.Warn("event dropped for slow subscriber",
					logger.String("scope", sub.scope),
					logger.String("event_type", string(event.Type)))
			}
		}
	}
}

// Close закрывает шину и все подписки
func (b *RedisBus) Close() error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true

	subs := make([]*redisSubscription, 0, len(b.subs))
	for sub := range b.subs {
		subs = append(subs, sub)
	}
	b.mu.Unlock()

	for _, sub := range subs {
		sub.Close()
	}

	return nil
}
