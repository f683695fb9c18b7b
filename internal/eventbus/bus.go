package eventbus

import (
	"context"

	"SiteHealthPlatform/internal/domain"
)

// DefaultBufferSize размер буфера подписчика по умолчанию
const DefaultBufferSize = 64

// Subscription представляет подписку на события одной области видимости
type Subscription interface {
	// Events возвращает канал событий подписки
	Events() <-chan *domain.Event

	// Close отписывает подписчика и закрывает канал
	Close() error
}

// Bus определяет интерфейс шины событий
// Публикация не блокируется медленными подписчиками
type Bus interface {
	// Publish доставляет событие всем подписчикам области видимости события
	Publish(ctx context.Context, event *domain.Event) error

	// Subscribe создает подписку на область видимости
	Subscribe(ctx context.Context, scope string) (Subscription, error)

	// Close закрывает шину и все подписки
	Close() error
}
