package stream

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"SiteHealthPlatform/internal/domain"
	"SiteHealthPlatform/internal/eventbus"
	"SiteHealthPlatform/pkg/logger"
)

// keepAliveInterval интервал отправки keep-alive комментариев
const keepAliveInterval = 25 * time.Second

// Handler отдает поток событий организации по Server-Sent Events
type Handler struct {
	bus    eventbus.Bus
	logger logger.Logger
}

// NewHandler создает SSE обработчик
func NewHandler(bus eventbus.Bus, log logger.Logger) *Handler {
	return &Handler{
		bus:    bus,
		logger: log,
	}
}

// ServeHTTP обрабатывает подключение SSE клиента
// Клиент получает приветственное событие connected, затем события
// своей организации до разрыва соединения
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	organizationID := r.URL.Query().Get("organization_id")
	if organizationID == "" {
		http.Error(w, "organization_id is required", http.StatusBadRequest)
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	scope := domain.OrganizationScope(organizationID)
	sub, err := h.bus.Subscribe(r.Context(), scope)
	if err != nil {
		h.logger.Error("failed to subscribe to event bus",
			logger.String("scope", scope),
			logger.Error(err))
		http.Error(w, "failed to subscribe", http.StatusInternalServerError)
		return
	}
	defer sub.Close()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	// Приветственное событие подтверждает установку потока
	writeEvent(w, "connected", map[string]interface{}{
		"scope":        scope,
		"connected_at": time.Now().UTC(),
	})
	flusher.Flush()

	h.logger.Debug("sse client connected",
		logger.String("scope", scope))

	keepAlive := time.NewTicker(keepAliveInterval)
	defer keepAlive.Stop()

	for {
		select {
		case <-r.Context().Done():
			h.logger.Debug("sse client disconnected",
				logger.String("scope", scope))
			return

		case <-keepAlive.C:
			fmt.Fprint(w, ": keep-alive\n\n")
			flusher.Flush()

		case event, ok := <-sub.Events():
			if !ok {
				return
			}
			writeEvent(w, string(event.Type), event)
			flusher.Flush()
		}
	}
}

// writeEvent пишет одно именованное SSE событие
func writeEvent(w http.ResponseWriter, name string, payload interface{}) {
	data, err := json.Marshal(payload)
	if err != nil {
		return
	}
	fmt.Fprintf(w, "event: %s\ndata: %s\n\n", name, data)
}
