package handler

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"SiteHealthPlatform/internal/domain"
	"SiteHealthPlatform/internal/repository"
	"SiteHealthPlatform/internal/service"
	"SiteHealthPlatform/internal/stream"
	apperrors "SiteHealthPlatform/pkg/errors"
	"SiteHealthPlatform/pkg/logger"
)

// HTTPHandler обрабатывает HTTP запросы платформы проверок
type HTTPHandler struct {
	service *service.CheckService
	stream  *stream.Handler
	logger  logger.Logger
}

// NewHTTPHandler создает новый HTTP обработчик
func NewHTTPHandler(svc *service.CheckService, sse *stream.Handler, log logger.Logger) *HTTPHandler {
	return &HTTPHandler{
		service: svc,
		stream:  sse,
		logger:  log,
	}
}

// RegisterRoutes регистрирует HTTP маршруты
func (h *HTTPHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("POST /api/v1/checks", h.handleCreateCheck)
	mux.HandleFunc("GET /api/v1/checks", h.handleListChecks)
	mux.HandleFunc("GET /api/v1/checks/{id}", h.handleGetCheck)
	mux.HandleFunc("PATCH /api/v1/checks/{id}", h.handleUpdateCheck)
	mux.HandleFunc("DELETE /api/v1/checks/{id}", h.handleDeleteCheck)
	mux.HandleFunc("POST /api/v1/checks/{id}/run", h.handleRunNow)
	mux.HandleFunc("GET /api/v1/checks/{id}/results", h.handleListResults)
	mux.HandleFunc("GET /api/v1/checks/{id}/results/latest", h.handleLatestResult)
	mux.HandleFunc("GET /api/v1/checks/{id}/incidents", h.handleListConfigurationIncidents)
	mux.HandleFunc("GET /api/v1/incidents", h.handleListIncidents)
	mux.HandleFunc("POST /api/v1/incidents/{id}/acknowledge", h.handleAcknowledgeIncident)
	mux.HandleFunc("GET /api/v1/plugins", h.handleListPlugins)
	mux.Handle("GET /api/v1/stream", h.stream)
}

// handleCreateCheck создает конфигурацию проверки
func (h *HTTPHandler) handleCreateCheck(w http.ResponseWriter, r *http.Request) {
	var input service.CreateCheckInput
	if err := json.NewDecoder(r.Body).Decode(&input); err != nil {
		h.writeError(w, apperrors.New(apperrors.ErrValidation, "invalid request body"))
		return
	}

	cfg, err := h.service.Create(r.Context(), input)
	if err != nil {
		h.writeError(w, err)
		return
	}

	h.writeJSON(w, http.StatusCreated, cfg)
}

// handleListChecks возвращает конфигурации организации
func (h *HTTPHandler) handleListChecks(w http.ResponseWriter, r *http.Request) {
	configs, err := h.service.List(r.Context(), r.URL.Query().Get("organization_id"))
	if err != nil {
		h.writeError(w, err)
		return
	}

	if configs == nil {
		configs = []*domain.CheckConfiguration{}
	}
	h.writeJSON(w, http.StatusOK, configs)
}

// handleGetCheck возвращает конфигурацию по идентификатору
func (h *HTTPHandler) handleGetCheck(w http.ResponseWriter, r *http.Request) {
	cfg, err := h.service.Get(r.Context(), r.PathValue("id"))
	if err != nil {
		h.writeError(w, err)
		return
	}

	h.writeJSON(w, http.StatusOK, cfg)
}

// handleUpdateCheck обновляет конфигурацию
func (h *HTTPHandler) handleUpdateCheck(w http.ResponseWriter, r *http.Request) {
	var input service.UpdateCheckInput
	if err := json.NewDecoder(r.Body).Decode(&input); err != nil {
		h.writeError(w, apperrors.New(apperrors.ErrValidation, "invalid request body"))
		return
	}

	cfg, err := h.service.Update(r.Context(), r.PathValue("id"), input)
	if err != nil {
		h.writeError(w, err)
		return
	}

	h.writeJSON(w, http.StatusOK, cfg)
}

// handleDeleteCheck удаляет конфигурацию
func (h *HTTPHandler) handleDeleteCheck(w http.ResponseWriter, r *http.Request) {
	if err := h.service.Delete(r.Context(), r.PathValue("id")); err != nil {
		h.writeError(w, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// handleRunNow запрашивает немедленный запуск проверки
func (h *HTTPHandler) handleRunNow(w http.ResponseWriter, r *http.Request) {
	if err := h.service.RunNow(r.Context(), r.PathValue("id")); err != nil {
		h.writeError(w, err)
		return
	}

	h.writeJSON(w, http.StatusAccepted, map[string]string{"status": "scheduled"})
}

// handleListResults возвращает результаты проверки
func (h *HTTPHandler) handleListResults(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()

	filter := repository.ResultFilter{
		ConfigurationID: r.PathValue("id"),
		Status:          domain.ResultStatus(query.Get("status")),
		Limit:           queryInt(query.Get("limit"), 100),
		Offset:          queryInt(query.Get("offset"), 0),
	}

	if from := query.Get("from"); from != "" {
		if t, err := time.Parse(time.RFC3339, from); err == nil {
			filter.From = t
		}
	}
	if to := query.Get("to"); to != "" {
		if t, err := time.Parse(time.RFC3339, to); err == nil {
			filter.To = t
		}
	}

	results, err := h.service.ListResults(r.Context(), filter)
	if err != nil {
		h.writeError(w, err)
		return
	}

	if results == nil {
		results = []*domain.CheckResult{}
	}
	h.writeJSON(w, http.StatusOK, results)
}

// handleLatestResult возвращает последний результат проверки
func (h *HTTPHandler) handleLatestResult(w http.ResponseWriter, r *http.Request) {
	result, err := h.service.LatestResult(r.Context(), r.PathValue("id"))
	if err != nil {
		h.writeError(w, err)
		return
	}

	h.writeJSON(w, http.StatusOK, result)
}

// handleListIncidents возвращает инциденты организации
func (h *HTTPHandler) handleListIncidents(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	incidents, err := h.service.ListIncidents(r.Context(),
		query.Get("organization_id"),
		queryInt(query.Get("limit"), 100),
		queryInt(query.Get("offset"), 0),
	)
	if err != nil {
		h.writeError(w, err)
		return
	}

	if incidents == nil {
		incidents = []*domain.Incident{}
	}
	h.writeJSON(w, http.StatusOK, incidents)
}

// handleListConfigurationIncidents возвращает инциденты конфигурации
func (h *HTTPHandler) handleListConfigurationIncidents(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	incidents, err := h.service.ListConfigurationIncidents(r.Context(),
		r.PathValue("id"),
		domain.IncidentStatus(query.Get("status")),
		queryInt(query.Get("limit"), 100),
		queryInt(query.Get("offset"), 0),
	)
	if err != nil {
		h.writeError(w, err)
		return
	}

	if incidents == nil {
		incidents = []*domain.Incident{}
	}
	h.writeJSON(w, http.StatusOK, incidents)
}

// handleAcknowledgeIncident подтверждает инцидент
func (h *HTTPHandler) handleAcknowledgeIncident(w http.ResponseWriter, r *http.Request) {
	var body struct {
		AcknowledgedBy string `json:"acknowledged_by"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		h.writeError(w, apperrors.New(apperrors.ErrValidation, "invalid request body"))
		return
	}

	if err := h.service.AcknowledgeIncident(r.Context(), r.PathValue("id"), body.AcknowledgedBy); err != nil {
		h.writeError(w, err)
		return
	}

	h.writeJSON(w, http.StatusOK, map[string]string{"status": "acknowledged"})
}

// handleListPlugins возвращает дескрипторы плагинов
func (h *HTTPHandler) handleListPlugins(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, http.StatusOK, h.service.ListPlugins())
}

// writeJSON пишет JSON ответ
func (h *HTTPHandler) writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		h.logger.Error("failed to encode response", logger.Error(err))
	}
}

// writeError пишет ошибку с HTTP статусом по коду ошибки
func (h *HTTPHandler) writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	code := apperrors.ErrInternal
	message := "internal server error"

	if appErr, ok := err.(*apperrors.Error); ok {
		status = appErr.HTTPStatus()
		code = appErr.Code
		message = appErr.Message
	} else {
		h.logger.Error("unexpected error", logger.Error(err))
	}

	h.writeJSON(w, status, map[string]interface{}{
		"error": map[string]interface{}{
			"code":    code,
			"message": message,
		},
	})
}

// queryInt парсит числовой query параметр
func queryInt(raw string, fallback int) int {
	if raw == "" {
		return fallback
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return fallback
	}
	return v
}
