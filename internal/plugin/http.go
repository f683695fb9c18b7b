package plugin

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"SiteHealthPlatform/internal/domain"
	"SiteHealthPlatform/pkg/logger"
	"SiteHealthPlatform/pkg/validation"
)

const maxResponseBodyBytes = 1 << 20

// HTTPCheck проверяет HTTP статус код цели
type HTTPCheck struct {
	client *http.Client
	logger logger.Logger
}

// NewHTTPCheck создает HTTP плагин
func NewHTTPCheck(log logger.Logger) *HTTPCheck {
	return &HTTPCheck{
		client: &http.Client{},
		logger: log,
	}
}

// Type возвращает тип проверки
func (h *HTTPCheck) Type() string { return "http" }

// DisplayName возвращает название проверки
func (h *HTTPCheck) DisplayName() string { return "HTTP Status Check" }

// Description возвращает описание проверки
func (h *HTTPCheck) Description() string {
	return "Verifies HTTP status code and measures response time"
}

// ConfigSchema возвращает описание полей конфигурации
func (h *HTTPCheck) ConfigSchema() []ConfigField {
	return []ConfigField{
		{Name: "expected_status_code", Type: "integer", Default: 200, Description: "Expected HTTP status code"},
		{Name: "method", Type: "string", Default: "GET", Enum: []string{"GET", "HEAD", "POST"}, Description: "HTTP method to use"},
		{Name: "follow_redirects", Type: "boolean", Default: true, Description: "Follow HTTP redirects"},
		{Name: "warn_threshold_ms", Type: "integer", Default: 0, Description: "Report warning when response time exceeds this threshold"},
	}
}

// ValidateConfig валидирует цель и конфигурацию
func (h *HTTPCheck) ValidateConfig(target string, config domain.CheckConfig) error {
	if err := validation.ValidateURL(target); err != nil {
		return err
	}

	if status, ok := config.GetInt("expected_status_code"); ok {
		if status < 100 || status > 599 {
			return fmt.Errorf("invalid expected_status_code: %d", status)
		}
	}

	if method, ok := config.GetString("method"); ok {
		switch method {
		case "GET", "HEAD", "POST":
		default:
			return fmt.Errorf("unsupported method: %s", method)
		}
	}

	return nil
}

// Execute выполняет HTTP проверку
func (h *HTTPCheck) Execute(ctx context.Context, target string, config domain.CheckConfig) (*Outcome, error) {
	expectedStatus := 200
	if v, ok := config.GetInt("expected_status_code"); ok {
		expectedStatus = v
	}

	method := "GET"
	if v, ok := config.GetString("method"); ok && v != "" {
		method = v
	}

	followRedirects := true
	if v, ok := config.GetBool("follow_redirects"); ok {
		followRedirects = v
	}

	client := h.client
	if !followRedirects {
		client = &http.Client{
			Transport: h.client.Transport,
			CheckRedirect: func(req *http.Request, via []*http.Request) error {
				return http.ErrUseLastResponse
			},
		}
	}

	req, err := http.NewRequestWithContext(ctx, method, target, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build request: %w", err)
	}

	start := time.Now()
	resp, err := client.Do(req)
	elapsed := time.Since(start)

	if err != nil {
		h.logger.Debug("http check request failed",
			logger.String("target", target),
			logger.Error(err))
		return FailureOutcome(err.Error()).
			WithDetail("elapsed_ms", elapsed.Milliseconds()), nil
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(io.LimitReader(resp.Body, maxResponseBodyBytes))

	outcome := SuccessOutcome(fmt.Sprintf("HTTP %d in %dms", resp.StatusCode, elapsed.Milliseconds()))
	if resp.StatusCode != expectedStatus {
		outcome = FailureOutcome(fmt.Sprintf("expected status %d, got %d", expectedStatus, resp.StatusCode))
	} else if threshold, ok := config.GetInt("warn_threshold_ms"); ok && threshold > 0 && elapsed.Milliseconds() > int64(threshold) {
		outcome = WarningOutcome(fmt.Sprintf("response time %dms exceeds threshold %dms", elapsed.Milliseconds(), threshold))
	}

	return outcome.
		WithDetail("status_code", resp.StatusCode).
		WithDetail("expected_status", expectedStatus).
		WithDetail("content_length", len(body)).
		WithDetail("elapsed_ms", elapsed.Milliseconds()), nil
}
