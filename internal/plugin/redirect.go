package plugin

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"SiteHealthPlatform/internal/domain"
	"SiteHealthPlatform/pkg/logger"
	"SiteHealthPlatform/pkg/validation"
)

const defaultMaxRedirects = 10

// RedirectCheck следует по цепочке редиректов и проверяет конечную цель
type RedirectCheck struct {
	client *http.Client
	logger logger.Logger
}

// NewRedirectCheck создает redirect плагин
func NewRedirectCheck(log logger.Logger) *RedirectCheck {
	return &RedirectCheck{
		// Редиректы обрабатываются вручную, чтобы видеть каждый шаг цепочки
		client: &http.Client{
			CheckRedirect: func(req *http.Request, via []*http.Request) error {
				return http.ErrUseLastResponse
			},
		},
		logger: log,
	}
}

// Type возвращает тип проверки
func (r *RedirectCheck) Type() string { return "redirect" }

// DisplayName возвращает название проверки
func (r *RedirectCheck) DisplayName() string { return "Redirect Chain Check" }

// Description возвращает описание проверки
func (r *RedirectCheck) Description() string {
	return "Follows HTTP redirect chains, verifies the final destination and detects redirect loops"
}

// ConfigSchema возвращает описание полей конфигурации
func (r *RedirectCheck) ConfigSchema() []ConfigField {
	return []ConfigField{
		{Name: "expected_final_url", Type: "string", Description: "Expected final destination after all redirects"},
		{Name: "max_redirects", Type: "integer", Default: defaultMaxRedirects, Description: "Maximum number of redirects to follow"},
		{Name: "require_https", Type: "boolean", Default: false, Description: "Require the final destination to use HTTPS"},
		{Name: "warn_on_redirect_count", Type: "integer", Default: 3, Description: "Number of redirects that triggers a warning"},
	}
}

// ValidateConfig валидирует цель и конфигурацию
func (r *RedirectCheck) ValidateConfig(target string, config domain.CheckConfig) error {
	if err := validation.ValidateURL(target); err != nil {
		return err
	}

	if expected, ok := config.GetString("expected_final_url"); ok && expected != "" {
		if err := validation.ValidateURL(expected); err != nil {
			return fmt.Errorf("invalid expected_final_url: %w", err)
		}
	}

	if v, ok := config.GetInt("max_redirects"); ok && (v < 1 || v > 20) {
		return fmt.Errorf("max_redirects must be between 1 and 20")
	}

	return nil
}

// Execute выполняет проверку цепочки редиректов
func (r *RedirectCheck) Execute(ctx context.Context, target string, config domain.CheckConfig) (*Outcome, error) {
	maxRedirects := defaultMaxRedirects
	if v, ok := config.GetInt("max_redirects"); ok && v > 0 {
		maxRedirects = v
	}

	warnCount := 3
	if v, ok := config.GetInt("warn_on_redirect_count"); ok && v > 0 {
		warnCount = v
	}

	start := time.Now()

	chain := make([]domain.CheckConfig, 0, maxRedirects+1)
	visited := make(map[string]bool, maxRedirects+1)
	currentURL := target

	var finalStatus int
	finished := false

	for hop := 0; hop <= maxRedirects; hop++ {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, currentURL, nil)
		if err != nil {
			return nil, fmt.Errorf("failed to build request: %w", err)
		}

		resp, err := r.client.Do(req)
		if err != nil {
			r.logger.Debug("redirect check request failed",
				logger.String("url", currentURL),
				logger.Error(err))
			return FailureOutcome(err.Error()).
				WithDetail("failed_at", currentURL).
				WithDetail("redirect_chain", chain), nil
		}
		resp.Body.Close()

		visited[currentURL] = true
		chain = append(chain, domain.CheckConfig{
			"url":         currentURL,
			"status_code": resp.StatusCode,
			"location":    resp.Header.Get("Location"),
		})

		if !isRedirectStatus(resp.StatusCode) {
			finalStatus = resp.StatusCode
			finished = true
			break
		}

		location := resp.Header.Get("Location")
		if location == "" {
			return FailureOutcome(fmt.Sprintf("redirect response (%d) missing Location header", resp.StatusCode)).
				WithDetail("failed_at", currentURL).
				WithDetail("redirect_chain", chain), nil
		}

		next, err := resp.Request.URL.Parse(location)
		if err != nil {
			return FailureOutcome(fmt.Sprintf("invalid Location header %q: %v", location, err)).
				WithDetail("failed_at", currentURL).
				WithDetail("redirect_chain", chain), nil
		}

		if visited[next.String()] {
			return FailureOutcome(fmt.Sprintf("redirect loop detected: %s", next)).
				WithDetail("loop_url", next.String()).
				WithDetail("redirect_chain", chain), nil
		}

		currentURL = next.String()
	}

	elapsed := time.Since(start)

	if !finished {
		return FailureOutcome(fmt.Sprintf("exceeded maximum redirects (%d)", maxRedirects)).
			WithDetail("max_redirects", maxRedirects).
			WithDetail("redirect_chain", chain), nil
	}

	redirectCount := len(chain) - 1

	details := func(o *Outcome) *Outcome {
		return o.
			WithDetail("original_url", target).
			WithDetail("final_url", currentURL).
			WithDetail("final_status_code", finalStatus).
			WithDetail("redirect_count", redirectCount).
			WithDetail("redirect_chain", chain).
			WithDetail("elapsed_ms", elapsed.Milliseconds())
	}

	if expected, ok := config.GetString("expected_final_url"); ok && expected != "" {
		if !strings.EqualFold(strings.TrimRight(expected, "/"), strings.TrimRight(currentURL, "/")) {
			return details(FailureOutcome(fmt.Sprintf("final URL %q does not match expected %q", currentURL, expected))), nil
		}
	}

	if requireHTTPS, ok := config.GetBool("require_https"); ok && requireHTTPS {
		if !strings.HasPrefix(strings.ToLower(currentURL), "https://") {
			return details(FailureOutcome(fmt.Sprintf("final URL does not use HTTPS: %s", currentURL))), nil
		}
	}

	if finalStatus >= 400 {
		return details(FailureOutcome(fmt.Sprintf("final destination returned error status: %d", finalStatus))), nil
	}

	if redirectCount >= warnCount {
		return details(WarningOutcome(fmt.Sprintf("high number of redirects: %d", redirectCount))), nil
	}

	return details(SuccessOutcome(fmt.Sprintf("%d redirects, final HTTP %d in %dms", redirectCount, finalStatus, elapsed.Milliseconds()))), nil
}

// isRedirectStatus сообщает, является ли статус редиректом с Location
func isRedirectStatus(status int) bool {
	switch status {
	case http.StatusMovedPermanently, http.StatusFound, http.StatusSeeOther,
		http.StatusTemporaryRedirect, http.StatusPermanentRedirect:
		return true
	}
	return false
}
