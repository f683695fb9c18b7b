package plugin

import (
	"context"
	"fmt"
	"net/http"
	"regexp"
	"strings"
	"time"

	"SiteHealthPlatform/internal/domain"
	"SiteHealthPlatform/pkg/logger"
	"SiteHealthPlatform/pkg/validation"
)

// securityHeaders общепринятые защитные заголовки для режима security_headers_check
var securityHeaders = []string{
	"Strict-Transport-Security",
	"X-Content-Type-Options",
	"X-Frame-Options",
	"X-XSS-Protection",
	"Content-Security-Policy",
	"Referrer-Policy",
}

// HeaderCheck проверяет наличие и значения HTTP заголовков ответа
type HeaderCheck struct {
	client *http.Client
	logger logger.Logger
}

// NewHeaderCheck создает header плагин
func NewHeaderCheck(log logger.Logger) *HeaderCheck {
	return &HeaderCheck{
		client: &http.Client{},
		logger: log,
	}
}

// Type возвращает тип проверки
func (h *HeaderCheck) Type() string { return "header" }

// DisplayName возвращает название проверки
func (h *HeaderCheck) DisplayName() string { return "HTTP Header Check" }

// Description возвращает описание проверки
func (h *HeaderCheck) Description() string {
	return "Verifies that specific HTTP headers are present with expected values"
}

// ConfigSchema возвращает описание полей конфигурации
func (h *HeaderCheck) ConfigSchema() []ConfigField {
	return []ConfigField{
		{Name: "required_headers", Type: "object", Description: "Headers that must be present, '*' matches any value, '/pattern/' matches by regex"},
		{Name: "forbidden_headers", Type: "array", Description: "Headers that must not be present, for example Server or X-Powered-By"},
		{Name: "security_headers_check", Type: "boolean", Default: false, Description: "Warn when common security headers are missing"},
		{Name: "method", Type: "string", Default: "HEAD", Enum: []string{"HEAD", "GET"}, Description: "HTTP method to use"},
	}
}

// ValidateConfig валидирует цель и конфигурацию
func (h *HeaderCheck) ValidateConfig(target string, config domain.CheckConfig) error {
	if err := validation.ValidateURL(target); err != nil {
		return err
	}

	if method, ok := config.GetString("method"); ok && method != "" {
		switch strings.ToUpper(method) {
		case "HEAD", "GET":
		default:
			return fmt.Errorf("unsupported method: %s", method)
		}
	}

	for name, expected := range stringMap(config, "required_headers") {
		if name == "" {
			return fmt.Errorf("required header name must not be empty")
		}
		if pattern, ok := headerPattern(expected); ok {
			if _, err := regexp.Compile(pattern); err != nil {
				return fmt.Errorf("invalid pattern for header %q: %w", name, err)
			}
		}
	}

	return nil
}

// Execute выполняет проверку заголовков
func (h *HeaderCheck) Execute(ctx context.Context, target string, config domain.CheckConfig) (*Outcome, error) {
	method := "HEAD"
	if v, ok := config.GetString("method"); ok && v != "" {
		method = strings.ToUpper(v)
	}

	req, err := http.NewRequestWithContext(ctx, method, target, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build request: %w", err)
	}

	start := time.Now()
	resp, err := h.client.Do(req)
	elapsed := time.Since(start)

	if err != nil {
		h.logger.Debug("header check request failed",
			logger.String("target", target),
			logger.Error(err))
		return FailureOutcome(err.Error()).
			WithDetail("elapsed_ms", elapsed.Milliseconds()), nil
	}
	resp.Body.Close()

	var problems, warnings []string
	headerResults := make(domain.CheckConfig)

	for name, expected := range stringMap(config, "required_headers") {
		actual := resp.Header.Get(name)
		switch {
		case actual == "":
			problems = append(problems, fmt.Sprintf("missing required header: %s", name))
			headerResults[name] = "missing"
		case expected == "" || expected == "*":
			headerResults[name] = "ok"
		default:
			if pattern, ok := headerPattern(expected); ok {
				re, reErr := regexp.Compile("(?i)" + pattern)
				if reErr != nil {
					return nil, fmt.Errorf("invalid pattern for header %q: %w", name, reErr)
				}
				if !re.MatchString(actual) {
					problems = append(problems, fmt.Sprintf("header %q does not match pattern %s: got %q", name, expected, actual))
					headerResults[name] = "mismatch"
					continue
				}
			} else if !strings.EqualFold(actual, expected) {
				problems = append(problems, fmt.Sprintf("header %q mismatch: expected %q, got %q", name, expected, actual))
				headerResults[name] = "mismatch"
				continue
			}
			headerResults[name] = "ok"
		}
	}

	for _, name := range stringList(config, "forbidden_headers") {
		if resp.Header.Get(name) != "" {
			problems = append(problems, fmt.Sprintf("forbidden header present: %s", name))
			headerResults[name] = "forbidden"
		}
	}

	if v, ok := config.GetBool("security_headers_check"); ok && v {
		var missing []string
		for _, name := range securityHeaders {
			if resp.Header.Get(name) == "" {
				missing = append(missing, name)
				warnings = append(warnings, fmt.Sprintf("missing security header: %s", name))
			}
		}
		headerResults["security_headers_missing"] = missing
	}

	details := func(o *Outcome) *Outcome {
		return o.
			WithDetail("status_code", resp.StatusCode).
			WithDetail("header_results", headerResults).
			WithDetail("elapsed_ms", elapsed.Milliseconds())
	}

	if len(problems) > 0 {
		return details(FailureOutcome(strings.Join(problems, "; "))), nil
	}
	if len(warnings) > 0 {
		return details(WarningOutcome(strings.Join(warnings, "; "))), nil
	}

	return details(SuccessOutcome(fmt.Sprintf("all headers match, HTTP %d in %dms", resp.StatusCode, elapsed.Milliseconds()))), nil
}

// headerPattern распознает значение вида /pattern/ как регулярное выражение
func headerPattern(expected string) (string, bool) {
	if len(expected) > 2 && strings.HasPrefix(expected, "/") && strings.HasSuffix(expected, "/") {
		return expected[1 : len(expected)-1], true
	}
	return "", false
}

// stringMap извлекает таблицу строк из конфигурации
func stringMap(config domain.CheckConfig, key string) map[string]string {
	raw, ok := config[key]
	if !ok {
		return nil
	}

	switch v := raw.(type) {
	case map[string]string:
		return v
	case map[string]interface{}:
		out := make(map[string]string, len(v))
		for name, value := range v {
			if s, ok := value.(string); ok {
				out[name] = s
			}
		}
		return out
	default:
		return nil
	}
}
