package plugin

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"regexp"
	"strings"
	"time"

	"SiteHealthPlatform/internal/domain"
	"SiteHealthPlatform/pkg/logger"
	"SiteHealthPlatform/pkg/validation"
)

// KeywordCheck проверяет наличие или отсутствие ключевых слов на странице
type KeywordCheck struct {
	client *http.Client
	logger logger.Logger
}

// NewKeywordCheck создает keyword плагин
func NewKeywordCheck(log logger.Logger) *KeywordCheck {
	return &KeywordCheck{
		client: &http.Client{},
		logger: log,
	}
}

// Type возвращает тип проверки
func (k *KeywordCheck) Type() string { return "keyword" }

// DisplayName возвращает название проверки
func (k *KeywordCheck) DisplayName() string { return "Keyword/Content Check" }

// Description возвращает описание проверки
func (k *KeywordCheck) Description() string {
	return "Verifies that specific keywords or patterns exist (or are absent) in the page content"
}

// ConfigSchema возвращает описание полей конфигурации
func (k *KeywordCheck) ConfigSchema() []ConfigField {
	return []ConfigField{
		{Name: "keywords_present", Type: "array", Description: "Keywords or patterns that must be present in the page"},
		{Name: "keywords_absent", Type: "array", Description: "Keywords or patterns that must not be present"},
		{Name: "use_regex", Type: "boolean", Default: false, Description: "Treat keywords as regular expressions"},
		{Name: "case_sensitive", Type: "boolean", Default: false, Description: "Perform case-sensitive matching"},
	}
}

// ValidateConfig валидирует цель и конфигурацию
func (k *KeywordCheck) ValidateConfig(target string, config domain.CheckConfig) error {
	if err := validation.ValidateURL(target); err != nil {
		return err
	}

	present := stringList(config, "keywords_present")
	absent := stringList(config, "keywords_absent")
	if len(present) == 0 && len(absent) == 0 {
		return fmt.Errorf("at least one of keywords_present or keywords_absent is required")
	}

	if useRegex, _ := config.GetBool("use_regex"); useRegex {
		for _, kw := range append(present, absent...) {
			if _, err := regexp.Compile(kw); err != nil {
				return fmt.Errorf("invalid pattern %q: %w", kw, err)
			}
		}
	}

	return nil
}

// Execute выполняет keyword проверку
func (k *KeywordCheck) Execute(ctx context.Context, target string, config domain.CheckConfig) (*Outcome, error) {
	present := stringList(config, "keywords_present")
	absent := stringList(config, "keywords_absent")
	useRegex, _ := config.GetBool("use_regex")
	caseSensitive, _ := config.GetBool("case_sensitive")

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build request: %w", err)
	}

	start := time.Now()
	resp, err := k.client.Do(req)
	elapsed := time.Since(start)

	if err != nil {
		k.logger.Debug("keyword check request failed",
			logger.String("target", target),
			logger.Error(err))
		return FailureOutcome(err.Error()), nil
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBodyBytes))
	if err != nil {
		return FailureOutcome(fmt.Sprintf("failed to read response body: %v", err)), nil
	}

	content := string(body)

	var missing, forbidden []string
	for _, kw := range present {
		if !matchKeyword(content, kw, useRegex, caseSensitive) {
			missing = append(missing, kw)
		}
	}
	for _, kw := range absent {
		if matchKeyword(content, kw, useRegex, caseSensitive) {
			forbidden = append(forbidden, kw)
		}
	}

	details := func(o *Outcome) *Outcome {
		return o.
			WithDetail("status_code", resp.StatusCode).
			WithDetail("content_length", len(content)).
			WithDetail("keywords_checked", len(present)+len(absent)).
			WithDetail("elapsed_ms", elapsed.Milliseconds())
	}

	if len(missing) > 0 || len(forbidden) > 0 {
		var errs []string
		if len(missing) > 0 {
			errs = append(errs, fmt.Sprintf("missing keywords: %s", strings.Join(missing, ", ")))
		}
		if len(forbidden) > 0 {
			errs = append(errs, fmt.Sprintf("found forbidden keywords: %s", strings.Join(forbidden, ", ")))
		}
		return details(FailureOutcome(strings.Join(errs, "; "))).
			WithDetail("missing_keywords", missing).
			WithDetail("found_forbidden", forbidden), nil
	}

	return details(SuccessOutcome("all keywords validated")), nil
}

// matchKeyword проверяет вхождение ключевого слова в содержимое
func matchKeyword(content, keyword string, useRegex, caseSensitive bool) bool {
	if useRegex {
		pattern := keyword
		if !caseSensitive {
			pattern = "(?i)" + pattern
		}
		re, err := regexp.Compile(pattern)
		if err != nil {
			return false
		}
		return re.MatchString(content)
	}

	if caseSensitive {
		return strings.Contains(content, keyword)
	}
	return strings.Contains(strings.ToLower(content), strings.ToLower(keyword))
}

// stringList извлекает список строк из конфигурации
func stringList(config domain.CheckConfig, key string) []string {
	raw, ok := config[key]
	if !ok {
		return nil
	}

	switch v := raw.(type) {
	case []string:
		return v
	case []interface{}:
		out := make([]string, 0, len(v))
		for _, item := range v {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
		return out
	default:
		return nil
	}
}
