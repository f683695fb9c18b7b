package plugin

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"SiteHealthPlatform/internal/domain"
	"SiteHealthPlatform/pkg/logger"
	"SiteHealthPlatform/pkg/validation"
)

// JSONAPICheck проверяет, что цель отдает корректный JSON ожидаемой структуры
type JSONAPICheck struct {
	client *http.Client
	logger logger.Logger
}

// NewJSONAPICheck создает json_api плагин
func NewJSONAPICheck(log logger.Logger) *JSONAPICheck {
	return &JSONAPICheck{
		client: &http.Client{},
		logger: log,
	}
}

// Type возвращает тип проверки
func (j *JSONAPICheck) Type() string { return "json_api" }

// DisplayName возвращает название проверки
func (j *JSONAPICheck) DisplayName() string { return "JSON API Check" }

// Description возвращает описание проверки
func (j *JSONAPICheck) Description() string {
	return "Validates that a JSON API endpoint returns valid JSON with the required fields and types"
}

// ConfigSchema возвращает описание полей конфигурации
func (j *JSONAPICheck) ConfigSchema() []ConfigField {
	return []ConfigField{
		{Name: "expected_status_code", Type: "integer", Default: 200, Description: "Expected HTTP status code"},
		{Name: "method", Type: "string", Default: "GET", Enum: []string{"GET", "POST", "PUT", "DELETE"}, Description: "HTTP method to use"},
		{Name: "required_fields", Type: "array", Description: "Fields that must exist in the response, dot notation reaches nested fields"},
		{Name: "field_type_checks", Type: "object", Description: "Expected JSON types per field, for example {\"data.count\": \"integer\"}"},
		{Name: "headers", Type: "object", Description: "Additional request headers"},
		{Name: "request_body", Type: "object", Description: "JSON body for POST and PUT requests"},
	}
}

// ValidateConfig валидирует цель и конфигурацию
func (j *JSONAPICheck) ValidateConfig(target string, config domain.CheckConfig) error {
	if err := validation.ValidateURL(target); err != nil {
		return err
	}

	if method, ok := config.GetString("method"); ok && method != "" {
		switch strings.ToUpper(method) {
		case "GET", "POST", "PUT", "DELETE":
		default:
			return fmt.Errorf("unsupported method: %s", method)
		}
	}

	for field, expected := range stringMap(config, "field_type_checks") {
		if field == "" {
			return fmt.Errorf("field path must not be empty")
		}
		switch expected {
		case "string", "number", "integer", "boolean", "array", "object", "null":
		default:
			return fmt.Errorf("unknown type %q for field %q", expected, field)
		}
	}

	return nil
}

// Execute выполняет проверку JSON API
func (j *JSONAPICheck) Execute(ctx context.Context, target string, config domain.CheckConfig) (*Outcome, error) {
	expectedStatus := 200
	if v, ok := config.GetInt("expected_status_code"); ok {
		expectedStatus = v
	}

	method := "GET"
	if v, ok := config.GetString("method"); ok && v != "" {
		method = strings.ToUpper(v)
	}

	var reqBody io.Reader
	if raw, ok := config["request_body"]; ok && (method == "POST" || method == "PUT") {
		encoded, err := json.Marshal(raw)
		if err != nil {
			return nil, fmt.Errorf("failed to encode request body: %w", err)
		}
		reqBody = bytes.NewReader(encoded)
	}

	req, err := http.NewRequestWithContext(ctx, method, target, reqBody)
	if err != nil {
		return nil, fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if reqBody != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for name, value := range stringMap(config, "headers") {
		req.Header.Set(name, value)
	}

	start := time.Now()
	resp, err := j.client.Do(req)
	elapsed := time.Since(start)

	if err != nil {
		j.logger.Debug("json api check request failed",
			logger.String("target", target),
			logger.Error(err))
		return FailureOutcome(err.Error()).
			WithDetail("elapsed_ms", elapsed.Milliseconds()), nil
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(io.LimitReader(resp.Body, maxResponseBodyBytes))
	contentType := resp.Header.Get("Content-Type")

	details := func(o *Outcome) *Outcome {
		return o.
			WithDetail("status_code", resp.StatusCode).
			WithDetail("content_type", contentType).
			WithDetail("elapsed_ms", elapsed.Milliseconds())
	}

	if resp.StatusCode != expectedStatus {
		return details(FailureOutcome(fmt.Sprintf("expected status %d, got %d", expectedStatus, resp.StatusCode))), nil
	}

	if !strings.Contains(strings.ToLower(contentType), "application/json") {
		return details(FailureOutcome(fmt.Sprintf("expected JSON content type, got: %s", contentType))), nil
	}

	var payload interface{}
	if err := json.Unmarshal(body, &payload); err != nil {
		return details(FailureOutcome(fmt.Sprintf("invalid JSON response: %v", err))), nil
	}

	requiredFields := stringList(config, "required_fields")
	var missing []string
	for _, field := range requiredFields {
		if _, ok := lookupJSONPath(payload, field); !ok {
			missing = append(missing, field)
		}
	}
	if len(missing) > 0 {
		return details(FailureOutcome(fmt.Sprintf("missing required fields: %s", strings.Join(missing, ", ")))).
			WithDetail("missing_fields", missing), nil
	}

	typeChecks := stringMap(config, "field_type_checks")
	var typeErrors []string
	for field, expected := range typeChecks {
		value, ok := lookupJSONPath(payload, field)
		if !ok {
			typeErrors = append(typeErrors, fmt.Sprintf("field %q not found", field))
			continue
		}
		if actual := jsonTypeName(value); !jsonTypeMatches(value, expected) {
			typeErrors = append(typeErrors, fmt.Sprintf("field %q expected %s, got %s", field, expected, actual))
		}
	}
	if len(typeErrors) > 0 {
		return details(FailureOutcome(fmt.Sprintf("type check failures: %s", strings.Join(typeErrors, "; ")))).
			WithDetail("type_errors", typeErrors), nil
	}

	return details(SuccessOutcome(fmt.Sprintf("valid JSON, %d fields validated in %dms", len(requiredFields)+len(typeChecks), elapsed.Milliseconds()))), nil
}

// lookupJSONPath ищет значение по пути с точечной нотацией,
// числовые сегменты индексируют массивы
func lookupJSONPath(data interface{}, path string) (interface{}, bool) {
	current := data
	for _, part := range strings.Split(path, ".") {
		switch node := current.(type) {
		case map[string]interface{}:
			value, ok := node[part]
			if !ok {
				return nil, false
			}
			current = value
		case []interface{}:
			index, err := strconv.Atoi(part)
			if err != nil || index < 0 || index >= len(node) {
				return nil, false
			}
			current = node[index]
		default:
			return nil, false
		}
	}
	return current, true
}

// jsonTypeMatches сверяет значение из encoding/json с именем JSON типа
func jsonTypeMatches(value interface{}, expected string) bool {
	switch expected {
	case "string":
		_, ok := value.(string)
		return ok
	case "number":
		_, ok := value.(float64)
		return ok
	case "integer":
		n, ok := value.(float64)
		return ok && n == float64(int64(n))
	case "boolean":
		_, ok := value.(bool)
		return ok
	case "array":
		_, ok := value.([]interface{})
		return ok
	case "object":
		_, ok := value.(map[string]interface{})
		return ok
	case "null":
		return value == nil
	}
	return false
}

// jsonTypeName возвращает имя JSON типа значения
func jsonTypeName(value interface{}) string {
	switch value.(type) {
	case string:
		return "string"
	case float64:
		return "number"
	case bool:
		return "boolean"
	case []interface{}:
		return "array"
	case map[string]interface{}:
		return "object"
	case nil:
		return "null"
	}
	return fmt.Sprintf("%T", value)
}
