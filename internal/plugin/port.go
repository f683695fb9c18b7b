package plugin

import (
	"context"
	"fmt"
	"net"
	"net/url"
	"strings"
	"time"

	"SiteHealthPlatform/internal/domain"
	"SiteHealthPlatform/pkg/connection"
	"SiteHealthPlatform/pkg/logger"
)

// PortCheck проверяет доступность TCP портов цели
type PortCheck struct {
	dialer *net.Dialer
	logger logger.Logger
}

// NewPortCheck создает port плагин
func NewPortCheck(log logger.Logger) *PortCheck {
	return &PortCheck{
		dialer: &net.Dialer{},
		logger: log,
	}
}

// Type возвращает тип проверки
func (p *PortCheck) Type() string { return "port" }

// DisplayName возвращает название проверки
func (p *PortCheck) DisplayName() string { return "TCP Port Check" }

// Description возвращает описание проверки
func (p *PortCheck) Description() string {
	return "Verifies that specific TCP ports are open and accepting connections"
}

// ConfigSchema возвращает описание полей конфигурации
func (p *PortCheck) ConfigSchema() []ConfigField {
	return []ConfigField{
		{Name: "ports", Type: "array", Default: []int{80, 443}, Description: "List of TCP ports to check"},
		{Name: "retry_attempts", Type: "integer", Default: 1, Description: "Connection attempts per port before reporting it closed"},
	}
}

// ValidateConfig валидирует цель и конфигурацию
func (p *PortCheck) ValidateConfig(target string, config domain.CheckConfig) error {
	if _, err := extractHostname(target); err != nil {
		return err
	}

	for _, port := range intList(config, "ports") {
		if port < 1 || port > 65535 {
			return fmt.Errorf("invalid port: %d", port)
		}
	}

	return nil
}

// Execute выполняет проверку портов
func (p *PortCheck) Execute(ctx context.Context, target string, config domain.CheckConfig) (*Outcome, error) {
	hostname, err := extractHostname(target)
	if err != nil {
		return nil, err
	}

	ports := intList(config, "ports")
	if len(ports) == 0 {
		ports = []int{80, 443}
	}

	attempts := 1
	if v, ok := config.GetInt("retry_attempts"); ok && v > 0 {
		attempts = v
	}

	retryConfig := connection.RetryConfig{
		MaxAttempts:  attempts,
		InitialDelay: 100 * time.Millisecond,
		MaxDelay:     1 * time.Second,
		Multiplier:   2.0,
		Jitter:       true,
	}

	var openPorts, closedPorts []int
	portDetails := make(domain.CheckConfig, len(ports))

	for _, port := range ports {
		address := net.JoinHostPort(hostname, fmt.Sprintf("%d", port))
		portStart := time.Now()

		err := connection.WithRetry(ctx, retryConfig, func(ctx context.Context) error {
			conn, dialErr := p.dialer.DialContext(ctx, "tcp", address)
			if dialErr != nil {
				return dialErr
			}
			return conn.Close()
		})

		portElapsed := time.Since(portStart).Milliseconds()
		if err != nil {
			closedPorts = append(closedPorts, port)
			portDetails[fmt.Sprintf("%d", port)] = map[string]interface{}{
				"status":           "closed",
				"response_time_ms": portElapsed,
			}
			p.logger.Debug("port check connection failed",
				logger.String("address", address),
				logger.Error(err))
			continue
		}

		openPorts = append(openPorts, port)
		portDetails[fmt.Sprintf("%d", port)] = map[string]interface{}{
			"status":           "open",
			"response_time_ms": portElapsed,
		}
	}

	details := func(o *Outcome) *Outcome {
		return o.
			WithDetail("hostname", hostname).
			WithDetail("open_ports", openPorts).
			WithDetail("closed_ports", closedPorts).
			WithDetail("port_details", portDetails)
	}

	if len(closedPorts) > 0 {
		return details(FailureOutcome(fmt.Sprintf("closed ports: %s", joinInts(closedPorts)))), nil
	}

	return details(SuccessOutcome(fmt.Sprintf("all %d ports open", len(openPorts)))), nil
}

// extractHostname извлекает имя хоста из URL или host:port строки
func extractHostname(target string) (string, error) {
	if target == "" {
		return "", fmt.Errorf("target is required")
	}

	if strings.Contains(target, "://") {
		u, err := url.Parse(target)
		if err != nil {
			return "", fmt.Errorf("invalid target url: %w", err)
		}
		return u.Hostname(), nil
	}

	if host, _, err := net.SplitHostPort(target); err == nil {
		return host, nil
	}

	return target, nil
}

// intList извлекает список целых чисел из конфигурации
func intList(config domain.CheckConfig, key string) []int {
	raw, ok := config[key]
	if !ok {
		return nil
	}

	switch v := raw.(type) {
	case []int:
		return v
	case []interface{}:
		out := make([]int, 0, len(v))
		for _, item := range v {
			switch n := item.(type) {
			case int:
				out = append(out, n)
			case float64:
				out = append(out, int(n))
			}
		}
		return out
	default:
		return nil
	}
}

// joinInts форматирует список чисел через запятую
func joinInts(values []int) string {
	parts := make([]string, len(values))
	for i, v := range values {
		parts[i] = fmt.Sprintf("%d", v)
	}
	return strings.Join(parts, ", ")
}
