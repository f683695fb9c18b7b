package plugin

import (
	"context"
	"fmt"
	"net"
	"strings"

	"SiteHealthPlatform/internal/domain"
	"SiteHealthPlatform/pkg/logger"
	"SiteHealthPlatform/pkg/validation"
)

// DNSCheck проверяет разрешение DNS записей цели
type DNSCheck struct {
	resolver *net.Resolver
	logger   logger.Logger
}

// NewDNSCheck создает dns плагин
func NewDNSCheck(log logger.Logger) *DNSCheck {
	return &DNSCheck{
		resolver: net.DefaultResolver,
		logger:   log,
	}
}

// Type возвращает тип проверки
func (d *DNSCheck) Type() string { return "dns" }

// DisplayName возвращает название проверки
func (d *DNSCheck) DisplayName() string { return "DNS Resolution Check" }

// Description возвращает описание проверки
func (d *DNSCheck) Description() string {
	return "Verifies DNS records resolve correctly and optionally checks expected values"
}

// ConfigSchema возвращает описание полей конфигурации
func (d *DNSCheck) ConfigSchema() []ConfigField {
	return []ConfigField{
		{Name: "record_type", Type: "string", Default: "A", Enum: []string{"A", "AAAA", "CNAME", "MX"}, Description: "DNS record type to check"},
		{Name: "expected_values", Type: "array", Description: "Values that must be present among resolved records"},
	}
}

// ValidateConfig валидирует цель и конфигурацию
func (d *DNSCheck) ValidateConfig(target string, config domain.CheckConfig) error {
	hostname, err := extractHostname(target)
	if err != nil {
		return err
	}
	if err := validation.ValidateHostname(hostname); err != nil {
		return err
	}

	if recordType, ok := config.GetString("record_type"); ok {
		switch recordType {
		case "A", "AAAA", "CNAME", "MX":
		default:
			return fmt.Errorf("unsupported record type: %s", recordType)
		}
	}

	return nil
}

// Execute выполняет DNS проверку
func (d *DNSCheck) Execute(ctx context.Context, target string, config domain.CheckConfig) (*Outcome, error) {
	hostname, err := extractHostname(target)
	if err != nil {
		return nil, err
	}

	recordType := "A"
	if v, ok := config.GetString("record_type"); ok && v != "" {
		recordType = v
	}

	resolved, err := d.resolve(ctx, hostname, recordType)
	if err != nil {
		d.logger.Debug("dns resolution failed",
			logger.String("hostname", hostname),
			logger.String("record_type", recordType),
			logger.Error(err))
		return FailureOutcome(fmt.Sprintf("DNS resolution failed: %v", err)).
			WithDetail("hostname", hostname).
			WithDetail("record_type", recordType), nil
	}

	expected := stringList(config, "expected_values")
	if len(expected) > 0 {
		var missing []string
		for _, want := range expected {
			if !containsString(resolved, want) {
				missing = append(missing, want)
			}
		}
		if len(missing) > 0 {
			return FailureOutcome("DNS records don't match expected values").
				WithDetail("hostname", hostname).
				WithDetail("record_type", recordType).
				WithDetail("resolved", resolved).
				WithDetail("expected", expected), nil
		}
	}

	return SuccessOutcome(fmt.Sprintf("resolved %d %s records", len(resolved), recordType)).
		WithDetail("hostname", hostname).
		WithDetail("record_type", recordType).
		WithDetail("resolved_values", resolved), nil
}

// resolve выполняет DNS запрос указанного типа
func (d *DNSCheck) resolve(ctx context.Context, hostname, recordType string) ([]string, error) {
	switch recordType {
	case "A", "AAAA":
		network := "ip4"
		if recordType == "AAAA" {
			network = "ip6"
		}
		addrs, err := d.resolver.LookupIP(ctx, network, hostname)
		if err != nil {
			return nil, err
		}
		out := make([]string, len(addrs))
		for i, addr := range addrs {
			out[i] = addr.String()
		}
		return out, nil

	case "CNAME":
		cname, err := d.resolver.LookupCNAME(ctx, hostname)
		if err != nil {
			return nil, err
		}
		cname = strings.TrimSuffix(cname, ".")
		if cname == hostname {
			return []string{}, nil
		}
		return []string{cname}, nil

	case "MX":
		records, err := d.resolver.LookupMX(ctx, hostname)
		if err != nil {
			return nil, err
		}
		out := make([]string, len(records))
		for i, mx := range records {
			out[i] = strings.TrimSuffix(mx.Host, ".")
		}
		return out, nil

	default:
		return nil, fmt.Errorf("unsupported record type: %s", recordType)
	}
}

// containsString проверяет наличие строки в слайсе
func containsString(values []string, want string) bool {
	for _, v := range values {
		if v == want {
			return true
		}
	}
	return false
}
