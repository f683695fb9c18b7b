package plugin

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"net/url"
	"strings"
	"time"

	"SiteHealthPlatform/internal/domain"
	"SiteHealthPlatform/pkg/logger"
)

// tlsVersionNames имена версий в порядке возрастания стойкости
var tlsVersionNames = map[uint16]string{
	tls.VersionTLS10: "TLSv1",
	tls.VersionTLS11: "TLSv1.1",
	tls.VersionTLS12: "TLSv1.2",
	tls.VersionTLS13: "TLSv1.3",
}

var tlsVersionOrder = []string{"TLSv1", "TLSv1.1", "TLSv1.2", "TLSv1.3"}

// weakCipherPatterns шаблоны слабых шифров
var weakCipherPatterns = []string{"NULL", "EXPORT", "DES", "RC4", "MD5", "ANON", "ADH", "AECDH"}

// TLSCheck проверяет версию TLS, шифры и срок действия сертификата
type TLSCheck struct {
	logger logger.Logger
}

// NewTLSCheck создает tls плагин
func NewTLSCheck(log logger.Logger) *TLSCheck {
	return &TLSCheck{logger: log}
}

// Type возвращает тип проверки
func (t *TLSCheck) Type() string { return "tls" }

// DisplayName возвращает название проверки
func (t *TLSCheck) DisplayName() string { return "TLS Version Check" }

// Description возвращает описание проверки
func (t *TLSCheck) Description() string {
	return "Verifies TLS version meets minimum requirements, checks for weak ciphers and certificate expiry"
}

// ConfigSchema возвращает описание полей конфигурации
func (t *TLSCheck) ConfigSchema() []ConfigField {
	return []ConfigField{
		{Name: "minimum_tls_version", Type: "string", Default: "TLSv1.2", Enum: tlsVersionOrder, Description: "Minimum acceptable TLS version"},
		{Name: "check_weak_ciphers", Type: "boolean", Default: true, Description: "Check for weak cipher suites"},
		{Name: "min_days_until_expiry", Type: "integer", Default: 14, Description: "Report warning when the certificate expires sooner"},
	}
}

// ValidateConfig валидирует цель и конфигурацию
func (t *TLSCheck) ValidateConfig(target string, config domain.CheckConfig) error {
	if _, err := tlsAddress(target); err != nil {
		return err
	}

	if version, ok := config.GetString("minimum_tls_version"); ok {
		if tlsVersionIndex(version) < 0 {
			return fmt.Errorf("unsupported tls version: %s", version)
		}
	}

	return nil
}

// Execute выполняет TLS проверку
func (t *TLSCheck) Execute(ctx context.Context, target string, config domain.CheckConfig) (*Outcome, error) {
	address, err := tlsAddress(target)
	if err != nil {
		return nil, err
	}

	minimumVersion := "TLSv1.2"
	if v, ok := config.GetString("minimum_tls_version"); ok && v != "" {
		minimumVersion = v
	}

	checkWeakCiphers := true
	if v, ok := config.GetBool("check_weak_ciphers"); ok {
		checkWeakCiphers = v
	}

	minExpiryDays := 14
	if v, ok := config.GetInt("min_days_until_expiry"); ok && v >= 0 {
		minExpiryDays = v
	}

	hostname, _, _ := net.SplitHostPort(address)

	dialer := &tls.Dialer{
		NetDialer: &net.Dialer{},
		Config:    &tls.Config{ServerName: hostname},
	}

	start := time.Now()
	rawConn, err := dialer.DialContext(ctx, "tcp", address)
	elapsed := time.Since(start)

	if err != nil {
		t.logger.Debug("tls handshake failed",
			logger.String("address", address),
			logger.Error(err))
		return FailureOutcome(fmt.Sprintf("TLS handshake failed: %v", err)).
			WithDetail("hostname", hostname), nil
	}

	conn := rawConn.(*tls.Conn)
	defer conn.Close()

	state := conn.ConnectionState()
	version := tlsVersionNames[state.Version]
	cipher := tls.CipherSuiteName(state.CipherSuite)

	outcome := SuccessOutcome(fmt.Sprintf("%s with %s", version, cipher))

	actualIndex := tlsVersionIndex(version)
	minimumIndex := tlsVersionIndex(minimumVersion)

	switch {
	case actualIndex < 0:
		outcome = FailureOutcome(fmt.Sprintf("unknown TLS version: %s", version))

	case actualIndex < minimumIndex:
		outcome = FailureOutcome(fmt.Sprintf("TLS version %s is below minimum required %s", version, minimumVersion))

	case checkWeakCiphers && weakCipher(cipher):
		outcome = WarningOutcome(fmt.Sprintf("weak cipher detected: %s", cipher))

	case version == "TLSv1" || version == "TLSv1.1":
		outcome = WarningOutcome(fmt.Sprintf("TLS version %s is deprecated", version))
	}

	outcome = outcome.
		WithDetail("hostname", hostname).
		WithDetail("tls_version", version).
		WithDetail("cipher_name", cipher).
		WithDetail("minimum_required", minimumVersion).
		WithDetail("elapsed_ms", elapsed.Milliseconds())

	if len(state.PeerCertificates) > 0 {
		cert := state.PeerCertificates[0]
		daysLeft := int(time.Until(cert.NotAfter).Hours() / 24)
		outcome = outcome.
			WithDetail("certificate_expires_at", cert.NotAfter.UTC()).
			WithDetail("certificate_days_left", daysLeft)

		if time.Now().After(cert.NotAfter) {
			outcome.Status = domain.ResultStatusFailure
			outcome.Message = fmt.Sprintf("certificate expired on %s", cert.NotAfter.Format("2006-01-02"))
		} else if outcome.Status == domain.ResultStatusSuccess && daysLeft < minExpiryDays {
			outcome.Status = domain.ResultStatusWarning
			outcome.Message = fmt.Sprintf("certificate expires in %d days", daysLeft)
		}
	}

	return outcome, nil
}

// tlsAddress приводит цель к виду host:port, порт по умолчанию 443
func tlsAddress(target string) (string, error) {
	if target == "" {
		return "", fmt.Errorf("target is required")
	}

	host := target
	port := "443"

	if strings.Contains(target, "://") {
		u, err := url.Parse(target)
		if err != nil {
			return "", fmt.Errorf("invalid target url: %w", err)
		}
		host = u.Hostname()
		if u.Port() != "" {
			port = u.Port()
		}
	} else if h, p, err := net.SplitHostPort(target); err == nil {
		host = h
		port = p
	}

	if host == "" {
		return "", fmt.Errorf("target host is required")
	}

	return net.JoinHostPort(host, port), nil
}

// tlsVersionIndex возвращает позицию версии в порядке стойкости
func tlsVersionIndex(version string) int {
	for i, v := range tlsVersionOrder {
		if v == version {
			return i
		}
	}
	return -1
}

// weakCipher проверяет шифр на известные слабые шаблоны
func weakCipher(cipher string) bool {
	upper := strings.ToUpper(cipher)
	for _, pattern := range weakCipherPatterns {
		if strings.Contains(upper, pattern) {
			return true
		}
	}
	return false
}
