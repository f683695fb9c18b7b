package validation

import (
	"fmt"
	"net"
	"net/url"
	"strconv"
	"strings"

	apperrors "SiteHealthPlatform/pkg/errors"
)

const (
	// MinIntervalSeconds минимальный интервал между проверками
	MinIntervalSeconds = 30
	// MaxIntervalSeconds максимальный интервал между проверками
	MaxIntervalSeconds = 86400
)

// ValidateURL проверяет что значение является корректным http(s) URL
func ValidateURL(raw string) error {
	if raw == "" {
		return apperrors.New(apperrors.ErrValidation, "url is required")
	}

	u, err := url.Parse(raw)
	if err != nil {
		return apperrors.Wrap(err, apperrors.ErrValidation, "invalid url")
	}

	if u.Scheme != "http" && u.Scheme != "https" {
		return apperrors.New(apperrors.ErrValidation, fmt.Sprintf("unsupported url scheme: %s", u.Scheme))
	}

	if u.Host == "" {
		return apperrors.New(apperrors.ErrValidation, "url host is required")
	}

	return nil
}

// ValidateHostPort проверяет что значение имеет вид host:port с корректным портом
func ValidateHostPort(raw string) error {
	if raw == "" {
		return apperrors.New(apperrors.ErrValidation, "address is required")
	}

	host, port, err := net.SplitHostPort(raw)
	if err != nil {
		return apperrors.Wrap(err, apperrors.ErrValidation, "address must be in host:port form")
	}

	if host == "" {
		return apperrors.New(apperrors.ErrValidation, "address host is required")
	}

	p, err := strconv.Atoi(port)
	if err != nil || p < 1 || p > 65535 {
		return apperrors.New(apperrors.ErrValidation, fmt.Sprintf("invalid port: %s", port))
	}

	return nil
}

// ValidateHostname проверяет что значение похоже на DNS имя
func ValidateHostname(raw string) error {
	if raw == "" {
		return apperrors.New(apperrors.ErrValidation, "hostname is required")
	}

	if strings.ContainsAny(raw, " /\\") {
		return apperrors.New(apperrors.ErrValidation, fmt.Sprintf("invalid hostname: %s", raw))
	}

	if len(raw) > 253 {
		return apperrors.New(apperrors.ErrValidation, "hostname is too long")
	}

	return nil
}

// ValidateInterval проверяет что интервал проверки находится в допустимых границах
func ValidateInterval(seconds int) error {
	if seconds < MinIntervalSeconds {
		return apperrors.New(apperrors.ErrValidation,
			fmt.Sprintf("interval must be at least %d seconds", MinIntervalSeconds))
	}

	if seconds > MaxIntervalSeconds {
		return apperrors.New(apperrors.ErrValidation,
			fmt.Sprintf("interval must not exceed %d seconds", MaxIntervalSeconds))
	}

	return nil
}
