package plugin

import (
	"SiteHealthPlatform/pkg/logger"
)

// RegisterBuiltins регистрирует все встроенные плагины проверок
func RegisterBuiltins(registry *Registry, log logger.Logger) error {
	builtins := []Check{
		NewHTTPCheck(log),
		NewKeywordCheck(log),
		NewPortCheck(log),
		NewDNSCheck(log),
		NewTLSCheck(log),
		NewGRPCHealthCheck(log),
		NewHeaderCheck(log),
		NewRedirectCheck(log),
		NewJSONAPICheck(log),
		NewSMTPCheck(log),
		NewIMAPCheck(log),
		NewPOP3Check(log),
	}

	for _, check := range builtins {
		if err := registry.Register(check); err != nil {
			return err
		}
	}

	return nil
}
