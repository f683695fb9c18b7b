package plugin

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"SiteHealthPlatform/internal/domain"
	apperrors "SiteHealthPlatform/pkg/errors"
	"SiteHealthPlatform/pkg/logger"
)

// stubCheck минимальный плагин для тестов реестра
type stubCheck struct {
	checkType string
}

func (s *stubCheck) Type() string { return s.checkType }

func (s *stubCheck) DisplayName() string { return "Stub " + s.checkType }

func (s *stubCheck) Description() string { return "stub check" }

func (s *stubCheck) ConfigSchema() []ConfigField { return nil }

func (s *stubCheck) ValidateConfig(target string, config domain.CheckConfig) error {
	return nil
}

func (s *stubCheck) Execute(ctx context.Context, target string, config domain.CheckConfig) (*Outcome, error) {
	return SuccessOutcome("ok"), nil
}

func TestRegistry_RegisterAndResolve(t *testing.T) {
	registry := NewRegistry()

	require.NoError(t, registry.Register(&stubCheck{checkType: "http"}))

	check, err := registry.Resolve("http")
	require.NoError(t, err)
	assert.Equal(t, "http", check.Type())
	assert.True(t, registry.Has("http"))
}

func TestRegistry_DuplicateRegistration(t *testing.T) {
	registry := NewRegistry()

	require.NoError(t, registry.Register(&stubCheck{checkType: "http"}))

	err := registry.Register(&stubCheck{checkType: "http"})
	require.Error(t, err)
	assert.True(t, apperrors.IsCode(err, apperrors.ErrConflict))
}

func TestRegistry_ResolveUnknown(t *testing.T) {
	registry := NewRegistry()

	_, err := registry.Resolve("unknown")
	require.Error(t, err)
	assert.True(t, apperrors.IsCode(err, apperrors.ErrNotFound))
	assert.False(t, registry.Has("unknown"))
}

func TestRegistry_RegisterNil(t *testing.T) {
	registry := NewRegistry()

	err := registry.Register(nil)
	require.Error(t, err)
	assert.True(t, apperrors.IsCode(err, apperrors.ErrValidation))
}

func TestRegistry_ListSorted(t *testing.T) {
	registry := NewRegistry()

	require.NoError(t, registry.Register(&stubCheck{checkType: "tls"}))
	require.NoError(t, registry.Register(&stubCheck{checkType: "dns"}))
	require.NoError(t, registry.Register(&stubCheck{checkType: "http"}))

	descriptors := registry.List()
	require.Len(t, descriptors, 3)
	assert.Equal(t, "dns", descriptors[0].Type)
	assert.Equal(t, "http", descriptors[1].Type)
	assert.Equal(t, "tls", descriptors[2].Type)
}

func TestRegisterBuiltins(t *testing.T) {
	registry := NewRegistry()

	require.NoError(t, RegisterBuiltins(registry, logger.NewNop()))

	for _, checkType := range []string{
		"http", "keyword", "port", "dns", "tls", "grpc_health",
		"header", "redirect", "json_api", "smtp", "imap", "pop3",
	} {
		assert.True(t, registry.Has(checkType), checkType)
	}

	// Повторная регистрация встроенных плагинов невозможна
	assert.Error(t, RegisterBuiltins(registry, logger.NewNop()))
}
