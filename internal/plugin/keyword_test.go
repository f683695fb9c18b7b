package plugin

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"SiteHealthPlatform/internal/domain"
	"SiteHealthPlatform/pkg/logger"
)

func keywordTestServer(body string) *httptest.Server {
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(body))
	}))
}

func TestKeywordCheck_Execute_PresentFound(t *testing.T) {
	server := keywordTestServer("<html>Welcome to Example</html>")
	defer server.Close()

	check := NewKeywordCheck(logger.NewNop())
	config := domain.CheckConfig{
		"keywords_present": []interface{}{"Welcome"},
	}

	outcome, err := check.Execute(context.Background(), server.URL, config)
	require.NoError(t, err)
	assert.Equal(t, domain.ResultStatusSuccess, outcome.Status)
}

func TestKeywordCheck_Execute_PresentMissing(t *testing.T) {
	server := keywordTestServer("<html>nothing here</html>")
	defer server.Close()

	check := NewKeywordCheck(logger.NewNop())
	config := domain.CheckConfig{
		"keywords_present": []interface{}{"Welcome"},
	}

	outcome, err := check.Execute(context.Background(), server.URL, config)
	require.NoError(t, err)
	assert.Equal(t, domain.ResultStatusFailure, outcome.Status)
	assert.Contains(t, outcome.Message, "missing keywords")
}

func TestKeywordCheck_Execute_ForbiddenFound(t *testing.T) {
	server := keywordTestServer("<html>Internal Server Error</html>")
	defer server.Close()

	check := NewKeywordCheck(logger.NewNop())
	config := domain.CheckConfig{
		"keywords_absent": []interface{}{"Internal Server Error"},
	}

	outcome, err := check.Execute(context.Background(), server.URL, config)
	require.NoError(t, err)
	assert.Equal(t, domain.ResultStatusFailure, outcome.Status)
	assert.Contains(t, outcome.Message, "forbidden")
}

func TestKeywordCheck_Execute_CaseInsensitiveByDefault(t *testing.T) {
	server := keywordTestServer("<html>WELCOME</html>")
	defer server.Close()

	check := NewKeywordCheck(logger.NewNop())
	config := domain.CheckConfig{
		"keywords_present": []interface{}{"welcome"},
	}

	outcome, err := check.Execute(context.Background(), server.URL, config)
	require.NoError(t, err)
	assert.Equal(t, domain.ResultStatusSuccess, outcome.Status)
}

func TestKeywordCheck_Execute_Regex(t *testing.T) {
	server := keywordTestServer("<html>build 2026-08-30</html>")
	defer server.Close()

	check := NewKeywordCheck(logger.NewNop())
	config := domain.CheckConfig{
		"keywords_present": []interface{}{`build \d{4}-\d{2}-\d{2}`},
		"use_regex":        true,
	}

	outcome, err := check.Execute(context.Background(), server.URL, config)
	require.NoError(t, err)
	assert.Equal(t, domain.ResultStatusSuccess, outcome.Status)
}

func TestKeywordCheck_ValidateConfig(t *testing.T) {
	check := NewKeywordCheck(logger.NewNop())

	// Без ключевых слов конфигурация бессмысленна
	assert.Error(t, check.ValidateConfig("https://example.com", domain.CheckConfig{}))

	assert.NoError(t, check.ValidateConfig("https://example.com", domain.CheckConfig{
		"keywords_present": []interface{}{"ok"},
	}))

	// Некорректное регулярное выражение
	assert.Error(t, check.ValidateConfig("https://example.com", domain.CheckConfig{
		"keywords_present": []interface{}{"(unclosed"},
		"use_regex":        true,
	}))
}
