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

func headerTestServer(headers map[string]string) *httptest.Server {
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		for name, value := range headers {
			w.Header().Set(name, value)
		}
		w.WriteHeader(http.StatusOK)
	}))
}

func TestHeaderCheck_Execute_RequiredPresent(t *testing.T) {
	server := headerTestServer(map[string]string{
		"X-Custom":     "value",
		"Content-Type": "application/json",
	})
	defer server.Close()

	check := NewHeaderCheck(logger.NewNop())
	config := domain.CheckConfig{
		"required_headers": map[string]interface{}{
			"X-Custom":     "*",
			"Content-Type": "application/json",
		},
	}

	outcome, err := check.Execute(context.Background(), server.URL, config)
	require.NoError(t, err)
	assert.Equal(t, domain.ResultStatusSuccess, outcome.Status)
}

func TestHeaderCheck_Execute_MissingRequired(t *testing.T) {
	server := headerTestServer(nil)
	defer server.Close()

	check := NewHeaderCheck(logger.NewNop())
	config := domain.CheckConfig{
		"required_headers": map[string]interface{}{"X-Missing": "*"},
	}

	outcome, err := check.Execute(context.Background(), server.URL, config)
	require.NoError(t, err)
	assert.Equal(t, domain.ResultStatusFailure, outcome.Status)
	assert.Contains(t, outcome.Message, "missing required header: X-Missing")
}

func TestHeaderCheck_Execute_PatternMatch(t *testing.T) {
	server := headerTestServer(map[string]string{
		"Cache-Control": "max-age=3600, public",
	})
	defer server.Close()

	check := NewHeaderCheck(logger.NewNop())
	config := domain.CheckConfig{
		"required_headers": map[string]interface{}{"Cache-Control": "/max-age=\\d+/"},
	}

	outcome, err := check.Execute(context.Background(), server.URL, config)
	require.NoError(t, err)
	assert.Equal(t, domain.ResultStatusSuccess, outcome.Status)
}

func TestHeaderCheck_Execute_ForbiddenPresent(t *testing.T) {
	server := headerTestServer(map[string]string{"X-Powered-By": "PHP/5.3"})
	defer server.Close()

	check := NewHeaderCheck(logger.NewNop())
	config := domain.CheckConfig{
		"forbidden_headers": []interface{}{"X-Powered-By"},
	}

	outcome, err := check.Execute(context.Background(), server.URL, config)
	require.NoError(t, err)
	assert.Equal(t, domain.ResultStatusFailure, outcome.Status)
	assert.Contains(t, outcome.Message, "forbidden header present")
}

func TestHeaderCheck_Execute_SecurityHeadersWarning(t *testing.T) {
	server := headerTestServer(nil)
	defer server.Close()

	check := NewHeaderCheck(logger.NewNop())
	config := domain.CheckConfig{"security_headers_check": true}

	outcome, err := check.Execute(context.Background(), server.URL, config)
	require.NoError(t, err)
	assert.Equal(t, domain.ResultStatusWarning, outcome.Status)
	assert.Contains(t, outcome.Message, "missing security header")
}

func TestHeaderCheck_ValidateConfig(t *testing.T) {
	check := NewHeaderCheck(logger.NewNop())

	assert.NoError(t, check.ValidateConfig("https://example.com", domain.CheckConfig{}))
	assert.Error(t, check.ValidateConfig("", domain.CheckConfig{}))
	assert.Error(t, check.ValidateConfig("https://example.com", domain.CheckConfig{
		"method": "POST",
	}))
	assert.Error(t, check.ValidateConfig("https://example.com", domain.CheckConfig{
		"required_headers": map[string]interface{}{"X-Custom": "/[unclosed/"},
	}))
}
