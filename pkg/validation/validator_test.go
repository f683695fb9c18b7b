package validation

import (
	"testing"

	"github.com/stretchr/testify/assert"

	apperrors "SiteHealthPlatform/pkg/errors"
)

func TestValidateURL(t *testing.T) {
	assert.NoError(t, ValidateURL("https://example.com"))
	assert.NoError(t, ValidateURL("http://example.com:8080/path?q=1"))

	assert.Error(t, ValidateURL(""))
	assert.Error(t, ValidateURL("ftp://example.com"))
	assert.Error(t, ValidateURL("example.com"))
	assert.Error(t, ValidateURL("https://"))
}

func TestValidateHostPort(t *testing.T) {
	assert.NoError(t, ValidateHostPort("example.com:443"))
	assert.NoError(t, ValidateHostPort("127.0.0.1:8080"))

	assert.Error(t, ValidateHostPort(""))
	assert.Error(t, ValidateHostPort("example.com"))
	assert.Error(t, ValidateHostPort(":8080"))
	assert.Error(t, ValidateHostPort("example.com:0"))
	assert.Error(t, ValidateHostPort("example.com:70000"))
	assert.Error(t, ValidateHostPort("example.com:http"))
}

func TestValidateHostname(t *testing.T) {
	assert.NoError(t, ValidateHostname("example.com"))
	assert.NoError(t, ValidateHostname("sub.example.com"))

	assert.Error(t, ValidateHostname(""))
	assert.Error(t, ValidateHostname("bad host"))
	assert.Error(t, ValidateHostname("bad/host"))
}

func TestValidateInterval(t *testing.T) {
	assert.NoError(t, ValidateInterval(MinIntervalSeconds))
	assert.NoError(t, ValidateInterval(300))
	assert.NoError(t, ValidateInterval(MaxIntervalSeconds))

	err := ValidateInterval(MinIntervalSeconds - 1)
	assert.True(t, apperrors.IsCode(err, apperrors.ErrValidation))

	err = ValidateInterval(MaxIntervalSeconds + 1)
	assert.True(t, apperrors.IsCode(err, apperrors.ErrValidation))
}
