// ABOUTME: Tests for configuration loading and validation
// ABOUTME: Covers env expansion, environment-mode rejection, defaults, and duration parsing

package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// writeConfig writes a temp config file and returns its path.
func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "gateway.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoad_Valid(t *testing.T) {
	path := writeConfig(t, `
environment: "prod"
server:
  http_addr: "127.0.0.1:9090"
logging:
  level: "debug"
  format: "json"
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "prod", cfg.Environment)
	assert.Equal(t, "127.0.0.1:9090", cfg.Server.HTTPAddr)
	assert.Equal(t, "https://anf.k8s.production.keymecloud.com", cfg.ANFBaseURL())
	assert.False(t, cfg.Restrictive())
}

func TestLoad_StagingIsRestrictive(t *testing.T) {
	path := writeConfig(t, `environment: "stg"`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.True(t, cfg.Restrictive())
	assert.Equal(t, "http://anf.k8s.staging.keymecloud.com", cfg.ANFBaseURL())
}

func TestLoad_InvalidEnvironmentFailsStartup(t *testing.T) {
	for _, env := range []string{"dev", "production", "STG", ""} {
		path := writeConfig(t, "environment: \""+env+"\"")
		os.Unsetenv("API_ENV")

		_, err := Load(path)
		assert.Error(t, err, "environment %q must be rejected", env)
		assert.Contains(t, err.Error(), "environment")
	}
}

func TestLoad_EnvironmentFromAPIEnv(t *testing.T) {
	t.Setenv("API_ENV", "stg")
	path := writeConfig(t, `server: {http_addr: ":8080"}`)

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "stg", cfg.Environment)
}

func TestLoad_EnvVarExpansion(t *testing.T) {
	t.Setenv("TEST_ANF_URL", "http://localhost:4444")
	path := writeConfig(t, `
environment: "prod"
auth:
  base_url: "${TEST_ANF_URL}"
`)

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "http://localhost:4444", cfg.ANFBaseURL())
}

func TestLoad_Defaults(t *testing.T) {
	path := writeConfig(t, `environment: "prod"`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, ":8080", cfg.Server.HTTPAddr)
	assert.Equal(t, "keyme-calibration", cfg.AWS.CertsBucket)
	assert.Equal(t, "/prod/key-scanner/env", cfg.AWS.ServiceKeySecretID)
	assert.Equal(t, "KEY_SCANNER_API_KEY", cfg.AWS.ServiceKeyField)
	assert.Equal(t, 10*time.Second, cfg.Relay.DialTimeout)
	assert.Equal(t, 8*time.Second, cfg.Relay.GateTimeout)
}

func TestLoad_DurationParsing(t *testing.T) {
	path := writeConfig(t, `
environment: "prod"
relay:
  dial_timeout: "5s"
  gate_timeout: "2s"
`)

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 5*time.Second, cfg.Relay.DialTimeout)
	assert.Equal(t, 2*time.Second, cfg.Relay.GateTimeout)
}

func TestLoad_BadDuration(t *testing.T) {
	path := writeConfig(t, `
environment: "prod"
relay:
  dial_timeout: "soon"
`)

	_, err := Load(path)
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "dial_timeout")
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}
