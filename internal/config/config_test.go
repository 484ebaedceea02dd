package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

const testSecret = "0123456789abcdef0123456789abcdef"

func TestLoadDefaults(t *testing.T) {
	t.Setenv("CONFIG_FILE", "")
	t.Setenv("JWT_SECRET_KEY", testSecret)

	cfg, err := Load()
	require.NoError(t, err)
	require.Equal(t, "8080", cfg.Server.Port)
	require.Equal(t, 6, cfg.Account.CodeLength)
	require.Equal(t, 10*time.Minute, cfg.Account.CodeTTL)
	require.Equal(t, 3, cfg.Account.MaxRegistrationAttempts)
	require.Equal(t, time.Hour, cfg.Account.RetryWindow)
	require.Equal(t, time.Hour, cfg.Account.UnverifiedRetention)
	require.Equal(t, `^\+923\d{9}$`, cfg.Account.PhonePattern)
	require.Empty(t, cfg.Redis.Endpoint)
}

func TestLoadRequiresSecret(t *testing.T) {
	t.Setenv("CONFIG_FILE", "")
	t.Setenv("JWT_SECRET_KEY", "")

	_, err := Load()
	require.Error(t, err)

	t.Setenv("JWT_SECRET_KEY", "short")
	_, err = Load()
	require.ErrorContains(t, err, "at least 32 bytes")
}

func TestLoadFileThenEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	body := `
server:
  port: "9000"
jwt:
  secret_key: "` + testSecret + `"
  expiry: 2h
account:
  code_ttl: 5m
  max_registration_attempts: 5
redis:
  endpoint: "redis:6379"
`
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))

	t.Setenv("CONFIG_FILE", path)
	t.Setenv("JWT_SECRET_KEY", "")
	t.Setenv("OTP_EXPIRY", "7m")

	cfg, err := Load()
	require.NoError(t, err)
	require.Equal(t, "9000", cfg.Server.Port)
	require.Equal(t, 2*time.Hour, cfg.JWT.Expiry)
	require.Equal(t, 5, cfg.Account.MaxRegistrationAttempts)
	require.Equal(t, 7*time.Minute, cfg.Account.CodeTTL)
	require.Equal(t, "redis:6379", cfg.Redis.Endpoint)
	require.Equal(t, "email-index", cfg.DynamoDB.EmailIndex)
}

func TestValidateRejectsBadPattern(t *testing.T) {
	cfg := defaults()
	cfg.JWT.SecretKey = testSecret
	cfg.Account.PhonePattern = "("
	require.ErrorContains(t, cfg.Validate(), "invalid phone pattern")
}

func TestValidateRejectsRetentionShorterThanRetryWindow(t *testing.T) {
	cfg := defaults()
	cfg.JWT.SecretKey = testSecret
	cfg.Account.UnverifiedRetention = 30 * time.Minute
	require.ErrorContains(t, cfg.Validate(), "UNVERIFIED_RETENTION")

	cfg.Account.UnverifiedRetention = 2 * time.Hour
	require.NoError(t, cfg.Validate())
}

func TestGetEnvAsList(t *testing.T) {
	t.Setenv("FRONTEND_ORIGINS", "https://a.example, https://b.example,")
	require.Equal(t, []string{"https://a.example", "https://b.example"}, getEnvAsList("FRONTEND_ORIGINS", nil))
}
