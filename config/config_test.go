package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

func lookup(vars map[string]string) func(string) string {
	return func(k string) string { return vars[k] }
}

func required() map[string]string {
	return map[string]string{
		"DATABASE_URL":    "postgres://offers:s3cret@db:5432/offers?sslmode=disable",
		"JWT_SECRET":      "jwt",
		"DOCUMENT_SECRET": "doc",
		"OCR_URL":         "https://ocr.example.com",
	}
}

func TestFromEnvDefaults(t *testing.T) {
	cfg, err := FromEnv(lookup(required()))
	require.NoError(t, err)

	assert.Equal(t, "development", cfg.Environment)
	assert.Equal(t, "8080", cfg.Server.Port)
	assert.Equal(t, 2*time.Minute, cfg.OCR.Timeout)
	assert.Equal(t, 0.6, cfg.OCR.MinConfidence)
	assert.Equal(t, 15*time.Minute, cfg.Documents.LinkTTL)
	assert.Equal(t, 587, cfg.Notify.SMTPPort)
	assert.Equal(t, time.Hour, cfg.Expiry.SweepInterval)
	assert.Equal(t, int32(10), cfg.Database.MaxConns)
}

func TestFromEnvOverrides(t *testing.T) {
	vars := required()
	vars["OCR_TIMEOUT"] = "45s"
	vars["DOCUMENT_LINK_TTL"] = "1h"
	vars["PUBLIC_BASE_URL"] = "https://offers.example.com/"
	vars["OPERATOR_TELEGRAM_CHAT_ID"] = "-100123"

	cfg, err := FromEnv(lookup(vars))
	require.NoError(t, err)

	assert.Equal(t, 45*time.Second, cfg.OCR.Timeout)
	assert.Equal(t, 15*time.Minute, cfg.Documents.LinkTTL, "link ttl is capped")
	assert.Equal(t, "https://offers.example.com", cfg.Documents.PublicBaseURL)
	assert.Equal(t, int64(-100123), cfg.Notify.OperatorTelegramChatID)
}

func TestFromEnvMissing(t *testing.T) {
	vars := required()
	delete(vars, "JWT_SECRET")
	delete(vars, "OCR_URL")

	_, err := FromEnv(lookup(vars))
	require.ErrorIs(t, err, ErrMissing)
	assert.Contains(t, err.Error(), "JWT_SECRET, OCR_URL")
}

func TestFromEnvInvalid(t *testing.T) {
	vars := required()
	vars["OCR_TIMEOUT"] = "soon"
	vars["SMTP_PORT"] = "twenty-five"

	_, err := FromEnv(lookup(vars))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "OCR_TIMEOUT")
	assert.Contains(t, err.Error(), "SMTP_PORT")
}

func TestLoadReadsEnvFile(t *testing.T) {
	for k := range required() {
		t.Setenv(k, "")
		os.Unsetenv(k)
	}
	t.Setenv("PORT", "")
	os.Unsetenv("PORT")

	path := filepath.Join(t.TempDir(), ".env")
	body := "DATABASE_URL=postgres://localhost/offers\nJWT_SECRET=a\nDOCUMENT_SECRET=b\nOCR_URL=http://ocr\nPORT=9090\n"
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "9090", cfg.Server.Port)
	assert.Equal(t, "postgres://localhost/offers", cfg.Database.URL)
}

func TestLogConfigRedactsSecrets(t *testing.T) {
	cfg, err := FromEnv(lookup(required()))
	require.NoError(t, err)

	core, logs := observer.New(zap.InfoLevel)
	cfg.LogConfig(zap.New(core))

	require.Equal(t, 1, logs.Len())
	fields := logs.All()[0].ContextMap()
	assert.Equal(t, "postgres://offers:[REDACTED]@db:5432/offers?sslmode=disable", fields["database"])
	for _, v := range fields {
		if s, ok := v.(string); ok {
			assert.NotContains(t, s, "s3cret")
		}
	}
}
