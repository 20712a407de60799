package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := LoadFile("")
	require.NoError(t, err)
	assert.Equal(t, ":8080", cfg.WidgetAddress)
	assert.Equal(t, 10*time.Minute, cfg.MobileTTL)
	assert.Equal(t, int64(1<<20), cfg.Compression.MaxSizeBytes)
	assert.Equal(t, 2048, cfg.Compression.LongestEdgePx)
	assert.InDelta(t, 0.85, cfg.Compression.Quality, 1e-9)
	assert.True(t, cfg.Compression.StripEXIF)
	assert.Len(t, cfg.SigningSecret, 32)
	assert.True(t, cfg.UseFakeClinical())
	assert.Equal(t, 30*time.Second, cfg.HeartbeatTimeout)
	assert.Equal(t, 5, cfg.MaxReconnects)
	assert.Contains(t, cfg.AllowedTypes, "image/png")
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("CHARTSNAP_WIDGET_ADDRESS", ":9999")
	t.Setenv("CHARTSNAP_ALLOWED_TYPES", " image/jpeg , ,image/png")
	t.Setenv("CHARTSNAP_SIGNING_SECRET", "0123456789abcdef0123")
	t.Setenv("CHARTSNAP_MOBILE_TTL", "90s")
	t.Setenv("CHARTSNAP_COMPRESS_QUALITY", "0.7")
	t.Setenv("CHARTSNAP_COMPRESS_STRIP_EXIF", "false")
	t.Setenv("CHARTSNAP_CLINICAL_BASE_URL", "https://ehr.example.com/api")
	t.Setenv("CHARTSNAP_WORKERS", "not-a-number")

	cfg, err := LoadFile("")
	require.NoError(t, err)
	assert.Equal(t, ":9999", cfg.WidgetAddress)
	assert.Equal(t, []string{"image/jpeg", "image/png"}, cfg.AllowedTypes)
	assert.Equal(t, []byte("0123456789abcdef0123"), cfg.SigningSecret)
	assert.Equal(t, 90*time.Second, cfg.MobileTTL)
	assert.InDelta(t, 0.7, cfg.Compression.Quality, 1e-9)
	assert.False(t, cfg.Compression.StripEXIF)
	assert.False(t, cfg.UseFakeClinical())
	assert.Equal(t, 2, cfg.ProcessingPool)
}

func TestLoadRejectsInvalid(t *testing.T) {
	tests := map[string]string{
		"CHARTSNAP_LOG_LEVEL":         "verbose",
		"CHARTSNAP_SIGNING_SECRET":    "short",
		"CHARTSNAP_CLINICAL_BASE_URL": "not a url",
		"CHARTSNAP_WORKERS":           "0",
	}
	for key, value := range tests {
		t.Run(key, func(t *testing.T) {
			t.Setenv(key, value)
			_, err := LoadFile("")
			assert.Error(t, err)
		})
	}
}

func TestLoadDotenv(t *testing.T) {
	path := filepath.Join(t.TempDir(), ".env")
	require.NoError(t, os.WriteFile(path, []byte("CHARTSNAP_RELAY_ADDRESS=:7000\nCHARTSNAP_REDIS_DB=3\n"), 0o600))
	t.Setenv("CHARTSNAP_REDIS_DB", "4")
	t.Cleanup(func() { os.Unsetenv("CHARTSNAP_RELAY_ADDRESS") })

	cfg, err := LoadFile(path)
	require.NoError(t, err)
	assert.Equal(t, ":7000", cfg.RelayAddress)
	assert.Equal(t, 4, cfg.RedisDB)

	_, err = LoadFile(filepath.Join(t.TempDir(), "missing.env"))
	assert.NoError(t, err)
}
