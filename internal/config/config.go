// Package config reads CHARTSNAP_* environment variables (optionally seeded
// from a .env file) into one validated Config shared by every binary.
package config

import (
	"crypto/rand"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"

	"github.com/dharsanguruparan/ChartSnap/internal/compress"
	"github.com/dharsanguruparan/ChartSnap/internal/s3storage"
)

// Config is the runtime configuration for the widget server, relay API,
// worker and CLI. Not every binary uses every field.
type Config struct {
	WidgetAddress  string `validate:"required"`
	RelayAddress   string `validate:"required"`
	PublicRelayURL string `validate:"required,url"`

	MaxUploadBytes int64         `validate:"gt=0"`
	AllowedTypes   []string      `validate:"min=1,dive,required"`
	SigningSecret  []byte        `validate:"min=16"`
	MobileTTL      time.Duration `validate:"gt=0"`
	PreviewURLTTL  time.Duration `validate:"gt=0"`
	ProcessingPool int           `validate:"gt=0"`

	Compression compress.Options

	ClinicalBaseURL  string `validate:"omitempty,url"`
	ClinicalRelayURL string `validate:"omitempty,url"`
	ClinicalToken    string
	ClinicalTimeout  time.Duration `validate:"gt=0"`
	CapabilitiesFile string

	DatabaseURL   string
	RedisAddr     string `validate:"required"`
	RedisPassword string
	RedisDB       int `validate:"gte=0"`

	S3Endpoint       string
	S3AccessKey      string
	S3SecretKey      string
	S3Region         string
	S3UseSSL         bool
	RawBucket        string `validate:"required"`
	NormalizedBucket string `validate:"required"`

	HeartbeatTimeout time.Duration `validate:"gt=0"`
	MaxReconnects    int           `validate:"gt=0"`
	BackoffInitial   time.Duration `validate:"gt=0"`
	BackoffMax       time.Duration `validate:"gtefield=BackoffInitial"`

	LogLevel  string `validate:"oneof=debug info warn error"`
	LogFormat string `validate:"oneof=auto json console"`
}

const (
	defaultWidgetAddress  = ":8080"
	defaultRelayAddress   = ":8081"
	defaultPublicRelayURL = "http://localhost:8081"
	// Shifts work on untyped constants: 25 << 20 is 25 MiB.
	defaultMaxUploadBytes = 25 << 20
	defaultAllowedTypes   = "image/jpeg,image/png,image/webp,image/gif,image/bmp,image/tiff"
	defaultMobileTTL      = 10 * time.Minute
	defaultPreviewTTL     = 5 * time.Minute
	defaultWorkerCount    = 2
	defaultClinicalTO     = 30 * time.Second
	defaultRedisAddr      = "localhost:6379"
	defaultRawBucket      = "chartsnap-raw"
	defaultNormBucket     = "chartsnap-normalized"
	defaultHeartbeat      = 30 * time.Second
	defaultReconnects     = 5
	defaultBackoffInitial = 500 * time.Millisecond
	defaultBackoffMax     = 15 * time.Second
)

// Load reads .env (when present) and the environment, applies defaults, and
// validates the result.
func Load() (*Config, error) {
	return LoadFile(".env")
}

// LoadFile is Load with an explicit dotenv path. A missing file is ignored;
// variables already set in the environment win.
func LoadFile(dotenv string) (*Config, error) {
	if dotenv != "" {
		// godotenv.Load never overrides variables that are already set, so the
		// real environment wins over the file.
		if err := godotenv.Load(dotenv); err != nil && !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("load %s: %w", dotenv, err)
		}
	}
	comp := compress.DefaultOptions()
	cfg := &Config{
		WidgetAddress:  readEnv("CHARTSNAP_WIDGET_ADDRESS", defaultWidgetAddress),
		RelayAddress:   readEnv("CHARTSNAP_RELAY_ADDRESS", defaultRelayAddress),
		PublicRelayURL: strings.TrimRight(readEnv("CHARTSNAP_PUBLIC_RELAY_URL", defaultPublicRelayURL), "/"),

		MaxUploadBytes: parseInt64("CHARTSNAP_MAX_UPLOAD_BYTES", defaultMaxUploadBytes),
		AllowedTypes:   parseList("CHARTSNAP_ALLOWED_TYPES", defaultAllowedTypes),
		SigningSecret:  parseSecret("CHARTSNAP_SIGNING_SECRET"),
		MobileTTL:      parseDuration("CHARTSNAP_MOBILE_TTL", defaultMobileTTL),
		PreviewURLTTL:  parseDuration("CHARTSNAP_PREVIEW_URL_TTL", defaultPreviewTTL),
		ProcessingPool: parseInt("CHARTSNAP_WORKERS", defaultWorkerCount),

		Compression: compress.Options{
			MaxSizeBytes:    parseInt64("CHARTSNAP_COMPRESS_MAX_BYTES", comp.MaxSizeBytes),
			LongestEdgePx:   parseInt("CHARTSNAP_COMPRESS_LONGEST_EDGE", comp.LongestEdgePx),
			Quality:         parseFloat("CHARTSNAP_COMPRESS_QUALITY", comp.Quality),
			StripEXIF:       parseBool("CHARTSNAP_COMPRESS_STRIP_EXIF", comp.StripEXIF),
			ThumbnailEdgePx: parseInt("CHARTSNAP_THUMBNAIL_EDGE", comp.ThumbnailEdgePx),
		},

		ClinicalBaseURL:  readEnv("CHARTSNAP_CLINICAL_BASE_URL", ""),
		ClinicalRelayURL: readEnv("CHARTSNAP_CLINICAL_RELAY_URL", ""),
		ClinicalToken:    readEnv("CHARTSNAP_CLINICAL_TOKEN", ""),
		ClinicalTimeout:  parseDuration("CHARTSNAP_CLINICAL_TIMEOUT", defaultClinicalTO),
		CapabilitiesFile: readEnv("CHARTSNAP_CAPABILITIES_FILE", ""),

		DatabaseURL:   readEnv("CHARTSNAP_DATABASE_URL", ""),
		RedisAddr:     readEnv("CHARTSNAP_REDIS_ADDR", defaultRedisAddr),
		RedisPassword: readEnv("CHARTSNAP_REDIS_PASSWORD", ""),
		RedisDB:       parseInt("CHARTSNAP_REDIS_DB", 0),

		S3Endpoint:       readEnv("CHARTSNAP_S3_ENDPOINT", "localhost:9000"),
		S3AccessKey:      readEnv("CHARTSNAP_S3_ACCESS_KEY", ""),
		S3SecretKey:      readEnv("CHARTSNAP_S3_SECRET_KEY", ""),
		S3Region:         readEnv("CHARTSNAP_S3_REGION", "us-east-1"),
		S3UseSSL:         parseBool("CHARTSNAP_S3_USE_SSL", false),
		RawBucket:        readEnv("CHARTSNAP_RAW_BUCKET", defaultRawBucket),
		NormalizedBucket: readEnv("CHARTSNAP_NORMALIZED_BUCKET", defaultNormBucket),

		HeartbeatTimeout: parseDuration("CHARTSNAP_HEARTBEAT_TIMEOUT", defaultHeartbeat),
		MaxReconnects:    parseInt("CHARTSNAP_MAX_RECONNECTS", defaultReconnects),
		BackoffInitial:   parseDuration("CHARTSNAP_BACKOFF_INITIAL", defaultBackoffInitial),
		BackoffMax:       parseDuration("CHARTSNAP_BACKOFF_MAX", defaultBackoffMax),

		LogLevel:  strings.ToLower(readEnv("CHARTSNAP_LOG_LEVEL", "info")),
		LogFormat: strings.ToLower(readEnv("CHARTSNAP_LOG_FORMAT", "auto")),
	}
	// Without a configured secret each process gets its own, so tokens do
	// not survive a restart.
	if cfg.SigningSecret == nil {
		cfg.SigningSecret = randomSecret()
	}
	// validator reads the `validate` struct tags; a failure lists every bad
	// field at once.
	if err := validator.New().Struct(cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// UseFakeClinical reports whether no external clinical system is configured.
func (c *Config) UseFakeClinical() bool {
	return c.ClinicalBaseURL == ""
}

func readEnv(key, def string) string {
	// LookupEnv reports presence separately, so an empty value falls back to
	// the default like an unset one.
	if v, ok := os.LookupEnv(key); ok && strings.TrimSpace(v) != "" {
		return strings.TrimSpace(v)
	}
	return def
}

func parseList(key, def string) []string {
	var out []string
	for _, item := range strings.Split(readEnv(key, def), ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}

func parseInt64(key string, def int64) int64 {
	// Unparseable input is ignored and the default kept.
	if parsed, err := strconv.ParseInt(readEnv(key, ""), 10, 64); err == nil {
		return parsed
	}
	return def
}

func parseInt(key string, def int) int {
	if parsed, err := strconv.Atoi(readEnv(key, "")); err == nil {
		return parsed
	}
	return def
}

func parseFloat(key string, def float64) float64 {
	if parsed, err := strconv.ParseFloat(readEnv(key, ""), 64); err == nil {
		return parsed
	}
	return def
}

func parseBool(key string, def bool) bool {
	if parsed, err := strconv.ParseBool(readEnv(key, "")); err == nil {
		return parsed
	}
	return def
}

func parseDuration(key string, def time.Duration) time.Duration {
	// time.ParseDuration accepts values such as "90s" or "10m".
	if parsed, err := time.ParseDuration(readEnv(key, "")); err == nil {
		return parsed
	}
	return def
}

func parseSecret(key string) []byte {
	if v := readEnv(key, ""); v != "" {
		return []byte(v)
	}
	return nil
}

func randomSecret() []byte {
	buf := make([]byte, 32)
	// crypto/rand, not math/rand: this becomes an HMAC key.
	if _, err := rand.Read(buf); err != nil {
		panic(fmt.Sprintf("config: read random secret: %v", err))
	}
	return buf
}

// ObjectStore returns the object storage settings.
func (c *Config) ObjectStore() s3storage.Options {
	return s3storage.Options{
		Endpoint:         c.S3Endpoint,
		AccessKey:        c.S3AccessKey,
		SecretKey:        c.S3SecretKey,
		Region:           c.S3Region,
		UseSSL:           c.S3UseSSL,
		RawBucket:        c.RawBucket,
		NormalizedBucket: c.NormalizedBucket,
	}
}
