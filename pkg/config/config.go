package config

import (
	"errors"
	"os"
	"strconv"
	"time"
)

// Config holds server configuration. All values come from the environment;
// Load applies defaults and Validate rejects configurations that cannot run.
type Config struct {
	Port     string
	LogLevel string

	// DATABASE_URL. postgres://... selects the Postgres driver; anything
	// else (including empty) falls back to a local SQLite file.
	DatabaseURL string

	// Signing secrets for the stateless bearer credentials. Mandatory.
	JWTSecret        string
	JWTRefreshSecret string
	AccessTokenTTL   time.Duration
	RefreshTokenTTL  time.Duration

	FrontURL   string
	APIBaseURL string

	// Bootstrap-only credentials for the first super admin.
	DefaultAdminEmail    string
	DefaultAdminPassword string

	// Process-wide notification credentials; tenant settings may override.
	ResendAPIKey    string
	ResendFromEmail string
	ZapiInstanceID  string
	ZapiToken       string
	ZapiClientToken string

	// Payment gateway state mirror (tenant fields only; no client in-core).
	AsaasBaseURL string
	AsaasAPIKey  string

	PadesCertificatePath     string
	PadesCertificatePassword string

	// Blob storage backend: fs | s3 | gcs.
	BlobBackend string
	UploadsDir  string
	S3Bucket    string
	S3Region    string
	S3Endpoint  string
	GCSBucket   string

	// External stamping service; empty selects the built-in static stamper.
	StamperURL string

	// Optional Redis for rate limiting; empty disables (fail open).
	RedisURL string

	MaxUploadBytes  int64
	SchedulerPeriod time.Duration

	OtelEnabled  bool
	OtelEndpoint string
}

// Load loads configuration from environment variables.
func Load() *Config {
	return &Config{
		Port:        getenv("PORT", "8080"),
		LogLevel:    getenv("LOG_LEVEL", "INFO"),
		DatabaseURL: os.Getenv("DATABASE_URL"),

		JWTSecret:        os.Getenv("JWT_SECRET"),
		JWTRefreshSecret: os.Getenv("JWT_REFRESH_SECRET"),
		AccessTokenTTL:   getenvDuration("ACCESS_TOKEN_TTL", 15*time.Minute),
		RefreshTokenTTL:  getenvDuration("REFRESH_TOKEN_TTL", 7*24*time.Hour),

		FrontURL:   getenv("FRONT_URL", "http://localhost:5173"),
		APIBaseURL: getenv("API_BASE_URL", "http://localhost:8080"),

		DefaultAdminEmail:    os.Getenv("DEFAULT_ADMIN_EMAIL"),
		DefaultAdminPassword: os.Getenv("DEFAULT_ADMIN_PASSWORD"),

		ResendAPIKey:    os.Getenv("RESEND_API_KEY"),
		ResendFromEmail: getenv("RESEND_FROM_EMAIL", "no-reply@assinado.app"),
		ZapiInstanceID:  os.Getenv("ZAPI_INSTANCE_ID"),
		ZapiToken:       os.Getenv("ZAPI_TOKEN"),
		ZapiClientToken: os.Getenv("ZAPI_CLIENT_TOKEN"),

		AsaasBaseURL: getenv("ASAAS_BASE_URL", "https://api.asaas.com/v3"),
		AsaasAPIKey:  os.Getenv("ASAAS_API_KEY"),

		PadesCertificatePath:     os.Getenv("PADES_CERTIFICATE_PATH"),
		PadesCertificatePassword: os.Getenv("PADES_CERTIFICATE_PASSWORD"),

		BlobBackend: getenv("BLOB_BACKEND", "fs"),
		UploadsDir:  getenv("UPLOADS_DIR", "."),
		S3Bucket:    os.Getenv("S3_BUCKET"),
		S3Region:    getenv("S3_REGION", "us-east-1"),
		S3Endpoint:  os.Getenv("S3_ENDPOINT"),
		GCSBucket:   os.Getenv("GCS_BUCKET"),

		StamperURL: os.Getenv("STAMPER_URL"),
		RedisURL:   os.Getenv("REDIS_URL"),

		MaxUploadBytes:  getenvInt64("MAX_UPLOAD_BYTES", 25<<20),
		SchedulerPeriod: getenvDuration("SCHEDULER_PERIOD", 10*time.Minute),

		OtelEnabled:  os.Getenv("OTEL_ENABLED") == "true",
		OtelEndpoint: getenv("OTEL_ENDPOINT", "localhost:4317"),
	}
}

// Validate fails fast on configurations that must not reach production.
func (c *Config) Validate() error {
	if len(c.JWTSecret) < 32 {
		return errors.New("config: JWT_SECRET is mandatory and must be at least 32 bytes")
	}
	if len(c.JWTRefreshSecret) < 32 {
		return errors.New("config: JWT_REFRESH_SECRET is mandatory and must be at least 32 bytes")
	}
	if c.JWTSecret == c.JWTRefreshSecret {
		return errors.New("config: JWT_SECRET and JWT_REFRESH_SECRET must differ")
	}
	switch c.BlobBackend {
	case "fs", "s3", "gcs":
	default:
		return errors.New("config: BLOB_BACKEND must be one of fs, s3, gcs")
	}
	if c.BlobBackend == "s3" && c.S3Bucket == "" {
		return errors.New("config: S3_BUCKET is required when BLOB_BACKEND=s3")
	}
	return nil
}

func getenv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getenvDuration(key string, fallback time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return fallback
	}
	return d
}

func getenvInt64(key string, fallback int64) int64 {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return fallback
	}
	return n
}
