package app

import "time"

// Config contains all runtime configuration loaded from environment variables.
type Config struct {
	HTTPAddr  string
	LogLevel  string
	LogFormat string

	ReadHeaderTimeout time.Duration
	ReadTimeout       time.Duration
	WriteTimeout      time.Duration
	IdleTimeout       time.Duration
	MaxHeaderBytes    int

	DatabaseURL string
	DBMaxConns  int32
	DBMinConns  int32

	// RedisURL enables the Redis-backed conversation cache. Empty falls
	// back to the in-process cache.
	RedisURL       string
	RedisOpTimeout time.Duration

	// Blob storage for voice notes: "local" or "s3".
	BlobBackend string

	UploadsDir     string
	UploadsURLPath string

	S3Bucket        string
	S3Region        string
	S3Endpoint      string
	S3Prefix        string
	S3AccessKey     string
	S3SecretKey     string
	S3UsePathStyle  bool
	S3PublicBaseURL string

	// If true:
	// - /readyz returns 503 unless DB is configured and reachable.
	ReadinessRequireDB bool

	// If true, /readyz also requires the Redis cache to answer a ping.
	ReadinessRequireCache bool
}

// LoadConfig loads Config from environment variables with defaults.
func LoadConfig() Config {
	return Config{
		HTTPAddr:  EnvString("WISP_HTTP_ADDR", "0.0.0.0:8080"),
		LogLevel:  EnvString("WISP_LOG_LEVEL", "info"),
		LogFormat: EnvString("WISP_LOG_FORMAT", "json"),

		ReadHeaderTimeout: EnvDuration("WISP_HTTP_READ_HEADER_TIMEOUT", 5*time.Second),
		ReadTimeout:       EnvDuration("WISP_HTTP_READ_TIMEOUT", 15*time.Second),
		WriteTimeout:      EnvDuration("WISP_HTTP_WRITE_TIMEOUT", 15*time.Second),
		IdleTimeout:       EnvDuration("WISP_HTTP_IDLE_TIMEOUT", 60*time.Second),

		MaxHeaderBytes: EnvInt("WISP_HTTP_MAX_HEADER_BYTES", 1<<20),

		DatabaseURL: EnvString("WISP_DATABASE_URL", ""),
		DBMaxConns:  EnvInt32("WISP_DB_MAX_CONNS", 10),
		DBMinConns:  EnvInt32("WISP_DB_MIN_CONNS", 0),

		RedisURL:       EnvString("WISP_REDIS_URL", ""),
		RedisOpTimeout: EnvDuration("WISP_REDIS_OP_TIMEOUT", 2*time.Second),

		BlobBackend: EnvString("WISP_BLOB_BACKEND", "local"),

		UploadsDir:     EnvString("WISP_UPLOADS_DIR", "uploads"),
		UploadsURLPath: EnvString("WISP_UPLOADS_URL_PATH", "/uploads"),

		S3Bucket:        EnvString("WISP_S3_BUCKET", ""),
		S3Region:        EnvString("WISP_S3_REGION", ""),
		S3Endpoint:      EnvString("WISP_S3_ENDPOINT", ""),
		S3Prefix:        EnvString("WISP_S3_PREFIX", "voice-notes"),
		S3AccessKey:     EnvString("WISP_S3_ACCESS_KEY_ID", ""),
		S3SecretKey:     EnvString("WISP_S3_SECRET_ACCESS_KEY", ""),
		S3UsePathStyle:  EnvBool("WISP_S3_USE_PATH_STYLE", false),
		S3PublicBaseURL: EnvString("WISP_S3_PUBLIC_BASE_URL", ""),

		ReadinessRequireDB:    EnvBool("WISP_READINESS_REQUIRE_DB", false),
		ReadinessRequireCache: EnvBool("WISP_READINESS_REQUIRE_CACHE", false),
	}
}
