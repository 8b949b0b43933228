package app

import (
	"time"

	"github.com/joho/godotenv"
)

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
	ChatSchema  string

	CORSAllowedOrigins   []string
	CORSAllowCredentials bool
	CORSMaxAgeSeconds    int

	// If true:
	// - /readyz returns 503 unless DB is configured and reachable.
	ReadinessRequireDB bool
}

// LoadConfig loads Config from environment variables with defaults.
// A .env file in the working directory is honored when present.
func LoadConfig() Config {
	_ = godotenv.Load()

	return Config{
		HTTPAddr:  EnvString("BIZHUB_HTTP_ADDR", "0.0.0.0:8080"),
		LogLevel:  EnvString("BIZHUB_LOG_LEVEL", "info"),
		LogFormat: EnvString("BIZHUB_LOG_FORMAT", "json"),

		ReadHeaderTimeout: EnvDuration("BIZHUB_HTTP_READ_HEADER_TIMEOUT", 5*time.Second),
		ReadTimeout:       EnvDuration("BIZHUB_HTTP_READ_TIMEOUT", 15*time.Second),
		WriteTimeout:      EnvDuration("BIZHUB_HTTP_WRITE_TIMEOUT", 15*time.Second),
		IdleTimeout:       EnvDuration("BIZHUB_HTTP_IDLE_TIMEOUT", 60*time.Second),

		MaxHeaderBytes: EnvInt("BIZHUB_HTTP_MAX_HEADER_BYTES", 1<<20),

		DatabaseURL: EnvString("BIZHUB_DATABASE_URL", ""),
		DBMaxConns:  EnvInt32("BIZHUB_DB_MAX_CONNS", 10),
		DBMinConns:  EnvInt32("BIZHUB_DB_MIN_CONNS", 0),
		ChatSchema:  EnvString("BIZHUB_DB_SCHEMA", "bizhub"),

		CORSAllowedOrigins:   EnvCSV("BIZHUB_CORS_ALLOWED_ORIGINS", "http://localhost:*,http://127.0.0.1:*"),
		CORSAllowCredentials: EnvBool("BIZHUB_CORS_ALLOW_CREDENTIALS", false),
		CORSMaxAgeSeconds:    EnvInt("BIZHUB_CORS_MAX_AGE_SECONDS", 600),

		ReadinessRequireDB: EnvBool("BIZHUB_READINESS_REQUIRE_DB", false),
	}
}
