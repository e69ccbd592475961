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

	AuthTimeout      time.Duration
	HeartbeatTimeout time.Duration
	SweepInterval    time.Duration
	SendQueueSize    int

	DatabaseURL string
	DBMaxConns  int32
	DBMinConns  int32

	// Strict CORS allowlist for the ambient HTTP surface (/healthz,
	// /readyz, /metrics). The /ws endpoint enforces its own policy via
	// the hub gateway and is not subject to these rules.
	//
	// Rules:
	// - exact origin: "https://app.example.com"
	// - wildcard port: "http://localhost:*"
	// - wildcard all: "*" (not recommended with credentials)
	CORSAllowedOrigins   []string
	CORSAllowCredentials bool
	CORSMaxAgeSeconds    int

	// If true, /readyz returns 503 unless the database is configured and
	// reachable.
	ReadinessRequireDB bool

	// Security policy: if true, IPCHUB_TOKEN_HMAC_KEY MUST be set (>= 32
	// bytes) so session tokens are HMAC-backed rather than bare ULIDs.
	RequireTokenHMAC bool
}

// LoadConfig loads Config from environment variables with defaults.
func LoadConfig() Config {
	corsDefault := "http://localhost:*,http://127.0.0.1:*"
	corsRaw := EnvString("IPCHUB_HTTP_CORS_ALLOWED_ORIGINS", corsDefault)

	return Config{
		HTTPAddr:  EnvString("IPCHUB_HTTP_ADDR", "127.0.0.1:17171"),
		LogLevel:  EnvString("IPCHUB_LOG_LEVEL", "info"),
		LogFormat: EnvString("IPCHUB_LOG_FORMAT", "auto"),

		ReadHeaderTimeout: EnvDuration("IPCHUB_HTTP_READ_HEADER_TIMEOUT", 5*time.Second),
		ReadTimeout:       EnvDuration("IPCHUB_HTTP_READ_TIMEOUT", 15*time.Second),
		WriteTimeout:      EnvDuration("IPCHUB_HTTP_WRITE_TIMEOUT", 15*time.Second),
		IdleTimeout:       EnvDuration("IPCHUB_HTTP_IDLE_TIMEOUT", 60*time.Second),

		MaxHeaderBytes: EnvInt("IPCHUB_HTTP_MAX_HEADER_BYTES", 1<<20),

		AuthTimeout:      EnvDuration("IPCHUB_AUTH_TIMEOUT", 10*time.Second),
		HeartbeatTimeout: EnvDuration("IPCHUB_HEARTBEAT_TIMEOUT", 20*time.Second),
		SweepInterval:    EnvDuration("IPCHUB_SWEEP_INTERVAL", 5*time.Second),
		SendQueueSize:    EnvInt("IPCHUB_SEND_QUEUE_SIZE", 128),

		DatabaseURL: EnvString("IPCHUB_DATABASE_URL", ""),
		DBMaxConns:  EnvInt32("IPCHUB_DB_MAX_CONNS", 10),
		DBMinConns:  EnvInt32("IPCHUB_DB_MIN_CONNS", 0),

		CORSAllowedOrigins:   parseCSV(corsRaw),
		CORSAllowCredentials: EnvBool("IPCHUB_HTTP_CORS_ALLOW_CREDENTIALS", true),
		CORSMaxAgeSeconds:    EnvInt("IPCHUB_HTTP_CORS_MAX_AGE_SECONDS", 600),

		ReadinessRequireDB: EnvBool("IPCHUB_READINESS_REQUIRE_DB", false),

		RequireTokenHMAC: EnvBool("IPCHUB_REQUIRE_TOKEN_HMAC", false),
	}
}
