package app

import "time"

// Config contains all runtime configuration loaded from environment variables.
type Config struct {
	HTTPAddr  string
	LogLevel  string
	LogFormat string

	// ServerBaseURL is the task server's http(s) origin; the REST fallback
	// endpoints live under it.
	ServerBaseURL string
	// WSBaseURL overrides the websocket base; when empty it is derived from
	// ServerBaseURL with the scheme upgraded to ws(s).
	WSBaseURL string

	// SessionCookie is the ambient credential in "name=value" form. When set
	// it is installed into the cookie jar shared by the REST client and the
	// websocket transport.
	SessionCookie string
	// BearerToken engages the subprotocol fallback when no cookie is
	// configured and the token is well-formed.
	BearerToken string
	// AllowQueryToken opts in to the query-parameter token fallback.
	AllowQueryToken bool

	// SelfUserID / SelfUsername identify the local user for unread
	// accounting and typing-view filtering.
	SelfUserID   int64
	SelfUsername string

	PageSize int

	DatabaseURL string
	DBMaxConns  int32
	DBMinConns  int32

	// If true, /readyz returns 503 unless DB is configured and reachable.
	ReadinessRequireDB bool

	ShutdownTimeout time.Duration
}

// LoadConfig loads Config from environment variables with defaults.
func LoadConfig() Config {
	return Config{
		HTTPAddr:  EnvString("TETHER_HTTP_ADDR", "127.0.0.1:8081"),
		LogLevel:  EnvString("TETHER_LOG_LEVEL", "info"),
		LogFormat: EnvString("TETHER_LOG_FORMAT", "json"),

		ServerBaseURL: EnvString("TETHER_SERVER_BASE_URL", "http://127.0.0.1:8000"),
		WSBaseURL:     EnvString("TETHER_WS_BASE_URL", ""),

		SessionCookie:   EnvString("TETHER_SESSION_COOKIE", ""),
		BearerToken:     EnvString("TETHER_BEARER_TOKEN", ""),
		AllowQueryToken: EnvBool("TETHER_ALLOW_QUERY_TOKEN", false),

		SelfUserID:   EnvInt64("TETHER_SELF_USER_ID", 0),
		SelfUsername: EnvString("TETHER_SELF_USERNAME", ""),

		PageSize: EnvInt("TETHER_PAGE_SIZE", 30),

		DatabaseURL: EnvString("TETHER_DATABASE_URL", ""),
		DBMaxConns:  EnvInt32("TETHER_DB_MAX_CONNS", 4),
		DBMinConns:  EnvInt32("TETHER_DB_MIN_CONNS", 0),

		ReadinessRequireDB: EnvBool("TETHER_READINESS_REQUIRE_DB", false),

		ShutdownTimeout: EnvDuration("TETHER_SHUTDOWN_TIMEOUT", 10*time.Second),
	}
}

// WSBase returns the websocket base URL, deriving it from the server origin
// when no explicit override is configured.
func (c Config) WSBase() string {
	if c.WSBaseURL != "" {
		return c.WSBaseURL
	}
	return c.ServerBaseURL
}
