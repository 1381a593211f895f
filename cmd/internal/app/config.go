package app

import (
	"strings"
	"time"

	"skinlink/cmd/internal/credit"
	"skinlink/cmd/internal/link"
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

	// Empty selects the in-memory stores (single instance only).
	DatabaseURL string
	DBMaxConns  int32
	DBMinConns  int32

	// If true:
	// - /readyz returns 503 unless DB is configured and reachable.
	ReadinessRequireDB bool
	// If true, /readyz also asks the Solana RPC node for its health.
	ReadinessCheckRPC  bool

	NonceTTL time.Duration

	// Security policy:
	// If true, SKINLINK_TOKEN_HMAC_KEY MUST be set (>= 32 bytes) and nonce hashing must be HMAC-based.
	RequireTokenHMAC bool

	RPCURL         string
	Commitment     string
	FundingSecret  string
	ConfirmTimeout time.Duration
	PollInterval   time.Duration
	MaxTransferSOL string

	// "*" reflects any origin. Entries may end in ":*" to allow any port.
	CORSAllowedOrigins   []string
	CORSAllowCredentials bool
	CORSMaxAgeSeconds    int
}

// LoadConfig loads Config from environment variables with defaults.
func LoadConfig() Config {
	return Config{
		HTTPAddr:  EnvString("SKINLINK_HTTP_ADDR", "0.0.0.0:3000"),
		LogLevel:  EnvString("SKINLINK_LOG_LEVEL", "info"),
		LogFormat: EnvString("SKINLINK_LOG_FORMAT", "json"),

		ReadHeaderTimeout: EnvDuration("SKINLINK_HTTP_READ_HEADER_TIMEOUT", 5*time.Second),
		ReadTimeout:       EnvDuration("SKINLINK_HTTP_READ_TIMEOUT", 15*time.Second),
		// Must outlast the confirmation wait of /credit/transfer.
		WriteTimeout: EnvDuration("SKINLINK_HTTP_WRITE_TIMEOUT", 75*time.Second),
		IdleTimeout:  EnvDuration("SKINLINK_HTTP_IDLE_TIMEOUT", 60*time.Second),

		MaxHeaderBytes: EnvInt("SKINLINK_HTTP_MAX_HEADER_BYTES", 1<<20),

		DatabaseURL: EnvString("SKINLINK_DATABASE_URL", ""),
		DBMaxConns:  EnvInt32("SKINLINK_DB_MAX_CONNS", 10),
		DBMinConns:  EnvInt32("SKINLINK_DB_MIN_CONNS", 0),

		ReadinessRequireDB: EnvBool("SKINLINK_READINESS_REQUIRE_DB", false),
		ReadinessCheckRPC:  EnvBool("SKINLINK_READINESS_CHECK_RPC", false),

		NonceTTL: EnvDuration("SKINLINK_NONCE_TTL", link.DefaultNonceTTL),

		RequireTokenHMAC: EnvBool("SKINLINK_REQUIRE_TOKEN_HMAC", false),

		RPCURL:         EnvString("SKINLINK_RPC_URL", EnvString("RPC_URL", credit.DefaultRPCURL)),
		Commitment:     EnvString("SKINLINK_COMMITMENT", "confirmed"),
		FundingSecret:  EnvString("SKINLINK_FUND_WALLET_SECRET", EnvString("FUND_WALLET_SECRET", "")),
		ConfirmTimeout: EnvDuration("SKINLINK_CONFIRM_TIMEOUT", 60*time.Second),
		PollInterval:   EnvDuration("SKINLINK_CONFIRM_POLL_INTERVAL", 500*time.Millisecond),
		MaxTransferSOL: EnvString("SKINLINK_MAX_TRANSFER_SOL", "2"),

		CORSAllowedOrigins:   EnvList("SKINLINK_CORS_ALLOWED_ORIGINS", []string{"*"}),
		CORSAllowCredentials: EnvBool("SKINLINK_CORS_ALLOW_CREDENTIALS", true),
		CORSMaxAgeSeconds:    EnvInt("SKINLINK_CORS_MAX_AGE_SECONDS", 600),
	}
}

// String is safe to log: the funding secret and DB URL are redacted.
func (c Config) String() string {
	redact := func(s string) string {
		if s == "" {
			return "<unset>"
		}
		return "<redacted>"
	}
	return "addr=" + c.HTTPAddr +
		" db=" + redact(c.DatabaseURL) +
		" rpc=" + c.RPCURL +
		" commitment=" + c.Commitment +
		" funding=" + redact(c.FundingSecret) +
		" cors=" + strings.Join(c.CORSAllowedOrigins, ",")
}
