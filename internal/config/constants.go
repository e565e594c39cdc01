package config

import "time"

// Database connection pool settings
const (
	DBMaxOpenConns    = 25
	DBMaxIdleConns    = 5
	DBConnMaxLifetime = 5 * time.Minute
)

// HTTP server timeouts
const (
	ServerRequestTimeout  = 60 * time.Second
	ServerReadTimeout     = 15 * time.Second
	ServerIdleTimeout     = 120 * time.Second
	ServerShutdownTimeout = 30 * time.Second
)

// Database ping timeout for health checks
const DBPingTimeout = 5 * time.Second

// Session Lock TTL (spec §4.3)
const SessionLockTTL = 5 * time.Minute

// Session Supervisor deadlines (spec §4.6 / §5)
const (
	QRWaitTimeout         = 60 * time.Second
	ConnectionWaitTimeout = 20 * time.Second
	WarmupWaitTimeout     = 15 * time.Second
)

// Reconnect backoff bounds (spec §4.6 reconnect policy)
const (
	ReconnectBaseDelay = 1 * time.Second
	ReconnectMaxDelay  = 30 * time.Second
	ReconnectMaxJitter = 500 * time.Millisecond
	ReconnectMaxShift  = 5 // exponent caps at 5; base * 2^5 (32s) is then capped by ReconnectMaxDelay
)

// Event bus heartbeat interval (spec §4.4)
const HeartbeatInterval = 25 * time.Second

// LockRefreshInterval is how often the background job touches every lock
// this process holds; kept well under SessionLockTTL so a quiet connection
// never has its lease go stale between connection-update events.
const LockRefreshInterval = 1 * time.Minute

// Tenant Key Registry bounds (spec §4.1)
const (
	ApiKeyEntropyBytes   = 24 // >= 192 bits
	ApiKeyPrefix         = "wag_"
	KeyGenerationRetries = 5
)

// Default MSISDN country code used when a local number starts with "0"
// (spec §4.6 sendText normalisation).
const DefaultCountryCode = "62"
