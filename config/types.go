package config

// Platform configures the factory created on first start.
type Platform struct {
	// Factory is the factory address. Empty derives it from Owner.
	Factory      string `toml:"Factory"`
	Owner        string `toml:"Owner"`
	Rate         uint64 `toml:"Rate"`
	OpenCreation bool   `toml:"OpenCreation"`
}

// Auth configures bearer token verification on the call endpoint.
type Auth struct {
	HMACSecret       string `toml:"HMACSecret"`
	HMACSecretEnv    string `toml:"HMACSecretEnv"`
	Issuer           string `toml:"Issuer"`
	Audience         string `toml:"Audience"`
	TokenTTLSeconds  int64  `toml:"TokenTTLSeconds"`
	ClockSkewSeconds int64  `toml:"ClockSkewSeconds"`
}

// RateLimit bounds requests per client.
type RateLimit struct {
	RequestsPerSecond float64 `toml:"RequestsPerSecond"`
	Burst             int     `toml:"Burst"`
	// TrustProxyHeaders keys clients by X-Forwarded-For instead of the
	// remote address.
	TrustProxyHeaders bool `toml:"TrustProxyHeaders"`
}

// Indexer configures the event index database.
type Indexer struct {
	Enabled bool `toml:"Enabled"`
	// Driver is sqlite or postgres.
	Driver string `toml:"Driver"`
	DSN    string `toml:"DSN"`
}

// Telemetry configures the OTLP exporters.
type Telemetry struct {
	Endpoint    string  `toml:"Endpoint"`
	Insecure    bool    `toml:"Insecure"`
	Headers     string  `toml:"Headers"`
	Traces      bool    `toml:"Traces"`
	Metrics     bool    `toml:"Metrics"`
	SampleRatio float64 `toml:"SampleRatio"`
}

// Genesis lists the balances credited when the ledger is first created.
type Genesis struct {
	Alloc map[string]string `toml:"Alloc"`
}

// Logging configures the process logger.
type Logging struct {
	Level      string `toml:"Level"`
	File       string `toml:"File"`
	MaxSizeMB  int    `toml:"MaxSizeMB"`
	MaxBackups int    `toml:"MaxBackups"`
	MaxAgeDays int    `toml:"MaxAgeDays"`
}

// Webhook configures signed event deliveries. An empty Endpoint disables it.
type Webhook struct {
	Endpoint    string   `toml:"Endpoint"`
	Secret      string   `toml:"Secret"`
	SecretEnv   string   `toml:"SecretEnv"`
	Topics      []string `toml:"Topics"`
	MaxAttempts int      `toml:"MaxAttempts"`
}
