package config

import (
	"fmt"
	"strings"

	"storechain/core/genesis"
	"storechain/crypto"
)

// MaxPlatformRate is the upper bound for the platform cut percentage.
var MaxPlatformRate = uint64(100)

// PlatformSettings holds the parsed platform section.
type PlatformSettings struct {
	Factory      [20]byte
	Owner        [20]byte
	Rate         uint64
	OpenCreation bool
}

// ParsePlatform decodes the platform addresses.
func (c *Config) ParsePlatform() (PlatformSettings, error) {
	var out PlatformSettings
	owner, err := crypto.ParseAddress(c.Platform.Owner)
	if err != nil {
		return out, fmt.Errorf("platform.Owner: %w", err)
	}
	out.Owner = owner
	if strings.TrimSpace(c.Platform.Factory) != "" {
		factory, err := crypto.ParseAddress(c.Platform.Factory)
		if err != nil {
			return out, fmt.Errorf("platform.Factory: %w", err)
		}
		out.Factory = factory
	}
	out.Rate = c.Platform.Rate
	out.OpenCreation = c.Platform.OpenCreation
	return out, nil
}

// GenesisSpec validates the genesis allocations.
func (c *Config) GenesisSpec() (*genesis.Spec, error) {
	spec, err := genesis.NewSpec(c.Genesis.Alloc)
	if err != nil {
		return nil, fmt.Errorf("genesis: %w", err)
	}
	return spec, nil
}

func ValidateConfig(c *Config) error {
	if c == nil {
		return fmt.Errorf("config required")
	}
	if _, err := c.ParsePlatform(); err != nil {
		return err
	}
	if c.Platform.Rate > MaxPlatformRate {
		return fmt.Errorf("platform: rate %d exceeds %d", c.Platform.Rate, MaxPlatformRate)
	}
	if c.RateLimit.RequestsPerSecond <= 0 || c.RateLimit.Burst <= 0 {
		return fmt.Errorf("ratelimit: RequestsPerSecond and Burst must be positive")
	}
	if c.Auth.TokenTTLSeconds <= 0 {
		return fmt.Errorf("auth: TokenTTLSeconds must be positive")
	}
	if c.Auth.ClockSkewSeconds < 0 {
		return fmt.Errorf("auth: ClockSkewSeconds must not be negative")
	}
	switch strings.ToLower(strings.TrimSpace(c.Indexer.Driver)) {
	case "sqlite", "postgres":
	default:
		return fmt.Errorf("indexer: unsupported driver %q", c.Indexer.Driver)
	}
	if c.Indexer.Enabled && strings.TrimSpace(c.Indexer.DSN) == "" {
		return fmt.Errorf("indexer: DSN required when enabled")
	}
	if c.Telemetry.SampleRatio < 0 || c.Telemetry.SampleRatio > 1 {
		return fmt.Errorf("telemetry: SampleRatio must be within [0, 1]")
	}
	if strings.TrimSpace(c.Webhook.Endpoint) != "" && c.WebhookSecret() == "" {
		return fmt.Errorf("webhook: secret required when an endpoint is set")
	}
	if _, err := c.GenesisSpec(); err != nil {
		return err
	}
	return nil
}
