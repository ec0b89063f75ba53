package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"storechain/crypto"

	"github.com/BurntSushi/toml"
)

// lightKeystore selects cheap scrypt parameters for the operator keystore.
var lightKeystore = false

type Config struct {
	ListenAddress       string `toml:"ListenAddress"`
	DataDir             string `toml:"DataDir"`
	Environment         string `toml:"Environment"`
	KeystorePath        string `toml:"KeystorePath"`
	ReadTimeoutSeconds  int    `toml:"ReadTimeoutSeconds"`
	WriteTimeoutSeconds int    `toml:"WriteTimeoutSeconds"`
	// MaxConnections caps concurrent RPC connections. Zero means unlimited.
	MaxConnections int `toml:"MaxConnections"`

	Logging   Logging   `toml:"logging"`
	Platform  Platform  `toml:"platform"`
	Auth      Auth      `toml:"auth"`
	RateLimit RateLimit `toml:"ratelimit"`
	Indexer   Indexer   `toml:"indexer"`
	Telemetry Telemetry `toml:"telemetry"`
	Genesis   Genesis   `toml:"genesis"`
	Webhook   Webhook   `toml:"webhook"`
}

// LoadOption customises Load.
type LoadOption func(*loadOptions)

type loadOptions struct {
	passphrase func() (string, error)
}

// WithKeystorePassphraseSource supplies the operator keystore passphrase. It
// is only consulted when Load has to create or open the keystore.
func WithKeystorePassphraseSource(source func() (string, error)) LoadOption {
	return func(o *loadOptions) {
		if source != nil {
			o.passphrase = source
		}
	}
}

// Load loads the configuration from the given path. A missing file is
// replaced by a default configuration whose platform owner is a freshly
// generated operator key.
func Load(path string, opts ...LoadOption) (*Config, error) {
	options := loadOptions{passphrase: func() (string, error) { return "", nil }}
	for _, opt := range opts {
		opt(&options)
	}
	cfg := &Config{}
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return createDefault(path, options)
	}

	if _, err := toml.DecodeFile(path, cfg); err != nil {
		return nil, err
	}
	applyDefaults(cfg)

	if strings.TrimSpace(cfg.Platform.Owner) == "" {
		if err := ensureKeystore(path, cfg, options); err != nil {
			return nil, err
		}
	}
	if err := ValidateConfig(cfg); err != nil {
		return nil, fmt.Errorf("config %s: %w", path, err)
	}
	return cfg, nil
}

func applyDefaults(cfg *Config) {
	if strings.TrimSpace(cfg.ListenAddress) == "" {
		cfg.ListenAddress = ":8080"
	}
	if strings.TrimSpace(cfg.DataDir) == "" {
		cfg.DataDir = "./store-data"
	}
	if cfg.ReadTimeoutSeconds <= 0 {
		cfg.ReadTimeoutSeconds = 15
	}
	if cfg.WriteTimeoutSeconds <= 0 {
		cfg.WriteTimeoutSeconds = 15
	}
	if strings.TrimSpace(cfg.Logging.Level) == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Auth.TokenTTLSeconds <= 0 {
		cfg.Auth.TokenTTLSeconds = 3600
	}
	if strings.TrimSpace(cfg.Auth.Issuer) == "" {
		cfg.Auth.Issuer = "storechain"
	}
	if cfg.RateLimit.RequestsPerSecond <= 0 {
		cfg.RateLimit.RequestsPerSecond = 20
	}
	if cfg.RateLimit.Burst <= 0 {
		cfg.RateLimit.Burst = 40
	}
	if strings.TrimSpace(cfg.Indexer.Driver) == "" {
		cfg.Indexer.Driver = "sqlite"
	}
	if cfg.Webhook.MaxAttempts <= 0 {
		cfg.Webhook.MaxAttempts = 5
	}
	if cfg.Genesis.Alloc == nil {
		cfg.Genesis.Alloc = map[string]string{}
	}
}

// ensureKeystore generates the operator key when none exists and makes its
// address the platform owner.
func ensureKeystore(configPath string, cfg *Config, options loadOptions) error {
	keystorePath := cfg.KeystorePath
	if keystorePath == "" {
		keystorePath = defaultKeystorePath(configPath)
	}
	passphrase, err := options.passphrase()
	if err != nil {
		return fmt.Errorf("operator keystore passphrase: %w", err)
	}

	var key *crypto.PrivateKey
	if _, err := os.Stat(keystorePath); os.IsNotExist(err) {
		generated, genErr := crypto.GeneratePrivateKey()
		if genErr != nil {
			return genErr
		}
		if err := crypto.SaveToKeystore(keystorePath, generated, passphrase, lightKeystore); err != nil {
			return err
		}
		key = generated
	} else if err != nil {
		return err
	} else {
		loaded, err := crypto.LoadFromKeystore(keystorePath, passphrase)
		if err != nil {
			return fmt.Errorf("load operator keystore: %w", err)
		}
		key = loaded
	}

	cfg.KeystorePath = keystorePath
	cfg.Platform.Owner = key.PubKey().Address().String()
	return persist(configPath, cfg)
}

// createDefault creates and saves a default configuration file.
func createDefault(path string, options loadOptions) (*Config, error) {
	cfg := &Config{
		ListenAddress: ":8080",
		DataDir:       "./store-data",
		Environment:   "local",
		Platform: Platform{
			Rate:         5,
			OpenCreation: true,
		},
		Indexer: Indexer{
			Enabled: true,
			Driver:  "sqlite",
			DSN:     "file:store-index.db",
		},
		Telemetry: Telemetry{
			Endpoint: "localhost:4318",
			Insecure: true,
		},
	}
	applyDefaults(cfg)
	if err := ensureKeystore(path, cfg, options); err != nil {
		return nil, err
	}
	return cfg, nil
}

func persist(path string, cfg *Config) error {
	dir := filepath.Dir(path)
	if dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_TRUNC|os.O_CREATE, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()

	return toml.NewEncoder(f).Encode(cfg)
}

func defaultKeystorePath(configPath string) string {
	dir := filepath.Dir(configPath)
	if dir == "." || dir == "" {
		dir = ""
	}
	return filepath.Join(dir, "operator.keystore")
}

// HMACSecret resolves the token signing secret, preferring the environment
// variable named by HMACSecretEnv.
func (c *Config) HMACSecret() string {
	if env := strings.TrimSpace(c.Auth.HMACSecretEnv); env != "" {
		if value := strings.TrimSpace(os.Getenv(env)); value != "" {
			return value
		}
	}
	return strings.TrimSpace(c.Auth.HMACSecret)
}

// WebhookSecret resolves the webhook signing secret the same way.
func (c *Config) WebhookSecret() string {
	if env := strings.TrimSpace(c.Webhook.SecretEnv); env != "" {
		if value := strings.TrimSpace(os.Getenv(env)); value != "" {
			return value
		}
	}
	return strings.TrimSpace(c.Webhook.Secret)
}
