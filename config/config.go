package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"

	"hubd/core/types"
)

// Environment variables recognized on top of the config file.
const (
	EnvNetworkID     = "FC_NETWORK_ID"
	EnvEthMainnetRPC = "ETH_MAINNET_RPC_URL"
	EnvEthRPC        = "ETH_RPC_URL"
	EnvStatsdServer  = "STATSD_METRICS_SERVER"
	EnvAdminSecret   = "HUBD_ADMIN_SECRET"
	EnvKeystorePass  = "HUBD_KEYSTORE_PASS"
)

type Config struct {
	RPCAddress        string `toml:"RPCAddress"`
	DataDir           string `toml:"DataDir"`
	Network           string `toml:"Network"`
	IdentityKeystore  string `toml:"IdentityKeystore"`
	LogPath           string `toml:"LogPath"`
	LogMaxSizeMB      int    `toml:"LogMaxSizeMB"`
	ValidationWorkers int    `toml:"ValidationWorkers"`
	OtelEndpoint      string `toml:"OtelEndpoint"`
	OtelInsecure      bool   `toml:"OtelInsecure"`

	// Populated from the environment, never persisted.
	EthMainnetRPCURL string `toml:"-"`
	EthRPCURL        string `toml:"-"`
	StatsdServer     string `toml:"-"`
	AdminSecret      string `toml:"-"`
}

// Load reads the configuration file, creating it with defaults when absent,
// then applies environment overrides. A .env file next to the working
// directory is honored when present.
func Load(path string) (*Config, error) {
	// Missing .env files are fine; malformed ones are not.
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		if _, statErr := os.Stat(".env"); statErr == nil {
			return nil, fmt.Errorf("load .env: %w", err)
		}
	}

	cfg := defaultConfig(path)
	if _, err := os.Stat(path); os.IsNotExist(err) {
		if err := persist(path, cfg); err != nil {
			return nil, err
		}
	} else {
		if _, err := toml.DecodeFile(path, cfg); err != nil {
			return nil, fmt.Errorf("decode config %s: %w", path, err)
		}
	}

	applyEnv(cfg)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func defaultConfig(path string) *Config {
	base := filepath.Dir(path)
	return &Config{
		RPCAddress:        "0.0.0.0:2281",
		DataDir:           filepath.Join(base, "data"),
		Network:           "mainnet",
		IdentityKeystore:  filepath.Join(base, "identity.json"),
		LogMaxSizeMB:      100,
		ValidationWorkers: 4,
	}
}

func applyEnv(cfg *Config) {
	if v := strings.TrimSpace(os.Getenv(EnvNetworkID)); v != "" {
		cfg.Network = v
	}
	cfg.EthMainnetRPCURL = strings.TrimSpace(os.Getenv(EnvEthMainnetRPC))
	cfg.EthRPCURL = strings.TrimSpace(os.Getenv(EnvEthRPC))
	cfg.StatsdServer = strings.TrimSpace(os.Getenv(EnvStatsdServer))
	cfg.AdminSecret = strings.TrimSpace(os.Getenv(EnvAdminSecret))
}

// Validate rejects configurations the engine cannot start with.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.RPCAddress) == "" {
		return fmt.Errorf("config: RPCAddress required")
	}
	if strings.TrimSpace(c.DataDir) == "" {
		return fmt.Errorf("config: DataDir required")
	}
	if _, err := c.ParsedNetwork(); err != nil {
		return fmt.Errorf("config: %w", err)
	}
	if c.ValidationWorkers < 0 {
		return fmt.Errorf("config: ValidationWorkers must not be negative")
	}
	return nil
}

// ParsedNetwork resolves the configured network name or numeric id.
func (c *Config) ParsedNetwork() (types.Network, error) {
	return types.ParseNetwork(c.Network)
}

func persist(path string, cfg *Config) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return err
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o600)
	if err != nil {
		return err
	}
	defer f.Close()
	return toml.NewEncoder(f).Encode(cfg)
}
