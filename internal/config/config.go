// Package config handles configuration loading, validation, and persistence
// for the Shepherd session manager.
package config

import (
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/rs/zerolog/log"
)

const (
	DefaultConfigDir  = "config"
	DefaultConfigFile = "config.json"
	DefaultDataDir    = "data"
	DefaultAPIPort    = 1242
)

// Config is the root configuration structure for Shepherd.
type Config struct {
	mu   sync.RWMutex
	path string

	Network  NetworkConfig   `json:"network"`
	Pacing   PacingConfig    `json:"pacing"`
	Accounts []AccountConfig `json:"accounts"`
	API      APIConfig       `json:"api"`
	MQTT     MQTTConfig      `json:"mqtt"`
	Logging  LoggingConfig   `json:"logging"`

	DataDirectory string `json:"data_directory"`
	DatabasePath  string `json:"database_path"`
}

// NetworkConfig identifies the remote service endpoint.
type NetworkConfig struct {
	Address        string `json:"address"`
	ConnectTimeout int    `json:"connect_timeout_sec"`
}

// PacingConfig holds the cross-account pacing policy. The numeric values are
// policy constants inherited from operational experience; they are exposed as
// configuration rather than re-derived.
type PacingConfig struct {
	LoginDelaySec        int    `json:"login_delay_sec"`
	RedeemDelaySec       int    `json:"redeem_delay_sec"`
	MetadataDelaySec     int    `json:"metadata_delay_sec"`
	LivenessTimeoutSec   int    `json:"liveness_timeout_sec"`
	RateLimitCooldownMin int    `json:"rate_limit_cooldown_min"`
	RedeemCooldownHours  int    `json:"redeem_cooldown_hours"`
	ChatPrefix           string `json:"chat_prefix"`
}

// AccountConfig is the per-account block.
type AccountConfig struct {
	Name           string `json:"name"`
	Password       string `json:"password"`
	PasswordScheme string `json:"password_scheme"`
	Enabled        bool   `json:"enabled"`
	OnlineStatus   string `json:"online_status"`
	MasterGroupID  uint64 `json:"master_group_id"`
	UseLoginKey    bool   `json:"use_login_key"`
	TOTPSecret     string `json:"totp_secret"`
	ParentalActive bool   `json:"parental_active"`
	ParentalCode   string `json:"parental_code"`
	ParentalSalt   string `json:"parental_salt"`
	ParentalHash   string `json:"parental_hash"`
}

// ParentalSaltBytes decodes the hex-encoded parental salt; nil when unset
// or malformed.
func (a AccountConfig) ParentalSaltBytes() []byte {
	b, err := hex.DecodeString(a.ParentalSalt)
	if err != nil {
		return nil
	}
	return b
}

// ParentalHashBytes decodes the hex-encoded parental hash; nil when unset
// or malformed.
func (a AccountConfig) ParentalHashBytes() []byte {
	b, err := hex.DecodeString(a.ParentalHash)
	if err != nil {
		return nil
	}
	return b
}

// APIConfig holds admin HTTP API settings.
type APIConfig struct {
	Enabled        bool     `json:"enabled"`
	Port           int      `json:"port"`
	AllowedOrigins []string `json:"allowed_origins"`
}

// MQTTConfig holds MQTT telemetry settings.
type MQTTConfig struct {
	Enabled   bool   `json:"enabled"`
	BrokerURL string `json:"broker_url"`
	Port      int    `json:"port"`
	UseTLS    bool   `json:"use_tls"`
	ClientID  string `json:"client_id"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level      string `json:"level"`
	Directory  string `json:"directory"`
	MaxBackups int    `json:"max_backups"`
}

// DefaultConfig returns a configuration with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Network: NetworkConfig{
			ConnectTimeout: 30,
		},
		Pacing: PacingConfig{
			LoginDelaySec:        10,
			RedeemDelaySec:       15,
			MetadataDelaySec:     5,
			LivenessTimeoutSec:   60,
			RateLimitCooldownMin: 25,
			RedeemCooldownHours:  8,
			ChatPrefix:           "",
		},
		API: APIConfig{
			Enabled: true,
			Port:    DefaultAPIPort,
		},
		MQTT: MQTTConfig{
			Enabled: false,
			Port:    8883,
			UseTLS:  true,
		},
		Logging: LoggingConfig{
			Level:      "info",
			Directory:  "logs",
			MaxBackups: 5,
		},
		DataDirectory: DefaultDataDir,
		DatabasePath:  filepath.Join(DefaultDataDir, "shepherd.db"),
	}
}

// Load reads configuration from a JSON file.
func Load(configDir string) (*Config, error) {
	configPath := filepath.Join(configDir, DefaultConfigFile)

	data, err := os.ReadFile(configPath)
	if err != nil {
		if os.IsNotExist(err) {
			log.Info().Str("path", configPath).Msg("config file not found, creating default")
			cfg := DefaultConfig()
			cfg.path = configPath
			if saveErr := cfg.Save(); saveErr != nil {
				return nil, fmt.Errorf("failed to save default config: %w", saveErr)
			}
			return cfg, nil
		}
		return nil, fmt.Errorf("failed to read config file %s: %w", configPath, err)
	}

	cfg := DefaultConfig() // Start with defaults, then overlay
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file %s: %w", configPath, err)
	}

	cfg.path = configPath
	log.Info().Str("path", configPath).Int("accounts", len(cfg.Accounts)).Msg("configuration loaded")

	// Re-save config to persist any new default fields added in code updates.
	if saveErr := cfg.Save(); saveErr != nil {
		log.Warn().Err(saveErr).Msg("failed to re-save config with updated defaults")
	}

	return cfg, nil
}

// Save writes the current configuration to disk.
func (c *Config) Save() error {
	c.mu.RLock()
	defer c.mu.RUnlock()

	dir := filepath.Dir(c.path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(c.path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	log.Debug().Str("path", c.path).Msg("configuration saved")
	return nil
}

// Account returns the configuration block for the named account.
func (c *Config) Account(name string) (AccountConfig, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	for _, a := range c.Accounts {
		if a.Name == name {
			return a, true
		}
	}
	return AccountConfig{}, false
}

// SetAccount replaces (or appends) the configuration block for an account.
func (c *Config) SetAccount(acct AccountConfig) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for i, a := range c.Accounts {
		if a.Name == acct.Name {
			c.Accounts[i] = acct
			return
		}
	}
	c.Accounts = append(c.Accounts, acct)
}

// GetPacing returns a copy of the pacing configuration.
func (c *Config) GetPacing() PacingConfig {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.Pacing
}

// GetNetwork returns a copy of the network configuration.
func (c *Config) GetNetwork() NetworkConfig {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.Network
}

// AccountNames returns the configured account names in declaration order.
func (c *Config) AccountNames() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	names := make([]string, 0, len(c.Accounts))
	for _, a := range c.Accounts {
		names = append(names, a.Name)
	}
	return names
}

// AccountDataDir returns the per-account data directory, creating it if needed.
func (c *Config) AccountDataDir(name string) string {
	c.mu.RLock()
	dir := filepath.Join(c.DataDirectory, name)
	c.mu.RUnlock()
	os.MkdirAll(dir, 0755)
	return dir
}

// Path returns the config file path.
func (c *Config) Path() string {
	return c.path
}
