package config

import (
	"fmt"
	"net"
	"strings"
)

var validOnlineStatuses = map[string]bool{
	"":          true,
	"online":    true,
	"invisible": true,
	"offline":   true,
}

// Validate checks the configuration for errors before the manager starts.
func (c *Config) Validate() error {
	c.mu.RLock()
	defer c.mu.RUnlock()

	var errors []string

	if c.Network.Address == "" {
		errors = append(errors, "network.address is required")
	} else if _, _, err := net.SplitHostPort(c.Network.Address); err != nil {
		errors = append(errors, fmt.Sprintf("network.address %q is not host:port", c.Network.Address))
	}

	if c.Pacing.LivenessTimeoutSec <= 0 {
		errors = append(errors, "pacing.liveness_timeout_sec must be positive")
	}
	if c.Pacing.LoginDelaySec < 0 || c.Pacing.RedeemDelaySec < 0 || c.Pacing.MetadataDelaySec < 0 {
		errors = append(errors, "pacing delays must not be negative")
	}

	if c.API.Enabled && (c.API.Port < 1 || c.API.Port > 65535) {
		errors = append(errors, fmt.Sprintf("api.port %d out of range", c.API.Port))
	}

	if c.MQTT.Enabled && c.MQTT.BrokerURL == "" {
		errors = append(errors, "mqtt.broker_url is required when mqtt is enabled")
	}

	seen := make(map[string]bool)
	for i, a := range c.Accounts {
		if a.Name == "" {
			errors = append(errors, fmt.Sprintf("accounts[%d].name is required", i))
			continue
		}
		if seen[a.Name] {
			errors = append(errors, fmt.Sprintf("duplicate account name %q", a.Name))
		}
		seen[a.Name] = true

		if a.Password == "" && !a.UseLoginKey {
			errors = append(errors, fmt.Sprintf("account %q has no password and login keys disabled", a.Name))
		}
		if !validOnlineStatuses[a.OnlineStatus] {
			errors = append(errors, fmt.Sprintf("account %q has unknown online_status %q", a.Name, a.OnlineStatus))
		}
		if a.PasswordScheme != "" && a.PasswordScheme != "plaintext" && a.PasswordScheme != "aes" {
			errors = append(errors, fmt.Sprintf("account %q has unknown password_scheme %q", a.Name, a.PasswordScheme))
		}
	}

	if len(errors) > 0 {
		return fmt.Errorf("configuration validation failed:\n  - %s", strings.Join(errors, "\n  - "))
	}
	return nil
}
