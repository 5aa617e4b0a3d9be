// Package config defines the runtime configuration, loaded from a JSON5
// file with environment overrides.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// Config is the root configuration.
type Config struct {
	Agent      AgentConfig               `json:"agent"`
	Providers  map[string]ProviderConfig `json:"providers"`
	Sessions   SessionsConfig            `json:"sessions"`
	Bots       BotsConfig                `json:"bots"`
	Extensions ExtensionsConfig          `json:"extensions"`
	Telemetry  TelemetryConfig           `json:"telemetry"`
}

// AgentConfig controls the loop itself.
type AgentConfig struct {
	Workspace     string  `json:"workspace"`
	Provider      string  `json:"provider"`
	Model         string  `json:"model"`
	MaxIterations int     `json:"max_iterations"`
	MaxTokens     int     `json:"max_tokens"`
	Temperature   float64 `json:"temperature"`
	Stream        bool    `json:"stream"`
	DrainMode     string  `json:"drain_mode"` // "one" or "all"
}

// ProviderConfig holds one provider's credentials.
type ProviderConfig struct {
	APIKey  string `json:"api_key"`
	BaseURL string `json:"base_url"`
	Model   string `json:"model"`
}

// SessionsConfig controls persistence.
type SessionsConfig struct {
	Storage string `json:"storage"`
}

// BotsConfig holds per-platform adapter settings.
type BotsConfig struct {
	Telegram TelegramConfig `json:"telegram"`
	Discord  DiscordConfig  `json:"discord"`
	Slack    SlackConfig    `json:"slack"`
}

type TelegramConfig struct {
	Enabled bool   `json:"enabled"`
	Token   string `json:"token"`
	Proxy   string `json:"proxy"`
}

type DiscordConfig struct {
	Enabled bool   `json:"enabled"`
	Token   string `json:"token"`
}

type SlackConfig struct {
	Enabled  bool   `json:"enabled"`
	BotToken string `json:"bot_token"`
	AppToken string `json:"app_token"`
}

// ExtensionsConfig controls the extension surface.
type ExtensionsConfig struct {
	Enabled []string `json:"enabled"` // compiled-in extensions to activate
	Dir     string   `json:"dir"`     // MCP server manifests
}

// TelemetryConfig controls trace export.
type TelemetryConfig struct {
	Endpoint    string `json:"endpoint"`
	ServiceName string `json:"service_name"`
}

// ValidationError describes a config field that fails validation.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("config: %s: %s", e.Field, e.Message)
}

// Validate checks that the config can actually start an agent.
func (c *Config) Validate() error {
	if c.Agent.Provider == "" {
		return &ValidationError{Field: "agent.provider", Message: "no provider configured"}
	}
	p, ok := c.Providers[c.Agent.Provider]
	if !ok {
		return &ValidationError{
			Field:   "providers." + c.Agent.Provider,
			Message: "selected provider has no configuration",
		}
	}
	if p.APIKey == "" {
		return &ValidationError{
			Field:   "providers." + c.Agent.Provider + ".api_key",
			Message: "missing API key (set " + envKeyFor(c.Agent.Provider) + ")",
		}
	}
	if c.Agent.DrainMode != "" && c.Agent.DrainMode != "one" && c.Agent.DrainMode != "all" {
		return &ValidationError{Field: "agent.drain_mode", Message: `must be "one" or "all"`}
	}
	return nil
}

// ProviderSettings returns the selected provider's credentials with the
// agent-level model override applied.
func (c *Config) ProviderSettings() ProviderConfig {
	p := c.Providers[c.Agent.Provider]
	if c.Agent.Model != "" {
		p.Model = c.Agent.Model
	}
	return p
}

// ExpandPath resolves a leading ~ against the user's home directory.
func ExpandPath(path string) string {
	if path == "~" || strings.HasPrefix(path, "~/") {
		if home, err := os.UserHomeDir(); err == nil {
			return filepath.Join(home, strings.TrimPrefix(strings.TrimPrefix(path, "~"), "/"))
		}
	}
	return path
}
