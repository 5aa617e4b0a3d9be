package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/titanous/json5"
)

// Provider names with an env-overridable API key.
var knownProviders = []string{
	"anthropic", "openai", "google", "groq", "mistral", "openrouter",
	"xai", "cerebras", "cohere", "perplexity", "deepseek", "together",
	"minimax", "azure", "bedrock",
}

// Default returns a Config with sensible defaults.
func Default() *Config {
	return &Config{
		Agent: AgentConfig{
			Workspace:     "~/.gopig/workspace",
			Provider:      "anthropic",
			MaxIterations: 10,
			MaxTokens:     8192,
			Temperature:   0.7,
			DrainMode:     "one",
		},
		Providers: make(map[string]ProviderConfig),
		Sessions: SessionsConfig{
			Storage: "~/.gopig/sessions",
		},
		Extensions: ExtensionsConfig{
			Dir: ".agents/extensions",
		},
		Telemetry: TelemetryConfig{
			ServiceName: "gopig",
		},
	}
}

// Load reads config from a JSON5 file, then overlays env vars. A missing
// file is not an error; env vars alone can configure the agent.
func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			cfg.applyEnvOverrides()
			return cfg, nil
		}
		return nil, fmt.Errorf("read config: %w", err)
	}

	if err := json5.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	if cfg.Providers == nil {
		cfg.Providers = make(map[string]ProviderConfig)
	}

	cfg.applyEnvOverrides()
	return cfg, nil
}

// applyEnvOverrides overlays env vars onto the config. Env vars take
// precedence over file values.
func (c *Config) applyEnvOverrides() {
	envStr := func(key string, dst *string) {
		if v := os.Getenv(key); v != "" {
			*dst = v
		}
	}

	for _, name := range knownProviders {
		key := os.Getenv(envKeyFor(name))
		base := os.Getenv("GOPIG_" + strings.ToUpper(name) + "_BASE_URL")
		if key == "" && base == "" {
			continue
		}
		p := c.Providers[name]
		if key != "" {
			p.APIKey = key
		}
		if base != "" {
			p.BaseURL = base
		}
		c.Providers[name] = p
	}

	envStr("GOPIG_PROVIDER", &c.Agent.Provider)
	envStr("GOPIG_MODEL", &c.Agent.Model)
	envStr("GOPIG_WORKSPACE", &c.Agent.Workspace)
	envStr("GOPIG_SESSIONS_STORAGE", &c.Sessions.Storage)
	envStr("GOPIG_EXTENSIONS_DIR", &c.Extensions.Dir)
	envStr("GOPIG_TELEMETRY_ENDPOINT", &c.Telemetry.Endpoint)
	envStr("GOPIG_TELEMETRY_SERVICE_NAME", &c.Telemetry.ServiceName)

	if v := os.Getenv("GOPIG_MAX_ITERATIONS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			c.Agent.MaxIterations = n
		}
	}

	// Bot credentials auto-enable their adapter.
	envStr("GOPIG_TELEGRAM_TOKEN", &c.Bots.Telegram.Token)
	envStr("GOPIG_DISCORD_TOKEN", &c.Bots.Discord.Token)
	envStr("GOPIG_SLACK_BOT_TOKEN", &c.Bots.Slack.BotToken)
	envStr("GOPIG_SLACK_APP_TOKEN", &c.Bots.Slack.AppToken)
	if os.Getenv("GOPIG_TELEGRAM_TOKEN") != "" {
		c.Bots.Telegram.Enabled = true
	}
	if os.Getenv("GOPIG_DISCORD_TOKEN") != "" {
		c.Bots.Discord.Enabled = true
	}
	if os.Getenv("GOPIG_SLACK_BOT_TOKEN") != "" && os.Getenv("GOPIG_SLACK_APP_TOKEN") != "" {
		c.Bots.Slack.Enabled = true
	}
}

func envKeyFor(provider string) string {
	return "GOPIG_" + strings.ToUpper(provider) + "_API_KEY"
}
