package providers

import "fmt"

// Config holds per-provider connection settings.
type Config struct {
	APIKey  string
	BaseURL string // optional override; required for azure and bedrock
	Model   string // optional default-model override
}

// endpoint describes an OpenAI-compatible vendor.
type endpoint struct {
	base         string
	defaultModel string
}

// The OpenAI-protocol family. One generic client covers all of these;
// only the base URL and default model differ.
var openAICompatible = map[string]endpoint{
	"openai":     {"https://api.openai.com/v1", "gpt-4o"},
	"google":     {"https://generativelanguage.googleapis.com/v1beta/openai", "gemini-2.5-flash"},
	"gemini":     {"https://generativelanguage.googleapis.com/v1beta/openai", "gemini-2.5-flash"},
	"groq":       {"https://api.groq.com/openai/v1", "llama-3.3-70b-versatile"},
	"mistral":    {"https://api.mistral.ai/v1", "mistral-large-latest"},
	"openrouter": {"https://openrouter.ai/api/v1", "anthropic/claude-sonnet-4-5"},
	"xai":        {"https://api.x.ai/v1", "grok-3"},
	"cerebras":   {"https://api.cerebras.ai/v1", "llama-3.3-70b"},
	"cohere":     {"https://api.cohere.ai/compatibility/v1", "command-a-03-2025"},
	"perplexity": {"https://api.perplexity.ai", "sonar-pro"},
	"deepseek":   {"https://api.deepseek.com/v1", "deepseek-chat"},
	"together":   {"https://api.together.xyz/v1", "meta-llama/Llama-3.3-70B-Instruct-Turbo"},
	"minimax":    {"https://api.minimax.io/v1", "MiniMax-M2"},
	// azure and bedrock speak the OpenAI protocol but have no fixed public
	// base URL; the deployment endpoint comes from config.
	"azure":   {"", "gpt-4o"},
	"bedrock": {"", "anthropic.claude-sonnet-4-5"},
}

// New constructs a provider by name. Unknown names return an error
// wrapping ErrUnknownProvider.
func New(name string, cfg Config) (Provider, error) {
	if name == "anthropic" {
		var opts []AnthropicOption
		if cfg.Model != "" {
			opts = append(opts, WithAnthropicModel(cfg.Model))
		}
		if cfg.BaseURL != "" {
			opts = append(opts, WithAnthropicBaseURL(cfg.BaseURL))
		}
		return NewAnthropicProvider(cfg.APIKey, opts...), nil
	}

	ep, ok := openAICompatible[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownProvider, name)
	}

	base := cfg.BaseURL
	if base == "" {
		base = ep.base
	}
	if base == "" {
		return nil, fmt.Errorf("provider %q requires a base URL", name)
	}
	model := cfg.Model
	if model == "" {
		model = ep.defaultModel
	}

	return NewOpenAIProvider(name, cfg.APIKey, base, model), nil
}

// Names returns every recognized provider name.
func Names() []string {
	names := make([]string, 0, len(openAICompatible)+1)
	names = append(names, "anthropic")
	for n := range openAICompatible {
		names = append(names, n)
	}
	return names
}
