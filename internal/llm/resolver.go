package llm

import "fmt"

// NewProvider creates the named completion provider. baseURL overrides the
// provider's default endpoint when set.
func NewProvider(name, apiKey, baseURL string) (Provider, error) {
	switch name {
	case "openai":
		if baseURL != "" {
			return NewOpenAIProviderWithBaseURL(apiKey, baseURL), nil
		}
		return NewOpenAIProvider(apiKey), nil
	case "ollama":
		return NewOllamaProvider(baseURL), nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownProvider, name)
	}
}

// ProviderUsesAPIKey reports whether the named provider requires an API key.
func ProviderUsesAPIKey(name string) bool {
	return name == "openai"
}
