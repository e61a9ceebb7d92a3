package analysis

import "strings"

// Provider identifies an analysis backend.
type Provider string

const (
	ProviderOpenAI    Provider = "openai"
	ProviderAnthropic Provider = "anthropic"
	ProviderGoogle    Provider = "google"
	ProviderUnknown   Provider = "unknown"
)

// ResolveProvider maps a model name to the backend that serves it.
func ResolveProvider(model string) Provider {
	m := strings.ToLower(model)
	switch {
	case strings.Contains(m, "gpt"):
		return ProviderOpenAI
	case strings.Contains(m, "claude"):
		return ProviderAnthropic
	case strings.Contains(m, "gemini"):
		return ProviderGoogle
	default:
		return ProviderUnknown
	}
}
