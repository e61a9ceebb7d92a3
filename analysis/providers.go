package analysis

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"net/http"
	"regexp"
	"strconv"
	"strings"

	"codelens/internal/constants"
	"codelens/internal/googleai"

	"github.com/gabriel-vasile/mimetype"
	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/anthropic"
	"github.com/tmc/langchaingo/llms/openai"
	"google.golang.org/genai"
)

const maxErrorBodySize = 4096

// statusPattern finds the HTTP status langchaingo clients embed in their errors.
var statusPattern = regexp.MustCompile(`status code:? (\d{3})`)

// newModel builds the client for provider. A configuration error is
// returned when the provider's credentials are missing.
func newModel(provider Provider, config Config) (llms.Model, error) {
	switch provider {
	case ProviderOpenAI:
		// A base URL without a key selects an OpenAI-compatible server that ignores auth.
		apiKey := config.OpenAIAPIKey
		if apiKey == "" {
			if config.OpenAIBaseURL == "" {
				return nil, NewConfigurationError("OpenAI API key is not set")
			}
			apiKey = constants.DummyAPIKey
		}
		opts := []openai.Option{
			openai.WithModel(config.Model),
			openai.WithToken(apiKey),
		}
		if config.OpenAIBaseURL != "" {
			opts = append(opts, openai.WithBaseURL(config.OpenAIBaseURL))
		}
		if config.HTTPClient != nil {
			opts = append(opts, openai.WithHTTPClient(config.HTTPClient))
		}
		return openai.New(opts...)

	case ProviderAnthropic:
		if config.AnthropicAPIKey == "" {
			return nil, NewConfigurationError("Anthropic API key is not set")
		}
		opts := []anthropic.Option{
			anthropic.WithModel(config.Model),
			anthropic.WithToken(config.AnthropicAPIKey),
		}
		if config.AnthropicBaseURL != "" {
			opts = append(opts, anthropic.WithBaseURL(config.AnthropicBaseURL))
		}
		if config.HTTPClient != nil {
			opts = append(opts, anthropic.WithHTTPClient(config.HTTPClient))
		}
		return anthropic.New(opts...)

	case ProviderGoogle:
		if config.GoogleAPIKey == "" {
			return nil, NewConfigurationError("Google AI API key is not set")
		}
		m, err := googleai.New(context.Background(), googleai.Config{
			Model:      config.Model,
			APIKey:     config.GoogleAPIKey,
			BaseURL:    config.GoogleBaseURL,
			HTTPClient: config.HTTPClient,
		})
		if err != nil {
			return nil, err
		}
		return m, nil

	default:
		return nil, NewConfigurationError("no analysis provider serves model %q", config.Model)
	}
}

// messages builds the single user turn sent for req. OpenAI only accepts
// images as URLs; the other backends take the raw bytes.
func messages(provider Provider, prompt string, image []byte) []llms.MessageContent {
	parts := []llms.ContentPart{llms.TextPart(prompt)}
	if len(image) > 0 {
		mimeType := imageMIMEType(image)
		if provider == ProviderOpenAI {
			parts = append(parts, llms.ImageURLPart(fmt.Sprintf("data:%s;base64,%s", mimeType, base64.StdEncoding.EncodeToString(image))))
		} else {
			parts = append(parts, llms.BinaryPart(mimeType, image))
		}
	}
	return []llms.MessageContent{{Role: llms.ChatMessageTypeHuman, Parts: parts}}
}

func (d *Dispatcher) callOptions() []llms.CallOption {
	opts := []llms.CallOption{llms.WithMaxTokens(d.config.MaxTokens)}
	if d.config.Temperature != nil {
		opts = append(opts, llms.WithTemperature(*d.config.Temperature))
	}
	return opts
}

// generate performs one model call and returns the response text. Status
// errors reported by the SDKs become provider errors; anything else is
// returned as-is so the transport can classify it.
func (d *Dispatcher) generate(ctx context.Context, provider Provider, content []llms.MessageContent) ([]byte, error) {
	resp, err := d.model.GenerateContent(ctx, content, d.callOptions()...)
	if err != nil {
		return nil, providerError(provider, err)
	}
	if resp == nil || len(resp.Choices) == 0 {
		return nil, &Error{Kind: KindProvider, Message: "empty response", Provider: provider}
	}

	// Anthropic returns one choice per content block.
	var sb strings.Builder
	for _, choice := range resp.Choices {
		sb.WriteString(choice.Content)
	}
	return []byte(sb.String()), nil
}

// providerError maps an SDK error carrying an HTTP status to a provider
// error. Errors without a status are returned unchanged.
func providerError(provider Provider, err error) error {
	status := 0
	var apiErr genai.APIError
	var apiErrPtr *genai.APIError
	switch {
	case errors.As(err, &apiErr):
		status = apiErr.Code
	case errors.As(err, &apiErrPtr) && apiErrPtr != nil:
		status = apiErrPtr.Code
	default:
		if m := statusPattern.FindStringSubmatch(err.Error()); m != nil {
			status, _ = strconv.Atoi(m[1])
		}
	}
	if status < http.StatusBadRequest {
		return err
	}

	body := err.Error()
	if len(body) > maxErrorBodySize {
		body = body[:maxErrorBodySize]
	}
	return NewProviderError(provider, status, body)
}

func imageMIMEType(data []byte) string {
	mtype := mimetype.Detect(data).String()
	if !strings.HasPrefix(mtype, "image/") {
		return "image/jpeg"
	}
	return mtype
}
