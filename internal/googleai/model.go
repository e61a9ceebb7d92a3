// Package googleai adapts the Gemini API (google.golang.org/genai) to the
// langchaingo llms.Model interface.
package googleai

import (
	"context"
	"encoding/base64"
	"fmt"
	"net/http"
	"strings"

	"github.com/tmc/langchaingo/llms"
	"google.golang.org/genai"
)

// Config selects the model and endpoint of a Gemini client.
type Config struct {
	Model  string
	APIKey string
	// BaseURL overrides the public endpoint when set.
	BaseURL        string
	HTTPClient     *http.Client
	ThinkingBudget *int32
}

// Model is an llms.Model backed by a genai client.
type Model struct {
	client         *genai.Client
	thinkingBudget *int32
	model          string
}

// New creates a Model. It does not contact the API.
func New(ctx context.Context, config Config) (*Model, error) {
	if config.APIKey == "" {
		return nil, fmt.Errorf("GOOGLEAI_API_KEY environment variable is not set")
	}

	cc := &genai.ClientConfig{
		APIKey:     config.APIKey,
		Backend:    genai.BackendGeminiAPI,
		HTTPClient: config.HTTPClient,
	}
	if config.BaseURL != "" {
		cc.HTTPOptions = genai.HTTPOptions{BaseURL: strings.TrimRight(config.BaseURL, "/") + "/"}
	}
	client, err := genai.NewClient(ctx, cc)
	if err != nil {
		return nil, fmt.Errorf("failed to create googleai client: %w", err)
	}

	return &Model{
		client:         client,
		thinkingBudget: config.ThinkingBudget,
		model:          config.Model,
	}, nil
}

// GenerateContent sends every part of messages as a single user turn.
// Text, binary and data URL image parts are supported.
func (m *Model) GenerateContent(ctx context.Context, messages []llms.MessageContent, opts ...llms.CallOption) (*llms.ContentResponse, error) {
	if len(messages) == 0 {
		return nil, fmt.Errorf("no prompt provided")
	}

	var parts []*genai.Part
	for _, msg := range messages {
		for _, part := range msg.Parts {
			gp, err := toPart(part)
			if err != nil {
				return nil, err
			}
			parts = append(parts, gp)
		}
	}
	if len(parts) == 0 {
		return nil, fmt.Errorf("no valid content parts found")
	}

	text, err := m.generate(ctx, []*genai.Content{{Role: "user", Parts: parts}}, opts...)
	if err != nil {
		return nil, err
	}
	return &llms.ContentResponse{
		Choices: []*llms.ContentChoice{{Content: text}},
	}, nil
}

// Call implements the llms.Model interface.
func (m *Model) Call(ctx context.Context, prompt string, opts ...llms.CallOption) (string, error) {
	return m.generate(ctx, genai.Text(prompt), opts...)
}

// Close releases nothing; genai clients hold no resources.
func (m *Model) Close() error {
	return nil
}

// generate returns API errors wrapped so callers can errors.As them to genai.APIError.
func (m *Model) generate(ctx context.Context, contents []*genai.Content, opts ...llms.CallOption) (string, error) {
	resp, err := m.client.Models.GenerateContent(ctx, m.model, contents, m.generationConfig(opts...))
	if err != nil {
		return "", fmt.Errorf("googleai GenerateContent API error: %w", err)
	}
	return candidateText(resp)
}

// generationConfig maps langchaingo call options onto a genai config. It
// returns nil when nothing needs to be set.
func (m *Model) generationConfig(opts ...llms.CallOption) *genai.GenerateContentConfig {
	var callOpts llms.CallOptions
	for _, opt := range opts {
		opt(&callOpts)
	}

	var cfg genai.GenerateContentConfig
	set := false
	if m.thinkingBudget != nil {
		cfg.ThinkingConfig = &genai.ThinkingConfig{ThinkingBudget: genai.Ptr(*m.thinkingBudget)}
		set = true
	}
	if callOpts.MaxTokens > 0 {
		cfg.MaxOutputTokens = int32(callOpts.MaxTokens)
		set = true
	}
	if callOpts.Temperature > 0 {
		cfg.Temperature = genai.Ptr(float32(callOpts.Temperature))
		set = true
	}
	if !set {
		return nil
	}
	return &cfg
}

func toPart(part llms.ContentPart) (*genai.Part, error) {
	switch v := part.(type) {
	case llms.TextContent:
		return &genai.Part{Text: v.Text}, nil
	case llms.BinaryContent:
		mimeType := v.MIMEType
		if mimeType == "" {
			mimeType = "image/jpeg"
		}
		return &genai.Part{InlineData: &genai.Blob{Data: v.Data, MIMEType: mimeType}}, nil
	case llms.ImageURLContent:
		if !strings.HasPrefix(v.URL, "data:") {
			return nil, fmt.Errorf("unsupported ImageURLContent with non-data URL: %s", v.URL)
		}
		mimeType, data, err := decodeDataURL(v.URL)
		if err != nil {
			return nil, err
		}
		return &genai.Part{InlineData: &genai.Blob{Data: data, MIMEType: mimeType}}, nil
	default:
		return nil, fmt.Errorf("unsupported content part type: %T", v)
	}
}

// decodeDataURL splits a base64 data URL into its MIME type and payload.
func decodeDataURL(url string) (string, []byte, error) {
	parts := strings.Split(url, ",")
	if len(parts) != 2 {
		return "", nil, fmt.Errorf("invalid data URL format")
	}

	mimeType := "image/jpeg"
	if meta := parts[0]; strings.Contains(meta, ";") {
		mimeType = strings.TrimPrefix(strings.Split(meta, ";")[0], "data:")
	}

	data, err := base64.StdEncoding.DecodeString(parts[1])
	if err != nil {
		return "", nil, fmt.Errorf("failed to decode base64 image: %w", err)
	}
	return mimeType, data, nil
}

// candidateText concatenates the non-thinking text parts of the first candidate.
func candidateText(resp *genai.GenerateContentResponse) (string, error) {
	if resp == nil || len(resp.Candidates) == 0 {
		return "", fmt.Errorf("googleai GenerateContent API returned empty response")
	}

	candidate := resp.Candidates[0]
	if candidate.Content == nil || len(candidate.Content.Parts) == 0 {
		return "", fmt.Errorf("googleai GenerateContent API returned a candidate with no content")
	}

	var sb strings.Builder
	for _, part := range candidate.Content.Parts {
		if !part.Thought {
			sb.WriteString(part.Text)
		}
	}
	if sb.Len() == 0 {
		return "", fmt.Errorf("googleai GenerateContent API returned no non-thinking text parts")
	}
	return sb.String(), nil
}
