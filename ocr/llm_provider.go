package ocr

import (
	"bytes"
	"context"
	"encoding/base64"
	"fmt"
	"image"
	"strings"

	_ "image/jpeg"
	_ "image/png"

	"codelens/internal/constants"
	"codelens/internal/googleai"
	"codelens/internal/textutil"

	"github.com/gabriel-vasile/mimetype"
	"github.com/sirupsen/logrus"
	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/anthropic"
	"github.com/tmc/langchaingo/llms/mistral"
	"github.com/tmc/langchaingo/llms/ollama"
	"github.com/tmc/langchaingo/llms/openai"
)

const defaultOllamaHost = "http://127.0.0.1:11434"

// LLMProvider implements OCR using LLM vision models
type LLMProvider struct {
	provider    string
	model       string
	llm         llms.Model
	prompt      string
	maxTokens   int
	temperature *float64
}

func newLLMProvider(config Config) (*LLMProvider, error) {
	logger := log.WithFields(logrus.Fields{
		"provider": config.VisionLLMProvider,
		"model":    config.VisionLLMModel,
	})
	logger.Info("Creating new LLM OCR provider")

	var model llms.Model
	var err error

	switch strings.ToLower(config.VisionLLMProvider) {
	case "openai":
		logger.Debug("Initializing OpenAI vision model")
		model, err = createOpenAIClient(config)
	case "anthropic":
		logger.Debug("Initializing Anthropic vision model")
		model, err = createAnthropicClient(config)
	case "ollama":
		logger.Debug("Initializing Ollama vision model")
		model, err = createOllamaClient(config)
	case "mistral":
		logger.Debug("Initializing Mistral vision model")
		model, err = createMistralClient(config)
	case "googleai":
		logger.Debug("Initializing Google AI vision model")
		model, err = googleai.New(context.Background(), googleai.Config{
			Model:          config.VisionLLMModel,
			APIKey:         config.GoogleAIAPIKey,
			ThinkingBudget: config.GoogleAIThinkingBudget,
		})
	default:
		return nil, fmt.Errorf("unsupported vision LLM provider: %s", config.VisionLLMProvider)
	}

	if err != nil {
		logger.WithError(err).Error("Failed to create vision LLM client")
		return nil, fmt.Errorf("error creating vision LLM client: %w", err)
	}

	prompt := config.VisionLLMPrompt
	if prompt == "" {
		prompt = DefaultPrompt
	}

	logger.Info("Successfully initialized LLM OCR provider")
	return &LLMProvider{
		provider:    strings.ToLower(config.VisionLLMProvider),
		model:       config.VisionLLMModel,
		llm:         model,
		prompt:      prompt,
		maxTokens:   config.VisionLLMMaxTokens,
		temperature: config.VisionLLMTemperature,
	}, nil
}

func (p *LLMProvider) ProcessImage(ctx context.Context, imageContent []byte) (*Result, error) {
	logger := log.WithFields(logrus.Fields{
		"provider": p.provider,
		"model":    p.model,
	})
	logger.Debug("Starting LLM OCR processing")

	cfg, _, err := image.DecodeConfig(bytes.NewReader(imageContent))
	if err != nil {
		logger.WithError(err).Error("Failed to decode image")
		return nil, fmt.Errorf("error decoding image: %w", err)
	}
	logger.WithFields(logrus.Fields{
		"width":  cfg.Width,
		"height": cfg.Height,
	}).Debug("Image dimensions")

	mimeType := mimetype.Detect(imageContent).String()

	// OpenAI-style APIs only accept images as URLs
	var imagePart llms.ContentPart
	if p.provider == "openai" || p.provider == "mistral" {
		imagePart = llms.ImageURLPart(fmt.Sprintf("data:%s;base64,%s", mimeType, base64.StdEncoding.EncodeToString(imageContent)))
	} else {
		imagePart = llms.BinaryPart(mimeType, imageContent)
	}

	var opts []llms.CallOption
	if p.maxTokens > 0 {
		opts = append(opts, llms.WithMaxTokens(p.maxTokens))
	}
	if p.temperature != nil {
		opts = append(opts, llms.WithTemperature(*p.temperature))
	}

	logger.Debug("Sending request to vision model")
	completion, err := p.llm.GenerateContent(ctx, []llms.MessageContent{
		{
			Parts: []llms.ContentPart{imagePart, llms.TextPart(p.prompt)},
			Role:  llms.ChatMessageTypeHuman,
		},
	}, opts...)
	if err != nil {
		logger.WithError(err).Error("Failed to get response from vision model")
		return nil, fmt.Errorf("error getting response from LLM: %w", err)
	}
	if completion == nil || len(completion.Choices) == 0 {
		return nil, fmt.Errorf("vision model returned no choices")
	}

	result := &Result{
		Text: textutil.StripReasoning(completion.Choices[0].Content),
		Metadata: map[string]string{
			"provider":  p.provider,
			"model":     p.model,
			"mime_type": mimeType,
		},
	}
	logger.WithField("content_length", len(result.Text)).Debug("Successfully processed image")
	return result, nil
}

// createOpenAIClient creates a new OpenAI vision model client. A base URL
// without a key selects an OpenAI-compatible server that ignores auth.
func createOpenAIClient(config Config) (llms.Model, error) {
	apiKey := config.OpenAIAPIKey
	if apiKey == "" {
		if config.OpenAIBaseURL == "" {
			return nil, fmt.Errorf("OpenAI API key is not set")
		}
		apiKey = constants.DummyAPIKey
	}

	opts := []openai.Option{
		openai.WithModel(config.VisionLLMModel),
		openai.WithToken(apiKey),
	}
	if config.OpenAIBaseURL != "" {
		opts = append(opts, openai.WithBaseURL(config.OpenAIBaseURL))
	}
	return openai.New(opts...)
}

// createAnthropicClient creates a new Anthropic vision model client
func createAnthropicClient(config Config) (llms.Model, error) {
	if config.AnthropicAPIKey == "" {
		return nil, fmt.Errorf("Anthropic API key is not set")
	}
	return anthropic.New(
		anthropic.WithModel(config.VisionLLMModel),
		anthropic.WithToken(config.AnthropicAPIKey),
	)
}

// createOllamaClient creates a new Ollama vision model client
func createOllamaClient(config Config) (llms.Model, error) {
	host := config.OllamaHost
	if host == "" {
		host = defaultOllamaHost
	}
	return ollama.New(
		ollama.WithModel(config.VisionLLMModel),
		ollama.WithServerURL(host),
	)
}

// createMistralClient creates a new Mistral vision model client
func createMistralClient(config Config) (llms.Model, error) {
	if config.MistralAPIKey == "" {
		return nil, fmt.Errorf("Mistral API key is not set")
	}
	return mistral.New(
		mistral.WithModel(config.VisionLLMModel),
		mistral.WithAPIKey(config.MistralAPIKey),
	)
}
