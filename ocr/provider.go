package ocr

import (
	"context"
	"fmt"

	"github.com/sirupsen/logrus"
)

var log = logrus.New()

// DefaultPrompt asks a vision model for a verbatim transcription of code.
const DefaultPrompt = `Transcribe the source code visible in this image exactly as written.
Preserve indentation, line breaks and punctuation. Do not explain, summarize or fix the code.
Output only the code. If the image contains no code, output nothing.`

// Result holds the output of text extraction
type Result struct {
	Text string

	// Additional provider-specific metadata
	Metadata map[string]string
}

// Provider extracts text from an encoded image
type Provider interface {
	ProcessImage(ctx context.Context, imageContent []byte) (*Result, error)
}

// Config holds the OCR provider configuration
type Config struct {
	// Provider type: "llm" or "google_docai"
	Provider string

	// Google Document AI settings
	GoogleProjectID   string
	GoogleLocation    string
	GoogleProcessorID string

	// Vision LLM settings
	VisionLLMProvider    string // openai, anthropic, ollama, mistral or googleai
	VisionLLMModel       string
	VisionLLMPrompt      string
	VisionLLMMaxTokens   int
	VisionLLMTemperature *float64

	// Credentials and endpoints for the vision LLM backends
	OpenAIAPIKey           string
	OpenAIBaseURL          string
	AnthropicAPIKey        string
	MistralAPIKey          string
	OllamaHost             string
	GoogleAIAPIKey         string
	GoogleAIThinkingBudget *int32
}

// NewProvider creates a new OCR provider based on configuration
func NewProvider(config Config) (Provider, error) {
	log.Info("Initializing OCR provider: ", config.Provider)

	switch config.Provider {
	case "google_docai":
		if config.GoogleProjectID == "" || config.GoogleLocation == "" || config.GoogleProcessorID == "" {
			return nil, fmt.Errorf("missing required Google Document AI configuration")
		}
		log.WithFields(logrus.Fields{
			"location":     config.GoogleLocation,
			"processor_id": config.GoogleProcessorID,
		}).Info("Using Google Document AI provider")
		p, err := newGoogleDocAIProvider(config)
		if err != nil {
			return nil, err
		}
		return p, nil

	case "llm":
		if config.VisionLLMProvider == "" || config.VisionLLMModel == "" {
			return nil, fmt.Errorf("missing required LLM configuration")
		}
		log.WithFields(logrus.Fields{
			"provider": config.VisionLLMProvider,
			"model":    config.VisionLLMModel,
		}).Info("Using LLM OCR provider")
		p, err := newLLMProvider(config)
		if err != nil {
			return nil, err
		}
		return p, nil

	default:
		return nil, fmt.Errorf("unsupported OCR provider: %s", config.Provider)
	}
}

// SetLogLevel sets the logging level for the OCR package
func SetLogLevel(level logrus.Level) {
	log.SetLevel(level)
}
