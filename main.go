package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"sync"
	"syscall"
	"text/template"

	"codelens/analysis"
	"codelens/annotation"
	"codelens/internal/constants"
	"codelens/ocr"
	"codelens/scanner"
	"codelens/transport"

	"github.com/sirupsen/logrus"
)

// Global Variables and Constants
var (

	// Logger
	log = logrus.New()

	// Environment Variables
	analysisModel     = os.Getenv("ANALYSIS_MODEL")
	openaiAPIKey      = os.Getenv("OPENAI_API_KEY")
	openaiBaseURL     = os.Getenv("OPENAI_BASE_URL")
	anthropicAPIKey   = os.Getenv("ANTHROPIC_API_KEY")
	anthropicBaseURL  = os.Getenv("ANTHROPIC_BASE_URL")
	googleAIAPIKey    = os.Getenv("GOOGLEAI_API_KEY")
	googleAIBaseURL   = os.Getenv("GOOGLEAI_BASE_URL")
	captureURL        = os.Getenv("CAPTURE_URL")
	captureFile       = os.Getenv("CAPTURE_FILE")
	captureToken      = os.Getenv("CAPTURE_TOKEN")
	ocrProvider       = os.Getenv("OCR_PROVIDER")
	visionLlmProvider = os.Getenv("VISION_LLM_PROVIDER")
	visionLlmModel    = os.Getenv("VISION_LLM_MODEL")
	visionLlmPrompt   = os.Getenv("VISION_LLM_PROMPT")
	mistralAPIKey     = os.Getenv("MISTRAL_API_KEY")
	ollamaHost        = os.Getenv("OLLAMA_HOST")
	googleProjectID   = os.Getenv("GOOGLE_PROJECT_ID")
	googleLocation    = os.Getenv("GOOGLE_LOCATION")
	googleProcessorID = os.Getenv("GOOGLE_PROCESSOR_ID")
	listenAddr        = os.Getenv("LISTEN_ADDR")
	dbPath            = os.Getenv("DB_PATH")
	logLevel          = strings.ToLower(os.Getenv("LOG_LEVEL"))

	// Templates
	analysisTemplate *template.Template
	templateMutex    sync.RWMutex
)

const (
	promptsDir         = "prompts"
	analysisPromptFile = "analysis_prompt.tmpl"
	defaultListenAddr  = ":8080"
)

func main() {
	// Initialize logrus logger
	initLogger()

	// Validate Environment Variables
	if err := validateEnvVars(); err != nil {
		log.Fatal(err)
	}
	settings, err := loadSettings()
	if err != nil {
		log.Fatalf("Invalid configuration: %v", err)
	}

	// Load Templates
	loadTemplates()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Initialize Database
	database := InitializeDB(dbPath)

	extractor, err := createExtractor(settings)
	if err != nil {
		log.Fatalf("Failed to create text extractor: %v", err)
	}

	capture, err := createCapture(settings)
	if err != nil {
		log.Fatalf("Failed to create capture source: %v", err)
	}

	app, err := NewApp(settings, capture, extractor, database, newConsolePresenter(os.Stdout))
	if err != nil {
		log.Fatalf("Failed to initialize: %v", err)
	}

	addr := listenAddr
	if addr == "" {
		addr = defaultListenAddr
	}
	if err := app.Run(ctx, addr); err != nil {
		log.Fatalf("Stopped with error: %v", err)
	}
	log.Info("Shut down cleanly")
}

func initLogger() {
	level := logrus.InfoLevel
	switch logLevel {
	case "debug":
		level = logrus.DebugLevel
	case "info":
		level = logrus.InfoLevel
	case "warn":
		level = logrus.WarnLevel
	case "error":
		level = logrus.ErrorLevel
	default:
		if logLevel != "" {
			log.Fatalf("Invalid log level: '%s'.", logLevel)
		}
	}

	log.SetLevel(level)
	log.SetFormatter(&logrus.TextFormatter{
		FullTimestamp: true,
	})

	analysis.SetLogLevel(level)
	annotation.SetLogLevel(level)
	ocr.SetLogLevel(level)
	scanner.SetLogLevel(level)
	transport.SetLogLevel(level)
}

// validateEnvVars checks the variables needed to start. Missing provider
// credentials are only warned about; requests then fail with a
// configuration error.
func validateEnvVars() error {
	if captureURL == "" && captureFile == "" {
		return errors.New("Please set the CAPTURE_URL or CAPTURE_FILE environment variable.")
	}

	if analysisModel == "" {
		analysisModel = constants.DefaultAnalysisModel
		log.Infof("ANALYSIS_MODEL not set, using %s", analysisModel)
	}

	switch analysis.ResolveProvider(analysisModel) {
	case analysis.ProviderOpenAI:
		if openaiAPIKey == "" && openaiBaseURL == "" {
			log.Warn("OPENAI_API_KEY is not set; analysis requests will fail.")
		}
	case analysis.ProviderAnthropic:
		if anthropicAPIKey == "" {
			log.Warn("ANTHROPIC_API_KEY is not set; analysis requests will fail.")
		}
	case analysis.ProviderGoogle:
		if googleAIAPIKey == "" {
			log.Warn("GOOGLEAI_API_KEY is not set; analysis requests will fail.")
		}
	default:
		log.Warnf("No analysis provider serves model %q; analysis requests will fail.", analysisModel)
	}

	if ocrProvider == "" {
		ocrProvider = "llm"
	}
	switch ocrProvider {
	case "llm":
		if visionLlmProvider == "" || visionLlmModel == "" {
			return errors.New("Please set the VISION_LLM_PROVIDER and VISION_LLM_MODEL environment variables.")
		}
	case "google_docai":
		if googleProjectID == "" || googleLocation == "" || googleProcessorID == "" {
			return errors.New("Please set GOOGLE_PROJECT_ID, GOOGLE_LOCATION and GOOGLE_PROCESSOR_ID for the google_docai OCR provider.")
		}
	default:
		return fmt.Errorf("Please set OCR_PROVIDER to 'llm' or 'google_docai', got '%s'.", ocrProvider)
	}

	return nil
}

// loadTemplates loads the analysis prompt from disk, writing the default when missing
func loadTemplates() {
	templateMutex.Lock()
	defer templateMutex.Unlock()

	// Ensure prompts directory exists
	if err := os.MkdirAll(promptsDir, os.ModePerm); err != nil {
		log.Fatalf("Failed to create prompts directory: %v", err)
	}

	path := filepath.Join(promptsDir, analysisPromptFile)
	content, err := os.ReadFile(path)
	if err != nil {
		log.Errorf("Could not read %s, using default template: %v", path, err)
		content = []byte(analysis.DefaultPromptTemplate)
		if err := os.WriteFile(path, content, 0644); err != nil {
			log.Fatalf("Failed to write default analysis template to disk: %v", err)
		}
	}
	analysisTemplate, err = analysis.ParsePromptTemplate(string(content))
	if err != nil {
		log.Fatalf("Failed to parse analysis template: %v", err)
	}
}

// createExtractor builds the OCR-backed extractor from the environment
func createExtractor(settings Settings) (scanner.Extractor, error) {
	provider, err := ocr.NewProvider(ocrConfig(settings))
	if err != nil {
		return nil, err
	}
	return ocr.NewRegionExtractor(provider, 0), nil
}

// ocrConfig maps the environment onto the OCR provider configuration
func ocrConfig(settings Settings) ocr.Config {
	return ocr.Config{
		Provider:               ocrProvider,
		GoogleProjectID:        googleProjectID,
		GoogleLocation:         googleLocation,
		GoogleProcessorID:      googleProcessorID,
		VisionLLMProvider:      visionLlmProvider,
		VisionLLMModel:         visionLlmModel,
		VisionLLMPrompt:        visionLlmPrompt,
		VisionLLMMaxTokens:     settings.VisionLLMMaxTokens,
		VisionLLMTemperature:   settings.VisionLLMTemperature,
		OpenAIAPIKey:           openaiAPIKey,
		OpenAIBaseURL:          openaiBaseURL,
		AnthropicAPIKey:        anthropicAPIKey,
		MistralAPIKey:          mistralAPIKey,
		OllamaHost:             ollamaHost,
		GoogleAIAPIKey:         googleAIAPIKey,
		GoogleAIThinkingBudget: settings.GoogleAIThinkingBudget,
	}
}

// createCapture picks the HTTP snapshot source when CAPTURE_URL is set and
// the file source otherwise
func createCapture(settings Settings) (captureSource, error) {
	if captureURL != "" {
		return newHTTPSnapshotCapture(captureURL, captureToken, settings.CaptureInterval), nil
	}
	if captureFile != "" {
		return newFileCapture(captureFile, settings.CaptureInterval), nil
	}
	return nil, errors.New("no capture source configured")
}

// dispatcherConfig maps the environment onto the analysis dispatcher
func dispatcherConfig(settings Settings) analysis.Config {
	templateMutex.RLock()
	defer templateMutex.RUnlock()
	return analysis.Config{
		Model:             analysisModel,
		OpenAIAPIKey:      openaiAPIKey,
		AnthropicAPIKey:   anthropicAPIKey,
		GoogleAPIKey:      googleAIAPIKey,
		OpenAIBaseURL:     openaiBaseURL,
		AnthropicBaseURL:  anthropicBaseURL,
		GoogleBaseURL:     googleAIBaseURL,
		Timeout:           settings.AnalysisTimeout,
		MaxTokens:         settings.AnalysisMaxTokens,
		Temperature:       settings.AnalysisTemperature,
		MaxRetries:        settings.MaxRetries,
		RequestsPerMinute: settings.RequestsPerMinute,
		PromptTemplate:    analysisTemplate,
	}
}
