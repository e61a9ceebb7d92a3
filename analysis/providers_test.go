package analysis

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"codelens/internal/constants"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tmc/langchaingo/llms"
	"google.golang.org/genai"
)

// pngHeader is enough for MIME sniffing.
var pngHeader = []byte("\x89PNG\r\n\x1a\n\x00\x00\x00\rIHDR")

type capturedRequest struct {
	mu      sync.Mutex
	path    string
	headers http.Header
	body    string
}

func (c *capturedRequest) snapshot() (string, http.Header, string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.path, c.headers, c.body
}

func newProviderServer(t *testing.T, status int, response string) (*httptest.Server, *capturedRequest) {
	t.Helper()
	captured := &capturedRequest{}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw, _ := io.ReadAll(r.Body)
		captured.mu.Lock()
		captured.path = r.URL.Path
		captured.headers = r.Header.Clone()
		captured.body = string(raw)
		captured.mu.Unlock()
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_, _ = w.Write([]byte(response))
	}))
	t.Cleanup(server.Close)
	return server, captured
}

func newTestDispatcher(t *testing.T, config Config, p Performer) *Dispatcher {
	t.Helper()
	d, err := NewDispatcher(config, p)
	require.NoError(t, err)
	return d
}

func TestOpenAIGenerate(t *testing.T) {
	server, captured := newProviderServer(t, http.StatusOK, `{"choices":[{"index":0,"message":{"role":"assistant","content":"hello from openai"},"finish_reason":"stop"}]}`)
	temp := 0.2
	d := newTestDispatcher(t, Config{
		Model:         "gpt-4o",
		OpenAIAPIKey:  "sk-test",
		OpenAIBaseURL: server.URL,
		Temperature:   &temp,
	}, nil)
	require.NoError(t, d.modelErr)

	text, err := d.generate(context.Background(), ProviderOpenAI, messages(ProviderOpenAI, "review this", pngHeader))
	require.NoError(t, err)

	path, headers, body := captured.snapshot()
	assert.Equal(t, "hello from openai", string(text))
	assert.True(t, strings.HasSuffix(path, "/chat/completions"), path)
	assert.Equal(t, "Bearer sk-test", headers.Get("Authorization"))
	assert.Contains(t, body, `"gpt-4o"`)
	assert.Contains(t, body, "review this")
	assert.Contains(t, body, "data:image/png;base64,")
}

func TestAnthropicGenerate(t *testing.T) {
	server, captured := newProviderServer(t, http.StatusOK, `{"id":"msg_1","type":"message","role":"assistant","model":"claude-3-5-sonnet-20241022","content":[{"type":"text","text":"part one "},{"type":"text","text":"part two"}],"stop_reason":"end_turn","usage":{"input_tokens":10,"output_tokens":4}}`)
	d := newTestDispatcher(t, Config{
		Model:            "claude-3-5-sonnet-20241022",
		AnthropicAPIKey:  "ak-test",
		AnthropicBaseURL: server.URL,
	}, nil)
	require.NoError(t, d.modelErr)

	text, err := d.generate(context.Background(), ProviderAnthropic, messages(ProviderAnthropic, "review this", pngHeader))
	require.NoError(t, err)

	path, headers, body := captured.snapshot()
	assert.Equal(t, "part one part two", string(text))
	assert.True(t, strings.HasSuffix(path, "/messages"), path)
	assert.Equal(t, "ak-test", headers.Get("x-api-key"))
	assert.Empty(t, headers.Get("Authorization"))
	assert.Contains(t, body, "image/png")
	assert.Contains(t, body, "review this")
}

func TestGeminiGenerate(t *testing.T) {
	server, captured := newProviderServer(t, http.StatusOK, `{"candidates":[{"content":{"role":"model","parts":[{"text":"thinking...","thought":true},{"text":"answer"}]}}]}`)
	d := newTestDispatcher(t, Config{
		Model:         "gemini-1.5-pro",
		GoogleAPIKey:  "g-test",
		GoogleBaseURL: server.URL,
		MaxTokens:     512,
	}, nil)
	require.NoError(t, d.modelErr)

	text, err := d.generate(context.Background(), ProviderGoogle, messages(ProviderGoogle, "review this", nil))
	require.NoError(t, err)

	path, headers, body := captured.snapshot()
	assert.Equal(t, "answer", string(text))
	assert.Contains(t, path, "gemini-1.5-pro:generateContent")
	assert.Equal(t, "g-test", headers.Get("x-goog-api-key"))
	assert.Contains(t, body, "512")
}

func TestGenerateReturnsProviderErrorOnBadStatus(t *testing.T) {
	server, _ := newProviderServer(t, http.StatusTooManyRequests, `{"error":{"message":"slow down","type":"rate_limit"}}`)
	d := newTestDispatcher(t, Config{
		Model:         "gpt-4o",
		OpenAIAPIKey:  "sk-test",
		OpenAIBaseURL: server.URL,
	}, nil)

	_, err := d.generate(context.Background(), ProviderOpenAI, messages(ProviderOpenAI, "prompt", nil))

	var analysisErr *Error
	require.ErrorAs(t, err, &analysisErr)
	assert.Equal(t, KindProvider, analysisErr.Kind)
	assert.Equal(t, http.StatusTooManyRequests, analysisErr.Status)
	assert.Equal(t, ProviderOpenAI, analysisErr.Provider)
}

func TestProviderError(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		wantStatus int
	}{
		{"genai api error", fmt.Errorf("googleai GenerateContent API error: %w", genai.APIError{Code: 403, Message: "denied"}), 403},
		{"langchaingo status", fmt.Errorf("anthropic: failed to create message: API returned unexpected status code: 529: overloaded"), 529},
		{"status without colon", fmt.Errorf("API returned unexpected status code 500"), 500},
		{"no status", io.ErrUnexpectedEOF, 0},
		{"success status is not an error status", fmt.Errorf("status code: 200"), 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := providerError(ProviderAnthropic, tt.err)
			if tt.wantStatus == 0 {
				assert.Equal(t, tt.err, got)
				return
			}
			var analysisErr *Error
			require.ErrorAs(t, got, &analysisErr)
			assert.Equal(t, tt.wantStatus, analysisErr.Status)
			assert.Equal(t, KindProvider, analysisErr.Kind)
		})
	}
}

func TestNewModelMissingKey(t *testing.T) {
	for _, model := range []string{"claude-3-haiku", "gpt-4o", "gemini-2.0-flash"} {
		t.Run(model, func(t *testing.T) {
			_, err := newModel(ResolveProvider(model), Config{Model: model})
			assert.Equal(t, KindConfiguration, KindOf(err))
		})
	}
}

func TestOpenAIBaseURLWithoutKeyUsesPlaceholder(t *testing.T) {
	server, captured := newProviderServer(t, http.StatusOK, `{"choices":[{"index":0,"message":{"role":"assistant","content":"ok"},"finish_reason":"stop"}]}`)
	d := newTestDispatcher(t, Config{Model: "gpt-4o", OpenAIBaseURL: server.URL}, nil)
	require.NoError(t, d.modelErr)

	_, err := d.generate(context.Background(), ProviderOpenAI, messages(ProviderOpenAI, "prompt", nil))
	require.NoError(t, err)

	_, headers, _ := captured.snapshot()
	assert.Equal(t, "Bearer "+constants.DummyAPIKey, headers.Get("Authorization"))
}

func TestMessagesImageParts(t *testing.T) {
	openAI := messages(ProviderOpenAI, "p", pngHeader)
	require.Len(t, openAI[0].Parts, 2)
	assert.IsType(t, llms.ImageURLContent{}, openAI[0].Parts[1])

	anthropic := messages(ProviderAnthropic, "p", pngHeader)
	require.Len(t, anthropic[0].Parts, 2)
	assert.IsType(t, llms.BinaryContent{}, anthropic[0].Parts[1])

	assert.Len(t, messages(ProviderGoogle, "p", nil)[0].Parts, 1)
}
