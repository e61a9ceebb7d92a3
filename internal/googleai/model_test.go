package googleai

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tmc/langchaingo/llms"
	"google.golang.org/genai"
)

func int32Ptr(v int32) *int32 { return &v }

func TestNew(t *testing.T) {
	tests := []struct {
		name           string
		model          string
		apiKey         string
		thinkingBudget *int32
		errContains    string
	}{
		{name: "valid config", model: "gemini-2.5-flash", apiKey: "test-api-key"},
		{name: "valid config with thinking budget", model: "gemini-2.5-flash", apiKey: "test-api-key", thinkingBudget: int32Ptr(1024)},
		{name: "missing API key", model: "gemini-2.5-flash", errContains: "GOOGLEAI_API_KEY environment variable is not set"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m, err := New(context.Background(), Config{Model: tt.model, APIKey: tt.apiKey, ThinkingBudget: tt.thinkingBudget})

			if tt.errContains != "" {
				assert.ErrorContains(t, err, tt.errContains)
				assert.Nil(t, m)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.model, m.model)
			assert.NotNil(t, m.client)
			if tt.thinkingBudget != nil {
				assert.Equal(t, *tt.thinkingBudget, *m.thinkingBudget)
			}
		})
	}
}

func TestGenerateContentAgainstBaseURL(t *testing.T) {
	var path, apiKey, body string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		path = r.URL.Path
		apiKey = r.Header.Get("x-goog-api-key")
		raw, _ := io.ReadAll(r.Body)
		body = string(raw)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"candidates":[{"content":{"role":"model","parts":[{"text":"thinking","thought":true},{"text":"fmt.Println(1)"}]}}]}`))
	}))
	t.Cleanup(server.Close)

	m, err := New(context.Background(), Config{Model: "gemini-2.5-flash", APIKey: "g-test", BaseURL: server.URL})
	require.NoError(t, err)

	resp, err := m.GenerateContent(context.Background(), []llms.MessageContent{
		{Role: llms.ChatMessageTypeHuman, Parts: []llms.ContentPart{llms.TextPart("read this"), llms.BinaryPart("image/png", []byte{1, 2, 3})}},
	}, llms.WithMaxTokens(256))
	require.NoError(t, err)
	require.Len(t, resp.Choices, 1)

	assert.Equal(t, "fmt.Println(1)", resp.Choices[0].Content)
	assert.Contains(t, path, "gemini-2.5-flash:generateContent")
	assert.Equal(t, "g-test", apiKey)
	assert.Contains(t, body, "read this")
	assert.Contains(t, body, "image/png")
}

func TestGenerateContentSurfacesAPIError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusTooManyRequests)
		_, _ = w.Write([]byte(`{"error":{"code":429,"message":"quota exhausted","status":"RESOURCE_EXHAUSTED"}}`))
	}))
	t.Cleanup(server.Close)

	m, err := New(context.Background(), Config{Model: "gemini-2.5-flash", APIKey: "g-test", BaseURL: server.URL})
	require.NoError(t, err)

	_, err = m.Call(context.Background(), "hello")

	var apiErr genai.APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusTooManyRequests, apiErr.Code)
}

func TestGenerateContentRejectsBadInput(t *testing.T) {
	tests := []struct {
		name        string
		messages    []llms.MessageContent
		errContains string
	}{
		{"no messages", nil, "no prompt provided"},
		{"no parts", []llms.MessageContent{{Parts: []llms.ContentPart{}}}, "no valid content parts found"},
		{"unsupported part", []llms.MessageContent{{Parts: []llms.ContentPart{llms.ToolCallResponse{}}}}, "unsupported content part type"},
		{"remote image URL", []llms.MessageContent{{Parts: []llms.ContentPart{llms.ImageURLContent{URL: "https://example.com/image.jpg"}}}}, "unsupported ImageURLContent with non-data URL"},
		{"malformed data URL", []llms.MessageContent{{Parts: []llms.ContentPart{llms.ImageURLContent{URL: "data:image/jpeg;base64,not,valid"}}}}, "invalid data URL format"},
		{"bad base64", []llms.MessageContent{{Parts: []llms.ContentPart{llms.ImageURLContent{URL: "data:image/jpeg;base64,!!!"}}}}, "failed to decode base64 image"},
	}

	m := &Model{model: "gemini-2.5-flash"}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, err := m.GenerateContent(context.Background(), tt.messages)
			assert.ErrorContains(t, err, tt.errContains)
			assert.Nil(t, resp)
		})
	}
}

func TestToPart(t *testing.T) {
	part, err := toPart(llms.ImageURLContent{URL: "data:image/png;base64,aGVsbG8="})
	require.NoError(t, err)
	assert.Equal(t, "image/png", part.InlineData.MIMEType)
	assert.Equal(t, []byte("hello"), part.InlineData.Data)

	part, err = toPart(llms.BinaryContent{Data: []byte{1, 2}})
	require.NoError(t, err)
	assert.Equal(t, "image/jpeg", part.InlineData.MIMEType, "binary parts default to JPEG")

	part, err = toPart(llms.TextPart("read this"))
	require.NoError(t, err)
	assert.Equal(t, "read this", part.Text)
}

func TestGenerationConfig(t *testing.T) {
	m := &Model{}
	assert.Nil(t, m.generationConfig(), "nothing to configure")

	m.thinkingBudget = int32Ptr(512)
	cfg := m.generationConfig(llms.WithMaxTokens(100), llms.WithTemperature(0.5))
	require.NotNil(t, cfg)
	assert.Equal(t, int32(512), *cfg.ThinkingConfig.ThinkingBudget)
	assert.Equal(t, int32(100), cfg.MaxOutputTokens)
	assert.Equal(t, float32(0.5), *cfg.Temperature)
}

func TestCandidateText(t *testing.T) {
	tests := []struct {
		name        string
		resp        *genai.GenerateContentResponse
		want        string
		errContains string
	}{
		{"nil response", nil, "", "empty response"},
		{"no content", &genai.GenerateContentResponse{Candidates: []*genai.Candidate{{}}}, "", "no content"},
		{
			name: "thinking parts skipped",
			resp: &genai.GenerateContentResponse{Candidates: []*genai.Candidate{{Content: &genai.Content{Parts: []*genai.Part{
				{Text: "reasoning", Thought: true},
				{Text: "int x = 1;"},
				{Text: "\nint y = 2;"},
			}}}}},
			want: "int x = 1;\nint y = 2;",
		},
		{
			name: "only thinking",
			resp: &genai.GenerateContentResponse{Candidates: []*genai.Candidate{{Content: &genai.Content{Parts: []*genai.Part{
				{Text: "reasoning", Thought: true},
			}}}}},
			errContains: "no non-thinking text parts",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := candidateText(tt.resp)
			if tt.errContains != "" {
				assert.ErrorContains(t, err, tt.errContains)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestClose(t *testing.T) {
	assert.NoError(t, (&Model{}).Close())
}
