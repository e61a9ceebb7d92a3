package constants

// DummyAPIKey is used as a placeholder when connecting to OpenAI-compatible services
// that don't require authentication. Many services expect a token in the request
// header but don't validate it.
const DummyAPIKey = "not-needed"

// DefaultAnalysisModel is used when ANALYSIS_MODEL is not set.
const DefaultAnalysisModel = "gpt-4o"

// MinTextLength is the number of trimmed characters extracted text must exceed
// before it is worth sending for analysis.
const MinTextLength = 10
