package analysis

import (
	"encoding/json"
	"regexp"
	"strconv"
	"strings"
	"time"

	"codelens/internal/textutil"
)

const rawPreviewLength = 500

var fencedJSONPattern = regexp.MustCompile("(?s)```(?:json|JSON)?\\s*(\\{.*?\\})\\s*```")

// analysisPayload is the JSON shape the prompt asks the backend to produce.
type analysisPayload struct {
	Language    string              `json:"language"`
	Errors      []issuePayload      `json:"errors"`
	Suggestions []suggestionPayload `json:"suggestions"`
	Simulation  *simulationPayload  `json:"simulation"`
}

type issuePayload struct {
	Type        string      `json:"type"`
	Severity    string      `json:"severity"`
	Line        *lineNumber `json:"line"`
	Message     string      `json:"message"`
	Description string      `json:"description"`
	Fix         string      `json:"fix"`
}

type suggestionPayload struct {
	Type        string      `json:"type"`
	Line        *lineNumber `json:"line"`
	Description string      `json:"description"`
	Message     string      `json:"message"`
	Code        string      `json:"code"`
}

type simulationPayload struct {
	CanSimulate   bool        `json:"canSimulate"`
	Output        string      `json:"output"`
	Errors        []string    `json:"errors"`
	ExecutionTime looseString `json:"executionTime"`
	SecurityRisks []string    `json:"securityRisks"`
}

// lineNumber accepts 3, "3" and null.
type lineNumber int

func (l *lineNumber) UnmarshalJSON(b []byte) error {
	s := strings.Trim(strings.TrimSpace(string(b)), `"`)
	if s == "" || s == "null" {
		return nil
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		// A line number we cannot read is not worth losing the whole result over.
		return nil
	}
	*l = lineNumber(n)
	return nil
}

func (l *lineNumber) ptr() *int {
	if l == nil || *l <= 0 {
		return nil
	}
	n := int(*l)
	return &n
}

// looseString accepts strings and bare numbers ("12ms" or 12).
type looseString string

func (s *looseString) UnmarshalJSON(b []byte) error {
	var str string
	if err := json.Unmarshal(b, &str); err == nil {
		*s = looseString(str)
		return nil
	}
	raw := strings.TrimSpace(string(b))
	if raw != "null" {
		*s = looseString(raw)
	}
	return nil
}

// extractJSON finds the fenced JSON block in text, falling back to the first
// balanced brace-delimited object.
func extractJSON(text string) (string, bool) {
	if m := fencedJSONPattern.FindStringSubmatch(text); m != nil {
		return m[1], true
	}

	start := strings.Index(text, "{")
	if start == -1 {
		return "", false
	}
	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(text); i++ {
		c := text[i]
		switch {
		case escaped:
			escaped = false
		case c == '\\' && inString:
			escaped = true
		case c == '"':
			inString = !inString
		case inString:
		case c == '{':
			depth++
		case c == '}':
			depth--
			if depth == 0 {
				return text[start : i+1], true
			}
		}
	}
	return "", false
}

// parseResult maps the backend's response text into a Result. It never fails:
// unparseable text becomes a single raw suggestion.
func parseResult(req *Request, text string, now time.Time) Result {
	result := Result{
		RequestID:   req.ID,
		RegionID:    req.RegionID,
		Provider:    req.Provider,
		Model:       req.Model,
		CompletedAt: now,
		Issues:      []Issue{},
		Suggestions: []Suggestion{},
	}

	text = textutil.StripReasoning(text)
	payload, ok := decodePayload(text)
	if !ok {
		result.Language = "unknown"
		result.Raw = true
		if text == "" {
			text = "(empty response)"
		}
		result.Suggestions = append(result.Suggestions, Suggestion{
			Category:    "raw-response",
			Description: textutil.Truncate(text, rawPreviewLength),
		})
		return result
	}

	result.Language = payload.Language
	if result.Language == "" {
		result.Language = "unknown"
	}
	for _, e := range payload.Errors {
		description := e.Message
		if description == "" {
			description = e.Description
		}
		result.Issues = append(result.Issues, Issue{
			Category:    e.Type,
			Severity:    e.Severity,
			Line:        e.Line.ptr(),
			Description: description,
			Fix:         e.Fix,
		})
	}
	for _, s := range payload.Suggestions {
		description := s.Description
		if description == "" {
			description = s.Message
		}
		result.Suggestions = append(result.Suggestions, Suggestion{
			Category:    s.Type,
			Description: description,
			Line:        s.Line.ptr(),
			Code:        s.Code,
		})
	}
	if sim := payload.Simulation; sim != nil {
		result.Simulation = &Simulation{
			CanSimulate:   sim.CanSimulate,
			Output:        sim.Output,
			Errors:        sim.Errors,
			ExecutionTime: string(sim.ExecutionTime),
			SecurityRisks: sim.SecurityRisks,
		}
	}
	return result
}

func decodePayload(text string) (analysisPayload, bool) {
	var payload analysisPayload
	raw, ok := extractJSON(text)
	if !ok {
		return payload, false
	}
	if err := json.Unmarshal([]byte(raw), &payload); err != nil {
		log.WithError(err).Debug("Analysis response JSON did not decode")
		return payload, false
	}
	return payload, true
}
