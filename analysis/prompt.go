package analysis

import (
	"bytes"
	"fmt"
	"strings"
	"text/template"

	"github.com/Masterminds/sprig/v3"
)

// DefaultPromptTemplate instructs the backend to answer with a fenced JSON block.
var DefaultPromptTemplate = strings.ReplaceAll(`You are reviewing source code that was photographed and read by OCR, so it may contain recognition errors. Do not report OCR artefacts as bugs unless they would also be bugs in the real code.

Analyse the code and respond with exactly one fenced JSON block of this shape:

'''json
{
  "language": "<programming language>",
  "errors": [
    {"type": "syntax|runtime|logic|security|style", "severity": "error|warning|info", "line": 1, "message": "<what is wrong>", "fix": "<corrected code>"}
  ],
  "suggestions": [
    {"type": "performance|readability|best-practice|security", "line": 1, "description": "<what to improve>", "code": "<replacement code>"}
  ],
  "simulation": {"canSimulate": true, "output": "<printed output>", "errors": ["<runtime error>"], "executionTime": "<estimate>", "securityRisks": ["<risk>"]}
}
'''

Leave out "simulation" when the code cannot be run in isolation. Use empty arrays when there is nothing to report.

Code:
{{ .Text | trim }}
`, "'''", "```")

// PromptData is the data available to the analysis prompt template.
type PromptData struct {
	Text     string
	RegionID string
	Model    string
	Provider Provider
}

// ParsePromptTemplate parses a prompt template with the sprig function map.
func ParsePromptTemplate(content string) (*template.Template, error) {
	return template.New("analysis").Funcs(sprig.FuncMap()).Parse(content)
}

func renderPrompt(tmpl *template.Template, req *Request) (string, error) {
	var buf bytes.Buffer
	err := tmpl.Execute(&buf, PromptData{
		Text:     req.Text,
		RegionID: req.RegionID,
		Model:    req.Model,
		Provider: req.Provider,
	})
	if err != nil {
		return "", fmt.Errorf("error executing analysis template: %w", err)
	}
	return buf.String(), nil
}
