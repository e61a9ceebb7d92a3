package annotation

import (
	"fmt"
	"strings"

	"codelens/analysis"
	"codelens/scanner"
)

// Kind is the role an annotation plays in its group.
type Kind string

const (
	KindFinding    Kind = "finding"
	KindSuggestion Kind = "suggestion"
	KindSimulation Kind = "simulation-summary"
)

// Placement is a position in presenter space: x to the right, y up, z depth.
type Placement struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
	Z float64 `json:"z"`
}

// Content is what an annotation displays.
type Content struct {
	Title    string `json:"title"`
	Body     string `json:"body,omitempty"`
	Severity string `json:"severity,omitempty"`
	Code     string `json:"code,omitempty"`
	Line     *int   `json:"line,omitempty"`
}

// Annotation is a visual element anchored to a region by ID.
type Annotation struct {
	ID        string    `json:"id"`
	Kind      Kind      `json:"kind"`
	RegionID  string    `json:"region_id"`
	Placement Placement `json:"placement"`
	Content   Content   `json:"content"`
	Visible   bool      `json:"visible"`
}

// Presenter renders annotations. Its methods are called with the tracker
// lock held and must not call back into the tracker.
type Presenter interface {
	Present(a Annotation)
	Update(id string, placement Placement)
	Dispose(id string)
}

// RegionLookup resolves a region ID to the current region.
type RegionLookup interface {
	Lookup(id string) (scanner.Region, bool)
}

func annotationID(regionID string, kind Kind, index int) string {
	return fmt.Sprintf("%s:%s:%d", regionID, kind, index)
}

func findingContent(issue analysis.Issue) Content {
	title := issue.Category
	if title == "" {
		title = "issue"
	}
	if issue.Line != nil {
		title = fmt.Sprintf("%s (line %d)", title, *issue.Line)
	}
	return Content{
		Title:    title,
		Body:     issue.Description,
		Severity: issue.Severity,
		Code:     issue.Fix,
		Line:     issue.Line,
	}
}

func suggestionContent(s analysis.Suggestion) Content {
	title := s.Category
	if title == "" {
		title = "suggestion"
	}
	if s.Line != nil {
		title = fmt.Sprintf("%s (line %d)", title, *s.Line)
	}
	return Content{
		Title: title,
		Body:  s.Description,
		Code:  s.Code,
		Line:  s.Line,
	}
}

func simulationContent(sim *analysis.Simulation) Content {
	if !sim.CanSimulate {
		return Content{Title: "Simulation", Body: "This code cannot be simulated."}
	}

	var body strings.Builder
	if sim.Output != "" {
		fmt.Fprintf(&body, "Output:\n%s\n", sim.Output)
	}
	if len(sim.Errors) > 0 {
		fmt.Fprintf(&body, "Runtime errors:\n- %s\n", strings.Join(sim.Errors, "\n- "))
	}
	if len(sim.SecurityRisks) > 0 {
		fmt.Fprintf(&body, "Security risks:\n- %s\n", strings.Join(sim.SecurityRisks, "\n- "))
	}

	title := "Simulation"
	if sim.ExecutionTime != "" {
		title = fmt.Sprintf("Simulation (%s)", sim.ExecutionTime)
	}
	severity := ""
	if len(sim.Errors) > 0 || len(sim.SecurityRisks) > 0 {
		severity = "warning"
	}
	return Content{
		Title:    title,
		Body:     strings.TrimSpace(body.String()),
		Severity: severity,
	}
}
