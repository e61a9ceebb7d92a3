package main

import (
	"fmt"
	"io"
	"strings"
	"sync"

	"codelens/annotation"

	"github.com/fatih/color"
	"github.com/sirupsen/logrus"
)

var (
	errorColor      = color.New(color.FgRed, color.Bold)
	warningColor    = color.New(color.FgYellow)
	infoColor       = color.New(color.FgCyan)
	suggestionColor = color.New(color.FgGreen)
	simulationColor = color.New(color.FgMagenta)
)

// consolePresenter prints annotations as they appear. Moves and disposals
// are only logged at debug level.
type consolePresenter struct {
	mu      sync.Mutex
	out     io.Writer
	visible map[string]bool
}

func newConsolePresenter(out io.Writer) *consolePresenter {
	return &consolePresenter{out: out, visible: make(map[string]bool)}
}

func (p *consolePresenter) Present(a annotation.Annotation) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.visible[a.ID] = true

	c := annotationColor(a)
	c.Fprintf(p.out, "%-10s %s  %s\n", label(a), a.RegionID, a.Content.Title)
	if a.Content.Body != "" {
		fmt.Fprintf(p.out, "    %s\n", a.Content.Body)
	}
	if a.Content.Code != "" {
		for _, line := range strings.Split(strings.TrimRight(a.Content.Code, "\n"), "\n") {
			fmt.Fprintf(p.out, "    | %s\n", line)
		}
	}
}

func (p *consolePresenter) Update(id string, placement annotation.Placement) {
	log.WithFields(logrus.Fields{
		"annotation": id,
		"x":          placement.X,
		"y":          placement.Y,
	}).Debug("Annotation moved")
}

func (p *consolePresenter) Dispose(id string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.visible, id)
	log.WithField("annotation", id).Debug("Annotation disposed")
}

// Visible returns the number of annotations presented and not yet disposed.
func (p *consolePresenter) Visible() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.visible)
}

func label(a annotation.Annotation) string {
	if a.Kind == annotation.KindFinding && a.Content.Severity != "" {
		return strings.ToUpper(a.Content.Severity)
	}
	return strings.ToUpper(string(a.Kind))
}

func annotationColor(a annotation.Annotation) *color.Color {
	switch a.Kind {
	case annotation.KindSuggestion:
		return suggestionColor
	case annotation.KindSimulation:
		if a.Content.Severity == "warning" {
			return warningColor
		}
		return simulationColor
	}
	switch strings.ToLower(a.Content.Severity) {
	case "error", "critical", "high":
		return errorColor
	case "warning", "medium":
		return warningColor
	default:
		return infoColor
	}
}
