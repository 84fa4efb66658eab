// Package diag formats pipeline diagnostics against IR locations instead of
// source text: there is no source file at this layer, only a module, a
// function name, a block label, and an instruction index.
package diag

import (
	"fmt"
	"strings"

	"github.com/fatih/color"
)

// Level is the severity of a diagnostic.
type Level string

const (
	Error   Level = "error"
	Warning Level = "warning"
	Note    Level = "note"
)

// Location pinpoints where in the IR a diagnostic applies.
type Location struct {
	Function string
	Block    string // empty for module-wide diagnostics
	Index    int    // instruction index within Block, -1 if not applicable
}

func (l Location) String() string {
	switch {
	case l.Function == "":
		return "<module>"
	case l.Block == "":
		return l.Function
	case l.Index < 0:
		return fmt.Sprintf("%s:%s", l.Function, l.Block)
	default:
		return fmt.Sprintf("%s:%s:%d", l.Function, l.Block, l.Index)
	}
}

// Diagnostic is a single structured pipeline message.
type Diagnostic struct {
	Level    Level
	Code     string // e.g. P0001, matching the range table in codes.go
	Message  string
	Location Location
	Notes    []string
}

// Reporter accumulates diagnostics produced by a pipeline run and renders
// them the way the teacher's compiler renders parse/semantic errors: a
// colored header line plus a location line and notes, without a source
// excerpt (there is none to show).
type Reporter struct {
	diags []Diagnostic
}

func NewReporter() *Reporter { return &Reporter{} }

func (r *Reporter) Report(d Diagnostic) { r.diags = append(r.diags, d) }

func (r *Reporter) HasErrors() bool {
	for _, d := range r.diags {
		if d.Level == Error {
			return true
		}
	}
	return false
}

func (r *Reporter) All() []Diagnostic { return append([]Diagnostic(nil), r.diags...) }

// Format renders every accumulated diagnostic.
func (r *Reporter) Format() string {
	var b strings.Builder
	for _, d := range r.diags {
		b.WriteString(FormatOne(d))
	}
	return b.String()
}

// FormatOne renders a single diagnostic.
func FormatOne(d Diagnostic) string {
	var b strings.Builder

	levelColor := levelColor(d.Level)
	dim := color.New(color.Faint).SprintFunc()

	if d.Code != "" {
		b.WriteString(fmt.Sprintf("%s[%s]: %s\n", levelColor(string(d.Level)), d.Code, d.Message))
	} else {
		b.WriteString(fmt.Sprintf("%s: %s\n", levelColor(string(d.Level)), d.Message))
	}

	b.WriteString(fmt.Sprintf("  %s %s\n", dim("-->"), d.Location.String()))

	noteColor := color.New(color.FgBlue).SprintFunc()
	for _, note := range d.Notes {
		b.WriteString(fmt.Sprintf("  %s %s %s\n", dim("│"), noteColor("note:"), note))
	}

	b.WriteString("\n")
	return b.String()
}

func levelColor(level Level) func(...interface{}) string {
	switch level {
	case Error:
		return color.New(color.FgRed, color.Bold).SprintFunc()
	case Warning:
		return color.New(color.FgYellow, color.Bold).SprintFunc()
	case Note:
		return color.New(color.FgBlue, color.Bold).SprintFunc()
	default:
		return color.New(color.FgRed, color.Bold).SprintFunc()
	}
}
