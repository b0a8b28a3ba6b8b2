package output

import (
	"bytes"
	"fmt"
	"os"
	"strings"
	"text/tabwriter"

	"golang.org/x/term"

	"nmhealth-go/internal/contracts"
)

const (
	ansiReset  = "\033[0m"
	ansiRed    = "\033[31m"
	ansiGreen  = "\033[32m"
	ansiYellow = "\033[33m"
	ansiGray   = "\033[90m"
)

// TableFormatter formats output for a human reader. Alert states are
// colored when stdout is a terminal.
type TableFormatter struct {
	NoColor bool

	// isTerminal overrides TTY detection in tests.
	isTerminal func() bool
}

// Format renders the alert types this CLI prints. Anything else falls back
// to fmt's %v.
func (f *TableFormatter) Format(data interface{}) (string, error) {
	switch v := data.(type) {
	case contracts.AlertResult:
		return f.formatResult(v), nil
	case *contracts.AlertResult:
		return f.formatResult(*v), nil
	case []contracts.TargetStatus:
		return f.FormatTable(StatusTable(v))
	case []*contracts.AlertRecord:
		return f.FormatTable(RecordTable(v))
	case []string:
		return strings.Join(v, "\n") + "\n", nil
	default:
		return fmt.Sprintf("%v\n", data), nil
	}
}

// formatResult prints the state on the first line and every message after it.
func (f *TableFormatter) formatResult(r contracts.AlertResult) string {
	var buf bytes.Buffer
	buf.WriteString(f.State(r.State))
	buf.WriteString("\n")
	for _, msg := range r.Messages {
		buf.WriteString(msg)
		buf.WriteString("\n")
	}
	return buf.String()
}

// FormatError renders an error in human-readable format.
func (f *TableFormatter) FormatError(err StructuredError) (string, error) {
	var buf bytes.Buffer
	fmt.Fprintf(&buf, "Error: %s\n", err.Message)
	if err.Guidance != "" {
		fmt.Fprintf(&buf, "  Guidance: %s\n", err.Guidance)
	}
	return buf.String(), nil
}

// FormatTable renders tabular data with headers and alignment.
func (f *TableFormatter) FormatTable(headers []string, rows [][]string) (string, error) {
	if len(rows) == 0 {
		return "No results found\n", nil
	}

	var buf bytes.Buffer
	w := tabwriter.NewWriter(&buf, 0, 0, 2, ' ', 0)

	fmt.Fprintln(w, strings.Join(headers, "\t"))
	for _, row := range rows {
		fmt.Fprintln(w, strings.Join(row, "\t"))
	}

	if err := w.Flush(); err != nil {
		return "", err
	}
	return buf.String(), nil
}

// State returns the state name, colored when the output is a terminal.
func (f *TableFormatter) State(state contracts.AlertState) string {
	if f.NoColor || !f.isTTY() {
		return string(state)
	}

	color := ansiGray
	switch state {
	case contracts.StateOK:
		color = ansiGreen
	case contracts.StateWarning:
		color = ansiYellow
	case contracts.StateCritical:
		color = ansiRed
	}
	return color + string(state) + ansiReset
}

func (f *TableFormatter) isTTY() bool {
	if f.isTerminal != nil {
		return f.isTerminal()
	}
	return term.IsTerminal(int(os.Stdout.Fd()))
}
