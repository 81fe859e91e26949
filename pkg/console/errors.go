package console

import (
	"fmt"
	"strings"
)

// ErrorPosition identifies where in a source file a compiler error occurred.
type ErrorPosition struct {
	File   string
	Line   int
	Column int
}

// CompilerError is a structured error with position, severity type, and
// optional source context lines for display.
type CompilerError struct {
	Position ErrorPosition
	Type     string // "error" or "warning"
	Message  string
	Context  []string
	Hint     string
}

// FormatError renders a CompilerError in the compiler-style
// "file:line:column: type: message" format, followed by numbered context
// lines when present.
func FormatError(e CompilerError) string {
	var sb strings.Builder

	sb.WriteString(fmt.Sprintf("%s:%d:%d: ", e.Position.File, e.Position.Line, e.Position.Column))
	switch e.Type {
	case "warning":
		sb.WriteString(warningStyle.Render("warning:"))
	default:
		sb.WriteString(errorStyle.Render("error:"))
	}
	sb.WriteString(" ")
	sb.WriteString(e.Message)
	sb.WriteString("\n")

	if len(e.Context) > 0 {
		// Context lines are numbered so that the error line sits in the
		// middle of the window.
		start := e.Position.Line - len(e.Context)/2
		if start < 1 {
			start = 1
		}
		width := len(fmt.Sprintf("%d", start+len(e.Context)-1))
		for i, line := range e.Context {
			n := start + i
			marker := "  "
			if n == e.Position.Line {
				marker = "> "
			}
			sb.WriteString(fmt.Sprintf("%s%*d | %s\n", marker, width, n, line))
		}
	}

	return sb.String()
}
