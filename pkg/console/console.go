// Package console formats user-facing terminal output. All human-readable
// messages go to stderr through these helpers; stdout is reserved for
// machine-parsable pipeline summary lines.
package console

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/charmbracelet/lipgloss"
)

var styles = struct {
	ColorError   lipgloss.AdaptiveColor
	ColorWarning lipgloss.AdaptiveColor
	ColorSuccess lipgloss.AdaptiveColor
	ColorInfo    lipgloss.AdaptiveColor
}{
	ColorError:   lipgloss.AdaptiveColor{Light: "#D70000", Dark: "#FF5F5F"},
	ColorWarning: lipgloss.AdaptiveColor{Light: "#AF8700", Dark: "#FFD700"},
	ColorSuccess: lipgloss.AdaptiveColor{Light: "#008700", Dark: "#5FD700"},
	ColorInfo:    lipgloss.AdaptiveColor{Light: "#005FAF", Dark: "#5FAFFF"},
}

var (
	errorStyle   = lipgloss.NewStyle().Foreground(styles.ColorError)
	warningStyle = lipgloss.NewStyle().Foreground(styles.ColorWarning)
	successStyle = lipgloss.NewStyle().Foreground(styles.ColorSuccess)
	infoStyle    = lipgloss.NewStyle().Foreground(styles.ColorInfo)
)

// FormatErrorMessage formats an error message with the ✗ prefix.
func FormatErrorMessage(msg string) string {
	return errorStyle.Render("✗ " + msg)
}

// FormatWarningMessage formats a warning message with the ⚠ prefix.
func FormatWarningMessage(msg string) string {
	return warningStyle.Render("⚠ " + msg)
}

// FormatSuccessMessage formats a success message with the ✓ prefix.
func FormatSuccessMessage(msg string) string {
	return successStyle.Render("✓ " + msg)
}

// FormatInfoMessage formats an informational message with the ℹ prefix.
func FormatInfoMessage(msg string) string {
	return infoStyle.Render("ℹ " + msg)
}

// FormatErrorWithSuggestions formats an error message followed by a bulleted
// list of suggested next actions.
func FormatErrorWithSuggestions(msg string, suggestions []string) string {
	var sb strings.Builder
	sb.WriteString(FormatErrorMessage(msg))
	sb.WriteString("\n")
	if len(suggestions) > 0 {
		sb.WriteString("\nSuggestions:\n")
		for _, s := range suggestions {
			sb.WriteString("  • ")
			sb.WriteString(s)
			sb.WriteString("\n")
		}
	}
	return sb.String()
}

// ToRelativePath converts an absolute path to one relative to the current
// working directory when that makes it shorter to display.
func ToRelativePath(path string) string {
	cwd, err := os.Getwd()
	if err != nil {
		return path
	}
	rel, err := filepath.Rel(cwd, path)
	if err != nil || strings.HasPrefix(rel, "..") {
		return path
	}
	return rel
}

func fprintln(msg string) {
	fmt.Fprintln(os.Stderr, msg)
}

// PrintInfo writes an info message to stderr.
func PrintInfo(msg string) { fprintln(FormatInfoMessage(msg)) }

// PrintWarning writes a warning message to stderr.
func PrintWarning(msg string) { fprintln(FormatWarningMessage(msg)) }

// PrintSuccess writes a success message to stderr.
func PrintSuccess(msg string) { fprintln(FormatSuccessMessage(msg)) }

// PrintError writes an error message to stderr.
func PrintError(msg string) { fprintln(FormatErrorMessage(msg)) }
