package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"time"

	"github.com/siteflow/siteflow/pkg/logger"
	"github.com/siteflow/siteflow/pkg/workflow"
)

var actionlintLog = logger.New("cli:actionlint")

// LintMode is the external linter policy.
type LintMode string

const (
	LintOff    LintMode = "off"
	LintWarn   LintMode = "warn"
	LintStrict LintMode = "strict"
)

func parseLintMode(s string) (LintMode, error) {
	switch LintMode(s) {
	case LintOff, LintWarn, LintStrict:
		return LintMode(s), nil
	}
	return "", fmt.Errorf("invalid lint mode %q (expected off, warn, or strict)", s)
}

// actionlintError is one finding from actionlint's JSON output.
type actionlintError struct {
	Message   string `json:"message"`
	Filepath  string `json:"filepath"`
	Line      int    `json:"line"`
	Column    int    `json:"column"`
	Kind      string `json:"kind"`
	Snippet   string `json:"snippet"`
	EndColumn int    `json:"end_column"`
}

// ActionlintLinter runs the actionlint binary over rendered workflow text.
// Linting is advisory: a missing binary, crash, or timeout degrades to a
// single warning diagnostic instead of failing the pipeline.
type ActionlintLinter struct {
	mode    LintMode
	timeout time.Duration
}

// NewActionlintLinter creates a linter with the given policy and
// per-invocation timeout.
func NewActionlintLinter(mode LintMode, timeout time.Duration) *ActionlintLinter {
	return &ActionlintLinter{mode: mode, timeout: timeout}
}

// Lint feeds the rendered text to actionlint on stdin and converts its JSON
// output into diagnostics.
func (l *ActionlintLinter) Lint(ctx context.Context, name string, rendered string) []workflow.Diagnostic {
	if l.mode == LintOff {
		return nil
	}

	if _, err := exec.LookPath("actionlint"); err != nil {
		actionlintLog.Printf("actionlint not found on PATH: %v", err)
		return []workflow.Diagnostic{unavailable("actionlint binary not found on PATH")}
	}

	lintCtx, cancel := context.WithTimeout(ctx, l.timeout)
	defer cancel()

	actionlintLog.Printf("Running actionlint on %s (%d bytes, timeout %s)", name, len(rendered), l.timeout)

	cmd := exec.CommandContext(lintCtx, "actionlint", "-no-color", "-format", "{{json .}}", "-")
	cmd.Stdin = strings.NewReader(rendered)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	if lintCtx.Err() == context.DeadlineExceeded {
		return []workflow.Diagnostic{unavailable(fmt.Sprintf("actionlint timed out after %s on %s", l.timeout, name))}
	}
	if err != nil {
		var exitErr *exec.ExitError
		// Exit code 1 means findings were reported; anything else is a
		// real invocation failure.
		if !errors.As(err, &exitErr) || exitErr.ExitCode() != 1 {
			actionlintLog.Printf("actionlint failed on %s: %v (stderr: %s)", name, err, stderr.String())
			return []workflow.Diagnostic{unavailable(fmt.Sprintf("actionlint failed: %v", err))}
		}
	}

	diags, parseErr := l.parseOutput(stdout.String())
	if parseErr != nil {
		actionlintLog.Printf("Failed to parse actionlint output: %v", parseErr)
		return []workflow.Diagnostic{unavailable(fmt.Sprintf("unparsable actionlint output: %v", parseErr))}
	}
	actionlintLog.Printf("actionlint reported %d finding(s) on %s", len(diags), name)
	return diags
}

func (l *ActionlintLinter) parseOutput(stdout string) ([]workflow.Diagnostic, error) {
	if strings.TrimSpace(stdout) == "" {
		return nil, nil
	}

	var findings []actionlintError
	if err := json.Unmarshal([]byte(stdout), &findings); err != nil {
		return nil, fmt.Errorf("failed to parse actionlint JSON output: %w", err)
	}

	severity := workflow.SeverityWarning
	if l.mode == LintStrict {
		severity = workflow.SeverityError
	}

	diags := make([]workflow.Diagnostic, 0, len(findings))
	for _, f := range findings {
		rule := "lint/syntax"
		if f.Kind != "" {
			rule = "lint/" + f.Kind
		}
		diags = append(diags, workflow.Diagnostic{
			Severity:  severity,
			Rule:      rule,
			StepIndex: -1,
			Line:      f.Line,
			Message:   f.Message,
		})
	}
	return diags, nil
}

func unavailable(msg string) workflow.Diagnostic {
	return workflow.Diagnostic{
		Severity:  workflow.SeverityWarning,
		Rule:      "lint/unavailable",
		StepIndex: -1,
		Message:   msg,
	}
}
