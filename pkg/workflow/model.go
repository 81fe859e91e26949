// Package workflow implements the generation pipeline for per-site CI
// workflow documents: template rendering, structural parsing, schema
// validation, lint adaptation, rule-driven normalization, and
// comment-preserving diff-aware emission.
package workflow

import "fmt"

// Kind selects the generation strategy for a workflow.
type Kind string

const (
	KindCrawler  Kind = "crawler"
	KindAnalyzer Kind = "analyzer"
	KindCommon   Kind = "common"
)

// Kinds lists every workflow kind in generation order.
var Kinds = []Kind{KindCrawler, KindAnalyzer, KindCommon}

// ParseKind converts a user-supplied string into a Kind.
func ParseKind(s string) (Kind, error) {
	switch Kind(s) {
	case KindCrawler, KindAnalyzer, KindCommon:
		return Kind(s), nil
	}
	return "", fmt.Errorf("unknown workflow kind %q (expected crawler, analyzer, or common)", s)
}

// Severity classifies a diagnostic.
type Severity string

const (
	SeverityError   Severity = "error"
	SeverityWarning Severity = "warning"
)

// Diagnostic is a structured validation or lint finding.
type Diagnostic struct {
	Severity  Severity
	Rule      string
	JobID     string
	StepIndex int // -1 when the finding is not step-scoped
	Line      int // 0 when unknown
	Message   string
}

// Fatal reports whether this diagnostic blocks generation.
func (d Diagnostic) Fatal() bool {
	return d.Severity == SeverityError
}

func (d Diagnostic) String() string {
	loc := ""
	if d.JobID != "" {
		loc = " job=" + d.JobID
		if d.StepIndex >= 0 {
			loc += fmt.Sprintf(" step=%d", d.StepIndex)
		}
	}
	if d.Line > 0 {
		loc += fmt.Sprintf(" line=%d", d.Line)
	}
	return fmt.Sprintf("%s [%s]%s: %s", d.Severity, d.Rule, loc, d.Message)
}

// countFatal returns the number of error-severity diagnostics.
func countFatal(diags []Diagnostic) int {
	n := 0
	for _, d := range diags {
		if d.Fatal() {
			n++
		}
	}
	return n
}

// Step is the smallest executable unit within a job. Exactly one of Uses
// (external action reference) and Run (inline script body) must be set.
type Step struct {
	Name            string
	Uses            string
	Run             string
	With            map[string]string
	Env             map[string]string
	If              string // host CI expression, kept opaque
	ContinueOnError bool
}

// Job is a unit of work with declared dependencies on other jobs.
type Job struct {
	ID          string
	Name        string
	RunsOn      string
	Uses        string // reusable-workflow reference, alternative to RunsOn
	Needs       []string
	If          string // opaque expression
	Permissions []string
	Env         map[string]string
	Steps       []Step
}

// Model is the typed representation of one rendered workflow document.
// It is built once by Parse, mutated only by the Normalizer's single fix-up
// pass, and then frozen.
type Model struct {
	Name        string
	On          []Trigger
	Permissions []string
	Env         map[string]string
	Jobs        []*Job
}

// Trigger is one entry of the workflow trigger set. Value holds the raw
// trigger configuration (schedule cron list, branch filters) without
// interpretation.
type Trigger struct {
	Event string
	Value any
}

// Job returns the job with the given id, or nil.
func (m *Model) Job(id string) *Job {
	for _, j := range m.Jobs {
		if j.ID == id {
			return j
		}
	}
	return nil
}

// JobIDs returns job ids in document order.
func (m *Model) JobIDs() []string {
	ids := make([]string, len(m.Jobs))
	for i, j := range m.Jobs {
		ids[i] = j.ID
	}
	return ids
}

// Status is the outcome of one (site, kind) pipeline.
type Status string

const (
	StatusSuccess   Status = "success"
	StatusUnchanged Status = "unchanged"
	StatusFailure   Status = "failure"
)

// GenerationResult is the per-pipeline outcome consumed by the orchestrator.
type GenerationResult struct {
	Site        string
	Kind        Kind
	Status      Status
	OutputPath  string
	Changed     bool
	Diagnostics []Diagnostic
	Err         error
}

// Failed reports whether the pipeline ended with a fatal outcome.
func (r GenerationResult) Failed() bool {
	return r.Status == StatusFailure
}
