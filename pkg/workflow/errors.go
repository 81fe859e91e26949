package workflow

import (
	"fmt"
	"strings"
)

// MissingParameterError reports the first template placeholder that has no
// value in the TemplateContext.
type MissingParameterError struct {
	Template  string
	Parameter string
}

func (e *MissingParameterError) Error() string {
	return fmt.Sprintf("template %q references undefined parameter %q", e.Template, e.Parameter)
}

// UnsupportedParameterTypeError reports a scalar/list mismatch between a
// template construct and the supplied parameter value.
type UnsupportedParameterTypeError struct {
	Template  string
	Parameter string
	Expected  string // "scalar" or "list"
	Got       string
}

func (e *UnsupportedParameterTypeError) Error() string {
	return fmt.Sprintf("template %q parameter %q: expected %s value, got %s", e.Template, e.Parameter, e.Expected, e.Got)
}

// DuplicateJobIDError reports two jobs sharing an id.
type DuplicateJobIDError struct {
	JobID string
}

func (e *DuplicateJobIDError) Error() string {
	return fmt.Sprintf("duplicate job id %q", e.JobID)
}

// CyclicDependencyError reports a cycle in the needs graph as an ordered
// list of job ids.
type CyclicDependencyError struct {
	Cycle []string
}

func (e *CyclicDependencyError) Error() string {
	return fmt.Sprintf("cyclic job dependency: %s", strings.Join(e.Cycle, " -> "))
}

// DanglingNeedsError reports a needs entry that names a job absent from the
// model. Distinct from CyclicDependencyError.
type DanglingNeedsError struct {
	JobID string
	Needs string
}

func (e *DanglingNeedsError) Error() string {
	return fmt.Sprintf("job %q needs %q, which does not exist", e.JobID, e.Needs)
}

// UnresolvedViolationsError carries the fatal diagnostics that survived the
// normalization pass. The writer is never invoked when this is returned.
type UnresolvedViolationsError struct {
	Diagnostics []Diagnostic
}

func (e *UnresolvedViolationsError) Error() string {
	return fmt.Sprintf("%d violation(s) remain after fix-up", countFatal(e.Diagnostics))
}

// WriteConflictError reports a concurrent writer holding the same target
// path. The operation is retryable by the caller.
type WriteConflictError struct {
	Path string
}

func (e *WriteConflictError) Error() string {
	return fmt.Sprintf("concurrent write in progress for %s", e.Path)
}
