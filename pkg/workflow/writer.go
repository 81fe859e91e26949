package workflow

import (
	"crypto/sha256"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/goccy/go-yaml"

	"github.com/siteflow/siteflow/pkg/logger"
)

var writerLog = logger.New("workflow:writer")

const (
	// GeneratedBeginMarker and GeneratedEndMarker delimit the generator-owned
	// region of an output file. Everything outside surviving markers is
	// human-authored and preserved verbatim across regenerations.
	GeneratedBeginMarker = "# siteflow:begin generated"
	GeneratedEndMarker   = "# siteflow:end generated"
)

const generatedHeader = `# This file is maintained by siteflow. Edits inside the generated region
# will be overwritten on the next run; edits outside it are preserved.
`

// Writer serializes models and performs diff-aware atomic writes with
// per-path mutual exclusion.
type Writer struct {
	locks sync.Map // path -> *sync.Mutex
}

// NewWriter creates a Writer.
func NewWriter() *Writer {
	return &Writer{}
}

// Write composes the final document for path from the generated body and
// whatever human-authored regions the existing file carries, then writes it
// atomically unless the content is unchanged. It reports whether the file
// changed. A concurrent writer on the same path yields WriteConflictError.
func (w *Writer) Write(path, generatedBody string) (bool, error) {
	muAny, _ := w.locks.LoadOrStore(path, &sync.Mutex{})
	mu := muAny.(*sync.Mutex)
	if !mu.TryLock() {
		return false, &WriteConflictError{Path: path}
	}
	defer mu.Unlock()

	existing, err := os.ReadFile(path)
	if err != nil && !os.IsNotExist(err) {
		return false, fmt.Errorf("failed to read existing file %s: %w", path, err)
	}

	final := mergeGeneratedRegion(string(existing), generatedBody)
	if existing != nil && sha256.Sum256(existing) == sha256.Sum256([]byte(final)) {
		writerLog.Printf("Content unchanged, skipping write: %s", path)
		return false, nil
	}

	if err := atomicWrite(path, final); err != nil {
		return false, err
	}
	writerLog.Printf("Wrote %d bytes to %s", len(final), path)
	return true, nil
}

// mergeGeneratedRegion splices the freshly generated region into the
// existing document, preserving text outside the markers. A file without
// both markers is treated as fully generator-owned.
func mergeGeneratedRegion(existing, generatedBody string) string {
	region := GeneratedBeginMarker + "\n" +
		strings.TrimSuffix(generatedBody, "\n") + "\n" +
		GeneratedEndMarker + "\n"

	begin := strings.Index(existing, GeneratedBeginMarker)
	end := strings.Index(existing, GeneratedEndMarker)
	if begin < 0 || end < begin {
		return generatedHeader + region
	}

	afterEnd := end + len(GeneratedEndMarker)
	if nl := strings.IndexByte(existing[afterEnd:], '\n'); nl >= 0 {
		afterEnd += nl + 1
	} else {
		afterEnd = len(existing)
	}

	return existing[:begin] + region + existing[afterEnd:]
}

func atomicWrite(path, content string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create output directory %s: %w", dir, err)
	}

	tmp, err := os.CreateTemp(dir, ".siteflow-*.tmp")
	if err != nil {
		return fmt.Errorf("failed to create temp file in %s: %w", dir, err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.WriteString(content); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to write temp file: %w", err)
	}
	if err := tmp.Chmod(0644); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to chmod temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to close temp file: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		return fmt.Errorf("failed to move temp file into place: %w", err)
	}
	return nil
}

// Emit serializes a model back to workflow YAML with a stable field order
// and deterministic quoting. The output is the generator-owned region body;
// Write wraps it in markers.
func Emit(m *Model) string {
	var sb strings.Builder

	fmt.Fprintf(&sb, "name: %s\n", emitScalar(m.Name))

	sb.WriteString("on:\n")
	for _, t := range m.On {
		if t.Value == nil {
			fmt.Fprintf(&sb, "  %s:\n", t.Event)
			continue
		}
		fmt.Fprintf(&sb, "  %s:\n", t.Event)
		emitValue(&sb, t.Value, 4)
	}

	if len(m.Permissions) > 0 {
		sb.WriteString("permissions:\n")
		emitPermissions(&sb, m.Permissions, 2)
	}
	if len(m.Env) > 0 {
		sb.WriteString("env:\n")
		emitStringMap(&sb, m.Env, 2)
	}

	sb.WriteString("jobs:\n")
	for _, job := range m.Jobs {
		emitJob(&sb, job)
	}

	return sb.String()
}

func emitJob(sb *strings.Builder, job *Job) {
	fmt.Fprintf(sb, "  %s:\n", job.ID)
	if job.Name != "" {
		fmt.Fprintf(sb, "    name: %s\n", emitScalar(job.Name))
	}
	if job.RunsOn != "" {
		fmt.Fprintf(sb, "    runs-on: %s\n", emitScalar(job.RunsOn))
	}
	if job.Uses != "" {
		fmt.Fprintf(sb, "    uses: %s\n", emitScalar(job.Uses))
	}
	if len(job.Needs) > 0 {
		fmt.Fprintf(sb, "    needs: [%s]\n", strings.Join(job.Needs, ", "))
	}
	if job.If != "" {
		fmt.Fprintf(sb, "    if: %s\n", emitScalar(job.If))
	}
	if len(job.Permissions) > 0 {
		sb.WriteString("    permissions:\n")
		emitPermissions(sb, job.Permissions, 6)
	}
	if len(job.Env) > 0 {
		sb.WriteString("    env:\n")
		emitStringMap(sb, job.Env, 6)
	}
	if len(job.Steps) > 0 {
		sb.WriteString("    steps:\n")
		for i := range job.Steps {
			emitStep(sb, &job.Steps[i])
		}
	}
}

func emitStep(sb *strings.Builder, step *Step) {
	first := true
	field := func(key, value string) {
		prefix := "        "
		if first {
			prefix = "      - "
			first = false
		}
		fmt.Fprintf(sb, "%s%s: %s\n", prefix, key, value)
	}

	if step.Name != "" {
		field("name", emitScalar(step.Name))
	}
	if step.Uses != "" {
		field("uses", emitScalar(step.Uses))
	}
	if step.If != "" {
		field("if", emitScalar(step.If))
	}
	if len(step.With) > 0 {
		field("with", "")
		trimTrailingSpace(sb)
		emitStringMap(sb, step.With, 10)
	}
	if len(step.Env) > 0 {
		field("env", "")
		trimTrailingSpace(sb)
		emitStringMap(sb, step.Env, 10)
	}
	if step.Run != "" {
		if strings.Contains(step.Run, "\n") {
			field("run", "|")
			for _, line := range strings.Split(strings.TrimSuffix(step.Run, "\n"), "\n") {
				if line == "" {
					sb.WriteString("\n")
					continue
				}
				fmt.Fprintf(sb, "          %s\n", line)
			}
		} else {
			field("run", emitScalar(step.Run))
		}
	}
	if step.ContinueOnError {
		field("continue-on-error", "true")
	}
}

// trimTrailingSpace removes the space left by an empty mapping value so
// "with: \n" becomes "with:\n".
func trimTrailingSpace(sb *strings.Builder) {
	s := sb.String()
	if strings.HasSuffix(s, " \n") {
		sb.Reset()
		sb.WriteString(s[:len(s)-2] + "\n")
	}
}

func emitPermissions(sb *strings.Builder, perms []string, indent int) {
	pad := strings.Repeat(" ", indent)
	for _, p := range perms {
		fmt.Fprintf(sb, "%s%s\n", pad, p)
	}
}

func emitStringMap(sb *strings.Builder, m map[string]string, indent int) {
	pad := strings.Repeat(" ", indent)
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		fmt.Fprintf(sb, "%s%s: %s\n", pad, k, emitScalar(m[k]))
	}
}

func emitValue(sb *strings.Builder, v any, indent int) {
	pad := strings.Repeat(" ", indent)
	switch t := v.(type) {
	case yaml.MapSlice:
		for _, item := range t {
			if item.Value == nil {
				fmt.Fprintf(sb, "%s%s:\n", pad, keyString(item.Key))
				continue
			}
			switch item.Value.(type) {
			case yaml.MapSlice, []any:
				fmt.Fprintf(sb, "%s%s:\n", pad, keyString(item.Key))
				emitValue(sb, item.Value, indent+2)
			default:
				fmt.Fprintf(sb, "%s%s: %s\n", pad, keyString(item.Key), emitScalar(scalarString(item.Value)))
			}
		}
	case []any:
		for _, e := range t {
			switch elem := e.(type) {
			case yaml.MapSlice:
				// Inline the first key after the dash, continue with the rest.
				for i, item := range elem {
					prefix := pad + "  "
					if i == 0 {
						prefix = pad + "- "
					}
					fmt.Fprintf(sb, "%s%s: %s\n", prefix, keyString(item.Key), emitScalar(scalarString(item.Value)))
				}
			default:
				fmt.Fprintf(sb, "%s- %s\n", pad, emitScalar(scalarString(e)))
			}
		}
	default:
		fmt.Fprintf(sb, "%s%s\n", pad, emitScalar(scalarString(v)))
	}
}

// isPreQuoted reports whether s is a value the normalizer wrapped in double
// quotes: delimiters at both ends and no interior quote that would break the
// literal. Anything else goes through regular quoting.
func isPreQuoted(s string) bool {
	if len(s) < 2 || s[0] != '"' || s[len(s)-1] != '"' {
		return false
	}
	return !strings.ContainsAny(s[1:len(s)-1], `"\`)
}

// emitScalar renders a scalar with deterministic quoting. Values the
// normalizer pre-quoted are written verbatim; values YAML would
// misinterpret get double quotes.
func emitScalar(s string) string {
	if isPreQuoted(s) {
		return s
	}
	if s == "" {
		return `""`
	}
	if needsQuote(s) {
		return `"` + strings.ReplaceAll(strings.ReplaceAll(s, `\`, `\\`), `"`, `\"`) + `"`
	}
	return s
}

func needsQuote(s string) bool {
	switch s {
	case "true", "false", "null", "yes", "no", "on", "off", "~":
		return true
	}
	if versionLikePattern.MatchString(s) || cronLikePattern.MatchString(s) {
		return true
	}
	first := s[0]
	if strings.ContainsRune("&*?|>!%@`'\"{}[],#", rune(first)) {
		return true
	}
	if first == ' ' || s[len(s)-1] == ' ' {
		return true
	}
	if strings.Contains(s, ": ") || strings.HasSuffix(s, ":") || strings.Contains(s, " #") {
		return true
	}
	return false
}
