package workflow

import (
	"bytes"
	"embed"
	"fmt"
	"regexp"
	"sort"
	"strings"
	"sync"

	"github.com/goccy/go-yaml"
	"github.com/santhosh-tekuri/jsonschema/v6"

	"github.com/siteflow/siteflow/pkg/logger"
)

var schemaLog = logger.New("workflow:schema")

//go:embed schemas/*.json
var schemaFiles embed.FS

// DefaultSchemaVersion is the structural schema validated against when no
// version is configured.
const DefaultSchemaVersion = "v1"

var (
	compiledSchemas   = make(map[string]*jsonschema.Schema)
	compileSchemaOnce sync.Once
	compileSchemaErr  error
)

func compiledSchema(version string) (*jsonschema.Schema, error) {
	compileSchemaOnce.Do(func() {
		entries, err := schemaFiles.ReadDir("schemas")
		if err != nil {
			compileSchemaErr = fmt.Errorf("failed to list embedded schemas: %w", err)
			return
		}
		compiler := jsonschema.NewCompiler()
		for _, entry := range entries {
			name := strings.TrimSuffix(entry.Name(), ".json")
			content, err := schemaFiles.ReadFile("schemas/" + entry.Name())
			if err != nil {
				compileSchemaErr = fmt.Errorf("failed to read embedded schema %s: %w", entry.Name(), err)
				return
			}
			doc, err := jsonschema.UnmarshalJSON(bytes.NewReader(content))
			if err != nil {
				compileSchemaErr = fmt.Errorf("failed to decode embedded schema %s: %w", entry.Name(), err)
				return
			}
			url := "https://siteflow.dev/schemas/workflow/" + entry.Name()
			if err := compiler.AddResource(url, doc); err != nil {
				compileSchemaErr = fmt.Errorf("failed to register schema %s: %w", entry.Name(), err)
				return
			}
			sch, err := compiler.Compile(url)
			if err != nil {
				compileSchemaErr = fmt.Errorf("failed to compile schema %s: %w", entry.Name(), err)
				return
			}
			compiledSchemas[name] = sch
		}
	})
	if compileSchemaErr != nil {
		return nil, compileSchemaErr
	}
	return compiledSchemas[version], nil
}

// Validator checks a Model against a versioned structural schema and the
// site's declared environment bindings. It produces diagnostics only and
// never mutates the model.
type Validator struct {
	version     string
	declaredEnv map[string]bool
	hasEnvScope bool
}

// NewValidator creates a validator for the given schema version. An empty
// version selects DefaultSchemaVersion.
func NewValidator(version string) *Validator {
	if version == "" {
		version = DefaultSchemaVersion
	}
	return &Validator{version: version}
}

// WithDeclaredSecrets restricts secret references to the given names
// (typically the secret references declared in the site's env bindings).
func (v *Validator) WithDeclaredSecrets(names []string) *Validator {
	v.declaredEnv = make(map[string]bool, len(names))
	for _, n := range names {
		v.declaredEnv[n] = true
	}
	v.hasEnvScope = true
	return v
}

var secretRefPattern = regexp.MustCompile(`\$\{\{\s*secrets\.([A-Za-z_][A-Za-z0-9_]*)\s*\}\}`)

// Validate returns zero or more diagnostics. An unrecognized schema version
// is a fatal diagnostic: validation fails closed rather than skipping.
func (v *Validator) Validate(m *Model) []Diagnostic {
	schemaLog.Printf("Validating model %q against schema %s", m.Name, v.version)

	sch, err := compiledSchema(v.version)
	if err != nil {
		return []Diagnostic{{
			Severity:  SeverityError,
			Rule:      "schema/unknown-version",
			StepIndex: -1,
			Message:   err.Error(),
		}}
	}
	if sch == nil {
		return []Diagnostic{{
			Severity:  SeverityError,
			Rule:      "schema/unknown-version",
			StepIndex: -1,
			Message:   fmt.Sprintf("unrecognized schema version %q", v.version),
		}}
	}

	var diags []Diagnostic
	if err := sch.Validate(modelDoc(m)); err != nil {
		diags = append(diags, schemaErrorDiagnostics(err)...)
	}

	diags = append(diags, v.checkJobs(m)...)
	diags = append(diags, checkDuplicatePermissions("", m.Permissions)...)

	schemaLog.Printf("Validation produced %d diagnostic(s) (%d fatal)", len(diags), countFatal(diags))
	return diags
}

func (v *Validator) checkJobs(m *Model) []Diagnostic {
	var diags []Diagnostic
	for _, job := range m.Jobs {
		if job.RunsOn == "" && job.Uses == "" {
			diags = append(diags, Diagnostic{
				Severity:  SeverityError,
				Rule:      "schema/missing-runner",
				JobID:     job.ID,
				StepIndex: -1,
				Message:   fmt.Sprintf("job %q specifies neither a runner nor a reusable workflow", job.ID),
			})
		}
		diags = append(diags, checkDuplicatePermissions(job.ID, job.Permissions)...)

		for i, step := range job.Steps {
			hasUses := step.Uses != ""
			hasRun := step.Run != ""
			if hasUses == hasRun {
				what := "both an action reference and a script body"
				if !hasUses {
					what = "neither an action reference nor a script body"
				}
				diags = append(diags, Diagnostic{
					Severity:  SeverityError,
					Rule:      "schema/step-exec",
					JobID:     job.ID,
					StepIndex: i,
					Message:   fmt.Sprintf("step %d of job %q has %s", i, job.ID, what),
				})
			}
			diags = append(diags, v.checkSecretRefs(job.ID, i, step.Env)...)
			diags = append(diags, v.checkSecretRefs(job.ID, i, step.With)...)
		}
		diags = append(diags, v.checkSecretRefs(job.ID, -1, job.Env)...)
	}
	diags = append(diags, v.checkSecretRefs("", -1, m.Env)...)
	return diags
}

// checkSecretRefs verifies that every ${{ secrets.NAME }} reference names a
// secret declared in the site config.
func (v *Validator) checkSecretRefs(jobID string, stepIndex int, values map[string]string) []Diagnostic {
	if !v.hasEnvScope {
		return nil
	}
	var diags []Diagnostic
	keys := make([]string, 0, len(values))
	for k := range values {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		for _, match := range secretRefPattern.FindAllStringSubmatch(values[k], -1) {
			name := match[1]
			if !v.declaredEnv[name] {
				diags = append(diags, Diagnostic{
					Severity:  SeverityError,
					Rule:      "schema/undeclared-secret",
					JobID:     jobID,
					StepIndex: stepIndex,
					Message:   fmt.Sprintf("secret %q is referenced but not declared in the site config", name),
				})
			}
		}
	}
	return diags
}

func checkDuplicatePermissions(jobID string, perms []string) []Diagnostic {
	seen := make(map[string]bool, len(perms))
	var diags []Diagnostic
	for _, p := range perms {
		scope := p
		if idx := strings.Index(p, ":"); idx >= 0 {
			scope = strings.TrimSpace(p[:idx])
		}
		if seen[scope] {
			diags = append(diags, Diagnostic{
				Severity:  SeverityError,
				Rule:      "schema/dup-permission",
				JobID:     jobID,
				StepIndex: -1,
				Message:   fmt.Sprintf("permission scope %q is granted more than once", scope),
			})
		}
		seen[scope] = true
	}
	return diags
}

func schemaErrorDiagnostics(err error) []Diagnostic {
	ve, ok := err.(*jsonschema.ValidationError)
	if !ok {
		return []Diagnostic{{
			Severity:  SeverityError,
			Rule:      "schema/structure",
			StepIndex: -1,
			Message:   err.Error(),
		}}
	}

	var diags []Diagnostic
	var walk func(e *jsonschema.ValidationError)
	walk = func(e *jsonschema.ValidationError) {
		if len(e.Causes) == 0 {
			diags = append(diags, Diagnostic{
				Severity:  SeverityError,
				Rule:      "schema/structure",
				JobID:     jobIDFromLocation(e.InstanceLocation),
				StepIndex: -1,
				Message:   strings.TrimSpace(e.Error()),
			})
			return
		}
		for _, cause := range e.Causes {
			walk(cause)
		}
	}
	walk(ve)
	return diags
}

func jobIDFromLocation(location []string) string {
	if len(location) >= 2 && location[0] == "jobs" {
		return location[1]
	}
	return ""
}

// modelDoc converts a Model into the plain document shape the JSON schema
// validates.
func modelDoc(m *Model) map[string]any {
	doc := map[string]any{
		"name": m.Name,
		"jobs": map[string]any{},
	}

	on := map[string]any{}
	for _, t := range m.On {
		on[t.Event] = toPlain(t.Value)
	}
	if len(on) > 0 {
		doc["on"] = on
	}
	if len(m.Permissions) > 0 {
		doc["permissions"] = permissionsDoc(m.Permissions)
	}
	if len(m.Env) > 0 {
		doc["env"] = stringMapDoc(m.Env)
	}

	jobs := doc["jobs"].(map[string]any)
	for _, job := range m.Jobs {
		j := map[string]any{}
		if job.Name != "" {
			j["name"] = job.Name
		}
		if job.RunsOn != "" {
			j["runs-on"] = job.RunsOn
		}
		if job.Uses != "" {
			j["uses"] = job.Uses
		}
		if len(job.Needs) > 0 {
			needs := make([]any, len(job.Needs))
			for i, n := range job.Needs {
				needs[i] = n
			}
			j["needs"] = needs
		}
		if job.If != "" {
			j["if"] = job.If
		}
		if len(job.Permissions) > 0 {
			j["permissions"] = permissionsDoc(job.Permissions)
		}
		if len(job.Env) > 0 {
			j["env"] = stringMapDoc(job.Env)
		}
		if len(job.Steps) > 0 {
			steps := make([]any, len(job.Steps))
			for i, step := range job.Steps {
				s := map[string]any{}
				if step.Name != "" {
					s["name"] = step.Name
				}
				if step.Uses != "" {
					s["uses"] = step.Uses
				}
				if step.Run != "" {
					s["run"] = step.Run
				}
				steps[i] = s
			}
			j["steps"] = steps
		}
		jobs[job.ID] = j
	}
	return doc
}

func permissionsDoc(perms []string) map[string]any {
	out := map[string]any{}
	for _, p := range perms {
		scope, level := p, ""
		if idx := strings.Index(p, ":"); idx >= 0 {
			scope = strings.TrimSpace(p[:idx])
			level = strings.TrimSpace(p[idx+1:])
		}
		out[scope] = level
	}
	return out
}

func stringMapDoc(m map[string]string) map[string]any {
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

// toPlain converts goccy ordered-map values into plain maps/slices for the
// JSON schema validator.
func toPlain(v any) any {
	switch t := v.(type) {
	case yaml.MapSlice:
		out := make(map[string]any, len(t))
		for _, item := range t {
			out[keyString(item.Key)] = toPlain(item.Value)
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i, e := range t {
			out[i] = toPlain(e)
		}
		return out
	}
	return v
}
