package workflow

import (
	"fmt"
	"sort"
	"strconv"

	"github.com/goccy/go-yaml"

	"github.com/siteflow/siteflow/pkg/logger"
)

var parseLog = logger.New("workflow:parse")

// Parse builds a Model from rendered workflow text. Host-native expression
// syntax (${{ ... }}) is stored as opaque strings on the fields it
// annotates, never evaluated. Parse fails on duplicate job ids, dangling
// needs references, and dependency cycles; structural shape violations are
// left for the schema validator.
func Parse(rendered string) (*Model, error) {
	parseLog.Printf("Parsing rendered workflow: %d bytes", len(rendered))

	var doc any
	if err := yaml.UnmarshalWithOptions([]byte(rendered), &doc, yaml.UseOrderedMap()); err != nil {
		return nil, fmt.Errorf("failed to parse workflow YAML: %w", err)
	}
	root, ok := doc.(yaml.MapSlice)
	if !ok {
		return nil, fmt.Errorf("workflow document is not a mapping")
	}

	model := &Model{}
	for _, item := range root {
		key := keyString(item.Key)
		switch key {
		case "name":
			model.Name = scalarString(item.Value)
		case "on", "true":
			// YAML 1.1 parsers may read the bare key `on` as a boolean.
			model.On = parseTriggers(item.Value)
		case "permissions":
			model.Permissions = parsePermissions(item.Value)
		case "env":
			model.Env = parseStringMap(item.Value)
		case "jobs":
			jobs, err := parseJobs(item.Value)
			if err != nil {
				return nil, err
			}
			model.Jobs = jobs
		}
	}

	if err := checkGraph(model); err != nil {
		return nil, err
	}

	parseLog.Printf("Parsed model: name=%q jobs=%d", model.Name, len(model.Jobs))
	return model, nil
}

func parseJobs(v any) ([]*Job, error) {
	entries, ok := v.(yaml.MapSlice)
	if !ok {
		return nil, fmt.Errorf("jobs section is not a mapping")
	}

	seen := make(map[string]bool)
	var jobs []*Job
	for _, entry := range entries {
		id := keyString(entry.Key)
		if seen[id] {
			return nil, &DuplicateJobIDError{JobID: id}
		}
		seen[id] = true

		job, err := parseJob(id, entry.Value)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, job)
	}
	return jobs, nil
}

func parseJob(id string, v any) (*Job, error) {
	fields, ok := v.(yaml.MapSlice)
	if !ok {
		return nil, fmt.Errorf("job %q is not a mapping", id)
	}

	job := &Job{ID: id}
	for _, item := range fields {
		switch keyString(item.Key) {
		case "name":
			job.Name = scalarString(item.Value)
		case "runs-on":
			job.RunsOn = scalarString(item.Value)
		case "uses":
			job.Uses = scalarString(item.Value)
		case "needs":
			job.Needs = parseStringList(item.Value)
		case "if":
			job.If = scalarString(item.Value)
		case "permissions":
			job.Permissions = parsePermissions(item.Value)
		case "env":
			job.Env = parseStringMap(item.Value)
		case "steps":
			steps, err := parseSteps(id, item.Value)
			if err != nil {
				return nil, err
			}
			job.Steps = steps
		}
	}
	return job, nil
}

func parseSteps(jobID string, v any) ([]Step, error) {
	items, ok := v.([]any)
	if !ok {
		return nil, fmt.Errorf("steps of job %q are not a sequence", jobID)
	}

	var steps []Step
	for i, raw := range items {
		fields, ok := raw.(yaml.MapSlice)
		if !ok {
			return nil, fmt.Errorf("step %d of job %q is not a mapping", i, jobID)
		}
		var step Step
		for _, item := range fields {
			switch keyString(item.Key) {
			case "name":
				step.Name = scalarString(item.Value)
			case "uses":
				step.Uses = scalarString(item.Value)
			case "run":
				step.Run = scalarString(item.Value)
			case "with":
				step.With = parseStringMap(item.Value)
			case "env":
				step.Env = parseStringMap(item.Value)
			case "if":
				step.If = scalarString(item.Value)
			case "continue-on-error":
				step.ContinueOnError = scalarString(item.Value) == "true"
			}
		}
		steps = append(steps, step)
	}
	return steps, nil
}

// parseTriggers normalizes the trigger set into ordered Trigger entries.
// Trigger configuration stays opaque.
func parseTriggers(v any) []Trigger {
	switch t := v.(type) {
	case string:
		return []Trigger{{Event: t}}
	case []any:
		var triggers []Trigger
		for _, e := range t {
			triggers = append(triggers, Trigger{Event: scalarString(e)})
		}
		return triggers
	case yaml.MapSlice:
		var triggers []Trigger
		for _, item := range t {
			triggers = append(triggers, Trigger{Event: keyString(item.Key), Value: item.Value})
		}
		return triggers
	}
	return nil
}

// parsePermissions flattens a permissions block into ordered "scope: level"
// entries. MapSlice preserves duplicate keys, so duplicate grants survive
// into the model where the normalizer can see them.
func parsePermissions(v any) []string {
	switch p := v.(type) {
	case string:
		return []string{p}
	case yaml.MapSlice:
		var perms []string
		for _, item := range p {
			perms = append(perms, fmt.Sprintf("%s: %s", keyString(item.Key), scalarString(item.Value)))
		}
		return perms
	}
	return nil
}

func parseStringMap(v any) map[string]string {
	entries, ok := v.(yaml.MapSlice)
	if !ok {
		return nil
	}
	m := make(map[string]string, len(entries))
	for _, item := range entries {
		m[keyString(item.Key)] = scalarString(item.Value)
	}
	return m
}

func parseStringList(v any) []string {
	switch l := v.(type) {
	case string:
		return []string{l}
	case []any:
		var out []string
		for _, e := range l {
			out = append(out, scalarString(e))
		}
		return out
	}
	return nil
}

func keyString(k any) string {
	return fmt.Sprintf("%v", k)
}

func scalarString(v any) string {
	switch s := v.(type) {
	case string:
		return s
	case bool:
		return strconv.FormatBool(s)
	case int64:
		return strconv.FormatInt(s, 10)
	case uint64:
		return strconv.FormatUint(s, 10)
	case float64:
		return strconv.FormatFloat(s, 'g', -1, 64)
	case nil:
		return ""
	}
	return fmt.Sprintf("%v", v)
}

// checkGraph verifies the needs graph: every reference resolves and the
// graph is acyclic.
func checkGraph(m *Model) error {
	ids := make(map[string]bool, len(m.Jobs))
	for _, job := range m.Jobs {
		ids[job.ID] = true
	}

	for _, job := range m.Jobs {
		for _, need := range job.Needs {
			if !ids[need] {
				return &DanglingNeedsError{JobID: job.ID, Needs: need}
			}
		}
	}

	return checkAcyclic(m)
}

const (
	colorWhite = iota
	colorGray
	colorBlack
)

// checkAcyclic runs a depth-first search over needs edges and reports any
// cycle as an ordered job id list, rotated so the smallest id comes first
// for deterministic output.
func checkAcyclic(m *Model) error {
	color := make(map[string]int, len(m.Jobs))
	var stack []string

	var visit func(id string) *CyclicDependencyError
	visit = func(id string) *CyclicDependencyError {
		color[id] = colorGray
		stack = append(stack, id)

		for _, need := range m.Job(id).Needs {
			switch color[need] {
			case colorGray:
				// Back edge: the cycle is the stack suffix from need.
				start := 0
				for i, s := range stack {
					if s == need {
						start = i
						break
					}
				}
				return &CyclicDependencyError{Cycle: rotateSmallestFirst(stack[start:])}
			case colorWhite:
				if err := visit(need); err != nil {
					return err
				}
			}
		}

		stack = stack[:len(stack)-1]
		color[id] = colorBlack
		return nil
	}

	for _, job := range m.Jobs {
		if color[job.ID] == colorWhite {
			if err := visit(job.ID); err != nil {
				return err
			}
		}
	}
	return nil
}

func rotateSmallestFirst(cycle []string) []string {
	if len(cycle) == 0 {
		return nil
	}
	smallest := 0
	for i, id := range cycle {
		if id < cycle[smallest] {
			smallest = i
		}
	}
	rotated := make([]string, 0, len(cycle))
	rotated = append(rotated, cycle[smallest:]...)
	rotated = append(rotated, cycle[:smallest]...)
	return rotated
}

// TopologicalOrder returns job ids in an order where every job follows all
// of its needs. The model must already be acyclic.
func TopologicalOrder(m *Model) []string {
	indegree := make(map[string]int, len(m.Jobs))
	dependents := make(map[string][]string, len(m.Jobs))
	for _, job := range m.Jobs {
		indegree[job.ID] += 0
		for _, need := range job.Needs {
			indegree[job.ID]++
			dependents[need] = append(dependents[need], job.ID)
		}
	}

	var ready []string
	for _, job := range m.Jobs {
		if indegree[job.ID] == 0 {
			ready = append(ready, job.ID)
		}
	}
	sort.Strings(ready)

	var order []string
	for len(ready) > 0 {
		id := ready[0]
		ready = ready[1:]
		order = append(order, id)
		for _, dep := range dependents[id] {
			indegree[dep]--
			if indegree[dep] == 0 {
				ready = append(ready, dep)
				sort.Strings(ready)
			}
		}
	}
	return order
}
