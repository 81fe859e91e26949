package workflow

import (
	"regexp"
	"sort"
	"strings"

	"github.com/goccy/go-yaml"

	"github.com/siteflow/siteflow/pkg/logger"
)

var normalizeLog = logger.New("workflow:normalize")

// Rule is one idempotent rewrite applied during the fix-up pass. Rules with
// Triggers apply only when a matching diagnostic rule id was produced;
// rules without Triggers always apply. Apply reports whether it changed the
// model, and reapplying any rule to its own output must be a no-op.
type Rule struct {
	ID       string
	Triggers []string
	Apply    func(m *Model) bool
}

// Normalizer applies a fixed, ordered rule set to a model.
type Normalizer struct {
	rules []Rule
}

// NewNormalizer creates a normalizer with the built-in rule set.
func NewNormalizer() *Normalizer {
	return &Normalizer{rules: []Rule{
		{ID: "expr-spacing", Apply: normalizeExprSpacing},
		{ID: "dedup-permissions", Triggers: []string{"schema/dup-permission"}, Apply: dedupPermissions},
		{ID: "sort-needs", Apply: sortNeeds},
		{ID: "quote-scalars", Apply: quoteScalars},
	}}
}

// AddRule registers an extra rule after the built-ins. Strategies use this
// to attach kind-specific fixes.
func (n *Normalizer) AddRule(rule Rule) {
	n.rules = append(n.rules, rule)
}

// maxFixPasses bounds the fixpoint iteration. Each rule is idempotent, so
// the pass count is limited by rules re-enabling one another (a strategy
// rule growing a needs list re-enables sort-needs), never by oscillation.
const maxFixPasses = 4

// Fix runs the rule pass over the model, driven by the diagnostics from
// validation and linting, and returns the ids of the rules that changed
// anything. The pass repeats until no rule fires, so a later rule whose
// rewrite disturbs an earlier rule's invariant (a strategy rule appending a
// needs edge after sort-needs ran) still converges in one Fix call; a
// second Fix on the result is a no-op. Callers re-validate afterwards.
func (n *Normalizer) Fix(m *Model, diags []Diagnostic) []string {
	triggered := make(map[string]bool, len(diags))
	for _, d := range diags {
		triggered[d.Rule] = true
	}

	var applied []string
	seen := make(map[string]bool, len(n.rules))
	for pass := 0; pass < maxFixPasses; pass++ {
		changed := false
		for _, rule := range n.rules {
			if len(rule.Triggers) > 0 && !anyTriggered(rule.Triggers, triggered) {
				continue
			}
			if rule.Apply(m) {
				normalizeLog.Printf("Rule %s rewrote the model (pass %d)", rule.ID, pass+1)
				changed = true
				if !seen[rule.ID] {
					seen[rule.ID] = true
					applied = append(applied, rule.ID)
				}
			}
		}
		if !changed {
			break
		}
	}
	return applied
}

func anyTriggered(triggers []string, triggered map[string]bool) bool {
	for _, t := range triggers {
		if triggered[t] {
			return true
		}
	}
	return false
}

var exprPattern = regexp.MustCompile(`\$\{\{\s*(.*?)\s*\}\}`)

// normalizeExprSpacing rewrites every ${{expr}} occurrence to the canonical
// ${{ expr }} form in expression-bearing fields.
func normalizeExprSpacing(m *Model) bool {
	changed := false
	fix := func(s string) string {
		out := exprPattern.ReplaceAllString(s, "${{ $1 }}")
		if out != s {
			changed = true
		}
		return out
	}

	fixMap := func(values map[string]string) {
		for k, v := range values {
			values[k] = fix(v)
		}
	}

	fixMap(m.Env)
	for _, job := range m.Jobs {
		job.If = fix(job.If)
		fixMap(job.Env)
		for i := range job.Steps {
			step := &job.Steps[i]
			step.If = fix(step.If)
			step.Run = fix(step.Run)
			fixMap(step.Env)
			fixMap(step.With)
		}
	}
	return changed
}

// dedupPermissions removes repeated grants of the same permission scope,
// keeping the first occurrence.
func dedupPermissions(m *Model) bool {
	changed := false
	m.Permissions, changed = dedupScopes(m.Permissions, changed)
	for _, job := range m.Jobs {
		job.Permissions, changed = dedupScopes(job.Permissions, changed)
	}
	return changed
}

func dedupScopes(perms []string, changed bool) ([]string, bool) {
	if len(perms) < 2 {
		return perms, changed
	}
	seen := make(map[string]bool, len(perms))
	out := perms[:0:0]
	for _, p := range perms {
		scope := p
		if idx := strings.Index(p, ":"); idx >= 0 {
			scope = strings.TrimSpace(p[:idx])
		}
		if seen[scope] {
			changed = true
			continue
		}
		seen[scope] = true
		out = append(out, p)
	}
	return out, changed
}

// sortNeeds puts every needs list into deterministic order.
func sortNeeds(m *Model) bool {
	changed := false
	for _, job := range m.Jobs {
		if !sort.StringsAreSorted(job.Needs) {
			sort.Strings(job.Needs)
			changed = true
		}
	}
	return changed
}

var (
	versionLikePattern = regexp.MustCompile(`^\d+(\.\d+)+$`)
	cronLikePattern    = regexp.MustCompile(`^[\d*,/-]+( [\d*,/-]+){4}$`)
)

// quoteScalars wraps values the target format would misinterpret (version
// strings, cron expressions) in explicit double quotes. The emitter writes
// pre-quoted values verbatim.
func quoteScalars(m *Model) bool {
	changed := false
	quoteMap := func(values map[string]string) {
		for k, v := range values {
			if q := quoteIfAmbiguous(v); q != v {
				values[k] = q
				changed = true
			}
		}
	}

	quoteMap(m.Env)
	for i := range m.On {
		if m.On[i].Event == "schedule" {
			if quoteCronEntries(m.On[i].Value) {
				changed = true
			}
		}
	}
	for _, job := range m.Jobs {
		quoteMap(job.Env)
		for i := range job.Steps {
			quoteMap(job.Steps[i].With)
			quoteMap(job.Steps[i].Env)
		}
	}
	return changed
}

func quoteIfAmbiguous(v string) string {
	if isPreQuoted(v) {
		return v
	}
	if versionLikePattern.MatchString(v) || cronLikePattern.MatchString(v) {
		return `"` + v + `"`
	}
	return v
}

func quoteCronEntries(v any) bool {
	entries, ok := v.([]any)
	if !ok {
		return false
	}
	changed := false
	for _, entry := range entries {
		fields, ok := entry.(yaml.MapSlice)
		if !ok {
			continue
		}
		for i, item := range fields {
			if keyString(item.Key) != "cron" {
				continue
			}
			cron := scalarString(item.Value)
			if q := quoteIfAmbiguous(cron); q != cron {
				fields[i].Value = q
				changed = true
			}
		}
	}
	return changed
}
