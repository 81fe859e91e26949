package workflow

import (
	"fmt"
	"sort"
	"strings"

	"github.com/siteflow/siteflow/pkg/site"
)

// Strategy is the per-kind generation policy: it names the template,
// supplies kind-specific template parameters, and may register extra
// normalizer rules.
type Strategy interface {
	Kind() Kind
	TemplateName() string
	Params(cfg *site.Config) TemplateContext
	Rules() []Rule
}

// ForKind returns the strategy for a workflow kind.
func ForKind(kind Kind) (Strategy, error) {
	switch kind {
	case KindCrawler:
		return crawlerStrategy{}, nil
	case KindAnalyzer:
		return analyzerStrategy{}, nil
	case KindCommon:
		return commonStrategy{}, nil
	}
	return nil, fmt.Errorf("no strategy for workflow kind %q", kind)
}

// baseParams builds the parameters shared by every kind.
func baseParams(cfg *site.Config, kind Kind) TemplateContext {
	schedule := cfg.Schedule
	if schedule == "" {
		schedule = "0 4 * * *"
	}
	name := cfg.Name
	if name == "" {
		name = cfg.ID
	}

	envLines := []string{"SITEFLOW_SITE: " + cfg.ID}
	names := make([]string, 0, len(cfg.Env))
	for n := range cfg.Env {
		names = append(names, n)
	}
	sort.Strings(names)
	for _, n := range names {
		envLines = append(envLines, fmt.Sprintf("%s: ${{ secrets.%s }}", n, cfg.Env[n]))
	}

	dataPath := "data/" + cfg.ID
	if len(cfg.Outputs) > 0 {
		dataPath = cfg.Outputs[0]
	}

	return TemplateContext{
		"site_id":        cfg.ID,
		"site_name":      name,
		"schedule":       schedule,
		"kind":           string(kind),
		"python_version": "3.12",
		"env_lines":      envLines,
		"data_path":      dataPath,
	}
}

type crawlerStrategy struct{}

func (crawlerStrategy) Kind() Kind           { return KindCrawler }
func (crawlerStrategy) TemplateName() string { return "crawler" }

// Params injects the proxy-availability job scaffolding parameters.
func (s crawlerStrategy) Params(cfg *site.Config) TemplateContext {
	params := baseParams(cfg, s.Kind())
	params["proxy_check_script"] = "scripts/check_proxy_pool.py"
	params["crawl_timeout_minutes"] = "30"
	return params
}

// Rules: the crawl job must be gated on the proxy availability check.
func (crawlerStrategy) Rules() []Rule {
	return []Rule{{
		ID: "crawler/proxy-gate",
		Apply: func(m *Model) bool {
			crawl := m.Job("crawl")
			if crawl == nil || m.Job("check-proxies") == nil {
				return false
			}
			for _, need := range crawl.Needs {
				if need == "check-proxies" {
					return false
				}
			}
			crawl.Needs = append(crawl.Needs, "check-proxies")
			return true
		},
	}}
}

type analyzerStrategy struct{}

func (analyzerStrategy) Kind() Kind           { return KindAnalyzer }
func (analyzerStrategy) TemplateName() string { return "analyzer" }

// Params injects the notification step scaffolding parameters.
func (s analyzerStrategy) Params(cfg *site.Config) TemplateContext {
	params := baseParams(cfg, s.Kind())
	params["notify_step_name"] = "Notify failure"
	params["notify_channel"] = "ops"
	return params
}

// Rules: notification steps must never fail the workflow.
func (analyzerStrategy) Rules() []Rule {
	return []Rule{{
		ID: "analyzer/notify-soft-fail",
		Apply: func(m *Model) bool {
			changed := false
			for _, job := range m.Jobs {
				for i := range job.Steps {
					step := &job.Steps[i]
					if strings.Contains(strings.ToLower(step.Name), "notify") && !step.ContinueOnError {
						step.ContinueOnError = true
						changed = true
					}
				}
			}
			return changed
		},
	}}
}

type commonStrategy struct{}

func (commonStrategy) Kind() Kind           { return KindCommon }
func (commonStrategy) TemplateName() string { return "common" }

func (s commonStrategy) Params(cfg *site.Config) TemplateContext {
	params := baseParams(cfg, s.Kind())
	params["keep_days"] = "30"
	return params
}

func (commonStrategy) Rules() []Rule { return nil }
