//go:build !integration

package workflow

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/siteflow/siteflow/pkg/site"
)

func TestForKind(t *testing.T) {
	for _, kind := range Kinds {
		s, err := ForKind(kind)
		require.NoError(t, err)
		assert.Equal(t, kind, s.Kind())
		assert.Equal(t, string(kind), s.TemplateName())
	}

	_, err := ForKind(Kind("deploy"))
	assert.Error(t, err)
}

func TestBaseParams(t *testing.T) {
	cfg := &site.Config{
		ID:       "alpha",
		Name:     "Alpha Books",
		Schedule: "15 3 * * *",
		Env: map[string]string{
			"API_TOKEN":  "ALPHA_TOKEN",
			"PROXY_USER": "ALPHA_PROXY_USER",
		},
		Outputs: []string{"exports/alpha"},
	}

	params := baseParams(cfg, KindCrawler)
	assert.Equal(t, "alpha", params["site_id"])
	assert.Equal(t, "Alpha Books", params["site_name"])
	assert.Equal(t, "15 3 * * *", params["schedule"])
	assert.Equal(t, "crawler", params["kind"])
	assert.Equal(t, "exports/alpha", params["data_path"])

	// env_lines: the site marker first, then declared secrets sorted by name.
	assert.Equal(t, []string{
		"SITEFLOW_SITE: alpha",
		"API_TOKEN: ${{ secrets.ALPHA_TOKEN }}",
		"PROXY_USER: ${{ secrets.ALPHA_PROXY_USER }}",
	}, params["env_lines"])
}

func TestBaseParamsDefaults(t *testing.T) {
	params := baseParams(&site.Config{ID: "beta"}, KindCommon)
	assert.Equal(t, "beta", params["site_name"], "display name falls back to the id")
	assert.Equal(t, "0 4 * * *", params["schedule"])
	assert.Equal(t, "data/beta", params["data_path"])
}

func TestCrawlerParams(t *testing.T) {
	s, err := ForKind(KindCrawler)
	require.NoError(t, err)

	params := s.Params(&site.Config{ID: "alpha"})
	assert.Equal(t, "scripts/check_proxy_pool.py", params["proxy_check_script"])
	assert.Equal(t, "30", params["crawl_timeout_minutes"])
}

func TestAnalyzerSoftFailRule(t *testing.T) {
	m := mustParse(t, `name: w
on:
  workflow_dispatch:
jobs:
  analyze:
    runs-on: ubuntu-latest
    steps:
      - name: Run analysis
        run: python -m analyzer
      - name: Notify failure
        run: python -m notify ops
`)

	s, err := ForKind(KindAnalyzer)
	require.NoError(t, err)
	rules := s.Rules()
	require.Len(t, rules, 1)
	assert.Equal(t, "analyzer/notify-soft-fail", rules[0].ID)

	require.True(t, rules[0].Apply(m))
	steps := m.Job("analyze").Steps
	assert.False(t, steps[0].ContinueOnError)
	assert.True(t, steps[1].ContinueOnError)

	assert.False(t, rules[0].Apply(m), "rule must be idempotent")
}

func TestStrategiesRenderAndValidate(t *testing.T) {
	cfg := &site.Config{
		ID:       "alpha",
		Name:     "Alpha Books",
		Schedule: "0 6 * * *",
		Env:      map[string]string{"API_TOKEN": "ALPHA_TOKEN"},
	}
	renderer := NewRenderer("")

	for _, kind := range Kinds {
		t.Run(string(kind), func(t *testing.T) {
			s, err := ForKind(kind)
			require.NoError(t, err)

			rendered, err := renderer.Render(s.TemplateName(), s.Params(cfg))
			require.NoError(t, err)

			m, err := Parse(rendered)
			require.NoError(t, err)

			n := NewNormalizer()
			for _, rule := range s.Rules() {
				n.AddRule(rule)
			}
			diags := NewValidator("v1").WithDeclaredSecrets([]string{"ALPHA_TOKEN"}).Validate(m)
			n.Fix(m, diags)

			for _, d := range NewValidator("v1").WithDeclaredSecrets([]string{"ALPHA_TOKEN"}).Validate(m) {
				assert.False(t, d.Fatal(), "built-in %s template must validate cleanly: %s", kind, d)
			}
		})
	}
}
