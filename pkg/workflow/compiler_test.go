//go:build !integration

package workflow

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/siteflow/siteflow/pkg/site"
	"github.com/siteflow/siteflow/pkg/testutil"
)

func newTestStore(t *testing.T, configs map[string]string) *site.Store {
	t.Helper()
	dir := testutil.TempDir(t, "sites")
	for name, content := range configs {
		testutil.WriteFile(t, filepath.Join(dir, name), content)
	}
	store, err := site.LoadStore(dir)
	require.NoError(t, err)
	return store
}

const alphaSite = `id: alpha
name: Alpha Books
schedule: "0 6 * * *"
env:
  API_TOKEN: ALPHA_TOKEN
`

func TestGenerateOneFreshSite(t *testing.T) {
	store := newTestStore(t, map[string]string{"alpha.yml": alphaSite})
	outDir := testutil.TempDir(t, "out")
	c := NewCompiler(Options{Store: store, OutputDir: outDir})

	result := c.GenerateOne(context.Background(), "alpha", KindCrawler)
	require.NoError(t, result.Err)
	assert.Equal(t, StatusSuccess, result.Status)
	assert.True(t, result.Changed)
	for _, d := range result.Diagnostics {
		assert.False(t, d.Fatal(), "fresh generation must carry no fatal diagnostics: %s", d)
	}

	data, err := os.ReadFile(result.OutputPath)
	require.NoError(t, err)
	content := string(data)
	assert.Contains(t, content, "name: Alpha Books crawler")
	assert.Contains(t, content, "SITEFLOW_SITE: alpha")
	assert.Contains(t, content, "API_TOKEN: ${{ secrets.ALPHA_TOKEN }}")
	assert.Contains(t, content, GeneratedBeginMarker)

	// The emitted document must parse back into an equivalent graph.
	m, err := Parse(generatedRegion(t, content))
	require.NoError(t, err)
	assert.NotNil(t, m.Job("crawl"))
	assert.NotNil(t, m.Job("check-proxies"))
}

func TestGenerateOneUnchangedSecondRun(t *testing.T) {
	store := newTestStore(t, map[string]string{"alpha.yml": alphaSite})
	outDir := testutil.TempDir(t, "out")
	c := NewCompiler(Options{Store: store, OutputDir: outDir})

	first := c.GenerateOne(context.Background(), "alpha", KindAnalyzer)
	require.NoError(t, first.Err)
	require.Equal(t, StatusSuccess, first.Status)

	second := c.GenerateOne(context.Background(), "alpha", KindAnalyzer)
	require.NoError(t, second.Err)
	assert.Equal(t, StatusUnchanged, second.Status)
	assert.False(t, second.Changed)
}

func TestGenerateOneUnknownSite(t *testing.T) {
	store := newTestStore(t, map[string]string{"alpha.yml": alphaSite})
	c := NewCompiler(Options{Store: store, OutputDir: testutil.TempDir(t, "out")})

	result := c.GenerateOne(context.Background(), "nope", KindCrawler)
	assert.Equal(t, StatusFailure, result.Status)
	assert.Error(t, result.Err)
}

func TestGenerateAllFailSoft(t *testing.T) {
	store := newTestStore(t, map[string]string{
		"alpha.yml": alphaSite,
		"beta.yml": `id: beta
name: Beta Mart
kinds: [crawler]
`,
	})
	outDir := testutil.TempDir(t, "out")
	c := NewCompiler(Options{
		Store:        store,
		OutputDir:    outDir,
		TemplatesDir: brokenTemplatesDir(t, "crawler"),
		MaxParallel:  2,
	})

	results := c.GenerateAll(context.Background())
	require.Len(t, results, 4, "alpha all kinds + beta crawler")

	byKey := make(map[string]GenerationResult, len(results))
	for _, r := range results {
		byKey[r.Site+"/"+string(r.Kind)] = r
	}

	assert.Equal(t, StatusFailure, byKey["alpha/crawler"].Status)
	assert.Equal(t, StatusFailure, byKey["beta/crawler"].Status)
	assert.Equal(t, StatusSuccess, byKey["alpha/analyzer"].Status, "one broken template must not stop the other kinds")
	assert.Equal(t, StatusSuccess, byKey["alpha/common"].Status)
	assert.True(t, AnyFailed(results))
}

func TestGenerateAllResultsAreSorted(t *testing.T) {
	store := newTestStore(t, map[string]string{
		"zeta.yml":  "id: zeta\n",
		"alpha.yml": alphaSite,
	})
	c := NewCompiler(Options{Store: store, OutputDir: testutil.TempDir(t, "out")})

	results := c.GenerateAll(context.Background())
	require.Len(t, results, 6)
	assert.Equal(t, "alpha", results[0].Site)
	assert.Equal(t, KindAnalyzer, results[0].Kind)
	assert.Equal(t, "zeta", results[5].Site)
	assert.Equal(t, KindCrawler, results[5].Kind)
}

func TestUpdateSubset(t *testing.T) {
	store := newTestStore(t, map[string]string{
		"alpha.yml": alphaSite,
		"beta.yml":  "id: beta\nkinds: [common]\n",
	})
	outDir := testutil.TempDir(t, "out")
	c := NewCompiler(Options{Store: store, OutputDir: outDir})

	results := c.Update(context.Background(), []string{"beta", "ghost"})
	require.Len(t, results, 2)

	var ghost, beta GenerationResult
	for _, r := range results {
		switch r.Site {
		case "ghost":
			ghost = r
		case "beta":
			beta = r
		}
	}
	assert.Equal(t, StatusFailure, ghost.Status)
	assert.Equal(t, StatusSuccess, beta.Status)

	_, err := os.Stat(c.OutputPath("alpha", KindCrawler))
	assert.True(t, os.IsNotExist(err), "update must not touch sites outside the subset")
}

func TestGenerateAllPurgesOrphans(t *testing.T) {
	store := newTestStore(t, map[string]string{"alpha.yml": alphaSite})
	outDir := testutil.TempDir(t, "out")

	orphan := filepath.Join(outDir, "removed-crawler.yml")
	testutil.WriteFile(t, orphan, GeneratedBeginMarker+"\nname: removed\n"+GeneratedEndMarker+"\n")
	handWritten := filepath.Join(outDir, "release.yml")
	testutil.WriteFile(t, handWritten, "name: release\non: push\n")

	c := NewCompiler(Options{Store: store, OutputDir: outDir})
	c.GenerateAll(context.Background())

	_, err := os.Stat(orphan)
	assert.True(t, os.IsNotExist(err), "orphaned generated output must be removed")
	_, err = os.Stat(handWritten)
	assert.NoError(t, err, "hand-written workflows are never purged")
}

func TestPipelineWithholdsWriteOnFatalDiagnostics(t *testing.T) {
	store := newTestStore(t, map[string]string{"alpha.yml": alphaSite})
	outDir := testutil.TempDir(t, "out")
	c := NewCompiler(Options{
		Store:        store,
		OutputDir:    outDir,
		TemplatesDir: invalidTemplatesDir(t, "crawler"),
	})

	result := c.GenerateOne(context.Background(), "alpha", KindCrawler)
	assert.Equal(t, StatusFailure, result.Status)

	var unresolved *UnresolvedViolationsError
	require.True(t, errors.As(result.Err, &unresolved))
	assert.NotEmpty(t, unresolved.Diagnostics)

	_, err := os.Stat(result.OutputPath)
	assert.True(t, os.IsNotExist(err), "no file may be written while fatal diagnostics remain")
}

func TestPipelineCollectsLintFindings(t *testing.T) {
	store := newTestStore(t, map[string]string{"alpha.yml": alphaSite})
	c := NewCompiler(Options{
		Store:     store,
		OutputDir: testutil.TempDir(t, "out"),
		Linter: stubLinter{diags: []Diagnostic{{
			Severity:  SeverityWarning,
			Rule:      "lint/expression",
			StepIndex: -1,
			Message:   "suspicious expression",
		}}},
	})

	result := c.GenerateOne(context.Background(), "alpha", KindCommon)
	require.NoError(t, result.Err)
	assert.Equal(t, StatusSuccess, result.Status)
	assert.Contains(t, diagnosticRules(result.Diagnostics), "lint/expression",
		"advisory lint findings surface in the result without failing it")
}

func TestPipelineFailsOnFatalLintFindings(t *testing.T) {
	store := newTestStore(t, map[string]string{"alpha.yml": alphaSite})
	outDir := testutil.TempDir(t, "out")
	c := NewCompiler(Options{
		Store:     store,
		OutputDir: outDir,
		Linter: stubLinter{diags: []Diagnostic{{
			Severity:  SeverityError,
			Rule:      "lint/expression",
			StepIndex: -1,
			Message:   "undefined context access",
		}}},
	})

	result := c.GenerateOne(context.Background(), "alpha", KindCommon)
	assert.Equal(t, StatusFailure, result.Status)
	assert.Contains(t, diagnosticRules(result.Diagnostics), "lint/expression")

	var unresolved *UnresolvedViolationsError
	require.True(t, errors.As(result.Err, &unresolved))
	assert.Contains(t, diagnosticRules(unresolved.Diagnostics), "lint/expression")

	_, err := os.Stat(result.OutputPath)
	assert.True(t, os.IsNotExist(err), "fatal lint findings must withhold the write")
}

func TestGenerateAllHonorsCancellation(t *testing.T) {
	store := newTestStore(t, map[string]string{"alpha.yml": alphaSite})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	c := NewCompiler(Options{Store: store, OutputDir: testutil.TempDir(t, "out"), MaxParallel: 1})
	results := c.GenerateAll(ctx)
	for _, r := range results {
		assert.Equal(t, StatusFailure, r.Status)
		assert.ErrorIs(t, r.Err, context.Canceled)
	}
}

type stubLinter struct {
	diags []Diagnostic
}

func (s stubLinter) Lint(ctx context.Context, name, rendered string) []Diagnostic {
	return s.diags
}

// generatedRegion extracts the body between the ownership markers.
func generatedRegion(t *testing.T, content string) string {
	t.Helper()
	begin := strings.Index(content, GeneratedBeginMarker)
	end := strings.Index(content, GeneratedEndMarker)
	require.True(t, begin >= 0 && end > begin, "ownership markers not found")
	return content[begin+len(GeneratedBeginMarker)+1 : end]
}

// brokenTemplatesDir provides an override directory where the named template
// fails to render.
func brokenTemplatesDir(t *testing.T, name string) string {
	t.Helper()
	dir := testutil.TempDir(t, "templates")
	testutil.WriteFile(t, filepath.Join(dir, name+".yml.tmpl"), "name: {{ no_such_parameter }}\n")
	return dir
}

// invalidTemplatesDir provides an override directory where the named template
// renders but violates the schema in a way no fix rule repairs.
func invalidTemplatesDir(t *testing.T, name string) string {
	t.Helper()
	dir := testutil.TempDir(t, "templates")
	testutil.WriteFile(t, filepath.Join(dir, name+".yml.tmpl"), `name: {{ site_name }} crawler
on:
  workflow_dispatch:
jobs:
  crawl:
    steps:
      - name: No runner anywhere
        run: "true"
`)
	return dir
}
