//go:build !integration

package cli

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/siteflow/siteflow/pkg/testutil"
	"github.com/siteflow/siteflow/pkg/workflow"
)

func writeSiteFixture(t *testing.T) (sitesDir, outputDir string) {
	t.Helper()
	sitesDir = testutil.TempDir(t, "sites")
	outputDir = testutil.TempDir(t, "out")
	testutil.WriteFile(t, filepath.Join(sitesDir, "alpha.yml"), `id: alpha
name: Alpha Books
schedule: "0 6 * * *"
env:
  API_TOKEN: ALPHA_TOKEN
`)
	return sitesDir, outputDir
}

func runCommand(t *testing.T, args ...string) error {
	t.Helper()
	cmd := NewRootCmd()
	cmd.SetArgs(args)
	return cmd.ExecuteContext(context.Background())
}

func TestGenerateCommand(t *testing.T) {
	sitesDir, outputDir := writeSiteFixture(t)

	err := runCommand(t, "generate", "alpha", "crawler",
		"--sites-dir", sitesDir, "--output-dir", outputDir, "--lint-mode", "off")
	require.NoError(t, err)

	data, err := os.ReadFile(filepath.Join(outputDir, "alpha-crawler.yml"))
	require.NoError(t, err)
	assert.Contains(t, string(data), "name: Alpha Books crawler")
}

func TestGenerateCommandRejectsUnknownKind(t *testing.T) {
	sitesDir, outputDir := writeSiteFixture(t)

	err := runCommand(t, "generate", "alpha", "deploy",
		"--sites-dir", sitesDir, "--output-dir", outputDir, "--lint-mode", "off")
	assert.Error(t, err)
}

func TestGenerateCommandUnknownSiteFails(t *testing.T) {
	sitesDir, outputDir := writeSiteFixture(t)

	err := runCommand(t, "generate", "ghost", "crawler",
		"--sites-dir", sitesDir, "--output-dir", outputDir, "--lint-mode", "off")
	assert.ErrorIs(t, err, errFatalDiagnostics)
}

func TestGenerateAllCommand(t *testing.T) {
	sitesDir, outputDir := writeSiteFixture(t)

	err := runCommand(t, "generate-all",
		"--sites-dir", sitesDir, "--output-dir", outputDir, "--lint-mode", "off")
	require.NoError(t, err)

	for _, kind := range workflow.Kinds {
		_, err := os.Stat(filepath.Join(outputDir, "alpha-"+string(kind)+".yml"))
		assert.NoError(t, err, "expected output for kind %s", kind)
	}
}

func TestUpdateCommand(t *testing.T) {
	sitesDir, outputDir := writeSiteFixture(t)

	err := runCommand(t, "update", "alpha",
		"--sites-dir", sitesDir, "--output-dir", outputDir, "--lint-mode", "off")
	require.NoError(t, err)

	err = runCommand(t, "update", "alpha", "ghost",
		"--sites-dir", sitesDir, "--output-dir", outputDir, "--lint-mode", "off")
	assert.ErrorIs(t, err, errFatalDiagnostics)
}

func TestInvalidLintModeIsRejected(t *testing.T) {
	sitesDir, outputDir := writeSiteFixture(t)

	err := runCommand(t, "generate-all",
		"--sites-dir", sitesDir, "--output-dir", outputDir, "--lint-mode", "loose")
	require.Error(t, err)
	assert.NotErrorIs(t, err, errFatalDiagnostics)
}

func TestSummaryLineFormat(t *testing.T) {
	r := workflow.GenerationResult{
		Site:   "alpha",
		Kind:   workflow.KindCrawler,
		Status: workflow.StatusSuccess,
		Diagnostics: []workflow.Diagnostic{
			{Severity: workflow.SeverityWarning, Rule: "lint/shellcheck", StepIndex: -1},
		},
	}
	// Automation greps this; the format is load-bearing.
	assert.Equal(t, "site=alpha kind=crawler status=success diagnostics=1", SummaryLine(r))
}

func TestExecuteExitCodes(t *testing.T) {
	sitesDir, outputDir := writeSiteFixture(t)

	orig := os.Args
	t.Cleanup(func() { os.Args = orig })

	os.Args = []string{"siteflow", "generate", "alpha", "common",
		"--sites-dir", sitesDir, "--output-dir", outputDir, "--lint-mode", "off"}
	assert.Equal(t, 0, Execute(context.Background()))

	os.Args = []string{"siteflow", "generate", "ghost", "common",
		"--sites-dir", sitesDir, "--output-dir", outputDir, "--lint-mode", "off"}
	assert.Equal(t, 1, Execute(context.Background()))
}
