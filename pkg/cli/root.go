// Package cli wires the siteflow command surface: generate, generate-all,
// update, and list. Stdout carries one machine-parsable summary line per
// pipeline; everything human-facing goes to stderr through pkg/console.
package cli

import (
	"errors"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/siteflow/siteflow/pkg/envutil"
	"github.com/siteflow/siteflow/pkg/gitutil"
	"github.com/siteflow/siteflow/pkg/logger"
	"github.com/siteflow/siteflow/pkg/site"
	"github.com/siteflow/siteflow/pkg/workflow"
)

var rootLog = logger.New("cli:root")

// errFatalDiagnostics signals a completed batch with at least one failed
// pipeline. The batch itself always runs to completion; this only drives
// the process exit code.
var errFatalDiagnostics = errors.New("one or more pipelines ended with fatal diagnostics")

type rootFlags struct {
	sitesDir      string
	templatesDir  string
	outputDir     string
	schemaVersion string
	lintMode      string
	maxParallel   int
	verbose       bool
}

// NewRootCmd builds the root command with all subcommands attached.
func NewRootCmd() *cobra.Command {
	flags := &rootFlags{}

	cmd := &cobra.Command{
		Use:           "siteflow",
		Short:         "Generate and validate per-site CI workflow files",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.PersistentFlags().StringVar(&flags.sitesDir, "sites-dir", "sites", "directory of per-site YAML descriptors")
	cmd.PersistentFlags().StringVar(&flags.templatesDir, "templates-dir", "", "directory of workflow templates (default: built-in templates)")
	cmd.PersistentFlags().StringVar(&flags.outputDir, "output-dir", "", "directory for generated workflow files (default: .github/workflows under the git root)")
	cmd.PersistentFlags().StringVar(&flags.schemaVersion, "schema-version", workflow.DefaultSchemaVersion, "structural schema version to validate against")
	cmd.PersistentFlags().StringVar(&flags.lintMode, "lint-mode", "warn", "external linter policy: off, warn, or strict")
	cmd.PersistentFlags().IntVar(&flags.maxParallel, "max-parallel", 0, "maximum concurrent pipelines (default: env SITEFLOW_MAX_PARALLEL or NumCPU, capped at 4)")
	cmd.PersistentFlags().BoolVarP(&flags.verbose, "verbose", "v", false, "verbose output")

	cmd.AddCommand(newGenerateCmd(flags))
	cmd.AddCommand(newGenerateAllCmd(flags))
	cmd.AddCommand(newUpdateCmd(flags))
	cmd.AddCommand(newListCmd(flags))

	return cmd
}

// buildCompiler loads the site store and assembles a compiler from the
// resolved flags.
func buildCompiler(flags *rootFlags) (*workflow.Compiler, *site.Store, error) {
	store, err := site.LoadStore(flags.sitesDir)
	if err != nil {
		return nil, nil, err
	}

	outputDir := flags.outputDir
	if outputDir == "" {
		outputDir = defaultOutputDir()
	}

	maxParallel := flags.maxParallel
	if maxParallel <= 0 {
		maxParallel = envutil.GetIntFromEnv("SITEFLOW_MAX_PARALLEL", 0, 1, 64, rootLog)
	}

	var linter workflow.Linter
	mode, err := parseLintMode(flags.lintMode)
	if err != nil {
		return nil, nil, err
	}
	if mode != LintOff {
		timeout := time.Duration(envutil.GetIntFromEnv("SITEFLOW_LINT_TIMEOUT_SECONDS", 60, 1, 600, rootLog)) * time.Second
		linter = NewActionlintLinter(mode, timeout)
	}

	compiler := workflow.NewCompiler(workflow.Options{
		Store:         store,
		TemplatesDir:  flags.templatesDir,
		OutputDir:     outputDir,
		SchemaVersion: flags.schemaVersion,
		Linter:        linter,
		MaxParallel:   maxParallel,
		Verbose:       flags.verbose,
	})
	return compiler, store, nil
}

func defaultOutputDir() string {
	root, err := gitutil.FindRoot(".")
	if err != nil {
		rootLog.Printf("No git root found, using relative output dir: %v", err)
		return ".github/workflows"
	}
	return filepath.Join(root, ".github", "workflows")
}
