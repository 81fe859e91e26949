package cli

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/siteflow/siteflow/pkg/console"
	"github.com/siteflow/siteflow/pkg/logger"
	"github.com/siteflow/siteflow/pkg/workflow"
)

var generateLog = logger.New("cli:generate")

func newGenerateCmd(flags *rootFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "generate <site> <kind>",
		Short: "Generate one (site, kind) workflow",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			kind, err := workflow.ParseKind(args[1])
			if err != nil {
				return err
			}
			compiler, _, err := buildCompiler(flags)
			if err != nil {
				return err
			}

			result := compiler.GenerateOne(cmd.Context(), args[0], kind)
			reportResults(flags, []workflow.GenerationResult{result})
			if result.Failed() {
				return errFatalDiagnostics
			}
			return nil
		},
	}
}

func newGenerateAllCmd(flags *rootFlags) *cobra.Command {
	var watch bool

	cmd := &cobra.Command{
		Use:   "generate-all",
		Short: "Generate every applicable (site, kind) workflow",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			compiler, _, err := buildCompiler(flags)
			if err != nil {
				return err
			}

			results := compiler.GenerateAll(cmd.Context())
			reportResults(flags, results)

			if watch {
				// Watch mode keeps regenerating until interrupted; the
				// most recent pass decides the exit code.
				return watchAndRegenerate(cmd.Context(), flags, workflow.AnyFailed(results))
			}
			if workflow.AnyFailed(results) {
				return errFatalDiagnostics
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&watch, "watch", false, "regenerate whenever templates or site descriptors change")
	return cmd
}

func newUpdateCmd(flags *rootFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "update <site>...",
		Short: "Regenerate the workflows of the named sites",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			compiler, _, err := buildCompiler(flags)
			if err != nil {
				return err
			}

			results := compiler.Update(cmd.Context(), args)
			reportResults(flags, results)
			if workflow.AnyFailed(results) {
				return errFatalDiagnostics
			}
			return nil
		},
	}
}

func newListCmd(flags *rootFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List configured sites",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			_, store, err := buildCompiler(flags)
			if err != nil {
				return err
			}
			for _, cfg := range store.All() {
				schedule := cfg.Schedule
				if schedule == "" {
					schedule = "-"
				}
				kinds := "crawler,analyzer,common"
				if len(cfg.Kinds) > 0 {
					kinds = strings.Join(cfg.Kinds, ",")
				}
				fmt.Fprintf(cmd.OutOrStdout(), "site=%s schedule=%q kinds=%s\n", cfg.ID, schedule, kinds)
			}
			return nil
		},
	}
}

// reportResults prints one machine-parsable summary line per pipeline on
// stdout and a human-facing batch summary on stderr.
func reportResults(flags *rootFlags, results []workflow.GenerationResult) {
	failures := 0
	changed := 0
	lintFindings := 0
	for _, r := range results {
		fmt.Println(SummaryLine(r))
		if r.Failed() {
			failures++
			describeFailure(r)
		} else if r.Changed {
			changed++
		}
		for _, d := range r.Diagnostics {
			if strings.HasPrefix(d.Rule, "lint/") {
				lintFindings++
			}
			if flags.verbose {
				fmt.Fprintln(os.Stderr, console.FormatWarningMessage(d.String()))
			}
		}
	}

	generateLog.Printf("Batch complete: %d pipeline(s), %d failed, %d changed", len(results), failures, changed)
	if lintFindings > 0 {
		console.PrintWarning(fmt.Sprintf("actionlint reported %d finding(s); rerun with --verbose for details", lintFindings))
	}
	if failures > 0 {
		console.PrintError(fmt.Sprintf("%d of %d pipeline(s) failed", failures, len(results)))
		return
	}
	console.PrintSuccess(fmt.Sprintf("%d pipeline(s) completed, %d file(s) changed", len(results), changed))
}

func describeFailure(r workflow.GenerationResult) {
	label := string(r.Kind)
	if label == "" {
		label = "-"
	}
	console.PrintError(fmt.Sprintf("site %s (%s): %v", r.Site, label, r.Err))
	for _, d := range r.Diagnostics {
		if d.Fatal() {
			fmt.Fprintln(os.Stderr, "  "+d.String())
		}
	}
}

// SummaryLine formats the stable per-pipeline summary consumed by
// automation.
func SummaryLine(r workflow.GenerationResult) string {
	return fmt.Sprintf("site=%s kind=%s status=%s diagnostics=%d", r.Site, r.Kind, r.Status, len(r.Diagnostics))
}
