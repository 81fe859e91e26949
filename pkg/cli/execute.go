package cli

import (
	"context"
	"errors"
	"fmt"

	"github.com/siteflow/siteflow/pkg/console"
)

// Execute runs the root command and returns the process exit code. The exit
// code is the sole pass/fail signal consumed by automation: 0 for full
// success, 1 if any pipeline ended with fatal diagnostics or the command
// itself failed.
func Execute(ctx context.Context) int {
	cmd := NewRootCmd()
	if err := cmd.ExecuteContext(ctx); err != nil {
		if !errors.Is(err, errFatalDiagnostics) {
			console.PrintError(fmt.Sprint(err))
		}
		return 1
	}
	return 0
}
