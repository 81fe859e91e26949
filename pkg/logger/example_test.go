//go:build !integration

package logger_test

import (
	"fmt"
	"os"

	"github.com/siteflow/siteflow/pkg/logger"
)

// Note: Example functions cannot use t.Setenv() as they don't have access to *testing.T

func ExampleNew() {
	os.Setenv("DEBUG", "workflow:*")
	defer os.Unsetenv("DEBUG")

	log := logger.New("workflow:template")

	if log.Enabled() {
		fmt.Println("Logger is enabled")
	}

	// Output: Logger is enabled
}

func ExampleNew_patterns() {
	// Example patterns for the DEBUG environment variable

	// Enable all loggers
	os.Setenv("DEBUG", "*")

	// Enable all loggers in the workflow namespace
	os.Setenv("DEBUG", "workflow:*")

	// Enable multiple namespaces
	os.Setenv("DEBUG", "workflow:*,cli:*")

	// Enable all except specific patterns
	os.Setenv("DEBUG", "*,-workflow:writer")

	defer os.Unsetenv("DEBUG")
}
