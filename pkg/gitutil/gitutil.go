// Package gitutil provides small git repository helpers.
package gitutil

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/siteflow/siteflow/pkg/logger"
)

var log = logger.New("gitutil:gitutil")

// FindRoot walks up from dir looking for a .git entry and returns the
// repository root. Used to resolve the default .github/workflows output
// directory.
func FindRoot(dir string) (string, error) {
	abs, err := filepath.Abs(dir)
	if err != nil {
		return "", fmt.Errorf("failed to resolve %s: %w", dir, err)
	}

	for current := abs; ; {
		if _, err := os.Stat(filepath.Join(current, ".git")); err == nil {
			log.Printf("Found git root: %s", current)
			return current, nil
		}
		parent := filepath.Dir(current)
		if parent == current {
			return "", fmt.Errorf("no git repository found above %s", abs)
		}
		current = parent
	}
}
