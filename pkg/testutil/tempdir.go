// Package testutil provides shared helpers for tests.
package testutil

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"
)

var (
	testRunDirOnce sync.Once
	testRunDir     string
)

// GetTestRunDir returns a directory shared by all tests in this process,
// created under the system temp dir. The same directory is returned for the
// lifetime of the process so related test artifacts end up together.
func GetTestRunDir() string {
	testRunDirOnce.Do(func() {
		dir := filepath.Join(os.TempDir(), "siteflow", "test-runs",
			fmt.Sprintf("run-%d-%d", os.Getpid(), time.Now().UnixNano()))
		if err := os.MkdirAll(dir, 0755); err != nil {
			panic(fmt.Sprintf("failed to create test run directory: %v", err))
		}
		testRunDir = dir
	})
	return testRunDir
}

// TempDir creates a temporary directory under the test run directory using
// the given pattern and registers cleanup with the test.
func TempDir(t *testing.T, pattern string) string {
	t.Helper()

	dir, err := os.MkdirTemp(GetTestRunDir(), pattern)
	if err != nil {
		t.Fatalf("failed to create temp dir: %v", err)
	}
	t.Cleanup(func() {
		os.RemoveAll(dir)
	})
	return dir
}

// WriteFile writes content to path, creating parent directories as needed,
// and fails the test on error.
func WriteFile(t *testing.T, path, content string) {
	t.Helper()

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		t.Fatalf("failed to create directory for %s: %v", path, err)
	}
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("failed to write %s: %v", path, err)
	}
}
