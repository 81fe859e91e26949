//go:build !integration

package testutil_test

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/siteflow/siteflow/pkg/testutil"
)

func TestGetTestRunDir(t *testing.T) {
	dir := testutil.GetTestRunDir()

	if _, err := os.Stat(dir); os.IsNotExist(err) {
		t.Errorf("test run directory does not exist: %s", dir)
	}

	if !strings.Contains(dir, "test-runs") {
		t.Errorf("test run directory should contain 'test-runs', got: %s", dir)
	}

	// Calling it again returns the same directory
	if dir2 := testutil.GetTestRunDir(); dir != dir2 {
		t.Errorf("GetTestRunDir should return same directory, got %s and %s", dir, dir2)
	}
}

func TestTempDir(t *testing.T) {
	tempDir := testutil.TempDir(t, "tempdir-test-*")

	if _, err := os.Stat(tempDir); os.IsNotExist(err) {
		t.Errorf("temp dir does not exist: %s", tempDir)
	}

	if filepath.Dir(tempDir) != testutil.GetTestRunDir() {
		t.Errorf("temp dir %s should be under test run dir %s", tempDir, testutil.GetTestRunDir())
	}
}

func TestWriteFile(t *testing.T) {
	dir := testutil.TempDir(t, "writefile-*")
	path := filepath.Join(dir, "nested", "site.yml")

	testutil.WriteFile(t, path, "id: alpha\n")

	content, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("failed to read back file: %v", err)
	}
	if string(content) != "id: alpha\n" {
		t.Errorf("unexpected content: %q", string(content))
	}
}
