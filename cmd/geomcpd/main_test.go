package main

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadDotEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, ".env")
	content := "# comment\nGEOMCP_TEST_KEY=abc123\n\nGEOMCP_TEST_EXISTING=new\nbadline\n=nokey\n"
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	t.Setenv("GEOMCP_TEST_EXISTING", "old")
	os.Unsetenv("GEOMCP_TEST_KEY")
	t.Cleanup(func() { os.Unsetenv("GEOMCP_TEST_KEY") })

	loadDotEnv(path)

	if got := os.Getenv("GEOMCP_TEST_KEY"); got != "abc123" {
		t.Errorf("GEOMCP_TEST_KEY = %q", got)
	}
	if got := os.Getenv("GEOMCP_TEST_EXISTING"); got != "old" {
		t.Errorf("existing variable overwritten: %q", got)
	}
}

func TestLoadDotEnvMissingFile(t *testing.T) {
	// Must be a silent no-op.
	loadDotEnv(filepath.Join(t.TempDir(), "does-not-exist"))
}
