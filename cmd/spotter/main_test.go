package main

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestVersionCmd(t *testing.T) {
	cmd := newRootCmd()
	buf := new(bytes.Buffer)
	cmd.SetOut(buf)
	cmd.SetErr(buf)
	cmd.SetArgs([]string{"version"})

	if err := cmd.Execute(); err != nil {
		t.Fatalf("version command failed: %v", err)
	}

	out := buf.String()
	if !strings.Contains(out, "spotter dev") {
		t.Errorf("expected output to contain 'spotter dev', got: %s", out)
	}
	if !strings.Contains(out, "commit: none") {
		t.Errorf("expected output to contain 'commit: none', got: %s", out)
	}
}

func TestVersionCmdWithCustomValues(t *testing.T) {
	origVersion, origCommit, origDate := Version, Commit, Date
	Version, Commit, Date = "1.0.0", "abc123", "2026-01-01"
	defer func() { Version, Commit, Date = origVersion, origCommit, origDate }()

	cmd := newRootCmd()
	buf := new(bytes.Buffer)
	cmd.SetOut(buf)
	cmd.SetArgs([]string{"version"})

	if err := cmd.Execute(); err != nil {
		t.Fatalf("version command failed: %v", err)
	}
	if out := buf.String(); !strings.Contains(out, "spotter 1.0.0 (commit: abc123, built: 2026-01-01)") {
		t.Errorf("unexpected output: %s", out)
	}
}

func TestRootCmdHelp(t *testing.T) {
	cmd := newRootCmd()
	buf := new(bytes.Buffer)
	cmd.SetOut(buf)
	cmd.SetArgs([]string{"--help"})

	if err := cmd.Execute(); err != nil {
		t.Fatalf("help failed: %v", err)
	}
	out := buf.String()
	for _, sub := range []string{"serve", "db", "sweep", "chat", "version"} {
		if !strings.Contains(out, sub) {
			t.Errorf("help output missing %q subcommand", sub)
		}
	}
}

func TestExecute_ReturnsExitCode(t *testing.T) {
	cmd := newRootCmd()
	cmd.SetOut(new(bytes.Buffer))
	cmd.SetErr(new(bytes.Buffer))
	cmd.SetArgs([]string{"no-such-command"})
	if code := execute(cmd); code != 1 {
		t.Errorf("execute = %d, want 1", code)
	}
}

// writeConfig writes a sqlite-backed config into a temp dir.
func writeConfig(t *testing.T, extra string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "spotter.yaml")
	yaml := "database:\n  driver: sqlite\n  path: " + filepath.Join(dir, "spotter.db") + "\nlog:\n  level: warn\n" + extra
	if err := os.WriteFile(path, []byte(yaml), 0644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func runCmd(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCmd()
	buf := new(bytes.Buffer)
	cmd.SetOut(buf)
	cmd.SetErr(buf)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return buf.String(), err
}

func TestDBMigrate(t *testing.T) {
	path := writeConfig(t, "")
	out, err := runCmd(t, "db", "migrate", "-c", path)
	if err != nil {
		t.Fatalf("db migrate: %v\n%s", err, out)
	}
	if !strings.Contains(out, "(sqlite)") || !strings.Contains(out, "Migrated") {
		t.Errorf("output = %q", out)
	}
}

func TestDBMigrate_MissingConfig(t *testing.T) {
	_, err := runCmd(t, "db", "migrate", "-c", filepath.Join(t.TempDir(), "nope.yaml"))
	if err == nil || !strings.Contains(err.Error(), "load config") {
		t.Errorf("err = %v", err)
	}
}

func TestSweep_Empty(t *testing.T) {
	path := writeConfig(t, "sweeper:\n  pending_ttl: 1h\n")
	out, err := runCmd(t, "sweep", "-c", path)
	if err != nil {
		t.Fatalf("sweep: %v\n%s", err, out)
	}
	if !strings.Contains(out, "Cancelled 0 pending confirmations older than 1h0m0s") {
		t.Errorf("output = %q", out)
	}
}

func TestSweep_BadSchedule(t *testing.T) {
	path := writeConfig(t, "sweeper:\n  schedule: \"every now and then\"\n")
	_, err := runCmd(t, "sweep", "-c", path)
	if err == nil || !strings.Contains(err.Error(), "schedule") {
		t.Errorf("err = %v", err)
	}
}

func TestServe_RequiresAPIKey(t *testing.T) {
	t.Setenv("SPOTTER_TEST_EMPTY_KEY", "")
	path := writeConfig(t, "provider:\n  api_key_env: SPOTTER_TEST_EMPTY_KEY\n")
	_, err := runCmd(t, "serve", "-c", path)
	if err == nil || !strings.Contains(err.Error(), "API key is required") {
		t.Errorf("err = %v", err)
	}
	if err != nil && !strings.Contains(err.Error(), "$SPOTTER_TEST_EMPTY_KEY") {
		t.Errorf("error should name the key variable: %v", err)
	}
}
