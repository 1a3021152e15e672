package doctor

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"golang.org/x/sys/unix"

	"github.com/mattjoyce/zika/internal/config"
)

func validConfig(t *testing.T) *config.Config {
	t.Helper()
	dir := t.TempDir()
	fifo := filepath.Join(dir, "zika.fifo")
	if err := unix.Mkfifo(fifo, 0o600); err != nil {
		t.Fatalf("mkfifo: %v", err)
	}

	cfg := config.Defaults()
	cfg.Broker.URL = "nats://127.0.0.1:4222"
	cfg.API.Auth.Tokens = []config.APIToken{{Token: "t", Scopes: []string{"actions:rw"}}}
	cfg.Executor.FIFOPath = fifo
	cfg.Executor.Timeout = 5 * time.Second
	cfg.History.Path = filepath.Join(dir, "history.db")
	cfg.Commands = map[string]config.CommandConfig{
		"reboot": {Command: "systemctl reboot", HA: &config.HAButtonConf{Name: "Reboot"}},
	}
	return cfg
}

func TestValidate_ValidConfig(t *testing.T) {
	t.Parallel()
	r := New(validConfig(t)).Validate()
	if !r.Valid {
		t.Fatalf("expected valid, got errors: %v", r.Errors)
	}
	if len(r.Warnings) != 0 {
		t.Fatalf("expected no warnings, got: %v", r.Warnings)
	}
}

func TestValidate_MissingFIFOWarns(t *testing.T) {
	t.Parallel()
	cfg := validConfig(t)
	cfg.Executor.FIFOPath = filepath.Join(t.TempDir(), "absent.fifo")
	r := New(cfg).Validate()
	if !r.Valid {
		t.Fatalf("missing fifo should only warn, got errors: %v", r.Errors)
	}
	assertHasWarning(t, r, "executor", "does not exist yet")
}

func TestValidate_RegularFileIsNotFIFO(t *testing.T) {
	t.Parallel()
	cfg := validConfig(t)
	path := filepath.Join(t.TempDir(), "plain")
	if err := os.WriteFile(path, nil, 0o600); err != nil {
		t.Fatal(err)
	}
	cfg.Executor.FIFOPath = path
	r := New(cfg).Validate()
	assertHasError(t, r, "executor", "not a named pipe")
}

func TestValidate_ProcessShell(t *testing.T) {
	t.Parallel()
	cfg := validConfig(t)
	cfg.Executor.Mode = config.ModeProcess
	cfg.Executor.Shell = "/nonexistent/sh"
	cfg.Executor.HostToolsPath = "/nonexistent/tools"
	cfg.Executor.Timeout = 0
	r := New(cfg).Validate()
	assertHasError(t, r, "executor", "/nonexistent/sh")
	assertHasWarning(t, r, "executor", "host tools")
	assertHasWarning(t, r, "executor", "hung action")
}

func TestValidate_ProcessShellNotExecutable(t *testing.T) {
	t.Parallel()
	cfg := validConfig(t)
	shell := filepath.Join(t.TempDir(), "sh")
	if err := os.WriteFile(shell, []byte("#!/bin/false\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	cfg.Executor.Mode = config.ModeProcess
	cfg.Executor.Shell = shell
	r := New(cfg).Validate()
	assertHasError(t, r, "executor", "not executable")
}

func TestValidate_APIWithoutAuth(t *testing.T) {
	t.Parallel()
	cfg := validConfig(t)
	cfg.API.Auth.Tokens = nil
	r := New(cfg).Validate()
	assertHasWarning(t, r, "api", "401")
}

func TestValidate_APIExposedWithoutTLS(t *testing.T) {
	t.Parallel()
	cfg := validConfig(t)
	cfg.API.Address = "0.0.0.0"
	r := New(cfg).Validate()
	assertHasWarning(t, r, "api", "clear text")

	cfg.API.Address = "::1"
	r = New(cfg).Validate()
	if len(r.Warnings) != 0 {
		t.Fatalf("loopback should not warn, got: %v", r.Warnings)
	}
}

func TestValidate_UnknownScope(t *testing.T) {
	t.Parallel()
	cfg := validConfig(t)
	cfg.API.Auth.Tokens = []config.APIToken{{Token: "t", Scopes: []string{"plugins:rw", "events:ro"}}}
	r := New(cfg).Validate()
	assertHasError(t, r, "token_scopes", `"plugins:rw"`)
	if len(r.Errors) != 1 {
		t.Fatalf("expected exactly one error, got: %v", r.Errors)
	}
}

func TestValidate_EmptyCredentials(t *testing.T) {
	t.Parallel()
	cfg := validConfig(t)
	cfg.API.Auth.Tokens = append(cfg.API.Auth.Tokens, config.APIToken{Scopes: []string{"*"}})
	cfg.Broker.User = "zika"
	r := New(cfg).Validate()
	assertHasWarning(t, r, "env_vars", "token value is empty")
	assertHasWarning(t, r, "env_vars", "password is empty")
}

func TestValidate_UnannouncedCommand(t *testing.T) {
	t.Parallel()
	cfg := validConfig(t)
	cfg.HA = &config.HAConfig{DeviceIdentifier: "host", DiscoveryTopic: "homeassistant"}
	cfg.Commands["quiet"] = config.CommandConfig{Command: "true"}
	r := New(cfg).Validate()
	assertHasWarning(t, r, "discovery", `"quiet"`)
}

func TestValidate_HistoryRetention(t *testing.T) {
	t.Parallel()
	cfg := validConfig(t)
	cfg.History.Retention = 0
	r := New(cfg).Validate()
	assertHasWarning(t, r, "history", "never pruned")
}

func TestValidate_IntegrityWarning(t *testing.T) {
	t.Parallel()
	cfg := validConfig(t)
	cfg.SourceFiles = []string{filepath.Join(t.TempDir(), "config.yaml")}
	r := New(cfg).Validate()
	assertHasWarning(t, r, "integrity", "config lock")
}

func TestFormatJSON(t *testing.T) {
	t.Parallel()
	r := &Result{
		Valid:  false,
		Errors: []Issue{{Category: "test", Message: "bad thing"}},
	}
	out, err := FormatJSON(r)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(out, "bad thing") {
		t.Fatalf("expected JSON to contain error message, got: %s", out)
	}
}

func TestFormatHuman_Valid(t *testing.T) {
	t.Parallel()
	r := &Result{Valid: true}
	out := FormatHuman(r)
	if !strings.Contains(out, "valid") {
		t.Fatalf("expected 'valid' in output, got: %s", out)
	}
}

func TestFormatHuman_Errors(t *testing.T) {
	t.Parallel()
	r := &Result{
		Valid:  false,
		Errors: []Issue{{Category: "test", Field: "x.y", Message: "broken"}},
	}
	out := FormatHuman(r)
	if !strings.Contains(out, "ERROR") || !strings.Contains(out, "broken") {
		t.Fatalf("expected error in output, got: %s", out)
	}
}

// --- helpers ---

func assertHasError(t *testing.T, r *Result, category, substring string) {
	t.Helper()
	for _, e := range r.Errors {
		if e.Category == category && strings.Contains(e.Message, substring) {
			return
		}
	}
	t.Fatalf("expected error with category=%q containing %q, got: %v", category, substring, r.Errors)
}

func assertHasWarning(t *testing.T, r *Result, category, substring string) {
	t.Helper()
	for _, w := range r.Warnings {
		if w.Category == category && strings.Contains(w.Message, substring) {
			return
		}
	}
	t.Fatalf("expected warning with category=%q containing %q, got: %v", category, substring, r.Warnings)
}
