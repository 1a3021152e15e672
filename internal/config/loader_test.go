package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write %s: %v", name, err)
	}
	return path
}

const minimalYAML = `
broker:
  url: nats://localhost:4222
commands:
  reboot:
    command: sudo reboot
`

func TestLoad(t *testing.T) {
	tests := []struct {
		name    string
		yaml    string
		env     map[string]string
		wantErr string
		checkFn func(t *testing.T, cfg *Config)
	}{
		{
			name: "minimal valid config gets defaults",
			yaml: minimalYAML,
			checkFn: func(t *testing.T, cfg *Config) {
				if cfg.Broker.CommandTopic != "zika/command" {
					t.Errorf("command_topic = %q, want default", cfg.Broker.CommandTopic)
				}
				if cfg.Broker.AvailabilityInterval != 60*time.Second {
					t.Errorf("availability_interval = %v, want 60s", cfg.Broker.AvailabilityInterval)
				}
				if cfg.Executor.Mode != ModePipe {
					t.Errorf("executor.mode = %q, want pipe", cfg.Executor.Mode)
				}
				if cfg.Executor.FIFOPath != "/run/zika/zika-command.fifo" {
					t.Errorf("fifo_path = %q", cfg.Executor.FIFOPath)
				}
				if cfg.Commands["reboot"].Command != "sudo reboot" {
					t.Errorf("reboot command not parsed: %+v", cfg.Commands)
				}
				if cfg.API.ListenPort() != 80 {
					t.Errorf("ListenPort() = %d, want 80", cfg.API.ListenPort())
				}
			},
		},
		{
			name: "env var interpolation",
			yaml: `
broker:
  url: ${BROKER_URL}
  password: ${BROKER_PASSWORD}
commands:
  ping:
    command: echo ping
`,
			env: map[string]string{
				"BROKER_URL":      "nats://broker:4222",
				"BROKER_PASSWORD": "secret123",
			},
			checkFn: func(t *testing.T, cfg *Config) {
				if cfg.Broker.URL != "nats://broker:4222" {
					t.Errorf("broker.url = %q", cfg.Broker.URL)
				}
				if cfg.Broker.Password != "secret123" {
					t.Errorf("broker.password = %q", cfg.Broker.Password)
				}
			},
		},
		{
			name: "process mode with timeout and bounded queue",
			yaml: `
broker:
  url: nats://localhost:4222
executor:
  mode: process
  host_tools_path: /opt/zika/bin
  timeout: 30s
queue:
  max_depth: 10
  overflow: drop-oldest
api:
  tls:
    enabled: true
    key_file: key.pem
    cert_file: cert.pem
commands:
  restart:
    command: systemctl restart foo
    ha:
      name: Restart foo
      icon: mdi:restart
`,
			checkFn: func(t *testing.T, cfg *Config) {
				if cfg.Executor.Mode != ModeProcess || cfg.Executor.HostToolsPath != "/opt/zika/bin" {
					t.Errorf("executor not parsed: %+v", cfg.Executor)
				}
				if cfg.Executor.Timeout != 30*time.Second {
					t.Errorf("timeout = %v", cfg.Executor.Timeout)
				}
				if cfg.Queue.MaxDepth != 10 || cfg.Queue.Overflow != OverflowDropOldest {
					t.Errorf("queue not parsed: %+v", cfg.Queue)
				}
				if cfg.API.ListenPort() != 443 {
					t.Errorf("ListenPort() = %d, want 443", cfg.API.ListenPort())
				}
				if cfg.Commands["restart"].HA == nil || cfg.Commands["restart"].HA.Icon != "mdi:restart" {
					t.Errorf("ha button not parsed: %+v", cfg.Commands["restart"])
				}
			},
		},
		{
			name: "missing broker url",
			yaml: `
commands:
  ping:
    command: echo ping
`,
			wantErr: "broker.url is required",
		},
		{
			name: "no commands",
			yaml: `
broker:
  url: nats://localhost:4222
`,
			wantErr: "at least one command",
		},
		{
			name: "tls without key",
			yaml: minimalYAML + `
api:
  tls:
    enabled: true
`,
			wantErr: "key_file and cert_file are required",
		},
		{
			name: "unknown executor mode",
			yaml: minimalYAML + `
executor:
  mode: telepathy
`,
			wantErr: "executor.mode",
		},
		{
			name: "bad overflow policy",
			yaml: minimalYAML + `
queue:
  max_depth: 3
  overflow: drop-random
`,
			wantErr: "queue.overflow",
		},
		{
			name: "incomplete ha block",
			yaml: minimalYAML + `
ha:
  device_identifier: host1
`,
			wantErr: "ha: device_identifier and discovery_topic are required",
		},
		{
			name:    "invalid yaml",
			yaml:    "broker: [",
			wantErr: "failed to parse YAML",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for k, v := range tt.env {
				t.Setenv(k, v)
			}

			dir := t.TempDir()
			path := writeFile(t, dir, "config.yaml", tt.yaml)

			cfg, err := Load(path)
			if tt.wantErr != "" {
				if err == nil {
					t.Fatalf("expected error containing %q, got nil", tt.wantErr)
				}
				if !strings.Contains(err.Error(), tt.wantErr) {
					t.Fatalf("error %q does not contain %q", err, tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("Load() error = %v", err)
			}
			tt.checkFn(t, cfg)
		})
	}
}

func TestLoadDirectory(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "config.yaml", minimalYAML)

	cfg, err := Load(dir)
	if err != nil {
		t.Fatalf("Load(dir) error = %v", err)
	}
	if len(cfg.SourceFiles) != 1 || filepath.Base(cfg.SourceFiles[0]) != "config.yaml" {
		t.Errorf("SourceFiles = %v", cfg.SourceFiles)
	}
}

func TestLoadIncludes(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "config.yaml", `
include:
  - commands.yaml
broker:
  url: nats://localhost:4222
commands:
  ping:
    command: echo ping
`)
	writeFile(t, dir, "commands.yaml", `
include:
  - secrets.yaml
commands:
  reboot:
    command: sudo reboot
  ping:
    command: echo pong
`)
	writeFile(t, dir, "secrets.yaml", `
broker:
  user: zika
  password: hunter2
`)

	cfg, err := Load(filepath.Join(dir, "config.yaml"))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if len(cfg.Commands) != 2 {
		t.Fatalf("commands = %v, want 2 entries", cfg.Commands)
	}
	if cfg.Commands["ping"].Command != "echo pong" {
		t.Errorf("included command should override: %q", cfg.Commands["ping"].Command)
	}
	if cfg.Broker.User != "zika" || cfg.Broker.Password != "hunter2" {
		t.Errorf("credentials not merged: %+v", cfg.Broker)
	}
	if len(cfg.SourceFiles) != 3 {
		t.Errorf("SourceFiles = %v, want 3", cfg.SourceFiles)
	}
}

func TestLoadIncludeCycle(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "config.yaml", minimalYAML+"include:\n  - a.yaml\n")
	writeFile(t, dir, "a.yaml", "include:\n  - config.yaml\n")

	_, err := Load(filepath.Join(dir, "config.yaml"))
	if err == nil || !strings.Contains(err.Error(), "circular dependency") {
		t.Fatalf("expected circular dependency error, got %v", err)
	}
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	if err == nil || !strings.Contains(err.Error(), "config file not found") {
		t.Fatalf("expected not found error, got %v", err)
	}
}

func TestDiscoverConfigPathFromEnv(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "zika.yaml", minimalYAML)
	t.Setenv("ZIKA_CONFIG", path)

	got, err := DiscoverConfigPath()
	if err != nil {
		t.Fatalf("DiscoverConfigPath() error = %v", err)
	}
	if got != path {
		t.Errorf("DiscoverConfigPath() = %q, want %q", got, path)
	}
}

func TestLogLevelDebugOverride(t *testing.T) {
	cfg := Defaults()
	cfg.Service.LogLevel = "warn"
	if cfg.LogLevel() != "warn" {
		t.Errorf("LogLevel() = %q, want warn", cfg.LogLevel())
	}
	cfg.Debug = true
	if cfg.LogLevel() != "debug" {
		t.Errorf("LogLevel() = %q, want debug", cfg.LogLevel())
	}
}
