package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func clearEnv(t *testing.T) {
	t.Helper()
	for _, key := range []string{EnvAddress, EnvToken, EnvRegion, EnvNamespace} {
		t.Setenv(key, "")
	}
}

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.toml")
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	return path
}

func TestLoad_MissingConfigFallsBackToDefaults(t *testing.T) {
	home := t.TempDir()
	t.Setenv("HOME", home)
	clearEnv(t)

	cfg, err := Load(filepath.Join(home, "does-not-exist.toml"))
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if cfg.Address != defaultAddress {
		t.Fatalf("Address = %q, want %q", cfg.Address, defaultAddress)
	}
	if cfg.ClientTimeout != time.Second || cfg.ServerTimeout != 5*time.Second {
		t.Fatalf("timeouts = %v/%v, want 1s/5s", cfg.ClientTimeout, cfg.ServerTimeout)
	}
	if cfg.MaxOutputLength != 50000 || cfg.Polling {
		t.Fatalf("MaxOutputLength = %d Polling = %v", cfg.MaxOutputLength, cfg.Polling)
	}

	wantLogFile, err := expandPath(defaultLogFile)
	if err != nil {
		t.Fatalf("expandPath(defaultLogFile) returned error: %v", err)
	}
	if cfg.LogFile != wantLogFile {
		t.Fatalf("LogFile = %q, want %q", cfg.LogFile, wantLogFile)
	}
}

func TestLoad_ParsesAndTrimsConfig(t *testing.T) {
	home := t.TempDir()
	t.Setenv("HOME", home)
	clearEnv(t)

	path := writeConfig(t, `
address = "  https://nomad.example:4646  "
token = " s3cret "
region = "eu"
namespace = "prod"
client_timeout = "250ms"
server_timeout = "10s"
poll_interval = "2s"
stats_interval = "5s"
max_output_length = 1000
polling = true
log_file = "  ~/logs/alloclog.log  "
log_level = "DEBUG"
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	want := Config{
		Address:         "https://nomad.example:4646",
		Token:           "s3cret",
		Region:          "eu",
		Namespace:       "prod",
		ClientTimeout:   250 * time.Millisecond,
		ServerTimeout:   10 * time.Second,
		PollInterval:    2 * time.Second,
		StatsInterval:   5 * time.Second,
		MaxOutputLength: 1000,
		Polling:         true,
		LogFile:         filepath.Join(home, "logs/alloclog.log"),
		LogLevel:        "debug",
	}
	if cfg != want {
		t.Fatalf("Load = %#v\nwant %#v", cfg, want)
	}
}

func TestLoad_EnvironmentOverridesFile(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	clearEnv(t)
	t.Setenv(EnvAddress, "http://10.1.1.1:4646")
	t.Setenv(EnvToken, "env-token")
	t.Setenv(EnvNamespace, "ops")

	path := writeConfig(t, `
address = "http://file:4646"
token = "file-token"
region = "us"
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if cfg.Address != "http://10.1.1.1:4646" || cfg.Token != "env-token" || cfg.Namespace != "ops" {
		t.Fatalf("env overrides not applied: %#v", cfg)
	}
	if cfg.Region != "us" {
		t.Fatalf("Region = %q, want file value us", cfg.Region)
	}
}

func TestLoad_EmptyValuesUseDefaults(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	clearEnv(t)

	path := writeConfig(t, `
address = "   "
client_timeout = ""
log_level = ""
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if cfg.Address != defaultAddress || cfg.ClientTimeout != defaultClientTimeout || cfg.LogLevel != defaultLogLevel {
		t.Fatalf("Load = %#v, want defaults", cfg)
	}
}

func TestLoad_InvalidValuesFail(t *testing.T) {
	clearEnv(t)
	tests := []struct {
		name string
		body string
		want string
	}{
		{"invalid toml", `address = [`, "parse config"},
		{"bad duration", `poll_interval = "soon"`, "poll_interval"},
		{"negative duration", `server_timeout = "-1s"`, "must be positive"},
		{"negative length", `max_output_length = -5`, "max_output_length"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(writeConfig(t, tt.body))
			if err == nil {
				t.Fatalf("Load returned nil error, want %q", tt.want)
			}
			if !strings.Contains(err.Error(), tt.want) {
				t.Fatalf("Load error = %q, want it to mention %q", err.Error(), tt.want)
			}
		})
	}
}

func TestExpandPath_ExpandsTildeAndReturnsAbs(t *testing.T) {
	home := t.TempDir()
	t.Setenv("HOME", home)

	got, err := ExpandPath("~/a/b")
	if err != nil {
		t.Fatalf("ExpandPath returned error: %v", err)
	}
	want := filepath.Join(home, "a/b")
	if got != want {
		t.Fatalf("ExpandPath = %q, want %q", got, want)
	}
}

func TestExpandPath_EmptyErrors(t *testing.T) {
	if _, err := expandPath("   "); err == nil {
		t.Fatalf("expandPath returned nil error, want error")
	}
}

func TestDefaultPath_UnderHome(t *testing.T) {
	home := t.TempDir()
	t.Setenv("HOME", home)

	got := DefaultPath()
	if !strings.HasPrefix(got, home) || !strings.HasSuffix(got, filepath.FromSlash("alloclog/config.toml")) {
		t.Fatalf("DefaultPath = %q, want it under HOME %q", got, home)
	}
}
