package main

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"github.com/five82/alloclog/internal/app"
)

func TestVersionCommand(t *testing.T) {
	cmd := newRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetArgs([]string{"version"})
	if err := cmd.Execute(); err != nil {
		t.Fatalf("execute: %v", err)
	}
	if !strings.Contains(out.String(), "alloclog version "+version) {
		t.Fatalf("output = %q", out.String())
	}
}

func TestRootRequiresAllocation(t *testing.T) {
	cmd := newRootCmd()
	cmd.SetOut(&bytes.Buffer{})
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs([]string{})
	if err := cmd.Execute(); err == nil {
		t.Fatalf("expected an argument error")
	}
}

func TestLogsRejectsHeadWithFollow(t *testing.T) {
	cmd := newRootCmd()
	cmd.SetOut(&bytes.Buffer{})
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs([]string{"logs", "--head", "--follow", "5a7d"})
	if err := cmd.Execute(); err == nil {
		t.Fatalf("expected a flag error")
	}
}

func TestOptions(t *testing.T) {
	g := &globalFlags{configPath: "c.toml", stderr: true, polling: true, pollEvery: 5 * time.Second}
	opts := g.options([]string{"5a7d", "web"})
	if opts.Alloc != "5a7d" || opts.Task != "web" || opts.Type != "stderr" || !opts.Polling {
		t.Fatalf("options = %+v", opts)
	}
	if opts.ConfigPath != "c.toml" || opts.PollEvery != 5*time.Second || opts.Version != version {
		t.Fatalf("options = %+v", opts)
	}

	opts = (&globalFlags{}).options([]string{"5a7d"})
	if opts.Task != "" || opts.Type != "" {
		t.Fatalf("defaults = %+v", opts)
	}
}

func TestLogsMode(t *testing.T) {
	tests := []struct {
		head, follow bool
		want         app.LogsMode
	}{
		{false, false, app.LogsTail},
		{true, false, app.LogsHead},
		{false, true, app.LogsFollow},
	}
	for _, tt := range tests {
		if got := logsMode(tt.head, tt.follow); got != tt.want {
			t.Fatalf("logsMode(%v, %v) = %v, want %v", tt.head, tt.follow, got, tt.want)
		}
	}
}
