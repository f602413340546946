package builtin

import (
	"context"
	"encoding/json"
	"runtime"
	"strings"
	"testing"
)

func TestRunShellCommandFormat(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("test command is POSIX")
	}
	tl := NewRunShellCommandTool(t.TempDir(), true)

	res, err := tl.Execute(context.Background(), json.RawMessage(`{"command":"echo out; echo err 1>&2"}`))
	if err != nil {
		t.Fatal(err)
	}
	if res.Error != "" {
		t.Fatalf("unexpected error: %s", res.Error)
	}
	if !strings.HasPrefix(res.Output, "Exit Code: 0\n") {
		t.Errorf("missing exit code line: %q", res.Output)
	}
	if !strings.Contains(res.Output, "STDOUT:\nout") || !strings.Contains(res.Output, "STDERR:\nerr") {
		t.Errorf("missing stdout/stderr sections: %q", res.Output)
	}
}

func TestRunShellCommandNonZeroExit(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("test command is POSIX")
	}
	tl := NewRunShellCommandTool(t.TempDir(), true)
	res, _ := tl.Execute(context.Background(), json.RawMessage(`{"command":"exit 3"}`))
	if !strings.HasPrefix(res.Output, "Exit Code: 3") {
		t.Errorf("exit code not reported: %q", res.Output)
	}
}

func TestRunShellCommandBackground(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("test command is POSIX")
	}
	tl := NewRunShellCommandTool(t.TempDir(), true)
	res, _ := tl.Execute(context.Background(), json.RawMessage(`{"command":"sleep 0.1","background":true}`))
	if res.Error != "" {
		t.Fatalf("background start failed: %s", res.Error)
	}
	if !strings.HasPrefix(res.Output, "PID: ") {
		t.Errorf("background result = %q", res.Output)
	}
}

func TestRunShellCommandDisabled(t *testing.T) {
	tl := NewRunShellCommandTool(t.TempDir(), false)
	res, _ := tl.Execute(context.Background(), json.RawMessage(`{"command":"echo hi"}`))
	if res.Error == "" {
		t.Error("disabled tool must refuse")
	}
}

func TestDangerousPatternBlocking(t *testing.T) {
	tests := []struct {
		command string
		blocked bool
	}{
		{"rm -rf /", true},
		{"sudo shutdown now", true},
		{"kill -9 1", true},
		{"kill -9 1; echo done", true},
		{"kill -9 12345", false},
		{"echo hello", false},
		{"ls -la", false},
	}
	for _, tt := range tests {
		got := matchDangerous(tt.command) != ""
		if got != tt.blocked {
			t.Errorf("matchDangerous(%q) blocked=%v, want %v", tt.command, got, tt.blocked)
		}
	}
}

func TestFilterEnvStripsSecrets(t *testing.T) {
	env := []string{
		"PATH=/usr/bin",
		"OPENAI_API_KEY=sk-secret",
		"DATABASE_URL=postgres://u:p@h/db",
		"HOME=/home/u",
		"SESSION_TOKEN=abc",
	}
	filtered := filterEnv(env)
	joined := strings.Join(filtered, ";")
	if strings.Contains(joined, "sk-secret") || strings.Contains(joined, "postgres://") || strings.Contains(joined, "SESSION_TOKEN") {
		t.Errorf("secrets leaked: %v", filtered)
	}
	if !strings.Contains(joined, "PATH=/usr/bin") || !strings.Contains(joined, "HOME=/home/u") {
		t.Errorf("essentials dropped: %v", filtered)
	}
}

func TestSafeRuneTruncate(t *testing.T) {
	if got := safeRuneTruncate("short", 100); got != "short" {
		t.Errorf("short string modified: %q", got)
	}
	long := strings.Repeat("x", 200)
	got := safeRuneTruncate(long, 50)
	if !strings.HasPrefix(got, strings.Repeat("x", 50)) || !strings.Contains(got, "200 chars total") {
		t.Errorf("truncation wrong: %q", got)
	}
}
