package config

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/seantiz/qexec/internal/backend/remote"
	"github.com/seantiz/qexec/internal/backend/statevector"
)

func clearEnv(t *testing.T) {
	t.Helper()
	for _, key := range []string{
		envListenAddr, envDBPath, envLogLevel, envShots, envNumQPUs,
		envSeed, envMaxQubits, envRemoteURL, envPlatformFile,
	} {
		t.Setenv(key, "")
	}
}

func TestLoadDefaults(t *testing.T) {
	clearEnv(t)

	cfg := Load()

	if cfg.ListenAddr != defaultListenAddr {
		t.Errorf("ListenAddr = %q, want %q", cfg.ListenAddr, defaultListenAddr)
	}
	if cfg.DBPath != defaultDBPath {
		t.Errorf("DBPath = %q, want %q", cfg.DBPath, defaultDBPath)
	}
	if cfg.LogLevel != slog.LevelInfo {
		t.Errorf("LogLevel = %v, want %v", cfg.LogLevel, slog.LevelInfo)
	}
	if cfg.Shots != defaultShots || cfg.NumQPUs != defaultNumQPUs || cfg.Seed != 0 {
		t.Errorf("Shots, NumQPUs, Seed = %d, %d, %d", cfg.Shots, cfg.NumQPUs, cfg.Seed)
	}
	if cfg.MaxQubits != statevector.DefaultMaxQubits {
		t.Errorf("MaxQubits = %d, want %d", cfg.MaxQubits, statevector.DefaultMaxQubits)
	}
}

func TestLoadFromEnv(t *testing.T) {
	clearEnv(t)
	t.Setenv(envListenAddr, ":9090")
	t.Setenv(envDBPath, "/tmp/test.db")
	t.Setenv(envLogLevel, "debug")
	t.Setenv(envShots, "250")
	t.Setenv(envNumQPUs, "3")
	t.Setenv(envSeed, "17")
	t.Setenv(envMaxQubits, "bogus")

	cfg := Load()

	if cfg.ListenAddr != ":9090" {
		t.Errorf("ListenAddr = %q, want %q", cfg.ListenAddr, ":9090")
	}
	if cfg.DBPath != "/tmp/test.db" {
		t.Errorf("DBPath = %q, want %q", cfg.DBPath, "/tmp/test.db")
	}
	if cfg.LogLevel != slog.LevelDebug {
		t.Errorf("LogLevel = %v, want %v", cfg.LogLevel, slog.LevelDebug)
	}
	if cfg.Shots != 250 || cfg.NumQPUs != 3 || cfg.Seed != 17 {
		t.Errorf("Shots, NumQPUs, Seed = %d, %d, %d", cfg.Shots, cfg.NumQPUs, cfg.Seed)
	}
	if cfg.MaxQubits != statevector.DefaultMaxQubits {
		t.Errorf("malformed MaxQubits = %d, want default", cfg.MaxQubits)
	}
}

func TestQPUSpecsFromEnv(t *testing.T) {
	clearEnv(t)
	t.Setenv(envNumQPUs, "2")
	t.Setenv(envSeed, "10")
	t.Setenv(envRemoteURL, "http://qpu.example:8080")

	specs, err := Load().QPUSpecs()
	if err != nil {
		t.Fatalf("QPUSpecs: %v", err)
	}
	if len(specs) != 3 {
		t.Fatalf("got %d specs, want 3", len(specs))
	}
	for i := range 2 {
		if specs[i].Backend != statevector.BackendName || specs[i].Options.Seed != uint64(10+i) {
			t.Errorf("spec[%d] = %+v", i, specs[i])
		}
	}
	if specs[2].Backend != remote.BackendName || specs[2].Options.Endpoint != "http://qpu.example:8080" {
		t.Errorf("remote spec = %+v", specs[2])
	}
}

func TestQPUSpecsFromPlatformFile(t *testing.T) {
	clearEnv(t)
	path := filepath.Join(t.TempDir(), "platform.yaml")
	data := `qpus:
  - backend: statevector
    options:
      seed: 5
      max_qudits: 10
  - backend: remote
    options:
      endpoint: http://localhost:9000
      remote_qpu: 1
`
	if err := os.WriteFile(path, []byte(data), 0o644); err != nil {
		t.Fatal(err)
	}
	t.Setenv(envNumQPUs, "4")
	t.Setenv(envPlatformFile, path)

	specs, err := Load().QPUSpecs()
	if err != nil {
		t.Fatalf("QPUSpecs: %v", err)
	}
	if len(specs) != 2 {
		t.Fatalf("got %d specs, want 2", len(specs))
	}
	if specs[0].Options.Seed != 5 {
		t.Errorf("spec[0] = %+v", specs[0])
	}
	if specs[1].Options.Endpoint != "http://localhost:9000" || specs[1].Options.RemoteQPU != 1 {
		t.Errorf("spec[1] = %+v", specs[1])
	}
}

func TestQPUSpecsPlatformFileErrors(t *testing.T) {
	dir := t.TempDir()
	write := func(name, data string) string {
		p := filepath.Join(dir, name)
		if err := os.WriteFile(p, []byte(data), 0o644); err != nil {
			t.Fatal(err)
		}
		return p
	}

	for name, path := range map[string]string{
		"missing":    filepath.Join(dir, "nope.yaml"),
		"malformed":  write("bad.yaml", "qpus: [\n"),
		"empty":      write("empty.yaml", "qpus: []\n"),
		"no backend": write("nobackend.yaml", "qpus:\n  - options:\n      seed: 1\n"),
	} {
		cfg := Config{PlatformFile: path}
		if _, err := cfg.QPUSpecs(); err == nil {
			t.Errorf("%s: expected error", name)
		}
	}
}

func TestParseLogLevel(t *testing.T) {
	tests := []struct {
		input string
		want  slog.Level
	}{
		{"debug", slog.LevelDebug},
		{"DEBUG", slog.LevelDebug},
		{"info", slog.LevelInfo},
		{"warn", slog.LevelWarn},
		{"error", slog.LevelError},
		{"invalid", slog.LevelInfo},
		{"", slog.LevelInfo},
	}

	for _, tt := range tests {
		got := parseLogLevel(tt.input)
		if got != tt.want {
			t.Errorf("parseLogLevel(%q) = %v, want %v", tt.input, got, tt.want)
		}
	}
}

func TestNewLoggerOutputsJSON(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(&buf, slog.LevelInfo)
	if logger == nil {
		t.Fatal("NewLogger returned nil")
	}

	logger.Info("test message", "key", "value")

	var entry map[string]any
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("logger output is not valid JSON: %v\noutput: %s", err, buf.String())
	}

	for _, key := range []string{"time", "level", "msg"} {
		if _, ok := entry[key]; !ok {
			t.Errorf("JSON output missing expected key %q", key)
		}
	}
	if entry["msg"] != "test message" {
		t.Errorf("msg = %v, want %q", entry["msg"], "test message")
	}
	if entry["key"] != "value" {
		t.Errorf("key = %v, want %q", entry["key"], "value")
	}
}
