package config

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/seantiz/qexec/internal/backend"
	"github.com/seantiz/qexec/internal/backend/remote"
	"github.com/seantiz/qexec/internal/backend/statevector"
	"github.com/seantiz/qexec/internal/engine"
)

const (
	defaultListenAddr = ":8080"
	defaultDBPath     = "qexec.db"
	defaultShots      = 1000
	defaultNumQPUs    = 1

	envListenAddr   = "QEXEC_LISTEN_ADDR"
	envDBPath       = "QEXEC_DB_PATH"
	envLogLevel     = "QEXEC_LOG_LEVEL"
	envShots        = "QEXEC_SHOTS"
	envNumQPUs      = "QEXEC_NUM_QPUS"
	envSeed         = "QEXEC_SEED"
	envMaxQubits    = "QEXEC_MAX_QUBITS"
	envRemoteURL    = "QEXEC_REMOTE_URL"
	envPlatformFile = "QEXEC_PLATFORM_FILE"
)

// Config holds application configuration loaded from environment variables.
type Config struct {
	ListenAddr string
	DBPath     string
	LogLevel   slog.Level

	// Shots is the default shot count for CLI sampling.
	Shots int

	NumQPUs   int
	Seed      uint64
	MaxQubits int

	// RemoteURL, when set, appends one remote QPU backed by that service.
	RemoteURL string

	// PlatformFile, when set, names a YAML file whose QPU list replaces the
	// one derived from the variables above.
	PlatformFile string
}

// platformFile is the YAML layout of QEXEC_PLATFORM_FILE.
type platformFile struct {
	QPUs []engine.QPUSpec `yaml:"qpus"`
}

// Load reads configuration from environment variables with sensible defaults.
// Malformed numbers fall back to their defaults.
func Load() Config {
	cfg := Config{
		ListenAddr: defaultListenAddr,
		DBPath:     defaultDBPath,
		LogLevel:   slog.LevelInfo,
		Shots:      defaultShots,
		NumQPUs:    defaultNumQPUs,
		MaxQubits:  statevector.DefaultMaxQubits,
	}

	if v := os.Getenv(envListenAddr); v != "" {
		cfg.ListenAddr = v
	}
	if v := os.Getenv(envDBPath); v != "" {
		cfg.DBPath = v
	}
	if v := os.Getenv(envLogLevel); v != "" {
		cfg.LogLevel = parseLogLevel(v)
	}
	cfg.Shots = positiveEnv(envShots, cfg.Shots)
	cfg.NumQPUs = positiveEnv(envNumQPUs, cfg.NumQPUs)
	cfg.MaxQubits = positiveEnv(envMaxQubits, cfg.MaxQubits)
	if v := os.Getenv(envSeed); v != "" {
		if seed, err := strconv.ParseUint(v, 10, 64); err == nil {
			cfg.Seed = seed
		}
	}
	cfg.RemoteURL = os.Getenv(envRemoteURL)
	cfg.PlatformFile = os.Getenv(envPlatformFile)

	return cfg
}

// QPUSpecs describes the platform to build. Local QPUs get distinct seeds
// derived from Seed so that they do not produce identical samples.
func (c Config) QPUSpecs() ([]engine.QPUSpec, error) {
	if c.PlatformFile != "" {
		return loadPlatformFile(c.PlatformFile)
	}

	specs := make([]engine.QPUSpec, 0, c.NumQPUs+1)
	for i := range c.NumQPUs {
		opts := backend.Options{MaxQudits: c.MaxQubits}
		if c.Seed != 0 {
			opts.Seed = c.Seed + uint64(i)
		}
		specs = append(specs, engine.QPUSpec{Backend: statevector.BackendName, Options: opts})
	}
	if c.RemoteURL != "" {
		specs = append(specs, engine.QPUSpec{
			Backend: remote.BackendName,
			Options: backend.Options{Endpoint: c.RemoteURL},
		})
	}
	return specs, nil
}

func loadPlatformFile(path string) ([]engine.QPUSpec, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read platform file: %w", err)
	}
	var pf platformFile
	if err := yaml.Unmarshal(data, &pf); err != nil {
		return nil, fmt.Errorf("parse platform file %s: %w", path, err)
	}
	if len(pf.QPUs) == 0 {
		return nil, fmt.Errorf("platform file %s lists no qpus", path)
	}
	for i, spec := range pf.QPUs {
		if spec.Backend == "" {
			return nil, fmt.Errorf("platform file %s: qpu %d has no backend", path, i)
		}
	}
	return pf.QPUs, nil
}

func positiveEnv(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		return fallback
	}
	return n
}

func parseLogLevel(s string) slog.Level {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// NewLogger creates a structured JSON logger writing to w at the configured level.
func NewLogger(w io.Writer, level slog.Level) *slog.Logger {
	return slog.New(slog.NewJSONHandler(w, &slog.HandlerOptions{
		Level: level,
	}))
}
