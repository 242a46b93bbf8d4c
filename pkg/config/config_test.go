package config

import (
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/spf13/pflag"

	"github.com/ritzau/insight-graph/pkg/logging"
	"github.com/ritzau/insight-graph/pkg/model"
)

func flags(t *testing.T, args ...string) *pflag.FlagSet {
	t.Helper()
	f := pflag.NewFlagSet("insight-graph", pflag.ContinueOnError)
	RegisterFlags(f)
	if err := f.Parse(args); err != nil {
		t.Fatalf("Parse(%v) error = %v", args, err)
	}
	return f
}

func noFile(t *testing.T) string {
	return filepath.Join(t.TempDir(), "missing.toml")
}

func TestDefaults(t *testing.T) {
	cfg, err := load(flags(t), noFile(t))
	if err != nil {
		t.Fatalf("load() error = %v", err)
	}
	if cfg.DataDir != "example/data" || cfg.Port != 8080 || cfg.LogFormat != "compact" {
		t.Errorf("unexpected defaults: %+v", cfg)
	}
	if cfg.Graph.MinWeight != 0.3 || cfg.Graph.SemanticWeight != 0.6 || cfg.Graph.CorrelationWeight != 0.4 {
		t.Errorf("graph defaults = %+v", cfg.Graph)
	}
	if cfg.Clusters.Threshold != 0.1 || cfg.Clusters.HighCutoff != 0.5 {
		t.Errorf("cluster defaults = %+v", cfg.Clusters)
	}
	if cfg.Store.Kind != "none" || cfg.Store.Path != "insight-graph.snap" {
		t.Errorf("store defaults = %+v", cfg.Store)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("defaults should validate: %v", err)
	}
}

func TestLayering(t *testing.T) {
	path := filepath.Join(t.TempDir(), "insight-graph.toml")
	toml := `
data_dir = "from-file"
port = 9000
log_format = "json"

[graph]
min_weight = 0.5

[store]
kind = "file"
path = "file.snap"
`
	if err := os.WriteFile(path, []byte(toml), 0o644); err != nil {
		t.Fatal(err)
	}
	t.Setenv("INSIGHT_GRAPH_PORT", "9100")
	t.Setenv("INSIGHT_GRAPH_STORE__PATH", "env.snap")

	cfg, err := load(flags(t, "--data-dir", "from-flag", "-vv"), path)
	if err != nil {
		t.Fatalf("load() error = %v", err)
	}

	tests := []struct {
		name string
		got  any
		want any
	}{
		{"flag beats file", cfg.DataDir, "from-flag"},
		{"env beats file", cfg.Port, 9100},
		{"file beats default", cfg.LogFormat, "json"},
		{"nested file key", cfg.Graph.MinWeight, 0.5},
		{"untouched default", cfg.Graph.SemanticWeight, 0.6},
		{"nested env key", cfg.Store.Path, "env.snap"},
		{"file store kind", cfg.Store.Kind, "file"},
		{"count flag", cfg.VerboseCnt, 2},
	}
	for _, tt := range tests {
		if tt.got != tt.want {
			t.Errorf("%s: got %v, want %v", tt.name, tt.got, tt.want)
		}
	}
}

func TestValidate(t *testing.T) {
	base := func(t *testing.T) *Config {
		cfg, err := load(nil, noFile(t))
		if err != nil {
			t.Fatal(err)
		}
		return cfg
	}

	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"port zero", func(c *Config) { c.Port = 0 }},
		{"port too large", func(c *Config) { c.Port = 70000 }},
		{"weight above one", func(c *Config) { c.Graph.MinWeight = 1.5 }},
		{"blend not summing to one", func(c *Config) { c.Graph.SemanticWeight = 0.9 }},
		{"unknown store", func(c *Config) { c.Store.Kind = "s3" }},
		{"postgres without dsn", func(c *Config) { c.Store.Kind = "postgres" }},
		{"unknown log format", func(c *Config) { c.LogFormat = "xml" }},
		{"unknown verbosity", func(c *Config) { c.Verbosity = "loud" }},
		{"empty data dir", func(c *Config) { c.DataDir = "" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := base(t)
			tt.mutate(cfg)
			err := cfg.Validate()
			if !errors.Is(err, model.ErrValidation) {
				t.Errorf("Validate() = %v, want a validation error", err)
			}
		})
	}
}

func TestLogLevel(t *testing.T) {
	cfg := &Config{VerboseCnt: 1}
	if lvl, _ := cfg.LogLevel(); lvl != slog.LevelDebug {
		t.Errorf("-v level = %v", lvl)
	}
	cfg.Verbosity = "trace"
	if lvl, _ := cfg.LogLevel(); lvl != logging.LevelTrace {
		t.Errorf("verbosity beats -v: got %v", lvl)
	}
}

func TestOptions(t *testing.T) {
	cfg, err := load(flags(t, "--graph.min-weight", "0.4", "--graph.workers", "2"), noFile(t))
	if err != nil {
		t.Fatal(err)
	}
	e := cfg.EdgeOptions()
	if e.MinWeight != 0.4 || e.Workers != 2 || e.SemanticWeight != 0.6 {
		t.Errorf("EdgeOptions() = %+v", e)
	}
	c := cfg.ClusterOptions()
	if c.Threshold != 0.1 || c.MaxSummaries != 3 {
		t.Errorf("ClusterOptions() = %+v", c)
	}
	s := cfg.StoreOptions()
	if s.Kind != "none" || s.Path != "insight-graph.snap" {
		t.Errorf("StoreOptions() = %+v", s)
	}
}
