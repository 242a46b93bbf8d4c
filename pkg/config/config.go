package config

import (
	"fmt"
	"log/slog"
	"strings"

	"github.com/knadh/koanf/parsers/toml/v2"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/posflag"
	"github.com/knadh/koanf/v2"
	"github.com/spf13/pflag"

	"github.com/ritzau/insight-graph/pkg/clusters"
	"github.com/ritzau/insight-graph/pkg/edges"
	"github.com/ritzau/insight-graph/pkg/logging"
	"github.com/ritzau/insight-graph/pkg/model"
	"github.com/ritzau/insight-graph/pkg/store"
	"github.com/ritzau/insight-graph/pkg/validation"
)

const (
	// FileName is the optional config file read from the working directory.
	FileName  = "insight-graph.toml"
	envPrefix = "INSIGHT_GRAPH_"
)

// Config holds all configuration for the application
type Config struct {
	DataDir    string `koanf:"data_dir" json:"data_dir" validate:"required"`
	Audiences  string `koanf:"audiences" json:"audiences"`
	WebMode    bool   `koanf:"web" json:"web"`
	Port       int    `koanf:"port" json:"port" validate:"min=1,max=65535"`
	Watch      bool   `koanf:"watch" json:"watch"`
	Summary    bool   `koanf:"summary" json:"summary"`
	Verbosity  string `koanf:"verbosity" json:"verbosity" validate:"omitempty,oneof=trace debug info warn error"`
	VerboseCnt int    `koanf:"verbose" json:"verbose" validate:"min=0"`
	LogFormat  string `koanf:"log_format" json:"log_format" validate:"oneof=compact json"`
	Follow     string `koanf:"follow" json:"follow"`

	Graph    GraphConfig    `koanf:"graph" json:"graph"`
	Clusters ClustersConfig `koanf:"clusters" json:"clusters"`
	Store    StoreConfig    `koanf:"store" json:"store"`
	Notify   NotifyConfig   `koanf:"notify" json:"notify"`
}

// GraphConfig controls edge construction.
type GraphConfig struct {
	MinWeight         float64 `koanf:"min_weight" json:"min_weight" validate:"gte=0,lte=1"`
	SemanticWeight    float64 `koanf:"semantic_weight" json:"semantic_weight" validate:"gte=0,lte=1"`
	CorrelationWeight float64 `koanf:"correlation_weight" json:"correlation_weight" validate:"gte=0,lte=1"`
	Workers           int     `koanf:"workers" json:"workers" validate:"min=0"`
}

// ClustersConfig controls insight clustering.
type ClustersConfig struct {
	Threshold  float64 `koanf:"threshold" json:"threshold" validate:"gte=0,lte=1"`
	HighCutoff float64 `koanf:"high_cutoff" json:"high_cutoff" validate:"gte=0,lte=1"`
}

// StoreConfig selects where snapshots are kept.
type StoreConfig struct {
	Kind string `koanf:"kind" json:"kind" validate:"oneof=none file postgres"`
	Path string `koanf:"path" json:"path"`
	DSN  string `koanf:"dsn" json:"dsn"`
}

// NotifyConfig configures the external activity publisher.
type NotifyConfig struct {
	NNGListen string `koanf:"nng_listen" json:"nng_listen"`
}

func defaults() map[string]interface{} {
	e := edges.DefaultOptions()
	c := clusters.DefaultOptions()
	return map[string]interface{}{
		"data_dir":   "example/data",
		"audiences":  "",
		"web":        false,
		"port":       8080,
		"watch":      false,
		"summary":    false,
		"verbosity":  "",
		"verbose":    0,
		"log_format": "compact",
		"follow":     "",
		"graph": map[string]interface{}{
			"min_weight":         e.MinWeight,
			"semantic_weight":    e.SemanticWeight,
			"correlation_weight": e.CorrelationWeight,
			"workers":            0,
		},
		"clusters": map[string]interface{}{
			"threshold":   c.Threshold,
			"high_cutoff": c.HighCutoff,
		},
		"store": map[string]interface{}{
			"kind": store.KindNone,
			"path": "insight-graph.snap",
			"dsn":  "",
		},
		"notify": map[string]interface{}{
			"nng_listen": "",
		},
	}
}

// Load loads configuration from defaults, config file, environment variables, and flags.
// Priority: Flags > Env > Config File > Defaults
func Load(f *pflag.FlagSet) (*Config, error) {
	return load(f, FileName)
}

func load(f *pflag.FlagSet, path string) (*Config, error) {
	k := koanf.New(".")

	// 1. Defaults
	if err := k.Load(makeMapProvider(defaults()), nil); err != nil {
		return nil, fmt.Errorf("failed to load defaults: %w", err)
	}

	// 2. Config File (optional) - insight-graph.toml
	// We ignore errors here as the file might not exist
	if err := k.Load(file.Provider(path), toml.Parser()); err != nil {
		logging.Debug("no config file loaded", "path", path, "error", err)
	}

	// 3. Environment Variables
	// Prefix: INSIGHT_GRAPH_ (e.g., INSIGHT_GRAPH_PORT=9090). A double
	// underscore separates sections: INSIGHT_GRAPH_GRAPH__MIN_WEIGHT.
	if err := k.Load(env.Provider(envPrefix, ".", envKey), nil); err != nil {
		return nil, fmt.Errorf("failed to load env vars: %w", err)
	}

	// 4. Flags
	if f != nil {
		if err := k.Load(posflag.Provider(f, ".", k), nil); err != nil {
			return nil, fmt.Errorf("failed to load flags: %w", err)
		}
	}

	// Unmarshal into struct
	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	return &cfg, nil
}

// envKey maps INSIGHT_GRAPH_STORE__KIND to store.kind and
// INSIGHT_GRAPH_DATA_DIR to data_dir.
func envKey(s string) string {
	s = strings.ToLower(strings.TrimPrefix(s, envPrefix))
	return strings.ReplaceAll(s, "__", ".")
}

// RegisterFlags defines the command-line flags Load understands.
func RegisterFlags(f *pflag.FlagSet) {
	f.SetNormalizeFunc(NormalizeFlagName)

	f.String("data-dir", "example/data", "Directory of record files (*.json)")
	f.String("audiences", "", "Audience table (YAML); empty uses the built-in table")
	f.Bool("web", false, "Serve the HTTP API")
	f.Int("port", 8080, "Port for the HTTP API (only used with --web)")
	f.Bool("watch", false, "Rebuild when record files or the audience table change")
	f.Bool("summary", false, "Print a summary report after the first build")
	f.String("verbosity", "", "Log level: trace, debug, info, warn, error")
	f.CountP("verbose", "v", "Increase verbosity (-v debug, -vv trace)")
	f.String("log-format", "compact", "Log format: compact or json")
	f.String("follow", "", "Follow the activity stream at this address instead of building")
	f.Float64("graph.min-weight", 0.3, "Minimum edge weight")
	f.Int("graph.workers", 0, "Edge builder workers (0 = GOMAXPROCS)")
	f.String("store.kind", store.KindNone, "Snapshot store: none, file or postgres")
	f.String("store.path", "insight-graph.snap", "Snapshot file (file store)")
	f.String("store.dsn", "", "Postgres connection string (postgres store)")
	f.String("notify.nng-listen", "", "Publish activity on this address, e.g. tcp://127.0.0.1:40899")
}

// NormalizeFlagName lets --data-dir and --graph.min-weight address the
// data_dir and graph.min_weight keys. Install it with
// FlagSet.SetNormalizeFunc before defining flags.
func NormalizeFlagName(_ *pflag.FlagSet, name string) pflag.NormalizedName {
	return pflag.NormalizedName(strings.ReplaceAll(name, "-", "_"))
}

// Validate checks ranges and cross-field constraints.
func (c *Config) Validate() error {
	if err := validation.Struct("config", c); err != nil {
		return err
	}
	if err := c.EdgeOptions().Validate(); err != nil {
		return model.Validationf("config", "graph: %v", err)
	}
	if c.Store.Kind == store.KindPostgres && c.Store.DSN == "" {
		return model.Validationf("config", "store.dsn is required for the postgres store")
	}
	return nil
}

// EdgeOptions returns the edge builder options.
func (c *Config) EdgeOptions() edges.Options {
	return edges.Options{
		MinWeight:         c.Graph.MinWeight,
		SemanticWeight:    c.Graph.SemanticWeight,
		CorrelationWeight: c.Graph.CorrelationWeight,
		Workers:           c.Graph.Workers,
	}
}

// ClusterOptions returns the clustering options.
func (c *Config) ClusterOptions() clusters.Options {
	o := clusters.DefaultOptions()
	o.Threshold = c.Clusters.Threshold
	o.HighCutoff = c.Clusters.HighCutoff
	return o
}

// StoreOptions returns the snapshot store selection.
func (c *Config) StoreOptions() store.Config {
	return store.Config{Kind: c.Store.Kind, Path: c.Store.Path, DSN: c.Store.DSN}
}

// LogLevel resolves the level: an explicit verbosity wins over -v counts.
func (c *Config) LogLevel() (slog.Level, error) {
	if c.Verbosity != "" {
		return logging.ParseLevel(c.Verbosity)
	}
	return logging.LevelFromVerbose(c.VerboseCnt), nil
}

// Helper to use map as a provider
type mapProvider struct {
	m map[string]interface{}
}

func makeMapProvider(m map[string]interface{}) *mapProvider {
	return &mapProvider{m: m}
}

func (p *mapProvider) Read() (map[string]interface{}, error) {
	return p.m, nil
}

func (p *mapProvider) ReadBytes() ([]byte, error) {
	return nil, fmt.Errorf("not implemented")
}
