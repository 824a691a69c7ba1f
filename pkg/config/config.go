package config

import (
	"fmt"
	"strings"

	"github.com/knadh/koanf/parsers/toml/v2"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/posflag"
	"github.com/knadh/koanf/v2"
	"github.com/spf13/pflag"
)

// FileName is the optional config file looked up in the working directory.
const FileName = "pugmark.toml"

// EnvPrefix prefixes environment overrides, e.g. PUGMARK_PORT=9090.
const EnvPrefix = "PUGMARK_"

// Config holds all configuration for the application
type Config struct {
	Parcels string `koanf:"parcels"` // parcel GeoJSON, optionally .zst
	Nodes   string `koanf:"nodes"`   // node JSON array to import at start
	Out     string `koanf:"out"`     // write merged islands GeoJSON here

	WebMode bool `koanf:"web"`
	Port    int  `koanf:"port"`
	Watch   bool `koanf:"watch"`

	Radius    float64 `koanf:"radius"`    // default node radius in meters
	Steps     int     `koanf:"steps"`     // circle discretization
	Neighbors int     `koanf:"neighbors"` // k for the centroid graph
	Reach     float64 `koanf:"reach"`     // max neighbor distance in coordinate units
	Split     bool    `koanf:"split"`     // one pipeline per boundary part
	Workers   int     `koanf:"workers"`   // parallel boundary pipelines

	Verbosity  string `koanf:"verbosity"`
	VerboseCnt int    `koanf:"verbose"`
	JSONLogs   bool   `koanf:"json"`
}

// Defaults returns the built-in configuration values.
func Defaults() map[string]interface{} {
	return map[string]interface{}{
		"parcels":   "",
		"nodes":     "",
		"out":       "",
		"web":       false,
		"port":      8080,
		"watch":     false,
		"radius":    1600.0,
		"steps":     64,
		"neighbors": 2,
		"reach":     10.0,
		"split":     false,
		"workers":   4,
		"verbosity": "",
		"verbose":   0,
		"json":      false,
	}
}

// Load loads configuration from defaults, config file, environment variables, and flags.
// Priority: Flags > Env > Config File > Defaults
func Load(f *pflag.FlagSet) (*Config, error) {
	return LoadFile(FileName, f)
}

// LoadFile is Load with an explicit config file path.
func LoadFile(path string, f *pflag.FlagSet) (*Config, error) {
	k := koanf.New(".")

	if err := k.Load(makeMapProvider(Defaults()), nil); err != nil {
		return nil, fmt.Errorf("failed to load defaults: %w", err)
	}

	// The file is optional
	_ = k.Load(file.Provider(path), toml.Parser())

	if err := k.Load(env.Provider(EnvPrefix, ".", func(s string) string {
		return strings.ToLower(strings.TrimPrefix(s, EnvPrefix))
	}), nil); err != nil {
		return nil, fmt.Errorf("failed to load env vars: %w", err)
	}

	if f != nil {
		if err := k.Load(posflag.Provider(f, ".", k), nil); err != nil {
			return nil, fmt.Errorf("failed to load flags: %w", err)
		}
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// Validate rejects values the pipeline cannot run with.
func (c *Config) Validate() error {
	switch {
	case c.Steps < 3:
		return fmt.Errorf("invalid config: steps must be at least 3, got %d", c.Steps)
	case c.Neighbors < 0:
		return fmt.Errorf("invalid config: neighbors must not be negative, got %d", c.Neighbors)
	case c.Reach < 0:
		return fmt.Errorf("invalid config: reach must not be negative, got %g", c.Reach)
	case c.Workers < 1:
		return fmt.Errorf("invalid config: workers must be at least 1, got %d", c.Workers)
	case c.WebMode && (c.Port <= 0 || c.Port > 65535):
		return fmt.Errorf("invalid config: port out of range: %d", c.Port)
	}
	return nil
}

// RegisterFlags declares the command-line flags understood by Load.
func RegisterFlags(f *pflag.FlagSet) {
	f.String("parcels", "", "Parcel GeoJSON file (.geojson, .json, optionally .zst)")
	f.String("nodes", "", "Node JSON array to import")
	f.String("out", "", "Write merged islands as GeoJSON to this file")
	f.Bool("web", false, "Start the HTTP API instead of printing a report")
	f.Int("port", 8080, "Port for the HTTP API (only used with --web)")
	f.Bool("watch", false, "Reload node and parcel files when they change")
	f.Float64("radius", 1600, "Default node radius in meters")
	f.Int("steps", 64, "Segments per influence circle")
	f.Int("neighbors", 2, "Nearest neighbors per parcel centroid")
	f.Float64("reach", 10, "Maximum neighbor distance in coordinate units")
	f.Bool("split", false, "Run one pipeline per influence boundary part")
	f.Int("workers", 4, "Parallel boundary pipelines")
	f.String("verbosity", "", "Log level: trace, debug, info, warn, error")
	f.CountP("verbose", "v", "Increase log verbosity (-v debug, -vv trace)")
	f.Bool("json", false, "Log as JSON")
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
