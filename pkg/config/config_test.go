package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/spf13/pflag"
)

func newFlags(t *testing.T, args ...string) *pflag.FlagSet {
	t.Helper()
	f := pflag.NewFlagSet("test", pflag.ContinueOnError)
	RegisterFlags(f)
	if err := f.Parse(args); err != nil {
		t.Fatalf("Parse() error = %v", err)
	}
	return f
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := LoadFile(filepath.Join(t.TempDir(), "missing.toml"), nil)
	if err != nil {
		t.Fatalf("LoadFile() error = %v", err)
	}

	if cfg.Radius != 1600 {
		t.Errorf("Expected default radius 1600, got %g", cfg.Radius)
	}
	if cfg.Steps != 64 || cfg.Neighbors != 2 || cfg.Reach != 10 {
		t.Errorf("Unexpected pipeline defaults: %+v", cfg)
	}
}

func TestLoadLayering(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "pugmark.toml")
	content := "radius = 800.0\nneighbors = 3\nport = 9000\n"
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	t.Setenv("PUGMARK_NEIGHBORS", "5")

	cfg, err := LoadFile(path, newFlags(t, "--port", "9100"))
	if err != nil {
		t.Fatalf("LoadFile() error = %v", err)
	}

	if cfg.Radius != 800 {
		t.Errorf("File should set radius to 800, got %g", cfg.Radius)
	}
	if cfg.Neighbors != 5 {
		t.Errorf("Env should override file neighbors, got %d", cfg.Neighbors)
	}
	if cfg.Port != 9100 {
		t.Errorf("Flag should override file port, got %d", cfg.Port)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{name: "defaults", mutate: func(*Config) {}},
		{name: "too few steps", mutate: func(c *Config) { c.Steps = 2 }, wantErr: true},
		{name: "negative reach", mutate: func(c *Config) { c.Reach = -1 }, wantErr: true},
		{name: "no workers", mutate: func(c *Config) { c.Workers = 0 }, wantErr: true},
		{name: "bad port in web mode", mutate: func(c *Config) { c.WebMode = true; c.Port = 0 }, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Config{Steps: 64, Neighbors: 2, Reach: 10, Workers: 4, Port: 8080}
			tt.mutate(&cfg)
			if err := cfg.Validate(); (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}
