// Package toolconfig loads the optional per-invocation TOML defaults file
// spec.md §6.5 alludes to alongside the MAVIS_PATH/STF_DISASM environment
// variables: a place to pin chunk size, a default set of feature bits to
// disable, and a MAVIS path override without repeating them on every
// invocation's command line.
package toolconfig

import (
	"fmt"
	"os"

	"github.com/BurntSushi/toml"
)

// Config is the decoded shape of a defaults file, e.g.:
//
//	chunk_size = 65536
//	disable_features = ["process-id", "microop"]
//	mavis_path = "/opt/mavis"
type Config struct {
	ChunkSize       uint64   `toml:"chunk_size"`
	DisableFeatures []string `toml:"disable_features"`
	MavisPath       string   `toml:"mavis_path"`
}

// Load decodes path as TOML. An empty path is not an error — it returns a
// zero Config, so callers can unconditionally call Load on an optional
// --config flag left empty. A non-empty path that does not exist is an error.
func Load(path string) (*Config, error) {
	if path == "" {
		return &Config{}, nil
	}
	if _, err := os.Stat(path); err != nil {
		return nil, fmt.Errorf("toolconfig: %w", err)
	}
	var cfg Config
	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return nil, fmt.Errorf("toolconfig: decode %s: %w", path, err)
	}
	return &cfg, nil
}

// MavisPathOrEnv resolves the effective opcode-metadata path: an explicit config
// value wins, otherwise the MAVIS_PATH environment variable, per spec §6.5.
func (c *Config) MavisPathOrEnv() string {
	if c.MavisPath != "" {
		return c.MavisPath
	}
	return os.Getenv("MAVIS_PATH")
}
