// Package config reads /etc/modules.toml: where to look for module
// objects and which default options apply to a given module.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"os"

	"github.com/mitchellh/go-homedir"
	"github.com/pelletier/go-toml/v2"

	"github.com/conn-castle/modutils/internal/messages"
)

// DefaultPath is where the config lives unless overridden.
const DefaultPath = "/etc/modules.toml"

// releaseToken in a search path is replaced with the running kernel's
// release string.
const releaseToken = "%k"

// ErrConfigValidation wraps config validation failures, as opposed to
// TOML syntax or filesystem errors.
var ErrConfigValidation = errors.New("config validation failed")

// Options are per-module defaults applied before command-line flags.
type Options struct {
	Autoclean *bool    `toml:"autoclean"`
	Force     *bool    `toml:"force"`
	Prefix    string   `toml:"prefix"`
	Args      []string `toml:"args"`
}

// Config is the full modules.toml content.
type Config struct {
	// Path lists directories searched for bare module names, in order.
	// Entries may start with ~ and may contain %k for the kernel release.
	Path []string `toml:"path"`

	// Options maps a module name to its default options.
	Options map[string]Options `toml:"options"`
}

// Default returns the built-in configuration used when no file exists.
func Default() *Config {
	return &Config{
		Path: []string{
			"/lib/modules/" + releaseToken,
			"/lib/modules/" + releaseToken + "/misc",
		},
	}
}

// Load reads and validates the config at path. A missing file at the
// default location falls back to Default; a missing file anywhere else
// is an error.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) && path == DefaultPath {
			return Default(), nil
		}
		return nil, fmt.Errorf(messages.ConfigMissingFileFmt, path, err)
	}
	return Parse(data, path)
}

// Parse decodes and validates TOML config data. source is used in error
// messages.
func Parse(data []byte, source string) (*Config, error) {
	var cfg Config
	if err := toml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf(messages.ConfigInvalidConfigFmt, source, err)
	}
	if err := decodeStrict(data); err != nil {
		return nil, fmt.Errorf("%w: "+messages.ConfigUnrecognizedKeysFmt, ErrConfigValidation, source, err)
	}
	if len(cfg.Path) == 0 {
		cfg.Path = Default().Path
	}
	return &cfg, nil
}

// decodeStrict re-decodes with unknown-field rejection to catch keys
// toml.Unmarshal silently ignores.
func decodeStrict(data []byte) error {
	var cfg Config
	decoder := toml.NewDecoder(bytes.NewReader(data))
	decoder.DisallowUnknownFields()
	return decoder.Decode(&cfg)
}

// SearchPaths expands the configured path entries for the given kernel
// release: ~ expansion plus %k substitution.
func (c *Config) SearchPaths(release string) ([]string, error) {
	out := make([]string, 0, len(c.Path))
	for _, p := range c.Path {
		expanded, err := homedir.Expand(p)
		if err != nil {
			return nil, fmt.Errorf(messages.ConfigExpandPathFmt, p, err)
		}
		out = append(out, replaceToken(expanded, release))
	}
	return out, nil
}

// replaceToken substitutes every %k in p with release.
func replaceToken(p, release string) string {
	var b []byte
	for i := 0; i < len(p); i++ {
		if p[i] == '%' && i+1 < len(p) && p[i+1] == 'k' {
			b = append(b, release...)
			i++
			continue
		}
		b = append(b, p[i])
	}
	return string(b)
}

// ModuleOptions returns the defaults configured for name, if any.
func (c *Config) ModuleOptions(name string) (Options, bool) {
	opts, ok := c.Options[name]
	return opts, ok
}
