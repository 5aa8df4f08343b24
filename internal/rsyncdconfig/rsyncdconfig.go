// Package rsyncdconfig loads the named-module table an operator may point
// --config at, instead of naming a single path on the command line.
package rsyncdconfig

import (
	"fmt"

	"github.com/BurntSushi/toml"
)

// Module maps a name to a directory tree, for command lines that request
// it by name (e.g. over an SSH-invoked --server) rather than by path.
type Module struct {
	Name     string `toml:"name"`
	Path     string `toml:"path"`
	Writable bool   `toml:"writable"`
}

// Config is the top-level shape of a config file: a list of modules.
type Config struct {
	Modules []Module `toml:"module"`
}

// LoadFile parses path as TOML into a Config.
func LoadFile(path string) (*Config, error) {
	var cfg Config
	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return nil, fmt.Errorf("rsyncdconfig: %w", err)
	}
	for _, mod := range cfg.Modules {
		if mod.Name == "" {
			return nil, fmt.Errorf("rsyncdconfig: module with empty name in %s", path)
		}
		if mod.Path == "" {
			return nil, fmt.Errorf("rsyncdconfig: module %q has empty path in %s", mod.Name, path)
		}
	}
	return &cfg, nil
}
