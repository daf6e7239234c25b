// SPDX-License-Identifier: AGPL-3.0-or-later

// Package config loads cargograph's CLI configuration file: default paths
// for the metadata document and the Determinator rules document, the
// default Hakari package name, the default platform triples to evaluate
// against, and the default IncludeDev setting. A top-level struct with yaml.v3 tags and a typed
// not-found error.
package config

import (
	"errors"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// ErrConfigNotFound is returned by Load when the given path does not exist.
var ErrConfigNotFound = errors.New("config: file not found")

// Config is cargograph's on-disk configuration file.
type Config struct {
	// MetadataPath is the default `cargo metadata`-style JSON document to
	// ingest when none is given on the command line.
	MetadataPath string `yaml:"metadata_path"`
	// RulesPath is the default Determinator rules document.
	RulesPath string `yaml:"rules_path,omitempty"`
	// HakariPackage is the workspace member name treated as the Hakari
	// unification target, if any.
	HakariPackage string `yaml:"hakari_package,omitempty"`
	// Platforms lists the default target triples evaluated when a command
	// doesn't specify one explicitly.
	Platforms []string `yaml:"platforms,omitempty"`
	// IncludeDev is the default value for feature-resolution's IncludeDev.
	IncludeDev bool `yaml:"include_dev,omitempty"`
}

// Default returns the configuration used when no config file is present.
func Default() *Config {
	return &Config{
		MetadataPath: "metadata.json",
		RulesPath:    "determinator-rules.toml",
	}
}

// Load reads and parses a YAML configuration file at path. A missing file
// is reported as ErrConfigNotFound (checkable with errors.Is), not folded
// into a generic read error.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", ErrConfigNotFound, path)
		}
		return nil, fmt.Errorf("config: reading %s: %w", path, err)
	}

	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("config: parsing %s: %w", path, err)
	}
	return cfg, nil
}
