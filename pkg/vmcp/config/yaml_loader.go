// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// YAMLLoader reads a Config from a single YAML file on disk. Secret-bearing
// fields (bearer tokens) are stored as literal strings in the file; nothing
// here resolves `_env`-suffixed indirection, which is left to the outgoing
// auth strategy factory at connect time.
type YAMLLoader struct {
	path string
}

// NewYAMLLoader returns a loader bound to path.
func NewYAMLLoader(path string) *YAMLLoader {
	return &YAMLLoader{path: path}
}

// Load reads and parses path into a Config. It does not validate the result;
// callers should run it through a Validator before use.
func (l *YAMLLoader) Load() (*Config, error) {
	data, err := os.ReadFile(l.path)
	if err != nil {
		return nil, fmt.Errorf("reading vMCP config %q: %w", l.path, err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parsing vMCP config %q: %w", l.path, err)
	}
	return &cfg, nil
}
