package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"
)

// decoders maps a file extension to its parser.
var decoders = map[string]func([]byte) (Config, error){
	".yaml": FromYAML,
	".yml":  FromYAML,
	".json": FromJSON,
	".toml": FromTOML,
}

// FromFile loads one file, choosing the format by extension
// (.yaml, .yml, .json or .toml).
func FromFile(path string) (Config, error) {
	decode, ok := decoders[strings.ToLower(filepath.Ext(path))]
	if !ok {
		return Config{}, fmt.Errorf("unsupported config file extension: %s", filepath.Ext(path))
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("read config file: %w", err)
	}
	cfg, err := decode(data)
	if err != nil {
		return Config{}, fmt.Errorf("%s: %w", path, err)
	}
	return cfg, nil
}

// FromFiles loads and merges files in order; later files override earlier
// ones. Empty paths are skipped.
func FromFiles(paths ...string) (Config, error) {
	merged := New(nil)
	for _, path := range paths {
		if path == "" {
			continue
		}
		cfg, err := FromFile(path)
		if err != nil {
			return Config{}, err
		}
		merged = merged.Merge(cfg)
	}
	return merged, nil
}

// FromYAML parses YAML data into a Config.
func FromYAML(data []byte) (Config, error) {
	var m map[string]any
	if err := yaml.Unmarshal(data, &m); err != nil {
		return Config{}, fmt.Errorf("parse yaml: %w", err)
	}
	return New(m), nil
}

// FromJSON parses JSON data into a Config.
func FromJSON(data []byte) (Config, error) {
	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		return Config{}, fmt.Errorf("parse json: %w", err)
	}
	return New(m), nil
}

// FromTOML parses TOML data into a Config.
func FromTOML(data []byte) (Config, error) {
	var m map[string]any
	if _, err := toml.Decode(string(data), &m); err != nil {
		return Config{}, fmt.Errorf("parse toml: %w", err)
	}
	return New(m), nil
}
