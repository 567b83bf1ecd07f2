package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"visionpipe/internal/spec"
)

const SupportedSchema = "v1"

// LoadPreprocessSpec parses a preprocess YAML document and validates its
// schema_version. The transform op list keeps its document order.
func LoadPreprocessSpec(path string) (spec.File, error) {
	var cfg spec.File
	raw, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("read preprocess config: %w", err)
	}
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return cfg, fmt.Errorf("parse preprocess config %s: %w", path, err)
	}
	if cfg.SchemaVersion == "" {
		cfg.SchemaVersion = SupportedSchema
	}
	if cfg.SchemaVersion != SupportedSchema {
		return cfg, fmt.Errorf("preprocess schema_version %q not supported (want %q)", cfg.SchemaVersion, SupportedSchema)
	}
	return cfg, nil
}
