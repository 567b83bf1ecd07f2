package config

import (
	"errors"
	"fmt"
	"io/fs"
	"path/filepath"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

type DeviceCfg struct {
	Runtime string `koanf:"runtime"` // registered accelerator runtime, "" = none
	Enabled bool   `koanf:"enabled"`
	ID      int    `koanf:"id"`
}

type Engine struct {
	Preprocess  string    `koanf:"preprocess"` // path to the preprocess spec
	Workers     int       `koanf:"workers"`    // images processed concurrently per Run
	MetricsPort int       `koanf:"metrics_port"`
	Device      DeviceCfg `koanf:"device"`
}

// ---------------------------------------------------------------------------
// Loader
// ---------------------------------------------------------------------------

// LoadEngineConfig merges YAML (if present) with env-vars
// (prefix `VISIONPIPE__`, delimiter `__`).
func LoadEngineConfig(path string) (Engine, error) {
	k := koanf.New(".")
	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil &&
			!errors.Is(err, fs.ErrNotExist) {
			return Engine{}, err
		}
	}
	sv := k.String("schema_version")
	if sv != "" && sv != SupportedSchema {
		return Engine{}, fmt.Errorf("engine schema_version %q not supported (want %s)", sv, SupportedSchema)
	}

	_ = k.Load(env.Provider("VISIONPIPE__", "__", nil), nil)

	var cfg Engine
	if err := k.Unmarshal("", &cfg); err != nil {
		return cfg, err
	}
	applyDefaults(&cfg)

	// resolve the preprocess spec relative to the engine config file
	if cfg.Preprocess != "" && path != "" && !filepath.IsAbs(cfg.Preprocess) {
		cfg.Preprocess = filepath.Join(filepath.Dir(path), cfg.Preprocess)
	}
	return cfg, nil
}

// ---------------------------------------------------------------------------
// defaults
// ---------------------------------------------------------------------------

func applyDefaults(c *Engine) {
	if c.Workers <= 0 {
		c.Workers = 1
	}
	if c.Device.ID == 0 && !c.Device.Enabled {
		// -1 marks "no device selected"; Run stamps it on the output tensor.
		c.Device.ID = -1
	}
}
