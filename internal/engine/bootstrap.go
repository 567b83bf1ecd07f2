package engine

import (
	"fmt"

	"visionpipe/internal/config"
	"visionpipe/internal/device"
	"visionpipe/internal/pipeline"
	"visionpipe/internal/telemetry"
)

// Bootstrap wires a preprocessor from the engine configuration.
func Bootstrap(cfg config.Engine) (*Engine, error) {
	if cfg.Preprocess == "" {
		return nil, fmt.Errorf("engine config: preprocess path is required")
	}

	// 1. accelerator runtime, if one is configured and compiled in
	var rt device.Runtime
	if cfg.Device.Runtime != "" {
		var err error
		rt, err = device.NewRuntime(cfg.Device.Runtime)
		if err != nil {
			return nil, fmt.Errorf("device: %w", err)
		}
	}
	dev := device.NewContext(rt)

	// 2. preprocessor
	pre, err := pipeline.New(cfg.Preprocess,
		pipeline.WithDevice(dev),
		pipeline.WithWorkers(cfg.Workers),
	)
	if err != nil {
		return nil, fmt.Errorf("pipeline: %w", err)
	}
	if cfg.Device.Enabled {
		pre.UseDevice(cfg.Device.ID)
	}

	// 3. metrics
	if cfg.MetricsPort > 0 {
		telemetry.Expose(cfg.MetricsPort)
	}

	return &Engine{pre: pre}, nil
}
