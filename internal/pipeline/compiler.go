package pipeline

import (
	"fmt"
	"math"

	"visionpipe/internal/spec"
	"visionpipe/internal/vision"
)

// canonicalScale is the only supported NormalizeImage scale: pixels come
// in as [0,255] and leave as [0,1] before mean/std.
const (
	canonicalScale = 0.00392157 // 1/255
	scaleTolerance = 1e-6
)

// buildSteps translates the ordered transform ops into an executable step
// sequence. The BGR→RGB conversion is always prepended; it is a fixed
// property of the pipeline, not a configurable op.
func buildSteps(ops []spec.Op, disableNormalize, disablePermute bool) ([]vision.Step, error) {
	steps := []vision.Step{vision.BGR2RGB{}}

	for i, op := range ops {
		switch op.Name {
		case "ResizeImage":
			short, err := op.Params.Int("resize_short")
			if err != nil {
				return nil, fmt.Errorf("op %d (%s): %w", i, op.Name, err)
			}
			steps = append(steps, vision.NewResizeByShort(short))

		case "CropImage":
			size, err := op.Params.Int("size")
			if err != nil {
				return nil, fmt.Errorf("op %d (%s): %w", i, op.Name, err)
			}
			steps = append(steps, vision.NewCenterCrop(size, size))

		case "NormalizeImage":
			if disableNormalize {
				continue
			}
			mean, err := op.Params.Floats("mean")
			if err != nil {
				return nil, fmt.Errorf("op %d (%s): %w", i, op.Name, err)
			}
			std, err := op.Params.Floats("std")
			if err != nil {
				return nil, fmt.Errorf("op %d (%s): %w", i, op.Name, err)
			}
			scale, err := op.Params.Float("scale")
			if err != nil {
				return nil, fmt.Errorf("op %d (%s): %w", i, op.Name, err)
			}
			if math.Abs(scale-canonicalScale) > scaleTolerance {
				return nil, fmt.Errorf("op %d (%s): scale %v not supported, only %v (pixels in [0,255])",
					i, op.Name, scale, canonicalScale)
			}
			steps = append(steps, vision.NewNormalize(mean, std, float32(scale)))

		case "ToCHWImage":
			if disablePermute {
				continue
			}
			steps = append(steps, vision.HWC2CHW{})

		default:
			return nil, fmt.Errorf("op %d: unsupported preprocess operator %q", i, op.Name)
		}
	}

	return steps, nil
}
