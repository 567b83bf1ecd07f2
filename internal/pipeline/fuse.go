package pipeline

import "visionpipe/internal/vision"

// fuse rewrites the step sequence into an equivalent one with fewer,
// coarser steps. The only rule: a Normalize immediately followed by a
// HWC2CHW collapses into the fused NormalizeAndPermute, which does both
// in one pass and is the step the accelerated path binds to. Adjacent
// pairs only; never reorders.
func fuse(steps []vision.Step) []vision.Step {
	out := make([]vision.Step, 0, len(steps))
	for i := 0; i < len(steps); i++ {
		if n, ok := steps[i].(*vision.Normalize); ok && i+1 < len(steps) {
			if _, ok := steps[i+1].(vision.HWC2CHW); ok {
				out = append(out, vision.Fused(n))
				i++
				continue
			}
		}
		out = append(out, steps[i])
	}
	return out
}
