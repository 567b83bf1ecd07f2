package engine

import (
	"visionpipe/internal/pipeline"
)

// Engine bundles the wired components of a running preprocessor instance.
type Engine struct {
	pre *pipeline.Preprocessor
}

// Preprocessor returns the built preprocessor.
func (e *Engine) Preprocessor() *pipeline.Preprocessor {
	return e.pre
}
