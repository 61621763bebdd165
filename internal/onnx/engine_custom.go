package onnx

import (
	"context"
	"maps"
)

// GraphRunner is the minimal runner contract required by Engine methods.
// Tests substitute stubs for the ORT-backed Runner.
type GraphRunner interface {
	Run(ctx context.Context, inputs map[string]*Tensor) (map[string]*Tensor, error)
	Name() string
	Close()
}

var _ GraphRunner = (*Runner)(nil)

// NewEngineWithRunners builds an Engine from externally provided graph runners
// using the default latent layout.
func NewEngineWithRunners(runners map[string]GraphRunner) *Engine {
	internal := make(map[string]GraphRunner, len(runners))
	maps.Copy(internal, runners)

	return &Engine{runners: internal, latent: defaultLatent()}
}

// WithLatentShape overrides the latent layout; used with custom runners.
func (e *Engine) WithLatentShape(c, h, w int64) *Engine {
	e.latent = [3]int64{c, h, w}
	return e
}
