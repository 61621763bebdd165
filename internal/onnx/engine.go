package onnx

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
)

// Graph names of the exported Tango bundle.
const (
	GraphTextEncoder = "text_encoder"
	GraphUNet        = "unet"
	GraphVAEDecoder  = "vae_decoder"
	GraphVocoder     = "vocoder"
)

// RequiredGraphs lists the graphs an Engine needs to synthesize audio.
var RequiredGraphs = []string{GraphTextEncoder, GraphUNet, GraphVAEDecoder, GraphVocoder}

// Default latent layout of the Tango UNet: 8 channels, 256 frames, 16 bins.
const (
	DefaultLatentChannels = 8
	DefaultLatentHeight   = 256
	DefaultLatentWidth    = 16
)

var ErrMissingGraph = errors.New("graph not loaded")

// Engine owns one runner per graph of an exported bundle.
type Engine struct {
	runners map[string]GraphRunner
	latent  [3]int64
}

// NewEngine loads the manifest and opens an ORT session for every graph.
// All four Tango graphs must be present.
func NewEngine(manifestPath string, cfg RunnerConfig) (*Engine, error) {
	bundle, err := OpenBundle(manifestPath)
	if err != nil {
		return nil, err
	}
	if err := bundle.Require(RequiredGraphs...); err != nil {
		return nil, err
	}

	e := &Engine{
		runners: make(map[string]GraphRunner),
		latent:  defaultLatent(),
	}

	for _, s := range bundle.Graphs() {
		r, err := NewRunner(s, cfg)
		if err != nil {
			e.Close()
			return nil, err
		}
		e.runners[s.Name] = r
	}

	unet, _ := bundle.Graph(GraphUNet)
	e.latent = latentFromSession(unet)
	slog.Debug("onnx engine ready", "graphs", len(e.runners), "latent", e.latent)

	return e, nil
}

// Runner returns the runner for a graph.
func (e *Engine) Runner(name string) (GraphRunner, bool) {
	r, ok := e.runners[name]
	return r, ok
}

// LatentShape returns the (channels, height, width) of one latent sample.
func (e *Engine) LatentShape() (int64, int64, int64) {
	return e.latent[0], e.latent[1], e.latent[2]
}

// Close releases every runner. Safe to call more than once.
func (e *Engine) Close() {
	for name, r := range e.runners {
		r.Close()
		delete(e.runners, name)
	}
}

func (e *Engine) run(ctx context.Context, graph string, inputs map[string]*Tensor, output string) (*Tensor, error) {
	r, ok := e.runners[graph]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrMissingGraph, graph)
	}

	outputs, err := r.Run(ctx, inputs)
	if err != nil {
		return nil, err
	}

	if t, ok := outputs[output]; ok {
		return t, nil
	}
	// Exporters sometimes rename the single output; accept it regardless.
	if len(outputs) == 1 {
		for _, t := range outputs {
			return t, nil
		}
	}

	return nil, fmt.Errorf("%s: missing output %q", graph, output)
}

func defaultLatent() [3]int64 {
	return [3]int64{DefaultLatentChannels, DefaultLatentHeight, DefaultLatentWidth}
}

func latentFromSession(s Session) [3]int64 {
	latent := defaultLatent()

	in, ok := s.Input("sample")
	if !ok {
		return latent
	}
	dims := in.FixedDims()
	if len(dims) != 4 {
		return latent
	}
	for i := range 3 {
		if dims[i+1] > 0 {
			latent[i] = dims[i+1]
		}
	}
	return latent
}
