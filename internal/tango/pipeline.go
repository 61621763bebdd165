package tango

import (
	"context"

	"github.com/example/go-tango/internal/diffusion"
)

// Params controls one pipeline invocation over a chunk of prompts.
type Params struct {
	Steps    int
	Guidance float64
	Samples  int
	Seed     uint64
	Progress diffusion.ProgressFunc
}

// Pipeline abstracts the text → latents → mel → waveform chain so the
// service can be exercised without ONNX Runtime. Run returns
// len(prompts)*Samples waveforms grouped by prompt.
type Pipeline interface {
	Run(ctx context.Context, prompts []string, p Params) ([][]float32, error)
	Close()
}
