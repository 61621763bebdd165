package diffusion

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"time"
)

// Conditioning holds encoder outputs for Rows prompts: Hidden is
// [Rows, Len, Dim] and Mask is [Rows, Len].
type Conditioning struct {
	Hidden []float32
	Mask   []int64
	Rows   int
	Len    int
	Dim    int
}

func (c Conditioning) validate(name string) error {
	if c.Rows < 1 || c.Len < 1 || c.Dim < 1 {
		return fmt.Errorf("%s conditioning has empty shape [%d, %d, %d]", name, c.Rows, c.Len, c.Dim)
	}
	if len(c.Hidden) != c.Rows*c.Len*c.Dim {
		return fmt.Errorf("%s hidden has %d values, want %d", name, len(c.Hidden), c.Rows*c.Len*c.Dim)
	}
	if len(c.Mask) != c.Rows*c.Len {
		return fmt.Errorf("%s mask has %d values, want %d", name, len(c.Mask), c.Rows*c.Len)
	}
	return nil
}

// repeatInterleave repeats every row n times, keeping row order.
func (c Conditioning) repeatInterleave(n int) Conditioning {
	if n == 1 {
		return c
	}
	hRow, mRow := c.Len*c.Dim, c.Len
	out := Conditioning{
		Hidden: make([]float32, 0, len(c.Hidden)*n),
		Mask:   make([]int64, 0, len(c.Mask)*n),
		Rows:   c.Rows * n,
		Len:    c.Len,
		Dim:    c.Dim,
	}
	for r := range c.Rows {
		for range n {
			out.Hidden = append(out.Hidden, c.Hidden[r*hRow:(r+1)*hRow]...)
			out.Mask = append(out.Mask, c.Mask[r*mRow:(r+1)*mRow]...)
		}
	}
	return out
}

func concat(a, b Conditioning) Conditioning {
	return Conditioning{
		Hidden: append(append(make([]float32, 0, len(a.Hidden)+len(b.Hidden)), a.Hidden...), b.Hidden...),
		Mask:   append(append(make([]int64, 0, len(a.Mask)+len(b.Mask)), a.Mask...), b.Mask...),
		Rows:   a.Rows + b.Rows,
		Len:    a.Len,
		Dim:    a.Dim,
	}
}

// LatentShape is the per-sample latent layout [C, H, W].
type LatentShape struct {
	Channels, Height, Width int
}

func (s LatentShape) size() int {
	return s.Channels * s.Height * s.Width
}

// Denoiser predicts the model output for a batch of latents
// [batch, C, H, W] at timestep t.
type Denoiser interface {
	Denoise(ctx context.Context, latents []float32, batch int, shape LatentShape, t int, cond Conditioning) ([]float32, error)
}

// ProgressFunc is called after each completed denoising step.
type ProgressFunc func(step, total int)

// Request describes one sampling run over len(prompts) = Cond.Rows prompts.
type Request struct {
	Cond Conditioning
	// Uncond holds the embeddings of the empty prompt, padded to Cond.Len.
	// Required when Guidance > 1.
	Uncond   *Conditioning
	Samples  int
	Steps    int
	Guidance float64
	Shape    LatentShape
	// Seed fixes the noise; 0 draws a random seed.
	Seed     uint64
	Progress ProgressFunc
}

// Result holds the final latents [Rows*Samples, C, H, W], grouped by prompt.
type Result struct {
	Latents []float32
	Batch   int
	Seed    uint64
}

var ErrMissingUncond = errors.New("classifier-free guidance requires unconditional embeddings")

// Sampler runs the reverse diffusion loop. It is not safe for concurrent
// use because the scheduler holds the current timesteps.
type Sampler struct {
	Scheduler *DDPMScheduler
	Denoiser  Denoiser
}

// Sample draws Gaussian latents and denoises them over req.Steps timesteps.
// With Guidance > 1 the denoiser sees [uncond; cond] stacked on the batch
// axis and the two halves are mixed as uncond + g*(cond-uncond).
func (s *Sampler) Sample(ctx context.Context, req Request) (Result, error) {
	if req.Samples < 1 {
		return Result{}, fmt.Errorf("samples must be >= 1, got %d", req.Samples)
	}
	if req.Shape.size() < 1 {
		return Result{}, fmt.Errorf("invalid latent shape %+v", req.Shape)
	}
	if err := req.Cond.validate("conditional"); err != nil {
		return Result{}, err
	}

	cfg := req.Guidance > 1
	cond := req.Cond.repeatInterleave(req.Samples)
	if cfg {
		if req.Uncond == nil {
			return Result{}, ErrMissingUncond
		}
		if err := req.Uncond.validate("unconditional"); err != nil {
			return Result{}, err
		}
		if req.Uncond.Rows != req.Cond.Rows || req.Uncond.Len != req.Cond.Len || req.Uncond.Dim != req.Cond.Dim {
			return Result{}, fmt.Errorf("unconditional shape [%d, %d, %d] does not match conditional [%d, %d, %d]",
				req.Uncond.Rows, req.Uncond.Len, req.Uncond.Dim, req.Cond.Rows, req.Cond.Len, req.Cond.Dim)
		}
		cond = concat(req.Uncond.repeatInterleave(req.Samples), cond)
	}

	if err := s.Scheduler.SetTimesteps(req.Steps); err != nil {
		return Result{}, err
	}

	seed := req.Seed
	if seed == 0 {
		seed = rand.Uint64() | 1
	}
	rng := rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))

	batch := req.Cond.Rows * req.Samples
	sigma := s.Scheduler.InitNoiseSigma()
	latents := make([]float32, batch*req.Shape.size())
	for i := range latents {
		latents[i] = float32(rng.NormFloat64() * sigma)
	}

	timesteps := s.Scheduler.Timesteps()
	start := time.Now()
	for i, t := range timesteps {
		if err := ctx.Err(); err != nil {
			return Result{}, fmt.Errorf("sampling interrupted at step %d/%d: %w", i, len(timesteps), err)
		}

		input, inBatch := latents, batch
		if cfg {
			input = append(append(make([]float32, 0, 2*len(latents)), latents...), latents...)
			inBatch = 2 * batch
		}

		out, err := s.Denoiser.Denoise(ctx, input, inBatch, req.Shape, t, cond)
		if err != nil {
			return Result{}, fmt.Errorf("denoise step %d (t=%d): %w", i, t, err)
		}
		if len(out) != len(input) {
			return Result{}, fmt.Errorf("denoise step %d (t=%d): got %d values, want %d", i, t, len(out), len(input))
		}

		if cfg {
			out = guide(out[:len(latents)], out[len(latents):], req.Guidance)
		}

		latents, err = s.Scheduler.Step(out, t, latents, rng)
		if err != nil {
			return Result{}, fmt.Errorf("scheduler step %d: %w", i, err)
		}

		if req.Progress != nil {
			req.Progress(i+1, len(timesteps))
		}
	}

	slog.Debug("sampling done", "steps", len(timesteps), "batch", batch, "guidance", req.Guidance, "elapsed", time.Since(start))

	return Result{Latents: latents, Batch: batch, Seed: seed}, nil
}

func guide(uncond, cond []float32, g float64) []float32 {
	out := make([]float32, len(cond))
	scale := float32(g)
	for i := range cond {
		out[i] = uncond[i] + scale*(cond[i]-uncond[i])
	}
	return out
}
