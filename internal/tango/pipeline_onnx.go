package tango

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/example/go-tango/internal/diffusion"
	"github.com/example/go-tango/internal/onnx"
	"github.com/example/go-tango/internal/tokenizer"
)

type onnxPipeline struct {
	engine      *onnx.Engine
	tokenizer   *tokenizer.T5
	scheduler   diffusion.SchedulerConfig
	latentScale float32
}

var _ diffusion.Denoiser = (*onnxPipeline)(nil)

func newONNXPipeline(engine *onnx.Engine, tok *tokenizer.T5, sched diffusion.SchedulerConfig, latentScale float32) (*onnxPipeline, error) {
	if engine == nil || tok == nil {
		return nil, errors.New("engine and tokenizer are required")
	}
	if err := sched.Validate(); err != nil {
		return nil, fmt.Errorf("scheduler config: %w", err)
	}
	if latentScale <= 0 {
		return nil, fmt.Errorf("latent scale must be > 0, got %g", latentScale)
	}

	return &onnxPipeline{
		engine:      engine,
		tokenizer:   tok,
		scheduler:   sched,
		latentScale: latentScale,
	}, nil
}

func (p *onnxPipeline) Run(ctx context.Context, prompts []string, params Params) ([][]float32, error) {
	start := time.Now()

	condTokens, err := p.tokenizer.EncodeBatch(prompts)
	if err != nil {
		return nil, fmt.Errorf("tokenize prompts: %w", err)
	}
	cond, err := p.encode(ctx, condTokens)
	if err != nil {
		return nil, err
	}

	var uncond *diffusion.Conditioning
	if params.Guidance > 1 {
		uncondTokens, err := p.unconditional(len(prompts), condTokens.Len)
		if err != nil {
			return nil, err
		}
		u, err := p.encode(ctx, uncondTokens)
		if err != nil {
			return nil, err
		}
		uncond = &u
	}

	// A fresh scheduler per run keeps concurrent runs independent.
	sched, err := diffusion.NewDDPMScheduler(p.scheduler)
	if err != nil {
		return nil, err
	}

	c, h, w := p.engine.LatentShape()
	shape := diffusion.LatentShape{Channels: int(c), Height: int(h), Width: int(w)}

	sampler := diffusion.Sampler{Scheduler: sched, Denoiser: p}
	res, err := sampler.Sample(ctx, diffusion.Request{
		Cond:     cond,
		Uncond:   uncond,
		Samples:  params.Samples,
		Steps:    params.Steps,
		Guidance: params.Guidance,
		Shape:    shape,
		Seed:     params.Seed,
		Progress: params.Progress,
	})
	if err != nil {
		return nil, err
	}

	waves, err := p.decode(ctx, res.Latents, res.Batch, shape)
	if err != nil {
		return nil, err
	}

	slog.Debug("pipeline run",
		"prompts", len(prompts),
		"samples", params.Samples,
		"steps", params.Steps,
		"seed", res.Seed,
		"duration_ms", time.Since(start).Milliseconds(),
	)

	return waves, nil
}

// unconditional builds n empty prompts padded to length tokens.
func (p *onnxPipeline) unconditional(n, length int) (tokenizer.Batch, error) {
	ids, err := p.tokenizer.Encode("")
	if err != nil {
		return tokenizer.Batch{}, fmt.Errorf("tokenize unconditional prompt: %w", err)
	}
	rows := make([][]int64, n)
	for i := range rows {
		rows[i] = ids
	}
	return tokenizer.PadRows(rows, length), nil
}

func (p *onnxPipeline) encode(ctx context.Context, b tokenizer.Batch) (diffusion.Conditioning, error) {
	hidden, err := p.engine.EncodeText(ctx, b.IDs, b.Mask, b.Rows, b.Len)
	if err != nil {
		return diffusion.Conditioning{}, fmt.Errorf("encode text: %w", err)
	}
	shape := hidden.Shape()
	if shape[1] != int64(b.Len) {
		return diffusion.Conditioning{}, fmt.Errorf("encode text: sequence length %d, want %d", shape[1], b.Len)
	}
	data, err := onnx.ExtractFloat32(hidden)
	if err != nil {
		return diffusion.Conditioning{}, fmt.Errorf("encode text: %w", err)
	}

	return diffusion.Conditioning{
		Hidden: data,
		Mask:   b.Mask,
		Rows:   b.Rows,
		Len:    b.Len,
		Dim:    int(shape[2]),
	}, nil
}

// Denoise runs the UNet on one batch of latents.
func (p *onnxPipeline) Denoise(ctx context.Context, latents []float32, batch int, shape diffusion.LatentShape, t int, cond diffusion.Conditioning) ([]float32, error) {
	sample, err := onnx.NewTensor(latents, latentDims(batch, shape))
	if err != nil {
		return nil, fmt.Errorf("unet sample: %w", err)
	}
	hidden, err := onnx.NewTensor(cond.Hidden, []int64{int64(cond.Rows), int64(cond.Len), int64(cond.Dim)})
	if err != nil {
		return nil, fmt.Errorf("unet encoder_hidden_states: %w", err)
	}

	out, err := p.engine.PredictNoise(ctx, sample, int64(t), hidden, cond.Mask)
	if err != nil {
		return nil, err
	}
	return onnx.ExtractFloat32(out)
}

func (p *onnxPipeline) decode(ctx context.Context, latents []float32, batch int, shape diffusion.LatentShape) ([][]float32, error) {
	scaled := make([]float32, len(latents))
	for i, v := range latents {
		scaled[i] = v * p.latentScale
	}

	z, err := onnx.NewTensor(scaled, latentDims(batch, shape))
	if err != nil {
		return nil, fmt.Errorf("vae latents: %w", err)
	}
	mel, err := p.engine.DecodeLatents(ctx, z)
	if err != nil {
		return nil, fmt.Errorf("decode latents: %w", err)
	}
	waves, err := p.engine.Vocode(ctx, mel)
	if err != nil {
		return nil, fmt.Errorf("vocode: %w", err)
	}
	return waves, nil
}

func (p *onnxPipeline) Close() {
	if p.engine != nil {
		p.engine.Close()
	}
}

func latentDims(batch int, shape diffusion.LatentShape) []int64 {
	return []int64{int64(batch), int64(shape.Channels), int64(shape.Height), int64(shape.Width)}
}
