// Package tango generates audio from text prompts with the Tango latent
// diffusion model: FLAN-T5 conditioning, DDPM sampling over the UNet, VAE
// decoding to a mel spectrogram and HiFi-GAN vocoding.
package tango

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/example/go-tango/internal/audio"
	"github.com/example/go-tango/internal/config"
	"github.com/example/go-tango/internal/model"
	"github.com/example/go-tango/internal/onnx"
	"github.com/example/go-tango/internal/text"
	"github.com/example/go-tango/internal/tokenizer"
)

// Options controls a generation call. Zero fields take the service defaults.
// A Guidance of exactly 1 disables classifier-free guidance; values between
// 0 and 1 are rejected with ErrInvalidGuidance.
type Options struct {
	Steps     int
	Guidance  float64
	Samples   int
	BatchSize int
	Seed      uint64
	// StepProgress is called after every denoising step of every chunk.
	StepProgress func(step, total int)
}

// ErrInvalidGuidance is returned for a negative guidance scale or one
// between 0 (use the default) and 1 (no guidance).
var ErrInvalidGuidance = errors.New("guidance must be 0 (default) or >= 1")

// BatchProgress reports how many prompts have been generated so far.
type BatchProgress func(done, total int)

// Info describes the loaded checkpoint.
type Info struct {
	Repo     string
	ModelDir string
	// ModelSampleRate is the STFT sampling rate of the vocoder output.
	ModelSampleRate int
}

type Service struct {
	pipeline Pipeline
	info     Info
	gen      config.GenerateConfig
}

// New loads the checkpoint configs, the FLAN-T5 tokenizer and the exported
// ONNX graphs, and returns a ready Service.
func New(cfg config.Config) (*Service, error) {
	ckpt, err := model.LoadCheckpoint(cfg.Paths.ModelDir)
	if err != nil {
		return nil, err
	}

	sp, err := tokenizer.LoadSpiece(cfg.Paths.TokenizerModel)
	if err != nil {
		return nil, err
	}
	t5, err := tokenizer.NewT5(sp, cfg.Generate.MaxTextTokens)
	if err != nil {
		return nil, err
	}

	rt, err := onnx.Bootstrap(cfg.Runtime)
	if err != nil {
		return nil, err
	}
	engine, err := onnx.NewEngine(cfg.Paths.ONNXManifest, rt.RunnerConfig(cfg.Runtime))
	if err != nil {
		return nil, err
	}

	pipeline, err := newONNXPipeline(engine, t5, ckpt.Scheduler, ckpt.LatentScale())
	if err != nil {
		engine.Close()
		return nil, err
	}

	slog.Info("loaded checkpoint",
		"repo", cfg.HF.Repo,
		"model_dir", ckpt.Dir,
		"scheduler", ckpt.Main.SchedulerName,
		"sample_rate", ckpt.STFT.SamplingRate,
	)

	svc := NewWithPipeline(pipeline, Info{
		Repo:            cfg.HF.Repo,
		ModelDir:        ckpt.Dir,
		ModelSampleRate: ckpt.STFT.SamplingRate,
	})
	return svc.WithDefaults(cfg.Generate), nil
}

// NewWithPipeline wraps an existing pipeline with the default generation
// settings.
func NewWithPipeline(p Pipeline, info Info) *Service {
	return &Service{
		pipeline: p,
		info:     info,
		gen:      config.DefaultConfig().Generate,
	}
}

// WithDefaults replaces the settings used for zero Options fields.
func (s *Service) WithDefaults(gen config.GenerateConfig) *Service {
	s.gen = gen
	return s
}

func (s *Service) Info() Info {
	return s.info
}

// SampleRate is the rate written to WAV headers: the configured override,
// or the model's STFT rate.
func (s *Service) SampleRate() int {
	if s.gen.SampleRate > 0 {
		return s.gen.SampleRate
	}
	return s.info.ModelSampleRate
}

// SampleWidth is the configured WAV sample width in bytes.
func (s *Service) SampleWidth() int {
	if s.gen.SampleWidth > 0 {
		return s.gen.SampleWidth
	}
	return 2
}

// Generate produces audio for a single prompt and returns the first of the
// generated samples.
func (s *Service) Generate(ctx context.Context, prompt string, opts Options) ([]float32, error) {
	prompt, err := text.NormalizePrompt(prompt)
	if err != nil {
		return nil, err
	}
	opts, err = s.resolve(opts, s.gen.Steps)
	if err != nil {
		return nil, err
	}

	start := time.Now()
	waves, err := s.pipeline.Run(ctx, []string{prompt}, s.params(opts, opts.Seed))
	if err != nil {
		return nil, fmt.Errorf("generate: %w", err)
	}
	if len(waves) == 0 {
		return nil, errors.New("generate: pipeline returned no audio")
	}

	slog.Debug("generated",
		"prompt_len", len(prompt),
		"steps", opts.Steps,
		"guidance", opts.Guidance,
		"samples", opts.Samples,
		"peak", audio.Peak(waves[0]),
		"duration_ms", time.Since(start).Milliseconds(),
	)

	return waves[0], nil
}

// GenerateBatch produces opts.Samples waveforms for every prompt, processing
// opts.BatchSize prompts per pipeline run. The result is flat and grouped by
// prompt; use Chunks(out, opts.Samples) for one slice per prompt.
func (s *Service) GenerateBatch(ctx context.Context, prompts []string, opts Options, progress BatchProgress) ([][]float32, error) {
	if len(prompts) == 0 {
		return nil, errors.New("no prompts")
	}

	normalized := make([]string, len(prompts))
	for i, p := range prompts {
		n, err := text.NormalizePrompt(p)
		if err != nil {
			return nil, fmt.Errorf("prompt %d: %w", i+1, err)
		}
		normalized[i] = n
	}

	opts, err := s.resolve(opts, s.gen.BatchSteps)
	if err != nil {
		return nil, err
	}
	batches, err := Chunks(normalized, opts.BatchSize)
	if err != nil {
		return nil, err
	}

	outputs := make([][]float32, 0, len(normalized)*opts.Samples)
	done := 0
	for k, batch := range batches {
		seed := opts.Seed
		if seed != 0 {
			seed += uint64(k)
		}

		waves, err := s.pipeline.Run(ctx, batch, s.params(opts, seed))
		if err != nil {
			return nil, fmt.Errorf("batch %d/%d: %w", k+1, len(batches), err)
		}
		if want := len(batch) * opts.Samples; len(waves) != want {
			return nil, fmt.Errorf("batch %d/%d: got %d waveforms, want %d", k+1, len(batches), len(waves), want)
		}
		outputs = append(outputs, waves...)

		done += len(batch)
		if progress != nil {
			progress(done, len(normalized))
		}
	}

	return outputs, nil
}

func (s *Service) Close() {
	if s.pipeline != nil {
		s.pipeline.Close()
	}
}

func (s *Service) resolve(opts Options, steps int) (Options, error) {
	if opts.Guidance < 0 || (opts.Guidance > 0 && opts.Guidance < 1) {
		return opts, fmt.Errorf("%w, got %g", ErrInvalidGuidance, opts.Guidance)
	}
	if opts.Steps <= 0 {
		opts.Steps = steps
	}
	if opts.Guidance <= 0 {
		opts.Guidance = s.gen.Guidance
	}
	if opts.Samples <= 0 {
		opts.Samples = s.gen.Samples
	}
	if opts.BatchSize <= 0 {
		opts.BatchSize = s.gen.BatchSize
	}
	if opts.Seed == 0 {
		opts.Seed = s.gen.Seed
	}
	return opts, nil
}

func (s *Service) params(opts Options, seed uint64) Params {
	return Params{
		Steps:    opts.Steps,
		Guidance: opts.Guidance,
		Samples:  opts.Samples,
		Seed:     seed,
		Progress: opts.StepProgress,
	}
}
