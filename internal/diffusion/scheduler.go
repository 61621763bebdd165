package diffusion

import (
	"errors"
	"fmt"
	"math"
	"math/rand/v2"
)

// ErrInvalidSteps is returned when the requested number of inference steps
// does not fit the training schedule.
var ErrInvalidSteps = errors.New("invalid inference steps")

// DDPMScheduler is the denoising diffusion probabilistic model update rule:
// a fixed beta schedule over NumTrainTimesteps, subsampled to the requested
// number of inference steps.
type DDPMScheduler struct {
	cfg           SchedulerConfig
	betas         []float64
	alphasCumprod []float64
	timesteps     []int
	steps         int
}

func NewDDPMScheduler(cfg SchedulerConfig) (*DDPMScheduler, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	betas, err := betaSchedule(cfg)
	if err != nil {
		return nil, err
	}

	cumprod := make([]float64, len(betas))
	acc := 1.0
	for i, b := range betas {
		acc *= 1 - b
		cumprod[i] = acc
	}

	return &DDPMScheduler{cfg: cfg, betas: betas, alphasCumprod: cumprod}, nil
}

func betaSchedule(cfg SchedulerConfig) ([]float64, error) {
	n := cfg.NumTrainTimesteps
	if len(cfg.TrainedBetas) > 0 {
		return append([]float64(nil), cfg.TrainedBetas...), nil
	}

	betas := make([]float64, n)
	switch cfg.BetaSchedule {
	case BetaLinear:
		for i := range betas {
			betas[i] = lerp(cfg.BetaStart, cfg.BetaEnd, i, n)
		}
	case BetaScaledLinear:
		lo, hi := math.Sqrt(cfg.BetaStart), math.Sqrt(cfg.BetaEnd)
		for i := range betas {
			v := lerp(lo, hi, i, n)
			betas[i] = v * v
		}
	case BetaSquaredCosCapV2:
		alphaBar := func(t float64) float64 {
			c := math.Cos((t + 0.008) / 1.008 * math.Pi / 2)
			return c * c
		}
		for i := range betas {
			t1 := float64(i) / float64(n)
			t2 := float64(i+1) / float64(n)
			betas[i] = math.Min(1-alphaBar(t2)/alphaBar(t1), 0.999)
		}
	default:
		return nil, fmt.Errorf("unsupported beta_schedule %q", cfg.BetaSchedule)
	}
	return betas, nil
}

// lerp returns the i-th of n evenly spaced points from lo to hi inclusive.
func lerp(lo, hi float64, i, n int) float64 {
	if n == 1 {
		return lo
	}
	return lo + (hi-lo)*float64(i)/float64(n-1)
}

// SetTimesteps selects the descending inference timesteps for n steps.
func (s *DDPMScheduler) SetTimesteps(n int) error {
	total := s.cfg.NumTrainTimesteps
	if n < 1 || n > total {
		return fmt.Errorf("%w: must be in [1, %d], got %d", ErrInvalidSteps, total, n)
	}

	ts := make([]int, n)
	switch s.cfg.TimestepSpacing {
	case SpacingLinspace:
		for i := range ts {
			ts[n-1-i] = int(math.Round(lerp(0, float64(total-1), i, n)))
		}
	case SpacingTrailing:
		ratio := float64(total) / float64(n)
		for i := range ts {
			ts[i] = int(math.Round(float64(total)-float64(i)*ratio)) - 1
		}
	default:
		ratio := total / n
		for i := range ts {
			ts[n-1-i] = i*ratio + s.cfg.StepsOffset
		}
	}

	if ts[0] >= total || ts[n-1] < 0 {
		return fmt.Errorf("%w: %d steps with steps_offset %d exceed %d training timesteps", ErrInvalidSteps, n, s.cfg.StepsOffset, total)
	}

	s.timesteps = ts
	s.steps = n
	return nil
}

// Timesteps returns a copy of the current inference timesteps, highest first.
func (s *DDPMScheduler) Timesteps() []int {
	return append([]int(nil), s.timesteps...)
}

// InitNoiseSigma is the standard deviation of the initial latents.
func (s *DDPMScheduler) InitNoiseSigma() float64 {
	return 1
}

func (s *DDPMScheduler) prevTimestep(t int) int {
	steps := s.steps
	if steps == 0 {
		steps = s.cfg.NumTrainTimesteps
	}
	return t - s.cfg.NumTrainTimesteps/steps
}

func (s *DDPMScheduler) alphaProd(t int) float64 {
	if t < 0 {
		return 1
	}
	return s.alphasCumprod[t]
}

// noiseStd is the standard deviation of the noise added when leaving t.
func (s *DDPMScheduler) noiseStd(t int) float64 {
	alphaProdT := s.alphaProd(t)
	alphaProdPrev := s.alphaProd(s.prevTimestep(t))
	currentBeta := 1 - alphaProdT/alphaProdPrev

	if s.cfg.VarianceType == VarianceFixedLarge {
		return math.Sqrt(currentBeta)
	}

	variance := (1 - alphaProdPrev) / (1 - alphaProdT) * currentBeta
	return math.Sqrt(math.Max(variance, 1e-20))
}

// Step computes the sample at the previous timestep from the model output
// at t. rng supplies the Gaussian noise added for t > 0.
func (s *DDPMScheduler) Step(modelOutput []float32, t int, sample []float32, rng *rand.Rand) ([]float32, error) {
	if len(modelOutput) != len(sample) {
		return nil, fmt.Errorf("model output has %d values, sample has %d", len(modelOutput), len(sample))
	}
	if t < 0 || t >= len(s.alphasCumprod) {
		return nil, fmt.Errorf("timestep %d out of range [0, %d)", t, len(s.alphasCumprod))
	}

	alphaProdT := s.alphaProd(t)
	alphaProdPrev := s.alphaProd(s.prevTimestep(t))
	betaProdT := 1 - alphaProdT
	betaProdPrev := 1 - alphaProdPrev
	currentAlpha := alphaProdT / alphaProdPrev
	currentBeta := 1 - currentAlpha

	sqrtAlphaProdT := math.Sqrt(alphaProdT)
	sqrtBetaProdT := math.Sqrt(betaProdT)
	origCoeff := math.Sqrt(alphaProdPrev) * currentBeta / betaProdT
	sampleCoeff := math.Sqrt(currentAlpha) * betaProdPrev / betaProdT

	std := 0.0
	if t > 0 {
		std = s.noiseStd(t)
	}
	clip := s.cfg.ClipSampleRange

	prev := make([]float32, len(sample))
	for i := range sample {
		x := float64(sample[i])
		out := float64(modelOutput[i])

		var x0 float64
		switch s.cfg.PredictionType {
		case PredictEpsilon:
			x0 = (x - sqrtBetaProdT*out) / sqrtAlphaProdT
		case PredictSample:
			x0 = out
		default:
			x0 = sqrtAlphaProdT*x - sqrtBetaProdT*out
		}
		if s.cfg.ClipSample {
			x0 = math.Max(-clip, math.Min(clip, x0))
		}

		v := origCoeff*x0 + sampleCoeff*x
		if std > 0 {
			v += std * rng.NormFloat64()
		}
		prev[i] = float32(v)
	}

	return prev, nil
}
