package diffusion

import (
	"errors"
	"math"
	"math/rand/v2"
	"slices"
	"strings"
	"testing"
)

func mustScheduler(t *testing.T, cfg SchedulerConfig) *DDPMScheduler {
	t.Helper()
	s, err := NewDDPMScheduler(cfg)
	if err != nil {
		t.Fatalf("NewDDPMScheduler: %v", err)
	}
	return s
}

// smallConfig is a 4-step sample-prediction schedule whose last step
// returns the model output unchanged.
func smallConfig() SchedulerConfig {
	cfg := DefaultSchedulerConfig()
	cfg.NumTrainTimesteps = 4
	cfg.BetaSchedule = BetaLinear
	cfg.BetaStart = 0.1
	cfg.BetaEnd = 0.4
	cfg.PredictionType = PredictSample
	cfg.StepsOffset = 0
	return cfg
}

func near(a, b, tol float64) bool {
	return math.Abs(a-b) <= tol
}

func TestDefaultSchedulerConfigIsValid(t *testing.T) {
	if err := DefaultSchedulerConfig().Validate(); err != nil {
		t.Fatalf("default config invalid: %v", err)
	}
}

func TestSchedulerConfigValidate(t *testing.T) {
	tests := []struct {
		name   string
		modify func(*SchedulerConfig)
		want   string
	}{
		{"no timesteps", func(c *SchedulerConfig) { c.NumTrainTimesteps = 0 }, "num_train_timesteps"},
		{"beta schedule", func(c *SchedulerConfig) { c.BetaSchedule = "sigmoid" }, "beta_schedule"},
		{"beta range", func(c *SchedulerConfig) { c.BetaEnd = c.BetaStart / 2 }, "beta range"},
		{"trained betas length", func(c *SchedulerConfig) { c.TrainedBetas = []float64{0.1} }, "trained_betas"},
		{"prediction", func(c *SchedulerConfig) { c.PredictionType = "flow" }, "prediction_type"},
		{"variance", func(c *SchedulerConfig) { c.VarianceType = "learned" }, "variance_type"},
		{"spacing", func(c *SchedulerConfig) { c.TimestepSpacing = "karras" }, "timestep_spacing"},
		{"offset", func(c *SchedulerConfig) { c.StepsOffset = -1 }, "steps_offset"},
		{"clip range", func(c *SchedulerConfig) { c.ClipSample = true; c.ClipSampleRange = 0 }, "clip_sample_range"},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			cfg := DefaultSchedulerConfig()
			tc.modify(&cfg)
			err := cfg.Validate()
			if err == nil || !strings.Contains(err.Error(), tc.want) {
				t.Fatalf("expected error containing %q, got %v", tc.want, err)
			}
		})
	}
}

func TestBetaSchedules(t *testing.T) {
	s := mustScheduler(t, DefaultSchedulerConfig())
	if !near(s.betas[0], 0.00085, 1e-12) || !near(s.betas[999], 0.012, 1e-12) {
		t.Fatalf("scaled_linear endpoints = %g, %g", s.betas[0], s.betas[999])
	}
	// Scaled-linear betas are quadratic in sqrt space, so the midpoint sits
	// below the arithmetic mean.
	if s.betas[500] >= (0.00085+0.012)/2 {
		t.Fatalf("scaled_linear midpoint %g not below linear midpoint", s.betas[500])
	}
	for i := 1; i < len(s.alphasCumprod); i++ {
		if s.alphasCumprod[i] >= s.alphasCumprod[i-1] {
			t.Fatalf("alphas_cumprod not decreasing at %d", i)
		}
	}

	cfg := DefaultSchedulerConfig()
	cfg.BetaSchedule = BetaLinear
	cfg.BetaStart, cfg.BetaEnd = 0.0001, 0.02
	lin := mustScheduler(t, cfg)
	if !near(lin.betas[0], 0.0001, 1e-12) || !near(lin.betas[999], 0.02, 1e-12) {
		t.Fatalf("linear endpoints = %g, %g", lin.betas[0], lin.betas[999])
	}

	cfg.BetaSchedule = BetaSquaredCosCapV2
	cos := mustScheduler(t, cfg)
	if cos.betas[999] != 0.999 {
		t.Fatalf("squaredcos last beta = %g, want cap 0.999", cos.betas[999])
	}
	if cos.betas[0] <= 0 || cos.betas[0] >= cos.betas[500] {
		t.Fatalf("squaredcos betas not increasing: %g, %g", cos.betas[0], cos.betas[500])
	}

	cfg = smallConfig()
	cfg.TrainedBetas = []float64{0.1, 0.2, 0.3, 0.4}
	cfg.BetaSchedule = "ignored-when-trained"
	trained := mustScheduler(t, cfg)
	if !slices.Equal(trained.betas, cfg.TrainedBetas) {
		t.Fatalf("trained betas = %v", trained.betas)
	}
}

func TestSetTimesteps(t *testing.T) {
	tests := []struct {
		name    string
		spacing string
		offset  int
		steps   int
		first   int
		last    int
	}{
		{"leading with offset", SpacingLeading, 1, 100, 991, 1},
		{"leading 200", SpacingLeading, 1, 200, 996, 1},
		{"trailing", SpacingTrailing, 0, 100, 999, 9},
		{"linspace", SpacingLinspace, 0, 4, 999, 0},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			cfg := DefaultSchedulerConfig()
			cfg.TimestepSpacing = tc.spacing
			cfg.StepsOffset = tc.offset
			s := mustScheduler(t, cfg)

			if err := s.SetTimesteps(tc.steps); err != nil {
				t.Fatalf("SetTimesteps: %v", err)
			}
			ts := s.Timesteps()
			if len(ts) != tc.steps || ts[0] != tc.first || ts[len(ts)-1] != tc.last {
				t.Fatalf("timesteps len=%d first=%d last=%d", len(ts), ts[0], ts[len(ts)-1])
			}
			for i := 1; i < len(ts); i++ {
				if ts[i] >= ts[i-1] {
					t.Fatalf("timesteps not descending at %d: %v", i, ts[i-1:i+1])
				}
			}
		})
	}
}

func TestSetTimestepsLinspaceValues(t *testing.T) {
	cfg := DefaultSchedulerConfig()
	cfg.TimestepSpacing = SpacingLinspace
	s := mustScheduler(t, cfg)
	if err := s.SetTimesteps(4); err != nil {
		t.Fatal(err)
	}
	if got := s.Timesteps(); !slices.Equal(got, []int{999, 666, 333, 0}) {
		t.Fatalf("linspace timesteps = %v", got)
	}
}

func TestSetTimestepsErrors(t *testing.T) {
	s := mustScheduler(t, DefaultSchedulerConfig())
	// 1000 leading steps plus steps_offset 1 would index timestep 1000.
	for _, n := range []int{0, -1, 1001, 1000} {
		if err := s.SetTimesteps(n); !errors.Is(err, ErrInvalidSteps) {
			t.Errorf("SetTimesteps(%d) = %v, want ErrInvalidSteps", n, err)
		}
	}
	if err := s.SetTimesteps(999); err != nil {
		t.Errorf("SetTimesteps(999) = %v", err)
	}
}

func TestStepFinalTimestepReturnsPredictedSample(t *testing.T) {
	s := mustScheduler(t, smallConfig())
	if err := s.SetTimesteps(4); err != nil {
		t.Fatal(err)
	}

	out, err := s.Step([]float32{0.25, -0.5}, 0, []float32{3, 4}, rand.New(rand.NewPCG(1, 2)))
	if err != nil {
		t.Fatalf("Step: %v", err)
	}
	if !slices.Equal(out, []float32{0.25, -0.5}) {
		t.Fatalf("final step = %v, want model output", out)
	}
}

func TestStepEpsilonFinalTimestep(t *testing.T) {
	cfg := smallConfig()
	cfg.PredictionType = PredictEpsilon
	s := mustScheduler(t, cfg)
	if err := s.SetTimesteps(4); err != nil {
		t.Fatal(err)
	}

	out, err := s.Step([]float32{0.5}, 0, []float32{1}, nil)
	if err != nil {
		t.Fatalf("Step: %v", err)
	}
	a := s.alphasCumprod[0] // 0.9
	want := (1 - math.Sqrt(1-a)*0.5) / math.Sqrt(a)
	if !near(float64(out[0]), want, 1e-6) {
		t.Fatalf("epsilon x0 = %v, want %v", out[0], want)
	}
}

func TestStepVPredictionMean(t *testing.T) {
	cfg := smallConfig()
	cfg.PredictionType = PredictV
	cfg.VarianceType = VarianceFixedSmall
	s := mustScheduler(t, cfg)
	if err := s.SetTimesteps(2); err != nil { // timesteps [2, 0]
		t.Fatal(err)
	}

	// The expectation replays the same single noise draw.
	x, v := []float32{0.3}, []float32{-0.2}
	rng := rand.New(rand.NewPCG(7, 7))
	out, err := s.Step(v, 2, x, rng)
	if err != nil {
		t.Fatalf("Step: %v", err)
	}

	aT := s.alphasCumprod[2]
	aPrev := s.alphasCumprod[0]
	curAlpha := aT / aPrev
	curBeta := 1 - curAlpha
	x0 := math.Sqrt(aT)*0.3 - math.Sqrt(1-aT)*(-0.2)
	mean := math.Sqrt(aPrev)*curBeta/(1-aT)*x0 + math.Sqrt(curAlpha)*(1-aPrev)/(1-aT)*0.3
	std := math.Sqrt((1 - aPrev) / (1 - aT) * curBeta)
	noise := rand.New(rand.NewPCG(7, 7)).NormFloat64()

	if !near(float64(out[0]), mean+std*noise, 1e-6) {
		t.Fatalf("v-prediction step = %v, want %v", out[0], mean+std*noise)
	}
}

func TestStepClipSample(t *testing.T) {
	cfg := smallConfig()
	cfg.ClipSample = true
	cfg.ClipSampleRange = 1
	s := mustScheduler(t, cfg)
	if err := s.SetTimesteps(4); err != nil {
		t.Fatal(err)
	}

	out, err := s.Step([]float32{5, -5, 0.5}, 0, []float32{0, 0, 0}, nil)
	if err != nil {
		t.Fatal(err)
	}
	if !slices.Equal(out, []float32{1, -1, 0.5}) {
		t.Fatalf("clipped = %v", out)
	}
}

func TestStepFixedLargeUsesBeta(t *testing.T) {
	cfg := smallConfig()
	cfg.VarianceType = VarianceFixedLarge
	s := mustScheduler(t, cfg)
	if err := s.SetTimesteps(4); err != nil {
		t.Fatal(err)
	}

	want := math.Sqrt(1 - s.alphasCumprod[2]/s.alphasCumprod[1])
	if got := s.noiseStd(2); !near(got, want, 1e-12) {
		t.Fatalf("fixed_large std = %g, want %g", got, want)
	}
}

func TestStepErrors(t *testing.T) {
	s := mustScheduler(t, smallConfig())
	if _, err := s.Step([]float32{1}, 0, []float32{1, 2}, nil); err == nil {
		t.Error("expected length mismatch error")
	}
	if _, err := s.Step([]float32{1}, 4, []float32{1}, nil); err == nil {
		t.Error("expected timestep range error")
	}
}
