// Package diffusion implements the DDPM noise scheduler and the
// classifier-free-guidance sampling loop around an opaque denoiser.
package diffusion

import (
	"fmt"
	"slices"
)

// Supported scheduler options.
const (
	BetaLinear          = "linear"
	BetaScaledLinear    = "scaled_linear"
	BetaSquaredCosCapV2 = "squaredcos_cap_v2"

	PredictEpsilon = "epsilon"
	PredictSample  = "sample"
	PredictV       = "v_prediction"

	VarianceFixedSmall    = "fixed_small"
	VarianceFixedSmallLog = "fixed_small_log"
	VarianceFixedLarge    = "fixed_large"

	SpacingLeading  = "leading"
	SpacingTrailing = "trailing"
	SpacingLinspace = "linspace"
)

// SchedulerConfig mirrors a diffusers scheduler_config.json. Unknown keys
// such as _class_name or set_alpha_to_one are ignored.
type SchedulerConfig struct {
	NumTrainTimesteps int       `json:"num_train_timesteps"`
	BetaStart         float64   `json:"beta_start"`
	BetaEnd           float64   `json:"beta_end"`
	BetaSchedule      string    `json:"beta_schedule"`
	TrainedBetas      []float64 `json:"trained_betas"`
	VarianceType      string    `json:"variance_type"`
	ClipSample        bool      `json:"clip_sample"`
	ClipSampleRange   float64   `json:"clip_sample_range"`
	PredictionType    string    `json:"prediction_type"`
	StepsOffset       int       `json:"steps_offset"`
	TimestepSpacing   string    `json:"timestep_spacing"`
}

// DefaultSchedulerConfig returns the stabilityai/stable-diffusion-2-1
// scheduler settings Tango samples with.
func DefaultSchedulerConfig() SchedulerConfig {
	return SchedulerConfig{
		NumTrainTimesteps: 1000,
		BetaStart:         0.00085,
		BetaEnd:           0.012,
		BetaSchedule:      BetaScaledLinear,
		VarianceType:      VarianceFixedSmall,
		ClipSample:        false,
		ClipSampleRange:   1,
		PredictionType:    PredictV,
		StepsOffset:       1,
		TimestepSpacing:   SpacingLeading,
	}
}

func (c SchedulerConfig) Validate() error {
	if c.NumTrainTimesteps < 1 {
		return fmt.Errorf("num_train_timesteps must be >= 1, got %d", c.NumTrainTimesteps)
	}
	if len(c.TrainedBetas) == 0 {
		if !slices.Contains([]string{BetaLinear, BetaScaledLinear, BetaSquaredCosCapV2}, c.BetaSchedule) {
			return fmt.Errorf("unsupported beta_schedule %q", c.BetaSchedule)
		}
		if c.BetaSchedule != BetaSquaredCosCapV2 && (c.BetaStart <= 0 || c.BetaEnd < c.BetaStart || c.BetaEnd >= 1) {
			return fmt.Errorf("invalid beta range [%g, %g]", c.BetaStart, c.BetaEnd)
		}
	} else if len(c.TrainedBetas) != c.NumTrainTimesteps {
		return fmt.Errorf("trained_betas has %d entries, want %d", len(c.TrainedBetas), c.NumTrainTimesteps)
	}
	if !slices.Contains([]string{PredictEpsilon, PredictSample, PredictV}, c.PredictionType) {
		return fmt.Errorf("unsupported prediction_type %q", c.PredictionType)
	}
	if !slices.Contains([]string{VarianceFixedSmall, VarianceFixedSmallLog, VarianceFixedLarge}, c.VarianceType) {
		return fmt.Errorf("unsupported variance_type %q", c.VarianceType)
	}
	if !slices.Contains([]string{SpacingLeading, SpacingTrailing, SpacingLinspace}, c.TimestepSpacing) {
		return fmt.Errorf("unsupported timestep_spacing %q", c.TimestepSpacing)
	}
	if c.StepsOffset < 0 {
		return fmt.Errorf("steps_offset must be >= 0, got %d", c.StepsOffset)
	}
	if c.ClipSample && c.ClipSampleRange <= 0 {
		return fmt.Errorf("clip_sample_range must be > 0, got %g", c.ClipSampleRange)
	}
	return nil
}
