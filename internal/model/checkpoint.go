package model

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/example/go-tango/internal/diffusion"
)

// VAEConfig is vae_config.json: the AudioLDM autoencoder that maps latents
// to mel spectrograms.
type VAEConfig struct {
	ImageKey    string   `json:"image_key"`
	Subband     int      `json:"subband"`
	EmbedDim    int      `json:"embed_dim"`
	TimeShuffle int      `json:"time_shuffle"`
	ScaleFactor float64  `json:"scale_factor"`
	DDConfig    DDConfig `json:"ddconfig"`
}

type DDConfig struct {
	DoubleZ        bool    `json:"double_z"`
	ZChannels      int     `json:"z_channels"`
	Resolution     int     `json:"resolution"`
	DownsampleTime bool    `json:"downsample_time"`
	InChannels     int     `json:"in_channels"`
	OutCh          int     `json:"out_ch"`
	Ch             int     `json:"ch"`
	ChMult         []int   `json:"ch_mult"`
	NumResBlocks   int     `json:"num_res_blocks"`
	AttnResolution []int   `json:"attn_resolutions"`
	Dropout        float64 `json:"dropout"`
}

// STFTConfig is stft_config.json: the mel front end. SamplingRate is the
// rate of the vocoder output.
type STFTConfig struct {
	FilterLength int     `json:"filter_length"`
	HopLength    int     `json:"hop_length"`
	WinLength    int     `json:"win_length"`
	NMelChannels int     `json:"n_mel_channels"`
	SamplingRate int     `json:"sampling_rate"`
	MelFMin      float64 `json:"mel_fmin"`
	MelFMax      float64 `json:"mel_fmax"`
}

// MainConfig is main_config.json: the diffusion model wrapper.
type MainConfig struct {
	TextEncoderName     string   `json:"text_encoder_name"`
	SchedulerName       string   `json:"scheduler_name"`
	UNetModelName       string   `json:"unet_model_name"`
	UNetModelConfigPath string   `json:"unet_model_config_path"`
	SNRGamma            *float64 `json:"snr_gamma"`
	FreezeTextEncoder   bool     `json:"freeze_text_encoder"`
	Uncondition         bool     `json:"uncondition"`
}

// Checkpoint is a validated Tango snapshot directory.
type Checkpoint struct {
	Dir       string
	VAE       VAEConfig
	STFT      STFTConfig
	Main      MainConfig
	Scheduler diffusion.SchedulerConfig
}

var ErrIncompleteCheckpoint = errors.New("incomplete checkpoint")

// LoadCheckpoint reads the three model configs and the scheduler config
// from dir and checks every weight file is present. The scheduler config is
// expected under <dir>/scheduler/scheduler_config.json; when absent, the
// Stable Diffusion 2.1 defaults are used.
func LoadCheckpoint(dir string) (*Checkpoint, error) {
	if dir == "" {
		return nil, errors.New("checkpoint dir is required")
	}

	var missing []string
	for _, name := range CheckpointFiles {
		if _, err := os.Stat(filepath.Join(dir, name)); err != nil {
			missing = append(missing, name)
		}
	}
	if len(missing) > 0 {
		return nil, fmt.Errorf("%w: %s missing %v (run `tango model download`)", ErrIncompleteCheckpoint, dir, missing)
	}

	ckpt := &Checkpoint{Dir: dir}
	if err := readJSON(filepath.Join(dir, "vae_config.json"), &ckpt.VAE); err != nil {
		return nil, err
	}
	if err := readJSON(filepath.Join(dir, "stft_config.json"), &ckpt.STFT); err != nil {
		return nil, err
	}
	if err := readJSON(filepath.Join(dir, "main_config.json"), &ckpt.Main); err != nil {
		return nil, err
	}

	ckpt.Scheduler = diffusion.DefaultSchedulerConfig()
	schedPath := filepath.Join(dir, filepath.FromSlash(SchedulerConfigFile))
	if _, err := os.Stat(schedPath); err == nil {
		if err := readJSON(schedPath, &ckpt.Scheduler); err != nil {
			return nil, err
		}
	} else {
		slog.Warn("scheduler config not found, using defaults", "path", schedPath)
	}

	if err := ckpt.Validate(); err != nil {
		return nil, err
	}

	return ckpt, nil
}

func (c *Checkpoint) Validate() error {
	if c.VAE.ScaleFactor == 0 {
		c.VAE.ScaleFactor = 1
	}
	if c.VAE.ScaleFactor < 0 {
		return fmt.Errorf("vae_config.json: scale_factor must be > 0, got %g", c.VAE.ScaleFactor)
	}
	if c.STFT.SamplingRate <= 0 {
		return fmt.Errorf("stft_config.json: sampling_rate must be > 0, got %d", c.STFT.SamplingRate)
	}
	if c.Main.SchedulerName == "" {
		return errors.New("main_config.json: scheduler_name is required")
	}
	if err := c.Scheduler.Validate(); err != nil {
		return fmt.Errorf("scheduler config: %w", err)
	}
	return nil
}

// LatentScale is the multiplier applied to latents before VAE decoding
// (1/scale_factor).
func (c *Checkpoint) LatentScale() float32 {
	return float32(1 / c.VAE.ScaleFactor)
}

func readJSON(path string, v any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read %s: %w", filepath.Base(path), err)
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("decode %s: %w", filepath.Base(path), err)
	}
	return nil
}
