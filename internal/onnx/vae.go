package onnx

import (
	"context"
	"fmt"
)

// DecodeLatents runs the VAE decoder on scaled latents [B, C, H, W] and
// returns the mel spectrogram [B, 1, T, M]. The caller applies the
// 1/scale_factor division.
func (e *Engine) DecodeLatents(ctx context.Context, latents *Tensor) (*Tensor, error) {
	mel, err := e.run(ctx, GraphVAEDecoder, map[string]*Tensor{"latents": latents}, "mel")
	if err != nil {
		return nil, err
	}
	if got := mel.Shape(); len(got) != 4 {
		return nil, fmt.Errorf("vae_decoder: unexpected output shape %v", got)
	}
	return mel, nil
}

// Vocode turns a VAE mel output [B, 1, T, M] into waveforms, one row per
// batch entry.
func (e *Engine) Vocode(ctx context.Context, mel *Tensor) ([][]float32, error) {
	in, err := SpectrogramToVocoder(mel)
	if err != nil {
		return nil, err
	}

	wave, err := e.run(ctx, GraphVocoder, map[string]*Tensor{"mel": in}, "waveform")
	if err != nil {
		return nil, err
	}

	rows, err := Rows(wave)
	if err != nil {
		return nil, fmt.Errorf("vocoder: %w", err)
	}
	if len(rows) != int(in.Shape()[0]) {
		return nil, fmt.Errorf("vocoder: got %d waveforms for batch %d", len(rows), in.Shape()[0])
	}
	return rows, nil
}
