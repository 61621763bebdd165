package onnx

import (
	"context"
	"fmt"
	"slices"
)

// PredictNoise runs one UNet evaluation at timestep t. sample is
// [B, C, H, W]; hidden is [B, L, D] and mask [B, L] int64.
func (e *Engine) PredictNoise(ctx context.Context, sample *Tensor, t int64, hidden *Tensor, mask []int64) (*Tensor, error) {
	hs := hidden.Shape()
	if len(hs) != 3 {
		return nil, fmt.Errorf("unet: encoder_hidden_states must be 3D, got %v", hs)
	}

	timestep, err := NewTensor([]int64{t}, []int64{1})
	if err != nil {
		return nil, err
	}
	maskT, err := NewTensor(mask, hs[:2])
	if err != nil {
		return nil, fmt.Errorf("unet encoder_attention_mask: %w", err)
	}

	out, err := e.run(ctx, GraphUNet, map[string]*Tensor{
		"sample":                 sample,
		"timestep":               timestep,
		"encoder_hidden_states":  hidden,
		"encoder_attention_mask": maskT,
	}, "out_sample")
	if err != nil {
		return nil, err
	}

	if !slices.Equal(out.Shape(), sample.Shape()) {
		return nil, fmt.Errorf("unet: output shape %v does not match sample %v", out.Shape(), sample.Shape())
	}
	return out, nil
}
