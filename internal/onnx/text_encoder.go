package onnx

import (
	"context"
	"fmt"
)

// EncodeText runs the FLAN-T5 encoder. ids and mask are int64 [B, L];
// the result is last_hidden_state [B, L, D].
func (e *Engine) EncodeText(ctx context.Context, ids, mask []int64, rows, length int) (*Tensor, error) {
	shape := []int64{int64(rows), int64(length)}

	idsT, err := NewTensor(ids, shape)
	if err != nil {
		return nil, fmt.Errorf("text_encoder input_ids: %w", err)
	}
	maskT, err := NewTensor(mask, shape)
	if err != nil {
		return nil, fmt.Errorf("text_encoder attention_mask: %w", err)
	}

	hidden, err := e.run(ctx, GraphTextEncoder, map[string]*Tensor{
		"input_ids":      idsT,
		"attention_mask": maskT,
	}, "last_hidden_state")
	if err != nil {
		return nil, err
	}

	if got := hidden.Shape(); len(got) != 3 || got[0] != int64(rows) {
		return nil, fmt.Errorf("text_encoder: unexpected output shape %v", got)
	}
	return hidden, nil
}
