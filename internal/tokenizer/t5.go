package tokenizer

import (
	"errors"
	"fmt"
)

// T5 special token IDs.
const (
	PadID int64 = 0
	EOSID int64 = 1
)

// DefaultMaxLength is the FLAN-T5 model_max_length.
const DefaultMaxLength = 512

// Batch is a right-padded [Rows, Len] token matrix with its attention mask.
type Batch struct {
	IDs  []int64
	Mask []int64
	Rows int
	Len  int
}

// Shape returns the [Rows, Len] tensor shape of the batch.
func (b Batch) Shape() []int64 {
	return []int64{int64(b.Rows), int64(b.Len)}
}

// Row returns the token IDs of row i including padding.
func (b Batch) Row(i int) []int64 {
	return b.IDs[i*b.Len : (i+1)*b.Len]
}

// T5 wraps a SentencePiece tokenizer with the T5 conventions: an EOS token
// closes every sequence, sequences are truncated to maxLen and rows are
// padded with PadID to the longest row in the batch.
type T5 struct {
	sp     Tokenizer
	maxLen int
}

func NewT5(sp Tokenizer, maxLen int) (*T5, error) {
	if sp == nil {
		return nil, errors.New("tokenizer is required")
	}
	if maxLen == 0 {
		maxLen = DefaultMaxLength
	}
	if maxLen < 2 {
		return nil, fmt.Errorf("max length must be >= 2, got %d", maxLen)
	}

	return &T5{sp: sp, maxLen: maxLen}, nil
}

// Encode returns the IDs of a single text, EOS-terminated and truncated.
func (t *T5) Encode(text string) ([]int64, error) {
	ids, err := t.sp.Encode(text)
	if err != nil {
		return nil, fmt.Errorf("encode %q: %w", text, err)
	}
	if len(ids) > t.maxLen-1 {
		ids = ids[:t.maxLen-1]
	}

	out := make([]int64, 0, len(ids)+1)
	out = append(out, ids...)

	return append(out, EOSID), nil
}

// EncodeBatch tokenizes every text and pads the rows to a common length.
// An empty string encodes to a lone EOS, the unconditional prompt used for
// classifier-free guidance.
func (t *T5) EncodeBatch(texts []string) (Batch, error) {
	if len(texts) == 0 {
		return Batch{}, errors.New("no texts to encode")
	}

	rows := make([][]int64, len(texts))
	longest := 0
	for i, text := range texts {
		ids, err := t.Encode(text)
		if err != nil {
			return Batch{}, err
		}
		rows[i] = ids
		longest = max(longest, len(ids))
	}

	return PadRows(rows, longest), nil
}

// PadRows right-pads rows to length n. Rows longer than n are truncated.
func PadRows(rows [][]int64, n int) Batch {
	b := Batch{
		IDs:  make([]int64, len(rows)*n),
		Mask: make([]int64, len(rows)*n),
		Rows: len(rows),
		Len:  n,
	}
	for i, row := range rows {
		for j := 0; j < n && j < len(row); j++ {
			b.IDs[i*n+j] = row[j]
			b.Mask[i*n+j] = 1
		}
	}
	// PadID is zero, so unfilled positions are already padding.

	return b
}
