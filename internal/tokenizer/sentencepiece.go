package tokenizer

import (
	"errors"
	"fmt"
	"os"
	"strings"

	gosp "github.com/vikesh-raj/go-sentencepiece-encoder/sentencepiece"
)

// ErrEmptyPath is returned by LoadSpiece when no model path is configured.
var ErrEmptyPath = errors.New("tokenizer model path must not be empty")

// Spiece is the FLAN-T5 spiece.model vocabulary. It returns raw piece IDs
// without the EOS that T5 appends.
type Spiece struct {
	path     string
	tokenize func(string) []int32
}

// LoadSpiece reads a unigram SentencePiece model. FLAN-T5 is cased, so the
// model is loaded without lowercasing.
func LoadSpiece(path string) (*Spiece, error) {
	if path == "" {
		return nil, ErrEmptyPath
	}
	if _, err := os.Stat(path); err != nil {
		return nil, fmt.Errorf("tokenizer model: %w", err)
	}

	sp, err := gosp.NewSentencepieceFromFile(path, false)
	if err != nil {
		return nil, fmt.Errorf("parse tokenizer model %s: %w", path, err)
	}
	return &Spiece{path: path, tokenize: sp.TokenizeToIDs}, nil
}

// Path is the model file the vocabulary was loaded from.
func (s *Spiece) Path() string {
	return s.path
}

// Encode implements Tokenizer. Blank text yields no pieces.
func (s *Spiece) Encode(text string) ([]int64, error) {
	if strings.TrimSpace(text) == "" {
		return nil, nil
	}

	pieces := s.tokenize(text)
	ids := make([]int64, len(pieces))
	for i, p := range pieces {
		ids[i] = int64(p)
	}
	return ids, nil
}
