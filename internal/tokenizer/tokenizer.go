// Package tokenizer turns prompts into the token batches consumed by the
// FLAN-T5 text encoder.
package tokenizer

// Tokenizer encodes text into SentencePiece token IDs.
type Tokenizer interface {
	// Encode tokenizes text and returns SentencePiece token IDs.
	Encode(text string) ([]int64, error)
}
