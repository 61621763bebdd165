// Package text prepares free-form prompts before they reach the tokenizer.
package text

import (
	"errors"
	"strings"
)

// ErrEmptyPrompt is returned when the prompt is empty or whitespace-only.
var ErrEmptyPrompt = errors.New("prompt is empty")

// NormalizePrompt trims surrounding whitespace and collapses every internal
// run of whitespace (including line breaks) into a single space.
func NormalizePrompt(s string) (string, error) {
	s = strings.Join(strings.Fields(s), " ")
	if s == "" {
		return "", ErrEmptyPrompt
	}

	return s, nil
}
