package text

import (
	"bufio"
	"fmt"
	"io"
	"strings"
)

// maxPromptLine bounds a single line in a prompt file.
const maxPromptLine = 64 * 1024

// ReadPrompts reads one prompt per line. Blank lines and lines starting
// with '#' are skipped; every remaining line is normalized.
func ReadPrompts(r io.Reader) ([]string, error) {
	s := bufio.NewScanner(r)
	s.Buffer(make([]byte, 0, 4096), maxPromptLine)

	var prompts []string
	line := 0
	for s.Scan() {
		line++
		raw := strings.TrimSpace(s.Text())
		if raw == "" || strings.HasPrefix(raw, "#") {
			continue
		}
		p, err := NormalizePrompt(raw)
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		prompts = append(prompts, p)
	}
	if err := s.Err(); err != nil {
		return nil, fmt.Errorf("read prompts: %w", err)
	}

	return prompts, nil
}
