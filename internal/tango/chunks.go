package tango

import "fmt"

// Chunks splits items into successive slices of n elements. The last chunk
// holds the remainder. The chunks share items' backing array.
func Chunks[T any](items []T, n int) ([][]T, error) {
	if n < 1 {
		return nil, fmt.Errorf("chunk size must be >= 1, got %d", n)
	}

	out := make([][]T, 0, (len(items)+n-1)/n)
	for i := 0; i < len(items); i += n {
		out = append(out, items[i:min(i+n, len(items))])
	}
	return out, nil
}
