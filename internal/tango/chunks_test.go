package tango

import (
	"reflect"
	"testing"
)

func TestChunks(t *testing.T) {
	tests := []struct {
		name  string
		items []int
		n     int
		want  [][]int
	}{
		{"even", []int{1, 2, 3, 4}, 2, [][]int{{1, 2}, {3, 4}}},
		{"remainder", []int{1, 2, 3, 4, 5}, 2, [][]int{{1, 2}, {3, 4}, {5}}},
		{"larger than input", []int{1, 2}, 8, [][]int{{1, 2}}},
		{"size one", []int{1, 2, 3}, 1, [][]int{{1}, {2}, {3}}},
		{"empty", nil, 3, [][]int{}},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got, err := Chunks(tc.items, tc.n)
			if err != nil {
				t.Fatalf("Chunks: %v", err)
			}
			if !reflect.DeepEqual(got, tc.want) {
				t.Fatalf("Chunks(%v, %d) = %v, want %v", tc.items, tc.n, got, tc.want)
			}
		})
	}
}

func TestChunksRejectsNonPositiveSize(t *testing.T) {
	for _, n := range []int{0, -1} {
		if _, err := Chunks([]string{"a"}, n); err == nil {
			t.Fatalf("Chunks(_, %d): expected error", n)
		}
	}
}
