package text

import (
	"errors"
	"testing"
)

func TestNormalizePrompt(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		want    string
		wantErr error
	}{
		{
			name:  "passthrough clean prompt",
			input: "A dog barks in the distance",
			want:  "A dog barks in the distance",
		},
		{
			name:  "trims surrounding whitespace",
			input: "  Rain on a tin roof \t",
			want:  "Rain on a tin roof",
		},
		{
			name:  "collapses internal whitespace",
			input: "Birds   chirping\tat dawn",
			want:  "Birds chirping at dawn",
		},
		{
			name:  "joins lines with a single space",
			input: "An engine revs\r\nthen idles\rquietly",
			want:  "An engine revs then idles quietly",
		},
		{
			name:    "empty string",
			input:   "",
			wantErr: ErrEmptyPrompt,
		},
		{
			name:    "whitespace only",
			input:   " \n\t\r\n ",
			wantErr: ErrEmptyPrompt,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := NormalizePrompt(tt.input)
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("NormalizePrompt(%q) error = %v; want %v", tt.input, err, tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("NormalizePrompt(%q) unexpected error: %v", tt.input, err)
			}
			if got != tt.want {
				t.Errorf("NormalizePrompt(%q) = %q; want %q", tt.input, got, tt.want)
			}
		})
	}
}
