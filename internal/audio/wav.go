package audio

import (
	"fmt"
	"math"
	"time"
)

// Format describes the PCM layout of a WAV file.
type Format struct {
	SampleRate int
	Channels   int
	BitDepth   int
}

// Clamp limits every sample to [-1, 1]. NaN becomes silence.
func Clamp(samples []float32) []float32 {
	out := make([]float32, len(samples))
	for i, s := range samples {
		switch {
		case math.IsNaN(float64(s)):
			out[i] = 0
		case s > 1:
			out[i] = 1
		case s < -1:
			out[i] = -1
		default:
			out[i] = s
		}
	}

	return out
}

// Peak returns the largest absolute sample value.
func Peak(samples []float32) float32 {
	var peak float32
	for _, s := range samples {
		if s < 0 {
			s = -s
		}
		if s > peak {
			peak = s
		}
	}

	return peak
}

// Duration returns the playback length of n mono samples at sampleRate.
func Duration(n, sampleRate int) time.Duration {
	if sampleRate <= 0 {
		return 0
	}

	return time.Duration(int64(n) * int64(time.Second) / int64(sampleRate))
}

func validateFormat(sampleRate, sampleWidth int) error {
	if sampleRate < 1 {
		return fmt.Errorf("invalid sample rate: %d", sampleRate)
	}
	if sampleWidth < 1 || sampleWidth > 4 {
		return fmt.Errorf("invalid sample width: %d bytes", sampleWidth)
	}

	return nil
}
