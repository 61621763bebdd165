package testutil

import (
	"testing"

	"github.com/example/go-tango/internal/audio"
)

// AssertValidWAV checks that data decodes as mono 16-bit PCM at sampleRate
// with at least one sample, and returns the decoded samples.
func AssertValidWAV(tb testing.TB, data []byte, sampleRate int) []float32 {
	tb.Helper()

	samples, format, err := audio.DecodeWAV(data)
	if err != nil {
		tb.Fatalf("WAV: %v", err)
	}

	err = format.Check(audio.Format{SampleRate: sampleRate, Channels: 1, BitDepth: 16})
	if err != nil {
		tb.Fatalf("WAV: %v", err)
	}

	if len(samples) == 0 {
		tb.Fatal("WAV: data chunk contains zero samples")
	}

	return samples
}

// AssertWAVDurationApprox asserts that the decoded audio duration falls
// within [minSec, maxSec].
func AssertWAVDurationApprox(tb testing.TB, data []byte, minSec, maxSec float64) {
	tb.Helper()

	samples, format, err := audio.DecodeWAV(data)
	if err != nil {
		tb.Fatalf("WAV duration check: %v", err)
	}

	durationSec := audio.Duration(len(samples), format.SampleRate).Seconds()
	if durationSec < minSec || durationSec > maxSec {
		tb.Fatalf("WAV duration %.3fs out of expected range [%.3fs, %.3fs]", durationSec, minSec, maxSec)
	}
}
