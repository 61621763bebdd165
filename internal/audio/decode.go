package audio

import (
	"bytes"
	"errors"
	"fmt"

	"github.com/cwbudde/wav"
)

// ErrFormatMismatch is returned when a decoded WAV does not match the expected format.
var ErrFormatMismatch = errors.New("WAV format mismatch")

// DecodeWAV decodes WAV bytes and returns the PCM samples with their format.
func DecodeWAV(data []byte) ([]float32, Format, error) {
	if len(data) == 0 {
		return nil, Format{}, errors.New("empty WAV input")
	}

	dec := wav.NewDecoder(bytes.NewReader(data))
	if !dec.IsValidFile() {
		return nil, Format{}, errors.New("invalid WAV file")
	}

	format := Format{
		SampleRate: int(dec.SampleRate),
		Channels:   int(dec.NumChans),
		BitDepth:   int(dec.BitDepth),
	}

	buf, err := dec.FullPCMBuffer()
	if err != nil {
		return nil, format, fmt.Errorf("reading PCM data: %w", err)
	}

	return buf.Data, format, nil
}

// Check returns ErrFormatMismatch when f differs from want.
// Zero fields in want are not compared.
func (f Format) Check(want Format) error {
	if want.SampleRate != 0 && f.SampleRate != want.SampleRate {
		return fmt.Errorf("%w: sample rate %d, want %d", ErrFormatMismatch, f.SampleRate, want.SampleRate)
	}
	if want.Channels != 0 && f.Channels != want.Channels {
		return fmt.Errorf("%w: channels %d, want %d", ErrFormatMismatch, f.Channels, want.Channels)
	}
	if want.BitDepth != 0 && f.BitDepth != want.BitDepth {
		return fmt.Errorf("%w: bit depth %d, want %d", ErrFormatMismatch, f.BitDepth, want.BitDepth)
	}

	return nil
}
