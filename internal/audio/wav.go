// Package audio inspects synthesized audio files.
package audio

import (
	"errors"
	"fmt"
	"os"

	"github.com/go-audio/wav"
)

// ErrInvalidWAV is returned when a file is not a readable PCM WAV file.
var ErrInvalidWAV = errors.New("invalid WAV file")

// Info describes the stream of a WAV file.
type Info struct {
	SampleRate int
	Channels   int
	BitDepth   int
	Seconds    float64
}

// InspectWAV reads the header of a WAV file and computes its duration.
func InspectWAV(path string) (Info, error) {
	file, err := os.Open(path)
	if err != nil {
		return Info{}, fmt.Errorf("failed to open '%s': %w", path, err)
	}
	defer file.Close()

	decoder := wav.NewDecoder(file)
	if !decoder.IsValidFile() {
		return Info{}, fmt.Errorf("%w: %s", ErrInvalidWAV, path)
	}

	duration, err := decoder.Duration()
	if err != nil {
		return Info{}, fmt.Errorf("failed to compute duration of '%s': %w", path, err)
	}

	return Info{
		SampleRate: int(decoder.SampleRate),
		Channels:   int(decoder.NumChans),
		BitDepth:   int(decoder.BitDepth),
		Seconds:    duration.Seconds(),
	}, nil
}

// WriteSilence writes a mono 16-bit PCM WAV file of the given length.
// It backs engine smoke tests and fixtures.
func WriteSilence(path string, sampleRate int, seconds float64) error {
	file, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create '%s': %w", path, err)
	}

	encoder := wav.NewEncoder(file, sampleRate, 16, 1, 1)
	frames := int(float64(sampleRate) * seconds)

	writeErr := encoder.Write(newIntBuffer(sampleRate, frames))
	closeErr := encoder.Close()
	fileErr := file.Close()

	return errors.Join(wrapNonNil("write samples", writeErr), wrapNonNil("close encoder", closeErr),
		wrapNonNil("close file", fileErr))
}

func wrapNonNil(op string, err error) error {
	if err == nil {
		return nil
	}

	return fmt.Errorf("failed to %s: %w", op, err)
}
