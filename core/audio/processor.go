package audio

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"nendo/logger"
)

// Processor is what the library needs from an audio toolchain.
type Processor interface {
	Probe(ctx context.Context, inputFile string) (*ProbeInfo, error)
	ConvertToWAV(ctx context.Context, inputFile, outputFile string, sampleRate int) error
}

// Encoder writes audio files in formats other than wav.
type Encoder interface {
	Encode(ctx context.Context, inputFile, outputFile string) error
}

// Loader decodes audio files into signals.
type Loader struct {
	proc        Processor
	autoConvert bool
}

// NewLoader creates a loader. proc may be nil, in which case only wav files
// at their native sample rate can be loaded.
func NewLoader(proc Processor, autoConvert bool) *Loader {
	return &Loader{proc: proc, autoConvert: autoConvert}
}

// Load decodes path. sampleRate <= 0 keeps the file's own rate.
func (l *Loader) Load(ctx context.Context, path string, sampleRate int) (*Signal, error) {
	if strings.EqualFold(filepath.Ext(path), ".wav") {
		sig, err := ReadWAVFile(path)
		if err == nil && (sampleRate <= 0 || sig.SampleRate == sampleRate) {
			return sig, nil
		}
		if err != nil {
			logger.Debug("[Audio] native wav decode failed, trying ffmpeg", logger.String("path", path), logger.ErrorField(err))
		}
	}

	if l.proc == nil || !l.autoConvert {
		return nil, fmt.Errorf("cannot decode %s without ffmpeg conversion", path)
	}

	tmp, err := os.CreateTemp("", "nendo-*.wav")
	if err != nil {
		return nil, fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpPath := tmp.Name()
	tmp.Close()
	defer os.Remove(tmpPath)

	if err := l.proc.ConvertToWAV(ctx, path, tmpPath, sampleRate); err != nil {
		return nil, err
	}
	return ReadWAVFile(tmpPath)
}

// Probe forwards to the processor, or reads the wav header when there is none.
func (l *Loader) Probe(ctx context.Context, path string) (*ProbeInfo, error) {
	if l.proc != nil {
		return l.proc.Probe(ctx, path)
	}
	sig, err := ReadWAVFile(path)
	if err != nil {
		return nil, err
	}
	return &ProbeInfo{Codec: "pcm_s16le", SampleRate: sig.SampleRate, Channels: sig.NumChannels(), Duration: sig.Seconds()}, nil
}

// Save writes sig to path in the format given by its extension. Formats other
// than wav need a processor that implements Encoder.
func (l *Loader) Save(ctx context.Context, sig *Signal, path string) error {
	if strings.EqualFold(filepath.Ext(path), ".wav") {
		return WriteWAVFile(path, sig)
	}
	enc, ok := l.proc.(Encoder)
	if !ok {
		return fmt.Errorf("cannot write %s without ffmpeg", path)
	}

	tmp, err := os.CreateTemp("", "nendo-export-*.wav")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpPath := tmp.Name()
	tmp.Close()
	defer os.Remove(tmpPath)

	if err := WriteWAVFile(tmpPath, sig); err != nil {
		return err
	}
	return enc.Encode(ctx, tmpPath, path)
}
