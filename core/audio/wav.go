package audio

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"

	goaudio "github.com/go-audio/audio"
	"github.com/go-audio/wav"
)

const (
	wavBitDepth  = 16
	wavPCMFormat = 1
)

// EncodeWAV writes sig as 16 bit PCM.
func EncodeWAV(w io.WriteSeeker, sig *Signal) error {
	if err := sig.Validate(); err != nil {
		return err
	}
	channels := sig.NumChannels()
	frames := sig.Frames()

	data := make([]int, 0, channels*frames)
	scale := float32(int(1)<<(wavBitDepth-1) - 1)
	for i := 0; i < frames; i++ {
		for c := 0; c < channels; c++ {
			v := sig.Channels[c][i]
			if v > 1 {
				v = 1
			} else if v < -1 {
				v = -1
			}
			data = append(data, int(v*scale))
		}
	}

	enc := wav.NewEncoder(w, sig.SampleRate, wavBitDepth, channels, wavPCMFormat)
	buf := &goaudio.IntBuffer{
		Format:         &goaudio.Format{NumChannels: channels, SampleRate: sig.SampleRate},
		Data:           data,
		SourceBitDepth: wavBitDepth,
	}
	if err := enc.Write(buf); err != nil {
		return fmt.Errorf("failed to encode wav: %w", err)
	}
	return enc.Close()
}

// DecodeWAV reads a PCM wav stream.
func DecodeWAV(r io.ReadSeeker) (*Signal, error) {
	dec := wav.NewDecoder(r)
	if !dec.IsValidFile() {
		return nil, errors.New("not a valid wav file")
	}
	buf, err := dec.FullPCMBuffer()
	if err != nil {
		return nil, fmt.Errorf("failed to decode wav: %w", err)
	}

	channels := int(dec.NumChans)
	if channels == 0 {
		return nil, errors.New("wav file has no channels")
	}
	frames := len(buf.Data) / channels
	sig := NewSignal(channels, frames, int(dec.SampleRate))

	scale := float32(int(1) << (int(dec.BitDepth) - 1))
	for i := 0; i < frames; i++ {
		for c := 0; c < channels; c++ {
			sig.Channels[c][i] = float32(buf.Data[i*channels+c]) / scale
		}
	}
	return sig, nil
}

// WAVBytes encodes sig into memory.
func WAVBytes(sig *Signal) ([]byte, error) {
	var ws writeSeeker
	if err := EncodeWAV(&ws, sig); err != nil {
		return nil, err
	}
	return ws.buf, nil
}

// SignalFromWAVBytes decodes an in-memory wav file.
func SignalFromWAVBytes(b []byte) (*Signal, error) {
	return DecodeWAV(bytes.NewReader(b))
}

// WriteWAVFile writes sig to path.
func WriteWAVFile(path string, sig *Signal) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := EncodeWAV(f, sig); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

// ReadWAVFile decodes the wav file at path.
func ReadWAVFile(path string) (*Signal, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return DecodeWAV(f)
}

// writeSeeker is the in-memory io.WriteSeeker the wav encoder needs to patch
// its header after the data chunk is written.
type writeSeeker struct {
	buf []byte
	pos int
}

func (w *writeSeeker) Write(p []byte) (int, error) {
	end := w.pos + len(p)
	if end > len(w.buf) {
		w.buf = append(w.buf, make([]byte, end-len(w.buf))...)
	}
	copy(w.buf[w.pos:end], p)
	w.pos = end
	return len(p), nil
}

func (w *writeSeeker) Seek(offset int64, whence int) (int64, error) {
	var abs int64
	switch whence {
	case io.SeekStart:
		abs = offset
	case io.SeekCurrent:
		abs = int64(w.pos) + offset
	case io.SeekEnd:
		abs = int64(len(w.buf)) + offset
	default:
		return 0, errors.New("invalid whence")
	}
	if abs < 0 {
		return 0, errors.New("negative position")
	}
	w.pos = int(abs)
	return abs, nil
}
