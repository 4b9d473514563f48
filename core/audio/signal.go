package audio

import (
	"fmt"
	"time"
)

// Signal is a decoded waveform: one slice of samples in [-1, 1] per channel.
type Signal struct {
	Channels   [][]float32
	SampleRate int
}

// NewSignal allocates a silent signal.
func NewSignal(channels, frames, sampleRate int) *Signal {
	s := &Signal{Channels: make([][]float32, channels), SampleRate: sampleRate}
	for i := range s.Channels {
		s.Channels[i] = make([]float32, frames)
	}
	return s
}

// NumChannels returns the channel count.
func (s *Signal) NumChannels() int {
	return len(s.Channels)
}

// Frames returns the number of samples per channel.
func (s *Signal) Frames() int {
	if len(s.Channels) == 0 {
		return 0
	}
	return len(s.Channels[0])
}

// Duration is the playing time of the signal.
func (s *Signal) Duration() time.Duration {
	if s.SampleRate <= 0 {
		return 0
	}
	return time.Duration(float64(s.Frames()) / float64(s.SampleRate) * float64(time.Second))
}

// Seconds is Duration as a float, the unit stored in track metadata.
func (s *Signal) Seconds() float64 {
	if s.SampleRate <= 0 {
		return 0
	}
	return float64(s.Frames()) / float64(s.SampleRate)
}

// Clone deep-copies the samples.
func (s *Signal) Clone() *Signal {
	out := &Signal{Channels: make([][]float32, len(s.Channels)), SampleRate: s.SampleRate}
	for i, ch := range s.Channels {
		out.Channels[i] = append([]float32(nil), ch...)
	}
	return out
}

// Validate checks that all channels have the same length.
func (s *Signal) Validate() error {
	if s.SampleRate <= 0 {
		return fmt.Errorf("invalid sample rate %d", s.SampleRate)
	}
	if len(s.Channels) == 0 {
		return fmt.Errorf("signal has no channels")
	}
	n := len(s.Channels[0])
	for i, ch := range s.Channels {
		if len(ch) != n {
			return fmt.Errorf("channel %d has %d frames, expected %d", i, len(ch), n)
		}
	}
	return nil
}
