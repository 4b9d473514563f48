package audio

import (
	"context"
	"math"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sine(frames, sr int) *Signal {
	sig := NewSignal(2, frames, sr)
	for i := 0; i < frames; i++ {
		v := float32(0.5 * math.Sin(2*math.Pi*440*float64(i)/float64(sr)))
		sig.Channels[0][i] = v
		sig.Channels[1][i] = -v
	}
	return sig
}

func TestWAVRoundTrip(t *testing.T) {
	in := sine(2205, 22050)

	b, err := WAVBytes(in)
	require.NoError(t, err)

	out, err := SignalFromWAVBytes(b)
	require.NoError(t, err)
	assert.Equal(t, 22050, out.SampleRate)
	assert.Equal(t, 2, out.NumChannels())
	assert.Equal(t, in.Frames(), out.Frames())
	for i := 0; i < in.Frames(); i += 97 {
		assert.InDelta(t, in.Channels[0][i], out.Channels[0][i], 1e-3)
		assert.InDelta(t, in.Channels[1][i], out.Channels[1][i], 1e-3)
	}
	assert.InDelta(t, 0.1, out.Seconds(), 1e-9)
}

func TestWAVFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tone.wav")
	require.NoError(t, WriteWAVFile(path, sine(100, 8000)))

	sig, err := ReadWAVFile(path)
	require.NoError(t, err)
	assert.Equal(t, 100, sig.Frames())
}

func TestEncodeRejectsRaggedSignal(t *testing.T) {
	sig := &Signal{Channels: [][]float32{{0, 0}, {0}}, SampleRate: 8000}
	_, err := WAVBytes(sig)
	assert.Error(t, err)
}

func TestSignalClone(t *testing.T) {
	sig := sine(10, 8000)
	c := sig.Clone()
	c.Channels[0][0] = 1
	assert.NotEqual(t, sig.Channels[0][0], c.Channels[0][0])
}

func TestIsSupported(t *testing.T) {
	assert.True(t, IsSupported("/music/a.WAV"))
	assert.True(t, IsSupported("b.flac"))
	assert.False(t, IsSupported("notes.txt"))
	assert.False(t, IsSupported("noext"))
}

func TestParseProbe(t *testing.T) {
	raw := []byte(`{"streams":[{"codec_name":"mp3","sample_rate":"44100","channels":2}],"format":{"duration":"12.500000"}}`)
	info, err := parseProbe("a.mp3", raw)
	require.NoError(t, err)
	assert.Equal(t, &ProbeInfo{Codec: "mp3", SampleRate: 44100, Channels: 2, Duration: 12.5}, info)

	_, err = parseProbe("a.mp3", []byte(`{"streams":[]}`))
	assert.Error(t, err)
}

func TestConvertArgs(t *testing.T) {
	args := convertArgs("in.mp3", "out.wav", 22050)
	assert.Equal(t, []string{"-y", "-v", "error", "-i", "in.mp3", "-vn", "-ar", "22050", "-acodec", "pcm_s16le", "-f", "wav", "out.wav"}, args)
	assert.NotContains(t, convertArgs("in.mp3", "out.wav", 0), "-ar")
}

func TestLoaderWithoutProcessor(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "tone.wav")
	require.NoError(t, WriteWAVFile(path, sine(400, 8000)))

	l := NewLoader(nil, true)
	sig, err := l.Load(context.Background(), path, 0)
	require.NoError(t, err)
	assert.Equal(t, 8000, sig.SampleRate)

	_, err = l.Load(context.Background(), path, 16000)
	assert.Error(t, err, "resampling needs ffmpeg")

	info, err := l.Probe(context.Background(), path)
	require.NoError(t, err)
	assert.InDelta(t, 0.05, info.Duration, 1e-9)
}

func TestLoaderResamplesWithFFmpeg(t *testing.T) {
	proc := NewFFmpegProcessor(os.Getenv("FFMPEG_PATH"))
	if !proc.Available() {
		t.Skip("ffmpeg not installed")
	}
	path := filepath.Join(t.TempDir(), "tone.wav")
	require.NoError(t, WriteWAVFile(path, sine(8000, 8000)))

	sig, err := NewLoader(proc, true).Load(context.Background(), path, 16000)
	require.NoError(t, err)
	assert.Equal(t, 16000, sig.SampleRate)
	assert.InDelta(t, 1.0, sig.Seconds(), 0.01)
}

func TestEncodeArgs(t *testing.T) {
	assert.Equal(t, []string{"-y", "-v", "error", "-i", "a.wav", "-vn", "-acodec", "libmp3lame", "b.mp3"}, encodeArgs("a.wav", "b.mp3"))
	assert.Equal(t, []string{"-y", "-v", "error", "-i", "a.wav", "-vn", "b.aiff"}, encodeArgs("a.wav", "b.aiff"))
}

func TestLoaderSaveWithoutEncoder(t *testing.T) {
	dir := t.TempDir()
	l := NewLoader(nil, true)
	require.NoError(t, l.Save(context.Background(), sine(100, 8000), filepath.Join(dir, "out.wav")))
	assert.FileExists(t, filepath.Join(dir, "out.wav"))
	assert.Error(t, l.Save(context.Background(), sine(100, 8000), filepath.Join(dir, "out.mp3")))
}
