package builtin

import (
	"context"
	"math"
	"testing"

	"nendo/core/audio"
	"nendo/core/plugin"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLevels(t *testing.T) {
	sig := audio.NewSignal(1, 4, 8000)
	copy(sig.Channels[0], []float32{0.5, -0.5, 0.5, -0.5})
	rms, peak := Levels(sig)
	assert.InDelta(t, 0.5, rms, 1e-9)
	assert.InDelta(t, 0.5, peak, 1e-9)

	rms, peak = Levels(&audio.Signal{SampleRate: 8000})
	assert.Zero(t, rms)
	assert.Zero(t, peak)
}

func TestSine(t *testing.T) {
	sig := Sine(440, 0.5, 8000)
	assert.Equal(t, 4000, sig.Frames())
	_, peak := Levels(sig)
	assert.InDelta(t, 0.5, peak, 1e-2)
	assert.Equal(t, 1, Sine(440, 0, 8000).Frames())
}

func TestGainClips(t *testing.T) {
	op, ok := Gain().Op("apply")
	require.True(t, ok)
	sig := audio.NewSignal(1, 2, 8000)
	copy(sig.Channels[0], []float32{0.25, -0.75})

	out, err := op.(plugin.SignalOp).Run(context.Background(), nil, sig, plugin.Args{"gain": 2})
	require.NoError(t, err)
	assert.Equal(t, []float32{0.5, -1}, out.Channels[0])
	assert.Equal(t, []float32{0.25, -0.75}, sig.Channels[0], "input is untouched")
}

func TestHashEmbed(t *testing.T) {
	a := HashEmbed("Calm piano, calm strings")
	require.Len(t, a, TextVecDims)
	var norm float64
	for _, v := range a {
		norm += float64(v * v)
	}
	assert.InDelta(t, 1, math.Sqrt(norm), 1e-5)
	assert.Equal(t, a, HashEmbed("calm PIANO calm strings"))
	assert.Equal(t, make([]float32, TextVecDims), []float32(HashEmbed("  ;; ")))
}

func TestSelect(t *testing.T) {
	all, err := Select(nil)
	require.NoError(t, err)
	assert.Len(t, all, 4)

	some, err := Select([]string{"gain", "nendo_plugin_textvec"})
	require.NoError(t, err)
	require.Len(t, some, 2)
	assert.Equal(t, GainName, some[0].Name)
	assert.Equal(t, TextVecName, some[1].Name)

	_, err = Select([]string{"reverb"})
	assert.Error(t, err)
}

func TestBuiltinsRegister(t *testing.T) {
	r := plugin.NewRegistry()
	for _, p := range All() {
		_, err := r.Add(p)
		require.NoError(t, err)
	}
	assert.Equal(t, TextVecName, r.FindByKind(plugin.KindText).Name)
	assert.Equal(t, GainName, r.FindByKind(plugin.KindSignal).Name)
}
