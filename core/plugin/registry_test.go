package plugin

import (
	"context"
	"errors"
	"sync"
	"testing"

	"nendo/errs"
	"nendo/model"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func noopTrack(name string) TrackOp {
	return TrackOp{Name: name, Run: func(context.Context, *Env, *model.Track, Args) ([]*model.Track, error) { return nil, nil }}
}

func noopText(name string) TextOp {
	return TextOp{Name: name, Run: func(context.Context, *Env, string, Args) (model.Vector, error) { return model.Vector{1}, nil }}
}

func TestShortName(t *testing.T) {
	assert.Equal(t, "classify", ShortName("nendo_plugin_classify"))
	assert.Equal(t, "other", ShortName("other"))
}

func TestRegistryLookup(t *testing.T) {
	r := NewRegistry()
	_, err := r.Add(&Plugin{Name: "nendo_plugin_classify", Version: "1.0", Family: FamilyAnalysis, Ops: []Op{noopTrack("classify")}})
	require.NoError(t, err)
	_, err = r.Add(&Plugin{Name: "nendo_plugin_embed", Version: "0.2", Family: FamilyEmbedding, Ops: []Op{noopText("embed")}})
	require.NoError(t, err)

	full, err := r.Get("nendo_plugin_classify")
	require.NoError(t, err)
	short, err := r.Get("classify")
	require.NoError(t, err)
	assert.Same(t, full, short)
	assert.Equal(t, "1.0", short.Version)

	assert.Equal(t, []string{"nendo_plugin_classify", "nendo_plugin_embed"}, r.AllNames())
	assert.Equal(t, "nendo_plugin_embed", r.FindByKind(KindText).Name)
	assert.Nil(t, r.FindByKind(KindSignal))
	assert.Contains(t, r.String(), "nendo_plugin_embed - version 0.2 (embedding)")

	require.NoError(t, r.Remove("classify"))
	_, err = r.Get("nendo_plugin_classify")
	assert.True(t, errors.Is(err, errs.ErrPluginLoading))
	assert.Equal(t, 1, r.Len())
	assert.Error(t, r.Remove("classify"))
}

func TestRegistryReplaceKeepsOrder(t *testing.T) {
	r := NewRegistry()
	for _, v := range []string{"1", "2"} {
		_, err := r.Add(&Plugin{Name: "a", Version: v, Ops: []Op{noopTrack("run")}})
		require.NoError(t, err)
	}
	_, err := r.Add(&Plugin{Name: "b", Ops: []Op{noopTrack("run")}})
	require.NoError(t, err)

	assert.Equal(t, []string{"a", "b"}, r.AllNames())
	reg, err := r.Get("a")
	require.NoError(t, err)
	assert.Equal(t, "2", reg.Version)
}

func TestRegistryValidation(t *testing.T) {
	r := NewRegistry()

	_, err := r.Add(&Plugin{Name: "empty"})
	assert.True(t, errors.Is(err, errs.ErrPluginLoading))

	_, err = r.Add(&Plugin{Name: "dup", Ops: []Op{noopTrack("run"), noopTrack("run")}})
	assert.True(t, errors.Is(err, errs.ErrPluginLoading))

	_, err = r.Add(&Plugin{Name: "keyed", Ops: []Op{noopTrack("run")}, RequiredConfig: []string{"api_key"}})
	var cfgErr *errs.PluginConfigError
	require.True(t, errors.As(err, &cfgErr))
	assert.Equal(t, "api_key", cfgErr.Key)

	_, err = r.Add(&Plugin{Name: "keyed", Ops: []Op{noopTrack("run")}, RequiredConfig: []string{"api_key"}, Config: map[string]string{"api_key": "x"}})
	assert.NoError(t, err)
}

func TestRegistryConcurrentAccess(t *testing.T) {
	r := NewRegistry()
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			name := "p" + string(rune('a'+i))
			_, _ = r.Add(&Plugin{Name: name, Ops: []Op{noopTrack("run")}})
			_, _ = r.Get(name)
			_ = r.AllNames()
		}(i)
	}
	wg.Wait()
	assert.Equal(t, 8, r.Len())
}

func TestSelectOps(t *testing.T) {
	track := TrackOp{Name: "track"}
	coll := CollectionOp{Name: "collection"}
	sig := SignalOp{Name: "signal"}
	text := TextOp{Name: "text"}
	both := SignalAndTextOp{Name: "both"}
	util := UtilityOp{Name: "util"}

	onTrack := target{track: &model.Track{}}
	onCollection := target{collection: &model.Collection{}}

	cases := []struct {
		name string
		ops  []Op
		t    target
		call Call
		want []string
	}{
		{"single op is used", []Op{text}, onTrack, Call{}, []string{"text"}},
		{"text prefers text op", []Op{track, text}, target{}, Call{Text: "x"}, []string{"text"}},
		{"text and signal prefer both", []Op{text, both}, target{}, Call{Text: "x", Signal: sineSignal()}, []string{"both"}},
		{"track drops text only ops", []Op{text, both}, onTrack, Call{}, []string{"both"}},
		{"track prefers track op", []Op{track, coll, sig}, onTrack, Call{}, []string{"track"}},
		{"collection prefers collection op", []Op{track, coll}, onCollection, Call{}, []string{"collection"}},
		{"raw signal prefers signal op", []Op{track, sig}, target{}, Call{Signal: sineSignal()}, []string{"signal"}},
		{"no target prefers track or utility", []Op{sig, track}, target{}, Call{}, []string{"track"}},
		{"two track ops are ambiguous", []Op{track, TrackOp{Name: "other"}}, onTrack, Call{}, []string{"track", "other"}},
		{"track and utility without target are ambiguous", []Op{track, util}, target{}, Call{}, []string{"track", "util"}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			var got []string
			for _, op := range selectOps(tc.ops, tc.t, tc.call) {
				got = append(got, op.OpName())
			}
			assert.Equal(t, tc.want, got)
		})
	}
}

func TestEmbeddingText(t *testing.T) {
	track := &model.Track{
		Meta: model.JSONMap{"title": "Song", "artist": "Band", "ignored": "x"},
		PluginData: []model.PluginData{
			{Key: "tempo", Value: "120"},
			{Key: "key", Value: "C"},
		},
	}
	assert.Equal(t, "artist: Band; title: Song; tempo: 120; key: C; ", EmbeddingText(track))
	assert.Equal(t, "", EmbeddingText(&model.Track{}))
}

func TestArgs(t *testing.T) {
	a := Args{"gain": 2, "mode": "fast"}
	assert.Equal(t, 2.0, a.Float("gain", 1))
	assert.Equal(t, 1.0, a.Float("missing", 1))
	assert.Equal(t, "fast", a.String("mode", ""))
	assert.Equal(t, "slow", a.String("missing", "slow"))
}
