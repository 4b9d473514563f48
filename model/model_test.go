package model

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestJSONMapScan(t *testing.T) {
	tests := []struct {
		name  string
		value interface{}
		want  JSONMap
	}{
		{"bytes", []byte(`{"title":"Intro","bpm":120}`), JSONMap{"title": "Intro", "bpm": float64(120)}},
		{"string", `{"genre":"house"}`, JSONMap{"genre": "house"}},
		{"nil", nil, JSONMap{}},
		{"null", "null", JSONMap{}},
		{"empty", []byte{}, JSONMap{}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var m JSONMap
			require.NoError(t, m.Scan(tt.value))
			assert.Equal(t, tt.want, m)
		})
	}

	var m JSONMap
	assert.Error(t, m.Scan(42))
}

func TestJSONMapValueOfNilIsEmptyObject(t *testing.T) {
	var m JSONMap
	v, err := m.Value()
	require.NoError(t, err)
	assert.Equal(t, "{}", v)
}

func TestResourceRoundTripKeepsMeta(t *testing.T) {
	r := NewResource("/lib/user", "a.wav", ResourceAudio, LocationLocal, JSONMap{"original_checksum": "abc"})
	v, err := r.Value()
	require.NoError(t, err)

	var out Resource
	require.NoError(t, out.Scan(v))
	assert.Equal(t, r.ID, out.ID)
	assert.Equal(t, LocationLocal, out.Location)
	assert.Equal(t, "abc", out.Meta["original_checksum"])
	assert.Equal(t, filepath.Join("/lib/user", "a.wav"), out.Src())
}

func TestTrackPluginValueUsesLatestUpdate(t *testing.T) {
	now := time.Now()
	tr := Track{
		ID: uuid.New(),
		PluginData: []PluginData{
			{Key: "tempo", Value: "120", PluginName: "nendo_plugin_classify_core", UpdatedAt: now.Add(-time.Minute)},
			{Key: "tempo", Value: "124", PluginName: "nendo_plugin_classify_core", UpdatedAt: now},
			{Key: "key", Value: "A minor", PluginName: "nendo_plugin_classify_core", UpdatedAt: now},
		},
	}

	v, ok := tr.GetPluginValue("tempo")
	assert.True(t, ok)
	assert.Equal(t, "124", v)

	_, ok = tr.GetPluginValue("loudness")
	assert.False(t, ok)

	assert.Len(t, tr.GetPluginData(PluginDataFilter{Key: "tempo"}), 2)
	assert.Len(t, tr.GetPluginData(PluginDataFilter{PluginName: "other"}), 0)
}

func TestTrackMeta(t *testing.T) {
	tr := Track{}
	assert.False(t, tr.HasMeta("title"))
	tr.SetMeta(map[string]interface{}{"title": "Intro", "year": 1999})
	assert.Equal(t, "Intro", tr.MetaString("title"))
	assert.Equal(t, "1999", tr.MetaString("year"))
	assert.Contains(t, tr.String(), "title: Intro")
}

func TestCollectionTrackIDsFollowPositions(t *testing.T) {
	a, b := uuid.New(), uuid.New()
	c := Collection{RelatedTracks: []TrackCollectionRelationship{
		{SourceID: a, Position: 0},
		{SourceID: b, Position: 1},
	}}
	assert.Equal(t, []uuid.UUID{a, b}, c.TrackIDs())
	assert.False(t, c.IsTemp())
}

func TestVectorScan(t *testing.T) {
	var v Vector
	require.NoError(t, v.Scan("[0.5,1,-2]"))
	assert.Equal(t, Vector{0.5, 1, -2}, v)
	assert.True(t, VisibilityDeleted.Valid())
	assert.False(t, Visibility("hidden").Valid())
}
