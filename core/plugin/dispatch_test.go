package plugin

import (
	"context"
	"errors"
	"math"
	"testing"

	"nendo/cache"
	"nendo/core/audio"
	"nendo/core/batch"
	"nendo/core/library"
	"nendo/db"
	"nendo/errs"
	"nendo/metrics"
	"nendo/model"
	"nendo/storage"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"
	gormlogger "gorm.io/gorm/logger"
)

var testUser = uuid.MustParse("ffffffff-1111-2222-3333-1234567890ab")

func sineSignal() *audio.Signal {
	sig := audio.NewSignal(1, 400, 8000)
	for i := range sig.Channels[0] {
		sig.Channels[0][i] = float32(0.3 * math.Sin(2*math.Pi*330*float64(i)/8000))
	}
	return sig
}

var errBroken = errors.New("broken model")

func analysisPlugin() *Plugin {
	return &Plugin{
		Name: "nendo_plugin_loudness", Version: "1.0", Family: FamilyAnalysis,
		Ops: []Op{TrackOp{Name: "analyze", Run: func(ctx context.Context, env *Env, t *model.Track, _ Args) ([]*model.Track, error) {
			sig, err := env.LoadSignal(ctx, t)
			if err != nil {
				return nil, err
			}
			_, err = env.AddPluginData(ctx, t.ID, "frames", sig.Frames())
			return nil, err
		}}},
	}
}

func effectPlugin() *Plugin {
	return &Plugin{
		Name: "nendo_plugin_gain", Version: "0.1", Family: FamilyEffect,
		Ops: []Op{SignalOp{Name: "gain", Run: func(_ context.Context, _ *Env, sig *audio.Signal, args Args) (*audio.Signal, error) {
			if sig == nil {
				return sineSignal(), nil
			}
			out := sig.Clone()
			g := float32(args.Float("gain", 0.5))
			for _, ch := range out.Channels {
				for i := range ch {
					ch[i] *= g
				}
			}
			return out, nil
		}}},
	}
}

func embeddingPlugin() *Plugin {
	vec := func(text string) model.Vector { return model.Vector{float32(len(text)), 1} }
	return &Plugin{
		Name: "nendo_plugin_embed", Version: "2", Family: FamilyEmbedding,
		Ops: []Op{
			TextOp{Name: "embed_text", Run: func(_ context.Context, _ *Env, text string, _ Args) (model.Vector, error) {
				return vec(text), nil
			}},
			SignalAndTextOp{Name: "embed_audio", Run: func(_ context.Context, _ *Env, sig *audio.Signal, text string, _ Args) (model.Vector, error) {
				if sig == nil {
					return nil, errors.New("no signal")
				}
				return vec(text), nil
			}},
		},
	}
}

type DispatchSuite struct {
	suite.Suite
	ctx context.Context
	lib *library.Library
	reg *Registry
	d   *Dispatcher
}

func TestDispatchSuite(t *testing.T) {
	suite.Run(t, new(DispatchSuite))
}

func (s *DispatchSuite) SetupTest() {
	gdb, err := db.OpenSQLite(":memory:", gormlogger.Silent)
	s.Require().NoError(err)
	s.Require().NoError(db.AutoMigrateModels(gdb))
	s.T().Cleanup(func() { _ = db.Close(gdb) })

	s.ctx = context.Background()
	runner := batch.NewRunner(2, 2)
	s.lib = library.New(gdb, storage.NewLocalDriver(s.T().TempDir()), library.Options{
		UserID:            testUser,
		CopyToLibrary:     true,
		AutoConvert:       true,
		ReplacePluginData: true,
		DefaultSR:         8000,
		StreamChunkSize:   2,
		DefaultDistance:   "cosine",
	}, library.WithSignalCache(cache.NewLRUSignalCache(16)), library.WithRunner(runner))

	s.reg = NewRegistry()
	for _, p := range []*Plugin{analysisPlugin(), effectPlugin(), embeddingPlugin()} {
		_, err := s.reg.Add(p)
		s.Require().NoError(err)
	}
	s.d = NewDispatcher(s.lib, s.reg, nil, runner, metrics.New())
}

func (s *DispatchSuite) track(title string) *model.Track {
	t, err := s.lib.AddTrackFromSignal(s.ctx, sineSignal(), library.TrackOptions{Meta: map[string]interface{}{"title": title}})
	s.Require().NoError(err)
	return t
}

func (s *DispatchSuite) collection(tracks ...*model.Track) *model.Collection {
	ids := make([]uuid.UUID, len(tracks))
	for i, t := range tracks {
		ids[i] = t.ID
	}
	c, err := s.lib.AddCollection(s.ctx, "set", ids, library.CollectionOptions{})
	s.Require().NoError(err)
	return c
}

func (s *DispatchSuite) size() int64 {
	n, err := s.lib.LibrarySize(s.ctx, testUser)
	s.Require().NoError(err)
	return n
}

func (s *DispatchSuite) TestAnalysisOnTrackAnnotatesInPlace() {
	t := s.track("a")

	res, err := s.d.Call(s.ctx, "loudness", Call{TrackID: t.ID})
	s.Require().NoError(err)
	s.Equal(ResultTrack, res.Kind)
	s.Equal(t.ID, res.Track.ID)
	v, ok := res.Track.GetPluginValue("frames")
	s.True(ok)
	s.Equal("400", v)
	s.Equal("nendo_plugin_loudness", res.Track.PluginData[0].PluginName)
}

func (s *DispatchSuite) TestAnalysisOnCollectionReturnsOriginal() {
	a, b := s.track("a"), s.track("b")
	c := s.collection(a, b)

	res, err := s.d.Call(s.ctx, "nendo_plugin_loudness", Call{ID: c.ID})
	s.Require().NoError(err)
	s.Equal(ResultCollection, res.Kind)
	s.Equal(c.ID, res.Collection.ID)

	for _, id := range []uuid.UUID{a.ID, b.ID} {
		tr, err := s.lib.GetTrack(s.ctx, id)
		s.Require().NoError(err)
		s.True(tr.HasMeta("title"))
		_, ok := tr.GetPluginValue("frames")
		s.True(ok)
	}
}

func (s *DispatchSuite) TestEffectOnTrackAddsRelatedTrack() {
	t := s.track("a")

	res, err := s.d.Call(s.ctx, "gain", Call{Track: t})
	s.Require().NoError(err)
	s.Require().Equal(ResultTrack, res.Kind)
	s.NotEqual(t.ID, res.Track.ID)
	s.Require().Len(res.Track.RelatedTracks, 1)
	s.Equal(t.ID, res.Track.RelatedTracks[0].TargetID)
	s.Equal(model.DefaultRelationshipType, res.Track.RelatedTracks[0].RelationshipType)

	res, err = s.d.Call(s.ctx, "gain", Call{Track: t, RelationshipType: "louder", Args: Args{"gain": 2.0}})
	s.Require().NoError(err)
	s.Equal("louder", res.Track.RelatedTracks[0].RelationshipType)

	sig, err := s.lib.LoadSignal(s.ctx, res.Track)
	s.Require().NoError(err)
	orig := sineSignal()
	s.InDelta(2*orig.Channels[0][10], sig.Channels[0][10], 1e-3)
}

func (s *DispatchSuite) TestEffectOnCollectionBuildsTempCollection() {
	a, b := s.track("a"), s.track("b")
	c := s.collection(a, b)

	res, err := s.d.Call(s.ctx, "gain", Call{CollectionID: c.ID})
	s.Require().NoError(err)
	s.Require().Equal(ResultCollection, res.Kind)
	s.NotEqual(c.ID, res.Collection.ID)
	s.Equal(model.TempCollectionName, res.Collection.Name)
	s.True(res.Collection.IsTemp())
	s.Len(res.Collection.RelatedTracks, 2)
	for i, rel := range res.Collection.RelatedTracks {
		s.Equal(i, rel.Position)
	}
	s.EqualValues(4, s.size())
}

func (s *DispatchSuite) TestRawSignalDoesNotTouchLibrary() {
	s.track("a")
	before := s.size()

	res, err := s.d.Call(s.ctx, "gain", Call{Signal: sineSignal()})
	s.Require().NoError(err)
	s.Equal(ResultSignal, res.Kind)
	s.Equal(400, res.Signal.Frames())
	s.Equal(before, s.size())
}

func (s *DispatchSuite) TestGenerateWithoutTarget() {
	res, err := s.d.Call(s.ctx, "gain", Call{})
	s.Require().NoError(err)
	s.Require().Equal(ResultTrack, res.Kind)
	s.Equal("nendo_plugin_gain", res.Track.MetaString("plugin"))
	s.EqualValues(1, s.size())
}

func (s *DispatchSuite) TestEmbeddingOnTrackReplaces() {
	t := s.track("song")

	res, err := s.d.Call(s.ctx, "embed", Call{TrackID: t.ID})
	s.Require().NoError(err)
	s.Require().Equal(ResultEmbeddings, res.Kind)
	s.Require().Len(res.Embeddings, 1)
	s.Equal("title: song; duration: 0.05; ", res.Embeddings[0].Text)
	s.Equal("nendo_plugin_embed", res.Embeddings[0].PluginName)

	_, err = s.d.Call(s.ctx, "embed", Call{TrackID: t.ID})
	s.Require().NoError(err)
	es, err := s.lib.GetEmbeddings(s.ctx, t.ID, "nendo_plugin_embed", "2")
	s.Require().NoError(err)
	s.Len(es, 1)
}

func (s *DispatchSuite) TestEmbeddingOnCollection() {
	c := s.collection(s.track("a"), s.track("b"))

	res, err := s.d.Call(s.ctx, "embed", Call{CollectionID: c.ID})
	s.Require().NoError(err)
	s.Equal(ResultEmbeddings, res.Kind)
	s.Len(res.Embeddings, 2)
}

func (s *DispatchSuite) TestTextOnlyReturnsVector() {
	res, err := s.d.Call(s.ctx, "embed", Call{Text: "calm piano"})
	s.Require().NoError(err)
	s.Equal(ResultVector, res.Kind)
	s.Equal(model.Vector{10, 1}, res.Vector)
	s.EqualValues(0, s.size())
}

func (s *DispatchSuite) TestAmbiguousCallIsRefused() {
	calls := 0
	count := func(context.Context, *Env, *model.Track, Args) ([]*model.Track, error) {
		calls++
		return nil, nil
	}
	_, err := s.reg.Add(&Plugin{Name: "nendo_plugin_twice", Ops: []Op{
		TrackOp{Name: "first", Run: count},
		TrackOp{Name: "second", Run: count},
	}})
	s.Require().NoError(err)
	t := s.track("a")

	res, err := s.d.Call(s.ctx, "twice", Call{TrackID: t.ID})
	s.Require().NoError(err)
	s.Equal(ResultAmbiguous, res.Kind)
	s.Len(res.CallForms, 2)
	s.Zero(calls)

	res, err = s.d.CallOp(s.ctx, "twice", "second", Call{TrackID: t.ID})
	s.Require().NoError(err)
	s.Equal(ResultTrack, res.Kind)
	s.Equal(1, calls)

	_, err = s.d.CallOp(s.ctx, "twice", "third", Call{TrackID: t.ID})
	s.True(errors.Is(err, errs.ErrPluginLoading))
}

func (s *DispatchSuite) TestPluginFailuresBecomeRuntimeErrors() {
	_, err := s.reg.Add(&Plugin{Name: "panics", Ops: []Op{UtilityOp{Name: "boom", Run: func(context.Context, *Env, Args) (interface{}, error) {
		panic("index out of range")
	}}}})
	s.Require().NoError(err)
	_, err = s.reg.Add(&Plugin{Name: "fails", Ops: []Op{UtilityOp{Name: "fail", Run: func(context.Context, *Env, Args) (interface{}, error) {
		return nil, errBroken
	}}}})
	s.Require().NoError(err)

	_, err = s.d.Call(s.ctx, "panics", Call{})
	s.True(errors.Is(err, errs.ErrPluginRuntime))
	s.Contains(err.Error(), "index out of range")

	_, err = s.d.Call(s.ctx, "fails", Call{})
	s.True(errors.Is(err, errs.ErrPluginRuntime))
	s.True(errors.Is(err, errBroken))
}

func (s *DispatchSuite) TestInvalidCalls() {
	t := s.track("a")
	c := s.collection(t)

	_, err := s.d.Call(s.ctx, "gain", Call{TrackID: t.ID, CollectionID: c.ID})
	s.True(errors.Is(err, ErrInvalidCall))

	_, err = s.d.Call(s.ctx, "gain", Call{TrackID: uuid.New()})
	s.True(errors.Is(err, errs.ErrNotFound))

	_, err = s.d.Call(s.ctx, "missing", Call{})
	s.True(errors.Is(err, errs.ErrPluginLoading))
}

func (s *DispatchSuite) TestCallMany() {
	ids := []uuid.UUID{s.track("a").ID, s.track("b").ID, s.track("c").ID}

	results, err := s.d.CallMany(s.ctx, "loudness", ids, Call{})
	s.Require().NoError(err)
	s.Len(results, 3)
	seen := map[uuid.UUID]bool{}
	for _, r := range results {
		seen[r.Track.ID] = true
	}
	s.Len(seen, 3)
}

func (s *DispatchSuite) TestNearestByText() {
	short, long := s.track("ab"), s.track("a much longer title")
	for _, t := range []*model.Track{short, long} {
		_, err := s.d.Call(s.ctx, "embed", Call{TrackID: t.ID})
		s.Require().NoError(err)
	}

	scored, err := s.d.NearestByText(s.ctx, "title: ab; duration: 0.05; ", library.NearestQuery{Metric: "l2", Limit: 1})
	s.Require().NoError(err)
	s.Require().Len(scored, 1)
	s.Equal(short.ID, scored[0].Track.ID)
}

func TestEmbeddingPluginSelection(t *testing.T) {
	r := NewRegistry()
	d := NewDispatcher(nil, r, nil, nil, nil)
	_, err := d.EmbeddingPlugin()
	assert.True(t, errors.Is(err, errs.ErrPluginLoading))

	_, err = r.Add(embeddingPlugin())
	require.NoError(t, err)
	reg, err := d.EmbeddingPlugin()
	require.NoError(t, err)
	assert.Equal(t, "nendo_plugin_embed", reg.Name)
}
