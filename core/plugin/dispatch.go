package plugin

import (
	"context"
	"errors"
	"fmt"
	"time"

	"nendo/config"
	"nendo/core/audio"
	"nendo/core/batch"
	"nendo/core/library"
	"nendo/errs"
	"nendo/logger"
	"nendo/metrics"
	"nendo/model"

	"github.com/google/uuid"
)

// ErrInvalidCall is returned for calls that name conflicting targets.
var ErrInvalidCall = errors.New("invalid plugin call")

// Call is one invocation of a plugin. At most one target is given: a track
// (Track or TrackID), a collection (Collection or CollectionID) or an ID
// that may be either. Signal and Text feed signal and text shaped ops.
type Call struct {
	TrackID      uuid.UUID
	Track        *model.Track
	CollectionID uuid.UUID
	Collection   *model.Collection
	ID           uuid.UUID

	Signal *audio.Signal
	Text   string

	// RelationshipType tags tracks derived from a target track.
	RelationshipType string
	Args             Args
	UserID           uuid.UUID
}

// ResultKind says which field of a Result is set.
type ResultKind string

const (
	ResultNone       ResultKind = "none"
	ResultTrack      ResultKind = "track"
	ResultTracks     ResultKind = "tracks"
	ResultCollection ResultKind = "collection"
	ResultSignal     ResultKind = "signal"
	ResultVector     ResultKind = "vector"
	ResultEmbeddings ResultKind = "embeddings"
	ResultValue      ResultKind = "value"
	// ResultAmbiguous means no op was run; CallForms lists the valid ones.
	ResultAmbiguous ResultKind = "ambiguous"
)

// Result is the normalized outcome of a call.
type Result struct {
	Kind       ResultKind         `json:"kind"`
	Track      *model.Track       `json:"track,omitempty"`
	Tracks     []*model.Track     `json:"tracks,omitempty"`
	Collection *model.Collection  `json:"collection,omitempty"`
	Signal     *audio.Signal      `json:"-"`
	Vector     model.Vector       `json:"vector,omitempty"`
	Embeddings []*model.Embedding `json:"embeddings,omitempty"`
	Value      interface{}        `json:"value,omitempty"`
	CallForms  []string           `json:"call_forms,omitempty"`
}

// Dispatcher resolves calls to plugin ops and writes their results back
// into the library.
type Dispatcher struct {
	lib      *library.Library
	cfg      *config.Config
	registry *Registry
	runner   *batch.Runner
	metrics  *metrics.Metrics
}

// NewDispatcher wires a dispatcher. cfg, runner and m may be nil.
func NewDispatcher(lib *library.Library, registry *Registry, cfg *config.Config, runner *batch.Runner, m *metrics.Metrics) *Dispatcher {
	if runner == nil {
		runner = batch.NewRunner(1, 10)
	}
	return &Dispatcher{lib: lib, cfg: cfg, registry: registry, runner: runner, metrics: m}
}

// Registry returns the registry the dispatcher resolves names with.
func (d *Dispatcher) Registry() *Registry {
	return d.registry
}

// target is the resolved entity a call applies to.
type target struct {
	track      *model.Track
	collection *model.Collection
}

func (t target) none() bool { return t.track == nil && t.collection == nil }

func (d *Dispatcher) resolveTarget(ctx context.Context, c Call) (target, error) {
	var t target
	given := 0
	for _, set := range []bool{c.Track != nil || c.TrackID != uuid.Nil, c.Collection != nil || c.CollectionID != uuid.Nil, c.ID != uuid.Nil} {
		if set {
			given++
		}
	}
	if given > 1 {
		return t, fmt.Errorf("%w: more than one target", ErrInvalidCall)
	}

	var err error
	switch {
	case c.Track != nil:
		t.track = c.Track
	case c.TrackID != uuid.Nil:
		t.track, err = d.lib.GetTrack(ctx, c.TrackID)
	case c.Collection != nil:
		t.collection = c.Collection
	case c.CollectionID != uuid.Nil:
		t.collection, err = d.lib.GetCollection(ctx, c.CollectionID)
	case c.ID != uuid.Nil:
		t.track, t.collection, err = d.lib.GetTrackOrCollection(ctx, c.ID)
	}
	return t, err
}

func filterOps(ops []Op, kinds ...Kind) []Op {
	var out []Op
	for _, op := range ops {
		for _, k := range kinds {
			if op.Kind() == k {
				out = append(out, op)
				break
			}
		}
	}
	return out
}

// narrow keeps the ops of the given kinds, or all of them when none match.
func narrow(ops []Op, kinds ...Kind) []Op {
	if f := filterOps(ops, kinds...); len(f) > 0 {
		return f
	}
	return ops
}

// selectOps returns the candidate ops for a call. Exactly one candidate
// means the call is unambiguous.
func selectOps(ops []Op, t target, c Call) []Op {
	if len(ops) <= 1 {
		return ops
	}
	if c.Text != "" {
		if textOps := filterOps(ops, KindText, KindSignalAndText); len(textOps) > 0 {
			if c.Signal != nil {
				return narrow(textOps, KindSignalAndText)
			}
			return narrow(textOps, KindText)
		}
	}
	cands := ops
	if !t.none() {
		if f := filterOps(ops, KindTrack, KindCollection, KindSignal, KindSignalAndText, KindUtility); len(f) > 0 {
			cands = f
		}
	}
	switch {
	case t.track != nil:
		return narrow(cands, KindTrack)
	case t.collection != nil:
		return narrow(cands, KindCollection)
	case c.Signal != nil:
		return narrow(cands, KindSignal)
	default:
		return narrow(cands, KindTrack, KindUtility)
	}
}

// Call runs the plugin called name against call.
func (d *Dispatcher) Call(ctx context.Context, name string, call Call) (*Result, error) {
	return d.call(ctx, name, "", call)
}

// CallOp runs the op opName of the plugin called name, skipping op
// resolution.
func (d *Dispatcher) CallOp(ctx context.Context, name, opName string, call Call) (*Result, error) {
	if opName == "" {
		return nil, fmt.Errorf("%w: empty function name", ErrInvalidCall)
	}
	return d.call(ctx, name, opName, call)
}

func (d *Dispatcher) call(ctx context.Context, name, opName string, call Call) (*Result, error) {
	reg, err := d.registry.Get(name)
	if err != nil {
		return nil, err
	}
	p := reg.Plugin

	t, err := d.resolveTarget(ctx, call)
	if err != nil {
		return nil, err
	}

	var op Op
	if opName != "" {
		var ok bool
		if op, ok = p.Op(opName); !ok {
			return nil, errs.PluginLoading(p.Name, fmt.Sprintf("no function %q", opName))
		}
	} else {
		cands := selectOps(p.Ops, t, call)
		if len(cands) != 1 {
			forms := make([]string, len(cands))
			for i, c := range cands {
				forms[i] = CallForm(c)
			}
			logger.Warn("[Dispatch] Ambiguous plugin call",
				logger.String("plugin", p.Name),
				logger.Strings("call_forms", forms))
			return &Result{Kind: ResultAmbiguous, CallForms: forms}, nil
		}
		op = cands[0]
	}

	env := &Env{
		Library: d.lib,
		Config:  d.cfg,
		Logger:  logger.Named("plugin." + ShortName(p.Name)),
		Plugin:  p,
		UserID:  d.userID(call, t),
	}
	args := call.Args
	if args == nil {
		args = Args{}
	}

	started := time.Now()
	res, err := d.run(ctx, env, op, t, call, args)
	d.metrics.RecordPluginCall(p.Name, string(op.Kind()), time.Since(started), err)
	if err != nil {
		logger.Error("[Dispatch] Plugin call failed",
			logger.String("plugin", p.Name),
			logger.String("function", op.OpName()),
			logger.ErrorField(err))
		return nil, err
	}
	logger.Debug("[Dispatch] Plugin call done",
		logger.String("plugin", p.Name),
		logger.String("function", op.OpName()),
		logger.String("result", string(res.Kind)),
		logger.Duration("took", time.Since(started)))
	return res, nil
}

func (d *Dispatcher) userID(c Call, t target) uuid.UUID {
	switch {
	case c.UserID != uuid.Nil:
		return c.UserID
	case t.track != nil:
		return t.track.UserID
	case t.collection != nil:
		return t.collection.UserID
	}
	return d.lib.Options().UserID
}

func (d *Dispatcher) run(ctx context.Context, env *Env, op Op, t target, c Call, args Args) (*Result, error) {
	switch o := op.(type) {
	case TrackOp:
		return d.runTrack(ctx, env, o, t, args)
	case CollectionOp:
		return d.runCollection(ctx, env, o, t, args)
	case SignalOp:
		return d.runSignal(ctx, env, o, t, c, args)
	case TextOp:
		return d.runEmbedding(ctx, env, o, t, c, func(sig *audio.Signal, text string) (model.Vector, error) {
			return o.Run(ctx, env, text, args)
		})
	case SignalAndTextOp:
		return d.runEmbedding(ctx, env, o, t, c, func(sig *audio.Signal, text string) (model.Vector, error) {
			return o.Run(ctx, env, sig, text, args)
		})
	case UtilityOp:
		v, err := guard(env.Plugin.Name, o.Name, func() (interface{}, error) { return o.Run(ctx, env, args) })
		if err != nil {
			return nil, err
		}
		return &Result{Kind: ResultValue, Value: v}, nil
	}
	return nil, errs.PluginLoading(env.Plugin.Name, fmt.Sprintf("unsupported function kind %s", op.Kind()))
}

// guard converts plugin errors and panics into PluginRuntimeError.
func guard[R any](plugin, op string, fn func() (R, error)) (out R, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = errs.PluginRuntime(plugin, op, fmt.Errorf("panic: %v", r))
		}
	}()
	out, err = fn()
	if err != nil {
		err = errs.PluginRuntime(plugin, op, err)
	}
	return out, err
}

func tracksResult(tracks []*model.Track) *Result {
	switch len(tracks) {
	case 0:
		return &Result{Kind: ResultNone}
	case 1:
		return &Result{Kind: ResultTrack, Track: tracks[0]}
	}
	return &Result{Kind: ResultTracks, Tracks: tracks}
}

// tempCollection holds the outputs of one call.
func (d *Dispatcher) tempCollection(ctx context.Context, env *Env, tracks []*model.Track) (*model.Collection, error) {
	ids := make([]uuid.UUID, len(tracks))
	for i, tr := range tracks {
		ids[i] = tr.ID
	}
	return d.lib.AddCollection(ctx, model.TempCollectionName, ids, library.CollectionOptions{
		UserID:         env.UserID,
		CollectionType: model.TempCollectionType,
		Meta:           map[string]interface{}{"plugin": env.Plugin.Name},
	})
}

func (d *Dispatcher) runTrack(ctx context.Context, env *Env, op TrackOp, t target, args Args) (*Result, error) {
	apply := func(track *model.Track) ([]*model.Track, error) {
		return guard(env.Plugin.Name, op.Name, func() ([]*model.Track, error) { return op.Run(ctx, env, track, args) })
	}

	switch {
	case t.track != nil:
		outs, err := apply(t.track)
		if err != nil {
			return nil, err
		}
		if len(outs) == 0 {
			// analysis functions annotate in place
			track, err := d.lib.GetTrack(ctx, t.track.ID)
			if err != nil {
				return nil, err
			}
			return &Result{Kind: ResultTrack, Track: track}, nil
		}
		return tracksResult(outs), nil

	case t.collection != nil:
		members, err := d.lib.GetCollectionTracks(ctx, t.collection.ID)
		if err != nil {
			return nil, err
		}
		var outs []*model.Track
		for _, m := range members {
			o, err := apply(m)
			if err != nil {
				return nil, err
			}
			outs = append(outs, o...)
		}
		if len(outs) == 0 || env.Plugin.Family == FamilyAnalysis {
			c, err := d.lib.GetCollection(ctx, t.collection.ID)
			if err != nil {
				return nil, err
			}
			return &Result{Kind: ResultCollection, Collection: c}, nil
		}
		c, err := d.tempCollection(ctx, env, outs)
		if err != nil {
			return nil, err
		}
		return &Result{Kind: ResultCollection, Collection: c}, nil
	}

	outs, err := apply(nil)
	if err != nil {
		return nil, err
	}
	return tracksResult(outs), nil
}

func (d *Dispatcher) runCollection(ctx context.Context, env *Env, op CollectionOp, t target, args Args) (*Result, error) {
	in := t.collection
	if t.track != nil {
		var err error
		if in, err = d.tempCollection(ctx, env, []*model.Track{t.track}); err != nil {
			return nil, err
		}
	}
	out, err := guard(env.Plugin.Name, op.Name, func() (*model.Collection, error) { return op.Run(ctx, env, in, args) })
	if err != nil {
		return nil, err
	}
	if out == nil {
		if in == nil {
			return &Result{Kind: ResultNone}, nil
		}
		if out, err = d.lib.GetCollection(ctx, in.ID); err != nil {
			return nil, err
		}
	}
	return &Result{Kind: ResultCollection, Collection: out}, nil
}

func (d *Dispatcher) runSignal(ctx context.Context, env *Env, op SignalOp, t target, c Call, args Args) (*Result, error) {
	apply := func(sig *audio.Signal) (*audio.Signal, error) {
		return guard(env.Plugin.Name, op.Name, func() (*audio.Signal, error) { return op.Run(ctx, env, sig, args) })
	}
	derive := func(src *model.Track) (*model.Track, error) {
		sig, err := d.lib.LoadSignal(ctx, src)
		if err != nil {
			return nil, err
		}
		out, err := apply(sig)
		if err != nil {
			return nil, err
		}
		if out == nil {
			return nil, errs.PluginRuntime(env.Plugin.Name, op.Name, errors.New("returned no signal"))
		}
		return d.lib.AddRelatedTrackFromSignal(ctx, out, src.ID, library.RelationshipOptions{
			TrackOptions:     library.TrackOptions{UserID: env.UserID},
			RelationshipType: c.RelationshipType,
			RelationshipMeta: map[string]interface{}{"plugin": env.Plugin.Name, "plugin_version": env.Plugin.Version},
		})
	}

	switch {
	case t.track != nil:
		track, err := derive(t.track)
		if err != nil {
			return nil, err
		}
		return &Result{Kind: ResultTrack, Track: track}, nil

	case t.collection != nil:
		members, err := d.lib.GetCollectionTracks(ctx, t.collection.ID)
		if err != nil {
			return nil, err
		}
		outs := make([]*model.Track, 0, len(members))
		for _, m := range members {
			track, err := derive(m)
			if err != nil {
				return nil, err
			}
			outs = append(outs, track)
		}
		col, err := d.tempCollection(ctx, env, outs)
		if err != nil {
			return nil, err
		}
		return &Result{Kind: ResultCollection, Collection: col}, nil

	case c.Signal != nil:
		out, err := apply(c.Signal)
		if err != nil {
			return nil, err
		}
		return &Result{Kind: ResultSignal, Signal: out}, nil
	}

	// generators synthesize from nothing
	out, err := apply(nil)
	if err != nil {
		return nil, err
	}
	if out == nil {
		return &Result{Kind: ResultNone}, nil
	}
	track, err := d.lib.AddTrackFromSignal(ctx, out, library.TrackOptions{
		UserID: env.UserID,
		Meta:   map[string]interface{}{"plugin": env.Plugin.Name},
	})
	if err != nil {
		return nil, err
	}
	return &Result{Kind: ResultTrack, Track: track}, nil
}

func (d *Dispatcher) runEmbedding(ctx context.Context, env *Env, op Op, t target, c Call, embed func(*audio.Signal, string) (model.Vector, error)) (*Result, error) {
	apply := func(sig *audio.Signal, text string) (model.Vector, error) {
		return guard(env.Plugin.Name, op.OpName(), func() (model.Vector, error) { return embed(sig, text) })
	}
	embedTrack := func(track *model.Track) (*model.Embedding, error) {
		text := c.Text
		if text == "" {
			text = EmbeddingText(track)
		}
		sig := c.Signal
		if sig == nil && op.Kind() == KindSignalAndText {
			var err error
			if sig, err = d.lib.LoadSignal(ctx, track); err != nil {
				return nil, err
			}
		}
		vec, err := apply(sig, text)
		if err != nil {
			return nil, err
		}
		return d.lib.AddEmbedding(ctx, &model.Embedding{
			TrackID:       track.ID,
			UserID:        track.UserID,
			PluginName:    env.Plugin.Name,
			PluginVersion: env.Plugin.Version,
			Text:          text,
			Vector:        vec,
		}, nil)
	}

	switch {
	case t.track != nil:
		e, err := embedTrack(t.track)
		if err != nil {
			return nil, err
		}
		return &Result{Kind: ResultEmbeddings, Embeddings: []*model.Embedding{e}}, nil

	case t.collection != nil:
		members, err := d.lib.GetCollectionTracks(ctx, t.collection.ID)
		if err != nil {
			return nil, err
		}
		out := make([]*model.Embedding, 0, len(members))
		for _, m := range members {
			e, err := embedTrack(m)
			if err != nil {
				return nil, err
			}
			out = append(out, e)
		}
		return &Result{Kind: ResultEmbeddings, Embeddings: out}, nil
	}

	vec, err := apply(c.Signal, c.Text)
	if err != nil {
		return nil, err
	}
	return &Result{Kind: ResultVector, Vector: vec}, nil
}

// CallMany runs the plugin once per track with the batch runner. Results
// are in completion order; failing batches are skipped.
func (d *Dispatcher) CallMany(ctx context.Context, name string, trackIDs []uuid.UUID, call Call) ([]*Result, error) {
	if _, err := d.registry.Get(name); err != nil {
		return nil, err
	}
	return batch.Run(ctx, d.runner, trackIDs, func(ctx context.Context, id uuid.UUID) (*Result, error) {
		c := call
		c.TrackID, c.Track, c.CollectionID, c.Collection, c.ID = id, nil, uuid.Nil, nil, uuid.Nil
		return d.Call(ctx, name, c)
	})
}

// EmbeddingPlugin returns the configured embedding plugin, or the first
// registered plugin that embeds text.
func (d *Dispatcher) EmbeddingPlugin() (*Registered, error) {
	if d.cfg != nil && d.cfg.EmbeddingPlugin != "" {
		return d.registry.Get(d.cfg.EmbeddingPlugin)
	}
	if reg := d.registry.FindByKind(KindText); reg != nil {
		return reg, nil
	}
	return nil, errs.PluginLoading("", "no embedding plugin registered")
}

// EmbedText embeds free text with the embedding plugin.
func (d *Dispatcher) EmbedText(ctx context.Context, text string) (model.Vector, error) {
	reg, err := d.EmbeddingPlugin()
	if err != nil {
		return nil, err
	}
	res, err := d.Call(ctx, reg.Name, Call{Text: text})
	if err != nil {
		return nil, err
	}
	if res.Kind != ResultVector {
		return nil, errs.PluginRuntime(reg.Name, "embed", fmt.Errorf("expected a vector, got %s", res.Kind))
	}
	return res.Vector, nil
}

// NearestByText embeds text and returns the closest tracks with scores.
func (d *Dispatcher) NearestByText(ctx context.Context, text string, q library.NearestQuery) ([]library.ScoredTrack, error) {
	vec, err := d.EmbedText(ctx, text)
	if err != nil {
		return nil, err
	}
	if q.PluginName == "" {
		if reg, err := d.EmbeddingPlugin(); err == nil {
			q.PluginName = reg.Name
		}
	}
	return d.lib.NearestByVectorWithScore(ctx, vec, q)
}
