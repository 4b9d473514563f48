// Package plugin holds the plugin registry and the dispatcher that runs
// plugin functions against tracks, collections, signals and text.
package plugin

import (
	"context"
	"fmt"

	"nendo/core/audio"
	"nendo/model"
)

// Family groups plugins by what they do to the library.
type Family string

const (
	FamilyAnalysis  Family = "analysis"
	FamilyGenerate  Family = "generate"
	FamilyEffect    Family = "effect"
	FamilyEmbedding Family = "embedding"
	FamilyUtility   Family = "utility"
)

// Kind is the input shape an op expects.
type Kind string

const (
	KindTrack         Kind = "track"
	KindCollection    Kind = "collection"
	KindSignal        Kind = "signal"
	KindText          Kind = "text"
	KindSignalAndText Kind = "signal_and_text"
	KindUtility       Kind = "utility"
)

// Args are the free-form arguments of a call.
type Args map[string]interface{}

// String returns the argument as a string, or fallback.
func (a Args) String(key, fallback string) string {
	if v, ok := a[key]; ok && v != nil {
		return fmt.Sprintf("%v", v)
	}
	return fallback
}

// Float returns a numeric argument, or fallback.
func (a Args) Float(key string, fallback float64) float64 {
	switch v := a[key].(type) {
	case float64:
		return v
	case float32:
		return float64(v)
	case int:
		return float64(v)
	case int64:
		return float64(v)
	}
	return fallback
}

// Op is one function of a plugin. The set of implementations is closed:
// TrackOp, CollectionOp, SignalOp, TextOp, SignalAndTextOp and UtilityOp.
type Op interface {
	OpName() string
	Kind() Kind
	isOp()
}

// TrackOp transforms one track. Analysis functions return no tracks; the
// input track is then re-read and returned. Generators are also called with
// a nil track when the caller gave no target.
type TrackOp struct {
	Name string
	Run  func(ctx context.Context, env *Env, track *model.Track, args Args) ([]*model.Track, error)
}

// CollectionOp transforms a whole collection. A nil result means the input
// collection, re-read.
type CollectionOp struct {
	Name string
	Run  func(ctx context.Context, env *Env, c *model.Collection, args Args) (*model.Collection, error)
}

// SignalOp maps a signal to a new signal.
type SignalOp struct {
	Name string
	Run  func(ctx context.Context, env *Env, sig *audio.Signal, args Args) (*audio.Signal, error)
}

// TextOp embeds text into a vector.
type TextOp struct {
	Name string
	Run  func(ctx context.Context, env *Env, text string, args Args) (model.Vector, error)
}

// SignalAndTextOp embeds a signal together with text.
type SignalAndTextOp struct {
	Name string
	Run  func(ctx context.Context, env *Env, sig *audio.Signal, text string, args Args) (model.Vector, error)
}

// UtilityOp is a free function that does not touch the dispatch targets.
type UtilityOp struct {
	Name string
	Run  func(ctx context.Context, env *Env, args Args) (interface{}, error)
}

func (o TrackOp) OpName() string         { return o.Name }
func (o CollectionOp) OpName() string    { return o.Name }
func (o SignalOp) OpName() string        { return o.Name }
func (o TextOp) OpName() string          { return o.Name }
func (o SignalAndTextOp) OpName() string { return o.Name }
func (o UtilityOp) OpName() string       { return o.Name }

func (TrackOp) Kind() Kind         { return KindTrack }
func (CollectionOp) Kind() Kind    { return KindCollection }
func (SignalOp) Kind() Kind        { return KindSignal }
func (TextOp) Kind() Kind          { return KindText }
func (SignalAndTextOp) Kind() Kind { return KindSignalAndText }
func (UtilityOp) Kind() Kind       { return KindUtility }

func (TrackOp) isOp()         {}
func (CollectionOp) isOp()    {}
func (SignalOp) isOp()        {}
func (TextOp) isOp()          {}
func (SignalAndTextOp) isOp() {}
func (UtilityOp) isOp()       {}

// CallForm describes how an op can be called.
func CallForm(op Op) string {
	switch op.Kind() {
	case KindTrack:
		return op.OpName() + "(track | collection | none)"
	case KindCollection:
		return op.OpName() + "(collection | track | none)"
	case KindSignal:
		return op.OpName() + "(signal | track | collection)"
	case KindText:
		return op.OpName() + "(text | track | collection)"
	case KindSignalAndText:
		return op.OpName() + "(signal, text | track | collection)"
	default:
		return op.OpName() + "(args)"
	}
}

// Plugin is a named, versioned set of ops.
type Plugin struct {
	Name        string
	Version     string
	Family      Family
	Description string
	Ops         []Op
	// Config holds plugin settings; every key in RequiredConfig must be
	// non-empty for the plugin to register.
	Config         map[string]string
	RequiredConfig []string
}

// Op returns the op called name.
func (p *Plugin) Op(name string) (Op, bool) {
	for _, op := range p.Ops {
		if op.OpName() == name {
			return op, true
		}
	}
	return nil, false
}

// HasKind reports whether any op of p has kind k.
func (p *Plugin) HasKind(k Kind) bool {
	for _, op := range p.Ops {
		if op.Kind() == k {
			return true
		}
	}
	return false
}

// CallForms lists every way p can be called.
func (p *Plugin) CallForms() []string {
	forms := make([]string, len(p.Ops))
	for i, op := range p.Ops {
		forms[i] = CallForm(op)
	}
	return forms
}
