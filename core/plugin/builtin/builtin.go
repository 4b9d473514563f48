// Package builtin ships the plugins that are always available: a loudness
// analyzer, a gain effect, a tone generator and a bag-of-words text
// embedder.
package builtin

import (
	"context"
	"fmt"
	"hash/fnv"
	"math"
	"strings"
	"unicode"

	"nendo/core/audio"
	"nendo/core/library"
	"nendo/core/plugin"
	"nendo/model"

	"go.uber.org/zap"
)

const (
	LoudnessName = "nendo_plugin_loudness"
	GainName     = "nendo_plugin_gain"
	ToneName     = "nendo_plugin_tone"
	TextVecName  = "nendo_plugin_textvec"

	// TextVecDims is the size of textvec vectors.
	TextVecDims = 64
)

// All returns a fresh instance of every builtin plugin.
func All() []*plugin.Plugin {
	return []*plugin.Plugin{Loudness(), Gain(), Tone(), TextVec()}
}

// Select returns the builtins named in names, by full or short name. An
// empty list selects all of them.
func Select(names []string) ([]*plugin.Plugin, error) {
	all := All()
	if len(names) == 0 {
		return all, nil
	}
	byName := make(map[string]*plugin.Plugin, len(all)*2)
	for _, p := range all {
		byName[p.Name] = p
		byName[plugin.ShortName(p.Name)] = p
	}
	out := make([]*plugin.Plugin, 0, len(names))
	for _, n := range names {
		p, ok := byName[strings.TrimSpace(n)]
		if !ok {
			return nil, fmt.Errorf("unknown plugin %q", n)
		}
		out = append(out, p)
	}
	return out, nil
}

// Loudness stores the rms and peak level of a track as plugin data.
func Loudness() *plugin.Plugin {
	return &plugin.Plugin{
		Name:        LoudnessName,
		Version:     "1.0.0",
		Family:      plugin.FamilyAnalysis,
		Description: "rms and peak level",
		Ops: []plugin.Op{plugin.TrackOp{Name: "analyze", Run: func(ctx context.Context, env *plugin.Env, track *model.Track, _ plugin.Args) ([]*model.Track, error) {
			if track == nil {
				return nil, fmt.Errorf("loudness needs a track")
			}
			sig, err := env.LoadSignal(ctx, track)
			if err != nil {
				return nil, err
			}
			rms, peak := Levels(sig)
			if _, err := env.AddPluginData(ctx, track.ID, "rms", rms); err != nil {
				return nil, err
			}
			if _, err := env.AddPluginData(ctx, track.ID, "peak", peak); err != nil {
				return nil, err
			}
			env.Logger.Debug("analyzed track", zap.String("track", track.ID.String()))
			return nil, nil
		}}},
	}
}

// Levels returns the rms and peak of all channels together.
func Levels(sig *audio.Signal) (rms, peak float64) {
	var sum float64
	n := 0
	for _, ch := range sig.Channels {
		for _, v := range ch {
			f := math.Abs(float64(v))
			sum += f * f
			peak = max(peak, f)
			n++
		}
	}
	if n == 0 {
		return 0, 0
	}
	return math.Sqrt(sum / float64(n)), peak
}

// Gain scales a signal by the "gain" argument, 0.5 when absent. Samples
// are clipped to [-1, 1].
func Gain() *plugin.Plugin {
	return &plugin.Plugin{
		Name:        GainName,
		Version:     "1.0.0",
		Family:      plugin.FamilyEffect,
		Description: "linear gain",
		Ops: []plugin.Op{plugin.SignalOp{Name: "apply", Run: func(_ context.Context, _ *plugin.Env, sig *audio.Signal, args plugin.Args) (*audio.Signal, error) {
			if sig == nil {
				return nil, fmt.Errorf("gain needs a signal")
			}
			g := float32(args.Float("gain", 0.5))
			out := sig.Clone()
			for _, ch := range out.Channels {
				for i, v := range ch {
					ch[i] = min(max(v*g, -1), 1)
				}
			}
			return out, nil
		}}},
	}
}

// Tone generates sine tracks. Without a target it adds a new track; with a
// track it adds a tone of the same length related to it.
func Tone() *plugin.Plugin {
	return &plugin.Plugin{
		Name:        ToneName,
		Version:     "1.0.0",
		Family:      plugin.FamilyGenerate,
		Description: "sine tone generator",
		Ops: []plugin.Op{plugin.TrackOp{Name: "generate", Run: func(ctx context.Context, env *plugin.Env, track *model.Track, args plugin.Args) ([]*model.Track, error) {
			freq := args.Float("freq", 440)
			sr := int(args.Float("sr", 44100))
			seconds := args.Float("seconds", 1)
			meta := map[string]interface{}{"title": fmt.Sprintf("tone %.0fHz", freq), "plugin": ToneName}

			if track == nil {
				sig := Sine(freq, seconds, sr)
				t, err := env.Library.AddTrackFromSignal(ctx, sig, library.TrackOptions{UserID: env.UserID, Meta: meta})
				if err != nil {
					return nil, err
				}
				return []*model.Track{t}, nil
			}

			src, err := env.LoadSignal(ctx, track)
			if err != nil {
				return nil, err
			}
			sig := Sine(freq, src.Seconds(), src.SampleRate)
			t, err := env.Library.AddRelatedTrackFromSignal(ctx, sig, track.ID, library.RelationshipOptions{
				TrackOptions:     library.TrackOptions{UserID: env.UserID, Meta: meta},
				RelationshipType: "tone",
			})
			if err != nil {
				return nil, err
			}
			return []*model.Track{t}, nil
		}}},
	}
}

// Sine renders a mono sine wave at half scale.
func Sine(freq, seconds float64, sr int) *audio.Signal {
	frames := max(int(seconds*float64(sr)), 1)
	sig := audio.NewSignal(1, frames, sr)
	for i := range sig.Channels[0] {
		sig.Channels[0][i] = float32(0.5 * math.Sin(2*math.Pi*freq*float64(i)/float64(sr)))
	}
	return sig
}

// TextVec embeds text by hashing its lowercased words into TextVecDims
// buckets and normalizing the counts.
func TextVec() *plugin.Plugin {
	return &plugin.Plugin{
		Name:        TextVecName,
		Version:     "1.0.0",
		Family:      plugin.FamilyEmbedding,
		Description: "hashed bag-of-words embedding",
		Ops: []plugin.Op{plugin.TextOp{Name: "embed", Run: func(_ context.Context, _ *plugin.Env, text string, _ plugin.Args) (model.Vector, error) {
			return HashEmbed(text), nil
		}}},
	}
}

// HashEmbed is the textvec embedding of text. Empty text maps to the zero
// vector.
func HashEmbed(text string) model.Vector {
	vec := make(model.Vector, TextVecDims)
	words := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsNumber(r)
	})
	for _, w := range words {
		h := fnv.New32a()
		_, _ = h.Write([]byte(w))
		vec[h.Sum32()%TextVecDims]++
	}
	var norm float64
	for _, v := range vec {
		norm += float64(v * v)
	}
	if norm == 0 {
		return vec
	}
	n := float32(math.Sqrt(norm))
	for i := range vec {
		vec[i] /= n
	}
	return vec
}
