package library

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"nendo/core/audio"
	"nendo/errs"
	"nendo/logger"
	"nendo/model"

	"github.com/google/uuid"
	"github.com/pelletier/go-toml/v2"
)

// ManifestFile is written next to the exported files of a collection.
const ManifestFile = "manifest.toml"

// Manifest describes an exported collection.
type Manifest struct {
	CollectionID uuid.UUID       `toml:"collection_id"`
	Name         string          `toml:"name"`
	Description  string          `toml:"description,omitempty"`
	ExportedAt   time.Time       `toml:"exported_at"`
	Tracks       []ManifestTrack `toml:"tracks"`
}

// ManifestTrack is one exported member.
type ManifestTrack struct {
	Position int       `toml:"position"`
	TrackID  uuid.UUID `toml:"track_id"`
	File     string    `toml:"file"`
	Title    string    `toml:"title,omitempty"`
}

func exportTarget(track *model.Track, path, format string) string {
	if info, err := os.Stat(path); err == nil && info.IsDir() {
		base := strings.TrimSuffix(filepath.Base(track.MetaString("title")), filepath.Ext(track.MetaString("title")))
		if base == "" || base == "." {
			base = track.ID.String()
		}
		return filepath.Join(path, base+"."+format)
	}
	if filepath.Ext(path) == "" {
		return path + "." + format
	}
	return path
}

// ExportTrack writes the audio of a track to path, a file or an existing
// directory. Format defaults to wav. Files already in the requested format
// are copied, others are decoded and re-encoded.
func (l *Library) ExportTrack(ctx context.Context, id uuid.UUID, path, format string) (string, error) {
	track, err := l.GetTrack(ctx, id)
	if err != nil {
		return "", err
	}
	if format == "" {
		format = "wav"
	}
	format = strings.ToLower(strings.TrimPrefix(format, "."))
	if !audio.IsSupported("x." + format) {
		return "", errs.Resource(path, "unsupported export format "+format)
	}
	target := exportTarget(track, path, format)
	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return "", errs.Resource(target, err.Error())
	}

	local, err := l.driver.AsLocal(ctx, track.Resource.Src(), track.Resource.Location, track.UserID.String())
	if err != nil {
		return "", errs.Resource(track.Resource.Src(), err.Error())
	}
	if strings.EqualFold(filepath.Ext(local), "."+format) {
		if err := copyFile(local, target); err != nil {
			return "", errs.Resource(target, err.Error())
		}
	} else {
		sig, err := l.LoadSignal(ctx, track)
		if err != nil {
			return "", err
		}
		if err := l.loader.Save(ctx, sig, target); err != nil {
			return "", errs.Resource(target, err.Error())
		}
	}
	logger.Info("[Library] Track exported", logger.String("track_id", id.String()), logger.String("path", target))
	return target, nil
}

// ExportCollection exports every member of a collection into dir as
// <prefix><position>_<title>.<format> and writes a manifest.
func (l *Library) ExportCollection(ctx context.Context, id uuid.UUID, dir, format, prefix string) ([]string, error) {
	c, err := l.GetCollection(ctx, id)
	if err != nil {
		return nil, err
	}
	if format == "" {
		format = "wav"
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, errs.Resource(dir, err.Error())
	}

	manifest := Manifest{CollectionID: c.ID, Name: c.Name, Description: c.Description, ExportedAt: time.Now().UTC()}
	var files []string
	for _, rel := range c.RelatedTracks {
		track, err := l.GetTrack(ctx, rel.SourceID)
		if err != nil {
			return files, err
		}
		title := strings.TrimSuffix(track.MetaString("title"), filepath.Ext(track.MetaString("title")))
		if title == "" {
			title = track.ID.String()
		}
		name := fmt.Sprintf("%s%03d_%s.%s", prefix, rel.Position, sanitize(title), format)
		out, err := l.ExportTrack(ctx, track.ID, filepath.Join(dir, name), format)
		if err != nil {
			return files, err
		}
		files = append(files, out)
		manifest.Tracks = append(manifest.Tracks, ManifestTrack{
			Position: rel.Position,
			TrackID:  track.ID,
			File:     filepath.Base(out),
			Title:    track.MetaString("title"),
		})
	}

	b, err := toml.Marshal(manifest)
	if err != nil {
		return files, fmt.Errorf("failed to encode manifest: %w", err)
	}
	if err := os.WriteFile(filepath.Join(dir, ManifestFile), b, 0o644); err != nil {
		return files, errs.Resource(filepath.Join(dir, ManifestFile), err.Error())
	}
	return files, nil
}

// ReadManifest parses a manifest written by ExportCollection.
func ReadManifest(dir string) (*Manifest, error) {
	b, err := os.ReadFile(filepath.Join(dir, ManifestFile))
	if err != nil {
		return nil, err
	}
	var m Manifest
	if err := toml.Unmarshal(b, &m); err != nil {
		return nil, fmt.Errorf("failed to decode manifest: %w", err)
	}
	return &m, nil
}

func sanitize(s string) string {
	return strings.Map(func(r rune) rune {
		switch r {
		case '/', '\\', ':', '*', '?', '"', '<', '>', '|':
			return '_'
		}
		return r
	}, s)
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()
	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}
