package plugin

import (
	"context"

	"nendo/config"
	"nendo/core/audio"
	"nendo/core/library"
	"nendo/model"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Env is what a plugin function sees of the running system.
type Env struct {
	Library *library.Library
	Config  *config.Config
	Logger  *zap.Logger
	Plugin  *Plugin
	// UserID owns everything the call writes.
	UserID uuid.UUID
}

// AddPluginData attaches key/value to a track under the calling plugin's
// name and version.
func (e *Env) AddPluginData(ctx context.Context, trackID uuid.UUID, key string, value interface{}) (*model.PluginData, error) {
	return e.Library.AddPluginData(ctx, library.PluginDataInput{
		TrackID:       trackID,
		UserID:        e.UserID,
		PluginName:    e.Plugin.Name,
		PluginVersion: e.Plugin.Version,
		Key:           key,
		Value:         value,
	})
}

// LoadSignal decodes the audio of track.
func (e *Env) LoadSignal(ctx context.Context, track *model.Track) (*audio.Signal, error) {
	return e.Library.LoadSignal(ctx, track)
}

// Setting returns a plugin configuration value.
func (e *Env) Setting(key string) string {
	return e.Plugin.Config[key]
}
