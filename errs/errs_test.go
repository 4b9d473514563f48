package errs

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestKindsMatchSentinels(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		sentinel error
	}{
		{"not found", NotFound("track", "abc"), ErrNotFound},
		{"relationship", RelationshipNotFound("a", "b"), ErrRelationshipNotFound},
		{"resource", Resource("/tmp/x.txt", "unsupported file type"), ErrResource},
		{"library", Library("add track", errors.New("disk full")), ErrLibrary},
		{"plugin loading", PluginLoading("nendo_plugin_x", "not registered"), ErrPluginLoading},
		{"plugin runtime", PluginRuntime("nendo_plugin_x", "run", errors.New("boom")), ErrPluginRuntime},
		{"plugin config", PluginConfig("nendo_plugin_x", "api_key"), ErrPluginConfig},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.ErrorIs(t, tt.err, tt.sentinel)
			assert.ErrorIs(t, fmt.Errorf("wrapped: %w", tt.err), tt.sentinel)
			assert.True(t, IsKnown(tt.err))
		})
	}
}

func TestLibraryKeepsSpecificKinds(t *testing.T) {
	nf := NotFound("collection", 42)
	assert.Same(t, nf, Library("get collection", nf))
	assert.Nil(t, Library("noop", nil))

	wrapped := Library("commit", errors.New("database is locked"))
	var le *LibraryError
	assert.True(t, errors.As(wrapped, &le))
	assert.Equal(t, "commit", le.Op)
	assert.Contains(t, wrapped.Error(), "database is locked")
}

func TestPluginRuntimeUnwrap(t *testing.T) {
	inner := errors.New("model weights missing")
	err := PluginRuntime("nendo_plugin_stemify", "separate", inner)
	assert.ErrorIs(t, err, inner)
	assert.Equal(t, "error running plugin function nendo_plugin_stemify.separate: model weights missing", err.Error())
	assert.False(t, IsKnown(inner))
}
