package utils

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIsURL(t *testing.T) {
	assert.True(t, IsURL("https://example.com/a.wav"))
	assert.True(t, IsURL("http://example.com/a.wav"))
	assert.False(t, IsURL("/tmp/a.wav"))
	assert.False(t, IsURL("ftp://example.com/a.wav"))
}

func TestDownloadFile(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/audio/song.wav" {
			http.NotFound(w, r)
			return
		}
		_, _ = w.Write([]byte("RIFF"))
	}))
	defer srv.Close()

	dir := t.TempDir()
	got, err := DownloadFile(context.Background(), srv.URL+"/audio/song.wav?x=1", dir)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "song.wav"), got)
	data, err := os.ReadFile(got)
	require.NoError(t, err)
	assert.Equal(t, "RIFF", string(data))

	_, err = DownloadFile(context.Background(), srv.URL+"/missing.wav", dir)
	assert.Error(t, err)

	_, err = DownloadFile(context.Background(), srv.URL+"/", dir)
	assert.Error(t, err)
}
