package storage

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"nendo/config"
	"nendo/core/audio"
	"nendo/model"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const owner = "ffffffff-1111-2222-3333-1234567890ab"

func TestLocalDriverSaveAndRead(t *testing.T) {
	ctx := context.Background()
	root := t.TempDir()
	d := NewLocalDriver(root)

	dir, err := d.InitForUser(ctx, owner)
	require.NoError(t, err)
	assert.DirExists(t, dir)
	assert.Equal(t, dir, d.FilePath(owner))

	name := d.GenerateFilename("bin", owner)
	assert.True(t, strings.HasSuffix(name, ".bin"))
	assert.False(t, d.FileExists(ctx, name, owner))

	saved, err := d.SaveBytes(ctx, name, []byte("payload"), owner)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(root, owner, name), saved)
	assert.True(t, d.FileExists(ctx, name, owner))

	data, err := d.GetBytes(ctx, name, owner)
	require.NoError(t, err)
	assert.Equal(t, "payload", string(data))

	files, err := d.ListFiles(ctx, owner)
	require.NoError(t, err)
	assert.Equal(t, []string{name}, files)

	assert.True(t, d.RemoveFile(ctx, name, owner))
	assert.False(t, d.RemoveFile(ctx, name, owner))
}

func TestLocalDriverSaveFileKeepsChecksum(t *testing.T) {
	ctx := context.Background()
	d := NewLocalDriver(t.TempDir())

	src := filepath.Join(t.TempDir(), "source.txt")
	require.NoError(t, os.WriteFile(src, []byte("hello"), 0o644))

	_, err := d.SaveFile(ctx, "copy.txt", src, owner)
	require.NoError(t, err)

	want, err := MD5File(src)
	require.NoError(t, err)
	assert.Equal(t, "5d41402abc4b2a76b9719d911017c592", want)

	got, err := d.Checksum(ctx, "copy.txt", owner)
	require.NoError(t, err)
	assert.Equal(t, want, got)
}

func TestLocalDriverSaveSignal(t *testing.T) {
	ctx := context.Background()
	d := NewLocalDriver(t.TempDir())

	sig := audio.NewSignal(1, 800, 8000)
	p, err := d.SaveSignal(ctx, "tone.wav", sig, owner)
	require.NoError(t, err)

	back, err := audio.ReadWAVFile(p)
	require.NoError(t, err)
	assert.Equal(t, 800, back.Frames())
}

func TestLocalDriverAsLocal(t *testing.T) {
	ctx := context.Background()
	d := NewLocalDriver("/lib")

	p, err := d.AsLocal(ctx, "/elsewhere/x.wav", model.LocationLocal, owner)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join("/lib", owner, "x.wav"), p)

	p, err = d.AsLocal(ctx, "/elsewhere/x.wav", model.LocationOriginal, owner)
	require.NoError(t, err)
	assert.Equal(t, "/elsewhere/x.wav", p)
}

func TestListFilesOfUnknownOwner(t *testing.T) {
	files, err := NewLocalDriver(t.TempDir()).ListFiles(context.Background(), "nobody")
	assert.NoError(t, err)
	assert.Empty(t, files)
}

func TestNewSelectsDriver(t *testing.T) {
	cfg := config.Default()
	cfg.LibraryPath = t.TempDir()
	d, err := New(context.Background(), cfg)
	require.NoError(t, err)
	assert.Equal(t, model.LocationLocal, d.Location())

	cfg.StorageDriver = "ftp"
	_, err = New(context.Background(), cfg)
	assert.Error(t, err)
}

func TestFormatSize(t *testing.T) {
	assert.Equal(t, "512 B", FormatSize(512))
	assert.Equal(t, "1.5 KB", FormatSize(1536))
	assert.Equal(t, "2.0 MB", FormatSize(2*1024*1024))
	assert.Equal(t, "audio/mpeg", contentType("a.MP3"))
}
