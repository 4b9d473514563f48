package storage

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"

	"nendo/core/audio"
	"nendo/logger"
	"nendo/model"
)

// LocalDriver keeps files on the local filesystem under
// <library_path>/<owner>/.
type LocalDriver struct {
	libraryPath string
}

// NewLocalDriver creates a driver rooted at libraryPath.
func NewLocalDriver(libraryPath string) *LocalDriver {
	return &LocalDriver{libraryPath: libraryPath}
}

func (d *LocalDriver) dir(owner string) string {
	return filepath.Join(d.libraryPath, owner)
}

func (d *LocalDriver) file(name, owner string) string {
	return filepath.Join(d.dir(owner), name)
}

func (d *LocalDriver) InitForUser(_ context.Context, owner string) (string, error) {
	dir := d.dir(owner)
	if _, err := os.Stat(dir); os.IsNotExist(err) {
		logger.Warn("[Storage] Library path does not exist, creating now", logger.String("path", dir))
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create library directory %s: %w", dir, err)
	}
	return dir, nil
}

func (d *LocalDriver) GenerateFilename(filetype, _ string) string {
	return generateFilename(filetype)
}

func (d *LocalDriver) FileExists(_ context.Context, name, owner string) bool {
	info, err := os.Stat(d.file(name, owner))
	return err == nil && !info.IsDir()
}

func (d *LocalDriver) AsLocal(_ context.Context, path string, location model.ResourceLocation, owner string) (string, error) {
	if location == d.Location() {
		return d.file(filepath.Base(path), owner), nil
	}
	return path, nil
}

func (d *LocalDriver) SaveFile(ctx context.Context, name, srcPath, owner string) (string, error) {
	if _, err := d.InitForUser(ctx, owner); err != nil {
		return "", err
	}
	src, err := os.Open(srcPath)
	if err != nil {
		return "", err
	}
	defer src.Close()

	target := d.file(name, owner)
	dst, err := os.Create(target)
	if err != nil {
		return "", err
	}
	if _, err := io.Copy(dst, src); err != nil {
		dst.Close()
		return "", err
	}
	if err := dst.Close(); err != nil {
		return "", err
	}
	if info, err := os.Stat(srcPath); err == nil {
		_ = os.Chtimes(target, info.ModTime(), info.ModTime())
	}
	return target, nil
}

func (d *LocalDriver) SaveSignal(ctx context.Context, name string, sig *audio.Signal, owner string) (string, error) {
	if _, err := d.InitForUser(ctx, owner); err != nil {
		return "", err
	}
	target := d.file(name, owner)
	if err := audio.WriteWAVFile(target, sig); err != nil {
		return "", err
	}
	return target, nil
}

func (d *LocalDriver) SaveBytes(ctx context.Context, name string, data []byte, owner string) (string, error) {
	if _, err := d.InitForUser(ctx, owner); err != nil {
		return "", err
	}
	target := d.file(name, owner)
	if err := os.WriteFile(target, data, 0o644); err != nil {
		return "", err
	}
	return target, nil
}

func (d *LocalDriver) GetBytes(_ context.Context, name, owner string) ([]byte, error) {
	return os.ReadFile(d.file(name, owner))
}

func (d *LocalDriver) RemoveFile(_ context.Context, name, owner string) bool {
	target := d.file(name, owner)
	if err := os.Remove(target); err != nil {
		logger.Error("[Storage] Removing file failed", logger.String("path", target), logger.ErrorField(err))
		return false
	}
	return true
}

func (d *LocalDriver) ListFiles(_ context.Context, owner string) ([]string, error) {
	entries, err := os.ReadDir(d.dir(owner))
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var names []string
	for _, e := range entries {
		if !e.IsDir() {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)
	return names, nil
}

func (d *LocalDriver) Checksum(_ context.Context, name, owner string) (string, error) {
	return MD5File(d.file(name, owner))
}

func (d *LocalDriver) Location() model.ResourceLocation {
	return model.LocationLocal
}

func (d *LocalDriver) FilePath(owner string) string {
	return d.dir(owner)
}
