package storage

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"io"
	"os"

	"nendo/config"
	"nendo/core/audio"
	"nendo/model"

	"github.com/google/uuid"
)

// Driver stores the files backing tracks and blobs. Every file belongs to an
// owner (a user ID) and is addressed by its file name.
type Driver interface {
	// InitForUser prepares the owner's storage area and returns its handle
	// (a directory for the local driver, an object prefix for minio).
	InitForUser(ctx context.Context, owner string) (string, error)
	GenerateFilename(filetype, owner string) string
	FileExists(ctx context.Context, name, owner string) bool
	// AsLocal returns a path on the local filesystem for a stored file,
	// downloading it first when it lives in remote storage.
	AsLocal(ctx context.Context, path string, location model.ResourceLocation, owner string) (string, error)
	SaveFile(ctx context.Context, name, srcPath, owner string) (string, error)
	SaveSignal(ctx context.Context, name string, sig *audio.Signal, owner string) (string, error)
	SaveBytes(ctx context.Context, name string, data []byte, owner string) (string, error)
	GetBytes(ctx context.Context, name, owner string) ([]byte, error)
	RemoveFile(ctx context.Context, name, owner string) bool
	ListFiles(ctx context.Context, owner string) ([]string, error)
	Checksum(ctx context.Context, name, owner string) (string, error)
	Location() model.ResourceLocation
	// FilePath is the directory part recorded in a resource saved under
	// owner, so that Resource.Src() points back at the stored file.
	FilePath(owner string) string
}

// New builds the driver selected by cfg.StorageDriver.
func New(ctx context.Context, cfg *config.Config) (Driver, error) {
	switch cfg.StorageDriver {
	case "", "local":
		return NewLocalDriver(cfg.LibraryPath), nil
	case "minio":
		return NewMinioDriver(ctx, MinioOptions{
			Endpoint:  cfg.MinioEndpoint,
			AccessKey: cfg.MinioAccessKey,
			SecretKey: cfg.MinioSecretKey,
			Bucket:    cfg.MinioBucket,
			UseSSL:    cfg.MinioUseSSL,
			CacheDir:  cfg.LibraryPath,
		})
	default:
		return nil, fmt.Errorf("unknown storage driver %q", cfg.StorageDriver)
	}
}

func generateFilename(filetype string) string {
	return fmt.Sprintf("%s.%s", uuid.New().String(), filetype)
}

// MD5File returns the hex MD5 digest of the file at path.
func MD5File(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()
	return md5Reader(f)
}

func md5Reader(r io.Reader) (string, error) {
	h := md5.New()
	if _, err := io.Copy(h, r); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}
