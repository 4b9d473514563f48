package storage

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"nendo/core/audio"
	"nendo/logger"
	"nendo/model"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// MinioOptions configures a MinioDriver.
type MinioOptions struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Bucket    string
	UseSSL    bool
	Region    string
	// CacheDir receives local copies of downloaded objects.
	CacheDir string
}

// MinioDriver stores files as objects keyed <owner>/<name> in one bucket.
type MinioDriver struct {
	client   *minio.Client
	bucket   string
	region   string
	cacheDir string
}

// NewMinioDriver connects to the server and makes sure the bucket exists.
func NewMinioDriver(ctx context.Context, opts MinioOptions) (*MinioDriver, error) {
	logger.Info("[Storage] Connecting to MinIO",
		logger.String("endpoint", opts.Endpoint),
		logger.String("bucket", opts.Bucket))

	client, err := minio.New(opts.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(opts.AccessKey, opts.SecretKey, ""),
		Secure: opts.UseSSL,
		Region: opts.Region,
	})
	if err != nil {
		return nil, fmt.Errorf("create minio client: %w", err)
	}
	cacheDir := opts.CacheDir
	if cacheDir == "" {
		cacheDir = os.TempDir()
	}
	d := &MinioDriver{
		client:   client,
		bucket:   opts.Bucket,
		region:   opts.Region,
		cacheDir: filepath.Join(cacheDir, ".minio-cache"),
	}

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := d.EnsureBucket(ctx); err != nil {
		return nil, err
	}
	return d, nil
}

// Client exposes the underlying minio client.
func (d *MinioDriver) Client() *minio.Client {
	return d.client
}

// Bucket returns the bucket name.
func (d *MinioDriver) Bucket() string {
	return d.bucket
}

// EnsureBucket creates the bucket when it does not exist yet.
func (d *MinioDriver) EnsureBucket(ctx context.Context) error {
	exists, err := d.client.BucketExists(ctx, d.bucket)
	if err != nil {
		return fmt.Errorf("check bucket %s: %w", d.bucket, err)
	}
	if exists {
		logger.Debug("[Storage] Bucket exists", logger.String("bucket", d.bucket))
		return nil
	}
	if err := d.client.MakeBucket(ctx, d.bucket, minio.MakeBucketOptions{Region: d.region}); err != nil {
		return fmt.Errorf("create bucket %s: %w", d.bucket, err)
	}
	logger.Info("[Storage] Created bucket", logger.String("bucket", d.bucket))
	return nil
}

func objectKey(name, owner string) string {
	return path.Join(owner, name)
}

func (d *MinioDriver) InitForUser(ctx context.Context, owner string) (string, error) {
	if err := d.EnsureBucket(ctx); err != nil {
		return "", err
	}
	return owner + "/", nil
}

func (d *MinioDriver) GenerateFilename(filetype, _ string) string {
	return generateFilename(filetype)
}

func (d *MinioDriver) FileExists(ctx context.Context, name, owner string) bool {
	_, err := d.client.StatObject(ctx, d.bucket, objectKey(name, owner), minio.StatObjectOptions{})
	return err == nil
}

func (d *MinioDriver) AsLocal(ctx context.Context, p string, location model.ResourceLocation, owner string) (string, error) {
	if location != d.Location() {
		return p, nil
	}
	key := filepath.ToSlash(p)
	if !strings.Contains(key, "/") {
		key = objectKey(key, owner)
	}
	target := filepath.Join(d.cacheDir, filepath.FromSlash(key))
	if _, err := os.Stat(target); err == nil {
		return target, nil
	}
	if err := d.client.FGetObject(ctx, d.bucket, key, target, minio.GetObjectOptions{}); err != nil {
		return "", fmt.Errorf("download %s: %w", key, err)
	}
	return target, nil
}

func (d *MinioDriver) put(ctx context.Context, key string, r io.Reader, size int64, contentType string) (string, error) {
	_, err := d.client.PutObject(ctx, d.bucket, key, r, size, minio.PutObjectOptions{ContentType: contentType})
	if err != nil {
		return "", fmt.Errorf("upload %s: %w", key, err)
	}
	return key, nil
}

func (d *MinioDriver) SaveFile(ctx context.Context, name, srcPath, owner string) (string, error) {
	key := objectKey(name, owner)
	if _, err := d.client.FPutObject(ctx, d.bucket, key, srcPath, minio.PutObjectOptions{
		ContentType: contentType(name),
	}); err != nil {
		return "", fmt.Errorf("upload %s: %w", key, err)
	}
	return key, nil
}

func (d *MinioDriver) SaveSignal(ctx context.Context, name string, sig *audio.Signal, owner string) (string, error) {
	data, err := audio.WAVBytes(sig)
	if err != nil {
		return "", err
	}
	return d.put(ctx, objectKey(name, owner), bytes.NewReader(data), int64(len(data)), "audio/wav")
}

func (d *MinioDriver) SaveBytes(ctx context.Context, name string, data []byte, owner string) (string, error) {
	return d.put(ctx, objectKey(name, owner), bytes.NewReader(data), int64(len(data)), "application/octet-stream")
}

func (d *MinioDriver) GetBytes(ctx context.Context, name, owner string) ([]byte, error) {
	obj, err := d.client.GetObject(ctx, d.bucket, objectKey(name, owner), minio.GetObjectOptions{})
	if err != nil {
		return nil, err
	}
	defer obj.Close()
	return io.ReadAll(obj)
}

func (d *MinioDriver) RemoveFile(ctx context.Context, name, owner string) bool {
	key := objectKey(name, owner)
	if err := d.client.RemoveObject(ctx, d.bucket, key, minio.RemoveObjectOptions{}); err != nil {
		logger.Error("[Storage] Removing object failed", logger.String("key", key), logger.ErrorField(err))
		return false
	}
	_ = os.Remove(filepath.Join(d.cacheDir, filepath.FromSlash(key)))
	return true
}

func (d *MinioDriver) ListFiles(ctx context.Context, owner string) ([]string, error) {
	objects, _, err := d.ListObjects(ctx, owner+"/", true)
	if err != nil {
		return nil, err
	}
	names := make([]string, 0, len(objects))
	for _, o := range objects {
		names = append(names, path.Base(o.Key))
	}
	sort.Strings(names)
	return names, nil
}

func (d *MinioDriver) Checksum(ctx context.Context, name, owner string) (string, error) {
	obj, err := d.client.GetObject(ctx, d.bucket, objectKey(name, owner), minio.GetObjectOptions{})
	if err != nil {
		return "", err
	}
	defer obj.Close()
	return md5Reader(obj)
}

func (d *MinioDriver) Location() model.ResourceLocation {
	return model.LocationS3
}

func (d *MinioDriver) FilePath(owner string) string {
	return owner
}

// BucketStats summarizes a listing.
type BucketStats struct {
	TotalObjects int64
	TotalSize    int64
	LastModified time.Time
}

// ObjectInfo describes one stored object.
type ObjectInfo struct {
	Key          string
	Size         int64
	LastModified time.Time
	ContentType  string
	ETag         string
}

// ListObjects lists the objects under prefix together with totals.
func (d *MinioDriver) ListObjects(ctx context.Context, prefix string, recursive bool) ([]ObjectInfo, *BucketStats, error) {
	stats := &BucketStats{}
	var objects []ObjectInfo

	objectCh := d.client.ListObjects(ctx, d.bucket, minio.ListObjectsOptions{
		Prefix:    prefix,
		Recursive: recursive,
	})
	for object := range objectCh {
		if object.Err != nil {
			return nil, nil, fmt.Errorf("list objects: %w", object.Err)
		}
		stats.TotalObjects++
		stats.TotalSize += object.Size
		if object.LastModified.After(stats.LastModified) {
			stats.LastModified = object.LastModified
		}
		objects = append(objects, ObjectInfo{
			Key:          object.Key,
			Size:         object.Size,
			LastModified: object.LastModified,
			ContentType:  object.ContentType,
			ETag:         object.ETag,
		})
	}
	return objects, stats, nil
}

// FormatSize renders a byte count with a binary unit suffix.
func FormatSize(size int64) string {
	const unit = 1024
	if size < unit {
		return fmt.Sprintf("%d B", size)
	}
	div, exp := int64(unit), 0
	for n := size / unit; n >= unit; n /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %cB", float64(size)/float64(div), "KMGTPE"[exp])
}

// contentType infers a MIME type from the file extension.
func contentType(name string) string {
	switch strings.ToLower(path.Ext(name)) {
	case ".wav":
		return "audio/wav"
	case ".mp3":
		return "audio/mpeg"
	case ".flac":
		return "audio/flac"
	case ".ogg":
		return "audio/ogg"
	case ".aiff", ".aif":
		return "audio/aiff"
	case ".json":
		return "application/json"
	default:
		return "application/octet-stream"
	}
}
