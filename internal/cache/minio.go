package cache

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"path"
	"time"

	"github.com/charmbracelet/log"
	"github.com/desertthunder/ytplay/internal/shared"
	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// MinioStore is a permanent layer keeping one object per downloaded track.
type MinioStore struct {
	client *minio.Client
	bucket string
	prefix string
	logger *log.Logger
}

// NewMinioStore connects to the configured endpoint and makes sure the bucket exists.
func NewMinioStore(ctx context.Context, c shared.MinioConfig, logger *log.Logger) (*MinioStore, error) {
	if c.Endpoint == "" || c.Bucket == "" {
		return nil, fmt.Errorf("%w: minio endpoint and bucket are required", shared.ErrMissingConfig)
	}
	if logger == nil {
		logger = log.New(io.Discard)
	}

	client, err := minio.New(c.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(c.AccessKey, c.SecretKey, ""),
		Secure: c.UseSSL,
		Region: c.Region,
	})
	if err != nil {
		return nil, fmt.Errorf("create minio client: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	exists, err := client.BucketExists(ctx, c.Bucket)
	if err != nil {
		return nil, fmt.Errorf("%w: check bucket %s: %w", shared.ErrServiceUnavailable, c.Bucket, err)
	}
	if !exists {
		if err := client.MakeBucket(ctx, c.Bucket, minio.MakeBucketOptions{Region: c.Region}); err != nil {
			return nil, fmt.Errorf("create bucket %s: %w", c.Bucket, err)
		}
		logger.Info("created download bucket", "bucket", c.Bucket)
	}
	return newMinioStore(client, c.Bucket, c.Prefix, logger), nil
}

func newMinioStore(client *minio.Client, bucket, prefix string, logger *log.Logger) *MinioStore {
	if logger == nil {
		logger = log.New(io.Discard)
	}
	return &MinioStore{client: client, bucket: bucket, prefix: prefix, logger: logger}
}

func (m *MinioStore) key(trackID string) string {
	return path.Join(m.prefix, fileKey(trackID)+dataExt)
}

func isNoSuchKey(err error) bool {
	code := minio.ToErrorResponse(err).Code
	return code == "NoSuchKey" || code == "NotFound"
}

func (m *MinioStore) Get(ctx context.Context, trackID string, off, length int64) ([]byte, int64, bool, error) {
	info, err := m.client.StatObject(ctx, m.bucket, m.key(trackID), minio.StatObjectOptions{})
	if err != nil {
		if isNoSuchKey(err) {
			return nil, -1, false, nil
		}
		return nil, -1, false, fmt.Errorf("%w: stat %s: %w", shared.ErrPersistence, trackID, err)
	}

	total := info.Size
	n := clampRange(off, length, total)
	if n == 0 {
		return []byte{}, total, true, nil
	}

	opts := minio.GetObjectOptions{}
	if err := opts.SetRange(off, off+n-1); err != nil {
		return nil, total, false, err
	}
	obj, err := m.client.GetObject(ctx, m.bucket, m.key(trackID), opts)
	if err != nil {
		return nil, total, false, fmt.Errorf("%w: get %s: %w", shared.ErrPersistence, trackID, err)
	}
	defer obj.Close()

	data, err := io.ReadAll(io.LimitReader(obj, n))
	if err != nil {
		return nil, total, false, fmt.Errorf("%w: read %s: %w", shared.ErrPersistence, trackID, err)
	}
	if int64(len(data)) != n {
		return nil, total, false, nil
	}
	return data, total, true, nil
}

// Put accepts whole objects only; partial ranges belong in the rolling layer.
func (m *MinioStore) Put(ctx context.Context, trackID string, off int64, data []byte, total int64) error {
	if off != 0 || int64(len(data)) != total {
		return fmt.Errorf("%w: object storage takes whole tracks only", shared.ErrInvalidInput)
	}
	return m.Save(ctx, trackID, bytes.NewReader(data), total)
}

func (m *MinioStore) Save(ctx context.Context, trackID string, r io.Reader, size int64) error {
	_, err := m.client.PutObject(ctx, m.bucket, m.key(trackID), r, size, minio.PutObjectOptions{
		ContentType: "application/octet-stream",
	})
	if err != nil {
		return fmt.Errorf("%w: upload %s: %w", shared.ErrPersistence, trackID, err)
	}
	m.logger.Debug("uploaded track", "track", trackID, "bytes", size)
	return nil
}

func (m *MinioStore) Stat(ctx context.Context, trackID string) (Info, error) {
	info, err := m.client.StatObject(ctx, m.bucket, m.key(trackID), minio.StatObjectOptions{})
	if err != nil {
		if isNoSuchKey(err) {
			return Info{Total: -1}, nil
		}
		return Info{Total: -1}, fmt.Errorf("%w: stat %s: %w", shared.ErrPersistence, trackID, err)
	}
	return Info{Total: info.Size, Cached: info.Size, Complete: true}, nil
}

func (m *MinioStore) Remove(ctx context.Context, trackID string) error {
	if err := m.client.RemoveObject(ctx, m.bucket, m.key(trackID), minio.RemoveObjectOptions{}); err != nil {
		return fmt.Errorf("%w: remove %s: %w", shared.ErrPersistence, trackID, err)
	}
	return nil
}

func (m *MinioStore) Clear(ctx context.Context) error {
	objects := m.client.ListObjects(ctx, m.bucket, minio.ListObjectsOptions{Prefix: m.prefix, Recursive: true})
	for obj := range objects {
		if obj.Err != nil {
			return fmt.Errorf("%w: list objects: %w", shared.ErrPersistence, obj.Err)
		}
		if err := m.client.RemoveObject(ctx, m.bucket, obj.Key, minio.RemoveObjectOptions{}); err != nil {
			return fmt.Errorf("%w: remove %s: %w", shared.ErrPersistence, obj.Key, err)
		}
	}
	return nil
}
