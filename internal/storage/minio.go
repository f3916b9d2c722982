package storage

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/sakif/captured-thinkings/internal/apperror"
)

// MinioConfig holds the connection settings for MinIO/S3 compatible storage.
type MinioConfig struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	UseSSL    bool
}

// MinioStore implements ObjectStore for MinIO/S3 compatible storage.
type MinioStore struct {
	client     *minio.Client
	publicBase string
}

var _ ObjectStore = (*MinioStore)(nil)

// NewMinioStore connects to MinIO and ensures every bucket exists.
func NewMinioStore(cfg MinioConfig, publicBase string, buckets []string) (*MinioStore, error) {
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("storage: init minio client: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	for _, bucket := range buckets {
		exists, err := client.BucketExists(ctx, bucket)
		if err != nil {
			return nil, fmt.Errorf("storage: check bucket %s: %w", bucket, err)
		}
		if !exists {
			if err := client.MakeBucket(ctx, bucket, minio.MakeBucketOptions{}); err != nil {
				return nil, fmt.Errorf("storage: create bucket %s: %w", bucket, err)
			}
		}
	}
	return &MinioStore{client: client, publicBase: publicBase}, nil
}

func (m *MinioStore) Put(ctx context.Context, bucket, key string, r io.Reader, size int64, contentType string) error {
	if err := ValidateKey(bucket, key); err != nil {
		return err
	}
	_, err := m.client.PutObject(ctx, bucket, key, r, size, minio.PutObjectOptions{ContentType: contentType})
	if err != nil {
		return fmt.Errorf("storage: put object: %w", err)
	}
	return nil
}

func (m *MinioStore) Open(ctx context.Context, bucket, key string) (io.ReadCloser, Info, error) {
	if err := ValidateKey(bucket, key); err != nil {
		return nil, Info{}, err
	}
	obj, err := m.client.GetObject(ctx, bucket, key, minio.GetObjectOptions{})
	if err != nil {
		return nil, Info{}, mapMinioError(err, bucket, key)
	}
	// GetObject is lazy; Stat performs the request.
	st, err := obj.Stat()
	if err != nil {
		obj.Close()
		return nil, Info{}, mapMinioError(err, bucket, key)
	}
	return obj, Info{ContentType: st.ContentType, Size: st.Size}, nil
}

func (m *MinioStore) Delete(ctx context.Context, bucket, key string) error {
	if err := ValidateKey(bucket, key); err != nil {
		return err
	}
	if err := m.client.RemoveObject(ctx, bucket, key, minio.RemoveObjectOptions{}); err != nil {
		return fmt.Errorf("storage: delete object: %w", err)
	}
	return nil
}

func (m *MinioStore) PublicURL(bucket, key string) string {
	return publicURL(m.publicBase, bucket, key)
}

func mapMinioError(err error, bucket, key string) error {
	switch minio.ToErrorResponse(err).Code {
	case "NoSuchKey", "NoSuchBucket":
		return apperror.NotFound("object", bucket+"/"+key)
	}
	return fmt.Errorf("storage: get object: %w", err)
}
