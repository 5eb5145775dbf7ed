package content

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// MinioStore keeps version blobs as objects named
// documents/<documentID>/v<version> in a single bucket.
type MinioStore struct {
	client *minio.Client
	bucket string
}

type MinioConfig struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Bucket    string
	UseSSL    bool
}

// NewMinioStore connects to the object store and creates the bucket if
// it does not exist yet.
func NewMinioStore(ctx context.Context, cfg MinioConfig) (*MinioStore, error) {
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("connect object store: %w", err)
	}
	exists, err := client.BucketExists(ctx, cfg.Bucket)
	if err != nil {
		return nil, fmt.Errorf("check bucket: %w", err)
	}
	if !exists {
		if err := client.MakeBucket(ctx, cfg.Bucket, minio.MakeBucketOptions{}); err != nil {
			return nil, fmt.Errorf("create bucket: %w", err)
		}
	}
	return &MinioStore{client: client, bucket: cfg.Bucket}, nil
}

func (s *MinioStore) Put(ctx context.Context, data []byte, documentID string, version int) (PutResult, error) {
	object := fmt.Sprintf("documents/%s/v%d", documentID, version)
	_, err := s.client.PutObject(ctx, s.bucket, object, bytes.NewReader(data), int64(len(data)), minio.PutObjectOptions{
		ContentType: "application/octet-stream",
	})
	if err != nil {
		return PutResult{}, fmt.Errorf("put object %s: %w", object, err)
	}
	return newPutResult(fmt.Sprintf("minio://%s/%s", s.bucket, object), data), nil
}

func (s *MinioStore) Get(ctx context.Context, url string) ([]byte, error) {
	scheme, rest, err := splitURL(url)
	if err != nil {
		return nil, err
	}
	if scheme != "minio" {
		return nil, fmt.Errorf("content url %q does not belong to the minio backend", url)
	}
	bucket, object, ok := strings.Cut(rest, "/")
	if !ok {
		return nil, fmt.Errorf("malformed minio content url %q", url)
	}

	reader, err := s.client.GetObject(ctx, bucket, object, minio.GetObjectOptions{})
	if err != nil {
		return nil, fmt.Errorf("get object %s: %w", object, err)
	}
	defer reader.Close()
	data, err := io.ReadAll(reader)
	if err != nil {
		return nil, fmt.Errorf("read object %s: %w", object, err)
	}
	return data, nil
}
