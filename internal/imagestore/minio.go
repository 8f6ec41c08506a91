package imagestore

import (
	"context"
	"fmt"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// Minio stores images in an S3-compatible bucket
type Minio struct {
	client   *minio.Client
	bucket   string
	endpoint string
	scheme   string
}

func NewMinio(endpoint, accessKey, secretKey, bucket string, useSSL bool) (*Minio, error) {
	client, err := minio.New(endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(accessKey, secretKey, ""),
		Secure: useSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("invalid minio config: %w", err)
	}
	scheme := "http"
	if useSSL {
		scheme = "https"
	}
	return &Minio{client: client, bucket: bucket, endpoint: endpoint, scheme: scheme}, nil
}

// Put writes the object and returns its public URL
func (m *Minio) Put(ctx context.Context, u Upload) (string, error) {
	name := objectName(u)
	size := u.Size
	if size <= 0 {
		size = -1
	}

	_, err := m.client.PutObject(ctx, m.bucket, name, u.Body, size,
		minio.PutObjectOptions{ContentType: u.ContentType})
	if err != nil {
		return "", fmt.Errorf("minio upload failed: %w", err)
	}
	return m.objectURL(name), nil
}

func (m *Minio) objectURL(name string) string {
	return fmt.Sprintf("%s://%s/%s/%s", m.scheme, m.endpoint, m.bucket, name)
}
