// Package imagestore uploads product and profile images and returns their public URL.
package imagestore

import (
	"context"
	"fmt"
	"io"
	"path"
	"strings"

	"github.com/google/uuid"
)

// Upload describes one image to store
type Upload struct {
	Folder      string
	Filename    string
	ContentType string
	Size        int64
	Body        io.Reader
}

// Store is implemented by every backend
type Store interface {
	Put(ctx context.Context, u Upload) (string, error)
}

// objectName builds a collision-free object name that keeps the original extension
func objectName(u Upload) string {
	ext := strings.ToLower(path.Ext(u.Filename))
	id := strings.ReplaceAll(uuid.New().String(), "-", "")[:16]
	return path.Join(u.Folder, "img_"+id+ext)
}

// New returns the backend named in cfg
func New(cfg Config) (Store, error) {
	switch cfg.Backend {
	case "cloudinary":
		return NewCloudinary(cfg.CloudName, cfg.APIKey, cfg.APISecret)
	case "minio":
		return NewMinio(cfg.MinioEndpoint, cfg.MinioAccessKey, cfg.MinioSecretKey, cfg.MinioBucket, cfg.MinioUseSSL)
	default:
		return nil, fmt.Errorf("unknown image backend %q", cfg.Backend)
	}
}

// Config selects and configures a backend
type Config struct {
	Backend        string
	CloudName      string
	APIKey         string
	APISecret      string
	MinioEndpoint  string
	MinioAccessKey string
	MinioSecretKey string
	MinioBucket    string
	MinioUseSSL    bool
}
