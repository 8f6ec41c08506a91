package imagestore

import (
	"context"
	"fmt"
	"path"
	"strings"

	"github.com/cloudinary/cloudinary-go/v2/api/uploader"
	"github.com/cloudinary/cloudinary-go/v2/config"
)

const imageEager = "q_auto,f_auto,w_800,c_fill"

// Cloudinary stores images through the upload API
type Cloudinary struct {
	uploader *uploader.API
}

func NewCloudinary(cloudName, apiKey, apiSecret string) (*Cloudinary, error) {
	cfg, err := config.NewFromParams(cloudName, apiKey, apiSecret)
	if err != nil {
		return nil, fmt.Errorf("invalid cloudinary config: %w", err)
	}
	up, err := uploader.NewWithConfiguration(cfg)
	if err != nil {
		return nil, err
	}
	return &Cloudinary{uploader: up}, nil
}

// Put uploads the image and returns its secure URL
func (c *Cloudinary) Put(ctx context.Context, u Upload) (string, error) {
	name := objectName(u)
	publicID := strings.TrimSuffix(path.Base(name), path.Ext(name))

	result, err := c.uploader.Upload(ctx, u.Body, uploader.UploadParams{
		Folder:   u.Folder,
		PublicID: publicID,
		Eager:    imageEager,
	})
	if err != nil {
		return "", fmt.Errorf("cloudinary upload failed: %w", err)
	}
	if result.Error.Message != "" {
		return "", fmt.Errorf("cloudinary upload failed: %s", result.Error.Message)
	}
	return result.SecureURL, nil
}
