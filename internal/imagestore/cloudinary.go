package imagestore

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/ZanzyTHEbar/eco-classifier/internal/domain"
	"github.com/ZanzyTHEbar/eco-classifier/internal/monitoring"
	"github.com/cloudinary/cloudinary-go/v2"
	"github.com/cloudinary/cloudinary-go/v2/api/uploader"
)

const cloudinaryService = "cloudinary"

// CloudinaryUploader stores images in a Cloudinary folder.
type CloudinaryUploader struct {
	cld     *cloudinary.Cloudinary
	folder  string
	logger  *monitoring.Logger
	metrics *monitoring.Metrics
}

// NewCloudinaryUploader configures a client from a cloudinary:// URL
func NewCloudinaryUploader(cloudinaryURL, folder string, logger *monitoring.Logger, metrics *monitoring.Metrics) (*CloudinaryUploader, error) {
	if cloudinaryURL == "" {
		return nil, errors.New("cloudinary URL is empty")
	}

	cld, err := cloudinary.NewFromURL(cloudinaryURL)
	if err != nil {
		return nil, fmt.Errorf("failed to configure cloudinary: %w", err)
	}

	return &CloudinaryUploader{
		cld:     cld,
		folder:  folder,
		logger:  logger,
		metrics: metrics,
	}, nil
}

// Name identifies the uploader in logs and health output
func (c *CloudinaryUploader) Name() string {
	return cloudinaryService
}

// Upload streams the image to Cloudinary as an image resource
func (c *CloudinaryUploader) Upload(ctx context.Context, r io.Reader, filename string) (*Stored, error) {
	start := time.Now()
	resp, err := c.cld.Upload.Upload(ctx, r, uploader.UploadParams{
		Folder:       c.folder,
		ResourceType: "image",
	})

	ok := err == nil && resp != nil && resp.Error.Message == ""
	if c.metrics != nil {
		c.metrics.RecordExternalAPIRequest(cloudinaryService, ok)
	}
	if c.logger != nil {
		status := 200
		if !ok {
			status = 502
		}
		c.logger.ExternalAPILogger(cloudinaryService, "POST", "upload/"+c.folder, status, time.Since(start), ok)
	}

	if err != nil {
		return nil, &domain.ExternalError{Service: cloudinaryService, Err: err}
	}
	if resp == nil {
		return nil, &domain.ExternalError{Service: cloudinaryService, Err: errors.New("empty upload response")}
	}
	if resp.Error.Message != "" {
		return nil, &domain.ExternalError{Service: cloudinaryService, Err: errors.New(resp.Error.Message)}
	}

	return &Stored{URL: resp.SecureURL, PublicID: resp.PublicID}, nil
}
