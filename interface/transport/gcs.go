package transport

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"cloud.google.com/go/storage"

	"github.com/airbusgeo/usgs-product-finder/service"
)

// GSTransport implements Transport for gs://bucket/object urls
type GSTransport struct {
	ProgressPeriod float64
}

// NewGSTransport creates a new transport for Google Storage.
// Credentials are the application default credentials.
func NewGSTransport() *GSTransport {
	return &GSTransport{ProgressPeriod: 5}
}

// Name implements Transport
func (t *GSTransport) Name() string {
	return "GoogleStorage"
}

// Download implements Transport
func (t *GSTransport) Download(ctx context.Context, url, localFile string) (err error) {
	defer func() {
		if err != nil && !errors.Is(err, storage.ErrObjectNotExist) && service.Temporary(err) {
			err = service.MakeTemporary(err)
		}
	}()

	bucket, object, err := splitURL(url)
	if err != nil {
		return fmt.Errorf("Download: %w", err)
	}

	client, err := storage.NewClient(ctx)
	if err != nil {
		return fmt.Errorf("Download.NewClient: %w", err)
	}
	defer client.Close()

	r, err := client.Bucket(bucket).Object(object).NewReader(ctx)
	if err != nil {
		return fmt.Errorf("Download.NewReader[%s/%s]: %w", bucket, object, err)
	}
	defer r.Close()

	file, err := os.Create(localFile)
	if err != nil {
		return fmt.Errorf("Download.Create: %w", err)
	}
	defer file.Close()

	if _, err := io.Copy(file, io.TeeReader(r, newProgress(ctx, url, r.Attrs.Size, t.ProgressPeriod))); err != nil {
		return fmt.Errorf("Download.Copy[%s/%s]: %w", bucket, object, err)
	}
	if err := file.Close(); err != nil {
		return fmt.Errorf("Download.Close: %w", err)
	}
	return nil
}
