package transport

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/airbusgeo/geocube/interface/storage/uri"
)

// URITransport implements Transport for local paths (with or without file://)
// and for any other storage supported by the geocube uri package
type URITransport struct{}

// NewURITransport creates a new uri transport
func NewURITransport() *URITransport {
	return &URITransport{}
}

// Name implements Transport
func (t *URITransport) Name() string {
	return "URI"
}

// Download implements Transport
func (t *URITransport) Download(ctx context.Context, url, localFile string) error {
	u, err := uri.ParseUri(url)
	if err != nil {
		return fmt.Errorf("Download.ParseUri: %w", err)
	}
	switch strings.ToLower(u.Protocol()) {
	case "file", "":
		if err := copyFile(strings.TrimPrefix(url, "file://"), localFile); err != nil {
			return fmt.Errorf("Download.%w", err)
		}
	default:
		if err := u.DownloadToFile(ctx, localFile); err != nil {
			return fmt.Errorf("Download.DownloadToFile: %w", err)
		}
	}
	return nil
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return fmt.Errorf("copyFile.Open: %w", err)
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return fmt.Errorf("copyFile.Create: %w", err)
	}
	defer out.Close()

	if _, err := io.Copy(out, in); err != nil {
		return fmt.Errorf("copyFile.Copy: %w", err)
	}
	if err := out.Close(); err != nil {
		return fmt.Errorf("copyFile.Close: %w", err)
	}
	return nil
}
