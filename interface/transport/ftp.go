package transport

import (
	"context"
	"crypto/tls"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/jlaffaye/ftp"

	"github.com/airbusgeo/usgs-product-finder/service"
)

// FTPTransport implements Transport for ftp://host[:port]/path urls
// Port 990 implies an implicit TLS connection.
type FTPTransport struct {
	user           string
	pword          string
	timeout        time.Duration
	ProgressPeriod float64
}

// NewFTPTransport creates a new ftp transport.
// An empty user logs in as anonymous.
func NewFTPTransport(user, pword string, timeout time.Duration) *FTPTransport {
	if user == "" {
		user, pword = "anonymous", "anonymous"
	}
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &FTPTransport{user: user, pword: pword, timeout: timeout, ProgressPeriod: 5}
}

// Name implements Transport
func (t *FTPTransport) Name() string {
	return "FTP"
}

// parseFTPURL returns the host (with port), the path of the file and whether TLS must be used
func parseFTPURL(url string) (string, string, bool, error) {
	host, path, err := splitURL(url)
	if err != nil {
		return "", "", false, err
	}
	useTLS := strings.HasPrefix(strings.ToLower(url), "ftps://")
	splitHost := strings.SplitN(host, ":", 2)
	if len(splitHost) == 1 {
		port := "21"
		if useTLS {
			port = "990"
		}
		host += ":" + port
	} else if splitHost[1] == "990" {
		useTLS = true
	}
	return host, "/" + path, useTLS, nil
}

// Download implements Transport
func (t *FTPTransport) Download(ctx context.Context, url, localFile string) error {
	host, path, useTLS, err := parseFTPURL(url)
	if err != nil {
		return fmt.Errorf("Download: %w", err)
	}

	// Connection to FTP
	ftpOption := []ftp.DialOption{ftp.DialWithTimeout(t.timeout), ftp.DialWithContext(ctx)}
	if useTLS {
		ftpOption = append(ftpOption, ftp.DialWithTLS(&tls.Config{ServerName: strings.SplitN(host, ":", 2)[0]}))
	}
	c, err := ftp.Dial(host, ftpOption...)
	if err != nil {
		return service.MakeTemporary(fmt.Errorf("Download.Dial: %w", err))
	}
	defer c.Quit()

	if err = c.Login(t.user, t.pword); err != nil {
		return fmt.Errorf("Download.Login: %w", err)
	}

	// Get file size (not supported by every server)
	size, _ := c.FileSize(path)

	r, err := c.Retr(path)
	if err != nil {
		return fmt.Errorf("Download.Retr[%s]: %w", path, err)
	}
	defer r.Close()

	file, err := os.Create(localFile)
	if err != nil {
		return fmt.Errorf("Download.Create: %w", err)
	}
	defer file.Close()

	if _, err = io.Copy(file, io.TeeReader(r, newProgress(ctx, url, size, t.ProgressPeriod))); err != nil {
		return service.MakeTemporary(fmt.Errorf("Download.Copy: %w", err))
	}
	if err := file.Close(); err != nil {
		return fmt.Errorf("Download.Close: %w", err)
	}
	return nil
}
