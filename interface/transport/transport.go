package transport

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/airbusgeo/usgs-product-finder/service/log"
)

// Transport fetches a remote resource into a local file
type Transport interface {
	// Download the full resource identified by url into localFile.
	// localFile is created or truncated. On error, its content is undefined.
	Download(ctx context.Context, url, localFile string) error

	// Name of the transport
	Name() string
}

// Router implements catalog.Downloader, dispatching each url to the transport of its scheme
type Router struct {
	transports map[string]Transport
	fallback   Transport
}

// NewRouter creates a router with no transport.
// Urls whose scheme is not registered are sent to the fallback (if not nil).
func NewRouter(fallback Transport) *Router {
	return &Router{transports: map[string]Transport{}, fallback: fallback}
}

// Options of the default router
type Options struct {
	HTTPTimeout                  time.Duration
	AWSAccessKeyID, AWSSecretKey string
	AWSRegion                    string
	FTPUser, FTPPassword         string
	FTPTimeout                   time.Duration
}

// New creates a router with all the supported transports:
// http(s) (grab), s3 (aws sdk), gs (google storage), ftp(s) and local files (geocube uri) as fallback
func New(opts Options) *Router {
	return NewRouter(NewURITransport()).
		Register(NewHTTPTransport(opts.HTTPTimeout), "http", "https").
		Register(NewS3Transport(opts.AWSAccessKeyID, opts.AWSSecretKey, opts.AWSRegion), "s3").
		Register(NewGSTransport(), "gs").
		Register(NewFTPTransport(opts.FTPUser, opts.FTPPassword, opts.FTPTimeout), "ftp", "ftps")
}

// Register the transport for the given schemes (case-insensitive)
func (r *Router) Register(t Transport, schemes ...string) *Router {
	for _, scheme := range schemes {
		r.transports[strings.ToLower(scheme)] = t
	}
	return r
}

// Transport returns the transport that will handle the url
func (r *Router) Transport(url string) (Transport, error) {
	if t, ok := r.transports[scheme(url)]; ok {
		return t, nil
	}
	if r.fallback != nil {
		return r.fallback, nil
	}
	return nil, fmt.Errorf("no transport for %s", url)
}

// Download implements catalog.Downloader
func (r *Router) Download(ctx context.Context, url, localFile string) error {
	t, err := r.Transport(url)
	if err != nil {
		return fmt.Errorf("Router.%w", err)
	}
	log.Logger(ctx).Sugar().Debugf("downloading %s using %s", url, t.Name())
	if err := t.Download(ctx, url, localFile); err != nil {
		return fmt.Errorf("%s.%w", t.Name(), err)
	}
	return nil
}

// scheme returns the lower-cased scheme of the url or "" if the url has no scheme
func scheme(url string) string {
	i := strings.Index(url, "://")
	if i <= 0 {
		return ""
	}
	return strings.ToLower(url[:i])
}

// splitURL returns the host (or bucket) and the path (or key) of scheme://host/path
func splitURL(url string) (string, string, error) {
	if i := strings.Index(url, "://"); i >= 0 {
		url = url[i+3:]
	}
	splits := strings.SplitN(url, "/", 2)
	if splits[0] == "" || len(splits) == 1 || splits[1] == "" {
		return "", "", fmt.Errorf("malformed url: %s", url)
	}
	return splits[0], splits[1], nil
}

func fmtBytes(bytes int64) string {
	v := float64(bytes)
	switch {
	case v > 1<<30:
		return fmt.Sprintf("%.2fGo", v/(1<<30))
	case v > 1<<20:
		return fmt.Sprintf("%.2fMo", v/(1<<20))
	case v > 1<<10:
		return fmt.Sprintf("%.2fko", v/(1<<10))
	default:
		return fmt.Sprintf("%.2fo", v)
	}
}

// progress logs the advance of a download every period (in %)
type progress struct {
	ctx     context.Context
	prefix  string
	size    int64
	current int64
	next    float64
	period  float64
}

func newProgress(ctx context.Context, prefix string, size int64, periodPercent float64) *progress {
	if periodPercent <= 0 {
		periodPercent = 5
	}
	return &progress{ctx: ctx, prefix: prefix, size: size, period: periodPercent / 100, next: periodPercent / 100}
}

// Write implements io.Writer, to be used with io.TeeReader
func (p *progress) Write(b []byte) (int, error) {
	p.current += int64(len(b))
	if p.size > 0 {
		if ratio := float64(p.current) / float64(p.size); ratio >= p.next {
			log.Logger(p.ctx).Sugar().Debugf("%s: %.2f%% %s/%s", p.prefix, 100*ratio, fmtBytes(p.current), fmtBytes(p.size))
			for p.next <= ratio {
				p.next += p.period
			}
		}
	}
	return len(b), nil
}
