package catalog

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/airbusgeo/usgs-product-finder/common"
	"github.com/airbusgeo/usgs-product-finder/service"
	"github.com/airbusgeo/usgs-product-finder/service/log"
)

// DefaultMaxAgeDays is the default maximum age of a cached catalog
const DefaultMaxAgeDays = 1

// Downloader fetches a remote resource into a local file
type Downloader interface {
	// Download the full resource into localFile (created or truncated)
	Download(ctx context.Context, url, localFile string) error
}

// Cache manages the local copies of the catalogs.
// A cached catalog is either absent or complete: it is downloaded into a temporary file
// of the cache directory, then renamed onto its final name.
type Cache struct {
	dir        string
	maxAge     time.Duration
	sources    Sources
	downloader Downloader
	group      singleflight.Group
	now        func() time.Time
	waiting    func() // called once the caller waits for a download
}

// NewCache creates a cache in dir. The directory is created on the first download.
// maxAgeDays <= 0 is replaced by DefaultMaxAgeDays.
func NewCache(dir string, maxAgeDays int, sources Sources, downloader Downloader) *Cache {
	if maxAgeDays <= 0 {
		maxAgeDays = DefaultMaxAgeDays
	}
	return &Cache{
		dir:        dir,
		maxAge:     time.Duration(maxAgeDays) * 24 * time.Hour,
		sources:    sources,
		downloader: downloader,
		now:        time.Now,
	}
}

// Dir returns the cache directory
func (c *Cache) Dir() string {
	return c.dir
}

// MaxAge returns the age above which a cached catalog is refreshed
func (c *Cache) MaxAge() time.Duration {
	return c.maxAge
}

// LocalPath returns the path of the cached catalog of the satellite, without any I/O
// Raise ErrInvalidSatellite
func (c *Cache) LocalPath(satellite common.Satellite) (string, error) {
	name, err := c.sources.FileName(satellite)
	if err != nil {
		return "", err
	}
	return filepath.Join(c.dir, name), nil
}

// EnsureFresh returns the path of the cached catalog of the satellite,
// downloading it if it is missing or older than the maximum age.
// Raise ErrInvalidSatellite, ErrCatalogDownload
func (c *Cache) EnsureFresh(ctx context.Context, satellite common.Satellite) (string, error) {
	return c.ensure(ctx, satellite, false)
}

// Refresh downloads the catalog of the satellite, whatever its age
// Raise ErrInvalidSatellite, ErrCatalogDownload
func (c *Cache) Refresh(ctx context.Context, satellite common.Satellite) (string, error) {
	return c.ensure(ctx, satellite, true)
}

func (c *Cache) ensure(ctx context.Context, satellite common.Satellite, force bool) (string, error) {
	urls, err := c.sources.URLs(satellite)
	if err != nil {
		return "", err
	}
	localFile, err := c.LocalPath(satellite)
	if err != nil {
		return "", err
	}
	ctx = log.With(ctx, "catalog", filepath.Base(localFile))

	if !force {
		if fresh, age := c.fresh(localFile); fresh {
			log.Logger(ctx).Sugar().Debugf("cached catalog is fresh (age: %v)", age.Round(time.Second))
			return localFile, nil
		}
	}

	// Concurrent calls for the same family share the download.
	// The download is not canceled with the caller that started it.
	key := satellite.Family().String()
	if force {
		key += ":force"
	}
	dctx := context.WithoutCancel(ctx)
	ch := c.group.DoChan(key, func() (interface{}, error) {
		return nil, c.download(dctx, urls, localFile)
	})
	if c.waiting != nil {
		c.waiting()
	}
	select {
	case res := <-ch:
		if res.Err != nil {
			return "", res.Err
		}
		return localFile, nil
	case <-ctx.Done():
		return "", fmt.Errorf("ensure[%s]: %w", satellite, ctx.Err())
	}
}

// fresh returns true if the file exists and is younger than maxAge
func (c *Cache) fresh(localFile string) (bool, time.Duration) {
	info, err := os.Stat(localFile)
	if err != nil {
		return false, 0
	}
	age := c.now().Sub(info.ModTime())
	return age <= c.maxAge, age
}

// download tries the urls in order until one succeeds
// Raise ErrCatalogDownload
func (c *Cache) download(ctx context.Context, urls []string, localFile string) error {
	if err := os.MkdirAll(c.dir, 0755); err != nil {
		return common.ErrCatalogDownload{URL: urls[0], Err: fmt.Errorf("MkdirAll: %w", err)}
	}

	var err error
	for _, url := range urls {
		start := c.now()
		log.Logger(ctx).Sugar().Infof("downloading catalog from %s", url)
		e := c.downloadTo(ctx, url, localFile)
		if err = service.MergeErrors(false, err, e); err == nil {
			log.Logger(ctx).Sugar().Infof("catalog refreshed from %s in %v", url, c.now().Sub(start).Round(time.Millisecond))
			return nil
		}
		log.Logger(ctx).Warn("unable to download catalog", zap.String("url", url), zap.Error(e))
	}
	return common.ErrCatalogDownload{URL: urls[0], Err: err}
}

// downloadTo downloads the url into a temporary file, then renames it onto localFile.
// On error, localFile is left untouched and the temporary file is removed.
func (c *Cache) downloadTo(ctx context.Context, url, localFile string) error {
	tmpFile := filepath.Join(c.dir, "."+filepath.Base(localFile)+"."+uuid.New().String()+".part")
	defer os.Remove(tmpFile)

	if err := c.downloader.Download(ctx, url, tmpFile); err != nil {
		return fmt.Errorf("downloadTo[%s]: %w", url, err)
	}
	if _, err := os.Stat(tmpFile); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("downloadTo[%s]: nothing downloaded", url)
		}
		return fmt.Errorf("downloadTo.Stat: %w", err)
	}

	// The modification time is the refresh time, whatever the remote time
	now := c.now()
	if err := os.Chtimes(tmpFile, now, now); err != nil {
		return fmt.Errorf("downloadTo.Chtimes: %w", err)
	}
	if err := os.Rename(tmpFile, localFile); err != nil {
		return fmt.Errorf("downloadTo.Rename: %w", err)
	}
	return nil
}

// Status of a cached catalog
type Status struct {
	Satellite common.Satellite `json:"satellite"`
	Family    string           `json:"family"`
	File      string           `json:"file"`
	Sources   []string         `json:"sources"`
	Exists    bool             `json:"exists"`
	UpdatedAt *time.Time       `json:"updated_at,omitempty"`
	Age       string           `json:"age,omitempty"`
	Fresh     bool             `json:"fresh"`
}

// Status returns the status of the cached catalog of the satellite, without downloading it
// Raise ErrInvalidSatellite
func (c *Cache) Status(satellite common.Satellite) (Status, error) {
	urls, err := c.sources.URLs(satellite)
	if err != nil {
		return Status{}, err
	}
	localFile, err := c.LocalPath(satellite)
	if err != nil {
		return Status{}, err
	}
	s := Status{
		Satellite: satellite,
		Family:    satellite.Family().String(),
		File:      localFile,
		Sources:   urls,
	}
	if info, err := os.Stat(localFile); err == nil {
		modTime := info.ModTime()
		s.Exists = true
		s.UpdatedAt = &modTime
		age := c.now().Sub(modTime)
		s.Age = age.Round(time.Second).String()
		s.Fresh = age <= c.maxAge
	}
	return s, nil
}
