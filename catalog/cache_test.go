package catalog

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/airbusgeo/usgs-product-finder/common"
	"github.com/airbusgeo/usgs-product-finder/service"
)

// fakeDownloader writes content into the local file.
// If failAfterWrite is set, it writes partial content then fails.
// If release is set, it waits for release to be closed (or the context to be done) before writing.
type fakeDownloader struct {
	mu             sync.Mutex
	content        string
	failAfterWrite bool
	failURLs       map[string]error
	urls           []string
	release        chan struct{}
}

func (d *fakeDownloader) Download(ctx context.Context, url, localFile string) error {
	d.mu.Lock()
	d.urls = append(d.urls, url)
	d.mu.Unlock()
	if d.release != nil {
		select {
		case <-d.release:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	if err, ok := d.failURLs[url]; ok {
		return err
	}
	if d.failAfterWrite {
		if err := os.WriteFile(localFile, []byte(d.content[:len(d.content)/2]), 0644); err != nil {
			return err
		}
		return service.MakeTemporary(fmt.Errorf("connection reset"))
	}
	return os.WriteFile(localFile, []byte(d.content), 0644)
}

func (d *fakeDownloader) calls() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.urls)
}

func TestSources(t *testing.T) {
	s := DefaultSources()
	urls, err := s.URLs(common.Landsat9)
	if err != nil {
		t.Fatal(err)
	}
	if len(urls) != 1 || urls[0] != USGSBulkMetadataURL+"LANDSAT_OT_C2_L1.csv.gz" {
		t.Errorf("wrong urls: %v", urls)
	}
	if name, _ := s.FileName(common.Landsat5); name != "LANDSAT_TM_C2_L1.csv.gz" {
		t.Errorf("wrong name: %s", name)
	}

	s.SetCanonical(common.FamilyETM, "https://example.org/catalogs/etm.csv")
	s.AddMirror("gs://my-bucket/usgs/{FAMILY}/{FILE}")
	urls, _ = s.URLs(common.Landsat7)
	expected := []string{"https://example.org/catalogs/etm.csv", "gs://my-bucket/usgs/ETM/etm.csv"}
	if strings.Join(urls, ",") != strings.Join(expected, ",") {
		t.Errorf("expected %v got %v", expected, urls)
	}

	for _, sat := range []common.Satellite{0, 1, 6, 10} {
		_, err := s.URLs(sat)
		var e common.ErrInvalidSatellite
		if !errors.As(err, &e) || e.Satellite != int(sat) {
			t.Errorf("%d: expected ErrInvalidSatellite, got %v", sat, err)
		}
	}
}

func TestEnsureFreshIdempotent(t *testing.T) {
	ctx := context.Background()
	d := &fakeDownloader{content: "path,row,product_id\n"}
	c := NewCache(filepath.Join(t.TempDir(), "cache"), 1, DefaultSources(), d)

	file1, err := c.EnsureFresh(ctx, common.Landsat8)
	if err != nil {
		t.Fatal(err)
	}
	file2, err := c.EnsureFresh(ctx, common.Landsat9)
	if err != nil {
		t.Fatal(err)
	}
	if file1 != file2 || filepath.Base(file1) != "LANDSAT_OT_C2_L1.csv.gz" {
		t.Errorf("expected the same OT catalog: %s %s", file1, file2)
	}
	if d.calls() != 1 {
		t.Errorf("expected 1 download, got %d", d.calls())
	}
	info, err := os.Stat(file1)
	if err != nil {
		t.Fatal(err)
	}
	if time.Since(info.ModTime()) > time.Minute {
		t.Errorf("modification time must be the refresh time: %v", info.ModTime())
	}

	// No temporary file left
	entries, _ := os.ReadDir(c.Dir())
	if len(entries) != 1 {
		t.Errorf("expected only the catalog in the cache dir, got %d entries", len(entries))
	}
}

func TestEnsureFreshStale(t *testing.T) {
	ctx := context.Background()
	d := &fakeDownloader{content: "new"}
	dir := t.TempDir()
	c := NewCache(dir, 1, DefaultSources(), d)

	file, _ := c.LocalPath(common.Landsat7)
	if err := os.WriteFile(file, []byte("old"), 0644); err != nil {
		t.Fatal(err)
	}
	old := time.Now().Add(-2 * 24 * time.Hour)
	if err := os.Chtimes(file, old, old); err != nil {
		t.Fatal(err)
	}

	if _, err := c.EnsureFresh(ctx, common.Landsat7); err != nil {
		t.Fatal(err)
	}
	if d.calls() != 1 {
		t.Errorf("expected 1 download, got %d", d.calls())
	}
	if b, _ := os.ReadFile(file); string(b) != "new" {
		t.Errorf("catalog not refreshed: %q", string(b))
	}
	if _, err := c.EnsureFresh(ctx, common.Landsat7); err != nil {
		t.Fatal(err)
	}
	if d.calls() != 1 {
		t.Errorf("expected no more download, got %d", d.calls())
	}

	// Forced refresh
	if _, err := c.Refresh(ctx, common.Landsat7); err != nil {
		t.Fatal(err)
	}
	if d.calls() != 2 {
		t.Errorf("expected a forced download, got %d", d.calls())
	}
}

func TestEnsureFreshAtomic(t *testing.T) {
	ctx := context.Background()
	d := &fakeDownloader{content: "path,row,product_id\n1,1,ID-NEW\n", failAfterWrite: true}
	dir := t.TempDir()
	c := NewCache(dir, 1, DefaultSources(), d)

	file, _ := c.LocalPath(common.Landsat4)
	previous := "path,row,product_id\n1,1,ID-OLD\n"
	if err := os.WriteFile(file, []byte(previous), 0644); err != nil {
		t.Fatal(err)
	}
	old := time.Now().Add(-48 * time.Hour)
	if err := os.Chtimes(file, old, old); err != nil {
		t.Fatal(err)
	}

	_, err := c.EnsureFresh(ctx, common.Landsat4)
	var e common.ErrCatalogDownload
	if !errors.As(err, &e) {
		t.Fatalf("expected ErrCatalogDownload, got %v", err)
	}
	if e.URL != USGSBulkMetadataURL+"LANDSAT_TM_C2_L1.csv.gz" {
		t.Errorf("wrong url: %s", e.URL)
	}
	if !service.Temporary(err) {
		t.Errorf("a connection reset must be temporary")
	}
	if b, _ := os.ReadFile(file); string(b) != previous {
		t.Errorf("previous catalog modified: %q", string(b))
	}
	entries, _ := os.ReadDir(dir)
	if len(entries) != 1 {
		t.Errorf("temporary file not removed: %d entries", len(entries))
	}
}

func TestEnsureFreshMirror(t *testing.T) {
	ctx := context.Background()
	sources := DefaultSources()
	sources.AddMirror("s3://mirror/{FILE}")
	canonical := USGSBulkMetadataURL + "LANDSAT_OT_C2_L1.csv.gz"
	d := &fakeDownloader{content: "mirror", failURLs: map[string]error{canonical: fmt.Errorf("404")}}
	c := NewCache(t.TempDir(), 0, sources, d)

	file, err := c.EnsureFresh(ctx, common.Landsat8)
	if err != nil {
		t.Fatal(err)
	}
	if b, _ := os.ReadFile(file); string(b) != "mirror" {
		t.Errorf("expected the mirror content, got %q", string(b))
	}
	if strings.Join(d.urls, ",") != canonical+",s3://mirror/LANDSAT_OT_C2_L1.csv.gz" {
		t.Errorf("wrong download order: %v", d.urls)
	}

	d.failURLs["s3://mirror/LANDSAT_OT_C2_L1.csv.gz"] = fmt.Errorf("access denied")
	if _, err := c.Refresh(ctx, common.Landsat8); !errors.As(err, &common.ErrCatalogDownload{}) {
		t.Errorf("expected ErrCatalogDownload, got %v", err)
	}
	if b, _ := os.ReadFile(file); string(b) != "mirror" {
		t.Errorf("previous catalog modified: %q", string(b))
	}
}

func TestEnsureFreshInvalidSatellite(t *testing.T) {
	d := &fakeDownloader{content: "x"}
	dir := filepath.Join(t.TempDir(), "cache")
	c := NewCache(dir, 1, DefaultSources(), d)

	_, err := c.EnsureFresh(context.Background(), 6)
	if !errors.As(err, &common.ErrInvalidSatellite{}) {
		t.Errorf("expected ErrInvalidSatellite, got %v", err)
	}
	if d.calls() != 0 {
		t.Errorf("no download expected")
	}
	if _, err := os.Stat(dir); !os.IsNotExist(err) {
		t.Errorf("cache directory must not be created")
	}
}

func TestEnsureFreshConcurrent(t *testing.T) {
	const n = 10
	d := &fakeDownloader{content: "x", release: make(chan struct{})}
	c := NewCache(t.TempDir(), 1, DefaultSources(), d)
	waiters := make(chan struct{}, n)
	c.waiting = func() { waiters <- struct{}{} }

	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(sat common.Satellite) {
			defer wg.Done()
			if _, err := c.EnsureFresh(context.Background(), sat); err != nil {
				t.Error(err)
			}
		}([]common.Satellite{common.Landsat8, common.Landsat9}[i%2])
	}
	// All the calls are waiting for the download before it completes
	for i := 0; i < n; i++ {
		<-waiters
	}
	close(d.release)
	wg.Wait()
	if d.calls() != 1 {
		t.Errorf("expected 1 shared download, got %d", d.calls())
	}
}

func TestEnsureFreshCanceledCaller(t *testing.T) {
	d := &fakeDownloader{content: "path,row,product_id\n", release: make(chan struct{})}
	c := NewCache(t.TempDir(), 1, DefaultSources(), d)
	waiters := make(chan struct{}, 2)
	c.waiting = func() { waiters <- struct{}{} }

	// First caller starts the download, the second one joins it
	ctxA, cancelA := context.WithCancel(context.Background())
	defer cancelA()
	errA := make(chan error, 1)
	go func() {
		_, err := c.EnsureFresh(ctxA, common.Landsat8)
		errA <- err
	}()
	<-waiters
	type result struct {
		file string
		err  error
	}
	resB := make(chan result, 1)
	go func() {
		file, err := c.EnsureFresh(context.Background(), common.Landsat9)
		resB <- result{file, err}
	}()
	<-waiters

	cancelA()
	if err := <-errA; !errors.Is(err, context.Canceled) {
		t.Errorf("expected context.Canceled, got %v", err)
	}

	close(d.release)
	res := <-resB
	if res.err != nil {
		t.Fatalf("the second caller must not be canceled with the first one: %v", res.err)
	}
	if b, err := os.ReadFile(res.file); err != nil || string(b) != d.content {
		t.Errorf("catalog not downloaded: %q %v", string(b), err)
	}
	if d.calls() != 1 {
		t.Errorf("expected 1 shared download, got %d", d.calls())
	}
}

func TestStatus(t *testing.T) {
	d := &fakeDownloader{content: "x"}
	c := NewCache(t.TempDir(), 2, DefaultSources(), d)

	s, err := c.Status(common.Landsat8)
	if err != nil {
		t.Fatal(err)
	}
	if s.Exists || s.Fresh || s.Family != "OT" {
		t.Errorf("wrong status: %+v", s)
	}
	if _, err := c.EnsureFresh(context.Background(), common.Landsat8); err != nil {
		t.Fatal(err)
	}
	if s, _ = c.Status(common.Landsat8); !s.Exists || !s.Fresh || s.UpdatedAt == nil {
		t.Errorf("wrong status: %+v", s)
	}
	if c.MaxAge() != 48*time.Hour {
		t.Errorf("wrong max age: %v", c.MaxAge())
	}
	if _, err := c.Status(3); err == nil {
		t.Errorf("expected an error")
	}
}
