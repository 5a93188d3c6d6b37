package finder

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/paulsmith/gogeos/geos"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/airbusgeo/usgs-product-finder/catalog"
	"github.com/airbusgeo/usgs-product-finder/common"
	"github.com/airbusgeo/usgs-product-finder/interface/transport"
	"github.com/airbusgeo/usgs-product-finder/service/geometry"
	"github.com/airbusgeo/usgs-product-finder/service/log"
	"github.com/airbusgeo/usgs-product-finder/wrs"
)

// Config of a Finder
type Config struct {
	// GeoJSON file of the WRS2 grid (optionally gzipped)
	GridFile string
	// Directory of the cached catalogs (default: DefaultCacheDir())
	CacheDir string
	// Maximum age of a cached catalog (default: 1 day)
	MaxAgeDays int
	// Urls of the catalogs (default: catalog.DefaultSources())
	Sources catalog.Sources
}

// DefaultCacheDir returns <user cache dir>/usgs-product-finder
func DefaultCacheDir() string {
	dir, err := os.UserCacheDir()
	if err != nil {
		dir = os.TempDir()
	}
	return filepath.Join(dir, "usgs-product-finder")
}

// Option of the Finder
type Option func(*Finder)

// WithLogger sets the logger of the Finder (default: the logger of the context given to New)
func WithLogger(l *zap.Logger) Option {
	return func(f *Finder) {
		f.logger = l
	}
}

// WithDownloader sets the transport used to fetch the catalogs (default: transport.New)
func WithDownloader(d catalog.Downloader) Option {
	return func(f *Finder) {
		f.downloader = d
	}
}

// Finder finds the Landsat products covering an area.
// It owns its grid and its catalog cache. It is safe for concurrent use.
type Finder struct {
	resolver   *wrs.Resolver
	cache      *catalog.Cache
	logger     *zap.Logger
	downloader catalog.Downloader
}

// New loads the WRS2 grid and creates a Finder
// Raise ErrReferenceData
func New(ctx context.Context, config Config, opts ...Option) (*Finder, error) {
	f := &Finder{}
	for _, opt := range opts {
		opt(f)
	}
	if f.logger == nil {
		f.logger = log.Logger(ctx)
	}
	if f.downloader == nil {
		f.downloader = transport.New(transport.Options{})
	}
	if config.CacheDir == "" {
		config.CacheDir = DefaultCacheDir()
	}
	if config.Sources == nil {
		config.Sources = catalog.DefaultSources()
	}

	grid, err := wrs.Load(f.context(ctx), config.GridFile)
	if err != nil {
		return nil, fmt.Errorf("New.%w", err)
	}
	f.resolver = wrs.NewResolver(grid)
	f.cache = catalog.NewCache(config.CacheDir, config.MaxAgeDays, config.Sources, f.downloader)
	f.logger.Sugar().Debugf("finder ready: %d WRS2 cells, cache in %s", grid.Len(), config.CacheDir)
	return f, nil
}

// context binds the logger of the finder to the context
func (f *Finder) context(ctx context.Context) context.Context {
	return log.WithLogger(ctx, f.logger)
}

// Resolver returns the spatial resolver of the finder
func (f *Finder) Resolver() *wrs.Resolver {
	return f.resolver
}

// SearchOption is an option of the Find* functions
type SearchOption func(*searchOptions)

type searchOptions struct {
	start, end time.Time
	strict     bool
}

// AcquiredBetween keeps the products acquired in [start, end] (a zero time means no bound)
func AcquiredBetween(start, end time.Time) SearchOption {
	return func(o *searchOptions) {
		o.start, o.end = start, end
	}
}

// StrictSatellite keeps only the products of the requested satellite.
// Landsat 4 & 5 (and 8 & 9) share the same catalog: without this option, both are returned.
func StrictSatellite() SearchOption {
	return func(o *searchOptions) {
		o.strict = true
	}
}

// Result of a search
type Result struct {
	Satellite common.Satellite `json:"satellite"`
	Cells     []common.PathRow `json:"cells"`
	Products  []string         `json:"products"`
}

// FindByPathRow returns the products of the satellite in the cell path/row
// Raise ErrInvalidSatellite, ErrUnknownCell, ErrCatalogDownload, ErrCatalogFormat
func (f *Finder) FindByPathRow(ctx context.Context, path, row int, satellite common.Satellite, opts ...SearchOption) ([]string, error) {
	res, err := f.searchPathRow(ctx, path, row, satellite, opts...)
	return res.Products, err
}

// FindByGeometry returns the products of the satellite whose cell intersects the geometry
// Raise ErrInvalidSatellite, ErrGeometryParse, ErrCatalogDownload, ErrCatalogFormat
func (f *Finder) FindByGeometry(ctx context.Context, g *geos.Geometry, satellite common.Satellite, opts ...SearchOption) ([]string, error) {
	res, err := f.searchGeometry(ctx, g, satellite, opts...)
	return res.Products, err
}

// FindByWKT returns the products of the satellite whose cell intersects the WKT geometry
// Raise ErrInvalidSatellite, ErrGeometryParse, ErrCatalogDownload, ErrCatalogFormat
func (f *Finder) FindByWKT(ctx context.Context, wkt string, satellite common.Satellite, opts ...SearchOption) ([]string, error) {
	res, err := f.searchWKT(ctx, wkt, satellite, opts...)
	return res.Products, err
}

// FindByGeoJSON returns the products of the satellite whose cell intersects the GeoJSON
// geometry, feature or feature collection
// Raise ErrInvalidSatellite, ErrGeometryParse, ErrCatalogDownload, ErrCatalogFormat
func (f *Finder) FindByGeoJSON(ctx context.Context, data []byte, satellite common.Satellite, opts ...SearchOption) ([]string, error) {
	res, err := f.searchGeoJSON(ctx, data, satellite, opts...)
	return res.Products, err
}

// Refresh downloads the catalog of the satellite, whatever its age, and returns its local path
// Raise ErrInvalidSatellite, ErrCatalogDownload
func (f *Finder) Refresh(ctx context.Context, satellite common.Satellite) (string, error) {
	return f.cache.Refresh(f.context(ctx), satellite)
}

// Status returns the status of the cached catalog of the satellite
// Raise ErrInvalidSatellite
func (f *Finder) Status(satellite common.Satellite) (catalog.Status, error) {
	return f.cache.Status(satellite)
}

// Catalogs returns the status of the cached catalog of every family
func (f *Finder) Catalogs() ([]catalog.Status, error) {
	var statuses []catalog.Status
	for _, family := range common.Families() {
		s, err := f.cache.Status(family.Satellites()[0])
		if err != nil {
			return nil, fmt.Errorf("Catalogs.%w", err)
		}
		statuses = append(statuses, s)
	}
	return statuses, nil
}

func (f *Finder) searchPathRow(ctx context.Context, path, row int, satellite common.Satellite, opts ...SearchOption) (Result, error) {
	if err := satellite.Validate(); err != nil {
		return Result{}, err
	}
	// Unknown cells are reported before any download
	cells, err := f.resolver.FromPathRow(path, row)
	if err != nil {
		return Result{}, err
	}
	return f.search(ctx, satellite, func(context.Context) (common.PathRows, error) {
		return cells, nil
	}, opts...)
}

func (f *Finder) searchGeometry(ctx context.Context, g *geos.Geometry, satellite common.Satellite, opts ...SearchOption) (Result, error) {
	if err := satellite.Validate(); err != nil {
		return Result{}, err
	}
	if g == nil {
		return Result{}, common.ErrGeometryParse{Err: fmt.Errorf("nil geometry")}
	}
	return f.search(ctx, satellite, func(ctx context.Context) (common.PathRows, error) {
		return f.resolver.FromGeometry(ctx, g)
	}, opts...)
}

func (f *Finder) searchWKT(ctx context.Context, wkt string, satellite common.Satellite, opts ...SearchOption) (Result, error) {
	if err := satellite.Validate(); err != nil {
		return Result{}, err
	}
	g, err := wrs.ParseWKT(wkt)
	if err != nil {
		return Result{}, err
	}
	return f.searchGeometry(ctx, g, satellite, opts...)
}

func (f *Finder) searchGeoJSON(ctx context.Context, data []byte, satellite common.Satellite, opts ...SearchOption) (Result, error) {
	if err := satellite.Validate(); err != nil {
		return Result{}, err
	}
	g, err := parseGeoJSON(data)
	if err != nil {
		return Result{}, err
	}
	return f.searchGeometry(ctx, g, satellite, opts...)
}

// parseGeoJSON parses a geojson geometry, feature or feature collection
// Raise ErrGeometryParse
func parseGeoJSON(data []byte) (*geos.Geometry, error) {
	gg, err := geometry.UnmarshalGeometry(data)
	if err != nil {
		return nil, common.ErrGeometryParse{Input: string(data), Err: err}
	}
	g, err := geometry.GeomToGeos(gg)
	if err != nil {
		return nil, common.ErrGeometryParse{Input: string(data), Err: err}
	}
	return g, nil
}

// search gets a fresh catalog and resolves the cells concurrently, then joins them
func (f *Finder) search(ctx context.Context, satellite common.Satellite, resolve func(context.Context) (common.PathRows, error), opts ...SearchOption) (Result, error) {
	ctx = log.With(f.context(ctx), "satellite", satellite.String())
	var o searchOptions
	for _, opt := range opts {
		opt(&o)
	}

	var catalogFile string
	var cells common.PathRows
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		catalogFile, err = f.cache.EnsureFresh(gctx, satellite)
		return err
	})
	g.Go(func() error {
		var err error
		cells, err = resolve(gctx)
		return err
	})
	if err := g.Wait(); err != nil {
		return Result{}, err
	}

	var joinOpts []catalog.JoinOption
	if !o.start.IsZero() || !o.end.IsZero() {
		joinOpts = append(joinOpts, catalog.WithAcquisitionWindow(o.start, o.end))
	}
	if o.strict {
		joinOpts = append(joinOpts, catalog.WithSatellite(satellite))
	}
	products, err := catalog.FindProducts(ctx, catalogFile, cells, joinOpts...)
	if err != nil {
		return Result{}, err
	}
	log.Logger(ctx).Sugar().Debugf("%d products found in %d cells", len(products), len(cells))
	return Result{Satellite: satellite, Cells: cells.Slice(), Products: products}, nil
}
