package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/araddon/dateparse"
	"github.com/gorilla/handlers"
	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"github.com/airbusgeo/usgs-product-finder/catalog"
	"github.com/airbusgeo/usgs-product-finder/common"
	"github.com/airbusgeo/usgs-product-finder/finder"
	"github.com/airbusgeo/usgs-product-finder/interface/transport"
	"github.com/airbusgeo/usgs-product-finder/service/log"
)

type config struct {
	GridFile    string
	CacheDir    string
	MaxAgeDays  int
	CatalogTM   string
	CatalogETM  string
	CatalogOT   string
	Mirror      string
	HTTPTimeout time.Duration

	AWSAccessKeyID     string
	AWSSecretAccessKey string
	AWSRegion          string
	FTPUser            string
	FTPPassword        string

	Satellite string
	Path      int
	Row       int
	WKT       string
	GeoJSON   string
	Start     string
	End       string
	Strict    bool
	Refresh   bool

	Port     string
	LogLevel string
}

func newAppConfig() (*config, error) {
	config := config{}
	flag.StringVar(&config.GridFile, "grid", "", "GeoJSON file of the WRS2 grid (optionally .gz) (required)")
	flag.StringVar(&config.CacheDir, "cache-dir", finder.DefaultCacheDir(), "directory of the cached catalogs")
	flag.IntVar(&config.MaxAgeDays, "max-age-days", catalog.DefaultMaxAgeDays, "age (in days) above which a cached catalog is downloaded again")
	flag.StringVar(&config.CatalogTM, "catalog-tm", "", "url of the Landsat 4-5 catalog (default: USGS bulk metadata)")
	flag.StringVar(&config.CatalogETM, "catalog-etm", "", "url of the Landsat 7 catalog (default: USGS bulk metadata)")
	flag.StringVar(&config.CatalogOT, "catalog-ot", "", "url of the Landsat 8-9 catalog (default: USGS bulk metadata)")
	flag.StringVar(&config.Mirror, "catalog-mirror", "", "mirror of the catalogs, tried if the main url fails. {FILE} is replaced by the name of the catalog (e.g. gs://bucket/usgs/{FILE})")
	flag.DurationVar(&config.HTTPTimeout, "http-timeout", 0, "timeout of an http(s) download (0: no timeout)")

	flag.StringVar(&config.AWSAccessKeyID, "aws-access-key-id", "", "aws access key id, to download a catalog from a requester-pays s3 mirror (default: aws credential chain)")
	flag.StringVar(&config.AWSSecretAccessKey, "aws-secret-access-key", "", "aws secret access key")
	flag.StringVar(&config.AWSRegion, "aws-region", transport.DefaultS3Region, "aws region of the s3 mirror")
	flag.StringVar(&config.FTPUser, "ftp-user", "", "user of the ftp mirror (default: anonymous)")
	flag.StringVar(&config.FTPPassword, "ftp-password", "", "password of the ftp mirror")

	flag.StringVar(&config.Satellite, "satellite", "", "Landsat satellite (4, 5, 7, 8 or 9). With -refresh only, a family is also accepted (tm, etm, ot)")
	flag.IntVar(&config.Path, "path", 0, "WRS2 path of the search")
	flag.IntVar(&config.Row, "row", 0, "WRS2 row of the search")
	flag.StringVar(&config.WKT, "wkt", "", "area of the search as a WKT (EPSG:4326)")
	flag.StringVar(&config.GeoJSON, "geojson", "", "file of the area of the search as a GeoJSON geometry, feature or feature collection (EPSG:4326)")
	flag.StringVar(&config.Start, "start", "", "only the products acquired after this date")
	flag.StringVar(&config.End, "end", "", "only the products acquired before this date")
	flag.BoolVar(&config.Strict, "strict", false, "only the products of the satellite (Landsat 4&5 and 8&9 share the same catalog)")
	flag.BoolVar(&config.Refresh, "refresh", false, "download the catalog of the satellite, whatever its age")

	flag.StringVar(&config.Port, "port", "8080", "port of the http server (if no search is requested)")
	flag.StringVar(&config.LogLevel, "log-level", "info", "log level (debug, info, warn, error)")
	flag.Parse()

	if config.GridFile == "" {
		return nil, fmt.Errorf("missing required flag: -grid")
	}
	if (config.Path == 0) != (config.Row == 0) {
		return nil, fmt.Errorf("-path and -row must be defined together")
	}
	return &config, nil
}

func (c config) search() bool {
	return c.Path != 0 || c.WKT != "" || c.GeoJSON != ""
}

func (c config) sources() catalog.Sources {
	sources := catalog.DefaultSources()
	for family, url := range map[common.Family]string{common.FamilyTM: c.CatalogTM, common.FamilyETM: c.CatalogETM, common.FamilyOT: c.CatalogOT} {
		if url != "" {
			sources.SetCanonical(family, url)
		}
	}
	if c.Mirror != "" {
		sources.AddMirror(c.Mirror)
	}
	return sources
}

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()
	err := run(ctx)
	if err != nil {
		log.Fatal("error", zap.Error(err))
	}
}

func run(ctx context.Context) error {
	config, err := newAppConfig()
	if err != nil {
		return err
	}

	logger, err := log.New(config.LogLevel)
	if err != nil {
		return fmt.Errorf("log-level: %w", err)
	}
	defer logger.Sync()
	log.SetDefault(logger)

	downloader := transport.New(transport.Options{
		HTTPTimeout:    config.HTTPTimeout,
		AWSAccessKeyID: config.AWSAccessKeyID,
		AWSSecretKey:   config.AWSSecretAccessKey,
		AWSRegion:      config.AWSRegion,
		FTPUser:        config.FTPUser,
		FTPPassword:    config.FTPPassword,
	})

	f, err := finder.New(ctx, finder.Config{
		GridFile:   config.GridFile,
		CacheDir:   config.CacheDir,
		MaxAgeDays: config.MaxAgeDays,
		Sources:    config.sources(),
	}, finder.WithLogger(logger), finder.WithDownloader(downloader))
	if err != nil {
		return err
	}

	if config.Refresh || config.search() {
		return searchAndPrint(ctx, f, config)
	}
	return serve(ctx, f, config.Port)
}

// searchAndPrint runs the search requested on the command line and prints the products, one per line
func searchAndPrint(ctx context.Context, f *finder.Finder, config *config) error {
	if config.Refresh {
		satellite, err := common.ParseCatalogSatellite(config.Satellite)
		if err != nil {
			return err
		}
		file, err := f.Refresh(ctx, satellite)
		if err != nil {
			return err
		}
		log.Logger(ctx).Sugar().Infof("catalog %s refreshed: %s", satellite.Family(), file)
		if !config.search() {
			return nil
		}
	}

	satellite, err := common.ParseSatellite(config.Satellite)
	if err != nil {
		return err
	}

	var opts []finder.SearchOption
	if config.Start != "" || config.End != "" {
		var start, end time.Time
		if config.Start != "" {
			if start, err = dateparse.ParseAny(config.Start); err != nil {
				return fmt.Errorf("-start: %w", err)
			}
		}
		if config.End != "" {
			if end, err = dateparse.ParseAny(config.End); err != nil {
				return fmt.Errorf("-end: %w", err)
			}
		}
		opts = append(opts, finder.AcquiredBetween(start, end))
	}
	if config.Strict {
		opts = append(opts, finder.StrictSatellite())
	}

	var products []string
	switch {
	case config.WKT != "":
		products, err = f.FindByWKT(ctx, config.WKT, satellite, opts...)
	case config.GeoJSON != "":
		data, e := os.ReadFile(config.GeoJSON)
		if e != nil {
			return fmt.Errorf("-geojson: %w", e)
		}
		products, err = f.FindByGeoJSON(ctx, data, satellite, opts...)
	default:
		products, err = f.FindByPathRow(ctx, config.Path, config.Row, satellite, opts...)
	}
	if err != nil {
		return err
	}
	for _, p := range products {
		fmt.Println(p)
	}
	return nil
}

func serve(ctx context.Context, f *finder.Finder, port string) error {
	router := mux.NewRouter()
	f.AddHandler(router)
	router.HandleFunc("/healthz", func(w http.ResponseWriter, req *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
	}).Methods("GET")

	headersOk := handlers.AllowedHeaders([]string{"*"})
	originsOk := handlers.AllowedOrigins([]string{"*"})
	methodsOk := handlers.AllowedMethods([]string{"GET", "POST", "OPTIONS"})
	s := http.Server{
		Addr:    ":" + port,
		Handler: handlers.CORS(originsOk, headersOk, methodsOk)(router),
	}

	go func() {
		if err := s.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Logger(ctx).Fatal("finder.ListenAndServe", zap.Error(err))
		}
	}()
	log.Logger(ctx).Sugar().Infof("finder listening on :%s", port)

	<-ctx.Done()
	sctx, cncl := context.WithTimeout(context.Background(), 30*time.Second)
	defer cncl()
	return s.Shutdown(sctx)
}
