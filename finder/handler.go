package finder

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/araddon/dateparse"
	"github.com/gorilla/mux"

	"github.com/airbusgeo/usgs-product-finder/common"
	"github.com/airbusgeo/usgs-product-finder/service"
	"github.com/airbusgeo/usgs-product-finder/service/log"
)

// Maximum size of a GeoJSON body
const maxBodySize = 32 << 20

// AddHandler adds the endpoints of the finder to the router
func (f *Finder) AddHandler(r *mux.Router) {
	r.HandleFunc("/products", f.ProductsHandler).Methods("GET", "POST")
	r.HandleFunc("/cells", f.CellsHandler).Methods("GET")
	r.HandleFunc("/catalogs", f.CatalogsHandler).Methods("GET")
	r.HandleFunc("/catalogs/{satellite}", f.CatalogStatusHandler).Methods("GET")
	r.HandleFunc("/catalogs/{satellite}", f.CatalogRefreshHandler).Methods("POST")
}

type errBadRequest struct{ error }

func (e errBadRequest) Unwrap() error { return e.error }

// httpStatus returns the status code corresponding to the error
func httpStatus(err error) int {
	var tooLarge *http.MaxBytesError
	switch {
	case errors.As(err, &tooLarge):
		return http.StatusRequestEntityTooLarge
	case errors.As(err, &common.ErrInvalidSatellite{}),
		errors.As(err, &common.ErrGeometryParse{}),
		errors.As(err, &common.ErrUnknownCell{}),
		errors.As(err, &errBadRequest{}):
		return http.StatusBadRequest
	case errors.As(err, &common.ErrCatalogFormat{}):
		return http.StatusBadGateway
	case errors.As(err, &common.ErrCatalogDownload{}):
		if service.Temporary(err) {
			return http.StatusServiceUnavailable
		}
		return http.StatusBadGateway
	}
	return http.StatusInternalServerError
}

func writeError(w http.ResponseWriter, req *http.Request, prefix string, err error) {
	status := httpStatus(err)
	if status >= 500 {
		log.Logger(req.Context()).Sugar().Warnf("%s: %v", prefix, err)
	}
	w.WriteHeader(status)
	fmt.Fprintf(w, "%v", err)
}

func writeJSON(w http.ResponseWriter, req *http.Request, prefix string, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Logger(req.Context()).Sugar().Warnf("%s.Encode: %v", prefix, err)
	}
}

func parseSatellite(s string) (common.Satellite, error) {
	if s == "" {
		return 0, errBadRequest{fmt.Errorf("missing required parameter: 'satellite'")}
	}
	return common.ParseSatellite(s)
}

// parseCatalogSatellite accepts a satellite (8, L8...) or a family (tm, etm, ot)
func parseCatalogSatellite(s string) (common.Satellite, error) {
	if s == "" {
		return 0, errBadRequest{fmt.Errorf("missing required parameter: 'satellite'")}
	}
	return common.ParseCatalogSatellite(s)
}

// parsePathRow returns ok=false if neither path nor row are defined
func parsePathRow(req *http.Request) (path, row int, ok bool, err error) {
	p, r := req.FormValue("path"), req.FormValue("row")
	if p == "" && r == "" {
		return 0, 0, false, nil
	}
	if path, err = strconv.Atoi(p); err != nil {
		return 0, 0, true, errBadRequest{fmt.Errorf("invalid path '%s'", p)}
	}
	if row, err = strconv.Atoi(r); err != nil {
		return 0, 0, true, errBadRequest{fmt.Errorf("invalid row '%s'", r)}
	}
	return path, row, true, nil
}

func parseTime(req *http.Request, field string) (time.Time, error) {
	v := req.FormValue(field)
	if v == "" {
		return time.Time{}, nil
	}
	t, err := dateparse.ParseAny(v)
	if err != nil {
		return time.Time{}, errBadRequest{fmt.Errorf("invalid %s date '%s': %w", field, v, err)}
	}
	return t, nil
}

func parseSearchOptions(req *http.Request) ([]SearchOption, error) {
	start, err := parseTime(req, "start")
	if err != nil {
		return nil, err
	}
	end, err := parseTime(req, "end")
	if err != nil {
		return nil, err
	}
	var opts []SearchOption
	if !start.IsZero() || !end.IsZero() {
		opts = append(opts, AcquiredBetween(start, end))
	}
	if s := req.FormValue("strict"); s != "" {
		strict, err := strconv.ParseBool(s)
		if err != nil {
			return nil, errBadRequest{fmt.Errorf("invalid strict '%s'", s)}
		}
		if strict {
			opts = append(opts, StrictSatellite())
		}
	}
	return opts, nil
}

// ProductsHandler returns the products of a satellite covering an area:
// GET ?satellite=8&path=1&row=1 or ?satellite=8&wkt=POLYGON(...), POST ?satellite=8 with a GeoJSON body
// Optional parameters: start, end (acquisition dates), strict (true: only the products of the satellite)
func (f *Finder) ProductsHandler(w http.ResponseWriter, req *http.Request) {
	ctx := req.Context()
	res, err := func() (Result, error) {
		satellite, err := parseSatellite(req.URL.Query().Get("satellite"))
		if err != nil {
			return Result{}, err
		}
		var data []byte
		if req.Method == http.MethodPost {
			// Read the body before any call to FormValue
			if data, err = io.ReadAll(http.MaxBytesReader(w, req.Body, maxBodySize)); err != nil {
				return Result{}, errBadRequest{fmt.Errorf("unable to read body (max %d bytes): %w", maxBodySize, err)}
			}
		}
		opts, err := parseSearchOptions(req)
		if err != nil {
			return Result{}, err
		}
		if req.Method == http.MethodPost {
			return f.searchGeoJSON(ctx, data, satellite, opts...)
		}
		if wkt := req.FormValue("wkt"); wkt != "" {
			return f.searchWKT(ctx, wkt, satellite, opts...)
		}
		path, row, ok, err := parsePathRow(req)
		if err != nil {
			return Result{}, err
		}
		if !ok {
			return Result{}, errBadRequest{fmt.Errorf("missing required parameters: 'wkt' or 'path' and 'row'")}
		}
		return f.searchPathRow(ctx, path, row, satellite, opts...)
	}()
	if err != nil {
		writeError(w, req, "ProductsHandler", err)
		return
	}
	writeJSON(w, req, "ProductsHandler", res)
}

// CellsHandler returns the WRS2 cells intersecting a WKT (?wkt=) or the cell ?path=&row=
func (f *Finder) CellsHandler(w http.ResponseWriter, req *http.Request) {
	ctx := f.context(req.Context())
	cells, err := func() (common.PathRows, error) {
		if wkt := req.FormValue("wkt"); wkt != "" {
			return f.resolver.FromWKT(ctx, wkt)
		}
		path, row, ok, err := parsePathRow(req)
		if err != nil {
			return nil, err
		}
		if !ok {
			return nil, errBadRequest{fmt.Errorf("missing required parameters: 'wkt' or 'path' and 'row'")}
		}
		return f.resolver.FromPathRow(path, row)
	}()
	if err != nil {
		writeError(w, req, "CellsHandler", err)
		return
	}
	writeJSON(w, req, "CellsHandler", struct {
		Cells []common.PathRow `json:"cells"`
	}{Cells: cells.Slice()})
}

// CatalogsHandler returns the status of the cached catalogs
func (f *Finder) CatalogsHandler(w http.ResponseWriter, req *http.Request) {
	statuses, err := f.Catalogs()
	if err != nil {
		writeError(w, req, "CatalogsHandler", err)
		return
	}
	writeJSON(w, req, "CatalogsHandler", statuses)
}

// CatalogStatusHandler returns the status of the cached catalog of the satellite (or family: tm, etm, ot)
func (f *Finder) CatalogStatusHandler(w http.ResponseWriter, req *http.Request) {
	satellite, err := parseCatalogSatellite(mux.Vars(req)["satellite"])
	if err != nil {
		writeError(w, req, "CatalogStatusHandler", err)
		return
	}
	status, err := f.Status(satellite)
	if err != nil {
		writeError(w, req, "CatalogStatusHandler", err)
		return
	}
	writeJSON(w, req, "CatalogStatusHandler", status)
}

// CatalogRefreshHandler downloads the catalog of the satellite (or family: tm, etm, ot)
func (f *Finder) CatalogRefreshHandler(w http.ResponseWriter, req *http.Request) {
	satellite, err := parseCatalogSatellite(mux.Vars(req)["satellite"])
	if err != nil {
		writeError(w, req, "CatalogRefreshHandler", err)
		return
	}
	if _, err := f.Refresh(req.Context(), satellite); err != nil {
		writeError(w, req, "CatalogRefreshHandler", err)
		return
	}
	f.CatalogStatusHandler(w, req)
}
