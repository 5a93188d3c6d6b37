package catalog

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/araddon/dateparse"
	"github.com/mholt/archiver"

	"github.com/airbusgeo/usgs-product-finder/common"
	"github.com/airbusgeo/usgs-product-finder/service/log"
)

// Candidate names of the catalog columns, by order of preference
var (
	ProductColumns = []string{"Landsat Product Identifier L1", "Landsat Product Identifier L2", "LANDSAT_PRODUCT_ID", "product_id", "Display ID"}
	PathColumns    = []string{"WRS Path", "WRS_PATH", "path"}
	RowColumns     = []string{"WRS Row", "WRS_ROW", "row"}
	DateColumns    = []string{"Date Acquired", "DATE_ACQUIRED", "acquisition_date"}
)

// JoinOption is an option of FindProducts
type JoinOption func(*joinOptions)

type joinOptions struct {
	start, end time.Time
	satellite  common.Satellite
}

// WithAcquisitionWindow keeps the products acquired in [start, end].
// A zero time means no bound.
func WithAcquisitionWindow(start, end time.Time) JoinOption {
	return func(o *joinOptions) {
		o.start, o.end = start, end
	}
}

// WithSatellite keeps the products whose identifier names the satellite
func WithSatellite(s common.Satellite) JoinOption {
	return func(o *joinOptions) {
		o.satellite = s
	}
}

func (o joinOptions) filterDate() bool {
	return !o.start.IsZero() || !o.end.IsZero()
}

// normalizeColumn folds the case and removes spaces, underscores and BOM
func normalizeColumn(name string) string {
	name = strings.TrimPrefix(name, "\ufeff")
	return strings.ToLower(strings.NewReplacer(" ", "", "_", "").Replace(strings.TrimSpace(name)))
}

// findColumn returns the index of the first candidate found in header or -1
func findColumn(header map[string]int, candidates []string) int {
	for _, c := range candidates {
		if i, ok := header[normalizeColumn(c)]; ok {
			return i
		}
	}
	return -1
}

type columns struct {
	product, path, row, date int
}

func (c columns) max() int {
	m := c.product
	for _, i := range []int{c.path, c.row, c.date} {
		if i > m {
			m = i
		}
	}
	return m
}

// resolveColumns finds the required columns in the header. The date column is optional.
// Raise ErrCatalogFormat
func resolveColumns(file string, header []string) (columns, error) {
	normalized := make(map[string]int, len(header))
	for i, h := range header {
		if _, ok := normalized[normalizeColumn(h)]; !ok {
			normalized[normalizeColumn(h)] = i
		}
	}
	cols := columns{
		product: findColumn(normalized, ProductColumns),
		path:    findColumn(normalized, PathColumns),
		row:     findColumn(normalized, RowColumns),
		date:    findColumn(normalized, DateColumns),
	}
	var missing []string
	if cols.product < 0 {
		missing = append(missing, "product identifier")
	}
	if cols.path < 0 {
		missing = append(missing, "path")
	}
	if cols.row < 0 {
		missing = append(missing, "row")
	}
	if len(missing) > 0 {
		return cols, common.ErrCatalogFormat{File: file, Missing: missing}
	}
	return cols, nil
}

// openCatalog opens the catalog file, decompressing it on the fly if its name ends with .gz
func openCatalog(file string) (io.ReadCloser, error) {
	f, err := os.Open(file)
	if err != nil {
		return nil, err
	}
	if !strings.HasSuffix(strings.ToLower(file), ".gz") {
		return f, nil
	}
	pr, pw := io.Pipe()
	go func() {
		defer f.Close()
		pw.CloseWithError(archiver.NewGz().Decompress(f, pw))
	}()
	return pr, nil
}

// acquisitionDate reads the date column, or the date of the product identifier if the catalog has none
func acquisitionDate(record []string, cols columns, productID string) (time.Time, error) {
	if cols.date < 0 {
		return common.GetDateFromProductId(productID)
	}
	return dateparse.ParseAny(strings.TrimSpace(record[cols.date]))
}

// FindProducts returns the identifiers of the products of the catalog whose path/row is in cells,
// in the order of the catalog (duplicates are preserved).
// Empty cells returns an empty list without opening the file.
// Raise ErrCatalogFormat (also if the file cannot be opened)
func FindProducts(ctx context.Context, file string, cells common.PathRows, opts ...JoinOption) ([]string, error) {
	products := []string{}
	if len(cells) == 0 {
		return products, nil
	}
	var o joinOptions
	for _, opt := range opts {
		opt(&o)
	}

	rc, err := openCatalog(file)
	if err != nil {
		return nil, common.ErrCatalogFormat{File: file, Err: fmt.Errorf("FindProducts.Open: %w", err)}
	}
	defer rc.Close()

	r := csv.NewReader(rc)
	r.FieldsPerRecord = -1
	r.LazyQuotes = true
	r.ReuseRecord = true

	header, err := r.Read()
	if err != nil {
		if errors.Is(err, io.EOF) {
			err = fmt.Errorf("empty catalog")
		}
		return nil, common.ErrCatalogFormat{File: file, Err: err}
	}
	cols, err := resolveColumns(file, header)
	if err != nil {
		return nil, err
	}
	maxCol := cols.max()

	rows, skipped := 0, 0
	for {
		record, err := r.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, common.ErrCatalogFormat{File: file, Err: err}
		}
		if rows++; rows%100000 == 0 {
			if err := ctx.Err(); err != nil {
				return nil, fmt.Errorf("FindProducts: %w", err)
			}
		}
		if len(record) <= maxCol {
			skipped++
			continue
		}
		path, errP := strconv.Atoi(strings.TrimSpace(record[cols.path]))
		row, errR := strconv.Atoi(strings.TrimSpace(record[cols.row]))
		if errP != nil || errR != nil {
			skipped++
			continue
		}
		if !cells.Exists(common.PathRow{Path: path, Row: row}) {
			continue
		}
		productID := strings.TrimSpace(record[cols.product])
		if o.satellite != 0 {
			if s, err := common.GetSatelliteFromProductId(productID); err != nil || s != o.satellite {
				continue
			}
		}
		if o.filterDate() {
			date, err := acquisitionDate(record, cols, productID)
			if err != nil {
				skipped++
				continue
			}
			if (!o.start.IsZero() && date.Before(o.start)) || (!o.end.IsZero() && date.After(o.end)) {
				continue
			}
		}
		products = append(products, productID)
	}

	log.Logger(ctx).Sugar().Debugf("%d products found in %d rows (%d skipped)", len(products), rows, skipped)
	return products, nil
}
