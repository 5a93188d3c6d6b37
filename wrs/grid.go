package wrs

import (
	"context"
	"fmt"
	"io"
	"os"
	"runtime"
	"strconv"
	"strings"

	"github.com/go-spatial/geom"
	"github.com/go-spatial/geom/encoding/geojson"
	"github.com/mholt/archiver"
	"github.com/paulsmith/gogeos/geos"

	"github.com/airbusgeo/usgs-product-finder/common"
	"github.com/airbusgeo/usgs-product-finder/service/geometry"
	"github.com/airbusgeo/usgs-product-finder/service/log"
)

// Cell is a WRS2 cell of the reference grid
type Cell struct {
	common.PathRow
	Geometry *geos.Geometry
	extent   *geom.Extent
}

// Grid is the WRS2 reference grid. It is immutable once loaded and safe for concurrent reads.
type Grid struct {
	cells []Cell
	index map[common.PathRow]int
}

// Load reads the WRS2 grid from a GeoJSON FeatureCollection (optionally gzipped)
// Each feature must have a polygon geometry and integer PATH and ROW properties.
// Raise ErrReferenceData
func Load(ctx context.Context, file string) (*Grid, error) {
	data, err := readFile(file)
	if err != nil {
		return nil, common.ErrReferenceData{File: file, Err: err}
	}

	var g geojson.Geometry
	if err := g.UnmarshalJSON(data); err != nil {
		return nil, common.ErrReferenceData{File: file, Err: fmt.Errorf("Load.UnmarshalJSON: %w", err)}
	}
	fc, ok := g.Geometry.(geojson.FeatureCollection)
	if !ok {
		return nil, common.ErrReferenceData{File: file, Err: fmt.Errorf("expected a FeatureCollection, got %T", g.Geometry)}
	}

	grid := &Grid{
		cells: make([]Cell, 0, len(fc.Features)),
		index: make(map[common.PathRow]int, len(fc.Features)),
	}
	for i, feature := range fc.Features {
		cell, err := newCell(feature)
		if err != nil {
			return nil, common.ErrReferenceData{File: file, Err: fmt.Errorf("feature %d: %w", i, err)}
		}
		if _, ok := grid.index[cell.PathRow]; ok {
			return nil, common.ErrReferenceData{File: file, Err: fmt.Errorf("feature %d: duplicate cell %s", i, cell.PathRow)}
		}
		grid.index[cell.PathRow] = len(grid.cells)
		grid.cells = append(grid.cells, cell)
	}
	if len(grid.cells) == 0 {
		return nil, common.ErrReferenceData{File: file, Err: fmt.Errorf("no cell found")}
	}

	log.Logger(ctx).Sugar().Debugf("%d WRS2 cells loaded from %s", len(grid.cells), file)
	return grid, nil
}

func readFile(file string) ([]byte, error) {
	f, err := os.Open(file)
	if err != nil {
		return nil, fmt.Errorf("readFile.Open: %w", err)
	}
	defer f.Close()

	var r io.Reader = f
	if strings.HasSuffix(strings.ToLower(file), ".gz") {
		pr, pw := io.Pipe()
		go func() {
			pw.CloseWithError(archiver.NewGz().Decompress(f, pw))
		}()
		defer pr.Close()
		r = pr
	}
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("readFile.Read: %w", err)
	}
	return data, nil
}

func newCell(feature geojson.Feature) (Cell, error) {
	path, err := intProperty(feature.Properties, "path")
	if err != nil {
		return Cell{}, err
	}
	row, err := intProperty(feature.Properties, "row")
	if err != nil {
		return Cell{}, err
	}
	pr := common.PathRow{Path: path, Row: row}
	if !pr.Valid() {
		return Cell{}, fmt.Errorf("cell out of the WRS2 bounds: path=%d row=%d", path, row)
	}

	switch feature.Geometry.Geometry.(type) {
	case geom.Polygon, geom.MultiPolygon:
	default:
		return Cell{}, fmt.Errorf("cell %s: expected a polygon, got %T", pr, feature.Geometry.Geometry)
	}
	extent, err := geom.NewExtentFromGeometry(feature.Geometry.Geometry)
	if err != nil {
		return Cell{}, fmt.Errorf("cell %s: %w", pr, err)
	}
	if extent == nil {
		return Cell{}, fmt.Errorf("cell %s: empty geometry", pr)
	}
	g, err := geometry.GeomToGeos(feature.Geometry.Geometry)
	if err != nil {
		return Cell{}, fmt.Errorf("cell %s: %w", pr, err)
	}
	return Cell{PathRow: pr, Geometry: g, extent: extent}, nil
}

// intProperty returns the property as an int, matching its name case-insensitively
func intProperty(properties map[string]interface{}, name string) (int, error) {
	for k, v := range properties {
		if !strings.EqualFold(k, name) {
			continue
		}
		switch v := v.(type) {
		case float64:
			if v != float64(int(v)) {
				return 0, fmt.Errorf("property %s is not an integer: %v", k, v)
			}
			return int(v), nil
		case string:
			i, err := strconv.Atoi(strings.TrimSpace(v))
			if err != nil {
				return 0, fmt.Errorf("property %s is not an integer: %w", k, err)
			}
			return i, nil
		default:
			return 0, fmt.Errorf("property %s is not an integer: %v", k, v)
		}
	}
	return 0, fmt.Errorf("missing property %s", name)
}

// Len returns the number of cells
func (g *Grid) Len() int {
	return len(g.cells)
}

// Cells returns the cells in the order of the reference file
func (g *Grid) Cells() []Cell {
	return g.cells
}

// CellAt returns the cell with the given path and row
func (g *Grid) CellAt(path, row int) (Cell, bool) {
	i, ok := g.index[common.PathRow{Path: path, Row: row}]
	if !ok {
		return Cell{}, false
	}
	return g.cells[i], true
}

// CellsIntersecting returns the cells whose geometry intersects (touches or overlaps) the geometry
func (g *Grid) CellsIntersecting(aoi *geos.Geometry) (common.PathRows, error) {
	aoiExtent, err := geometry.Extent(aoi)
	if err != nil {
		return nil, fmt.Errorf("CellsIntersecting.%w", err)
	}

	// Prepare geometry for intersection
	paoi := aoi.Prepare()

	prs := common.PathRows{}
	for _, cell := range g.cells {
		if geometry.Disjoint(aoiExtent, cell.extent) {
			continue
		}
		intersect, err := paoi.Intersects(cell.Geometry)
		if err != nil {
			return nil, fmt.Errorf("CellsIntersecting.Intersects[%s]: %w", cell.PathRow, err)
		}
		if intersect {
			prs.Push(cell.PathRow)
		}
	}
	runtime.KeepAlive(aoi)

	return prs, nil
}
