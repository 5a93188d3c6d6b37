package wrs

import (
	"context"
	"fmt"
	"strings"

	"github.com/go-spatial/geom"
	"github.com/paulsmith/gogeos/geos"

	"github.com/airbusgeo/usgs-product-finder/common"
	"github.com/airbusgeo/usgs-product-finder/service/geometry"
	"github.com/airbusgeo/usgs-product-finder/service/log"
)

// Resolver maps a query (geometry, WKT, path/row) to the set of WRS2 cells
type Resolver struct {
	Grid *Grid
}

// NewResolver creates a resolver on the grid
func NewResolver(grid *Grid) *Resolver {
	return &Resolver{Grid: grid}
}

// ParseWKT parses a well-known-text geometry
// Raise ErrGeometryParse
func ParseWKT(wkt string) (*geos.Geometry, error) {
	if strings.TrimSpace(wkt) == "" {
		return nil, common.ErrGeometryParse{Input: wkt, Err: fmt.Errorf("empty string")}
	}
	g, err := geos.FromWKT(wkt)
	if err != nil {
		return nil, common.ErrGeometryParse{Input: wkt, Err: err}
	}
	return g, nil
}

// FromGeometry returns the cells intersecting (touching or overlapping) the geometry.
// Returns an empty set if no cell intersects the geometry.
func (r *Resolver) FromGeometry(ctx context.Context, aoi *geos.Geometry) (common.PathRows, error) {
	if aoi == nil {
		return nil, common.ErrGeometryParse{Err: fmt.Errorf("nil geometry")}
	}
	if empty, err := aoi.IsEmpty(); err != nil {
		return nil, common.ErrGeometryParse{Err: err}
	} else if empty {
		return common.PathRows{}, nil
	}
	prs, err := r.Grid.CellsIntersecting(aoi)
	if err != nil {
		return nil, fmt.Errorf("FromGeometry.%w", err)
	}
	log.Logger(ctx).Sugar().Debugf("%d WRS2 cells intersect the area", len(prs))
	return prs, nil
}

// FromGeom returns the cells intersecting the go-spatial geometry (as decoded from geojson)
func (r *Resolver) FromGeom(ctx context.Context, aoi geom.Geometry) (common.PathRows, error) {
	g, err := geometry.GeomToGeos(aoi)
	if err != nil {
		return nil, common.ErrGeometryParse{Err: err}
	}
	return r.FromGeometry(ctx, g)
}

// FromWKT returns the cells intersecting the WKT geometry
// Raise ErrGeometryParse
func (r *Resolver) FromWKT(ctx context.Context, wkt string) (common.PathRows, error) {
	g, err := ParseWKT(wkt)
	if err != nil {
		return nil, err
	}
	return r.FromGeometry(ctx, g)
}

// FromPathRow returns the singleton {(path, row)} if the cell exists in the grid
// Raise ErrUnknownCell
func (r *Resolver) FromPathRow(path, row int) (common.PathRows, error) {
	cell, ok := r.Grid.CellAt(path, row)
	if !ok {
		return nil, common.ErrUnknownCell{Path: path, Row: row}
	}
	return common.NewPathRows(cell.PathRow), nil
}
