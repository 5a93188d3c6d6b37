package geometry

import (
	"fmt"

	"github.com/go-spatial/geom"
	"github.com/go-spatial/geom/encoding/geojson"
	geomwkt "github.com/go-spatial/geom/encoding/wkt"
	"github.com/paulsmith/gogeos/geos"
)

// UnmarshalGeometry, merging featureCollections and geometryCollections into a multipolygon
func UnmarshalGeometry(data []byte) (geom.Geometry, error) {
	var g geojson.Geometry
	if err := g.UnmarshalJSON(data); err != nil {
		return nil, fmt.Errorf("UnmarshalGeometry: %w", err)
	}
	switch geo := g.Geometry.(type) {
	case geojson.FeatureCollection:
		var mp geom.MultiPolygon
		for _, f := range geo.Features {
			mergeMultiPolygons(f.Geometry.Geometry, &mp)
		}
		if len(mp) == 0 {
			return nil, fmt.Errorf("UnmarshalGeometry: no polygon found in the feature collection")
		}
		return mp, nil
	case geojson.Feature:
		return geo.Geometry.Geometry, nil
	case nil:
		return nil, fmt.Errorf("UnmarshalGeometry: empty geometry")
	default:
		return g.Geometry, nil
	}
}

func mergeMultiPolygons(g geom.Geometry, mp *geom.MultiPolygon) {
	switch g := g.(type) {
	case geom.MultiPolygon:
		*mp = append(*mp, g.Polygons()...)
	case geom.Polygon:
		*mp = append(*mp, g.LinearRings())
	case geom.Collection:
		for _, g := range g.Geometries() {
			mergeMultiPolygons(g, mp)
		}
	}
}

// GeosToGeom generates a geom.Geometry from a geos.Geometry
func GeosToGeom(g *geos.Geometry) (geom.Geometry, error) {
	wkt, err := g.ToWKT()
	if err != nil {
		return nil, fmt.Errorf("GeosToGeom.ToWKT: %w", err)
	}
	geometry, err := geomwkt.DecodeString(wkt)
	if err != nil {
		return nil, fmt.Errorf("GeosToGeom.DecodeString: %w", err)
	}

	return geometry, nil
}

// GeomToGeos generates a geos.Geometry from a geom.Geometry
func GeomToGeos(g geom.Geometry) (*geos.Geometry, error) {
	if g == nil {
		return nil, fmt.Errorf("GeomToGeos: nil geometry")
	}
	wkt, err := geomwkt.EncodeString(g)
	if err != nil {
		return nil, fmt.Errorf("GeomToGeos.EncodeString: %w", err)
	}
	geometry, err := geos.FromWKT(wkt)
	if err != nil {
		return nil, fmt.Errorf("GeomToGeos.FromWKT: %w", err)
	}
	return geometry, nil
}

// Extent returns the bounding box of the geos.Geometry
func Extent(g *geos.Geometry) (*geom.Extent, error) {
	gg, err := GeosToGeom(g)
	if err != nil {
		return nil, fmt.Errorf("Extent.%w", err)
	}
	e, err := geom.NewExtentFromGeometry(gg)
	if err != nil {
		return nil, fmt.Errorf("Extent.NewExtentFromGeometry: %w", err)
	}
	if e == nil {
		return nil, fmt.Errorf("Extent: empty geometry")
	}
	return e, nil
}

// Disjoint returns true if the two extents do not touch
func Disjoint(e1, e2 *geom.Extent) bool {
	return e1.MaxX() < e2.MinX() || e2.MaxX() < e1.MinX() ||
		e1.MaxY() < e2.MinY() || e2.MaxY() < e1.MinY()
}
