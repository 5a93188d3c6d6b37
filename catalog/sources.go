package catalog

import (
	"fmt"
	"path"

	"github.com/airbusgeo/usgs-product-finder/common"
)

// USGSBulkMetadataURL is the base url of the USGS bulk metadata service
const USGSBulkMetadataURL = "https://landsat.usgs.gov/landsat/metadata_service/bulk_metadata_files/"

// Collection 2 Level-1 bulk metadata files
var defaultFiles = map[common.Family]string{
	common.FamilyTM:  "LANDSAT_TM_C2_L1.csv.gz",
	common.FamilyETM: "LANDSAT_ETM_C2_L1.csv.gz",
	common.FamilyOT:  "LANDSAT_OT_C2_L1.csv.gz",
}

// Sources lists the urls of the catalog of each family: the canonical one first, then the mirrors
type Sources map[common.Family][]string

// DefaultSources returns the canonical USGS sources
func DefaultSources() Sources {
	s := Sources{}
	for family, file := range defaultFiles {
		s[family] = []string{USGSBulkMetadataURL + file}
	}
	return s
}

// SetCanonical replaces the canonical url of the family, keeping the mirrors
func (s Sources) SetCanonical(family common.Family, url string) {
	if len(s[family]) == 0 {
		s[family] = []string{url}
		return
	}
	s[family][0] = url
}

// AddMirror appends a mirror to every family.
// template can contain {FILE} (name of the canonical catalog file) and {FAMILY} (TM, ETM, OT)
// e.g. "gs://my-bucket/usgs/{FILE}"
func (s Sources) AddMirror(template string) {
	for family, urls := range s {
		if len(urls) == 0 {
			continue
		}
		s[family] = append(urls, common.FormatBrackets(template, map[string]string{
			"FILE":   path.Base(urls[0]),
			"FAMILY": family.String(),
		}))
	}
}

// URLs returns the urls of the catalog of the satellite
// Raise ErrInvalidSatellite
func (s Sources) URLs(satellite common.Satellite) ([]string, error) {
	if err := satellite.Validate(); err != nil {
		return nil, err
	}
	urls := s[satellite.Family()]
	if len(urls) == 0 {
		return nil, fmt.Errorf("no catalog source for %s", satellite.Family())
	}
	return urls, nil
}

// FileName returns the name of the local catalog file of the satellite
// (the last path segment of the canonical url)
// Raise ErrInvalidSatellite
func (s Sources) FileName(satellite common.Satellite) (string, error) {
	urls, err := s.URLs(satellite)
	if err != nil {
		return "", err
	}
	return path.Base(urls[0]), nil
}
