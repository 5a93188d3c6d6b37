package common

import (
	"fmt"
	"strings"
)

// ErrReferenceData is returned when the WRS2 reference grid is missing or corrupted.
// A Finder cannot be created without a valid grid.
type ErrReferenceData struct {
	File string
	Err  error
}

func (e ErrReferenceData) Error() string {
	return fmt.Sprintf("invalid WRS2 reference data %s: %v", e.File, e.Err)
}

func (e ErrReferenceData) Unwrap() error { return e.Err }

// ErrInvalidSatellite is returned when the satellite is not one of 4, 5, 7, 8, 9
type ErrInvalidSatellite struct {
	Satellite int
	Input     string // Raw user input, if the satellite could not be parsed
}

func (e ErrInvalidSatellite) Error() string {
	if e.Input != "" {
		return fmt.Sprintf("unsupported satellite: %q (must be one of 4, 5, 7, 8, 9)", e.Input)
	}
	return fmt.Sprintf("unsupported satellite: %d (must be one of 4, 5, 7, 8, 9)", e.Satellite)
}

// ErrGeometryParse is returned when the query geometry cannot be parsed
type ErrGeometryParse struct {
	Input string
	Err   error
}

func (e ErrGeometryParse) Error() string {
	input := e.Input
	if len(input) > 64 {
		input = input[:61] + "..."
	}
	return fmt.Sprintf("unable to parse geometry %q: %v", input, e.Err)
}

func (e ErrGeometryParse) Unwrap() error { return e.Err }

// ErrUnknownCell is returned when a path/row is not in the reference grid
type ErrUnknownCell struct {
	Path, Row int
}

func (e ErrUnknownCell) Error() string {
	return fmt.Sprintf("unknown WRS2 cell: path=%d row=%d", e.Path, e.Row)
}

// ErrCatalogDownload is returned when a catalog cannot be refreshed.
// The previously cached catalog, if any, is left untouched.
type ErrCatalogDownload struct {
	URL string
	Err error
}

func (e ErrCatalogDownload) Error() string {
	return fmt.Sprintf("unable to download catalog %s: %v", e.URL, e.Err)
}

func (e ErrCatalogDownload) Unwrap() error { return e.Err }

// ErrCatalogFormat is returned when a catalog file lacks the expected columns
type ErrCatalogFormat struct {
	File    string
	Missing []string
	Err     error
}

func (e ErrCatalogFormat) Error() string {
	if len(e.Missing) != 0 {
		return fmt.Sprintf("invalid catalog %s: missing column(s) %s", e.File, strings.Join(e.Missing, ", "))
	}
	return fmt.Sprintf("invalid catalog %s: %v", e.File, e.Err)
}

func (e ErrCatalogFormat) Unwrap() error { return e.Err }
