package common

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// Satellite is the number of a Landsat satellite
type Satellite int

// Supported satellites
const (
	Landsat4 Satellite = 4
	Landsat5 Satellite = 5
	Landsat7 Satellite = 7
	Landsat8 Satellite = 8
	Landsat9 Satellite = 9
)

// Family groups the satellites sharing the same sensor, thus the same bulk metadata catalog
type Family int

const (
	UnknownFamily Family = iota
	FamilyTM             // Landsat 4-5 Thematic Mapper
	FamilyETM            // Landsat 7 Enhanced Thematic Mapper Plus
	FamilyOT             // Landsat 8-9 Operational Land Imager/Thermal Infrared Sensor
)

var familyNames = map[Family]string{
	UnknownFamily: "unknown",
	FamilyTM:      "TM",
	FamilyETM:     "ETM",
	FamilyOT:      "OT",
}

func (f Family) String() string {
	if s, ok := familyNames[f]; ok {
		return s
	}
	return familyNames[UnknownFamily]
}

// Families lists the families that have a catalog
func Families() []Family {
	return []Family{FamilyTM, FamilyETM, FamilyOT}
}

// GetFamilyFromString returns the family from the user input (tm, etm, ot...)
func GetFamilyFromString(input string) Family {
	switch strings.ToLower(input) {
	case "tm", "l45", "landsat45":
		return FamilyTM
	case "etm", "l7", "landsat7":
		return FamilyETM
	case "ot", "oli", "l89", "landsat89":
		return FamilyOT
	}
	return UnknownFamily
}

// Satellites returns the satellites whose products are in the catalog of the family
func (f Family) Satellites() []Satellite {
	switch f {
	case FamilyTM:
		return []Satellite{Landsat4, Landsat5}
	case FamilyETM:
		return []Satellite{Landsat7}
	case FamilyOT:
		return []Satellite{Landsat8, Landsat9}
	}
	return nil
}

// Family returns the family of the satellite, UnknownFamily if the satellite is not supported
func (s Satellite) Family() Family {
	switch s {
	case Landsat4, Landsat5:
		return FamilyTM
	case Landsat7:
		return FamilyETM
	case Landsat8, Landsat9:
		return FamilyOT
	}
	return UnknownFamily
}

// Valid returns true if the satellite is supported
func (s Satellite) Valid() bool {
	return s.Family() != UnknownFamily
}

func (s Satellite) String() string {
	return fmt.Sprintf("Landsat%d", int(s))
}

// Validate returns ErrInvalidSatellite if the satellite is not supported
func (s Satellite) Validate() error {
	if !s.Valid() {
		return ErrInvalidSatellite{Satellite: int(s)}
	}
	return nil
}

// ParseSatellite parses the user input: "8", "L8", "landsat8", "landsat-8", "LANDSAT_8"
func ParseSatellite(input string) (Satellite, error) {
	s := strings.ToLower(strings.TrimSpace(input))
	s = strings.NewReplacer("-", "", "_", "", " ", "").Replace(s)
	s = strings.TrimPrefix(s, "landsat")
	s = strings.TrimPrefix(s, "l")
	n, err := strconv.Atoi(s)
	if err != nil {
		return 0, fmt.Errorf("ParseSatellite: %w", ErrInvalidSatellite{Input: input})
	}
	sat := Satellite(n)
	if err := sat.Validate(); err != nil {
		return 0, fmt.Errorf("ParseSatellite: %w", err)
	}
	return sat, nil
}

// ParseCatalogSatellite parses a satellite or a family (tm, etm, ot...) and returns a satellite of its catalog
func ParseCatalogSatellite(input string) (Satellite, error) {
	sat, err := ParseSatellite(input)
	if err == nil {
		return sat, nil
	}
	if satellites := GetFamilyFromString(strings.TrimSpace(input)).Satellites(); len(satellites) != 0 {
		return satellites[0], nil
	}
	return 0, err
}

var landsatProductIDRe = regexp.MustCompile(`^L[COTEM]0[1-9]_`)

// IsLandsatProductID returns true if the string looks like a Landsat Collection product identifier
func IsLandsatProductID(productID string) bool {
	return landsatProductIDRe.MatchString(productID)
}

// GetSatelliteFromProductId returns the satellite number encoded in the product identifier
func GetSatelliteFromProductId(productID string) (Satellite, error) {
	if !IsLandsatProductID(productID) {
		return 0, fmt.Errorf("invalid Landsat product identifier: %s", productID)
	}
	n, err := strconv.Atoi(productID[2:4])
	if err != nil {
		return 0, fmt.Errorf("invalid Landsat product identifier: %s", productID)
	}
	return Satellite(n), nil
}

// GetDateFromProductId returns the acquisition date (UTC) encoded in the product identifier
func GetDateFromProductId(productID string) (time.Time, error) {
	format, err := Info(productID)
	if err != nil {
		return time.Time{}, err
	}
	return time.Parse("20060102", format["DATE"])
}

// Info parses a Landsat Collection product identifier
// LXSS_LLLL_PPPRRR_YYYYMMDD_yyyymmdd_CC_TX (e.g. LC09_L1GT_166003_20250603_20250603_02_T2)
func Info(productID string) (map[string]string, error) {
	if !IsLandsatProductID(productID) || len(productID) < len("LXSS_LLLL_PPPRRR_YYYYMMDD_yyyymmdd_CC_TX") {
		return nil, fmt.Errorf("invalid Landsat product identifier: %s", productID)
	}
	sensor := "oli-tirs"
	switch productID[1:2] {
	case "O":
		sensor = "oli"
	case "T":
		if productID[2:4] == "08" || productID[2:4] == "09" {
			sensor = "tirs"
		} else {
			sensor = "tm"
		}
	case "E":
		sensor = "etm"
	case "M":
		sensor = "mss"
	}

	return map[string]string{
		"SCENE":          productID,
		"MISSION_ID":     productID[0:1] + productID[2:4],
		"SATELLITE":      strings.TrimLeft(productID[2:4], "0"),
		"SENSOR":         sensor,
		"PROCESSING":     productID[5:9],
		"PATH":           productID[10:13],
		"ROW":            productID[13:16],
		"DATE":           productID[17:25],
		"YEAR":           productID[17:21],
		"MONTH":          productID[21:23],
		"DAY":            productID[23:25],
		"PROCESSINGDATE": productID[26:34],
		"COLLECTION":     productID[35:37],
		"CATEGORY":       productID[38:40],
	}, nil
}

/**
 * FormatBrackets replaces in <str> all {keys} of <info> by the corresponding value
 * e.g. "gs://my-mirror/usgs/{FILE}"
 */
func FormatBrackets(str string, infos ...map[string]string) string {
	for _, info := range infos {
		for k, v := range info {
			str = strings.ReplaceAll(str, "{"+k+"}", v)
		}
	}
	return str
}
