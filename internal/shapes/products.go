// Package shapes downloads Census Bureau boundary shapefiles (cartographic
// generalized files by default, full TIGER/Line on request), caches the
// archives with ETag revalidation, and parses them into analysis units
// with GEOID, attributes, geometry, and centroid.
package shapes

import (
	"fmt"
	"sort"
	"strings"
)

const (
	httpBase = "https://www2.census.gov"
	ftpBase  = "ftp://ftp2.census.gov"

	// DefaultResolution is the cartographic generalization level used when
	// none is configured. 500k is the most detailed published level.
	DefaultResolution = "500k"

	// DefaultYear is the boundary vintage used when none is configured.
	DefaultYear = 2023
)

// Layer describes one Census geographic summary level and how its boundary
// files are named and keyed.
type Layer struct {
	Name     string // CLI/config name, e.g. "tract"
	Token    string // filename token, e.g. "tract", "zcta520"
	TIGERDir string // TIGER/Line directory, e.g. "TRACT"
	PerState bool   // archives published per state rather than one national file
	Suffix   string // attribute suffix ("" or a vintage like "20")

	// StatePrefixed is true when the layer's GEOIDs begin with the 2-digit
	// state FIPS code, which makes national files filterable by state.
	StatePrefixed bool
}

// Layers lists the summary levels this tool can analyze.
var Layers = []Layer{
	{Name: "state", Token: "state", TIGERDir: "STATE", PerState: false, StatePrefixed: true},
	{Name: "county", Token: "county", TIGERDir: "COUNTY", PerState: false, StatePrefixed: true},
	{Name: "tract", Token: "tract", TIGERDir: "TRACT", PerState: true, StatePrefixed: true},
	{Name: "bg", Token: "bg", TIGERDir: "BG", PerState: true, StatePrefixed: true},
	{Name: "place", Token: "place", TIGERDir: "PLACE", PerState: true, StatePrefixed: true},
	{Name: "zcta", Token: "zcta520", TIGERDir: "ZCTA520", PerState: false, Suffix: "20", StatePrefixed: false},
}

// LayerByName looks up a layer by its CLI name (case-insensitive).
func LayerByName(name string) (Layer, bool) {
	name = strings.ToLower(strings.TrimSpace(name))
	for _, l := range Layers {
		if l.Name == name {
			return l, true
		}
	}
	return Layer{}, false
}

// GEOIDField returns the attribute name holding the unit GEOID.
func (l Layer) GEOIDField() string { return "GEOID" + l.Suffix }

// NameField returns the attribute name holding the human-readable name.
func (l Layer) NameField() string { return "NAME" + l.Suffix }

// ALandField returns the attribute name holding the land area in m².
func (l Layer) ALandField() string { return "ALAND" + l.Suffix }

// AWaterField returns the attribute name holding the water area in m².
func (l Layer) AWaterField() string { return "AWATER" + l.Suffix }

// ValidResolution reports whether res is a published cartographic
// generalization level.
func ValidResolution(res string) bool {
	switch res {
	case "500k", "5m", "20m":
		return true
	}
	return false
}

// CartoPath returns the server path of a cartographic boundary archive.
// National layers use "us" in place of the state FIPS code.
func CartoPath(l Layer, year int, stateFIPS, resolution string) string {
	area := "us"
	if l.PerState {
		area = stateFIPS
	}
	return fmt.Sprintf("/geo/tiger/GENZ%d/shp/cb_%d_%s_%s_%s.zip", year, year, area, l.Token, resolution)
}

// CartoURL returns the full HTTPS URL of a cartographic boundary archive.
func CartoURL(l Layer, year int, stateFIPS, resolution string) string {
	return httpBase + CartoPath(l, year, stateFIPS, resolution)
}

// TIGERPath returns the server path of a full-resolution TIGER/Line archive.
func TIGERPath(l Layer, year int, stateFIPS string) string {
	area := "us"
	if l.PerState {
		area = stateFIPS
	}
	return fmt.Sprintf("/geo/tiger/TIGER%d/%s/tl_%d_%s_%s.zip", year, l.TIGERDir, year, area, l.Token)
}

// TIGERURL returns the full HTTPS URL of a TIGER/Line archive.
func TIGERURL(l Layer, year int, stateFIPS string) string {
	return httpBase + TIGERPath(l, year, stateFIPS)
}

// MirrorURL returns the Census FTP mirror URL for a server path. The mirror
// serves the same directory tree as www2.census.gov.
func MirrorURL(path string) string {
	return ftpBase + path
}

// FIPSCodes maps state abbreviation to 2-digit FIPS code for all 50 states + DC.
var FIPSCodes = map[string]string{
	"AL": "01", "AK": "02", "AZ": "04", "AR": "05", "CA": "06",
	"CO": "08", "CT": "09", "DE": "10", "DC": "11", "FL": "12",
	"GA": "13", "HI": "15", "ID": "16", "IL": "17", "IN": "18",
	"IA": "19", "KS": "20", "KY": "21", "LA": "22", "ME": "23",
	"MD": "24", "MA": "25", "MI": "26", "MN": "27", "MS": "28",
	"MO": "29", "MT": "30", "NE": "31", "NV": "32", "NH": "33",
	"NJ": "34", "NM": "35", "NY": "36", "NC": "37", "ND": "38",
	"OH": "39", "OK": "40", "OR": "41", "PA": "42", "RI": "44",
	"SC": "45", "SD": "46", "TN": "47", "TX": "48", "UT": "49",
	"VT": "50", "VA": "51", "WA": "53", "WV": "54", "WI": "55",
	"WY": "56",
}

// abbrByFIPS is a reverse lookup from FIPS code to state abbreviation.
var abbrByFIPS map[string]string

func init() {
	abbrByFIPS = make(map[string]string, len(FIPSCodes))
	for abbr, fips := range FIPSCodes {
		abbrByFIPS[fips] = abbr
	}
}

// AbbrFromFIPS returns the state abbreviation for a FIPS code.
func AbbrFromFIPS(fips string) (string, bool) {
	abbr, ok := abbrByFIPS[fips]
	return abbr, ok
}

// StateFIPS resolves a state given either as an abbreviation ("ca") or a
// 2-digit FIPS code ("06").
func StateFIPS(state string) (string, bool) {
	s := strings.ToUpper(strings.TrimSpace(state))
	if fips, ok := FIPSCodes[s]; ok {
		return fips, true
	}
	if _, ok := abbrByFIPS[s]; ok {
		return s, true
	}
	return "", false
}

// AllStateFIPS returns a sorted list of all state FIPS codes.
func AllStateFIPS() []string {
	codes := make([]string, 0, len(FIPSCodes))
	for _, fips := range FIPSCodes {
		codes = append(codes, fips)
	}
	sort.Strings(codes)
	return codes
}

// AllStateAbbrs returns a sorted list of state abbreviations (50 states + DC).
func AllStateAbbrs() []string {
	abbrs := make([]string, 0, len(FIPSCodes))
	for abbr := range FIPSCodes {
		abbrs = append(abbrs, abbr)
	}
	sort.Strings(abbrs)
	return abbrs
}
