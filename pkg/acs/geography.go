package acs

import (
	"strings"

	"github.com/rotisserie/eris"
)

// Geography selects the level and extent of an estimates query.
type Geography struct {
	// Level is one of "tract", "bg", "county", "place", "state", "zcta".
	Level string
	// State is a two-digit state FIPS code. Required for tract, bg and
	// place queries; optional for county and state; rejected for zcta,
	// which is not nested under states.
	State string
	// County is a three-digit county FIPS code narrowing tract and bg
	// queries to a single county.
	County string
}

// geoComponents lists, per level, the response columns that concatenate
// into the unit GEOID, in order.
var geoComponents = map[string][]string{
	"tract":  {"state", "county", "tract"},
	"bg":     {"state", "county", "tract", "block group"},
	"county": {"state", "county"},
	"place":  {"state", "place"},
	"state":  {"state"},
	"zcta":   {"zip code tabulation area"},
}

// Validate checks that the level is known and the extent filters are legal
// for it, without issuing a query.
func (g Geography) Validate() error {
	_, _, err := g.clauses()
	return err
}

func (g Geography) level() string {
	return strings.ToLower(strings.TrimSpace(g.Level))
}

func (g Geography) components() []string {
	return geoComponents[g.level()]
}

// clauses renders the geography as the API's for= and in= parameters.
func (g Geography) clauses() (forClause, inClause string, err error) {
	level := g.level()
	if _, ok := geoComponents[level]; !ok {
		return "", "", eris.Errorf("acs: unknown geography level %q", g.Level)
	}

	switch level {
	case "tract":
		if g.State == "" {
			return "", "", eris.New("acs: geography level \"tract\" requires a state")
		}
		in := "state:" + g.State
		if g.County != "" {
			in += " county:" + g.County
		}
		return "tract:*", in, nil
	case "bg":
		if g.State == "" {
			return "", "", eris.New("acs: geography level \"bg\" requires a state")
		}
		// Block group queries must name a county in the in= clause; a
		// wildcard covers the whole state.
		county := g.County
		if county == "" {
			county = "*"
		}
		return "block group:*", "state:" + g.State + " county:" + county, nil
	case "place":
		if g.State == "" {
			return "", "", eris.New("acs: geography level \"place\" requires a state")
		}
		return "place:*", "state:" + g.State, nil
	case "county":
		if g.State == "" {
			return "county:*", "", nil
		}
		return "county:*", "state:" + g.State, nil
	case "state":
		if g.State == "" {
			return "state:*", "", nil
		}
		return "state:" + g.State, "", nil
	default: // zcta
		if g.State != "" {
			return "", "", eris.New("acs: geography level \"zcta\" cannot be filtered by state")
		}
		return "zip code tabulation area:*", "", nil
	}
}
