package main

import (
	"flag"
	"fmt"
	"strconv"
	"strings"

	"github.com/ngmaloney/isd-lite/internal/region"
	"github.com/ngmaloney/isd-lite/internal/stations"
)

// selection holds the station selectors given on the command line. Every
// selector that is set narrows the catalog further.
type selection struct {
	countries  string
	states     string
	contiguous bool
	bbox       string
	near       string
	station    string
	shapefile  string
	shapeField string
	shapeValue string
}

func (s *selection) register(fs *flag.FlagSet) {
	fs.StringVar(&s.countries, "country", "", "Comma-separated FIPS country codes (e.g. US,CA)")
	fs.StringVar(&s.states, "state", "", "Comma-separated US state codes (e.g. CO,WY)")
	fs.BoolVar(&s.contiguous, "contiguous", false, "Keep only stations in the contiguous United States")
	fs.StringVar(&s.bbox, "bbox", "", "Bounding box as minLat,maxLat,minLon,maxLon")
	fs.StringVar(&s.near, "near", "", "Radius search as lat,lon,km")
	fs.StringVar(&s.station, "station", "", "Single station as USAF-WBAN (e.g. 725650-03017)")
	fs.StringVar(&s.shapefile, "shapefile", "", "Region shapefile (.shp or .zip)")
	fs.StringVar(&s.shapeField, "shape-field", "", "Shapefile attribute to match (requires -shapefile)")
	fs.StringVar(&s.shapeValue, "shape-value", "", "Comma-separated attribute values to keep")
}

// apply narrows c and returns a name describing the region, if any.
func (s *selection) apply(c *stations.Catalog) (*stations.Catalog, string, error) {
	var names []string

	if s.countries != "" {
		codes := splitList(s.countries)
		c = c.FilterByCountry(codes...)
		names = append(names, strings.Join(codes, ","))
	}
	if s.states != "" {
		codes := splitList(s.states)
		c = c.FilterByUSState(codes...)
		names = append(names, strings.Join(codes, ","))
	}
	if s.contiguous {
		c = c.FilterContiguousUS()
		names = append(names, "contiguous US")
	}
	if s.bbox != "" {
		v, err := parseFloats(s.bbox, 4)
		if err != nil {
			return nil, "", fmt.Errorf("-bbox: %w", err)
		}
		b := region.Box(s.bbox, v[0], v[1], v[2], v[3])
		c = c.FilterByGeography(b.Contains)
		names = append(names, b.Name)
	}
	if s.near != "" {
		v, err := parseFloats(s.near, 3)
		if err != nil {
			return nil, "", fmt.Errorf("-near: %w", err)
		}
		c = c.FilterByDistance(v[0], v[1], v[2])
		names = append(names, fmt.Sprintf("%gkm of %g,%g", v[2], v[0], v[1]))
	}
	if s.station != "" {
		usaf, wban, ok := strings.Cut(s.station, "-")
		if !ok {
			return nil, "", fmt.Errorf("-station: expected USAF-WBAN, got %q", s.station)
		}
		c = c.FilterByID(usaf, wban)
	}
	if s.shapeField != "" && s.shapefile == "" {
		return nil, "", fmt.Errorf("-shape-field requires -shapefile")
	}
	if s.shapefile != "" {
		r, err := region.Open(s.shapefile, s.shapeField, splitList(s.shapeValue)...)
		if err != nil {
			return nil, "", err
		}
		c = c.FilterByGeography(r.Contains)
		names = append(names, r.Name)
	}

	return c, strings.Join(names, " "), nil
}

func splitList(s string) []string {
	var out []string
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, strings.ToUpper(p))
		}
	}
	return out
}

func parseFloats(s string, n int) ([]float64, error) {
	parts := strings.Split(s, ",")
	if len(parts) != n {
		return nil, fmt.Errorf("expected %d comma-separated numbers, got %q", n, s)
	}
	out := make([]float64, n)
	for i, p := range parts {
		v, err := strconv.ParseFloat(strings.TrimSpace(p), 64)
		if err != nil {
			return nil, fmt.Errorf("invalid number %q", p)
		}
		out[i] = v
	}
	return out, nil
}
