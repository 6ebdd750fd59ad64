// Package stations is the ISD station catalog: parsing the station history
// list, selecting stations, and loading their observations.
package stations

import (
	"math"
	"time"

	"github.com/ngmaloney/isd-lite/internal/dataset"
	"github.com/ngmaloney/isd-lite/internal/isdlite"
	"github.com/ngmaloney/isd-lite/internal/ncei"
)

// Station is one entry of the ISD station history.
type Station struct {
	USAF      string
	WBAN      string
	Name      string
	Country   string // FIPS country code
	State     string // US state, blank elsewhere
	Call      string // ICAO call sign
	Latitude  float64
	Longitude float64
	Elevation isdlite.Value // metres
	Begin     time.Time     // zero when unknown
	End       time.Time     // zero when unknown
}

// ID is the "USAF-WBAN" identifier.
func (s Station) ID() string {
	return s.Key().String()
}

// Key is the station's unique key.
func (s Station) Key() ncei.StationID {
	return ncei.StationID{USAF: s.USAF, WBAN: s.WBAN}
}

// Meta converts the station to dataset metadata.
func (s Station) Meta() dataset.StationMeta {
	m := dataset.StationMeta{
		ID:        s.ID(),
		Name:      s.Name,
		Country:   s.Country,
		State:     s.State,
		Latitude:  s.Latitude,
		Longitude: s.Longitude,
	}
	if s.Elevation.Valid {
		e := s.Elevation.Float
		m.Elevation = &e
	}
	return m
}

// HaversineDistance calculates distance in kilometres between two lat/lon points
func HaversineDistance(lat1, lon1, lat2, lon2 float64) float64 {
	const earthRadiusKm = 6371.0

	lat1Rad := lat1 * math.Pi / 180
	lat2Rad := lat2 * math.Pi / 180
	deltaLat := (lat2 - lat1) * math.Pi / 180
	deltaLon := (lon2 - lon1) * math.Pi / 180

	a := math.Sin(deltaLat/2)*math.Sin(deltaLat/2) +
		math.Cos(lat1Rad)*math.Cos(lat2Rad)*
			math.Sin(deltaLon/2)*math.Sin(deltaLon/2)
	c := 2 * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))

	return earthRadiusKm * c
}
