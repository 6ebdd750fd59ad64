package stations

import (
	"errors"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/ngmaloney/isd-lite/internal/dataset"
	"github.com/ngmaloney/isd-lite/internal/ncei"
)

var (
	// ErrNoStations means a selection matched nothing.
	ErrNoStations = errors.New("no stations match the selection")
	// ErrEmptyCatalog is returned for operations that need at least one station.
	ErrEmptyCatalog = errors.New("catalog is empty")
	// ErrInvalidYearRange is returned when the start year is after the end year.
	ErrInvalidYearRange = errors.New("start year is after end year")
)

// NonContiguousStates are the US state codes outside the contiguous
// United States.
var NonContiguousStates = []string{"AK", "HI", "PR", "GU", "VI", "AS", "MP"}

// Catalog is an ordered set of stations, unique by USAF/WBAN. Filters return
// new catalogs and never modify the receiver.
type Catalog struct {
	stations []Station
	dataset  *dataset.Dataset
}

// NewCatalog builds a catalog from stations in order. Later duplicates of a
// key are dropped.
func NewCatalog(stations []Station, logger *zap.Logger) *Catalog {
	if logger == nil {
		logger = zap.NewNop()
	}
	seen := make(map[ncei.StationID]bool, len(stations))
	c := &Catalog{stations: make([]Station, 0, len(stations))}
	for _, s := range stations {
		k := s.Key()
		if seen[k] {
			logger.Warn("Skipping duplicate station", zap.String("station", k.String()))
			continue
		}
		seen[k] = true
		c.stations = append(c.stations, s)
	}
	return c
}

// Len returns the number of stations.
func (c *Catalog) Len() int { return len(c.stations) }

// Stations returns a copy of the stations in catalog order.
func (c *Catalog) Stations() []Station {
	return append([]Station(nil), c.stations...)
}

// IDs returns the station keys in catalog order.
func (c *Catalog) IDs() []ncei.StationID {
	ids := make([]ncei.StationID, len(c.stations))
	for i, s := range c.stations {
		ids[i] = s.Key()
	}
	return ids
}

// Lookup finds a station by key.
func (c *Catalog) Lookup(usaf, wban string) (Station, bool) {
	for _, s := range c.stations {
		if s.USAF == usaf && s.WBAN == wban {
			return s, true
		}
	}
	return Station{}, false
}

// Dataset returns the observations attached by LoadObservations, or nil.
func (c *Catalog) Dataset() *dataset.Dataset { return c.dataset }

// Countries returns the distinct country codes, sorted.
func (c *Catalog) Countries() []string {
	return c.distinct(func(s Station) string { return s.Country })
}

// USStates returns the distinct US state and territory codes, sorted.
// Territories carry their own country codes, so only the state column is
// consulted.
func (c *Catalog) USStates() []string {
	return c.distinct(func(s Station) string { return s.State })
}

func (c *Catalog) distinct(get func(Station) string) []string {
	set := make(map[string]bool)
	for _, s := range c.stations {
		if v := get(s); v != "" {
			set[v] = true
		}
	}
	out := make([]string, 0, len(set))
	for v := range set {
		out = append(out, v)
	}
	sort.Strings(out)
	return out
}

// Filter returns the stations for which keep is true.
func (c *Catalog) Filter(keep func(Station) bool) *Catalog {
	out := &Catalog{}
	for _, s := range c.stations {
		if keep(s) {
			out.stations = append(out.stations, s)
		}
	}
	return out
}

// FilterByGeography keeps stations whose location satisfies contains.
func (c *Catalog) FilterByGeography(contains func(lat, lon float64) bool) *Catalog {
	return c.Filter(func(s Station) bool { return contains(s.Latitude, s.Longitude) })
}

// FilterByCoordinates keeps stations inside the box, bounds included.
func (c *Catalog) FilterByCoordinates(minLat, maxLat, minLon, maxLon float64) *Catalog {
	return c.Filter(func(s Station) bool {
		return s.Latitude >= minLat && s.Latitude <= maxLat &&
			s.Longitude >= minLon && s.Longitude <= maxLon
	})
}

// FilterByDistance keeps stations within km kilometres of a point.
func (c *Catalog) FilterByDistance(lat, lon, km float64) *Catalog {
	return c.Filter(func(s Station) bool {
		return HaversineDistance(lat, lon, s.Latitude, s.Longitude) <= km
	})
}

// FilterByCountry keeps stations in any of the given country codes.
func (c *Catalog) FilterByCountry(codes ...string) *Catalog {
	set := upperSet(codes)
	return c.Filter(func(s Station) bool { return set[strings.ToUpper(s.Country)] })
}

// FilterByUSState keeps stations whose state column holds any of the given
// US state or territory codes.
func (c *Catalog) FilterByUSState(codes ...string) *Catalog {
	set := upperSet(codes)
	return c.Filter(func(s Station) bool { return set[strings.ToUpper(s.State)] })
}

// FilterContiguousUS keeps US stations in the lower 48 states and DC.
func (c *Catalog) FilterContiguousUS() *Catalog {
	excluded := upperSet(NonContiguousStates)
	return c.Filter(func(s Station) bool {
		return s.Country == "US" && s.State != "" && !excluded[s.State]
	})
}

// FilterByID keeps the station with the given codes. An empty code matches
// any value.
func (c *Catalog) FilterByID(usaf, wban string) *Catalog {
	return c.Filter(func(s Station) bool {
		return (usaf == "" || s.USAF == usaf) && (wban == "" || s.WBAN == wban)
	})
}

// FilterByNominalPeriod keeps stations whose recorded period of record
// covers [start, end]. Stations with unknown dates are dropped.
func (c *Catalog) FilterByNominalPeriod(start, end time.Time) *Catalog {
	return c.Filter(func(s Station) bool {
		if s.Begin.IsZero() || s.End.IsZero() {
			return false
		}
		return !s.Begin.After(start) && !s.End.Before(end)
	})
}

func upperSet(codes []string) map[string]bool {
	set := make(map[string]bool, len(codes))
	for _, c := range codes {
		set[strings.ToUpper(strings.TrimSpace(c))] = true
	}
	return set
}

func checkYears(startYear, endYear int) error {
	if startYear > endYear {
		return ErrInvalidYearRange
	}
	return nil
}
