// Package ncei fetches files from the NCEI ISD-Lite archive with cache
// validation, retries and bounded concurrency.
package ncei

import (
	"fmt"
	"path/filepath"
	"strings"
)

// Default archive locations.
const (
	DefaultBaseURL    = "https://www.ncei.noaa.gov/pub/data/noaa/isd-lite"
	DefaultHistoryURL = "https://www.ncei.noaa.gov/pub/data/noaa/isd-history.txt"
	HistoryFileName   = "isd-history.txt"
)

// StationID identifies a station by its USAF and WBAN codes.
type StationID struct {
	USAF string
	WBAN string
}

func (id StationID) String() string {
	return id.USAF + "-" + id.WBAN
}

// DataFileName is the archive file name for one station-year.
func DataFileName(id StationID, year int) string {
	return fmt.Sprintf("%s-%s-%d.gz", id.USAF, id.WBAN, year)
}

// DataURL is the remote location of one station-year file.
func DataURL(baseURL string, id StationID, year int) string {
	return fmt.Sprintf("%s/%d/%s", strings.TrimRight(baseURL, "/"), year, DataFileName(id, year))
}

// DataPath is the local location of one station-year file under dir.
func DataPath(dir string, id StationID, year int) string {
	return filepath.Join(dir, DataFileName(id, year))
}

// DataItems builds the work list for every station-year in
// [startYear, endYear], ordered by station and then year.
func DataItems(baseURL, dir string, ids []StationID, startYear, endYear int) []Item {
	items := make([]Item, 0, len(ids)*(endYear-startYear+1))
	for _, id := range ids {
		for year := startYear; year <= endYear; year++ {
			items = append(items, Item{
				URL:  DataURL(baseURL, id, year),
				Dest: DataPath(dir, id, year),
			})
		}
	}
	return items
}
