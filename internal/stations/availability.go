package stations

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/ngmaloney/isd-lite/internal/ncei"
)

// ErrAvailabilityFailed means availability could not be established because
// probe requests failed, as opposed to files being absent.
var ErrAvailabilityFailed = errors.New("availability probes failed")

// FilterByConfirmedAvailability keeps stations that have a data file in the
// archive for every year in [startYear, endYear], by probing the archive.
// The probe report is returned alongside the result.
//
// A station is dropped only when a probe confirmed a file absent. Stations
// whose probes failed for any other reason are left out of the result too,
// but then the error wraps ErrAvailabilityFailed and the partial catalog is
// still returned. When every probe got an answer and nothing survives the
// error is ErrNoStations.
func (c *Catalog) FilterByConfirmedAvailability(ctx context.Context, orch *ncei.Orchestrator, baseURL string, startYear, endYear, jobs int) (*Catalog, *ncei.Report, error) {
	if err := checkYears(startYear, endYear); err != nil {
		return nil, nil, err
	}
	if c.Len() == 0 {
		return nil, nil, ErrEmptyCatalog
	}

	items := ncei.DataItems(baseURL, "", c.IDs(), startYear, endYear)
	report, err := orch.Run(ctx, items, ncei.Options{Jobs: jobs, Mode: ncei.ProbeOnly})
	if err != nil {
		return nil, nil, err
	}

	years := endYear - startYear + 1
	out := &Catalog{}
	var unconfirmed []string
	var failures []error
	for i, s := range c.stations {
		present, unknown := true, false
		for _, o := range report.Outcomes[i*years : (i+1)*years] {
			if o.Err == nil {
				continue
			}
			present = false
			if !errors.Is(o.Err, ncei.ErrNotFound) {
				unknown = true
				failures = append(failures, fmt.Errorf("%s: %w", o.Item.URL, o.Err))
			}
		}
		switch {
		case unknown:
			unconfirmed = append(unconfirmed, s.ID())
		case present:
			out.stations = append(out.stations, s)
		}
	}

	if len(unconfirmed) > 0 {
		return out, report, fmt.Errorf("%w: %d stations unconfirmed (%s): %w",
			ErrAvailabilityFailed, len(unconfirmed), strings.Join(unconfirmed, ", "), errors.Join(failures...))
	}
	if out.Len() == 0 {
		return out, report, ErrNoStations
	}
	return out, report, nil
}

// FilterByListing keeps stations that appear in the archive directory
// listing of every year in [startYear, endYear]. It costs one request per
// year.
func (c *Catalog) FilterByListing(ctx context.Context, fetcher *ncei.Fetcher, baseURL string, startYear, endYear int) (*Catalog, error) {
	if err := checkYears(startYear, endYear); err != nil {
		return nil, err
	}

	counts := make(map[ncei.StationID]int)
	for year := startYear; year <= endYear; year++ {
		ids, err := fetcher.ListYear(ctx, baseURL, year)
		if err != nil {
			return nil, err
		}
		for _, id := range ids {
			counts[id]++
		}
	}

	years := endYear - startYear + 1
	return c.Filter(func(s Station) bool { return counts[s.Key()] == years }), nil
}

// FilterByLocalAvailability keeps stations whose data files for every year
// in [startYear, endYear] already exist under dir. No network access.
func (c *Catalog) FilterByLocalAvailability(dir string, startYear, endYear int) (*Catalog, error) {
	if err := checkYears(startYear, endYear); err != nil {
		return nil, err
	}
	return c.Filter(func(s Station) bool {
		for year := startYear; year <= endYear; year++ {
			info, err := os.Stat(ncei.DataPath(dir, s.Key(), year))
			if err != nil || !info.Mode().IsRegular() {
				return false
			}
		}
		return true
	}), nil
}

// Download fetches every station-year file of the catalog into dir.
func (c *Catalog) Download(ctx context.Context, orch *ncei.Orchestrator, baseURL, dir string, startYear, endYear int, opts ncei.Options) (*ncei.Report, error) {
	if err := checkYears(startYear, endYear); err != nil {
		return nil, err
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("creating data directory: %w", err)
	}
	opts.Mode = ncei.Download
	return orch.Run(ctx, ncei.DataItems(baseURL, dir, c.IDs(), startYear, endYear), opts)
}
