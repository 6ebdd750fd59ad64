package stations

import (
	"errors"
	"fmt"
	"os"

	"go.uber.org/zap"

	"github.com/ngmaloney/isd-lite/internal/dataset"
	"github.com/ngmaloney/isd-lite/internal/isdlite"
	"github.com/ngmaloney/isd-lite/internal/ncei"
)

// ErrMissingData is matched by MissingDataError.
var ErrMissingData = errors.New("expected data file is missing")

// MissingDataError names a station-year file that should exist locally.
type MissingDataError struct {
	StationID string
	Year      int
	Path      string
}

func (e *MissingDataError) Error() string {
	return fmt.Sprintf("missing data for station %s year %d: %s", e.StationID, e.Year, e.Path)
}

func (e *MissingDataError) Is(target error) bool { return target == ErrMissingData }

// ParseErrorPolicy decides what a station's unreadable file does to a load.
type ParseErrorPolicy int

const (
	// SkipStation drops the station from the dataset and carries on.
	SkipStation ParseErrorPolicy = iota
	// Abort fails the whole load.
	Abort
)

// LoadOptions configure LoadObservations.
type LoadOptions struct {
	OnParseError ParseErrorPolicy
	BaseURL      string // recorded in the dataset URL attribute
	Region       string // optional region attribute
	Logger       *zap.Logger
}

// DroppedStation is a station left out of a load.
type DroppedStation struct {
	StationID string
	Err       error
}

// LoadReport describes a completed load.
type LoadReport struct {
	Dataset *dataset.Dataset
	Dropped []DroppedStation
	Skipped int // malformed lines across all files
}

// LoadObservations reads the local files for every station and year in
// [startYear, endYear] under dir, assembles them into one dataset and
// attaches it to the catalog.
//
// Every expected file must exist. A file that cannot be decoded is handled
// according to opts.OnParseError. Stations skipped that way are removed from
// the catalog, so every remaining station has a column in the dataset.
func (c *Catalog) LoadObservations(dir string, startYear, endYear int, opts LoadOptions) (*LoadReport, error) {
	if err := checkYears(startYear, endYear); err != nil {
		return nil, err
	}
	if c.Len() == 0 {
		return nil, ErrEmptyCatalog
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.Named("load")

	for _, s := range c.stations {
		for year := startYear; year <= endYear; year++ {
			path := ncei.DataPath(dir, s.Key(), year)
			if _, err := os.Stat(path); err != nil {
				return nil, &MissingDataError{StationID: s.ID(), Year: year, Path: path}
			}
		}
	}

	report := &LoadReport{}
	series := make([]dataset.Series, 0, len(c.stations))
	kept := make([]Station, 0, len(c.stations))
	for _, s := range c.stations {
		recs, skipped, err := readStation(dir, s, startYear, endYear, logger)
		report.Skipped += skipped
		if err != nil {
			if opts.OnParseError == Abort {
				return nil, fmt.Errorf("station %s: %w", s.ID(), err)
			}
			logger.Warn("Dropping station", zap.String("station", s.ID()), zap.Error(err))
			report.Dropped = append(report.Dropped, DroppedStation{StationID: s.ID(), Err: err})
			continue
		}
		series = append(series, dataset.Series{Station: s.Meta(), Records: recs})
		kept = append(kept, s)
	}

	baseURL := opts.BaseURL
	if baseURL == "" {
		baseURL = ncei.DefaultBaseURL
	}
	attrs := dataset.DefaultAttrs(baseURL)
	if opts.Region != "" {
		attrs[dataset.AttrRegion] = opts.Region
	}

	ds, err := dataset.Assemble(series, attrs)
	if err != nil {
		return nil, err
	}
	c.stations = kept
	c.dataset = ds
	report.Dataset = ds

	logger.Info("Loaded observations",
		zap.Int("stations", len(ds.Stations)),
		zap.Int("hours", len(ds.Times)),
		zap.Int("dropped", len(report.Dropped)))
	return report, nil
}

func readStation(dir string, s Station, startYear, endYear int, logger *zap.Logger) ([]isdlite.Record, int, error) {
	var recs []isdlite.Record
	skipped := 0
	for year := startYear; year <= endYear; year++ {
		f, err := isdlite.ReadFile(ncei.DataPath(dir, s.Key(), year), logger)
		if err != nil {
			return nil, skipped, err
		}
		skipped += f.Skipped
		recs = append(recs, f.Records...)
	}
	return recs, skipped, nil
}
