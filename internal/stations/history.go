package stations

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/ngmaloney/isd-lite/internal/isdlite"
	"github.com/ngmaloney/isd-lite/internal/ncei"
)

// headerPrefix starts the column title line of the history file.
const headerPrefix = "USAF   WBAN  STATION NAME"

const dateLayout = "20060102"

// column bounds of the history format, 0-based and end-exclusive
var (
	colUSAF    = [2]int{0, 6}
	colWBAN    = [2]int{6, 12}
	colName    = [2]int{12, 42}
	colCountry = [2]int{42, 45}
	colState   = [2]int{45, 50}
	colCall    = [2]int{50, 55}
	colLat     = [2]int{55, 64}
	colLon     = [2]int{64, 73}
	colElev    = [2]int{73, 81}
	colBegin   = [2]int{81, 90}
	colEnd     = [2]int{90, 99}
)

const historyNotes = `USAF = Air Force station ID. May contain a letter in the first position.
WBAN = NCDC WBAN number
CTRY = FIPS country ID
ST = State for US stations
CALL = ICAO ID
LAT = Latitude in thousandths of decimal degrees
LON = Longitude in thousandths of decimal degrees
ELEV = Elevation in meters
BEGIN = Beginning Period Of Record (YYYYMMDD). There may be reporting gaps within the P.O.R.
END = Ending Period Of Record (YYYYMMDD). There may be reporting gaps within the P.O.R.
`

const columnTitle = "USAF   WBAN  STATION NAME                  CTRY ST CALL  LAT     LON      ELEV(M) BEGIN    END"

// FromRemote refreshes the station history at dest from url through the
// cache-validated fetcher, then parses it. If the refresh fails and an older
// copy exists, the older copy is used.
func FromRemote(ctx context.Context, fetcher *ncei.Fetcher, url, dest string, logger *zap.Logger) (*Catalog, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if _, err := fetcher.Fetch(ctx, url, dest, false); err != nil {
		if _, statErr := os.Stat(dest); statErr != nil {
			return nil, fmt.Errorf("fetching station history: %w", err)
		}
		logger.Warn("Using cached station history", zap.String("path", dest), zap.Error(err))
	}
	return FromFile(dest, logger)
}

// FromFile parses a station history file.
func FromFile(path string, logger *zap.Logger) (*Catalog, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening station history: %w", err)
	}
	defer f.Close()
	return Parse(f, logger)
}

// Parse reads the station history format. Lines that cannot be used are
// logged and skipped.
func Parse(r io.Reader, logger *zap.Logger) (*Catalog, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	var lines []string
	scanner := bufio.NewScanner(r)
	header := -1
	for scanner.Scan() {
		line := strings.TrimRight(scanner.Text(), "\r")
		if header < 0 && strings.HasPrefix(line, headerPrefix) {
			header = len(lines)
		}
		lines = append(lines, line)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("reading station history: %w", err)
	}

	var stations []Station
	skipped := 0
	for i := header + 1; i < len(lines); i++ {
		if strings.TrimSpace(lines[i]) == "" {
			continue
		}
		s, err := parseHistoryLine(lines[i])
		if err != nil {
			skipped++
			logger.Debug("Skipping station line", zap.Int("line", i+1), zap.String("reason", err.Error()))
			continue
		}
		stations = append(stations, s)
	}
	if skipped > 0 {
		logger.Warn("Skipped unusable station lines", zap.Int("count", skipped))
	}
	return NewCatalog(stations, logger), nil
}

func parseHistoryLine(line string) (Station, error) {
	s := Station{
		USAF:    col(line, colUSAF),
		WBAN:    col(line, colWBAN),
		Name:    col(line, colName),
		Country: col(line, colCountry),
		State:   col(line, colState),
		Call:    col(line, colCall),
	}
	if s.USAF == "" || s.WBAN == "" {
		return s, errors.New("missing station id")
	}
	if strings.Contains(strings.ToLower(s.Name), "bogus") {
		return s, errors.New("bogus station")
	}

	var err error
	if s.Latitude, err = strconv.ParseFloat(col(line, colLat), 64); err != nil {
		return s, fmt.Errorf("latitude: %w", err)
	}
	if s.Longitude, err = strconv.ParseFloat(col(line, colLon), 64); err != nil {
		return s, fmt.Errorf("longitude: %w", err)
	}
	if s.Latitude == 0 && s.Longitude == 0 {
		return s, errors.New("no location")
	}
	if s.Latitude < -90 || s.Latitude > 90 || s.Longitude < -180 || s.Longitude > 180 {
		return s, errors.New("location out of range")
	}

	if e, err := strconv.ParseFloat(col(line, colElev), 64); err == nil && e > -999 {
		s.Elevation = isdlite.Some(e)
	}
	s.Begin, _ = time.Parse(dateLayout, col(line, colBegin))
	s.End, _ = time.Parse(dateLayout, col(line, colEnd))
	return s, nil
}

func col(line string, c [2]int) string {
	start, end := c[0], c[1]
	if start >= len(line) {
		return ""
	}
	if end > len(line) {
		end = len(line)
	}
	return strings.TrimSpace(line[start:end])
}

// Save writes the catalog in the station history format, so that FromFile
// reads it back. Names are truncated to 29 characters.
func (c *Catalog) Save(title, path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("creating directory: %w", err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), filepath.Base(path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("creating station list: %w", err)
	}
	defer os.Remove(tmp.Name())

	w := bufio.NewWriter(tmp)
	fmt.Fprintf(w, "%s\n\n%s\n%s\n\n", title, historyNotes, columnTitle)
	for _, s := range c.stations {
		w.WriteString(formatHistoryLine(s))
		w.WriteByte('\n')
	}
	if err := w.Flush(); err != nil {
		tmp.Close()
		return fmt.Errorf("writing station list: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("writing station list: %w", err)
	}
	return os.Rename(tmp.Name(), path)
}

func formatHistoryLine(s Station) string {
	name := s.Name
	if len(name) > 29 {
		name = name[:29]
	}
	elev := fmt.Sprintf("%8s", "")
	if s.Elevation.Valid {
		elev = fmt.Sprintf("%+8.1f", s.Elevation.Float)
	}
	return fmt.Sprintf("%-6s%6s%-30s%3s%5s%5s%+9.3f%+9.3f%s%9s%9s",
		s.USAF, s.WBAN, " "+name, s.Country, s.State, s.Call,
		s.Latitude, s.Longitude, elev, formatDate(s.Begin), formatDate(s.End))
}

func formatDate(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.Format(dateLayout)
}
