package isdlite

import (
	"bufio"
	"compress/gzip"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"
)

// ErrEmptyFile is returned when an input yields no decodable records.
var ErrEmptyFile = errors.New("no records in file")

// lineWidth is the minimum length of a complete record line.
const lineWidth = 61

// traceAmount is the raw precipitation code for a trace amount.
const traceAmount = -1

// File is the result of decoding one station-year file.
type File struct {
	Records []Record
	Skipped int // lines rejected as malformed
}

// LineError describes a rejected input line.
type LineError struct {
	Line   int
	Reason string
}

func (e *LineError) Error() string {
	return fmt.Sprintf("line %d: %s", e.Line, e.Reason)
}

// ReadFile decodes a gzip-compressed ISD-Lite file.
func ReadFile(path string, logger *zap.Logger) (*File, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening %s: %w", path, err)
	}
	defer f.Close()

	gz, err := gzip.NewReader(f)
	if err != nil {
		return nil, fmt.Errorf("reading gzip header of %s: %w", path, err)
	}
	defer gz.Close()

	if logger == nil {
		logger = zap.NewNop()
	}
	out, err := Parse(gz, logger.With(zap.String("file", path)))
	if err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}
	return out, nil
}

// Parse decodes uncompressed ISD-Lite text. Malformed lines are logged and
// skipped.
func Parse(r io.Reader, logger *zap.Logger) (*File, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	out := &File{}
	scanner := bufio.NewScanner(r)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := strings.TrimRight(scanner.Text(), "\r")
		if strings.TrimSpace(line) == "" {
			continue
		}
		rec, err := ParseLine(line)
		if err != nil {
			out.Skipped++
			logger.Warn("skipping malformed record", zap.Int("line", lineNo), zap.String("reason", err.Error()))
			continue
		}
		out.Records = append(out.Records, rec)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("reading records: %w", err)
	}
	if len(out.Records) == 0 {
		return nil, ErrEmptyFile
	}
	return out, nil
}

// ParseLine decodes one fixed-width record line.
func ParseLine(line string) (Record, error) {
	var rec Record
	if len(line) < lineWidth {
		return rec, fmt.Errorf("short line (%d columns)", len(line))
	}

	year, err := column(line, 0, 4)
	if err != nil {
		return rec, fmt.Errorf("year: %w", err)
	}
	month, err := column(line, 5, 7)
	if err != nil {
		return rec, fmt.Errorf("month: %w", err)
	}
	day, err := column(line, 8, 10)
	if err != nil {
		return rec, fmt.Errorf("day: %w", err)
	}
	hour, err := column(line, 11, 13)
	if err != nil {
		return rec, fmt.Errorf("hour: %w", err)
	}
	if month < 1 || month > 12 || day < 1 || day > 31 || hour < 0 || hour > 23 {
		return rec, fmt.Errorf("invalid timestamp %04d-%02d-%02d %02d", year, month, day, hour)
	}
	rec.Time = time.Date(year, time.Month(month), day, hour, 0, 0, 0, time.UTC)
	// time.Date normalizes overflow, so 31 February rolls into March.
	if rec.Time.Day() != day {
		return rec, fmt.Errorf("invalid date %04d-%02d-%02d", year, month, day)
	}

	for i, info := range Fields {
		raw, err := column(line, info.Start, info.Start+6)
		if err != nil {
			return rec, fmt.Errorf("%s: %w", info.Name, err)
		}
		rec.Values[i] = decode(Field(i), raw)
	}
	return rec, nil
}

func decode(f Field, raw int) Value {
	if raw == Missing {
		return None
	}
	if raw == traceAmount && (f == Precip1h || f == Precip6h) {
		return Some(0)
	}
	return Some(float64(raw) / Fields[f].Scale)
}

func column(line string, start, end int) (int, error) {
	s := strings.TrimSpace(line[start:end])
	if s == "" {
		return 0, errors.New("blank column")
	}
	return strconv.Atoi(s)
}
