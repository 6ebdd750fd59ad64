package dataset

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/parquet-go/parquet-go"

	"github.com/ngmaloney/isd-lite/internal/isdlite"
)

// Key/value metadata entries written alongside the rows.
const (
	metaDims      = "isdlite.dims"
	metaStations  = "isdlite.stations"
	metaVariables = "isdlite.variables"
	metaAttrs     = "isdlite.attrs"
)

const writeBatch = 4096

// row is the long-format layout: one row per (time, station) cell. Null
// columns are missing observations.
type row struct {
	Time    int64    `parquet:"time"`
	Station int32    `parquet:"station"`
	T       *float32 `parquet:"T"`
	TD      *float32 `parquet:"TD"`
	SLP     *float32 `parquet:"SLP"`
	WD      *float32 `parquet:"WD"`
	WS      *float32 `parquet:"WS"`
	SKY     *float32 `parquet:"SKY"`
	PREC1H  *float32 `parquet:"PREC1H"`
	PREC6H  *float32 `parquet:"PREC6H"`
}

func (r *row) fields() [isdlite.NumFields]**float32 {
	return [isdlite.NumFields]**float32{&r.T, &r.TD, &r.SLP, &r.WD, &r.WS, &r.SKY, &r.PREC1H, &r.PREC6H}
}

type dims struct {
	Time    int `json:"time"`
	Station int `json:"station"`
}

type variableMeta struct {
	Name     string `json:"name"`
	LongName string `json:"long_name"`
	Units    string `json:"units"`
}

// Write stores ds at path as Parquet. The file is written to a temporary
// name in the same directory and renamed into place.
func Write(ds *Dataset, path string) error {
	if len(ds.Variables) != isdlite.NumFields {
		return fmt.Errorf("dataset has %d variables, want %d", len(ds.Variables), isdlite.NumFields)
	}

	opts, err := metadataOptions(ds)
	if err != nil {
		return err
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("creating output directory: %w", err)
	}
	tmp, err := os.CreateTemp(dir, filepath.Base(path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("creating temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if err := writeRows(tmp, ds, opts); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("syncing %s: %w", tmp.Name(), err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("closing %s: %w", tmp.Name(), err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("renaming into place: %w", err)
	}
	return nil
}

func metadataOptions(ds *Dataset) ([]parquet.WriterOption, error) {
	vars := make([]variableMeta, len(ds.Variables))
	for i, v := range ds.Variables {
		vars[i] = variableMeta{Name: v.Name, LongName: v.LongName, Units: v.Units}
	}

	entries := []struct {
		key   string
		value any
	}{
		{metaDims, dims{Time: len(ds.Times), Station: len(ds.Stations)}},
		{metaStations, ds.Stations},
		{metaVariables, vars},
		{metaAttrs, ds.Attrs},
	}

	opts := make([]parquet.WriterOption, 0, len(entries))
	for _, e := range entries {
		b, err := json.Marshal(e.value)
		if err != nil {
			return nil, fmt.Errorf("encoding %s: %w", e.key, err)
		}
		opts = append(opts, parquet.KeyValueMetadata(e.key, string(b)))
	}
	return opts, nil
}

func writeRows(out io.Writer, ds *Dataset, opts []parquet.WriterOption) error {
	w := parquet.NewGenericWriter[row](out, opts...)

	batch := make([]row, 0, writeBatch)
	flush := func() error {
		if len(batch) == 0 {
			return nil
		}
		if _, err := w.Write(batch); err != nil {
			return fmt.Errorf("writing rows: %w", err)
		}
		batch = batch[:0]
		return nil
	}

	for ti, t := range ds.Times {
		for si := range ds.Stations {
			r := row{Time: t.Unix(), Station: int32(si)}
			for fi, dst := range r.fields() {
				if v, ok := ds.Variables[fi].At(ti, si); ok {
					*dst = &v
				}
			}
			batch = append(batch, r)
			if len(batch) == writeBatch {
				if err := flush(); err != nil {
					return err
				}
			}
		}
	}
	if err := flush(); err != nil {
		return err
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("closing parquet writer: %w", err)
	}
	return nil
}

// Read loads a dataset written by Write.
func Read(path string) (*Dataset, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening %s: %w", path, err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return nil, err
	}
	pf, err := parquet.OpenFile(f, info.Size())
	if err != nil {
		return nil, fmt.Errorf("reading parquet footer of %s: %w", path, err)
	}

	var (
		d    dims
		vars []variableMeta
		ds   = &Dataset{}
	)
	for key, dst := range map[string]any{
		metaDims:      &d,
		metaStations:  &ds.Stations,
		metaVariables: &vars,
		metaAttrs:     &ds.Attrs,
	} {
		raw, ok := pf.Lookup(key)
		if !ok {
			return nil, fmt.Errorf("%s: missing %s metadata", path, key)
		}
		if err := json.Unmarshal([]byte(raw), dst); err != nil {
			return nil, fmt.Errorf("%s: decoding %s: %w", path, key, err)
		}
	}
	if d.Station == 0 || len(ds.Stations) != d.Station || len(vars) != isdlite.NumFields {
		return nil, fmt.Errorf("%s: inconsistent metadata", path)
	}
	if int64(d.Time)*int64(d.Station) != pf.NumRows() {
		return nil, fmt.Errorf("%s: %d rows, want %d", path, pf.NumRows(), d.Time*d.Station)
	}
	if ds.Attrs == nil {
		ds.Attrs = map[string]string{}
	}

	ds.Times = make([]time.Time, d.Time)
	for i, vm := range vars {
		v := newVariable(isdlite.Fields[i], d.Time, d.Station)
		v.Name, v.LongName, v.Units = vm.Name, vm.LongName, vm.Units
		ds.Variables = append(ds.Variables, v)
	}

	r := parquet.NewGenericReader[row](f)
	defer r.Close()

	buf := make([]row, writeBatch)
	n := 0
	for {
		clear(buf)
		count, err := r.Read(buf)
		for _, rec := range buf[:count] {
			ti, si := n/d.Station, n%d.Station
			if int(rec.Station) != si {
				return nil, fmt.Errorf("%s: row %d has station %d, want %d", path, n, rec.Station, si)
			}
			if si == 0 {
				ds.Times[ti] = time.Unix(rec.Time, 0).UTC()
			}
			for fi, src := range rec.fields() {
				if *src != nil {
					ds.Variables[fi].set(ti, si, **src, true)
				}
			}
			n++
		}
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("reading rows: %w", err)
		}
	}
	if n != d.Time*d.Station {
		return nil, fmt.Errorf("%s: read %d rows, want %d", path, n, d.Time*d.Station)
	}
	return ds, nil
}
