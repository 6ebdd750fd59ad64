// Package dataset holds the time × station grid assembled from per-station
// ISD-Lite records, and its on-disk form.
package dataset

import (
	"errors"
	"sort"
	"time"

	"github.com/ngmaloney/isd-lite/internal/isdlite"
)

// ErrNoData is returned when there is nothing to assemble.
var ErrNoData = errors.New("no observations to assemble")

// Attribute keys set on every assembled dataset.
const (
	AttrTitle  = "title"
	AttrSource = "source"
	AttrURL    = "URL"
	AttrRegion = "region"
)

// DefaultAttrs returns the global attributes for data taken from baseURL.
func DefaultAttrs(baseURL string) map[string]string {
	return map[string]string{
		AttrTitle:  "ISD-Lite station observations",
		AttrSource: "National Centers for Environmental Information (NCEI)",
		AttrURL:    baseURL,
	}
}

// StationMeta is the per-station metadata carried along the station axis.
type StationMeta struct {
	ID        string   `json:"station_id"`
	Name      string   `json:"station_name"`
	Country   string   `json:"country"`
	State     string   `json:"us_state"`
	Latitude  float64  `json:"lat"`
	Longitude float64  `json:"lon"`
	Elevation *float64 `json:"elevation,omitempty"`
}

// Variable is one observation field laid out as a dense time × station grid.
type Variable struct {
	Name     string
	LongName string
	Units    string

	stations int
	values   []float32
	valid    []bool
}

func newVariable(info isdlite.FieldInfo, times, stations int) *Variable {
	return &Variable{
		Name:     info.Name,
		LongName: info.LongName,
		Units:    info.Units,
		stations: stations,
		values:   make([]float32, times*stations),
		valid:    make([]bool, times*stations),
	}
}

// At returns the value at time index ti and station index si. ok is false
// when the observation is missing.
func (v *Variable) At(ti, si int) (value float32, ok bool) {
	i := ti*v.stations + si
	return v.values[i], v.valid[i]
}

func (v *Variable) set(ti, si int, val float32, ok bool) {
	i := ti*v.stations + si
	if ok {
		v.values[i] = val
	} else {
		v.values[i] = 0
	}
	v.valid[i] = ok
}

// Dataset is a rectangular collection of hourly observations.
type Dataset struct {
	Times     []time.Time
	Stations  []StationMeta
	Variables []*Variable
	Attrs     map[string]string
}

// Variable returns the named variable, or nil.
func (d *Dataset) Variable(name string) *Variable {
	for _, v := range d.Variables {
		if v.Name == name {
			return v
		}
	}
	return nil
}

// StationIndex returns the column of the station with the given id, or -1.
func (d *Dataset) StationIndex(id string) int {
	for i, s := range d.Stations {
		if s.ID == id {
			return i
		}
	}
	return -1
}

// TimeIndex returns the row for t, or -1 when t is off the axis.
func (d *Dataset) TimeIndex(t time.Time) int {
	i := sort.Search(len(d.Times), func(i int) bool { return !d.Times[i].Before(t) })
	if i < len(d.Times) && d.Times[i].Equal(t) {
		return i
	}
	return -1
}

// Series is the input for one station column.
type Series struct {
	Station StationMeta
	Records []isdlite.Record
}

// Assemble builds a dataset whose time axis covers every hour from the
// earliest to the latest record of any series. Timestamps are floored to the
// hour; when two records land on the same hour the one appearing later in
// its series replaces the earlier one.
func Assemble(series []Series, attrs map[string]string) (*Dataset, error) {
	if len(series) == 0 {
		return nil, ErrNoData
	}

	var first, last time.Time
	found := false
	for _, s := range series {
		for _, r := range s.Records {
			t := r.Time.UTC().Truncate(time.Hour)
			if !found || t.Before(first) {
				first = t
			}
			if !found || t.After(last) {
				last = t
			}
			found = true
		}
	}
	if !found {
		return nil, ErrNoData
	}

	n := int(last.Sub(first)/time.Hour) + 1
	ds := &Dataset{
		Times:    make([]time.Time, n),
		Stations: make([]StationMeta, len(series)),
		Attrs:    make(map[string]string, len(attrs)),
	}
	for i := range ds.Times {
		ds.Times[i] = first.Add(time.Duration(i) * time.Hour)
	}
	for k, v := range attrs {
		ds.Attrs[k] = v
	}
	for _, info := range isdlite.Fields {
		ds.Variables = append(ds.Variables, newVariable(info, n, len(series)))
	}

	for si, s := range series {
		ds.Stations[si] = copyMeta(s.Station)
		for _, r := range s.Records {
			ti := int(r.Time.UTC().Truncate(time.Hour).Sub(first) / time.Hour)
			for fi, v := range r.Values {
				ds.Variables[fi].set(ti, si, float32(v.Float), v.Valid)
			}
		}
	}
	return ds, nil
}

func copyMeta(m StationMeta) StationMeta {
	if m.Elevation != nil {
		e := *m.Elevation
		m.Elevation = &e
	}
	return m
}
