// Package isdlite decodes the fixed-width ISD-Lite hourly observation format.
package isdlite

import "time"

// Missing is the raw sentinel the archive uses for an absent value.
const Missing = -9999

// Field indexes the eight observation values carried by every record.
type Field int

const (
	Temperature Field = iota
	DewPoint
	SeaLevelPressure
	WindDirection
	WindSpeed
	SkyCondition
	Precip1h
	Precip6h
)

// NumFields is the number of observation values per record.
const NumFields = 8

// FieldInfo describes one observation column.
type FieldInfo struct {
	Name     string
	LongName string
	Units    string
	Scale    float64
	Start    int // 0-based column offset of the 6-wide field
}

// Fields lists variable metadata in record order.
var Fields = [NumFields]FieldInfo{
	{Name: "T", LongName: "Air temperature at 2 m above ground", Units: "C", Scale: 10, Start: 13},
	{Name: "TD", LongName: "Dew point temperature at 2 m above ground", Units: "C", Scale: 10, Start: 19},
	{Name: "SLP", LongName: "Sea level pressure", Units: "hPa", Scale: 10, Start: 25},
	{Name: "WD", LongName: "Wind direction", Units: "angular degrees", Scale: 1, Start: 31},
	{Name: "WS", LongName: "Wind speed at 10 m above ground", Units: "m s-1", Scale: 10, Start: 37},
	{Name: "SKY", LongName: "Sky condition", Units: "", Scale: 1, Start: 43},
	{Name: "PREC1H", LongName: "1 h accumulated precipitation", Units: "mm", Scale: 10, Start: 49},
	{Name: "PREC6H", LongName: "6 h accumulated precipitation", Units: "mm", Scale: 10, Start: 55},
}

func (f Field) String() string {
	if f < 0 || int(f) >= NumFields {
		return "unknown"
	}
	return Fields[f].Name
}

// Value is a decoded observation. Valid is false when the archive recorded
// the missing sentinel.
type Value struct {
	Float float64
	Valid bool
}

// Some returns a present value.
func Some(f float64) Value {
	return Value{Float: f, Valid: true}
}

// None is the missing value.
var None = Value{}

// Record is one hourly observation from a single station.
type Record struct {
	Time   time.Time
	Values [NumFields]Value
}

// Get returns the value for field f.
func (r Record) Get(f Field) Value {
	return r.Values[f]
}
