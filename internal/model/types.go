package model

import (
	"strings"
	"time"

	"github.com/heatcheck/internal/schema"
)

// Reading represents one meter reading after normalization
type Reading struct {
	SourceRow          int // 1-based data row in the source file
	MeterID            string
	Address            string // display value, original case
	AddressKey         string // trimmed, case-folded join key
	SimplifiedAddress  string
	District           string
	ObjectType         string
	Timestamp          *time.Time
	Consumption        float64
	ConsumptionMissing bool
	Year               *int
	Month              *int
	Latitude           *float64
	Longitude          *float64
	HotWaterKind       string
	HotWaterITP        bool
	Raw                []string // source cells aligned with the table header
}

// Subdivision returns the first word of the address
func (r Reading) Subdivision() string {
	fields := strings.Fields(r.Address)
	if len(fields) == 0 {
		return ""
	}
	return fields[0]
}

// BuildingRecord represents one row of the building registry
type BuildingRecord struct {
	SourceRow    int
	Address      string
	AddressKey   string
	ObjectType   string
	Category     string
	Floors       *int
	BuiltYear    *int
	Area         *float64
	Latitude     *float64
	Longitude    *float64
	HotWaterKind string
	Raw          []string // source cells aligned with the registry header
}

// TemperatureRecord holds the mean outdoor temperature of one calendar month
type TemperatureRecord struct {
	SourceRow    int
	PeriodKey    string // "MM-YYYY"
	TemperatureC float64
}

// DeviationClass classifies a record against the slice mean
type DeviationClass string

const (
	DeviationNone DeviationClass = ""
	DeviationHigh DeviationClass = "high"
	DeviationLow  DeviationClass = "low"
)

// AnomalyFlag names one independent anomaly dimension
type AnomalyFlag string

const (
	FlagNone                AnomalyFlag = "none"
	FlagZeroInHeatingSeason AnomalyFlag = "zero-in-heating-season"
	FlagDeviationHigh       AnomalyFlag = "deviation-high"
	FlagDeviationLow        AnomalyFlag = "deviation-low"
	FlagTemporalType1       AnomalyFlag = "temporal-type-1"
	FlagTemporalType2       AnomalyFlag = "temporal-type-2"
	FlagTemporalType3       AnomalyFlag = "temporal-type-3"
)

// Flags carries the derived anomaly columns of a joined record
type Flags struct {
	ZeroInHeatingSeason bool           `json:"zero_in_heating_season"`
	Temporal1           bool           `json:"temporal_type_1"`
	Temporal2           bool           `json:"temporal_type_2"`
	Temporal3           bool           `json:"temporal_type_3"`
	Deviation           *float64       `json:"deviation,omitempty"`
	DeviationClass      DeviationClass `json:"deviation_class,omitempty"`
}

// List returns every raised flag, or FlagNone
func (f Flags) List() []AnomalyFlag {
	var out []AnomalyFlag
	if f.ZeroInHeatingSeason {
		out = append(out, FlagZeroInHeatingSeason)
	}
	switch f.DeviationClass {
	case DeviationHigh:
		out = append(out, FlagDeviationHigh)
	case DeviationLow:
		out = append(out, FlagDeviationLow)
	}
	if f.Temporal1 {
		out = append(out, FlagTemporalType1)
	}
	if f.Temporal2 {
		out = append(out, FlagTemporalType2)
	}
	if f.Temporal3 {
		out = append(out, FlagTemporalType3)
	}
	if len(out) == 0 {
		return []AnomalyFlag{FlagNone}
	}
	return out
}

// Any reports whether at least one anomaly flag is raised
func (f Flags) Any() bool {
	return f.ZeroInHeatingSeason || f.Temporal1 || f.Temporal2 || f.Temporal3 ||
		f.DeviationClass != DeviationNone
}

// JoinedRecord is a reading left-joined with its building and temperature
type JoinedRecord struct {
	Reading
	Building    *BuildingRecord `json:"building,omitempty"`
	PeriodKey   string          `json:"period_key,omitempty"`
	PeriodStart *time.Time      `json:"period_start,omitempty"`
	Temperature *float64        `json:"temperature,omitempty"`
	Flags       Flags           `json:"flags"`
	IsSummary   bool            `json:"is_summary,omitempty"`
}

// Lat returns the reading latitude, falling back to the registry
func (j JoinedRecord) Lat() *float64 {
	if j.Latitude != nil || j.Building == nil {
		return j.Latitude
	}
	return j.Building.Latitude
}

// Lon returns the reading longitude, falling back to the registry
func (j JoinedRecord) Lon() *float64 {
	if j.Longitude != nil || j.Building == nil {
		return j.Longitude
	}
	return j.Building.Longitude
}

// Type returns the reading object type, falling back to the registry
func (j JoinedRecord) Type() string {
	if j.ObjectType != "" || j.Building == nil {
		return j.ObjectType
	}
	return j.Building.ObjectType
}

// Category returns the registry building category
func (j JoinedRecord) Category() string {
	if j.Building == nil {
		return ""
	}
	return j.Building.Category
}

// Floors returns the registry floor count
func (j JoinedRecord) Floors() *int {
	if j.Building == nil {
		return nil
	}
	return j.Building.Floors
}

// Area returns the registry floor area
func (j JoinedRecord) Area() *float64 {
	if j.Building == nil {
		return nil
	}
	return j.Building.Area
}

// BuiltYear returns the registry construction year
func (j JoinedRecord) BuiltYear() *int {
	if j.Building == nil {
		return nil
	}
	return j.Building.BuiltYear
}

// HotWater reports the ГВС-ИТП flag of the reading, or of its building when
// the readings file carries no hot-water column.
func (j JoinedRecord) HotWater() bool {
	if j.HotWaterKind != "" || j.Building == nil {
		return j.HotWaterITP
	}
	return strings.Contains(j.Building.HotWaterKind, schema.HotWaterITPMarker)
}
