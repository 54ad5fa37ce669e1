package pipeline

import (
	"github.com/heatcheck/internal/model"
	"github.com/heatcheck/internal/normalize"
)

// IntRange is an inclusive range; a nil bound is open
type IntRange struct {
	Min *int `json:"min,omitempty"`
	Max *int `json:"max,omitempty"`
}

// Set reports whether either bound is given
func (r IntRange) Set() bool {
	return r.Min != nil || r.Max != nil
}

// Contains reports whether v lies in the range. A nil value only satisfies
// an unset range.
func (r IntRange) Contains(v *int) bool {
	if !r.Set() {
		return true
	}
	if v == nil {
		return false
	}
	return (r.Min == nil || *v >= *r.Min) && (r.Max == nil || *v <= *r.Max)
}

// FloatRange is an inclusive range; a nil bound is open
type FloatRange struct {
	Min *float64 `json:"min,omitempty"`
	Max *float64 `json:"max,omitempty"`
}

// Set reports whether either bound is given
func (r FloatRange) Set() bool {
	return r.Min != nil || r.Max != nil
}

// Contains reports whether v lies in the range
func (r FloatRange) Contains(v *float64) bool {
	if !r.Set() {
		return true
	}
	if v == nil {
		return false
	}
	return (r.Min == nil || *v >= *r.Min) && (r.Max == nil || *v <= *r.Max)
}

// HotWaterFilter selects records by their ГВС-ИТП flag
type HotWaterFilter string

const (
	HotWaterAll HotWaterFilter = ""
	HotWaterYes HotWaterFilter = "да"
	HotWaterNo  HotWaterFilter = "нет"
)

// ParseHotWaterFilter accepts да/нет, yes/no and true/false; anything else means all
func ParseHotWaterFilter(s string) HotWaterFilter {
	switch normalize.AddressKey(s) {
	case "да", "yes", "true":
		return HotWaterYes
	case "нет", "no", "false":
		return HotWaterNo
	}
	return HotWaterAll
}

// Filter selects the slice of records a deviation is computed over
type Filter struct {
	Year        *int           `json:"year,omitempty"`
	Month       *int           `json:"month,omitempty"`
	MeterID     string         `json:"meter_id,omitempty"`
	Districts   []string       `json:"districts,omitempty"`
	ObjectTypes []string       `json:"object_types,omitempty"`
	Floors      IntRange       `json:"floors"`
	Area        FloatRange     `json:"area"`
	BuiltYear   IntRange       `json:"built_year"`
	HotWater    HotWaterFilter `json:"hot_water,omitempty"`
	ZeroOnly    bool           `json:"zero_only,omitempty"`
}

// Match reports whether a record passes every set criterion. Text criteria
// compare case-insensitively.
func (f Filter) Match(r model.JoinedRecord) bool {
	if r.IsSummary {
		return false
	}
	if f.Year != nil && (r.Year == nil || *r.Year != *f.Year) {
		return false
	}
	if f.Month != nil && (r.Month == nil || *r.Month != *f.Month) {
		return false
	}
	if f.MeterID != "" && r.MeterID != f.MeterID {
		return false
	}
	if len(f.Districts) > 0 && !containsFold(f.Districts, r.District) {
		return false
	}
	if len(f.ObjectTypes) > 0 && !containsFold(f.ObjectTypes, r.Type()) {
		return false
	}
	if !f.Floors.Contains(r.Floors()) || !f.Area.Contains(r.Area()) || !f.BuiltYear.Contains(r.BuiltYear()) {
		return false
	}
	switch f.HotWater {
	case HotWaterYes:
		if !r.HotWater() {
			return false
		}
	case HotWaterNo:
		if r.HotWater() {
			return false
		}
	}
	if f.ZeroOnly && !r.Flags.ZeroInHeatingSeason {
		return false
	}
	return true
}

// Apply returns the matching records, in order
func (f Filter) Apply(records []model.JoinedRecord) []model.JoinedRecord {
	out := make([]model.JoinedRecord, 0, len(records))
	for _, r := range records {
		if f.Match(r) {
			out = append(out, r)
		}
	}
	return out
}

func containsFold(values []string, s string) bool {
	key := normalize.AddressKey(s)
	for _, v := range values {
		if normalize.AddressKey(v) == key {
			return true
		}
	}
	return false
}
