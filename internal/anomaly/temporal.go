package anomaly

import (
	"sort"
	"strconv"
	"time"

	"github.com/heatcheck/internal/model"
)

// DefaultWindowDays is the widest gap between two equal readings that still
// counts as the same reporting period.
const DefaultWindowDays = 31

// RepeatType classifies a pair of equal readings of one meter
type RepeatType int

const (
	RepeatSamePeriod   RepeatType = 1 // within the day window
	RepeatAnnual       RepeatType = 2 // same day and month, different year
	RepeatCoincidental RepeatType = 3
)

// Description returns the Russian label used in reports
func (t RepeatType) Description() string {
	switch t {
	case RepeatSamePeriod:
		return "одинаковые значения показателей в рамках одного отчетного периода"
	case RepeatAnnual:
		return "совпадают день, месяц и потребление, но год отличается"
	case RepeatCoincidental:
		return "совпадает только потребление, но даты полностью разные"
	}
	return ""
}

// Recommendation returns the follow-up advice for the repeat type
func (t RepeatType) Recommendation() string {
	switch t {
	case RepeatSamePeriod:
		return "Проверьте корректность данных за указанный период. " +
			"Возможные причины: ошибки приборов учета, некорректное снятие показаний или дублирование записей."
	case RepeatAnnual:
		return "Проверьте процесс переноса данных между годами. " +
			"Возможные причины: автоматическое копирование данных из предыдущего года или ошибки в системе учета."
	case RepeatCoincidental:
		return "Проведите детальный анализ данных. " +
			"Возможные причины: стандартные фиксированные значения (например, минимальное потребление), " +
			"или совпадение в значении потребления."
	}
	return ""
}

// RepeatPair is two date-adjacent readings of one meter with the same value
type RepeatPair struct {
	Value  float64    `json:"value"`
	First  time.Time  `json:"first"`
	Second time.Time  `json:"second"`
	Days   int        `json:"days"`
	Type   RepeatType `json:"type"`
}

// MeterRepeats describes the repeated values of one meter
type MeterRepeats struct {
	MeterID    string       `json:"meter_id"`
	Address    string       `json:"address"`
	ObjectType string       `json:"object_type"`
	Latitude   *float64     `json:"latitude,omitempty"`
	Longitude  *float64     `json:"longitude,omitempty"`
	Values     []float64    `json:"values"`
	Dates      []string     `json:"dates"` // DD-MM-YYYY, ascending
	Type1      int          `json:"type_1"`
	Type2      int          `json:"type_2"`
	Type3      int          `json:"type_3"`
	Pairs      []RepeatPair `json:"pairs"`
}

// TemporalReport aggregates repeat pairs over all meters
type TemporalReport struct {
	Meters []MeterRepeats `json:"meters"`
	Type1  int            `json:"type_1"`
	Type2  int            `json:"type_2"`
	Type3  int            `json:"type_3"`
}

// Total returns the number of classified pairs
func (r TemporalReport) Total() int {
	return r.Type1 + r.Type2 + r.Type3
}

// Meter returns the repeats of one meter
func (r TemporalReport) Meter(meterID string) (MeterRepeats, bool) {
	for _, m := range r.Meters {
		if m.MeterID == meterID {
			return m, true
		}
	}
	return MeterRepeats{}, false
}

// TemporalDetector classifies repeated consumption values per meter
type TemporalDetector struct {
	windowDays int
}

// NewTemporalDetector creates a detector; a non-positive window uses DefaultWindowDays
func NewTemporalDetector(windowDays int) *TemporalDetector {
	if windowDays <= 0 {
		windowDays = DefaultWindowDays
	}
	return &TemporalDetector{windowDays: windowDays}
}

// Mark classifies repeated values and sets the temporal flags. Within each
// (meter, value) group the readings are sorted by date and paired in three
// passes, each reading pair counted once:
//
//	adjacent readings with gap <= window         -> type 1
//	remaining readings sharing day and month     -> type 2
//	whatever is left, paired with its neighbours -> type 3
//
// A record carries a type flag when it belongs to at least one pair of that
// type. Records without a timestamp are skipped.
func (d *TemporalDetector) Mark(records []model.JoinedRecord) TemporalReport {
	byMeter := make(map[string][]int)
	var meters []string
	for i, r := range records {
		if r.IsSummary || r.Timestamp == nil {
			continue
		}
		if _, ok := byMeter[r.MeterID]; !ok {
			meters = append(meters, r.MeterID)
		}
		byMeter[r.MeterID] = append(byMeter[r.MeterID], i)
	}
	sort.Strings(meters)

	var report TemporalReport
	for _, meterID := range meters {
		repeats, ok := d.markMeter(records, byMeter[meterID])
		if !ok {
			continue
		}
		report.Type1 += repeats.Type1
		report.Type2 += repeats.Type2
		report.Type3 += repeats.Type3
		report.Meters = append(report.Meters, repeats)
	}
	return report
}

func (d *TemporalDetector) markMeter(records []model.JoinedRecord, indexes []int) (MeterRepeats, bool) {
	first := records[indexes[0]]
	repeats := MeterRepeats{
		MeterID:    first.MeterID,
		Address:    first.Address,
		ObjectType: first.Type(),
		Latitude:   first.Lat(),
		Longitude:  first.Lon(),
	}

	byValue := make(map[string][]int)
	var values []float64
	for _, i := range indexes {
		key := strconv.FormatFloat(records[i].Consumption, 'g', -1, 64)
		if _, ok := byValue[key]; !ok {
			values = append(values, records[i].Consumption)
		}
		byValue[key] = append(byValue[key], i)
	}
	sort.Float64s(values)

	var repeated []time.Time
	for _, v := range values {
		group := byValue[strconv.FormatFloat(v, 'g', -1, 64)]
		if len(group) < 2 {
			continue
		}
		sort.SliceStable(group, func(a, b int) bool {
			return records[group[a]].Timestamp.Before(*records[group[b]].Timestamp)
		})

		repeats.Values = append(repeats.Values, v)
		for _, i := range group {
			repeated = append(repeated, *records[i].Timestamp)
		}
		for _, p := range d.pairGroup(records, v, group) {
			repeats.Pairs = append(repeats.Pairs, p.RepeatPair)
			setTemporal(&records[p.first].Flags, p.Type)
			setTemporal(&records[p.second].Flags, p.Type)
			switch p.Type {
			case RepeatSamePeriod:
				repeats.Type1++
			case RepeatAnnual:
				repeats.Type2++
			default:
				repeats.Type3++
			}
		}
	}

	if len(repeats.Pairs) == 0 {
		return repeats, false
	}

	sort.Slice(repeated, func(a, b int) bool { return repeated[a].Before(repeated[b]) })
	repeats.Dates = make([]string, len(repeated))
	for k, ts := range repeated {
		repeats.Dates[k] = ts.Format("02-01-2006")
	}
	return repeats, true
}

type indexedPair struct {
	RepeatPair
	first, second int // record indexes
}

// pairGroup pairs the date-sorted readings of one (meter, value) group
func (d *TemporalDetector) pairGroup(records []model.JoinedRecord, value float64, group []int) []indexedPair {
	var pairs []indexedPair
	used := make([]bool, len(group))
	add := func(a, b int, t RepeatType) {
		first, second := *records[group[a]].Timestamp, *records[group[b]].Timestamp
		pairs = append(pairs, indexedPair{
			RepeatPair: RepeatPair{Value: value, First: first, Second: second, Days: daysBetween(first, second), Type: t},
			first:      group[a],
			second:     group[b],
		})
		used[a], used[b] = true, true
	}

	for k := 1; k < len(group); k++ {
		if daysBetween(*records[group[k-1]].Timestamp, *records[group[k]].Timestamp) <= d.windowDays {
			add(k-1, k, RepeatSamePeriod)
		}
	}

	last := make(map[string]int)
	for k := range group {
		if used[k] {
			continue
		}
		key := records[group[k]].Timestamp.Format("01-02")
		if prev, ok := last[key]; ok {
			add(prev, k, RepeatAnnual)
		}
		last[key] = k
	}

	var left []int
	for k := range group {
		if !used[k] {
			left = append(left, k)
		}
	}
	switch {
	case len(left) == 1:
		// A lone reading pairs with its date neighbour, which is more than
		// a window away or it would have been taken as type 1.
		k := left[0]
		if k > 0 {
			add(k-1, k, RepeatCoincidental)
		} else {
			add(k, k+1, RepeatCoincidental)
		}
	case len(left) > 1:
		for j := 1; j < len(left); j++ {
			add(left[j-1], left[j], RepeatCoincidental)
		}
	}

	sort.SliceStable(pairs, func(a, b int) bool {
		if !pairs[a].First.Equal(pairs[b].First) {
			return pairs[a].First.Before(pairs[b].First)
		}
		return pairs[a].Second.Before(pairs[b].Second)
	})
	return pairs
}

func daysBetween(first, second time.Time) int {
	return int(second.Sub(first).Hours() / 24)
}

func setTemporal(f *model.Flags, t RepeatType) {
	switch t {
	case RepeatSamePeriod:
		f.Temporal1 = true
	case RepeatAnnual:
		f.Temporal2 = true
	case RepeatCoincidental:
		f.Temporal3 = true
	}
}
