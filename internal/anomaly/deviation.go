package anomaly

import (
	"fmt"
	"math"
	"sort"
	"strings"

	"github.com/heatcheck/internal/model"
	"github.com/heatcheck/internal/schema"
)

// DefaultThresholdPercent is the deviation beyond which a record is anomalous
const DefaultThresholdPercent = 25.0

// Interpretation explains how high and low deviations are usually read
const Interpretation = "Высокие аномалии могут указывать на неисправности (утечки, неоптимальные настройки оборудования), " +
	"а низкие на недостаточное отопление или ошибки в данных."

// GroupCount is the number of anomalous records of one object type and category
type GroupCount struct {
	ObjectType string `json:"object_type"`
	Category   string `json:"category"`
	Count      int    `json:"count"`
}

// DeviationResult is the annotated slice plus its summary
type DeviationResult struct {
	NoData     bool                 `json:"no_data"`
	Mean       float64              `json:"mean"`
	Records    []model.JoinedRecord `json:"records"` // summary record last
	High       int                  `json:"high"`
	Low        int                  `json:"low"`
	Incomplete int                  `json:"incomplete"`
	HighGroups []GroupCount         `json:"high_groups"`
	LowGroups  []GroupCount         `json:"low_groups"`
}

// Anomalies returns the annotated records without the summary record
func (r DeviationResult) Anomalies() []model.JoinedRecord {
	var out []model.JoinedRecord
	for _, rec := range r.Records {
		if !rec.IsSummary && rec.Flags.DeviationClass != model.DeviationNone {
			out = append(out, rec)
		}
	}
	return out
}

// DeviationDetector classifies records by their deviation from a given mean
type DeviationDetector struct {
	threshold float64
}

// NewDeviationDetector creates a detector; a non-positive threshold uses the default
func NewDeviationDetector(thresholdPercent float64) *DeviationDetector {
	if thresholdPercent <= 0 {
		thresholdPercent = DefaultThresholdPercent
	}
	return &DeviationDetector{threshold: thresholdPercent}
}

// Mean returns the mean consumption of the slice, ignoring summary records.
// The second value is false for an empty slice.
func Mean(records []model.JoinedRecord) (float64, bool) {
	var sum float64
	n := 0
	for _, r := range records {
		if r.IsSummary {
			continue
		}
		sum += r.Consumption
		n++
	}
	if n == 0 {
		return 0, false
	}
	return sum / float64(n), true
}

// Complete keeps only records with floors, construction year, area, year and
// month all present.
func Complete(records []model.JoinedRecord) ([]model.JoinedRecord, int) {
	out := make([]model.JoinedRecord, 0, len(records))
	for _, r := range records {
		if r.Floors() == nil || r.BuiltYear() == nil || r.Area() == nil || r.Year == nil || r.Month == nil {
			continue
		}
		out = append(out, r)
	}
	return out, len(records) - len(out)
}

// Apply annotates a copy of records with their deviation from mean, in
// percent rounded to two decimals. The threshold is exclusive. A zero mean
// gives every record a deviation of zero. A summary record carrying the
// rounded mean is appended; it is never counted.
func (d *DeviationDetector) Apply(records []model.JoinedRecord, mean float64) DeviationResult {
	result := DeviationResult{Mean: mean}

	out := make([]model.JoinedRecord, 0, len(records)+1)
	for _, r := range records {
		if r.IsSummary {
			continue
		}
		dev := 0.0
		if mean != 0 {
			dev = round2((r.Consumption - mean) / mean * 100)
		}
		r.Flags.Deviation = &dev
		r.Flags.DeviationClass = d.classify(dev)
		out = append(out, r)
	}

	if len(out) == 0 {
		result.NoData = true
		return result
	}

	high := make(map[GroupCount]int)
	low := make(map[GroupCount]int)
	for _, r := range out {
		key := GroupCount{ObjectType: r.Type(), Category: r.Category()}
		switch r.Flags.DeviationClass {
		case model.DeviationHigh:
			result.High++
			high[key]++
		case model.DeviationLow:
			result.Low++
			low[key]++
		}
	}
	result.HighGroups = groupCounts(high)
	result.LowGroups = groupCounts(low)

	result.Records = append(out, summaryRecord(mean))
	return result
}

func (d *DeviationDetector) classify(dev float64) model.DeviationClass {
	switch {
	case dev > d.threshold:
		return model.DeviationHigh
	case dev < -d.threshold:
		return model.DeviationLow
	}
	return model.DeviationNone
}

func summaryRecord(mean float64) model.JoinedRecord {
	zero := 0.0
	return model.JoinedRecord{
		Reading:   model.Reading{Address: schema.SummaryAddress, Consumption: round2(mean)},
		Flags:     model.Flags{Deviation: &zero},
		IsSummary: true,
	}
}

func groupCounts(counts map[GroupCount]int) []GroupCount {
	out := make([]GroupCount, 0, len(counts))
	for key, n := range counts {
		key.Count = n
		out = append(out, key)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].ObjectType != out[j].ObjectType {
			return out[i].ObjectType < out[j].ObjectType
		}
		return out[i].Category < out[j].Category
	})
	return out
}

// FormatGroups renders grouped anomaly counts one per line. kind completes
// the "nothing found" message, e.g. "высокого потребления".
func FormatGroups(groups []GroupCount, kind string) string {
	if len(groups) == 0 {
		return fmt.Sprintf("Аномалий %s не обнаружено", kind)
	}
	lines := make([]string, len(groups))
	for i, g := range groups {
		lines[i] = fmt.Sprintf("- %s - %s - %d шт.", g.ObjectType, g.Category, g.Count)
	}
	return strings.Join(lines, "\n")
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
