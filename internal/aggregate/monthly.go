// Package aggregate resamples joined readings to monthly series for charting.
package aggregate

import (
	"sort"
	"time"

	"github.com/heatcheck/internal/model"
)

// Point is one calendar month of a series
type Point struct {
	Month       string    `json:"month"` // YYYY-MM
	Start       time.Time `json:"start"`
	HasData     bool      `json:"has_data"`
	Readings    int       `json:"readings"`
	Consumption *float64  `json:"consumption,omitempty"` // mean
	Temperature *float64  `json:"temperature,omitempty"` // mean
}

// Options controls the resampling
type Options struct {
	// RequireTemperature drops records without a joined temperature.
	RequireTemperature bool

	// From and To clip the series to whole months, both inclusive.
	From *time.Time
	To   *time.Time
}

type bucket struct {
	sum, tempSum float64
	n, tempN     int
}

// Monthly aggregates records into an ordered monthly series keyed by the
// consumption period. Months between the first and last data point that
// carry no records are emitted with HasData false. Summary records and
// records without a period are ignored.
func Monthly(records []model.JoinedRecord, opts Options) []Point {
	var from, to time.Time
	if opts.From != nil {
		from = monthOf(*opts.From)
	}
	if opts.To != nil {
		to = monthOf(*opts.To)
	}

	buckets := make(map[time.Time]*bucket)
	for _, r := range records {
		if r.IsSummary || r.PeriodStart == nil {
			continue
		}
		if opts.RequireTemperature && r.Temperature == nil {
			continue
		}
		month := monthOf(*r.PeriodStart)
		if (opts.From != nil && month.Before(from)) || (opts.To != nil && month.After(to)) {
			continue
		}

		b, ok := buckets[month]
		if !ok {
			b = &bucket{}
			buckets[month] = b
		}
		b.sum += r.Consumption
		b.n++
		if r.Temperature != nil {
			b.tempSum += *r.Temperature
			b.tempN++
		}
	}

	if len(buckets) == 0 {
		return nil
	}

	months := make([]time.Time, 0, len(buckets))
	for m := range buckets {
		months = append(months, m)
	}
	sort.Slice(months, func(i, j int) bool { return months[i].Before(months[j]) })

	var series []Point
	for m := months[0]; !m.After(months[len(months)-1]); m = m.AddDate(0, 1, 0) {
		p := Point{Month: m.Format("2006-01"), Start: m}
		if b, ok := buckets[m]; ok {
			p.HasData = true
			p.Readings = b.n
			mean := b.sum / float64(b.n)
			p.Consumption = &mean
			if b.tempN > 0 {
				temp := b.tempSum / float64(b.tempN)
				p.Temperature = &temp
			}
		}
		series = append(series, p)
	}
	return series
}

// ForMeter returns the records of one meter, in input order
func ForMeter(records []model.JoinedRecord, meterID string) []model.JoinedRecord {
	var out []model.JoinedRecord
	for _, r := range records {
		if r.MeterID == meterID && !r.IsSummary {
			out = append(out, r)
		}
	}
	return out
}

// Meters returns the distinct meter IDs in sorted order
func Meters(records []model.JoinedRecord) []string {
	seen := make(map[string]bool)
	var out []string
	for _, r := range records {
		if r.IsSummary || r.MeterID == "" || seen[r.MeterID] {
			continue
		}
		seen[r.MeterID] = true
		out = append(out, r.MeterID)
	}
	sort.Strings(out)
	return out
}

func monthOf(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, time.UTC)
}
