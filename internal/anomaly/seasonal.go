// Package anomaly holds the three independent detectors: zero consumption
// in the heating season, repeated values over time and deviation from the
// slice mean. Each detector only writes its own fields of model.Flags.
package anomaly

import (
	"fmt"

	"github.com/heatcheck/internal/model"
	"github.com/heatcheck/internal/schema"
)

// HeatingSeason is a set of calendar months
type HeatingSeason map[int]bool

// NewHeatingSeason builds a season from month numbers. An empty list
// yields the default October to April season.
func NewHeatingSeason(months []int) (HeatingSeason, error) {
	if len(months) == 0 {
		months = schema.DefaultHeatingMonths
	}
	season := make(HeatingSeason, len(months))
	for _, m := range months {
		if m < 1 || m > 12 {
			return nil, fmt.Errorf("invalid heating season month %d", m)
		}
		season[m] = true
	}
	return season, nil
}

// Contains reports whether month falls inside the season
func (s HeatingSeason) Contains(month int) bool {
	return s[month]
}

// SeasonalSummary counts records with and without the zero-consumption flag
type SeasonalSummary struct {
	Flagged   int `json:"flagged"`
	Unflagged int `json:"unflagged"`
}

// MarkZeroInHeatingSeason flags records with zero consumption in a heating
// season month. Records without a month are never flagged. A missing
// consumption counts as zero.
func MarkZeroInHeatingSeason(records []model.JoinedRecord, season HeatingSeason) SeasonalSummary {
	var summary SeasonalSummary
	for i := range records {
		r := &records[i]
		if r.IsSummary {
			continue
		}
		r.Flags.ZeroInHeatingSeason = r.Consumption == 0 && r.Month != nil && season.Contains(*r.Month)
		if r.Flags.ZeroInHeatingSeason {
			summary.Flagged++
		} else {
			summary.Unflagged++
		}
	}
	return summary
}
