// Package join left-joins readings with the building registry on the
// normalized address and with monthly temperatures on the consumption period.
package join

import (
	"github.com/heatcheck/internal/dedup"
	"github.com/heatcheck/internal/model"
	"github.com/heatcheck/internal/normalize"
)

// DefaultLagMonths is how far a reading date is shifted back to find the
// month whose consumption it reports.
const DefaultLagMonths = 1

// Options controls the period join
type Options struct {
	LagMonths int
}

// Report counts join hits and misses
type Report struct {
	Readings              int  `json:"readings"`
	BuildingMatched       int  `json:"building_matched"`
	BuildingUnmatched     int  `json:"building_unmatched"`
	DuplicateBuildings    int  `json:"duplicate_buildings"`
	TemperatureSupplied   bool `json:"temperature_supplied"`
	TemperatureMatched    int  `json:"temperature_matched"`
	TemperatureUnmatched  int  `json:"temperature_unmatched"`
	DuplicateTemperatures int  `json:"duplicate_temperatures"`
	NoPeriod              int  `json:"no_period"`
}

// Join builds one joined record per reading, in reading order. A nil
// registry or temperature slice means the table was not supplied. Lookup
// tables are collapsed to their first record per key before joining, so a
// reading matches at most one building and one temperature.
func Join(readings []model.Reading, buildings []model.BuildingRecord, temps []model.TemperatureRecord, opts Options) ([]model.JoinedRecord, Report) {
	report := Report{Readings: len(readings), TemperatureSupplied: temps != nil}

	buildings, report.DuplicateBuildings = dedup.Buildings(buildings)
	byAddress := make(map[string]*model.BuildingRecord, len(buildings))
	for i := range buildings {
		byAddress[buildings[i].AddressKey] = &buildings[i]
	}

	temps, report.DuplicateTemperatures = dedup.Temperatures(temps)
	byPeriod := make(map[string]float64, len(temps))
	for _, t := range temps {
		byPeriod[t.PeriodKey] = t.TemperatureC
	}

	joined := make([]model.JoinedRecord, len(readings))
	for i, r := range readings {
		j := model.JoinedRecord{Reading: r}

		if b, ok := byAddress[r.AddressKey]; ok && r.AddressKey != "" {
			j.Building = b
			report.BuildingMatched++
		} else {
			report.BuildingUnmatched++
		}

		if r.Timestamp != nil {
			start := normalize.MonthStart(*r.Timestamp, opts.LagMonths)
			j.PeriodStart = &start
			j.PeriodKey = normalize.PeriodKey(start)
		} else {
			report.NoPeriod++
		}

		if report.TemperatureSupplied {
			if temp, ok := byPeriod[j.PeriodKey]; ok && j.PeriodKey != "" {
				j.Temperature = &temp
				report.TemperatureMatched++
			} else {
				report.TemperatureUnmatched++
			}
		}

		joined[i] = j
	}

	return joined, report
}

// WithTemperature returns the records that carry a temperature. It is the
// inner-join view used by temperature-dependent analysis.
func WithTemperature(records []model.JoinedRecord) []model.JoinedRecord {
	out := make([]model.JoinedRecord, 0, len(records))
	for _, r := range records {
		if r.Temperature != nil {
			out = append(out, r)
		}
	}
	return out
}
