package anomaly

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/heatcheck/internal/model"
	"github.com/heatcheck/internal/schema"
)

func record(meter string, date string, value float64) model.JoinedRecord {
	r := model.JoinedRecord{Reading: model.Reading{MeterID: meter, Consumption: value}}
	if date != "" {
		ts, err := time.Parse("2006-01-02", date)
		if err != nil {
			panic(err)
		}
		r.Timestamp = &ts
		m := int(ts.Month())
		r.Month = &m
	}
	return r
}

func TestTemporalExamples(t *testing.T) {
	tests := []struct {
		name    string
		records []model.JoinedRecord
		want    [3]int
	}{
		{
			name:    "same reporting period",
			records: []model.JoinedRecord{record("M1", "2021-01-15", 10), record("M1", "2021-02-10", 10)},
			want:    [3]int{1, 0, 0},
		},
		{
			name:    "recurring annual value",
			records: []model.JoinedRecord{record("M1", "2020-03-10", 5), record("M1", "2021-03-10", 5)},
			want:    [3]int{0, 1, 0},
		},
		{
			name:    "coincidental match",
			records: []model.JoinedRecord{record("M1", "2019-01-01", 7), record("M1", "2022-11-20", 7)},
			want:    [3]int{0, 0, 1},
		},
		{
			name:    "different meters never pair",
			records: []model.JoinedRecord{record("M1", "2021-01-15", 10), record("M2", "2021-01-20", 10)},
			want:    [3]int{0, 0, 0},
		},
		{
			name:    "window boundary is inclusive",
			records: []model.JoinedRecord{record("M1", "2021-01-01", 3), record("M1", "2021-02-01", 3)},
			want:    [3]int{1, 0, 0},
		},
		{
			name: "annual repeat across an intervening reading",
			records: []model.JoinedRecord{
				record("M1", "2020-03-10", 5), record("M1", "2020-06-01", 5), record("M1", "2021-03-10", 5),
			},
			want: [3]int{0, 1, 1},
		},
		{
			name: "two interleaved annual repeats",
			records: []model.JoinedRecord{
				record("M1", "2020-03-10", 5), record("M1", "2020-07-01", 5),
				record("M1", "2021-03-10", 5), record("M1", "2021-07-01", 5),
			},
			want: [3]int{0, 2, 0},
		},
		{
			name:    "one day past the window",
			records: []model.JoinedRecord{record("M1", "2021-01-01", 3), record("M1", "2021-02-02", 3)},
			want:    [3]int{0, 0, 1},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			report := NewTemporalDetector(0).Mark(tt.records)
			assert.Equal(t, tt.want, [3]int{report.Type1, report.Type2, report.Type3})
		})
	}
}

func TestTemporalFlagsAndReport(t *testing.T) {
	records := []model.JoinedRecord{
		record("M1", "2021-02-10", 10),
		record("M1", "2021-01-15", 10),
		record("M1", "2022-01-15", 10),
		record("M1", "2021-05-01", 4),
		record("M1", "", 10),
	}
	records[0].Address = "ул. Ленина 5"
	records[0].ObjectType = "МКД"

	report := NewTemporalDetector(31).Mark(records)

	require.Len(t, report.Meters, 1)
	m := report.Meters[0]
	assert.Equal(t, "M1", m.MeterID)
	assert.Equal(t, "ул. Ленина 5", m.Address)
	assert.Equal(t, "МКД", m.ObjectType)
	assert.Equal(t, []float64{10}, m.Values)
	assert.Equal(t, []string{"15-01-2021", "10-02-2021", "15-01-2022"}, m.Dates)
	require.Len(t, m.Pairs, 2)
	assert.Equal(t, RepeatSamePeriod, m.Pairs[0].Type)
	assert.Equal(t, 26, m.Pairs[0].Days)
	assert.Equal(t, RepeatCoincidental, m.Pairs[1].Type)

	assert.True(t, records[0].Flags.Temporal1)
	assert.True(t, records[0].Flags.Temporal3)
	assert.True(t, records[1].Flags.Temporal1)
	assert.False(t, records[1].Flags.Temporal3)
	assert.True(t, records[2].Flags.Temporal3)
	assert.False(t, records[3].Flags.Any())
	assert.False(t, records[4].Flags.Any(), "readings without a date are skipped")

	got, ok := report.Meter("M1")
	assert.True(t, ok)
	assert.Equal(t, m, got)
	_, ok = report.Meter("M9")
	assert.False(t, ok)
}

func TestTemporalAnnualSkipsIntervening(t *testing.T) {
	records := []model.JoinedRecord{
		record("M1", "2020-03-10", 5),
		record("M1", "2020-06-01", 5),
		record("M1", "2021-03-10", 5),
	}

	report := NewTemporalDetector(DefaultWindowDays).Mark(records)

	require.Len(t, report.Meters, 1)
	pairs := report.Meters[0].Pairs
	require.Len(t, pairs, 2)
	assert.Equal(t, RepeatCoincidental, pairs[0].Type)
	assert.Equal(t, 83, pairs[0].Days)
	assert.Equal(t, RepeatAnnual, pairs[1].Type)
	assert.Equal(t, 365, pairs[1].Days)

	assert.True(t, records[0].Flags.Temporal2)
	assert.True(t, records[2].Flags.Temporal2)
	assert.False(t, records[1].Flags.Temporal2)
	assert.True(t, records[1].Flags.Temporal3)
	assert.False(t, records[2].Flags.Temporal3)
}

func TestTemporalPartition(t *testing.T) {
	dates := []string{
		"2020-01-10", "2020-01-25", "2020-03-10", "2021-01-10", "2021-03-10",
		"2021-06-01", "2022-01-10", "2022-02-05", "2023-09-30",
	}
	var records []model.JoinedRecord
	for i, d := range dates {
		records = append(records, record("M1", d, float64(i%3)))
		records = append(records, record("M2", d, 1))
	}

	report := NewTemporalDetector(DefaultWindowDays).Mark(records)

	groups := map[string]map[float64]int{}
	for _, r := range records {
		if groups[r.MeterID] == nil {
			groups[r.MeterID] = map[float64]int{}
		}
		groups[r.MeterID][r.Consumption]++
	}
	for _, r := range records {
		if groups[r.MeterID][r.Consumption] > 1 {
			assert.True(t, r.Flags.Temporal1 || r.Flags.Temporal2 || r.Flags.Temporal3,
				"%s %s belongs to a pair", r.MeterID, r.Timestamp.Format("2006-01-02"))
		}
	}

	perMeter := 0
	for _, m := range report.Meters {
		assert.Equal(t, len(m.Pairs), m.Type1+m.Type2+m.Type3)
		perMeter += len(m.Pairs)

		seen := map[[2]time.Time]bool{}
		for _, p := range m.Pairs {
			key := [2]time.Time{p.First, p.Second}
			assert.False(t, seen[key], "pair %v counted twice", key)
			seen[key] = true

			sameDay := p.First.Month() == p.Second.Month() && p.First.Day() == p.Second.Day()
			switch p.Type {
			case RepeatSamePeriod:
				assert.LessOrEqual(t, p.Days, DefaultWindowDays)
			case RepeatAnnual:
				assert.Greater(t, p.Days, DefaultWindowDays)
				assert.True(t, sameDay)
			case RepeatCoincidental:
				assert.Greater(t, p.Days, DefaultWindowDays)
				assert.False(t, sameDay)
			}
		}
	}
	assert.Equal(t, perMeter, report.Total())

	m2, ok := report.Meter("M2")
	require.True(t, ok)
	assert.Equal(t, [3]int{2, 1, 2}, [3]int{m2.Type1, m2.Type2, m2.Type3})
}

func TestRepeatTypeTexts(t *testing.T) {
	for _, rt := range []RepeatType{RepeatSamePeriod, RepeatAnnual, RepeatCoincidental} {
		assert.NotEmpty(t, rt.Description())
		assert.Contains(t, rt.Recommendation(), "Возможные причины")
	}
	assert.Empty(t, RepeatType(9).Description())
}

func TestDeviationExample(t *testing.T) {
	records := []model.JoinedRecord{record("M1", "", 100), record("M2", "", 150), record("M3", "", 200)}

	mean, ok := Mean(records)
	require.True(t, ok)
	assert.Equal(t, 150.0, mean)

	result := NewDeviationDetector(25).Apply(records, mean)
	require.Len(t, result.Records, 4)

	want := []float64{-33.33, 0, 33.33}
	for i, w := range want {
		require.NotNil(t, result.Records[i].Flags.Deviation)
		assert.Equal(t, w, *result.Records[i].Flags.Deviation)
	}
	assert.Equal(t, model.DeviationLow, result.Records[0].Flags.DeviationClass)
	assert.Equal(t, model.DeviationNone, result.Records[1].Flags.DeviationClass)
	assert.Equal(t, model.DeviationHigh, result.Records[2].Flags.DeviationClass)
	assert.Equal(t, 1, result.High)
	assert.Equal(t, 1, result.Low)
	assert.Len(t, result.Anomalies(), 2)

	summary := result.Records[3]
	assert.True(t, summary.IsSummary)
	assert.Equal(t, schema.SummaryAddress, summary.Address)
	assert.Equal(t, 150.0, summary.Consumption)
	assert.Equal(t, 0.0, *summary.Flags.Deviation)

	assert.Nil(t, records[0].Flags.Deviation, "input slice is not modified")
}

func TestDeviationThresholdIsExclusive(t *testing.T) {
	records := []model.JoinedRecord{record("M1", "", 75), record("M2", "", 125)}

	result := NewDeviationDetector(25).Apply(records, 100)
	assert.Equal(t, 25.0, *result.Records[1].Flags.Deviation)
	assert.Equal(t, -25.0, *result.Records[0].Flags.Deviation)
	assert.Zero(t, result.High)
	assert.Zero(t, result.Low)
}

func TestDeviationZeroMean(t *testing.T) {
	records := []model.JoinedRecord{record("M1", "", 0), record("M2", "", 0)}

	mean, ok := Mean(records)
	require.True(t, ok)
	result := NewDeviationDetector(25).Apply(records, mean)
	for _, r := range result.Records {
		assert.Equal(t, 0.0, *r.Flags.Deviation)
	}
	assert.Zero(t, result.High+result.Low)
}

func TestDeviationNoData(t *testing.T) {
	_, ok := Mean(nil)
	assert.False(t, ok)

	result := NewDeviationDetector(25).Apply(nil, 0)
	assert.True(t, result.NoData)
	assert.Empty(t, result.Records)
}

func TestDeviationSummaryNeverReaggregated(t *testing.T) {
	records := []model.JoinedRecord{record("M1", "", 100), record("M2", "", 300)}
	d := NewDeviationDetector(25)
	first := d.Apply(records, 200)

	mean, ok := Mean(first.Records)
	require.True(t, ok)
	assert.Equal(t, 200.0, mean)

	second := d.Apply(first.Records, mean)
	assert.Len(t, second.Records, 3)
}

func TestDeviationGroups(t *testing.T) {
	building := func(category string) *model.BuildingRecord {
		return &model.BuildingRecord{Category: category}
	}
	records := []model.JoinedRecord{
		record("M1", "", 10), record("M2", "", 10), record("M3", "", 100), record("M4", "", 200),
	}
	records[0].ObjectType, records[0].Building = "МКД", building("Жилое")
	records[1].ObjectType, records[1].Building = "МКД", building("Жилое")
	records[3].ObjectType, records[3].Building = "Школа", building("Социальное")

	result := NewDeviationDetector(25).Apply(records, 80)
	assert.Equal(t, []GroupCount{{ObjectType: "МКД", Category: "Жилое", Count: 2}}, result.LowGroups)
	assert.Equal(t, []GroupCount{{ObjectType: "Школа", Category: "Социальное", Count: 1}}, result.HighGroups)

	assert.Equal(t, "- МКД - Жилое - 2 шт.", FormatGroups(result.LowGroups, "низкого потребления"))
	assert.Equal(t, "Аномалий высокого потребления не обнаружено", FormatGroups(nil, "высокого потребления"))
}

func TestComplete(t *testing.T) {
	floors, built, area := 5, 1970, 1200.0
	full := record("M1", "2024-01-10", 1)
	year := 2024
	full.Year = &year
	full.Building = &model.BuildingRecord{Floors: &floors, BuiltYear: &built, Area: &area}
	partial := record("M2", "2024-01-10", 1)

	kept, dropped := Complete([]model.JoinedRecord{full, partial})
	require.Len(t, kept, 1)
	assert.Equal(t, "M1", kept[0].MeterID)
	assert.Equal(t, 1, dropped)
}

func TestZeroInHeatingSeason(t *testing.T) {
	season, err := NewHeatingSeason(nil)
	require.NoError(t, err)

	november := record("M1", "2023-11-15", 0)
	july := record("M2", "2023-07-15", 0)
	nonZero := record("M3", "2023-11-15", 3)
	noMonth := record("M4", "", 0)
	records := []model.JoinedRecord{november, july, nonZero, noMonth}

	summary := MarkZeroInHeatingSeason(records, season)
	assert.True(t, records[0].Flags.ZeroInHeatingSeason)
	assert.False(t, records[1].Flags.ZeroInHeatingSeason)
	assert.False(t, records[2].Flags.ZeroInHeatingSeason)
	assert.False(t, records[3].Flags.ZeroInHeatingSeason)
	assert.Equal(t, SeasonalSummary{Flagged: 1, Unflagged: 3}, summary)
}

func TestNewHeatingSeason(t *testing.T) {
	season, err := NewHeatingSeason([]int{12, 1})
	require.NoError(t, err)
	assert.True(t, season.Contains(12))
	assert.False(t, season.Contains(11))

	_, err = NewHeatingSeason([]int{13})
	assert.Error(t, err)
}
