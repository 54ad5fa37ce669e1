package pipeline

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/heatcheck/internal/model"
)

func intp(v int) *int { return &v }

func floatp(v float64) *float64 { return &v }

func TestFilterMatch(t *testing.T) {
	rec := model.JoinedRecord{
		Reading: model.Reading{
			MeterID:      "M1",
			District:     "Центральный",
			ObjectType:   "Многоквартирный Дом",
			Year:         intp(2024),
			Month:        intp(1),
			HotWaterKind: "ГВС-ИТП",
			HotWaterITP:  true,
		},
		Building: &model.BuildingRecord{Floors: intp(5), Area: floatp(1200), BuiltYear: intp(1970)},
	}

	tests := []struct {
		name   string
		filter Filter
		want   bool
	}{
		{"empty filter", Filter{}, true},
		{"year", Filter{Year: intp(2024)}, true},
		{"other year", Filter{Year: intp(2023)}, false},
		{"month", Filter{Month: intp(2)}, false},
		{"meter", Filter{MeterID: "M1"}, true},
		{"district case-insensitive", Filter{Districts: []string{"центральный"}}, true},
		{"other district", Filter{Districts: []string{"Северный"}}, false},
		{"object type", Filter{ObjectTypes: []string{"многоквартирный дом", "Школа"}}, true},
		{"floors in range", Filter{Floors: IntRange{Min: intp(5), Max: intp(9)}}, true},
		{"floors below", Filter{Floors: IntRange{Min: intp(6)}}, false},
		{"area open max", Filter{Area: FloatRange{Min: floatp(1000)}}, true},
		{"area above", Filter{Area: FloatRange{Max: floatp(1000)}}, false},
		{"built year", Filter{BuiltYear: IntRange{Max: intp(1970)}}, true},
		{"hot water yes", Filter{HotWater: HotWaterYes}, true},
		{"hot water no", Filter{HotWater: HotWaterNo}, false},
		{"zero only", Filter{ZeroOnly: true}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.filter.Match(rec))
		})
	}
}

func TestFilterRangeExcludesMissingValues(t *testing.T) {
	rec := model.JoinedRecord{Reading: model.Reading{MeterID: "M1"}}

	assert.True(t, Filter{}.Match(rec))
	assert.False(t, Filter{Floors: IntRange{Min: intp(1)}}.Match(rec))
	assert.False(t, Filter{Area: FloatRange{Max: floatp(10)}}.Match(rec))
}

func TestFilterNeverMatchesSummary(t *testing.T) {
	assert.False(t, Filter{}.Match(model.JoinedRecord{IsSummary: true}))
}

func TestParseHotWaterFilter(t *testing.T) {
	assert.Equal(t, HotWaterYes, ParseHotWaterFilter("Да"))
	assert.Equal(t, HotWaterYes, ParseHotWaterFilter("yes"))
	assert.Equal(t, HotWaterNo, ParseHotWaterFilter("нет"))
	assert.Equal(t, HotWaterAll, ParseHotWaterFilter("Все"))
	assert.Equal(t, HotWaterAll, ParseHotWaterFilter(""))
}
