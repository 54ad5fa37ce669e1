package join

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/heatcheck/internal/model"
	"github.com/heatcheck/internal/normalize"
)

func reading(meter, address string, ts *time.Time) model.Reading {
	return model.Reading{MeterID: meter, Address: address, AddressKey: normalize.AddressKey(address), Timestamp: ts}
}

func building(address, category string) model.BuildingRecord {
	return model.BuildingRecord{Address: address, AddressKey: normalize.AddressKey(address), Category: category}
}

func at(y int, m time.Month, d int) *time.Time {
	t := time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
	return &t
}

func TestJoinAddressCaseAndWhitespaceInsensitive(t *testing.T) {
	readings := []model.Reading{
		reading("M1", "  Main St 5 ", at(2024, 2, 10)),
		reading("M2", "Unknown 9", at(2024, 2, 10)),
	}
	buildings := []model.BuildingRecord{
		building("main st 5", "first"),
		building("MAIN ST 5", "second"),
	}

	joined, report := Join(readings, buildings, nil, Options{LagMonths: 1})
	require.Len(t, joined, 2)

	require.NotNil(t, joined[0].Building)
	assert.Equal(t, "first", joined[0].Category())
	assert.Equal(t, "  Main St 5 ", joined[0].Address, "display value is untouched")

	assert.Nil(t, joined[1].Building, "unmatched readings are retained")
	assert.Equal(t, "M2", joined[1].MeterID)

	assert.Equal(t, 1, report.BuildingMatched)
	assert.Equal(t, 1, report.BuildingUnmatched)
	assert.Equal(t, 1, report.DuplicateBuildings)
	assert.False(t, report.TemperatureSupplied)
}

func TestJoinPeriodShift(t *testing.T) {
	temps := []model.TemperatureRecord{
		{PeriodKey: "12-2023", TemperatureC: -15},
		{PeriodKey: "02-2024", TemperatureC: -7},
		{PeriodKey: "02-2024", TemperatureC: 99},
	}
	readings := []model.Reading{
		reading("M1", "a", at(2024, 1, 15)),
		reading("M1", "a", at(2024, 3, 31)),
		reading("M1", "a", at(2024, 5, 1)),
		reading("M1", "a", nil),
	}

	joined, report := Join(readings, nil, temps, Options{LagMonths: 1})
	require.Len(t, joined, 4)

	assert.Equal(t, "12-2023", joined[0].PeriodKey)
	require.NotNil(t, joined[0].Temperature)
	assert.Equal(t, -15.0, *joined[0].Temperature)

	assert.Equal(t, "02-2024", joined[1].PeriodKey, "31 March shifts to February")
	require.NotNil(t, joined[1].Temperature)
	assert.Equal(t, -7.0, *joined[1].Temperature)
	require.NotNil(t, joined[1].PeriodStart)
	assert.Equal(t, time.Date(2024, 2, 1, 0, 0, 0, 0, time.UTC), *joined[1].PeriodStart)

	assert.Equal(t, "04-2024", joined[2].PeriodKey)
	assert.Nil(t, joined[2].Temperature)

	assert.Equal(t, "", joined[3].PeriodKey)
	assert.Nil(t, joined[3].Temperature)

	assert.True(t, report.TemperatureSupplied)
	assert.Equal(t, 2, report.TemperatureMatched)
	assert.Equal(t, 2, report.TemperatureUnmatched)
	assert.Equal(t, 1, report.DuplicateTemperatures)
	assert.Equal(t, 1, report.NoPeriod)

	withTemp := WithTemperature(joined)
	assert.Len(t, withTemp, 2)
}

func TestJoinEmptyAddressNeverMatches(t *testing.T) {
	readings := []model.Reading{reading("M1", "  ", nil)}
	buildings := []model.BuildingRecord{{AddressKey: ""}}

	joined, report := Join(readings, buildings, nil, Options{})
	assert.Nil(t, joined[0].Building)
	assert.Equal(t, 1, report.BuildingUnmatched)
}

func TestJoinCoordinatesFallBackToRegistry(t *testing.T) {
	lat, lon := 55.75, 37.61
	b := building("a", "")
	b.Latitude, b.Longitude = &lat, &lon

	own := 60.0
	r1 := reading("M1", "a", nil)
	r2 := reading("M2", "a", nil)
	r2.Latitude = &own

	joined, _ := Join([]model.Reading{r1, r2}, []model.BuildingRecord{b}, nil, Options{})
	assert.Equal(t, 55.75, *joined[0].Lat())
	assert.Equal(t, 37.61, *joined[0].Lon())
	assert.Equal(t, 60.0, *joined[1].Lat())
}
