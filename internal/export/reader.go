package export

import (
	"fmt"
	"io"
	"strings"

	"github.com/heatcheck/internal/ingest"
	"github.com/heatcheck/internal/model"
	"github.com/heatcheck/internal/normalize"
	"github.com/heatcheck/internal/schema"
)

// ParseFlags recovers the anomaly flags from an annotated table. The
// boolean flag columns are required; deviation columns are optional.
func ParseFlags(t *model.Table) ([]model.Flags, error) {
	if err := t.Require(FlagColumns...); err != nil {
		return nil, err
	}

	flags := make([]model.Flags, 0, t.Len())
	for i, row := range t.Rows {
		var f model.Flags
		columns := []struct {
			name string
			dst  *bool
		}{
			{schema.ZeroInHeatingSeason, &f.ZeroInHeatingSeason},
			{schema.RepeatType1, &f.Temporal1},
			{schema.RepeatType2, &f.Temporal2},
			{schema.RepeatType3, &f.Temporal3},
		}
		for _, col := range columns {
			value := t.Cell(row, col.name)
			b, err := parseBool(value)
			if err != nil {
				return nil, &model.FieldError{Row: i + 1, Column: col.name, Value: value, Reason: err.Error()}
			}
			*col.dst = b
		}

		f.Deviation = normalize.ParseNullableFloat(t.Cell(row, schema.Deviation))
		switch class := model.DeviationClass(t.Cell(row, schema.DeviationClass)); class {
		case model.DeviationHigh, model.DeviationLow:
			f.DeviationClass = class
		}
		flags = append(flags, f)
	}
	return flags, nil
}

// ReadAnnotated reads an exported table and its flags
func ReadAnnotated(name string, r io.Reader, enc ingest.Encoding) (*model.Table, []model.Flags, error) {
	t, err := ingest.ReadDelimited(name, r, enc)
	if err != nil {
		return nil, nil, err
	}
	flags, err := ParseFlags(t)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to parse flags of %s: %w", name, err)
	}
	return t, flags, nil
}

func parseBool(s string) (bool, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "true", "1", "да":
		return true, nil
	case "false", "0", "нет", "":
		return false, nil
	}
	return false, fmt.Errorf("not a boolean")
}

// MeterDetailHeader is the layout of the per-meter detail export
var MeterDetailHeader = []string{
	schema.Subdivision, schema.MeterID, schema.Address, schema.ObjectType, schema.ReadingDate, schema.Consumption,
}

// MeterDetail renders the readings of one meter with their subdivision,
// dates formatted as DD.MM.YYYY.
func MeterDetail(records []model.JoinedRecord, meterID string) [][]string {
	var rows [][]string
	for _, r := range records {
		if r.IsSummary || r.MeterID != meterID {
			continue
		}
		date := ""
		if r.Timestamp != nil {
			date = r.Timestamp.Format("02.01.2006")
		}
		rows = append(rows, []string{
			r.Subdivision(),
			r.MeterID,
			r.Address,
			r.Type(),
			date,
			formatFloat(r.Consumption),
		})
	}
	return rows
}
