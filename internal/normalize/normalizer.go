package normalize

import (
	"fmt"
	"strings"

	"github.com/heatcheck/internal/model"
	"github.com/heatcheck/internal/schema"
)

// Options controls how raw tables are normalized
type Options struct {
	// ReadingAddressColumn and RegistryAddressColumn name the join key columns.
	ReadingAddressColumn  string
	RegistryAddressColumn string

	// TitleCaseObjectType rewrites object types in title case for display.
	TitleCaseObjectType bool

	// MaxErrors caps the sample of field errors kept in a report.
	MaxErrors int
}

// DefaultOptions returns the options matching the source file layout
func DefaultOptions() Options {
	return Options{
		ReadingAddressColumn:  schema.Address,
		RegistryAddressColumn: schema.Address,
		MaxErrors:             50,
	}
}

// Report summarizes what normalization did to one input table
type Report struct {
	Input   string             `json:"input"`
	Rows    int                `json:"rows"`
	Kept    int                `json:"kept"`
	Dropped int                `json:"dropped"`
	Altered int                `json:"altered"`
	Nulled  map[string]int     `json:"nulled,omitempty"`
	Derived map[string]int     `json:"derived,omitempty"`
	Errors  []model.FieldError `json:"errors,omitempty"`

	maxErrors  int
	rowAltered bool
}

func newReport(input string, rows, maxErrors int) *Report {
	return &Report{
		Input:     input,
		Rows:      rows,
		Nulled:    make(map[string]int),
		Derived:   make(map[string]int),
		maxErrors: maxErrors,
	}
}

// fieldError records a cell that could not be parsed and was nulled
func (r *Report) fieldError(row int, column, value, reason string) {
	r.Nulled[column]++
	r.rowAltered = true
	if len(r.Errors) < r.maxErrors {
		r.Errors = append(r.Errors, model.FieldError{Row: row, Column: column, Value: value, Reason: reason})
	}
}

func (r *Report) derived(column string) {
	r.Derived[column]++
	r.rowAltered = true
}

func (r *Report) endRow(kept bool) {
	if kept {
		r.Kept++
		if r.rowAltered {
			r.Altered++
		}
	} else {
		r.Dropped++
	}
	r.rowAltered = false
}

// Normalizer converts raw tables into typed records. It fails soft: a bad
// cell is nulled and reported, only missing required columns abort.
type Normalizer struct {
	opts Options
}

// New creates a normalizer. Empty address columns fall back to the defaults.
func New(opts Options) *Normalizer {
	defaults := DefaultOptions()
	if opts.ReadingAddressColumn == "" {
		opts.ReadingAddressColumn = defaults.ReadingAddressColumn
	}
	if opts.RegistryAddressColumn == "" {
		opts.RegistryAddressColumn = defaults.RegistryAddressColumn
	}
	if opts.MaxErrors <= 0 {
		opts.MaxErrors = defaults.MaxErrors
	}
	return &Normalizer{opts: opts}
}

// Readings normalizes a readings table. Fully blank rows are dropped; every
// other row is kept even when its fields had to be nulled.
func (n *Normalizer) Readings(t *model.Table) ([]model.Reading, *Report, error) {
	required := []string{schema.MeterID, n.opts.ReadingAddressColumn, schema.ReadingDate, schema.Consumption}
	if err := t.Require(required...); err != nil {
		return nil, nil, err
	}

	report := newReport(t.Name, t.Len(), n.opts.MaxErrors)
	hasYear := t.Has(schema.Year)
	hasMonth := t.Has(schema.Month)
	readings := make([]model.Reading, 0, t.Len())

	for i, row := range t.Rows {
		rowNum := i + 1
		if blankRow(row) {
			report.endRow(false)
			continue
		}

		r := model.Reading{
			SourceRow:    rowNum,
			MeterID:      t.Cell(row, schema.MeterID),
			Address:      t.Cell(row, n.opts.ReadingAddressColumn),
			District:     t.Cell(row, schema.District),
			ObjectType:   ObjectType(t.Cell(row, schema.ObjectType), n.opts.TitleCaseObjectType),
			HotWaterKind: t.Cell(row, schema.HotWaterKind),
			Raw:          padRow(row, len(t.Header)),
		}
		r.AddressKey = AddressKey(r.Address)
		r.HotWaterITP = IsHotWaterITP(r.HotWaterKind)

		if t.Has(schema.SimplifiedAddress) {
			simplified, filled := SimplifiedAddress(t.Cell(row, schema.SimplifiedAddress))
			r.SimplifiedAddress = simplified
			if filled {
				report.derived(schema.SimplifiedAddress)
			}
		}

		rawDate := t.Cell(row, schema.ReadingDate)
		r.Timestamp = ParseDate(rawDate)
		if r.Timestamp == nil {
			report.fieldError(rowNum, schema.ReadingDate, rawDate, reasonFor(rawDate, "unrecognised date"))
		}

		rawConsumption := t.Cell(row, schema.Consumption)
		if c, err := ParseFloat(rawConsumption); err == nil && !IsBlank(rawConsumption) {
			r.Consumption = c
		} else {
			r.ConsumptionMissing = true
			report.fieldError(rowNum, schema.Consumption, rawConsumption, reasonFor(rawConsumption, "not a number"))
		}

		if hasYear {
			r.Year = n.intField(report, rowNum, schema.Year, t.Cell(row, schema.Year))
		} else if r.Timestamp != nil {
			y := r.Timestamp.Year()
			r.Year = &y
			report.derived(schema.Year)
		}

		if hasMonth {
			r.Month = n.monthField(report, rowNum, t.Cell(row, schema.Month))
		} else if r.Timestamp != nil {
			m := int(r.Timestamp.Month())
			r.Month = &m
			report.derived(schema.Month)
		}

		r.Latitude = n.floatField(report, rowNum, schema.Latitude, t.Cell(row, schema.Latitude))
		r.Longitude = n.floatField(report, rowNum, schema.Longitude, t.Cell(row, schema.Longitude))

		readings = append(readings, r)
		report.endRow(true)
	}

	return readings, report, nil
}

// Buildings normalizes a building registry. Rows without an address cannot
// be joined and are dropped.
func (n *Normalizer) Buildings(t *model.Table) ([]model.BuildingRecord, *Report, error) {
	if err := t.Require(n.opts.RegistryAddressColumn); err != nil {
		return nil, nil, err
	}

	report := newReport(t.Name, t.Len(), n.opts.MaxErrors)
	buildings := make([]model.BuildingRecord, 0, t.Len())

	for i, row := range t.Rows {
		rowNum := i + 1
		address := t.Cell(row, n.opts.RegistryAddressColumn)
		if IsBlank(address) {
			report.endRow(false)
			continue
		}

		b := model.BuildingRecord{
			SourceRow:    rowNum,
			Address:      address,
			AddressKey:   AddressKey(address),
			ObjectType:   ObjectType(t.Cell(row, schema.ObjectType), n.opts.TitleCaseObjectType),
			Category:     t.Cell(row, schema.Category),
			HotWaterKind: t.Cell(row, schema.HotWaterKind),
			Raw:          padRow(row, len(t.Header)),
		}

		b.Floors = n.intField(report, rowNum, schema.Floors, t.Cell(row, schema.Floors))
		b.Area = n.floatField(report, rowNum, schema.Area, t.Cell(row, schema.Area))

		rawBuilt := t.Cell(row, schema.BuiltDate)
		b.BuiltYear = ParseYear(rawBuilt)
		if b.BuiltYear == nil && !IsBlank(rawBuilt) {
			report.fieldError(rowNum, schema.BuiltDate, rawBuilt, "unrecognised year")
		}

		b.Latitude = n.floatField(report, rowNum, schema.Latitude, t.Cell(row, schema.Latitude))
		b.Longitude = n.floatField(report, rowNum, schema.Longitude, t.Cell(row, schema.Longitude))

		buildings = append(buildings, b)
		report.endRow(true)
	}

	return buildings, report, nil
}

// Temperatures normalizes a monthly temperature sheet. A row is only useful
// with both a period and a temperature, so rows missing either are dropped.
func (n *Normalizer) Temperatures(t *model.Table) ([]model.TemperatureRecord, *Report, error) {
	if err := t.Require(schema.TemperatureRequired...); err != nil {
		return nil, nil, err
	}

	report := newReport(t.Name, t.Len(), n.opts.MaxErrors)
	temps := make([]model.TemperatureRecord, 0, t.Len())

	for i, row := range t.Rows {
		rowNum := i + 1
		if blankRow(row) {
			report.endRow(false)
			continue
		}

		rawPeriod := t.Cell(row, schema.TemperaturePeriod)
		key, ok := ParsePeriodKey(rawPeriod)
		if !ok {
			report.fieldError(rowNum, schema.TemperaturePeriod, rawPeriod, reasonFor(rawPeriod, "unrecognised month"))
			report.endRow(false)
			continue
		}

		rawTemp := t.Cell(row, schema.Temperature)
		temp, err := ParseFloat(rawTemp)
		if err != nil || IsBlank(rawTemp) {
			report.fieldError(rowNum, schema.Temperature, rawTemp, reasonFor(rawTemp, "not a number"))
			report.endRow(false)
			continue
		}

		temps = append(temps, model.TemperatureRecord{SourceRow: rowNum, PeriodKey: key, TemperatureC: temp})
		report.endRow(true)
	}

	return temps, report, nil
}

func (n *Normalizer) intField(report *Report, row int, column, raw string) *int {
	if IsBlank(raw) {
		return nil
	}
	v := ParseNullableInt(raw)
	if v == nil {
		report.fieldError(row, column, raw, "not an integer")
	}
	return v
}

func (n *Normalizer) monthField(report *Report, row int, raw string) *int {
	m := n.intField(report, row, schema.Month, raw)
	if m != nil && (*m < 1 || *m > 12) {
		report.fieldError(row, schema.Month, raw, fmt.Sprintf("month %d out of range", *m))
		return nil
	}
	return m
}

func (n *Normalizer) floatField(report *Report, row int, column, raw string) *float64 {
	if IsBlank(raw) {
		return nil
	}
	v := ParseNullableFloat(raw)
	if v == nil {
		report.fieldError(row, column, raw, "not a number")
	}
	return v
}

func reasonFor(raw, invalid string) string {
	if IsBlank(raw) {
		return "empty"
	}
	return invalid
}

func blankRow(row []string) bool {
	for _, cell := range row {
		if strings.TrimSpace(cell) != "" {
			return false
		}
	}
	return true
}

// padRow copies row and pads it to width so raw cells stay aligned with the header
func padRow(row []string, width int) []string {
	if width < len(row) {
		width = len(row)
	}
	out := make([]string, width)
	copy(out, row)
	return out
}
