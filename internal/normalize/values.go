package normalize

import (
	"errors"
	"math"
	"strconv"
	"strings"
	"time"
)

var errNotFinite = errors.New("value is not a finite number")

// ParseFloat converts a locale-formatted number to float64. The comma decimal
// separator is replaced by a dot; spaces used as thousands separators are dropped.
func ParseFloat(s string) (float64, error) {
	trimmed := strings.TrimSpace(s)
	trimmed = strings.NewReplacer(" ", "", " ", "", " ", "").Replace(trimmed)
	trimmed = strings.ReplaceAll(trimmed, ",", ".")
	f, err := strconv.ParseFloat(trimmed, 64)
	if err != nil {
		return 0, err
	}
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, errNotFinite
	}
	return f, nil
}

// ParseNullableFloat returns nil for blank or unparseable values
func ParseNullableFloat(s string) *float64 {
	if IsBlank(s) {
		return nil
	}
	f, err := ParseFloat(s)
	if err != nil {
		return nil
	}
	return &f
}

// ParseNullableInt parses an integer column with nullable semantics: blank,
// unparseable or non-integral values become nil, never zero. Integral floats
// such as "5.0" or "5,0" are accepted.
func ParseNullableInt(s string) *int {
	if IsBlank(s) {
		return nil
	}
	trimmed := strings.TrimSpace(s)
	if i, err := strconv.Atoi(trimmed); err == nil {
		return &i
	}
	f, err := ParseFloat(trimmed)
	if err != nil || f != math.Trunc(f) || math.Abs(f) > math.MaxInt32 {
		return nil
	}
	i := int(f)
	return &i
}

// dateFormats are tried in order; day-first layouts come before month-first
// ones because the source files are day-first.
var dateFormats = []string{
	"2006-01-02",
	"2006-01-02 15:04:05",
	"2006-01-02T15:04:05",
	"2006-01-02T15:04:05Z07:00",
	"2006-01-02 15:04",
	"02.01.2006",
	"02.01.2006 15:04:05",
	"02.01.2006 15:04",
	"2.1.2006",
	"02.01.06",
	"02/01/2006",
	"2/1/2006",
	"02/01/2006 15:04:05",
	"01-02-06", // excelize rendering of the built-in date format
	"20060102",
}

// Excel serial day numbers are counted from this date
var excelEpoch = time.Date(1899, 12, 30, 0, 0, 0, 0, time.UTC)

// Serial numbers outside [minExcelSerial, maxExcelSerial) are not dates.
// 20000 is 1954-10-03, older than any meter reading or registry entry.
const (
	minExcelSerial = 20000
	maxExcelSerial = 2958466
)

// ParseDate parses a date in one of the known formats and returns nil when
// none matches. Spreadsheet serial day numbers are understood when they fall
// in a plausible range, so a stray small number stays null.
func ParseDate(s string) *time.Time {
	if IsBlank(s) {
		return nil
	}
	trimmed := strings.TrimSpace(s)

	for _, format := range dateFormats {
		if t, err := time.Parse(format, trimmed); err == nil {
			return &t
		}
	}

	if serial, err := strconv.ParseFloat(trimmed, 64); err == nil && serial >= minExcelSerial && serial < maxExcelSerial {
		t := excelEpoch.AddDate(0, 0, int(serial))
		return &t
	}

	return nil
}

// ParseYear parses a construction year given either as a plain year or as a date
func ParseYear(s string) *int {
	if IsBlank(s) {
		return nil
	}
	trimmed := strings.TrimSpace(s)
	if y := ParseNullableInt(trimmed); y != nil && *y >= 1000 && *y <= 9999 {
		return y
	}
	if t := ParseDate(trimmed); t != nil {
		y := t.Year()
		return &y
	}
	return nil
}

var periodFormats = []string{
	"01-2006",
	"1-2006",
	"01.2006",
	"1.2006",
	"01/2006",
	"2006-01",
	"2006.01",
}

// ParsePeriodKey parses a month reference into the canonical "MM-YYYY" key.
// Full dates are accepted and reduced to their month.
func ParsePeriodKey(s string) (string, bool) {
	if IsBlank(s) {
		return "", false
	}
	trimmed := strings.TrimSpace(s)
	for _, format := range periodFormats {
		if t, err := time.Parse(format, trimmed); err == nil {
			return PeriodKey(t), true
		}
	}
	if t := ParseDate(trimmed); t != nil {
		return PeriodKey(*t), true
	}
	return "", false
}

// PeriodKey formats the month of t as "MM-YYYY"
func PeriodKey(t time.Time) string {
	return t.Format("01-2006")
}

// MonthStart returns the first day of the month lagMonths before t. Month
// arithmetic starts from the first of the month, so 31 March minus one month
// is February rather than early March.
func MonthStart(t time.Time, lagMonths int) time.Time {
	return time.Date(t.Year(), t.Month()-time.Month(lagMonths), 1, 0, 0, 0, 0, time.UTC)
}
