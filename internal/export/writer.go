// Package export writes annotated tables back out as delimited text in the
// column vocabulary of the source files, and reads them back in.
package export

import (
	"encoding/csv"
	"fmt"
	"io"
	"strconv"

	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/charmap"
	"golang.org/x/text/transform"

	"github.com/heatcheck/internal/ingest"
	"github.com/heatcheck/internal/model"
	"github.com/heatcheck/internal/normalize"
	"github.com/heatcheck/internal/schema"
)

// derivedColumns are recomputed on every run; copies found in the input header are dropped
var derivedColumns = map[string]bool{
	schema.Temperature:         true,
	schema.ConsumptionPeriod:   true,
	schema.HotWaterITP:         true,
	schema.ZeroInHeatingSeason: true,
	schema.RepeatType1:         true,
	schema.RepeatType2:         true,
	schema.RepeatType3:         true,
	schema.Deviation:           true,
	schema.DeviationClass:      true,
}

// FlagColumns are the boolean anomaly columns, in output order
var FlagColumns = []string{
	schema.ZeroInHeatingSeason,
	schema.RepeatType1,
	schema.RepeatType2,
	schema.RepeatType3,
}

// Options controls the annotated table layout
type Options struct {
	Encoding         ingest.Encoding
	IncludeDeviation bool
}

// Layout maps output columns to their sources
type Layout struct {
	Header        []string
	readingCols   []int // index into the reading header
	registryCols  []int // index into the registry header
	deviationCols bool
}

// NewLayout builds the output layout: the reading columns verbatim, then the
// registry columns the readings lack, then the derived columns.
func NewLayout(readingHeader, registryHeader []string, includeDeviation bool) *Layout {
	l := &Layout{deviationCols: includeDeviation}
	seen := make(map[string]bool)

	for i, col := range readingHeader {
		if derivedColumns[col] || seen[col] {
			continue
		}
		seen[col] = true
		l.Header = append(l.Header, col)
		l.readingCols = append(l.readingCols, i)
	}
	for i, col := range registryHeader {
		if derivedColumns[col] || seen[col] {
			continue
		}
		seen[col] = true
		l.Header = append(l.Header, col)
		l.registryCols = append(l.registryCols, i)
	}

	l.Header = append(l.Header, schema.Temperature, schema.ConsumptionPeriod, schema.HotWaterITP)
	l.Header = append(l.Header, FlagColumns...)
	if includeDeviation {
		l.Header = append(l.Header, schema.Deviation, schema.DeviationClass)
	}
	return l
}

// Row renders one record in layout order
func (l *Layout) Row(r model.JoinedRecord) []string {
	if r.IsSummary {
		return l.summaryRow(r)
	}

	row := make([]string, 0, len(l.Header))

	for _, i := range l.readingCols {
		row = append(row, cell(r.Raw, i))
	}
	for _, i := range l.registryCols {
		if r.Building == nil {
			row = append(row, "")
			continue
		}
		row = append(row, cell(r.Building.Raw, i))
	}

	temp := ""
	if r.Temperature != nil {
		temp = formatFloat(*r.Temperature)
	}
	row = append(row,
		temp,
		r.PeriodKey,
		normalize.YesNo(r.HotWater()),
		boolCell(r.Flags.ZeroInHeatingSeason),
		boolCell(r.Flags.Temporal1),
		boolCell(r.Flags.Temporal2),
		boolCell(r.Flags.Temporal3),
	)
	if l.deviationCols {
		row = append(row, deviationCell(r.Flags.Deviation), string(r.Flags.DeviationClass))
	}
	return row
}

// summaryRow fills only the address, consumption and deviation cells
func (l *Layout) summaryRow(r model.JoinedRecord) []string {
	row := make([]string, len(l.Header))
	for k, col := range l.Header {
		switch col {
		case schema.Address:
			row[k] = r.Address
		case schema.Consumption:
			row[k] = formatFloat(r.Consumption)
		case schema.Deviation:
			row[k] = deviationCell(r.Flags.Deviation)
		}
	}
	return row
}

// Write renders records as delimited text. CP1251 output replaces
// characters the code page lacks instead of failing.
func Write(w io.Writer, layout *Layout, records []model.JoinedRecord, enc ingest.Encoding) error {
	out, err := newEncoder(w, enc)
	if err != nil {
		return err
	}
	return writeEncoded(out, layout, records)
}

type nopWriteCloser struct {
	io.Writer
}

func (nopWriteCloser) Close() error { return nil }

// newEncoder wraps w so that UTF-8 text written to it arrives in enc
func newEncoder(w io.Writer, enc ingest.Encoding) (io.WriteCloser, error) {
	switch enc {
	case ingest.EncodingCP1251:
		return transform.NewWriter(w, encoding.ReplaceUnsupported(charmap.Windows1251.NewEncoder())), nil
	case ingest.EncodingUTF8, ingest.EncodingAuto, "":
		return nopWriteCloser{w}, nil
	}
	return nil, fmt.Errorf("unsupported export encoding %q", enc)
}

// writeEncoded writes the table and always closes out, also on failure
func writeEncoded(out io.WriteCloser, layout *Layout, records []model.JoinedRecord) (err error) {
	defer func() {
		if cerr := out.Close(); cerr != nil && err == nil {
			err = fmt.Errorf("failed to encode export: %w", cerr)
		}
	}()

	writer := csv.NewWriter(out)
	if err := writer.Write(layout.Header); err != nil {
		return fmt.Errorf("failed to write header: %w", err)
	}
	for _, r := range records {
		if err := writer.Write(layout.Row(r)); err != nil {
			return fmt.Errorf("failed to write row %d: %w", r.SourceRow, err)
		}
	}
	writer.Flush()
	if err := writer.Error(); err != nil {
		return fmt.Errorf("failed to flush export: %w", err)
	}
	return nil
}

// WriteRecords is Write with a layout built from the given headers
func WriteRecords(w io.Writer, readingHeader, registryHeader []string, records []model.JoinedRecord, opts Options) error {
	return Write(w, NewLayout(readingHeader, registryHeader, opts.IncludeDeviation), records, opts.Encoding)
}

func cell(row []string, i int) string {
	if i < 0 || i >= len(row) {
		return ""
	}
	return row[i]
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

func boolCell(b bool) string {
	if b {
		return schema.True
	}
	return schema.False
}

func deviationCell(d *float64) string {
	if d == nil {
		return ""
	}
	return strconv.FormatFloat(*d, 'f', 2, 64)
}
