package ingest

import (
	"bytes"
	"encoding/csv"
	"fmt"
	"io"
	"strings"
	"unicode/utf8"

	"github.com/xuri/excelize/v2"
	"golang.org/x/text/encoding/charmap"

	"github.com/heatcheck/internal/model"
)

// Encoding names the character set of a delimited text input
type Encoding string

const (
	EncodingAuto   Encoding = "auto"
	EncodingUTF8   Encoding = "utf-8"
	EncodingCP1251 Encoding = "cp1251"
)

// ParseEncoding accepts the common spellings of the supported encodings
func ParseEncoding(s string) (Encoding, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "auto":
		return EncodingAuto, nil
	case "utf-8", "utf8":
		return EncodingUTF8, nil
	case "cp1251", "windows-1251", "win1251":
		return EncodingCP1251, nil
	}
	return "", fmt.Errorf("unsupported encoding %q", s)
}

var utf8BOM = []byte{0xEF, 0xBB, 0xBF}

// decode converts raw bytes to UTF-8. In auto mode anything that is not
// valid UTF-8 is taken to be CP1251.
func decode(data []byte, enc Encoding) ([]byte, error) {
	if enc == EncodingAuto {
		enc = EncodingCP1251
		if utf8.Valid(data) {
			enc = EncodingUTF8
		}
	}

	switch enc {
	case EncodingUTF8:
		return bytes.TrimPrefix(data, utf8BOM), nil
	case EncodingCP1251:
		out, err := charmap.Windows1251.NewDecoder().Bytes(data)
		if err != nil {
			return nil, fmt.Errorf("failed to decode cp1251: %w", err)
		}
		return out, nil
	default:
		return nil, fmt.Errorf("unsupported encoding %q", enc)
	}
}

// sniffDelimiter picks ';' for files whose header carries semicolons but no commas
func sniffDelimiter(data []byte) rune {
	line := data
	if i := bytes.IndexByte(data, '\n'); i >= 0 {
		line = data[:i]
	}
	if bytes.IndexByte(line, ';') >= 0 && bytes.IndexByte(line, ',') < 0 {
		return ';'
	}
	return ','
}

// ReadDelimited reads a delimited text table. The first record is the header;
// rows of uneven width are accepted and padded on access.
func ReadDelimited(name string, r io.Reader, enc Encoding) (*model.Table, error) {
	raw, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", name, err)
	}
	if len(bytes.TrimSpace(raw)) == 0 {
		return nil, &model.MissingInputError{Input: name}
	}

	data, err := decode(raw, enc)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", name, err)
	}

	reader := csv.NewReader(bytes.NewReader(data))
	reader.Comma = sniffDelimiter(data)
	reader.FieldsPerRecord = -1
	reader.LazyQuotes = true

	header, err := reader.Read()
	if err != nil {
		return nil, fmt.Errorf("failed to read header of %s: %w", name, err)
	}

	var rows [][]string
	for {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to read %s: %w", name, err)
		}
		rows = append(rows, record)
	}

	return model.NewTable(name, header, rows), nil
}

// ReadSpreadsheet reads a workbook sheet. An empty sheet name selects the
// first sheet. Cells are read as displayed, so dates arrive formatted.
func ReadSpreadsheet(name string, r io.Reader, sheet string) (*model.Table, error) {
	f, err := excelize.OpenReader(r)
	if err != nil {
		return nil, fmt.Errorf("failed to open workbook %s: %w", name, err)
	}
	defer f.Close()

	if sheet == "" {
		sheets := f.GetSheetList()
		if len(sheets) == 0 {
			return nil, &model.MissingInputError{Input: name}
		}
		sheet = sheets[0]
	}

	rows, err := f.GetRows(sheet)
	if err != nil {
		return nil, fmt.Errorf("failed to read sheet %q of %s: %w", sheet, name, err)
	}

	// Leading blank rows above the header are common in exported registries
	for len(rows) > 0 && isBlankRecord(rows[0]) {
		rows = rows[1:]
	}
	if len(rows) == 0 {
		return nil, &model.MissingInputError{Input: name}
	}

	return model.NewTable(name, rows[0], rows[1:]), nil
}

func isBlankRecord(record []string) bool {
	for _, cell := range record {
		if strings.TrimSpace(cell) != "" {
			return false
		}
	}
	return true
}
