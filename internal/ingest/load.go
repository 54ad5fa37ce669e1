// Package ingest loads the raw input tables: delimited text in UTF-8 or
// CP1251 and xlsx workbooks.
package ingest

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/heatcheck/internal/model"
)

// Format is the container format of an input file
type Format int

const (
	FormatUnknown Format = iota
	FormatDelimited
	FormatSpreadsheet
)

// DetectFormat infers the format from the file extension
func DetectFormat(name string) Format {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".csv", ".txt":
		return FormatDelimited
	case ".xlsx", ".xlsm", ".xltx":
		return FormatSpreadsheet
	}
	return FormatUnknown
}

// Load parses an in-memory input file, dispatching on its extension. The
// encoding only applies to delimited text.
func Load(name string, data []byte, enc Encoding) (*model.Table, error) {
	switch DetectFormat(name) {
	case FormatDelimited:
		return ReadDelimited(name, bytes.NewReader(data), enc)
	case FormatSpreadsheet:
		if len(data) == 0 {
			return nil, &model.MissingInputError{Input: name}
		}
		return ReadSpreadsheet(name, bytes.NewReader(data), "")
	}
	return nil, fmt.Errorf("unsupported file type: %s", filepath.Base(name))
}

// LoadFile reads and parses an input file from disk
func LoadFile(path string, enc Encoding) (*model.Table, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, &model.MissingInputError{Input: path}
		}
		return nil, fmt.Errorf("failed to open file %s: %w", path, err)
	}
	return Load(filepath.Base(path), data, enc)
}
