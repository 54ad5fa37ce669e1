package model

import "fmt"

// MissingInputError is returned when a required input table was not supplied
type MissingInputError struct {
	Input string
}

func (e *MissingInputError) Error() string {
	return fmt.Sprintf("missing input: %s", e.Input)
}

// MissingColumnError is returned when a required column is absent from a table
type MissingColumnError struct {
	Input  string
	Column string
}

func (e *MissingColumnError) Error() string {
	return fmt.Sprintf("missing column %q in %s", e.Column, e.Input)
}

// FieldError describes one cell that could not be parsed. It never aborts a
// batch; the field is nulled and the error is collected in a report.
type FieldError struct {
	Row    int    `json:"row"`
	Column string `json:"column"`
	Value  string `json:"value"`
	Reason string `json:"reason"`
}

func (e *FieldError) Error() string {
	return fmt.Sprintf("row %d, column %q: %s (%q)", e.Row, e.Column, e.Reason, e.Value)
}
