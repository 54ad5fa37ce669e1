package handlers

import (
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/heatcheck/internal/ingest"
	"github.com/heatcheck/internal/model"
	"github.com/heatcheck/internal/pipeline"
)

// Multipart field names of the input files
const (
	FieldReadings    = "readings"
	FieldRegistry    = "registry"
	FieldTemperature = "temperature"
)

// badRequestError is a client error reported with status 400
type badRequestError struct {
	msg string
}

func (e *badRequestError) Error() string {
	return e.msg
}

func badRequest(format string, args ...interface{}) error {
	return &badRequestError{msg: fmt.Sprintf(format, args...)}
}

// upload is one input file read into memory
type upload struct {
	name string
	data []byte
}

// analysisRequest carries the inputs and parameters of one API call
type analysisRequest struct {
	readings    *upload
	registry    *upload
	temperature *upload
	encoding    ingest.Encoding
	filter      pipeline.Filter
	meterID     string
	from        *time.Time
	to          *time.Time
	deviation   bool
}

func parseRequest(r *http.Request, maxUpload int64, defaultEncoding ingest.Encoding) (*analysisRequest, error) {
	if err := r.ParseMultipartForm(maxUpload); err != nil {
		return nil, badRequest("invalid multipart form: %v", err)
	}

	req := &analysisRequest{encoding: defaultEncoding}
	var err error
	if req.readings, err = readUpload(r, FieldReadings); err != nil {
		return nil, err
	}
	if req.readings == nil {
		return nil, &model.MissingInputError{Input: FieldReadings}
	}
	if req.registry, err = readUpload(r, FieldRegistry); err != nil {
		return nil, err
	}
	if req.temperature, err = readUpload(r, FieldTemperature); err != nil {
		return nil, err
	}

	if enc := r.FormValue("encoding"); enc != "" {
		if req.encoding, err = ingest.ParseEncoding(enc); err != nil {
			return nil, badRequest("%v", err)
		}
	}
	if req.filter, err = parseFilter(r); err != nil {
		return nil, err
	}
	req.meterID = strings.TrimSpace(r.FormValue("meter_id"))
	if req.from, err = parseMonthParam(r, "from"); err != nil {
		return nil, err
	}
	if req.to, err = parseMonthParam(r, "to"); err != nil {
		return nil, err
	}
	req.deviation = parseBoolParam(r.FormValue("deviation"))
	return req, nil
}

// readUpload returns nil when the field is absent
func readUpload(r *http.Request, field string) (*upload, error) {
	file, header, err := r.FormFile(field)
	if errors.Is(err, http.ErrMissingFile) {
		return nil, nil
	}
	if err != nil {
		return nil, badRequest("invalid %s upload: %v", field, err)
	}
	defer file.Close()
	return readPart(field, file, header)
}

func readPart(field string, file multipart.File, header *multipart.FileHeader) (*upload, error) {
	if ingest.DetectFormat(header.Filename) == ingest.FormatUnknown {
		return nil, badRequest("unsupported file type for %s: %q", field, header.Filename)
	}
	data, err := io.ReadAll(file)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s upload: %w", field, err)
	}
	return &upload{name: header.Filename, data: data}, nil
}

func (u *upload) table(enc ingest.Encoding) (*model.Table, error) {
	if u == nil {
		return nil, nil
	}
	return ingest.Load(u.name, u.data, enc)
}

// parseFilter reads the slice parameters shared by every endpoint
func parseFilter(r *http.Request) (pipeline.Filter, error) {
	var f pipeline.Filter
	var err error

	if f.Year, err = parseIntParam(r, "year"); err != nil {
		return f, err
	}
	if f.Month, err = parseIntParam(r, "month"); err != nil {
		return f, err
	}
	if f.Month != nil && (*f.Month < 1 || *f.Month > 12) {
		return f, badRequest("month must be between 1 and 12, got %d", *f.Month)
	}
	f.MeterID = strings.TrimSpace(r.FormValue("filter_meter_id"))
	f.Districts = nonEmpty(r.Form["district"])
	f.ObjectTypes = nonEmpty(r.Form["object_type"])

	if f.Floors.Min, err = parseIntParam(r, "floors_min"); err != nil {
		return f, err
	}
	if f.Floors.Max, err = parseIntParam(r, "floors_max"); err != nil {
		return f, err
	}
	if f.Area.Min, err = parseFloatParam(r, "area_min"); err != nil {
		return f, err
	}
	if f.Area.Max, err = parseFloatParam(r, "area_max"); err != nil {
		return f, err
	}
	if f.BuiltYear.Min, err = parseIntParam(r, "built_min"); err != nil {
		return f, err
	}
	if f.BuiltYear.Max, err = parseIntParam(r, "built_max"); err != nil {
		return f, err
	}

	f.HotWater = pipeline.ParseHotWaterFilter(r.FormValue("hot_water"))
	f.ZeroOnly = parseBoolParam(r.FormValue("zero_only"))
	return f, nil
}

// parseIntParam parses an optional integer parameter
func parseIntParam(r *http.Request, name string) (*int, error) {
	s := strings.TrimSpace(r.FormValue(name))
	if s == "" {
		return nil, nil
	}
	i, err := strconv.Atoi(s)
	if err != nil {
		return nil, badRequest("%s must be an integer, got %q", name, s)
	}
	return &i, nil
}

// parseFloatParam parses an optional number; a decimal comma is accepted
func parseFloatParam(r *http.Request, name string) (*float64, error) {
	s := strings.TrimSpace(r.FormValue(name))
	if s == "" {
		return nil, nil
	}
	f, err := strconv.ParseFloat(strings.Replace(s, ",", ".", 1), 64)
	if err != nil {
		return nil, badRequest("%s must be a number, got %q", name, s)
	}
	return &f, nil
}

// parseMonthParam parses an optional YYYY-MM month
func parseMonthParam(r *http.Request, name string) (*time.Time, error) {
	s := strings.TrimSpace(r.FormValue(name))
	if s == "" {
		return nil, nil
	}
	t, err := time.Parse("2006-01", s)
	if err != nil {
		return nil, badRequest("%s must be a YYYY-MM month, got %q", name, s)
	}
	return &t, nil
}

func parseBoolParam(s string) bool {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "1", "true", "yes", "on", "да":
		return true
	}
	return false
}

func nonEmpty(values []string) []string {
	var out []string
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			out = append(out, v)
		}
	}
	return out
}
