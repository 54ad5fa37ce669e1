// Package handlers implements the HTTP endpoints of the analysis API.
package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/heatcheck/internal/aggregate"
	"github.com/heatcheck/internal/anomaly"
	"github.com/heatcheck/internal/cache"
	"github.com/heatcheck/internal/export"
	"github.com/heatcheck/internal/ingest"
	"github.com/heatcheck/internal/logging"
	"github.com/heatcheck/internal/model"
	"github.com/heatcheck/internal/pipeline"
	"github.com/heatcheck/internal/review"
	"github.com/heatcheck/internal/web/metrics"
)

// AnalysisHandler runs the pipeline over uploaded files
type AnalysisHandler struct {
	Pipeline       *pipeline.Pipeline
	Cache          cache.Cache
	CacheBackend   string
	Queue          *review.Queue // nil when no database is configured
	Metrics        *metrics.Metrics
	Logger         *logging.Logger
	MaxUpload      int64
	InputEncoding  ingest.Encoding
	ExportEncoding ingest.Encoding
}

// AnomalyRow is the compact form of a flagged record
type AnomalyRow struct {
	SourceRow   int      `json:"source_row"`
	MeterID     string   `json:"meter_id"`
	Address     string   `json:"address"`
	ObjectType  string   `json:"object_type"`
	ReadingDate string   `json:"reading_date,omitempty"`
	Consumption float64  `json:"consumption"`
	PeriodKey   string   `json:"period_key,omitempty"`
	Temperature *float64 `json:"temperature,omitempty"`
	Deviation   *float64 `json:"deviation,omitempty"`
	Flags       []string `json:"flags"`
}

// AnalyzeResponse is returned by the analyze endpoint
type AnalyzeResponse struct {
	RunID     string           `json:"run_id"`
	Cached    bool             `json:"cached"`
	Summary   pipeline.Summary `json:"summary"`
	Reports   pipeline.Reports `json:"reports"`
	Anomalies []AnomalyRow     `json:"anomalies"`
}

// DeviationResponse is returned by the deviation endpoint
type DeviationResponse struct {
	RunID          string       `json:"run_id"`
	Cached         bool         `json:"cached"`
	NoData         bool         `json:"no_data"`
	Mean           float64      `json:"mean"`
	High           int          `json:"high"`
	Low            int          `json:"low"`
	Incomplete     int          `json:"incomplete"`
	HighGroups     string       `json:"high_groups"`
	LowGroups      string       `json:"low_groups"`
	Interpretation string       `json:"interpretation"`
	Anomalies      []AnomalyRow `json:"anomalies"`
}

// SeriesResponse is returned by the series endpoint
type SeriesResponse struct {
	RunID        string            `json:"run_id"`
	Cached       bool              `json:"cached"`
	MeterID      string            `json:"meter_id"`
	Points       []aggregate.Point `json:"points"`
	DetailHeader []string          `json:"detail_header"`
	Detail       [][]string        `json:"detail"`
}

// RepeatTypeInfo describes one repeat type and how often it occurred
type RepeatTypeInfo struct {
	Type           anomaly.RepeatType `json:"type"`
	Pairs          int                `json:"pairs"`
	Description    string             `json:"description"`
	Recommendation string             `json:"recommendation"`
}

// RepeatsResponse is returned by the repeats endpoint
type RepeatsResponse struct {
	RunID  string                 `json:"run_id"`
	Cached bool                   `json:"cached"`
	Types  []RepeatTypeInfo       `json:"types"`
	Report anomaly.TemporalReport `json:"report"`
}

// PublishResponse is returned by the publish endpoint
type PublishResponse struct {
	RunID     string `json:"run_id"`
	Published int    `json:"published"`
}

// HealthResponse is returned by the health endpoint
type HealthResponse struct {
	Status      string    `json:"status"`
	Cache       string    `json:"cache"`
	ReviewQueue bool      `json:"review_queue"`
	Time        time.Time `json:"time"`
}

// Analyze runs the pipeline and returns the summary with the flagged
// records that pass the filter
func (h *AnalysisHandler) Analyze(w http.ResponseWriter, r *http.Request) {
	runID := newRunID(w)
	req, result, cached, err := h.load(r)
	if err != nil {
		h.writeError(w, err)
		return
	}

	var rows []AnomalyRow
	for _, rec := range req.filter.Apply(result.Records) {
		if rec.Flags.Any() {
			rows = append(rows, anomalyRow(rec))
		}
	}

	writeJSON(w, http.StatusOK, AnalyzeResponse{
		RunID:     runID.String(),
		Cached:    cached,
		Summary:   result.Summary,
		Reports:   result.Reports,
		Anomalies: rows,
	})
}

// Deviation classifies the filtered slice against its own mean
func (h *AnalysisHandler) Deviation(w http.ResponseWriter, r *http.Request) {
	runID := newRunID(w)
	req, result, cached, err := h.load(r)
	if err != nil {
		h.writeError(w, err)
		return
	}

	dev := h.Pipeline.Deviation(result, req.filter)
	resp := DeviationResponse{
		RunID:          runID.String(),
		Cached:         cached,
		NoData:         dev.NoData,
		Mean:           dev.Mean,
		High:           dev.High,
		Low:            dev.Low,
		Incomplete:     dev.Incomplete,
		HighGroups:     anomaly.FormatGroups(dev.HighGroups, "высокого потребления"),
		LowGroups:      anomaly.FormatGroups(dev.LowGroups, "низкого потребления"),
		Interpretation: anomaly.Interpretation,
	}
	for _, rec := range dev.Anomalies() {
		resp.Anomalies = append(resp.Anomalies, anomalyRow(rec))
	}
	writeJSON(w, http.StatusOK, resp)
}

// Series returns the monthly consumption and temperature of one meter
func (h *AnalysisHandler) Series(w http.ResponseWriter, r *http.Request) {
	runID := newRunID(w)
	req, result, cached, err := h.load(r)
	if err != nil {
		h.writeError(w, err)
		return
	}
	if req.meterID == "" {
		h.writeError(w, badRequest("meter_id is required"))
		return
	}

	writeJSON(w, http.StatusOK, SeriesResponse{
		RunID:        runID.String(),
		Cached:       cached,
		MeterID:      req.meterID,
		Points:       h.Pipeline.Series(result, req.meterID, req.from, req.to),
		DetailHeader: export.MeterDetailHeader,
		Detail:       export.MeterDetail(result.Records, req.meterID),
	})
}

// Repeats returns the repeated-value report, for one meter when meter_id is given
func (h *AnalysisHandler) Repeats(w http.ResponseWriter, r *http.Request) {
	runID := newRunID(w)
	req, result, cached, err := h.load(r)
	if err != nil {
		h.writeError(w, err)
		return
	}

	report := h.Pipeline.Repeats(result, req.meterID)
	counts := map[anomaly.RepeatType]int{
		anomaly.RepeatSamePeriod:   report.Type1,
		anomaly.RepeatAnnual:       report.Type2,
		anomaly.RepeatCoincidental: report.Type3,
	}
	resp := RepeatsResponse{RunID: runID.String(), Cached: cached, Report: report}
	for _, t := range []anomaly.RepeatType{anomaly.RepeatSamePeriod, anomaly.RepeatAnnual, anomaly.RepeatCoincidental} {
		resp.Types = append(resp.Types, RepeatTypeInfo{
			Type:           t,
			Pairs:          counts[t],
			Description:    t.Description(),
			Recommendation: t.Recommendation(),
		})
	}
	writeJSON(w, http.StatusOK, resp)
}

// Export streams the annotated table as CSV
func (h *AnalysisHandler) Export(w http.ResponseWriter, r *http.Request) {
	runID := newRunID(w)
	req, result, _, err := h.load(r)
	if err != nil {
		h.writeError(w, err)
		return
	}

	enc := h.ExportEncoding
	if v := r.FormValue("export_encoding"); v != "" {
		if enc, err = ingest.ParseEncoding(v); err != nil {
			h.writeError(w, badRequest("%v", err))
			return
		}
	}
	if enc == ingest.EncodingAuto || enc == "" {
		enc = ingest.EncodingCP1251
	}

	records := req.filter.Apply(result.Records)
	if req.deviation {
		records = h.Pipeline.Deviation(result, req.filter).Records
	}

	charset := "utf-8"
	if enc == ingest.EncodingCP1251 {
		charset = "windows-1251"
	}
	w.Header().Set("Content-Type", "text/csv; charset="+charset)
	w.Header().Set("Content-Disposition", fmt.Sprintf(`attachment; filename="heatcheck-%s.csv"`, runID))

	opts := export.Options{Encoding: enc, IncludeDeviation: req.deviation}
	if err := export.WriteRecords(w, result.Header, result.RegistryHeader, records, opts); err != nil {
		h.Logger.Error("Export failed", "run_id", runID, "error", err)
	}
}

// Publish sends the flagged records of the filtered slice to the review queue
func (h *AnalysisHandler) Publish(w http.ResponseWriter, r *http.Request) {
	runID := newRunID(w)
	if h.Queue == nil {
		http.Error(w, "review queue is not configured", http.StatusServiceUnavailable)
		return
	}

	req, result, _, err := h.load(r)
	if err != nil {
		h.writeError(w, err)
		return
	}

	n, err := h.Queue.Publish(r.Context(), runID, req.filter.Apply(result.Records))
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, PublishResponse{RunID: runID.String(), Published: n})
}

// Health reports that the server is up
func (h *AnalysisHandler) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, HealthResponse{
		Status:      "ok",
		Cache:       h.CacheBackend,
		ReviewQueue: h.Queue != nil,
		Time:        time.Now().UTC(),
	})
}

// load parses the request and returns the pipeline result, from the cache
// when the same inputs were analysed with the same options before
func (h *AnalysisHandler) load(r *http.Request) (*analysisRequest, *pipeline.Result, bool, error) {
	req, err := parseRequest(r, h.MaxUpload, h.InputEncoding)
	if err != nil {
		return nil, nil, false, err
	}

	ctx := r.Context()
	key := h.cacheKey(req)
	if result, ok := h.cached(ctx, key); ok {
		h.Metrics.ObserveRun("cached")
		return req, result, true, nil
	}

	result, err := h.run(ctx, req)
	if err != nil {
		h.Metrics.ObserveRun("error")
		return nil, nil, false, err
	}
	h.Metrics.ObserveRun("ok")
	h.Metrics.ObserveRecords(result.Records)

	if data, err := json.Marshal(result); err != nil {
		h.Logger.Warn("Failed to encode result for cache", "error", err)
	} else if err := h.Cache.Set(ctx, key, data); err != nil {
		h.Logger.Warn("Failed to store result in cache", "error", err)
	}
	return req, result, false, nil
}

func (h *AnalysisHandler) run(ctx context.Context, req *analysisRequest) (*pipeline.Result, error) {
	var in pipeline.Inputs
	var err error
	if in.Readings, err = req.readings.table(req.encoding); err != nil {
		return nil, err
	}
	if in.Registry, err = req.registry.table(req.encoding); err != nil {
		return nil, err
	}
	if in.Temperature, err = req.temperature.table(req.encoding); err != nil {
		return nil, err
	}
	return h.Pipeline.Run(ctx, in)
}

func (h *AnalysisHandler) cacheKey(req *analysisRequest) string {
	fingerprint := h.Pipeline.Options().Fingerprint() + "|" + string(req.encoding)
	var parts [][]byte
	for _, u := range []*upload{req.readings, req.registry, req.temperature} {
		if u == nil {
			parts = append(parts, nil, nil)
			continue
		}
		parts = append(parts, []byte(u.name), u.data)
	}
	return cache.Key(fingerprint, parts...)
}

func (h *AnalysisHandler) cached(ctx context.Context, key string) (*pipeline.Result, bool) {
	data, ok, err := h.Cache.Get(ctx, key)
	if err != nil {
		h.Metrics.ObserveCache("error")
		h.Logger.Warn("Cache lookup failed", "error", err)
		return nil, false
	}
	h.Logger.LogCache(h.CacheBackend, key, ok)
	if !ok {
		h.Metrics.ObserveCache("miss")
		return nil, false
	}

	var result pipeline.Result
	if err := json.Unmarshal(data, &result); err != nil {
		h.Metrics.ObserveCache("error")
		h.Logger.Warn("Discarding unreadable cache entry", "error", err)
		return nil, false
	}
	h.Metrics.ObserveCache("hit")
	return &result, true
}

// writeError maps input problems to 400 and everything else to 500
func (h *AnalysisHandler) writeError(w http.ResponseWriter, err error) {
	var badReq *badRequestError
	var missingInput *model.MissingInputError
	var missingColumn *model.MissingColumnError

	switch {
	case errors.As(err, &badReq), errors.As(err, &missingInput), errors.As(err, &missingColumn):
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
	default:
		h.Logger.Error("Request failed", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
	}
}

func newRunID(w http.ResponseWriter) uuid.UUID {
	id := uuid.New()
	w.Header().Set("X-Run-ID", id.String())
	return id
}

func anomalyRow(r model.JoinedRecord) AnomalyRow {
	row := AnomalyRow{
		SourceRow:   r.SourceRow,
		MeterID:     r.MeterID,
		Address:     r.Address,
		ObjectType:  r.Type(),
		Consumption: r.Consumption,
		PeriodKey:   r.PeriodKey,
		Temperature: r.Temperature,
		Deviation:   r.Flags.Deviation,
	}
	if r.Timestamp != nil {
		row.ReadingDate = r.Timestamp.Format("02.01.2006")
	}
	for _, f := range r.Flags.List() {
		row.Flags = append(row.Flags, string(f))
	}
	return row
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
