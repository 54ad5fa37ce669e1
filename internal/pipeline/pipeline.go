// Package pipeline runs the whole analysis: normalize, deduplicate, join,
// then flag anomalies on the joined records.
package pipeline

import (
	"context"
	"fmt"
	"time"

	"github.com/heatcheck/internal/aggregate"
	"github.com/heatcheck/internal/anomaly"
	"github.com/heatcheck/internal/dedup"
	"github.com/heatcheck/internal/join"
	"github.com/heatcheck/internal/logging"
	"github.com/heatcheck/internal/model"
	"github.com/heatcheck/internal/normalize"
)

// Inputs are the raw tables of one run. Readings are required; the
// registry and temperature tables are optional.
type Inputs struct {
	Readings    *model.Table
	Registry    *model.Table
	Temperature *model.Table
}

// Reports collects what each stage did
type Reports struct {
	Readings    *normalize.Report `json:"readings"`
	Registry    *normalize.Report `json:"registry,omitempty"`
	Temperature *normalize.Report `json:"temperature,omitempty"`
	Dedup       dedup.Report      `json:"dedup"`
	Join        join.Report       `json:"join"`
}

// Summary holds the headline counts of a run
type Summary struct {
	Records             int `json:"records"`
	Meters              int `json:"meters"`
	FlaggedRecords      int `json:"flagged_records"`
	ZeroInHeatingSeason int `json:"zero_in_heating_season"`
	Type1Pairs          int `json:"type_1_pairs"`
	Type2Pairs          int `json:"type_2_pairs"`
	Type3Pairs          int `json:"type_3_pairs"`
}

// Result is the canonical joined table with seasonal and temporal flags
type Result struct {
	Header              []string                `json:"header"`
	Records             []model.JoinedRecord    `json:"records"`
	RegistryHeader      []string                `json:"registry_header,omitempty"`
	TemperatureSupplied bool                    `json:"temperature_supplied"`
	Reports             Reports                 `json:"reports"`
	Seasonal            anomaly.SeasonalSummary `json:"seasonal"`
	Temporal            anomaly.TemporalReport  `json:"temporal"`
	Summary             Summary                 `json:"summary"`
}

// Pipeline runs the analysis with a fixed set of options. It holds no
// per-run state and may be shared.
type Pipeline struct {
	opts       Options
	logger     *logging.Logger
	normalizer *normalize.Normalizer
	season     anomaly.HeatingSeason
	temporal   *anomaly.TemporalDetector
	deviation  *anomaly.DeviationDetector
}

// New creates a pipeline; a nil logger discards output
func New(opts Options, logger *logging.Logger) (*Pipeline, error) {
	if err := opts.Validate(); err != nil {
		return nil, fmt.Errorf("invalid pipeline options: %w", err)
	}
	if logger == nil {
		logger = logging.Discard()
	}
	season, err := anomaly.NewHeatingSeason(opts.HeatingMonths)
	if err != nil {
		return nil, err
	}

	return &Pipeline{
		opts:   opts,
		logger: logger.WithComponent("pipeline"),
		normalizer: normalize.New(normalize.Options{
			ReadingAddressColumn:  opts.ReadingAddressColumn,
			RegistryAddressColumn: opts.RegistryAddressColumn,
			TitleCaseObjectType:   opts.TitleCaseObjectType,
			MaxErrors:             opts.MaxFieldErrors,
		}),
		season:    season,
		temporal:  anomaly.NewTemporalDetector(opts.WindowDays),
		deviation: anomaly.NewDeviationDetector(opts.DeviationThreshold),
	}, nil
}

// Options returns the options the pipeline was built with
func (p *Pipeline) Options() Options {
	return p.opts
}

// Run executes every stage over the inputs. Missing readings or a missing
// required column abort the run; malformed cells never do.
func (p *Pipeline) Run(ctx context.Context, in Inputs) (*Result, error) {
	defer p.logger.Timing("pipeline run")()

	if in.Readings == nil {
		return nil, &model.MissingInputError{Input: "readings"}
	}

	result := &Result{Header: in.Readings.Header}

	readings, report, err := p.normalizer.Readings(in.Readings)
	if err != nil {
		return nil, fmt.Errorf("failed to normalize readings: %w", err)
	}
	result.Reports.Readings = report
	p.logger.LogStage("normalize readings", report.Rows, report.Kept)

	var buildings []model.BuildingRecord
	if in.Registry != nil {
		buildings, report, err = p.normalizer.Buildings(in.Registry)
		if err != nil {
			return nil, fmt.Errorf("failed to normalize registry: %w", err)
		}
		result.Reports.Registry = report
		result.RegistryHeader = in.Registry.Header
		p.logger.LogStage("normalize registry", report.Rows, report.Kept)
	}

	var temps []model.TemperatureRecord
	if in.Temperature != nil {
		temps, report, err = p.normalizer.Temperatures(in.Temperature)
		if err != nil {
			return nil, fmt.Errorf("failed to normalize temperature: %w", err)
		}
		result.Reports.Temperature = report
		p.logger.LogStage("normalize temperature", report.Rows, report.Kept)
	}

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	readings, result.Reports.Dedup = dedup.Readings(readings, p.opts.DedupKeys)
	p.logger.LogStage("dedup", result.Reports.Dedup.Input, result.Reports.Dedup.Output)

	records, joinReport := join.Join(readings, buildings, temps, join.Options{LagMonths: p.opts.LagMonths})
	result.Reports.Join = joinReport
	result.TemperatureSupplied = joinReport.TemperatureSupplied
	p.logger.LogStage("join", len(readings), len(records))

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	result.Seasonal = anomaly.MarkZeroInHeatingSeason(records, p.season)
	result.Temporal = p.temporal.Mark(records)
	result.Records = records
	result.Summary = summarize(result)

	p.logger.LogAnomalyCounts(result.Seasonal.Flagged, result.Temporal.Type1, result.Temporal.Type2, result.Temporal.Type3)
	return result, nil
}

func summarize(result *Result) Summary {
	s := Summary{
		Records:             len(result.Records),
		Meters:              len(aggregate.Meters(result.Records)),
		ZeroInHeatingSeason: result.Seasonal.Flagged,
		Type1Pairs:          result.Temporal.Type1,
		Type2Pairs:          result.Temporal.Type2,
		Type3Pairs:          result.Temporal.Type3,
	}
	for _, r := range result.Records {
		if r.Flags.Any() {
			s.FlaggedRecords++
		}
	}
	return s
}

// Deviation computes deviation from the mean of the filtered slice. The
// mean is taken over exactly the records that are classified.
func (p *Pipeline) Deviation(result *Result, filter Filter) anomaly.DeviationResult {
	slice := filter.Apply(result.Records)

	incomplete := 0
	if p.opts.RequireComplete {
		slice, incomplete = anomaly.Complete(slice)
	}

	mean, ok := anomaly.Mean(slice)
	if !ok {
		return anomaly.DeviationResult{NoData: true, Incomplete: incomplete}
	}

	dev := p.deviation.Apply(slice, mean)
	dev.Incomplete = incomplete
	p.logger.LogDeviation(len(slice), mean, dev.High, dev.Low)
	return dev
}

// Series returns the monthly series of one meter. When a temperature table
// was supplied, months are built only from readings with a temperature.
func (p *Pipeline) Series(result *Result, meterID string, from, to *time.Time) []aggregate.Point {
	return aggregate.Monthly(aggregate.ForMeter(result.Records, meterID), aggregate.Options{
		RequireTemperature: result.TemperatureSupplied,
		From:               from,
		To:                 to,
	})
}

// Repeats returns the repeated-value report of one meter, or of all meters
// when meterID is empty.
func (p *Pipeline) Repeats(result *Result, meterID string) anomaly.TemporalReport {
	if meterID == "" {
		return result.Temporal
	}
	m, ok := result.Temporal.Meter(meterID)
	if !ok {
		return anomaly.TemporalReport{}
	}
	return anomaly.TemporalReport{
		Meters: []anomaly.MeterRepeats{m},
		Type1:  m.Type1,
		Type2:  m.Type2,
		Type3:  m.Type3,
	}
}
