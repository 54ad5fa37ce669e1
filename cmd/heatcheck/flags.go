package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/heatcheck/internal/config"
	"github.com/heatcheck/internal/ingest"
	"github.com/heatcheck/internal/pipeline"
)

// pipelineFlags override the pipeline section of the config
type pipelineFlags struct {
	threshold     float64
	windowDays    int
	lagMonths     int
	heatingMonths []int
	dedupKeys     []string
	encoding      string
	requireFull   bool
}

func (f *pipelineFlags) register(flags *pflag.FlagSet) {
	flags.Float64Var(&f.threshold, "threshold", 0, "deviation threshold in percent")
	flags.IntVar(&f.windowDays, "window-days", 0, "maximum gap in days for a type 1 repeat")
	flags.IntVar(&f.lagMonths, "lag-months", 0, "months between consumption and reading date")
	flags.IntSliceVar(&f.heatingMonths, "heating-months", nil, "heating season months")
	flags.StringSliceVar(&f.dedupKeys, "dedup-keys", nil, "reading identity fields: meter_id,timestamp,consumption")
	flags.StringVar(&f.encoding, "encoding", "", "input encoding: auto, utf-8 or cp1251")
	flags.BoolVar(&f.requireFull, "require-complete", false, "drop records without building attributes before deviation")
}

// apply copies every flag the user set onto cfg
func (f *pipelineFlags) apply(cmd *cobra.Command, cfg *config.Config) error {
	flags := cmd.Flags()
	p := &cfg.Pipeline
	if flags.Changed("threshold") {
		p.DeviationThreshold = f.threshold
	}
	if flags.Changed("window-days") {
		p.WindowDays = f.windowDays
	}
	if flags.Changed("lag-months") {
		p.LagMonths = f.lagMonths
	}
	if flags.Changed("heating-months") {
		p.HeatingMonths = f.heatingMonths
	}
	if flags.Changed("dedup-keys") {
		p.DedupKeys = f.dedupKeys
	}
	if flags.Changed("require-complete") {
		p.RequireComplete = f.requireFull
	}
	if flags.Changed("encoding") {
		if _, err := ingest.ParseEncoding(f.encoding); err != nil {
			return err
		}
		cfg.Input.Encoding = f.encoding
	}
	return nil
}

// inputFlags name the input files of a run
type inputFlags struct {
	readings    string
	registry    string
	temperature string
}

func (f *inputFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVarP(&f.readings, "readings", "r", "", "meter readings file (csv or xlsx)")
	cmd.Flags().StringVarP(&f.registry, "registry", "b", "", "building registry file (xlsx or csv)")
	cmd.Flags().StringVarP(&f.temperature, "temperature", "t", "", "monthly temperature file (xlsx or csv)")
	cmd.MarkFlagRequired("readings")
}

// load reads every given input file
func (f *inputFlags) load(enc ingest.Encoding) (pipeline.Inputs, error) {
	var in pipeline.Inputs
	var err error

	if in.Readings, err = ingest.LoadFile(f.readings, enc); err != nil {
		return in, err
	}
	if f.registry != "" {
		if in.Registry, err = ingest.LoadFile(f.registry, enc); err != nil {
			return in, err
		}
	}
	if f.temperature != "" {
		if in.Temperature, err = ingest.LoadFile(f.temperature, enc); err != nil {
			return in, err
		}
	}
	return in, nil
}

// run loads the inputs and executes the pipeline with the app config
func (a *app) run(ctx context.Context, inputs *inputFlags) (*pipeline.Pipeline, *pipeline.Result, error) {
	opts, err := a.cfg.Pipeline.Options()
	if err != nil {
		return nil, nil, err
	}
	p, err := pipeline.New(opts, a.logger)
	if err != nil {
		return nil, nil, err
	}

	in, err := inputs.load(a.cfg.Input.InputEncoding())
	if err != nil {
		return nil, nil, err
	}
	result, err := p.Run(ctx, in)
	if err != nil {
		return nil, nil, err
	}
	return p, result, nil
}

// filterFlags select the slice a deviation or export works on
type filterFlags struct {
	year        int
	month       int
	meterID     string
	districts   []string
	objectTypes []string
	floorsMin   int
	floorsMax   int
	areaMin     float64
	areaMax     float64
	builtMin    int
	builtMax    int
	hotWater    string
	zeroOnly    bool
}

func (f *filterFlags) register(cmd *cobra.Command) {
	flags := cmd.Flags()
	flags.IntVar(&f.year, "year", 0, "reading year")
	flags.IntVar(&f.month, "month", 0, "reading month (1-12)")
	flags.StringVar(&f.meterID, "filter-meter", "", "only this meter")
	flags.StringSliceVar(&f.districts, "district", nil, "districts to include")
	flags.StringSliceVar(&f.objectTypes, "object-type", nil, "object types to include")
	flags.IntVar(&f.floorsMin, "floors-min", 0, "minimum number of floors")
	flags.IntVar(&f.floorsMax, "floors-max", 0, "maximum number of floors")
	flags.Float64Var(&f.areaMin, "area-min", 0, "minimum floor area")
	flags.Float64Var(&f.areaMax, "area-max", 0, "maximum floor area")
	flags.IntVar(&f.builtMin, "built-min", 0, "earliest construction year")
	flags.IntVar(&f.builtMax, "built-max", 0, "latest construction year")
	flags.StringVar(&f.hotWater, "hot-water", "", "ГВС-ИТП filter: да or нет")
	flags.BoolVar(&f.zeroOnly, "zero-only", false, "only records with zero consumption in the heating season")
}

// filter builds a pipeline filter from the flags the user set
func (f *filterFlags) filter(cmd *cobra.Command) (pipeline.Filter, error) {
	flags := cmd.Flags()
	intFlag := func(name string, v int) *int {
		if !flags.Changed(name) {
			return nil
		}
		return &v
	}
	floatFlag := func(name string, v float64) *float64 {
		if !flags.Changed(name) {
			return nil
		}
		return &v
	}

	filter := pipeline.Filter{
		Year:        intFlag("year", f.year),
		Month:       intFlag("month", f.month),
		MeterID:     f.meterID,
		Districts:   f.districts,
		ObjectTypes: f.objectTypes,
		Floors:      pipeline.IntRange{Min: intFlag("floors-min", f.floorsMin), Max: intFlag("floors-max", f.floorsMax)},
		Area:        pipeline.FloatRange{Min: floatFlag("area-min", f.areaMin), Max: floatFlag("area-max", f.areaMax)},
		BuiltYear:   pipeline.IntRange{Min: intFlag("built-min", f.builtMin), Max: intFlag("built-max", f.builtMax)},
		HotWater:    pipeline.ParseHotWaterFilter(f.hotWater),
		ZeroOnly:    f.zeroOnly,
	}
	if filter.Month != nil && (*filter.Month < 1 || *filter.Month > 12) {
		return filter, fmt.Errorf("month must be between 1 and 12, got %d", *filter.Month)
	}
	return filter, nil
}

// parseMonth parses an optional YYYY-MM flag value
func parseMonth(s string) (*time.Time, error) {
	if s == "" {
		return nil, nil
	}
	t, err := time.Parse("2006-01", s)
	if err != nil {
		return nil, fmt.Errorf("invalid month %q, expected YYYY-MM", s)
	}
	return &t, nil
}
