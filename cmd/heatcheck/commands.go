package main

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/heatcheck/internal/anomaly"
	"github.com/heatcheck/internal/db"
	"github.com/heatcheck/internal/export"
	"github.com/heatcheck/internal/ingest"
	"github.com/heatcheck/internal/model"
	"github.com/heatcheck/internal/pipeline"
	"github.com/heatcheck/internal/review"
	"github.com/heatcheck/internal/web"
)

func createAnalyzeCmd(a *app) *cobra.Command {
	var inputs inputFlags
	var out string
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "analyze",
		Short: "Run the pipeline and report seasonal and repeated-value anomalies",
		RunE: func(cmd *cobra.Command, args []string) error {
			_, result, err := a.run(cmd.Context(), &inputs)
			if err != nil {
				return err
			}
			w := cmd.OutOrStdout()

			if asJSON {
				return json.NewEncoder(w).Encode(struct {
					Summary pipeline.Summary `json:"summary"`
					Reports pipeline.Reports `json:"reports"`
				}{result.Summary, result.Reports})
			}

			printSummary(w, result)
			if out != "" {
				if err := a.writeExport(out, result, result.Records, false); err != nil {
					return err
				}
				fmt.Fprintf(w, "\nAnnotated table written to %s\n", out)
			}
			return nil
		},
	}

	inputs.register(cmd)
	cmd.Flags().StringVarP(&out, "out", "o", "", "write the annotated table to this file")
	cmd.Flags().BoolVar(&asJSON, "json", false, "print the summary as JSON")
	return cmd
}

func createDeviationCmd(a *app) *cobra.Command {
	var inputs inputFlags
	var filters filterFlags
	var out string

	cmd := &cobra.Command{
		Use:   "deviation",
		Short: "Classify the filtered slice by deviation from its mean",
		RunE: func(cmd *cobra.Command, args []string) error {
			filter, err := filters.filter(cmd)
			if err != nil {
				return err
			}
			p, result, err := a.run(cmd.Context(), &inputs)
			if err != nil {
				return err
			}

			dev := p.Deviation(result, filter)
			w := cmd.OutOrStdout()
			if dev.NoData {
				fmt.Fprintln(w, "Нет данных для выбранных фильтров")
				return nil
			}

			fmt.Fprintf(w, "Среднее потребление: %.2f\n", dev.Mean)
			fmt.Fprintf(w, "Высокое потребление: %d\n", dev.High)
			fmt.Fprintf(w, "Низкое потребление:  %d\n", dev.Low)
			if dev.Incomplete > 0 {
				fmt.Fprintf(w, "Исключено без характеристик здания: %d\n", dev.Incomplete)
			}
			for _, line := range []string{
				anomaly.FormatGroups(dev.HighGroups, "высокого потребления"),
				anomaly.FormatGroups(dev.LowGroups, "низкого потребления"),
			} {
				if line != "" {
					fmt.Fprintln(w, line)
				}
			}
			fmt.Fprintln(w, anomaly.Interpretation)

			if out != "" {
				if err := a.writeExport(out, result, dev.Records, true); err != nil {
					return err
				}
				fmt.Fprintf(w, "\nAnnotated slice written to %s\n", out)
			}
			return nil
		},
	}

	inputs.register(cmd)
	filters.register(cmd)
	cmd.Flags().StringVarP(&out, "out", "o", "", "write the annotated slice to this file")
	return cmd
}

func createRepeatsCmd(a *app) *cobra.Command {
	var inputs inputFlags
	var meterID string

	cmd := &cobra.Command{
		Use:   "repeats",
		Short: "Describe repeated consumption values by type",
		RunE: func(cmd *cobra.Command, args []string) error {
			p, result, err := a.run(cmd.Context(), &inputs)
			if err != nil {
				return err
			}

			report := p.Repeats(result, meterID)
			w := cmd.OutOrStdout()
			counts := map[anomaly.RepeatType]int{
				anomaly.RepeatSamePeriod:   report.Type1,
				anomaly.RepeatAnnual:       report.Type2,
				anomaly.RepeatCoincidental: report.Type3,
			}
			for _, t := range []anomaly.RepeatType{anomaly.RepeatSamePeriod, anomaly.RepeatAnnual, anomaly.RepeatCoincidental} {
				fmt.Fprintf(w, "Тип %d: %d\n", t, counts[t])
				if counts[t] > 0 {
					fmt.Fprintf(w, "  %s\n  %s\n", t.Description(), t.Recommendation())
				}
			}

			for _, m := range report.Meters {
				fmt.Fprintf(w, "\n%s  %s  %s\n", m.MeterID, m.Address, m.ObjectType)
				for _, pair := range m.Pairs {
					fmt.Fprintf(w, "  %s .. %s  %s  (%d дн., тип %d)\n",
						pair.First.Format("02.01.2006"), pair.Second.Format("02.01.2006"),
						formatValue(pair.Value), pair.Days, pair.Type)
				}
			}
			return nil
		},
	}

	inputs.register(cmd)
	cmd.Flags().StringVar(&meterID, "meter", "", "only this meter")
	return cmd
}

func createSeriesCmd(a *app) *cobra.Command {
	var inputs inputFlags
	var meterID, from, to string

	cmd := &cobra.Command{
		Use:   "series",
		Short: "Print the monthly consumption and temperature series of a meter",
		RunE: func(cmd *cobra.Command, args []string) error {
			fromMonth, err := parseMonth(from)
			if err != nil {
				return err
			}
			toMonth, err := parseMonth(to)
			if err != nil {
				return err
			}
			p, result, err := a.run(cmd.Context(), &inputs)
			if err != nil {
				return err
			}

			points := p.Series(result, meterID, fromMonth, toMonth)
			w := cmd.OutOrStdout()
			if len(points) == 0 {
				fmt.Fprintf(w, "Нет данных для прибора %s\n", meterID)
				return nil
			}
			fmt.Fprintf(w, "%-8s  %8s  %12s  %11s\n", "Месяц", "Показаний", "Потребление", "Температура")
			for _, pt := range points {
				fmt.Fprintf(w, "%-8s  %8d  %12s  %11s\n", pt.Month, pt.Readings,
					formatOptional(pt.Consumption), formatOptional(pt.Temperature))
			}
			return nil
		},
	}

	inputs.register(cmd)
	cmd.Flags().StringVar(&meterID, "meter", "", "meter id")
	cmd.Flags().StringVar(&from, "from", "", "first month, YYYY-MM")
	cmd.Flags().StringVar(&to, "to", "", "last month, YYYY-MM")
	cmd.MarkFlagRequired("meter")
	return cmd
}

func createExportCmd(a *app) *cobra.Command {
	var inputs inputFlags
	var filters filterFlags
	var out, encoding string
	var withDeviation bool

	cmd := &cobra.Command{
		Use:   "export",
		Short: "Write the annotated table of the filtered slice",
		RunE: func(cmd *cobra.Command, args []string) error {
			filter, err := filters.filter(cmd)
			if err != nil {
				return err
			}
			if encoding != "" {
				if _, err := ingest.ParseEncoding(encoding); err != nil {
					return err
				}
				a.cfg.Input.ExportEncoding = encoding
			}

			p, result, err := a.run(cmd.Context(), &inputs)
			if err != nil {
				return err
			}

			records := filter.Apply(result.Records)
			if withDeviation {
				records = p.Deviation(result, filter).Records
			}
			if err := a.writeExport(out, result, records, withDeviation); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Exported %d records to %s\n", len(records), out)
			return nil
		},
	}

	inputs.register(cmd)
	filters.register(cmd)
	cmd.Flags().StringVarP(&out, "out", "o", "", "output file")
	cmd.Flags().StringVar(&encoding, "export-encoding", "", "output encoding: cp1251 or utf-8")
	cmd.Flags().BoolVar(&withDeviation, "deviation", false, "include deviation columns and the summary row")
	cmd.MarkFlagRequired("out")
	return cmd
}

func createDetailCmd(a *app) *cobra.Command {
	var inputs inputFlags
	var meterID, out string

	cmd := &cobra.Command{
		Use:   "detail",
		Short: "Export the readings of one meter",
		RunE: func(cmd *cobra.Command, args []string) error {
			_, result, err := a.run(cmd.Context(), &inputs)
			if err != nil {
				return err
			}

			rows := export.MeterDetail(result.Records, meterID)
			if len(rows) == 0 {
				return fmt.Errorf("no readings for meter %s", meterID)
			}

			w := cmd.OutOrStdout()
			if out != "" {
				f, err := os.Create(out)
				if err != nil {
					return fmt.Errorf("failed to create %s: %w", out, err)
				}
				defer f.Close()
				w = f
			}

			cw := csv.NewWriter(w)
			cw.Write(export.MeterDetailHeader)
			cw.WriteAll(rows)
			if err := cw.Error(); err != nil {
				return fmt.Errorf("failed to write meter detail: %w", err)
			}
			return nil
		},
	}

	inputs.register(cmd)
	cmd.Flags().StringVar(&meterID, "meter", "", "meter id")
	cmd.Flags().StringVarP(&out, "out", "o", "", "output file (default stdout)")
	cmd.MarkFlagRequired("meter")
	return cmd
}

func createPublishCmd(a *app) *cobra.Command {
	var inputs inputFlags
	var filters filterFlags

	cmd := &cobra.Command{
		Use:   "publish",
		Short: "Send flagged records to the review queue in PostgreSQL",
		RunE: func(cmd *cobra.Command, args []string) error {
			filter, err := filters.filter(cmd)
			if err != nil {
				return err
			}
			_, result, err := a.run(cmd.Context(), &inputs)
			if err != nil {
				return err
			}

			queue, closeDB, err := a.openQueue(cmd)
			if err != nil {
				return err
			}
			defer closeDB()

			runID := uuid.New()
			n, err := queue.Publish(cmd.Context(), runID, filter.Apply(result.Records))
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Published %d records, run %s\n", n, runID)
			return nil
		},
	}

	inputs.register(cmd)
	filters.register(cmd)
	return cmd
}

func createReviewCmd(a *app) *cobra.Command {
	var run string

	cmd := &cobra.Command{
		Use:   "review",
		Short: "Show the queued records of a published run",
		RunE: func(cmd *cobra.Command, args []string) error {
			runID, err := uuid.Parse(run)
			if err != nil {
				return fmt.Errorf("invalid run id %q: %w", run, err)
			}

			queue, closeDB, err := a.openQueue(cmd)
			if err != nil {
				return err
			}
			defer closeDB()

			items, err := queue.Run(cmd.Context(), runID)
			if err != nil {
				return err
			}
			stats, err := queue.FlagStats(cmd.Context(), runID)
			if err != nil {
				return err
			}

			w := cmd.OutOrStdout()
			fmt.Fprintf(w, "Run %s: %d records\n", runID, len(items))
			for _, s := range stats {
				fmt.Fprintf(w, "  %-24s %d\n", s.Flag, s.Count)
			}
			fmt.Fprintln(w)
			for _, it := range items {
				date := ""
				if it.ReadingDate != nil {
					date = it.ReadingDate.Format("02.01.2006")
				}
				fmt.Fprintf(w, "%5d  %-10s  %-10s  %10s  %s  [%s]\n", it.SourceRow, it.MeterID, date,
					formatValue(it.Consumption), it.Address, strings.Join(it.Flags, ", "))
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&run, "run", "", "run id printed by publish")
	cmd.MarkFlagRequired("run")
	return cmd
}

func createServeCmd(a *app) *cobra.Command {
	var port int

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP API",
		RunE: func(cmd *cobra.Command, args []string) error {
			if cmd.Flags().Changed("port") {
				a.cfg.Server.Port = port
			}
			server, err := web.NewServer(cmd.Context(), a.cfg, a.logger)
			if err != nil {
				return err
			}
			return server.Start(cmd.Context())
		},
	}

	cmd.Flags().IntVarP(&port, "port", "p", 0, "listen port")
	return cmd
}

// openQueue connects to the configured database and prepares the review table
func (a *app) openQueue(cmd *cobra.Command) (*review.Queue, func(), error) {
	conn, err := db.NewConnection(cmd.Context(), a.cfg.Database.URL, a.cfg.Database.MaxConns)
	if err != nil {
		return nil, nil, err
	}

	queue := review.NewQueue(conn.DB, a.cfg.Database.ReviewTable, a.logger)
	if err := queue.EnsureSchema(cmd.Context()); err != nil {
		conn.Close()
		return nil, nil, err
	}
	return queue, func() { conn.Close() }, nil
}

// writeExport writes records as an annotated table in the configured export encoding
func (a *app) writeExport(path string, result *pipeline.Result, records []model.JoinedRecord, withDeviation bool) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", path, err)
	}
	defer f.Close()

	opts := export.Options{Encoding: a.cfg.Input.OutputEncoding(), IncludeDeviation: withDeviation}
	if err := export.WriteRecords(f, result.Header, result.RegistryHeader, records, opts); err != nil {
		return err
	}
	return f.Close()
}

func printSummary(w io.Writer, result *pipeline.Result) {
	s := result.Summary
	fmt.Fprintf(w, "Записей:            %d\n", s.Records)
	fmt.Fprintf(w, "Приборов учета:     %d\n", s.Meters)
	fmt.Fprintf(w, "С аномалиями:       %d\n", s.FlaggedRecords)
	fmt.Fprintf(w, "Ноль в отопительный сезон: %d\n", s.ZeroInHeatingSeason)
	fmt.Fprintf(w, "Повторы тип 1/2/3:  %d / %d / %d\n", s.Type1Pairs, s.Type2Pairs, s.Type3Pairs)

	r := result.Reports
	fmt.Fprintf(w, "\nПоказания: %d строк, %d удалено, %d исправлено\n", r.Readings.Rows, r.Readings.Dropped, r.Readings.Altered)
	fmt.Fprintf(w, "Дубликаты: %d удалено\n", r.Dedup.Duplicates)
	fmt.Fprintf(w, "Реестр:    %d совпало, %d без совпадения\n", r.Join.BuildingMatched, r.Join.BuildingUnmatched)
}

func formatValue(v float64) string {
	return strings.TrimSuffix(strings.TrimRight(fmt.Sprintf("%.4f", v), "0"), ".")
}

func formatOptional(v *float64) string {
	if v == nil {
		return "-"
	}
	return fmt.Sprintf("%.2f", *v)
}
