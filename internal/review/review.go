// Package review publishes flagged records to a PostgreSQL review queue
// where analysts confirm or dismiss them.
package review

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/heatcheck/internal/logging"
	"github.com/heatcheck/internal/model"
)

// DefaultTable is the review queue table name
const DefaultTable = "anomaly_review"

// Item is one flagged record in the review queue
type Item struct {
	RunID       uuid.UUID  `json:"run_id"`
	SourceRow   int        `json:"source_row"`
	MeterID     string     `json:"meter_id"`
	Address     string     `json:"address"`
	ObjectType  string     `json:"object_type"`
	ReadingDate *time.Time `json:"reading_date,omitempty"`
	Consumption float64    `json:"consumption"`
	PeriodKey   string     `json:"period_key,omitempty"`
	Temperature *float64   `json:"temperature,omitempty"`
	Deviation   *float64   `json:"deviation,omitempty"`
	Flags       []string   `json:"flags"`
	Status      string     `json:"status"`
}

// FlagCount is the number of queued items carrying one flag
type FlagCount struct {
	Flag  string `json:"flag"`
	Count int64  `json:"count"`
}

// Items converts the flagged records of a run into queue items. Unflagged
// and summary records are skipped.
func Items(runID uuid.UUID, records []model.JoinedRecord) []Item {
	var items []Item
	for _, r := range records {
		if r.IsSummary || !r.Flags.Any() {
			continue
		}
		flags := r.Flags.List()
		names := make([]string, len(flags))
		for i, f := range flags {
			names[i] = string(f)
		}
		items = append(items, Item{
			RunID:       runID,
			SourceRow:   r.SourceRow,
			MeterID:     r.MeterID,
			Address:     r.Address,
			ObjectType:  r.Type(),
			ReadingDate: r.Timestamp,
			Consumption: r.Consumption,
			PeriodKey:   r.PeriodKey,
			Temperature: r.Temperature,
			Deviation:   r.Flags.Deviation,
			Flags:       names,
			Status:      "pending",
		})
	}
	return items
}

// Queue writes to and reads from the review table
type Queue struct {
	db     *sql.DB
	table  string
	logger *logging.Logger
}

// NewQueue creates a review queue over db. An empty table uses DefaultTable.
func NewQueue(db *sql.DB, table string, logger *logging.Logger) *Queue {
	if table == "" {
		table = DefaultTable
	}
	if logger == nil {
		logger = logging.Discard()
	}
	return &Queue{db: db, table: table, logger: logger.WithComponent("review")}
}

func createTableSQL(table string) string {
	t := pq.QuoteIdentifier(table)
	return fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s (
			review_id     bigserial PRIMARY KEY,
			run_id        uuid NOT NULL,
			source_row    integer NOT NULL,
			meter_id      text NOT NULL,
			address       text,
			object_type   text,
			reading_date  date,
			consumption   double precision,
			period_key    text,
			temperature   double precision,
			deviation     double precision,
			flags         text[] NOT NULL,
			status        text NOT NULL DEFAULT 'pending',
			created_at    timestamptz DEFAULT now()
		)`, t)
}

func insertSQL(table string) string {
	return fmt.Sprintf(`
		INSERT INTO %s (
			run_id, source_row, meter_id, address, object_type, reading_date,
			consumption, period_key, temperature, deviation, flags, status
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`, pq.QuoteIdentifier(table))
}

func selectRunSQL(table string) string {
	return fmt.Sprintf(`
		SELECT run_id, source_row, meter_id, address, object_type, reading_date,
			consumption, period_key, temperature, deviation, flags, status
		FROM %s
		WHERE run_id = $1
		ORDER BY source_row`, pq.QuoteIdentifier(table))
}

func flagStatsSQL(table string) string {
	return fmt.Sprintf(`
		SELECT flag, COUNT(*)
		FROM %s, unnest(flags) AS flag
		WHERE run_id = $1
		GROUP BY flag
		ORDER BY flag`, pq.QuoteIdentifier(table))
}

// EnsureSchema creates the review table if it doesn't exist
func (q *Queue) EnsureSchema(ctx context.Context) error {
	if _, err := q.db.ExecContext(ctx, createTableSQL(q.table)); err != nil {
		return fmt.Errorf("failed to create review table: %w", err)
	}
	return nil
}

// Publish inserts the flagged records of a run in one transaction and
// returns the number of items queued.
func (q *Queue) Publish(ctx context.Context, runID uuid.UUID, records []model.JoinedRecord) (int, error) {
	items := Items(runID, records)
	if len(items) == 0 {
		q.logger.Info("Nothing to publish", "run_id", runID)
		return 0, nil
	}

	tx, err := q.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, insertSQL(q.table))
	if err != nil {
		return 0, fmt.Errorf("failed to prepare insert: %w", err)
	}
	defer stmt.Close()

	for _, it := range items {
		_, err := stmt.ExecContext(ctx,
			it.RunID.String(), it.SourceRow, it.MeterID, it.Address, it.ObjectType, it.ReadingDate,
			it.Consumption, nullString(it.PeriodKey), it.Temperature, it.Deviation, pq.Array(it.Flags), it.Status)
		if err != nil {
			return 0, fmt.Errorf("failed to insert review item for row %d: %w", it.SourceRow, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("failed to commit transaction: %w", err)
	}

	q.logger.Info("Published review items", "run_id", runID, "items", len(items))
	return len(items), nil
}

// Run returns the queued items of one run
func (q *Queue) Run(ctx context.Context, runID uuid.UUID) ([]Item, error) {
	rows, err := q.db.QueryContext(ctx, selectRunSQL(q.table), runID.String())
	if err != nil {
		return nil, fmt.Errorf("failed to query review items: %w", err)
	}
	defer rows.Close()

	var items []Item
	for rows.Next() {
		var it Item
		var rawRunID string
		var address, objectType, periodKey sql.NullString
		var readingDate sql.NullTime
		var temperature, deviation sql.NullFloat64

		err := rows.Scan(&rawRunID, &it.SourceRow, &it.MeterID, &address, &objectType, &readingDate,
			&it.Consumption, &periodKey, &temperature, &deviation, pq.Array(&it.Flags), &it.Status)
		if err != nil {
			return nil, fmt.Errorf("failed to scan review item: %w", err)
		}

		if it.RunID, err = uuid.Parse(rawRunID); err != nil {
			return nil, fmt.Errorf("failed to parse run id %q: %w", rawRunID, err)
		}
		it.Address = address.String
		it.ObjectType = objectType.String
		it.PeriodKey = periodKey.String
		if readingDate.Valid {
			it.ReadingDate = &readingDate.Time
		}
		if temperature.Valid {
			it.Temperature = &temperature.Float64
		}
		if deviation.Valid {
			it.Deviation = &deviation.Float64
		}
		items = append(items, it)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read review items: %w", err)
	}
	return items, nil
}

// FlagStats counts the queued items of a run per flag
func (q *Queue) FlagStats(ctx context.Context, runID uuid.UUID) ([]FlagCount, error) {
	rows, err := q.db.QueryContext(ctx, flagStatsSQL(q.table), runID.String())
	if err != nil {
		return nil, fmt.Errorf("failed to query flag stats: %w", err)
	}
	defer rows.Close()

	var stats []FlagCount
	for rows.Next() {
		var fc FlagCount
		if err := rows.Scan(&fc.Flag, &fc.Count); err != nil {
			return nil, fmt.Errorf("failed to scan flag stats: %w", err)
		}
		stats = append(stats, fc)
	}
	return stats, rows.Err()
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: strings.TrimSpace(s) != ""}
}
